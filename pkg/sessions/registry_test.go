package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvalvano/telegrab/pkg/telegram"
)

// fakeClient implements telegram.UserClient.
type fakeClient struct {
	id     int
	closed atomic.Bool
}

func (f *fakeClient) GetMessage(ctx context.Context, scope telegram.Scope, id int) (*telegram.Message, error) {
	return nil, telegram.ErrNotFound
}

func (f *fakeClient) GetMediaGroup(ctx context.Context, scope telegram.Scope, id int) ([]*telegram.Message, error) {
	return nil, telegram.ErrNotFound
}

func (f *fakeClient) DownloadFile(ctx context.Context, file telegram.FileRef, dest string, progress telegram.ProgressFunc) error {
	return nil
}

func (f *fakeClient) Close() error {
	f.closed.Store(true)
	return nil
}

// fakeConnector counts dials and can inject latency, failure, or a
// rendezvous that holds the dial open until the test releases it.
type fakeConnector struct {
	dials   atomic.Int32
	dialErr error
	delay   time.Duration
	started chan struct{}
	proceed chan struct{}

	mu      sync.Mutex
	created []*fakeClient
}

func (f *fakeConnector) Dial(ctx context.Context, credential string) (telegram.UserClient, error) {
	if f.started != nil {
		f.started <- struct{}{}
		<-f.proceed
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	n := int(f.dials.Add(1))
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	c := &fakeClient{id: n}
	f.mu.Lock()
	f.created = append(f.created, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeConnector) StartLogin(ctx context.Context) (telegram.LoginClient, error) {
	return nil, errors.New("not implemented")
}

func TestAcquireCachesHandle(t *testing.T) {
	conn := &fakeConnector{}
	r := NewRegistry(conn, DefaultConfig())

	c1, err := r.Acquire(context.Background(), 1, "cred")
	require.NoError(t, err)

	c2, err := r.Acquire(context.Background(), 1, "cred")
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, int32(1), conn.dials.Load())
}

func TestConcurrentAcquireConstructsOneHandle(t *testing.T) {
	conn := &fakeConnector{delay: 5 * time.Millisecond}
	r := NewRegistry(conn, DefaultConfig())

	const callers = 16
	results := make([]telegram.UserClient, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.Acquire(context.Background(), 42, "cred")
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), conn.dials.Load(), "expected exactly one constructed handle")
	for _, c := range results {
		assert.Same(t, results[0], c, "all callers must observe the same handle")
	}
}

func TestAcquireDifferentUsersIndependent(t *testing.T) {
	conn := &fakeConnector{}
	r := NewRegistry(conn, DefaultConfig())

	_, err := r.Acquire(context.Background(), 1, "a")
	require.NoError(t, err)
	_, err = r.Acquire(context.Background(), 2, "b")
	require.NoError(t, err)

	assert.Equal(t, int32(2), conn.dials.Load())
	assert.Equal(t, 2, r.Size())
}

func TestAcquireDialFailure(t *testing.T) {
	conn := &fakeConnector{dialErr: errors.New("auth revoked")}
	r := NewRegistry(conn, DefaultConfig())

	_, err := r.Acquire(context.Background(), 1, "cred")
	require.Error(t, err)
	assert.Equal(t, 0, r.Size(), "failed dial must not leave a cached entry")

	// A later acquisition retries the dial.
	conn.dialErr = nil
	_, err = r.Acquire(context.Background(), 1, "cred")
	require.NoError(t, err)
	assert.Equal(t, int32(2), conn.dials.Load())
}

func TestSweepEvictsIdleHandles(t *testing.T) {
	conn := &fakeConnector{}
	r := NewRegistry(conn, Config{IdleTTL: 10 * time.Minute, SweepInterval: time.Minute})

	base := time.Now()
	r.now = func() time.Time { return base }

	c1, err := r.Acquire(context.Background(), 1, "cred")
	require.NoError(t, err)

	// Second user stays fresh.
	r.now = func() time.Time { return base.Add(9 * time.Minute) }
	_, err = r.Acquire(context.Background(), 2, "cred")
	require.NoError(t, err)

	r.sweepOnce(base.Add(11 * time.Minute))

	assert.Equal(t, 1, r.Size())
	assert.True(t, c1.(*fakeClient).closed.Load(), "evicted handle must be closed")

	// Next request for the evicted user dials a fresh handle.
	c3, err := r.Acquire(context.Background(), 1, "cred")
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)
	assert.Equal(t, int32(3), conn.dials.Load())
}

func TestSweepSparesTouchedHandle(t *testing.T) {
	conn := &fakeConnector{}
	r := NewRegistry(conn, Config{IdleTTL: 10 * time.Minute, SweepInterval: time.Minute})

	base := time.Now()
	r.now = func() time.Time { return base }

	_, err := r.Acquire(context.Background(), 1, "cred")
	require.NoError(t, err)

	// Touch just before the sweep scans; the refreshed timestamp wins.
	r.now = func() time.Time { return base.Add(11 * time.Minute) }
	_, err = r.Acquire(context.Background(), 1, "cred")
	require.NoError(t, err)

	r.sweepOnce(base.Add(11 * time.Minute))
	assert.Equal(t, 1, r.Size())
}

func TestReleaseDuringDialClosesOrphanedHandle(t *testing.T) {
	conn := &fakeConnector{
		started: make(chan struct{}),
		proceed: make(chan struct{}),
	}
	r := NewRegistry(conn, DefaultConfig())

	type result struct {
		client telegram.UserClient
		err    error
	}
	done := make(chan result, 1)
	go func() {
		c, err := r.Acquire(context.Background(), 1, "cred")
		done <- result{c, err}
	}()

	// Logout lands while the dial is in flight.
	<-conn.started
	r.Release(1)
	close(conn.proceed)

	res := <-done
	require.Error(t, res.err)
	assert.Nil(t, res.client)
	assert.Equal(t, 0, r.Size(), "released entry must not be resurrected")

	// The connection dialed under the removed entry must be closed, not
	// cached: a second acquisition constructs a fresh handle and the user
	// never ends up with two live connections.
	conn.mu.Lock()
	orphan := conn.created[0]
	conn.mu.Unlock()
	assert.True(t, orphan.closed.Load(), "orphaned connection must be closed")

	conn.started = nil
	c2, err := r.Acquire(context.Background(), 1, "cred")
	require.NoError(t, err)
	assert.False(t, c2.(*fakeClient).closed.Load())
	assert.Equal(t, 1, r.Size())
	assert.Equal(t, int32(2), conn.dials.Load())
}

func TestReleaseIdempotent(t *testing.T) {
	conn := &fakeConnector{}
	r := NewRegistry(conn, DefaultConfig())

	c, err := r.Acquire(context.Background(), 1, "cred")
	require.NoError(t, err)

	r.Release(1)
	assert.True(t, c.(*fakeClient).closed.Load())
	assert.Equal(t, 0, r.Size())

	// Releasing an absent handle is a no-op.
	r.Release(1)
	r.Release(99)
}

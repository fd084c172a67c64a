// Package admission bounds the number of concurrent transfers and tracks
// cooperative cancellation.
//
// Two independent pools reflect the differing resource cost of downloads
// and uploads. A caller blocks in Begin until a slot of the requested kind
// frees up, and releases it through the returned Token. Release is
// idempotent and is expected to run via defer so slots are returned on
// every exit path.
//
// Cancellation is advisory: Cancel flags a user and the transfer pipeline
// observes the flag at defined checkpoints. An in-flight network call is
// never preempted.
package admission

import (
	"context"
	"sync"

	"github.com/mvalvano/telegrab/internal/logger"
)

// Kind selects which pool a slot is drawn from.
type Kind int

const (
	KindDownload Kind = iota
	KindUpload
)

func (k Kind) String() string {
	if k == KindUpload {
		return "upload"
	}
	return "download"
}

// Config bounds the two pools.
type Config struct {
	// MaxDownloads is the number of concurrent download slots.
	MaxDownloads int

	// MaxUploads is the number of concurrent upload slots.
	MaxUploads int
}

// Controller owns the slot pools, the set of users currently holding a
// download slot, and the cooperative cancellation flags. All methods are
// safe for concurrent use.
type Controller struct {
	download chan struct{}
	upload   chan struct{}

	mu        sync.Mutex
	active    map[int64]struct{}
	cancelled map[int64]struct{}
}

// NewController creates a controller with the given pool sizes. Sizes
// below 1 are clamped to 1.
func NewController(cfg Config) *Controller {
	if cfg.MaxDownloads < 1 {
		cfg.MaxDownloads = 1
	}
	if cfg.MaxUploads < 1 {
		cfg.MaxUploads = 1
	}
	return &Controller{
		download:  make(chan struct{}, cfg.MaxDownloads),
		upload:    make(chan struct{}, cfg.MaxUploads),
		active:    make(map[int64]struct{}),
		cancelled: make(map[int64]struct{}),
	}
}

// Token represents a held slot. Release returns the slot and removes the
// holder from the active set; it is safe to call more than once.
type Token struct {
	once   sync.Once
	c      *Controller
	userID int64
	kind   Kind
}

// Begin blocks until a slot of the requested kind is free or the context
// is cancelled. Download holders are recorded in the active set.
func (c *Controller) Begin(ctx context.Context, userID int64, kind Kind) (*Token, error) {
	pool := c.pool(kind)

	select {
	case pool <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if kind == KindDownload {
		c.mu.Lock()
		c.active[userID] = struct{}{}
		c.mu.Unlock()
	}

	return &Token{c: c, userID: userID, kind: kind}, nil
}

// Release returns the slot. Idempotent; membership removal happens
// unconditionally, even when Cancel already removed the user.
func (t *Token) Release() {
	t.once.Do(func() {
		if t.kind == KindDownload {
			t.c.mu.Lock()
			delete(t.c.active, t.userID)
			t.c.mu.Unlock()
		}
		<-t.c.pool(t.kind)
	})
}

func (c *Controller) pool(kind Kind) chan struct{} {
	if kind == KindUpload {
		return c.upload
	}
	return c.download
}

// Cancel flags the user for cooperative abort and removes them from the
// active set immediately. The flag is raised even when no transfer is
// active yet: a request still waiting for a slot in Begin must observe it
// at its first checkpoint. The owning pipeline clears the flag
// unconditionally on exit, so a flag raised against nothing cannot
// outlive the next request. The held slot itself is returned by the
// owning pipeline when it observes the flag. Returns true when the user
// had an active transfer.
func (c *Controller) Cancel(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelled[userID] = struct{}{}
	if _, ok := c.active[userID]; ok {
		delete(c.active, userID)
		return true
	}
	return false
}

// Cancelled reports whether the user is flagged for abort.
func (c *Controller) Cancelled(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cancelled[userID]
	return ok
}

// ClearCancelled drops the user's cancellation flag. Called unconditionally
// when the owning pipeline instance exits.
func (c *Controller) ClearCancelled(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancelled, userID)
}

// KillAll drains the active set and raises cancellation flags for every
// user currently in it, atomically. Returns the number of flagged users.
func (c *Controller) KillAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.active)
	for userID := range c.active {
		c.cancelled[userID] = struct{}{}
		delete(c.active, userID)
	}
	if n > 0 {
		logger.Info("killed all active transfers", "count", n)
	}
	return n
}

// ActiveCount returns the number of users currently holding download slots.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// IsActive reports whether the user currently holds a download slot.
func (c *Controller) IsActive(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[userID]
	return ok
}

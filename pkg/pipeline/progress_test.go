package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordEditor struct {
	mu    sync.Mutex
	edits []string
}

func (e *recordEditor) EditMessage(_ context.Context, _ int64, _ int, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.edits = append(e.edits, text)
	return nil
}

func (e *recordEditor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.edits)
}

func TestReporterRateLimitsEdits(t *testing.T) {
	editor := &recordEditor{}
	r := NewReporter(editor, 1, 10, "Downloading")

	base := time.Now()
	clock := base
	r.now = func() time.Time { return clock }

	progress := r.Progress(context.Background())

	progress(100, 1000)
	assert.Equal(t, 1, editor.count(), "first callback edits immediately")

	// Within the pacing window nothing goes out.
	clock = base.Add(500 * time.Millisecond)
	progress(200, 1000)
	clock = base.Add(1900 * time.Millisecond)
	progress(300, 1000)
	assert.Equal(t, 1, editor.count())

	clock = base.Add(2 * time.Second)
	progress(400, 1000)
	assert.Equal(t, 2, editor.count())
}

func TestReporterFinishEditsExactlyOnce(t *testing.T) {
	editor := &recordEditor{}
	r := NewReporter(editor, 1, 10, "Uploading")
	ctx := context.Background()

	progress := r.Progress(ctx)
	progress(500, 1000)
	require.Equal(t, 1, editor.count())

	r.Finish(ctx)
	assert.Equal(t, 2, editor.count())

	// Late callbacks and repeat Finish are dropped.
	progress(900, 1000)
	r.Finish(ctx)
	assert.Equal(t, 2, editor.count())
}

func TestReporterInertWithoutStatusMessage(t *testing.T) {
	editor := &recordEditor{}
	r := NewReporter(editor, 1, 0, "Downloading")
	ctx := context.Background()

	r.Progress(ctx)(100, 1000)
	r.Finish(ctx)
	assert.Equal(t, 0, editor.count())
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KiB"},
		{1536, "1.50 KiB"},
		{5 * 1024 * 1024, "5.00 MiB"},
		{3 * 1024 * 1024 * 1024, "3.00 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSize(tt.in), "FormatSize(%d)", tt.in)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{185 * time.Second, "3m05s"},
		{72 * time.Minute, "1h12m"},
		{-time.Second, "0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in), "FormatDuration(%v)", tt.in)
	}
}

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mvalvano/telegrab/internal/logger"
	"github.com/mvalvano/telegrab/pkg/telegram"
)

// editInterval is the minimum wall time between two status edits. The
// platform throttles message edits, so progress updates are paced.
const editInterval = 2 * time.Second

type statusEditor interface {
	EditMessage(ctx context.Context, chatID int64, messageID int, text string) error
}

// Reporter turns raw progress callbacks into rate-limited status message
// edits: at most one edit per editInterval, plus exactly one final edit
// from Finish. A Reporter with messageID 0 is inert.
type Reporter struct {
	editor    statusEditor
	chatID    int64
	messageID int
	verb      string

	now func() time.Time

	mu       sync.Mutex
	start    time.Time
	lastEdit time.Time
	current  int64
	total    int64
	finished bool
}

func NewReporter(editor statusEditor, chatID int64, messageID int, verb string) *Reporter {
	return &Reporter{
		editor:    editor,
		chatID:    chatID,
		messageID: messageID,
		verb:      verb,
		now:       time.Now,
	}
}

// Progress returns the callback handed to the platform transfer call.
func (r *Reporter) Progress(ctx context.Context) telegram.ProgressFunc {
	return func(current, total int64) {
		if r.messageID == 0 {
			return
		}

		r.mu.Lock()
		now := r.now()
		if r.start.IsZero() {
			r.start = now
		}
		r.current = current
		r.total = total
		if r.finished || now.Sub(r.lastEdit) < editInterval {
			r.mu.Unlock()
			return
		}
		r.lastEdit = now
		text := r.renderLocked(now)
		r.mu.Unlock()

		r.edit(ctx, text)
	}
}

// Finish emits the final status edit. Further progress callbacks are
// dropped. Safe to call more than once; only the first edit goes out.
func (r *Reporter) Finish(ctx context.Context) {
	if r.messageID == 0 {
		return
	}

	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	if r.start.IsZero() {
		r.start = r.now()
	}
	text := r.renderLocked(r.now())
	r.mu.Unlock()

	r.edit(ctx, text)
}

func (r *Reporter) edit(ctx context.Context, text string) {
	if err := r.editor.EditMessage(ctx, r.chatID, r.messageID, text); err != nil {
		logger.Debug("status edit failed",
			logger.KeyChatID, r.chatID,
			logger.KeyMessageID, r.messageID,
			logger.KeyError, err)
	}
}

func (r *Reporter) renderLocked(now time.Time) string {
	if r.total <= 0 {
		return fmt.Sprintf("%s... %s", r.verb, FormatSize(r.current))
	}

	percent := float64(r.current) / float64(r.total) * 100

	elapsed := now.Sub(r.start)
	var speedPart string
	if elapsed > 0 && r.current > 0 {
		speed := float64(r.current) / elapsed.Seconds()
		speedPart = fmt.Sprintf(" | %s/s", FormatSize(int64(speed)))
		if remaining := r.total - r.current; remaining > 0 {
			eta := time.Duration(float64(remaining)/speed) * time.Second
			speedPart += fmt.Sprintf(" | ETA %s", FormatDuration(eta))
		}
	}

	return fmt.Sprintf("%s... %.1f%%\n%s of %s%s",
		r.verb, percent,
		FormatSize(r.current), FormatSize(r.total),
		speedPart)
}

// FormatSize renders a byte count in binary units.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders a duration for status text: seconds under a
// minute, then m/s, then h/m.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

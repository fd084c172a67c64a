package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mvalvano/telegrab/internal/logger"
	"github.com/mvalvano/telegrab/pkg/links"
)

var (
	// ErrBatchPremiumOnly is returned when a non-premium user asks for a
	// batch transfer.
	ErrBatchPremiumOnly = errors.New("batch transfers are premium-only")

	// ErrBatchTooLarge is returned when the requested range exceeds the
	// configured cap. No item runs.
	ErrBatchTooLarge = errors.New("batch range too large")
)

// RunBatch transfers a contiguous message id range, strictly one item at
// a time with a fixed pause between items. The range cap is enforced
// before the first item runs.
func (p *Pipeline) RunBatch(ctx context.Context, userID, chatID int64, startLink, endLink string) error {
	user, err := p.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		p.reply(ctx, chatID, "Something went wrong, try again later.")
		return fmt.Errorf("load user: %w", err)
	}
	if user.Banned {
		d := &Denial{Reason: ReasonBanned}
		p.reply(ctx, chatID, d.UserMessage())
		return d
	}
	if !user.AgreedTerms {
		d := &Denial{Reason: ReasonTermsNotAccepted}
		p.reply(ctx, chatID, d.UserMessage())
		return d
	}
	if !user.Role.Unlimited() {
		p.reply(ctx, chatID, "Batch transfers are a premium feature.")
		return ErrBatchPremiumOnly
	}

	scope, lo, hi, err := links.MessageRange(startLink, endLink)
	if err != nil {
		p.reply(ctx, chatID, "Send two message links from the same chat: /batch <first link> <last link>")
		return err
	}

	count := hi - lo + 1
	if count > p.cfg.BatchMax {
		p.reply(ctx, chatID, fmt.Sprintf("That range covers %d messages; the limit is %d.", count, p.cfg.BatchMax))
		return ErrBatchTooLarge
	}

	mode := links.ModePublic
	if scope.IsPrivate() {
		mode = links.ModePrivate
	}

	logger.Info("batch started",
		logger.KeyUserID, userID,
		logger.KeyScope, scope.String(),
		"from", lo, "to", hi)
	p.reply(ctx, chatID, fmt.Sprintf("Starting batch: %d messages.", count))

	for id := lo; id <= hi; id++ {
		target := &links.Target{
			Scope:     scope,
			MessageID: id,
			Mode:      mode,
			Variant:   links.VariantSingle,
		}
		err := p.process(ctx, Request{UserID: userID, ChatID: chatID}, target)
		if errors.Is(err, ErrCancelled) {
			p.reply(ctx, chatID, "Batch cancelled.")
			return err
		}
		// A failed item is already reported; the batch moves on.

		if id < hi {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.BatchDelay):
			}
		}
	}

	p.reply(ctx, chatID, "Batch complete.")
	return nil
}

// Package pipeline runs a media transfer request end to end: resolve the
// link, authorize the user, fetch metadata, then either relay the message
// server-side or download and re-upload it, reporting progress along the
// way.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mvalvano/telegrab/internal/logger"
	"github.com/mvalvano/telegrab/internal/telemetry"
	"github.com/mvalvano/telegrab/pkg/admission"
	"github.com/mvalvano/telegrab/pkg/links"
	"github.com/mvalvano/telegrab/pkg/metrics"
	"github.com/mvalvano/telegrab/pkg/models"
	"github.com/mvalvano/telegrab/pkg/store"
	"github.com/mvalvano/telegrab/pkg/telegram"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	GetOrCreateUser(ctx context.Context, userID int64) (*models.User, error)
	CheckQuota(ctx context.Context, userID int64, freeLimit int) (*store.QuotaDecision, error)
	IncrementQuota(ctx context.Context, userID int64, n int) error
	GetSetting(ctx context.Context, key string) (string, error)
}

// Sessions yields authenticated per-user connections.
type Sessions interface {
	Acquire(ctx context.Context, userID int64, credential string) (telegram.UserClient, error)
}

// Config tunes the pipeline.
type Config struct {
	// DownloadDir holds in-flight temp files. uuid-named files are
	// created and removed here for every download/upload round trip.
	DownloadDir string

	// FreeDailyQuota is the number of transfers a free user gets per day.
	FreeDailyQuota int

	// BatchMax caps the message id range of a /batch request.
	BatchMax int

	// BatchDelay is the pause between consecutive batch items.
	BatchDelay time.Duration
}

// ApplyDefaults fills zero fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.DownloadDir == "" {
		c.DownloadDir = os.TempDir()
	}
	if c.FreeDailyQuota <= 0 {
		c.FreeDailyQuota = 5
	}
	if c.BatchMax <= 0 {
		c.BatchMax = 50
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = 10 * time.Second
	}
}

// Request is one inbound transfer request.
type Request struct {
	UserID int64
	ChatID int64
	Link   string
}

// Pipeline is the transfer service. Construct once, share across updates.
type Pipeline struct {
	bot       telegram.Bot
	sessions  Sessions
	admission *admission.Controller
	store     Store
	cfg       Config
	metrics   *metrics.TransferMetrics

	now func() time.Time
}

func New(bot telegram.Bot, sessions Sessions, adm *admission.Controller, st Store, tm *metrics.TransferMetrics, cfg Config) *Pipeline {
	cfg.ApplyDefaults()
	return &Pipeline{
		bot:       bot,
		sessions:  sessions,
		admission: adm,
		store:     st,
		cfg:       cfg,
		metrics:   tm,
		now:       time.Now,
	}
}

// Run resolves the link and executes the request. All user-visible
// reporting happens here; the returned error is for the caller's log.
func (p *Pipeline) Run(ctx context.Context, req Request) error {
	target, err := links.Resolve(req.Link)
	if err != nil {
		p.reply(ctx, req.ChatID, "I can't make sense of that link. Send a t.me message link.")
		return err
	}
	return p.process(ctx, req, target)
}

func (p *Pipeline) process(ctx context.Context, req Request, target *links.Target) error {
	requestID := uuid.NewString()
	log := logger.With(
		logger.KeyRequestID, requestID,
		logger.KeyUserID, req.UserID,
		logger.KeyScope, target.Scope.String(),
		logger.KeyMessageID, target.MessageID,
		logger.KeyMode, target.Mode.String(),
		logger.KeyVariant, target.Variant.String(),
	)
	log.Info("transfer request")

	ctx, span := telemetry.StartTransferSpan(ctx, "process", req.UserID,
		telemetry.RequestID(requestID),
		telemetry.ChatID(req.ChatID),
		telemetry.TransferScope(target.Scope.String()),
		telemetry.TransferMessageID(target.MessageID),
		telemetry.TransferMode(target.Mode.String()),
	)
	defer span.End()

	user, err := p.store.GetOrCreateUser(ctx, req.UserID)
	if err != nil {
		p.reply(ctx, req.ChatID, "Something went wrong, try again later.")
		return fmt.Errorf("load user: %w", err)
	}

	denial, err := p.authorize(ctx, user, target)
	if err != nil {
		p.reply(ctx, req.ChatID, "Something went wrong, try again later.")
		return fmt.Errorf("authorize: %w", err)
	}
	if denial != nil {
		log.Info("request denied", "reason", denial.Reason.String())
		span.SetAttributes(telemetry.TransferOutcome("denied"))
		p.metrics.ObserveDenial(denial.Reason.String())
		p.metrics.ObserveOutcome("denied")
		p.reply(ctx, req.ChatID, denial.UserMessage())
		return denial
	}

	slotStart := p.now()
	token, err := p.admission.Begin(ctx, req.UserID, admission.KindDownload)
	if err != nil {
		return fmt.Errorf("acquire download slot: %w", err)
	}
	p.metrics.ObserveSlotWait("download", p.now().Sub(slotStart))
	defer p.admission.ClearCancelled(req.UserID)
	defer token.Release()

	p.metrics.TransferStarted()
	defer p.metrics.TransferEnded()

	// A /cancel issued while waiting for a slot lands here.
	if p.admission.Cancelled(req.UserID) {
		log.Info("transfer cancelled", logger.KeyState, "queued")
		p.metrics.ObserveOutcome("cancelled")
		p.reply(ctx, req.ChatID, "Cancelled.")
		return ErrCancelled
	}

	statusID, err := p.bot.SendMessage(ctx, req.ChatID, "Processing your link...")
	if err != nil {
		statusID = 0
	}

	start := p.now()
	mode, err := p.deliver(ctx, req, user, target, statusID)
	elapsed := p.now().Sub(start)

	switch {
	case err == nil:
		log.Info("transfer done",
			logger.KeyOutcome, "done",
			logger.KeyMode, mode,
			logger.KeyDuration, elapsed.Milliseconds())
		span.SetAttributes(
			telemetry.TransferOutcome("done"),
			telemetry.TransferDelivery(mode),
		)
		p.metrics.ObserveOutcome("done")
		p.metrics.ObserveDuration(mode, elapsed)
		if statusID != 0 {
			_ = p.bot.DeleteMessage(ctx, req.ChatID, statusID)
		}
		return nil

	case errors.Is(err, ErrCancelled):
		log.Info("transfer cancelled", logger.KeyOutcome, "cancelled")
		span.SetAttributes(telemetry.TransferOutcome("cancelled"))
		p.metrics.ObserveOutcome("cancelled")
		p.editOrReply(ctx, req.ChatID, statusID, "Cancelled.")
		return err

	default:
		var d *Denial
		if errors.As(err, &d) {
			log.Info("request denied", "reason", d.Reason.String())
			span.SetAttributes(telemetry.TransferOutcome("denied"))
			p.metrics.ObserveDenial(d.Reason.String())
			p.metrics.ObserveOutcome("denied")
			p.editOrReply(ctx, req.ChatID, statusID, d.UserMessage())
			return err
		}

		log.Error("transfer failed", logger.KeyError, err)
		span.SetAttributes(telemetry.TransferOutcome("failed"))
		telemetry.RecordError(ctx, err)
		p.metrics.ObserveOutcome("failed")
		p.editOrReply(ctx, req.ChatID, statusID, failureText(err))
		return err
	}
}

// authorize applies the denial gates in order: ban, terms, subscription,
// login requirement, daily quota. A nil denial with nil error means go.
func (p *Pipeline) authorize(ctx context.Context, user *models.User, target *links.Target) (*Denial, error) {
	if user.Banned {
		return &Denial{Reason: ReasonBanned}, nil
	}
	if !user.AgreedTerms {
		return &Denial{Reason: ReasonTermsNotAccepted}, nil
	}

	if d, err := p.checkSubscription(ctx, user.TelegramID); err != nil || d != nil {
		return d, err
	}

	// Private, group, and story targets need the user's own session up
	// front. Public targets may still relay without one.
	if target.Mode != links.ModePublic && !user.HasCredential() {
		return &Denial{Reason: ReasonNotLoggedIn}, nil
	}

	decision, err := p.store.CheckQuota(ctx, user.TelegramID, p.cfg.FreeDailyQuota)
	if err != nil {
		return nil, fmt.Errorf("check quota: %w", err)
	}
	if !decision.Allowed {
		return &Denial{
			Reason: ReasonQuotaExceeded,
			Used:   decision.Used,
			Limit:  decision.Limit,
		}, nil
	}
	return nil, nil
}

// checkSubscription enforces the configured force-sub channel, if any.
// A misconfigured channel fails open so a bad setting cannot lock
// everyone out.
func (p *Pipeline) checkSubscription(ctx context.Context, userID int64) (*Denial, error) {
	channel, err := p.store.GetSetting(ctx, models.SettingForceSubChannel)
	if errors.Is(err, models.ErrSettingNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscription setting: %w", err)
	}
	channel = normalizeChannel(channel)
	if channel == "" {
		return nil, nil
	}

	status, err := p.bot.GetChatMember(ctx, channel, userID)
	if err != nil {
		if errors.Is(err, telegram.ErrNotFound) {
			return &Denial{Reason: ReasonNotSubscribed, Channel: channel}, nil
		}
		logger.Warn("subscription check failed, allowing",
			logger.KeyUserID, userID,
			"channel", channel,
			logger.KeyError, err)
		return nil, nil
	}
	if !status.Joined() {
		return &Denial{Reason: ReasonNotSubscribed, Channel: channel}, nil
	}
	return nil, nil
}

// normalizeChannel prefixes bare public usernames with @. Numeric chat
// ids pass through untouched.
func normalizeChannel(channel string) string {
	channel = strings.TrimSpace(channel)
	if channel == "" || strings.HasPrefix(channel, "@") || strings.HasPrefix(channel, "-") {
		return channel
	}
	return "@" + channel
}

// deliver moves the content. It returns the delivery mode used ("relay"
// or "transfer") for metrics.
func (p *Pipeline) deliver(ctx context.Context, req Request, user *models.User, target *links.Target, statusID int) (string, error) {
	if target.Mode == links.ModePublic &&
		(target.Variant == links.VariantPlain || target.Variant == links.VariantSingle) &&
		!p.isGroup(ctx, target.Scope) {
		if err := p.relay(ctx, req.ChatID, target); err == nil {
			p.metrics.ObserveRelay()
			return "relay", nil
		} else {
			logger.Warn("direct relay failed, falling back to transfer",
				logger.KeyUserID, req.UserID,
				logger.KeyScope, target.Scope.String(),
				logger.KeyError, err)
		}
	}

	// The full path needs the user's own session.
	if !user.HasCredential() {
		return "", &Denial{Reason: ReasonNotLoggedIn}
	}
	client, err := p.sessions.Acquire(ctx, req.UserID, user.Credential)
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}

	msg, err := client.GetMessage(ctx, target.Scope, target.MessageID)
	if err != nil {
		return "", fmt.Errorf("fetch message: %w", err)
	}

	var items []*telegram.Message
	if msg.MediaGroupID != 0 && target.Variant != links.VariantSingle {
		items, err = client.GetMediaGroup(ctx, target.Scope, msg.ID)
		if err != nil {
			return "", fmt.Errorf("fetch album: %w", err)
		}
	} else {
		items = []*telegram.Message{msg}
	}

	delivered := 0
	for _, item := range items {
		if err := p.deliverOne(ctx, req, client, item, statusID); err != nil {
			return "", err
		}
		delivered++
	}

	if !user.Role.Unlimited() {
		if err := p.store.IncrementQuota(ctx, req.UserID, delivered); err != nil {
			logger.Warn("quota increment failed",
				logger.KeyUserID, req.UserID,
				logger.KeyError, err)
		}
	}
	return "transfer", nil
}

// isGroup reports whether a public username points at a group rather than
// a broadcast channel. Group content is not copyable by the bot, so the
// relay is skipped and the member's own session does the transfer. A
// failed lookup assumes a channel and lets the relay try.
func (p *Pipeline) isGroup(ctx context.Context, scope telegram.Scope) bool {
	chat, err := p.bot.GetChat(ctx, scope)
	if err != nil {
		logger.Debug("chat lookup failed, assuming channel",
			logger.KeyScope, scope.String(),
			logger.KeyError, err)
		return false
	}
	return !chat.Broadcast
}

// relay asks the platform to copy the message server-side, trying the
// album copy when the single copy is refused. Single-message targets
// never copy the whole album.
func (p *Pipeline) relay(ctx context.Context, chatID int64, target *links.Target) error {
	err := p.bot.CopyMessage(ctx, chatID, target.Scope, target.MessageID)
	if err == nil || target.Variant == links.VariantSingle {
		return err
	}
	if groupErr := p.bot.CopyMediaGroup(ctx, chatID, target.Scope, target.MessageID); groupErr == nil {
		return nil
	}
	return err
}

// deliverOne downloads one message's media to a temp file and re-uploads
// it. All temp files are removed on every exit path.
func (p *Pipeline) deliverOne(ctx context.Context, req Request, client telegram.UserClient, msg *telegram.Message, statusID int) error {
	if p.admission.Cancelled(req.UserID) {
		return ErrCancelled
	}

	media := msg.Media
	if media == nil || media.Kind == telegram.MediaNone {
		return fmt.Errorf("message %d: %w", msg.ID, telegram.ErrNoMedia)
	}

	path := filepath.Join(p.cfg.DownloadDir, uuid.NewString()+mediaExt(media))
	defer removeTemp(path)

	reporter := NewReporter(p.bot, req.ChatID, statusID, "Downloading")
	if err := client.DownloadFile(ctx, media.File, path, reporter.Progress(ctx)); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	reporter.Finish(ctx)
	p.metrics.ObserveBytes("download", media.File.Size)

	thumbPath := ""
	if media.Thumbnail != nil {
		thumbPath = filepath.Join(p.cfg.DownloadDir, uuid.NewString()+".jpg")
		defer removeTemp(thumbPath)
		if err := client.DownloadFile(ctx, *media.Thumbnail, thumbPath, nil); err != nil {
			logger.Debug("thumbnail download failed, uploading without",
				logger.KeyUserID, req.UserID,
				logger.KeyError, err)
			thumbPath = ""
		}
	}

	if p.admission.Cancelled(req.UserID) {
		return ErrCancelled
	}

	slotStart := p.now()
	token, err := p.admission.Begin(ctx, req.UserID, admission.KindUpload)
	if err != nil {
		return fmt.Errorf("acquire upload slot: %w", err)
	}
	defer token.Release()
	p.metrics.ObserveSlotWait("upload", p.now().Sub(slotStart))

	up := NewReporter(p.bot, req.ChatID, statusID, "Uploading")
	opts := telegram.UploadOptions{
		Caption:   msg.Caption,
		ThumbPath: thumbPath,
		Duration:  media.Duration,
		Width:     media.Width,
		Height:    media.Height,
		Progress:  up.Progress(ctx),
	}

	switch {
	case media.IsVideo():
		err = p.bot.SendVideo(ctx, req.ChatID, path, opts)
	case media.Kind == telegram.MediaPhoto:
		err = p.bot.SendPhoto(ctx, req.ChatID, path, opts)
	default:
		err = p.bot.SendDocument(ctx, req.ChatID, path, opts)
	}
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	up.Finish(ctx)
	p.metrics.ObserveBytes("upload", media.File.Size)
	return nil
}

func mediaExt(media *telegram.Media) string {
	if ext := filepath.Ext(media.FileName); ext != "" {
		return ext
	}
	switch media.Kind {
	case telegram.MediaVideo:
		return ".mp4"
	case telegram.MediaPhoto:
		return ".jpg"
	case telegram.MediaAudio:
		return ".mp3"
	default:
		return ".bin"
	}
}

func removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("temp file cleanup failed",
			logger.KeyPath, path,
			logger.KeyError, err)
	}
}

// failureText turns an internal error into the user-visible reply.
func failureText(err error) string {
	switch {
	case errors.Is(err, telegram.ErrNoMedia):
		return "That message has no downloadable media."
	case errors.Is(err, telegram.ErrNotFound):
		return "I couldn't find that message. Check the link and make sure your account can see it."
	default:
		return "Transfer failed. Try again later."
	}
}

func (p *Pipeline) reply(ctx context.Context, chatID int64, text string) {
	if _, err := p.bot.SendMessage(ctx, chatID, text); err != nil {
		logger.Debug("reply failed", logger.KeyChatID, chatID, logger.KeyError, err)
	}
}

// editOrReply updates the status message in place, falling back to a new
// message when none was sent.
func (p *Pipeline) editOrReply(ctx context.Context, chatID int64, statusID int, text string) {
	if statusID == 0 {
		p.reply(ctx, chatID, text)
		return
	}
	if err := p.bot.EditMessage(ctx, chatID, statusID, text); err != nil {
		p.reply(ctx, chatID, text)
	}
}

// Package bot routes inbound updates to commands, transfer requests, and
// the login handshake.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mvalvano/telegrab/internal/logger"
	"github.com/mvalvano/telegrab/pkg/login"
	"github.com/mvalvano/telegrab/pkg/models"
	"github.com/mvalvano/telegrab/pkg/pipeline"
	"github.com/mvalvano/telegrab/pkg/telegram"
)

// Transfers is the pipeline surface the router drives.
type Transfers interface {
	Run(ctx context.Context, req pipeline.Request) error
	RunBatch(ctx context.Context, userID, chatID int64, startLink, endLink string) error
}

// Login is the handshake surface the router drives.
type Login interface {
	Begin(ctx context.Context, userID int64) error
	Submit(ctx context.Context, userID int64, text string) (login.Outcome, error)
	Cancel(userID int64) bool
	Open(userID int64) bool
}

// Sessions closes cached user sessions on /logout.
type Sessions interface {
	Release(userID int64)
}

// Admission flags cooperative cancellation.
type Admission interface {
	Cancel(userID int64) bool
	KillAll() int
}

// Store is the persistence surface for the terms gate and /logout.
type Store interface {
	GetOrCreateUser(ctx context.Context, userID int64) (*models.User, error)
	SetAgreedTerms(ctx context.Context, userID int64, agreed bool) error
	ClearCredential(ctx context.Context, userID int64) error
}

// Config carries the router's fixed settings.
type Config struct {
	// OwnerID is the only user allowed to run /killall.
	OwnerID int64
}

// Router dispatches one update at a time per goroutine. Construct once
// and share.
type Router struct {
	bot       telegram.Bot
	transfers Transfers
	login     Login
	sessions  Sessions
	admission Admission
	store     Store
	cfg       Config

	wg sync.WaitGroup
}

func NewRouter(b telegram.Bot, transfers Transfers, lg Login, sessions Sessions, adm Admission, st Store, cfg Config) *Router {
	return &Router{
		bot:       b,
		transfers: transfers,
		login:     lg,
		sessions:  sessions,
		admission: adm,
		store:     st,
		cfg:       cfg,
	}
}

// Run consumes updates until the channel closes or ctx is cancelled,
// then waits for in-flight handlers.
func (r *Router) Run(ctx context.Context, updates <-chan telegram.Update) {
	defer r.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.Handle(ctx, u)
			}()
		}
	}
}

// Handle processes one update. A panic in a handler is logged and never
// takes the process down.
func (r *Router) Handle(ctx context.Context, u telegram.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("update handler panic",
				logger.KeyUserID, u.UserID,
				"panic", rec)
		}
	}()

	text := strings.TrimSpace(u.Text)
	switch {
	case text == "":
		return
	case strings.HasPrefix(text, "/"):
		r.handleCommand(ctx, u, text)
	case looksLikeLink(text):
		if err := r.transfers.Run(ctx, pipeline.Request{UserID: u.UserID, ChatID: u.ChatID, Link: text}); err != nil {
			logger.Debug("transfer ended with error",
				logger.KeyUserID, u.UserID,
				logger.KeyError, err)
		}
	case r.login.Open(u.UserID):
		r.handleLoginInput(ctx, u, text)
	default:
		r.reply(ctx, u.ChatID, "Send me a t.me message link, or /help for the command list.")
	}
}

func looksLikeLink(text string) bool {
	return strings.Contains(text, "t.me/")
}

func (r *Router) handleCommand(ctx context.Context, u telegram.Update, text string) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	// Strip the bot-mention suffix of group commands.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/start":
		r.handleStart(ctx, u)
		return
	case "/agree":
		r.handleAgree(ctx, u)
		return
	case "/help":
		r.reply(ctx, u.ChatID, helpText)
		return
	}

	// Everything else sits behind the terms gate.
	user, err := r.store.GetOrCreateUser(ctx, u.UserID)
	if err != nil {
		logger.Error("load user failed", logger.KeyUserID, u.UserID, logger.KeyError, err)
		r.reply(ctx, u.ChatID, "Something went wrong, try again later.")
		return
	}
	if !user.AgreedTerms {
		r.reply(ctx, u.ChatID, "Please accept the terms first: send /start.")
		return
	}

	switch cmd {
	case "/login":
		r.handleLogin(ctx, u)
	case "/cancel_login":
		if r.login.Cancel(u.UserID) {
			r.reply(ctx, u.ChatID, "Login cancelled.")
		} else {
			r.reply(ctx, u.ChatID, "No login in progress.")
		}
	case "/logout":
		r.handleLogout(ctx, u)
	case "/cancel":
		if r.admission.Cancel(u.UserID) {
			r.reply(ctx, u.ChatID, "Cancelling your transfer...")
		} else {
			r.reply(ctx, u.ChatID, "You have no transfer running.")
		}
	case "/batch":
		if len(args) != 2 {
			r.reply(ctx, u.ChatID, "Usage: /batch <first link> <last link>")
			return
		}
		if err := r.transfers.RunBatch(ctx, u.UserID, u.ChatID, args[0], args[1]); err != nil {
			logger.Debug("batch ended with error",
				logger.KeyUserID, u.UserID,
				logger.KeyError, err)
		}
	case "/killall":
		if u.UserID != r.cfg.OwnerID {
			r.reply(ctx, u.ChatID, "Unknown command. Send /help.")
			return
		}
		n := r.admission.KillAll()
		logger.Warn("killall issued", logger.KeyUserID, u.UserID, "flagged", n)
		r.reply(ctx, u.ChatID, fmt.Sprintf("Flagged %d active transfers for cancellation.", n))
	default:
		r.reply(ctx, u.ChatID, "Unknown command. Send /help.")
	}
}

func (r *Router) handleStart(ctx context.Context, u telegram.Update) {
	user, err := r.store.GetOrCreateUser(ctx, u.UserID)
	if err != nil {
		logger.Error("load user failed", logger.KeyUserID, u.UserID, logger.KeyError, err)
		r.reply(ctx, u.ChatID, "Something went wrong, try again later.")
		return
	}
	if user.AgreedTerms {
		r.reply(ctx, u.ChatID, welcomeText)
		return
	}
	r.reply(ctx, u.ChatID, termsText)
}

func (r *Router) handleAgree(ctx context.Context, u telegram.Update) {
	if err := r.store.SetAgreedTerms(ctx, u.UserID, true); err != nil {
		logger.Error("terms acceptance failed", logger.KeyUserID, u.UserID, logger.KeyError, err)
		r.reply(ctx, u.ChatID, "Something went wrong, try again later.")
		return
	}
	r.reply(ctx, u.ChatID, welcomeText)
}

func (r *Router) handleLogin(ctx context.Context, u telegram.Update) {
	err := r.login.Begin(ctx, u.UserID)
	switch {
	case err == nil:
		r.reply(ctx, u.ChatID, "Send your phone number in international format, e.g. +15551234567. /cancel_login to abort.")
	case errors.Is(err, login.ErrAlreadyLoggedIn):
		r.reply(ctx, u.ChatID, "You are already logged in. /logout first if you want to switch accounts.")
	case errors.Is(err, login.ErrInProgress):
		r.reply(ctx, u.ChatID, "A login is already in progress. Send the requested input, or /cancel_login.")
	default:
		logger.Error("login begin failed", logger.KeyUserID, u.UserID, logger.KeyError, err)
		r.reply(ctx, u.ChatID, "Couldn't start the login, try again later.")
	}
}

func (r *Router) handleLoginInput(ctx context.Context, u telegram.Update, text string) {
	outcome, err := r.login.Submit(ctx, u.UserID, text)
	switch outcome {
	case login.OutcomeCodeSent:
		r.reply(ctx, u.ChatID, "Code sent. Reply with the code, digits separated by spaces (1 2 3 4 5).")
	case login.OutcomeCodeInvalid:
		r.reply(ctx, u.ChatID, "That code doesn't match. Try again.")
	case login.OutcomePasswordNeeded:
		r.reply(ctx, u.ChatID, "Two-step verification is enabled. Send your password.")
	case login.OutcomeComplete:
		r.reply(ctx, u.ChatID, "Logged in. Send me a link to get started.")
	default:
		if errors.Is(err, telegram.ErrPasswordInvalid) {
			r.reply(ctx, u.ChatID, "Wrong password. Start over with /login.")
			return
		}
		logger.Warn("login step failed", logger.KeyUserID, u.UserID, logger.KeyError, err)
		r.reply(ctx, u.ChatID, "Login failed. Start over with /login.")
	}
}

func (r *Router) handleLogout(ctx context.Context, u telegram.Update) {
	r.sessions.Release(u.UserID)
	if err := r.store.ClearCredential(ctx, u.UserID); err != nil {
		logger.Error("logout failed", logger.KeyUserID, u.UserID, logger.KeyError, err)
		r.reply(ctx, u.ChatID, "Something went wrong, try again later.")
		return
	}
	r.reply(ctx, u.ChatID, "Logged out. Your stored session was removed.")
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if _, err := r.bot.SendMessage(ctx, chatID, text); err != nil {
		logger.Debug("reply failed", logger.KeyChatID, chatID, logger.KeyError, err)
	}
}

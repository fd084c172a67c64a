// Package login drives the multi-step sign-in handshake that turns a
// phone number, one-time code, and optional two-factor password into a
// durable stored credential.
package login

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/mvalvano/telegrab/internal/logger"
	"github.com/mvalvano/telegrab/internal/telemetry"
	"github.com/mvalvano/telegrab/pkg/metrics"
	"github.com/mvalvano/telegrab/pkg/models"
	"github.com/mvalvano/telegrab/pkg/telegram"
)

var (
	// ErrAlreadyLoggedIn is returned by Begin when the user already holds a
	// stored credential.
	ErrAlreadyLoggedIn = errors.New("already logged in")

	// ErrInProgress is returned by Begin when a handshake is already open
	// for the user.
	ErrInProgress = errors.New("login already in progress")

	// ErrNoHandshake is returned by Submit when no handshake is open.
	ErrNoHandshake = errors.New("no login in progress")
)

// Step is the input the open handshake is waiting for.
type Step int

const (
	StepPhone Step = iota
	StepCode
	StepPassword
)

func (s Step) String() string {
	switch s {
	case StepPhone:
		return "phone"
	case StepCode:
		return "code"
	case StepPassword:
		return "password"
	default:
		return "unknown"
	}
}

// Outcome tells the caller what a Submit did, so the router can pick the
// right reply without inspecting handshake internals.
type Outcome int

const (
	// OutcomeCodeSent: the one-time code was dispatched to the phone.
	OutcomeCodeSent Outcome = iota
	// OutcomeCodeInvalid: wrong code, handshake stays open for a retry.
	OutcomeCodeInvalid
	// OutcomePasswordNeeded: the account has two-factor protection.
	OutcomePasswordNeeded
	// OutcomeComplete: the credential was exported and stored.
	OutcomeComplete
	// OutcomeFailed: the handshake was discarded.
	OutcomeFailed
)

// CredentialStore is the subset of the user store the handshake needs.
type CredentialStore interface {
	GetOrCreateUser(ctx context.Context, userID int64) (*models.User, error)
	SaveCredential(ctx context.Context, userID int64, credential string) error
}

// Notifier delivers out-of-band text to the user, used when the sweeper
// expires an idle handshake.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
}

// Config controls handshake expiry.
type Config struct {
	// IdleTTL is how long a handshake may sit without input before the
	// sweeper discards it.
	IdleTTL time.Duration

	// SweepInterval is how often the sweeper scans for idle handshakes.
	SweepInterval time.Duration
}

// DefaultConfig returns the production expiry settings.
func DefaultConfig() Config {
	return Config{
		IdleTTL:       5 * time.Minute,
		SweepInterval: time.Minute,
	}
}

type handshake struct {
	mu sync.Mutex // serializes submissions for one user

	// The fields below are guarded by Manager.mu.
	client     telegram.LoginClient // nil until the phone step dials
	step       Step
	phone      string
	codeHash   string
	lastActive time.Time
}

// Manager owns the open handshakes, one per user at most.
type Manager struct {
	connector telegram.Connector
	store     CredentialStore
	notifier  Notifier
	cfg       Config
	metrics   *metrics.LoginMetrics

	mu         sync.Mutex
	handshakes map[int64]*handshake

	now func() time.Time
}

// NewManager builds a Manager. The notifier may be nil, in which case
// expired handshakes are discarded silently.
func NewManager(connector telegram.Connector, store CredentialStore, notifier Notifier, cfg Config) *Manager {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultConfig().IdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Manager{
		connector:  connector,
		store:      store,
		notifier:   notifier,
		cfg:        cfg,
		handshakes: make(map[int64]*handshake),
		now:        time.Now,
	}
}

// SetMetrics attaches login metrics. A nil set records nothing.
func (m *Manager) SetMetrics(lm *metrics.LoginMetrics) {
	m.metrics = lm
}

// Begin opens a handshake for the user. It is rejected when the user
// already holds a stored credential or a handshake is already open.
func (m *Manager) Begin(ctx context.Context, userID int64) error {
	user, err := m.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.HasCredential() {
		return ErrAlreadyLoggedIn
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handshakes[userID]; ok {
		return ErrInProgress
	}
	m.handshakes[userID] = &handshake{
		step:       StepPhone,
		lastActive: m.now(),
	}
	m.metrics.SetOpen(len(m.handshakes))
	logger.Debug("login handshake opened", logger.KeyUserID, userID)
	return nil
}

// Open reports whether a handshake is open for the user. The router uses
// it to route free text to Submit.
func (m *Manager) Open(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handshakes[userID]
	return ok
}

// Step returns the step the user's handshake is waiting for.
func (m *Manager) Step(userID int64) (Step, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handshakes[userID]
	if !ok {
		return 0, false
	}
	return h.step, true
}

// Submit feeds one line of user input to the open handshake and advances
// it. The platform calls run outside the manager lock; the handshake may
// be swept while one is in flight, in which case the result is discarded.
func (m *Manager) Submit(ctx context.Context, userID int64, text string) (Outcome, error) {
	m.mu.Lock()
	h, ok := m.handshakes[userID]
	if !ok {
		m.mu.Unlock()
		return OutcomeFailed, ErrNoHandshake
	}
	h.lastActive = m.now()
	step := h.step
	m.mu.Unlock()

	ctx, span := telemetry.StartLoginSpan(ctx, step.String(), userID)
	defer span.End()

	h.mu.Lock()
	defer h.mu.Unlock()

	text = strings.TrimSpace(text)

	var outcome Outcome
	var err error
	switch step {
	case StepPhone:
		outcome, err = m.submitPhone(ctx, userID, h, text)
	case StepCode:
		outcome, err = m.submitCode(ctx, userID, h, normalizeCode(text))
	case StepPassword:
		outcome, err = m.submitPassword(ctx, userID, h, text)
	default:
		m.discard(userID, h)
		outcome, err = OutcomeFailed, ErrNoHandshake
	}

	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	if outcome == OutcomeFailed && !errors.Is(err, ErrNoHandshake) {
		m.metrics.ObserveOutcome("failed")
	}
	return outcome, err
}

func (m *Manager) submitPhone(ctx context.Context, userID int64, h *handshake, phone string) (Outcome, error) {
	client, err := m.connector.StartLogin(ctx)
	if err != nil {
		m.discard(userID, h)
		return OutcomeFailed, err
	}

	codeHash, err := client.SendCode(ctx, phone)
	if err != nil {
		_ = client.Close()
		m.discard(userID, h)
		return OutcomeFailed, err
	}

	m.mu.Lock()
	if m.handshakes[userID] != h {
		// Swept or cancelled while dialing.
		m.mu.Unlock()
		_ = client.Close()
		return OutcomeFailed, ErrNoHandshake
	}
	h.client = client
	h.phone = phone
	h.codeHash = codeHash
	h.step = StepCode
	m.mu.Unlock()

	logger.Debug("login code sent", logger.KeyUserID, userID)
	return OutcomeCodeSent, nil
}

// normalizeCode drops the spaces and dashes users put between the digits
// of the one-time code ("1 2 3 4 5", "1-2-3-4-5").
func normalizeCode(code string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, code)
}

func (m *Manager) submitCode(ctx context.Context, userID int64, h *handshake, code string) (Outcome, error) {
	err := h.client.SignIn(ctx, h.phone, h.codeHash, code)
	switch {
	case err == nil:
		return m.finish(ctx, userID, h)
	case errors.Is(err, telegram.ErrPasswordNeeded):
		m.mu.Lock()
		if m.handshakes[userID] == h {
			h.step = StepPassword
		}
		m.mu.Unlock()
		return OutcomePasswordNeeded, nil
	case errors.Is(err, telegram.ErrCodeInvalid):
		// Wrong code keeps the handshake open for another attempt.
		return OutcomeCodeInvalid, nil
	default:
		m.discard(userID, h)
		return OutcomeFailed, err
	}
}

func (m *Manager) submitPassword(ctx context.Context, userID int64, h *handshake, password string) (Outcome, error) {
	err := h.client.CheckPassword(ctx, password)
	if err != nil {
		// A wrong password discards the whole handshake. The user starts
		// over from the phone step.
		m.discard(userID, h)
		if errors.Is(err, telegram.ErrPasswordInvalid) {
			return OutcomeFailed, telegram.ErrPasswordInvalid
		}
		return OutcomeFailed, err
	}
	return m.finish(ctx, userID, h)
}

// finish exports the durable credential, persists it, and closes the
// handshake.
func (m *Manager) finish(ctx context.Context, userID int64, h *handshake) (Outcome, error) {
	credential, err := h.client.ExportCredential(ctx)
	if err != nil {
		m.discard(userID, h)
		return OutcomeFailed, err
	}
	if err := m.store.SaveCredential(ctx, userID, credential); err != nil {
		m.discard(userID, h)
		return OutcomeFailed, err
	}
	m.discard(userID, h)
	m.metrics.ObserveOutcome("complete")
	logger.Info("login complete", logger.KeyUserID, userID)
	return OutcomeComplete, nil
}

// Cancel discards the user's open handshake. It reports whether one was
// open.
func (m *Manager) Cancel(userID int64) bool {
	m.mu.Lock()
	h, ok := m.handshakes[userID]
	if ok {
		delete(m.handshakes, userID)
	}
	client := clientOf(h)
	open := len(m.handshakes)
	m.mu.Unlock()

	m.metrics.SetOpen(open)

	if client != nil {
		_ = client.Close()
	}
	if ok {
		m.metrics.ObserveOutcome("cancelled")
		logger.Debug("login handshake cancelled", logger.KeyUserID, userID)
	}
	return ok
}

// discard removes the handshake if it is still the registered one and
// closes its transient connection.
func (m *Manager) discard(userID int64, h *handshake) {
	m.mu.Lock()
	if m.handshakes[userID] == h {
		delete(m.handshakes, userID)
	}
	client := clientOf(h)
	open := len(m.handshakes)
	m.mu.Unlock()

	m.metrics.SetOpen(open)
	if client != nil {
		_ = client.Close()
	}
}

func clientOf(h *handshake) telegram.LoginClient {
	if h == nil {
		return nil
	}
	return h.client
}

// Size returns the number of open handshakes.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handshakes)
}

// Run sweeps idle handshakes until ctx is cancelled, then discards every
// remaining one.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	logger.Debug("login sweeper started",
		logger.KeyIdle, m.cfg.IdleTTL,
		"interval", m.cfg.SweepInterval)

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case <-ticker.C:
			m.sweepOnce(ctx, m.now())
		}
	}
}

func (m *Manager) sweepOnce(ctx context.Context, now time.Time) {
	cutoff := now.Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	var expired []int64
	var clients []telegram.LoginClient
	for userID, h := range m.handshakes {
		if h.lastActive.Before(cutoff) {
			delete(m.handshakes, userID)
			expired = append(expired, userID)
			if h.client != nil {
				clients = append(clients, h.client)
			}
		}
	}
	open := len(m.handshakes)
	m.mu.Unlock()

	m.metrics.SetOpen(open)
	for _, client := range clients {
		_ = client.Close()
	}
	for _, userID := range expired {
		m.metrics.ObserveOutcome("expired")
		logger.Info("login handshake expired", logger.KeyUserID, userID)
		if m.notifier != nil {
			// Private chats share the user's id.
			if _, err := m.notifier.SendMessage(ctx, userID, "Your login session expired due to inactivity. Send /login to start again."); err != nil {
				logger.Debug("login expiry notice failed",
					logger.KeyUserID, userID,
					logger.KeyError, err)
			}
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	var clients []telegram.LoginClient
	for userID, h := range m.handshakes {
		delete(m.handshakes, userID)
		if h.client != nil {
			clients = append(clients, h.client)
		}
	}
	m.mu.Unlock()

	m.metrics.SetOpen(0)
	for _, client := range clients {
		_ = client.Close()
	}
}

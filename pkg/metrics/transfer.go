package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TransferMetrics records the outcomes and sizes of media transfers.
// A nil *TransferMetrics is valid and records nothing.
type TransferMetrics struct {
	requests  *prometheus.CounterVec
	denials   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	bytes     *prometheus.HistogramVec
	active    prometheus.Gauge
	relayHits prometheus.Counter
	slotWait  *prometheus.HistogramVec
}

// NewTransferMetrics creates the transfer metric set, or nil when metrics
// are disabled.
func NewTransferMetrics() *TransferMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &TransferMetrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "telegrab_transfer_requests_total",
				Help: "Total transfer requests by terminal outcome",
			},
			[]string{"outcome"}, // "done", "failed", "cancelled", "denied"
		),
		denials: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "telegrab_transfer_denials_total",
				Help: "Authorization denials by reason",
			},
			[]string{"reason"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "telegrab_transfer_duration_seconds",
				Help: "End-to-end transfer duration by delivery mode",
				Buckets: []float64{
					0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
				},
			},
			[]string{"mode"}, // "relay", "transfer"
		),
		bytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "telegrab_transfer_bytes",
				Help: "Payload size distribution by direction",
				Buckets: []float64{
					1 << 20,  // 1MiB
					8 << 20,  // 8MiB
					32 << 20, // 32MiB
					128 << 20,
					512 << 20,
					2 << 30, // 2GiB
				},
			},
			[]string{"direction"}, // "download", "upload"
		),
		active: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "telegrab_transfers_active",
				Help: "Transfers currently holding a download slot",
			},
		),
		relayHits: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "telegrab_relay_hits_total",
				Help: "Deliveries satisfied by server-side copy without a local round trip",
			},
		),
		slotWait: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "telegrab_slot_wait_seconds",
				Help: "Time spent queued for a concurrency slot",
				Buckets: []float64{
					0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300,
				},
			},
			[]string{"kind"}, // "download", "upload"
		),
	}
}

// ObserveSlotWait records how long a request queued for a slot.
func (m *TransferMetrics) ObserveSlotWait(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.slotWait.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveOutcome records a terminal pipeline state.
func (m *TransferMetrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

// ObserveDenial records an authorization denial.
func (m *TransferMetrics) ObserveDenial(reason string) {
	if m == nil {
		return
	}
	m.denials.WithLabelValues(reason).Inc()
}

// ObserveDuration records the end-to-end duration of a delivery.
func (m *TransferMetrics) ObserveDuration(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveBytes records the payload size moved in one direction.
func (m *TransferMetrics) ObserveBytes(direction string, n int64) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues(direction).Observe(float64(n))
}

// TransferStarted and TransferEnded track the active-transfer gauge.
func (m *TransferMetrics) TransferStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *TransferMetrics) TransferEnded() {
	if m == nil {
		return
	}
	m.active.Dec()
}

// ObserveRelay records a successful server-side copy.
func (m *TransferMetrics) ObserveRelay() {
	if m == nil {
		return
	}
	m.relayHits.Inc()
}

// SessionMetrics tracks the user-session registry. A nil *SessionMetrics
// records nothing.
type SessionMetrics struct {
	open      prometheus.Gauge
	dials     prometheus.Counter
	evictions prometheus.Counter
}

// NewSessionMetrics creates the session metric set, or nil when metrics
// are disabled.
func NewSessionMetrics() *SessionMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &SessionMetrics{
		open: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "telegrab_sessions_open",
				Help: "Authenticated user sessions currently cached",
			},
		),
		dials: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "telegrab_session_dials_total",
				Help: "Fresh session connections established",
			},
		),
		evictions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "telegrab_session_evictions_total",
				Help: "Sessions evicted by the idle sweeper",
			},
		),
	}
}

// SetOpen records the current number of cached sessions.
func (m *SessionMetrics) SetOpen(n int) {
	if m == nil {
		return
	}
	m.open.Set(float64(n))
}

// ObserveDial records a fresh connection.
func (m *SessionMetrics) ObserveDial() {
	if m == nil {
		return
	}
	m.dials.Inc()
}

// ObserveEviction records an idle eviction.
func (m *SessionMetrics) ObserveEviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

// LoginMetrics tracks the login handshake registry. A nil *LoginMetrics
// records nothing.
type LoginMetrics struct {
	open     prometheus.Gauge
	outcomes *prometheus.CounterVec
}

// NewLoginMetrics creates the login metric set, or nil when metrics are
// disabled.
func NewLoginMetrics() *LoginMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &LoginMetrics{
		open: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "telegrab_login_handshakes_open",
				Help: "Login conversations currently in progress",
			},
		),
		outcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "telegrab_login_outcomes_total",
				Help: "Closed login conversations by outcome",
			},
			[]string{"outcome"}, // "complete", "failed", "cancelled", "expired"
		),
	}
}

// SetOpen records the number of open handshakes.
func (m *LoginMetrics) SetOpen(n int) {
	if m == nil {
		return
	}
	m.open.Set(float64(n))
}

// ObserveOutcome records how a handshake closed.
func (m *LoginMetrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

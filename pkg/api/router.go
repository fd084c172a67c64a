// Package api serves the operational HTTP surface: liveness and
// readiness probes plus the Prometheus scrape endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mvalvano/telegrab/internal/logger"
	"github.com/mvalvano/telegrab/pkg/metrics"
)

// Pinger verifies the persistence layer for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Stats supplies the runtime counters reported by the probes. All fields
// are optional.
type Stats struct {
	// Store backs the readiness probe; nil reports not ready.
	Store Pinger

	// Sessions returns the number of cached user sessions.
	Sessions func() int

	// Handshakes returns the number of open login handshakes.
	Handshakes func() int

	// ActiveTransfers returns the number of transfers holding a slot.
	ActiveTransfers func() int
}

// NewRouter builds the chi router with the middleware stack and routes.
//
// Middleware order matters: request id and real ip first, then logging,
// recovery, and the request timeout.
func NewRouter(stats Stats) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := &healthHandler{stats: stats}
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.liveness)
		r.Get("/ready", h.readiness)
	})

	if metrics.IsEnabled() {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			metrics.GetRegistry(),
			promhttp.HandlerOpts{},
		))
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

type healthHandler struct {
	stats Stats
}

// liveness handles GET /health. It succeeds as long as the process
// serves HTTP.
func (h *healthHandler) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "telegrab",
	}))
}

// readiness handles GET /health/ready. Ready means the database answers
// a ping; the body carries the live counters for operators.
func (h *healthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.stats.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("store not initialized"))
		return
	}
	if err := h.stats.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("database unreachable: "+err.Error()))
		return
	}

	data := map[string]any{}
	if h.stats.Sessions != nil {
		data["sessions"] = h.stats.Sessions()
	}
	if h.stats.Handshakes != nil {
		data["login_handshakes"] = h.stats.Handshakes()
	}
	if h.stats.ActiveTransfers != nil {
		data["active_transfers"] = h.stats.ActiveTransfers()
	}
	writeJSON(w, http.StatusOK, healthyResponse(data))
}

// requestLogger logs requests through the internal logger: start at
// DEBUG, completion at INFO with status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			logger.KeyRequestID, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			logger.KeyRequestID, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			logger.KeyBytes, ww.BytesWritten(),
			logger.KeyDuration, time.Since(start).String(),
		)
	})
}

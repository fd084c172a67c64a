// Package sessions caches authenticated per-user platform connections.
//
// A handle is created lazily on first use from the user's stored credential
// and reused until it sits idle past the TTL, at which point a periodic
// sweep closes and drops it. Concurrent acquisitions for the same user
// serialize so exactly one handle is ever constructed; different users
// proceed independently.
package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mvalvano/telegrab/internal/logger"
	"github.com/mvalvano/telegrab/pkg/metrics"
	"github.com/mvalvano/telegrab/pkg/telegram"
)

// Config controls handle lifetime.
type Config struct {
	// IdleTTL is how long a handle may sit unused before eviction.
	IdleTTL time.Duration

	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration
}

// DefaultConfig returns the production eviction timings.
func DefaultConfig() Config {
	return Config{
		IdleTTL:       10 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// entry holds one user's handle. The client and timestamps are guarded by
// the registry mutex; the entry mutex serializes construction so a slow
// dial for one user never blocks acquisitions for others.
type entry struct {
	mu        sync.Mutex
	client    telegram.UserClient
	createdAt time.Time
	lastUsed  time.Time
}

// Registry owns all cached handles. At most one handle exists per user id.
type Registry struct {
	connector telegram.Connector
	cfg       Config
	metrics   *metrics.SessionMetrics

	mu      sync.Mutex
	entries map[int64]*entry

	now func() time.Time // test hook
}

// NewRegistry creates an empty registry.
func NewRegistry(connector telegram.Connector, cfg Config) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultConfig().IdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Registry{
		connector: connector,
		cfg:       cfg,
		entries:   make(map[int64]*entry),
		now:       time.Now,
	}
}

// SetMetrics attaches session metrics. A nil set records nothing.
func (r *Registry) SetMetrics(m *metrics.SessionMetrics) {
	r.metrics = m
}

// Acquire returns the user's cached handle, refreshing its last-used time,
// or dials a new one from the credential. Concurrent calls for the same
// user construct exactly one handle.
func (r *Registry) Acquire(ctx context.Context, userID int64, credential string) (telegram.UserClient, error) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		e = &entry{}
		r.entries[userID] = e
	}
	if e.client != nil {
		e.lastUsed = r.now()
		client := e.client
		r.mu.Unlock()
		return client, nil
	}
	r.mu.Unlock()

	// Serialize construction per user.
	e.mu.Lock()
	defer e.mu.Unlock()

	// Another acquisition may have finished the dial while we waited, or a
	// sweep may have replaced the entry entirely.
	r.mu.Lock()
	if cur, ok := r.entries[userID]; ok && cur == e && e.client != nil {
		e.lastUsed = r.now()
		client := e.client
		r.mu.Unlock()
		return client, nil
	}
	r.mu.Unlock()

	client, err := r.connector.Dial(ctx, credential)
	if err != nil {
		r.mu.Lock()
		if cur, ok := r.entries[userID]; ok && cur == e {
			delete(r.entries, userID)
		}
		r.mu.Unlock()
		return nil, fmt.Errorf("dialing session for user %d: %w", userID, err)
	}

	r.mu.Lock()
	if cur, ok := r.entries[userID]; !ok || cur != e {
		// Released (logout) while the dial was in flight. The entry is
		// gone; caching the client here would orphan a live connection.
		r.mu.Unlock()
		if cerr := client.Close(); cerr != nil {
			logger.Debug("error closing orphaned handle", logger.KeyUserID, userID, logger.KeyError, cerr)
		}
		return nil, fmt.Errorf("session for user %d released during dial", userID)
	}
	now := r.now()
	e.client = client
	e.createdAt = now
	e.lastUsed = now
	open := len(r.entries)
	r.mu.Unlock()

	r.metrics.ObserveDial()
	r.metrics.SetOpen(open)
	logger.Info("session handle created", logger.KeyUserID, userID)
	return client, nil
}

// Release force-closes and removes the user's handle. Idempotent when no
// handle exists.
func (r *Registry) Release(userID int64) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	var client telegram.UserClient
	if ok {
		delete(r.entries, userID)
		client = e.client
	}
	open := len(r.entries)
	r.mu.Unlock()

	r.metrics.SetOpen(open)
	if client != nil {
		if err := client.Close(); err != nil {
			logger.Debug("error closing session handle", logger.KeyUserID, userID, logger.KeyError, err)
		}
		logger.Info("session handle released", logger.KeyUserID, userID)
	}
}

// Run executes the eviction sweep until the context is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			r.sweepOnce(r.now())
		}
	}
}

// sweepOnce evicts handles idle past the TTL. Scan and removal happen
// under the registry mutex, so a touch that lands after the sweep takes
// the lock either refreshes an entry before it is examined or finds the
// entry gone and dials a fresh handle. The closes run outside the lock.
func (r *Registry) sweepOnce(now time.Time) {
	cutoff := now.Add(-r.cfg.IdleTTL)

	type evicted struct {
		userID int64
		client telegram.UserClient
		idle   time.Duration
	}

	r.mu.Lock()
	var victims []evicted
	for userID, e := range r.entries {
		if e.client == nil {
			continue // still dialing
		}
		if e.lastUsed.Before(cutoff) {
			victims = append(victims, evicted{userID, e.client, now.Sub(e.lastUsed)})
			delete(r.entries, userID)
		}
	}
	open := len(r.entries)
	r.mu.Unlock()

	r.metrics.SetOpen(open)
	for _, v := range victims {
		if err := v.client.Close(); err != nil {
			logger.Debug("error closing evicted handle", logger.KeyUserID, v.userID, logger.KeyError, err)
		}
		r.metrics.ObserveEviction()
		logger.Info("session handle evicted", logger.KeyUserID, v.userID, logger.KeyIdle, v.idle)
	}
}

// closeAll drops every handle. Called on shutdown.
func (r *Registry) closeAll() {
	r.mu.Lock()
	clients := make([]telegram.UserClient, 0, len(r.entries))
	for userID, e := range r.entries {
		if e.client != nil {
			clients = append(clients, e.client)
		}
		delete(r.entries, userID)
	}
	r.mu.Unlock()

	for _, c := range clients {
		_ = c.Close()
	}
	if len(clients) > 0 {
		logger.Info("closed all session handles", logger.KeySessions, len(clients))
	}
}

// Size returns the number of cached entries.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

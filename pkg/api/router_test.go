package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvalvano/telegrab/pkg/metrics"
)

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(context.Context) error {
	return p.err
}

func get(t *testing.T, handler http.Handler, path string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body Response
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestLiveness(t *testing.T) {
	router := NewRouter(Stats{})

	rec, body := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body.Status)
}

func TestReadinessWithoutStore(t *testing.T) {
	router := NewRouter(Stats{})

	rec, body := get(t, router, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body.Status)
}

func TestReadinessDatabaseDown(t *testing.T) {
	router := NewRouter(Stats{Store: &fakePinger{err: errors.New("connection refused")}})

	rec, body := get(t, router, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, body.Error, "database unreachable")
}

func TestReadinessReportsCounters(t *testing.T) {
	router := NewRouter(Stats{
		Store:           &fakePinger{},
		Sessions:        func() int { return 3 },
		Handshakes:      func() int { return 1 },
		ActiveTransfers: func() int { return 2 },
	})

	rec, body := get(t, router, "/health/ready")
	require.Equal(t, http.StatusOK, rec.Code)

	data, ok := body.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), data["sessions"])
	assert.Equal(t, float64(1), data["login_handshakes"])
	assert.Equal(t, float64(2), data["active_transfers"])
}

func TestMetricsRouteOnlyWhenEnabled(t *testing.T) {
	metrics.ResetForTesting()
	router := NewRouter(Stats{})
	rec, _ := get(t, router, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	metrics.InitRegistry()
	defer metrics.ResetForTesting()
	router = NewRouter(Stats{})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRootRedirectsToHealth(t *testing.T) {
	router := NewRouter(Stats{})

	rec, _ := get(t, router, "/")
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/health", rec.Header().Get("Location"))
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledMetricsAreNoOps(t *testing.T) {
	ResetForTesting()

	assert.False(t, IsEnabled())
	assert.Nil(t, GetRegistry())

	tm := NewTransferMetrics()
	require.Nil(t, tm)

	// Nil receivers must be safe.
	tm.ObserveOutcome("done")
	tm.ObserveDuration("relay", time.Second)
	tm.TransferStarted()
	tm.TransferEnded()

	var sm *SessionMetrics
	sm.SetOpen(3)
	sm.ObserveDial()

	var lm *LoginMetrics
	lm.SetOpen(1)
	lm.ObserveOutcome("complete")
}

func TestEnabledMetricsRecord(t *testing.T) {
	ResetForTesting()
	InitRegistry()
	defer ResetForTesting()

	assert.True(t, IsEnabled())
	require.NotNil(t, GetRegistry())

	tm := NewTransferMetrics()
	require.NotNil(t, tm)

	tm.ObserveOutcome("done")
	tm.ObserveOutcome("done")
	tm.ObserveOutcome("failed")
	assert.Equal(t, float64(2), testutil.ToFloat64(tm.requests.WithLabelValues("done")))
	assert.Equal(t, float64(1), testutil.ToFloat64(tm.requests.WithLabelValues("failed")))

	tm.TransferStarted()
	assert.Equal(t, float64(1), testutil.ToFloat64(tm.active))
	tm.TransferEnded()
	assert.Equal(t, float64(0), testutil.ToFloat64(tm.active))

	sm := NewSessionMetrics()
	require.NotNil(t, sm)
	sm.SetOpen(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(sm.open))

	lm := NewLoginMetrics()
	require.NotNil(t, lm)
	lm.SetOpen(2)
	lm.ObserveOutcome("expired")
	assert.Equal(t, float64(2), testutil.ToFloat64(lm.open))
	assert.Equal(t, float64(1), testutil.ToFloat64(lm.outcomes.WithLabelValues("expired")))
}

func TestInitRegistryIdempotent(t *testing.T) {
	ResetForTesting()
	InitRegistry()
	defer ResetForTesting()

	first := GetRegistry()
	InitRegistry()
	assert.Same(t, first, GetRegistry())
}

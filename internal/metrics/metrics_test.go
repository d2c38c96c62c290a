package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveScan("v1", "benign", time.Millisecond)
		m.ObserveSource("urlhaus", "ok", time.Millisecond)
		m.ObserveBackend("primary", "error")
		m.ObserveFallback("v1", 2)
		m.ObserveCache("hit")
		m.ObserveShadow("v1", true)
		m.ObserveSink("result", "dropped")
		m.SetConfigVersion(3)
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSource("urlhaus", "ok", 20*time.Millisecond)
	m.ObserveSource("urlhaus", "ok", 30*time.Millisecond)
	m.ObserveSource("urlhaus", "error", time.Millisecond)
	m.ObserveFallback("v2", 2)
	m.ObserveShadow("v1", false)
	m.SetConfigVersion(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SourceRequests.WithLabelValues("urlhaus", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceRequests.WithLabelValues("urlhaus", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackLevel.WithLabelValues("v2", "2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ShadowComparisons.WithLabelValues("v1", "false")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.ConfigVersion))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewTwiceOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
		New(nil)
	})
}

// Package metrics holds the Prometheus collectors of the scan engine.
// All methods are safe on a nil *Metrics so components can run unmetered.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "urlverdict"

var latencyBuckets = []float64{.005, .01, .025, .05, .1, .2, .3, .5, .8, 1, 2.5}

// Metrics groups the scan engine collectors
type Metrics struct {
	ScanDuration      *prometheus.HistogramVec
	StageDuration     *prometheus.HistogramVec
	SourceRequests    *prometheus.CounterVec
	SourceLatency     *prometheus.HistogramVec
	BackendRequests   *prometheus.CounterVec
	FallbackLevel     *prometheus.CounterVec
	CacheRequests     *prometheus.CounterVec
	DegradedScans     *prometheus.CounterVec
	ShadowComparisons *prometheus.CounterVec
	SinkEvents        *prometheus.CounterVec
	ConfigVersion     prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		ScanDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "End to end scan latency",
				Buckets:   latencyBuckets,
			},
			[]string{"path", "verdict"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Latency of each scan stage",
				Buckets:   latencyBuckets,
			},
			[]string{"path", "stage"},
		),
		SourceRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_requests_total",
				Help:      "Threat intel lookups by outcome",
			},
			[]string{"source", "outcome"},
		),
		SourceLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_latency_seconds",
				Help:      "Threat intel lookup latency",
				Buckets:   latencyBuckets,
			},
			[]string{"source"},
		),
		BackendRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_requests_total",
				Help:      "Prediction backend attempts by outcome",
			},
			[]string{"backend", "outcome"},
		),
		FallbackLevel: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prediction_fallback_level_total",
				Help:      "Fallback level that produced the prediction",
			},
			[]string{"path", "level"},
		),
		CacheRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feature_cache_requests_total",
				Help:      "Feature cache lookups by result",
			},
			[]string{"result"},
		),
		DegradedScans: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "degraded_scans_total",
				Help:      "Scans completed with a degradation flag",
			},
			[]string{"path", "flag"},
		),
		ShadowComparisons: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "shadow_comparisons_total",
				Help:      "Shadow comparisons by verdict agreement",
			},
			[]string{"primary", "agreement"},
		),
		SinkEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_events_total",
				Help:      "Result sink records by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		ConfigVersion: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_snapshot_version",
				Help:      "Version of the active dynamic config snapshot",
			},
		),
	}
}

// ObserveScan records a completed scan
func (m *Metrics) ObserveScan(path, verdict string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScanDuration.WithLabelValues(path, verdict).Observe(d.Seconds())
}

// ObserveStage records a stage latency
func (m *Metrics) ObserveStage(path, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(path, stage).Observe(d.Seconds())
}

// ObserveSource records a threat intel lookup
func (m *Metrics) ObserveSource(source, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SourceRequests.WithLabelValues(source, outcome).Inc()
	m.SourceLatency.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveBackend records a prediction backend attempt
func (m *Metrics) ObserveBackend(backend, outcome string) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(backend, outcome).Inc()
}

// ObserveFallback records which fallback level answered
func (m *Metrics) ObserveFallback(path string, level int) {
	if m == nil {
		return
	}
	m.FallbackLevel.WithLabelValues(path, strconv.Itoa(level)).Inc()
}

// ObserveCache records a feature cache lookup: hit, miss or degraded
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// ObserveDegraded records one degradation flag of a scan
func (m *Metrics) ObserveDegraded(path, flag string) {
	if m == nil {
		return
	}
	m.DegradedScans.WithLabelValues(path, flag).Inc()
}

// ObserveShadow records a shadow comparison
func (m *Metrics) ObserveShadow(primary string, agreement bool) {
	if m == nil {
		return
	}
	m.ShadowComparisons.WithLabelValues(primary, strconv.FormatBool(agreement)).Inc()
}

// ObserveSink records a sink event: enqueued, dropped, written or failed
func (m *Metrics) ObserveSink(kind, outcome string) {
	if m == nil {
		return
	}
	m.SinkEvents.WithLabelValues(kind, outcome).Inc()
}

// SetConfigVersion publishes the active snapshot version
func (m *Metrics) SetConfigVersion(v int64) {
	if m == nil {
		return
	}
	m.ConfigVersion.Set(float64(v))
}

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/adapter/sink"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/config"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// offlineConfig has no credentials, so every remote source is disabled and
// Stage 2 answers from the heuristic
func offlineConfig() *config.Config {
	src := config.SourceConfig{Enabled: true, Tier: 1, Timeout: 50 * time.Millisecond}
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		Scan: config.ScanConfig{
			TotalBudget:     800 * time.Millisecond,
			Stage1Budget:    300 * time.Millisecond,
			Stage2MinViable: 50 * time.Millisecond,
			ShadowTimeout:   time.Second,
		},
		ThreatIntel: config.ThreatIntelConfig{
			URLhaus:    src,
			VirusTotal: src,
			ThreatFox:  src,
			OTX:        src,
			Blocklist:  src,
			HTTPSource: src,
			CacheTTL:   time.Minute,
		},
		Model:        config.ModelConfig{CIHalfWidth: 0.1, BreakerFailures: 3, BreakerCooldown: time.Second},
		FeatureCache: config.FeatureCacheConfig{Backend: "memory", TTL: time.Minute, Size: 16},
		Rollout:      config.RolloutConfig{Percentage: 0, Shadow: true, Salt: "app-test", StickyBy: "target"},
		Decision: config.DecisionConfig{
			MaliciousThreshold:  0.75,
			SuspiciousThreshold: 0.45,
			IntelWeight:         0.4,
			ModelWeight:         0.6,
		},
		Sink: config.SinkConfig{QueueSize: 16, Workers: 1, WriteTimeout: time.Second},
	}
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, quietLogger(), Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	return a
}

func TestNew_OfflineScanEndToEnd(t *testing.T) {
	a := newApp(t, offlineConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Run(ctx)

	for _, s := range a.Registry.All() {
		assert.False(t, s.Enabled, "%s has no credentials", s.ID)
	}
	assert.Nil(t, a.Checks["clickhouse"])
	require.NotNil(t, a.Static)

	result, err := a.Scan.ScanURL(ctx, "http://secure-paypal-login.example.test/verify", entity.CallerContext{RequestID: "r-1"})
	require.NoError(t, err)
	assert.Equal(t, entity.PathV1, result.Path)
	assert.True(t, result.Flags.Stage1Insufficient)
	require.NotNil(t, result.Prediction)
	assert.True(t, result.Prediction.Heuristic)
	assert.True(t, result.Flags.ModelFallback)
	assert.Equal(t, "heuristic-v1", result.Prediction.ModelID)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	require.NoError(t, a.Close(closeCtx))

	store, ok := a.Store.(*sink.MemoryStore)
	require.True(t, ok)
	assert.Len(t, store.Results(), 1)
	assert.Len(t, store.Shadows(), 1, "shadow mode pairs the request with a V2 run")
	assert.Equal(t, "heuristic-v2", store.Shadows()[0].V2.Prediction.ModelID)
}

// modelServer answers every prediction with a fixed probability
func modelServer(t *testing.T, modelID string, p float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"probability": %v, "model_id": %q, "model_version": "1"}`, p, modelID)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_PathsUseTheirOwnModels(t *testing.T) {
	cfg := offlineConfig()
	cfg.Model.PrimaryURL = modelServer(t, "incumbent", 0.9).URL
	cfg.Model.V2PrimaryURL = modelServer(t, "candidate", 0.1).URL
	a := newApp(t, cfg)

	assert.Equal(t, []string{"primary", "heuristic-v1"}, a.Chains[entity.PathV1].Backends())
	assert.Equal(t, []string{"primary-v2", "heuristic-v2"}, a.Chains[entity.PathV2].Backends())

	result, err := a.Scan.ScanURL(context.Background(), "http://secure-paypal-login.example.test/verify", entity.CallerContext{RequestID: "r-2"})
	require.NoError(t, err)
	assert.Equal(t, "incumbent", result.Prediction.ModelID)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(closeCtx))

	store := a.Store.(*sink.MemoryStore)
	require.Len(t, store.Shadows(), 1)
	rec := store.Shadows()[0]
	assert.Equal(t, "candidate", rec.V2.Prediction.ModelID)
	assert.Equal(t, entity.VerdictMalicious, rec.V1.Verdict)
	assert.Equal(t, entity.VerdictBenign, rec.V2.Verdict)
	assert.False(t, rec.Agreement)
	assert.InDelta(t, -0.8, rec.ProbabilityDelta, 1e-9)
}

func TestNew_V2FallsBackToSharedModels(t *testing.T) {
	cfg := offlineConfig()
	cfg.Model.PrimaryURL = modelServer(t, "incumbent", 0.9).URL
	a := newApp(t, cfg)
	defer a.Close(context.Background())

	assert.Equal(t, []string{"primary", "heuristic-v1"}, a.Chains[entity.PathV1].Backends())
	assert.Equal(t, []string{"primary", "heuristic-v2"}, a.Chains[entity.PathV2].Backends())
}

func TestNew_SQLiteFeatureCache(t *testing.T) {
	cfg := offlineConfig()
	cfg.FeatureCache.Backend = "sqlite"
	cfg.FeatureCache.Path = filepath.Join(t.TempDir(), "cache", "features.db")
	a := newApp(t, cfg)

	_, err := a.Scan.ScanURL(context.Background(), "https://example.test/", entity.CallerContext{})
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))

	_, err = os.Stat(cfg.FeatureCache.Path)
	assert.NoError(t, err)
}

func TestNew_RolloutFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 9\nrollout:\n  percentage: 100\n  salt: file\n"), 0o644))

	cfg := offlineConfig()
	cfg.Rollout.File = path
	a := newApp(t, cfg)
	defer a.Close(context.Background())

	assert.Nil(t, a.Static)
	snap, err := a.Rollout.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), snap.Version)

	result, err := a.Scan.ScanURL(context.Background(), "https://example.test/", entity.CallerContext{})
	require.NoError(t, err)
	assert.Equal(t, entity.PathV2, result.Path)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown cache backend", func(c *config.Config) { c.FeatureCache.Backend = "redis" }},
		{"rollout over 100", func(c *config.Config) { c.Rollout.Percentage = 120 }},
		{"rollout NaN", func(c *config.Config) { c.Rollout.Percentage = math.NaN() }},
		{"V2 thresholds inverted", func(c *config.Config) { c.DecisionV2.SuspiciousThreshold = 0.95 }},
		{"missing rollout file", func(c *config.Config) { c.Rollout.File = "/nonexistent/rollout.yaml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := offlineConfig()
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg, quietLogger(), Options{Registerer: prometheus.NewRegistry()})
			assert.Error(t, err)
		})
	}
}

func TestStaticSnapshot(t *testing.T) {
	cfg := offlineConfig()
	cfg.Decision.MaliciousThreshold = 0.9
	cfg.Rollout.StickyBy = "caller"

	snap := StaticSnapshot(cfg)
	assert.Equal(t, entity.StickyByCaller, snap.Rollout.StickyBy)
	assert.Equal(t, 0.9, snap.DecisionFor(entity.PathV1).Thresholds.Malicious)
	assert.Equal(t, 0.9, snap.DecisionFor(entity.PathV2).Thresholds.Malicious)
	assert.Equal(t, 0.6, snap.DecisionFor(entity.PathV2).Blend.Model)

	cfg.DecisionV2 = config.DecisionConfig{SuspiciousThreshold: 0.5, IntelWeight: 0.2, ModelWeight: 0.8}
	snap = StaticSnapshot(cfg)
	v1, v2 := snap.DecisionFor(entity.PathV1), snap.DecisionFor(entity.PathV2)
	assert.Equal(t, 0.45, v1.Thresholds.Suspicious)
	assert.Equal(t, 0.5, v2.Thresholds.Suspicious)
	assert.Equal(t, 0.9, v2.Thresholds.Malicious, "unset V2 fields inherit V1")
	assert.Equal(t, 0.4, v1.Blend.Intel)
	assert.Equal(t, 0.2, v2.Blend.Intel)
	assert.Equal(t, 0.8, v2.Blend.Model)
}

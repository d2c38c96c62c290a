package config

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, 800*time.Millisecond, cfg.Scan.TotalBudget)
	assert.Equal(t, 300*time.Millisecond, cfg.Scan.Stage1Budget)
	assert.Equal(t, 1, cfg.ThreatIntel.URLhaus.Tier)
	assert.Equal(t, 3, cfg.ThreatIntel.Blocklist.Tier)
	assert.Equal(t, 0.8, cfg.ThreatIntel.MinResponseFraction)
	assert.Equal(t, "memory", cfg.FeatureCache.Backend)
	assert.Equal(t, 0.75, cfg.Decision.MaliciousThreshold)
	assert.False(t, cfg.ClickHouse.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("SCAN_TOTAL_BUDGET", "1500ms")
	t.Setenv("OTX_TIER", "4")
	t.Setenv("OTX_ENABLED", "false")
	t.Setenv("ROLLOUT_PERCENTAGE", "12.5")
	t.Setenv("FEATURE_CACHE_BACKEND", "SQLite")
	t.Setenv("MODEL_V2_PRIMARY_URL", "http://candidate-model:8000")
	t.Setenv("DECISION_V2_MALICIOUS_THRESHOLD", "0.8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 1500*time.Millisecond, cfg.Scan.TotalBudget)
	assert.Equal(t, 4, cfg.ThreatIntel.OTX.Tier)
	assert.False(t, cfg.ThreatIntel.OTX.Enabled)
	assert.Equal(t, 12.5, cfg.Rollout.Percentage)
	assert.Equal(t, "sqlite", cfg.FeatureCache.Backend)
	assert.Equal(t, "http://candidate-model:8000", cfg.Model.V2PrimaryURL)
	assert.Empty(t, cfg.Model.V2SecondaryAddr)
	assert.Equal(t, 0.8, cfg.DecisionV2.MaliciousThreshold)
	assert.Zero(t, cfg.DecisionV2.IntelWeight)
}

func TestSetupLogger(t *testing.T) {
	logger := SetupLogger(&Config{App: AppConfig{Env: "development"}})
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

package rolloutcfg

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

const sampleYAML = `
version: 7
rollout:
  percentage: 25
  shadow: true
  salt: spring
  sticky_by: caller
decision:
  v2:
    thresholds:
      malicious: 0.8
      suspicious: 0.5
    blend:
      intel: 0.3
      model: 0.7
      insufficient_factor: 0.5
      fallback_factor: 0.85
      heuristic_factor: 0.5
      prior: 0.5
`

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "rollout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// =============================================================================
// StaticProvider
// =============================================================================

func TestStaticProvider_Unavailable(t *testing.T) {
	p := NewStaticProvider(nil)
	_, err := p.Snapshot(context.Background())
	assert.ErrorIs(t, err, entity.ErrConfigUnavailable)
}

func TestStaticProvider_SetBumpsVersion(t *testing.T) {
	p := NewStaticProvider(&entity.ConfigSnapshot{Version: 3})

	snap, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Version)
	assert.Equal(t, entity.StickyByTarget, snap.Rollout.StickyBy)
	assert.Len(t, snap.Decision, 2)

	next, err := p.Set(entity.ConfigSnapshot{Rollout: entity.RolloutConfig{Percentage: 50}})
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.Version)

	// earlier readers keep their snapshot
	assert.Equal(t, float64(0), snap.Rollout.Percentage)
}

func TestStaticProvider_ConcurrentReadsNeverTorn(t *testing.T) {
	p := NewStaticProvider(&entity.ConfigSnapshot{Rollout: entity.RolloutConfig{Percentage: 0, Salt: saltFor(0)}})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 200; i++ {
			pct := float64(i % 101)
			_, err := p.Set(entity.ConfigSnapshot{Rollout: entity.RolloutConfig{Percentage: pct, Salt: saltFor(pct)}})
			assert.NoError(t, err)
		}
	}()

	for i := 0; i < 500; i++ {
		snap, err := p.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, saltFor(snap.Rollout.Percentage), snap.Rollout.Salt)
	}
	wg.Wait()
}

func saltFor(pct float64) string {
	return fmt.Sprintf("salt-%v", pct)
}

func withDecision(edit func(*entity.DecisionConfig)) entity.DecisionConfig {
	dc := entity.DefaultDecisionConfig()
	edit(&dc)
	return dc
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		snap    entity.ConfigSnapshot
		wantErr bool
	}{
		{"defaults", entity.ConfigSnapshot{}, false},
		{"percentage too high", entity.ConfigSnapshot{Rollout: entity.RolloutConfig{Percentage: 101}}, true},
		{"negative percentage", entity.ConfigSnapshot{Rollout: entity.RolloutConfig{Percentage: -1}}, true},
		{"NaN percentage", entity.ConfigSnapshot{Rollout: entity.RolloutConfig{Percentage: math.NaN()}}, true},
		{"NaN threshold", entity.ConfigSnapshot{Decision: map[entity.ScanPath]entity.DecisionConfig{
			entity.PathV1: withDecision(func(dc *entity.DecisionConfig) { dc.Thresholds.Malicious = math.NaN() }),
		}}, true},
		{"NaN blend weight", entity.ConfigSnapshot{Decision: map[entity.ScanPath]entity.DecisionConfig{
			entity.PathV2: withDecision(func(dc *entity.DecisionConfig) { dc.Blend.Model = math.NaN() }),
		}}, true},
		{"NaN factor", entity.ConfigSnapshot{Decision: map[entity.ScanPath]entity.DecisionConfig{
			entity.PathV2: withDecision(func(dc *entity.DecisionConfig) { dc.Blend.FallbackFactor = math.NaN() }),
		}}, true},
		{"bad sticky", entity.ConfigSnapshot{Rollout: entity.RolloutConfig{StickyBy: "session"}}, true},
		{"inverted thresholds", entity.ConfigSnapshot{Decision: map[entity.ScanPath]entity.DecisionConfig{
			entity.PathV1: {
				Thresholds: entity.Thresholds{Malicious: 0.4, Suspicious: 0.6},
				Blend:      entity.DefaultDecisionConfig().Blend,
			},
		}}, true},
		{"zero blend", entity.ConfigSnapshot{Decision: map[entity.ScanPath]entity.DecisionConfig{
			entity.PathV2: {Thresholds: entity.DefaultDecisionConfig().Thresholds},
		}}, true},
		{"unknown path", entity.ConfigSnapshot{Decision: map[entity.ScanPath]entity.DecisionConfig{
			"v3": entity.DefaultDecisionConfig(),
		}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.snap)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSnapshot)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// FileProvider
// =============================================================================

func TestFileProvider_Load(t *testing.T) {
	path := writeFile(t, t.TempDir(), sampleYAML)

	p, err := NewFileProvider(path, nil, nil)
	require.NoError(t, err)

	snap, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.Version)
	assert.Equal(t, 25.0, snap.Rollout.Percentage)
	assert.True(t, snap.Rollout.Shadow)
	assert.Equal(t, entity.StickyByCaller, snap.Rollout.StickyBy)
	assert.Equal(t, 0.8, snap.DecisionFor(entity.PathV2).Thresholds.Malicious)
	assert.Equal(t, entity.DefaultDecisionConfig(), snap.DecisionFor(entity.PathV1))
}

func TestFileProvider_MissingFile(t *testing.T) {
	_, err := NewFileProvider(filepath.Join(t.TempDir(), "missing.yaml"), nil, nil)
	assert.ErrorIs(t, err, entity.ErrConfigUnavailable)
}

func TestFileProvider_BadReloadKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, sampleYAML)
	p, err := NewFileProvider(path, nil, nil)
	require.NoError(t, err)

	writeFile(t, dir, "rollout:\n  percentage: 400\n")
	_, err = p.Reload()
	assert.ErrorIs(t, err, entity.ErrConfigUnavailable)

	snap, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25.0, snap.Rollout.Percentage)

	reloads, failures := p.Stats()
	assert.Equal(t, int64(1), reloads)
	assert.Equal(t, int64(1), failures)
}

func TestFileProvider_ReloadBumpsVersion(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, sampleYAML)
	p, err := NewFileProvider(path, nil, nil)
	require.NoError(t, err)

	writeFile(t, dir, "rollout:\n  percentage: 60\n")
	snap, err := p.Reload()
	require.NoError(t, err)
	assert.Equal(t, int64(8), snap.Version)
	assert.Equal(t, 60.0, snap.Rollout.Percentage)
}

func TestFileProvider_Watch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, sampleYAML)
	p, err := NewFileProvider(path, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Watch(ctx))

	writeFile(t, dir, "rollout:\n  percentage: 90\n")

	assert.Eventually(t, func() bool {
		snap, err := p.Snapshot(context.Background())
		return err == nil && snap.Rollout.Percentage == 90
	}, 5*time.Second, 20*time.Millisecond)
}

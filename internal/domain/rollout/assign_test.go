package rollout

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

func TestAssign_Sticky(t *testing.T) {
	cfg := entity.RolloutConfig{Percentage: 37.5, Salt: "2026-q1"}

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("target:%d", i)
		first := Assign(cfg, key)
		for j := 0; j < 5; j++ {
			require.Equal(t, first, Assign(cfg, key))
		}
	}
}

func TestAssign_Extremes(t *testing.T) {
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("k-%d", i)
		assert.Equal(t, entity.PathV1, Assign(entity.RolloutConfig{Percentage: 0}, key).Primary)
		assert.Equal(t, entity.PathV2, Assign(entity.RolloutConfig{Percentage: 100}, key).Primary)
		assert.Equal(t, entity.PathV1, Assign(entity.RolloutConfig{Percentage: -5}, key).Primary)
		assert.Equal(t, entity.PathV2, Assign(entity.RolloutConfig{Percentage: 250}, key).Primary)
	}
}

func TestAssign_MonotonicInPercentage(t *testing.T) {
	const n = 20000
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("https://host-%d.example/path", i)
	}

	prevFraction := -1.0
	onV2 := make(map[string]bool)
	for p := 0.0; p <= 100; p += 5 {
		cfg := entity.RolloutConfig{Percentage: p, Salt: "salt"}
		count := 0
		for _, k := range keys {
			if Assign(cfg, k).Primary == entity.PathV2 {
				count++
				onV2[k] = true
			} else {
				require.False(t, onV2[k], "key %s moved back to v1 at %.0f%%", k, p)
			}
		}
		fraction := float64(count) / n
		assert.GreaterOrEqual(t, fraction, prevFraction)
		assert.InDelta(t, p/100, fraction, 0.02, "uniform keys should track the percentage")
		prevFraction = fraction
	}
}

func TestAssign_Shadow(t *testing.T) {
	d := Assign(entity.RolloutConfig{Percentage: 0, Shadow: true}, "any")
	assert.Equal(t, entity.PathV1, d.Primary)
	assert.Equal(t, entity.PathV2, d.Shadow)
	assert.True(t, d.HasShadow())

	d = Assign(entity.RolloutConfig{Percentage: 100, Shadow: true}, "any")
	assert.Equal(t, entity.PathV2, d.Primary)
	assert.Equal(t, entity.PathV1, d.Shadow)

	d = Assign(entity.RolloutConfig{Percentage: 100}, "any")
	assert.False(t, d.HasShadow())
}

func TestAssign_SaltChangesBuckets(t *testing.T) {
	moved := 0
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("k%d", i)
		if Bucket("a", key) != Bucket("b", key) {
			moved++
		}
	}
	assert.Greater(t, moved, 900)
}

func TestStickyKey(t *testing.T) {
	target := entity.ScanTarget{ID: "abc"}
	caller := entity.CallerContext{CallerID: "user-7"}

	assert.Equal(t, "target:abc", StickyKey(entity.RolloutConfig{}, target, caller))
	assert.Equal(t, "caller:user-7", StickyKey(entity.RolloutConfig{StickyBy: entity.StickyByCaller}, target, caller))
	assert.Equal(t, "target:abc", StickyKey(entity.RolloutConfig{StickyBy: entity.StickyByCaller}, target, entity.CallerContext{}))
}

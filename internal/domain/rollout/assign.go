// Package rollout decides which scan path serves a request.
package rollout

import (
	"github.com/cespare/xxhash/v2"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// buckets gives 0.01% resolution on the rollout percentage
const buckets = 10000

// Decision is the path selection for one request
type Decision struct {
	Primary entity.ScanPath `json:"primary"`
	// Shadow is set only in shadow mode and names the path run in the background
	Shadow entity.ScanPath `json:"shadow,omitempty"`
	Bucket uint64          `json:"bucket"`
}

// HasShadow reports whether a shadow run is scheduled
func (d Decision) HasShadow() bool {
	return d.Shadow != ""
}

// Bucket maps a key to a stable bucket in [0, buckets)
func Bucket(salt, key string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(salt)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(key)
	return h.Sum64() % buckets
}

// Assign selects the path for a key. A key lands on V2 when its bucket is
// below the rollout percentage, so raising the percentage only ever moves
// keys from V1 to V2.
func Assign(cfg entity.RolloutConfig, key string) Decision {
	b := Bucket(cfg.Salt, key)
	threshold := uint64(clampPercentage(cfg.Percentage) * buckets / 100)

	d := Decision{Primary: entity.PathV1, Bucket: b}
	if b < threshold {
		d.Primary = entity.PathV2
	}
	if cfg.Shadow {
		d.Shadow = d.Primary.Other()
	}
	return d
}

// StickyKey derives the assignment key for a request
func StickyKey(cfg entity.RolloutConfig, target entity.ScanTarget, caller entity.CallerContext) string {
	if cfg.StickyBy == entity.StickyByCaller && caller.CallerID != "" {
		return "caller:" + caller.CallerID
	}
	return "target:" + target.ID
}

func clampPercentage(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// Package rolloutcfg provides versioned, immutable ConfigSnapshots. A scan
// reads one snapshot and keeps it for its whole lifetime.
package rolloutcfg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// ErrInvalidSnapshot marks a snapshot rejected by Validate
var ErrInvalidSnapshot = errors.New("invalid rollout snapshot")

// Provider yields the current snapshot. A returned snapshot must never be
// mutated.
type Provider interface {
	Snapshot(ctx context.Context) (*entity.ConfigSnapshot, error)
}

// StaticProvider serves a snapshot set in code or from environment config
type StaticProvider struct {
	current atomic.Pointer[entity.ConfigSnapshot]
}

// NewStaticProvider creates a provider holding snap. A nil snap makes every
// read fail with ErrConfigUnavailable.
func NewStaticProvider(snap *entity.ConfigSnapshot) *StaticProvider {
	p := &StaticProvider{}
	if snap != nil {
		normalized := Normalize(*snap)
		p.current.Store(&normalized)
	}
	return p
}

// Snapshot returns the current snapshot
func (p *StaticProvider) Snapshot(ctx context.Context) (*entity.ConfigSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := p.current.Load()
	if snap == nil {
		return nil, fmt.Errorf("%w: no snapshot loaded", entity.ErrConfigUnavailable)
	}
	return snap, nil
}

// Set publishes a new snapshot. The version is bumped past the previous one
// so assignments keyed on version never collide.
func (p *StaticProvider) Set(snap entity.ConfigSnapshot) (*entity.ConfigSnapshot, error) {
	if err := Validate(snap); err != nil {
		return nil, err
	}
	next := Normalize(snap)
	for {
		prev := p.current.Load()
		if prev != nil && next.Version <= prev.Version {
			next.Version = prev.Version + 1
		}
		if p.current.CompareAndSwap(prev, &next) {
			return &next, nil
		}
	}
}

// Normalize fills missing per-path decision configs with defaults and returns
// a deep copy safe to publish.
func Normalize(snap entity.ConfigSnapshot) entity.ConfigSnapshot {
	out := snap
	if out.Version <= 0 {
		out.Version = 1
	}
	if out.Rollout.StickyBy == "" {
		out.Rollout.StickyBy = entity.StickyByTarget
	}
	out.Decision = make(map[entity.ScanPath]entity.DecisionConfig, 2)
	for _, path := range []entity.ScanPath{entity.PathV1, entity.PathV2} {
		if dc, ok := snap.Decision[path]; ok {
			if dc.Thresholds == (entity.Thresholds{}) {
				dc.Thresholds = entity.DefaultDecisionConfig().Thresholds
			}
			out.Decision[path] = dc
		} else {
			out.Decision[path] = entity.DefaultDecisionConfig()
		}
	}
	return out
}

// Validate rejects snapshots no scan could run with
func Validate(snap entity.ConfigSnapshot) error {
	if err := validate(snap); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return nil
}

func validate(snap entity.ConfigSnapshot) error {
	r := snap.Rollout
	if math.IsNaN(r.Percentage) || r.Percentage < 0 || r.Percentage > 100 {
		return fmt.Errorf("rollout percentage %v outside [0, 100]", r.Percentage)
	}
	switch r.StickyBy {
	case "", entity.StickyByTarget, entity.StickyByCaller:
	default:
		return fmt.Errorf("unknown sticky_by %q", r.StickyBy)
	}

	for path, dc := range snap.Decision {
		if path != entity.PathV1 && path != entity.PathV2 {
			return fmt.Errorf("unknown path %q", path)
		}
		th := dc.Thresholds
		if math.IsNaN(th.Suspicious) || math.IsNaN(th.Malicious) || th.Suspicious < 0 || th.Malicious > 1 || th.Suspicious > th.Malicious {
			return fmt.Errorf("%s: thresholds must satisfy 0 <= suspicious <= malicious <= 1", path)
		}
		b := dc.Blend
		if math.IsNaN(b.Intel) || math.IsNaN(b.Model) || b.Intel < 0 || b.Model < 0 || b.Intel+b.Model == 0 {
			return fmt.Errorf("%s: blend weights must be non-negative and not both zero", path)
		}
		for name, f := range map[string]float64{
			"insufficient_factor": b.InsufficientFactor,
			"fallback_factor":     b.FallbackFactor,
			"heuristic_factor":    b.HeuristicFactor,
			"prior":               b.Prior,
		} {
			if math.IsNaN(f) || f < 0 || f > 1 {
				return fmt.Errorf("%s: %s %v outside [0, 1]", path, name, f)
			}
		}
	}
	return nil
}

// Package budget tracks the latency budget of a single scan.
package budget

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config holds the scan latency budget
type Config struct {
	// Stage1 bounds the intelligence fan-out, measured from scan start
	Stage1 time.Duration
	// Total bounds Stage 1 plus Stage 2, measured from scan start
	Total time.Duration
	// Stage2MinViable is the least time the fastest backend needs
	Stage2MinViable time.Duration
}

// DefaultConfig returns the default budget
func DefaultConfig() Config {
	return Config{
		Stage1:          300 * time.Millisecond,
		Total:           800 * time.Millisecond,
		Stage2MinViable: 50 * time.Millisecond,
	}
}

// Enforcer tracks wall-clock time since scan start against the stage checkpoints.
// One Enforcer per scan; it is not shared.
type Enforcer struct {
	cfg   Config
	clock clockwork.Clock
	start time.Time
}

// Start begins tracking a scan
func Start(cfg Config, clock clockwork.Clock) *Enforcer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Total <= 0 {
		cfg.Total = DefaultConfig().Total
	}
	if cfg.Stage1 <= 0 || cfg.Stage1 > cfg.Total {
		cfg.Stage1 = cfg.Total
	}
	return &Enforcer{cfg: cfg, clock: clock, start: clock.Now()}
}

// Clock returns the clock the enforcer measures with
func (e *Enforcer) Clock() clockwork.Clock {
	return e.clock
}

// StartedAt returns the scan start time
func (e *Enforcer) StartedAt() time.Time {
	return e.start
}

// Elapsed returns time since scan start
func (e *Enforcer) Elapsed() time.Duration {
	return e.clock.Since(e.start)
}

// Remaining returns the time left before the total budget ends
func (e *Enforcer) Remaining() time.Duration {
	left := e.cfg.Total - e.Elapsed()
	if left < 0 {
		return 0
	}
	return left
}

// Stage1Remaining returns the time left in the Stage-1 checkpoint
func (e *Enforcer) Stage1Remaining() time.Duration {
	left := e.cfg.Stage1 - e.Elapsed()
	if left < 0 {
		return 0
	}
	return left
}

// CanStartStage2 is the hard pre-check: Stage 2 starts only when the
// remaining budget covers the minimum viable time of the fastest backend.
func (e *Enforcer) CanStartStage2() bool {
	left := e.Remaining()
	return left > 0 && left >= e.cfg.Stage2MinViable
}

// Stage1Context derives a context bounded by the Stage-1 checkpoint
func (e *Enforcer) Stage1Context(ctx context.Context) (context.Context, context.CancelFunc) {
	return e.withBudget(ctx, e.Stage1Remaining())
}

// Stage2Context derives a context bounded by the cumulative budget
func (e *Enforcer) Stage2Context(ctx context.Context) (context.Context, context.CancelFunc) {
	return e.withBudget(ctx, e.Remaining())
}

func (e *Enforcer) withBudget(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		return ctx, cancel
	}
	return context.WithTimeout(ctx, d)
}

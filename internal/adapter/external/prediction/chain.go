package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/metrics"
)

// ChainOptions tune a Chain
type ChainOptions struct {
	// Label tags metrics and logs, usually the scan path
	Label           string
	BreakerFailures int
	BreakerCooldown time.Duration
	Clock           clockwork.Clock
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Attempt records one backend in the chain
type Attempt struct {
	Backend string        `json:"backend"`
	Skipped bool          `json:"skipped,omitempty"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Outcome is the result of walking the chain. Prediction is never nil.
type Outcome struct {
	Prediction *entity.ModelPrediction
	// Exhausted is set when the heuristic had to answer
	Exhausted bool
	Attempts  []Attempt
}

// Err returns ErrBackendsExhausted when no backend answered
func (o Outcome) Err() error {
	if o.Exhausted {
		return entity.ErrBackendsExhausted
	}
	return nil
}

type link struct {
	backend Backend
	breaker *CircuitBreaker
}

// Chain tries backends strictly in order and stops at the first answer.
// FallbackLevel is the index of the backend that answered; the heuristic
// answers at len(backends).
type Chain struct {
	links     []link
	heuristic *Heuristic
	label     string
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewChain creates a chain ending in heuristic
func NewChain(backends []Backend, heuristic *Heuristic, opts ChainOptions) *Chain {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if heuristic == nil {
		heuristic = NewHeuristic("heuristic", "v1", LegacyRules(), 0.25)
	}

	links := make([]link, 0, len(backends))
	for _, b := range backends {
		links = append(links, link{
			backend: b,
			breaker: NewCircuitBreaker(opts.BreakerFailures, opts.BreakerCooldown, opts.Clock),
		})
	}

	return &Chain{
		links:     links,
		heuristic: heuristic,
		label:     opts.Label,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Backends returns the backend names in order, heuristic last
func (c *Chain) Backends() []string {
	names := make([]string, 0, len(c.links)+1)
	for _, l := range c.links {
		names = append(names, l.backend.Name())
	}
	return append(names, c.heuristic.Name())
}

// BreakerStates returns the breaker state per backend
func (c *Chain) BreakerStates() map[string]string {
	out := make(map[string]string, len(c.links))
	for _, l := range c.links {
		out[l.backend.Name()] = l.breaker.State().String()
	}
	return out
}

// Heuristic returns the terminal backend
func (c *Chain) Heuristic() *Heuristic {
	return c.heuristic
}

// Predict walks the chain. Backend k+1 is called only after backend k failed,
// timed out or was skipped by its breaker. If ctx ends first the remaining
// backends are abandoned and the heuristic answers.
func (c *Chain) Predict(ctx context.Context, vector entity.FeatureVector) Outcome {
	var out Outcome

	for level, l := range c.links {
		if ctx.Err() != nil {
			break
		}
		name := l.backend.Name()

		if !l.breaker.Allow() {
			out.Attempts = append(out.Attempts, Attempt{Backend: name, Skipped: true, Error: entity.ErrCircuitOpen.Error()})
			c.metrics.ObserveBackend(name, "circuit_open")
			continue
		}

		start := c.clock.Now()
		pred, err := c.call(ctx, l.backend, vector)
		attempt := Attempt{Backend: name, Latency: c.clock.Since(start)}

		if err == nil {
			l.breaker.RecordSuccess()
			out.Attempts = append(out.Attempts, attempt)
			c.metrics.ObserveBackend(name, "ok")
			c.metrics.ObserveFallback(c.label, level)

			pred.FallbackLevel = level
			out.Prediction = pred
			return out
		}

		attempt.Error = err.Error()
		out.Attempts = append(out.Attempts, attempt)

		if ctx.Err() != nil {
			// the caller gave up; not the backend's fault
			l.breaker.Release()
			c.metrics.ObserveBackend(name, "cancelled")
			break
		}

		l.breaker.RecordFailure()
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		c.metrics.ObserveBackend(name, outcome)
		c.logger.Warn("Prediction backend failed, falling back",
			"chain", c.label,
			"backend", name,
			"level", level,
			"error", err,
		)
	}

	pred := c.heuristic.Score(vector)
	pred.FallbackLevel = len(c.links)
	out.Prediction = pred
	out.Exhausted = true
	out.Attempts = append(out.Attempts, Attempt{Backend: c.heuristic.Name()})

	c.metrics.ObserveBackend(c.heuristic.Name(), "ok")
	c.metrics.ObserveFallback(c.label, pred.FallbackLevel)
	if len(c.links) > 0 {
		c.logger.Warn("Prediction backends exhausted, heuristic answered",
			"chain", c.label,
			"attempts", len(out.Attempts)-1,
		)
	}
	return out
}

func (c *Chain) call(ctx context.Context, b Backend, vector entity.FeatureVector) (*entity.ModelPrediction, error) {
	callCtx := ctx
	if t := b.Timeout(); t > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	pred, err := b.Predict(callCtx, vector)
	if err != nil {
		if callCtx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: %v", callCtx.Err(), err)
		}
		return nil, err
	}
	if pred == nil {
		return nil, fmt.Errorf("%w: %s returned no prediction", entity.ErrBackendUnavailable, b.Name())
	}
	return pred, nil
}

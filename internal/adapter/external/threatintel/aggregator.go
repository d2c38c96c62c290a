package threatintel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/domain/scoring"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/metrics"
)

// AggregatorConfig holds configuration for the aggregator
type AggregatorConfig struct {
	// MinResponseFraction below which the aggregate is marked degraded
	MinResponseFraction float64
	// MaxUnavailableFraction above which Stage 1 is insufficient
	MaxUnavailableFraction float64
	// MaxConcurrency caps in-flight source calls per scan
	MaxConcurrency int
	// DefaultTimeout applies to sources configured without one
	DefaultTimeout time.Duration
	Tiers          scoring.TierWeights
	Freshness      scoring.Decay
}

// DefaultAggregatorConfig returns the default aggregator settings
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		MinResponseFraction:    0.8,
		MaxUnavailableFraction: 0.5,
		MaxConcurrency:         8,
		DefaultTimeout:         250 * time.Millisecond,
		Tiers:                  scoring.DefaultTierWeights(),
		Freshness:              scoring.DefaultDecay(),
	}
}

// Aggregator fans a target out to every enabled source and votes by tier
type Aggregator struct {
	registry *Registry
	cfg      AggregatorConfig
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewAggregator creates a new threat intel aggregator
func NewAggregator(registry *Registry, cfg AggregatorConfig, clock clockwork.Clock, logger *slog.Logger, m *metrics.Metrics) *Aggregator {
	def := DefaultAggregatorConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = def.Tiers
	}
	if cfg.Freshness.HalfLife == 0 && cfg.Freshness.Boost == 0 {
		cfg.Freshness = def.Freshness
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Aggregator{
		registry: registry,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		metrics:  m,
	}
}

// Tiers returns the tier weights the aggregator votes with
func (a *Aggregator) Tiers() scoring.TierWeights {
	return a.cfg.Tiers
}

// Sources returns the currently enabled source configurations
func (a *Aggregator) Sources() []entity.ThreatIntelSource {
	return a.registry.Enabled()
}

// Collect queries every enabled source concurrently. Each call is bounded by
// the source timeout and by ctx, so the caller's Stage-1 deadline caps all of
// them. A source failure never fails the collection: it becomes an
// unsuccessful signal. The returned error is ErrInsufficientSignal when too
// many sources were unavailable; the aggregate is still usable.
func (a *Aggregator) Collect(ctx context.Context, target entity.ScanTarget, sources []entity.ThreatIntelSource) (*entity.IntelAggregate, error) {
	enabled := make([]entity.ThreatIntelSource, 0, len(sources))
	for _, s := range sources {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}

	signals := make([]entity.ThreatSignal, len(enabled))
	var g errgroup.Group
	g.SetLimit(a.cfg.MaxConcurrency)

	for i, src := range enabled {
		g.Go(func() error {
			signals[i] = a.query(ctx, target, src)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(signals, func(i, j int) bool {
		return signals[i].SourceID < signals[j].SourceID
	})

	votes := make([]scoring.TierVote, len(signals))
	for i, s := range signals {
		votes[i] = scoring.TierVote{SourceID: s.SourceID, Tier: s.Tier, Score: s.Score, Success: s.Success}
	}
	tally := scoring.AggregateTiers(votes, a.cfg.Tiers)

	agg := &entity.IntelAggregate{
		Score:     tally.Score,
		Coverage:  tally.Coverage,
		Responded: tally.Responded,
		Total:     tally.Total,
		Signals:   signals,
	}

	unavailable := 1.0
	if tally.Total > 0 {
		unavailable = float64(tally.Total-tally.Responded) / float64(tally.Total)
	}
	agg.Degraded = tally.ResponseFraction() < a.cfg.MinResponseFraction
	agg.Insufficient = tally.Responded == 0 || unavailable > a.cfg.MaxUnavailableFraction

	if agg.Degraded {
		a.logger.Debug("Stage 1 degraded",
			"target", target.ID,
			"responded", agg.Responded,
			"total", agg.Total,
			"coverage", agg.Coverage)
	}
	if agg.Insufficient {
		return agg, fmt.Errorf("%w: %d of %d sources responded", entity.ErrInsufficientSignal, agg.Responded, agg.Total)
	}
	return agg, nil
}

// query performs one bounded lookup and converts the outcome into a signal
func (a *Aggregator) query(ctx context.Context, target entity.ScanTarget, src entity.ThreatIntelSource) entity.ThreatSignal {
	signal := entity.ThreatSignal{
		SourceID: src.ID,
		Tier:     src.Tier,
		Verdict:  entity.VerdictUnknown,
	}

	client, ok := a.registry.Client(src.ID)
	if !ok {
		signal.Error = fmt.Sprintf("%v: no client registered", entity.ErrSourceUnavailable)
		a.metrics.ObserveSource(src.ID, "unregistered", 0)
		return signal
	}

	timeout := src.Timeout
	if timeout <= 0 {
		timeout = a.cfg.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := a.clock.Now()
	report, err := client.Lookup(callCtx, target)
	signal.Latency = a.clock.Since(start)

	if err == nil && report == nil {
		err = errors.New("empty report")
	}
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
		}
		signal.Error = fmt.Errorf("%w: %v", entity.ErrSourceUnavailable, err).Error()
		a.metrics.ObserveSource(src.ID, outcome, signal.Latency)
		a.logger.Debug("Threat intel source failed",
			"source", src.ID,
			"tier", src.Tier,
			"target", target.ID,
			"outcome", outcome,
			"error", err)
		return signal
	}

	score := clamp01(report.Score)
	if !report.LastSeen.IsZero() {
		score = a.cfg.Freshness.Apply(score, report.LastSeen, a.clock.Now())
	}

	signal.Success = true
	signal.Score = score
	signal.RawScore = report.RawScore
	signal.LastSeen = report.LastSeen
	signal.Tags = report.Tags
	signal.Verdict = report.Verdict
	if signal.Verdict == "" {
		signal.Verdict = entity.VerdictFromScore(score, true)
	}

	a.metrics.ObserveSource(src.ID, "ok", signal.Latency)
	return signal
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

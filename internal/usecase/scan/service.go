// Package scan drives one scan request through path selection, Stage 1,
// Stage 2 and fusion, and schedules the shadow comparison.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/adapter/external/rolloutcfg"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/domain/budget"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/domain/fusion"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/domain/rollout"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/domain/target"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/metrics"
)

// TracerName names the scan tracer
const TracerName = "urlverdict/scan"

// Config holds orchestrator settings
type Config struct {
	Budget        budget.Config
	ShadowTimeout time.Duration
}

// Deps are the collaborators of a Service
type Deps struct {
	Rollout   rolloutcfg.Provider
	Intel     IntelCollector
	Features  FeatureSource
	Pipelines []Pipeline
	Fusion    *fusion.Engine
	Sink      ResultSink
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
}

// Service is the scan orchestrator. It is safe for concurrent use; nothing
// it holds is mutated by a scan.
type Service struct {
	cfg       Config
	rollout   rolloutcfg.Provider
	intel     IntelCollector
	features  FeatureSource
	pipelines map[entity.ScanPath]Pipeline
	fusion    *fusion.Engine
	sink      ResultSink
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	shadows sync.WaitGroup
}

// NewService creates a scan service. Both paths need a pipeline.
func NewService(cfg Config, deps Deps) (*Service, error) {
	pipelines := make(map[entity.ScanPath]Pipeline, len(deps.Pipelines))
	for _, p := range deps.Pipelines {
		if p.Extractor == nil || p.Chain == nil {
			return nil, fmt.Errorf("pipeline %s: extractor and chain are required", p.Path)
		}
		pipelines[p.Path] = p
	}
	for _, path := range []entity.ScanPath{entity.PathV1, entity.PathV2} {
		if _, ok := pipelines[path]; !ok {
			return nil, fmt.Errorf("missing pipeline for path %s", path)
		}
	}
	if deps.Rollout == nil || deps.Intel == nil || deps.Features == nil {
		return nil, errors.New("rollout provider, intel collector and feature source are required")
	}

	if cfg.ShadowTimeout <= 0 {
		cfg.ShadowTimeout = 2 * time.Second
	}
	if deps.Fusion == nil {
		deps.Fusion = fusion.NewEngine(nil)
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(TracerName)
	}

	return &Service{
		cfg:       cfg,
		rollout:   deps.Rollout,
		intel:     deps.Intel,
		features:  deps.Features,
		pipelines: pipelines,
		fusion:    deps.Fusion,
		sink:      deps.Sink,
		clock:     deps.Clock,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
	}, nil
}

// ScanURL normalizes raw and scans it
func (s *Service) ScanURL(ctx context.Context, raw string, caller entity.CallerContext) (*entity.ScanResult, error) {
	t, err := target.Normalize(raw)
	if err != nil {
		return nil, err
	}
	return s.Scan(ctx, t, caller)
}

// Scan decides one target. It fails only when the target is invalid, the
// rollout config is unavailable or ctx ends; every other failure is reported
// as degraded flags on the result.
func (s *Service) Scan(ctx context.Context, t entity.ScanTarget, caller entity.CallerContext) (*entity.ScanResult, error) {
	if t.ID == "" || t.URL == "" {
		return nil, fmt.Errorf("%w: target has no identity", entity.ErrInvalidTarget)
	}

	// one snapshot for the whole scan, shadow run included
	snap, err := s.rollout.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, entity.ErrConfigUnavailable) {
			err = fmt.Errorf("%w: %v", entity.ErrConfigUnavailable, err)
		}
		return nil, err
	}

	requestID := caller.RequestID
	if requestID == "" {
		requestID = derivedRequestID(t, snap.Version, caller)
	}
	decision := rollout.Assign(snap.Rollout, rollout.StickyKey(snap.Rollout, t, caller))

	ctx, span := s.tracer.Start(ctx, "scan",
		trace.WithAttributes(
			attribute.String("scan.request_id", requestID),
			attribute.String("scan.target_id", t.ID),
			attribute.String("scan.path", string(decision.Primary)),
			attribute.Int64("rollout.config_version", snap.Version),
			attribute.Bool("rollout.shadow", decision.HasShadow()),
		),
	)
	defer span.End()

	enforcer := budget.Start(s.cfg.Budget, s.clock)
	result, err := s.run(ctx, run{
		requestID: requestID,
		target:    t,
		snap:      snap,
		path:      decision.Primary,
		enforcer:  enforcer,
	})
	if err != nil {
		// cancelled: nothing is persisted and no shadow is scheduled
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("scan.verdict", string(result.Verdict)),
		attribute.Float64("scan.probability", result.Probability),
		attribute.Bool("scan.degraded", result.Degraded),
	)

	if s.sink != nil {
		s.sink.SubmitResult(result)
	}
	if decision.HasShadow() {
		s.scheduleShadow(ctx, snap, decision.Shadow, t, result)
	}

	s.logger.Debug("Scan completed",
		"request_id", requestID,
		"target", t.ID,
		"path", result.Path,
		"verdict", result.Verdict,
		"probability", result.Probability,
		"degraded", result.Degraded,
		"latency", result.Latency,
	)
	return result, nil
}

// derivedRequestID names a request the caller left anonymous. It depends only
// on the target, the config version and the caller, so a repeated scan keeps
// the same id.
func derivedRequestID(t entity.ScanTarget, version int64, caller entity.CallerContext) string {
	name := t.ID + "|" + strconv.FormatInt(version, 10) + "|" + caller.CallerID
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// run describes one execution of a path
type run struct {
	requestID string
	target    entity.ScanTarget
	snap      *entity.ConfigSnapshot
	path      entity.ScanPath
	enforcer  *budget.Enforcer
	// intel, when set, is reused instead of running Stage 1 again
	intel *entity.IntelAggregate
}

// run walks the state machine for one path. The only error is ctx ending.
func (s *Service) run(ctx context.Context, r run) (*entity.ScanResult, error) {
	pipeline := s.pipelines[r.path]
	label := string(r.path)
	states := []entity.ScanState{entity.StateReceived}
	var flags entity.DegradedFlags

	// Stage 1
	states = append(states, entity.StateStage1Running)
	agg := r.intel
	if agg == nil {
		var err error
		agg, err = s.stage1(ctx, r)
		if err != nil {
			return nil, err
		}
	}
	flags.Stage1Degraded = agg.Degraded
	flags.Stage1Insufficient = agg.Insufficient
	states = append(states, entity.StateStage1Done)

	// Stage 2
	var pred *entity.ModelPrediction
	if !r.enforcer.CanStartStage2() {
		flags.Stage2Skipped = true
		states = append(states, entity.StateStage2Skipped)
		err := fmt.Errorf("%w: %s left before stage 2", entity.ErrBudgetExceeded, r.enforcer.Remaining())
		trace.SpanFromContext(ctx).RecordError(err)
		s.logger.Info("Stage 2 skipped",
			"request_id", r.requestID,
			"path", label,
			"elapsed", r.enforcer.Elapsed(),
			"error", err,
		)
	} else {
		states = append(states, entity.StateStage2Running)
		var cacheDegraded, skipped bool
		var err error
		pred, cacheDegraded, skipped, err = s.stage2(ctx, r, pipeline)
		if err != nil {
			return nil, err
		}
		flags.CacheDegraded = cacheDegraded
		if skipped {
			flags.Stage2Skipped = true
			states = append(states, entity.StateStage2Skipped)
		} else {
			flags.ModelFallback = pred.Heuristic || pred.FallbackLevel > 0
			states = append(states, entity.StateStage2Done)
		}
	}

	// Fusion
	_, span := s.tracer.Start(ctx, "fusion")
	out := s.fusion.Fuse(fusion.Input{
		Intel:      agg,
		Prediction: pred,
		Config:     r.snap.DecisionFor(r.path),
	})
	span.SetAttributes(attribute.Float64("fusion.probability", out.Probability))
	span.End()
	flags.LowConfidence = out.LowConfidence
	states = append(states, entity.StateFused, entity.StateCompleted)

	result := &entity.ScanResult{
		RequestID:     r.requestID,
		TargetID:      r.target.ID,
		URL:           r.target.URL,
		Path:          r.path,
		ConfigVersion: r.snap.Version,
		Verdict:       out.Verdict,
		Probability:   out.Probability,
		Interval:      out.Interval,
		Graph:         out.Graph,
		Intel:         agg,
		Prediction:    pred,
		Degraded:      flags.Any(),
		Flags:         flags,
		States:        states,
		Latency:       r.enforcer.Elapsed(),
	}

	s.observe(result)
	return result, nil
}

func (s *Service) stage1(ctx context.Context, r run) (*entity.IntelAggregate, error) {
	start := s.clock.Now()
	stageCtx, cancel := r.enforcer.Stage1Context(ctx)
	stageCtx, span := s.tracer.Start(stageCtx, "stage1")
	defer span.End()

	agg, err := s.intel.Collect(stageCtx, r.target, s.intel.Sources())
	cancel()
	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "cancelled")
		return nil, ctx.Err()
	}
	if agg == nil {
		agg = &entity.IntelAggregate{Insufficient: true, Degraded: true}
	}
	if err != nil {
		// insufficient signal: Stage 2 proceeds with a lowered prior
		span.RecordError(err)
		s.logger.Warn("Stage 1 insufficient",
			"request_id", r.requestID,
			"path", r.path,
			"responded", agg.Responded,
			"total", agg.Total,
		)
	}

	span.SetAttributes(
		attribute.Int("intel.responded", agg.Responded),
		attribute.Int("intel.total", agg.Total),
		attribute.Float64("intel.coverage", agg.Coverage),
		attribute.Bool("intel.degraded", agg.Degraded),
	)
	s.metrics.ObserveStage(string(r.path), "stage1", s.clock.Since(start))
	return agg, nil
}

// stage2 returns skipped when no feature vector could be built
func (s *Service) stage2(ctx context.Context, r run, p Pipeline) (pred *entity.ModelPrediction, cacheDegraded, skipped bool, err error) {
	start := s.clock.Now()
	stageCtx, cancel := r.enforcer.Stage2Context(ctx)
	defer cancel()
	stageCtx, span := s.tracer.Start(stageCtx, "stage2")
	defer span.End()

	vector, cacheDegraded, ferr := s.features.GetOrCompute(stageCtx, r.target, p.Extractor)
	if ctx.Err() != nil {
		return nil, false, false, ctx.Err()
	}
	if ferr != nil {
		span.RecordError(ferr)
		s.logger.Warn("Feature extraction failed, skipping Stage 2",
			"request_id", r.requestID,
			"path", r.path,
			"error", ferr,
		)
		return nil, cacheDegraded, true, nil
	}

	outcome := p.Chain.Predict(stageCtx, vector)
	if ctx.Err() != nil {
		return nil, false, false, ctx.Err()
	}

	span.SetAttributes(
		attribute.String("model.id", outcome.Prediction.ModelID),
		attribute.Int("model.fallback_level", outcome.Prediction.FallbackLevel),
		attribute.Bool("model.exhausted", outcome.Exhausted),
		attribute.Bool("cache.degraded", cacheDegraded),
	)
	if outcome.Exhausted {
		span.RecordError(outcome.Err())
	}
	s.metrics.ObserveStage(string(r.path), "stage2", s.clock.Since(start))
	return outcome.Prediction, cacheDegraded, false, nil
}

func (s *Service) observe(r *entity.ScanResult) {
	path := string(r.Path)
	s.metrics.ObserveScan(path, string(r.Verdict), r.Latency)
	for flag, on := range map[string]bool{
		"stage1_degraded":     r.Flags.Stage1Degraded,
		"stage1_insufficient": r.Flags.Stage1Insufficient,
		"stage2_skipped":      r.Flags.Stage2Skipped,
		"cache_degraded":      r.Flags.CacheDegraded,
		"model_fallback":      r.Flags.ModelFallback,
		"low_confidence":      r.Flags.LowConfidence,
	} {
		if on {
			s.metrics.ObserveDegraded(path, flag)
		}
	}
}

// Wait blocks until background shadow runs finish or ctx ends
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.shadows.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package scan

import (
	"context"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/domain/budget"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// scheduleShadow runs the other path in the background with the same
// snapshot and the primary's Stage-1 aggregate, then pairs both results.
// It never blocks the caller and survives the request context.
func (s *Service) scheduleShadow(parent context.Context, snap *entity.ConfigSnapshot, path entity.ScanPath, t entity.ScanTarget, primary *entity.ScanResult) {
	s.shadows.Add(1)
	go func() {
		defer s.shadows.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.ShadowTimeout)
		defer cancel()

		shadow, err := s.run(ctx, run{
			requestID: primary.RequestID,
			target:    t,
			snap:      snap,
			path:      path,
			enforcer:  budget.Start(s.cfg.Budget, s.clock),
			intel:     primary.Intel,
		})
		if err != nil {
			s.logger.Warn("Shadow run abandoned", "request_id", primary.RequestID, "path", path, "error", err)
			return
		}

		rec := Compare(primary, shadow, s.clock.Now())
		s.metrics.ObserveShadow(string(primary.Path), rec.Agreement)
		if s.sink != nil {
			s.sink.SubmitShadow(rec)
		}
	}()
}

// Compare pairs a primary and a shadow result for the same request. Agreement
// is verdict equality; the delta is V2 minus V1 probability.
func Compare(primary, shadow *entity.ScanResult, at time.Time) *entity.ShadowComparisonRecord {
	rec := &entity.ShadowComparisonRecord{
		RequestID:     primary.RequestID,
		TargetID:      primary.TargetID,
		ConfigVersion: primary.ConfigVersion,
		Primary:       primary.Path,
		RecordedAt:    at,
	}
	if primary.Path == entity.PathV1 {
		rec.V1, rec.V2 = primary, shadow
	} else {
		rec.V1, rec.V2 = shadow, primary
	}
	rec.Agreement = rec.V1.Verdict == rec.V2.Verdict
	rec.ProbabilityDelta = rec.V2.Probability - rec.V1.Probability
	return rec
}

package scan

import (
	"context"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/adapter/external/prediction"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/domain/features"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// IntelCollector runs Stage 1
type IntelCollector interface {
	Collect(ctx context.Context, target entity.ScanTarget, sources []entity.ThreatIntelSource) (*entity.IntelAggregate, error)
	Sources() []entity.ThreatIntelSource
}

// FeatureSource serves feature vectors, computing them on a miss. The bool
// reports that the cache was bypassed.
type FeatureSource interface {
	GetOrCompute(ctx context.Context, target entity.ScanTarget, extractor features.Extractor) (entity.FeatureVector, bool, error)
}

// Predictor runs the prediction chain. It never fails.
type Predictor interface {
	Predict(ctx context.Context, vector entity.FeatureVector) prediction.Outcome
}

// ResultSink takes completed results and comparisons without blocking
type ResultSink interface {
	SubmitResult(r *entity.ScanResult) bool
	SubmitShadow(rec *entity.ShadowComparisonRecord) bool
}

// Pipeline is what makes a scan path distinct: its feature schema and its
// prediction chain. Decision thresholds and blend weights come from the
// config snapshot per path.
type Pipeline struct {
	Path      entity.ScanPath
	Extractor features.Extractor
	Chain     Predictor
}

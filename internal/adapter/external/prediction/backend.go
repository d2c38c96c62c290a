// Package prediction holds the ordered chain of scoring backends that turn a
// feature vector into a malicious probability.
package prediction

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// Backend scores a feature vector. Implementations must honor ctx.
type Backend interface {
	Name() string
	// Timeout bounds one Predict call
	Timeout() time.Duration
	Predict(ctx context.Context, vector entity.FeatureVector) (*entity.ModelPrediction, error)
}

// rawPrediction is what a remote backend answers before validation
type rawPrediction struct {
	Probability  float64
	Lower        *float64
	Upper        *float64
	ModelID      string
	ModelVersion string
}

// toPrediction validates a backend answer. A missing interval is filled with
// the calibrated half width around the probability.
func (r rawPrediction) toPrediction(defaultModel string, halfWidth float64) (*entity.ModelPrediction, error) {
	p := r.Probability
	if math.IsNaN(p) || p < 0 || p > 1 {
		return nil, fmt.Errorf("%w: probability %v out of range", entity.ErrBackendUnavailable, p)
	}

	interval := ConformalInterval(p, halfWidth)
	if r.Lower != nil && r.Upper != nil {
		lo, hi := *r.Lower, *r.Upper
		if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
			return nil, fmt.Errorf("%w: invalid interval [%v, %v]", entity.ErrBackendUnavailable, lo, hi)
		}
		interval = entity.ConfidenceInterval{
			Lower: clamp01(math.Min(lo, p)),
			Upper: clamp01(math.Max(hi, p)),
		}
	}

	modelID := r.ModelID
	if modelID == "" {
		modelID = defaultModel
	}

	return &entity.ModelPrediction{
		Probability:  p,
		Interval:     interval,
		ModelID:      modelID,
		ModelVersion: r.ModelVersion,
	}, nil
}

// ConformalInterval returns p ± halfWidth clamped to [0, 1]. halfWidth is the
// calibration quantile of |p - y| at the chosen coverage level.
func ConformalInterval(p, halfWidth float64) entity.ConfidenceInterval {
	if halfWidth < 0 {
		halfWidth = 0
	}
	return entity.ConfidenceInterval{
		Lower: clamp01(p - halfWidth),
		Upper: clamp01(p + halfWidth),
	}
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

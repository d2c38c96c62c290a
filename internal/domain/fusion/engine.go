// Package fusion blends the Stage-1 intelligence aggregate and the Stage-2
// model prediction into a verdict with an explainable decision graph.
package fusion

import (
	"math"
	"sort"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/domain/scoring"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

const (
	// Formula identifies the blend implemented by Engine
	Formula = "tier_weighted_linear_v1"
	// NormalizationTotal is the sum of decision graph weights
	NormalizationTotal = 1.0

	// coverageSpread widens the interval by this share of the missing intel weight
	coverageSpread = 0.5
)

// Input is everything fusion depends on. Equal inputs give equal outputs.
type Input struct {
	Intel      *entity.IntelAggregate
	Prediction *entity.ModelPrediction // nil when Stage 2 was skipped
	Config     entity.DecisionConfig
}

// Output is the fused decision
type Output struct {
	Verdict       entity.Verdict
	Probability   float64
	Interval      entity.ConfidenceInterval
	Graph         entity.DecisionGraph
	LowConfidence bool
}

// Engine fuses signals. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	tiers scoring.TierWeights
}

// NewEngine creates a fusion engine using the given tier weights
func NewEngine(tiers scoring.TierWeights) *Engine {
	if len(tiers) == 0 {
		tiers = scoring.DefaultTierWeights()
	}
	return &Engine{tiers: tiers}
}

// Fuse combines the Stage-1 and Stage-2 outputs.
//
// The intel share starts at Blend.Intel scaled by tier coverage (and by
// InsufficientFactor when Stage 1 was insufficient); the model share starts at
// Blend.Model scaled by FallbackFactor per fallback level, or by
// HeuristicFactor when the rule-based fallback answered. The two shares are
// then renormalized to NormalizationTotal and split across graph nodes.
func (e *Engine) Fuse(in Input) Output {
	blend := in.Config.Blend
	intelSignals := sortedSuccessful(in.Intel)

	intelRaw := 0.0
	respondedWeight, coverage := e.coverage(in.Intel)
	if len(intelSignals) > 0 {
		intelRaw = nonNegative(blend.Intel) * coverage
		if in.Intel.Insufficient {
			intelRaw *= nonNegative(blend.InsufficientFactor)
		}
	}

	modelRaw := 0.0
	if in.Prediction != nil {
		modelRaw = nonNegative(blend.Model)
		if in.Prediction.Heuristic {
			modelRaw *= nonNegative(blend.HeuristicFactor)
		} else if in.Prediction.FallbackLevel > 0 {
			modelRaw *= math.Pow(nonNegative(blend.FallbackFactor), float64(in.Prediction.FallbackLevel))
		}
	}

	total := intelRaw + modelRaw
	if total <= 0 {
		return e.prior(in)
	}
	intelShare := NormalizationTotal * intelRaw / total
	modelShare := NormalizationTotal * modelRaw / total

	graph := entity.DecisionGraph{Formula: Formula}
	var prob, lower, upper float64

	if intelShare > 0 {
		for _, s := range intelSignals {
			w := intelShare * e.tiers.Weight(s.Tier) / respondedWeight
			score := clamp01(s.Score)
			graph.Nodes = append(graph.Nodes, entity.DecisionNode{
				SourceID:     s.SourceID,
				Kind:         entity.NodeIntel,
				Tier:         s.Tier,
				Weight:       w,
				Score:        score,
				Contribution: w * score,
			})
			prob += w * score
			lower += w * score
			upper += w * score
		}
	}

	if modelShare > 0 {
		p := in.Prediction
		score := clamp01(p.Probability)
		graph.Nodes = append(graph.Nodes, entity.DecisionNode{
			SourceID:     modelNodeID(p),
			Kind:         entity.NodeModel,
			Weight:       modelShare,
			Score:        score,
			Contribution: modelShare * score,
		})
		prob += modelShare * score
		lower += modelShare * clamp01(math.Min(p.Interval.Lower, score))
		upper += modelShare * clamp01(math.Max(p.Interval.Upper, score))
	}

	// Missing intel coverage widens the interval
	spread := (1 - coverage) * intelShare * coverageSpread
	if len(intelSignals) == 0 {
		spread = 0
	}
	prob = clamp01(prob)
	interval := entity.ConfidenceInterval{
		Lower: clamp01(math.Min(lower-spread, prob)),
		Upper: clamp01(math.Max(upper+spread, prob)),
	}

	return Output{
		Verdict:       Classify(prob, in.Config.Thresholds),
		Probability:   prob,
		Interval:      interval,
		Graph:         graph,
		LowConfidence: lowConfidence(in),
	}
}

// coverage returns the responded tier weight and its share of the configured weight
func (e *Engine) coverage(agg *entity.IntelAggregate) (responded, coverage float64) {
	if agg == nil {
		return 0, 0
	}
	var configured float64
	for _, s := range sortSignals(agg.Signals) {
		w := e.tiers.Weight(s.Tier)
		configured += w
		if s.Success {
			responded += w
		}
	}
	if configured > 0 {
		coverage = responded / configured
	}
	return responded, coverage
}

// prior is the answer when nothing contributed
func (e *Engine) prior(in Input) Output {
	p := clamp01(in.Config.Blend.Prior)
	return Output{
		Verdict:     entity.VerdictUnknown,
		Probability: p,
		Interval:    entity.ConfidenceInterval{Lower: 0, Upper: 1},
		Graph: entity.DecisionGraph{
			Formula: Formula,
			Nodes: []entity.DecisionNode{{
				SourceID:     "prior",
				Kind:         entity.NodePrior,
				Weight:       NormalizationTotal,
				Score:        p,
				Contribution: NormalizationTotal * p,
			}},
		},
		LowConfidence: true,
	}
}

// Classify maps a probability to a verdict band
func Classify(p float64, t entity.Thresholds) entity.Verdict {
	switch {
	case p >= t.Malicious:
		return entity.VerdictMalicious
	case p >= t.Suspicious:
		return entity.VerdictSuspicious
	default:
		return entity.VerdictBenign
	}
}

func lowConfidence(in Input) bool {
	if in.Prediction == nil || in.Prediction.Heuristic {
		return true
	}
	return in.Intel != nil && (in.Intel.Degraded || in.Intel.Insufficient)
}

func sortedSuccessful(agg *entity.IntelAggregate) []entity.ThreatSignal {
	return sortSignals(agg.Successful())
}

// sortSignals orders a copy by tier then source so float sums are order independent
func sortSignals(in []entity.ThreatSignal) []entity.ThreatSignal {
	signals := make([]entity.ThreatSignal, len(in))
	copy(signals, in)
	sort.Slice(signals, func(i, j int) bool {
		if signals[i].Tier != signals[j].Tier {
			return signals[i].Tier < signals[j].Tier
		}
		return signals[i].SourceID < signals[j].SourceID
	})
	return signals
}

func modelNodeID(p *entity.ModelPrediction) string {
	if p.ModelVersion == "" {
		return p.ModelID
	}
	return p.ModelID + "@" + p.ModelVersion
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

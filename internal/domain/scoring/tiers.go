package scoring

import (
	"sort"
)

// TierWeights holds the fixed weight of each trust tier. Index 0 is tier 1.
// Tiers past the end use the last (lowest) weight.
type TierWeights []float64

// DefaultTierWeights returns the default weights for tiers 1..3
func DefaultTierWeights() TierWeights {
	return TierWeights{1.0, 0.6, 0.3}
}

// Weight returns the weight of a tier
func (w TierWeights) Weight(tier int) float64 {
	if len(w) == 0 {
		return 1.0
	}
	switch {
	case tier < 1:
		return w[0]
	case tier > len(w):
		return w[len(w)-1]
	default:
		return w[tier-1]
	}
}

// TierVote is one source's contribution to the tier-weighted vote
type TierVote struct {
	SourceID string
	Tier     int
	Score    float64 // 0..1
	Success  bool
}

// TierAggregate is the result of a tier-weighted vote
type TierAggregate struct {
	Score           float64 `json:"score"`
	RespondedWeight float64 `json:"responded_weight"`
	TotalWeight     float64 `json:"total_weight"`
	Coverage        float64 `json:"coverage"`
	Responded       int     `json:"responded"`
	Total           int     `json:"total"`
}

// ResponseFraction is the fraction of sources that answered
func (a TierAggregate) ResponseFraction() float64 {
	if a.Total == 0 {
		return 0
	}
	return float64(a.Responded) / float64(a.Total)
}

// AggregateTiers computes Σ weight(tier)·score / Σ weight(tier) over the
// votes that succeeded. Votes are summed in SourceID order so the result does
// not depend on the order in which sources answered.
func AggregateTiers(votes []TierVote, weights TierWeights) TierAggregate {
	sorted := make([]TierVote, len(votes))
	copy(sorted, votes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SourceID < sorted[j].SourceID
	})

	var agg TierAggregate
	var weightedSum float64
	for _, v := range sorted {
		w := weights.Weight(v.Tier)
		agg.Total++
		agg.TotalWeight += w
		if !v.Success {
			continue
		}
		agg.Responded++
		agg.RespondedWeight += w
		weightedSum += w * clamp01(v.Score)
	}

	if agg.RespondedWeight > 0 {
		agg.Score = weightedSum / agg.RespondedWeight
	}
	if agg.TotalWeight > 0 {
		agg.Coverage = agg.RespondedWeight / agg.TotalWeight
	}

	return agg
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

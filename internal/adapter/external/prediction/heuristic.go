package prediction

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/domain/features"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// Rule adds Points when its feature crosses Threshold
type Rule struct {
	ID        string
	Feature   string
	Threshold float64
	Points    float64
	// PerUnit multiplies Points by the feature value instead of a flat award
	PerUnit bool
}

func (r Rule) score(v float64) float64 {
	if v < r.Threshold || v == 0 {
		return 0
	}
	if r.PerUnit {
		return r.Points * v
	}
	return r.Points
}

// LegacyRules are the lexical checks of the V1 scanner
func LegacyRules() []Rule {
	return []Rule{
		{ID: "ip_host", Feature: features.HasIPAddress, Threshold: 1, Points: 30},
		{ID: "suspicious_tld", Feature: features.SuspiciousTLD, Threshold: 1, Points: 20},
		{ID: "at_symbol", Feature: features.HasAtSymbol, Threshold: 1, Points: 20},
		{ID: "high_entropy_host", Feature: features.Entropy, Threshold: 4, Points: 15},
		{ID: "long_url", Feature: features.URLLength, Threshold: 100, Points: 10},
		{ID: "many_hyphens", Feature: features.HyphenCount, Threshold: 4, Points: 10},
		{ID: "deep_subdomains", Feature: features.SubdomainCount, Threshold: 4, Points: 10},
	}
}

// PatternRules are the V2 URL pattern checks layered on the legacy rules
func PatternRules() []Rule {
	return append(LegacyRules(),
		Rule{ID: "subdomain_tld_impersonation", Feature: features.TLDImpersonation, Threshold: 1, Points: 35},
		Rule{ID: "brand_in_path", Feature: features.BrandInPath, Threshold: 1, Points: 40},
		Rule{ID: "phishing_path_keywords", Feature: features.PhishingPathKeywords, Threshold: 1, Points: 5, PerUnit: true},
		Rule{ID: "free_hosting", Feature: features.FreeHosting, Threshold: 1, Points: 35},
		Rule{ID: "free_hosting_brand", Feature: features.FreeHostingBrand, Threshold: 1, Points: 15},
	)
}

// heuristicScale converts points to probability: p = 1 - exp(-points/scale)
const heuristicScale = 80.0

// Heuristic is the rule-based backend at the end of every chain. It needs no
// I/O and always answers.
type Heuristic struct {
	id        string
	version   string
	rules     []Rule
	halfWidth float64
}

// NewHeuristic creates a heuristic backend
func NewHeuristic(id, version string, rules []Rule, halfWidth float64) *Heuristic {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Heuristic{id: id, version: version, rules: sorted, halfWidth: halfWidth}
}

// Name returns the backend name
func (h *Heuristic) Name() string {
	return h.id
}

// Timeout is zero: the heuristic never blocks
func (h *Heuristic) Timeout() time.Duration {
	return 0
}

// Predict never fails
func (h *Heuristic) Predict(_ context.Context, vector entity.FeatureVector) (*entity.ModelPrediction, error) {
	return h.Score(vector), nil
}

// Score applies the rules to the vector
func (h *Heuristic) Score(vector entity.FeatureVector) *entity.ModelPrediction {
	var points float64
	for _, r := range h.rules {
		points += r.score(vector.Numeric[r.Feature])
	}
	p := 1 - math.Exp(-points/heuristicScale)

	return &entity.ModelPrediction{
		Probability:  p,
		Interval:     ConformalInterval(p, h.halfWidth),
		ModelID:      h.id,
		ModelVersion: h.version,
		Heuristic:    true,
	}
}

// Matched returns the ids of the rules that fired, for explanations
func (h *Heuristic) Matched(vector entity.FeatureVector) []string {
	var out []string
	for _, r := range h.rules {
		if r.score(vector.Numeric[r.Feature]) > 0 {
			out = append(out, r.ID)
		}
	}
	return out
}

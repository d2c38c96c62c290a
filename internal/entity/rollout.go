package entity

// StickyKey selects what a rollout bucket is derived from
type StickyKey string

const (
	StickyByTarget StickyKey = "target"
	StickyByCaller StickyKey = "caller"
)

// RolloutConfig governs path selection. Read once per scan.
type RolloutConfig struct {
	Percentage float64   `json:"percentage" yaml:"percentage"` // 0..100 share of keys on V2
	Shadow     bool      `json:"shadow" yaml:"shadow"`
	Salt       string    `json:"salt" yaml:"salt"`
	StickyBy   StickyKey `json:"sticky_by" yaml:"sticky_by"`
}

// Thresholds are the verdict bands applied to the fused probability
type Thresholds struct {
	Malicious  float64 `json:"malicious" yaml:"malicious"`
	Suspicious float64 `json:"suspicious" yaml:"suspicious"`
}

// BlendWeights configure how Stage-1 and Stage-2 are combined
type BlendWeights struct {
	Intel float64 `json:"intel" yaml:"intel"`
	Model float64 `json:"model" yaml:"model"`
	// InsufficientFactor lowers the intel prior when Stage 1 is insufficient
	InsufficientFactor float64 `json:"insufficient_factor" yaml:"insufficient_factor"`
	// FallbackFactor scales the model weight per fallback level
	FallbackFactor float64 `json:"fallback_factor" yaml:"fallback_factor"`
	// HeuristicFactor scales the model weight when the heuristic answered
	HeuristicFactor float64 `json:"heuristic_factor" yaml:"heuristic_factor"`
	// Prior is the probability reported when no signal contributed
	Prior float64 `json:"prior" yaml:"prior"`
}

// DecisionConfig is the per-path decision configuration
type DecisionConfig struct {
	Thresholds Thresholds   `json:"thresholds" yaml:"thresholds"`
	Blend      BlendWeights `json:"blend" yaml:"blend"`
}

// ConfigSnapshot is an immutable, versioned view of the dynamic configuration.
// Never mutate a snapshot after it has been published.
type ConfigSnapshot struct {
	Version  int64                       `json:"version" yaml:"version"`
	Rollout  RolloutConfig               `json:"rollout" yaml:"rollout"`
	Decision map[ScanPath]DecisionConfig `json:"decision" yaml:"decision"`
}

// DecisionFor returns the decision config for a path, falling back to defaults
func (s *ConfigSnapshot) DecisionFor(path ScanPath) DecisionConfig {
	if s != nil {
		if dc, ok := s.Decision[path]; ok {
			return dc
		}
	}
	return DefaultDecisionConfig()
}

// DefaultDecisionConfig returns the documented blend and threshold defaults
func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		Thresholds: Thresholds{
			Malicious:  0.75,
			Suspicious: 0.45,
		},
		Blend: BlendWeights{
			Intel:              0.4,
			Model:              0.6,
			InsufficientFactor: 0.5,
			FallbackFactor:     0.85,
			HeuristicFactor:    0.5,
			Prior:              0.5,
		},
	}
}

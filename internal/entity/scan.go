package entity

import (
	"time"
)

// ScanTarget identifies the thing being scanned. Immutable once a scan starts.
type ScanTarget struct {
	ID                string `json:"id"` // hex sha256 of URL
	URL               string `json:"url"`
	Host              string `json:"host"`
	RegistrableDomain string `json:"registrable_domain"`
}

// ScanPath names one of the two competing decision paths
type ScanPath string

const (
	PathV1 ScanPath = "v1"
	PathV2 ScanPath = "v2"
)

// Other returns the competing path
func (p ScanPath) Other() ScanPath {
	if p == PathV2 {
		return PathV1
	}
	return PathV2
}

// ScanState is a step of the orchestrator state machine
type ScanState string

const (
	StateReceived      ScanState = "RECEIVED"
	StateStage1Running ScanState = "STAGE1_RUNNING"
	StateStage1Done    ScanState = "STAGE1_DONE"
	StateStage2Running ScanState = "STAGE2_RUNNING"
	StateStage2Done    ScanState = "STAGE2_DONE"
	StateStage2Skipped ScanState = "STAGE2_SKIPPED"
	StateFused         ScanState = "FUSED"
	StateCompleted     ScanState = "COMPLETED"
)

// FeatureVector maps feature names to values for one target and schema version
type FeatureVector struct {
	TargetID      string             `json:"target_id"`
	SchemaVersion string             `json:"schema_version"`
	Numeric       map[string]float64 `json:"numeric"`
	Categorical   map[string]string  `json:"categorical,omitempty"`
}

// ConfidenceInterval bounds a probability
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ModelPrediction is the output of one prediction backend
type ModelPrediction struct {
	Probability   float64            `json:"probability"`
	Interval      ConfidenceInterval `json:"interval"`
	ModelID       string             `json:"model_id"`
	ModelVersion  string             `json:"model_version"`
	FallbackLevel int                `json:"fallback_level"`
	Heuristic     bool               `json:"heuristic"`
}

// NodeKind classifies decision graph nodes
type NodeKind string

const (
	NodeIntel NodeKind = "intel"
	NodeModel NodeKind = "model"
	NodePrior NodeKind = "prior"
)

// DecisionNode is one contributing factor in the decision graph
type DecisionNode struct {
	SourceID     string   `json:"source_id"`
	Kind         NodeKind `json:"kind"`
	Tier         int      `json:"tier,omitempty"`
	Weight       float64  `json:"weight"`
	Score        float64  `json:"score"`
	Contribution float64  `json:"contribution"`
}

// DecisionGraph is the explainable structure of a verdict
type DecisionGraph struct {
	Formula string         `json:"formula"`
	Nodes   []DecisionNode `json:"nodes"`
}

// TotalWeight sums node weights
func (g DecisionGraph) TotalWeight() float64 {
	var total float64
	for _, n := range g.Nodes {
		total += n.Weight
	}
	return total
}

// DegradedFlags records which stages were skipped or fell back
type DegradedFlags struct {
	Stage1Degraded     bool `json:"stage1_degraded"`
	Stage1Insufficient bool `json:"stage1_insufficient"`
	Stage2Skipped      bool `json:"stage2_skipped"`
	CacheDegraded      bool `json:"cache_degraded"`
	ModelFallback      bool `json:"model_fallback"`
	LowConfidence      bool `json:"low_confidence"`
}

// Any reports whether any degradation happened
func (d DegradedFlags) Any() bool {
	return d.Stage1Degraded || d.Stage1Insufficient || d.Stage2Skipped ||
		d.CacheDegraded || d.ModelFallback || d.LowConfidence
}

// ScanResult is the single artifact returned to the caller
type ScanResult struct {
	RequestID     string             `json:"request_id"`
	TargetID      string             `json:"target_id"`
	URL           string             `json:"url"`
	Path          ScanPath           `json:"path"`
	ConfigVersion int64              `json:"config_version"`
	Verdict       Verdict            `json:"verdict"`
	Probability   float64            `json:"probability"`
	Interval      ConfidenceInterval `json:"interval"`
	Graph         DecisionGraph      `json:"decision_graph"`
	Intel         *IntelAggregate    `json:"intel,omitempty"`
	Prediction    *ModelPrediction   `json:"prediction,omitempty"`
	Degraded      bool               `json:"degraded"`
	Flags         DegradedFlags      `json:"flags"`
	States        []ScanState        `json:"states"`
	Latency       time.Duration      `json:"latency"`
}

// CallerContext carries the caller identity used for sticky assignment
type CallerContext struct {
	RequestID string
	CallerID  string
}

// ShadowComparisonRecord pairs V1 and V2 results for the same request
type ShadowComparisonRecord struct {
	RequestID        string      `json:"request_id"`
	TargetID         string      `json:"target_id"`
	ConfigVersion    int64       `json:"config_version"`
	Primary          ScanPath    `json:"primary"`
	V1               *ScanResult `json:"v1"`
	V2               *ScanResult `json:"v2"`
	Agreement        bool        `json:"agreement"`
	ProbabilityDelta float64     `json:"probability_delta"`
	RecordedAt       time.Time   `json:"recorded_at"`
}

// AgreementStats summarizes shadow comparisons for one config version
type AgreementStats struct {
	ConfigVersion int64   `json:"config_version"`
	Comparisons   uint64  `json:"comparisons"`
	AgreementRate float64 `json:"agreement_rate"`
	MeanAbsDelta  float64 `json:"mean_abs_delta"`
}

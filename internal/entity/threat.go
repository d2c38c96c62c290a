package entity

import (
	"time"
)

// Verdict is the classification carried by signals and scan results
type Verdict string

const (
	VerdictMalicious  Verdict = "malicious"
	VerdictSuspicious Verdict = "suspicious"
	VerdictClean      Verdict = "clean"
	VerdictBenign     Verdict = "benign"
	VerdictUnknown    Verdict = "unknown"
)

// ThreatIntelSource is the configuration of one external threat intel source.
// Tier 1 is the most trusted.
type ThreatIntelSource struct {
	ID       string        `json:"id" yaml:"id"`
	Tier     int           `json:"tier" yaml:"tier"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Endpoint string        `json:"endpoint,omitempty" yaml:"endpoint"`
}

// ThreatSignal is the result from one source for one target.
// Score is normalized to 0..1, RawScore keeps the provider's own scale.
type ThreatSignal struct {
	SourceID string        `json:"source_id"`
	Tier     int           `json:"tier"`
	Verdict  Verdict       `json:"verdict"`
	Score    float64       `json:"score"`
	RawScore float64       `json:"raw_score"`
	Latency  time.Duration `json:"latency"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	LastSeen time.Time     `json:"last_seen,omitempty"`
	Tags     []string      `json:"tags,omitempty"`
}

// SourceReport is what a source client hands back on success
type SourceReport struct {
	Verdict  Verdict
	Score    float64 // 0..1
	RawScore float64
	LastSeen time.Time
	Tags     []string
}

// VerdictFromScore maps a normalized source score to a signal verdict
func VerdictFromScore(score float64, found bool) Verdict {
	switch {
	case !found:
		return VerdictUnknown
	case score >= 0.7:
		return VerdictMalicious
	case score >= 0.4:
		return VerdictSuspicious
	default:
		return VerdictClean
	}
}

// IntelAggregate is the Stage-1 output
type IntelAggregate struct {
	Score        float64        `json:"score"`
	Coverage     float64        `json:"coverage"` // responded tier weight / configured tier weight
	Responded    int            `json:"responded"`
	Total        int            `json:"total"`
	Degraded     bool           `json:"degraded"`
	Insufficient bool           `json:"insufficient"`
	Signals      []ThreatSignal `json:"signals"`
}

// Successful returns the signals that responded
func (a *IntelAggregate) Successful() []ThreatSignal {
	if a == nil {
		return nil
	}
	out := make([]ThreatSignal, 0, len(a.Signals))
	for _, s := range a.Signals {
		if s.Success {
			out = append(out, s)
		}
	}
	return out
}

package scoring

import (
	"math"
	"time"
)

// Decay reweights a source score by the age of the report behind it.
// Reports inside BoostWindow are boosted, reports older than StaleAfter lose
// half their weight every HalfLife, never dropping below Floor.
type Decay struct {
	BoostWindow time.Duration
	Boost       float64
	StaleAfter  time.Duration
	HalfLife    time.Duration
	Floor       float64
}

// DefaultDecay boosts reports from the last three days by 25% and halves
// reports older than thirty days every five days
func DefaultDecay() Decay {
	return Decay{
		BoostWindow: 72 * time.Hour,
		Boost:       1.25,
		StaleAfter:  30 * 24 * time.Hour,
		HalfLife:    5 * 24 * time.Hour,
		Floor:       0.1,
	}
}

// Multiplier for a report last seen at lastSeen. A zero lastSeen means the
// source does not date its reports and gets 1.
func (d Decay) Multiplier(lastSeen, now time.Time) float64 {
	if lastSeen.IsZero() {
		return 1
	}
	age := max(now.Sub(lastSeen), 0)

	switch {
	case age <= d.BoostWindow:
		return d.Boost
	case age <= d.StaleAfter || d.HalfLife <= 0:
		return 1
	}
	halvings := float64(age-d.StaleAfter) / float64(d.HalfLife)
	return math.Max(math.Exp2(-halvings), d.Floor)
}

// Apply returns score scaled by Multiplier and clamped to [0, 1]
func (d Decay) Apply(score float64, lastSeen, now time.Time) float64 {
	return clamp01(score * d.Multiplier(lastSeen, now))
}

package budget

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Stage1:          300 * time.Millisecond,
		Total:           800 * time.Millisecond,
		Stage2MinViable: 100 * time.Millisecond,
	}
}

func TestEnforcer_Remaining(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := Start(testConfig(), clock)

	assert.Equal(t, 800*time.Millisecond, e.Remaining())
	assert.Equal(t, 300*time.Millisecond, e.Stage1Remaining())

	clock.Advance(350 * time.Millisecond)
	assert.Equal(t, 350*time.Millisecond, e.Elapsed())
	assert.Equal(t, 450*time.Millisecond, e.Remaining())
	assert.Equal(t, time.Duration(0), e.Stage1Remaining())

	clock.Advance(time.Second)
	assert.Equal(t, time.Duration(0), e.Remaining())
}

func TestEnforcer_CanStartStage2(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{"fresh scan", 0, true},
		{"stage 1 used its budget", 300 * time.Millisecond, true},
		{"exactly the minimum left", 700 * time.Millisecond, true},
		{"less than the minimum left", 701 * time.Millisecond, false},
		{"budget exhausted", 2 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			e := Start(testConfig(), clock)
			clock.Advance(tt.elapsed)
			assert.Equal(t, tt.want, e.CanStartStage2())
		})
	}
}

func TestEnforcer_Stage2NeverStartsWhenMinimumNotCovered(t *testing.T) {
	// For every elapsed value that leaves less than the minimum viable time,
	// the pre-check refuses Stage 2.
	cfg := testConfig()
	for elapsed := cfg.Total - cfg.Stage2MinViable + time.Millisecond; elapsed <= cfg.Total+time.Second; elapsed += 37 * time.Millisecond {
		clock := clockwork.NewFakeClock()
		e := Start(cfg, clock)
		clock.Advance(elapsed)
		require.False(t, e.CanStartStage2(), "elapsed %s", elapsed)
	}
}

func TestEnforcer_ExpiredContextIsDone(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := Start(testConfig(), clock)
	clock.Advance(time.Second)

	ctx, cancel := e.Stage1Context(context.Background())
	defer cancel()

	select {
	case <-ctx.Done():
	default:
		t.Fatal("stage 1 context should already be done")
	}
}

func TestStart_NormalizesConfig(t *testing.T) {
	e := Start(Config{Stage1: 5 * time.Second, Total: time.Second}, clockwork.NewFakeClock())
	assert.Equal(t, time.Second, e.Stage1Remaining())

	e = Start(Config{}, clockwork.NewFakeClock())
	assert.Equal(t, DefaultConfig().Total, e.Remaining())
}

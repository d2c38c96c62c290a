package clickhouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// =============================================================================
// Row mapping
// =============================================================================

func TestScanResultArgs(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		result       *entity.ScanResult
		wantFallback int8
		wantModel    string
		wantFlags    []uint8
		wantSources  [2]uint16
	}{
		{
			name: "model answered with partial intel",
			result: &entity.ScanResult{
				RequestID:  "req-1",
				Path:       entity.PathV2,
				Verdict:    entity.VerdictMalicious,
				Latency:    1500 * time.Microsecond,
				Prediction: &entity.ModelPrediction{ModelID: "secondary", FallbackLevel: 1},
				Intel:      &entity.IntelAggregate{Responded: 2, Total: 3},
				Degraded:   true,
				Flags:      entity.DegradedFlags{Stage1Degraded: true, ModelFallback: true},
			},
			wantFallback: 1,
			wantModel:    "secondary",
			wantFlags:    []uint8{1, 1, 0, 0, 0, 0},
			wantSources:  [2]uint16{2, 3},
		},
		{
			name: "stage two skipped",
			result: &entity.ScanResult{
				RequestID: "req-2",
				Path:      entity.PathV1,
				Degraded:  true,
				Flags:     entity.DegradedFlags{Stage2Skipped: true, LowConfidence: true},
			},
			wantFallback: -1,
			wantFlags:    []uint8{1, 0, 0, 1, 0, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := scanResultArgs(tt.result, at)
			require.NoError(t, err)
			require.Len(t, args, 22)

			assert.Equal(t, tt.result.RequestID, args[0])
			assert.Equal(t, string(tt.result.Path), args[3])
			assert.Equal(t, tt.wantFallback, args[9])
			assert.Equal(t, tt.wantModel, args[10])
			for i, want := range tt.wantFlags {
				assert.Equal(t, want, args[11+i], "flag column %d", i)
			}
			assert.Equal(t, tt.wantSources[0], args[17])
			assert.Equal(t, tt.wantSources[1], args[18])
			assert.InDelta(t, float64(tt.result.Latency)/float64(time.Millisecond), args[20].(float64), 1e-9)
			assert.Equal(t, at, args[21])
		})
	}
}

func TestBoolToUInt8(t *testing.T) {
	assert.Equal(t, uint8(1), boolToUInt8(true))
	assert.Equal(t, uint8(0), boolToUInt8(false))
}

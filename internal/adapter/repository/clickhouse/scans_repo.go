package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// ScansRepository persists scan results and shadow comparisons
type ScansRepository struct {
	conn *Connection
}

// NewScansRepository creates a new scans repository
func NewScansRepository(conn *Connection) *ScansRepository {
	return &ScansRepository{conn: conn}
}

// InsertScanResult stores one completed scan
func (r *ScansRepository) InsertScanResult(ctx context.Context, res *entity.ScanResult) error {
	query := `
		INSERT INTO scan_results (
			request_id, target_id, url, path, config_version,
			verdict, probability, ci_lower, ci_upper,
			fallback_level, model_id,
			degraded, stage1_degraded, stage1_insufficient, stage2_skipped, cache_degraded, low_confidence,
			sources_responded, sources_total,
			decision_graph, latency_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	args, err := scanResultArgs(res, time.Now())
	if err != nil {
		return err
	}
	if err := r.conn.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert scan result: %w", err)
	}
	return nil
}

// scanResultArgs flattens a result into scan_results column order
func scanResultArgs(res *entity.ScanResult, createdAt time.Time) ([]any, error) {
	graph, err := json.Marshal(res.Graph)
	if err != nil {
		return nil, fmt.Errorf("marshal decision graph: %w", err)
	}

	fallbackLevel := int8(-1)
	modelID := ""
	if res.Prediction != nil {
		fallbackLevel = int8(res.Prediction.FallbackLevel)
		modelID = res.Prediction.ModelID
	}
	var responded, total uint16
	if res.Intel != nil {
		responded = uint16(res.Intel.Responded)
		total = uint16(res.Intel.Total)
	}

	return []any{
		res.RequestID,
		res.TargetID,
		res.URL,
		string(res.Path),
		res.ConfigVersion,
		string(res.Verdict),
		res.Probability,
		res.Interval.Lower,
		res.Interval.Upper,
		fallbackLevel,
		modelID,
		boolToUInt8(res.Degraded),
		boolToUInt8(res.Flags.Stage1Degraded),
		boolToUInt8(res.Flags.Stage1Insufficient),
		boolToUInt8(res.Flags.Stage2Skipped),
		boolToUInt8(res.Flags.CacheDegraded),
		boolToUInt8(res.Flags.LowConfidence),
		responded,
		total,
		string(graph),
		float64(res.Latency)/float64(time.Millisecond),
		createdAt,
	}, nil
}

// InsertShadowComparison stores one V1/V2 pairing
func (r *ScansRepository) InsertShadowComparison(ctx context.Context, rec *entity.ShadowComparisonRecord) error {
	if rec.V1 == nil || rec.V2 == nil {
		return fmt.Errorf("shadow comparison %s is missing a side", rec.RequestID)
	}

	query := `
		INSERT INTO shadow_comparisons (
			request_id, target_id, config_version, primary_path,
			v1_verdict, v2_verdict, v1_probability, v2_probability,
			probability_delta, agreement, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if err := r.conn.conn.Exec(ctx, query,
		rec.RequestID,
		rec.TargetID,
		rec.ConfigVersion,
		string(rec.Primary),
		string(rec.V1.Verdict),
		string(rec.V2.Verdict),
		rec.V1.Probability,
		rec.V2.Probability,
		rec.ProbabilityDelta,
		boolToUInt8(rec.Agreement),
		rec.RecordedAt,
	); err != nil {
		return fmt.Errorf("insert shadow comparison: %w", err)
	}
	return nil
}

// AgreementRate returns per-config-version agreement since the given time
func (r *ScansRepository) AgreementRate(ctx context.Context, since time.Time) ([]entity.AgreementStats, error) {
	query := `
		SELECT
			config_version,
			count() AS comparisons,
			avg(agreement) AS agreement_rate,
			avg(abs(probability_delta)) AS mean_abs_delta
		FROM shadow_comparisons
		WHERE recorded_at >= ?
		GROUP BY config_version
		ORDER BY config_version DESC
	`

	rows, err := r.conn.conn.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query agreement rate: %w", err)
	}
	defer rows.Close()

	var out []entity.AgreementStats
	for rows.Next() {
		var s entity.AgreementStats
		if err := rows.Scan(&s.ConfigVersion, &s.Comparisons, &s.AgreementRate, &s.MeanAbsDelta); err != nil {
			return nil, fmt.Errorf("scan agreement row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

package sink

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// MemoryStore keeps everything in process. Used when ClickHouse is disabled
// and by tests.
type MemoryStore struct {
	mu      sync.Mutex
	results []*entity.ScanResult
	shadows []*entity.ShadowComparisonRecord
	limit   int
}

// NewMemoryStore keeps at most limit items of each kind, oldest evicted first
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 10000
	}
	return &MemoryStore{limit: limit}
}

func (m *MemoryStore) InsertScanResult(_ context.Context, r *entity.ScanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	if len(m.results) > m.limit {
		m.results = m.results[len(m.results)-m.limit:]
	}
	return nil
}

func (m *MemoryStore) InsertShadowComparison(_ context.Context, rec *entity.ShadowComparisonRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shadows = append(m.shadows, rec)
	if len(m.shadows) > m.limit {
		m.shadows = m.shadows[len(m.shadows)-m.limit:]
	}
	return nil
}

// Results returns a copy of the stored results
func (m *MemoryStore) Results() []*entity.ScanResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*entity.ScanResult(nil), m.results...)
}

// Shadows returns a copy of the stored comparison records
func (m *MemoryStore) Shadows() []*entity.ShadowComparisonRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*entity.ShadowComparisonRecord(nil), m.shadows...)
}

// AgreementRate summarizes comparisons recorded at or after since, newest
// config version first
func (m *MemoryStore) AgreementRate(_ context.Context, since time.Time) ([]entity.AgreementStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byVersion := make(map[int64]*entity.AgreementStats)
	agreed := make(map[int64]int)
	for _, s := range m.shadows {
		if s.RecordedAt.Before(since) {
			continue
		}
		st, ok := byVersion[s.ConfigVersion]
		if !ok {
			st = &entity.AgreementStats{ConfigVersion: s.ConfigVersion}
			byVersion[s.ConfigVersion] = st
		}
		st.Comparisons++
		st.MeanAbsDelta += math.Abs(s.ProbabilityDelta)
		if s.Agreement {
			agreed[s.ConfigVersion]++
		}
	}

	out := make([]entity.AgreementStats, 0, len(byVersion))
	for v, st := range byVersion {
		n := float64(st.Comparisons)
		st.AgreementRate = float64(agreed[v]) / n
		st.MeanAbsDelta /= n
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConfigVersion > out[j].ConfigVersion })
	return out, nil
}

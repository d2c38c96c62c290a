package featurecache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

type memoryEntry struct {
	vector    entity.FeatureVector
	expiresAt time.Time
}

// MemoryStore is a size-bounded LRU with per-entry expiry. The LRU does its
// own locking; expired entries are never promoted and age out first.
type MemoryStore struct {
	lru   *lru.Cache[string, memoryEntry]
	clock clockwork.Clock
}

// NewMemoryStore creates an in-process store holding at most size vectors
func NewMemoryStore(size int, clock clockwork.Clock) (*MemoryStore, error) {
	if size <= 0 {
		size = 10000
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{lru: c, clock: clock}, nil
}

// Get returns a copy of the cached vector if present and fresh
func (m *MemoryStore) Get(_ context.Context, key string) (entity.FeatureVector, bool, error) {
	now := m.clock.Now()
	if e, ok := m.lru.Peek(key); !ok || !now.Before(e.expiresAt) {
		return entity.FeatureVector{}, false, nil
	}
	// a concurrent Put may have replaced the entry since Peek
	e, ok := m.lru.Get(key)
	if !ok || !now.Before(e.expiresAt) {
		return entity.FeatureVector{}, false, nil
	}
	return cloneVector(e.vector), true, nil
}

// Put stores a copy of the vector
func (m *MemoryStore) Put(_ context.Context, key string, vector entity.FeatureVector, ttl time.Duration) error {
	m.lru.Add(key, memoryEntry{vector: cloneVector(vector), expiresAt: m.clock.Now().Add(ttl)})
	return nil
}

// Len returns the number of entries, expired ones included
func (m *MemoryStore) Len() int {
	return m.lru.Len()
}

func cloneVector(v entity.FeatureVector) entity.FeatureVector {
	out := entity.FeatureVector{
		TargetID:      v.TargetID,
		SchemaVersion: v.SchemaVersion,
	}
	if v.Numeric != nil {
		out.Numeric = make(map[string]float64, len(v.Numeric))
		for k, val := range v.Numeric {
			out.Numeric[k] = val
		}
	}
	if v.Categorical != nil {
		out.Categorical = make(map[string]string, len(v.Categorical))
		for k, val := range v.Categorical {
			out.Categorical[k] = val
		}
	}
	return out
}

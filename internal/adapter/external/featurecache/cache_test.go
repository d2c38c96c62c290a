package featurecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/domain/features"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// failingStore is always down
type failingStore struct{}

func (failingStore) Get(context.Context, string) (entity.FeatureVector, bool, error) {
	return entity.FeatureVector{}, false, errors.New("connection refused")
}

func (failingStore) Put(context.Context, string, entity.FeatureVector, time.Duration) error {
	return errors.New("connection refused")
}

// countingExtractor wraps the lexical extractor and counts calls
type countingExtractor struct {
	inner features.Extractor
	calls int
}

func (c *countingExtractor) Schema() string { return c.inner.Schema() }
func (c *countingExtractor) Extract(t entity.ScanTarget) (entity.FeatureVector, error) {
	c.calls++
	return c.inner.Extract(t)
}

func testTarget() entity.ScanTarget {
	return entity.ScanTarget{
		ID:                "t1",
		URL:               "https://login-paypal.example.xyz/verify",
		Host:              "login-paypal.example.xyz",
		RegistrableDomain: "example.xyz",
	}
}

// =============================================================================
// Read-through behavior
// =============================================================================

func TestCache_GetOrCompute_MissThenHit(t *testing.T) {
	store, err := NewMemoryStore(16, clockwork.NewFakeClock())
	require.NoError(t, err)
	cache := New(store, time.Hour, nil, nil)
	ex := &countingExtractor{inner: features.NewLexical()}

	v1, degraded, err := cache.GetOrCompute(context.Background(), testTarget(), ex)
	require.NoError(t, err)
	assert.False(t, degraded)

	v2, degraded, err := cache.GetOrCompute(context.Background(), testTarget(), ex)
	require.NoError(t, err)
	assert.False(t, degraded)

	assert.Equal(t, 1, ex.calls)
	assert.Equal(t, v1, v2)
}

func TestCache_StoreDownBypasses(t *testing.T) {
	cache := New(failingStore{}, time.Hour, nil, nil)
	ex := &countingExtractor{inner: features.NewLexical()}

	v, degraded, err := cache.GetOrCompute(context.Background(), testTarget(), ex)
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Equal(t, features.LexicalSchema, v.SchemaVersion)
	assert.NotEmpty(t, v.Numeric)

	_, _, err = cache.Get(context.Background(), testTarget(), features.LexicalSchema)
	assert.True(t, IsUnavailable(err))
}

func TestCache_SchemaMismatchIsMiss(t *testing.T) {
	store, err := NewMemoryStore(16, nil)
	require.NoError(t, err)
	cache := New(store, time.Hour, nil, nil)
	target := testTarget()

	// a stale vector written under the current key with an old schema
	require.NoError(t, store.Put(context.Background(), Key(target.ID, "lexical-v2"), entity.FeatureVector{
		TargetID:      target.ID,
		SchemaVersion: "lexical-v1",
		Numeric:       map[string]float64{"url_length": 1},
	}, time.Hour))

	_, ok, err := cache.Get(context.Background(), target, "lexical-v2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_SchemaBumpMisses(t *testing.T) {
	store, err := NewMemoryStore(16, nil)
	require.NoError(t, err)
	cache := New(store, time.Hour, nil, nil)
	target := testTarget()
	vec := entity.FeatureVector{TargetID: target.ID, SchemaVersion: "lexical-v1", Numeric: map[string]float64{"x": 1}}

	require.NoError(t, cache.Put(context.Background(), target, "lexical-v1", vec, time.Hour))

	_, ok, _ := cache.Get(context.Background(), target, "lexical-v1")
	assert.True(t, ok)
	_, ok, _ = cache.Get(context.Background(), target, "lexical-v2")
	assert.False(t, ok)
}

// =============================================================================
// Stores
// =============================================================================

func TestMemoryStore_TTLAndCopy(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store, err := NewMemoryStore(2, clock)
	require.NoError(t, err)
	ctx := context.Background()

	vec := entity.FeatureVector{TargetID: "a", SchemaVersion: "s", Numeric: map[string]float64{"x": 1}}
	require.NoError(t, store.Put(ctx, "a:s", vec, time.Minute))

	got, ok, err := store.Get(ctx, "a:s")
	require.NoError(t, err)
	require.True(t, ok)
	got.Numeric["x"] = 99

	again, _, _ := store.Get(ctx, "a:s")
	assert.Equal(t, 1.0, again.Numeric["x"], "callers must not share the cached map")

	clock.Advance(time.Minute)
	_, ok, _ = store.Get(ctx, "a:s")
	assert.False(t, ok)
}

func TestMemoryStore_Eviction(t *testing.T) {
	store, err := NewMemoryStore(2, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, store.Put(ctx, k, entity.FeatureVector{TargetID: k}, time.Hour))
	}
	assert.Equal(t, 2, store.Len())
	_, ok, _ := store.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemoryStore_ExpiredEntryEvictedFirst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store, err := NewMemoryStore(2, clock)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "stale", entity.FeatureVector{TargetID: "stale"}, time.Second))
	require.NoError(t, store.Put(ctx, "fresh", entity.FeatureVector{TargetID: "fresh"}, time.Hour))
	clock.Advance(2 * time.Second)

	// reading the expired entry must not make it the most recent
	_, ok, _ := store.Get(ctx, "stale")
	assert.False(t, ok)
	require.NoError(t, store.Put(ctx, "new", entity.FeatureVector{TargetID: "new"}, time.Hour))

	_, ok, _ = store.Get(ctx, "fresh")
	assert.True(t, ok)
	_, ok, _ = store.Get(ctx, "new")
	assert.True(t, ok)
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store, err := NewMemoryStore(8, nil)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%4)
			for j := 0; j < 100; j++ {
				_ = store.Put(ctx, key, entity.FeatureVector{TargetID: key, Numeric: map[string]float64{"j": float64(j)}}, time.Hour)
				got, ok, err := store.Get(ctx, key)
				assert.NoError(t, err)
				if ok {
					assert.Equal(t, key, got.TargetID)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, store.Len(), 8)
}

func TestSQLiteStore_RoundTripAndExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store, err := OpenSQLite(":memory:", clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	vec := entity.FeatureVector{
		TargetID:      "t1",
		SchemaVersion: "lexical-v1",
		Numeric:       map[string]float64{"entropy": 3.5},
		Categorical:   map[string]string{"tld": "xyz"},
	}
	require.NoError(t, store.Put(ctx, "t1:lexical-v1", vec, time.Minute))
	require.NoError(t, store.Put(ctx, "t1:lexical-v1", vec, time.Minute))

	got, ok, err := store.Get(ctx, "t1:lexical-v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vec, got)

	clock.Advance(2 * time.Minute)
	_, ok, err = store.Get(ctx, "t1:lexical-v1")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteStore_WithCache(t *testing.T) {
	store, err := OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cache := New(store, time.Hour, nil, nil)
	ex := &countingExtractor{inner: features.NewLexical()}
	for i := 0; i < 3; i++ {
		_, degraded, err := cache.GetOrCompute(context.Background(), testTarget(), ex)
		require.NoError(t, err)
		assert.False(t, degraded)
	}
	assert.Equal(t, 1, ex.calls)
}

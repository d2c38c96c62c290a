// Package featurecache is the read-through cache for feature vectors. Keys are
// target id plus schema version; a cached vector of another schema is a miss.
package featurecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/domain/features"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/metrics"
)

// Store is a key-value backend with per-entry TTL. An error means the store
// is unavailable; a missing or expired key is (zero, false, nil).
type Store interface {
	Get(ctx context.Context, key string) (entity.FeatureVector, bool, error)
	Put(ctx context.Context, key string, vector entity.FeatureVector, ttl time.Duration) error
}

// Key builds the cache key for a target and schema version
func Key(targetID, schemaVersion string) string {
	return targetID + ":" + schemaVersion
}

// Cache wraps a Store with the bypass-on-failure policy
type Cache struct {
	store   Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a cache. ttl is used by GetOrCompute.
func New(store Store, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{store: store, ttl: ttl, logger: logger, metrics: m}
}

// Get returns the cached vector for target and schema. A store failure is
// reported as a miss wrapped in ErrCacheUnavailable.
func (c *Cache) Get(ctx context.Context, target entity.ScanTarget, schemaVersion string) (entity.FeatureVector, bool, error) {
	v, ok, err := c.store.Get(ctx, Key(target.ID, schemaVersion))
	if err != nil {
		return entity.FeatureVector{}, false, fmt.Errorf("%w: %v", entity.ErrCacheUnavailable, err)
	}
	if !ok {
		return entity.FeatureVector{}, false, nil
	}
	// never serve a vector for another target or schema
	if v.SchemaVersion != schemaVersion || v.TargetID != target.ID {
		return entity.FeatureVector{}, false, nil
	}
	return v, true, nil
}

// Put stores a vector. Writes for the same key are last-write-wins.
func (c *Cache) Put(ctx context.Context, target entity.ScanTarget, schemaVersion string, vector entity.FeatureVector, ttl time.Duration) error {
	if err := c.store.Put(ctx, Key(target.ID, schemaVersion), vector, ttl); err != nil {
		return fmt.Errorf("%w: %v", entity.ErrCacheUnavailable, err)
	}
	return nil
}

// GetOrCompute serves the vector from cache or computes and stores it. The
// bool is true when the cache was bypassed because the store failed. The
// error is only ever an extraction error.
func (c *Cache) GetOrCompute(ctx context.Context, target entity.ScanTarget, extractor features.Extractor) (entity.FeatureVector, bool, error) {
	schema := extractor.Schema()
	degraded := false

	v, ok, err := c.Get(ctx, target, schema)
	switch {
	case err != nil:
		degraded = true
		c.metrics.ObserveCache("degraded")
		c.logger.Warn("Feature cache unavailable, bypassing", "target", target.ID, "error", err)
	case ok:
		c.metrics.ObserveCache("hit")
		return v, false, nil
	default:
		c.metrics.ObserveCache("miss")
	}

	v, err = extractor.Extract(target)
	if err != nil {
		return entity.FeatureVector{}, degraded, fmt.Errorf("extract features: %w", err)
	}

	// skip the write once the store has already failed for this scan
	if !degraded && ctx.Err() == nil {
		if err := c.Put(ctx, target, schema, v, c.ttl); err != nil {
			degraded = true
			c.metrics.ObserveCache("degraded")
			c.logger.Warn("Feature cache write failed", "target", target.ID, "error", err)
		}
	}
	return v, degraded, nil
}

// IsUnavailable reports whether err came from the cache store
func IsUnavailable(err error) bool {
	return errors.Is(err, entity.ErrCacheUnavailable)
}

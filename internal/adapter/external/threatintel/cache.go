package threatintel

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// ReportCache keeps successful source reports in memory for a TTL
type ReportCache struct {
	data   map[string]*cacheEntry
	ttl    time.Duration
	clock  clockwork.Clock
	mu     sync.RWMutex
	hits   int64
	misses int64
}

type cacheEntry struct {
	report    entity.SourceReport
	expiresAt time.Time
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	TTL     string  `json:"ttl"`
}

// NewReportCache creates a report cache. Expired entries are dropped lazily
// on read and by Sweep.
func NewReportCache(ttl time.Duration, clock clockwork.Clock) *ReportCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ReportCache{
		data:  make(map[string]*cacheEntry),
		ttl:   ttl,
		clock: clock,
	}
}

// Get retrieves a report
func (c *ReportCache) Get(key string) (*entity.SourceReport, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.data[key]
	if !exists || now.After(entry.expiresAt) {
		if exists {
			delete(c.data, key)
		}
		c.misses++
		return nil, false
	}
	c.hits++

	// copy so callers cannot mutate the cached report
	report := entry.report
	report.Tags = append([]string(nil), entry.report.Tags...)
	return &report, true
}

// Set stores a report
func (c *ReportCache) Set(key string, report entity.SourceReport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = &cacheEntry{
		report:    report,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}

// Stats returns cache statistics
func (c *ReportCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Size:    len(c.data),
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: hitRate,
		TTL:     c.ttl.String(),
	}
}

// Sweep removes all expired entries
func (c *ReportCache) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.data {
		if now.After(entry.expiresAt) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is done
func (c *ReportCache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.Sweep()
		}
	}
}

// cachedSource serves repeated lookups of the same target from a ReportCache.
// Failures are never cached.
type cachedSource struct {
	Source
	cache *ReportCache
}

// WithCache wraps a source so successful reports are reused for the cache TTL
func WithCache(src Source, cache *ReportCache) Source {
	if cache == nil {
		return src
	}
	return &cachedSource{Source: src, cache: cache}
}

func (s *cachedSource) Lookup(ctx context.Context, target entity.ScanTarget) (*entity.SourceReport, error) {
	key := s.ID() + "|" + target.ID
	if report, ok := s.cache.Get(key); ok {
		return report, nil
	}

	report, err := s.Source.Lookup(ctx, target)
	if err != nil {
		return nil, err
	}
	if report != nil {
		s.cache.Set(key, *report)
	}
	return report, nil
}

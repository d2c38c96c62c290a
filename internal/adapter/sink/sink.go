// Package sink hands completed scan results and shadow comparisons to a
// store without ever blocking the scan that produced them.
package sink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/metrics"
)

// Store persists what the sink hands it
type Store interface {
	InsertScanResult(ctx context.Context, result *entity.ScanResult) error
	InsertShadowComparison(ctx context.Context, rec *entity.ShadowComparisonRecord) error
}

// Config sizes the queue and the worker pool
type Config struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

// Stats are cumulative sink counters
type Stats struct {
	Enqueued int64 `json:"enqueued"`
	Dropped  int64 `json:"dropped"`
	Written  int64 `json:"written"`
	Failed   int64 `json:"failed"`
	Queued   int   `json:"queued"`
}

type item struct {
	result *entity.ScanResult
	shadow *entity.ShadowComparisonRecord
}

func (i item) kind() string {
	if i.shadow != nil {
		return "shadow"
	}
	return "result"
}

// Sink is a bounded queue drained by a fixed worker pool. When the queue is
// full new items are dropped and counted.
type Sink struct {
	store   Store
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	queue chan item
	wg    sync.WaitGroup
	once  sync.Once

	mu     sync.RWMutex
	closed bool

	enqueued atomic.Int64
	dropped  atomic.Int64
	written  atomic.Int64
	failed   atomic.Int64
}

// New creates a sink. Call Start to begin draining.
func New(store Store, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Sink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		queue:   make(chan item, cfg.QueueSize),
	}
}

// Start launches the workers
func (s *Sink) Start() {
	s.once.Do(func() {
		for i := 0; i < s.cfg.Workers; i++ {
			s.wg.Add(1)
			go s.worker()
		}
	})
}

// SubmitResult enqueues a result. Returns false when it was dropped.
func (s *Sink) SubmitResult(r *entity.ScanResult) bool {
	if r == nil {
		return false
	}
	return s.submit(item{result: r})
}

// SubmitShadow enqueues a comparison record. Returns false when it was dropped.
func (s *Sink) SubmitShadow(rec *entity.ShadowComparisonRecord) bool {
	if rec == nil {
		return false
	}
	return s.submit(item{shadow: rec})
}

func (s *Sink) submit(it item) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(it, "closed")
		return false
	}
	select {
	case s.queue <- it:
		s.enqueued.Add(1)
		s.metrics.ObserveSink(it.kind(), "enqueued")
		return true
	default:
		s.drop(it, "queue_full")
		return false
	}
}

func (s *Sink) drop(it item, reason string) {
	s.dropped.Add(1)
	s.metrics.ObserveSink(it.kind(), "dropped")
	s.logger.Warn("Sink dropped item", "kind", it.kind(), "reason", reason)
}

func (s *Sink) worker() {
	defer s.wg.Done()
	for it := range s.queue {
		s.write(it)
	}
}

func (s *Sink) write(it item) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()

	var err error
	if it.shadow != nil {
		err = s.store.InsertShadowComparison(ctx, it.shadow)
	} else {
		err = s.store.InsertScanResult(ctx, it.result)
	}

	if err != nil {
		s.failed.Add(1)
		s.metrics.ObserveSink(it.kind(), "failed")
		s.logger.Error("Sink write failed", "kind", it.kind(), "error", err)
		return
	}
	s.written.Add(1)
	s.metrics.ObserveSink(it.kind(), "written")
}

// Close stops accepting items and waits for queued ones to be written or
// for ctx to end.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the counters
func (s *Sink) Stats() Stats {
	return Stats{
		Enqueued: s.enqueued.Load(),
		Dropped:  s.dropped.Load(),
		Written:  s.written.Load(),
		Failed:   s.failed.Load(),
		Queued:   len(s.queue),
	}
}

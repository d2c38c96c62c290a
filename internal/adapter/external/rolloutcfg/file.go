package rolloutcfg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/metrics"
)

// FileProvider loads the snapshot from a YAML file and reloads it when the
// file changes. A bad edit keeps the last good snapshot.
type FileProvider struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	current atomic.Pointer[entity.ConfigSnapshot]
	mu      sync.Mutex // serializes reloads

	reloads  atomic.Int64
	failures atomic.Int64
}

// NewFileProvider loads path once. Failing to load the initial file is an
// error: without a snapshot no scan can select a path.
func NewFileProvider(path string, logger *slog.Logger, m *metrics.Metrics) (*FileProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &FileProvider{
		path:     path,
		debounce: 100 * time.Millisecond,
		logger:   logger,
		metrics:  m,
	}
	if _, err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Snapshot returns the last good snapshot
func (p *FileProvider) Snapshot(ctx context.Context) (*entity.ConfigSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := p.current.Load()
	if snap == nil {
		return nil, fmt.Errorf("%w: %s not loaded", entity.ErrConfigUnavailable, p.path)
	}
	return snap, nil
}

// Reload reads and publishes the file. The new version is the file's version
// or the previous one plus one, whichever is higher.
func (p *FileProvider) Reload() (*entity.ConfigSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap, err := LoadFile(p.path)
	if err != nil {
		p.failures.Add(1)
		return nil, err
	}

	next := Normalize(*snap)
	if prev := p.current.Load(); prev != nil && next.Version <= prev.Version {
		next.Version = prev.Version + 1
	}
	p.current.Store(&next)
	p.reloads.Add(1)
	p.metrics.SetConfigVersion(next.Version)

	p.logger.Info("Rollout config loaded",
		"path", p.path,
		"version", next.Version,
		"percentage", next.Rollout.Percentage,
		"shadow", next.Rollout.Shadow,
	)
	return &next, nil
}

// Stats returns successful and failed reload counts
func (p *FileProvider) Stats() (reloads, failures int64) {
	return p.reloads.Load(), p.failures.Load()
}

// Watch reloads on writes to the file until ctx is done. The parent
// directory is watched so editors that replace the file are handled.
func (p *FileProvider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching directory: %w", err)
	}

	go func() {
		defer watcher.Close()

		target := filepath.Clean(p.path)
		var timer *time.Timer
		fire := make(chan struct{}, 1)

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(p.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})

			case <-fire:
				if _, err := p.Reload(); err != nil {
					p.logger.Warn("Rollout config reload failed, keeping previous snapshot", "path", p.path, "error", err)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn("Rollout config watcher error", "error", err)

			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			}
		}
	}()
	return nil
}

// LoadFile parses and validates a snapshot file
func LoadFile(path string) (*entity.ConfigSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", entity.ErrConfigUnavailable, path, err)
	}
	var snap entity.ConfigSnapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", entity.ErrConfigUnavailable, path, err)
	}
	if err := Validate(snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", entity.ErrConfigUnavailable, path, err)
	}
	return &snap, nil
}

package threatintel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/willf/bloom"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// BlocklistConfig holds blocklist source configuration
type BlocklistConfig struct {
	FeedURL       string
	Timeout       time.Duration
	RefreshPeriod time.Duration // How often to refresh the list (default: 6 hours)
	// ExpectedEntries and FalsePositiveRate size the bloom filter
	ExpectedEntries   uint
	FalsePositiveRate float64
}

// BlocklistClient answers from a locally held feed of bad URLs and hosts.
// Entries live in a bloom filter, so a listed entry is always found and an
// unlisted one is reported with probability FalsePositiveRate.
type BlocklistClient struct {
	feedURL    string
	httpClient *http.Client
	cfg        BlocklistConfig
	clock      clockwork.Clock
	logger     *slog.Logger

	mu         sync.RWMutex
	filter     *bloom.BloomFilter
	entries    int
	lastUpdate time.Time
}

// ErrBlocklistNotLoaded is returned before the first successful load
var ErrBlocklistNotLoaded = errors.New("blocklist not loaded")

// NewBlocklistClient creates a blocklist source. Call Refresh or Load before use.
func NewBlocklistClient(cfg BlocklistConfig, clock clockwork.Clock, logger *slog.Logger) *BlocklistClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RefreshPeriod == 0 {
		cfg.RefreshPeriod = 6 * time.Hour
	}
	if cfg.ExpectedEntries == 0 {
		cfg.ExpectedEntries = 500000
	}
	if cfg.FalsePositiveRate <= 0 || cfg.FalsePositiveRate >= 1 {
		cfg.FalsePositiveRate = 0.001
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &BlocklistClient{
		feedURL:    cfg.FeedURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		clock:      clock,
		logger:     logger,
	}
}

// ID returns the source identifier
func (c *BlocklistClient) ID() string {
	return "blocklist"
}

// Lookup checks the exact URL, the host and the registrable domain
func (c *BlocklistClient) Lookup(ctx context.Context, target entity.ScanTarget) (*entity.SourceReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	filter := c.filter
	c.mu.RUnlock()
	if filter == nil {
		return nil, ErrBlocklistNotLoaded
	}

	urlEntry := normalizeEntry(target.URL)
	hostEntry := normalizeEntry(target.Host)

	switch {
	case urlEntry != hostEntry && filter.TestString(urlEntry):
		return &entity.SourceReport{Score: 0.95, RawScore: 3, Tags: []string{"listed_url"}}, nil
	case filter.TestString(hostEntry):
		return &entity.SourceReport{Score: 0.85, RawScore: 2, Tags: []string{"listed_host"}}, nil
	case target.RegistrableDomain != "" && filter.TestString(normalizeEntry(target.RegistrableDomain)):
		return &entity.SourceReport{Score: 0.6, RawScore: 1, Tags: []string{"listed_domain"}}, nil
	default:
		return &entity.SourceReport{Verdict: entity.VerdictClean}, nil
	}
}

// Load replaces the filter with the entries read from r.
// One entry per line; blank lines and # comments are skipped.
func (c *BlocklistClient) Load(r io.Reader) (int, error) {
	filter := bloom.NewWithEstimates(c.cfg.ExpectedEntries, c.cfg.FalsePositiveRate)

	count := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// feeds such as hosts files carry the entry in the last column
		fields := strings.Fields(line)
		filter.AddString(normalizeEntry(fields[len(fields)-1]))
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("parse blocklist: %w", err)
	}

	c.mu.Lock()
	c.filter = filter
	c.entries = count
	c.lastUpdate = c.clock.Now()
	c.mu.Unlock()

	return count, nil
}

// Refresh downloads the feed and swaps in a new filter. A failed refresh
// keeps serving the previous filter.
func (c *BlocklistClient) Refresh(ctx context.Context) error {
	if c.feedURL == "" {
		return errors.New("blocklist feed url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download blocklist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("blocklist feed error: status %d", resp.StatusCode)
	}

	count, err := c.Load(resp.Body)
	if err != nil {
		return err
	}
	c.logger.Info("Blocklist loaded", "entries", count)
	return nil
}

// Run refreshes the feed every RefreshPeriod until ctx is done
func (c *BlocklistClient) Run(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("Blocklist refresh failed", "error", err)
	}

	ticker := c.clock.NewTicker(c.cfg.RefreshPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("Blocklist refresh failed, serving stale list", "error", err)
			}
		}
	}
}

// Stats returns the number of loaded entries and the last load time
func (c *BlocklistClient) Stats() (int, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries, c.lastUpdate
}

// normalizeEntry lowercases an entry and strips the scheme and trailing slash
// of bare-host URLs so feeds and targets meet in one form.
func normalizeEntry(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if u, err := url.Parse(s); err == nil && u.Host != "" && (u.Path == "" || u.Path == "/") && u.RawQuery == "" {
		return u.Host
	}
	return s
}

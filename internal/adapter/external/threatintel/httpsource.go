package threatintel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// HTTPSourceConfig configures a generic JSON reputation service
type HTTPSourceConfig struct {
	ID        string
	ServerURL string
	APIKey    string
	Timeout   time.Duration
	RateLimit int // requests per minute
	Burst     int
}

// HTTPSource queries a reputation service speaking the scan check protocol:
// POST {server}/api/v1/check with the target, answered by an httpCheckResponse.
type HTTPSource struct {
	id          string
	serverURL   string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

type httpCheckRequest struct {
	URL    string `json:"url"`
	Host   string `json:"host"`
	Domain string `json:"domain"`
}

type httpCheckResponse struct {
	Success  bool     `json:"success"`
	Error    string   `json:"error,omitempty"`
	Found    bool     `json:"found"`
	Score    float64  `json:"score"` // 0-100
	Verdict  string   `json:"verdict,omitempty"`
	LastSeen string   `json:"last_seen,omitempty"` // RFC 3339
	Tags     []string `json:"tags,omitempty"`
}

// NewHTTPSource creates a generic reputation source
func NewHTTPSource(cfg HTTPSourceConfig) *HTTPSource {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	rateLimit := cfg.RateLimit
	if rateLimit == 0 {
		rateLimit = 600 // requests per minute
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = 10
	}
	id := cfg.ID
	if id == "" {
		id = "reputation"
	}

	return &HTTPSource{
		id:          id,
		serverURL:   strings.TrimSuffix(cfg.ServerURL, "/"),
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(rateLimit)/60.0), burst),
	}
}

// ID returns the source identifier
func (c *HTTPSource) ID() string {
	return c.id
}

// IsConfigured returns true if the server url is set
func (c *HTTPSource) IsConfigured() bool {
	return c.serverURL != ""
}

// Lookup asks the reputation service about the target
func (c *HTTPSource) Lookup(ctx context.Context, target entity.ScanTarget) (*entity.SourceReport, error) {
	// waiting past the caller deadline fails fast instead of queueing
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	body, err := json.Marshal(httpCheckRequest{
		URL:    target.URL,
		Host:   target.Host,
		Domain: target.RegistrableDomain,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/api/v1/check", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact %s: %w", c.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, fmt.Errorf("%s error (%d): %s", c.id, resp.StatusCode, errResp.Error)
	}

	var out httpCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("%s returned error: %s", c.id, out.Error)
	}

	if !out.Found {
		return &entity.SourceReport{Verdict: entity.VerdictClean}, nil
	}

	report := &entity.SourceReport{
		Score:    clamp01(out.Score / 100),
		RawScore: out.Score,
		Verdict:  entity.Verdict(out.Verdict),
		LastSeen: parseTime(time.RFC3339, out.LastSeen),
		Tags:     uniqueSorted(out.Tags),
	}
	switch report.Verdict {
	case entity.VerdictMalicious, entity.VerdictSuspicious, entity.VerdictClean, entity.VerdictUnknown:
	default:
		report.Verdict = ""
	}

	slog.Debug("Reputation query successful",
		"source", c.id,
		"target", target.ID,
		"score", out.Score)

	return report, nil
}

package threatintel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// ErrRateLimited is returned when a provider answers 429
var ErrRateLimited = errors.New("rate limit exceeded")

// VirusTotalClient handles communication with VirusTotal API
type VirusTotalClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// VirusTotalConfig holds VirusTotal client configuration
type VirusTotalConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewVirusTotalClient creates a new VirusTotal client
func NewVirusTotalClient(cfg VirusTotalConfig) *VirusTotalClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.virustotal.com/api/v3"
	}

	return &VirusTotalClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// vtDomainResponse represents the API response for a domain lookup
type vtDomainResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Reputation        int               `json:"reputation"`
			LastAnalysisStats vtAnalysisStats   `json:"last_analysis_stats"`
			Tags              []string          `json:"tags"`
			Categories        map[string]string `json:"categories"`
		} `json:"attributes"`
	} `json:"data"`
}

// vtAnalysisStats contains detection statistics
type vtAnalysisStats struct {
	Harmless   int `json:"harmless"`
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Timeout    int `json:"timeout"`
	Undetected int `json:"undetected"`
}

// ID returns the source identifier
func (c *VirusTotalClient) ID() string {
	return "virustotal"
}

// IsConfigured returns true if the client has an API key
func (c *VirusTotalClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Lookup queries VirusTotal for the reputation of the target host
func (c *VirusTotalClient) Lookup(ctx context.Context, target entity.ScanTarget) (*entity.SourceReport, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("VirusTotal API key not configured")
	}

	reqURL := fmt.Sprintf("%s/domains/%s", c.baseURL, url.PathEscape(target.Host))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case http.StatusNotFound:
		// Unknown to VT, counts as a clean answer
		return &entity.SourceReport{Verdict: entity.VerdictClean}, nil
	default:
		return nil, fmt.Errorf("API error: status %d", resp.StatusCode)
	}

	var apiResp vtDomainResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	attrs := apiResp.Data.Attributes
	stats := attrs.LastAnalysisStats
	totalEngines := stats.Harmless + stats.Malicious + stats.Suspicious + stats.Undetected

	// Based on malicious + suspicious detections vs total
	score := 0
	if totalEngines > 0 {
		score = (stats.Malicious + stats.Suspicious) * 100 / totalEngines
	}

	// VT reputation is -100 to 100, negative = bad
	if attrs.Reputation < 0 {
		score += min(-attrs.Reputation, 50)
	}
	score = min(score, 100)

	tags := append([]string(nil), attrs.Tags...)
	for _, cat := range attrs.Categories {
		tags = append(tags, cat)
	}

	return &entity.SourceReport{
		Score:    float64(score) / 100,
		RawScore: float64(stats.Malicious + stats.Suspicious),
		Tags:     uniqueSorted(tags),
	}, nil
}

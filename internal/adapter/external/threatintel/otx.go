package threatintel

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// OTXClient handles communication with AlienVault OTX API
type OTXClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// OTXConfig holds OTX client configuration
type OTXConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewOTXClient creates a new AlienVault OTX client
func NewOTXClient(cfg OTXConfig) *OTXClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://otx.alienvault.com/api/v1"
	}

	return &OTXClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// otxGeneralResponse is the general section of an indicator
type otxGeneralResponse struct {
	Indicator string       `json:"indicator"`
	PulseInfo otxPulseInfo `json:"pulse_info"`
}

type otxPulseInfo struct {
	Count   int        `json:"count"`
	Pulses  []otxPulse `json:"pulses"`
	Related struct {
		Alienvault struct {
			MalwareFamilies []string `json:"malware_families"`
		} `json:"alienvault"`
	} `json:"related"`
}

type otxPulse struct {
	Name            string   `json:"name"`
	Modified        string   `json:"modified"`
	Tags            []string `json:"tags"`
	MalwareFamilies []any    `json:"malware_families"`
}

const otxTimeLayout = "2006-01-02T15:04:05.000000"

// ID returns the source identifier
func (c *OTXClient) ID() string {
	return "otx"
}

// IsConfigured returns true if the client has an API key
func (c *OTXClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Lookup queries OTX pulses that reference the target host
func (c *OTXClient) Lookup(ctx context.Context, target entity.ScanTarget) (*entity.SourceReport, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("OTX API key not configured")
	}

	section := "hostname"
	switch {
	case net.ParseIP(target.Host) != nil && strings.Contains(target.Host, ":"):
		section = "IPv6"
	case net.ParseIP(target.Host) != nil:
		section = "IPv4"
	case target.Host == target.RegistrableDomain:
		section = "domain"
	}

	reqURL := fmt.Sprintf("%s/indicators/%s/%s/general", c.baseURL, section, target.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-OTX-API-KEY", c.apiKey)
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
		return &entity.SourceReport{Verdict: entity.VerdictClean}, nil
	default:
		return nil, fmt.Errorf("API error: status %d", resp.StatusCode)
	}

	var general otxGeneralResponse
	if err := json.NewDecoder(resp.Body).Decode(&general); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	families := make(map[string]bool)
	var tags []string
	var lastSeen time.Time
	for _, p := range general.PulseInfo.Pulses {
		tags = append(tags, p.Tags...)
		for _, mf := range p.MalwareFamilies {
			switch v := mf.(type) {
			case string:
				families[v] = true
			case map[string]any:
				if name, ok := v["display_name"].(string); ok {
					families[name] = true
				}
			}
		}
		if t := parseTime(otxTimeLayout, p.Modified); t.After(lastSeen) {
			lastSeen = t
		}
	}
	for _, mf := range general.PulseInfo.Related.Alienvault.MalwareFamilies {
		families[mf] = true
	}

	// Pulse count contribution (max 60 points)
	score := min(general.PulseInfo.Count*10, 60)
	// Malware families contribution (max 40 points)
	score += min(len(families)*10, 40)
	score = min(score, 100)

	return &entity.SourceReport{
		Score:    float64(score) / 100,
		RawScore: float64(general.PulseInfo.Count),
		LastSeen: lastSeen,
		Tags:     uniqueSorted(tags),
	}, nil
}

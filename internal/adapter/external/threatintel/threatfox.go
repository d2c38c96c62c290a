package threatintel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// ThreatFoxConfig holds configuration for ThreatFox client
type ThreatFoxConfig struct {
	APIKey  string // Auth-Key from auth.abuse.ch
	BaseURL string
}

// ThreatFoxClient queries abuse.ch ThreatFox for IOCs matching the target host
type ThreatFoxClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// threatFoxResponse carries data as an IOC array when found and a string otherwise
type threatFoxResponse struct {
	QueryStatus string          `json:"query_status"`
	Data        []threatFoxIOC  `json:"-"`
	DataRaw     json.RawMessage `json:"data"`
}

// UnmarshalJSON handles the variable data field type
func (r *threatFoxResponse) UnmarshalJSON(data []byte) error {
	type Alias threatFoxResponse
	aux := &struct{ *Alias }{Alias: (*Alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(r.DataRaw) > 0 && r.DataRaw[0] == '[' {
		if err := json.Unmarshal(r.DataRaw, &r.Data); err != nil {
			return err
		}
	}
	return nil
}

type threatFoxIOC struct {
	IOC        string   `json:"ioc"`
	IOCType    string   `json:"ioc_type"`
	ThreatType string   `json:"threat_type"`
	Malware    string   `json:"malware"`
	Confidence int      `json:"confidence_level"`
	FirstSeen  string   `json:"first_seen"`
	LastSeen   *string  `json:"last_seen"`
	Tags       []string `json:"tags"`
}

const threatFoxTimeLayout = "2006-01-02 15:04:05 UTC"

// NewThreatFoxClient creates a new ThreatFox client
func NewThreatFoxClient(cfg ThreatFoxConfig) *ThreatFoxClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://threatfox-api.abuse.ch/api/v1/"
	}
	return &ThreatFoxClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
	}
}

// ID returns the source identifier
func (c *ThreatFoxClient) ID() string {
	return "threatfox"
}

// IsConfigured returns true if Auth-Key is configured
func (c *ThreatFoxClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Lookup searches ThreatFox for the target host as an IOC
func (c *ThreatFoxClient) Lookup(ctx context.Context, target entity.ScanTarget) (*entity.SourceReport, error) {
	payload := map[string]string{
		"query":       "search_ioc",
		"search_term": target.Host,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Auth-Key", c.apiKey) // Required by abuse.ch

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var tfResp threatFoxResponse
	if err := json.NewDecoder(resp.Body).Decode(&tfResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	switch tfResp.QueryStatus {
	case "ok":
	case "no_result", "no_results":
		return &entity.SourceReport{Verdict: entity.VerdictClean}, nil
	default:
		return nil, fmt.Errorf("threatfox query status: %s", tfResp.QueryStatus)
	}
	if len(tfResp.Data) == 0 {
		return &entity.SourceReport{Verdict: entity.VerdictClean}, nil
	}

	var tags []string
	var lastSeen time.Time
	for _, ioc := range tfResp.Data {
		tags = append(tags, ioc.Tags...)
		if ioc.Malware != "" {
			tags = append(tags, ioc.Malware)
		}
		seen := ioc.FirstSeen
		if ioc.LastSeen != nil && *ioc.LastSeen != "" {
			seen = *ioc.LastSeen
		}
		if t := parseTime(threatFoxTimeLayout, seen); t.After(lastSeen) {
			lastSeen = t
		}
	}

	score := c.calculateScore(tfResp.Data)
	return &entity.SourceReport{
		Score:    float64(score) / 100,
		RawScore: float64(len(tfResp.Data)),
		LastSeen: lastSeen,
		Tags:     uniqueSorted(tags),
	}, nil
}

// calculateScore calculates a threat score (0-100) based on IOCs found
func (c *ThreatFoxClient) calculateScore(iocs []threatFoxIOC) int {
	if len(iocs) == 0 {
		return 0
	}

	// Base score for being in ThreatFox at all
	score := 60

	maxConfidence := 0
	for _, ioc := range iocs {
		maxConfidence = max(maxConfidence, ioc.Confidence)
	}
	score += maxConfidence / 5 // +0 to +20

	for _, ioc := range iocs {
		switch strings.ToLower(ioc.ThreatType) {
		case "botnet_cc", "cc":
			score += 15 // C2 servers are critical
		case "payload_delivery":
			score += 10
		case "payload":
			score += 5
		}
	}

	if len(iocs) > 1 {
		score += min(len(iocs)*2, 10)
	}

	return min(score, 100)
}

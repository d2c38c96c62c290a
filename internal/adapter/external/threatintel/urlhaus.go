package threatintel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// URLhausConfig holds configuration for URLhaus client
type URLhausConfig struct {
	APIKey  string // Auth-Key from auth.abuse.ch (same as ThreatFox)
	BaseURL string
}

// URLhausClient queries abuse.ch URLhaus for a URL, then for its host.
// Requires Auth-Key header (free key from auth.abuse.ch)
type URLhausClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// urlhausURLResponse is the url/ lookup response
type urlhausURLResponse struct {
	QueryStatus string            `json:"query_status"`
	URLStatus   string            `json:"url_status"`
	Threat      string            `json:"threat"`
	DateAdded   string            `json:"date_added"`
	LastOnline  string            `json:"last_online"`
	Tags        []string          `json:"tags"`
	Blacklists  urlhausBlacklists `json:"blacklists"`
}

// urlhausHostResponse is the host/ lookup response
type urlhausHostResponse struct {
	QueryStatus string            `json:"query_status"`
	FirstSeen   string            `json:"firstseen"`
	URLCount    int               `json:"url_count"`
	Blacklists  urlhausBlacklists `json:"blacklists"`
	URLs        []urlhausURL      `json:"urls"`
}

type urlhausBlacklists struct {
	SpamhausDbl string `json:"spamhaus_dbl"`
	SurblMulti  string `json:"surbl_multi"`
}

type urlhausURL struct {
	URLStatus string   `json:"url_status"`
	DateAdded string   `json:"date_added"`
	Threat    string   `json:"threat"`
	Tags      []string `json:"tags"`
}

const urlhausTimeLayout = "2006-01-02 15:04:05 UTC"

// NewURLhausClient creates a new URLhaus client
func NewURLhausClient(cfg URLhausConfig) *URLhausClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://urlhaus-api.abuse.ch/v1/"
	}
	return &URLhausClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: strings.TrimSuffix(baseURL, "/") + "/",
		apiKey:  cfg.APIKey,
	}
}

// ID returns the source identifier
func (c *URLhausClient) ID() string {
	return "urlhaus"
}

// IsConfigured returns true if Auth-Key is configured
func (c *URLhausClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Lookup checks the exact URL first and falls back to the host
func (c *URLhausClient) Lookup(ctx context.Context, target entity.ScanTarget) (*entity.SourceReport, error) {
	var urlResp urlhausURLResponse
	if err := c.post(ctx, "url/", url.Values{"url": {target.URL}}, &urlResp); err != nil {
		return nil, err
	}
	if urlResp.QueryStatus == "ok" {
		return c.urlReport(&urlResp), nil
	}
	if urlResp.QueryStatus != "no_results" {
		return nil, fmt.Errorf("urlhaus query status: %s", urlResp.QueryStatus)
	}

	var hostResp urlhausHostResponse
	if err := c.post(ctx, "host/", url.Values{"host": {target.Host}}, &hostResp); err != nil {
		return nil, err
	}
	switch hostResp.QueryStatus {
	case "ok":
		return c.hostReport(&hostResp), nil
	case "no_results":
		return &entity.SourceReport{Verdict: entity.VerdictClean}, nil
	default:
		return nil, fmt.Errorf("urlhaus query status: %s", hostResp.QueryStatus)
	}
}

func (c *URLhausClient) post(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Auth-Key", c.apiKey) // Required by abuse.ch

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// urlReport scores an exact URL match
func (c *URLhausClient) urlReport(resp *urlhausURLResponse) *entity.SourceReport {
	// An exact listing is already strong evidence
	score := 70
	if resp.URLStatus == "online" {
		score += 20
	}
	score += threatBonus(resp.Threat)
	score += blacklistBonus(resp.Blacklists)
	score = min(score, 100)

	lastSeen := parseTime(urlhausTimeLayout, resp.LastOnline)
	if lastSeen.IsZero() {
		lastSeen = parseTime(urlhausTimeLayout, resp.DateAdded)
	}

	return &entity.SourceReport{
		Score:    float64(score) / 100,
		RawScore: float64(score),
		LastSeen: lastSeen,
		Tags:     uniqueSorted(resp.Tags),
	}
}

// hostReport scores a host that served malicious URLs
func (c *URLhausClient) hostReport(resp *urlhausHostResponse) *entity.SourceReport {
	score := 50

	active := 0
	threats := make(map[string]bool)
	var tags []string
	var lastSeen time.Time
	for _, u := range resp.URLs {
		if u.URLStatus == "online" {
			active++
		}
		if u.Threat != "" {
			threats[u.Threat] = true
		}
		tags = append(tags, u.Tags...)
		if t := parseTime(urlhausTimeLayout, u.DateAdded); t.After(lastSeen) {
			lastSeen = t
		}
	}

	// Active malicious URLs are more dangerous
	if active > 0 {
		score += min(active*10, 30)
	}
	if resp.URLCount > 5 {
		score += 10
	}
	score += blacklistBonus(resp.Blacklists)
	for t := range threats {
		score += threatBonus(t)
	}
	score = min(score, 100)

	return &entity.SourceReport{
		Score:    float64(score) / 100,
		RawScore: float64(resp.URLCount),
		LastSeen: lastSeen,
		Tags:     uniqueSorted(tags),
	}
}

func threatBonus(threat string) int {
	switch threat {
	case "malware_download":
		return 15
	case "phishing":
		return 10
	default:
		return 0
	}
}

func blacklistBonus(b urlhausBlacklists) int {
	bonus := 0
	if b.SpamhausDbl != "" && b.SpamhausDbl != "not listed" {
		bonus += 10
	}
	if b.SurblMulti == "listed" {
		bonus += 10
	}
	return bonus
}

func parseTime(layout, value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	set := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || set[s] {
			continue
		}
		set[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

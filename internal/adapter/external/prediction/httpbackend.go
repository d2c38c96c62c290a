package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// HTTPBackendConfig configures a model server reached over HTTP
type HTTPBackendConfig struct {
	Name      string
	URL       string
	APIKey    string
	Timeout   time.Duration
	HalfWidth float64
}

// HTTPBackend calls a JSON model server
type HTTPBackend struct {
	cfg        HTTPBackendConfig
	httpClient *http.Client
}

// NewHTTPBackend creates an HTTP model backend
func NewHTTPBackend(cfg HTTPBackendConfig) *HTTPBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 200 * time.Millisecond
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")
	return &HTTPBackend{
		cfg: cfg,
		// deadline comes from the per-call context
		httpClient: &http.Client{},
	}
}

type httpPredictRequest struct {
	TargetID      string             `json:"target_id"`
	SchemaVersion string             `json:"schema_version"`
	Features      map[string]float64 `json:"features"`
	Categorical   map[string]string  `json:"categorical,omitempty"`
}

type httpPredictResponse struct {
	Probability  *float64 `json:"probability"`
	Lower        *float64 `json:"lower"`
	Upper        *float64 `json:"upper"`
	ModelID      string   `json:"model_id"`
	ModelVersion string   `json:"model_version"`
}

// Name returns the backend name
func (b *HTTPBackend) Name() string {
	return b.cfg.Name
}

// Timeout returns the per-call timeout
func (b *HTTPBackend) Timeout() time.Duration {
	return b.cfg.Timeout
}

// Predict posts the feature vector to {url}/v1/predict
func (b *HTTPBackend) Predict(ctx context.Context, vector entity.FeatureVector) (*entity.ModelPrediction, error) {
	body, err := json.Marshal(httpPredictRequest{
		TargetID:      vector.TargetID,
		SchemaVersion: vector.SchemaVersion,
		Features:      vector.Numeric,
		Categorical:   vector.Categorical,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.URL+"/v1/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", entity.ErrBackendUnavailable, b.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("%w: %s: status %d: %s", entity.ErrBackendUnavailable, b.cfg.Name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out httpPredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %s: decode response: %v", entity.ErrBackendUnavailable, b.cfg.Name, err)
	}
	if out.Probability == nil {
		return nil, fmt.Errorf("%w: %s: missing probability", entity.ErrBackendUnavailable, b.cfg.Name)
	}

	return rawPrediction{
		Probability:  *out.Probability,
		Lower:        out.Lower,
		Upper:        out.Upper,
		ModelID:      out.ModelID,
		ModelVersion: out.ModelVersion,
	}.toPrediction(b.cfg.Name, b.cfg.HalfWidth)
}

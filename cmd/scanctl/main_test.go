package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

func sampleResult() *entity.ScanResult {
	return &entity.ScanResult{
		RequestID:     "req-1",
		URL:           "https://login-paypal.example.test/verify",
		Path:          entity.PathV2,
		ConfigVersion: 4,
		Verdict:       entity.VerdictMalicious,
		Probability:   0.7735,
		Interval:      entity.ConfidenceInterval{Lower: 0.7, Upper: 0.85},
		Degraded:      true,
		Flags:         entity.DegradedFlags{Stage1Degraded: true, LowConfidence: true},
		Graph: entity.DecisionGraph{Nodes: []entity.DecisionNode{
			{SourceID: "urlhaus", Kind: entity.NodeIntel, Tier: 1, Weight: 0.3, Score: 0.9, Contribution: 0.27},
			{SourceID: "primary@1", Kind: entity.NodeModel, Weight: 0.6, Score: 0.8, Contribution: 0.48},
		}},
	}
}

func TestPrintResult_Human(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, sampleResult(), false))

	out := buf.String()
	for _, want := range []string{
		"malicious",
		"p=0.77",
		"v2 (config v4)",
		"low_confidence, stage1_degraded",
		"urlhaus",
		"primary@1",
	} {
		assert.Contains(t, out, want)
	}
}

func TestPrintResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, sampleResult(), true))

	var got entity.ScanResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "req-1", got.RequestID)
	assert.Len(t, got.Graph.Nodes, 2)
}

func TestRemoteScanner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/scan", r.URL.Path)
		var req struct {
			URL      string `json:"url"`
			CallerID string `json:"caller_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if strings.Contains(req.URL, "localhost") {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"error": "Invalid scan target", "details": "localhost is not allowed"})
			return
		}
		assert.Equal(t, "cli", req.CallerID)
		json.NewEncoder(w).Encode(sampleResult())
	}))
	defer srv.Close()

	s := &remoteScanner{baseURL: srv.URL, client: srv.Client()}

	result, err := s.ScanURL(context.Background(), "https://login-paypal.example.test/verify", entity.CallerContext{CallerID: "cli"})
	require.NoError(t, err)
	assert.Equal(t, entity.VerdictMalicious, result.Verdict)

	_, err = s.ScanURL(context.Background(), "http://localhost/", entity.CallerContext{CallerID: "cli"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "localhost is not allowed")
}

func TestScanCmd_RemoteEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sampleResult())
	}))
	defer srv.Close()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"scan", "--server", srv.URL, "https://login-paypal.example.test/verify"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "malicious")
}

func TestScanCmd_RequiresURL(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"scan"})
	assert.Error(t, root.ExecuteContext(context.Background()))
}

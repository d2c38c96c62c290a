package handlers

import (
	"net/http"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// SourceLister lists the configured threat intel sources
type SourceLister interface {
	All() []entity.ThreatIntelSource
}

// ChainInspector exposes a prediction chain's backends and breaker states
type ChainInspector interface {
	Backends() []string
	BreakerStates() map[string]string
}

// SourcesHandler reports the Stage-1 and Stage-2 backends
type SourcesHandler struct {
	sources SourceLister
	chains  map[entity.ScanPath]ChainInspector
}

// NewSourcesHandler creates a new sources handler
func NewSourcesHandler(sources SourceLister, chains map[entity.ScanPath]ChainInspector) *SourcesHandler {
	return &SourcesHandler{sources: sources, chains: chains}
}

// ChainStatus describes one path's prediction chain
type ChainStatus struct {
	Backends []string          `json:"backends"`
	Breakers map[string]string `json:"breakers"`
}

// SourcesResponse is the body of GET /api/v1/sources
type SourcesResponse struct {
	Sources []entity.ThreatIntelSource     `json:"sources"`
	Models  map[entity.ScanPath]ChainStatus `json:"models"`
}

// List returns sources with tiers and model chains with breaker states
// GET /api/v1/sources
func (h *SourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	resp := SourcesResponse{
		Sources: h.sources.All(),
		Models:  make(map[entity.ScanPath]ChainStatus, len(h.chains)),
	}
	for path, c := range h.chains {
		resp.Models[path] = ChainStatus{Backends: c.Backends(), Breakers: c.BreakerStates()}
	}
	JSONResponse(w, http.StatusOK, resp)
}

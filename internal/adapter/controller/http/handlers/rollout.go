package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/adapter/external/rolloutcfg"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// SnapshotSetter publishes a new rollout snapshot
type SnapshotSetter interface {
	Set(snap entity.ConfigSnapshot) (*entity.ConfigSnapshot, error)
}

// AgreementReader summarizes shadow comparisons
type AgreementReader interface {
	AgreementRate(ctx context.Context, since time.Time) ([]entity.AgreementStats, error)
}

// RolloutHandler exposes the rollout snapshot and shadow agreement
type RolloutHandler struct {
	provider  rolloutcfg.Provider
	setter    SnapshotSetter
	agreement AgreementReader
	now       func() time.Time
}

// NewRolloutHandler creates a new rollout handler. setter and agreement may be nil.
func NewRolloutHandler(provider rolloutcfg.Provider, setter SnapshotSetter, agreement AgreementReader) *RolloutHandler {
	return &RolloutHandler{provider: provider, setter: setter, agreement: agreement, now: time.Now}
}

// Get returns the current snapshot
// GET /api/v1/rollout
func (h *RolloutHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.provider.Snapshot(r.Context())
	if err != nil {
		ErrorResponse(w, http.StatusServiceUnavailable, "Rollout configuration unavailable", err)
		return
	}
	JSONResponse(w, http.StatusOK, snap)
}

// Update publishes a new snapshot when the provider is writable
// PUT /api/v1/rollout
func (h *RolloutHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h.setter == nil {
		ErrorResponse(w, http.StatusConflict, "Rollout configuration is file managed", nil)
		return
	}

	var snap entity.ConfigSnapshot
	if err := DecodeJSON(w, r, &snap); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	published, err := h.setter.Set(snap)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, rolloutcfg.ErrInvalidSnapshot) {
			status = http.StatusInternalServerError
		}
		ErrorResponse(w, status, "Failed to publish rollout configuration", err)
		return
	}
	JSONResponse(w, http.StatusOK, published)
}

// Agreement returns shadow agreement per config version
// GET /api/v1/rollout/agreement?window=24h
func (h *RolloutHandler) Agreement(w http.ResponseWriter, r *http.Request) {
	if h.agreement == nil {
		ErrorResponse(w, http.StatusNotFound, "Shadow comparisons are not stored", nil)
		return
	}

	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			ErrorResponse(w, http.StatusBadRequest, "Invalid window", err)
			return
		}
		window = parsed
	}

	stats, err := h.agreement.AgreementRate(r.Context(), h.now().Add(-window))
	if err != nil {
		ErrorResponse(w, http.StatusInternalServerError, "Failed to fetch agreement", err)
		return
	}
	if stats == nil {
		stats = []entity.AgreementStats{}
	}
	JSONResponse(w, http.StatusOK, map[string]any{
		"window": window.String(),
		"stats":  stats,
	})
}

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// Scanner is the part of the scan service the handler needs
type Scanner interface {
	ScanURL(ctx context.Context, raw string, caller entity.CallerContext) (*entity.ScanResult, error)
}

// ScanHandler handles scan HTTP requests
type ScanHandler struct {
	scanner Scanner
	logger  *slog.Logger
}

// NewScanHandler creates a new scan handler
func NewScanHandler(scanner Scanner, logger *slog.Logger) *ScanHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanHandler{scanner: scanner, logger: logger}
}

// ScanRequest is the body of a scan request
type ScanRequest struct {
	URL       string `json:"url"`
	CallerID  string `json:"caller_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Scan decides one URL
// POST /api/v1/scan
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		ErrorResponse(w, http.StatusBadRequest, "URL required", nil)
		return
	}

	// a retried request carries the same id and gets the same result
	caller := entity.CallerContext{
		RequestID: firstNonEmpty(req.RequestID, r.Header.Get("X-Request-ID")),
		CallerID:  firstNonEmpty(req.CallerID, r.Header.Get("X-Caller-ID")),
	}

	result, err := h.scanner.ScanURL(r.Context(), req.URL, caller)
	if err != nil {
		status, message := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Warn("Scan failed", "url", req.URL, "request_id", caller.RequestID, "error", err)
		}
		ErrorResponse(w, status, message, err)
		return
	}

	w.Header().Set("X-Request-ID", result.RequestID)
	JSONResponse(w, http.StatusOK, result)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

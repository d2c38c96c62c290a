package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 64 << 10

// JSONResponse sends a JSON response with the given status code
func JSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// ErrorResponse sends a JSON error response
func ErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]any{
		"error":   message,
		"success": false,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	JSONResponse(w, statusCode, response)
}

// DecodeJSON decodes a size-limited JSON body, rejecting unknown fields
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusFor maps the scan error taxonomy to HTTP status codes
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, entity.ErrInvalidTarget):
		return http.StatusBadRequest, "Invalid scan target"
	case errors.Is(err, entity.ErrConfigUnavailable):
		return http.StatusServiceUnavailable, "Rollout configuration unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Scan cancelled"
	default:
		return http.StatusInternalServerError, "Scan failed"
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/benchtop-core/internal/bench"
	"github.com/nerrad567/benchtop-core/internal/instrument"
	"github.com/nerrad567/benchtop-core/internal/telemetry"
	"github.com/nerrad567/benchtop-core/internal/waveform"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeUnavailable = "unavailable"
	ErrCodeTimeout     = "instrument_timeout"
	ErrCodeDevice      = "instrument_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// classifyError maps a bench error onto an HTTP status and error code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, bench.ErrEmptyRequest),
		errors.Is(err, bench.ErrInvalidMessage),
		errors.Is(err, bench.ErrInvalidScopeAction),
		errors.Is(err, bench.ErrInvalidSetpoint),
		errors.Is(err, waveform.ErrInvalidParams),
		errors.Is(err, telemetry.ErrInvalidBand),
		errors.Is(err, instrument.ErrInvalidCommand),
		errors.Is(err, instrument.ErrUnknownRole):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, bench.ErrDispatcherStopped),
		errors.Is(err, instrument.ErrClosed),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, instrument.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	default:
		return http.StatusBadGateway, ErrCodeDevice
	}
}

// writeBenchError writes err with the status classifyError picks.
func writeBenchError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	writeError(w, status, code, err.Error())
}

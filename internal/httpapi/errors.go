package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"diffusiond/internal/engine"
	"diffusiond/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps a prediction error to an HTTP status code.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case engine.IsInvalidInput(err):
		return http.StatusBadRequest
	case engine.IsNoSafeOutput(err):
		return http.StatusUnprocessableEntity
	case engine.IsTooBusy(err):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &he):
		return he.StatusCode()
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Error().Err(err).Msg("encode response")
	}
}

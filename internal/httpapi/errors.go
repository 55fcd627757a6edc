package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"speechd/internal/manager"
	"speechd/internal/registry"
	"speechd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.Is(err, registry.ErrInvalidID):
		return http.StatusBadRequest
	case manager.IsModelNotFound(err), errors.Is(err, registry.ErrNotFound):
		// also covers a download failure caused by an unknown id
		return http.StatusNotFound
	case manager.IsInUse(err):
		return http.StatusConflict
	case manager.IsDownloadFailure(err), errors.Is(err, registry.ErrDownload):
		return http.StatusBadGateway
	case errors.Is(err, manager.ErrManagerClosed), errors.Is(err, manager.ErrUnloaded):
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
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger().Error().Err(err).Msg("encode response")
	}
}

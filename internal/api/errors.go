package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/drivelink/internal/command"
	"github.com/nerrad567/drivelink/internal/connection"
	"github.com/nerrad567/drivelink/internal/driver"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeConflict        = "conflict"
	ErrCodeInternal        = "internal_error"
	ErrCodeValidation      = "validation_error"
	ErrCodeUnavailable     = "service_unavailable"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeNoDevice        = "no_device"
	ErrCodeNotConnected    = "not_connected"
	ErrCodeRebooting       = "device_rebooting"
	ErrCodeOperationFailed = "operation_failed"
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

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDeviceError maps connection, driver and command errors to a status.
func writeDeviceError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	writeError(w, status, code, err.Error())
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, command.ErrEmpty),
		errors.Is(err, command.ErrSyntax),
		errors.Is(err, connection.ErrInvalidPath),
		errors.Is(err, connection.ErrInvalidOperation):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, driver.ErrUnknownPath),
		errors.Is(err, driver.ErrUnknownMethod),
		errors.Is(err, driver.ErrReadOnly):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, command.ErrRateLimited):
		return http.StatusTooManyRequests, ErrCodeRateLimited
	case errors.Is(err, connection.ErrNoDeviceFound):
		return http.StatusNotFound, ErrCodeNoDevice
	case errors.Is(err, connection.ErrConnectAborted):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, connection.ErrRebooting):
		return http.StatusServiceUnavailable, ErrCodeRebooting
	case errors.Is(err, connection.ErrNotConnected),
		errors.Is(err, connection.ErrReconnectExhausted):
		return http.StatusServiceUnavailable, ErrCodeNotConnected
	case errors.Is(err, connection.ErrProtectedOperationFailed):
		return http.StatusBadGateway, ErrCodeOperationFailed
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/unicro/uniscout/internal/radio"
	"github.com/unicro/uniscout/internal/scan"
)

// APIError is an error with its HTTP status and stable code.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// ErrBadRequest marks malformed requests.
var ErrBadRequest = errors.New("BAD_REQUEST")

// NewAPIError creates an API error.
func NewAPIError(code string, message string, statusCode int, details interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToAPIError maps engine errors to API codes.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var startErr *scan.StartError
	if errors.As(err, &startErr) {
		return startFailure(startErr)
	}

	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, scan.ErrInvalidScope):
		return NewAPIError("BAD_REQUEST", err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, scan.ErrAlreadyRunning):
		return NewAPIError("ALREADY_RUNNING", "A scan is already in progress", http.StatusConflict, nil)
	case errors.Is(err, scan.ErrScanFailed):
		return NewAPIError("SCAN_FAILED", "No technology could start", http.StatusServiceUnavailable, nil)
	case errors.Is(err, radio.ErrPermissionDenied):
		return NewAPIError("PERMISSION_DENIED", "Radio permission not granted", http.StatusForbidden, nil)
	case errors.Is(err, radio.ErrHardwareUnavailable):
		return NewAPIError("HARDWARE_UNAVAILABLE", "Radio hardware unavailable", http.StatusServiceUnavailable, nil)
	case errors.Is(err, context.DeadlineExceeded):
		return NewAPIError("TIMEOUT", "Operation did not finish in time", http.StatusGatewayTimeout, nil)
	}

	return NewAPIError("INTERNAL", "Internal server error", http.StatusInternalServerError,
		map[string]interface{}{"original": err.Error()})
}

// startFailure reports a run where every technology failed. When they all
// failed for the same class of reason that class is the code.
func startFailure(err *scan.StartError) *APIError {
	details := map[string]interface{}{"statuses": err.Statuses}

	code := ""
	for _, s := range err.Statuses {
		c := reasonCode(s.Reason)
		if code == "" {
			code = c
		} else if code != c {
			code = "SCAN_FAILED"
			break
		}
	}

	switch code {
	case "PERMISSION_DENIED":
		return NewAPIError(code, "Radio permission not granted", http.StatusForbidden, details)
	case "HARDWARE_UNAVAILABLE":
		return NewAPIError(code, "Radio hardware unavailable", http.StatusServiceUnavailable, details)
	default:
		return NewAPIError("SCAN_FAILED", "No technology could start", http.StatusServiceUnavailable, details)
	}
}

func reasonCode(reason radio.FailureReason) string {
	switch reason {
	case radio.ReasonPermissionDenied:
		return "PERMISSION_DENIED"
	case radio.ReasonHardwareAbsent, radio.ReasonHardwareDisabled:
		return "HARDWARE_UNAVAILABLE"
	default:
		return "SCAN_FAILED"
	}
}

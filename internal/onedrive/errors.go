// Package onedrive provides an HTTP client for the OneDrive for Business
// API with automatic retry, error classification, and the delta listing
// request model.
package onedrive

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, onedrive.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("onedrive: bad request")
	ErrUnauthorized = errors.New("onedrive: unauthorized")
	ErrForbidden    = errors.New("onedrive: forbidden")
	ErrNotFound     = errors.New("onedrive: not found")
	ErrConflict     = errors.New("onedrive: conflict")
	ErrGone         = errors.New("onedrive: resource gone")
	ErrThrottled    = errors.New("onedrive: throttled")
	ErrLocked       = errors.New("onedrive: resource locked")
	ErrServerError  = errors.New("onedrive: server error")
)

// APIError wraps a sentinel error with the HTTP status code, the service's
// machine-readable error code, the request ID, and the message body.
type APIError struct {
	StatusCode int
	Code       string
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("onedrive: HTTP %d %s (request-id: %s): %s", e.StatusCode, e.Code, e.RequestID, e.Message)
	}

	return fmt.Sprintf("onedrive: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// apiErrorBody mirrors the service's error payload.
type apiErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newAPIError builds an APIError from an error response. The body is parsed
// for the structured code/message pair when possible; otherwise the raw body
// becomes the message.
func newAPIError(statusCode int, requestID string, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: statusCode,
		RequestID:  requestID,
		Message:    string(body),
		Err:        classifyStatus(statusCode),
	}

	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Code != "" {
		apiErr.Code = parsed.Error.Code
		apiErr.Message = parsed.Error.Message
	}

	return apiErr
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusLocked:
		return ErrLocked
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		// 509 Bandwidth Limit Exceeded (SharePoint).
		const statusBandwidthExceeded = 509
		return code == statusBandwidthExceeded
	}
}

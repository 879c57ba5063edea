// Package errors defines the unified error taxonomy for gateway
// operations. Provider-specific failures are mapped to these types so
// the dispatch loop and the API boundary can reason about them uniformly.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// GatewayError represents a standardized error from the dispatch path.
type GatewayError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
		e.Type, e.Message, e.Provider, e.Model, e.StatusCode)
}

// HTTPStatusCode returns the HTTP status code to surface to the client.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Error type constants.
const (
	TypeInvalidRequest     = "invalid_request_error"
	TypePayloadTooLarge    = "payload_too_large_error"
	TypeRateLimit          = "rate_limit_error"
	TypeTimeout            = "timeout_error"
	TypeUpstream           = "upstream_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeInternalError      = "internal_error"
)

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// NewPayloadTooLargeError creates an oversized body error (413).
func NewPayloadTooLargeError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusRequestEntityTooLarge,
		Message:    message,
		Type:       TypePayloadTooLarge,
		Retryable:  false,
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewTimeoutError creates a timeout error (408).
func NewTimeoutError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusRequestTimeout,
		Message:    message,
		Type:       TypeTimeout,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewUpstreamError creates an upstream provider error (502).
func NewUpstreamError(provider, model string, statusCode int, message string) *GatewayError {
	code := http.StatusBadGateway
	if statusCode >= 500 {
		code = statusCode
	}
	return &GatewayError{
		StatusCode: code,
		Message:    message,
		Type:       TypeUpstream,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeServiceUnavailable,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternalError,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// As extracts a *GatewayError from anywhere in err's chain.
func As(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// IsClientError reports whether the error must be surfaced to the
// caller without any failover retry.
func IsClientError(e *GatewayError) bool {
	switch e.Type {
	case TypeInvalidRequest, TypePayloadTooLarge:
		return true
	}
	return false
}

// IsCooldownRequired reports whether a provider returning the given
// status should be placed in cooldown. Most 4xx statuses indicate a
// client problem and do not penalize the provider.
func IsCooldownRequired(statusCode int) bool {
	if statusCode >= 400 && statusCode < 500 {
		switch statusCode {
		case http.StatusTooManyRequests,
			http.StatusUnauthorized,
			http.StatusRequestTimeout:
			return true
		default:
			return false
		}
	}
	return statusCode >= 500
}

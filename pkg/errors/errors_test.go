package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *GatewayError
		wantType   string
		wantStatus int
		retryable  bool
	}{
		{"invalid request", NewInvalidRequestError("openai", "gpt-4", "bad"), TypeInvalidRequest, 400, false},
		{"payload too large", NewPayloadTooLargeError("big"), TypePayloadTooLarge, 413, false},
		{"rate limit", NewRateLimitError("openai", "gpt-4", "slow down"), TypeRateLimit, 429, true},
		{"timeout", NewTimeoutError("openai", "gpt-4", "slow"), TypeTimeout, 408, true},
		{"upstream", NewUpstreamError("openai", "gpt-4", 502, "boom"), TypeUpstream, 502, true},
		{"service unavailable", NewServiceUnavailableError("", "gpt-4", "nobody"), TypeServiceUnavailable, 503, true},
		{"internal", NewInternalError("", "", "oops"), TypeInternalError, 500, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantType, tc.err.Type)
			assert.Equal(t, tc.wantStatus, tc.err.HTTPStatusCode())
			assert.Equal(t, tc.retryable, tc.err.Retryable)
		})
	}
}

func TestUpstreamError_StatusNormalization(t *testing.T) {
	assert.Equal(t, 502, NewUpstreamError("p", "m", 404, "nope").HTTPStatusCode(),
		"sub-500 upstream statuses surface as bad gateway")
	assert.Equal(t, 504, NewUpstreamError("p", "m", 504, "slow").HTTPStatusCode(),
		"5xx statuses pass through")
}

func TestGatewayError_Error(t *testing.T) {
	err := NewRateLimitError("openai", "gpt-4", "quota exceeded")
	msg := err.Error()
	assert.Contains(t, msg, "rate_limit_error")
	assert.Contains(t, msg, "quota exceeded")
	assert.Contains(t, msg, "openai")
}

func TestAs(t *testing.T) {
	t.Run("direct", func(t *testing.T) {
		ge, ok := As(NewTimeoutError("openai", "gpt-4", "slow"))
		assert.True(t, ok)
		assert.Equal(t, TypeTimeout, ge.Type)
	})

	t.Run("wrapped", func(t *testing.T) {
		wrapped := fmt.Errorf("dispatch: %w", NewRateLimitError("openai", "gpt-4", "quota"))
		ge, ok := As(wrapped)
		assert.True(t, ok)
		assert.Equal(t, http.StatusTooManyRequests, ge.StatusCode)
	})

	t.Run("unrelated", func(t *testing.T) {
		ge, ok := As(fmt.Errorf("boom"))
		assert.False(t, ok)
		assert.Nil(t, ge)
	})
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(NewInvalidRequestError("", "", "bad")))
	assert.True(t, IsClientError(NewPayloadTooLargeError("big")))
	assert.False(t, IsClientError(NewRateLimitError("", "", "slow")))
	assert.False(t, IsClientError(NewUpstreamError("", "", 502, "boom")))
}

func TestIsCooldownRequired(t *testing.T) {
	t.Run("server errors", func(t *testing.T) {
		for _, code := range []int{500, 502, 503, 504} {
			assert.True(t, IsCooldownRequired(code), "status %d", code)
		}
	})

	t.Run("provider-health 4xx statuses", func(t *testing.T) {
		assert.True(t, IsCooldownRequired(http.StatusTooManyRequests))
		assert.True(t, IsCooldownRequired(http.StatusUnauthorized))
		assert.True(t, IsCooldownRequired(http.StatusRequestTimeout))
	})

	t.Run("plain client errors", func(t *testing.T) {
		assert.False(t, IsCooldownRequired(http.StatusBadRequest))
		assert.False(t, IsCooldownRequired(http.StatusNotFound))
		assert.False(t, IsCooldownRequired(http.StatusUnprocessableEntity))
	})

	t.Run("success", func(t *testing.T) {
		assert.False(t, IsCooldownRequired(http.StatusOK))
	})
}

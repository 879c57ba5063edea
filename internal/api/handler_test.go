package api

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimuxlabs/aimux/internal/balancer"
	"github.com/aimuxlabs/aimux/internal/failover"
	"github.com/aimuxlabs/aimux/internal/observability"
	"github.com/aimuxlabs/aimux/internal/provider"
	gwerrors "github.com/aimuxlabs/aimux/pkg/errors"
	"github.com/aimuxlabs/aimux/pkg/types"
)

type stubDispatcher struct {
	resp    json.RawMessage
	err     error
	lastReq *types.CompletionRequest
	lastCtx context.Context
}

func (s *stubDispatcher) Dispatch(ctx context.Context, req *types.CompletionRequest) (json.RawMessage, error) {
	s.lastReq = req
	s.lastCtx = ctx
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func newTestRouter(d Dispatcher) http.Handler {
	logger := slog.Default()
	h := NewHandler(d, logger, 1024)
	fo := failover.NewManager([]string{"openai"})
	lb := balancer.New(balancer.StrategyRoundRobin)
	s := NewStatusHandler(fo, lb, nil)
	return NewRouter(h, s, logger)
}

func postCompletion(router http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandler_Completions(t *testing.T) {
	d := &stubDispatcher{resp: json.RawMessage(`{"id":"chatcmpl-1","provider":"openai"}`)}
	router := newTestRouter(d)

	rec := postCompletion(router, `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"chatcmpl-1","provider":"openai"}`, rec.Body.String())
	require.NotNil(t, d.lastReq)
	assert.Equal(t, "gpt-4", d.lastReq.Model)
}

func TestHandler_InvalidJSON(t *testing.T) {
	router := newTestRouter(&stubDispatcher{})

	rec := postCompletion(router, `{"model":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_error", decodeError(t, rec).Error.Type)
}

func TestHandler_ValidationErrors(t *testing.T) {
	router := newTestRouter(&stubDispatcher{})

	tests := []struct {
		name string
		body string
	}{
		{"missing model", `{"messages":[{"role":"user","content":"hi"}]}`},
		{"missing messages", `{"model":"gpt-4"}`},
		{"message without role", `{"model":"gpt-4","messages":[{"content":"hi"}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := postCompletion(router, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_request_error", decodeError(t, rec).Error.Type)
		})
	}
}

func TestHandler_PayloadTooLarge(t *testing.T) {
	router := newTestRouter(&stubDispatcher{})

	big := `{"model":"gpt-4","messages":[{"role":"user","content":"` + strings.Repeat("x", 2048) + `"}]}`
	rec := postCompletion(router, big)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large_error", decodeError(t, rec).Error.Type)
}

func TestHandler_DispatchErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"service unavailable", gwerrors.NewServiceUnavailableError("", "gpt-4", "no providers"), 503, "service_unavailable_error"},
		{"rate limited", gwerrors.NewRateLimitError("openai", "gpt-4", "quota"), 429, "rate_limit_error"},
		{"timeout", gwerrors.NewTimeoutError("openai", "gpt-4", "slow"), 408, "timeout_error"},
		{"upstream", gwerrors.NewUpstreamError("openai", "gpt-4", 502, "bad gateway"), 502, "upstream_error"},
		{"wrapped gateway error", fmt.Errorf("dispatch: %w", gwerrors.NewRateLimitError("openai", "gpt-4", "quota")), 429, "rate_limit_error"},
		{"plain error", fmt.Errorf("boom"), 500, "internal_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubDispatcher{err: tc.err})
			rec := postCompletion(router, `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantType, decodeError(t, rec).Error.Type)
		})
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(&stubDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_RequestIDPropagation(t *testing.T) {
	d := &stubDispatcher{resp: json.RawMessage(`{}`)}
	router := newTestRouter(d)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		bytes.NewReader([]byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)))
	req.Header.Set(observability.RequestIDHeader, "req-abc123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "req-abc123", rec.Header().Get(observability.RequestIDHeader))
	assert.Equal(t, "req-abc123", observability.RequestIDFromContext(d.lastCtx))
}

func TestHandler_AuthorizationPassthrough(t *testing.T) {
	d := &stubDispatcher{resp: json.RawMessage(`{}`)}
	router := newTestRouter(d)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Authorization", "Bearer sk-caller")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "Bearer sk-caller", provider.AuthorizationFromContext(d.lastCtx))
}

type panicDispatcher struct{}

func (panicDispatcher) Dispatch(context.Context, *types.CompletionRequest) (json.RawMessage, error) {
	panic("boom")
}

func TestHandler_PanicRecovery(t *testing.T) {
	router := newTestRouter(panicDispatcher{})

	rec := postCompletion(router, `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeError(t, rec).Error.Type)
}

func TestStatusHandler_Status(t *testing.T) {
	fo := failover.NewManager([]string{"openai", "anthropic"})
	lb := balancer.New(balancer.StrategyRoundRobin)
	s := NewStatusHandler(fo, lb, nil)

	fo.MarkFailed("anthropic", 10*time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	s.Status(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status    string `json:"status"`
		Strategy  string `json:"strategy"`
		Providers []struct {
			Name      string `json:"name"`
			Available bool   `json:"available"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "round_robin", resp.Strategy)
	require.Len(t, resp.Providers, 2)
	assert.True(t, resp.Providers[0].Available)
	assert.False(t, resp.Providers[1].Available)
}

func TestStatusHandler_Readiness(t *testing.T) {
	fo := failover.NewManager([]string{"openai"})
	lb := balancer.New(balancer.StrategyRoundRobin)
	s := NewStatusHandler(fo, lb, nil)

	t.Run("ready with an available provider", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unavailable when every provider is down", func(t *testing.T) {
		fo.MarkFailed("openai", time.Hour)
		rec := httptest.NewRecorder()
		s.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimuxlabs/aimux/internal/config"
	gwerrors "github.com/aimuxlabs/aimux/pkg/errors"
	"github.com/aimuxlabs/aimux/pkg/types"
)

func testCompletionRequest() *types.CompletionRequest {
	raw, _ := json.Marshal("hello")
	return &types.CompletionRequest{
		Model:    "gpt-4",
		Messages: []types.ChatMessage{{Role: "user", Content: raw}},
	}
}

func providerFor(t *testing.T, upstream *httptest.Server, mutate func(*config.ProviderConfig)) *HTTPProvider {
	t.Helper()
	cfg := config.ProviderConfig{
		Name:     "test",
		Endpoint: upstream.URL,
		APIKey:   "sk-test",
		Timeout:  2 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewHTTPProvider(cfg, false)
}

func TestHTTPProvider_Forward(t *testing.T) {
	var gotPath, gotAuth, gotCustom string
	var gotBody types.CompletionRequest

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("X-Org")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-1","choices":[]}`))
	}))
	defer upstream.Close()

	p := providerFor(t, upstream, func(cfg *config.ProviderConfig) {
		cfg.Headers = map[string]string{"X-Org": "acme"}
	})

	resp, err := p.Forward(context.Background(), testCompletionRequest())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id":"chatcmpl-1","choices":[]}`, string(resp.Body))
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "acme", gotCustom)
	assert.Equal(t, "gpt-4", gotBody.Model)
}

func TestHTTPProvider_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantType   string
		wantStatus int
	}{
		{"rate limited", 429, `{"error":{"message":"slow down"}}`, "rate_limit_error", 429},
		{"timeout", 504, `{}`, "timeout_error", 408},
		{"unavailable", 503, `{}`, "service_unavailable_error", 503},
		{"bad gateway", 502, `{"error":{"message":"upstream exploded"}}`, "upstream_error", 502},
		{"bad request", 400, `{"error":{"message":"unknown model"}}`, "upstream_error", 502},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer upstream.Close()

			p := providerFor(t, upstream, nil)
			_, err := p.Forward(context.Background(), testCompletionRequest())
			require.Error(t, err)

			ge, ok := err.(*gwerrors.GatewayError)
			require.True(t, ok)
			assert.Equal(t, tc.wantType, ge.Type)
			assert.Equal(t, tc.wantStatus, ge.HTTPStatusCode())
			assert.Equal(t, "test", ge.Provider)
		})
	}
}

func TestHTTPProvider_UpstreamErrorMessageExtracted(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":{"message":"model overloaded","type":"overloaded_error"}}`))
	}))
	defer upstream.Close()

	p := providerFor(t, upstream, nil)
	_, err := p.Forward(context.Background(), testCompletionRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestHTTPProvider_Unreachable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close() // refuse connections

	p := providerFor(t, upstream, nil)
	_, err := p.Forward(context.Background(), testCompletionRequest())
	require.Error(t, err)

	ge, ok := err.(*gwerrors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, ge.HTTPStatusCode())
}

func TestHTTPProvider_ContextTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()

	p := providerFor(t, upstream, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := p.Forward(ctx, testCompletionRequest())
	require.Error(t, err)

	ge, ok := err.(*gwerrors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, "timeout_error", ge.Type)
}

func TestHTTPProvider_AuthorizationPassthrough(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	cfg := config.ProviderConfig{Name: "test", Endpoint: upstream.URL, APIKey: "sk-config"}

	t.Run("passthrough uses the caller credential", func(t *testing.T) {
		p := NewHTTPProvider(cfg, true)
		ctx := ContextWithAuthorization(context.Background(), "Bearer sk-caller")
		_, err := p.Forward(ctx, testCompletionRequest())
		require.NoError(t, err)
		assert.Equal(t, "Bearer sk-caller", gotAuth)
	})

	t.Run("passthrough falls back to the configured key", func(t *testing.T) {
		p := NewHTTPProvider(cfg, true)
		_, err := p.Forward(context.Background(), testCompletionRequest())
		require.NoError(t, err)
		assert.Equal(t, "Bearer sk-config", gotAuth)
	})

	t.Run("without passthrough the caller credential is ignored", func(t *testing.T) {
		p := NewHTTPProvider(cfg, false)
		ctx := ContextWithAuthorization(context.Background(), "Bearer sk-caller")
		_, err := p.Forward(ctx, testCompletionRequest())
		require.NoError(t, err)
		assert.Equal(t, "Bearer sk-config", gotAuth)
	})
}

func TestHTTPProvider_SupportsModel(t *testing.T) {
	cfg := config.ProviderConfig{Name: "test", Endpoint: "http://localhost", Models: []string{"gpt-4", "gpt-4o"}}
	p := NewHTTPProvider(cfg, false)

	assert.True(t, p.SupportsModel("gpt-4"))
	assert.False(t, p.SupportsModel("claude-3"))

	open := NewHTTPProvider(config.ProviderConfig{Name: "any", Endpoint: "http://localhost"}, false)
	assert.True(t, open.SupportsModel("anything"), "no model list means every model")
}

func TestHTTPProvider_RateLimit(t *testing.T) {
	cfg := config.ProviderConfig{Name: "test", Endpoint: "http://localhost", MaxRequestsPerMinute: 2}
	p := NewHTTPProvider(cfg, false)

	assert.True(t, p.AllowRequest())
	assert.True(t, p.AllowRequest())
	assert.False(t, p.AllowRequest(), "burst budget exhausted")

	unlimited := NewHTTPProvider(config.ProviderConfig{Name: "free", Endpoint: "http://localhost"}, false)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.AllowRequest())
	}
}

func TestHTTPProvider_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/models", r.URL.Path)
			w.Write([]byte(`{"data":[]}`))
		}))
		defer upstream.Close()

		p := providerFor(t, upstream, nil)
		assert.NoError(t, p.HealthCheck(context.Background()))
	})

	t.Run("server error is unhealthy", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer upstream.Close()

		p := providerFor(t, upstream, nil)
		assert.Error(t, p.HealthCheck(context.Background()))
	})

	t.Run("auth failure still proves liveness", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer upstream.Close()

		p := providerFor(t, upstream, nil)
		assert.NoError(t, p.HealthCheck(context.Background()))
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewHTTPProvider(config.ProviderConfig{Name: "a", Endpoint: "http://a", Models: []string{"gpt-4"}}, false)))
	require.NoError(t, r.Register(NewHTTPProvider(config.ProviderConfig{Name: "b", Endpoint: "http://b"}, false)))

	t.Run("duplicate rejected", func(t *testing.T) {
		err := r.Register(NewHTTPProvider(config.ProviderConfig{Name: "a", Endpoint: "http://dup"}, false))
		assert.Error(t, err)
	})

	t.Run("lookup", func(t *testing.T) {
		p, ok := r.Get("a")
		require.True(t, ok)
		assert.Equal(t, "a", p.Name())

		_, ok = r.Get("missing")
		assert.False(t, ok)
	})

	t.Run("order preserved", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b"}, r.Names())
	})

	t.Run("model filter", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b"}, r.NamesForModel("gpt-4"))
		assert.Equal(t, []string{"b"}, r.NamesForModel("claude-3"))
	})
}

func TestBuildRegistry(t *testing.T) {
	disabled := false
	cfgs := []config.ProviderConfig{
		{Name: "a", Endpoint: "http://a"},
		{Name: "b", Endpoint: "http://b", Enabled: &disabled},
	}

	r, err := BuildRegistry(cfgs, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, r.Names(), "disabled providers are skipped")

	_, err = BuildRegistry([]config.ProviderConfig{{Name: "b", Endpoint: "http://b", Enabled: &disabled}}, false)
	assert.Error(t, err, "all providers disabled")
}

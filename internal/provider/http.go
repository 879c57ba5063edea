package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/aimuxlabs/aimux/internal/config"
	"github.com/aimuxlabs/aimux/pkg/errors"
	"github.com/aimuxlabs/aimux/pkg/types"
)

const (
	completionsPath = "/chat/completions"
	modelsPath      = "/models"

	// defaultTimeout bounds a single upstream call when the config
	// leaves it unset.
	defaultTimeout = 30 * time.Second

	// maxUpstreamBody caps how much of an upstream response is read.
	maxUpstreamBody = 32 << 20
)

// HTTPProvider forwards requests to an OpenAI-compatible HTTP endpoint.
type HTTPProvider struct {
	name            string
	endpoint        string
	apiKey          string
	models          []string
	headers         map[string]string
	passthroughAuth bool
	client          *http.Client
	limiter         *rate.Limiter
}

// NewHTTPProvider builds a provider from its configuration block.
func NewHTTPProvider(cfg config.ProviderConfig, passthroughAuth bool) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var limiter *rate.Limiter
	if cfg.MaxRequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerMinute)/60, cfg.MaxRequestsPerMinute)
	}

	return &HTTPProvider{
		name:            cfg.Name,
		endpoint:        strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:          cfg.APIKey,
		models:          cfg.Models,
		headers:         cfg.Headers,
		passthroughAuth: passthroughAuth,
		client:          &http.Client{Timeout: timeout},
		limiter:         limiter,
	}
}

// Name returns the provider identifier.
func (p *HTTPProvider) Name() string {
	return p.name
}

// SupportsModel checks the configured model list. An empty list serves
// every model.
func (p *HTTPProvider) SupportsModel(model string) bool {
	if len(p.models) == 0 {
		return true
	}
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

// AllowRequest consumes one rate limit token. Providers without a
// configured limit always allow.
func (p *HTTPProvider) AllowRequest() bool {
	if p.limiter == nil {
		return true
	}
	return p.limiter.Allow()
}

// Forward sends the completion request upstream. The response body is
// returned verbatim for 2xx statuses; anything else maps to a
// GatewayError.
func (p *HTTPProvider) Forward(ctx context.Context, req *types.CompletionRequest) (*types.ProviderResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.NewInternalError(p.name, req.Model, fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError(p.name, req.Model, fmt.Sprintf("create request: %v", err))
	}
	p.setHeaders(ctx, httpReq)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.mapTransportError(ctx, req.Model, err, time.Since(start))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, errors.NewUpstreamError(p.name, req.Model, http.StatusBadGateway, fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, p.mapStatusError(req.Model, resp.StatusCode, respBody)
	}

	return &types.ProviderResponse{
		StatusCode: resp.StatusCode,
		Body:       respBody,
	}, nil
}

// HealthCheck probes the models listing endpoint.
func (p *HTTPProvider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+modelsPath, nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	p.setHeaders(ctx, httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health probe %s: %w", p.name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("health probe %s: status %d", p.name, resp.StatusCode)
	}
	return nil
}

func (p *HTTPProvider) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Content-Type", "application/json")

	auth := ""
	if p.passthroughAuth {
		auth = AuthorizationFromContext(ctx)
	}
	if auth == "" && p.apiKey != "" {
		auth = "Bearer " + p.apiKey
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
}

func (p *HTTPProvider) mapTransportError(ctx context.Context, model string, err error, elapsed time.Duration) error {
	if ctx.Err() == context.DeadlineExceeded || strings.Contains(err.Error(), "Client.Timeout") {
		return errors.NewTimeoutError(p.name, model, fmt.Sprintf("upstream timed out after %s", elapsed.Round(time.Millisecond)))
	}
	return errors.NewUpstreamError(p.name, model, http.StatusBadGateway, fmt.Sprintf("upstream unreachable: %v", err))
}

func (p *HTTPProvider) mapStatusError(model string, statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	message := fmt.Sprintf("upstream returned status %d", statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return errors.NewRateLimitError(p.name, model, message)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return errors.NewTimeoutError(p.name, model, message)
	case http.StatusServiceUnavailable:
		return errors.NewServiceUnavailableError(p.name, model, message)
	default:
		return errors.NewUpstreamError(p.name, model, statusCode, message)
	}
}

var _ Provider = (*HTTPProvider)(nil)

// Package provider adapts upstream model APIs behind a uniform
// forwarding interface.
package provider

import (
	"context"

	"github.com/aimuxlabs/aimux/pkg/types"
)

// Provider forwards completion requests to one upstream endpoint.
type Provider interface {
	// Name returns the configured provider identifier.
	Name() string

	// Forward sends the request upstream and returns the raw response.
	// Non-2xx upstream statuses are returned as *errors.GatewayError.
	Forward(ctx context.Context, req *types.CompletionRequest) (*types.ProviderResponse, error)

	// HealthCheck probes the upstream endpoint for liveness.
	HealthCheck(ctx context.Context) error

	// SupportsModel reports whether the provider serves the model. A
	// provider with no configured model list serves everything.
	SupportsModel(model string) bool

	// AllowRequest consumes one rate limit token, reporting false when
	// the provider's per-minute budget is exhausted.
	AllowRequest() bool
}

type authKey struct{}

// ContextWithAuthorization stores the inbound Authorization header so a
// passthrough-configured provider can reuse the caller's credentials.
func ContextWithAuthorization(ctx context.Context, header string) context.Context {
	if header == "" {
		return ctx
	}
	return context.WithValue(ctx, authKey{}, header)
}

// AuthorizationFromContext retrieves a previously stored Authorization
// header, or "".
func AuthorizationFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(authKey{}).(string); ok {
		return v
	}
	return ""
}

// Package api provides the HTTP surface of the gateway: the completion
// endpoint, status, health probes, and metrics.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/aimuxlabs/aimux/internal/observability"
	"github.com/aimuxlabs/aimux/internal/provider"
	"github.com/aimuxlabs/aimux/pkg/errors"
	"github.com/aimuxlabs/aimux/pkg/types"
)

// defaultMaxBodySize caps request bodies when the config leaves the
// limit unset.
const defaultMaxBodySize = 10 << 20

// Dispatcher is the completion pipeline the handler delegates to.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *types.CompletionRequest) (json.RawMessage, error)
}

// Handler serves the completion endpoint.
type Handler struct {
	dispatcher  Dispatcher
	logger      *slog.Logger
	maxBodySize int64
}

// NewHandler creates a completion handler. maxBodySize of zero applies
// the default limit.
func NewHandler(dispatcher Dispatcher, logger *slog.Logger, maxBodySize int64) *Handler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}
	return &Handler{
		dispatcher:  dispatcher,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// Completions handles POST /v1/chat/completions.
func (h *Handler) Completions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize+1))
	if err != nil {
		writeError(w, errors.NewInvalidRequestError("", "", "failed to read request body"))
		return
	}
	if int64(len(body)) > h.maxBodySize {
		writeError(w, errors.NewPayloadTooLargeError("request body exceeds size limit"))
		return
	}

	var req types.CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errors.NewInvalidRequestError("", "", "invalid JSON: "+err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, errors.NewInvalidRequestError("", req.Model, err.Error()))
		return
	}

	ctx := provider.ContextWithAuthorization(r.Context(), r.Header.Get("Authorization"))

	resp, err := h.dispatcher.Dispatch(ctx, &req)
	if err != nil {
		ge, ok := errors.As(err)
		if !ok {
			ge = errors.NewInternalError("", req.Model, err.Error())
		}
		h.logger.Error("dispatch failed",
			slog.String("model", req.Model),
			slog.String("type", ge.Type),
			slog.String("request_id", observability.RequestIDFromContext(ctx)),
			slog.String("error", ge.Message))
		writeError(w, ge)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp)
}

// ErrorResponse is the OpenAI-compatible error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload.
type ErrorDetail struct {
	Message  string `json:"message"`
	Type     string `json:"type"`
	Provider string `json:"provider,omitempty"`
}

func writeError(w http.ResponseWriter, ge *errors.GatewayError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ge.HTTPStatusCode())
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Message:  ge.Message,
			Type:     ge.Type,
			Provider: ge.Provider,
		},
	})
}

// RecoverMiddleware converts handler panics into 500 responses.
func RecoverMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("handler panic",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec))
				writeError(w, errors.NewInternalError("", "", "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

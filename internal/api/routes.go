package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aimuxlabs/aimux/internal/observability"
)

// NewRouter assembles the full HTTP surface with request ID and panic
// recovery middleware applied.
func NewRouter(h *Handler, s *StatusHandler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat/completions", h.Completions)
	mux.HandleFunc("GET /v1/status", s.Status)
	mux.HandleFunc("GET /health/live", s.Live)
	mux.HandleFunc("GET /health/ready", s.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = RecoverMiddleware(logger, handler)
	handler = observability.RequestIDMiddleware(handler)
	return handler
}

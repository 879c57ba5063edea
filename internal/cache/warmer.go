package cache

import (
	"context"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/aimuxlabs/aimux/pkg/types"
)

// Dispatcher is the slice of the dispatch layer the warmer needs:
// sending a request through the normal path so its result lands in
// the cache.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *types.CompletionRequest) (json.RawMessage, error)
}

// WarmupQuery is one warming request.
type WarmupQuery struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// commonWarmupPrompts is the built-in warming set used when no
// operator-supplied queries are configured.
var commonWarmupPrompts = []string{
	"Hello, how are you?",
	"What is the weather today?",
	"Explain machine learning",
	"Write a simple function",
	"Help me debug this code",
}

// Warmer pre-populates the cache by issuing representative queries
// through the dispatch path before production traffic arrives.
type Warmer struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewWarmer creates a cache warmer.
func NewWarmer(dispatcher Dispatcher, logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{dispatcher: dispatcher, logger: logger}
}

// WarmCommon issues the built-in query set for the given model.
// Individual failures are logged and skipped; warming never aborts on
// partial failure.
func (w *Warmer) WarmCommon(ctx context.Context, model string) int {
	queries := make([]WarmupQuery, 0, len(commonWarmupPrompts))
	for _, prompt := range commonWarmupPrompts {
		queries = append(queries, WarmupQuery{
			Model:       model,
			Prompt:      prompt,
			MaxTokens:   100,
			Temperature: 0.7,
		})
	}
	return w.Warm(ctx, queries)
}

// Warm issues the given queries and returns how many succeeded.
func (w *Warmer) Warm(ctx context.Context, queries []WarmupQuery) int {
	warmed := 0
	for _, q := range queries {
		if ctx.Err() != nil {
			return warmed
		}
		req, err := buildWarmupRequest(q)
		if err != nil {
			w.logger.Warn("cache warmup query skipped", "model", q.Model, "error", err)
			continue
		}
		if _, err := w.dispatcher.Dispatch(ctx, req); err != nil {
			w.logger.Warn("cache warmup query failed", "model", q.Model, "error", err)
			continue
		}
		warmed++
	}
	w.logger.Info("cache warmup complete", "warmed", warmed, "total", len(queries))
	return warmed
}

func buildWarmupRequest(q WarmupQuery) (*types.CompletionRequest, error) {
	content, err := json.Marshal(q.Prompt)
	if err != nil {
		return nil, err
	}
	temp := q.Temperature
	return &types.CompletionRequest{
		Model: q.Model,
		Messages: []types.ChatMessage{
			{Role: "user", Content: content},
		},
		MaxTokens:   q.MaxTokens,
		Temperature: &temp,
	}, nil
}

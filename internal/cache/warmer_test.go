package cache

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"

	"github.com/aimuxlabs/aimux/pkg/types"
)

type fakeDispatcher struct {
	requests []*types.CompletionRequest
	failOn   map[string]bool
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req *types.CompletionRequest) (json.RawMessage, error) {
	f.requests = append(f.requests, req)
	if f.failOn[req.Messages[0].ContentText()] {
		return nil, errors.New("upstream down")
	}
	return json.RawMessage(`{"id":"warm"}`), nil
}

func TestWarmer_WarmCommon(t *testing.T) {
	fake := &fakeDispatcher{}
	warmer := NewWarmer(fake, slog.Default())

	warmed := warmer.WarmCommon(context.Background(), "gpt-4")

	assert.Equal(t, len(commonWarmupPrompts), warmed)
	assert.Len(t, fake.requests, len(commonWarmupPrompts))
	for _, req := range fake.requests {
		assert.Equal(t, "gpt-4", req.Model)
		assert.Equal(t, 100, req.MaxTokens)
		assert.NotNil(t, req.Temperature)
	}
}

func TestWarmer_PartialFailureContinues(t *testing.T) {
	fake := &fakeDispatcher{failOn: map[string]bool{"Explain machine learning": true}}
	warmer := NewWarmer(fake, slog.Default())

	warmed := warmer.WarmCommon(context.Background(), "gpt-4")

	assert.Equal(t, len(commonWarmupPrompts)-1, warmed)
	assert.Len(t, fake.requests, len(commonWarmupPrompts), "failures do not stop the run")
}

func TestWarmer_CanceledContextStops(t *testing.T) {
	fake := &fakeDispatcher{}
	warmer := NewWarmer(fake, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	warmed := warmer.Warm(ctx, []WarmupQuery{{Model: "gpt-4", Prompt: "hello"}})
	assert.Zero(t, warmed)
	assert.Empty(t, fake.requests)
}

func TestWarmer_CustomQueries(t *testing.T) {
	fake := &fakeDispatcher{}
	warmer := NewWarmer(fake, slog.Default())

	queries := []WarmupQuery{
		{Model: "gpt-4", Prompt: "summarize the report", MaxTokens: 50, Temperature: 0.2},
		{Model: "claude-3", Prompt: "translate to French", MaxTokens: 80, Temperature: 0.1},
	}
	warmed := warmer.Warm(context.Background(), queries)

	assert.Equal(t, 2, warmed)
	assert.Equal(t, "gpt-4", fake.requests[0].Model)
	assert.Equal(t, "claude-3", fake.requests[1].Model)
	assert.Equal(t, 50, fake.requests[0].MaxTokens)
}

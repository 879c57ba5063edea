package metrics

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecorder_EmitsLogLine(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewJSONHandler(lockedWriter{&mu, &buf}, nil))

	r := NewRecorder(16, logger)
	r.Record(Event{
		RequestID: "req-1",
		Model:     "gpt-4",
		Provider:  "openai",
		Success:   true,
		Latency:   42 * time.Millisecond,
		Timestamp: time.Now(),
	})
	r.Close()

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	assert.Contains(t, out, "request completed")
	assert.Contains(t, out, "req-1")
	assert.Contains(t, out, "openai")
}

func TestRecorder_NeverBlocks(t *testing.T) {
	// Tiny buffer and no consumer headroom: floods must drop, not hang.
	r := NewRecorder(1, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			r.Record(Event{RequestID: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked under a full buffer")
	}
	r.Close()
}

func TestRecorder_CloseDrains(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(lockedWriter{&mu, &buf}, nil))

	r := NewRecorder(64, logger)
	for i := 0; i < 10; i++ {
		r.Record(Event{RequestID: "drain"})
	}
	r.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, bytes.Count(buf.Bytes(), []byte("drain")))
}

type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

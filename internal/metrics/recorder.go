package metrics

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Event is one per-request record emitted after dispatch completes.
type Event struct {
	RequestID string
	Model     string
	Provider  string
	CacheHit  bool
	Success   bool
	Retries   int
	Latency   time.Duration
	Timestamp time.Time
}

// Recorder emits a structured log line per request without ever
// blocking the response path. Events are consumed by a single
// background goroutine; when the buffer is full the event is dropped.
type Recorder struct {
	events  chan Event
	dropped atomic.Int64
	logger  *slog.Logger
	done    chan struct{}
}

// NewRecorder creates a recorder with the given buffer size and starts
// its consumer goroutine.
func NewRecorder(bufferSize int, logger *slog.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		events: make(chan Event, bufferSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record submits an event. It never blocks: if the buffer is full the
// event is dropped and counted.
func (r *Recorder) Record(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded due to a full buffer.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) run() {
	for ev := range r.events {
		r.logger.Info("request completed",
			slog.String("request_id", ev.RequestID),
			slog.String("model", ev.Model),
			slog.String("provider", ev.Provider),
			slog.Bool("cache_hit", ev.CacheHit),
			slog.Bool("success", ev.Success),
			slog.Int("retries", ev.Retries),
			slog.Duration("latency", ev.Latency),
		)
	}
	close(r.done)
}

// Close stops the consumer after draining buffered events.
func (r *Recorder) Close() {
	close(r.events)
	<-r.done
}

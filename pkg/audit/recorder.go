package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/portcullis/pkg/observability"
)

// Sink is anything that can persist a decision event.
type Sink interface {
	Log(ctx context.Context, event *DecisionEvent) error
}

const defaultBufferSize = 1024

// Recorder decouples the request path from the audit store: Record is
// non-blocking, and a single background worker drains the buffer. When
// the buffer is full the event is dropped and counted; auditing must
// never become the availability bottleneck of the gate.
type Recorder struct {
	sink   Sink
	logger *observability.Logger

	events  chan *DecisionEvent
	dropped atomic.Uint64

	stopOnce sync.Once
	done     chan struct{}
}

// NewRecorder starts the recorder's worker. bufferSize <= 0 falls back to
// the default.
func NewRecorder(sink Sink, logger *observability.Logger, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	r := &Recorder{
		sink:   sink,
		logger: logger,
		events: make(chan *DecisionEvent, bufferSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues an event without blocking.
func (r *Recorder) Record(event *DecisionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case r.events <- event:
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.logger.WithField("dropped_total", r.dropped.Load()).Warn("audit buffer full, dropping decision events")
		}
	}
}

// Dropped returns the number of events lost to a full buffer.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close drains buffered events and stops the worker.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() {
		close(r.events)
		<-r.done
	})
}

func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.Log(ctx, event); err != nil {
			r.logger.WithError(err).Warn("failed to persist decision event")
		}
		cancel()
	}
}

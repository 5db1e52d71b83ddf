package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/jsr77/internal/event"
)

// Recorder copies notifications from a bus to its sinks. Emitting never
// waits on a sink: notifications are queued and a full queue drops them.
// Sink errors are logged and counted, never returned.
type Recorder struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
	types   []event.Type

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	once    sync.Once
	err     error
	bus     *event.Emitter
	sub     event.Subscription
	dropped atomic.Uint64
	failed  atomic.Uint64
	sent    atomic.Uint64
}

type RecorderOption func(*Recorder)

func WithLogger(l *slog.Logger) RecorderOption { return func(r *Recorder) { r.logger = l } }

// WithTimeout bounds each Send call.
func WithTimeout(d time.Duration) RecorderOption { return func(r *Recorder) { r.timeout = d } }

// WithQueueSize sets how many notifications may wait for the sinks.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) { r.queue = make(chan Event, n) }
}

// WithTypes restricts recording to the given notification types.
func WithTypes(types ...event.Type) RecorderOption {
	return func(r *Recorder) { r.types = types }
}

// NewRecorder subscribes to bus and starts delivering to sinks.
func NewRecorder(bus *event.Emitter, sinks []Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sinks:   append([]Sink(nil), sinks...),
		logger:  slog.Default(),
		timeout: 5 * time.Second,
		queue:   make(chan Event, 1024),
		done:    make(chan struct{}),
		bus:     bus,
	}
	for _, o := range opts {
		o(r)
	}
	r.sub = bus.Subscribe(r.enqueue, r.types...)
	go r.run()
	return r
}

func (r *Recorder) enqueue(n event.Notification) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- FromNotification(n):
	default:
		r.dropped.Add(1)
		r.logger.Warn("History queue full, notification dropped", "type", string(n.Type), "source", n.Source.String())
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			err := s.Send(ctx, e)
			cancel()
			if err != nil {
				r.failed.Add(1)
				r.logger.Error("History sink failed", "type", e.Type, "source", e.Source, "error", err)
				continue
			}
			r.sent.Add(1)
		}
	}
}

// Stats reports delivered, failed and dropped counts.
func (r *Recorder) Stats() (sent, failed, dropped uint64) {
	return r.sent.Load(), r.failed.Load(), r.dropped.Load()
}

// Close unsubscribes, delivers what is queued and closes the sinks that
// implement io.Closer.
func (r *Recorder) Close() error {
	r.once.Do(func() {
		r.bus.Unsubscribe(r.sub)
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
		<-r.done
		for _, s := range r.sinks {
			if c, ok := s.(io.Closer); ok {
				if err := c.Close(); err != nil && r.err == nil {
					r.err = err
				}
			}
		}
	})
	return r.err
}

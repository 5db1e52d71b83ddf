package event

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Handler receives notifications synchronously on the emitting goroutine.
type Handler func(Notification)

// Subscription identifies a registered handler.
type Subscription uint64

type subscriber struct {
	handler Handler
	types   map[Type]struct{}
}

func (s subscriber) accepts(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Emitter dispatches notifications to subscribed handlers.
// It is safe for concurrent use; handlers run outside the lock.
type Emitter struct {
	mu      sync.RWMutex
	subs    map[Subscription]subscriber
	nextID  Subscription
	seq     atomic.Uint64
	forward *Emitter
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Emitter)

// WithForward re-emits every notification on bus after local dispatch.
// The bus keeps the sequence number assigned here.
func WithForward(bus *Emitter) Option { return func(e *Emitter) { e.forward = bus } }

func WithLogger(l *slog.Logger) Option { return func(e *Emitter) { e.logger = l } }

func NewEmitter(opts ...Option) *Emitter {
	e := &Emitter{
		subs:   make(map[Subscription]subscriber),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Subscribe registers h for the given types (all types when none given).
func (e *Emitter) Subscribe(h Handler, types ...Type) Subscription {
	s := subscriber{handler: h}
	if len(types) > 0 {
		s.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs[id] = s
	e.mu.Unlock()
	return id
}

// Unsubscribe removes a handler; it reports whether it was registered.
func (e *Emitter) Unsubscribe(id Subscription) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[id]; !ok {
		return false
	}
	delete(e.subs, id)
	return true
}

func (e *Emitter) SubscriberCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Emit stamps n with the next sequence number and the current time (unless
// already set) and delivers it to every matching handler in subscription
// order.
func (e *Emitter) Emit(n Notification) Notification {
	if n.Sequence == 0 {
		n.Sequence = e.seq.Add(1)
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = e.now()
	}
	e.dispatch(n)
	if e.forward != nil {
		e.forward.dispatch(n)
	}
	return n
}

func (e *Emitter) dispatch(n Notification) {
	e.mu.RLock()
	ids := make([]Subscription, 0, len(e.subs))
	for id, s := range e.subs {
		if s.accepts(n.Type) {
			ids = append(ids, id)
		}
	}
	handlers := make([]Handler, 0, len(ids))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		handlers = append(handlers, e.subs[id].handler)
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		e.call(h, n)
	}
}

func (e *Emitter) call(h Handler, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Notification handler panicked", "type", n.Type, "source", n.Source.String(), "panic", r)
		}
	}()
	h(n)
}

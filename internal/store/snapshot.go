package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/managed"
	"github.com/loykin/jsr77/internal/objectname"
)

// ErrRunning is returned by Start on a running Snapshotter.
var ErrRunning = errors.New("store: snapshotter already running")

// DefaultResyncSchedule runs a full resync every five minutes.
const DefaultResyncSchedule = "@every 5m"

// ValidateSchedule checks a resync schedule. Seconds are optional and
// descriptors such as @hourly or @every 30s are accepted.
func ValidateSchedule(expr string) error {
	if _, err := scheduleParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid resync schedule %q: %w", expr, err)
	}
	return nil
}

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Snapshotter keeps a Store in step with the managed objects of one
// factory. Changes seen on the bus are coalesced by name and written by a
// single worker; a scheduled resync repairs anything missed.
type Snapshotter struct {
	st       Store
	factory  *managed.Factory
	bus      *event.Emitter
	schedule string
	logger   *slog.Logger
	timeout  time.Duration

	mu        sync.Mutex
	running   bool
	sub       event.Subscription
	scheduler *cron.Cron
	pending   map[string]objectname.Name
	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
}

type SnapshotOption func(*Snapshotter)

func WithLogger(l *slog.Logger) SnapshotOption { return func(s *Snapshotter) { s.logger = l } }

// WithSchedule sets the resync schedule. An empty schedule disables it.
func WithSchedule(expr string) SnapshotOption { return func(s *Snapshotter) { s.schedule = expr } }

// WithBus overrides the emitter watched for changes. Defaults to the
// registry's emitter.
func WithBus(e *event.Emitter) SnapshotOption { return func(s *Snapshotter) { s.bus = e } }

func NewSnapshotter(st Store, factory *managed.Factory, opts ...SnapshotOption) *Snapshotter {
	s := &Snapshotter{
		st:       st,
		factory:  factory,
		bus:      factory.Registry().Events(),
		schedule: DefaultResyncSchedule,
		logger:   slog.Default(),
		timeout:  10 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start prepares the schema, writes the current tree and begins following
// the bus.
func (s *Snapshotter) Start(ctx context.Context) error {
	var scheduler *cron.Cron
	if s.schedule != "" {
		sched, err := scheduleParser.Parse(s.schedule)
		if err != nil {
			return fmt.Errorf("invalid resync schedule %q: %w", s.schedule, err)
		}
		scheduler = cron.New()
		scheduler.Schedule(sched, cron.FuncJob(s.scheduledResync))
	}
	if err := s.st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}

	s.pending = make(map[string]objectname.Name)
	s.wake = make(chan struct{}, 1)
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.sub = s.bus.Subscribe(s.observe,
		event.ObjectRegistered, event.ObjectUnregistered, event.AttributeChanged,
		event.StateStarting, event.StateRunning, event.StateStopping, event.StateStopped, event.StateFailed)
	s.running = true
	go s.run()
	if scheduler != nil {
		scheduler.Start()
		s.scheduler = scheduler
	}
	s.mu.Unlock()

	if err := s.Resync(ctx); err != nil {
		s.logger.Warn("Initial snapshot incomplete", "error", err)
	}
	s.logger.Info("Snapshotter started", "domain", s.factory.Domain(), "schedule", s.schedule)
	return nil
}

// Stop unsubscribes, writes what is pending and waits for a running resync.
func (s *Snapshotter) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.bus.Unsubscribe(s.sub)
	scheduler := s.scheduler
	s.scheduler = nil
	close(s.quit)
	done := s.done
	s.mu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	<-done
	s.logger.Info("Snapshotter stopped", "domain", s.factory.Domain())
}

func (s *Snapshotter) observe(n event.Notification) {
	if n.Source.Domain() != s.factory.Domain() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.pending[n.Source.Canonical()] = n.Source
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Snapshotter) run() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			s.flush()
		case <-s.quit:
			s.flush()
			return
		}
	}
}

func (s *Snapshotter) flush() {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[string]objectname.Name)
	s.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	for key, n := range batch {
		if err := s.apply(ctx, key, n); err != nil {
			s.logger.Error("Snapshot write failed", "name", key, "error", err)
		}
	}
}

// apply writes the current view of n: a row if the object is live,
// nothing if it is gone.
func (s *Snapshotter) apply(ctx context.Context, key string, n objectname.Name) error {
	o, ok := s.factory.Object(n)
	if !ok {
		return s.st.Delete(ctx, key)
	}
	return s.st.Upsert(ctx, RecordOf(o))
}

func (s *Snapshotter) scheduledResync() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.Resync(ctx); err != nil {
		s.logger.Warn("Scheduled resync failed", "error", err)
	}
}

// Resync writes every live object and removes rows for objects that are
// no longer registered.
func (s *Snapshotter) Resync(ctx context.Context) error {
	live := make(map[string]bool)
	var errs []error
	for _, n := range s.factory.Registry().Query(objectname.DomainPattern(s.factory.Domain())) {
		o, ok := s.factory.Object(n)
		if !ok {
			continue
		}
		live[n.Canonical()] = true
		if err := s.st.Upsert(ctx, RecordOf(o)); err != nil {
			errs = append(errs, err)
		}
	}
	rows, err := s.st.List(ctx, "")
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	removed := 0
	for _, r := range rows {
		if live[r.Name] {
			continue
		}
		if err := s.st.Delete(ctx, r.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	s.logger.Debug("Snapshot resynced", "objects", len(live), "removed", removed)
	return errors.Join(errs...)
}

// RecordOf describes o as a row.
func RecordOf(o *managed.Object) Record {
	r := Record{
		Name:      o.Name().Canonical(),
		Type:      string(o.Kind()),
		Synthetic: o.Synthetic(),
	}
	if p := o.Parent(); !p.IsZero() {
		r.Parent = p.Canonical()
	}
	if sm := o.StateManager(); sm != nil {
		r.State = sm.State().String()
		r.StartTime = sm.StartTime()
	}
	return r
}

// Package service models the runtime resources that managed objects
// monitor: containers, pools and server services with their own native
// lifecycle and live attributes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/objectname"
	"github.com/loykin/jsr77/internal/registry"
)

// Native is the lifecycle state reported by a runtime service.
type Native int

const (
	Stopped      Native = 0
	Stopping     Native = 1
	Starting     Native = 2
	Started      Native = 3
	Failed       Native = 4
	Destroyed    Native = 5
	Created      Native = 6
	Unregistered Native = 7
	Registered   Native = 8
)

// StateAttribute is the attribute whose changes carry native transitions.
const StateAttribute = "State"

func (n Native) String() string {
	switch n {
	case Stopped:
		return "STOPPED"
	case Stopping:
		return "STOPPING"
	case Starting:
		return "STARTING"
	case Started:
		return "STARTED"
	case Failed:
		return "FAILED"
	case Destroyed:
		return "DESTROYED"
	case Created:
		return "CREATED"
	case Unregistered:
		return "UNREGISTERED"
	case Registered:
		return "REGISTERED"
	default:
		return "UNKNOWN"
	}
}

var ErrInvalidTransition = errors.New("service: invalid lifecycle transition")

// AttributeFunc computes a live attribute value on each read.
type AttributeFunc func() (any, error)

// Service is a registrable runtime resource. Counters set through
// SetAttribute and every native state change emit jmx.attribute.change.
type Service struct {
	mu       sync.RWMutex
	name     objectname.Name
	state    Native
	static   map[string]any
	dynamic  map[string]AttributeFunc
	writable map[string]struct{}
	failure  string
	emitter  *event.Emitter
	logger   *slog.Logger
	onStart  func(context.Context) error
	onStop   func(context.Context) error
}

type Option func(*Service)

// WithAttributes seeds writable attributes.
func WithAttributes(attrs map[string]any) Option {
	return func(s *Service) {
		for k, v := range attrs {
			s.static[k] = v
			s.writable[k] = struct{}{}
		}
	}
}

// WithReadOnly seeds attributes that SetAttribute refuses.
func WithReadOnly(attrs map[string]any) Option {
	return func(s *Service) {
		for k, v := range attrs {
			s.static[k] = v
		}
	}
}

// WithDynamic adds live attributes computed on read.
func WithDynamic(attrs map[string]AttributeFunc) Option {
	return func(s *Service) {
		for k, f := range attrs {
			s.dynamic[k] = f
		}
	}
}

// WithStartFunc runs f when the service is started; an error fails it.
func WithStartFunc(f func(context.Context) error) Option { return func(s *Service) { s.onStart = f } }

// WithStopFunc runs f when the service is stopped.
func WithStopFunc(f func(context.Context) error) Option { return func(s *Service) { s.onStop = f } }

func WithEmitter(e *event.Emitter) Option { return func(s *Service) { s.emitter = e } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// New creates a service in the STOPPED state.
func New(opts ...Option) *Service {
	s := &Service{
		state:    Stopped,
		static:   make(map[string]any),
		dynamic:  make(map[string]AttributeFunc),
		writable: make(map[string]struct{}),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.emitter == nil {
		s.emitter = event.NewEmitter(event.WithLogger(s.logger))
	}
	return s
}

func (s *Service) Name() objectname.Name {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Service) State() Native {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Failure returns the error text recorded by the last failed transition.
func (s *Service) Failure() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure
}

func (s *Service) Notifications() *event.Emitter { return s.emitter }

func (s *Service) setState(to Native) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	name := s.name
	s.mu.Unlock()
	s.emitter.Emit(event.NewAttributeChange(name, StateAttribute, int(from), int(to)))
}

// Create moves a registered or destroyed service to CREATED.
func (s *Service) Create() error {
	switch st := s.State(); st {
	case Registered, Destroyed, Stopped:
		s.setState(Created)
		return nil
	case Created:
		return nil
	default:
		return fmt.Errorf("%w: create from %s", ErrInvalidTransition, st)
	}
}

// Start runs STARTING -> STARTED, or FAILED when the start hook errors.
func (s *Service) Start(ctx context.Context) error {
	switch st := s.State(); st {
	case Started:
		return nil
	case Starting, Stopping:
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, st)
	}
	s.setState(Starting)
	if s.onStart != nil {
		if err := s.onStart(ctx); err != nil {
			s.fail(err)
			return err
		}
	}
	s.setState(Started)
	return nil
}

// Stop runs STOPPING -> STOPPED.
func (s *Service) Stop(ctx context.Context) error {
	switch st := s.State(); st {
	case Stopped, Created, Registered, Destroyed:
		return nil
	case Stopping:
		return fmt.Errorf("%w: stop from %s", ErrInvalidTransition, st)
	}
	s.setState(Stopping)
	if s.onStop != nil {
		if err := s.onStop(ctx); err != nil {
			s.logger.Warn("Service stop hook failed", "service", s.Name().String(), "error", err)
		}
	}
	s.setState(Stopped)
	return nil
}

// Destroy stops the service if needed and moves it to DESTROYED.
func (s *Service) Destroy(ctx context.Context) error {
	if st := s.State(); st == Started || st == Starting || st == Failed {
		if err := s.Stop(ctx); err != nil {
			return err
		}
	}
	s.setState(Destroyed)
	return nil
}

// Fail records err and moves the service to FAILED.
func (s *Service) Fail(err error) { s.fail(err) }

func (s *Service) fail(err error) {
	s.mu.Lock()
	if err != nil {
		s.failure = err.Error()
	}
	s.mu.Unlock()
	s.setState(Failed)
}

// --- registry hooks ---

func (s *Service) PreRegister(_ *registry.Registry, name objectname.Name) error {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
	return nil
}

func (s *Service) PostRegister(_ *registry.Registry, registered bool) {
	if registered {
		s.setState(Registered)
	}
}

func (s *Service) PreDeregister(*registry.Registry) error { return nil }

func (s *Service) PostDeregister(*registry.Registry) { s.setState(Unregistered) }

// --- attributes ---

func (s *Service) AttributeNames() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.static)+len(s.dynamic)+1)
	names = append(names, StateAttribute, "StateString")
	for k := range s.static {
		names = append(names, k)
	}
	for k := range s.dynamic {
		names = append(names, k)
	}
	s.mu.RUnlock()
	sort.Strings(names[2:])
	return names
}

func (s *Service) Attribute(name string) (any, error) {
	s.mu.RLock()
	switch name {
	case StateAttribute:
		defer s.mu.RUnlock()
		return int(s.state), nil
	case "StateString":
		defer s.mu.RUnlock()
		return s.state.String(), nil
	}
	if f, ok := s.dynamic[name]; ok {
		s.mu.RUnlock()
		return f()
	}
	v, ok := s.static[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrAttributeNotFound, name)
	}
	return v, nil
}

// SetAttribute updates a writable attribute and emits the change. Setting
// State drives the native lifecycle directly.
func (s *Service) SetAttribute(name string, value any) error {
	if name == StateAttribute {
		n, err := toInt(value)
		if err != nil {
			return err
		}
		s.setState(Native(n))
		return nil
	}
	s.mu.Lock()
	if err := s.writableLocked(name); err != nil {
		s.mu.Unlock()
		return err
	}
	old := s.static[name]
	s.static[name] = value
	src := s.name
	s.mu.Unlock()
	s.emitter.Emit(event.NewAttributeChange(src, name, old, value))
	return nil
}

// Add increments a writable numeric attribute by delta. The read and the
// write happen under one lock so concurrent increments are not lost.
func (s *Service) Add(name string, delta int64) error {
	s.mu.Lock()
	if err := s.writableLocked(name); err != nil {
		s.mu.Unlock()
		return err
	}
	old := s.static[name]
	n, err := toInt(old)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	value := n + delta
	s.static[name] = value
	src := s.name
	s.mu.Unlock()
	s.emitter.Emit(event.NewAttributeChange(src, name, old, value))
	return nil
}

func (s *Service) writableLocked(name string) error {
	if _, ok := s.writable[name]; ok {
		return nil
	}
	_, exists := s.static[name]
	_, dyn := s.dynamic[name]
	if exists || dyn {
		return fmt.Errorf("%w: %s", registry.ErrReadOnlyAttribute, name)
	}
	return fmt.Errorf("%w: %s", registry.ErrAttributeNotFound, name)
}

// Invoke supports create, start, stop, destroy and fail.
func (s *Service) Invoke(ctx context.Context, op string, args ...any) (any, error) {
	switch op {
	case "create":
		return nil, s.Create()
	case "start":
		return nil, s.Start(ctx)
	case "stop":
		return nil, s.Stop(ctx)
	case "destroy":
		return nil, s.Destroy(ctx)
	case "fail":
		var cause error = errors.New("failed by operator")
		if len(args) > 0 {
			cause = fmt.Errorf("%v", args[0])
		}
		s.Fail(cause)
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", registry.ErrOperationNotFound, op)
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	case time.Duration:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("service: value %v (%T) is not numeric", v, v)
	}
}

// ToInt converts the numeric attribute values services produce.
func ToInt(v any) (int64, error) { return toInt(v) }

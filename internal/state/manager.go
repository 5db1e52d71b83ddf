package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/objectname"
	"github.com/loykin/jsr77/internal/registry"
	"github.com/loykin/jsr77/internal/service"
)

// Manager tracks the canonical state of one object and republishes the
// native transitions of its target service as state notifications.
//
// Lock order: mu is never held while emitting or calling the registry.
type Manager struct {
	mu           sync.Mutex
	owner        objectname.Name
	emitter      *event.Emitter
	state        State
	startTime    time.Time
	reg          *registry.Registry
	target       objectname.Name
	sub          event.Subscription
	attached     bool
	onTransition func(from, to State)
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*Manager)

// OnTransition registers a callback run after every effective transition.
func OnTransition(f func(from, to State)) Option { return func(m *Manager) { m.onTransition = f } }

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithInitial(s State) Option { return func(m *Manager) { m.state = s } }

// NewManager creates a manager for owner emitting on emitter. The initial
// state is STOPPED.
func NewManager(owner objectname.Name, emitter *event.Emitter, opts ...Option) *Manager {
	m := &Manager{
		owner:   owner,
		emitter: emitter,
		state:   Stopped,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartTime is the time RUNNING was last entered; zero if never.
func (m *Manager) StartTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startTime
}

func (m *Manager) Target() objectname.Name {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Set moves to s. Setting the current state again is a no-op and emits
// nothing. It reports whether a transition happened.
//
// Only the five state notifications are emitted. The object and registry
// lifecycle notifications are owned by the managed object and the registry,
// so entering CREATED or REGISTERED here is tracked silently.
func (m *Manager) Set(s State) bool {
	if s == Unknown {
		return false
	}
	m.mu.Lock()
	from := m.state
	if from == s {
		m.mu.Unlock()
		return false
	}
	m.state = s
	if s == Running {
		m.startTime = m.now()
	}
	owner := m.owner
	cb := m.onTransition
	m.mu.Unlock()

	if t, ok := s.NotificationType(); ok && t.IsState() && m.emitter != nil {
		m.emitter.Emit(event.Notification{Type: t, Source: owner, Message: from.String() + " -> " + s.String()})
	}
	if cb != nil {
		cb(from, s)
	}
	return true
}

// Attach follows the native lifecycle of target and seeds the current
// state from it.
func (m *Manager) Attach(reg *registry.Registry, target objectname.Name) error {
	sub, err := reg.AddListener(target, m.handle, event.AttributeChanged)
	if err != nil {
		return fmt.Errorf("attach %s to %s: %w", m.owner, target, err)
	}
	m.mu.Lock()
	m.reg = reg
	m.target = target
	m.sub = sub
	m.attached = true
	m.mu.Unlock()

	v, err := reg.GetAttribute(target, service.StateAttribute)
	if err != nil {
		m.logger.Debug("Target exposes no State attribute", "owner", m.owner.String(), "target", target.String(), "error", err)
		return nil
	}
	m.apply(v)
	return nil
}

// Detach stops following the target. A target that is already gone is
// not an error.
func (m *Manager) Detach() {
	m.mu.Lock()
	reg, target, sub, attached := m.reg, m.target, m.sub, m.attached
	m.attached = false
	m.mu.Unlock()
	if !attached || reg == nil {
		return
	}
	_ = reg.RemoveListener(target, sub)
}

func (m *Manager) handle(n event.Notification) {
	if n.Attribute == nil || n.Attribute.Name != service.StateAttribute {
		return
	}
	m.apply(n.Attribute.NewValue)
}

func (m *Manager) apply(v any) {
	native, err := service.ToInt(v)
	if err != nil {
		m.logger.Debug("Ignoring non-numeric native state", "owner", m.owner.String(), "value", v)
		return
	}
	s := FromNative(int(native))
	if s == Unknown {
		m.logger.Debug("Ignoring unknown native state", "owner", m.owner.String(), "native", native)
		return
	}
	m.Set(s)
}

// Start asks the target to start. Without a target the manager moves
// through STARTING to RUNNING itself.
func (m *Manager) Start(ctx context.Context) error {
	return m.control(ctx, "start", Starting, Running)
}

// Stop asks the target to stop. Without a target the manager moves
// through STOPPING to STOPPED itself.
func (m *Manager) Stop(ctx context.Context) error {
	return m.control(ctx, "stop", Stopping, Stopped)
}

func (m *Manager) control(ctx context.Context, op string, via, to State) error {
	m.mu.Lock()
	reg, target, attached := m.reg, m.target, m.attached
	m.mu.Unlock()
	if !attached {
		m.Set(via)
		m.Set(to)
		return nil
	}
	if _, err := reg.Invoke(ctx, target, op); err != nil {
		return fmt.Errorf("%s %s: %w", op, target, err)
	}
	return nil
}

// Package registry is the process-wide table of managed objects, keyed by
// object name. Objects may opt into registration hooks, attribute access,
// operation invocation and notification broadcasting by implementing the
// interfaces below.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/objectname"
)

var (
	ErrZeroName            = errors.New("registry: zero object name")
	ErrNilObject           = errors.New("registry: nil object")
	ErrAlreadyRegistered   = errors.New("registry: already registered")
	ErrNotFound            = errors.New("registry: not found")
	ErrNotBroadcaster      = errors.New("registry: object does not emit notifications")
	ErrAttributeNotFound   = errors.New("registry: attribute not found")
	ErrReadOnlyAttribute   = errors.New("registry: attribute is read-only")
	ErrOperationNotFound   = errors.New("registry: operation not found")
	ErrNoAttributeAccessor = errors.New("registry: object exposes no attributes")
)

// Registration hooks run around (de)registration, outside the registry lock.
// A PreRegister or PreDeregister error aborts the operation.
type Registration interface {
	PreRegister(r *Registry, name objectname.Name) error
	PostRegister(r *Registry, registered bool)
	PreDeregister(r *Registry) error
	PostDeregister(r *Registry)
}

// AttributeAccessor exposes named attributes.
type AttributeAccessor interface {
	Attribute(name string) (any, error)
	SetAttribute(name string, value any) error
	AttributeNames() []string
}

// Invoker exposes named operations.
type Invoker interface {
	Invoke(ctx context.Context, op string, args ...any) (any, error)
}

// Broadcaster exposes the emitter listeners attach to.
type Broadcaster interface {
	Notifications() *event.Emitter
}

type entry struct {
	name objectname.Name
	obj  any
}

// Registry holds registered objects. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]entry
	delegate objectname.Name
	events   *event.Emitter
	logger   *slog.Logger
}

type Option func(*Registry)

func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

// WithEvents routes the registry's own registered/unregistered
// notifications to e.
func WithEvents(e *event.Emitter) Option { return func(r *Registry) { r.events = e } }

func New(opts ...Option) *Registry {
	r := &Registry{
		entries:  make(map[string]entry),
		delegate: objectname.MustParse("JMImplementation:type=RegistryDelegate"),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.events == nil {
		r.events = event.NewEmitter(event.WithLogger(r.logger))
	}
	return r
}

// Events returns the emitter carrying JMX.mbean.registered and
// JMX.mbean.unregistered for every object.
func (r *Registry) Events() *event.Emitter { return r.events }

// Register adds obj under name, running its Registration hooks.
func (r *Registry) Register(obj any, name objectname.Name) error {
	if name.IsZero() {
		return ErrZeroName
	}
	if obj == nil {
		return ErrNilObject
	}
	hooks, _ := obj.(Registration)
	if hooks != nil {
		if err := hooks.PreRegister(r, name); err != nil {
			return fmt.Errorf("pre-register %s: %w", name, err)
		}
	}

	key := name.Canonical()
	r.mu.Lock()
	if _, exists := r.entries[key]; exists {
		r.mu.Unlock()
		if hooks != nil {
			hooks.PostRegister(r, false)
		}
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.entries[key] = entry{name: name, obj: obj}
	r.mu.Unlock()

	if hooks != nil {
		hooks.PostRegister(r, true)
	}
	r.events.Emit(event.Notification{Type: event.ObjectRegistered, Source: name, Message: r.delegate.String()})
	return nil
}

// Unregister removes the object registered under name.
func (r *Registry) Unregister(name objectname.Name) error {
	key := name.Canonical()
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	hooks, _ := e.obj.(Registration)
	if hooks != nil {
		if err := hooks.PreDeregister(r); err != nil {
			return fmt.Errorf("pre-deregister %s: %w", name, err)
		}
	}
	r.mu.Lock()
	if _, still := r.entries[key]; !still {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.entries, key)
	r.mu.Unlock()

	if hooks != nil {
		hooks.PostDeregister(r)
	}
	r.events.Emit(event.Notification{Type: event.ObjectUnregistered, Source: e.name, Message: r.delegate.String()})
	return nil
}

func (r *Registry) IsRegistered(name objectname.Name) bool {
	if name.IsZero() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name.Canonical()]
	return ok
}

// Lookup returns the object registered under name.
func (r *Registry) Lookup(name objectname.Name) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name.Canonical()]
	return e.obj, ok
}

// Query returns the registered names matching p, sorted by canonical form.
func (r *Registry) Query(p objectname.Pattern) []objectname.Name {
	r.mu.RLock()
	out := make([]objectname.Name, 0)
	for _, e := range r.entries {
		if p.Matches(e.name) {
			out = append(out, e.name)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Canonical() < out[j].Canonical() })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) accessor(name objectname.Name) (AttributeAccessor, error) {
	obj, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	acc, ok := obj.(AttributeAccessor)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAttributeAccessor, name)
	}
	return acc, nil
}

func (r *Registry) GetAttribute(name objectname.Name, attr string) (any, error) {
	acc, err := r.accessor(name)
	if err != nil {
		return nil, err
	}
	return acc.Attribute(attr)
}

func (r *Registry) SetAttribute(name objectname.Name, attr string, value any) error {
	acc, err := r.accessor(name)
	if err != nil {
		return err
	}
	return acc.SetAttribute(attr, value)
}

// AttributeNames lists the attributes of the object under name.
func (r *Registry) AttributeNames(name objectname.Name) ([]string, error) {
	acc, err := r.accessor(name)
	if err != nil {
		return nil, err
	}
	return acc.AttributeNames(), nil
}

func (r *Registry) Invoke(ctx context.Context, name objectname.Name, op string, args ...any) (any, error) {
	obj, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	inv, ok := obj.(Invoker)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrOperationNotFound, op, name)
	}
	return inv.Invoke(ctx, op, args...)
}

// AddListener subscribes h to the notifications of the object under target.
func (r *Registry) AddListener(target objectname.Name, h event.Handler, types ...event.Type) (event.Subscription, error) {
	obj, ok := r.Lookup(target)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	b, ok := obj.(Broadcaster)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotBroadcaster, target)
	}
	return b.Notifications().Subscribe(h, types...), nil
}

// RemoveListener undoes AddListener. Removing from a target that is gone
// reports ErrNotFound.
func (r *Registry) RemoveListener(target objectname.Name, sub event.Subscription) error {
	obj, ok := r.Lookup(target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	b, ok := obj.(Broadcaster)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotBroadcaster, target)
	}
	if !b.Notifications().Unsubscribe(sub) {
		return fmt.Errorf("%w: listener %d on %s", ErrNotFound, sub, target)
	}
	return nil
}

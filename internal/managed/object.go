// Package managed implements the managed objects of a J2EE management
// tree and the factory that creates and destroys them. Every object kind
// shares the one Object type; what differs per kind is its capabilities,
// its child categories and its Details bundle.
package managed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/objectname"
	"github.com/loykin/jsr77/internal/registry"
	"github.com/loykin/jsr77/internal/state"
	"github.com/loykin/jsr77/internal/stats"
)

var (
	ErrUnknownKind           = errors.New("managed: unknown kind")
	ErrInvalidParent         = errors.New("managed: invalid parent")
	ErrNotStateManageable    = errors.New("managed: object is not state-manageable")
	ErrNotStatisticsProvider = errors.New("managed: object provides no statistics")
	ErrNoBacking             = errors.New("managed: object has no backing service")
	ErrBadArguments          = errors.New("managed: bad operation arguments")
)

// Operations understood by Invoke.
const (
	OpStart          = "start"
	OpStop           = "stop"
	OpStartRecursive = "startRecursive"
	OpStats          = "stats"
	OpRefreshStats   = "refreshStats"
	OpAddChild       = "addChild"
	OpRemoveChild    = "removeChild"
)

// Object is a registered managed object. Children are kept as canonical
// name strings per category; they are references, not ownership.
type Object struct {
	kind    Kind
	name    objectname.Name
	parent  objectname.Name
	caps    Capabilities
	emitter *event.Emitter
	state   *state.Manager
	logger  *slog.Logger

	mu        sync.RWMutex
	reg       *registry.Registry
	backing   objectname.Name
	details   Details
	children  map[string][]string
	synthetic bool

	statsMu sync.Mutex
	stats   stats.Stats
}

type objectConfig struct {
	kind         Kind
	name         objectname.Name
	parent       objectname.Name
	backing      objectname.Name
	details      Details
	synthetic    bool
	bus          *event.Emitter
	logger       *slog.Logger
	onTransition func(o *Object, from, to state.State)
}

func newObject(c objectConfig) *Object {
	if c.logger == nil {
		c.logger = slog.Default()
	}
	o := &Object{
		kind:      c.kind,
		name:      c.name,
		parent:    c.parent,
		caps:      c.kind.Capabilities(),
		backing:   c.backing,
		details:   c.details,
		synthetic: c.synthetic,
		children:  make(map[string][]string),
		logger:    c.logger.With("object", c.name.String()),
	}
	var opts []event.Option
	if c.bus != nil {
		opts = append(opts, event.WithForward(c.bus))
	}
	o.emitter = event.NewEmitter(append(opts, event.WithLogger(o.logger))...)
	for _, cat := range c.kind.ChildCategories() {
		o.children[cat] = nil
	}
	if o.caps.StateManageable {
		sopts := []state.Option{state.WithLogger(o.logger)}
		if c.onTransition != nil {
			sopts = append(sopts, state.OnTransition(func(from, to state.State) { c.onTransition(o, from, to) }))
		}
		o.state = state.NewManager(c.name, o.emitter, sopts...)
	}
	if cat := c.kind.StatsCategory(); cat != "" {
		o.stats, _ = stats.New(cat)
	}
	return o
}

func (o *Object) Kind() Kind                    { return o.kind }
func (o *Object) Name() objectname.Name         { return o.name }
func (o *Object) Parent() objectname.Name       { return o.parent }
func (o *Object) Capabilities() Capabilities    { return o.caps }
func (o *Object) Notifications() *event.Emitter { return o.emitter }

// Synthetic reports whether the object was fabricated to stand in for an
// ancestor that had not been deployed.
func (o *Object) Synthetic() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.synthetic
}

func (o *Object) Backing() objectname.Name {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.backing
}

func (o *Object) Details() Details {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.details
}

// adopt turns a synthetic object into a real one. A non-zero backing
// replaces the missing one and the state starts following it.
func (o *Object) adopt(d Details, backing objectname.Name) {
	o.mu.Lock()
	prev := o.synthetic
	o.synthetic = false
	if d != nil {
		o.details = d
	}
	follow := !backing.IsZero() && o.backing.IsZero()
	if follow {
		o.backing = backing
	}
	reg := o.reg
	o.mu.Unlock()
	if prev {
		o.emitter.Emit(event.NewAttributeChange(o.name, "synthetic", true, false))
	}
	if follow && o.state != nil && reg != nil {
		if err := o.state.Attach(reg, backing); err != nil {
			o.logger.Debug("Could not follow backing service", "backing", backing.String(), "error", err)
		}
	}
}

// State returns the current state, or state.Unknown for objects that are
// not state-manageable.
func (o *Object) State() state.State {
	if o.state == nil {
		return state.Unknown
	}
	return o.state.State()
}

func (o *Object) StateManager() *state.Manager { return o.state }

// Children returns the child references held under category.
func (o *Object) Children(category string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.children[category]...)
}

// ChildCategories returns the categories of o with their references.
func (o *Object) ChildCategories() map[string][]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string][]string, len(o.children))
	for k, v := range o.children {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (o *Object) addChild(category, child string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.children[category] {
		if c == child {
			return false
		}
	}
	o.children[category] = append(o.children[category], child)
	return true
}

func (o *Object) removeChild(category, child string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	list := o.children[category]
	for i, c := range list {
		if c == child {
			o.children[category] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func (o *Object) registry() *registry.Registry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.reg
}

// Stats refreshes and returns a copy of the statistics bundle. When the
// refresh fails the previous snapshot is returned along with the error.
func (o *Object) Stats() (stats.Stats, error) {
	if !o.caps.StatisticsProvider || o.stats == nil {
		return nil, ErrNotStatisticsProvider
	}
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	reg, backing := o.registry(), o.Backing()
	if reg == nil || backing.IsZero() {
		return o.stats.Clone(), ErrNoBacking
	}
	src := stats.SourceFunc(func(attr string) (any, error) { return reg.GetAttribute(backing, attr) })
	if err := o.stats.Refresh(src); err != nil {
		o.logger.Debug("Statistics refresh failed, keeping previous snapshot", "error", err)
		return o.stats.Clone(), err
	}
	return o.stats.Clone(), nil
}

func (o *Object) Start(ctx context.Context) error {
	if o.state == nil {
		return fmt.Errorf("%w: %s", ErrNotStateManageable, o.name)
	}
	return o.state.Start(ctx)
}

func (o *Object) Stop(ctx context.Context) error {
	if o.state == nil {
		return fmt.Errorf("%w: %s", ErrNotStateManageable, o.name)
	}
	return o.state.Stop(ctx)
}

// StartRecursive starts o and then every state-manageable child, depth
// first. Failures of children are logged and do not stop the walk.
func (o *Object) StartRecursive(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	reg := o.registry()
	if reg == nil {
		return nil
	}
	for _, cat := range o.kind.ChildCategories() {
		for _, child := range o.Children(cat) {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := objectname.Parse(child)
			if err != nil {
				continue
			}
			if _, err := reg.Invoke(ctx, n, OpStartRecursive); err != nil && !errors.Is(err, ErrNotStateManageable) {
				o.logger.Debug("Recursive start of child failed", "child", child, "error", err)
			}
		}
	}
	return nil
}

// parentTarget is where add/remove-child calls go. Objects without a
// parent report to the domain root.
func (o *Object) parentTarget() (objectname.Name, string) {
	if !o.parent.IsZero() {
		return o.parent, childCategory(o.kind, Kind(o.parent.Type()))
	}
	if o.kind == J2EEDomain {
		return objectname.Name{}, ""
	}
	root, err := objectname.NewJ2EE(o.name.Domain(), string(J2EEDomain), o.name.Domain())
	if err != nil {
		return objectname.Name{}, ""
	}
	return root, childCategory(o.kind, J2EEDomain)
}

// PreRegister implements registry.Registration.
func (o *Object) PreRegister(r *registry.Registry, name objectname.Name) error {
	if !name.Equal(o.name) {
		return fmt.Errorf("managed: object %s registered as %s", o.name, name)
	}
	o.mu.Lock()
	o.reg = r
	o.mu.Unlock()
	return nil
}

// PostRegister tells the parent about the new child and starts following
// the backing service. Both are best effort.
func (o *Object) PostRegister(r *registry.Registry, registered bool) {
	if !registered {
		o.mu.Lock()
		o.reg = nil
		o.mu.Unlock()
		return
	}
	if target, cat := o.parentTarget(); !target.IsZero() {
		if _, err := r.Invoke(context.Background(), target, OpAddChild, cat, o.name.Canonical()); err != nil {
			o.logger.Debug("Could not add child to parent", "parent", target.String(), "error", err)
		}
	}
	if o.state != nil {
		if backing := o.Backing(); backing.IsZero() {
			o.state.Set(state.Running)
		} else if err := o.state.Attach(r, backing); err != nil {
			o.logger.Debug("Could not follow backing service", "backing", backing.String(), "error", err)
		}
	}
	o.emitter.Emit(event.Notification{Type: event.ObjectCreated, Source: o.name, Message: string(o.kind)})
}

func (o *Object) PreDeregister(*registry.Registry) error {
	if o.state != nil {
		o.state.Detach()
	}
	return nil
}

// PostDeregister drops the parent's reference. A parent that is already
// gone is ignored.
func (o *Object) PostDeregister(r *registry.Registry) {
	if target, cat := o.parentTarget(); !target.IsZero() {
		if _, err := r.Invoke(context.Background(), target, OpRemoveChild, cat, o.name.Canonical()); err != nil && !errors.Is(err, registry.ErrNotFound) {
			o.logger.Debug("Could not remove child from parent", "parent", target.String(), "error", err)
		}
	}
	o.emitter.Emit(event.Notification{Type: event.ObjectDeleted, Source: o.name, Message: string(o.kind)})
	o.mu.Lock()
	o.reg = nil
	o.mu.Unlock()
}

func (o *Object) attributes() map[string]any {
	out := map[string]any{
		"objectName":         o.name.String(),
		"j2eeType":           string(o.kind),
		"stateManageable":    o.caps.StateManageable,
		"statisticsProvider": o.caps.StatisticsProvider,
		"eventProvider":      o.caps.EventProvider,
	}
	if !o.parent.IsZero() {
		out["parent"] = o.parent.String()
	}
	if b := o.Backing(); !b.IsZero() {
		out["backing"] = b.String()
	}
	if o.state != nil {
		out["state"] = int(o.state.State())
		out["stateName"] = o.state.State().String()
		if st := o.state.StartTime(); !st.IsZero() {
			out["startTime"] = st.UnixMilli()
		} else {
			out["startTime"] = int64(0)
		}
	}
	if o.kind == J2EEApplication {
		out["synthetic"] = o.Synthetic()
	}
	for cat, list := range o.ChildCategories() {
		out[cat] = list
	}
	if d := o.Details(); d != nil {
		for k, v := range d.Attributes() {
			if _, taken := out[k]; !taken {
				out[k] = v
			}
		}
	}
	return out
}

// Attributes returns every attribute of o.
func (o *Object) Attributes() map[string]any { return o.attributes() }

func (o *Object) Attribute(name string) (any, error) {
	v, ok := o.attributes()[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", registry.ErrAttributeNotFound, name, o.name)
	}
	return v, nil
}

// SetAttribute always fails: management attributes are derived. Writes go
// to the backing service.
func (o *Object) SetAttribute(name string, _ any) error {
	if _, ok := o.attributes()[name]; !ok {
		return fmt.Errorf("%w: %s on %s", registry.ErrAttributeNotFound, name, o.name)
	}
	return fmt.Errorf("%w: %s on %s", registry.ErrReadOnlyAttribute, name, o.name)
}

func (o *Object) AttributeNames() []string {
	attrs := o.attributes()
	out := make([]string, 0, len(attrs))
	for k := range attrs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Invoke implements registry.Invoker.
func (o *Object) Invoke(ctx context.Context, op string, args ...any) (any, error) {
	switch op {
	case OpStart:
		return nil, o.Start(ctx)
	case OpStop:
		return nil, o.Stop(ctx)
	case OpStartRecursive:
		return nil, o.StartRecursive(ctx)
	case OpStats, OpRefreshStats:
		s, err := o.Stats()
		if s == nil {
			return nil, err
		}
		return s, nil
	case OpAddChild, OpRemoveChild:
		cat, child, err := childArgs(args)
		if err != nil {
			return nil, err
		}
		if op == OpAddChild {
			return o.addChild(cat, child), nil
		}
		return o.removeChild(cat, child), nil
	}
	return nil, fmt.Errorf("%w: %s on %s", registry.ErrOperationNotFound, op, o.name)
}

func childArgs(args []any) (string, string, error) {
	if len(args) != 2 {
		return "", "", fmt.Errorf("%w: want (category, name), got %d args", ErrBadArguments, len(args))
	}
	cat, ok1 := args[0].(string)
	child, ok2 := args[1].(string)
	if !ok1 || !ok2 || cat == "" || child == "" {
		return "", "", fmt.Errorf("%w: category and name must be non-empty strings", ErrBadArguments)
	}
	return cat, child, nil
}

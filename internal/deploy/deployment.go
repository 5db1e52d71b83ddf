package deploy

import (
	"log/slog"
	"sync"

	"github.com/loykin/jsr77/internal/objectname"
)

// Deployment is one deployed unit. Modules of an application archive are
// sub-deployments of it.
type Deployment struct {
	Name       string          `json:"name"`
	Location   string          `json:"location"`
	Kind       Kind            `json:"kind"`
	Deployer   string          `json:"deployer"`
	Descriptor string          `json:"-"`
	Service    objectname.Name `json:"service"`
	Components []Component     `json:"components,omitempty"`
	// ComponentServices holds the backing service of each component,
	// index-aligned with Components.
	ComponentServices []objectname.Name `json:"-"`
	Children          []*Deployment     `json:"children,omitempty"`

	parent  *Deployment
	archive []byte
}

// Parent is the enclosing application deployment, nil for top-level ones.
func (d *Deployment) Parent() *Deployment { return d.parent }

// Root walks up to the top-level deployment.
func (d *Deployment) Root() *Deployment {
	for d.parent != nil {
		d = d.parent
	}
	return d
}

// ReadDescriptor reads a descriptor of this deployment, from its nested
// archive bytes when it has them.
func (d *Deployment) ReadDescriptor(desc Descriptor) (string, bool) {
	if d.archive != nil {
		return ReadDescriptorFromBytes(d.archive, desc)
	}
	return ReadDescriptor(d.Location, desc)
}

// walk visits d and its children, parent first.
func (d *Deployment) walk(fn func(*Deployment)) {
	fn(d)
	for _, c := range d.Children {
		c.walk(fn)
	}
}

// walkPost visits the children of d before d.
func (d *Deployment) walkPost(fn func(*Deployment)) {
	for _, c := range d.Children {
		c.walkPost(fn)
	}
	fn(d)
}

// EventType is the closed set of deployment events.
type EventType string

const (
	Created       EventType = "created"
	Started       EventType = "started"
	Stopped       EventType = "stopped"
	Destroyed     EventType = "destroyed"
	DeployerAdded EventType = "deployerAdded"
)

// Event is delivered to deployment handlers. Deployment is nil for
// DeployerAdded, which names the new Deployer instead.
type Event struct {
	Type       EventType
	Deployment *Deployment
	Deployer   *SubDeployer
}

type Handler func(Event)

// Subscription identifies a registered handler.
type Subscription uint64

// hub is a synchronous handler list. Handlers run in registration order on
// the emitting goroutine; a panicking handler is logged and skipped.
type hub struct {
	mu     sync.RWMutex
	next   Subscription
	subs   []hubSub
	logger *slog.Logger
}

type hubSub struct {
	id Subscription
	h  Handler
}

func (h *hub) subscribe(fn Handler) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.subs = append(h.subs, hubSub{id: h.next, h: fn})
	return h.next
}

func (h *hub) unsubscribe(id Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *hub) emit(ev Event) {
	h.mu.RLock()
	subs := append([]hubSub(nil), h.subs...)
	h.mu.RUnlock()
	for _, s := range subs {
		h.call(s.h, ev)
	}
}

func (h *hub) call(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			l := h.logger
			if l == nil {
				l = slog.Default()
			}
			l.Error("Deployment handler panicked", "event", string(ev.Type), "panic", r)
		}
	}()
	fn(ev)
}

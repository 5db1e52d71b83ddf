// Package event defines the notifications emitted by managed objects and a
// synchronous emitter with explicit handler registration.
package event

import (
	"time"

	"github.com/loykin/jsr77/internal/objectname"
)

// Type is one of the closed set of notification types below.
type Type string

const (
	ObjectCreated      Type = "j2ee.object.created"
	ObjectDeleted      Type = "j2ee.object.deleted"
	ObjectRegistered   Type = "JMX.mbean.registered"
	ObjectUnregistered Type = "JMX.mbean.unregistered"
	StateStarting      Type = "j2ee.state.starting"
	StateRunning       Type = "j2ee.state.running"
	StateStopping      Type = "j2ee.state.stopping"
	StateStopped       Type = "j2ee.state.stopped"
	StateFailed        Type = "j2ee.state.failed"
	AttributeChanged   Type = "jmx.attribute.change"
)

// Types lists every notification type a listener must recognize.
var Types = []Type{
	ObjectCreated, ObjectDeleted, ObjectRegistered, ObjectUnregistered,
	StateStarting, StateRunning, StateStopping, StateStopped, StateFailed,
	AttributeChanged,
}

func (t Type) Valid() bool {
	for _, v := range Types {
		if v == t {
			return true
		}
	}
	return false
}

// IsState reports whether t is one of the j2ee.state.* types.
func (t Type) IsState() bool {
	switch t {
	case StateStarting, StateRunning, StateStopping, StateStopped, StateFailed:
		return true
	}
	return false
}

// AttributeChange carries the payload of an AttributeChanged notification.
type AttributeChange struct {
	Name     string `json:"name"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// Notification is a single event. Sequence and Timestamp are filled in by
// the Emitter.
type Notification struct {
	Type      Type             `json:"type"`
	Source    objectname.Name  `json:"source"`
	Sequence  uint64           `json:"sequence"`
	Timestamp time.Time        `json:"timestamp"`
	Message   string           `json:"message,omitempty"`
	Attribute *AttributeChange `json:"attribute,omitempty"`
}

// NewAttributeChange builds an AttributeChanged notification.
func NewAttributeChange(source objectname.Name, attr string, oldValue, newValue any) Notification {
	return Notification{
		Type:      AttributeChanged,
		Source:    source,
		Message:   attr + " changed",
		Attribute: &AttributeChange{Name: attr, OldValue: oldValue, NewValue: newValue},
	}
}

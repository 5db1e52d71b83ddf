// Package state maps the native lifecycle of runtime services onto the
// nine canonical states of a state-manageable object.
package state

import (
	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/service"
)

// State is a canonical lifecycle state.
type State int

const (
	Starting     State = 0
	Running      State = 1
	Stopping     State = 2
	Stopped      State = 3
	Failed       State = 4
	Created      State = 5
	Destroyed    State = 6
	Registered   State = 7
	Unregistered State = 8

	// Unknown is returned for native values outside the table.
	Unknown State = -1
)

// All lists the canonical states in numeric order.
var All = []State{Starting, Running, Stopping, Stopped, Failed, Created, Destroyed, Registered, Unregistered}

var names = map[State]string{
	Starting:     "STARTING",
	Running:      "RUNNING",
	Stopping:     "STOPPING",
	Stopped:      "STOPPED",
	Failed:       "FAILED",
	Created:      "CREATED",
	Destroyed:    "DESTROYED",
	Registered:   "REGISTERED",
	Unregistered: "UNREGISTERED",
}

func (s State) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Parse reads a state name as produced by String.
func Parse(s string) State {
	for st, n := range names {
		if n == s {
			return st
		}
	}
	return Unknown
}

var notificationTypes = map[State]event.Type{
	Starting:     event.StateStarting,
	Running:      event.StateRunning,
	Stopping:     event.StateStopping,
	Stopped:      event.StateStopped,
	Failed:       event.StateFailed,
	Created:      event.ObjectCreated,
	Destroyed:    event.ObjectDeleted,
	Registered:   event.ObjectRegistered,
	Unregistered: event.ObjectUnregistered,
}

// NotificationType returns the notification emitted on entering s.
func (s State) NotificationType() (event.Type, bool) {
	t, ok := notificationTypes[s]
	return t, ok
}

var fromNative = map[service.Native]State{
	service.Starting:     Starting,
	service.Started:      Running,
	service.Stopping:     Stopping,
	service.Stopped:      Stopped,
	service.Failed:       Failed,
	service.Created:      Created,
	service.Destroyed:    Destroyed,
	service.Registered:   Registered,
	service.Unregistered: Unregistered,
}

// FromNative maps a native service state to its canonical state, or
// Unknown for values outside the nine defined native states.
func FromNative(native int) State {
	if s, ok := fromNative[service.Native(native)]; ok {
		return s
	}
	return Unknown
}

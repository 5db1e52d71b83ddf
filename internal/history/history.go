// Package history exports management notifications to external systems:
// relational tables, ClickHouse and OpenSearch.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/jsr77/internal/event"
)

// Event is the exported form of a notification. ID is the id of the
// CloudEvent the notification was wrapped in.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	J2EEType   string    `json:"j2ee_type"`
	Sequence   uint64    `json:"sequence"`
	OccurredAt time.Time `json:"occurred_at"`
	Message    string    `json:"message,omitempty"`
	Attribute  string    `json:"attribute,omitempty"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
}

// FromNotification flattens n into an Event.
func FromNotification(n event.Notification) Event {
	ce := event.ToCloudEvent(n)
	e := Event{
		ID:         ce.ID(),
		Type:       ce.Type(),
		Source:     ce.Source(),
		J2EEType:   n.Source.Type(),
		Sequence:   n.Sequence,
		OccurredAt: ce.Time().UTC(),
		Message:    n.Message,
	}
	if a := n.Attribute; a != nil {
		e.Attribute = a.Name
		e.OldValue = valueString(a.OldValue)
		e.NewValue = valueString(a.NewValue)
	}
	return e
}

func valueString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

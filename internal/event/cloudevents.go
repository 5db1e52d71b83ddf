package event

import (
	"strconv"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Extension attribute names carried on converted CloudEvents.
const (
	ExtSequence = "sequence"
	ExtJ2EEType = "j2eetype"
)

// ToCloudEvent wraps n in a CloudEvents v1 envelope. The source is the
// canonical name of the emitting object and the data is the notification
// itself as JSON.
func ToCloudEvent(n Notification) cloudevents.Event {
	ce := cloudevents.NewEvent()
	ce.SetID(newEventID())
	ce.SetSpecVersion(cloudevents.VersionV1)
	ce.SetType(string(n.Type))
	src := n.Source.Canonical()
	if src == "" {
		src = "urn:jsr77:unknown"
	}
	ce.SetSource(src)
	ce.SetTime(n.Timestamp)
	ce.SetExtension(ExtSequence, strconv.FormatUint(n.Sequence, 10))
	if t := n.Source.Type(); t != "" {
		ce.SetExtension(ExtJ2EEType, t)
	}
	_ = ce.SetData(cloudevents.ApplicationJSON, n)
	return ce
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

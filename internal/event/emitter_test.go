package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loykin/jsr77/internal/objectname"
)

var src = objectname.MustParse("jboss.j2ee:j2eeType=J2EEServer,name=Local")

func TestEmitter_FiltersAndSequence(t *testing.T) {
	e := NewEmitter()
	var all, states []Notification
	e.Subscribe(func(n Notification) { all = append(all, n) })
	e.Subscribe(func(n Notification) { states = append(states, n) }, StateRunning, StateStopped)

	e.Emit(Notification{Type: StateRunning, Source: src})
	e.Emit(NewAttributeChange(src, "State", 2, 3))
	e.Emit(Notification{Type: StateStopped, Source: src})

	require.Len(t, all, 3)
	require.Len(t, states, 2)
	require.Equal(t, uint64(1), all[0].Sequence)
	require.Equal(t, uint64(3), all[2].Sequence)
	require.False(t, all[0].Timestamp.IsZero())
	require.Equal(t, "State", all[1].Attribute.Name)
}

func TestEmitter_Unsubscribe(t *testing.T) {
	e := NewEmitter()
	count := 0
	id := e.Subscribe(func(Notification) { count++ })
	e.Emit(Notification{Type: ObjectCreated, Source: src})
	require.True(t, e.Unsubscribe(id))
	require.False(t, e.Unsubscribe(id))
	e.Emit(Notification{Type: ObjectCreated, Source: src})
	require.Equal(t, 1, count)
	require.Equal(t, 0, e.SubscriberCount())
}

func TestEmitter_ForwardAndPanicIsolation(t *testing.T) {
	bus := NewEmitter()
	var forwarded []Notification
	bus.Subscribe(func(n Notification) { forwarded = append(forwarded, n) })

	e := NewEmitter(WithForward(bus))
	e.Subscribe(func(Notification) { panic("boom") })
	got := 0
	e.Subscribe(func(Notification) { got++ })

	n := e.Emit(Notification{Type: StateFailed, Source: src})
	require.Equal(t, 1, got, "a panicking handler must not stop later handlers")
	require.Len(t, forwarded, 1)
	require.Equal(t, n.Sequence, forwarded[0].Sequence)
}

func TestTypesAreClosed(t *testing.T) {
	require.Len(t, Types, 10)
	for _, ty := range Types {
		require.True(t, ty.Valid())
	}
	require.False(t, Type("j2ee.bogus").Valid())
	require.True(t, StateStopping.IsState())
	require.False(t, AttributeChanged.IsState())
}

func TestToCloudEvent(t *testing.T) {
	e := NewEmitter()
	n := e.Emit(Notification{Type: StateRunning, Source: src, Message: "running"})
	ce := ToCloudEvent(n)
	require.NoError(t, ce.Validate())
	require.Equal(t, string(StateRunning), ce.Type())
	require.Equal(t, src.Canonical(), ce.Source())
	require.Equal(t, "J2EEServer", ce.Extensions()[ExtJ2EEType])

	var decoded Notification
	require.NoError(t, json.Unmarshal(ce.Data(), &decoded))
	require.True(t, decoded.Source.Equal(src))
	require.Equal(t, StateRunning, decoded.Type)
}

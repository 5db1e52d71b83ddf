package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/objectname"
	"github.com/loykin/jsr77/internal/registry"
	"github.com/loykin/jsr77/internal/service"
)

var (
	owner  = objectname.MustParse("jboss.j2ee:j2eeType=StatelessSessionBean,name=FooBean,EJBModule=foo.jar,J2EEApplication=foo.ear,J2EEServer=Local")
	target = objectname.MustParse("jboss.j2ee:service=EJB,jndiName=FooBean")
)

func TestFromNativeTable(t *testing.T) {
	want := map[int]State{
		int(service.Starting):     Starting,
		int(service.Started):      Running,
		int(service.Stopping):     Stopping,
		int(service.Stopped):      Stopped,
		int(service.Failed):       Failed,
		int(service.Created):      Created,
		int(service.Destroyed):    Destroyed,
		int(service.Registered):   Registered,
		int(service.Unregistered): Unregistered,
	}
	require.Len(t, want, 9)
	for native, st := range want {
		require.Equal(t, st, FromNative(native), "native %d", native)
	}
}

func TestFromNativeTotal_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.Int().Draw(t, "native")
		got := FromNative(n)
		if n >= 0 && n <= 8 {
			if got == Unknown {
				t.Fatalf("native %d must map to a defined state", n)
			}
			return
		}
		if got != Unknown {
			t.Fatalf("native %d mapped to %v, want Unknown (-1)", n, got)
		}
	})
}

func TestNotificationTypes(t *testing.T) {
	for _, s := range All {
		ty, ok := s.NotificationType()
		require.True(t, ok, s.String())
		require.True(t, ty.Valid())
	}
	_, ok := Unknown.NotificationType()
	require.False(t, ok)
	require.Equal(t, Running, Parse("RUNNING"))
	require.Equal(t, Unknown, Parse("nope"))
}

func TestSetIsIdempotent(t *testing.T) {
	em := event.NewEmitter()
	var got []event.Type
	em.Subscribe(func(n event.Notification) { got = append(got, n.Type) })

	var transitions [][2]State
	m := NewManager(owner, em, OnTransition(func(from, to State) { transitions = append(transitions, [2]State{from, to}) }))

	require.True(t, m.Set(Running))
	start := m.StartTime()
	require.False(t, start.IsZero())
	require.False(t, m.Set(Running))
	require.Equal(t, start, m.StartTime())
	require.False(t, m.Set(Unknown))

	require.Equal(t, []event.Type{event.StateRunning}, got)
	require.Equal(t, [][2]State{{Stopped, Running}}, transitions)
}

func TestSetIdempotent_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		em := event.NewEmitter()
		count := 0
		em.Subscribe(func(event.Notification) { count++ })
		m := NewManager(owner, em)
		seq := rapid.SliceOf(rapid.SampledFrom(All)).Draw(t, "seq")
		want := 0
		cur := Stopped
		for _, s := range seq {
			if s != cur {
				if ty, _ := s.NotificationType(); ty.IsState() {
					want++
				}
				cur = s
			}
			m.Set(s)
		}
		if count != want {
			t.Fatalf("emitted %d notifications, want %d", count, want)
		}
	})
}

func TestAttachFollowsService(t *testing.T) {
	reg := registry.New()
	svc := service.New()
	require.NoError(t, reg.Register(svc, target))

	em := event.NewEmitter()
	var got []event.Type
	em.Subscribe(func(n event.Notification) { got = append(got, n.Type) })

	m := NewManager(owner, em)
	require.NoError(t, m.Attach(reg, target))
	require.Equal(t, Registered, m.State(), "seeded from the target's current state")

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.Equal(t, Running, m.State())
	require.NoError(t, m.Stop(ctx))
	require.Equal(t, Stopped, m.State())

	// unknown native values are ignored
	svc.Notifications().Emit(event.NewAttributeChange(target, service.StateAttribute, 3, 99))
	require.Equal(t, Stopped, m.State())

	m.Detach()
	require.NoError(t, svc.Start(ctx))
	require.Equal(t, Stopped, m.State(), "detached manager must not follow the target")

	require.Equal(t, []event.Type{
		event.StateStarting, event.StateRunning,
		event.StateStopping, event.StateStopped,
	}, got)
}

func TestControlWithoutTarget(t *testing.T) {
	m := NewManager(owner, event.NewEmitter())
	require.NoError(t, m.Start(context.Background()))
	require.Equal(t, Running, m.State())
	require.NoError(t, m.Stop(context.Background()))
	require.Equal(t, Stopped, m.State())
	m.Detach()
}

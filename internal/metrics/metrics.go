package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loykin/jsr77/internal/event"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	objectsRegistered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jsr77",
			Subsystem: "objects",
			Name:      "registered_total",
			Help:      "Number of managed objects registered.",
		}, []string{"type"},
	)
	objectsUnregistered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jsr77",
			Subsystem: "objects",
			Name:      "unregistered_total",
			Help:      "Number of managed objects unregistered.",
		}, []string{"type"},
	)
	objects = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "jsr77",
			Name:      "objects",
			Help:      "Managed objects currently registered per type.",
		}, []string{"type"},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jsr77",
			Subsystem: "state",
			Name:      "transitions_total",
			Help:      "Number of state transitions between lifecycle states.",
		}, []string{"type", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "jsr77",
			Name:      "current_state",
			Help:      "Current state of managed objects (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jsr77",
			Name:      "notifications_total",
			Help:      "Number of notifications emitted per type.",
		}, []string{"type"},
	)
	deploymentEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jsr77",
			Subsystem: "deployment",
			Name:      "events_total",
			Help:      "Number of deployment lifecycle events per event and archive kind.",
		}, []string{"event", "kind"},
	)
	factoryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jsr77",
			Subsystem: "factory",
			Name:      "failures_total",
			Help:      "Number of managed objects that could not be created.",
		}, []string{"type"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		objectsRegistered, objectsUnregistered, objects,
		stateTransitions, currentStates,
		notifications, deploymentEvents, factoryFailures,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Observe counts every notification on bus, and registrations per j2eeType.
// The returned subscription is released with bus.Unsubscribe.
func Observe(bus *event.Emitter) event.Subscription {
	return bus.Subscribe(func(n event.Notification) {
		IncNotification(string(n.Type))
		switch n.Type {
		case event.ObjectRegistered:
			IncRegistered(typeOf(n))
		case event.ObjectUnregistered:
			IncUnregistered(typeOf(n))
		}
	})
}

func typeOf(n event.Notification) string {
	if t := n.Source.Type(); t != "" {
		return t
	}
	return "none"
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncRegistered(j2eeType string) {
	if regOK.Load() {
		objectsRegistered.WithLabelValues(j2eeType).Inc()
		objects.WithLabelValues(j2eeType).Inc()
	}
}

func IncUnregistered(j2eeType string) {
	if regOK.Load() {
		objectsUnregistered.WithLabelValues(j2eeType).Inc()
		objects.WithLabelValues(j2eeType).Dec()
	}
}

func IncNotification(t string) {
	if regOK.Load() {
		notifications.WithLabelValues(t).Inc()
	}
}

func IncDeploymentEvent(ev, kind string) {
	if regOK.Load() {
		deploymentEvents.WithLabelValues(ev, kind).Inc()
	}
}

func IncFactoryFailure(j2eeType string) {
	if regOK.Load() {
		factoryFailures.WithLabelValues(j2eeType).Inc()
	}
}

func RecordStateTransition(j2eeType, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(j2eeType, from, to).Inc()
	}
}

// SetCurrentState marks state as the active state of name. Pass the
// previous state with active false to clear it.
func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64 = 0
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}

// ForgetObject drops the per-object series of name.
func ForgetObject(name string) {
	if regOK.Load() {
		currentStates.DeletePartialMatch(prometheus.Labels{"name": name})
	}
}

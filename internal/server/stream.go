package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/objectname"
	"github.com/loykin/jsr77/internal/pubsub"
)

// Relay publishes every notification of bus to broker. Release it with
// bus.Unsubscribe.
func Relay(bus *event.Emitter, broker *pubsub.Broker[event.Notification]) event.Subscription {
	return bus.Subscribe(func(n event.Notification) {
		broker.Publish(pubsub.Topic(n.Type), n)
	})
}

type streamFilter struct {
	types   map[event.Type]bool
	pattern *objectname.Pattern
}

func (f streamFilter) accepts(n event.Notification) bool {
	if len(f.types) > 0 && !f.types[n.Type] {
		return false
	}
	return f.pattern == nil || f.pattern.Matches(n.Source)
}

func parseFilter(c *gin.Context) (streamFilter, error) {
	var f streamFilter
	for _, raw := range c.QueryArray("type") {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t == "" {
				continue
			}
			if f.types == nil {
				f.types = make(map[event.Type]bool)
			}
			f.types[event.Type(t)] = true
		}
	}
	if raw := c.Query("pattern"); raw != "" {
		p, err := objectname.ParsePattern(raw)
		if err != nil {
			return f, err
		}
		f.pattern = &p
	}
	return f, nil
}

// handleNotifications streams notifications as server-sent events. Each
// event is named after the notification type and carries a CloudEvent in
// structured JSON form. A "ready" event is sent once the subscription is in
// place.
func (r *Router) handleNotifications(c *gin.Context) {
	if r.broker == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "notification streaming disabled"})
		return
	}
	filter, err := parseFilter(c)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	ctx := c.Request.Context()
	ch := r.broker.Subscribe(ctx)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("ready", r.dom.Factory().Domain())
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			if filter.accepts(ev.Payload) {
				c.SSEvent(string(ev.Topic), event.ToCloudEvent(ev.Payload))
			}
			return true
		}
	})
}

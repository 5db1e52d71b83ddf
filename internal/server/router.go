package server

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/jsr77/internal/deploy"
	"github.com/loykin/jsr77/internal/domain"
	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/managed"
	"github.com/loykin/jsr77/internal/objectname"
	"github.com/loykin/jsr77/internal/pubsub"
	"github.com/loykin/jsr77/internal/registry"
	"github.com/loykin/jsr77/internal/stats"
)

// Router provides embeddable HTTP handlers for the management tree.
// Endpoints:
//   GET  {basePath}/objects                query: pattern=... (optional)
//   GET  {basePath}/object                 query: name=...
//   GET  {basePath}/object/stats           query: name=...
//   GET  {basePath}/object/children        query: name=...&category=... (category optional)
//   POST {basePath}/object/start           query: name=...
//   POST {basePath}/object/stop            query: name=...
//   POST {basePath}/object/start-recursive query: name=...
//   PUT  {basePath}/attribute              query: name=...&attr=...  body: JSON value
//   GET  {basePath}/deployments
//   POST {basePath}/deploy                 query: path=... (absolute)
//   POST {basePath}/undeploy               query: path=... (absolute)
//   GET  {basePath}/notifications          query: type=...&pattern=... (SSE)
//   GET  {basePath}/healthz
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	dom      *domain.Domain
	broker   *pubsub.Broker[event.Notification]
	basePath string
}

// NewRouter constructs a new Router with configurable basePath. broker may
// be nil, in which case the notifications endpoint answers 503.
func NewRouter(dom *domain.Domain, broker *pubsub.Broker[event.Notification], basePath string) *Router {
	return &Router{dom: dom, broker: broker, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Mount(g.Group(r.basePath))
	return g
}

// Mount adds the routes to an existing group.
func (r *Router) Mount(group *gin.RouterGroup) {
	group.GET("/objects", r.handleObjects)
	group.GET("/object", r.handleObject)
	group.GET("/object/stats", r.handleStats)
	group.GET("/object/children", r.handleChildren)
	group.POST("/object/start", r.handleLifecycle(managed.OpStart))
	group.POST("/object/stop", r.handleLifecycle(managed.OpStop))
	group.POST("/object/start-recursive", r.handleLifecycle(managed.OpStartRecursive))
	group.PUT("/attribute", r.handleSetAttribute)
	group.GET("/deployments", r.handleDeployments)
	group.POST("/deploy", r.handleDeploy)
	group.POST("/undeploy", r.handleUndeploy)
	group.GET("/notifications", r.handleNotifications)
	group.GET("/healthz", r.handleHealth)
}

// NewServer starts a standalone server on addr using this router, serving
// HTTPS when tlsCfg is non-nil. The listener is bound before NewServer
// returns, and the returned server's Addr is the bound address. There is
// no write timeout since the notification stream stays open; the broker is
// closed on Shutdown so open streams end.
func NewServer(addr string, r *Router, tlsCfg *tls.Config) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if r.broker != nil {
		server.RegisterOnShutdown(r.broker.Close)
	}
	go func() {
		if tlsCfg != nil {
			_ = server.ServeTLS(ln, "", "")
			return
		}
		_ = server.Serve(ln)
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// ObjectView is what GET /object returns.
type ObjectView struct {
	Name         string                `json:"name"`
	Type         string                `json:"j2eeType,omitempty"`
	Capabilities *managed.Capabilities `json:"capabilities,omitempty"`
	State        string                `json:"state,omitempty"`
	Attributes   map[string]any        `json:"attributes"`
	Children     map[string][]string   `json:"children,omitempty"`
}

// StatsView is what GET /object/stats returns.
type StatsView struct {
	Name     string         `json:"name"`
	Category stats.Category `json:"category"`
	Stats    stats.Stats    `json:"stats"`
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func fail(c *gin.Context, err error) {
	code := http.StatusBadRequest
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, deploy.ErrNotDeployed), errors.Is(err, registry.ErrAttributeNotFound):
		code = http.StatusNotFound
	case errors.Is(err, registry.ErrReadOnlyAttribute), errors.Is(err, managed.ErrNotStateManageable),
		errors.Is(err, managed.ErrNotStatisticsProvider):
		code = http.StatusConflict
	}
	writeJSON(c, code, errorResp{Error: err.Error()})
}

// nameParam reads the required name query parameter.
func nameParam(c *gin.Context) (objectname.Name, bool) {
	raw := c.Query("name")
	if raw == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return objectname.Name{}, false
	}
	n, err := objectname.Parse(raw)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return objectname.Name{}, false
	}
	return n, true
}

func (r *Router) object(c *gin.Context) (*managed.Object, bool) {
	n, ok := nameParam(c)
	if !ok {
		return nil, false
	}
	o, ok := r.dom.Factory().Object(n)
	if !ok {
		fail(c, fmt.Errorf("%w: %s", registry.ErrNotFound, n))
		return nil, false
	}
	return o, true
}

func (r *Router) handleObjects(c *gin.Context) {
	p, err := objectname.ParsePattern(c.DefaultQuery("pattern", "*"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	names := r.dom.Registry().Query(p)
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n.String()
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleObject(c *gin.Context) {
	n, ok := nameParam(c)
	if !ok {
		return
	}
	if o, ok := r.dom.Factory().Object(n); ok {
		caps := o.Capabilities()
		v := ObjectView{
			Name:         n.String(),
			Type:         string(o.Kind()),
			Capabilities: &caps,
			Attributes:   o.Attributes(),
			Children:     o.ChildCategories(),
		}
		if caps.StateManageable {
			v.State = o.State().String()
		}
		writeJSON(c, http.StatusOK, v)
		return
	}
	// Anything else in the registry, such as a backing service.
	reg := r.dom.Registry()
	attrs, err := reg.AttributeNames(n)
	if err != nil {
		fail(c, err)
		return
	}
	v := ObjectView{Name: n.String(), Attributes: make(map[string]any, len(attrs))}
	for _, a := range attrs {
		if val, err := reg.GetAttribute(n, a); err == nil {
			v.Attributes[a] = val
		}
	}
	writeJSON(c, http.StatusOK, v)
}

func (r *Router) handleStats(c *gin.Context) {
	o, ok := r.object(c)
	if !ok {
		return
	}
	s, err := o.Stats()
	if err != nil {
		fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, StatsView{Name: o.Name().String(), Category: s.Category(), Stats: s})
}

func (r *Router) handleChildren(c *gin.Context) {
	o, ok := r.object(c)
	if !ok {
		return
	}
	category := c.Query("category")
	if category == "" {
		writeJSON(c, http.StatusOK, o.ChildCategories())
		return
	}
	if !isChildCategory(category) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "unknown child category " + category})
		return
	}
	if _, known := o.ChildCategories()[category]; !known {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no child category " + category + " on " + string(o.Kind())})
		return
	}
	writeJSON(c, http.StatusOK, o.Children(category))
}

func (r *Router) handleLifecycle(op string) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, ok := r.object(c)
		if !ok {
			return
		}
		var err error
		switch op {
		case managed.OpStart:
			err = o.Start(c.Request.Context())
		case managed.OpStop:
			err = o.Stop(c.Request.Context())
		case managed.OpStartRecursive:
			err = o.StartRecursive(c.Request.Context())
		}
		if err != nil {
			fail(c, err)
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleSetAttribute(c *gin.Context) {
	n, ok := nameParam(c)
	if !ok {
		return
	}
	attr := c.Query("attr")
	if attr == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "attr query param required"})
		return
	}
	var value any
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if num, ok := value.(json.Number); ok {
		if i, err := num.Int64(); err == nil {
			value = i
		} else if f, err := num.Float64(); err == nil {
			value = f
		}
	}
	if err := r.dom.Registry().SetAttribute(n, attr, value); err != nil {
		fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleDeployments(c *gin.Context) {
	deps := r.dom.Deployer().Deployments()
	sort.Slice(deps, func(i, j int) bool { return deps[i].Location < deps[j].Location })
	writeJSON(c, http.StatusOK, deps)
}

func (r *Router) deployPath(c *gin.Context) (string, bool) {
	p := c.Query("path")
	if p == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "path query param required"})
		return "", false
	}
	clean, err := archivePath(p)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid path: " + err.Error()})
		return "", false
	}
	return clean, true
}

func (r *Router) handleDeploy(c *gin.Context) {
	p, ok := r.deployPath(c)
	if !ok {
		return
	}
	if err := r.dom.Deployer().Deploy(c.Request.Context(), p); err != nil {
		fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleUndeploy(c *gin.Context) {
	p, ok := r.deployPath(c)
	if !ok {
		return
	}
	if err := r.dom.Deployer().Undeploy(c.Request.Context(), p); err != nil {
		fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type healthResp struct {
	Status  string `json:"status"`
	Domain  string `json:"domain"`
	Objects int    `json:"objects"`
}

func (r *Router) handleHealth(c *gin.Context) {
	server := r.dom.Server()
	if server.IsZero() {
		writeJSON(c, http.StatusServiceUnavailable, healthResp{Status: "starting", Domain: r.dom.Factory().Domain()})
		return
	}
	writeJSON(c, http.StatusOK, healthResp{
		Status:  "ok",
		Domain:  r.dom.Factory().Domain(),
		Objects: r.dom.Registry().Count(),
	})
}

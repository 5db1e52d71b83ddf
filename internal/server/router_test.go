package server

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/loykin/jsr77/internal/deploy"
	"github.com/loykin/jsr77/internal/domain"
	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/managed"
	"github.com/loykin/jsr77/internal/pubsub"
	"github.com/loykin/jsr77/internal/registry"
)

const (
	serverName = "jboss:j2eeType=J2EEServer,name=Local"
	txService  = "jboss.system:service=TransactionManager,name=TransactionManager"
)

type fixture struct {
	dom    *domain.Domain
	broker *pubsub.Broker[event.Notification]
	h      http.Handler
}

func setupRouter(t *testing.T, base string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := registry.New()
	f := managed.NewFactory(reg, "jboss")
	dom := domain.New(domain.Config{
		Resources: []domain.Resource{{Kind: managed.JTAResource, Name: "TransactionManager"}},
	}, f, deploy.NewMainDeployer(reg))
	require.NoError(t, dom.Start(context.Background()))
	t.Cleanup(func() { _ = dom.Stop(context.Background()) })

	broker := pubsub.NewBroker[event.Notification](0)
	sub := Relay(reg.Events(), broker)
	t.Cleanup(func() {
		reg.Events().Unsubscribe(sub)
		broker.Close()
	})
	return &fixture{dom: dom, broker: broker, h: NewRouter(dom, broker, base).Handler()}
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func q(name string) string { return url.QueryEscape(name) }

func writeWAR(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("WEB-INF/web.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<web-app><servlet><servlet-name>hello</servlet-name><servlet-class>com.acme.Hello</servlet-class></servlet></web-app>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	p := filepath.Join(t.TempDir(), "web.war")
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

func TestObjectsQuery(t *testing.T) {
	fx := setupRouter(t, "/abc")
	rec := doReq(t, fx.h, http.MethodGet, "/abc/objects?pattern="+q("jboss:j2eeType=J2EEServer,*"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	require.Equal(t, []string{serverName}, names)

	rec = doReq(t, fx.h, http.MethodGet, "/abc/objects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	require.Greater(t, len(names), 3, "everything, system services included")

	rec = doReq(t, fx.h, http.MethodGet, "/abc/objects?pattern="+q("no-colon"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestObjectView(t *testing.T) {
	fx := setupRouter(t, "")
	rec := doReq(t, fx.h, http.MethodGet, "/object?name="+q(serverName), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v ObjectView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	require.Equal(t, "J2EEServer", v.Type)
	require.Equal(t, "RUNNING", v.State)
	require.True(t, v.Capabilities.StateManageable)
	require.Len(t, v.Children[managed.JavaVMs], 1)

	rec = doReq(t, fx.h, http.MethodGet, "/object?name="+q(txService), nil)
	require.Equal(t, http.StatusOK, rec.Code, "backing services are visible too")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	require.Contains(t, v.Attributes, "CommitCount")

	require.Equal(t, http.StatusBadRequest, doReq(t, fx.h, http.MethodGet, "/object", nil).Code)
	require.Equal(t, http.StatusBadRequest, doReq(t, fx.h, http.MethodGet, "/object?name=bad", nil).Code)
	require.Equal(t, http.StatusNotFound, doReq(t, fx.h, http.MethodGet, "/object?name="+q("jboss:j2eeType=J2EEServer,name=Other"), nil).Code)
}

func TestStatsAndChildren(t *testing.T) {
	fx := setupRouter(t, "")
	jvm := fx.dom.JVM().String()
	rec := doReq(t, fx.h, http.MethodGet, "/object/stats?name="+q(jvm), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sv map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sv))
	require.Equal(t, "JVM", sv["category"])

	rec = doReq(t, fx.h, http.MethodGet, "/object/stats?name="+q(serverName), nil)
	require.Equal(t, http.StatusConflict, rec.Code, "servers provide no statistics")

	rec = doReq(t, fx.h, http.MethodGet, "/object/children?name="+q(serverName)+"&category=javaVMs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var kids []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &kids))
	require.Equal(t, []string{fx.dom.JVM().Canonical()}, kids)

	rec = doReq(t, fx.h, http.MethodGet, "/object/children?name="+q(serverName), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusNotFound, doReq(t, fx.h, http.MethodGet, "/object/children?name="+q(serverName)+"&category=ejbs", nil).Code)
	require.Equal(t, http.StatusBadRequest, doReq(t, fx.h, http.MethodGet, "/object/children?name="+q(serverName)+"&category=a/b", nil).Code)
}

func TestLifecycleEndpoints(t *testing.T) {
	fx := setupRouter(t, "")
	rec := doReq(t, fx.h, http.MethodPost, "/object/stop?name="+q(serverName), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	o, ok := fx.dom.Factory().Object(fx.dom.Server())
	require.True(t, ok)
	require.Equal(t, "STOPPED", o.State().String())

	rec = doReq(t, fx.h, http.MethodPost, "/object/start-recursive?name="+q(serverName), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "RUNNING", o.State().String())

	rec = doReq(t, fx.h, http.MethodPost, "/object/start?name="+q(fx.dom.JVM().String()), nil)
	require.Equal(t, http.StatusConflict, rec.Code, "virtual machines are not state-manageable")
}

func TestSetAttribute(t *testing.T) {
	fx := setupRouter(t, "")
	rec := doReq(t, fx.h, http.MethodPut, "/attribute?name="+q(txService)+"&attr=CommitCount", 5)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v, err := fx.dom.Registry().GetAttribute(fx.dom.TransactionManager().Name(), "CommitCount")
	require.NoError(t, err)
	require.Equal(t, int64(5), v)

	rec = doReq(t, fx.h, http.MethodPut, "/attribute?name="+q(serverName)+"&attr=serverVendor", "x")
	require.Equal(t, http.StatusConflict, rec.Code, "managed attributes are read-only")
	rec = doReq(t, fx.h, http.MethodPut, "/attribute?name="+q(serverName), "x")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeployEndpoints(t *testing.T) {
	fx := setupRouter(t, "")
	war := writeWAR(t)

	require.Equal(t, http.StatusBadRequest, doReq(t, fx.h, http.MethodPost, "/deploy?path=rel/web.war", nil).Code)
	rec := doReq(t, fx.h, http.MethodPost, "/deploy?path="+q(war), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doReq(t, fx.h, http.MethodGet, "/deployments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var deps []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deps))
	require.Len(t, deps, 1)
	require.Equal(t, "web.war", deps[0]["name"])

	rec = doReq(t, fx.h, http.MethodGet, "/objects?pattern="+q("jboss:j2eeType=Servlet,*"), nil)
	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	require.Len(t, names, 1)

	require.Equal(t, http.StatusOK, doReq(t, fx.h, http.MethodPost, "/undeploy?path="+q(war), nil).Code)
	require.Equal(t, http.StatusNotFound, doReq(t, fx.h, http.MethodPost, "/undeploy?path="+q(war), nil).Code)
}

func TestHealthz(t *testing.T) {
	fx := setupRouter(t, "/api/") // ensure base sanitization works
	rec := doReq(t, fx.h, http.MethodGet, "/api/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var h healthResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	require.Equal(t, "jboss", h.Domain)
	require.Positive(t, h.Objects)
}

func TestNotificationStream(t *testing.T) {
	fx := setupRouter(t, "")
	srv := httptest.NewServer(fx.h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/notifications?type=j2ee.state.stopped&pattern="+q("jboss:j2eeType=J2EEServer,*"), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	next := func(prefix string) string {
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, prefix) {
				return strings.TrimPrefix(line, prefix)
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, sc.Err())
		return ""
	}
	require.Equal(t, "ready", next("event:"))

	require.Equal(t, http.StatusOK, doReq(t, fx.h, http.MethodPost, "/object/stop?name="+q(serverName), nil).Code)
	require.Equal(t, "j2ee.state.stopped", next("event:"), "stopping is filtered out")
	var ce map[string]any
	require.NoError(t, json.Unmarshal([]byte(next("data:")), &ce))
	require.Equal(t, "j2ee.state.stopped", ce["type"])
	require.Equal(t, "1.0", ce["specversion"])
	require.Equal(t, "J2EEServer", ce["j2eetype"])
}

func TestNotificationStreamDisabled(t *testing.T) {
	fx := setupRouter(t, "")
	h := NewRouter(fx.dom, nil, "").Handler()
	require.Equal(t, http.StatusServiceUnavailable, doReq(t, h, http.MethodGet, "/notifications", nil).Code)
}

func TestNewServerStartClose(t *testing.T) {
	fx := setupRouter(t, "/x")
	srv, err := NewServer("127.0.0.1:0", NewRouter(fx.dom, fx.broker, "/x"), nil)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()
	require.NotEqual(t, "127.0.0.1:0", srv.Addr)

	resp, err := http.Get("http://" + srv.Addr + "/x/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = NewServer(srv.Addr, NewRouter(fx.dom, fx.broker, "/x"), nil)
	require.Error(t, err, "address in use")
}

func TestNewServerShutdownEndsStreams(t *testing.T) {
	fx := setupRouter(t, "/x")
	srv, err := NewServer("127.0.0.1:0", NewRouter(fx.dom, fx.broker, "/x"), nil)
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr + "/x/notifications")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	lines := bufio.NewScanner(resp.Body)
	for lines.Scan() && !strings.HasPrefix(lines.Text(), "event:ready") {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx), "an open stream must not hold up shutdown")
	require.Zero(t, fx.broker.SubscriberCount())
}

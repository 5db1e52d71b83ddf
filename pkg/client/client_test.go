package client

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/jsr77/internal/deploy"
	"github.com/loykin/jsr77/internal/domain"
	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/managed"
	"github.com/loykin/jsr77/internal/pubsub"
	"github.com/loykin/jsr77/internal/registry"
	"github.com/loykin/jsr77/internal/server"
)

const (
	serverName = "jboss:j2eeType=J2EEServer,name=Local"
	jtaName    = "jboss:j2eeType=JTAResource,name=TransactionManager,J2EEServer=Local"
	txService  = "jboss.system:service=TransactionManager,name=TransactionManager"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := registry.New()
	f := managed.NewFactory(reg, "jboss")
	dom := domain.New(domain.Config{
		Resources: []domain.Resource{{Kind: managed.JTAResource, Name: "TransactionManager"}},
	}, f, deploy.NewMainDeployer(reg))
	require.NoError(t, dom.Start(context.Background()))

	broker := pubsub.NewBroker[event.Notification](0)
	sub := server.Relay(reg.Events(), broker)
	ts := httptest.NewServer(server.NewRouter(dom, broker, "/api").Handler())
	t.Cleanup(func() {
		ts.Close()
		reg.Events().Unsubscribe(sub)
		broker.Close()
		_ = dom.Stop(context.Background())
	})

	c, err := New(Config{BaseURL: ts.URL + "/api/", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestClientBrowse(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	require.True(t, c.IsReachable(ctx))
	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "jboss", h.Domain)
	assert.Positive(t, h.Objects)

	names, err := c.Query(ctx, "jboss:j2eeType=JTAResource,*")
	require.NoError(t, err)
	require.Len(t, names, 1)

	all, err := c.Query(ctx, "")
	require.NoError(t, err)
	assert.Greater(t, len(all), len(names))

	o, err := c.Object(ctx, serverName)
	require.NoError(t, err)
	assert.Equal(t, "J2EEServer", o.Type)
	require.NotNil(t, o.Capabilities)
	assert.True(t, o.Capabilities.StateManageable)
	assert.Equal(t, "RUNNING", o.State)

	cats, err := c.ChildCategories(ctx, serverName)
	require.NoError(t, err)
	assert.Contains(t, cats, managed.JavaVMs)
	vms, err := c.Children(ctx, serverName, managed.JavaVMs)
	require.NoError(t, err)
	require.Len(t, vms, 1)

	st, err := c.Stats(ctx, vms[0])
	require.NoError(t, err)
	assert.Equal(t, "JVM", st.Category)
	assert.Contains(t, st.Stats, "upTime")

	_, err = c.Stats(ctx, serverName)
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	_, err = c.Object(ctx, "jboss:j2eeType=J2EEServer,name=Nope")
	assert.True(t, IsNotFound(err))
}

func TestClientLifecycleAndAttributes(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.Stop(ctx, jtaName))
	o, err := c.Object(ctx, jtaName)
	require.NoError(t, err)
	assert.Equal(t, "STOPPED", o.State)
	require.NoError(t, c.StartRecursive(ctx, jtaName))
	o, err = c.Object(ctx, jtaName)
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", o.State)

	require.NoError(t, c.SetAttribute(ctx, txService, "CommitCount", 120))
	svc, err := c.Object(ctx, txService)
	require.NoError(t, err)
	assert.EqualValues(t, 120, svc.Attributes["CommitCount"])

	err = c.SetAttribute(ctx, serverName, "serverVendor", "x")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	require.Error(t, c.SetAttribute(ctx, txService, "CommitCount", nil))
}

func TestClientDeploy(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	dir := t.TempDir()
	war := filepath.Join(dir, "hello.war")
	require.NoError(t, os.MkdirAll(filepath.Join(war, "WEB-INF"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(war, "WEB-INF", "web.xml"), []byte(
		`<web-app><servlet><servlet-name>hello</servlet-name><servlet-class>a.Hello</servlet-class></servlet></web-app>`), 0o644))

	require.NoError(t, c.Deploy(ctx, war))
	deps, err := c.Deployments(ctx)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "war", deps[0].Kind)
	require.Len(t, deps[0].Components, 1)
	assert.Equal(t, "Servlet", deps[0].Components[0].Kind)

	mods, err := c.Query(ctx, "jboss:j2eeType=WebModule,*")
	require.NoError(t, err)
	assert.Len(t, mods, 1)

	require.NoError(t, c.Undeploy(ctx, war))
	err = c.Undeploy(ctx, war)
	assert.True(t, IsNotFound(err))
	assert.Error(t, c.Deploy(ctx, "relative/path.war"))
}

func TestClientWatch(t *testing.T) {
	c := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ready := make(chan string, 1)
	var mu sync.Mutex
	var got []Notification
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, WatchFilter{Types: []string{"j2ee.state.stopped"}, Pattern: "jboss:j2eeType=JTAResource,*"},
			func(d string) { ready <- d },
			func(n Notification) {
				mu.Lock()
				got = append(got, n)
				mu.Unlock()
			})
	}()

	select {
	case d := <-ready:
		assert.Equal(t, "jboss", d)
	case <-ctx.Done():
		t.Fatal("stream never became ready")
	}
	require.NoError(t, c.Stop(context.Background(), jtaName))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	n := got[0]
	mu.Unlock()
	assert.Equal(t, "j2ee.state.stopped", n.Type)
	assert.Equal(t, "JTAResource", n.J2EEType)
	assert.Equal(t, "jboss:J2EEServer=Local,j2eeType=JTAResource,name=TransactionManager", n.Source)
	assert.NotEmpty(t, n.ID)
	assert.False(t, n.Time.IsZero())
}

func TestReadEvents(t *testing.T) {
	stream := ": comment\nevent:ready\ndata:jboss\n\nevent: x\ndata: a\ndata: b\n\n"
	var got []string
	err := readEvents(strings.NewReader(stream), func(name, data string) error {
		got = append(got, name+"="+data)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ready=jboss", "x=a\nb"}, got)
}

func TestNewTLSErrors(t *testing.T) {
	_, err := New(Config{TLS: &TLSClientConfig{Enabled: true, CACert: "/definitely/not/here.crt"}})
	require.Error(t, err)
	c, err := New(Config{Insecure: true})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

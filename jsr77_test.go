package jsr77

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sfactory "github.com/loykin/jsr77/internal/store/factory"
	"github.com/loykin/jsr77/pkg/client"
	"github.com/loykin/jsr77/pkg/template"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Metrics.Listen = "127.0.0.1:0"
	return cfg
}

func startServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return s
}

func apiClient(t *testing.T, s *Server) *client.Client {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.BaseURL = "http://" + s.Addr() + "/api"
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c
}

func TestServerServesManagementTree(t *testing.T) {
	s := startServer(t, testConfig(t))
	defer func() { _ = s.Stop(context.Background()) }()

	if s.Addr() == "" || strings.HasSuffix(s.Addr(), ":0") {
		t.Fatalf("expected bound address, got %q", s.Addr())
	}
	c := apiClient(t, s)
	ctx := context.Background()
	h, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if h.Status != "ok" {
		t.Fatalf("unexpected health: %+v", h)
	}
	names, err := c.Query(ctx, "jboss:j2eeType=J2EEServer,*")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(names) != 1 || names[0] != s.Domain().Server().String() {
		t.Fatalf("unexpected servers: %v", names)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestServerStopIsFinal(t *testing.T) {
	s, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Stop(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("expected no address after stop, got %q", s.Addr())
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestServerStopEndsOpenNotificationStream(t *testing.T) {
	s := startServer(t, testConfig(t))
	resp, err := http.Get("http://" + s.Addr() + "/api/notifications")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d", resp.StatusCode)
	}
	lines := bufio.NewScanner(resp.Body)
	for lines.Scan() {
		if strings.HasPrefix(lines.Text(), "event:ready") {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	begin := time.Now()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop with a watcher attached: %v", err)
	}
	if took := time.Since(begin); took > 2*time.Second {
		t.Fatalf("stop waited %v for the stream", took)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Domain.Name = "bad:name"
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestServerDeploysScannedDirectory(t *testing.T) {
	dir := t.TempDir()
	tpl, err := template.NewGenerator().Generate(template.TypeWAR, "shop")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := tpl.Write(dir); err != nil {
		t.Fatalf("write: %v", err)
	}

	dbPath := filepath.Join(t.TempDir(), "tree.db")
	histPath := filepath.Join(t.TempDir(), "history.db")
	cfg := testConfig(t)
	cfg.Deploy.Dir = dir
	cfg.Store.DSN = "sqlite://" + dbPath
	cfg.Store.SnapshotSchedule = ""
	cfg.History.Sinks = []string{"sqlite://" + histPath}

	s := startServer(t, cfg)
	c := apiClient(t, s)
	ctx := context.Background()

	deps, err := c.Deployments(ctx)
	if err != nil {
		t.Fatalf("deployments: %v", err)
	}
	if len(deps) != 1 || deps[0].Kind != "war" {
		t.Fatalf("unexpected deployments: %+v", deps)
	}
	mods, err := c.Query(ctx, "jboss:j2eeType=WebModule,*")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(mods) != 1 {
		t.Fatalf("expected one web module, got %v", mods)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(s.Deployer().Deployments()) != 0 {
		t.Fatalf("deployments survived stop")
	}

	st, err := sfactory.Open(ctx, "sqlite://"+dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() { _ = st.Close() }()
	recs, err := st.List(ctx, "J2EEServer")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected the server row, got %+v", recs)
	}
	if recs, _ := st.List(ctx, "WebModule"); len(recs) != 1 {
		t.Fatalf("expected the web module row, got %+v", recs)
	}
	if fi, err := os.Stat(histPath); err != nil || fi.Size() == 0 {
		t.Fatalf("history database not written: %v", err)
	}
}

func TestServerWatchScannerPicksUpNewArchive(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Deploy.Dir = dir
	cfg.Deploy.Scan = true
	cfg.Deploy.Debounce = 200 * time.Millisecond
	s := startServer(t, cfg)
	defer func() { _ = s.Stop(context.Background()) }()

	tpl, err := template.NewGenerator().Generate(template.TypeService, "cache")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := tpl.Write(dir); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(s.Deployer().Deployments()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("scanner did not deploy %s", tpl.Name)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServerServesMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Process.Enabled = true
	cfg.Metrics.Process.Interval = 50 * time.Millisecond
	s := startServer(t, cfg)
	defer func() { _ = s.Stop(context.Background()) }()

	resp, err := http.Get("http://" + s.MetricsAddr() + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "jsr77_") {
		t.Fatalf("metrics body lacks jsr77 series")
	}

	jvm, ok := s.Factory().Object(s.Domain().JVM())
	if !ok {
		t.Fatalf("no JVM object")
	}
	v, err := s.Registry().GetAttribute(jvm.Backing(), "ProcessID")
	if err != nil {
		t.Fatalf("ProcessID attribute: %v", err)
	}
	if v.(int64) != int64(os.Getpid()) {
		t.Fatalf("unexpected pid %v", v)
	}
}

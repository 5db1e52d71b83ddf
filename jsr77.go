// Package jsr77 embeds a management server: the J2EE management tree of
// one server, its deployment runtime and the HTTP management API.
package jsr77

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/jsr77/internal/config"
	"github.com/loykin/jsr77/internal/deploy"
	"github.com/loykin/jsr77/internal/domain"
	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/history"
	hfactory "github.com/loykin/jsr77/internal/history/factory"
	"github.com/loykin/jsr77/internal/managed"
	"github.com/loykin/jsr77/internal/metrics"
	"github.com/loykin/jsr77/internal/objectname"
	"github.com/loykin/jsr77/internal/pubsub"
	"github.com/loykin/jsr77/internal/registry"
	"github.com/loykin/jsr77/internal/server"
	"github.com/loykin/jsr77/internal/state"
	"github.com/loykin/jsr77/internal/store"
	sfactory "github.com/loykin/jsr77/internal/store/factory"
	itls "github.com/loykin/jsr77/internal/tls"
)

// Re-export core types for external consumers.

type Config = config.Config

type Name = objectname.Name

type Notification = event.Notification

type Deployment = deploy.Deployment

// LoadConfig reads a TOML configuration file; see config.Load.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig is the configuration used without a file.
func DefaultConfig() *Config { return config.Default() }

var (
	ErrAlreadyStarted = errors.New("jsr77: server already started")
	ErrNotStarted     = errors.New("jsr77: server not started")
	ErrClosed         = errors.New("jsr77: server closed")
)

// Server owns every component of a running management server.
type Server struct {
	cfg    *Config
	logger *slog.Logger

	reg       *registry.Registry
	factory   *managed.Factory
	deployer  *deploy.MainDeployer
	dom       *domain.Domain
	collector *metrics.ProcessCollector
	broker    *pubsub.Broker[event.Notification]

	mu         sync.Mutex
	started    bool
	closed     bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	subs       []event.Subscription
	st         store.Store
	snap       *store.Snapshotter
	recorder   *history.Recorder
	httpSrv    *http.Server
	metricsSrv *http.Server
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// New assembles a server from cfg without starting anything. A nil cfg
// means DefaultConfig.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	l := s.logger

	s.reg = registry.New(registry.WithLogger(l))
	s.factory = managed.NewFactory(s.reg, cfg.Domain.Name,
		managed.WithLogger(l),
		managed.OnFailure(func(kind managed.Kind, err error) {
			metrics.IncFactoryFailure(string(kind))
		}),
		managed.OnTransition(func(o *managed.Object, from, to state.State) {
			name := o.Name().Canonical()
			metrics.RecordStateTransition(string(o.Kind()), from.String(), to.String())
			metrics.SetCurrentState(name, from.String(), false)
			metrics.SetCurrentState(name, to.String(), true)
		}),
	)
	s.deployer = deploy.NewMainDeployer(s.reg, deploy.WithLogger(l))
	s.collector = metrics.NewProcessCollector(cfg.Metrics.Process)
	s.dom = domain.New(cfg.DomainServer(), s.factory, s.deployer,
		domain.WithLogger(l),
		domain.OnDeploymentEvent(func(ev deploy.Event) {
			kind := "none"
			if ev.Deployment != nil {
				kind = string(ev.Deployment.Kind)
			}
			metrics.IncDeploymentEvent(string(ev.Type), kind)
		}),
		domain.WithJVMAttributes(s.collector.Attributes()),
	)
	if cfg.Server.Notifications > 0 {
		s.broker = pubsub.NewBroker[event.Notification](cfg.Server.Notifications)
	}
	return s, nil
}

func (s *Server) Domain() *domain.Domain               { return s.dom }
func (s *Server) Registry() *registry.Registry         { return s.reg }
func (s *Server) Factory() *managed.Factory            { return s.factory }
func (s *Server) Deployer() *deploy.MainDeployer       { return s.deployer }
func (s *Server) Collector() *metrics.ProcessCollector { return s.collector }

// Router returns the management API handlers, for embedding in another
// server.
func (s *Server) Router() *server.Router {
	return server.NewRouter(s.dom, s.broker, s.cfg.Server.BasePath)
}

// Addr is the bound address of the management API, empty when it is not
// listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv == nil {
		return ""
	}
	return s.httpSrv.Addr
}

// MetricsAddr is the bound address of the metrics listener, if any.
func (s *Server) MetricsAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metricsSrv == nil {
		return ""
	}
	return s.metricsSrv.Addr
}

// Start brings the server up: metrics, the management tree, persistence,
// history, the deployment scanner and finally the listeners. On error
// everything already started is stopped again.
func (s *Server) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()
	defer func() {
		if err != nil {
			_ = s.Stop(context.Background())
		}
	}()

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.collector.Start(runCtx); err != nil {
		return err
	}
	if err := s.startMetrics(); err != nil {
		return err
	}
	bus := s.reg.Events()
	s.addSub(bus.Subscribe(func(n event.Notification) {
		metrics.ForgetObject(n.Source.Canonical())
	}, event.ObjectUnregistered))
	if s.broker != nil {
		s.addSub(server.Relay(bus, s.broker))
	}
	if err := s.startHistory(); err != nil {
		return err
	}
	if err := s.startStore(ctx); err != nil {
		return err
	}
	if err := s.dom.Start(ctx); err != nil {
		return err
	}
	if err := s.startDeploy(ctx, runCtx); err != nil {
		return err
	}
	return s.startHTTP()
}

func (s *Server) addSub(id event.Subscription) {
	s.mu.Lock()
	s.subs = append(s.subs, id)
	s.mu.Unlock()
}

func (s *Server) startMetrics() error {
	mc := s.cfg.Metrics
	if !mc.Enabled {
		return nil
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	s.addSub(metrics.Observe(s.reg.Events()))
	if err := s.collector.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register process metrics: %w", err)
	}
	ln, err := net.Listen("tcp", mc.Listen)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", mc.Listen, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server error", "error", err)
		}
	}()
	s.mu.Lock()
	s.metricsSrv = srv
	s.mu.Unlock()
	s.logger.Info("Serving metrics", "addr", srv.Addr)
	return nil
}

func (s *Server) startHistory() error {
	hc := s.cfg.History
	if len(hc.Sinks) == 0 {
		return nil
	}
	sinks := make([]history.Sink, 0, len(hc.Sinks))
	for _, dsn := range hc.Sinks {
		sink, err := hfactory.NewSinkFromDSN(dsn)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	opts := []history.RecorderOption{history.WithLogger(s.logger)}
	if hc.QueueSize > 0 {
		opts = append(opts, history.WithQueueSize(hc.QueueSize))
	}
	if hc.Timeout > 0 {
		opts = append(opts, history.WithTimeout(hc.Timeout))
	}
	if len(hc.Types) > 0 {
		types := make([]event.Type, len(hc.Types))
		for i, t := range hc.Types {
			types[i] = event.Type(t)
		}
		opts = append(opts, history.WithTypes(types...))
	}
	r := history.NewRecorder(s.reg.Events(), sinks, opts...)
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
	s.logger.Info("Recording history", "sinks", len(sinks))
	return nil
}

func (s *Server) startStore(ctx context.Context) error {
	sc := s.cfg.Store
	if sc.DSN == "" {
		return nil
	}
	st, err := sfactory.NewFromDSN(sc.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	snap := store.NewSnapshotter(st, s.factory, store.WithLogger(s.logger), store.WithSchedule(sc.SnapshotSchedule))
	s.mu.Lock()
	s.st = st
	s.snap = snap
	s.mu.Unlock()
	return snap.Start(ctx)
}

func (s *Server) startDeploy(ctx, runCtx context.Context) error {
	dc := s.cfg.Deploy
	if dc.Dir == "" {
		return nil
	}
	opts := []deploy.ScannerOption{deploy.WithScanLogger(s.logger)}
	if dc.Debounce > 0 {
		opts = append(opts, deploy.WithDebounce(dc.Debounce))
	}
	sc := deploy.NewScanner(dc.Dir, s.deployer, opts...)
	if !dc.Scan {
		return sc.Scan(ctx)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := sc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Deployment scanner stopped", "dir", dc.Dir, "error", err)
		}
	}()
	return nil
}

func (s *Server) startHTTP() error {
	tlsCfg, err := itls.SetupTLS(s.cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("server TLS: %w", err)
	}
	srv, err := server.NewServer(s.cfg.Server.Listen, s.Router(), tlsCfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	protocol := "HTTP"
	if tlsCfg != nil {
		protocol = "HTTPS"
	}
	s.logger.Info("Serving management API", "protocol", protocol, "addr", srv.Addr, "base_path", s.cfg.Server.BasePath)
	return nil
}

// Stop shuts the server down in reverse start order. The notification
// broker is closed before the API so open streams end and do not hold up
// the HTTP shutdown. The snapshotter is stopped before the tree is torn
// down so the store keeps the tree as it was while serving.
// Deployments are undeployed before the tree is torn down, so their
// objects go away with the usual notifications. A stopped server cannot be
// started again.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	s.closed = true
	httpSrv, metricsSrv := s.httpSrv, s.metricsSrv
	s.httpSrv, s.metricsSrv = nil, nil
	cancel := s.cancel
	subs := s.subs
	s.subs = nil
	snap, st, recorder := s.snap, s.st, s.recorder
	s.snap, s.st, s.recorder = nil, nil, nil
	s.mu.Unlock()

	var errs []error
	if s.broker != nil {
		s.broker.Close()
	}
	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown API: %w", err))
		}
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	if snap != nil {
		snap.Stop()
	}
	s.deployer.Shutdown(ctx)
	if err := s.dom.Stop(ctx); err != nil && !errors.Is(err, domain.ErrNotStarted) {
		errs = append(errs, err)
	}
	if st != nil {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	bus := s.reg.Events()
	for _, id := range subs {
		bus.Unsubscribe(id)
	}
	s.collector.Stop()
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
		}
	}
	s.logger.Info("Server stopped", "domain", s.cfg.Domain.Name)
	return errors.Join(errs...)
}

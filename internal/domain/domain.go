// Package domain builds and maintains the management tree of one server:
// the domain, server and virtual machine objects, the configured
// resources, and the applications, modules and components that the
// deployment runtime reports.
package domain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/loykin/jsr77/internal/deploy"
	"github.com/loykin/jsr77/internal/managed"
	"github.com/loykin/jsr77/internal/objectname"
	"github.com/loykin/jsr77/internal/registry"
	"github.com/loykin/jsr77/internal/service"
)

var (
	ErrAlreadyStarted = errors.New("domain: already started")
	ErrNotStarted     = errors.New("domain: not started")
)

// DefaultSystemDomain is where the domain registers its own services.
const DefaultSystemDomain = "jboss.system"

// Resource is a named server resource of a resource kind.
type Resource struct {
	Kind managed.Kind `mapstructure:"kind"`
	Name string       `mapstructure:"name"`
}

// DefaultResources are the resources a server offers when none are
// configured.
func DefaultResources() []Resource {
	return []Resource{
		{Kind: managed.JNDIResource, Name: "JNDIView"},
		{Kind: managed.JTAResource, Name: "TransactionManager"},
		{Kind: managed.JavaMailResource, Name: "DefaultMail"},
		{Kind: managed.RMIIIOPResource, Name: "CorbaORB"},
		{Kind: managed.URLResource, Name: "DefaultURL"},
		{Kind: managed.JMSResource, Name: "DefaultJMSProvider"},
	}
}

// Config describes the server. The domain name itself belongs to the
// factory.
type Config struct {
	Server       string
	Vendor       string
	Version      string
	SystemDomain string
	Resources    []Resource
	DataSources  []DataSource
}

// Domain coordinates the management tree with the deployment runtime.
type Domain struct {
	cfg      Config
	factory  *managed.Factory
	reg      *registry.Registry
	deployer *deploy.MainDeployer
	logger   *slog.Logger
	onEvent  func(deploy.Event)
	jvmAttrs map[string]service.AttributeFunc

	mu           sync.Mutex
	started      bool
	startTime    time.Time
	root         objectname.Name
	server       objectname.Name
	jvm          objectname.Name
	tx           *service.Service
	services     []objectname.Name
	pools        []*sql.DB
	main         deploy.Subscription
	subs         []subDeployerSub
	applications map[string]objectname.Name
	modules      map[string]objectname.Name
	components   map[string][]objectname.Name
}

type subDeployerSub struct {
	d  *deploy.SubDeployer
	id deploy.Subscription
}

type Option func(*Domain)

func WithLogger(l *slog.Logger) Option { return func(d *Domain) { d.logger = l } }

// OnDeploymentEvent is called for every deployment event the domain sees,
// after it has been dispatched.
func OnDeploymentEvent(fn func(deploy.Event)) Option { return func(d *Domain) { d.onEvent = fn } }

// WithJVMAttributes adds attributes to the service behind the virtual
// machine object, next to the Go runtime ones.
func WithJVMAttributes(attrs map[string]service.AttributeFunc) Option {
	return func(d *Domain) { d.jvmAttrs = attrs }
}

func New(cfg Config, factory *managed.Factory, deployer *deploy.MainDeployer, opts ...Option) *Domain {
	if cfg.Server == "" {
		cfg.Server = "Local"
	}
	if cfg.SystemDomain == "" {
		cfg.SystemDomain = DefaultSystemDomain
	}
	if cfg.Resources == nil {
		cfg.Resources = DefaultResources()
	}
	d := &Domain{
		cfg:          cfg,
		factory:      factory,
		reg:          factory.Registry(),
		deployer:     deployer,
		logger:       slog.Default(),
		applications: make(map[string]objectname.Name),
		modules:      make(map[string]objectname.Name),
		components:   make(map[string][]objectname.Name),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Domain) Factory() *managed.Factory      { return d.factory }
func (d *Domain) Registry() *registry.Registry   { return d.reg }
func (d *Domain) Deployer() *deploy.MainDeployer { return d.deployer }
func (d *Domain) Name() objectname.Name          { return d.factory.DomainName() }

// Server is the name of the server object, zero before Start.
func (d *Domain) Server() objectname.Name {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.server
}

// JVM is the name of the virtual machine object, zero before Start.
func (d *Domain) JVM() objectname.Name {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.jvm
}

// TransactionManager is the service behind the JTA resource. Its counters
// ActiveCount, CommitCount and RollbackCount feed the JTA statistics.
func (d *Domain) TransactionManager() *service.Service {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tx
}

// Start builds the static part of the tree and subscribes to the
// deployment runtime. Deployments that are already deployed are replayed
// as Created events.
func (d *Domain) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.started = true
	d.startTime = time.Now()
	d.mu.Unlock()

	root := d.factory.CreateDomain()
	if root.IsZero() {
		d.mu.Lock()
		d.started = false
		d.mu.Unlock()
		return fmt.Errorf("domain %s could not be created", d.factory.Domain())
	}
	server := d.factory.CreateServer(d.cfg.Server, managed.ServerInfo{Vendor: d.cfg.Vendor, Version: d.cfg.Version})

	d.mu.Lock()
	d.root = root
	d.server = server
	d.mu.Unlock()

	d.createJVM(server)
	d.createResources(ctx, server)
	d.createDataSources(ctx, server)

	d.mu.Lock()
	d.main = d.deployer.Subscribe(d.handle)
	for _, sd := range d.deployer.Deployers() {
		d.subs = append(d.subs, subDeployerSub{d: sd, id: sd.Subscribe(d.handle)})
	}
	d.mu.Unlock()

	for _, dep := range d.deployer.Deployments() {
		d.replay(dep)
	}
	d.logger.Info("Domain started", "domain", root.String(), "server", server.String())
	return nil
}

// replay reports an existing deployment tree as if it had just been
// created, parent first.
func (d *Domain) replay(dep *deploy.Deployment) {
	d.handle(deploy.Event{Type: deploy.Created, Deployment: dep})
	for _, c := range dep.Children {
		d.replay(c)
	}
}

func (d *Domain) registerService(svc *service.Service, props ...objectname.Property) objectname.Name {
	n, err := objectname.New(d.cfg.SystemDomain, props...)
	if err == nil {
		err = d.reg.Register(svc, n)
	}
	if err != nil {
		d.logger.Error("Failed to register domain service", "error", err)
		return objectname.Name{}
	}
	d.mu.Lock()
	d.services = append(d.services, n)
	d.mu.Unlock()
	return n
}

func (d *Domain) createJVM(server objectname.Name) {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	attrs := service.RuntimeAttributes(d.startTime)
	for k, fn := range d.jvmAttrs {
		attrs[k] = fn
	}
	backing := d.registerService(
		service.New(service.WithLogger(d.logger), service.WithDynamic(attrs)),
		objectname.P("service", "ServerInfo"),
	)
	var opts []managed.CreateOption
	if !backing.IsZero() {
		opts = append(opts, managed.WithBacking(backing))
	}
	jvm := d.factory.CreateJVM(server, host, managed.JVMInfo{
		JavaVersion: runtime.Version(),
		JavaVendor:  "The Go Authors",
		Node:        host,
	}, opts...)
	d.mu.Lock()
	d.jvm = jvm
	d.mu.Unlock()
}

func (d *Domain) createResources(ctx context.Context, server objectname.Name) {
	for _, r := range d.cfg.Resources {
		if r.Kind == managed.JTAResource {
			d.createTransactionManager(ctx, server, r.Name)
			continue
		}
		d.factory.CreateResource(r.Kind, server, r.Name)
	}
}

func (d *Domain) createTransactionManager(ctx context.Context, server objectname.Name, name string) {
	tx := service.New(service.WithLogger(d.logger), service.WithAttributes(map[string]any{
		"ActiveCount": int64(0), "CommitCount": int64(0), "RollbackCount": int64(0),
	}))
	backing := d.registerService(tx, objectname.P("service", "TransactionManager"), objectname.P("name", name))
	if backing.IsZero() {
		d.factory.CreateResource(managed.JTAResource, server, name)
		return
	}
	d.mu.Lock()
	d.tx = tx
	d.mu.Unlock()
	d.factory.CreateResource(managed.JTAResource, server, name, managed.WithBacking(backing))
	d.startService(ctx, backing)
}

func (d *Domain) createDataSources(ctx context.Context, server objectname.Name) {
	drivers := map[string]bool{}
	for _, ds := range d.cfg.DataSources {
		db, driver, err := openPool(ds)
		if err != nil {
			d.logger.Error("Failed to open data source", "name", ds.Name, "error", err)
			continue
		}
		d.mu.Lock()
		d.pools = append(d.pools, db)
		d.mu.Unlock()

		if !drivers[driver] {
			drivers[driver] = true
			d.factory.CreateJDBCDriver(server, driver)
		}
		backing := d.registerService(
			service.New(
				service.WithLogger(d.logger),
				service.WithDynamic(service.PoolAttributes(db)),
				service.WithStartFunc(pingFunc(db)),
			),
			objectname.P("service", "DataSource"), objectname.P("name", ds.Name),
		)
		res := d.factory.CreateResource(managed.JDBCResource, server, ds.Name)
		if res.IsZero() {
			continue
		}
		var opts []managed.CreateOption
		if !backing.IsZero() {
			opts = append(opts, managed.WithBacking(backing))
		}
		d.factory.CreateJDBCDataSource(res, ds.Name, managed.DataSourceInfo{Driver: driver, MaxOpen: ds.MaxOpen}, opts...)
		if !backing.IsZero() {
			d.startService(ctx, backing)
		}
	}
}

func (d *Domain) startService(ctx context.Context, n objectname.Name) {
	if _, err := d.reg.Invoke(ctx, n, "start"); err != nil {
		d.logger.Warn("Service failed to start", "service", n.String(), "error", err)
	}
}

// Stop unsubscribes from the deployment runtime and removes every object
// of the domain. Individual failures are logged and skipped.
func (d *Domain) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return ErrNotStarted
	}
	d.started = false
	d.deployer.Unsubscribe(d.main)
	for _, s := range d.subs {
		s.d.Unsubscribe(s.id)
	}
	d.subs = nil
	services := d.services
	d.services = nil
	pools := d.pools
	d.pools = nil
	clear(d.applications)
	clear(d.modules)
	clear(d.components)
	d.tx = nil
	d.mu.Unlock()

	names := d.reg.Query(objectname.DomainPattern(d.factory.Domain()))
	// Deepest names first so parents outlive their children.
	sort.SliceStable(names, func(i, j int) bool {
		return len(names[i].Properties()) > len(names[j].Properties())
	})
	for _, n := range names {
		if err := d.reg.Unregister(n); err != nil && !errors.Is(err, registry.ErrNotFound) {
			d.logger.Debug("Unregister on stop failed", "name", n.String(), "error", err)
		}
	}
	for _, n := range services {
		if _, err := d.reg.Invoke(ctx, n, "destroy"); err != nil {
			d.logger.Debug("Destroying domain service failed", "service", n.String(), "error", err)
		}
		if err := d.reg.Unregister(n); err != nil && !errors.Is(err, registry.ErrNotFound) {
			d.logger.Debug("Unregister on stop failed", "name", n.String(), "error", err)
		}
	}
	for _, db := range pools {
		if err := db.Close(); err != nil {
			d.logger.Warn("Closing data source failed", "error", err)
		}
	}
	d.logger.Info("Domain stopped", "domain", d.factory.Domain(), "removed", len(names))
	return nil
}

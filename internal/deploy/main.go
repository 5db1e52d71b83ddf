// Package deploy is the in-process deployment runtime: it reads archives
// and descriptors, registers a backing service for every deployment and
// component, and reports each step to the deployer's listeners.
package deploy

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/jsr77/internal/objectname"
	"github.com/loykin/jsr77/internal/registry"
	"github.com/loykin/jsr77/internal/service"
)

var (
	ErrNoDeployer  = errors.New("deploy: no deployer for path")
	ErrNotDeployed = errors.New("deploy: not deployed")
)

// DefaultServiceDomain is the domain backing services are registered in.
const DefaultServiceDomain = "jboss.deployment"

// MainDeployer owns the sub-deployers and the table of deployed paths.
// Deploy and Undeploy are serialised.
type MainDeployer struct {
	reg           *registry.Registry
	serviceDomain string
	logger        *slog.Logger

	ops sync.Mutex

	mu        sync.RWMutex
	deployers []*SubDeployer
	deployed  map[string]*Deployment
	hub       hub
}

type Option func(*MainDeployer)

func WithLogger(l *slog.Logger) Option { return func(m *MainDeployer) { m.logger = l } }

func WithServiceDomain(domain string) Option {
	return func(m *MainDeployer) { m.serviceDomain = domain }
}

// WithDeployers replaces the default sub-deployers.
func WithDeployers(ds ...*SubDeployer) Option {
	return func(m *MainDeployer) { m.deployers = ds }
}

func NewMainDeployer(reg *registry.Registry, opts ...Option) *MainDeployer {
	m := &MainDeployer{
		reg:           reg,
		serviceDomain: DefaultServiceDomain,
		logger:        slog.Default(),
		deployed:      make(map[string]*Deployment),
		deployers:     DefaultDeployers(),
	}
	for _, o := range opts {
		o(m)
	}
	m.hub.logger = m.logger
	for _, d := range m.deployers {
		d.setLogger(m.logger)
	}
	return m
}

// Deployers returns the registered sub-deployers.
func (m *MainDeployer) Deployers() []*SubDeployer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*SubDeployer(nil), m.deployers...)
}

// AddDeployer registers another sub-deployer and announces it with a
// DeployerAdded event.
func (m *MainDeployer) AddDeployer(d *SubDeployer) {
	d.setLogger(m.logger)
	m.mu.Lock()
	m.deployers = append(m.deployers, d)
	m.mu.Unlock()
	m.logger.Info("Deployer added", "deployer", d.Name())
	m.hub.emit(Event{Type: DeployerAdded, Deployer: d})
}

// Subscribe registers h for DeployerAdded events.
func (m *MainDeployer) Subscribe(h Handler) Subscription { return m.hub.subscribe(h) }

func (m *MainDeployer) Unsubscribe(id Subscription) bool { return m.hub.unsubscribe(id) }

func (m *MainDeployer) Listeners() int { return m.hub.count() }

func (m *MainDeployer) deployerFor(k Kind) *SubDeployer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.deployers {
		if d.Accepts(k) {
			return d
		}
	}
	return nil
}

// Deployments returns the top-level deployments ordered by location.
func (m *MainDeployer) Deployments() []*Deployment {
	m.mu.RLock()
	out := make([]*Deployment, 0, len(m.deployed))
	for _, d := range m.deployed {
		out = append(out, d)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out
}

func (m *MainDeployer) Deployment(p string) (*Deployment, bool) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deployed[abs]
	return d, ok
}

func (m *MainDeployer) IsDeployed(p string) bool {
	_, ok := m.Deployment(p)
	return ok
}

// Deploy deploys the archive, directory or service file at p. A path that
// is already deployed is redeployed. Listeners see Created parent first
// and Started children first.
func (m *MainDeployer) Deploy(ctx context.Context, p string) error {
	abs, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("deploy %s: %w", p, err)
	}
	m.ops.Lock()
	defer m.ops.Unlock()

	if _, ok := m.lookup(abs); ok {
		m.logger.Info("Redeploying", "path", abs)
		if err := m.undeployLocked(ctx, abs); err != nil {
			return err
		}
	}
	kind, ok := KindOf(abs)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDeployer, abs)
	}
	d, err := m.build(abs, kind, nil, nil)
	if err != nil {
		return fmt.Errorf("deploy %s: %w", abs, err)
	}
	if err := m.registerServices(d); err != nil {
		return fmt.Errorf("deploy %s: %w", abs, err)
	}
	m.mu.Lock()
	m.deployed[abs] = d
	m.mu.Unlock()

	d.walk(func(x *Deployment) { m.emit(x, Created) })

	var errs []error
	d.walkPost(func(x *Deployment) {
		for i, svc := range x.ComponentServices {
			if _, err := m.reg.Invoke(ctx, svc, "start"); err != nil {
				errs = append(errs, fmt.Errorf("start %s: %w", x.Components[i].Name, err))
			}
		}
		if _, err := m.reg.Invoke(ctx, x.Service, "start"); err != nil {
			errs = append(errs, fmt.Errorf("start %s: %w", x.Name, err))
		}
		m.emit(x, Started)
	})
	m.logger.Info("Deployed", "path", abs, "kind", string(kind), "modules", len(d.Children))
	return errors.Join(errs...)
}

// Undeploy stops and removes the deployment at p. Listeners see Stopped
// parent first and Destroyed children first, before the backing services
// are unregistered.
func (m *MainDeployer) Undeploy(ctx context.Context, p string) error {
	abs, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("undeploy %s: %w", p, err)
	}
	m.ops.Lock()
	defer m.ops.Unlock()
	return m.undeployLocked(ctx, abs)
}

// Shutdown undeploys everything, most recently located last first.
func (m *MainDeployer) Shutdown(ctx context.Context) {
	all := m.Deployments()
	m.ops.Lock()
	defer m.ops.Unlock()
	for i := len(all) - 1; i >= 0; i-- {
		if err := m.undeployLocked(ctx, all[i].Location); err != nil && !errors.Is(err, ErrNotDeployed) {
			m.logger.Warn("Undeploy on shutdown failed", "path", all[i].Location, "error", err)
		}
	}
}

func (m *MainDeployer) lookup(abs string) (*Deployment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deployed[abs]
	return d, ok
}

func (m *MainDeployer) undeployLocked(ctx context.Context, abs string) error {
	d, ok := m.lookup(abs)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotDeployed, abs)
	}
	d.walk(func(x *Deployment) {
		if _, err := m.reg.Invoke(ctx, x.Service, "stop"); err != nil {
			m.logger.Debug("Stopping deployment service failed", "deployment", x.Name, "error", err)
		}
		for _, svc := range x.ComponentServices {
			if _, err := m.reg.Invoke(ctx, svc, "stop"); err != nil {
				m.logger.Debug("Stopping component service failed", "service", svc.String(), "error", err)
			}
		}
		m.emit(x, Stopped)
	})
	d.walkPost(func(x *Deployment) { m.emit(x, Destroyed) })
	d.walkPost(func(x *Deployment) {
		for _, svc := range append(append([]objectname.Name(nil), x.ComponentServices...), x.Service) {
			if _, err := m.reg.Invoke(ctx, svc, "destroy"); err != nil {
				m.logger.Debug("Destroying service failed", "service", svc.String(), "error", err)
			}
			if err := m.reg.Unregister(svc); err != nil && !errors.Is(err, registry.ErrNotFound) {
				m.logger.Warn("Unregistering service failed", "service", svc.String(), "error", err)
			}
		}
	})
	m.mu.Lock()
	delete(m.deployed, abs)
	m.mu.Unlock()
	m.logger.Info("Undeployed", "path", abs)
	return nil
}

func (m *MainDeployer) emit(d *Deployment, t EventType) {
	sd := m.deployerFor(d.Kind)
	if sd == nil {
		return
	}
	sd.hub.emit(Event{Type: t, Deployment: d, Deployer: sd})
}

// build reads the deployment at location (or archive, for nested modules)
// and its modules.
func (m *MainDeployer) build(location string, kind Kind, archive []byte, parent *Deployment) (*Deployment, error) {
	sd := m.deployerFor(kind)
	if sd == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDeployer, location)
	}
	d := &Deployment{
		Name:     path.Base(filepath.ToSlash(strings.TrimRight(location, `/\`))),
		Location: location,
		Kind:     kind,
		Deployer: sd.Name(),
		parent:   parent,
		archive:  archive,
	}
	refs, err := sd.prepare(d)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		child, err := m.buildModule(d, ref)
		if err != nil {
			m.logger.Warn("Skipping module", "application", d.Name, "module", ref.URI, "error", err)
			continue
		}
		d.Children = append(d.Children, child)
	}
	return d, nil
}

func (m *MainDeployer) buildModule(app *Deployment, ref ModuleRef) (*Deployment, error) {
	if fi, err := os.Stat(app.Location); err == nil && fi.IsDir() {
		loc := filepath.Join(app.Location, filepath.FromSlash(ref.URI))
		if _, err := os.Stat(loc); err != nil {
			return nil, err
		}
		return m.build(loc, ref.Kind, nil, app)
	}
	b, ok := readArchiveEntry(app, ref.URI)
	if !ok {
		return nil, fmt.Errorf("%s not found in %s", ref.URI, app.Location)
	}
	return m.build(app.Location+"!/"+ref.URI, ref.Kind, b, app)
}

func readArchiveEntry(app *Deployment, rel string) ([]byte, bool) {
	if app.archive != nil {
		return nil, false
	}
	zr, err := zip.OpenReader(app.Location)
	if err != nil {
		return nil, false
	}
	defer func() { _ = zr.Close() }()
	return zipEntryBytes(&zr.Reader, rel)
}

var valueReplacer = strings.NewReplacer(":", "_", ",", "_", "=", "_", "*", "_", "?", "_")

func (m *MainDeployer) serviceName(d *Deployment, props ...objectname.Property) (objectname.Name, error) {
	props = append(props, objectname.P("module", valueReplacer.Replace(d.Name)))
	if d.parent != nil {
		props = append(props, objectname.P("application", valueReplacer.Replace(d.Root().Name)))
	}
	return objectname.New(m.serviceDomain, props...)
}

// registerServices registers a backing service for every deployment and
// component of d. On failure everything registered so far is removed.
func (m *MainDeployer) registerServices(d *Deployment) error {
	var done []objectname.Name
	register := func(svc *service.Service, n objectname.Name) error {
		if err := m.reg.Register(svc, n); err != nil {
			return err
		}
		done = append(done, n)
		return nil
	}
	var firstErr error
	d.walk(func(x *Deployment) {
		if firstErr != nil {
			return
		}
		n, err := m.serviceName(x, objectname.P("service", "Deployment"))
		if err == nil {
			err = register(service.New(
				service.WithLogger(m.logger),
				service.WithReadOnly(map[string]any{"Location": x.Location, "Kind": string(x.Kind), "Deployer": x.Deployer}),
			), n)
		}
		if err != nil {
			firstErr = err
			return
		}
		x.Service = n
		x.ComponentServices = make([]objectname.Name, len(x.Components))
		for i, c := range x.Components {
			cn, err := m.serviceName(x, objectname.P("service", string(c.Kind)), objectname.P("name", valueReplacer.Replace(c.Name)))
			if err == nil {
				err = register(componentService(c, m.logger), cn)
			}
			if err != nil {
				firstErr = fmt.Errorf("component %s: %w", c.Name, err)
				return
			}
			x.ComponentServices[i] = cn
		}
	})
	if firstErr != nil {
		for i := len(done) - 1; i >= 0; i-- {
			_ = m.reg.Unregister(done[i])
		}
	}
	return firstErr
}

// componentService builds the service standing behind a component. Its
// writable counters are what statistics are read from.
func componentService(c Component, logger *slog.Logger) *service.Service {
	ro := map[string]any{"Name": c.Name, "Class": c.Class}
	var counters map[string]any
	switch c.Kind {
	case EntityBean, StatelessSessionBean, StatefulSessionBean, MessageDrivenBean:
		ro["JNDIName"] = c.JNDIName
		counters = map[string]any{
			"CreateCount": int64(0), "RemoveCount": int64(0), "CacheSize": int64(0),
			"PoolSize": int64(0), "PassivatedCount": int64(0), "MessageCount": int64(0),
		}
	case Servlet:
		counters = map[string]any{
			"RequestCount": int64(0), "ProcessingTime": int64(0), "MaxTime": int64(0), "MinTime": int64(0),
		}
	case ResourceAdapter:
		ro["ConnectionFactories"] = append([]string(nil), c.ConnectionFactories...)
	}
	return service.New(service.WithLogger(logger), service.WithReadOnly(ro), service.WithAttributes(counters))
}

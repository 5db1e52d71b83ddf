package managed

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/objectname"
	"github.com/loykin/jsr77/internal/registry"
	"github.com/loykin/jsr77/internal/state"
)

// Factory creates and destroys managed objects in one registry. Create
// methods never return errors: a failure is logged and reported as the
// zero Name, and the object is simply absent from the tree.
type Factory struct {
	reg          *registry.Registry
	domain       string
	bus          *event.Emitter
	logger       *slog.Logger
	onFailure    func(kind Kind, err error)
	onTransition func(o *Object, from, to state.State)

	// mu serialises module creation and teardown so that a synthetic
	// application is created at most once and removed only when unused.
	mu sync.Mutex
}

type FactoryOption func(*Factory)

func WithLogger(l *slog.Logger) FactoryOption { return func(f *Factory) { f.logger = l } }

// WithBus sets the emitter every object forwards its notifications to.
// Defaults to the registry's event emitter.
func WithBus(e *event.Emitter) FactoryOption { return func(f *Factory) { f.bus = e } }

// OnFailure is called for every failed create.
func OnFailure(fn func(kind Kind, err error)) FactoryOption {
	return func(f *Factory) { f.onFailure = fn }
}

// OnTransition is called for every state transition of every object.
func OnTransition(fn func(o *Object, from, to state.State)) FactoryOption {
	return func(f *Factory) { f.onTransition = fn }
}

func NewFactory(reg *registry.Registry, domain string, opts ...FactoryOption) *Factory {
	f := &Factory{reg: reg, domain: domain, logger: slog.Default()}
	for _, o := range opts {
		o(f)
	}
	if f.bus == nil {
		f.bus = reg.Events()
	}
	return f
}

func (f *Factory) Registry() *registry.Registry { return f.reg }
func (f *Factory) Domain() string               { return f.domain }

// CreateOption customises one object at creation.
type CreateOption func(*objectConfig)

// WithBacking names the service whose lifecycle and attributes the object
// reflects.
func WithBacking(n objectname.Name) CreateOption { return func(c *objectConfig) { c.backing = n } }

func WithDetails(d Details) CreateOption { return func(c *objectConfig) { c.details = d } }

// DeriveName builds the name of a kind object called name under parent:
// j2eeType and name, then the parent's own type=name pair (omitted for the
// domain root), then the parent's ancestor pairs. A module directly under
// a server gets J2EEApplication=null.
func DeriveName(domain string, kind Kind, name string, parent objectname.Name) (objectname.Name, error) {
	var ancestors []objectname.Property
	if !parent.IsZero() {
		domain = parent.Domain()
		pk := Kind(parent.Type())
		if kind.IsModule() && pk == J2EEServer {
			ancestors = append(ancestors, objectname.P(string(J2EEApplication), objectname.NullValue))
		}
		if pk != J2EEDomain {
			ancestors = append(ancestors, objectname.P(parent.Type(), parent.NameValue()))
		}
		for _, p := range parent.Properties() {
			if p.Key == objectname.KeyJ2EEType || p.Key == objectname.KeyName {
				continue
			}
			ancestors = append(ancestors, p)
		}
	}
	return objectname.NewJ2EE(domain, string(kind), name, ancestors...)
}

// DomainName is the name of the domain root object.
func (f *Factory) DomainName() objectname.Name {
	n, _ := objectname.NewJ2EE(f.domain, string(J2EEDomain), f.domain)
	return n
}

// Object returns the managed object registered under n.
func (f *Factory) Object(n objectname.Name) (*Object, bool) {
	v, ok := f.reg.Lookup(n)
	if !ok {
		return nil, false
	}
	o, ok := v.(*Object)
	return o, ok
}

func (f *Factory) build(kind Kind, parent objectname.Name, name string, synthetic bool, opts []CreateOption) (objectname.Name, error) {
	if !kind.Valid() {
		return objectname.Name{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if kind != J2EEDomain {
		if parent.IsZero() {
			return objectname.Name{}, fmt.Errorf("%w: %s needs a parent", ErrInvalidParent, kind)
		}
		if !kind.allowsParent(Kind(parent.Type())) {
			return objectname.Name{}, fmt.Errorf("%w: %s cannot live under %s", ErrInvalidParent, kind, parent.Type())
		}
	}
	n, err := DeriveName(f.domain, kind, name, parent)
	if err != nil {
		return objectname.Name{}, err
	}
	cfg := objectConfig{
		kind:         kind,
		name:         n,
		parent:       parent,
		synthetic:    synthetic,
		bus:          f.bus,
		logger:       f.logger,
		onTransition: f.onTransition,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if err := f.reg.Register(newObject(cfg), n); err != nil {
		return objectname.Name{}, err
	}
	f.logger.Debug("Created managed object", "type", string(kind), "name", n.String())
	return n, nil
}

func (f *Factory) create(kind Kind, parent objectname.Name, name string, opts []CreateOption) objectname.Name {
	n, err := f.build(kind, parent, name, false, opts)
	if err != nil {
		f.fail(kind, name, err)
		return objectname.Name{}
	}
	return n
}

func (f *Factory) fail(kind Kind, name string, err error) {
	if errors.Is(err, registry.ErrAlreadyRegistered) {
		f.logger.Debug("Managed object already exists", "type", string(kind), "name", name, "error", err)
	} else {
		f.logger.Error("Failed to create managed object", "type", string(kind), "name", name, "error", err)
	}
	if f.onFailure != nil {
		f.onFailure(kind, err)
	}
}

func prepend(d Details, opts []CreateOption) []CreateOption {
	return append([]CreateOption{WithDetails(d)}, opts...)
}

func (f *Factory) CreateDomain(opts ...CreateOption) objectname.Name {
	return f.create(J2EEDomain, objectname.Name{}, f.domain, opts)
}

func (f *Factory) CreateServer(name string, info ServerInfo, opts ...CreateOption) objectname.Name {
	return f.create(J2EEServer, f.DomainName(), name, prepend(info, opts))
}

func (f *Factory) CreateJVM(server objectname.Name, name string, info JVMInfo, opts ...CreateOption) objectname.Name {
	return f.create(JVM, server, name, prepend(info, opts))
}

// CreateApplication registers an application under server. When a
// synthetic application of that name already exists it is adopted: it
// stops being synthetic, takes over info and follows the backing given
// with WithBacking.
func (f *Factory) CreateApplication(server objectname.Name, name string, info DeployedInfo, opts ...CreateOption) objectname.Name {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, err := DeriveName(f.domain, J2EEApplication, name, server); err == nil {
		if app, ok := f.Object(n); ok && app.Synthetic() {
			cfg := objectConfig{details: info}
			for _, o := range opts {
				o(&cfg)
			}
			app.adopt(cfg.details, cfg.backing)
			f.logger.Info("Adopted synthetic application", "name", n.String())
			return n
		}
	}
	return f.create(J2EEApplication, server, name, prepend(info, opts))
}

// CreateModule registers a module. An empty or "null" application makes
// it a standalone module of server. A named application that is not
// registered is created as a synthetic application first.
func (f *Factory) CreateModule(kind Kind, server objectname.Name, application, name string, info DeployedInfo, opts ...CreateOption) objectname.Name {
	if !kind.IsModule() {
		f.fail(kind, name, fmt.Errorf("%w: %s is not a module", ErrUnknownKind, kind))
		return objectname.Name{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	parent := server
	madeApp := false
	if application != "" && !objectname.IsNull(application) {
		app, err := DeriveName(f.domain, J2EEApplication, application, server)
		if err != nil {
			f.fail(kind, name, err)
			return objectname.Name{}
		}
		if !f.reg.IsRegistered(app) {
			if _, err := f.build(J2EEApplication, server, application, true, nil); err != nil && !errors.Is(err, registry.ErrAlreadyRegistered) {
				f.fail(J2EEApplication, application, err)
				return objectname.Name{}
			} else if err == nil {
				madeApp = true
				f.logger.Info("Created synthetic application", "name", app.String(), "module", name)
			}
		}
		parent = app
	}
	n := f.create(kind, parent, name, prepend(info, opts))
	if n.IsZero() && madeApp {
		f.dropSyntheticLocked(parent)
	}
	return n
}

func (f *Factory) CreateEJB(kind Kind, module objectname.Name, name string, info ComponentInfo, opts ...CreateOption) objectname.Name {
	if !kind.IsEJB() {
		f.fail(kind, name, fmt.Errorf("%w: %s is not an EJB", ErrUnknownKind, kind))
		return objectname.Name{}
	}
	return f.create(kind, module, name, prepend(info, opts))
}

func (f *Factory) CreateServlet(module objectname.Name, name string, info ComponentInfo, opts ...CreateOption) objectname.Name {
	return f.create(Servlet, module, name, prepend(info, opts))
}

func (f *Factory) CreateResourceAdapter(module objectname.Name, name string, info ComponentInfo, opts ...CreateOption) objectname.Name {
	return f.create(ResourceAdapter, module, name, prepend(info, opts))
}

func (f *Factory) CreateMBean(module objectname.Name, name string, info ComponentInfo, opts ...CreateOption) objectname.Name {
	return f.create(MBean, module, name, prepend(info, opts))
}

func (f *Factory) CreateResource(kind Kind, server objectname.Name, name string, opts ...CreateOption) objectname.Name {
	if !kind.IsResource() {
		f.fail(kind, name, fmt.Errorf("%w: %s is not a resource", ErrUnknownKind, kind))
		return objectname.Name{}
	}
	return f.create(kind, server, name, opts)
}

func (f *Factory) CreateJCAConnectionFactory(resource objectname.Name, name string, opts ...CreateOption) objectname.Name {
	return f.create(JCAConnectionFactory, resource, name, opts)
}

func (f *Factory) CreateJCAManagedConnectionFactory(server objectname.Name, name string, opts ...CreateOption) objectname.Name {
	return f.create(JCAManagedConnectionFactory, server, name, opts)
}

func (f *Factory) CreateJDBCDataSource(resource objectname.Name, name string, info DataSourceInfo, opts ...CreateOption) objectname.Name {
	return f.create(JDBCDataSource, resource, name, prepend(info, opts))
}

func (f *Factory) CreateJDBCDriver(server objectname.Name, name string, opts ...CreateOption) objectname.Name {
	return f.create(JDBCDriver, server, name, opts)
}

// Destroy unregisters n. Modules go through DestroyModule.
func (f *Factory) Destroy(n objectname.Name) {
	if Kind(n.Type()).IsModule() {
		f.DestroyModule(n)
		return
	}
	f.unregister(n)
}

// DestroyModule unregisters a module and, when its application is
// synthetic and lists no other module, the application too.
func (f *Factory) DestroyModule(n objectname.Name) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var parent objectname.Name
	if m, ok := f.Object(n); ok {
		parent = m.Parent()
	}
	f.unregister(n)
	if Kind(parent.Type()) == J2EEApplication {
		f.dropSyntheticLocked(parent)
	}
}

// DestroyApplication unregisters an application. Its modules stay.
func (f *Factory) DestroyApplication(n objectname.Name) {
	f.unregister(n)
}

func (f *Factory) dropSyntheticLocked(app objectname.Name) {
	a, ok := f.Object(app)
	if !ok || !a.Synthetic() || len(a.Children(Modules)) > 0 {
		return
	}
	f.unregister(app)
	f.logger.Info("Removed synthetic application", "name", app.String())
}

func (f *Factory) unregister(n objectname.Name) {
	if err := f.reg.Unregister(n); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			f.logger.Debug("Managed object already gone", "name", n.String())
			return
		}
		f.logger.Error("Failed to destroy managed object", "name", n.String(), "error", err)
	}
}

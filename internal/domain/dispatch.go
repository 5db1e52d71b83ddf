package domain

import (
	"github.com/loykin/jsr77/internal/deploy"
	"github.com/loykin/jsr77/internal/managed"
	"github.com/loykin/jsr77/internal/objectname"
)

type dispatchKey struct {
	event deploy.EventType
	kind  deploy.Kind
}

// dispatch maps a deployment event to what it does to the tree. Started
// and Stopped need no entry: objects follow their backing services.
var dispatch = map[dispatchKey]func(*Domain, *deploy.Deployment){
	{deploy.Created, deploy.EAR}:        (*Domain).createApplication,
	{deploy.Created, deploy.EJBJAR}:     (*Domain).createModule,
	{deploy.Created, deploy.WAR}:        (*Domain).createModule,
	{deploy.Created, deploy.RAR}:        (*Domain).createModule,
	{deploy.Created, deploy.SAR}:        (*Domain).createModule,
	{deploy.Created, deploy.ServiceXML}: (*Domain).createModule,

	{deploy.Destroyed, deploy.EAR}:        (*Domain).destroyApplication,
	{deploy.Destroyed, deploy.EJBJAR}:     (*Domain).destroyModule,
	{deploy.Destroyed, deploy.WAR}:        (*Domain).destroyModule,
	{deploy.Destroyed, deploy.RAR}:        (*Domain).destroyModule,
	{deploy.Destroyed, deploy.SAR}:        (*Domain).destroyModule,
	{deploy.Destroyed, deploy.ServiceXML}: (*Domain).destroyModule,
}

var moduleKinds = map[deploy.Kind]managed.Kind{
	deploy.EJBJAR:     managed.EJBModule,
	deploy.WAR:        managed.WebModule,
	deploy.RAR:        managed.ResourceAdapterModule,
	deploy.SAR:        managed.ServiceModule,
	deploy.ServiceXML: managed.ServiceModule,
}

func (d *Domain) handle(ev deploy.Event) {
	switch {
	case ev.Type == deploy.DeployerAdded:
		if ev.Deployer != nil {
			d.watch(ev.Deployer)
		}
	case ev.Deployment != nil:
		if fn, ok := dispatch[dispatchKey{ev.Type, ev.Deployment.Kind}]; ok {
			fn(d, ev.Deployment)
		} else {
			d.logger.Debug("Deployment event needs no change", "event", string(ev.Type), "deployment", ev.Deployment.Name)
		}
	}
	if d.onEvent != nil {
		d.onEvent(ev)
	}
}

// watch subscribes to a deployer that appeared after Start.
func (d *Domain) watch(sd *deploy.SubDeployer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	for _, s := range d.subs {
		if s.d == sd {
			return
		}
	}
	d.subs = append(d.subs, subDeployerSub{d: sd, id: sd.Subscribe(d.handle)})
	d.logger.Info("Watching deployer", "deployer", sd.Name())
}

func backing(n objectname.Name) []managed.CreateOption {
	if n.IsZero() {
		return nil
	}
	return []managed.CreateOption{managed.WithBacking(n)}
}

func (d *Domain) createApplication(dep *deploy.Deployment) {
	info := managed.DeployedInfo{Location: dep.Location, Descriptor: dep.Descriptor}
	n := d.factory.CreateApplication(d.Server(), dep.Name, info, backing(dep.Service)...)
	if n.IsZero() {
		return
	}
	d.mu.Lock()
	d.applications[dep.Location] = n
	d.mu.Unlock()
}

func (d *Domain) destroyApplication(dep *deploy.Deployment) {
	d.mu.Lock()
	n, ok := d.applications[dep.Location]
	delete(d.applications, dep.Location)
	d.mu.Unlock()
	if ok {
		d.factory.DestroyApplication(n)
	}
}

// createModule registers a module and its components. Modules of an
// application archive name the archive as their application; others are
// standalone.
func (d *Domain) createModule(dep *deploy.Deployment) {
	application := ""
	if p := dep.Parent(); p != nil {
		application = p.Root().Name
	}
	info := managed.DeployedInfo{Location: dep.Location, Descriptor: dep.Descriptor}
	n := d.factory.CreateModule(moduleKinds[dep.Kind], d.Server(), application, dep.Name, info, backing(dep.Service)...)
	if n.IsZero() {
		return
	}
	comps := d.createComponents(n, dep)
	d.mu.Lock()
	d.modules[dep.Location] = n
	d.components[dep.Location] = comps
	d.mu.Unlock()
}

func (d *Domain) createComponents(module objectname.Name, dep *deploy.Deployment) []objectname.Name {
	var out []objectname.Name
	for i, c := range dep.Components {
		var svc objectname.Name
		if i < len(dep.ComponentServices) {
			svc = dep.ComponentServices[i]
		}
		info := managed.ComponentInfo{Class: c.Class, JNDIName: c.JNDIName}
		var n objectname.Name
		switch c.Kind {
		case deploy.Servlet:
			n = d.factory.CreateServlet(module, c.Name, info, backing(svc)...)
		case deploy.MBean:
			n = d.factory.CreateMBean(module, c.Name, info, backing(svc)...)
		case deploy.ResourceAdapter:
			n = d.factory.CreateResourceAdapter(module, c.Name, info, backing(svc)...)
			if !n.IsZero() {
				out = append(out, n)
				out = append(out, d.createConnectionFactories(c)...)
			}
			continue
		default:
			n = d.factory.CreateEJB(managed.Kind(c.Kind), module, c.Name, info, backing(svc)...)
		}
		if !n.IsZero() {
			out = append(out, n)
		}
	}
	return out
}

// createConnectionFactories exposes the outbound side of a resource
// adapter: a JCAResource named after it holding one connection factory per
// managed connection factory class.
func (d *Domain) createConnectionFactories(ra deploy.Component) []objectname.Name {
	if len(ra.ConnectionFactories) == 0 {
		return nil
	}
	server := d.Server()
	res := d.factory.CreateResource(managed.JCAResource, server, ra.Name)
	if res.IsZero() {
		return nil
	}
	out := []objectname.Name{res}
	for _, mcf := range ra.ConnectionFactories {
		if n := d.factory.CreateJCAConnectionFactory(res, mcf); !n.IsZero() {
			out = append(out, n)
		}
		if n := d.factory.CreateJCAManagedConnectionFactory(server, mcf); !n.IsZero() {
			out = append(out, n)
		}
	}
	return out
}

// destroyModule removes the components of a module, last created first,
// and then the module itself.
func (d *Domain) destroyModule(dep *deploy.Deployment) {
	d.mu.Lock()
	n, ok := d.modules[dep.Location]
	comps := d.components[dep.Location]
	delete(d.modules, dep.Location)
	delete(d.components, dep.Location)
	d.mu.Unlock()
	if !ok {
		return
	}
	for i := len(comps) - 1; i >= 0; i-- {
		d.factory.Destroy(comps[i])
	}
	d.factory.DestroyModule(n)
}

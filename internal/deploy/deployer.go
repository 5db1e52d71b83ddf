package deploy

import (
	"errors"
	"fmt"
	"log/slog"
)

var ErrMissingDescriptor = errors.New("deploy: missing deployment descriptor")

// initFunc fills in a deployment from its descriptors. Application
// deployers return the modules to deploy beneath it.
type initFunc func(d *Deployment) ([]ModuleRef, error)

// SubDeployer handles the deployments of a family of kinds and notifies
// its own listeners about them.
type SubDeployer struct {
	name  string
	kinds []Kind
	init  initFunc
	hub   hub
}

// NewSubDeployer builds a deployer named name for kinds. init may be nil
// for deployers that only carry the raw primary descriptor.
func NewSubDeployer(name string, init func(d *Deployment) ([]ModuleRef, error), kinds ...Kind) *SubDeployer {
	return &SubDeployer{name: name, kinds: kinds, init: init}
}

func (s *SubDeployer) Name() string { return s.name }

func (s *SubDeployer) Kinds() []Kind { return append([]Kind(nil), s.kinds...) }

func (s *SubDeployer) Accepts(k Kind) bool {
	for _, x := range s.kinds {
		if x == k {
			return true
		}
	}
	return false
}

// Subscribe registers h for the events of deployments this deployer handles.
func (s *SubDeployer) Subscribe(h Handler) Subscription { return s.hub.subscribe(h) }

func (s *SubDeployer) Unsubscribe(id Subscription) bool { return s.hub.unsubscribe(id) }

// Listeners reports the number of registered handlers.
func (s *SubDeployer) Listeners() int { return s.hub.count() }

func (s *SubDeployer) setLogger(l *slog.Logger) { s.hub.logger = l }

func (s *SubDeployer) prepare(d *Deployment) ([]ModuleRef, error) {
	if text, ok := d.ReadDescriptor(primaryDescriptor(d.Kind)); ok {
		d.Descriptor = text
	}
	if s.init == nil {
		return nil, nil
	}
	return s.init(d)
}

// DefaultDeployers returns the deployers for every built-in kind.
func DefaultDeployers() []*SubDeployer {
	return []*SubDeployer{
		NewSubDeployer("EARDeployer", initEAR, EAR),
		NewSubDeployer("EJBDeployer", initEJB, EJBJAR),
		NewSubDeployer("WebDeployer", initWeb, WAR),
		NewSubDeployer("RARDeployer", initRAR, RAR),
		NewSubDeployer("SARDeployer", initSAR, SAR, ServiceXML),
	}
}

func initEAR(d *Deployment) ([]ModuleRef, error) {
	if d.Descriptor == "" {
		return nil, fmt.Errorf("%w: %s in %s", ErrMissingDescriptor, ApplicationXML.Path(), d.Location)
	}
	return ParseApplication(d.Descriptor)
}

// initEJB treats a jar without ejb-jar.xml as a plain library: a module
// with no beans.
func initEJB(d *Deployment) ([]ModuleRef, error) {
	if d.Descriptor == "" {
		return nil, nil
	}
	comps, err := ParseEJBJar(d.Descriptor)
	if err != nil {
		return nil, err
	}
	jboss, _ := d.ReadDescriptor(JBossXML)
	applyJNDINames(comps, jboss)
	d.Components = comps
	return nil, nil
}

func initWeb(d *Deployment) ([]ModuleRef, error) {
	if d.Descriptor == "" {
		return nil, nil
	}
	comps, err := ParseWeb(d.Descriptor)
	if err != nil {
		return nil, err
	}
	d.Components = comps
	return nil, nil
}

func initRAR(d *Deployment) ([]ModuleRef, error) {
	if d.Descriptor == "" {
		return nil, fmt.Errorf("%w: %s in %s", ErrMissingDescriptor, RAXML.Path(), d.Location)
	}
	comps, err := ParseRA(d.Descriptor, d.Name)
	if err != nil {
		return nil, err
	}
	d.Components = comps
	return nil, nil
}

func initSAR(d *Deployment) ([]ModuleRef, error) {
	if d.Descriptor == "" {
		return nil, fmt.Errorf("%w: %s in %s", ErrMissingDescriptor, JBossServiceXML.Path(), d.Location)
	}
	comps, err := ParseService(d.Descriptor)
	if err != nil {
		return nil, err
	}
	d.Components = comps
	return nil, nil
}

package deploy

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// ComponentKind is the j2eeType a component is exposed as.
type ComponentKind string

const (
	EntityBean           ComponentKind = "EntityBean"
	StatelessSessionBean ComponentKind = "StatelessSessionBean"
	StatefulSessionBean  ComponentKind = "StatefulSessionBean"
	MessageDrivenBean    ComponentKind = "MessageDrivenBean"
	Servlet              ComponentKind = "Servlet"
	ResourceAdapter      ComponentKind = "ResourceAdapter"
	MBean                ComponentKind = "MBean"
)

// Component is one bean, servlet, resource adapter or mbean declared in a
// deployment descriptor.
type Component struct {
	Kind     ComponentKind `json:"kind"`
	Name     string        `json:"name"`
	Class    string        `json:"class,omitempty"`
	JNDIName string        `json:"jndiName,omitempty"`
	// ConnectionFactories lists the managed connection factory classes of
	// a resource adapter.
	ConnectionFactories []string `json:"connectionFactories,omitempty"`
}

type ejbJarXML struct {
	Beans struct {
		Session []struct {
			Name  string `xml:"ejb-name"`
			Type  string `xml:"session-type"`
			Class string `xml:"ejb-class"`
		} `xml:"session"`
		Entity []struct {
			Name  string `xml:"ejb-name"`
			Class string `xml:"ejb-class"`
		} `xml:"entity"`
		MessageDriven []struct {
			Name  string `xml:"ejb-name"`
			Class string `xml:"ejb-class"`
		} `xml:"message-driven"`
	} `xml:"enterprise-beans"`
}

// ParseEJBJar returns the beans declared in an ejb-jar.xml.
func ParseEJBJar(text string) ([]Component, error) {
	var doc ejbJarXML
	if err := xml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("parse ejb-jar.xml: %w", err)
	}
	var out []Component
	for _, s := range doc.Beans.Session {
		kind := StatelessSessionBean
		if strings.EqualFold(strings.TrimSpace(s.Type), "Stateful") {
			kind = StatefulSessionBean
		}
		out = append(out, Component{Kind: kind, Name: strings.TrimSpace(s.Name), Class: strings.TrimSpace(s.Class)})
	}
	for _, e := range doc.Beans.Entity {
		out = append(out, Component{Kind: EntityBean, Name: strings.TrimSpace(e.Name), Class: strings.TrimSpace(e.Class)})
	}
	for _, m := range doc.Beans.MessageDriven {
		out = append(out, Component{Kind: MessageDrivenBean, Name: strings.TrimSpace(m.Name), Class: strings.TrimSpace(m.Class)})
	}
	return out, nil
}

type jbossXML struct {
	Beans struct {
		Items []struct {
			Name     string `xml:"ejb-name"`
			JNDIName string `xml:"jndi-name"`
		} `xml:",any"`
	} `xml:"enterprise-beans"`
}

// applyJNDINames fills JNDIName from a jboss.xml; beans without an entry
// are bound under their ejb-name.
func applyJNDINames(comps []Component, jbossText string) {
	names := map[string]string{}
	if jbossText != "" {
		var doc jbossXML
		if err := xml.Unmarshal([]byte(jbossText), &doc); err == nil {
			for _, it := range doc.Beans.Items {
				if n := strings.TrimSpace(it.JNDIName); n != "" {
					names[strings.TrimSpace(it.Name)] = n
				}
			}
		}
	}
	for i := range comps {
		if n, ok := names[comps[i].Name]; ok {
			comps[i].JNDIName = n
		} else {
			comps[i].JNDIName = comps[i].Name
		}
	}
}

type webXML struct {
	Servlets []struct {
		Name  string `xml:"servlet-name"`
		Class string `xml:"servlet-class"`
		JSP   string `xml:"jsp-file"`
	} `xml:"servlet"`
}

// ParseWeb returns the servlets declared in a web.xml.
func ParseWeb(text string) ([]Component, error) {
	var doc webXML
	if err := xml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("parse web.xml: %w", err)
	}
	out := make([]Component, 0, len(doc.Servlets))
	for _, s := range doc.Servlets {
		class := strings.TrimSpace(s.Class)
		if class == "" {
			class = strings.TrimSpace(s.JSP)
		}
		out = append(out, Component{Kind: Servlet, Name: strings.TrimSpace(s.Name), Class: class})
	}
	return out, nil
}

// ModuleRef is one module entry of an application.xml.
type ModuleRef struct {
	URI  string
	Kind Kind
}

type applicationXML struct {
	Modules []struct {
		EJB       string `xml:"ejb"`
		Connector string `xml:"connector"`
		Java      string `xml:"java"`
		Web       struct {
			URI         string `xml:"web-uri"`
			ContextRoot string `xml:"context-root"`
		} `xml:"web"`
	} `xml:"module"`
}

// ParseApplication returns the modules listed in an application.xml.
// Client (java) modules have no management counterpart and are skipped.
func ParseApplication(text string) ([]ModuleRef, error) {
	var doc applicationXML
	if err := xml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("parse application.xml: %w", err)
	}
	var out []ModuleRef
	for _, m := range doc.Modules {
		switch {
		case strings.TrimSpace(m.EJB) != "":
			out = append(out, ModuleRef{URI: strings.TrimSpace(m.EJB), Kind: EJBJAR})
		case strings.TrimSpace(m.Web.URI) != "":
			out = append(out, ModuleRef{URI: strings.TrimSpace(m.Web.URI), Kind: WAR})
		case strings.TrimSpace(m.Connector) != "":
			out = append(out, ModuleRef{URI: strings.TrimSpace(m.Connector), Kind: RAR})
		}
	}
	return out, nil
}

type serviceXML struct {
	MBeans []struct {
		Code string `xml:"code,attr"`
		Name string `xml:"name,attr"`
	} `xml:"mbean"`
}

var mbeanNameReplacer = strings.NewReplacer(":", "/", "=", "/", ",", "/", "*", "_", "?", "_")

// ParseService returns the mbeans declared in a jboss-service.xml. Their
// object names become component names with the reserved characters
// replaced.
func ParseService(text string) ([]Component, error) {
	var doc serviceXML
	if err := xml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("parse jboss-service.xml: %w", err)
	}
	out := make([]Component, 0, len(doc.MBeans))
	for _, m := range doc.MBeans {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			continue
		}
		out = append(out, Component{Kind: MBean, Name: mbeanNameReplacer.Replace(name), Class: strings.TrimSpace(m.Code)})
	}
	return out, nil
}

type raXML struct {
	DisplayName     string `xml:"display-name"`
	ResourceAdapter struct {
		Class string `xml:"resourceadapter-class"`
		// 1.0 descriptors put the factory class directly here.
		ManagedConnectionFactory string `xml:"managedconnectionfactory-class"`
		Outbound                 struct {
			Definitions []struct {
				ManagedConnectionFactory string `xml:"managedconnectionfactory-class"`
			} `xml:"connection-definition"`
		} `xml:"outbound-resourceadapter"`
	} `xml:"resourceadapter"`
}

// ParseRA returns the resource adapter declared in a ra.xml. fallback
// names it when the descriptor has no display name.
func ParseRA(text, fallback string) ([]Component, error) {
	var doc raXML
	if err := xml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("parse ra.xml: %w", err)
	}
	name := strings.TrimSpace(doc.DisplayName)
	if name == "" {
		name = fallback
	}
	c := Component{Kind: ResourceAdapter, Name: name, Class: strings.TrimSpace(doc.ResourceAdapter.Class)}
	if mcf := strings.TrimSpace(doc.ResourceAdapter.ManagedConnectionFactory); mcf != "" {
		c.ConnectionFactories = append(c.ConnectionFactories, mcf)
	}
	for _, d := range doc.ResourceAdapter.Outbound.Definitions {
		if mcf := strings.TrimSpace(d.ManagedConnectionFactory); mcf != "" {
			c.ConnectionFactories = append(c.ConnectionFactories, mcf)
		}
	}
	return []Component{c}, nil
}

// Package template generates skeleton deployments: the deployment
// descriptors of a web, EJB, application, connector or service unit laid
// out as an exploded directory that the deployer accepts as is.
package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loykin/jsr77/internal/deploy"
)

// TemplateType represents the type of template to generate
type TemplateType string

const (
	TypeWeb         TemplateType = "web"
	TypeWAR         TemplateType = "war"
	TypeEJB         TemplateType = "ejb"
	TypeJAR         TemplateType = "jar"
	TypeApplication TemplateType = "application"
	TypeEAR         TemplateType = "ear"
	TypeConnector   TemplateType = "connector"
	TypeRAR         TemplateType = "rar"
	TypeService     TemplateType = "service"
	TypeSAR         TemplateType = "sar"
)

// Template is a generated deployment. Files maps slash separated paths,
// relative to the deployment root, to their contents.
type Template struct {
	Name  string            `json:"name"`
	Kind  deploy.Kind       `json:"kind"`
	Dir   string            `json:"dir"`
	Files map[string]string `json:"files"`
}

// Generator provides template generation functionality
type Generator struct {
	// Package is the Java package used for generated class names.
	Package string
}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{Package: "com.example"}
}

// Generate creates a deployment template of the given type named name.
func (g *Generator) Generate(templateType TemplateType, name string) (*Template, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\:=,*?"`) {
		return nil, fmt.Errorf("invalid template name %q", name)
	}
	switch templateType {
	case TypeWeb, TypeWAR:
		return g.generateWeb(name), nil
	case TypeEJB, TypeJAR:
		return g.generateEJB(name), nil
	case TypeApplication, TypeEAR:
		return g.generateApplication(name), nil
	case TypeConnector, TypeRAR:
		return g.generateConnector(name), nil
	case TypeService, TypeSAR:
		return g.generateService(name), nil
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: %s)", templateType, strings.Join(g.GetSupportedTypes(), ", "))
	}
}

// GenerateJSON creates a JSON representation of the template
func (g *Generator) GenerateJSON(templateType TemplateType, name string) ([]byte, error) {
	t, err := g.Generate(templateType, name)
	if err != nil {
		return nil, err
	}
	jsonData, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return jsonData, nil
}

// GetSupportedTypes returns a list of all supported template types
func (g *Generator) GetSupportedTypes() []string {
	return []string{
		string(TypeWeb),
		string(TypeEJB),
		string(TypeApplication),
		string(TypeConnector),
		string(TypeService),
	}
}

// Paths returns the file paths of t in sorted order.
func (t *Template) Paths() []string {
	out := make([]string, 0, len(t.Files))
	for p := range t.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Write lays the template out under parent as an exploded deployment and
// returns its location. An existing location is an error.
func (t *Template) Write(parent string) (string, error) {
	root := filepath.Join(parent, t.Dir)
	if _, err := os.Stat(root); err == nil {
		return "", fmt.Errorf("%s already exists", root)
	}
	for _, p := range t.Paths() {
		full := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return "", fmt.Errorf("create %s: %w", filepath.Dir(full), err)
		}
		if err := os.WriteFile(full, []byte(t.Files[p]), 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", full, err)
		}
	}
	return root, nil
}

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

func (g *Generator) class(name, suffix string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '-' || r == '_' || r == '.' || r == ' ' }) {
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return g.Package + "." + strings.ToLower(strings.ReplaceAll(name, "-", "")) + "." + b.String() + suffix
}

func (g *Generator) webXML(name string) string {
	return xmlHeader + `<web-app>
  <display-name>` + name + `</display-name>
  <servlet>
    <servlet-name>` + name + `Servlet</servlet-name>
    <servlet-class>` + g.class(name, "Servlet") + `</servlet-class>
  </servlet>
  <servlet>
    <servlet-name>index</servlet-name>
    <jsp-file>/index.jsp</jsp-file>
  </servlet>
</web-app>
`
}

func (g *Generator) ejbJarXML(name string) string {
	return xmlHeader + `<ejb-jar>
  <enterprise-beans>
    <session>
      <ejb-name>` + name + `Facade</ejb-name>
      <ejb-class>` + g.class(name, "FacadeBean") + `</ejb-class>
      <session-type>Stateless</session-type>
    </session>
    <entity>
      <ejb-name>` + name + `Entity</ejb-name>
      <ejb-class>` + g.class(name, "EntityBean") + `</ejb-class>
    </entity>
    <message-driven>
      <ejb-name>` + name + `Listener</ejb-name>
      <ejb-class>` + g.class(name, "ListenerBean") + `</ejb-class>
    </message-driven>
  </enterprise-beans>
</ejb-jar>
`
}

func jbossXML(name string) string {
	return xmlHeader + `<jboss>
  <enterprise-beans>
    <session>
      <ejb-name>` + name + `Facade</ejb-name>
      <jndi-name>ejb/` + name + `Facade</jndi-name>
    </session>
  </enterprise-beans>
</jboss>
`
}

func (g *Generator) generateWeb(name string) *Template {
	return &Template{
		Name: name,
		Kind: deploy.WAR,
		Dir:  name + ".war",
		Files: map[string]string{
			deploy.WebXML.Path(): g.webXML(name),
			"index.jsp":          "<html><body>" + name + "</body></html>\n",
		},
	}
}

func (g *Generator) generateEJB(name string) *Template {
	return &Template{
		Name: name,
		Kind: deploy.EJBJAR,
		Dir:  name + ".jar",
		Files: map[string]string{
			deploy.EJBJarXML.Path(): g.ejbJarXML(name),
			deploy.JBossXML.Path():  jbossXML(name),
		},
	}
}

// generateApplication bundles a web and an EJB module.
func (g *Generator) generateApplication(name string) *Template {
	web, ejb := name+"-web.war", name+"-ejb.jar"
	files := map[string]string{
		deploy.ApplicationXML.Path(): xmlHeader + `<application>
  <display-name>` + name + `</display-name>
  <module>
    <web>
      <web-uri>` + web + `</web-uri>
      <context-root>/` + name + `</context-root>
    </web>
  </module>
  <module>
    <ejb>` + ejb + `</ejb>
  </module>
</application>
`,
		web + "/" + deploy.WebXML.Path():    g.webXML(name),
		ejb + "/" + deploy.EJBJarXML.Path(): g.ejbJarXML(name),
		ejb + "/" + deploy.JBossXML.Path():  jbossXML(name),
	}
	return &Template{Name: name, Kind: deploy.EAR, Dir: name + ".ear", Files: files}
}

func (g *Generator) generateConnector(name string) *Template {
	return &Template{
		Name: name,
		Kind: deploy.RAR,
		Dir:  name + ".rar",
		Files: map[string]string{
			deploy.RAXML.Path(): xmlHeader + `<connector>
  <display-name>` + name + `</display-name>
  <resourceadapter>
    <resourceadapter-class>` + g.class(name, "ResourceAdapter") + `</resourceadapter-class>
    <outbound-resourceadapter>
      <connection-definition>
        <managedconnectionfactory-class>` + g.class(name, "ManagedConnectionFactory") + `</managedconnectionfactory-class>
      </connection-definition>
    </outbound-resourceadapter>
  </resourceadapter>
</connector>
`,
		},
	}
}

func (g *Generator) generateService(name string) *Template {
	return &Template{
		Name: name,
		Kind: deploy.SAR,
		Dir:  name + ".sar",
		Files: map[string]string{
			deploy.JBossServiceXML.Path(): xmlHeader + `<server>
  <mbean code="` + g.class(name, "Service") + `" name="jboss.example:service=` + name + `"/>
</server>
`,
		},
	}
}

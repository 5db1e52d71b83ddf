package template

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/jsr77/internal/deploy"
	"github.com/loykin/jsr77/internal/registry"
)

func TestGenerator_Generate(t *testing.T) {
	generator := NewGenerator()

	tests := []struct {
		name         string
		templateType TemplateType
		unitName     string
		expectError  bool
		validate     func(*testing.T, *Template)
	}{
		{
			name:         "web_template",
			templateType: TypeWeb,
			unitName:     "shop",
			validate: func(t *testing.T, tpl *Template) {
				if tpl.Kind != deploy.WAR || tpl.Dir != "shop.war" {
					t.Errorf("unexpected kind/dir: %s %s", tpl.Kind, tpl.Dir)
				}
				comps, err := deploy.ParseWeb(tpl.Files[deploy.WebXML.Path()])
				if err != nil {
					t.Fatalf("parse web.xml: %v", err)
				}
				if len(comps) != 2 || comps[0].Name != "shopServlet" || comps[0].Class != "com.example.shop.ShopServlet" {
					t.Errorf("unexpected servlets: %+v", comps)
				}
				if comps[1].Class != "/index.jsp" {
					t.Errorf("jsp servlet should use jsp-file as class, got %q", comps[1].Class)
				}
			},
		},
		{
			name:         "ejb_template",
			templateType: TypeJAR,
			unitName:     "order-service",
			validate: func(t *testing.T, tpl *Template) {
				comps, err := deploy.ParseEJBJar(tpl.Files[deploy.EJBJarXML.Path()])
				if err != nil {
					t.Fatalf("parse ejb-jar.xml: %v", err)
				}
				kinds := map[deploy.ComponentKind]bool{}
				for _, c := range comps {
					kinds[c.Kind] = true
				}
				for _, k := range []deploy.ComponentKind{deploy.StatelessSessionBean, deploy.EntityBean, deploy.MessageDrivenBean} {
					if !kinds[k] {
						t.Errorf("missing %s in %+v", k, comps)
					}
				}
				if !strings.Contains(comps[0].Class, "OrderServiceFacadeBean") {
					t.Errorf("unexpected bean class %q", comps[0].Class)
				}
			},
		},
		{
			name:         "application_template",
			templateType: TypeApplication,
			unitName:     "store",
			validate: func(t *testing.T, tpl *Template) {
				refs, err := deploy.ParseApplication(tpl.Files[deploy.ApplicationXML.Path()])
				if err != nil {
					t.Fatalf("parse application.xml: %v", err)
				}
				if len(refs) != 2 || refs[0].Kind != deploy.WAR || refs[1].Kind != deploy.EJBJAR {
					t.Errorf("unexpected modules: %+v", refs)
				}
				for _, r := range refs {
					found := false
					for p := range tpl.Files {
						if strings.HasPrefix(p, r.URI+"/") {
							found = true
						}
					}
					if !found {
						t.Errorf("module %s has no files", r.URI)
					}
				}
			},
		},
		{
			name:         "connector_template",
			templateType: TypeRAR,
			unitName:     "jms",
			validate: func(t *testing.T, tpl *Template) {
				comps, err := deploy.ParseRA(tpl.Files[deploy.RAXML.Path()], "fallback")
				if err != nil {
					t.Fatalf("parse ra.xml: %v", err)
				}
				if len(comps) != 1 || comps[0].Name != "jms" || len(comps[0].ConnectionFactories) != 1 {
					t.Errorf("unexpected adapter: %+v", comps)
				}
			},
		},
		{
			name:         "service_template",
			templateType: TypeService,
			unitName:     "cache",
			validate: func(t *testing.T, tpl *Template) {
				comps, err := deploy.ParseService(tpl.Files[deploy.JBossServiceXML.Path()])
				if err != nil {
					t.Fatalf("parse jboss-service.xml: %v", err)
				}
				if len(comps) != 1 || comps[0].Name != "jboss.example/service/cache" {
					t.Errorf("unexpected mbeans: %+v", comps)
				}
			},
		},
		{
			name:         "unknown_type",
			templateType: "worker",
			unitName:     "x",
			expectError:  true,
		},
		{
			name:         "reserved_name",
			templateType: TypeWeb,
			unitName:     "a:b",
			expectError:  true,
		},
		{
			name:         "empty_name",
			templateType: TypeWeb,
			unitName:     "  ",
			expectError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, err := generator.Generate(tt.templateType, tt.unitName)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for %s/%q", tt.templateType, tt.unitName)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, tpl)
			}
		})
	}
}

func TestGenerator_GenerateJSON(t *testing.T) {
	data, err := NewGenerator().GenerateJSON(TypeService, "cache")
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if out["kind"] != "sar" || out["dir"] != "cache.sar" {
		t.Errorf("unexpected JSON: %s", data)
	}
	if _, err := NewGenerator().GenerateJSON("bogus", "x"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestGenerator_SupportedTypesGenerate(t *testing.T) {
	g := NewGenerator()
	for _, typ := range g.GetSupportedTypes() {
		if _, err := g.Generate(TemplateType(typ), "unit"); err != nil {
			t.Errorf("supported type %s failed: %v", typ, err)
		}
	}
}

func TestTemplate_WriteAndDeploy(t *testing.T) {
	dir := t.TempDir()
	tpl, err := NewGenerator().Generate(TypeApplication, "store")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	loc, err := tpl.Write(dir)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(loc, "META-INF", "application.xml")); err != nil {
		t.Fatalf("application.xml not written: %v", err)
	}
	if _, err := tpl.Write(dir); err == nil {
		t.Fatalf("expected error writing over an existing deployment")
	}

	md := deploy.NewMainDeployer(registry.New())
	if err := md.Deploy(context.Background(), loc); err != nil {
		t.Fatalf("deploy generated application: %v", err)
	}
	d, ok := md.Deployment(loc)
	if !ok {
		t.Fatalf("deployment not recorded")
	}
	if d.Kind != deploy.EAR || len(d.Children) != 2 {
		t.Fatalf("unexpected deployment: kind=%s children=%d", d.Kind, len(d.Children))
	}
	total := 0
	for _, c := range d.Children {
		total += len(c.Components)
	}
	if total != 5 {
		t.Fatalf("expected 2 servlets and 3 beans, got %d components", total)
	}
}

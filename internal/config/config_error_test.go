package config

import (
	"strings"
	"testing"

	"github.com/loykin/jsr77/internal/domain"
	"github.com/loykin/jsr77/internal/managed"
)

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty domain", func(c *Config) { c.Domain.Name = " " }, "domain.name"},
		{"reserved domain", func(c *Config) { c.Domain.Name = "a:b" }, "reserved"},
		{"base path", func(c *Config) { c.Server.BasePath = "api" }, "base_path"},
		{"scan without dir", func(c *Config) { c.Deploy.Scan = true }, "deploy.dir"},
		{"store scheme", func(c *Config) { c.Store.DSN = "mysql://root@db/jsr77" }, "store.dsn"},
		{"bad schedule", func(c *Config) { c.Store.SnapshotSchedule = "whenever" }, "snapshot_schedule"},
		{"empty sink", func(c *Config) { c.History.Sinks = []string{""} }, "history.sinks[0]"},
		{"metrics listen", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Listen = "" }, "metrics.listen"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"resource kind", func(c *Config) {
			c.Domain.Resources = []domain.Resource{{Kind: managed.WebModule, Name: "w"}}
		}, "not a resource kind"},
		{"resource name", func(c *Config) {
			c.Domain.Resources = []domain.Resource{{Kind: managed.JTAResource}}
		}, "requires a name"},
		{"datasource dsn", func(c *Config) {
			c.DataSources = []domain.DataSource{{Name: "DS"}}
		}, "requires dsn"},
		{"datasource duplicate", func(c *Config) {
			c.DataSources = []domain.DataSource{{Name: "DS", DSN: "a"}, {Name: "DS", DSN: "b"}}
		}, "duplicate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	p := writeTOML(t, "bad.toml", `
[deploy]
scan = true
`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error when scan has no dir")
	}
	p = writeTOML(t, "broken.toml", "[server\nlisten=")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected parse error")
	}
}

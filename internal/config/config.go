// Package config loads the server configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/jsr77/internal/domain"
	"github.com/loykin/jsr77/internal/logger"
	"github.com/loykin/jsr77/internal/metrics"
	"github.com/loykin/jsr77/internal/store"
	sfactory "github.com/loykin/jsr77/internal/store/factory"
)

// EnvPrefix prefixes environment overrides, e.g. JSR77_SERVER_LISTEN.
const EnvPrefix = "JSR77"

// Defaults
const (
	DefaultListen        = "127.0.0.1:8077"
	DefaultBasePath      = "/api"
	DefaultDomain        = "jboss"
	DefaultMetricsListen = "127.0.0.1:9077"
)

// Config represents the top-level TOML structure.
type Config struct {
	Server      ServerConfig        `mapstructure:"server"`
	Domain      DomainConfig        `mapstructure:"domain"`
	Deploy      DeployConfig        `mapstructure:"deploy"`
	Store       StoreConfig         `mapstructure:"store"`
	History     HistoryConfig       `mapstructure:"history"`
	Metrics     MetricsConfig       `mapstructure:"metrics"`
	Log         logger.Config       `mapstructure:"log"`
	DataSources []domain.DataSource `mapstructure:"datasources"`
	// DataSourcesDir holds one TOML file per data source, merged after
	// the inline [[datasources]] entries.
	DataSourcesDir string `mapstructure:"datasources_dir"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
	// Notifications is the per-subscriber buffer of the notification
	// stream; zero disables the stream.
	Notifications int        `mapstructure:"notifications"`
	TLS           *TLSConfig `mapstructure:"tls"`
}

// TLSConfig enables HTTPS on the management API. Certificates come from
// CertFile/KeyFile, or from Dir (tls.crt, tls.key), generated there when
// AutoGenerate is set and they are missing.
type TLSConfig struct {
	Enabled      bool        `mapstructure:"enabled"`
	CertFile     string      `mapstructure:"cert_file"`
	KeyFile      string      `mapstructure:"key_file"`
	Dir          string      `mapstructure:"dir"`
	AutoGenerate bool        `mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `mapstructure:"auto_gen"`
	MinVersion   string      `mapstructure:"min_version"` // "1.2" or "1.3" (default)
	MaxVersion   string      `mapstructure:"max_version"`
}

// AutoGenTLS describes a generated self-signed certificate.
type AutoGenTLS struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

type DomainConfig struct {
	Name         string            `mapstructure:"name"`
	Server       string            `mapstructure:"server"`
	Vendor       string            `mapstructure:"vendor"`
	Version      string            `mapstructure:"version"`
	SystemDomain string            `mapstructure:"system_domain"`
	Resources    []domain.Resource `mapstructure:"resources"`
}

type DeployConfig struct {
	Dir      string        `mapstructure:"dir"`
	Scan     bool          `mapstructure:"scan"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type StoreConfig struct {
	DSN              string `mapstructure:"dsn"`
	SnapshotSchedule string `mapstructure:"snapshot_schedule"`
}

type HistoryConfig struct {
	Sinks     []string      `mapstructure:"sinks"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// Types limits the recorded notification types; empty records all.
	Types []string `mapstructure:"types"`
}

type MetricsConfig struct {
	Enabled bool                  `mapstructure:"enabled"`
	Listen  string                `mapstructure:"listen"`
	Process metrics.ProcessConfig `mapstructure:"process"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: DefaultListen, BasePath: DefaultBasePath, Notifications: 64},
		Domain: DomainConfig{Name: DefaultDomain, Server: "Local", Vendor: "loykin", SystemDomain: domain.DefaultSystemDomain},
		Deploy: DeployConfig{Debounce: 250 * time.Millisecond},
		Store:  StoreConfig{SnapshotSchedule: store.DefaultResyncSchedule},
		History: HistoryConfig{
			QueueSize: 256,
			Timeout:   5 * time.Second,
		},
		Metrics: MetricsConfig{
			Listen:  DefaultMetricsListen,
			Process: metrics.ProcessConfig{Interval: 5 * time.Second, MaxHistory: 100},
		},
		Log: logger.Config{Level: "info", Format: "text"},
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	d := Default()
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.notifications", d.Server.Notifications)
	v.SetDefault("domain.name", d.Domain.Name)
	v.SetDefault("domain.server", d.Domain.Server)
	v.SetDefault("domain.vendor", d.Domain.Vendor)
	v.SetDefault("domain.system_domain", d.Domain.SystemDomain)
	v.SetDefault("deploy.dir", "")
	v.SetDefault("deploy.scan", false)
	v.SetDefault("deploy.debounce", d.Deploy.Debounce)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.snapshot_schedule", d.Store.SnapshotSchedule)
	v.SetDefault("history.queue_size", d.History.QueueSize)
	v.SetDefault("history.timeout", d.History.Timeout)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("metrics.process.enabled", false)
	v.SetDefault("metrics.process.interval", d.Metrics.Process.Interval)
	v.SetDefault("metrics.process.max_history", d.Metrics.Process.MaxHistory)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	return v
}

// Load reads the TOML file at path, applies defaults and environment
// overrides, and validates the result. An empty path yields the defaults
// with environment overrides.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if c.DataSourcesDir != "" {
		dir := c.DataSourcesDir
		if !filepath.IsAbs(dir) && path != "" {
			dir = filepath.Join(filepath.Dir(path), dir)
		}
		extra, err := loadDataSourcesDir(dir)
		if err != nil {
			return nil, err
		}
		c.DataSources = append(c.DataSources, extra...)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// loadDataSourcesDir reads every *.toml file in dir, in name order, as one
// data source. A file without a name is named after itself.
func loadDataSourcesDir(dir string) ([]domain.DataSource, error) {
	entries, err := os.ReadDir(filepath.Clean(dir))
	if err != nil {
		return nil, fmt.Errorf("read datasources dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".toml") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	out := make([]domain.DataSource, 0, len(files))
	for _, f := range files {
		v := viper.New()
		v.SetConfigFile(filepath.Join(dir, f))
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read data source %s: %w", f, err)
		}
		var ds domain.DataSource
		if err := v.Unmarshal(&ds); err != nil {
			return nil, fmt.Errorf("decode data source %s: %w", f, err)
		}
		if ds.Name == "" {
			ds.Name = strings.TrimSuffix(f, ".toml")
		}
		out = append(out, ds)
	}
	return out, nil
}

// Validate checks the configuration for values the server cannot use.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Domain.Name) == "" {
		errs = append(errs, errors.New("domain.name must not be empty"))
	}
	if strings.ContainsAny(c.Domain.Name, ":=,*?\"") {
		errs = append(errs, fmt.Errorf("domain.name %q contains reserved characters", c.Domain.Name))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with '/'", c.Server.BasePath))
	}
	if t := c.Server.TLS; t != nil && t.Enabled {
		if (t.CertFile == "") != (t.KeyFile == "") {
			errs = append(errs, errors.New("server.tls: cert_file and key_file must be set together"))
		}
		if t.CertFile == "" && t.Dir == "" {
			errs = append(errs, errors.New("server.tls: enabled without cert_file/key_file or dir"))
		}
	}
	if c.Server.Notifications < 0 {
		errs = append(errs, errors.New("server.notifications must not be negative"))
	}
	if c.Deploy.Scan && c.Deploy.Dir == "" {
		errs = append(errs, errors.New("deploy.scan requires deploy.dir"))
	}
	if c.Store.DSN != "" {
		if _, _, err := sfactory.Parse(c.Store.DSN); err != nil {
			errs = append(errs, fmt.Errorf("store.dsn: %w", err))
		}
	}
	if c.Store.SnapshotSchedule != "" {
		if err := store.ValidateSchedule(c.Store.SnapshotSchedule); err != nil {
			errs = append(errs, fmt.Errorf("store.snapshot_schedule: %w", err))
		}
	}
	for i, s := range c.History.Sinks {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, fmt.Errorf("history.sinks[%d] is empty", i))
		}
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen required when metrics are enabled"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	for _, r := range c.Domain.Resources {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("resource of kind %s requires a name", r.Kind))
		}
		if !r.Kind.IsResource() {
			errs = append(errs, fmt.Errorf("resource %s: %q is not a resource kind", r.Name, r.Kind))
		}
	}
	seen := make(map[string]bool, len(c.DataSources))
	for _, ds := range c.DataSources {
		switch {
		case ds.Name == "":
			errs = append(errs, errors.New("data source requires name"))
		case seen[ds.Name]:
			errs = append(errs, fmt.Errorf("duplicate data source %s", ds.Name))
		}
		seen[ds.Name] = true
		if ds.DSN == "" {
			errs = append(errs, fmt.Errorf("data source %s requires dsn", ds.Name))
		}
		if ds.MaxOpen < 0 {
			errs = append(errs, fmt.Errorf("data source %s: max_open must not be negative", ds.Name))
		}
	}
	return errors.Join(errs...)
}

// DomainServer returns the server description for domain.New.
func (c *Config) DomainServer() domain.Config {
	return domain.Config{
		Server:       c.Domain.Server,
		Vendor:       c.Domain.Vendor,
		Version:      c.Domain.Version,
		SystemDomain: c.Domain.SystemDomain,
		Resources:    c.Domain.Resources,
		DataSources:  c.DataSources,
	}
}

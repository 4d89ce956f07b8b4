package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"contractline/internal/domain"
	"contractline/internal/registry"
)

// Config models contractline.yml.
type Config struct {
	Registry struct {
		SearchFields    []string `yaml:"search_fields"`
		DefaultPriority string   `yaml:"default_priority"`
		DefaultActor    string   `yaml:"default_actor"`
	} `yaml:"registry"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Telemetry struct {
		Enabled         bool   `yaml:"enabled"`
		Endpoint        string `yaml:"endpoint"`
		Insecure        bool   `yaml:"insecure"`
		IntervalSeconds int    `yaml:"interval_seconds"`
	} `yaml:"telemetry"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	for _, f := range c.Registry.SearchFields {
		if _, err := registry.ParseSearchField(f); err != nil {
			return fmt.Errorf("config.registry.search_fields: %w", err)
		}
	}
	if p := c.Registry.DefaultPriority; p != "" && !domain.Priority(p).Valid() {
		return fmt.Errorf("config.registry.default_priority %q is not one of low, medium, high, critical", p)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("config.telemetry.endpoint is required when telemetry is enabled")
	}
	if c.Telemetry.IntervalSeconds < 0 {
		return fmt.Errorf("config.telemetry.interval_seconds must not be negative")
	}
	return nil
}

// SearchFields returns the configured default search fields.
func (c *Config) SearchFields() []registry.SearchField {
	out := make([]registry.SearchField, 0, len(c.Registry.SearchFields))
	for _, f := range c.Registry.SearchFields {
		if sf, err := registry.ParseSearchField(f); err == nil {
			out = append(out, sf)
		}
	}
	return out
}

// LogLevel parses log.level; empty means info.
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("config.log.level: %w", err)
	}
	return lvl, nil
}

// RegistryOptions turns the registry section into constructor options.
func (c *Config) RegistryOptions() []registry.Option {
	return []registry.Option{
		registry.WithDefaultSearchFields(c.SearchFields()...),
		registry.WithDefaultPriority(domain.Priority(c.Registry.DefaultPriority)),
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "contractline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `registry:
  search_fields: [name, description, tags]
  default_priority: medium
  default_actor: local-user

server:
  addr: 127.0.0.1:8080
  base_path: /v0

log:
  level: info
  format: text

telemetry:
  enabled: false
  endpoint: localhost:4317
  insecure: true
  interval_seconds: 15
`

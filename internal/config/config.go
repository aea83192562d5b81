package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models civicflow.yml.
type Config struct {
	Municipality struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"municipality"`
	Classification struct {
		DefaultCategory string   `yaml:"default_category"`
		DefaultSeverity string   `yaml:"default_severity"`
		Categories      []string `yaml:"categories"`
		Severities      []string `yaml:"severities"`
	} `yaml:"classification"`
	Escalation struct {
		SLAHours      map[int]int `yaml:"sla_hours"`
		SweepInterval string      `yaml:"sweep_interval"`
	} `yaml:"escalation"`
	Bulk struct {
		MaxItems    int `yaml:"max_items"`
		Parallelism int `yaml:"parallelism"`
	} `yaml:"bulk"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Active reports whether the hook should receive deliveries.
func (w WebhookConfig) Active() bool {
	if w.Enabled != nil && !*w.Enabled {
		return false
	}
	return strings.TrimSpace(w.URL) != ""
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with civic init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Municipality.ID == "" {
		return fmt.Errorf("config.municipality.id is required")
	}
	if c.Classification.DefaultCategory == "" {
		return fmt.Errorf("config.classification.default_category is required")
	}
	if c.Classification.DefaultSeverity == "" {
		return fmt.Errorf("config.classification.default_severity is required")
	}
	if len(c.Classification.Categories) > 0 && !contains(c.Classification.Categories, c.Classification.DefaultCategory) {
		return fmt.Errorf("default category %s not in config.classification.categories", c.Classification.DefaultCategory)
	}
	if len(c.Classification.Severities) > 0 && !contains(c.Classification.Severities, c.Classification.DefaultSeverity) {
		return fmt.Errorf("default severity %s not in config.classification.severities", c.Classification.DefaultSeverity)
	}
	for level, hours := range c.Escalation.SLAHours {
		if level < 1 || level > 3 {
			return fmt.Errorf("config.escalation.sla_hours has level %d outside 1..3", level)
		}
		if hours <= 0 {
			return fmt.Errorf("config.escalation.sla_hours[%d] must be positive", level)
		}
	}
	if c.Escalation.SweepInterval != "" {
		d, err := time.ParseDuration(c.Escalation.SweepInterval)
		if err != nil {
			return fmt.Errorf("config.escalation.sweep_interval: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("config.escalation.sweep_interval must be positive")
		}
	}
	if c.Bulk.MaxItems < 0 {
		return fmt.Errorf("config.bulk.max_items must not be negative")
	}
	if c.Bulk.Parallelism < 0 {
		return fmt.Errorf("config.bulk.parallelism must not be negative")
	}
	names := map[string]struct{}{}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
		name := hook.Key(i)
		if _, ok := names[name]; ok {
			return fmt.Errorf("duplicate webhook name %s", name)
		}
		names[name] = struct{}{}
	}
	return nil
}

// Key is the stable cursor name of the hook at index i.
func (w WebhookConfig) Key(i int) string {
	if strings.TrimSpace(w.Name) != "" {
		return strings.TrimSpace(w.Name)
	}
	return fmt.Sprintf("webhook-%d", i)
}

// SLAHoursFor returns the configured SLA for an escalation level, or 0.
func (c *Config) SLAHoursFor(level int) int {
	if c == nil {
		return 0
	}
	return c.Escalation.SLAHours[level]
}

// SweepEvery returns the overdue sweep period.
func (c *Config) SweepEvery() time.Duration {
	if c != nil && c.Escalation.SweepInterval != "" {
		if d, err := time.ParseDuration(c.Escalation.SweepInterval); err == nil && d > 0 {
			return d
		}
	}
	return time.Minute
}

// AllowsCategory reports whether v is an accepted manual category.
func (c *Config) AllowsCategory(v string) bool {
	if c == nil || len(c.Classification.Categories) == 0 {
		return true
	}
	return contains(c.Classification.Categories, v)
}

// AllowsSeverity reports whether v is an accepted manual severity.
func (c *Config) AllowsSeverity(v string) bool {
	if c == nil || len(c.Classification.Severities) == 0 {
		return true
	}
	return contains(c.Classification.Severities, v)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "civicflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(municipalityID string) string {
	return fmt.Sprintf(defaultTemplate, municipalityID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a municipality.
func Default(municipalityID string) *Config {
	var cfg Config
	cfg.Municipality.ID = municipalityID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, municipalityID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `municipality:
  id: %s
  name: ""

classification:
  default_category: general
  default_severity: medium
  categories: [general, roads, water, sanitation, electricity, parks, public_safety, noise]
  severities: [low, medium, high, critical]

escalation:
  sla_hours:
    1: 72
    2: 48
    3: 24
  sweep_interval: 1m

bulk:
  max_items: 500
  parallelism: 4

webhooks: []
`

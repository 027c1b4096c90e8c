package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models procline.yml.
type Config struct {
	Workspace struct {
		Name string `yaml:"name"`
	} `yaml:"workspace"`
	Freshness struct {
		DefaultReviewFrequencyDays int `yaml:"default_review_frequency_days"`
		DefaultReviewDueLeadDays   int `yaml:"default_review_due_lead_days"`
		// BlockInProgressWhenExpired also stops step work on runs whose
		// version has expired; new runs are always blocked.
		BlockInProgressWhenExpired bool `yaml:"block_in_progress_when_expired"`
	} `yaml:"freshness"`
	Reactor struct {
		Interval             time.Duration `yaml:"interval"`
		HealthAlertThreshold int           `yaml:"health_alert_threshold"`
	} `yaml:"reactor"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.Name == "" {
		return fmt.Errorf("config.workspace.name is required")
	}
	if c.Freshness.DefaultReviewFrequencyDays < 0 {
		return fmt.Errorf("config.freshness.default_review_frequency_days must be >= 0")
	}
	if c.Freshness.DefaultReviewDueLeadDays < 0 {
		return fmt.Errorf("config.freshness.default_review_due_lead_days must be >= 0")
	}
	if c.Reactor.Interval <= 0 {
		return fmt.Errorf("config.reactor.interval must be positive")
	}
	if c.Reactor.HealthAlertThreshold < 0 || c.Reactor.HealthAlertThreshold > 100 {
		return fmt.Errorf("config.reactor.health_alert_threshold must be within 0..100")
	}
	for i, wh := range c.Webhooks {
		u, err := url.Parse(wh.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.webhooks[%d].url is invalid", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "procline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
}

// Default returns the default Config for a workspace.
func Default(name string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(name)))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// LoadOptional falls back to the defaults when the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(filepath.Base(absOrSelf(workspace))), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
// Missing sections keep their default values.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, "default")), &cfg); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func absOrSelf(p string) string {
	if p == "" {
		p = "."
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

const defaultTemplate = `workspace:
  name: %s

freshness:
  default_review_frequency_days: 90
  default_review_due_lead_days: 15
  block_in_progress_when_expired: false

reactor:
  interval: 60s
  health_alert_threshold: 50

server:
  addr: 127.0.0.1:8080
  base_path: /v0

webhooks: []
`

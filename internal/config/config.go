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

// Config models journalflow.yml, one per journal.
type Config struct {
	Journal struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"journal" json:"journal"`
	Workflow struct {
		// Elements lists element names in pipeline order.
		Elements []string `yaml:"elements" json:"elements"`
	} `yaml:"workflow" json:"workflow"`
	Plugins     []Plugin              `yaml:"plugins,omitempty" json:"plugins,omitempty"`
	Tasks       map[string]TaskPolicy `yaml:"tasks" json:"tasks"`
	Webhooks    []WebhookConfig       `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
	Identifiers struct {
		DOI DOIConfig `yaml:"doi" json:"doi"`
	} `yaml:"identifiers" json:"identifiers"`
	Relay struct {
		NATS NATSConfig `yaml:"nats" json:"nats"`
	} `yaml:"relay" json:"relay"`
}

// Plugin contributes workflow elements and stages at start-up.
type Plugin struct {
	Name     string          `yaml:"name" json:"name"`
	Elements []PluginElement `yaml:"elements,omitempty" json:"elements,omitempty"`
	Stages   []PluginStage   `yaml:"stages,omitempty" json:"stages,omitempty"`
}

type PluginElement struct {
	Name         string `yaml:"name" json:"name"`
	Stage        string `yaml:"stage" json:"stage"`
	HandshakeURL string `yaml:"handshake_url" json:"handshake_url"`
	JumpURL      string `yaml:"jump_url" json:"jump_url"`
	// Stages are extra stages routed to this element besides Stage.
	Stages []string `yaml:"stages,omitempty" json:"stages,omitempty"`
}

type PluginStage struct {
	Name     string   `yaml:"name" json:"name"`
	Label    string   `yaml:"label,omitempty" json:"label,omitempty"`
	Terminal bool     `yaml:"terminal,omitempty" json:"terminal,omitempty"`
	From     []string `yaml:"from,omitempty" json:"from,omitempty"`
	To       []string `yaml:"to,omitempty" json:"to,omitempty"`
}

type TaskPolicy struct {
	AllowSaveProgress bool `yaml:"allow_save_progress" json:"allow_save_progress"`
	DefaultDueDays    int  `yaml:"default_due_days" json:"default_due_days"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

type DOIConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Prefix    string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Timeout   string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	QueueSize int    `yaml:"queue_size,omitempty" json:"queue_size,omitempty"`
}

// TimeoutDuration parses Timeout, defaulting to ten seconds.
func (d DOIConfig) TimeoutDuration() time.Duration {
	if v, err := time.ParseDuration(d.Timeout); err == nil && v > 0 {
		return v
	}
	return 10 * time.Second
}

type NATSConfig struct {
	SubjectPrefix string `yaml:"subject_prefix,omitempty" json:"subject_prefix,omitempty"`
}

// Subject returns the relay subject for an event name.
func (n NATSConfig) Subject(journalID, event string) string {
	prefix := strings.TrimSpace(n.SubjectPrefix)
	if prefix == "" {
		prefix = "journalflow"
	}
	return prefix + "." + journalID + "." + event
}

var knownFamilies = map[string]struct{}{
	"review":      {},
	"copyediting": {},
	"typesetting": {},
	"proofing":    {},
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Journal.ID) == "" {
		return fmt.Errorf("config.journal.id is required")
	}
	if len(c.Workflow.Elements) == 0 {
		return fmt.Errorf("config.workflow.elements is required")
	}
	seen := map[string]struct{}{}
	for _, name := range c.Workflow.Elements {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config.workflow.elements contains an empty name")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("workflow element %s listed twice", name)
		}
		seen[name] = struct{}{}
	}
	for _, p := range c.Plugins {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("config.plugins contains a plugin without name")
		}
		for _, el := range p.Elements {
			if el.Name == "" || el.Stage == "" {
				return fmt.Errorf("plugin %s: element name and stage are required", p.Name)
			}
			if el.HandshakeURL == "" || el.JumpURL == "" {
				return fmt.Errorf("plugin %s: element %s needs handshake_url and jump_url", p.Name, el.Name)
			}
		}
		for _, st := range p.Stages {
			if strings.TrimSpace(st.Name) == "" {
				return fmt.Errorf("plugin %s: stage name is required", p.Name)
			}
		}
	}
	for family, policy := range c.Tasks {
		if _, ok := knownFamilies[family]; !ok {
			return fmt.Errorf("config.tasks has unknown family %s", family)
		}
		if policy.DefaultDueDays < 0 {
			return fmt.Errorf("tasks.%s.default_due_days must not be negative", family)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	doi := c.Identifiers.DOI
	if doi.Enabled {
		if strings.TrimSpace(doi.Endpoint) == "" {
			return fmt.Errorf("identifiers.doi.endpoint is required when enabled")
		}
		if strings.TrimSpace(doi.Prefix) == "" {
			return fmt.Errorf("identifiers.doi.prefix is required when enabled")
		}
	}
	if doi.Timeout != "" {
		if _, err := time.ParseDuration(doi.Timeout); err != nil {
			return fmt.Errorf("identifiers.doi.timeout: %w", err)
		}
	}
	return nil
}

// Policy returns the task policy for a family; missing families get zero values.
func (c *Config) Policy(family string) TaskPolicy {
	if c == nil || c.Tasks == nil {
		return TaskPolicy{}
	}
	return c.Tasks[family]
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "journalflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(journalID string) string {
	return fmt.Sprintf(defaultTemplate, journalID, journalID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a journal. It panics if the
// built-in template does not decode.
func Default(journalID string) *Config {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(journalID))).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	cfg.Journal.ID = journalID
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

// ToYAML renders the config for export.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `journal:
  id: %q
  name: %q

workflow:
  elements:
    - review
    - copyediting
    - production
    - proofing
    - prepublication

tasks:
  review:
    allow_save_progress: true
    default_due_days: 21
  copyediting:
    default_due_days: 14
  typesetting:
    default_due_days: 14
  proofing:
    default_due_days: 7

identifiers:
  doi:
    enabled: false
    timeout: 10s
    queue_size: 64

relay:
  nats:
    subject_prefix: journalflow
`

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"complyline/internal/lifecycle"
)

// Config models complyline.yml. It is stored per project in the database
// and imported/exported as YAML.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Compliance struct {
		IdentifierPrefix   string `yaml:"identifier_prefix"`
		UpcomingWindowDays int    `yaml:"upcoming_window_days"`
		DefaultFrequency   string `yaml:"default_frequency"`
	} `yaml:"compliance"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
	RBAC     struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

const projectKind = "compliance-project"

// Default returns the seed config for a new project.
func Default(projectID string) *Config {
	cfg := &Config{}
	cfg.Project.ID = projectID
	cfg.Project.Kind = projectKind
	cfg.Compliance.IdentifierPrefix = lifecycle.DefaultIdentifierPrefix
	cfg.Compliance.UpcomingWindowDays = lifecycle.DefaultUpcomingWindowDays
	cfg.Compliance.DefaultFrequency = lifecycle.FreqMonthly
	cfg.RBAC.Roles = map[string]RBACRole{
		"owner": {
			Description: "Full control of the project",
			Permissions: []string{
				"project.create", "project.list",
				"project.read", "project.update", "project.delete",
				"project.status.read", "project.config.read", "project.config.write",
				"mechanism.read", "mechanism.write", "mechanism.recount",
				"obligation.read", "obligation.write", "obligation.delete",
				"audit.read", "audit.write",
				"evidence.read", "evidence.write",
				"assignment.read", "assignment.write",
				"event.read",
			},
		},
		"auditor": {
			Description: "Runs audits and records findings",
			Permissions: []string{
				"project.read", "project.status.read",
				"mechanism.read", "obligation.read",
				"audit.read", "audit.write",
				"evidence.read", "event.read",
			},
		},
		"editor": {
			Description: "Maintains mechanisms and obligations",
			Permissions: []string{
				"project.read", "project.status.read",
				"mechanism.read", "mechanism.write", "mechanism.recount",
				"obligation.read", "obligation.write", "obligation.delete",
				"evidence.read", "evidence.write",
				"assignment.read", "assignment.write",
				"event.read",
			},
		},
	}
	return cfg
}

// Path returns the expected config file location in a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "complyline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with cly project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a config document.
func FromYAML(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ToYAML renders the config for export.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != projectKind {
		return fmt.Errorf("config.project.kind must be %q", projectKind)
	}
	if c.Compliance.IdentifierPrefix == "" {
		return fmt.Errorf("config.compliance.identifier_prefix is required")
	}
	if c.Compliance.UpcomingWindowDays < 0 {
		return fmt.Errorf("config.compliance.upcoming_window_days must not be negative")
	}
	if c.Compliance.DefaultFrequency != "" && !lifecycle.IsCanonicalFrequency(c.Compliance.DefaultFrequency) {
		return fmt.Errorf("config.compliance.default_frequency %q is not a canonical frequency", c.Compliance.DefaultFrequency)
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	return nil
}

// Package config parses and watches the component manifest: which components
// the host runs, under which isolation policy, with which settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/armatureio/armature/pkg/domain"
)

// Duration is a time.Duration that unmarshals from "5s"-style strings in
// both YAML and JSON manifests.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Manifest is the full host configuration file.
type Manifest struct {
	Host       HostConfig          `yaml:"host" json:"host"`
	Components []ComponentManifest `yaml:"components" json:"components"`
}

// HostConfig carries host-level settings.
type HostConfig struct {
	// AdminAddress is the listen address for the admin HTTP endpoints.
	AdminAddress string `yaml:"admin_address" json:"adminAddress"`
	// ChainTimeout bounds every chain run. Zero disables the bound.
	ChainTimeout Duration `yaml:"chain_timeout" json:"chainTimeout"`
	// SharedCore lists the modules every component resolves from the host
	// regardless of its isolation level.
	SharedCore []string `yaml:"shared_core" json:"sharedCore"`
}

// ComponentManifest is one component entry.
type ComponentManifest struct {
	ID        string         `yaml:"id" json:"id"`
	Module    string         `yaml:"module" json:"module"`
	Enabled   *bool          `yaml:"enabled" json:"enabled"`
	Isolation IsolationSpec  `yaml:"isolation" json:"isolation"`
	Settings  map[string]any `yaml:"settings" json:"settings"`
}

// IsEnabled defaults to true when the manifest omits the flag.
func (c *ComponentManifest) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// IsolationSpec is the manifest form of a component's isolation requirements.
type IsolationSpec struct {
	Level   string   `yaml:"level" json:"level"`
	Allowed []string `yaml:"allowed" json:"allowed"`
	Blocked []string `yaml:"blocked" json:"blocked"`
}

// Requirements converts the spec to domain requirements. An empty level
// means Standard.
func (s IsolationSpec) Requirements() (domain.IsolationRequirements, error) {
	level := domain.IsolationStandard
	switch s.Level {
	case "", string(domain.IsolationStandard):
	case string(domain.IsolationNone):
		level = domain.IsolationNone
	case string(domain.IsolationStrict):
		level = domain.IsolationStrict
	default:
		return domain.IsolationRequirements{}, fmt.Errorf("unknown isolation level %q", s.Level)
	}
	return domain.IsolationRequirements{
		Level:          level,
		AllowedModules: append([]string(nil), s.Allowed...),
		BlockedModules: append([]string(nil), s.Blocked...),
	}, nil
}

// Validate checks manifest consistency: unique non-empty component ids, a
// module per component, known isolation levels.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Components))
	for i := range m.Components {
		c := &m.Components[i]
		if c.ID == "" {
			return fmt.Errorf("component entry %d is missing an id", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("component id %q appears more than once", c.ID)
		}
		seen[c.ID] = true
		if c.Module == "" {
			return fmt.Errorf("component %q is missing a module", c.ID)
		}
		if _, err := c.Isolation.Requirements(); err != nil {
			return fmt.Errorf("component %q: %w", c.ID, err)
		}
	}
	return nil
}

// Load reads and validates a manifest file. YAML is the primary format;
// JSON is accepted as a fallback.
func Load(path string) (*Manifest, error) {
	// #nosec G304 -- the manifest path is configured at startup
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if yamlErr := yaml.Unmarshal(data, &m); yamlErr != nil {
		if jsonErr := json.Unmarshal(data, &m); jsonErr != nil {
			return nil, fmt.Errorf("parsing manifest: %w", yamlErr)
		}
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

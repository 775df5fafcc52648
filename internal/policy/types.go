package policy

import (
	"errors"
	"fmt"
)

var (
	ErrMissingSettings = errors.New("policy document missing settings block")
	ErrEmptyToolName   = errors.New("tool name cannot be empty")
	ErrUnknownKind     = errors.New("unknown request kind")
)

// Domains for list-style policy entries.
const (
	DomainTools     = "tools"
	DomainSkills    = "skills"
	DomainMCPs      = "mcps"
	DomainCommands  = "commands"
	DomainResources = "resources"
)

// Timeout-excess handling declared per restriction.
const (
	TimeoutExcessClamp = "clamp"
	TimeoutExcessDeny  = "deny"
)

type Document struct {
	Version   string         `yaml:"version"`
	Settings  *Settings      `yaml:"settings"`
	Tools     ToolPolicy     `yaml:"tools"`
	Skills    SkillPolicy    `yaml:"skills"`
	MCPs      MCPPolicy      `yaml:"mcps"`
	Resources ResourcePolicy `yaml:"resources"`
	Entries   []Entry        `yaml:"entries"`

	// Legacy misspelling accepted on input and merged into Resources during
	// normalization. Never written back out.
	LegacyResources *ResourcePolicy `yaml:"resurces"`

	// Populated by normalization from command-domain entries; not part of the
	// file format.
	ExtraBlockedCommands []string `yaml:"-"`
}

type Settings struct {
	DefaultDeny bool `yaml:"default_deny"`
	LogDenials  bool `yaml:"log_denials"`
}

type ToolPolicy struct {
	Allowed      []string               `yaml:"allowed"`
	Restrictions map[string]Restriction `yaml:"restrictions"`
}

// Restriction narrows an otherwise-allowed tool. Empty lists mean no
// narrowing for that axis.
type Restriction struct {
	AllowedCommands   []string `yaml:"allowed_commands"`
	BlockedCommands   []string `yaml:"blocked_commands"`
	AllowedPaths      []string `yaml:"allowed_paths"`
	TimeoutMaxSeconds int      `yaml:"timeout_max_seconds"`
	OnTimeoutExcess   string   `yaml:"on_timeout_excess"`
}

type SkillPolicy struct {
	Allowed []string `yaml:"allowed"`
}

type MCPPolicy struct {
	Allowed  []string              `yaml:"allowed"`
	Settings map[string]MCPSetting `yaml:"settings"`
}

type MCPSetting struct {
	AllowedPaths []string `yaml:"allowed_paths"`
	AllowedRepos []string `yaml:"allowed_repos"`
}

type ResourcePolicy struct {
	DeniedPaths []string `yaml:"denied_paths"`
}

// Entry is the legacy prioritized rule form. Higher priority entries are
// folded in first; ties keep declaration order.
type Entry struct {
	Domain   string `yaml:"domain"`
	Priority int    `yaml:"priority"`
	Name     string `yaml:"name"`
	Desc     string `yaml:"desc"`
}

func (d Document) Validate() error {
	if d.Settings == nil {
		return ErrMissingSettings
	}
	for name, r := range d.Tools.Restrictions {
		switch r.OnTimeoutExcess {
		case "", TimeoutExcessClamp, TimeoutExcessDeny:
		default:
			return fmt.Errorf("restriction %q: invalid on_timeout_excess %q", name, r.OnTimeoutExcess)
		}
		if r.TimeoutMaxSeconds < 0 {
			return fmt.Errorf("restriction %q: negative timeout_max_seconds", name)
		}
	}
	for i, e := range d.Entries {
		switch e.Domain {
		case DomainTools, DomainSkills, DomainMCPs, DomainCommands, DomainResources:
		default:
			return fmt.Errorf("entry %d: unknown domain %q", i, e.Domain)
		}
		if e.Name == "" {
			return fmt.Errorf("entry %d: name is required", i)
		}
	}
	return nil
}

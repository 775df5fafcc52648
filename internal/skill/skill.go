// Package skill loads the skill definitions the agent may invoke.
package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition describes one skill. Immutable once loaded.
type Definition struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Inputs      map[string]Input `yaml:"inputs"`
	Permissions []string         `yaml:"permissions"`
}

type Input struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("skill name is required")
	}
	return nil
}

// Registry holds the loaded definitions keyed by name.
type Registry struct {
	skills map[string]Definition
}

// LoadDir reads every .yaml/.yml file under dir, one definition per file.
// A missing directory yields an empty registry; duplicate names are an error.
func LoadDir(dir string) (*Registry, error) {
	registry := &Registry{skills: map[string]Definition{}}

	items, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return registry, nil
		}
		return nil, err
	}

	for _, item := range items {
		if item.IsDir() {
			continue
		}
		ext := filepath.Ext(item.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, item.Name())
		// #nosec G304 -- dir comes from operator-configured skills dir.
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var def Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse skill %s: %w", path, err)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("invalid skill %s: %w", path, err)
		}
		if _, exists := registry.skills[def.Name]; exists {
			return nil, fmt.Errorf("duplicate skill %q in %s", def.Name, path)
		}
		registry.skills[def.Name] = def
	}

	return registry, nil
}

func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.skills[name]
	return def, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

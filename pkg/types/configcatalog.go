package types

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentConfigCatalog is the on-disk YAML document seeded into the
// agent_configs table at startup: a flat list of named agent
// configuration profiles.
type AgentConfigCatalog struct {
	Configs []AgentConfigSpec `yaml:"configs"`
}

// LoadAgentConfigCatalog reads and validates a catalog file.
func LoadAgentConfigCatalog(path string) (*AgentConfigCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configcatalog: read %s: %w", path, err)
	}

	var catalog AgentConfigCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("configcatalog: parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(catalog.Configs))
	for i, spec := range catalog.Configs {
		if spec.Name == "" {
			return nil, fmt.Errorf("configcatalog: entry %d is missing a name", i)
		}
		if spec.Image == "" {
			return nil, fmt.Errorf("configcatalog: entry %q is missing an image", spec.Name)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("configcatalog: duplicate entry name %q", spec.Name)
		}
		seen[spec.Name] = true
	}

	return &catalog, nil
}

// Package loader reads topology definition files.
package loader

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tmaster/internal/domain"
)

// TopologyYAML represents the definition file structure
type TopologyYAML struct {
	ID           string          `yaml:"id"`
	Name         string          `yaml:"name"`
	InitialState string          `yaml:"initial_state,omitempty"`
	Components   []ComponentYAML `yaml:"components"`
}

// ComponentYAML represents a spout or bolt
type ComponentYAML struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Parallelism int    `yaml:"parallelism,omitempty"`
}

// LoadYAML loads a topology definition from a YAML file
func LoadYAML(path string) (*domain.Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return ParseYAML(data)
}

// ParseYAML parses a topology definition from YAML bytes
func ParseYAML(data []byte) (*domain.Topology, error) {
	var y TopologyYAML
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return convertYAMLToTopology(&y)
}

func convertYAMLToTopology(y *TopologyYAML) (*domain.Topology, error) {
	id := strings.TrimSpace(y.ID)
	if id == "" {
		return nil, fmt.Errorf("topology id is required")
	}

	name := y.Name
	if name == "" {
		name = id
	}

	// A freshly submitted topology starts running unless told otherwise.
	state := domain.TopologyStateRunning
	if y.InitialState != "" {
		parsed, err := domain.ParseTopologyState(y.InitialState)
		if err != nil {
			return nil, err
		}
		if parsed != domain.TopologyStateRunning && parsed != domain.TopologyStatePaused {
			return nil, fmt.Errorf("initial_state must be running or paused, got %q", y.InitialState)
		}
		state = parsed
	}

	topo := &domain.Topology{
		ID:    id,
		Name:  name,
		State: state,
	}

	seen := make(map[string]bool)
	for i, c := range y.Components {
		if c.Name == "" {
			return nil, fmt.Errorf("component %d: name is required", i)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("component %q defined more than once", c.Name)
		}
		seen[c.Name] = true

		kind := domain.ComponentKind(strings.ToLower(c.Kind))
		if kind != domain.ComponentKindSpout && kind != domain.ComponentKindBolt {
			return nil, fmt.Errorf("component %q: kind must be spout or bolt, got %q", c.Name, c.Kind)
		}

		parallelism := c.Parallelism
		if parallelism == 0 {
			parallelism = 1
		}
		if parallelism < 0 {
			return nil, fmt.Errorf("component %q: parallelism must be positive", c.Name)
		}

		topo.Components = append(topo.Components, domain.Component{
			Name:        c.Name,
			Kind:        kind,
			Parallelism: parallelism,
		})
	}

	return topo, nil
}

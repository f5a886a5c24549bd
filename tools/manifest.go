package tools

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tailored-agentic-units/warden/core/protocol"
	"github.com/tailored-agentic-units/warden/sandbox"
)

// ManifestTool is one sandboxed tool declared in the manifest file.
type ManifestTool struct {
	Name             string         `yaml:"name"`
	Description      string         `yaml:"description"`
	Parameters       map[string]any `yaml:"parameters"`
	RequiresApproval bool           `yaml:"requires_approval"`
	Sandbox          sandbox.Spec   `yaml:"sandbox"`
}

// Manifest is the operator-edited list of sandboxed tools.
type Manifest struct {
	Tools []ManifestTool `yaml:"tools"`
}

// ParseManifest decodes manifest YAML into definitions.
func ParseManifest(data []byte) ([]Definition, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}

	defs := make([]Definition, 0, len(m.Tools))
	seen := make(map[string]bool, len(m.Tools))
	for i, t := range m.Tools {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: tool %d has no name", ErrManifest, i)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("%w: duplicate tool %s", ErrManifest, t.Name)
		}
		if t.Sandbox.Image == "" {
			return nil, fmt.Errorf("%w: tool %s has no sandbox image", ErrManifest, t.Name)
		}
		seen[t.Name] = true

		spec := t.Sandbox
		defs = append(defs, Definition{
			Tool: protocol.Tool{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
			RequiresApproval: t.RequiresApproval,
			Sandbox:          &spec,
		})
	}
	return defs, nil
}

// LoadManifest reads and parses the manifest file at path.
func LoadManifest(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool manifest: %w", err)
	}
	return ParseManifest(data)
}

// RegisterAll registers every definition, stopping at the first failure.
func (r *Registry) RegisterAll(defs []Definition) error {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

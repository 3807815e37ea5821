// Package manifest parses and validates run manifests: the YAML file a
// caller hands to the CLI describing which dataset files to plan over
// and how the stage chain should be tuned for this run.
package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaRaw []byte

// Manifest is a validated run request.
type Manifest struct {
	Version int         `yaml:"version"`
	Name    string      `yaml:"name,omitempty"`
	Dataset DatasetSpec `yaml:"dataset"`

	// Seed is handed unmodified to the first stage.
	Seed map[string]any `yaml:"seed,omitempty"`

	Stages []StageSpec `yaml:"stages,omitempty"`
}

// DatasetSpec names the input files whose bytes define dataset
// identity.
type DatasetSpec struct {
	Paths []string `yaml:"paths"`
}

// StageSpec overrides per-stage behavior. Nil pointer fields mean "use
// the configured default".
type StageSpec struct {
	ID             string `yaml:"id"`
	Enabled        *bool  `yaml:"enabled,omitempty"`
	StripThreshold *int   `yaml:"strip_threshold,omitempty"`
}

// Stage returns the spec for id, or nil when the manifest does not
// mention it.
func (m *Manifest) Stage(id string) *StageSpec {
	for i := range m.Stages {
		if m.Stages[i].ID == id {
			return &m.Stages[i]
		}
	}
	return nil
}

// StageEnabled reports whether id should run. Stages default to
// enabled; only an explicit enabled:false switches one off.
func (m *Manifest) StageEnabled(id string) bool {
	if s := m.Stage(id); s != nil && s.Enabled != nil {
		return *s.Enabled
	}
	return true
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes YAML and validates the document against the embedded
// schema before binding it to the Manifest type.
func Parse(data []byte) (*Manifest, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("manifest is empty")
	}

	if err := validate(doc); err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// validate checks the decoded document against schema.json. The YAML
// tree goes through a JSON round trip first so the validator sees the
// types it expects.
func validate(doc any) error {
	normalized, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to normalize manifest for validation: %w", err)
	}
	var jsonDoc any
	if err := json.Unmarshal(normalized, &jsonDoc); err != nil {
		return fmt.Errorf("failed to normalize manifest for validation: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("manifest.json", bytes.NewReader(schemaRaw)); err != nil {
		return fmt.Errorf("failed to load manifest schema: %w", err)
	}
	schema, err := compiler.Compile("manifest.json")
	if err != nil {
		return fmt.Errorf("failed to compile manifest schema: %w", err)
	}
	if err := schema.Validate(jsonDoc); err != nil {
		return fmt.Errorf("manifest does not match schema: %w", err)
	}
	return nil
}

// Example returns a starter manifest suitable for writing to disk.
func Example() *Manifest {
	return &Manifest{
		Version: 1,
		Name:    "example-plan",
		Dataset: DatasetSpec{Paths: []string{"inventory/servers.json"}},
		Seed:    map[string]any{"environment": "production"},
	}
}

// WriteExample writes the starter manifest as YAML to path.
func WriteExample(path string) error {
	data, err := yaml.Marshal(Example())
	if err != nil {
		return fmt.Errorf("failed to serialize example manifest: %w", err)
	}
	header := []byte("# Infracc run manifest\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return fmt.Errorf("failed to write example manifest: %w", err)
	}
	return nil
}

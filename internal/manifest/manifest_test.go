package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validManifest = `
version: 1
name: datacenter-exit
dataset:
  paths:
    - inventory/servers.json
    - inventory/databases.json
seed:
  environment: production
stages:
  - id: cost
    enabled: false
  - id: discovery
    strip_threshold: 500
`

func TestParse_Valid(t *testing.T) {
	m, err := Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Version != 1 {
		t.Errorf("version = %d, want 1", m.Version)
	}
	if len(m.Dataset.Paths) != 2 {
		t.Errorf("paths = %v, want 2 entries", m.Dataset.Paths)
	}
	if m.Seed["environment"] != "production" {
		t.Errorf("seed not preserved: %v", m.Seed)
	}
	if m.StageEnabled("cost") {
		t.Error("cost disabled in manifest but reported enabled")
	}
	if !m.StageEnabled("discovery") {
		t.Error("discovery has no enabled flag and must default to enabled")
	}
	if !m.StageEnabled("strategy") {
		t.Error("unmentioned stage must default to enabled")
	}
	spec := m.Stage("discovery")
	if spec == nil || spec.StripThreshold == nil || *spec.StripThreshold != 500 {
		t.Errorf("discovery strip threshold not bound: %+v", spec)
	}
}

func TestParse_Rejections(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"missing dataset", "version: 1\n"},
		{"no paths", "version: 1\ndataset:\n  paths: []\n"},
		{"unknown stage id", "version: 1\ndataset:\n  paths: [a.json]\nstages:\n  - id: billing\n"},
		{"unknown top-level key", "version: 1\ndataset:\n  paths: [a.json]\nextra: true\n"},
		{"bad version", "version: 9\ndataset:\n  paths: [a.json]\n"},
		{"zero threshold", "version: 1\ndataset:\n  paths: [a.json]\nstages:\n  - id: cost\n    strip_threshold: 0\n"},
		{"not yaml", "{invalid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.doc)); err == nil {
				t.Errorf("expected rejection for %q", tc.name)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWriteExample_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	if err := WriteExample(path); err != nil {
		t.Fatalf("WriteExample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Infracc run manifest") {
		t.Error("example manifest missing its header comment")
	}
	m, err := Parse(data)
	if err != nil {
		t.Fatalf("example manifest does not validate: %v", err)
	}
	if len(m.Dataset.Paths) == 0 {
		t.Error("example manifest has no dataset paths")
	}
}

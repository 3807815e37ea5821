package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the infracc home directory.
	DefaultDirName = ".infracc"

	// CacheDirName is the subdirectory holding cached stage outputs.
	CacheDirName = "cache"

	// CheckpointDirName is the subdirectory holding progress checkpoints.
	CheckpointDirName = "checkpoints"

	// DatasetDirName is the subdirectory where uploaded dataset files are copied.
	DatasetDirName = "datasets"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the infracc home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.infracc).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// CachePath returns the path to the stage output cache directory.
func (d *Dir) CachePath() string {
	return filepath.Join(d.path, CacheDirName)
}

// CheckpointPath returns the path to the checkpoint directory.
func (d *Dir) CheckpointPath() string {
	return filepath.Join(d.path, CheckpointDirName)
}

// DatasetPath returns the directory for a dataset's copied source files.
func (d *Dir) DatasetPath(datasetID string) string {
	return filepath.Join(d.path, DatasetDirName, datasetID)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, p := range []string{d.CachePath(), d.CheckpointPath(), filepath.Join(d.path, DatasetDirName)} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

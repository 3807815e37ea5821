package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-infracc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-infracc" {
			t.Errorf("expected path /tmp/test-infracc, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-infracc")

	t.Run("CachePath", func(t *testing.T) {
		expected := "/tmp/test-infracc/cache"
		if dir.CachePath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.CachePath())
		}
	})

	t.Run("CheckpointPath", func(t *testing.T) {
		expected := "/tmp/test-infracc/checkpoints"
		if dir.CheckpointPath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.CheckpointPath())
		}
	})

	t.Run("DatasetPath", func(t *testing.T) {
		expected := "/tmp/test-infracc/datasets/abc123"
		if dir.DatasetPath("abc123") != expected {
			t.Errorf("expected %s, got %s", expected, dir.DatasetPath("abc123"))
		}
	})

	t.Run("ConfigPath", func(t *testing.T) {
		expected := "/tmp/test-infracc/config.yaml"
		if dir.ConfigPath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.ConfigPath())
		}
	})
}

func TestDir_EnsureExists(t *testing.T) {
	tmpDir := t.TempDir()
	homeDir := filepath.Join(tmpDir, "infracc-test")

	dir, err := New(homeDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dir.Exists() {
		t.Error("directory should not exist before EnsureExists")
	}

	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}

	if !dir.Exists() {
		t.Error("directory should exist after EnsureExists")
	}

	for _, p := range []string{dir.CachePath(), dir.CheckpointPath()} {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			t.Errorf("%s should exist after EnsureExists", p)
		}
	}
}

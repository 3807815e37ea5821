package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists each record as a single file under Dir.
// Keys are sanitized into filenames; a MaxBytes budget (0 = unlimited)
// makes oversized writes fail with ErrQuotaExceeded so the cache layer
// can strip and retry.
type FileStore struct {
	dir      string
	maxBytes int64
}

const fileExt = ".rec"

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string, maxBytes int64) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the store's root directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+fileExt)
}

// sanitizeKey maps a record key to a safe filename. Keys are internal
// (prefix_datasetID_stageID) so only separators need escaping.
func sanitizeKey(key string) string {
	r := strings.NewReplacer("/", "%2F", "\\", "%5C", string(os.PathSeparator), "%2F", "..", "%2E%2E")
	return r.Replace(key)
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", key, err)
	}
	return data, nil
}

func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.maxBytes > 0 {
		used, err := s.usedBytes()
		if err != nil {
			return err
		}
		// Overwrites reclaim the old file's size first.
		if prev, err := os.Stat(s.path(key)); err == nil {
			used -= prev.Size()
		}
		if used+int64(len(value)) > s.maxBytes {
			return fmt.Errorf("record %s (%d bytes): %w", key, len(value), ErrQuotaExceeded)
		}
	}

	// Write to a temp file and rename so readers never see a torn record.
	tmp, err := os.CreateTemp(s.dir, ".write-*")
	if err != nil {
		return fmt.Errorf("failed to create temp record: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write record %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close record %s: %w", key, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to store record %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove record %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list store directory: %w", err)
	}
	sanitized := sanitizeKey(prefix)
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key := strings.TrimSuffix(name, fileExt)
		if strings.HasPrefix(key, sanitized) {
			keys = append(keys, unsanitizeKey(key))
		}
	}
	return keys, nil
}

func unsanitizeKey(name string) string {
	r := strings.NewReplacer("%2E%2E", "..", "%5C", "\\", "%2F", "/")
	return r.Replace(name)
}

func (s *FileStore) usedBytes() (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to size store directory: %w", err)
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

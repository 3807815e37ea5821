// Package dataset derives content-addressed identities for uploaded
// billing/inventory datasets. The identity is the cache namespace for
// an entire pipeline run: same bytes, same id, across reloads.
package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// ErrNoContent is returned when no dataset bytes can be read.
var ErrNoContent = errors.New("dataset has no readable content")

// ID identifies one pipeline run. It is a hex-encoded content hash of
// the dataset bytes, independent of filenames and timestamps.
type ID string

// File is one uploaded dataset file. Only Data participates in the
// identity; Name is kept for diagnostics.
type File struct {
	Name string
	Data []byte
}

// Identify computes the dataset identity from one or more files.
// The hash covers the concatenated file contents in a stable order so
// multi-file uploads produce the same id regardless of upload order.
func Identify(files ...File) (ID, error) {
	ordered := make([]File, len(files))
	copy(ordered, files)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	h := sha256.New()
	total := 0
	for _, f := range ordered {
		h.Write(f.Data)
		total += len(f.Data)
	}
	if total == 0 {
		return "", ErrNoContent
	}
	return ID(hex.EncodeToString(h.Sum(nil))), nil
}

// IdentifyPaths computes the dataset identity by streaming files from
// disk, so large datasets are never loaded fully into memory.
func IdentifyPaths(paths ...string) (ID, error) {
	ordered := make([]string, len(paths))
	copy(ordered, paths)
	sort.Strings(ordered)

	h := sha256.New()
	var total int64
	for _, p := range ordered {
		f, err := os.Open(p)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoContent, err)
		}
		n, err := io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoContent, err)
		}
		total += n
	}
	if total == 0 {
		return "", ErrNoContent
	}
	return ID(hex.EncodeToString(h.Sum(nil))), nil
}

// String returns the id as a plain string.
func (id ID) String() string { return string(id) }

// Short returns a truncated id for log lines.
func (id ID) Short() string {
	if len(id) <= 12 {
		return string(id)
	}
	return string(id[:12])
}

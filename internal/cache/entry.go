// Package cache maps (datasetID, stageID) to a stage's cached output in
// the durable record store. Entries are versioned, verified after every
// write, and defended against unbounded growth by stripping oversized
// collections while always preserving their counts. This is a
// deliberately lossy cache: a stage that needs a stripped collection at
// full size re-derives it from the source of truth.
package cache

import (
	"fmt"
	"time"

	"github.com/asmeyatsky/infracc-sub002/internal/dataset"
)

// FormatVersion is the current cache entry format. Entries stored with
// a different version are treated as absent and deleted on read.
const FormatVersion = 2

// keyPrefix namespaces every engine record in the shared store.
const keyPrefix = "infracc"

// Key returns the store key for a stage's cached output.
func Key(datasetID dataset.ID, stageID string) string {
	return fmt.Sprintf("%s_%s_%s", keyPrefix, datasetID, stageID)
}

// StateKey returns the store key for a dataset's pipeline state.
func StateKey(datasetID dataset.ID) string {
	return fmt.Sprintf("%s_%s_pipeline_state", keyPrefix, datasetID)
}

// DatasetPrefix returns the key prefix covering every record of one
// dataset.
func DatasetPrefix(datasetID dataset.ID) string {
	return fmt.Sprintf("%s_%s_", keyPrefix, datasetID)
}

// Metadata describes how an entry was stored.
type Metadata struct {
	CreatedAt time.Time      `json:"created_at"`
	Stripped  bool           `json:"stripped"`
	Counts    map[string]int `json:"counts,omitempty"`
}

// Entry is the persisted envelope for one stage output.
type Entry struct {
	Version   int            `json:"version"`
	DatasetID string         `json:"dataset_id"`
	StageID   string         `json:"stage_id"`
	Output    map[string]any `json:"output"`
	Metadata  Metadata       `json:"metadata"`
}

// valid reports whether a loaded entry belongs to the lookup key and
// the current format generation.
func (e *Entry) valid(datasetID dataset.ID, stageID string) bool {
	return e.Version == FormatVersion && e.DatasetID == string(datasetID) && e.StageID == stageID
}

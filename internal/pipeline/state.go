package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/asmeyatsky/infracc-sub002/internal/cache"
	"github.com/asmeyatsky/infracc-sub002/internal/dataset"
	"github.com/asmeyatsky/infracc-sub002/internal/store"
)

// Status is the pipeline lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Resumable reports whether the status allows another Advance.
// failed and cancelled resume at the same (or an earlier) stage index;
// completed is terminal unless explicitly rerun.
func (s Status) Resumable() bool {
	return s == StatusPending || s == StatusFailed || s == StatusCancelled
}

// State is the persisted pipeline position for one dataset.
type State struct {
	DatasetID         string    `json:"dataset_id"`
	RunID             string    `json:"run_id"`
	CurrentStageIndex int       `json:"current_stage_index"`
	OverallProgress   int       `json:"overall_progress"`
	StageProgress     int       `json:"stage_progress"`
	Status            Status    `json:"status"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// LoadState restores a dataset's persisted pipeline state without
// constructing a Machine. Status inspection uses it.
func LoadState(ctx context.Context, rs store.RecordStore, datasetID dataset.ID) (*State, error) {
	return loadState(ctx, rs, datasetID)
}

// loadState restores a dataset's persisted pipeline state, or nil when
// none exists or the stored record belongs to a different dataset.
func loadState(ctx context.Context, rs store.RecordStore, datasetID dataset.ID) (*State, error) {
	data, err := rs.Get(ctx, cache.StateKey(datasetID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || store.IsQuota(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load pipeline state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, nil
	}
	if st.DatasetID != string(datasetID) {
		return nil, nil
	}
	return &st, nil
}

// saveState persists the pipeline state record.
func saveState(ctx context.Context, rs store.RecordStore, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode pipeline state: %w", err)
	}
	if err := rs.Set(ctx, cache.StateKey(dataset.ID(st.DatasetID)), data); err != nil {
		return fmt.Errorf("failed to persist pipeline state: %w", err)
	}
	return nil
}

// clearState removes the persisted pipeline state record.
func clearState(ctx context.Context, rs store.RecordStore, datasetID dataset.ID) error {
	return rs.Remove(ctx, cache.StateKey(datasetID))
}

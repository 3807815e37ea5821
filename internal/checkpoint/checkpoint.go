// Package checkpoint persists lightweight pipeline-position snapshots,
// redundantly, so progress survives a crash even when the main cache
// write never happened. Checkpoints record where the pipeline is, not
// what each stage produced.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/asmeyatsky/infracc-sub002/internal/dataset"
	"github.com/asmeyatsky/infracc-sub002/internal/store"
)

// Checkpoint is one progress snapshot.
type Checkpoint struct {
	DatasetID  string    `json:"dataset_id"`
	StageID    string    `json:"stage_id"`
	StageIndex int       `json:"stage_index"`
	Progress   int       `json:"progress"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
}

// Service writes checkpoints to two independent backends: a primary
// store and a simpler fallback. One write succeeding is enough; reads
// prefer the primary.
type Service struct {
	primary  store.RecordStore
	fallback store.RecordStore
	logger   *slog.Logger
}

// New creates a Service. fallback may be nil, in which case redundancy
// is disabled.
func New(primary, fallback store.RecordStore, logger *slog.Logger) (*Service, error) {
	if primary == nil {
		return nil, fmt.Errorf("checkpoint service requires a primary store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{primary: primary, fallback: fallback, logger: logger}, nil
}

func key(datasetID dataset.ID) string {
	return fmt.Sprintf("infracc_ckpt_%s", datasetID)
}

func stageKey(datasetID dataset.ID, stageID string) string {
	return fmt.Sprintf("infracc_ckpt_%s_%s", datasetID, stageID)
}

// Save persists cp under both the dataset key and the stage key, in
// both backends. It fails only when every write fails.
func (s *Service) Save(ctx context.Context, cp Checkpoint) error {
	if cp.At.IsZero() {
		cp.At = time.Now().UTC()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	keys := []string{key(dataset.ID(cp.DatasetID))}
	if cp.StageID != "" {
		keys = append(keys, stageKey(dataset.ID(cp.DatasetID), cp.StageID))
	}

	wrote := false
	var lastErr error
	for _, k := range keys {
		if err := s.primary.Set(ctx, k, data); err != nil {
			s.logger.Warn("primary checkpoint write failed", "key", k, "error", err)
			lastErr = err
		} else {
			wrote = true
		}
		if s.fallback == nil {
			continue
		}
		if err := s.fallback.Set(ctx, k, data); err != nil {
			s.logger.Warn("fallback checkpoint write failed", "key", k, "error", err)
			lastErr = err
		} else {
			wrote = true
		}
	}
	if !wrote {
		return fmt.Errorf("checkpoint write failed on all backends: %w", lastErr)
	}
	return nil
}

// Last returns the most recent checkpoint for a dataset, or nil when
// none exists. The primary store is preferred; the fallback covers a
// failed or unavailable primary.
func (s *Service) Last(ctx context.Context, datasetID dataset.ID) (*Checkpoint, error) {
	return s.load(ctx, key(datasetID))
}

// LastForStage returns the most recent checkpoint recorded for one
// stage of a dataset, or nil.
func (s *Service) LastForStage(ctx context.Context, datasetID dataset.ID, stageID string) (*Checkpoint, error) {
	return s.load(ctx, stageKey(datasetID, stageID))
}

func (s *Service) load(ctx context.Context, k string) (*Checkpoint, error) {
	stores := []store.RecordStore{s.primary}
	if s.fallback != nil {
		stores = append(stores, s.fallback)
	}
	for i, st := range stores {
		data, err := st.Get(ctx, k)
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			s.logger.Warn("undecodable checkpoint ignored", "key", k, "store_index", i)
			continue
		}
		return &cp, nil
	}
	return nil, nil
}

// Clear removes a dataset's checkpoints from both backends.
func (s *Service) Clear(ctx context.Context, datasetID dataset.ID, stageIDs []string) error {
	keys := []string{key(datasetID)}
	for _, id := range stageIDs {
		keys = append(keys, stageKey(datasetID, id))
	}
	var firstErr error
	for _, k := range keys {
		if err := s.primary.Remove(ctx, k); err != nil && firstErr == nil {
			firstErr = err
		}
		if s.fallback != nil {
			if err := s.fallback.Remove(ctx, k); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SnapshotFunc supplies the current checkpoint; ok=false skips a tick
// (the pipeline is not running).
type SnapshotFunc func() (Checkpoint, bool)

// RunPeriodic writes a checkpoint every interval until ctx is
// cancelled. A page-reload mid-stage can then still report the last
// known progress even though the stage re-executes from scratch.
func (s *Service) RunPeriodic(ctx context.Context, interval time.Duration, snapshot SnapshotFunc) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cp, ok := snapshot()
			if !ok {
				continue
			}
			if err := s.Save(ctx, cp); err != nil {
				s.logger.Warn("periodic checkpoint failed", "dataset", cp.DatasetID, "error", err)
			}
		}
	}
}

package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/asmeyatsky/infracc-sub002/internal/dataset"
	"github.com/asmeyatsky/infracc-sub002/internal/store"
)

// ThresholdFunc returns the stripping threshold for a stage id.
type ThresholdFunc func(stageID string) int

// PressureFunc reports whether the session is under memory pressure, in
// which case reads are stripped even without the Lightweight option.
type PressureFunc func() bool

// Options configures a Cache.
type Options struct {
	// Threshold supplies per-stage stripping thresholds. Required.
	Threshold ThresholdFunc

	// MaxPutAttempts bounds the write-then-verify loop (default 3).
	MaxPutAttempts int

	// Pressure is optional; nil means never under pressure.
	Pressure PressureFunc

	Logger *slog.Logger
}

// Cache is the stage output cache. It is the single writer of entry
// records; a (datasetID, stageID) pair is only rewritten by a rerun.
type Cache struct {
	store       store.RecordStore
	threshold   ThresholdFunc
	pressure    PressureFunc
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Cache over the given record store.
func New(rs store.RecordStore, opts Options) (*Cache, error) {
	if rs == nil {
		return nil, fmt.Errorf("cache requires a record store")
	}
	if opts.Threshold == nil {
		return nil, fmt.Errorf("cache requires a threshold function")
	}
	maxAttempts := opts.MaxPutAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:       rs,
		threshold:   opts.Threshold,
		pressure:    opts.Pressure,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Put stores a stage output, stripping oversized collections first,
// then reads the entry back to verify durability. Verification failures
// are retried up to the configured bound; a quota failure forces the
// stripping policy below threshold and retries once more.
func (c *Cache) Put(ctx context.Context, datasetID dataset.ID, stageID string, output map[string]any) error {
	stripped, counts, wasStripped := stripRecord(output, c.threshold(stageID), false)
	if wasStripped {
		c.logger.Info("stripping oversized collections before persist",
			"dataset", datasetID.Short(), "stage", stageID, "counts", counts)
	}

	err := c.putEntry(ctx, datasetID, stageID, stripped, counts, wasStripped)
	if err == nil {
		return nil
	}
	if !store.IsQuota(err) {
		return err
	}

	// Quota failure: force stripping regardless of thresholds and try
	// once more with the minimal payload.
	forced, forcedCounts, _ := stripRecord(output, 0, true)
	c.logger.Warn("storage quota exceeded, forcing stripped persist",
		"dataset", datasetID.Short(), "stage", stageID)
	if err := c.putEntry(ctx, datasetID, stageID, forced, forcedCounts, true); err != nil {
		return fmt.Errorf("stage %s output could not be persisted even stripped: %w", stageID, err)
	}
	return nil
}

func (c *Cache) putEntry(ctx context.Context, datasetID dataset.ID, stageID string, output map[string]any, counts map[string]int, stripped bool) error {
	entry := Entry{
		Version:   FormatVersion,
		DatasetID: string(datasetID),
		StageID:   stageID,
		Output:    output,
		Metadata: Metadata{
			CreatedAt: c.now().UTC(),
			Stripped:  stripped,
			Counts:    counts,
		},
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	key := Key(datasetID, stageID)
	return retry.Do(
		func() error {
			if err := c.store.Set(ctx, key, data); err != nil {
				return err
			}
			// Immediate read-back: a write the store acknowledged but
			// cannot return is treated as not written.
			got, err := c.store.Get(ctx, key)
			if err != nil {
				return fmt.Errorf("write verification read failed: %w", err)
			}
			if !bytes.Equal(got, data) {
				return fmt.Errorf("write verification mismatch for %s", key)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxAttempts)),
		retry.Delay(10*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// Quota failures are handled by forced stripping, not by
			// re-writing the same oversized payload.
			return !store.IsQuota(err)
		}),
	)
}

// GetOptions configures a read.
type GetOptions struct {
	// Lightweight re-applies the stripping policy to the in-memory
	// copy before returning it. The persisted entry is not mutated.
	Lightweight bool
}

// Get returns the cached output for (datasetID, stageID), or nil on a
// miss. A version or dataset-id mismatch deletes the corrupt entry and
// reads as a miss. Read failures attributable to size or quota also
// read as a miss: the full-size object is unrecoverable by definition.
func (c *Cache) Get(ctx context.Context, datasetID dataset.ID, stageID string, opts GetOptions) (map[string]any, error) {
	key := Key(datasetID, stageID)
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if store.IsQuota(err) {
			c.logger.Warn("cache entry unreadable at full size, treating as miss",
				"dataset", datasetID.Short(), "stage", stageID, "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.heal(ctx, key, datasetID, stageID, "undecodable entry")
		return nil, nil
	}
	if !entry.valid(datasetID, stageID) {
		c.heal(ctx, key, datasetID, stageID,
			fmt.Sprintf("version %d / dataset %s mismatch", entry.Version, entry.DatasetID))
		return nil, nil
	}

	output := entry.Output
	if opts.Lightweight || (c.pressure != nil && c.pressure()) {
		if stripped, counts, was := stripRecord(output, c.threshold(stageID), false); was {
			c.logger.Debug("returning lightweight copy", "stage", stageID, "counts", counts)
			output = stripped
		}
	}
	return output, nil
}

// heal deletes a corrupt entry so the stage re-executes cleanly.
// Corruption is self-healed here and never surfaced to the caller.
func (c *Cache) heal(ctx context.Context, key string, datasetID dataset.ID, stageID, reason string) {
	c.logger.Warn("deleting corrupt cache entry",
		"dataset", datasetID.Short(), "stage", stageID, "reason", reason)
	if err := c.store.Remove(ctx, key); err != nil {
		c.logger.Warn("failed to delete corrupt cache entry", "key", key, "error", err)
	}
}

// Has reports whether a valid entry exists for (datasetID, stageID).
func (c *Cache) Has(ctx context.Context, datasetID dataset.ID, stageID string) (bool, error) {
	out, err := c.Get(ctx, datasetID, stageID, GetOptions{Lightweight: true})
	if err != nil {
		return false, err
	}
	return out != nil, nil
}

// Remove deletes the entry for (datasetID, stageID).
func (c *Cache) Remove(ctx context.Context, datasetID dataset.ID, stageID string) error {
	return c.store.Remove(ctx, Key(datasetID, stageID))
}

// Meta returns the stored metadata for an entry, or nil on a miss.
func (c *Cache) Meta(ctx context.Context, datasetID dataset.ID, stageID string) (*Metadata, error) {
	data, err := c.store.Get(ctx, Key(datasetID, stageID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || store.IsQuota(err) {
			return nil, nil
		}
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || !entry.valid(datasetID, stageID) {
		return nil, nil
	}
	return &entry.Metadata, nil
}

// PresentStages reports which of the given stage ids have valid cached
// entries for the dataset, preserving the input order. The state
// machine uses this to validate resume points.
func (c *Cache) PresentStages(ctx context.Context, datasetID dataset.ID, stageIDs []string) ([]string, error) {
	var present []string
	for _, id := range stageIDs {
		ok, err := c.Has(ctx, datasetID, id)
		if err != nil {
			return nil, err
		}
		if ok {
			present = append(present, id)
		}
	}
	return present, nil
}

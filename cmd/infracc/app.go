package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/asmeyatsky/infracc-sub002/internal/cache"
	"github.com/asmeyatsky/infracc-sub002/internal/checkpoint"
	"github.com/asmeyatsky/infracc-sub002/internal/config"
	"github.com/asmeyatsky/infracc-sub002/internal/dataset"
	"github.com/asmeyatsky/infracc-sub002/internal/home"
	"github.com/asmeyatsky/infracc-sub002/internal/manifest"
	"github.com/asmeyatsky/infracc-sub002/internal/pipeline"
	"github.com/asmeyatsky/infracc-sub002/internal/stages"
	"github.com/asmeyatsky/infracc-sub002/internal/store"
)

// app wires the home directory, configuration, and backing stores for
// one command invocation.
type app struct {
	home   *home.Dir
	cfg    *config.Manager
	logger *slog.Logger

	// records holds stage output entries and pipeline state.
	records store.RecordStore
	// states reads pipeline position through the storage fallback
	// chain; writes land in the cache store.
	states store.RecordStore
	// checkpoints is the dual-store checkpoint service.
	checkpoints *checkpoint.Service
}

func newApp() (*app, error) {
	dir, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := dir.EnsureExists(); err != nil {
		return nil, err
	}

	cfgPath := cfgFile
	if cfgPath == "" && dir.ConfigExists() {
		cfgPath = dir.ConfigPath()
	}
	cm, err := config.NewManager(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	cacheStore, err := store.NewFileStore(dir.CachePath(), cm.Get().Store.QuotaBytes)
	if err != nil {
		return nil, err
	}
	ckptStore, err := store.NewFileStore(dir.CheckpointPath(), 0)
	if err != nil {
		return nil, err
	}
	// Fallback keeps checkpoints flowing when the primary is full or
	// unwritable; they are best effort by design.
	ckpts, err := checkpoint.New(ckptStore, store.NewMemoryStore(), logger)
	if err != nil {
		return nil, err
	}

	return &app{
		home:    dir,
		cfg:     cm,
		logger:  logger,
		records: cacheStore,
		// State records are mirrored into the checkpoint store, so a
		// wiped cache directory still answers status reads.
		states:      store.NewChain(logger, cacheStore, ckptStore),
		checkpoints: ckpts,
	}, nil
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// buildMachine assembles the full pipeline for a dataset. A manifest
// may disable stages and override per-stage strip thresholds.
func (a *app) buildMachine(ctx context.Context, datasetID dataset.ID, seed map[string]any, m *manifest.Manifest) (*pipeline.Machine, error) {
	cfg := a.cfg.Get()

	threshold := func(stageID string) int {
		if m != nil {
			if spec := m.Stage(stageID); spec != nil && spec.StripThreshold != nil {
				return *spec.StripThreshold
			}
		}
		return cfg.StripThreshold(stageID)
	}

	stageCache, err := cache.New(a.records, cache.Options{
		Threshold:      threshold,
		MaxPutAttempts: cfg.Cache.MaxPutAttempts,
		Pressure:       func() bool { return cfg.Cache.MemoryPressure },
		Logger:         a.logger,
	})
	if err != nil {
		return nil, err
	}

	chain := stages.Chain(stages.Config{
		TransformChunkSize: cfg.Pipeline.TransformChunkSize,
		ServiceChunkSize:   cfg.Pipeline.ServiceChunkSize,
	})
	if m != nil {
		enabled := chain[:0]
		for _, s := range chain {
			if m.StageEnabled(s.ID()) {
				enabled = append(enabled, s)
			}
		}
		chain = enabled
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("manifest disables every stage")
	}

	return pipeline.New(ctx, pipeline.Options{
		DatasetID:          datasetID,
		Stages:             chain,
		Seed:               seed,
		Cache:              stageCache,
		Checkpoints:        a.checkpoints,
		States:             a.states,
		Logger:             a.logger,
		CheckpointInterval: time.Duration(cfg.Pipeline.CheckpointIntervalSeconds) * time.Second,
	})
}

// loadSeed reads the dataset files into the seed record. Files hold
// parsed billing rows as JSON, either a bare array or {"records": [...]}.
func loadSeed(paths []string) (map[string]any, error) {
	var records []any
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read dataset file: %w", err)
		}
		rows, err := parseRecords(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		records = append(records, rows...)
	}
	return map[string]any{"records": records}, nil
}

func parseRecords(data []byte) ([]any, error) {
	var list []any
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Records []any `json:"records"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Records != nil {
		return wrapped.Records, nil
	}
	return nil, fmt.Errorf("not a JSON array of records")
}

// archiveDataset copies the source files into the home datasets
// directory so the source of truth outlives the originals; stripped
// cache entries are re-derived from it.
func (a *app) archiveDataset(datasetID dataset.ID, paths []string) error {
	dir := a.home.DatasetPath(datasetID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		dst := filepath.Join(dir, filepath.Base(p))
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

var datasetIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// resolveDataset accepts either a literal dataset id or a list of
// dataset files to identify.
func resolveDataset(args []string) (dataset.ID, error) {
	if len(args) == 1 && datasetIDPattern.MatchString(args[0]) {
		return dataset.ID(args[0]), nil
	}
	return dataset.IdentifyPaths(args...)
}

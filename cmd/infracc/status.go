package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/asmeyatsky/infracc-sub002/internal/cache"
	"github.com/asmeyatsky/infracc-sub002/internal/output"
	"github.com/asmeyatsky/infracc-sub002/internal/pipeline"
	"github.com/asmeyatsky/infracc-sub002/internal/stages"
)

var statusCmd = &cobra.Command{
	Use:   "status <dataset-id | files...>",
	Short: "Show pipeline position and cached stages for a dataset",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasetID, err := resolveDataset(args)
		if err != nil {
			return err
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := pipeline.LoadState(ctx, a.states, datasetID)
		if err != nil {
			return err
		}

		stageCache, err := cache.New(a.records, cache.Options{
			Threshold: a.cfg.Get().StripThreshold,
			Logger:    a.logger,
		})
		if err != nil {
			return err
		}
		known := []string{stages.StageDiscovery, stages.StageAssessment, stages.StageStrategy, stages.StageCost}
		present, err := stageCache.PresentStages(ctx, datasetID, known)
		if err != nil {
			return err
		}

		report := statusReport{
			DatasetID:    datasetID.String(),
			CachedStages: present,
		}
		if st != nil {
			report.RunID = st.RunID
			report.Status = string(st.Status)
			report.CurrentStageIndex = st.CurrentStageIndex
			report.OverallProgress = st.OverallProgress
			report.UpdatedAt = st.UpdatedAt
		} else {
			report.Status = "no run recorded"
		}
		if cp, err := a.checkpoints.Last(ctx, datasetID); err == nil && cp != nil {
			report.LastCheckpoint = &checkpointReport{
				StageID:  cp.StageID,
				Progress: cp.Progress,
				At:       cp.At,
			}
		}
		return output.Print(report)
	},
}

type statusReport struct {
	DatasetID         string            `json:"dataset_id" yaml:"dataset_id"`
	RunID             string            `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Status            string            `json:"status" yaml:"status"`
	CurrentStageIndex int               `json:"current_stage_index" yaml:"current_stage_index"`
	OverallProgress   int               `json:"overall_progress" yaml:"overall_progress"`
	CachedStages      []string          `json:"cached_stages" yaml:"cached_stages"`
	UpdatedAt         time.Time         `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	LastCheckpoint    *checkpointReport `json:"last_checkpoint,omitempty" yaml:"last_checkpoint,omitempty"`
}

type checkpointReport struct {
	StageID  string    `json:"stage_id" yaml:"stage_id"`
	Progress int       `json:"progress" yaml:"progress"`
	At       time.Time `json:"at" yaml:"at"`
}

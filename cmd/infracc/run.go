package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asmeyatsky/infracc-sub002/internal/dataset"
	"github.com/asmeyatsky/infracc-sub002/internal/manifest"
	"github.com/asmeyatsky/infracc-sub002/internal/output"
	"github.com/asmeyatsky/infracc-sub002/internal/pipeline"
	"github.com/asmeyatsky/infracc-sub002/internal/stages"
)

var (
	runManifestPath string
	runFull         bool
)

var runCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "Run the migration-planning pipeline over a dataset",
	Long: `Run executes the stage chain over the given dataset files. The dataset
is identified by its content, so re-running with unchanged files reuses
every cached stage output. Interrupt the run and start it again to
resume from the last completed stage.

Dataset files may also come from a manifest (--manifest), which can
additionally disable stages and override strip thresholds.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var m *manifest.Manifest
		paths := args
		if runManifestPath != "" {
			var err error
			m, err = manifest.Load(runManifestPath)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				paths = m.Dataset.Paths
			}
		}
		if len(paths) == 0 {
			return fmt.Errorf("no dataset files: pass them as arguments or via --manifest")
		}

		datasetID, err := dataset.IdentifyPaths(paths...)
		if err != nil {
			return err
		}
		seed, err := loadSeed(paths)
		if err != nil {
			return err
		}
		if m != nil && m.Seed != nil {
			for k, v := range m.Seed {
				if k != "records" {
					seed[k] = v
				}
			}
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.archiveDataset(datasetID, paths); err != nil {
			a.logger.Warn("failed to archive dataset files", "error", err)
		}
		machine, err := a.buildMachine(cmd.Context(), datasetID, seed, m)
		if err != nil {
			return err
		}

		result, err := machine.Run(cmd.Context())
		if err != nil {
			return err
		}
		if runFull {
			return output.Print(result)
		}
		return output.Print(summarize(result))
	},
}

func init() {
	runCmd.Flags().StringVar(&runManifestPath, "manifest", "", "run manifest file")
	runCmd.Flags().BoolVar(&runFull, "full", false, "print full stage outputs instead of the summary")
}

// summary condenses the aggregate for terminal output.
type summary struct {
	DatasetID string         `json:"dataset_id" yaml:"dataset_id"`
	RunID     string         `json:"run_id" yaml:"run_id"`
	Stages    []stageSummary `json:"stages" yaml:"stages"`
	Skipped   []string       `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

type stageSummary struct {
	Stage          string  `json:"stage" yaml:"stage"`
	Records        int     `json:"records" yaml:"records"`
	MonthlySavings float64 `json:"monthly_savings,omitempty" yaml:"monthly_savings,omitempty"`
}

// countFields are the per-stage record counters that survive stripping.
var countFields = []string{"workloadsCount", "assessmentsCount", "planItemsCount", "estimatesCount"}

func summarize(result *pipeline.Result) summary {
	s := summary{
		DatasetID: result.DatasetID,
		RunID:     result.RunID,
		Skipped:   result.Skipped,
	}
	order := []string{stages.StageDiscovery, stages.StageAssessment, stages.StageStrategy, stages.StageCost}
	for _, stageID := range order {
		out, ok := result.Stages[stageID]
		if !ok {
			continue
		}
		entry := stageSummary{Stage: stageID}
		for _, field := range countFields {
			if n, ok := out[field].(float64); ok {
				entry.Records = int(n)
				break
			}
		}
		if savings, ok := out["monthlySavingsTotal"].(float64); ok {
			entry.MonthlySavings = savings
		}
		s.Stages = append(s.Stages, entry)
	}
	return s
}

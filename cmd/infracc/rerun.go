package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asmeyatsky/infracc-sub002/internal/dataset"
	"github.com/asmeyatsky/infracc-sub002/internal/output"
)

var (
	rerunKeepDependents bool
	rerunNoExecute      bool
)

var rerunCmd = &cobra.Command{
	Use:   "rerun <stage> <files...>",
	Short: "Invalidate a stage's cached output and run the pipeline again",
	Long: `Rerun removes the cached output for the named stage and, unless
--keep-dependents is set, for every later stage as well (later stages
consumed the invalidated output). The pipeline then re-executes from the
cleared stage; earlier stages keep their cache entries.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stageID := args[0]
		paths := args[1:]

		datasetID, err := dataset.IdentifyPaths(paths...)
		if err != nil {
			return err
		}
		seed, err := loadSeed(paths)
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		machine, err := a.buildMachine(cmd.Context(), datasetID, seed, nil)
		if err != nil {
			return err
		}

		if err := machine.Rerun(cmd.Context(), stageID, !rerunKeepDependents); err != nil {
			return err
		}
		if rerunNoExecute {
			fmt.Printf("cleared %s for dataset %s\n", stageID, datasetID.Short())
			return nil
		}

		result, err := machine.Run(cmd.Context())
		if err != nil {
			return err
		}
		return output.Print(summarize(result))
	},
}

func init() {
	rerunCmd.Flags().BoolVar(&rerunKeepDependents, "keep-dependents", false, "keep cached outputs of later stages")
	rerunCmd.Flags().BoolVar(&rerunNoExecute, "no-execute", false, "only clear the cache, do not re-run")
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asmeyatsky/infracc-sub002/internal/dataset"
)

var resetCmd = &cobra.Command{
	Use:   "reset <files...>",
	Short: "Discard all cached outputs, state, and checkpoints for a dataset",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasetID, err := dataset.IdentifyPaths(args...)
		if err != nil {
			return err
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		machine, err := a.buildMachine(cmd.Context(), datasetID, nil, nil)
		if err != nil {
			return err
		}
		if err := machine.Reset(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("reset dataset %s\n", datasetID.Short())
		return nil
	},
}

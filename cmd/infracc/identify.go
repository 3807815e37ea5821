package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/asmeyatsky/infracc-sub002/internal/dataset"
	"github.com/asmeyatsky/infracc-sub002/internal/output"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <files...>",
	Short: "Print the content-derived dataset id for a set of files",
	Long: `Identify computes the dataset id: a digest of the files' bytes,
independent of file order. The same content always maps to the same id,
which is what ties cached stage outputs to their input data.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := dataset.IdentifyPaths(args...)
		if err != nil {
			return err
		}
		var totalBytes int64
		for _, path := range args {
			if info, err := os.Stat(path); err == nil {
				totalBytes += info.Size()
			}
		}
		return output.Print(map[string]any{
			"dataset_id": id.String(),
			"short":      id.Short(),
			"files":      len(args),
			"bytes":      totalBytes,
		})
	},
}

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"askscraper/pkg/config"
	"askscraper/pkg/logger"
	"askscraper/pkg/storage"
)

var exportOut string

// exportCmd rebuilds the deduplicated dataset without crawling
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Rebuild the deduplicated JSONL export from the dataset",
	Long: `Read the append-only dataset and write a deduplicated JSONL file,
keeping the latest record per post id. No network access is performed.`,
	Example: `  # Export to the default location under the data directory
  askscraper export

  # Export to a specific file
  askscraper export --out /tmp/posts.jsonl`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile, globalFlags())
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := logger.Initialize(&cfg.Logging); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		store, err := storage.NewManager(cfg.Output.DataDir, cfg.Output.DatasetFile)
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = filepath.Join(cfg.Output.DataDir, "export.jsonl")
		}

		count, err := store.Export(out)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "exported %d posts to %s\n", count, out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default: <data-dir>/export.jsonl)")
}

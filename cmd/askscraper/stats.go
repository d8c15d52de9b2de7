package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"askscraper/pkg/checkpoint"
	"askscraper/pkg/config"
	"askscraper/pkg/logger"
	"askscraper/pkg/seenset"
	"askscraper/pkg/storage"
)

// statsCmd summarizes what has been harvested so far
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dataset and checkpoint statistics",
	Args:  cobra.NoArgs,
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
		stats, err := store.Stats()
		if err != nil {
			return err
		}

		seen, err := seenset.Load(filepath.Join(cfg.Output.DataDir, "seen_ids.txt"))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Data directory:   %s\n", cfg.Output.DataDir)
		fmt.Fprintf(out, "Dataset records:  %d\n", stats.DatasetRecords)
		fmt.Fprintf(out, "Unique posts:     %d\n", stats.UniquePosts)
		fmt.Fprintf(out, "Post files:       %d\n", stats.PostFiles)
		fmt.Fprintf(out, "Total comments:   %d\n", stats.TotalComments)
		fmt.Fprintf(out, "Seen digests:     %d\n", seen.Len())

		ckStore, err := checkpoint.NewStore(filepath.Join(cfg.Output.DataDir, "checkpoint.json"))
		if err != nil {
			return err
		}
		cp, err := ckStore.Load()
		if err != nil {
			return fmt.Errorf("checkpoint unreadable: %w", err)
		}
		if cp == nil {
			fmt.Fprintln(out, "Checkpoint:       none")
			return nil
		}
		fmt.Fprintf(out, "Checkpoint:       post %d at %q, %d scraped, last run %s\n",
			cp.LastPostID, cp.LastPostTime, cp.TotalPostsScraped,
			cp.LastRunTime.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

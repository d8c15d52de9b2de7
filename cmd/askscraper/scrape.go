package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"askscraper/pkg/checkpoint"
	"askscraper/pkg/config"
	"askscraper/pkg/crawler"
	"askscraper/pkg/logger"
	"askscraper/pkg/monitor"
	"askscraper/pkg/ratelimit"
	"askscraper/pkg/seenset"
	"askscraper/pkg/source"
	"askscraper/pkg/storage"
)

var (
	// Scrape command flags
	crawlMode            string
	startDate            string
	maxPages             int
	maxPosts             int
	qps                  float64
	burst                int
	exportDataset        bool
	headless             bool
	includeUnparsedDates bool
)

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Harvest posts into the local dataset",
	Long: `Run one crawl against the forum and append every new post to the
dataset.

Full mode pages through the listing from the newest post until an empty
page, the start-date boundary or the page cap. Incremental mode resumes
from the saved checkpoint and stops as soon as a page yields nothing new.
Interrupting the run with Ctrl-C leaves the dataset, seen set and
checkpoint consistent; the next run picks up where this one stopped.`,
	Example: `  # Full crawl with defaults
  askscraper scrape

  # Incremental run since the last checkpoint
  askscraper scrape --mode incremental

  # Bounded harvest: nothing older than June, at most 200 posts
  askscraper scrape --start-date 2026-06-01 --max-posts 200

  # Gentler pacing
  askscraper scrape --qps 0.2 --burst 1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScrape(cmd)
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().StringVar(&crawlMode, "mode", "", "crawl mode: full or incremental")
	scrapeCmd.Flags().StringVar(&startDate, "start-date", "", "inclusive lower date bound (YYYY-MM-DD)")
	scrapeCmd.Flags().IntVar(&maxPages, "max-pages", -1, "maximum listing pages to visit (0 = unbounded)")
	scrapeCmd.Flags().IntVar(&maxPosts, "max-posts", -1, "maximum posts to accept this run (0 = unbounded)")
	scrapeCmd.Flags().Float64Var(&qps, "qps", 0, "target request rate in requests per second")
	scrapeCmd.Flags().IntVar(&burst, "burst", 0, "rate limiter burst allowance")
	scrapeCmd.Flags().BoolVar(&exportDataset, "export", true, "rebuild the deduplicated export after the run")
	scrapeCmd.Flags().BoolVar(&headless, "headless", true, "pass-through toggle for rendering-proxy deployments")
	scrapeCmd.Flags().BoolVar(&includeUnparsedDates, "include-unparsed-dates", false, "keep posts whose publish time cannot be parsed")
}

func runScrape(cmd *cobra.Command) error {
	flags := globalFlags()
	if crawlMode != "" {
		flags["mode"] = crawlMode
	}
	if startDate != "" {
		flags["start-date"] = startDate
	}
	if maxPages >= 0 {
		flags["max-pages"] = maxPages
	}
	if maxPosts >= 0 {
		flags["max-posts"] = maxPosts
	}
	if qps > 0 {
		flags["qps"] = qps
	}
	if burst > 0 {
		flags["burst"] = burst
	}
	if cmd.Flags().Changed("export") {
		flags["export"] = exportDataset
	}
	if cmd.Flags().Changed("headless") {
		flags["headless"] = headless
	}
	if cmd.Flags().Changed("include-unparsed-dates") {
		flags["include-unparsed-dates"] = includeUnparsedDates
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()

	store, err := storage.NewManager(cfg.Output.DataDir, cfg.Output.DatasetFile)
	if err != nil {
		return err
	}
	seen, err := seenset.Load(filepath.Join(cfg.Output.DataDir, "seen_ids.txt"))
	if err != nil {
		return err
	}
	ckStore, err := checkpoint.NewStore(filepath.Join(cfg.Output.DataDir, "checkpoint.json"))
	if err != nil {
		return err
	}

	limiter := ratelimit.NewTokenBucket(cfg.RateLimit.QPS, cfg.RateLimit.Burst)
	limiter.SetJitter(cfg.RateLimit.JitterMin, cfg.RateLimit.JitterMax)

	client := source.NewClient(&cfg.Source, log)
	c := crawler.New(cfg, client, limiter, store, seen, ckStore, log)
	mon := monitor.New(cfg.Output.MetricsFile, log)

	// Ctrl-C / SIGTERM interrupts between iterations; everything accepted
	// so far stays durably stored.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := c.Run(ctx)

	mon.Record(result.Stats)
	if err := mon.SaveMetrics(); err != nil {
		log.WithError(err).Warn("metrics not saved")
	}
	fmt.Fprintln(cmd.OutOrStdout(), mon.Report(result.Stats))

	health := mon.CheckHealth(result.Stats)
	if health.Status != monitor.StatusHealthy {
		for _, issue := range health.Issues {
			log.WithField("status", string(health.Status)).Warn(issue)
		}
	}

	if cfg.Output.ExportDataset && result.State != crawler.StateAborted {
		exportPath := filepath.Join(cfg.Output.DataDir, "export.jsonl")
		count, err := store.Export(exportPath)
		if err != nil {
			log.WithError(err).Warn("dataset export failed")
		} else {
			log.WithFields(map[string]interface{}{
				"file":  exportPath,
				"posts": count,
			}).Info("dataset exported")
		}
	}

	switch result.State {
	case crawler.StateAborted:
		return fmt.Errorf("crawl aborted: %w", runErr)
	case crawler.StateInterrupted:
		log.Warn("crawl interrupted, state saved for resumption")
	}
	return nil
}

// Package crawler runs the harvest loop: page through post summaries,
// fetch details for new posts, and record them durably with dedup,
// checkpointing and rate limiting.
package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"askscraper/pkg/checkpoint"
	"askscraper/pkg/config"
	"askscraper/pkg/dates"
	errs "askscraper/pkg/errors"
	"askscraper/pkg/logger"
	"askscraper/pkg/models"
	"askscraper/pkg/ratelimit"
	"askscraper/pkg/retry"
	"askscraper/pkg/seenset"
	"askscraper/pkg/source"
	"askscraper/pkg/storage"
)

// State is the terminal state of a run
type State string

const (
	// StateCompleted means the run reached an iteration boundary normally
	StateCompleted State = "completed"
	// StateAborted means a fatal, non-per-post failure stopped the run
	StateAborted State = "aborted"
	// StateInterrupted means the context was cancelled mid-run. Everything
	// accepted before the cancellation is durably stored.
	StateInterrupted State = "interrupted"
)

// Result describes how a run ended
type Result struct {
	State State
	Stats *models.RunStats
	// Err carries the cause for aborted runs
	Err error
}

// Crawler orchestrates one harvest run over a Source
type Crawler struct {
	cfg     *config.Config
	source  source.Source
	limiter ratelimit.Limiter
	storage *storage.Manager
	seen    *seenset.SeenSet
	ckStore *checkpoint.Store
	logger  logger.Logger
}

// New creates a crawler from its collaborators
func New(
	cfg *config.Config,
	src source.Source,
	limiter ratelimit.Limiter,
	store *storage.Manager,
	seen *seenset.SeenSet,
	ckStore *checkpoint.Store,
	log logger.Logger,
) *Crawler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Crawler{
		cfg:     cfg,
		source:  src,
		limiter: limiter,
		storage: store,
		seen:    seen,
		ckStore: ckStore,
		logger:  log,
	}
}

// statusObserver is implemented by sources that can report HTTP status codes
type statusObserver interface {
	SetStatusHook(func(code int))
}

// Run executes one crawl. The returned Result is always non-nil; the error
// is the abort cause and is nil for completed and interrupted runs.
func (c *Crawler) Run(ctx context.Context) (*Result, error) {
	stats := models.NewRunStats(uuid.NewString())
	defer func() { stats.EndTime = time.Now() }()

	if obs, ok := c.source.(statusObserver); ok {
		obs.SetStatusHook(stats.AddHTTPStatus)
	}

	// A checkpoint that exists but cannot be read aborts before any fetch.
	// Falling back to a full crawl here would either re-harvest everything
	// or silently trust an unverifiable cursor.
	cp, err := c.ckStore.Load()
	if err != nil {
		c.logger.WithError(err).Error("checkpoint unreadable, aborting")
		return c.abort(stats, err)
	}
	hadCheckpoint := cp != nil
	if cp == nil {
		cp = &models.Checkpoint{}
	}
	cp.LastRunTime = time.Now()

	incremental := c.cfg.Crawl.Mode == config.ModeIncremental && hadCheckpoint

	startDate, err := c.cfg.StartDate()
	if err != nil {
		return c.abort(stats, err)
	}

	c.logger.InfoWithFields("crawl started", map[string]interface{}{
		"run_id":       stats.RunID,
		"mode":         c.cfg.Crawl.Mode,
		"incremental":  incremental,
		"last_post_id": cp.LastPostID,
		"start_date":   c.cfg.Crawl.StartDate,
	})

	for page := 1; c.cfg.Crawl.MaxPages == 0 || page <= c.cfg.Crawl.MaxPages; page++ {
		if ctx.Err() != nil {
			return c.interrupt(stats)
		}

		summaries, err := c.fetchPage(ctx, page, stats)
		if err != nil {
			if ctx.Err() != nil {
				return c.interrupt(stats)
			}
			c.logger.WithError(err).WithField("page", page).Error("listing fetch failed")
			stats.Errors++
			return c.abort(stats, err)
		}
		stats.PagesProcessed++

		if len(summaries) == 0 {
			stats.EmptyPages++
			c.logger.WithField("page", page).Info("empty page, crawl complete")
			return c.complete(stats)
		}

		pageNew := 0
		boundaryReached := false
		for _, summary := range summaries {
			if ctx.Err() != nil {
				return c.interrupt(stats)
			}

			inRange, onBoundary := c.classifyTimestamp(summary.PublishTime, startDate, stats.StartTime)
			if onBoundary {
				boundaryReached = true
			}
			if !inRange {
				stats.OutOfRange++
				continue
			}

			if incremental && summary.ID <= cp.LastPostID {
				stats.Duplicates++
				continue
			}

			accepted, err := c.harvestPost(ctx, summary.ID, cp, stats)
			if err != nil {
				if ctx.Err() != nil {
					return c.interrupt(stats)
				}
				return c.abort(stats, err)
			}
			if accepted {
				pageNew++
				if c.cfg.Crawl.MaxPosts > 0 && stats.NewPosts >= c.cfg.Crawl.MaxPosts {
					c.logger.WithField("max_posts", c.cfg.Crawl.MaxPosts).Info("post cap reached")
					return c.complete(stats)
				}
			}
		}

		if boundaryReached {
			c.logger.WithField("page", page).Info("start-date boundary reached")
			return c.complete(stats)
		}
		// Newest-first ordering means a page with nothing new implies every
		// older post is already known.
		if incremental && pageNew == 0 {
			c.logger.WithField("page", page).Info("no new posts on page")
			return c.complete(stats)
		}
	}

	return c.complete(stats)
}

// fetchPage lists one page of summaries through the rate limiter and retry
// policy. A retry-exhausted or fatal listing failure aborts the run.
func (c *Crawler) fetchPage(ctx context.Context, page int, stats *models.RunStats) ([]*models.PostSummary, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	return retry.DoWithResult(func() ([]*models.PostSummary, error) {
		return c.source.ListSummaries(ctx, page)
	}, c.retryConfig(ctx, stats))
}

// harvestPost fetches, filters and durably records one post. The bool
// reports whether the post was accepted; a non-nil error aborts the run.
func (c *Crawler) harvestPost(ctx context.Context, postID int64, cp *models.Checkpoint, stats *models.RunStats) (bool, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return false, err
	}

	post, err := retry.DoWithResult(func() (*models.Post, error) {
		return c.source.FetchDetail(ctx, postID)
	}, c.retryConfig(ctx, stats))
	if err != nil {
		// Deleted posts show up as 404 between listing and fetch; skip them
		// like any other per-post failure.
		if errs.IsNotFound(err) {
			stats.Errors++
			c.logger.WithField("post_id", postID).Warn("post gone, skipped")
			return false, nil
		}
		if errs.IsFatal(err) {
			return false, err
		}
		if errs.IsRetryExhausted(err) {
			// Transient failure that outlived the retry budget: skip this
			// post, keep the run going.
			stats.Errors++
			c.logger.WithError(err).WithField("post_id", postID).Warn("post skipped after retries")
			return false, nil
		}
		return false, err
	}

	stats.TotalPosts++
	stats.TotalComments += len(post.Comments)

	fp := post.Fingerprint()
	if c.seen.Contains(fp) {
		stats.Duplicates++
		return false, nil
	}

	// Record before marking seen: a crash between the two re-fetches the
	// post next run and the export dedups by id, whereas the reverse order
	// would lose the post forever.
	if err := c.storage.AppendRecord(post); err != nil {
		return false, fmt.Errorf("failed to record post %d: %w", postID, err)
	}
	if err := c.storage.WriteIndividual(post); err != nil {
		c.logger.WithError(err).WithField("post_id", postID).Warn("individual post file not written")
	}

	c.seen.Add(fp)
	if err := c.seen.Persist(); err != nil {
		return false, fmt.Errorf("failed to persist seen set: %w", err)
	}

	cp.Advance(post.ID, post.PublishTime)
	if err := c.ckStore.Save(cp); err != nil {
		return false, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	stats.NewPosts++
	c.logger.InfoWithFields("post harvested", map[string]interface{}{
		"post_id":  post.ID,
		"comments": len(post.Comments),
	})
	return true, nil
}

// classifyTimestamp resolves a raw publish time against the start-date
// boundary. inRange reports whether the post should be harvested; onBoundary
// reports that the page has reached the boundary day, so paging can stop
// after this page.
func (c *Crawler) classifyTimestamp(raw string, startDate, capture time.Time) (inRange, onBoundary bool) {
	ts, err := dates.ResolveTimestamp(raw, capture)
	if err != nil {
		if c.cfg.Crawl.IncludeUnparsedDates {
			return true, false
		}
		c.logger.WithField("publish_time", raw).Debug("unparseable publish time excluded")
		return false, false
	}

	if startDate.IsZero() {
		return true, false
	}
	if ts.Before(startDate) {
		return false, true
	}
	// On the boundary day itself: harvest the post, then stop paging,
	// since everything on later pages is older.
	if ts.Before(startDate.AddDate(0, 0, 1)) {
		return true, true
	}
	return true, false
}

func (c *Crawler) retryConfig(ctx context.Context, stats *models.RunStats) *retry.Config {
	return &retry.Config{
		MaxAttempts: c.cfg.Retry.MaxAttempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:  c.cfg.Retry.BackoffBase,
			MaxDelay:   c.cfg.Retry.BackoffMax,
			Multiplier: 2.0,
		},
		RetryIf: retry.DefaultRetryIf,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			stats.Retries++
		},
		Context: ctx,
		Logger:  c.logger,
	}
}

func (c *Crawler) complete(stats *models.RunStats) (*Result, error) {
	stats.EndTime = time.Now()
	c.logResult(StateCompleted, stats)
	return &Result{State: StateCompleted, Stats: stats}, nil
}

func (c *Crawler) interrupt(stats *models.RunStats) (*Result, error) {
	stats.EndTime = time.Now()
	c.logResult(StateInterrupted, stats)
	return &Result{State: StateInterrupted, Stats: stats}, nil
}

func (c *Crawler) abort(stats *models.RunStats, cause error) (*Result, error) {
	stats.EndTime = time.Now()
	c.logResult(StateAborted, stats)
	return &Result{State: StateAborted, Stats: stats, Err: cause}, cause
}

func (c *Crawler) logResult(state State, stats *models.RunStats) {
	c.logger.InfoWithFields("crawl finished", map[string]interface{}{
		"run_id":     stats.RunID,
		"state":      string(state),
		"new_posts":  stats.NewPosts,
		"duplicates": stats.Duplicates,
		"errors":     stats.Errors,
		"pages":      stats.PagesProcessed,
		"duration_s": stats.Duration(),
	})
}

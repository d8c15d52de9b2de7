package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askscraper/pkg/checkpoint"
	"askscraper/pkg/config"
	errs "askscraper/pkg/errors"
	"askscraper/pkg/models"
	"askscraper/pkg/ratelimit"
	"askscraper/pkg/seenset"
	"askscraper/pkg/storage"
)

// fakeSource serves canned pages and details and records what was asked
type fakeSource struct {
	pages       [][]*models.PostSummary
	details     map[int64]*models.Post
	detailFail  map[int64]error
	listCalls   []int
	detailCalls []int64
}

func (f *fakeSource) ListSummaries(_ context.Context, page int) ([]*models.PostSummary, error) {
	f.listCalls = append(f.listCalls, page)
	if page > len(f.pages) {
		return nil, nil
	}
	return f.pages[page-1], nil
}

func (f *fakeSource) FetchDetail(_ context.Context, postID int64) (*models.Post, error) {
	f.detailCalls = append(f.detailCalls, postID)
	if err, ok := f.detailFail[postID]; ok {
		return nil, err
	}
	post, ok := f.details[postID]
	if !ok {
		return nil, &errs.Error{Type: errs.ErrorTypeNotFound, Message: "no such post", Code: 404}
	}
	return post, nil
}

// harness bundles a crawler with its on-disk collaborators
type harness struct {
	crawler *Crawler
	cfg     *config.Config
	source  *fakeSource
	storage *storage.Manager
	ckStore *checkpoint.Store
	dataDir string
}

func newHarness(t *testing.T, src *fakeSource, cfg *config.Config) *harness {
	t.Helper()

	dataDir := t.TempDir()
	store, err := storage.NewManager(dataDir, "")
	require.NoError(t, err)
	seen, err := seenset.Load(filepath.Join(dataDir, "seen_ids.txt"))
	require.NoError(t, err)
	ckStore, err := checkpoint.NewStore(filepath.Join(dataDir, "checkpoint.json"))
	require.NoError(t, err)

	limiter := ratelimit.NewTokenBucket(10000, 100)

	return &harness{
		crawler: New(cfg, src, limiter, store, seen, ckStore, nil),
		cfg:     cfg,
		source:  src,
		storage: store,
		ckStore: ckStore,
		dataDir: dataDir,
	}
}

// reload builds a fresh crawler against the same data directory, as a new
// process would after a restart
func (h *harness) reload(t *testing.T, src *fakeSource, cfg *config.Config) *harness {
	t.Helper()

	store, err := storage.NewManager(h.dataDir, "")
	require.NoError(t, err)
	seen, err := seenset.Load(filepath.Join(h.dataDir, "seen_ids.txt"))
	require.NoError(t, err)
	ckStore, err := checkpoint.NewStore(filepath.Join(h.dataDir, "checkpoint.json"))
	require.NoError(t, err)

	return &harness{
		crawler: New(cfg, src, ratelimit.NewTokenBucket(10000, 100), store, seen, ckStore, nil),
		cfg:     cfg,
		source:  src,
		storage: store,
		ckStore: ckStore,
		dataDir: h.dataDir,
	}
}

func testConfig(mode string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Crawl.Mode = mode
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BackoffBase = time.Millisecond
	cfg.Retry.BackoffMax = 5 * time.Millisecond
	return cfg
}

func post(id int64, publishTime string) *models.Post {
	return &models.Post{
		ID:          id,
		Username:    "user",
		PublishTime: publishTime,
		Content:     fmt.Sprintf("content of %d", id),
	}
}

func summary(p *models.Post) *models.PostSummary {
	return &models.PostSummary{
		ID:          p.ID,
		Username:    p.Username,
		PublishTime: p.PublishTime,
		Content:     p.Content,
	}
}

// sourceWithPosts builds a fake source from descending-id pages
func sourceWithPosts(pages ...[]*models.Post) *fakeSource {
	src := &fakeSource{
		details:    make(map[int64]*models.Post),
		detailFail: make(map[int64]error),
	}
	for _, page := range pages {
		var summaries []*models.PostSummary
		for _, p := range page {
			summaries = append(summaries, summary(p))
			src.details[p.ID] = p
		}
		src.pages = append(src.pages, summaries)
	}
	return src
}

func recentTime(daysAgo int) string {
	return time.Now().AddDate(0, 0, -daysAgo).Format("2006-01-02 15:04")
}

func TestFullCrawl(t *testing.T) {
	src := sourceWithPosts(
		[]*models.Post{post(105, recentTime(1)), post(104, recentTime(2))},
		[]*models.Post{post(103, recentTime(3)), post(102, recentTime(4))},
	)
	h := newHarness(t, src, testConfig(config.ModeFull))

	result, err := h.crawler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 4, result.Stats.NewPosts)
	assert.Equal(t, 1, result.Stats.EmptyPages)

	posts, err := h.storage.ReadDataset()
	require.NoError(t, err)
	assert.Len(t, posts, 4)

	cp, err := h.ckStore.Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(105), cp.LastPostID)
	assert.Equal(t, 4, cp.TotalPostsScraped)
}

func TestIncrementalRerunIsIdempotent(t *testing.T) {
	pages := [][]*models.Post{
		{post(105, recentTime(1)), post(104, recentTime(2))},
	}
	h := newHarness(t, sourceWithPosts(pages...), testConfig(config.ModeFull))

	_, err := h.crawler.Run(context.Background())
	require.NoError(t, err)
	cpBefore, err := h.ckStore.Load()
	require.NoError(t, err)

	// Second run, same upstream, incremental
	h2 := h.reload(t, sourceWithPosts(pages...), testConfig(config.ModeIncremental))
	result, err := h2.crawler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 0, result.Stats.NewPosts)
	assert.Equal(t, 2, result.Stats.Duplicates)
	// Nothing new on the first page stops paging immediately
	assert.Equal(t, []int{1}, h2.source.listCalls)
	assert.Empty(t, h2.source.detailCalls)

	cpAfter, err := h2.ckStore.Load()
	require.NoError(t, err)
	assert.Equal(t, cpBefore.LastPostID, cpAfter.LastPostID)
	assert.Equal(t, cpBefore.TotalPostsScraped, cpAfter.TotalPostsScraped)

	posts, err := h2.storage.ReadDataset()
	require.NoError(t, err)
	assert.Len(t, posts, 2)
}

func TestIncrementalNewPostsOverCheckpoint(t *testing.T) {
	var page []*models.Post
	for id := int64(510); id >= 501; id-- {
		page = append(page, post(id, recentTime(1)))
	}
	src := sourceWithPosts(page)
	h := newHarness(t, src, testConfig(config.ModeIncremental))

	require.NoError(t, h.ckStore.Save(&models.Checkpoint{LastPostID: 500, TotalPostsScraped: 50}))

	result, err := h.crawler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 10, result.Stats.NewPosts)
	assert.Len(t, h.source.detailCalls, 10)

	cp, err := h.ckStore.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(510), cp.LastPostID)
	assert.Equal(t, 60, cp.TotalPostsScraped)
}

func TestDateBoundaryStopsPaging(t *testing.T) {
	page := func(baseID int64, newestDaysAgo int) []*models.Post {
		var posts []*models.Post
		for i := 0; i < 5; i++ {
			posts = append(posts, post(baseID-int64(i), recentTime(newestDaysAgo+i)))
		}
		return posts
	}
	// Page 2's oldest post falls exactly on the boundary day; page 3 is
	// entirely older and must never be requested.
	src := sourceWithPosts(page(300, 1), page(200, 6), page(100, 11))

	cfg := testConfig(config.ModeFull)
	cfg.Crawl.StartDate = time.Now().AddDate(0, 0, -10).Format("2006-01-02")
	h := newHarness(t, src, cfg)

	result, err := h.crawler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 10, result.Stats.NewPosts)
	assert.Equal(t, []int{1, 2}, h.source.listCalls)
}

func TestDateFilterExcludesFromSeenSet(t *testing.T) {
	inRange := post(10, recentTime(1))
	tooOld := post(9, recentTime(30))
	src := sourceWithPosts([]*models.Post{inRange, tooOld})

	cfg := testConfig(config.ModeFull)
	cfg.Crawl.StartDate = time.Now().AddDate(0, 0, -5).Format("2006-01-02")
	h := newHarness(t, src, cfg)

	result, err := h.crawler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.NewPosts)
	assert.Equal(t, 1, result.Stats.OutOfRange)
	// Out-of-range posts are never fetched, recorded or marked seen
	assert.Equal(t, []int64{10}, h.source.detailCalls)

	seen, err := os.ReadFile(filepath.Join(h.dataDir, "seen_ids.txt"))
	require.NoError(t, err)
	assert.NotContains(t, string(seen), tooOld.Fingerprint())
}

func TestDuplicateFingerprintSkipped(t *testing.T) {
	p := post(50, recentTime(1))
	twin := *p // same fingerprint under a different listing entry
	src := sourceWithPosts([]*models.Post{p}, []*models.Post{&twin})

	h := newHarness(t, src, testConfig(config.ModeFull))
	result, err := h.crawler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Stats.NewPosts)
	assert.Equal(t, 1, result.Stats.Duplicates)

	posts, err := h.storage.ReadDataset()
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

func TestCorruptCheckpointAbortsBeforeAnyFetch(t *testing.T) {
	src := sourceWithPosts([]*models.Post{post(1, recentTime(1))})
	h := newHarness(t, src, testConfig(config.ModeIncremental))

	require.NoError(t, os.WriteFile(filepath.Join(h.dataDir, "checkpoint.json"), []byte("{oops"), 0644))

	result, err := h.crawler.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrCorruptCheckpoint)
	assert.Equal(t, StateAborted, result.State)
	assert.Empty(t, h.source.listCalls)
	assert.Empty(t, h.source.detailCalls)
}

func TestTransientDetailFailureSkipsPost(t *testing.T) {
	ok1 := post(72, recentTime(1))
	broken := post(71, recentTime(2))
	ok2 := post(70, recentTime(3))
	src := sourceWithPosts([]*models.Post{ok1, broken, ok2})
	src.detailFail[71] = &errs.Error{Type: errs.ErrorTypeServerError, Message: "boom", Code: 503}

	h := newHarness(t, src, testConfig(config.ModeFull))
	result, err := h.crawler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 2, result.Stats.NewPosts)
	assert.Equal(t, 1, result.Stats.Errors)
	assert.Equal(t, 2, result.Stats.Retries)

	posts, err := h.storage.ReadDataset()
	require.NoError(t, err)
	assert.Len(t, posts, 2)
}

func TestDeletedPostSkipped(t *testing.T) {
	// A post can vanish between listing and detail fetch; the 404 skips
	// that post and the run carries on to the rest of the page.
	first := post(202, recentTime(1))
	gone := post(201, recentTime(2))
	last := post(200, recentTime(3))
	src := sourceWithPosts([]*models.Post{first, gone, last})
	src.detailFail[201] = &errs.Error{Type: errs.ErrorTypeNotFound, Message: "post deleted", Code: 404}

	h := newHarness(t, src, testConfig(config.ModeFull))
	result, err := h.crawler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 2, result.Stats.NewPosts)
	assert.Equal(t, 1, result.Stats.Errors)
	// The post after the deleted one is still fetched
	assert.Equal(t, []int64{202, 201, 200}, h.source.detailCalls)

	posts, err := h.storage.ReadDataset()
	require.NoError(t, err)
	assert.Len(t, posts, 2)
}

func TestFatalDetailFailureAborts(t *testing.T) {
	good := post(82, recentTime(1))
	denied := post(81, recentTime(2))
	src := sourceWithPosts([]*models.Post{good, denied})
	src.detailFail[81] = &errs.Error{Type: errs.ErrorTypeAuth, Message: "denied", Code: 403}

	h := newHarness(t, src, testConfig(config.ModeFull))
	result, err := h.crawler.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, StateAborted, result.State)
	assert.True(t, errs.IsFatal(result.Err))

	// The post accepted before the abort stays durably recorded
	posts, readErr := h.storage.ReadDataset()
	require.NoError(t, readErr)
	assert.Len(t, posts, 1)
	cp, cpErr := h.ckStore.Load()
	require.NoError(t, cpErr)
	assert.Equal(t, int64(82), cp.LastPostID)
}

func TestUnparsedDatesExcludedByDefault(t *testing.T) {
	weird := post(91, "某个神秘时刻")
	normal := post(90, recentTime(1))
	src := sourceWithPosts([]*models.Post{weird, normal})

	h := newHarness(t, src, testConfig(config.ModeFull))
	result, err := h.crawler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.NewPosts)
	assert.Equal(t, 1, result.Stats.OutOfRange)
}

func TestUnparsedDatesIncludedWhenConfigured(t *testing.T) {
	weird := post(91, "某个神秘时刻")
	src := sourceWithPosts([]*models.Post{weird})

	cfg := testConfig(config.ModeFull)
	cfg.Crawl.IncludeUnparsedDates = true
	h := newHarness(t, src, cfg)

	result, err := h.crawler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.NewPosts)
	assert.Equal(t, 0, result.Stats.OutOfRange)
}

func TestMaxPostsCap(t *testing.T) {
	var page []*models.Post
	for id := int64(20); id >= 11; id-- {
		page = append(page, post(id, recentTime(1)))
	}
	src := sourceWithPosts(page)

	cfg := testConfig(config.ModeFull)
	cfg.Crawl.MaxPosts = 3
	h := newHarness(t, src, cfg)

	result, err := h.crawler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 3, result.Stats.NewPosts)
	assert.Len(t, h.source.detailCalls, 3)
}

func TestMaxPagesCap(t *testing.T) {
	src := sourceWithPosts(
		[]*models.Post{post(5, recentTime(1))},
		[]*models.Post{post(4, recentTime(2))},
		[]*models.Post{post(3, recentTime(3))},
	)

	cfg := testConfig(config.ModeFull)
	cfg.Crawl.MaxPages = 2
	h := newHarness(t, src, cfg)

	result, err := h.crawler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, []int{1, 2}, h.source.listCalls)
}

func TestCancelledContextInterrupts(t *testing.T) {
	src := sourceWithPosts([]*models.Post{post(1, recentTime(1))})
	h := newHarness(t, src, testConfig(config.ModeFull))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.crawler.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateInterrupted, result.State)
	assert.Empty(t, h.source.detailCalls)
}

func TestCrashResumeUnion(t *testing.T) {
	// First run harvests one post, then a second process resumes and
	// harvests the newer ones. The dataset ends up as the union.
	h := newHarness(t, sourceWithPosts([]*models.Post{post(101, recentTime(3))}), testConfig(config.ModeFull))
	_, err := h.crawler.Run(context.Background())
	require.NoError(t, err)

	src2 := sourceWithPosts([]*models.Post{
		post(103, recentTime(1)), post(102, recentTime(2)), post(101, recentTime(3)),
	})
	h2 := h.reload(t, src2, testConfig(config.ModeIncremental))
	result, err := h2.crawler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.NewPosts)

	posts, err := h2.storage.ReadDataset()
	require.NoError(t, err)
	ids := make(map[int64]bool)
	for _, p := range posts {
		ids[p.ID] = true
	}
	assert.Equal(t, map[int64]bool{101: true, 102: true, 103: true}, ids)

	cp, err := h2.ckStore.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(103), cp.LastPostID)
}

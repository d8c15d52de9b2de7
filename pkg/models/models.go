package models

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// fingerprintContentLen is how many leading characters of the content take
// part in the fingerprint. Bounds hashing cost and tolerates trailing noise.
const fingerprintContentLen = 100

// AnonymousUsername is the sentinel the source uses for anonymous authors.
const AnonymousUsername = "匿名"

// MediaAttachment is an image/audio/video attachment on a post.
type MediaAttachment struct {
	Type         string `json:"type"` // "image", "audio" or "video"
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Comment is a single reply under a post. ReplyToUsername is set when the
// comment answers another comment rather than the post itself.
type Comment struct {
	ID              int64     `json:"comment_id"`
	PostID          int64     `json:"post_id"`
	Username        string    `json:"username"`
	AvatarURL       string    `json:"avatar_url,omitempty"`
	UserType        int       `json:"user_type,omitempty"`
	UserTypeLabel   string    `json:"user_type_label,omitempty"`
	Time            string    `json:"comment_time"`
	Content         string    `json:"comment_content"`
	LikeCount       int       `json:"like_count"`
	ReplyToUsername string    `json:"reply_to_username,omitempty"`
	ReplyType       string    `json:"reply_type"` // "post" or "comment"
	IPProvince      string    `json:"ip_province,omitempty"`
	ScrapedAt       time.Time `json:"scraped_at"`
	SourceURL       string    `json:"source_url"`
}

// Post is one captured forum post with its nested comments. Once stored a
// post is immutable; incremental runs only ever append new posts.
type Post struct {
	ID          int64  `json:"post_id"`
	Username    string `json:"username"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	PublishTime string `json:"publish_time"` // raw source string, kept verbatim
	Content     string `json:"content"`
	ViewCount   int    `json:"view_count"`
	WarmCount   int    `json:"warm_count"`
	VisitCount  int    `json:"visit_count"`
	ReplyCount  int    `json:"reply_count"`
	TopicTitle  string `json:"topic_title,omitempty"`
	TopicID     int64  `json:"topic_id,omitempty"`
	IsAnonymous bool   `json:"is_anonymous"`
	AskTag      string `json:"ask_tag,omitempty"`
	Platform    string `json:"platform,omitempty"`
	IPProvince  string `json:"ip_province,omitempty"`
	PostURL     string `json:"post_url"`

	SmallAttachments []MediaAttachment `json:"small_attachments,omitempty"`
	BigAttachments   []MediaAttachment `json:"big_attachments,omitempty"`

	Comments []Comment `json:"comments"`

	ScrapedAt time.Time `json:"scraped_at"`
}

// Fingerprint derives the dedup digest for the post: sha1 over the post id,
// the first 100 characters of content and the raw publish-time string.
// Deterministic and side-effect free.
func (p *Post) Fingerprint() string {
	content := []rune(p.Content)
	if len(content) > fingerprintContentLen {
		content = content[:fingerprintContentLen]
	}
	sum := sha1.Sum([]byte(fmt.Sprintf("%d_%s_%s", p.ID, string(content), p.PublishTime)))
	return hex.EncodeToString(sum[:])
}

// PostSummary is the listing-page view of a post, enough to decide whether
// the full detail is worth fetching.
type PostSummary struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	PublishTime string `json:"publish_time"` // raw source string
	Content     string `json:"content"`      // prefix as shown on the list page
}

// Checkpoint is the durable cursor marking crawl progress for resumption.
// It is overwritten as a whole after each accepted post.
type Checkpoint struct {
	LastPostID        int64     `json:"last_post_id"`
	LastPostTime      string    `json:"last_post_time"`
	LastRunTime       time.Time `json:"last_run_time"`
	TotalPostsScraped int       `json:"total_posts_scraped"`
	Cursor            string    `json:"cursor,omitempty"`
}

// Advance moves the cursor past a post. The last post id only ever grows;
// descending-order anomalies in a page must not regress it.
func (c *Checkpoint) Advance(postID int64, publishTime string) bool {
	if postID <= c.LastPostID {
		c.TotalPostsScraped++
		return false
	}
	c.LastPostID = postID
	c.LastPostTime = publishTime
	c.TotalPostsScraped++
	return true
}

// RunStats aggregates counters for one crawl run.
type RunStats struct {
	RunID           string         `json:"run_id"`
	TotalPosts      int            `json:"total_posts"`
	TotalComments   int            `json:"total_comments"`
	NewPosts        int            `json:"new_posts"`
	Duplicates      int            `json:"duplicates"`
	OutOfRange      int            `json:"out_of_range"`
	Errors          int            `json:"errors"`
	Retries         int            `json:"retries"`
	EmptyPages      int            `json:"empty_pages"`
	PagesProcessed  int            `json:"pages_processed"`
	HTTPStatusCodes map[string]int `json:"http_status_codes"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time,omitempty"`
}

// NewRunStats returns stats with the clock started.
func NewRunStats(runID string) *RunStats {
	return &RunStats{
		RunID:           runID,
		HTTPStatusCodes: make(map[string]int),
		StartTime:       time.Now(),
	}
}

// AddHTTPStatus records one observed HTTP status code.
func (s *RunStats) AddHTTPStatus(code int) {
	s.HTTPStatusCodes[fmt.Sprintf("%d", code)]++
}

// Duration returns the elapsed run time in seconds.
func (s *RunStats) Duration() float64 {
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartTime).Seconds()
}

// SuccessRate returns the fraction of attempted posts that succeeded, in
// percent.
func (s *RunStats) SuccessRate() float64 {
	total := s.TotalPosts + s.Errors
	if total == 0 {
		return 0
	}
	return float64(s.TotalPosts) / float64(total) * 100
}

package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"askscraper/pkg/config"
	errs "askscraper/pkg/errors"
	"askscraper/pkg/logger"
	"askscraper/pkg/models"
)

// Client is the HTTP Source adapter for the forum's mobile site
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	listPath   string
	logger     logger.Logger
	statusHook func(code int)
}

// NewClient creates a forum client from the source configuration
func NewClient(cfg *config.SourceConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		headers: map[string]string{
			"User-Agent":      cfg.UserAgent,
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "zh-CN,zh;q=0.9",
			"Cache-Control":   "no-cache",
		},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		listPath: cfg.ListPath,
		logger:   log,
	}
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetStatusHook registers a callback invoked with every observed HTTP
// status code (0 stands for a network failure)
func (c *Client) SetStatusHook(hook func(code int)) {
	c.statusHook = hook
}

// ListSummaries fetches one listing page and returns its post summaries
func (c *Client) ListSummaries(ctx context.Context, page int) ([]*models.PostSummary, error) {
	url := c.baseURL + c.listPath
	if page > 1 {
		url = fmt.Sprintf("%s?page=%d", url, page)
	}

	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	summaries, err := parseListPage(resp.Body)
	if err != nil {
		return nil, err
	}

	c.logger.DebugWithFields("listing page fetched", map[string]interface{}{
		"page":  page,
		"posts": len(summaries),
	})
	return summaries, nil
}

// FetchDetail fetches one post's detail page with comments and attachments
func (c *Client) FetchDetail(ctx context.Context, postID int64) (*models.Post, error) {
	url := c.DetailURL(postID)

	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	post, err := parseDetailPage(resp.Body, url)
	if err != nil {
		return nil, err
	}
	if post.ID != postID {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("detail page for post %d carries post %d", postID, post.ID),
		}
	}

	c.logger.DebugWithFields("post detail fetched", map[string]interface{}{
		"post_id":  post.ID,
		"comments": len(post.Comments),
	})
	return post, nil
}

// DetailURL returns the canonical URL of a post's detail page
func (c *Client) DetailURL(postID int64) string {
	return fmt.Sprintf("%s/ask/detail/%d", c.baseURL, postID)
}

// get performs a GET with the configured headers and classifies failures
func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.recordStatus(0)
		// Let context errors through untouched so cancellation is not retried
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.WarnWithFields("request failed", map[string]interface{}{
			"url":      url,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("network error: %v", err),
		}
	}

	c.recordStatus(resp.StatusCode)
	c.logger.DebugWithFields("request completed", map[string]interface{}{
		"url":      url,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &errs.Error{
			Type:    errs.TypeForStatusCode(resp.StatusCode),
			Message: fmt.Sprintf("unexpected status fetching %s", url),
			Code:    resp.StatusCode,
		}
	}

	return resp, nil
}

func (c *Client) recordStatus(code int) {
	if c.statusHook != nil {
		c.statusHook(code)
	}
}

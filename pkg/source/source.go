// Package source talks to the forum and turns its server-rendered pages
// into typed posts. The site ships its data as a preloaded-state JSON blob
// inside a script tag, so fetching is plain HTTP plus one extraction step.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"

	errs "askscraper/pkg/errors"
	"askscraper/pkg/models"
)

// Source lists post summaries page by page and fetches full post details
type Source interface {
	// ListSummaries returns the summaries on the given 1-based page. An
	// empty slice with a nil error means the page exists but has no posts.
	ListSummaries(ctx context.Context, page int) ([]*models.PostSummary, error)

	// FetchDetail returns the full post with comments and attachments
	FetchDetail(ctx context.Context, postID int64) (*models.Post, error)
}

// stateRe matches the inline assignment carrying the page's preloaded state
var stateRe = regexp.MustCompile(`(?s)window\.\$G\s*=\s*(\{.*?"preloadedState".*?\});`)

// pageState is the window.$G wrapper around the state blob
type pageState struct {
	PreloadedState json.RawMessage `json:"preloadedState"`
}

// listEnvelope is the preloaded-state shape of a listing page
type listEnvelope struct {
	Data struct {
		Data struct {
			Data []postPayload `json:"data"`
		} `json:"data"`
	} `json:"data"`
}

// detailEnvelope is the preloaded-state shape of a detail page
type detailEnvelope struct {
	Data struct {
		Data postPayload `json:"data"`
	} `json:"data"`
}

// postPayload mirrors the camelCase post object the site embeds
type postPayload struct {
	ID           int64            `json:"id"`
	UID          *int64           `json:"uid"`
	Name         string           `json:"name"`
	Avatar       string           `json:"avatar"`
	Header       string           `json:"header"`
	TimeStr      string           `json:"timeStr"`
	Content      string           `json:"content"`
	Hits         int              `json:"hits"`
	ZanCount     int              `json:"zanCount"`
	VisitCount   int              `json:"visitCount"`
	ReplyCounter int              `json:"replyCounter"`
	TopicTitle   string           `json:"topicTitle"`
	TopicID      int64            `json:"topicId"`
	AskTag       string           `json:"askTag"`
	From         string           `json:"from"`
	IP           string           `json:"ip"`
	SmallAttach  []string         `json:"smallAttach"`
	BigAttach    []string         `json:"bigAttach"`
	Comments     []commentPayload `json:"comments"`
}

// commentPayload mirrors the camelCase comment object
type commentPayload struct {
	ID               int64  `json:"id"`
	UID              *int64 `json:"uid"`
	Name             string `json:"name"`
	UserHead         string `json:"userHead"`
	UserType         int    `json:"userType"`
	AnswerCreateTime string `json:"answerCreateTime"`
	TimeStr          string `json:"time_str"`
	Content          string `json:"content"`
	Zan              int    `json:"zan"`
	ToName           string `json:"toName"`
	IPProvince       string `json:"ipProvince"`
}

// extractPreloadedState scans the document's script tags for the window.$G
// assignment and returns the preloadedState blob
func extractPreloadedState(body io.Reader) (json.RawMessage, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse HTML: %v", err),
		}
	}

	var raw string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := stateRe.FindStringSubmatch(s.Text()); m != nil {
			raw = m[1]
			return false
		}
		return true
	})
	if raw == "" {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: "page carries no preloaded state",
		}
	}

	var state pageState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("preloaded state is not valid JSON: %v", err),
		}
	}
	return state.PreloadedState, nil
}

// parseListPage extracts post summaries from a listing page
func parseListPage(body io.Reader) ([]*models.PostSummary, error) {
	state, err := extractPreloadedState(body)
	if err != nil {
		return nil, err
	}

	var envelope listEnvelope
	if err := json.Unmarshal(state, &envelope); err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("unexpected listing payload: %v", err),
		}
	}

	summaries := make([]*models.PostSummary, 0, len(envelope.Data.Data.Data))
	for _, p := range envelope.Data.Data.Data {
		if p.ID == 0 {
			continue
		}
		summaries = append(summaries, &models.PostSummary{
			ID:          p.ID,
			Username:    usernameOrAnonymous(p.Name),
			PublishTime: p.TimeStr,
			Content:     p.Content,
		})
	}
	return summaries, nil
}

// parseDetailPage extracts the full post from a detail page
func parseDetailPage(body io.Reader, postURL string) (*models.Post, error) {
	state, err := extractPreloadedState(body)
	if err != nil {
		return nil, err
	}

	var envelope detailEnvelope
	if err := json.Unmarshal(state, &envelope); err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("unexpected detail payload: %v", err),
		}
	}
	if envelope.Data.Data.ID == 0 {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: "detail payload carries no post",
		}
	}

	return envelope.Data.Data.toPost(postURL), nil
}

// toPost maps the site payload onto the storage model
func (p *postPayload) toPost(postURL string) *models.Post {
	now := time.Now()

	avatar := p.Avatar
	if avatar == "" {
		avatar = p.Header
	}

	post := &models.Post{
		ID:               p.ID,
		Username:         usernameOrAnonymous(p.Name),
		AvatarURL:        avatar,
		PublishTime:      p.TimeStr,
		Content:          p.Content,
		ViewCount:        p.Hits,
		WarmCount:        p.ZanCount,
		VisitCount:       p.VisitCount,
		ReplyCount:       p.ReplyCounter,
		TopicTitle:       p.TopicTitle,
		TopicID:          p.TopicID,
		IsAnonymous:      p.UID != nil && *p.UID == 0,
		AskTag:           p.AskTag,
		Platform:         p.From,
		IPProvince:       p.IP,
		PostURL:          postURL,
		SmallAttachments: attachments(p.SmallAttach),
		BigAttachments:   attachments(p.BigAttach),
		Comments:         make([]models.Comment, 0, len(p.Comments)),
		ScrapedAt:        now,
	}

	for _, c := range p.Comments {
		commentTime := c.AnswerCreateTime
		if commentTime == "" {
			commentTime = c.TimeStr
		}
		replyType := "post"
		if c.ToName != "" {
			replyType = "comment"
		}
		userTypeLabel := "普通用户"
		if c.UserType == 1 {
			userTypeLabel = "倾诉师/解答师"
		}
		post.Comments = append(post.Comments, models.Comment{
			ID:              c.ID,
			PostID:          p.ID,
			Username:        usernameOrAnonymous(c.Name),
			AvatarURL:       c.UserHead,
			UserType:        c.UserType,
			UserTypeLabel:   userTypeLabel,
			Time:            commentTime,
			Content:         c.Content,
			LikeCount:       c.Zan,
			ReplyToUsername: c.ToName,
			ReplyType:       replyType,
			IPProvince:      c.IPProvince,
			ScrapedAt:       now,
			SourceURL:       postURL,
		})
	}

	return post
}

func attachments(urls []string) []models.MediaAttachment {
	if len(urls) == 0 {
		return nil
	}
	atts := make([]models.MediaAttachment, 0, len(urls))
	for _, url := range urls {
		if url == "" {
			continue
		}
		atts = append(atts, models.MediaAttachment{Type: "image", URL: url})
	}
	return atts
}

func usernameOrAnonymous(name string) string {
	if name == "" {
		return models.AnonymousUsername
	}
	return name
}

package harvester

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/reviewdeck/harvester/internal/metrics"
	"github.com/reviewdeck/harvester/models"
)

// redditExtractor handles thread pages from reddit. The JSON listing API is
// the primary shape; old-reddit HTML is the fallback when a fetch comes back
// rendered. Candidates are the post body plus the top top-level comments.
type redditExtractor struct {
	cfg Config
	lex *Lexicon
}

type redditListing struct {
	Data struct {
		Children []struct {
			Kind string      `json:"kind"`
			Data redditThing `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditThing struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	Body        string  `json:"body"`
	Author      string  `json:"author"`
	Permalink   string  `json:"permalink"`
	NumComments int     `json:"num_comments"`
	Score       int     `json:"score"`
	CreatedUTC  float64 `json:"created_utc"`
}

func (r *redditExtractor) extract(p *pageDoc) []models.RawCandidate {
	raw := strings.TrimSpace(p.raw)
	if strings.HasPrefix(raw, "[") || strings.HasPrefix(raw, "{") {
		return r.extractJSON(raw, p.url)
	}
	return r.extractHTML(p)
}

// extractJSON walks the two-element listing array the thread endpoint
// returns: element 0 holds the post, element 1 the comment tree.
func (r *redditExtractor) extractJSON(raw, pageURL string) []models.RawCandidate {
	var listings []redditListing
	if err := json.Unmarshal([]byte(raw), &listings); err != nil || len(listings) == 0 {
		return nil
	}
	if len(listings[0].Data.Children) == 0 {
		return nil
	}

	post := listings[0].Data.Children[0].Data
	threadID := post.ID
	if threadID == "" {
		threadID = threadIDFromURL(pageURL)
	}

	if post.NumComments < r.cfg.MinRedditComments {
		metrics.CandidatesRejected.WithLabelValues(string(models.SourceReddit), "thin_thread").Inc()
		return nil
	}

	var out []models.RawCandidate
	if !r.droppedAuthor(post.Author) && !deletedBody(post.SelfText) {
		if text, gate := cleanBlock(normalizeSpace(post.SelfText), r.cfg, r.lex); gate == "" {
			out = append(out, models.RawCandidate{
				Text:           text,
				SourceKind:     models.SourceReddit,
				SourceURL:      pageURL,
				SourceReviewID: fmt.Sprintf("reddit_%s_post", threadID),
				Author:         post.Author,
				Title:          post.Title,
				PostedAt:       unixTime(post.CreatedUTC),
				ExtractedAt:    time.Now(),
			})
		} else {
			metrics.CandidatesRejected.WithLabelValues(string(models.SourceReddit), gate).Inc()
		}
	}

	if len(listings) < 2 {
		return out
	}

	collected := 0
	for _, child := range listings[1].Data.Children {
		if collected >= r.cfg.TopRedditComments {
			break
		}
		if child.Kind != "t1" {
			continue
		}
		c := child.Data
		if gate := r.commentGate(c.Author, c.Body); gate != "" {
			metrics.CandidatesRejected.WithLabelValues(string(models.SourceReddit), gate).Inc()
			continue
		}
		text, gate := cleanBlock(normalizeSpace(c.Body), r.cfg, r.lex)
		if gate != "" {
			metrics.CandidatesRejected.WithLabelValues(string(models.SourceReddit), gate).Inc()
			continue
		}
		out = append(out, models.RawCandidate{
			Text:           text,
			SourceKind:     models.SourceReddit,
			SourceURL:      pageURL,
			SourceReviewID: fmt.Sprintf("reddit_%s_%s", threadID, c.ID),
			Author:         c.Author,
			Title:          "Re: " + truncateText(post.Title, 80),
			PostedAt:       unixTime(c.CreatedUTC),
			ExtractedAt:    time.Now(),
		})
		collected++
	}
	return out
}

// extractHTML covers rendered old-reddit thread markup
func (r *redditExtractor) extractHTML(p *pageDoc) []models.RawCandidate {
	doc := p.doc

	if doc.Find("div.commentarea div.thing.comment").Length() < r.cfg.MinRedditComments {
		metrics.CandidatesRejected.WithLabelValues(string(models.SourceReddit), "thin_thread").Inc()
		return nil
	}

	postNode := doc.Find("div.thing[data-type=link]").First()
	threadID := strings.TrimPrefix(postNode.AttrOr("data-fullname", ""), "t3_")
	if threadID == "" {
		threadID = threadIDFromURL(p.url)
	}
	title := normalizeSpace(doc.Find("a.title").First().Text())

	var out []models.RawCandidate
	postAuthor := postNode.AttrOr("data-author", "")
	postBody := normalizeSpace(postNode.Find("div.usertext-body").First().Text())
	if !r.droppedAuthor(postAuthor) && !deletedBody(postBody) {
		if text, gate := cleanBlock(postBody, r.cfg, r.lex); gate == "" {
			out = append(out, models.RawCandidate{
				Text:           text,
				SourceKind:     models.SourceReddit,
				SourceURL:      p.url,
				SourceReviewID: fmt.Sprintf("reddit_%s_post", threadID),
				Author:         postAuthor,
				Title:          title,
				PostedAt:       nodeTimestamp(postNode),
				ExtractedAt:    time.Now(),
			})
		} else {
			metrics.CandidatesRejected.WithLabelValues(string(models.SourceReddit), gate).Inc()
		}
	}

	collected := 0
	doc.Find("div.commentarea > div.sitetable > div.thing.comment").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if collected >= r.cfg.TopRedditComments {
			return false
		}
		author := s.AttrOr("data-author", "")
		body := normalizeSpace(s.Find("div.usertext-body").First().Text())
		if gate := r.commentGate(author, body); gate != "" {
			metrics.CandidatesRejected.WithLabelValues(string(models.SourceReddit), gate).Inc()
			return true
		}
		text, gate := cleanBlock(body, r.cfg, r.lex)
		if gate != "" {
			metrics.CandidatesRejected.WithLabelValues(string(models.SourceReddit), gate).Inc()
			return true
		}
		commentID := strings.TrimPrefix(s.AttrOr("data-fullname", ""), "t1_")
		if commentID == "" {
			commentID = contentFingerprint(p.url, text)
		}
		out = append(out, models.RawCandidate{
			Text:           text,
			SourceKind:     models.SourceReddit,
			SourceURL:      p.url,
			SourceReviewID: fmt.Sprintf("reddit_%s_%s", threadID, commentID),
			Author:         author,
			Title:          "Re: " + truncateText(title, 80),
			PostedAt:       nodeTimestamp(s),
			ExtractedAt:    time.Now(),
		})
		collected++
		return true
	})
	return out
}

func (r *redditExtractor) commentGate(author, body string) string {
	if deletedBody(body) {
		return "deleted"
	}
	if r.droppedAuthor(author) {
		return "bot_author"
	}
	if len(strings.Fields(body)) < r.cfg.MinCommentWords {
		return "too_few_words"
	}
	return ""
}

func (r *redditExtractor) droppedAuthor(author string) bool {
	switch strings.ToLower(strings.TrimSpace(author)) {
	case "", "[deleted]", "[removed]", "none":
		return true
	}
	return r.lex.isBotAuthor(author)
}

func deletedBody(body string) bool {
	switch strings.ToLower(strings.TrimSpace(body)) {
	case "", "[deleted]", "[removed]":
		return true
	}
	return false
}

// threadIDFromURL pulls the base36 thread id out of a /comments/{id}/ path
func threadIDFromURL(pageURL string) string {
	parts := strings.Split(strings.Trim(pageURL, "/"), "/")
	for i, part := range parts {
		if part == "comments" && i+1 < len(parts) {
			return strings.TrimSuffix(parts[i+1], ".json")
		}
	}
	return ""
}

func unixTime(sec float64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(int64(sec), 0).UTC()
	return &t
}

func nodeTimestamp(s *goquery.Selection) *time.Time {
	raw := s.Find("time").First().AttrOr("datetime", "")
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

package harvester

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/reviewdeck/harvester/internal/metrics"
	"github.com/reviewdeck/harvester/models"
)

// storeExtractor handles retailer product pages. Dedicated review nodes are
// preferred; pages without them fall back to generic block segmentation.
// Ratings are parsed where present and left nil otherwise.
type storeExtractor struct {
	cfg Config
	lex *Lexicon
}

// storeReviewSelectors is ordered most to least specific; the first selector
// with any match wins. A bare [class*="review"] would swallow wrapper lists,
// so pages with only loose markup go through the generic fallback instead.
var storeReviewSelectors = []string{
	`div[data-attrid="user_review"]`,
	`[data-hook="review"]`,
	`[itemprop="review"]`,
	`div[class*="review-item"], li[class*="review-item"]`,
	`div[class*="customer-review"]`,
}

func (e *storeExtractor) extract(p *pageDoc) []models.RawCandidate {
	if !pageAdmitted(p, e.cfg, models.SourceStore) {
		return nil
	}

	var nodes *goquery.Selection
	for _, sel := range storeReviewSelectors {
		nodes = p.doc.Find(sel)
		if nodes.Length() > 0 {
			break
		}
	}
	if nodes == nil || nodes.Length() == 0 {
		return e.fallback(p)
	}

	var out []models.RawCandidate
	nodes.Each(func(_ int, s *goquery.Selection) {
		text, gate := cleanBlock(reviewBody(s), e.cfg, e.lex)
		if gate != "" {
			metrics.CandidatesRejected.WithLabelValues(string(models.SourceStore), gate).Inc()
			return
		}
		id := s.AttrOr("data-review-id", "")
		if id == "" {
			id = s.AttrOr("id", "")
		}
		if id == "" {
			id = contentFingerprint(p.url, text)
		}
		out = append(out, models.RawCandidate{
			Text:           text,
			SourceKind:     models.SourceStore,
			SourceURL:      p.url,
			SourceReviewID: id,
			Author:         reviewAuthor(s),
			Title:          reviewTitle(s),
			RatingHint:     nodeRating(s),
			ExtractedAt:    time.Now(),
		})
	})
	return out
}

func (e *storeExtractor) fallback(p *pageDoc) []models.RawCandidate {
	blocks := segmentBlocks(p.doc)
	if len(blocks) == 0 {
		blocks = readabilityBlocks(p)
	}

	var out []models.RawCandidate
	for _, blockText := range blocks {
		text, gate := cleanBlock(blockText, e.cfg, e.lex)
		if gate != "" {
			metrics.CandidatesRejected.WithLabelValues(string(models.SourceStore), gate).Inc()
			continue
		}
		out = append(out, models.RawCandidate{
			Text:           text,
			SourceKind:     models.SourceStore,
			SourceURL:      p.url,
			SourceReviewID: contentFingerprint(p.url, text),
			RatingHint:     parseRating(blockText),
			ExtractedAt:    time.Now(),
		})
	}
	return out
}

// reviewBody prefers a dedicated text node so ratings, bylines and helpful
// buttons around the review stay out of the candidate
func reviewBody(s *goquery.Selection) string {
	for _, sel := range []string{
		`[itemprop="reviewBody"]`,
		`[data-hook="review-body"]`,
		`[class*="review-text"]`,
		`[class*="review-body"]`,
		`[class*="review-content"]`,
	} {
		if node := s.Find(sel).First(); node.Length() > 0 {
			if text := normalizeSpace(node.Text()); text != "" {
				return text
			}
		}
	}
	return normalizeSpace(s.Text())
}

func reviewAuthor(s *goquery.Selection) string {
	for _, sel := range []string{
		`[itemprop="author"]`,
		`[class*="profile-name"]`,
		`[class*="review-author"]`,
		`[class*="author"]`,
	} {
		if node := s.Find(sel).First(); node.Length() > 0 {
			if name := normalizeSpace(node.Text()); name != "" && len(name) <= 60 {
				return name
			}
		}
	}
	return ""
}

func reviewTitle(s *goquery.Selection) string {
	for _, sel := range []string{
		`[data-hook="review-title"]`,
		`[class*="review-title"]`,
		"h3, h4",
	} {
		if node := s.Find(sel).First(); node.Length() > 0 {
			if title := normalizeSpace(node.Text()); title != "" {
				return title
			}
		}
	}
	return ""
}

var (
	ratingOutOfRe = regexp.MustCompile(`(?i)\b(\d(?:\.\d+)?)\s*out of\s*5\b`)
	ratingSlashRe = regexp.MustCompile(`\b(\d(?:\.\d+)?)\s*/\s*5\b`)
)

// nodeRating looks for a rating on the review node itself, then in accessible
// labels of its children, then in the visible text. Screen-reader labels like
// "Rated 4.0 out of 5 stars" are the most reliable carrier.
func nodeRating(s *goquery.Selection) *float64 {
	if label, ok := s.Attr("aria-label"); ok {
		if r := parseRating(label); r != nil {
			return r
		}
	}
	var rating *float64
	s.Find("[aria-label]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if r := parseRating(a.AttrOr("aria-label", "")); r != nil {
			rating = r
			return false
		}
		return true
	})
	if rating != nil {
		return rating
	}
	return parseRating(s.Text())
}

// parseRating recognizes "4.5 out of 5", "4.5/5" and star glyph runs.
// Anything else returns nil; a missing rating is data, not an error.
func parseRating(text string) *float64 {
	if m := ratingOutOfRe.FindStringSubmatch(text); m != nil {
		return ratingValue(m[1])
	}
	if m := ratingSlashRe.FindStringSubmatch(text); m != nil {
		return ratingValue(m[1])
	}
	if filled := strings.Count(text, "★"); filled > 0 && filled <= 5 {
		v := float64(filled)
		return &v
	}
	return nil
}

func ratingValue(raw string) *float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 5 {
		return nil
	}
	return &v
}

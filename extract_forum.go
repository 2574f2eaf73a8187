package harvester

import (
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/reviewdeck/harvester/internal/metrics"
	"github.com/reviewdeck/harvester/models"
)

// forumExtractor segments thread pages into individual posts. A block counts
// as a post when it carries both a username marker and a timestamp marker;
// pages without detectable post boundaries fall back to the generic path.
// Forum posts additionally need an ownership phrase and must not read like
// news or announcement content.
type forumExtractor struct {
	cfg Config
	lex *Lexicon
}

type forumPost struct {
	author   string
	text     string
	postedAt *time.Time
}

func (f *forumExtractor) extract(p *pageDoc) []models.RawCandidate {
	if !pageAdmitted(p, f.cfg, models.SourceForum) {
		return nil
	}

	posts := forumPosts(p.doc)
	if len(posts) == 0 {
		return f.fallback(p)
	}
	if len(posts) > f.cfg.MaxForumBlocks {
		posts = posts[:f.cfg.MaxForumBlocks]
	}

	title := pageTitle(p.doc)
	var out []models.RawCandidate
	for _, post := range posts {
		text, gate := f.cleanPost(post.text)
		if gate != "" {
			metrics.CandidatesRejected.WithLabelValues(string(models.SourceForum), gate).Inc()
			continue
		}
		out = append(out, models.RawCandidate{
			Text:           text,
			SourceKind:     models.SourceForum,
			SourceURL:      p.url,
			SourceReviewID: contentFingerprint(p.url, text),
			Author:         post.author,
			Title:          title,
			PostedAt:       post.postedAt,
			ExtractedAt:    time.Now(),
		})
	}
	return out
}

// fallback runs generic block segmentation when no post structure was found,
// considering at most the first MaxForumBlocks blocks
func (f *forumExtractor) fallback(p *pageDoc) []models.RawCandidate {
	blocks := segmentBlocks(p.doc)
	if len(blocks) == 0 {
		blocks = readabilityBlocks(p)
	}
	if len(blocks) > f.cfg.MaxForumBlocks {
		blocks = blocks[:f.cfg.MaxForumBlocks]
	}

	title := pageTitle(p.doc)
	var out []models.RawCandidate
	for _, blockText := range blocks {
		text, gate := f.cleanPost(blockText)
		if gate != "" {
			metrics.CandidatesRejected.WithLabelValues(string(models.SourceForum), gate).Inc()
			continue
		}
		out = append(out, models.RawCandidate{
			Text:           text,
			SourceKind:     models.SourceForum,
			SourceURL:      p.url,
			SourceReviewID: contentFingerprint(p.url, text),
			Title:          title,
			ExtractedAt:    time.Now(),
		})
	}
	return out
}

func (f *forumExtractor) cleanPost(blockText string) (string, string) {
	if f.lex.isNewsContent(blockText) {
		return "", "news_content"
	}
	if !f.lex.hasOwnershipPhrase(blockText) {
		return "", "no_ownership"
	}
	return cleanBlock(blockText, f.cfg, f.lex)
}

const forumPostSelector = `article, div[class*="post"], li[class*="post"], div[class*="message"], div[class*="comment"]`

// forumPosts collects the outermost elements that look like individual posts.
// Wrapper elements holding many posts carry several distinct usernames and
// are skipped so their children match individually.
func forumPosts(doc *goquery.Document) []forumPost {
	var posts []forumPost
	collected := make(map[*html.Node]bool)

	doc.Find(forumPostSelector).Each(func(_ int, s *goquery.Selection) {
		if len(s.Nodes) == 0 || hasCollectedAncestor(s.Nodes[0], collected) {
			return
		}
		author := postAuthor(s)
		if author == "" {
			return
		}
		postedAt, hasMarker := postTimestamp(s)
		if !hasMarker {
			return
		}
		text := postBody(s)
		if text == "" {
			return
		}
		collected[s.Nodes[0]] = true
		posts = append(posts, forumPost{author: author, text: text, postedAt: postedAt})
	})
	return posts
}

func hasCollectedAncestor(n *html.Node, collected map[*html.Node]bool) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if collected[p] {
			return true
		}
	}
	return false
}

// postAuthor returns the block's username when exactly one distinct username
// marker is present. Zero means no post structure, several means the block
// wraps multiple posts.
func postAuthor(s *goquery.Selection) string {
	seen := make(map[string]bool)
	author := ""
	s.Find(`[class*="username"], [class*="author"], [itemprop="author"]`).Each(func(_ int, u *goquery.Selection) {
		name := normalizeSpace(u.Text())
		if name == "" || len(name) > 60 {
			return
		}
		if !seen[name] {
			seen[name] = true
			if author == "" {
				author = name
			}
		}
	})
	if len(seen) != 1 {
		return ""
	}
	return author
}

// postTimestamp reports whether the block carries a timestamp marker and, if
// its value is machine-readable, the parsed time
func postTimestamp(s *goquery.Selection) (*time.Time, bool) {
	timeNode := s.Find("time").First()
	if timeNode.Length() > 0 {
		if raw := timeNode.AttrOr("datetime", ""); raw != "" {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				t = t.UTC()
				return &t, true
			}
		}
		if raw := timeNode.AttrOr("data-time", ""); raw != "" {
			if sec, err := strconv.ParseInt(raw, 10, 64); err == nil && sec > 0 {
				t := time.Unix(sec, 0).UTC()
				return &t, true
			}
		}
		return nil, true
	}
	if s.Find(`[class*="date"], [class*="Date"]`).Length() > 0 {
		return nil, true
	}
	return nil, false
}

// postBody prefers a dedicated content node so usernames, signatures and
// toolbars around the post text stay out of the candidate
func postBody(s *goquery.Selection) string {
	for _, sel := range []string{
		`[class*="bbWrapper"]`,
		`[class*="message-body"]`,
		`[class*="post-content"]`,
		`[class*="content"]`,
		`[class*="body"]`,
	} {
		if node := s.Find(sel).First(); node.Length() > 0 {
			if text := normalizeSpace(node.Text()); text != "" {
				return text
			}
		}
	}
	return normalizeSpace(s.Text())
}

func pageTitle(doc *goquery.Document) string {
	if t := normalizeSpace(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	return normalizeSpace(doc.Find("title").First().Text())
}

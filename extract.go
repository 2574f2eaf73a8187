package harvester

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/reviewdeck/harvester/internal/metrics"
	"github.com/reviewdeck/harvester/models"
)

// pageDoc bundles one fetched page with its request context. Structural
// chrome (scripts, styles, nav, footers) is stripped at parse time so every
// downstream gate sees only visible content.
type pageDoc struct {
	url     string
	product string
	raw     string
	doc     *goquery.Document
}

func parsePage(pageHTML, pageURL, productName string) (*pageDoc, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, err
	}
	doc.Find("script, style, noscript, nav, footer, aside").Remove()
	return &pageDoc{url: pageURL, product: productName, raw: pageHTML, doc: doc}, nil
}

// visible returns the page's visible text with whitespace collapsed
func (p *pageDoc) visible() string {
	return normalizeSpace(p.doc.Text())
}

// extractor is the per-source-kind segmentation strategy. The generic page
// extractor is the default; reddit and forum supply their own segmentation.
type extractor interface {
	extract(p *pageDoc) []models.RawCandidate
}

// ExtractCandidates turns one page into raw review candidates for its source
// kind. Output order follows document order but carries no other meaning.
func (h *Harvester) ExtractCandidates(pageHTML string, kind models.SourceKind, pageURL, productName string) []models.RawCandidate {
	p, err := parsePage(pageHTML, pageURL, productName)
	if err != nil {
		return nil
	}

	candidates := h.extractorFor(kind).extract(p)
	metrics.CandidatesExtracted.WithLabelValues(string(kind)).Add(float64(len(candidates)))
	return candidates
}

func (h *Harvester) extractorFor(kind models.SourceKind) extractor {
	switch kind {
	case models.SourceReddit:
		return &redditExtractor{cfg: h.config, lex: h.lexicon}
	case models.SourceForum:
		return &forumExtractor{cfg: h.config, lex: h.lexicon}
	case models.SourceStore:
		return &storeExtractor{cfg: h.config, lex: h.lexicon}
	}
	return &genericExtractor{kind: kind, cfg: h.config, lex: h.lexicon}
}

// genericExtractor implements the shared page-level path used by store and
// forum pages: admission gate, relevance gate, block segmentation, noise
// filter, opinion-token requirement, length bounds.
type genericExtractor struct {
	kind models.SourceKind
	cfg  Config
	lex  *Lexicon
}

func (g *genericExtractor) extract(p *pageDoc) []models.RawCandidate {
	if !pageAdmitted(p, g.cfg, g.kind) {
		return nil
	}

	blocks := segmentBlocks(p.doc)
	if len(blocks) == 0 {
		blocks = readabilityBlocks(p)
	}

	var out []models.RawCandidate
	for _, blockText := range blocks {
		text, gate := cleanBlock(blockText, g.cfg, g.lex)
		if gate != "" {
			metrics.CandidatesRejected.WithLabelValues(string(g.kind), gate).Inc()
			continue
		}
		out = append(out, models.RawCandidate{
			Text:        text,
			SourceKind:  g.kind,
			SourceURL:   p.url,
			ExtractedAt: time.Now(),
		})
	}
	return out
}

// pageAdmitted applies the page-level gates: minimum visible text length and
// minimum product-name mentions. Pages failing either produce no candidates.
func pageAdmitted(p *pageDoc, cfg Config, kind models.SourceKind) bool {
	text := p.visible()
	if len(text) < cfg.MinPageTextLen {
		metrics.CandidatesRejected.WithLabelValues(string(kind), "admission").Inc()
		return false
	}
	if p.product != "" {
		mentions := strings.Count(strings.ToLower(text), strings.ToLower(p.product))
		if mentions < cfg.MinProductMentions {
			metrics.CandidatesRejected.WithLabelValues(string(kind), "relevance").Inc()
			return false
		}
	}
	return true
}

// segmentBlocks splits a page into block-level text candidates along natural
// paragraph boundaries. Nested elements can repeat their parent's text; the
// deduplicator owns removing those.
func segmentBlocks(doc *goquery.Document) []string {
	var blocks []string
	seen := make(map[string]bool)
	doc.Find("p, blockquote, li").Each(func(_ int, s *goquery.Selection) {
		text := normalizeSpace(s.Text())
		if text == "" || seen[text] {
			return
		}
		seen[text] = true
		blocks = append(blocks, text)
	})
	return blocks
}

// readabilityBlocks is the fallback segmentation for pages whose markup has
// no usable block elements: run readability's main-content extraction and
// split its output into paragraphs
func readabilityBlocks(p *pageDoc) []string {
	parsedURL, err := url.Parse(p.url)
	if err != nil {
		return nil
	}

	article, err := readability.FromReader(strings.NewReader(p.raw), parsedURL)
	if err != nil {
		return nil
	}

	if article.Content != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content)); err == nil {
			if blocks := segmentBlocks(doc); len(blocks) > 0 {
				return blocks
			}
		}
	}

	var blocks []string
	for _, line := range strings.Split(article.TextContent, "\n") {
		if text := normalizeSpace(line); text != "" {
			blocks = append(blocks, text)
		}
	}
	return blocks
}

// cleanBlock runs the noise filter and bounds over one block. It returns the
// cleaned text and the name of the gate that rejected it ("" means keep).
// Text following a signature separator is cut before any other check.
func cleanBlock(text string, cfg Config, lex *Lexicon) (string, string) {
	if idx := strings.Index(text, "---"); idx != -1 {
		text = strings.TrimSpace(text[:idx])
	}
	if lex.isQuotedReply(text) {
		return "", "quoted_reply"
	}
	if lex.isNoise(text) {
		return "", "noise"
	}
	if !lex.hasOpinionToken(text) {
		return "", "no_opinion_token"
	}
	if len(text) < cfg.MinCandidateLen {
		return "", "too_short"
	}
	if len(text) > cfg.MaxCandidateLen {
		text = truncateText(text, cfg.MaxCandidateLen)
	}
	return text, ""
}

// normalizeSpace collapses all runs of whitespace to single spaces
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateText cuts a string to at most max bytes without splitting a rune
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}

// contentFingerprint derives a stable per-source review id from a page URL
// and the head of the candidate text
func contentFingerprint(pageURL, text string) string {
	head := text
	if len(head) > 100 {
		head = head[:100]
	}
	sum := md5.Sum([]byte(pageURL + head))
	return hex.EncodeToString(sum[:])[:16]
}

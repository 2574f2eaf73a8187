package harvester

import (
	"strings"

	"golang.org/x/net/html"
)

// structural tags whose text never belongs to page content
var skippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"footer":   true,
	"aside":    true,
	"iframe":   true,
}

// visibleText extracts the human-visible text from a parsed page,
// skipping scripts, styles, navigation and other structural chrome
func visibleText(n *html.Node) string {
	var buf strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}
		if n.Type == html.ElementNode && skippedTags[n.Data] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return strings.TrimSpace(buf.String())
}

// visibleTextFromHTML parses raw HTML and returns its visible text.
// Parse failures return an empty string, which callers treat as a thin page.
func visibleTextFromHTML(pageHTML string) string {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return ""
	}
	return visibleText(doc)
}

// NeedsRendering decides whether a plain-HTTP response is good enough to
// extract from, or whether the page must be re-fetched through the headless
// renderer. Escalates when any heuristic trips:
//   - the raw HTML mentions a JS/cookie wall phrase
//   - the visible text is shorter than Config.MinStaticTextLen
//   - no opinion token appears anywhere in the visible text
//
// Empty or unparseable input fails open toward rendering: a false positive
// costs latency, a false negative costs results.
func (h *Harvester) NeedsRendering(pageHTML string) bool {
	if strings.TrimSpace(pageHTML) == "" {
		return true
	}
	if h.lexicon == nil {
		return true
	}

	if h.lexicon.wall.matchesAny(pageHTML) {
		return true
	}

	text := visibleTextFromHTML(pageHTML)
	if len(text) < h.config.MinStaticTextLen {
		return true
	}

	if !h.lexicon.hasOpinionToken(text) {
		return true
	}

	return false
}

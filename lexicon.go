package harvester

import (
	"fmt"
	"os"
	"strings"

	"github.com/cloudflare/ahocorasick"
	"gopkg.in/yaml.v3"
)

// Lexicon holds the phrase lists that drive extraction heuristics.
// Lists are plain data so new sources can be tuned without touching
// extraction logic; a YAML file can replace any category at startup.
type Lexicon struct {
	// WallPhrases indicate a JS or cookie wall in raw page HTML
	WallPhrases []string `yaml:"wall_phrases"`
	// NoisePhrases reject boilerplate blocks (cookie banners, nav, marketing, UI fragments)
	NoisePhrases []string `yaml:"noise_phrases"`
	// OpinionTokens mark text as opinion-bearing; a block with none is discarded
	OpinionTokens []string `yaml:"opinion_tokens"`
	// BotSuffixes drop comments from authors whose name ends with one
	BotSuffixes []string `yaml:"bot_suffixes"`
	// QuotePrefixes drop quoted-reply blocks
	QuotePrefixes []string `yaml:"quote_prefixes"`
	// OwnershipPhrases signal first-hand experience on forum pages
	OwnershipPhrases []string `yaml:"ownership_phrases"`
	// RejectionPhrases mark news/announcement pages rather than discussions
	RejectionPhrases []string `yaml:"rejection_phrases"`

	wall      *phraseMatcher
	noise     *phraseMatcher
	opinion   *phraseMatcher
	ownership *phraseMatcher
	rejection *phraseMatcher
}

// DefaultLexicon returns the built-in phrase lists, compiled and ready to use
func DefaultLexicon() *Lexicon {
	lex := &Lexicon{
		WallPhrases: []string{
			"enable javascript",
			"javascript is required",
			"javascript is disabled",
			"turn on javascript",
			"cookies required",
			"accept cookies to continue",
			"checking your browser",
			"verify you are a human",
			"are you a robot",
			"access denied",
		},
		NoisePhrases: []string{
			// Cookie and privacy banners
			"we use cookies",
			"cookie policy",
			"cookie settings",
			"accept all cookies",
			"privacy policy",
			"manage preferences",
			"your privacy choices",
			// Loading and error strings
			"loading...",
			"please wait",
			"an error occurred",
			"something went wrong",
			"page not found",
			"try again later",
			// Navigation markers
			"skip to main content",
			"skip to content",
			"main menu",
			"site navigation",
			"back to top",
			"jump to page",
			"previous page",
			"next page",
			// Marketing
			"click here",
			"subscribe to our newsletter",
			"sign up for",
			"free shipping",
			"add to cart",
			"add to basket",
			"buy now",
			"shop now",
			"limited time offer",
			// Social/UI fragments
			"share this",
			"like this post",
			"leave a comment",
			"log in to reply",
			"sign in to comment",
			"follow us",
			"report this post",
			"reply with quote",
			"terms of service",
		},
		OpinionTokens: []string{
			"review",
			"worth it",
			"recommend",
			"disappointed",
			"quality",
			"works well",
			"works great",
			"i bought",
			"i own",
			"i use",
			"i've been using",
			"my experience",
			"love it",
			"hate it",
			"returned",
			"pros and cons",
			"excellent",
			"terrible",
			"satisfied",
			"value for money",
			"after a week",
			"after a month",
		},
		BotSuffixes: []string{
			"bot",
			"_bot",
			"-bot",
			"automoderator",
		},
		QuotePrefixes: []string{
			">>",
			">",
		},
		OwnershipPhrases: []string{
			"i bought",
			"i own",
			"i have",
			"i've been",
			"my experience",
			"my opinion",
			"using for",
			"owned for",
			"pros and cons",
			"recommend",
		},
		RejectionPhrases: []string{
			"press release",
			"breaking news",
			"just announced",
			"coming soon",
			"stock alert",
			"price drop",
			"rumor",
			"leaked specs",
		},
	}
	lex.Compile()
	return lex
}

// LoadLexicon reads a YAML lexicon file and merges it over the defaults.
// A non-empty category in the file replaces the default list for that category.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon file: %w", err)
	}

	var override Lexicon
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon file: %w", err)
	}

	lex := DefaultLexicon()
	if len(override.WallPhrases) > 0 {
		lex.WallPhrases = override.WallPhrases
	}
	if len(override.NoisePhrases) > 0 {
		lex.NoisePhrases = override.NoisePhrases
	}
	if len(override.OpinionTokens) > 0 {
		lex.OpinionTokens = override.OpinionTokens
	}
	if len(override.BotSuffixes) > 0 {
		lex.BotSuffixes = override.BotSuffixes
	}
	if len(override.QuotePrefixes) > 0 {
		lex.QuotePrefixes = override.QuotePrefixes
	}
	if len(override.OwnershipPhrases) > 0 {
		lex.OwnershipPhrases = override.OwnershipPhrases
	}
	if len(override.RejectionPhrases) > 0 {
		lex.RejectionPhrases = override.RejectionPhrases
	}
	lex.Compile()
	return lex, nil
}

// Compile rebuilds the phrase matchers. Must be called after any list changes.
func (l *Lexicon) Compile() {
	l.wall = newPhraseMatcher(l.WallPhrases)
	l.noise = newPhraseMatcher(l.NoisePhrases)
	l.opinion = newPhraseMatcher(l.OpinionTokens)
	l.ownership = newPhraseMatcher(l.OwnershipPhrases)
	l.rejection = newPhraseMatcher(l.RejectionPhrases)
}

// hasOpinionToken reports whether the text contains any opinion-indicating token
func (l *Lexicon) hasOpinionToken(text string) bool {
	return l.opinion.matchesAny(text)
}

// isNoise reports whether the block matches any boilerplate phrase
func (l *Lexicon) isNoise(text string) bool {
	return l.noise.matchesAny(text)
}

// isBotAuthor reports whether an author name ends in a bot-indicating suffix
func (l *Lexicon) isBotAuthor(author string) bool {
	name := strings.ToLower(strings.TrimSpace(author))
	if name == "" {
		return false
	}
	for _, suffix := range l.BotSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// isQuotedReply reports whether the block starts with a quoted-reply prefix
func (l *Lexicon) isQuotedReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, prefix := range l.QuotePrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// hasOwnershipPhrase reports whether the text signals first-hand experience
func (l *Lexicon) hasOwnershipPhrase(text string) bool {
	return l.ownership.matchesAny(text)
}

// isNewsContent reports whether the text reads like an announcement or press item
func (l *Lexicon) isNewsContent(text string) bool {
	return l.rejection.matchesAny(text)
}

// phraseMatcher wraps an Aho-Corasick automaton for one phrase category.
// Matching is a single pass over the lowercased input.
type phraseMatcher struct {
	phrases []string
	matcher *ahocorasick.Matcher
}

func newPhraseMatcher(phrases []string) *phraseMatcher {
	m := &phraseMatcher{phrases: phrases}
	if len(phrases) > 0 {
		lowered := make([]string, len(phrases))
		for i, p := range phrases {
			lowered[i] = strings.ToLower(p)
		}
		m.matcher = ahocorasick.NewStringMatcher(lowered)
	}
	return m
}

// matchesAny reports whether any phrase occurs as a substring of text
func (m *phraseMatcher) matchesAny(text string) bool {
	if m.matcher == nil {
		return false
	}
	hits := m.matcher.Match([]byte(strings.ToLower(text)))
	return len(hits) > 0
}

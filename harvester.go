// Package harvester collects product reviews from retailer pages, reddit
// threads and enthusiast forums, and distills them into a single validated,
// deduplicated shape. Pages are fetched over plain HTTP first and escalated
// to a headless browser only when the static HTML is not worth extracting
// from.
package harvester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/reviewdeck/harvester/internal/metrics"
	"github.com/reviewdeck/harvester/models"
	"github.com/reviewdeck/harvester/slug"
)

var (
	// ErrProductNotFound is returned when a product id has no registration
	ErrProductNotFound = errors.New("product not found")
	// ErrUnknownSource is returned for a source name outside store/reddit/forum
	ErrUnknownSource = errors.New("unknown source")
)

// Config holds the harvester tuning knobs. Every threshold the pipeline
// applies lives here so deployments can tighten or loosen gates without a
// rebuild.
type Config struct {
	UserAgent      string
	FetchTimeout   time.Duration // plain HTTP budget per page
	FetchRetries   int           // extra attempts after the first
	RetryBaseDelay time.Duration
	HostRPS        float64 // politeness limit per host
	HostBurst      int

	RenderTimeout        time.Duration // whole headless render incl. navigation
	RenderSettleWait     time.Duration // extra wait when no selector appears
	MaxRendersPerRequest int           // hard cap shared by all tasks of one request
	WaitSelectors        []string      // review-shaped elements that mark a settled page

	MinStaticTextLen   int // below this a static page escalates to the renderer
	MinPageTextLen     int // page admission gate
	MinProductMentions int // page relevance gate
	MinCandidateLen    int
	MaxCandidateLen    int

	MinRedditComments int // threads with fewer comments are skipped
	MinCommentWords   int
	TopRedditComments int
	MaxForumBlocks    int

	SimilarityThreshold float64 // near-duplicate cutoff
	ConfidenceFloor     float64 // classifier verdicts below this are dropped
	DegradedConfidence  float64 // assigned when classification is unavailable

	ClassifierURL         string // empty disables classification
	ClassifierModel       string
	ClassifierBatchSize   int
	ClassifyTimeout       time.Duration
	MaxClassifyConcurrent int

	FreshnessWindow    time.Duration // persisted reviews younger than this are reused
	MaxSearchThreads   int           // reddit threads fetched per request
	MaxForumThreads    int           // forum threads fetched per request
	MaxPageConcurrency int           // parallel page fetches within one task
	ForumSites         []string
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		FetchTimeout:   10 * time.Second,
		FetchRetries:   2,
		RetryBaseDelay: 500 * time.Millisecond,
		HostRPS:        1,
		HostBurst:      2,

		RenderTimeout:        30 * time.Second,
		RenderSettleWait:     5 * time.Second,
		MaxRendersPerRequest: 2,
		WaitSelectors: []string{
			`div[data-attrid="user_review"]`,
			`[data-hook="review"]`,
			`[itemprop="review"]`,
			`div[class*="review"]`,
			`div[class*="comment"]`,
		},

		MinStaticTextLen:   200,
		MinPageTextLen:     3000,
		MinProductMentions: 3,
		MinCandidateLen:    50,
		MaxCandidateLen:    3000,

		MinRedditComments: 5,
		MinCommentWords:   10,
		TopRedditComments: 3,
		MaxForumBlocks:    10,

		SimilarityThreshold: 0.90,
		ConfidenceFloor:     0.5,
		DegradedConfidence:  0.5,

		ClassifierURL:         "http://localhost:11434",
		ClassifierModel:       "llama3.2:3b",
		ClassifierBatchSize:   20,
		ClassifyTimeout:       60 * time.Second,
		MaxClassifyConcurrent: 3,

		FreshnessWindow:    7 * 24 * time.Hour,
		MaxSearchThreads:   5,
		MaxForumThreads:    15,
		MaxPageConcurrency: 4,
		ForumSites: []string{
			"head-fi.org",
			"avforums.com",
			"forums.whathifi.com",
		},
	}
}

// DB is the part of the database layer the harvester needs
type DB interface {
	GetProductByID(id string) (*models.Product, error)
	GetFreshReviews(productID string, sources []string, since time.Time) ([]models.Review, error)
	SaveReview(review *models.Review) error
}

// Archiver stores rendered page snapshots so extraction misses can be
// debugged against the HTML the pipeline actually saw
type Archiver interface {
	Save(ctx context.Context, key string, data []byte) (string, error)
}

// ResponseCache short-circuits repeated requests for the same product.
// Get returns (nil, nil) on a miss.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Harvester is the review ingestion pipeline. All dependencies beyond the
// config are optional: a nil renderer disables escalation, a nil classifier
// passes candidates through degraded, a nil cache disables response reuse.
type Harvester struct {
	config     Config
	lexicon    *Lexicon
	db         DB
	archive    Archiver
	cache      ResponseCache
	renderer   Renderer
	classifier *classifierClient
	httpClient *http.Client

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// New creates a Harvester. A nil lexicon selects the built-in phrase lists.
func New(config Config, lexicon *Lexicon, database DB, archive Archiver, renderer Renderer, cache ResponseCache) *Harvester {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}

	var classifier *classifierClient
	if config.ClassifierURL != "" {
		classifier = newClassifierClient(config.ClassifierURL, config.ClassifierModel, config.ClassifyTimeout, config.MaxClassifyConcurrent)
	}

	return &Harvester{
		config:     config,
		lexicon:    lexicon,
		db:         database,
		archive:    archive,
		cache:      cache,
		renderer:   renderer,
		classifier: classifier,
		httpClient: &http.Client{
			Timeout:   config.FetchTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiters: make(map[string]*rate.Limiter),
	}
}

// renderBudget caps headless renders within one request. The cap is shared
// by all per-source tasks, so acquisition must be atomic.
type renderBudget struct {
	remaining atomic.Int32
}

func newRenderBudget(n int) *renderBudget {
	b := &renderBudget{}
	b.remaining.Store(int32(n))
	return b
}

func (b *renderBudget) tryAcquire() bool {
	for {
		cur := b.remaining.Load()
		if cur <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// fetchCandidates obtains one page, escalating to the renderer when the
// static HTML is a JS shell and budget remains, and extracts candidates
// from whatever HTML it ends up with. All failures degrade to an empty
// candidate list.
func (h *Harvester) fetchCandidates(ctx context.Context, pageURL string, kind models.SourceKind, productName string, budget *renderBudget) []models.RawCandidate {
	result := h.fetchPage(ctx, pageURL)
	if result.Err != nil {
		metrics.PagesFetched.WithLabelValues(string(kind), "error").Inc()
		log.Printf("Fetch failed for %s: %v", pageURL, result.Err)
	} else {
		metrics.PagesFetched.WithLabelValues(string(kind), "ok").Inc()
	}

	pageHTML := result.HTML

	// The reddit JSON endpoint never benefits from a browser
	if kind != models.SourceReddit && h.renderer != nil && h.NeedsRendering(pageHTML) {
		if budget.tryAcquire() {
			rendered, err := h.renderPage(ctx, pageURL, kind)
			if err != nil {
				log.Printf("Render failed for %s, using static HTML: %v", pageURL, err)
			} else {
				pageHTML = rendered
			}
		}
	}

	if strings.TrimSpace(pageHTML) == "" {
		return nil
	}
	return h.ExtractCandidates(pageHTML, kind, pageURL, productName)
}

func (h *Harvester) renderPage(ctx context.Context, pageURL string, kind models.SourceKind) (string, error) {
	start := time.Now()
	opts := RenderOptions{
		WaitSelectors:  h.config.WaitSelectors,
		Timeout:        h.config.RenderTimeout,
		SettleWait:     h.config.RenderSettleWait,
		ScrollToStable: kind == models.SourceStore,
	}

	pageHTML, err := h.renderer.Render(ctx, pageURL, opts)
	metrics.FetchDuration.WithLabelValues("true").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}

	metrics.PagesRendered.Inc()
	h.archiveSnapshot(ctx, pageURL, pageHTML)
	return pageHTML, nil
}

func (h *Harvester) archiveSnapshot(ctx context.Context, pageURL, pageHTML string) {
	if h.archive == nil || pageHTML == "" {
		return
	}
	key := fmt.Sprintf("snapshots/%s-%s.html", slug.FromURL(pageURL), time.Now().UTC().Format("20060102T150405"))
	if _, err := h.archive.Save(ctx, key, []byte(pageHTML)); err != nil {
		log.Printf("Failed to archive snapshot for %s: %v", pageURL, err)
	}
}

// CommunityReviews collects opinions about a product from reddit and forums.
// Nothing is persisted; the envelope is cached for the freshness window.
func (h *Harvester) CommunityReviews(ctx context.Context, req models.CommunityReviewsRequest) (*models.ReviewsEnvelope, error) {
	productName := strings.TrimSpace(req.ProductName)
	if productName == "" {
		return nil, fmt.Errorf("product_name is required")
	}
	query := productName
	if brand := strings.TrimSpace(req.Brand); brand != "" && !strings.Contains(strings.ToLower(productName), strings.ToLower(brand)) {
		query = brand + " " + productName
	}

	cacheKey := "community:" + normalizeForHash(query)
	if env := h.cachedEnvelope(ctx, cacheKey); env != nil {
		return env, nil
	}

	budget := newRenderBudget(h.config.MaxRendersPerRequest)
	results := make(chan []models.RawCandidate, 2)
	var wg sync.WaitGroup
	for _, kind := range []models.SourceKind{models.SourceReddit, models.SourceForum} {
		wg.Add(1)
		go func(kind models.SourceKind) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Source task %s panicked: %v", kind, r)
				}
			}()
			switch kind {
			case models.SourceReddit:
				results <- h.redditCandidates(ctx, query, productName, budget)
			case models.SourceForum:
				results <- h.forumCandidates(ctx, query, productName, budget)
			}
		}(kind)
	}
	wg.Wait()
	close(results)

	var all []models.RawCandidate
	for batch := range results {
		all = append(all, batch...)
	}

	rawCount := len(all)
	deduped := h.Deduplicate(all)
	reviews := h.ValidateAndNormalize(ctx, deduped, "community discussion about "+productName)

	env := &models.ReviewsEnvelope{
		Success:     true,
		ProductName: productName,
		Source:      "community",
		Summary:     communitySummary(reviews),
		Reviews:     reviews,
		TotalFound:  len(reviews),
		RawCount:    rawCount,
	}
	h.storeEnvelope(ctx, cacheKey, env)
	return env, nil
}

// StoreReviews extracts reviews from caller-supplied retailer pages.
// Nothing is persisted; the envelope is cached for the freshness window.
func (h *Harvester) StoreReviews(ctx context.Context, req models.StoreReviewsRequest) (*models.ReviewsEnvelope, error) {
	productName := strings.TrimSpace(req.ProductName)
	if productName == "" {
		return nil, fmt.Errorf("product_name is required")
	}
	if len(req.StoreURLs) == 0 {
		return nil, fmt.Errorf("store_urls is required")
	}

	cacheKey := "store:" + normalizeForHash(productName+" "+strings.Join(req.StoreURLs, " "))
	if env := h.cachedEnvelope(ctx, cacheKey); env != nil {
		return env, nil
	}

	budget := newRenderBudget(h.config.MaxRendersPerRequest)
	concurrency := h.config.MaxPageConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	results := make(chan []models.RawCandidate, len(req.StoreURLs))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, storeURL := range req.StoreURLs {
		wg.Add(1)
		go func(storeURL string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Store page task panicked for %s: %v", storeURL, r)
				}
			}()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			results <- h.fetchCandidates(ctx, storeURL, models.SourceStore, productName, budget)
		}(storeURL)
	}
	wg.Wait()
	close(results)

	var all []models.RawCandidate
	for batch := range results {
		all = append(all, batch...)
	}

	rawCount := len(all)
	deduped := h.Deduplicate(all)
	reviews := h.ValidateAndNormalize(ctx, deduped, "store reviews for "+productName)

	env := &models.ReviewsEnvelope{
		Success:     true,
		ProductName: productName,
		Source:      "store",
		Summary:     storeSummary(reviews),
		Reviews:     reviews,
		TotalFound:  len(reviews),
		RawCount:    rawCount,
	}
	h.storeEnvelope(ctx, cacheKey, env)
	return env, nil
}

// FetchReviews runs the full pipeline for a registered product and persists
// the results. Persisted reviews younger than the freshness window are
// returned without scraping unless force_refresh is set. Each requested
// source runs in its own goroutine; one source failing never affects the
// others.
func (h *Harvester) FetchReviews(ctx context.Context, productID string, req models.ProductReviewsRequest) (*models.ProductReviewsResponse, error) {
	if h.db == nil {
		return nil, fmt.Errorf("database not configured")
	}

	kinds, err := parseSources(req.Sources)
	if err != nil {
		return nil, err
	}

	product, err := h.db.GetProductByID(productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}

	sources := make([]string, len(kinds))
	for i, kind := range kinds {
		sources[i] = string(kind)
	}

	if !req.ForceRefresh {
		since := time.Now().Add(-h.config.FreshnessWindow)
		fresh, err := h.db.GetFreshReviews(productID, sources, since)
		if err != nil {
			log.Printf("Fresh review lookup failed for product %s: %v", productID, err)
		} else if len(fresh) > 0 {
			return &models.ProductReviewsResponse{
				Success:   true,
				ProductID: productID,
				Reviews:   fresh,
				Total:     len(fresh),
			}, nil
		}
	}

	productName := product.Title
	query := productName
	if product.Brand != "" && !strings.Contains(strings.ToLower(productName), strings.ToLower(product.Brand)) {
		query = product.Brand + " " + productName
	}

	budget := newRenderBudget(h.config.MaxRendersPerRequest)
	type taskResult struct {
		kind       models.SourceKind
		candidates []models.RawCandidate
	}
	results := make(chan taskResult, len(kinds))
	var wg sync.WaitGroup
	for _, kind := range kinds {
		wg.Add(1)
		go func(kind models.SourceKind) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Source task %s panicked for product %s: %v", kind, productID, r)
				}
			}()
			var candidates []models.RawCandidate
			switch kind {
			case models.SourceStore:
				if product.URL != "" {
					candidates = h.fetchCandidates(ctx, product.URL, models.SourceStore, productName, budget)
				}
			case models.SourceReddit:
				candidates = h.redditCandidates(ctx, query, productName, budget)
			case models.SourceForum:
				candidates = h.forumCandidates(ctx, query, productName, budget)
			}
			results <- taskResult{kind: kind, candidates: candidates}
		}(kind)
	}
	wg.Wait()
	close(results)

	var all []models.RawCandidate
	for r := range results {
		all = append(all, r.candidates...)
	}

	deduped := h.Deduplicate(all)
	var storeCands, communityCands []models.RawCandidate
	for _, c := range deduped {
		if c.SourceKind == models.SourceStore {
			storeCands = append(storeCands, c)
		} else {
			communityCands = append(communityCands, c)
		}
	}

	var validated []models.ValidatedReview
	validated = append(validated, h.ValidateAndNormalize(ctx, storeCands, "store reviews for "+productName)...)
	validated = append(validated, h.ValidateAndNormalize(ctx, communityCands, "community discussion about "+productName)...)

	persisted := h.persistReviews(productID, validated)
	return &models.ProductReviewsResponse{
		Success:   true,
		ProductID: productID,
		Reviews:   persisted,
		Total:     len(persisted),
	}, nil
}

// persistReviews upserts validated reviews. Individual save failures are
// logged and skipped so one bad row cannot lose the batch.
func (h *Harvester) persistReviews(productID string, reviews []models.ValidatedReview) []models.Review {
	out := make([]models.Review, 0, len(reviews))
	now := time.Now().UTC()
	for _, v := range reviews {
		review := &models.Review{
			ProductID:      productID,
			Source:         string(v.Source),
			SourceReviewID: v.SourceReviewID,
			Author:         v.Author,
			Rating:         v.Rating,
			ReviewText:     v.Content,
			ReviewTitle:    v.Title,
			URL:            v.URL,
			Confidence:     v.Confidence,
			PostedAt:       v.PostedAt,
			FetchedAt:      now,
		}
		if err := h.db.SaveReview(review); err != nil {
			log.Printf("Failed to save review %s/%s: %v", v.Source, v.SourceReviewID, err)
			continue
		}
		metrics.ReviewsPersisted.Inc()
		out = append(out, *review)
	}
	return out
}

// redditCandidates discovers threads about the product and extracts from
// each thread's JSON endpoint
func (h *Harvester) redditCandidates(ctx context.Context, query, productName string, budget *renderBudget) []models.RawCandidate {
	var out []models.RawCandidate
	for _, permalink := range h.redditThreads(ctx, query) {
		target := "https://www.reddit.com" + strings.TrimSuffix(permalink, "/") + ".json?limit=100&depth=1&sort=best"
		out = append(out, h.fetchCandidates(ctx, target, models.SourceReddit, productName, budget)...)
	}
	return out
}

// redditThreads searches reddit for discussion threads, skipping thin ones
// before their pages are ever fetched
func (h *Harvester) redditThreads(ctx context.Context, query string) []string {
	searchQueries := []string{
		fmt.Sprintf("%q review", query),
		query + " worth it",
	}

	seen := make(map[string]bool)
	var permalinks []string
	for _, q := range searchQueries {
		if len(permalinks) >= h.config.MaxSearchThreads {
			break
		}
		searchURL := "https://www.reddit.com/search.json?" + url.Values{
			"q":     {q},
			"sort":  {"relevance"},
			"t":     {"year"},
			"limit": {"10"},
		}.Encode()

		result := h.fetchPage(ctx, searchURL)
		if result.Err != nil {
			log.Printf("Reddit search failed for %q: %v", q, result.Err)
			continue
		}

		var listing redditListing
		if err := json.Unmarshal([]byte(result.HTML), &listing); err != nil {
			log.Printf("Reddit search returned unparseable payload for %q: %v", q, err)
			continue
		}
		for _, child := range listing.Data.Children {
			if len(permalinks) >= h.config.MaxSearchThreads {
				break
			}
			p := child.Data.Permalink
			if p == "" || seen[p] {
				continue
			}
			if child.Data.NumComments < h.config.MinRedditComments {
				continue
			}
			seen[p] = true
			permalinks = append(permalinks, p)
		}
	}
	return permalinks
}

// forumCandidates extracts posts from discussion threads found on the
// configured forum sites
func (h *Harvester) forumCandidates(ctx context.Context, query, productName string, budget *renderBudget) []models.RawCandidate {
	var out []models.RawCandidate
	for _, threadURL := range h.forumThreads(ctx, query) {
		out = append(out, h.fetchCandidates(ctx, threadURL, models.SourceForum, productName, budget)...)
	}
	return out
}

var threadMarkers = []string{"/thread", "/discussion", "/topic", "/post", "/showthread"}

// forumThreads scans each forum's search page for links that look like
// discussion threads
func (h *Harvester) forumThreads(ctx context.Context, query string) []string {
	seen := make(map[string]bool)
	var threads []string
	for _, site := range h.config.ForumSites {
		if len(threads) >= h.config.MaxForumThreads {
			break
		}
		searchURL := fmt.Sprintf("https://%s/search/?q=%s", site, url.QueryEscape(query))
		result := h.fetchPage(ctx, searchURL)
		if result.Err != nil {
			log.Printf("Forum search failed on %s: %v", site, result.Err)
			continue
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(result.HTML))
		if err != nil {
			continue
		}
		doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if len(threads) >= h.config.MaxForumThreads {
				return false
			}
			link := absoluteURL(site, a.AttrOr("href", ""))
			if link == "" || seen[link] || !isThreadLink(link) {
				return true
			}
			seen[link] = true
			threads = append(threads, link)
			return true
		})
	}
	return threads
}

func isThreadLink(link string) bool {
	lower := strings.ToLower(link)
	for _, marker := range threadMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// absoluteURL resolves a search-result href against its site, dropping
// fragments and off-site links
func absoluteURL(site, href string) string {
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		if !strings.Contains(href, site) {
			return ""
		}
		return href
	}
	return "https://" + site + "/" + strings.TrimPrefix(href, "/")
}

func parseSources(names []string) ([]models.SourceKind, error) {
	if len(names) == 0 {
		names = []string{"store", "reddit", "forum"}
	}
	kinds := make([]models.SourceKind, 0, len(names))
	seen := make(map[models.SourceKind]bool)
	for _, name := range names {
		kind, ok := models.ParseSourceKind(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func (h *Harvester) cachedEnvelope(ctx context.Context, key string) *models.ReviewsEnvelope {
	if h.cache == nil {
		return nil
	}
	data, err := h.cache.Get(ctx, key)
	if err != nil {
		log.Printf("Response cache lookup failed for %s: %v", key, err)
		return nil
	}
	if data == nil {
		return nil
	}
	var env models.ReviewsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}
	return &env
}

func (h *Harvester) storeEnvelope(ctx context.Context, key string, env *models.ReviewsEnvelope) {
	if h.cache == nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := h.cache.Set(ctx, key, data, h.config.FreshnessWindow); err != nil {
		log.Printf("Failed to cache response for %s: %v", key, err)
	}
}

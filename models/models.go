package models

import "time"

// SourceKind identifies the shape of a review source page
type SourceKind string

const (
	SourceStore  SourceKind = "store"
	SourceReddit SourceKind = "reddit"
	SourceForum  SourceKind = "forum"
)

// ParseSourceKind maps a request string onto a known source kind
func ParseSourceKind(s string) (SourceKind, bool) {
	switch SourceKind(s) {
	case SourceStore, SourceReddit, SourceForum:
		return SourceKind(s), true
	}
	return "", false
}

// FetchResult represents the outcome of fetching one URL, rendered or not.
// It is owned by a single fetch task and discarded after extraction.
type FetchResult struct {
	URL        string `json:"url"`
	HTML       string `json:"html"`
	RenderUsed bool   `json:"render_used"`
	Err        error  `json:"-"`
}

// RawCandidate is a review-shaped text block pulled out of a source page
// before deduplication and validation
type RawCandidate struct {
	Text           string     `json:"text"`
	SourceKind     SourceKind `json:"source_kind"`
	SourceURL      string     `json:"source_url"`
	SourceReviewID string     `json:"source_review_id,omitempty"`
	Author         string     `json:"author,omitempty"`
	Title          string     `json:"title,omitempty"`
	RatingHint     *float64   `json:"rating_hint,omitempty"` // store pages only; nil when not observable
	PostedAt       *time.Time `json:"posted_at,omitempty"`
	ExtractedAt    time.Time  `json:"extracted_at"`
}

// ValidatedReview is the canonical review shape produced by the
// validator/normalizer and persisted by the aggregator
type ValidatedReview struct {
	Source         SourceKind `json:"source"`
	SourceReviewID string     `json:"source_review_id"`
	Author         string     `json:"author"`
	Content        string     `json:"content"`
	Title          string     `json:"title,omitempty"`
	Rating         *float64   `json:"rating"` // always nil for reddit/forum sources
	URL            string     `json:"url"`
	Confidence     float64    `json:"confidence"`
	PostedAt       *time.Time `json:"posted_at,omitempty"`
	FetchedAt      time.Time  `json:"fetched_at"`
}

// Review is the persisted row for a validated review
type Review struct {
	ID               string     `json:"id"`
	ProductID        string     `json:"product_id"`
	Source           string     `json:"source"`
	SourceReviewID   string     `json:"source_review_id"`
	Author           string     `json:"author"`
	Rating           *float64   `json:"rating"`
	ReviewText       string     `json:"review_text"`
	ReviewTitle      string     `json:"review_title,omitempty"`
	URL              string     `json:"url,omitempty"`
	VerifiedPurchase bool       `json:"verified_purchase"`
	HelpfulCount     int        `json:"helpful_count"`
	Confidence       float64    `json:"confidence"`
	PostedAt         *time.Time `json:"posted_at,omitempty"`
	FetchedAt        time.Time  `json:"fetched_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Product represents the subject a review request is attached to.
// The pipeline reads product records; it never mutates them after creation.
type Product struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Brand     string    `json:"brand,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ClassifyItem is one candidate text submitted to the external classifier
type ClassifyItem struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"` // "community" or "store"
}

// ClassifyRequest represents a batched request to the classifier service
type ClassifyRequest struct {
	Model string         `json:"model,omitempty"`
	Items []ClassifyItem `json:"items"`
}

// Verdict is the classifier's per-item decision
type Verdict struct {
	IsRealReview bool    `json:"is_real_review"`
	Confidence   float64 `json:"confidence"`
}

// ClassifyResponse represents a response from the classifier service
type ClassifyResponse struct {
	Model   string    `json:"model,omitempty"`
	Results []Verdict `json:"results"`
}

// CommunityReviewsRequest is the body for POST /reviews/community
type CommunityReviewsRequest struct {
	ProductName string `json:"product_name"`
	Brand       string `json:"brand,omitempty"`
}

// StoreReviewsRequest is the body for POST /reviews/store
type StoreReviewsRequest struct {
	ProductName string   `json:"product_name"`
	StoreURLs   []string `json:"store_urls"`
}

// ProductReviewsRequest is the body for POST /product/{id}/reviews
type ProductReviewsRequest struct {
	Sources      []string `json:"sources"`
	ForceRefresh bool     `json:"force_refresh"`
}

// CommunitySummary aggregates a community batch numerically.
// Sentiment wording is out of scope; counts and averages only.
type CommunitySummary struct {
	ReviewCount       int            `json:"review_count"`
	Sources           map[string]int `json:"sources"`
	AverageConfidence float64        `json:"average_confidence"`
}

// StoreSummary aggregates a store batch numerically
type StoreSummary struct {
	ReviewCount   int     `json:"review_count"`
	RatedCount    int     `json:"rated_count"`
	AverageRating float64 `json:"average_rating"`
}

// ReviewsEnvelope is the response shape of the stateless review endpoints
type ReviewsEnvelope struct {
	Success     bool              `json:"success"`
	ProductName string            `json:"product_name"`
	Source      string            `json:"source"` // "community" or "store"
	Summary     any               `json:"summary"`
	Reviews     []ValidatedReview `json:"reviews"`
	TotalFound  int               `json:"total_found"`
	RawCount    int               `json:"raw_count"`
}

// ProductReviewsResponse is the response shape of the product review endpoints
type ProductReviewsResponse struct {
	Success   bool     `json:"success"`
	ProductID string   `json:"product_id"`
	Reviews   []Review `json:"reviews"`
	Total     int      `json:"total"`
}

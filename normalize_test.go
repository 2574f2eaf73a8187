package harvester

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/reviewdeck/harvester/models"
)

func classifierHarvester(serverURL string) *Harvester {
	cfg := testConfig()
	cfg.ClassifierURL = serverURL
	return New(cfg, nil, nil, nil, nil, nil)
}

func TestValidateAndNormalizeDegradedWithoutClassifier(t *testing.T) {
	h := newTestHarvester(testConfig())

	candidates := []models.RawCandidate{
		{
			Text:           "I use it daily on the train and the isolation is superb.",
			SourceKind:     models.SourceReddit,
			SourceURL:      "https://www.reddit.com/r/headphones/comments/abc/x.json",
			SourceReviewID: "reddit_abc_post",
		},
		{
			Text:           "I bought this for travel and the battery easily lasts the trip.",
			SourceKind:     models.SourceStore,
			SourceURL:      "https://store.example.com/p",
			SourceReviewID: "R1AAA",
			RatingHint:     floatPtr(4.5),
		},
	}

	out := h.ValidateAndNormalize(context.Background(), candidates, "community discussion about Aurora X1")
	if len(out) != 2 {
		t.Fatalf("Expected all candidates to pass through degraded, got %d", len(out))
	}
	for _, r := range out {
		if r.Confidence != h.config.DegradedConfidence {
			t.Errorf("Expected degraded confidence %v, got %v", h.config.DegradedConfidence, r.Confidence)
		}
	}
	if out[0].Rating != nil {
		t.Errorf("Expected nil rating for reddit review, got %v", *out[0].Rating)
	}
	if out[1].Rating == nil || *out[1].Rating != 4.5 {
		t.Errorf("Expected store rating 4.5 preserved, got %v", out[1].Rating)
	}
}

func TestValidateAndNormalizeClassifierVerdicts(t *testing.T) {
	verdicts := []models.Verdict{
		{IsRealReview: true, Confidence: 0.9},
		{IsRealReview: false, Confidence: 0.99},
		{IsRealReview: true, Confidence: 0.3},
		{IsRealReview: true, Confidence: 0.5},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.ClassifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(models.ClassifyResponse{Results: verdicts[:len(req.Items)]})
	}))
	defer server.Close()

	h := classifierHarvester(server.URL)

	candidates := make([]models.RawCandidate, 4)
	for i := range candidates {
		candidates[i] = models.RawCandidate{
			Text:       "Candidate text number " + string(rune('a'+i)),
			SourceKind: models.SourceForum,
			SourceURL:  "https://forums.example.com/threads/x.1/",
		}
	}

	out := h.ValidateAndNormalize(context.Background(), candidates, "community discussion about Aurora X1")
	if len(out) != 2 {
		t.Fatalf("Expected 2 survivors (fake dropped, low confidence dropped, floor kept), got %d", len(out))
	}
	if out[0].Confidence != 0.9 {
		t.Errorf("Expected first survivor confidence 0.9, got %v", out[0].Confidence)
	}
	if out[1].Confidence != 0.5 {
		t.Errorf("Expected confidence exactly at the floor kept, got %v", out[1].Confidence)
	}
}

func TestValidateAndNormalizeRetrySucceeds(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req models.ClassifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		results := make([]models.Verdict, len(req.Items))
		for i := range results {
			results[i] = models.Verdict{IsRealReview: true, Confidence: 0.8}
		}
		json.NewEncoder(w).Encode(models.ClassifyResponse{Results: results})
	}))
	defer server.Close()

	h := classifierHarvester(server.URL)

	candidates := []models.RawCandidate{
		{Text: "first candidate", SourceKind: models.SourceReddit, SourceURL: "https://example.com/a"},
		{Text: "second candidate", SourceKind: models.SourceReddit, SourceURL: "https://example.com/b"},
	}

	out := h.ValidateAndNormalize(context.Background(), candidates, "community discussion about Aurora X1")
	if requests != 2 {
		t.Errorf("Expected one retry after the first failure, got %d requests", requests)
	}
	if len(out) != 2 {
		t.Fatalf("Expected both candidates kept, got %d", len(out))
	}
	for _, r := range out {
		if r.Confidence != 0.8 {
			t.Errorf("Expected classifier confidence 0.8, got %v", r.Confidence)
		}
	}
}

func TestValidateAndNormalizeDegradesAfterRetry(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	h := classifierHarvester(server.URL)

	candidates := []models.RawCandidate{
		{Text: "first candidate", SourceKind: models.SourceForum, SourceURL: "https://example.com/a"},
		{Text: "second candidate", SourceKind: models.SourceForum, SourceURL: "https://example.com/b"},
	}

	out := h.ValidateAndNormalize(context.Background(), candidates, "community discussion about Aurora X1")
	if requests != 2 {
		t.Errorf("Expected exactly one retry (2 requests), got %d", requests)
	}
	if len(out) != 2 {
		t.Fatalf("Expected pass-through at degraded confidence, got %d reviews", len(out))
	}
	for _, r := range out {
		if r.Confidence != h.config.DegradedConfidence {
			t.Errorf("Expected degraded confidence %v, got %v", h.config.DegradedConfidence, r.Confidence)
		}
	}
}

func TestValidateAndNormalizeBatching(t *testing.T) {
	var batchSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.ClassifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		batchSizes = append(batchSizes, len(req.Items))
		results := make([]models.Verdict, len(req.Items))
		for i := range results {
			results[i] = models.Verdict{IsRealReview: true, Confidence: 0.9}
		}
		json.NewEncoder(w).Encode(models.ClassifyResponse{Results: results})
	}))
	defer server.Close()

	h := classifierHarvester(server.URL)

	candidates := make([]models.RawCandidate, 45)
	for i := range candidates {
		candidates[i] = models.RawCandidate{
			Text:       strings.Repeat("word ", i+1),
			SourceKind: models.SourceStore,
			SourceURL:  "https://store.example.com/p",
		}
	}

	out := h.ValidateAndNormalize(context.Background(), candidates, "store reviews for Aurora X1")
	if len(out) != 45 {
		t.Fatalf("Expected 45 reviews, got %d", len(out))
	}
	want := []int{20, 20, 5}
	if len(batchSizes) != len(want) {
		t.Fatalf("Expected %d batches, got %v", len(want), batchSizes)
	}
	for i, size := range want {
		if batchSizes[i] != size {
			t.Errorf("Expected batch %d of size %d, got %d", i, size, batchSizes[i])
		}
	}
}

func TestNormalizeCandidatePlaceholderAuthors(t *testing.T) {
	tests := []struct {
		kind models.SourceKind
		want string
	}{
		{models.SourceReddit, "Reddit User"},
		{models.SourceForum, "Forum User"},
		{models.SourceStore, "Store Customer"},
		{models.SourceKind("blog"), "Anonymous"},
	}

	for _, tt := range tests {
		c := models.RawCandidate{Text: "text", SourceKind: tt.kind, SourceURL: "https://example.com"}
		if got := normalizeCandidate(c, 0.7).Author; got != tt.want {
			t.Errorf("Expected placeholder %q for %s, got %q", tt.want, tt.kind, got)
		}
	}

	named := models.RawCandidate{Text: "text", SourceKind: models.SourceReddit, SourceURL: "https://example.com", Author: "real_user"}
	if got := normalizeCandidate(named, 0.7).Author; got != "real_user" {
		t.Errorf("Expected real author preserved, got %q", got)
	}
}

func TestNormalizeCandidateCaps(t *testing.T) {
	longContent := strings.Repeat("a", 2500)
	longTitle := strings.Repeat("t", 150)

	reddit := normalizeCandidate(models.RawCandidate{
		Text:       longContent,
		Title:      longTitle,
		SourceKind: models.SourceReddit,
		SourceURL:  "https://example.com",
		RatingHint: floatPtr(4.0),
	}, 0.8)
	if len(reddit.Content) != 2000 {
		t.Errorf("Expected reddit content capped at 2000, got %d", len(reddit.Content))
	}
	if len(reddit.Title) != 100 {
		t.Errorf("Expected reddit title capped at 100, got %d", len(reddit.Title))
	}
	if reddit.Rating != nil {
		t.Errorf("Expected reddit rating forced nil, got %v", *reddit.Rating)
	}

	forum := normalizeCandidate(models.RawCandidate{
		Text:       longContent,
		Title:      longTitle,
		SourceKind: models.SourceForum,
		SourceURL:  "https://example.com",
	}, 0.8)
	if len(forum.Content) != 1500 {
		t.Errorf("Expected forum content capped at 1500, got %d", len(forum.Content))
	}
	if len(forum.Title) != 120 {
		t.Errorf("Expected forum title capped at 120, got %d", len(forum.Title))
	}
	if forum.Rating != nil {
		t.Errorf("Expected forum rating nil, got %v", *forum.Rating)
	}

	store := normalizeCandidate(models.RawCandidate{
		Text:       longContent,
		Title:      longTitle,
		SourceKind: models.SourceStore,
		SourceURL:  "https://example.com",
		RatingHint: floatPtr(3.5),
	}, 0.8)
	if len(store.Content) != 2500 {
		t.Errorf("Expected store content uncapped at normalization, got %d", len(store.Content))
	}
	if len(store.Title) != 120 {
		t.Errorf("Expected store title capped at 120, got %d", len(store.Title))
	}
	if store.Rating == nil || *store.Rating != 3.5 {
		t.Errorf("Expected store rating preserved, got %v", store.Rating)
	}
}

func TestNormalizeCandidateFingerprintFallback(t *testing.T) {
	c := models.RawCandidate{Text: "some text", SourceKind: models.SourceForum, SourceURL: "https://example.com"}
	r := normalizeCandidate(c, 0.6)
	if len(r.SourceReviewID) != 16 {
		t.Errorf("Expected 16 character fingerprint id, got %q", r.SourceReviewID)
	}

	withID := models.RawCandidate{Text: "some text", SourceKind: models.SourceForum, SourceURL: "https://example.com", SourceReviewID: "given"}
	if got := normalizeCandidate(withID, 0.6).SourceReviewID; got != "given" {
		t.Errorf("Expected provided id kept, got %q", got)
	}
}

func TestCommunitySummary(t *testing.T) {
	now := time.Now()
	reviews := []models.ValidatedReview{
		{Source: models.SourceReddit, Confidence: 0.8, FetchedAt: now},
		{Source: models.SourceReddit, Confidence: 0.8, FetchedAt: now},
		{Source: models.SourceForum, Confidence: 0.7, FetchedAt: now},
	}

	s := communitySummary(reviews)
	if s.ReviewCount != 3 {
		t.Errorf("Expected review count 3, got %d", s.ReviewCount)
	}
	if s.Sources["reddit"] != 2 || s.Sources["forum"] != 1 {
		t.Errorf("Expected sources reddit=2 forum=1, got %v", s.Sources)
	}
	if s.AverageConfidence != 0.77 {
		t.Errorf("Expected average confidence 0.77, got %v", s.AverageConfidence)
	}

	empty := communitySummary(nil)
	if empty.ReviewCount != 0 || empty.AverageConfidence != 0 {
		t.Errorf("Expected zero summary for no reviews, got %+v", empty)
	}
}

func TestStoreSummary(t *testing.T) {
	reviews := []models.ValidatedReview{
		{Source: models.SourceStore, Rating: floatPtr(4.5)},
		{Source: models.SourceStore, Rating: floatPtr(4.0)},
		{Source: models.SourceStore, Rating: nil},
	}

	s := storeSummary(reviews)
	if s.ReviewCount != 3 {
		t.Errorf("Expected review count 3, got %d", s.ReviewCount)
	}
	if s.RatedCount != 2 {
		t.Errorf("Expected rated count 2, got %d", s.RatedCount)
	}
	if s.AverageRating != 4.3 {
		t.Errorf("Expected average rating 4.3, got %v", s.AverageRating)
	}

	unrated := storeSummary([]models.ValidatedReview{{Source: models.SourceStore}})
	if unrated.AverageRating != 0 {
		t.Errorf("Expected zero average when nothing is rated, got %v", unrated.AverageRating)
	}
}

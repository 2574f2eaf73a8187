package harvester

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/reviewdeck/harvester/internal/metrics"
	"github.com/reviewdeck/harvester/models"
)

// Per-source display caps applied at normalization. Extraction already
// bounds candidate length; these match what each source's consumers expect.
const (
	redditContentLimit = 2000
	redditTitleLimit   = 100
	forumContentLimit  = 1500
	forumTitleLimit    = 120
	storeTitleLimit    = 120
)

// ValidateAndNormalize runs deduplicated candidates through the classifier
// in bounded batches and maps the survivors to the canonical review shape.
// A batch that fails classification twice passes through with degraded
// confidence rather than discarding scraped work.
func (h *Harvester) ValidateAndNormalize(ctx context.Context, candidates []models.RawCandidate, contextLabel string) []models.ValidatedReview {
	var out []models.ValidatedReview

	size := h.config.ClassifierBatchSize
	if size < 1 {
		size = 1
	}

	for start := 0; start < len(candidates); start += size {
		end := start + size
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		items := make([]models.ClassifyItem, len(batch))
		for i, c := range batch {
			items[i] = models.ClassifyItem{Text: c.Text, Context: contextLabel}
		}

		verdicts, degraded := h.classifyWithRetry(ctx, items)
		for i, c := range batch {
			verdict := models.Verdict{IsRealReview: true, Confidence: h.config.DegradedConfidence}
			if !degraded {
				verdict = verdicts[i]
			}
			if !verdict.IsRealReview {
				metrics.CandidatesRejected.WithLabelValues(string(c.SourceKind), "classifier").Inc()
				continue
			}
			if verdict.Confidence < h.config.ConfidenceFloor {
				metrics.CandidatesRejected.WithLabelValues(string(c.SourceKind), "confidence_floor").Inc()
				continue
			}
			out = append(out, normalizeCandidate(c, verdict.Confidence))
		}
	}
	return out
}

// classifyWithRetry calls the classifier once, retries once after a backoff,
// and reports degraded=true when both attempts fail or no classifier is
// configured
func (h *Harvester) classifyWithRetry(ctx context.Context, items []models.ClassifyItem) ([]models.Verdict, bool) {
	if h.classifier == nil {
		return nil, true
	}

	verdicts, err := h.classifier.classify(ctx, items)
	if err == nil {
		return verdicts, false
	}
	log.Printf("Classifier batch of %d failed, retrying once: %v", len(items), err)

	select {
	case <-time.After(h.config.RetryBaseDelay):
	case <-ctx.Done():
		return nil, true
	}

	verdicts, err = h.classifier.classify(ctx, items)
	if err == nil {
		return verdicts, false
	}
	log.Printf("Classifier batch of %d failed after retry, passing through with degraded confidence: %v", len(items), err)
	metrics.ClassifierCalls.WithLabelValues("degraded").Inc()
	return nil, true
}

// normalizeCandidate maps a raw candidate to the canonical review shape.
// Community sources never carry a rating; star-like strings in reddit or
// forum text are opinions, not measurements.
func normalizeCandidate(c models.RawCandidate, confidence float64) models.ValidatedReview {
	review := models.ValidatedReview{
		Source:         c.SourceKind,
		SourceReviewID: c.SourceReviewID,
		Author:         c.Author,
		Content:        c.Text,
		Title:          c.Title,
		URL:            c.SourceURL,
		Confidence:     confidence,
		PostedAt:       c.PostedAt,
		FetchedAt:      time.Now(),
	}
	if review.SourceReviewID == "" {
		review.SourceReviewID = contentFingerprint(c.SourceURL, c.Text)
	}

	switch c.SourceKind {
	case models.SourceReddit:
		review.Rating = nil
		review.Content = truncateText(review.Content, redditContentLimit)
		review.Title = truncateText(review.Title, redditTitleLimit)
		if review.Author == "" {
			review.Author = "Reddit User"
		}
	case models.SourceForum:
		review.Rating = nil
		review.Content = truncateText(review.Content, forumContentLimit)
		review.Title = truncateText(review.Title, forumTitleLimit)
		if review.Author == "" {
			review.Author = "Forum User"
		}
	case models.SourceStore:
		review.Rating = c.RatingHint
		review.Title = truncateText(review.Title, storeTitleLimit)
		if review.Author == "" {
			review.Author = "Store Customer"
		}
	default:
		review.Rating = nil
		if review.Author == "" {
			review.Author = "Anonymous"
		}
	}
	return review
}

func communitySummary(reviews []models.ValidatedReview) models.CommunitySummary {
	summary := models.CommunitySummary{
		ReviewCount: len(reviews),
		Sources:     make(map[string]int),
	}
	if len(reviews) == 0 {
		return summary
	}
	total := 0.0
	for _, r := range reviews {
		summary.Sources[string(r.Source)]++
		total += r.Confidence
	}
	summary.AverageConfidence = math.Round(total/float64(len(reviews))*100) / 100
	return summary
}

func storeSummary(reviews []models.ValidatedReview) models.StoreSummary {
	summary := models.StoreSummary{ReviewCount: len(reviews)}
	total := 0.0
	for _, r := range reviews {
		if r.Rating != nil {
			summary.RatedCount++
			total += *r.Rating
		}
	}
	if summary.RatedCount > 0 {
		summary.AverageRating = math.Round(total/float64(summary.RatedCount)*10) / 10
	}
	return summary
}

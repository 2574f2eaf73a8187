package harvester

import (
	"crypto/md5"
	"strings"

	"github.com/reviewdeck/harvester/internal/metrics"
	"github.com/reviewdeck/harvester/models"
)

// Deduplicate removes exact and near duplicates from a candidate list. Both
// passes keep the first occurrence, so running the pass twice returns the
// same result as running it once.
func (h *Harvester) Deduplicate(candidates []models.RawCandidate) []models.RawCandidate {
	if len(candidates) < 2 {
		return candidates
	}

	// Exact pass: hash of the lowercased, whitespace-collapsed text.
	seen := make(map[[md5.Size]byte]bool, len(candidates))
	unique := make([]models.RawCandidate, 0, len(candidates))
	for _, c := range candidates {
		sum := md5.Sum([]byte(normalizeForHash(c.Text)))
		if seen[sum] {
			metrics.DuplicatesRemoved.WithLabelValues("exact").Inc()
			continue
		}
		seen[sum] = true
		unique = append(unique, c)
	}

	// Near pass: pairwise comparison over the exact-pass survivors. Batches
	// are bounded upstream, so the quadratic cost stays small.
	words := make([][]string, len(unique))
	for i, c := range unique {
		words[i] = strings.Fields(normalizeForHash(c.Text))
	}
	removed := make([]bool, len(unique))
	for i := range unique {
		if removed[i] {
			continue
		}
		for j := i + 1; j < len(unique); j++ {
			if removed[j] {
				continue
			}
			if diceSimilarity(words[i], words[j]) >= h.config.SimilarityThreshold {
				removed[j] = true
				metrics.DuplicatesRemoved.WithLabelValues("near").Inc()
			}
		}
	}

	out := make([]models.RawCandidate, 0, len(unique))
	for i, c := range unique {
		if !removed[i] {
			out = append(out, c)
		}
	}
	return out
}

func normalizeForHash(s string) string {
	return strings.ToLower(normalizeSpace(s))
}

// diceSimilarity is the Sørensen-Dice coefficient over word multisets
func diceSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	counts := make(map[string]int, len(a))
	for _, w := range a {
		counts[w]++
	}
	overlap := 0
	for _, w := range b {
		if counts[w] > 0 {
			counts[w]--
			overlap++
		}
	}
	return 2 * float64(overlap) / float64(len(a)+len(b))
}

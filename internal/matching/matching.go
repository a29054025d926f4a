// Package matching scores ratings-search hits against a show title so the
// closest hit can be picked.
package matching

import (
	"math"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/chrismostert/schraper/internal/ratings"
)

// yearPenalty is added to the score per year of difference between the show's
// release year and the hit's.
const yearPenalty = 0.1

// Score rates how well a hit matches a title and release year. Lower is
// better: 0 is a perfect title match in the right year. The year penalty only
// applies when both sides know their year.
func Score(hit ratings.Hit, title string, year int) float64 {
	score := 1 - strutil.Similarity(title, hit.Title, metrics.NewLevenshtein())
	if year > 0 && hit.ReleaseYear != nil && *hit.ReleaseYear > 0 {
		score += yearPenalty * math.Abs(float64(year-*hit.ReleaseYear))
	}
	return score
}

// BestMatch returns the lowest-scoring hit, its score, and whether any hit
// existed. Ties keep the earlier hit, so results are deterministic for a
// given hit order.
func BestMatch(hits []ratings.Hit, title string, year int) (ratings.Hit, float64, bool) {
	var (
		best      ratings.Hit
		bestScore float64
		found     bool
	)
	for _, hit := range hits {
		score := Score(hit, title, year)
		if !found || score < bestScore {
			best = hit
			bestScore = score
			found = true
		}
	}
	return best, bestScore, found
}

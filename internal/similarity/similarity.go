// Package similarity provides pure vector similarity functions used by the
// retrieval pipeline. Nothing here performs I/O or holds state.
package similarity

import (
	"math"
	"sort"
)

// Cosine computes the cosine similarity between two vectors.
//
// It returns 0 (not an error) when either vector is nil or empty, when the
// vectors differ in length, or when either magnitude is zero. Otherwise the
// result is dot(a,b)/(|a|*|b|), which lies in [-1, 1].
//
// Accumulation is done in float64 to limit rounding drift on long vectors.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Scored pairs a candidate's position in the input slice with its score.
type Scored struct {
	// Index is the candidate's position in the slice passed to Rank.
	Index int

	// Score is the cosine similarity against the query vector.
	Score float64
}

// Rank scores each candidate vector against query, drops candidates scoring
// below minSimilarity, sorts the rest by descending score and truncates to
// limit.
//
// Candidates with nil or mismatched vectors score 0. The sort is stable:
// equal scores keep the candidates' input order. A limit <= 0 returns an
// empty slice.
func Rank(query []float32, candidates [][]float32, minSimilarity float64, limit int) []Scored {
	if limit <= 0 {
		return nil
	}

	scored := make([]Scored, 0, len(candidates))
	for i, vec := range candidates {
		score := Cosine(query, vec)
		if score < minSimilarity {
			continue
		}
		scored = append(scored, Scored{Index: i, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

package similarity

import (
	"math"
	"testing"
)

func TestCosine_DegenerateInputs(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
	}{
		{"both nil", nil, nil},
		{"a nil", nil, []float32{1, 0}},
		{"b nil", []float32{1, 0}, nil},
		{"a empty", []float32{}, []float32{1, 0}},
		{"mismatched length", []float32{1, 0}, []float32{1, 0, 0}},
		{"a zero magnitude", []float32{0, 0}, []float32{1, 0}},
		{"b zero magnitude", []float32{1, 0}, []float32{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); got != 0 {
				t.Errorf("Cosine = %v, want 0", got)
			}
		})
	}
}

func TestCosine_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"scaled", []float32{1, 0}, []float32{5, 0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosine_SymmetricAndBounded(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0},
		{0.3, -0.7, 0.2},
		{-1, -1, -1},
		{0.001, 1000, 42},
	}

	for i, a := range vectors {
		for j, b := range vectors {
			ab := Cosine(a, b)
			ba := Cosine(b, a)
			if math.Abs(ab-ba) > 1e-12 {
				t.Errorf("Cosine(%d,%d) not symmetric: %v vs %v", i, j, ab, ba)
			}
			if ab < -1-1e-9 || ab > 1+1e-9 {
				t.Errorf("Cosine(%d,%d) = %v out of [-1,1]", i, j, ab)
			}
		}
	}
}

func TestRank_ScenarioFromReference(t *testing.T) {
	// Query [1,0] against three candidates; the orthogonal one scores 0 and
	// falls below the 0.5 threshold.
	query := []float32{1, 0}
	candidates := [][]float32{
		{1, 0},
		{0, 1},
		{0.9, 0.1},
	}

	got := Rank(query, candidates, 0.5, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Index != 0 || got[1].Index != 2 {
		t.Errorf("expected candidates 0 then 2, got %d then %d", got[0].Index, got[1].Index)
	}
	if math.Abs(got[0].Score-1.0) > 1e-9 {
		t.Errorf("first score = %v, want 1.0", got[0].Score)
	}
	if got[1].Score < 0.99 || got[1].Score > 1 {
		t.Errorf("second score = %v, want ~0.994", got[1].Score)
	}
}

func TestRank_ThresholdAndOrder(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{
		{0.5, 0.5},
		{1, 0},
		{0.8, 0.2},
		{-1, 0},
	}

	got := Rank(query, candidates, 0.2, 10)

	for _, r := range got {
		if r.Score < 0.2 {
			t.Errorf("result below threshold: %+v", r)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("results not sorted descending at %d: %v > %v", i, got[i].Score, got[i-1].Score)
		}
	}
	if len(got) != 3 {
		t.Errorf("expected 3 results above threshold, got %d", len(got))
	}
}

func TestRank_MissingVectorsScoreZero(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{
		nil,
		{},
		{1, 0},
	}

	// minSimilarity 0 keeps zero-scoring candidates.
	got := Rank(query, candidates, 0, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	if got[0].Index != 2 {
		t.Errorf("expected candidate 2 first, got %d", got[0].Index)
	}
	// Tie between the two zero scores: input order preserved.
	if got[1].Index != 0 || got[2].Index != 1 {
		t.Errorf("tie-break broke input order: %d, %d", got[1].Index, got[2].Index)
	}
}

func TestRank_StableTieBreak(t *testing.T) {
	query := []float32{1, 0}
	// Three identical candidates, all scoring 1.
	candidates := [][]float32{
		{2, 0},
		{3, 0},
		{4, 0},
	}

	got := Rank(query, candidates, 0.5, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	for i, r := range got {
		if r.Index != i {
			t.Errorf("position %d holds candidate %d, want %d", i, r.Index, i)
		}
	}
}

func TestRank_LimitTruncates(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{
		{1, 0}, {1, 0}, {1, 0}, {1, 0},
	}

	got := Rank(query, candidates, 0, 2)
	if len(got) != 2 {
		t.Errorf("expected limit 2, got %d results", len(got))
	}

	if got := Rank(query, candidates, 0, 0); got != nil {
		t.Errorf("limit 0 should return nil, got %v", got)
	}
}

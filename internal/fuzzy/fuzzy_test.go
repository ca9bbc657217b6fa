package fuzzy

import (
	"errors"
	"math"
	"testing"
)

func TestRatio(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{"identical", "on", "on", 1.0},
		{"identical mixed case", "On", "oN", 1.0},
		{"no overlap", "abc", "xyz", 0.0},
		{"empty a", "", "on", 0.0},
		{"empty b", "on", "", 0.0},
		{"near miss", "dimm", "dim", 2.0 * 3.0 / 7.0},
		{"subsequence", "close", "clse", 2.0 * 4.0 / 9.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Ratio(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Ratio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestRatioSymmetric(t *testing.T) {
	pairs := [][2]string{{"dim", "dimm"}, {"open", "close"}, {"porch light", "porch lite"}}
	for _, p := range pairs {
		if Ratio(p[0], p[1]) != Ratio(p[1], p[0]) {
			t.Errorf("Ratio not symmetric for %q/%q", p[0], p[1])
		}
	}
}

func TestClampLimiter(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, DefaultLimiter},
		{0.05, MinLimiter},
		{1.5, MaxLimiter},
		{0.75, 0.75},
		{MinLimiter, MinLimiter},
		{MaxLimiter, MaxLimiter},
	}

	for _, tt := range tests {
		if got := ClampLimiter(tt.in); got != tt.want {
			t.Errorf("ClampLimiter(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSearchExactMatch(t *testing.T) {
	m := NewMatcher([]string{"on", "off", "dim", "brighten"}, 0)

	key, score, err := m.Search("on")
	if err != nil {
		t.Fatalf("Search(on) failed: %v", err)
	}
	if key != "on" || score != 1.0 {
		t.Errorf("got %q/%v, want on/1.0", key, score)
	}
}

func TestSearchFuzzyHit(t *testing.T) {
	// "dimm" vs "dim" scores 6/7 ≈ 0.857, below the default limiter but
	// above a relaxed one.
	m := NewMatcher([]string{"on", "off", "dim", "brighten"}, 0.80)

	key, score, err := m.Search("dimm")
	if err != nil {
		t.Fatalf("Search(dimm) failed: %v", err)
	}
	if key != "dim" {
		t.Errorf("got %q, want dim", key)
	}
	if score < 0.80 || score >= 1.0 {
		t.Errorf("score = %v, want in [0.80, 1.0)", score)
	}
}

func TestSearchMiss(t *testing.T) {
	m := NewMatcher([]string{"on", "off", "dim", "brighten", "open", "close"}, 0)

	_, _, err := m.Search("explode")

	var miss *MissError
	if !errors.As(err, &miss) {
		t.Fatalf("expected *MissError, got %v", err)
	}
	if miss.Search != "explode" {
		t.Errorf("Search = %q", miss.Search)
	}
	if miss.Best.Key == "" {
		t.Error("Best candidate missing")
	}
	if len(miss.Alternatives) > 4 {
		t.Errorf("got %d alternatives, want at most 4", len(miss.Alternatives))
	}
	for i := 1; i < len(miss.Alternatives); i++ {
		if miss.Alternatives[i].Score > miss.Alternatives[i-1].Score {
			t.Error("alternatives not in descending score order")
		}
	}
	if len(miss.Alternatives) > 0 && miss.Alternatives[0].Score > miss.Best.Score {
		t.Error("an alternative outscored Best")
	}
}

func TestSearchTieKeepsFirstSeen(t *testing.T) {
	// Both keys are equidistant from the search term; the first
	// registered key must win.
	m := NewMatcher([]string{"ba", "ab"}, 0.10)

	key, _, err := m.Search("a")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if key != "ba" {
		t.Errorf("got %q, want first-seen key ba", key)
	}
}

func TestSearchEmptyKeySet(t *testing.T) {
	m := NewMatcher(nil, 0)

	if _, _, err := m.Search("on"); err == nil {
		t.Error("expected error for empty key set")
	}
}

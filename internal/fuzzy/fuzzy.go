package fuzzy

import (
	"fmt"
	"sort"
	"strings"
)

// Limiter bounds. Scores are ratios in [0, 1]; a limiter outside this
// range would either match everything or nothing useful.
const (
	MinLimiter     = 0.10
	MaxLimiter     = 0.99
	DefaultLimiter = 0.89
)

// maxAlternatives caps the near-miss suggestions attached to a MissError.
const maxAlternatives = 4

// Ratio returns the similarity of two strings as a value in [0, 1].
//
// The score is based on the longest common subsequence of the two
// strings: 2*LCS(a,b) / (len(a)+len(b)). Identical strings score 1.0,
// strings with no characters in common score 0.0. Comparison is
// case-insensitive.
//
// Parameters:
//   - a: First string
//   - b: Second string
//
// Returns:
//   - float64: Similarity score in [0, 1]
func Ratio(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)

	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	return 2.0 * float64(lcsLength(a, b)) / float64(len(a)+len(b))
}

// lcsLength computes the longest common subsequence length using a
// two-row dynamic programming table.
func lcsLength(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// Candidate is one scored entry from a Search.
type Candidate struct {
	Key   string
	Score float64
}

// MissError reports a failed fuzzy search.
//
// Best is the highest-scoring candidate (below the limiter), and
// Alternatives holds up to four further near misses in descending score
// order, for use in error messages and suggestions.
type MissError struct {
	Search       string
	Limiter      float64
	Best         Candidate
	Alternatives []Candidate
}

// Error implements the error interface.
func (e *MissError) Error() string {
	return fmt.Sprintf("fuzzy: no match for %q (best %q scored %.2f, limiter %.2f)",
		e.Search, e.Best.Key, e.Best.Score, e.Limiter)
}

// Matcher performs fuzzy lookups against a fixed set of keys.
//
// The limiter is the minimum score a candidate must reach to count as a
// match; it is clamped to [MinLimiter, MaxLimiter] at construction.
type Matcher struct {
	keys    []string
	limiter float64
}

// NewMatcher creates a matcher over the given keys.
//
// Keys are scored in the order given; when two candidates score equally
// the earlier key wins. A limiter of 0 selects DefaultLimiter;
// out-of-range values are clamped.
//
// Parameters:
//   - keys: The candidate set, in priority order
//   - limiter: Minimum match score, or 0 for the default
func NewMatcher(keys []string, limiter float64) *Matcher {
	return &Matcher{
		keys:    append([]string(nil), keys...),
		limiter: ClampLimiter(limiter),
	}
}

// ClampLimiter normalizes a configured limiter value.
//
// Zero selects DefaultLimiter; anything else is clamped into
// [MinLimiter, MaxLimiter].
func ClampLimiter(limiter float64) float64 {
	switch {
	case limiter == 0:
		return DefaultLimiter
	case limiter < MinLimiter:
		return MinLimiter
	case limiter > MaxLimiter:
		return MaxLimiter
	default:
		return limiter
	}
}

// Limiter returns the matcher's effective limiter.
func (m *Matcher) Limiter() float64 { return m.limiter }

// Keys returns the candidate keys in their registered order.
func (m *Matcher) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Search finds the key most similar to the search term.
//
// An exact (case-insensitive) hit scores 1.0 and always wins. Otherwise
// every key is scored with Ratio; the best candidate is returned if it
// reaches the limiter, and a *MissError carrying the best candidate and
// up to four alternatives is returned if not.
//
// Parameters:
//   - search: The term to look up
//
// Returns:
//   - string: The matched key
//   - float64: Its score
//   - error: *MissError if no candidate reached the limiter, or an error
//     if the matcher has no keys
func (m *Matcher) Search(search string) (string, float64, error) {
	if len(m.keys) == 0 {
		return "", 0, fmt.Errorf("fuzzy: search %q against empty key set", search)
	}

	scored := make([]Candidate, 0, len(m.keys))
	for _, key := range m.keys {
		scored = append(scored, Candidate{Key: key, Score: Ratio(search, key)})
	}

	// Stable sort keeps first-seen order for equal scores.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	best := scored[0]
	if best.Score >= m.limiter {
		return best.Key, best.Score, nil
	}

	alternatives := scored[1:]
	if len(alternatives) > maxAlternatives {
		alternatives = alternatives[:maxAlternatives]
	}

	return "", best.Score, &MissError{
		Search:       search,
		Limiter:      m.limiter,
		Best:         best,
		Alternatives: append([]Candidate(nil), alternatives...),
	}
}

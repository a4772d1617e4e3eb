package finance

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/agnivade/levenshtein"
)

// minCategorySimilarity is the lowest similarity a fuzzy category match may
// have.
const minCategorySimilarity = 0.75

// ResolveCategory finds the category named name. Exact matches ignore case;
// otherwise the most similar category name wins if it is close enough.
func (c *Client) ResolveCategory(ctx context.Context, name string) (Category, error) {
	cats, err := c.Categories(ctx)
	if err != nil {
		return Category{}, err
	}
	cat, ok := matchCategory(cats, name)
	if !ok {
		return Category{}, fmt.Errorf("category %q: %w", name, ErrNotFound)
	}
	return cat, nil
}

func matchCategory(cats []Category, name string) (Category, bool) {
	want := normalizeName(name)
	if want == "" {
		return Category{}, false
	}
	var (
		best      Category
		bestScore float64
	)
	for _, cat := range cats {
		have := normalizeName(cat.Name)
		if have == want {
			return cat, true
		}
		if score := similarity(have, want); score > bestScore {
			best, bestScore = cat, score
		}
	}
	return best, bestScore >= minCategorySimilarity
}

func similarity(a, b string) float64 {
	distance := levenshtein.ComputeDistance(a, b)
	maxLen := math.Max(float64(len([]rune(a))), float64(len([]rune(b))))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(distance)/maxLen
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

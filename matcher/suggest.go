package matcher

import (
	"github.com/mmdatafocus/menu_backend/catalog"
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/xrash/smetrics"
)

// Suggester proposes a merge target for a newly created unverified item. It
// never resolves anything; the suggestion is only shown to reviewers.
type Suggester interface {
	Suggest(name string, category models.Category, candidates []catalog.Candidate) *int
}

// JaroWinklerSuggester picks the closest verified item by Jaro-Winkler
// similarity, preferring the same category on equal scores.
type JaroWinklerSuggester struct {
	MinScore float64
}

func NewJaroWinklerSuggester() JaroWinklerSuggester {
	return JaroWinklerSuggester{MinScore: 0.85}
}

func (s JaroWinklerSuggester) Suggest(name string, category models.Category, candidates []catalog.Candidate) *int {
	key := models.NameKey(name)
	var (
		bestId    int
		bestScore float64
		bestSame  bool
	)
	for _, c := range candidates {
		if !c.IsVerified || c.NameKey == key && c.Category == category {
			continue
		}
		score := smetrics.JaroWinkler(key, c.NameKey, 0.7, 4)
		if score < s.MinScore {
			continue
		}
		same := c.Category == category
		if bestId == 0 || score > bestScore || score == bestScore && same && !bestSame {
			bestId, bestScore, bestSame = c.ID, score, same
		}
	}
	if bestId == 0 {
		return nil
	}
	return intPtr(bestId)
}

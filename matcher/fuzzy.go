package matcher

import (
	"sort"

	"github.com/mmdatafocus/menu_backend/catalog"
	"github.com/mmdatafocus/menu_backend/normalizer"
)

// Query is what a fuzzy strategy matches: the normalized record and, when the
// record's variant token is already known to the catalog, its id.
type Query struct {
	Record    normalizer.Record
	VariantId *int
}

// Scored is a candidate with its similarity to the query.
type Scored struct {
	Candidate catalog.Candidate
	Score     int
}

// FuzzyStrategy is one fuzzy tier. Implementations only read the candidate
// list and must be deterministic for a given input.
type FuzzyStrategy interface {
	Name() string
	Match(q Query, candidates []catalog.Candidate, threshold int) (Scored, bool)
}

// rank orders matches by score, then most recently verified, then lowest id.
func rank(list []Scored) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		av, bv := a.Candidate.VerifiedAt, b.Candidate.VerifiedAt
		switch {
		case av != nil && bv == nil:
			return true
		case av == nil && bv != nil:
			return false
		case av != nil && bv != nil && !av.Equal(*bv):
			return av.After(*bv)
		}
		return a.Candidate.ID < b.Candidate.ID
	})
}

func best(q Query, candidates []catalog.Candidate, threshold int, keep func(catalog.Candidate) bool) (Scored, bool) {
	var hits []Scored
	for _, c := range candidates {
		if keep != nil && !keep(c) {
			continue
		}
		if score := Similarity(q.Record.BaseName, c.Name); score >= threshold {
			hits = append(hits, Scored{Candidate: c, Score: score})
		}
	}
	if len(hits) == 0 {
		return Scored{}, false
	}
	rank(hits)
	return hits[0], true
}

// PrefixFamilyStrategy only compares items of the same category and prefix
// family, so "Eggless Brownie" never folds into "Brownie".
type PrefixFamilyStrategy struct{}

func (PrefixFamilyStrategy) Name() string { return "prefix_family" }

func (PrefixFamilyStrategy) Match(q Query, candidates []catalog.Candidate, threshold int) (Scored, bool) {
	return best(q, candidates, threshold, func(c catalog.Candidate) bool {
		return c.Category == q.Record.Category && c.PrefixFamily == q.Record.PrefixFamily
	})
}

// VariantAwareStrategy ignores category. Items already sold in the query's
// variant win when any of them clears the threshold.
type VariantAwareStrategy struct{}

func (VariantAwareStrategy) Name() string { return "variant_aware" }

func (VariantAwareStrategy) Match(q Query, candidates []catalog.Candidate, threshold int) (Scored, bool) {
	if q.VariantId != nil {
		id := *q.VariantId
		if hit, ok := best(q, candidates, threshold, func(c catalog.Candidate) bool { return c.VariantIds[id] }); ok {
			return hit, true
		}
	}
	return best(q, candidates, threshold, nil)
}

// DefaultStrategies are the fuzzy tiers in the order they are tried.
func DefaultStrategies() []FuzzyStrategy {
	return []FuzzyStrategy{PrefixFamilyStrategy{}, VariantAwareStrategy{}}
}

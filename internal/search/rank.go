package search

import (
	"slices"
	"strings"
)

// Tier is how well a query lines up with a profile's name chain.
type Tier string

const (
	TierExact     Tier = "exact"
	TierSkip1     Tier = "skip1"
	TierSkip2     Tier = "skip2"
	TierSkip3Plus Tier = "skip3plus"
	TierBag       Tier = "bag"
)

var tierScore = map[Tier]int{
	TierExact:     5,
	TierSkip1:     4,
	TierSkip2:     3,
	TierSkip3Plus: 2,
	TierBag:       1,
}

func (t Tier) Score() int { return tierScore[t] }

// Match scores normalized terms against normalized chain tokens
// [self, father, grandfather, ...]. ok is false when the profile does not match.
func Match(terms, tokens []string) (tier Tier, ok bool) {
	if len(terms) == 0 || len(terms) > len(tokens) {
		return "", false
	}
	for start := 0; start+len(terms) <= len(tokens); start++ {
		if !slices.Equal(tokens[start:start+len(terms)], terms) {
			continue
		}
		switch start {
		case 0:
			return TierExact, true
		case 1:
			return TierSkip1, true
		case 2:
			return TierSkip2, true
		default:
			return TierSkip3Plus, true
		}
	}
	for _, term := range terms {
		if !slices.Contains(tokens, term) {
			return "", false
		}
	}
	return TierBag, true
}

// Candidate is a profile considered for ranking.
type Candidate struct {
	ProfileID  string
	Name       string
	Chain      string
	Names      []string
	Generation int
}

// Rank scores candidates and orders them best first: tier, then shallower
// generation, then chain text.
func Rank(terms []string, candidates []Candidate) []Result {
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		tier, ok := Match(terms, normalizeAll(c.Names))
		if !ok {
			continue
		}
		results = append(results, Result{
			ProfileID:  c.ProfileID,
			Name:       c.Name,
			Chain:      c.Chain,
			Generation: c.Generation,
			Tier:       tier,
			Score:      tier.Score(),
		})
	}
	slices.SortStableFunc(results, func(a, b Result) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		if a.Generation != b.Generation {
			return a.Generation - b.Generation
		}
		if c := strings.Compare(a.Chain, b.Chain); c != 0 {
			return c
		}
		return strings.Compare(a.ProfileID, b.ProfileID)
	})
	return results
}

// Page applies limit and offset after clamping limit into range.
func Page(results []Result, limit, offset int) []Result {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset >= len(results) {
		return []Result{}
	}
	end := min(offset+limit, len(results))
	return results[offset:end]
}

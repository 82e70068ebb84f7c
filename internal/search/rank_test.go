package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchTiers(t *testing.T) {
	chain := []string{"سعد", "محمد", "علي", "عبدالله", "صالح"}

	cases := []struct {
		name  string
		terms []string
		tier  Tier
		ok    bool
	}{
		{"exact", []string{"سعد", "محمد"}, TierExact, true},
		{"skip1", []string{"محمد", "علي"}, TierSkip1, true},
		{"skip2", []string{"علي", "عبدالله"}, TierSkip2, true},
		{"skip3plus", []string{"عبدالله", "صالح"}, TierSkip3Plus, true},
		{"bag", []string{"صالح", "سعد"}, TierBag, true},
		{"miss", []string{"سعد", "خالد"}, "", false},
		{"too many terms", []string{"a", "b", "c", "d", "e", "f"}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tier, ok := Match(tc.terms, chain)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.tier, tier)
		})
	}
}

func TestRankOrdersByTierThenGenerationThenChain(t *testing.T) {
	terms := []string{"محمد"}
	results := Rank(terms, []Candidate{
		{ProfileID: "deep-exact", Names: []string{"محمد", "علي"}, Chain: "محمد بن علي", Generation: 5},
		{ProfileID: "skip", Names: []string{"سعد", "محمد"}, Chain: "سعد بن محمد", Generation: 1},
		{ProfileID: "shallow-exact-b", Names: []string{"محمد", "صالح"}, Chain: "محمد بن صالح", Generation: 2},
		{ProfileID: "shallow-exact-a", Names: []string{"مُحمد", "أحمد"}, Chain: "محمد بن أحمد", Generation: 2},
		{ProfileID: "none", Names: []string{"خالد"}, Chain: "خالد", Generation: 1},
	})

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ProfileID
	}
	require.Equal(t, []string{"shallow-exact-a", "shallow-exact-b", "deep-exact", "skip"}, ids)
	require.Equal(t, TierExact, results[0].Tier)
	require.Equal(t, TierSkip1, results[3].Tier)
}

func TestPage(t *testing.T) {
	results := make([]Result, 150)
	require.Len(t, Page(results, 0, 0), DefaultLimit)
	require.Len(t, Page(results, 500, 0), MaxLimit)
	require.Len(t, Page(results, 20, 140), 10)
	require.Empty(t, Page(results, 20, 200))
}

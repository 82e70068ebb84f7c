package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGraph struct {
	people    map[string]Person
	spouses   map[string][]string
	branches  map[string][]string
	blocked   map[string]bool
	personErr error
	lookups   int
}

func (g *fakeGraph) Person(_ context.Context, id string) (Person, bool, error) {
	g.lookups++
	if g.personErr != nil {
		return Person{}, false, g.personErr
	}
	p, ok := g.people[id]
	return p, ok, nil
}

func (g *fakeGraph) CurrentSpouses(_ context.Context, id string) ([]string, error) {
	return g.spouses[id], nil
}

func (g *fakeGraph) ModeratorBranches(_ context.Context, id string) ([]string, error) {
	return g.branches[id], nil
}

func (g *fakeGraph) SuggestionBlocked(_ context.Context, id string) (bool, error) {
	return g.blocked[id], nil
}

// familyGraph:
//
//	root(H1)
//	├── a(H1-1) ── a1(H1-1-1) ── a11(H1-1-1-1)
//	│            └ a2(H1-1-2)
//	└── b(H1-2) ── b1(H1-2-1) ── b11(H1-2-1-1)
//
// w is married to a1 and has no HID; x is unrelated (H9).
func familyGraph() *fakeGraph {
	people := []Person{
		{ID: "root", HID: "H1"},
		{ID: "a", HID: "H1-1", FatherID: "root"},
		{ID: "b", HID: "H1-2", FatherID: "root"},
		{ID: "a1", HID: "H1-1-1", FatherID: "a"},
		{ID: "a2", HID: "H1-1-2", FatherID: "a"},
		{ID: "a11", HID: "H1-1-1-1", FatherID: "a1", MotherID: "w"},
		{ID: "b1", HID: "H1-2-1", FatherID: "b"},
		{ID: "b11", HID: "H1-2-1-1", FatherID: "b1"},
		{ID: "w"},
		{ID: "x", HID: "H9"},
		{ID: "mod", HID: "H9-1"},
		{ID: "boss", HID: "H9-2", Role: RoleAdmin},
		{ID: "gone", HID: "H1-3", FatherID: "root", Deleted: true},
	}
	g := &fakeGraph{
		people:   map[string]Person{},
		spouses:  map[string][]string{"a1": {"w"}, "w": {"a1"}},
		branches: map[string][]string{},
		blocked:  map[string]bool{},
	}
	for _, p := range people {
		g.people[p.ID] = p
	}
	return g
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name   string
		actor  string
		target string
		want   Level
	}{
		{name: "empty actor", actor: "", target: "a", want: LevelNone},
		{name: "empty target", actor: "a", target: "", want: LevelNone},
		{name: "unknown target", actor: "a", target: "nope", want: LevelNone},
		{name: "deleted target", actor: "a", target: "gone", want: LevelNone},
		{name: "admin role", actor: "boss", target: "a11", want: LevelAdmin},
		{name: "self", actor: "x", target: "x", want: LevelAdmin},
		{name: "grandfather", actor: "a", target: "a11", want: LevelInner},
		{name: "great grandfather", actor: "root", target: "a11", want: LevelInner},
		{name: "mother through mother link", actor: "w", target: "a11", want: LevelInner},
		{name: "child edits parent", actor: "a11", target: "a1", want: LevelInner},
		{name: "sibling", actor: "a1", target: "a2", want: LevelInner},
		{name: "spouse", actor: "w", target: "a1", want: LevelInner},
		{name: "first cousin", actor: "a1", target: "b1", want: LevelFamily},
		{name: "uncle", actor: "a1", target: "b", want: LevelFamily},
		{name: "nephew to uncle", actor: "b1", target: "a", want: LevelFamily},
		{name: "second cousin", actor: "a11", target: "b11", want: LevelExtended},
		{name: "unrelated", actor: "x", target: "a1", want: LevelSuggest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := NewEvaluator(familyGraph(), 0)
			got, err := ev.Evaluate(context.Background(), tc.actor, tc.target)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateSelfIsMaximalForEveryRole(t *testing.T) {
	g := familyGraph()
	ev := NewEvaluator(g, 0)
	for id := range g.people {
		if g.people[id].Deleted {
			continue
		}
		got, err := ev.Evaluate(context.Background(), id, id)
		require.NoError(t, err)
		require.Equal(t, LevelAdmin, got, id)
	}
}

func TestBranchModeratorScenario(t *testing.T) {
	g := familyGraph()
	g.people["t1"] = Person{ID: "t1", HID: "H2-1-3-4"}
	g.people["t2"] = Person{ID: "t2", HID: "H2-2-1"}
	g.people["t3"] = Person{ID: "t3", HID: "H2-10"}
	g.branches["mod"] = []string{"H2-1"}
	ev := NewEvaluator(g, 0)

	got, err := ev.Evaluate(context.Background(), "mod", "t1")
	require.NoError(t, err)
	require.Equal(t, LevelModerator, got)
	require.True(t, CanEdit(got))

	got, err = ev.Evaluate(context.Background(), "mod", "t2")
	require.NoError(t, err)
	require.Equal(t, LevelSuggest, got)

	got, err = ev.Evaluate(context.Background(), "mod", "t3")
	require.NoError(t, err)
	require.Equal(t, LevelSuggest, got)
}

func TestBlockedOnlyAffectsSuggestTiers(t *testing.T) {
	g := familyGraph()
	g.blocked["a1"] = true
	ev := NewEvaluator(g, 0)

	got, err := ev.Evaluate(context.Background(), "a1", "b1")
	require.NoError(t, err)
	require.Equal(t, LevelBlocked, got)
	require.False(t, CanSuggest(got))

	got, err = ev.Evaluate(context.Background(), "a1", "a2")
	require.NoError(t, err)
	require.Equal(t, LevelInner, got)
}

func TestAncestorWalkSurvivesCycles(t *testing.T) {
	g := familyGraph()
	g.people["c1"] = Person{ID: "c1", HID: "H5", FatherID: "c2"}
	g.people["c2"] = Person{ID: "c2", HID: "H6", FatherID: "c1"}
	ev := NewEvaluator(g, 0)
	got, err := ev.Evaluate(context.Background(), "x", "c1")
	require.NoError(t, err)
	require.Equal(t, LevelSuggest, got)
}

func TestEvaluateManySharesLookups(t *testing.T) {
	g := familyGraph()
	ev := NewEvaluator(g, 0)
	levels, err := ev.EvaluateMany(context.Background(), "a", []string{"a1", "a2", "a11", "b1", "x"})
	require.NoError(t, err)
	require.Equal(t, map[string]Level{
		"a1":  LevelInner,
		"a2":  LevelInner,
		"a11": LevelInner,
		"b1":  LevelFamily,
		"x":   LevelSuggest,
	}, levels)
	// every person is fetched at most once per batch
	require.LessOrEqual(t, g.lookups, len(g.people))
}

func TestEvaluatePropagatesGraphErrors(t *testing.T) {
	g := familyGraph()
	g.personErr = errors.New("boom")
	_, err := NewEvaluator(g, 0).Evaluate(context.Background(), "a", "b")
	require.Error(t, err)
}

func TestCapabilities(t *testing.T) {
	cases := []struct {
		level   Level
		edit    bool
		suggest bool
	}{
		{LevelAdmin, true, true},
		{LevelModerator, true, true},
		{LevelInner, true, true},
		{LevelFamily, false, true},
		{LevelExtended, false, true},
		{LevelSuggest, false, true},
		{LevelBlocked, false, false},
		{LevelNone, false, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.level), func(t *testing.T) {
			require.Equal(t, tc.edit, CanEdit(tc.level))
			require.Equal(t, tc.suggest, CanSuggest(tc.level))
		})
	}
}

func TestNormalize(t *testing.T) {
	require.Equal(t, RoleSuperAdmin, Normalize("super_admin"))
	require.Equal(t, RoleUser, Normalize("root"))
	require.True(t, Normalize("admin").IsAdmin())
	require.False(t, Normalize("moderator").IsAdmin())
}

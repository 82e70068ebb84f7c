package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"alqefari/api/internal/lineage"
	"alqefari/api/internal/store"
)

type fakeBackend struct {
	mu      sync.Mutex
	healthy bool
	ids     []string
	err     error
	indexed []ProfileRecord
	deleted []string
	queries []string
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) Candidates(query string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.ids, f.err
}

func (f *fakeBackend) IndexProfiles(records []ProfileRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, records...)
	return nil
}

func (f *fakeBackend) DeleteProfile(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBackend) snapshot() ([]ProfileRecord, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ProfileRecord(nil), f.indexed...), append([]string(nil), f.deleted...)
}

func tn(id, name, father, h string) store.TreeNode {
	n := store.TreeNode{ID: id, Name: name, Gender: store.GenderMale, HID: h}
	if father != "" {
		n.FatherID = &father
	}
	return n
}

func testIndex() *lineage.Index {
	nodes := []store.TreeNode{
		tn("r", "عبدالله", "", "R1"),
		tn("m", "محمد", "r", "R1-1"),
		tn("s", "سعد", "m", "R1-1-1"),
		tn("m2", "محمد", "s", "R1-1-1-1"),
		tn("k", "خالد", "r", "R1-2"),
	}
	return lineage.NewIndex(func(context.Context) ([]store.TreeNode, error) { return nodes, nil }, 12, "")
}

func quietLogger() *logrus.Entry {
	log, _ := test.NewNullLogger()
	return logrus.NewEntry(log)
}

func TestSearchFallsBackToLineageIndex(t *testing.T) {
	svc := NewService(testIndex(), nil, quietLogger())

	resp, err := svc.Search(context.Background(), Query{Terms: []string{"محمد"}})
	require.NoError(t, err)
	require.Equal(t, backendLineage, resp.Backend)
	require.Equal(t, 3, resp.Total)
	// m and m2 are exact and the shallower generation wins; s only matches its father.
	require.Equal(t, "m", resp.Results[0].ProfileID)
	require.Equal(t, "m2", resp.Results[1].ProfileID)
	require.Equal(t, "s", resp.Results[2].ProfileID)
	require.Equal(t, TierSkip1, resp.Results[2].Tier)
	require.Equal(t, "محمد بن عبدالله القفاري", resp.Results[0].Chain)
}

func TestSearchUsesHealthyBackendCandidates(t *testing.T) {
	backend := &fakeBackend{healthy: true, ids: []string{"s", "munasib", "m2"}}
	svc := NewService(testIndex(), backend, quietLogger())

	resp, err := svc.Search(context.Background(), Query{Terms: []string{"سعد", "محمد"}})
	require.NoError(t, err)
	require.Equal(t, backendMeili, resp.Backend)
	require.Len(t, resp.Results, 2)
	require.Equal(t, "s", resp.Results[0].ProfileID)
	require.Equal(t, TierExact, resp.Results[0].Tier)
	require.Equal(t, "m2", resp.Results[1].ProfileID)
	require.Equal(t, TierSkip1, resp.Results[1].Tier)
	require.Equal(t, []string{"سعد محمد"}, backend.queries)
}

func TestSearchFlagsBackendCandidateLimit(t *testing.T) {
	nodes := []store.TreeNode{tn("r", "عبدالله", "", "R1")}
	ids := make([]string, 0, candidateLimit)
	for i := 1; i <= candidateLimit; i++ {
		id := fmt.Sprintf("c%d", i)
		nodes = append(nodes, tn(id, "محمد", "r", fmt.Sprintf("R1-%d", i)))
		ids = append(ids, id)
	}
	index := lineage.NewIndex(func(context.Context) ([]store.TreeNode, error) { return nodes, nil }, 12, "")
	ctx := context.Background()

	full := &fakeBackend{healthy: true, ids: ids}
	resp, err := NewService(index, full, quietLogger()).Search(ctx, Query{Terms: []string{"محمد"}, Limit: 10})
	require.NoError(t, err)
	require.True(t, resp.Truncated)
	require.Equal(t, candidateLimit, resp.Total)
	require.Len(t, resp.Results, 10)

	short := &fakeBackend{healthy: true, ids: ids[:candidateLimit-1]}
	resp, err = NewService(index, short, quietLogger()).Search(ctx, Query{Terms: []string{"محمد"}, Limit: 10})
	require.NoError(t, err)
	require.False(t, resp.Truncated)
	require.Equal(t, candidateLimit-1, resp.Total)

	resp, err = NewService(index, nil, quietLogger()).Search(ctx, Query{Terms: []string{"محمد"}, Limit: 10})
	require.NoError(t, err)
	require.False(t, resp.Truncated)
	require.Equal(t, candidateLimit, resp.Total)
}

func TestSearchBackendErrorFallsBack(t *testing.T) {
	backend := &fakeBackend{healthy: true, err: errors.New("timeout")}
	svc := NewService(testIndex(), backend, quietLogger())

	resp, err := svc.Search(context.Background(), Query{Terms: []string{"خالد"}})
	require.NoError(t, err)
	require.Equal(t, backendLineage, resp.Backend)
	require.Len(t, resp.Results, 1)
}

func TestSearchValidation(t *testing.T) {
	svc := NewService(testIndex(), nil, quietLogger())

	_, err := svc.Search(context.Background(), Query{Terms: []string{"م"}})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Search(context.Background(), Query{Terms: []string{"محمد"}, Offset: -1})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSuggestNames(t *testing.T) {
	svc := NewService(testIndex(), nil, quietLogger())

	names, err := svc.SuggestNames(context.Background(), "مح", 5)
	require.NoError(t, err)
	require.Equal(t, []string{"محمد"}, names)

	_, err = svc.SuggestNames(context.Background(), " ", 5)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestRefreshProfilesPushesAndDeletes(t *testing.T) {
	backend := &fakeBackend{healthy: true}
	svc := NewService(testIndex(), backend, quietLogger())

	svc.RefreshProfiles(context.Background(), "s", "gone")

	require.Eventually(t, func() bool {
		indexed, deleted := backend.snapshot()
		return len(indexed) == 1 && len(deleted) == 1
	}, time.Second, 10*time.Millisecond)

	indexed, deleted := backend.snapshot()
	require.Equal(t, "s", indexed[0].ID)
	require.Equal(t, []string{"سعد", "محمد", "عبدالله"}, indexed[0].Names)
	require.Equal(t, []string{"gone"}, deleted)
}

func TestReindexAll(t *testing.T) {
	backend := &fakeBackend{healthy: true}
	svc := NewService(testIndex(), backend, quietLogger())

	n, err := svc.ReindexAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, n)

	n, err = NewService(testIndex(), nil, quietLogger()).ReindexAll(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

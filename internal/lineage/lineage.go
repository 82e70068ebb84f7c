// Package lineage keeps an in-process index of the paternal tree and builds
// ancestry name chains from it.
package lineage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"alqefari/api/internal/hid"
	"alqefari/api/internal/metrics"
	"alqefari/api/internal/store"
)

const (
	DefaultMaxDepth = 12
	DefaultSuffix   = "القفاري"

	sonOf      = "بن"
	daughterOf = "بنت"
)

// Loader returns every active profile that belongs to the tree.
type Loader func(ctx context.Context) ([]store.TreeNode, error)

// Chain is the ancestry of one profile, nearest first.
type Chain struct {
	ProfileID  string   `json:"profileId"`
	Names      []string `json:"names"`
	Text       string   `json:"chain"`
	Generation int      `json:"generation"`
	// Truncated is set when the depth ceiling stopped the walk.
	Truncated bool `json:"truncated,omitempty"`
	// Cycle is set when the walk revisited a profile.
	Cycle bool `json:"cycle,omitempty"`
}

type snapshot struct {
	nodes    map[string]store.TreeNode
	order    []string
	loadedAt time.Time

	mu     sync.Mutex
	chains map[string]Chain
}

type Index struct {
	load     Loader
	maxDepth int
	suffix   string

	// maxAge bounds how long a snapshot is served. Writes made by other
	// processes only reach this index through Invalidate or expiry.
	maxAge time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	snap  *snapshot
	epoch uint64

	group singleflight.Group
}

func NewIndex(load Loader, maxDepth int, suffix string) *Index {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if strings.TrimSpace(suffix) == "" {
		suffix = DefaultSuffix
	}
	return &Index{load: load, maxDepth: maxDepth, suffix: strings.TrimSpace(suffix), now: time.Now}
}

// SetMaxAge makes snapshots older than d reload on the next read. Zero keeps
// a snapshot until Invalidate.
func (x *Index) SetMaxAge(d time.Duration) {
	x.mu.Lock()
	x.maxAge = d
	x.mu.Unlock()
}

// SetClock replaces the time source used for snapshot expiry.
func (x *Index) SetClock(now func() time.Time) {
	x.mu.Lock()
	x.now = now
	x.mu.Unlock()
}

// Invalidate drops the snapshot and every memoized chain. The next read
// reloads from the Loader.
func (x *Index) Invalidate() {
	x.mu.Lock()
	x.snap = nil
	x.epoch++
	x.mu.Unlock()
	metrics.LineageCache("invalidate")
}

func (x *Index) current(ctx context.Context) (*snapshot, error) {
	x.mu.RLock()
	snap, epoch := x.snap, x.epoch
	expired := snap != nil && x.maxAge > 0 && x.now().Sub(snap.loadedAt) >= x.maxAge
	x.mu.RUnlock()
	if snap != nil && !expired {
		return snap, nil
	}
	if expired {
		x.mu.Lock()
		if x.snap == snap {
			x.snap = nil
			x.epoch++
		}
		epoch = x.epoch
		x.mu.Unlock()
		metrics.LineageCache("expire")
	}

	v, err, _ := x.group.Do(fmt.Sprintf("load:%d", epoch), func() (any, error) {
		x.mu.RLock()
		loadedAt := x.now()
		x.mu.RUnlock()
		nodes, err := x.load(ctx)
		if err != nil {
			return nil, err
		}
		built := &snapshot{
			nodes:    make(map[string]store.TreeNode, len(nodes)),
			order:    make([]string, 0, len(nodes)),
			loadedAt: loadedAt,
			chains:   map[string]Chain{},
		}
		for _, n := range nodes {
			built.nodes[n.ID] = n
			built.order = append(built.order, n.ID)
		}
		metrics.LineageCache("rebuild")

		x.mu.Lock()
		// A concurrent Invalidate means this load may already be stale.
		if x.epoch == epoch {
			x.snap = built
		}
		x.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load lineage index: %w", err)
	}
	return v.(*snapshot), nil
}

// Nodes returns every indexed profile in HID order.
func (x *Index) Nodes(ctx context.Context) ([]store.TreeNode, error) {
	snap, err := x.current(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]store.TreeNode, 0, len(snap.order))
	for _, id := range snap.order {
		out = append(out, snap.nodes[id])
	}
	return out, nil
}

// Lookup reports whether id is an indexed tree member.
func (x *Index) Lookup(ctx context.Context, id string) (store.TreeNode, bool, error) {
	snap, err := x.current(ctx)
	if err != nil {
		return store.TreeNode{}, false, err
	}
	n, ok := snap.nodes[id]
	return n, ok, nil
}

// BuildChain returns the memoized ancestry chain of a tree member. ok is
// false when id is not in the index (Munasib, deleted or unknown).
func (x *Index) BuildChain(ctx context.Context, id string) (Chain, bool, error) {
	snap, err := x.current(ctx)
	if err != nil {
		return Chain{}, false, err
	}
	if _, ok := snap.nodes[id]; !ok {
		return Chain{}, false, nil
	}

	snap.mu.Lock()
	cached, hit := snap.chains[id]
	snap.mu.Unlock()
	if hit {
		metrics.LineageCache("hit")
		return cached, true, nil
	}
	metrics.LineageCache("miss")

	chain := x.walk(snap, id)
	snap.mu.Lock()
	snap.chains[id] = chain
	snap.mu.Unlock()
	return chain, true, nil
}

// Tokens returns [self, father, grandfather, ...] for a tree member.
func (x *Index) Tokens(ctx context.Context, id string) ([]string, error) {
	chain, ok, err := x.BuildChain(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	return chain.Names, nil
}

func (x *Index) walk(snap *snapshot, id string) Chain {
	start := snap.nodes[id]
	chain := Chain{ProfileID: id, Generation: generation(start.HID)}

	var b strings.Builder
	b.WriteString(start.Name)
	chain.Names = append(chain.Names, start.Name)

	visited := map[string]bool{id: true}
	cur := start
	for depth := 0; ; depth++ {
		if cur.FatherID == nil {
			break
		}
		father, ok := snap.nodes[*cur.FatherID]
		if !ok {
			break
		}
		if visited[father.ID] {
			chain.Cycle = true
			break
		}
		if depth >= x.maxDepth {
			chain.Truncated = true
			break
		}
		visited[father.ID] = true

		b.WriteByte(' ')
		b.WriteString(connective(cur.Gender))
		b.WriteByte(' ')
		b.WriteString(father.Name)
		chain.Names = append(chain.Names, father.Name)
		cur = father
	}

	b.WriteByte(' ')
	b.WriteString(x.suffix)
	chain.Text = b.String()
	return chain
}

func (x *Index) Suffix() string { return x.suffix }

// MunasibChain is the chain of a married-in profile: the name followed by
// the family origin when known.
func MunasibChain(name string, familyOrigin *string) string {
	name = strings.TrimSpace(name)
	if familyOrigin == nil || strings.TrimSpace(*familyOrigin) == "" {
		return name
	}
	return name + " " + strings.TrimSpace(*familyOrigin)
}

func connective(gender string) string {
	if gender == store.GenderFemale {
		return daughterOf
	}
	return sonOf
}

func generation(raw string) int {
	h, err := hid.Parse(raw)
	if err != nil {
		return 0
	}
	return h.Depth()
}

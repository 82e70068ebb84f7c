package rbac

import (
	"context"
	"fmt"

	"alqefari/api/internal/hid"
)

const defaultMaxDepth = 12

// Person is the slice of a profile the evaluator needs.
type Person struct {
	ID       string
	HID      string
	FatherID string
	MotherID string
	Role     Role
	Deleted  bool
}

// Graph answers the relationship questions behind a permission decision.
// Implementations usually read inside the caller's transaction.
type Graph interface {
	Person(ctx context.Context, id string) (Person, bool, error)
	CurrentSpouses(ctx context.Context, id string) ([]string, error)
	ModeratorBranches(ctx context.Context, id string) ([]string, error)
	SuggestionBlocked(ctx context.Context, id string) (bool, error)
}

type Evaluator struct {
	graph    Graph
	maxDepth int
}

func NewEvaluator(graph Graph, maxDepth int) *Evaluator {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	return &Evaluator{graph: graph, maxDepth: maxDepth}
}

// Evaluate computes the actor's permission level over target.
func (e *Evaluator) Evaluate(ctx context.Context, actorID, targetID string) (Level, error) {
	if actorID == "" || targetID == "" {
		return LevelNone, nil
	}
	levels, err := e.EvaluateMany(ctx, actorID, []string{targetID})
	if err != nil {
		return LevelNone, err
	}
	return levels[targetID], nil
}

// EvaluateMany evaluates every target with one actor context and a shared
// person cache, so a cascade over many descendants costs one pass.
func (e *Evaluator) EvaluateMany(ctx context.Context, actorID string, targetIDs []string) (map[string]Level, error) {
	out := make(map[string]Level, len(targetIDs))
	if actorID == "" {
		for _, id := range targetIDs {
			out[id] = LevelNone
		}
		return out, nil
	}

	ev := &evaluation{Evaluator: e, ctx: ctx, people: map[string]*Person{}}
	actor, ok, err := ev.person(actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		for _, id := range targetIDs {
			out[id] = LevelNone
		}
		return out, nil
	}
	if err := ev.loadActorContext(actor); err != nil {
		return nil, err
	}

	for _, targetID := range targetIDs {
		level, err := ev.evaluate(actor, targetID)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", targetID, err)
		}
		out[targetID] = level
	}
	return out, nil
}

type evaluation struct {
	*Evaluator
	ctx      context.Context
	people   map[string]*Person
	spouses  map[string]struct{}
	branches []hid.HID
	blocked  bool
}

func (ev *evaluation) person(id string) (*Person, bool, error) {
	if id == "" {
		return nil, false, nil
	}
	if p, ok := ev.people[id]; ok {
		return p, p != nil, nil
	}
	p, ok, err := ev.graph.Person(ev.ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !ok || p.Deleted {
		ev.people[id] = nil
		return nil, false, nil
	}
	ev.people[id] = &p
	return &p, true, nil
}

func (ev *evaluation) loadActorContext(actor *Person) error {
	if actor.Role.IsAdmin() {
		return nil
	}
	spouses, err := ev.graph.CurrentSpouses(ev.ctx, actor.ID)
	if err != nil {
		return fmt.Errorf("load spouses: %w", err)
	}
	ev.spouses = make(map[string]struct{}, len(spouses))
	for _, id := range spouses {
		ev.spouses[id] = struct{}{}
	}
	branches, err := ev.graph.ModeratorBranches(ev.ctx, actor.ID)
	if err != nil {
		return fmt.Errorf("load moderator branches: %w", err)
	}
	for _, raw := range branches {
		if branch, err := hid.Parse(raw); err == nil {
			ev.branches = append(ev.branches, branch)
		}
	}
	ev.blocked, err = ev.graph.SuggestionBlocked(ev.ctx, actor.ID)
	if err != nil {
		return fmt.Errorf("load suggestion block: %w", err)
	}
	return nil
}

func (ev *evaluation) evaluate(actor *Person, targetID string) (Level, error) {
	if targetID == "" {
		return LevelNone, nil
	}
	target, ok, err := ev.person(targetID)
	if err != nil || !ok {
		return LevelNone, err
	}
	if actor.Role.IsAdmin() || actor.ID == target.ID {
		return LevelAdmin, nil
	}

	isAncestor, err := ev.isAncestor(actor.ID, target)
	if err != nil {
		return LevelNone, err
	}
	if isAncestor {
		return LevelInner, nil
	}
	if actor.FatherID == target.ID || actor.MotherID == target.ID {
		return LevelInner, nil
	}
	if (actor.FatherID != "" && actor.FatherID == target.FatherID) ||
		(actor.MotherID != "" && actor.MotherID == target.MotherID) {
		return LevelInner, nil
	}
	if _, ok := ev.spouses[target.ID]; ok {
		return LevelInner, nil
	}

	if target.HID != "" {
		if targetHID, err := hid.Parse(target.HID); err == nil {
			for _, branch := range ev.branches {
				if branch.Contains(targetHID) {
					return LevelModerator, nil
				}
			}
		}
	}

	level, err := ev.kinship(actor, target)
	if err != nil {
		return LevelNone, err
	}
	if ev.blocked {
		return LevelBlocked, nil
	}
	return level, nil
}

// isAncestor walks father and mother links upward from target.
func (ev *evaluation) isAncestor(actorID string, target *Person) (bool, error) {
	visited := map[string]struct{}{target.ID: {}}
	frontier := []*Person{target}
	for depth := 0; depth < ev.maxDepth && len(frontier) > 0; depth++ {
		var next []*Person
		for _, p := range frontier {
			for _, parentID := range []string{p.FatherID, p.MotherID} {
				if parentID == "" {
					continue
				}
				if parentID == actorID {
					return true, nil
				}
				if _, seen := visited[parentID]; seen {
					continue
				}
				visited[parentID] = struct{}{}
				parent, ok, err := ev.person(parentID)
				if err != nil {
					return false, err
				}
				if ok {
					next = append(next, parent)
				}
			}
		}
		frontier = next
	}
	return false, nil
}

// kinship grades paternal-line relatives: a common ancestor at most two
// generations up from both sides is family, three is extended.
func (ev *evaluation) kinship(actor, target *Person) (Level, error) {
	actorLine, err := ev.paternalLine(actor, 3)
	if err != nil {
		return LevelNone, err
	}
	targetLine, err := ev.paternalLine(target, 3)
	if err != nil {
		return LevelNone, err
	}
	best := -1
	for i, a := range actorLine {
		for j, t := range targetLine {
			if a != t {
				continue
			}
			gen := max(i, j)
			if best == -1 || gen < best {
				best = gen
			}
		}
	}
	switch {
	case best >= 0 && best <= 2:
		return LevelFamily, nil
	case best == 3:
		return LevelExtended, nil
	default:
		return LevelSuggest, nil
	}
}

// paternalLine returns [self, father, grandfather, ...] up to n ancestors.
func (ev *evaluation) paternalLine(p *Person, n int) ([]string, error) {
	line := []string{p.ID}
	current := p
	for i := 0; i < n && current.FatherID != ""; i++ {
		father, ok, err := ev.person(current.FatherID)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		line = append(line, father.ID)
		current = father
	}
	return line, nil
}

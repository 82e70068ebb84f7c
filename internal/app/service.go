package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"alqefari/api/internal/authpw"
	"alqefari/api/internal/config"
	"alqefari/api/internal/lease"
	"alqefari/api/internal/lineage"
	"alqefari/api/internal/logging"
	"alqefari/api/internal/ratelimit"
	"alqefari/api/internal/rbac"
	"alqefari/api/internal/search"
	"alqefari/api/internal/store"
)

// Service owns every mutation of the tree. Each method is one or more short
// transactions against the store; none of them waits on a lock.
type Service struct {
	cfg      config.Config
	store    store.Store
	index    *lineage.Index
	search   *search.Service
	locker   lease.Locker
	limiter  *ratelimit.Limiter
	bus      lineage.Publisher
	accounts *authpw.Service
	log      *logrus.Entry
	now      func() time.Time
}

// Deps are the optional collaborators of a Service. Nil fields fall back to
// in-process implementations.
type Deps struct {
	Locker  lease.Locker
	Limiter *ratelimit.Limiter
	Backend search.Backend
	// Bus tells other processes to drop their lineage snapshots.
	Bus lineage.Publisher
	Log *logrus.Entry
}

func New(cfg config.Config, st store.Store, deps Deps) (*Service, error) {
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	locker := deps.Locker
	if locker == nil {
		locker = lease.NewLocalLocker(cfg.UndoLeaseTTL)
	}
	limiter := deps.Limiter
	if limiter == nil {
		rate := cfg.SuggestionRate
		if rate == "" {
			rate = "10-H"
		}
		var err error
		if limiter, err = ratelimit.New("suggestions", rate, nil); err != nil {
			return nil, err
		}
	}

	index := lineage.NewIndex(st.ListTreeNodes, cfg.ChainMaxDepth, cfg.FamilyNameSuffix)
	index.SetMaxAge(cfg.LineageMaxAge)
	return &Service{
		cfg:      cfg,
		store:    st,
		index:    index,
		search:   search.NewService(index, deps.Backend, log),
		locker:   locker,
		limiter:  limiter,
		bus:      deps.Bus,
		accounts: authpw.NewService(st),
		log:      log.WithField("component", "app"),
		now:      time.Now,
	}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Index exposes the lineage index for the CLI.
func (s *Service) Index() *lineage.Index { return s.index }

// Search exposes the search facade for the CLI.
func (s *Service) Search() *search.Service { return s.search }

// logger prefers the request-scoped entry carried by ctx.
func (s *Service) logger(ctx context.Context) *logrus.Entry {
	if entry, ok := logging.Lookup(ctx); ok {
		return entry.WithField("component", "app")
	}
	return s.log
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// txGraph answers permission questions from inside a transaction. revive
// names one soft-deleted profile that is evaluated as if it were active,
// which is how undo of a deletion checks permission on the deleted row.
type txGraph struct {
	tx     store.Tx
	revive string
}

func (g txGraph) Person(ctx context.Context, id string) (rbac.Person, bool, error) {
	p, err := g.tx.GetProfile(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return rbac.Person{}, false, nil
	}
	if err != nil {
		return rbac.Person{}, false, err
	}
	person := rbac.Person{
		ID:      p.ID,
		HID:     deref(p.HID),
		Role:    rbac.Normalize(p.Role),
		Deleted: p.IsDeleted() && p.ID != g.revive,
	}
	person.FatherID = deref(p.FatherID)
	person.MotherID = deref(p.MotherID)
	return person, true, nil
}

func (g txGraph) CurrentSpouses(ctx context.Context, id string) ([]string, error) {
	return g.tx.ListCurrentSpouseIDs(ctx, id)
}

func (g txGraph) ModeratorBranches(ctx context.Context, id string) ([]string, error) {
	return g.tx.ListModeratorBranches(ctx, id)
}

func (g txGraph) SuggestionBlocked(ctx context.Context, id string) (bool, error) {
	return g.tx.IsSuggestionBlocked(ctx, id)
}

func (s *Service) evaluator(tx store.Tx) *rbac.Evaluator {
	return rbac.NewEvaluator(txGraph{tx: tx}, s.cfg.ChainMaxDepth)
}

func (s *Service) level(ctx context.Context, tx store.Tx, actorID, targetID string) (rbac.Level, error) {
	level, err := s.evaluator(tx).Evaluate(ctx, actorID, targetID)
	if err != nil {
		return rbac.LevelNone, fmt.Errorf("evaluate permission: %w", err)
	}
	return level, nil
}

// requireEdit fails unless actor has full edit rights over target. A target
// that does not exist is reported as such rather than as a denial.
func (s *Service) requireEdit(ctx context.Context, tx store.Tx, actorID, targetID string) error {
	level, err := s.level(ctx, tx, actorID, targetID)
	if err != nil {
		return err
	}
	if rbac.CanEdit(level) {
		return nil
	}
	if err := s.requireActiveProfile(ctx, tx, targetID); err != nil {
		return err
	}
	return permissionDenied(fmt.Sprintf("permission level %q cannot edit this profile", level))
}

func (s *Service) requireActiveProfile(ctx context.Context, tx store.Tx, id string) error {
	p, err := tx.GetProfile(ctx, id)
	if err != nil {
		return storeError(err, "profile", id)
	}
	if p.IsDeleted() {
		return notFound("profile", id)
	}
	return nil
}

// isAdmin reads the actor's role from its profile, never from the token.
func (s *Service) isAdmin(ctx context.Context, tx store.Tx, actorID string) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	actor, err := tx.GetProfile(ctx, actorID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load actor: %w", err)
	}
	return !actor.IsDeleted() && rbac.Normalize(actor.Role).IsAdmin(), nil
}

func (s *Service) requireAdmin(ctx context.Context, tx store.Tx, actorID string) error {
	ok, err := s.isAdmin(ctx, tx, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return notAdmin()
	}
	return nil
}

// treeChanged runs after a commit that touched tree members. Chains are
// recomputed lazily; the search index is refreshed in the background.
func (s *Service) treeChanged(ctx context.Context, lineageAffected bool, ids ...string) {
	if lineageAffected {
		s.index.Invalidate()
		if s.bus != nil {
			if err := s.bus.Publish(context.WithoutCancel(ctx)); err != nil {
				s.logger(ctx).WithError(err).Warn("announce lineage change")
			}
		}
		ids = s.withDescendants(ctx, ids)
	}
	s.search.RefreshProfiles(ctx, ids...)
}

// withDescendants adds the paternal descendants of ids, whose chains embed
// the names of ids.
func (s *Service) withDescendants(ctx context.Context, ids []string) []string {
	nodes, err := s.index.Nodes(ctx)
	if err != nil {
		s.logger(ctx).WithError(err).Warn("load lineage index for refresh")
		return ids
	}
	children := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		if n.FatherID != nil {
			children[*n.FatherID] = append(children[*n.FatherID], n.ID)
		}
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	queue := append([]string(nil), ids...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		queue = append(queue, children[id]...)
	}
	return out
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

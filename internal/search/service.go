package search

import (
	"context"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sirupsen/logrus"

	"alqefari/api/internal/lineage"
	"alqefari/api/internal/metrics"
)

const (
	backendMeili   = "meilisearch"
	backendLineage = "lineage"

	// candidateLimit bounds how many ids the backend may hand to the ranker.
	// A backend answer of exactly this size marks the response truncated.
	candidateLimit = 1000
)

// Service is the facade that narrows candidates through Meilisearch when it
// is healthy and falls back to scanning the lineage index.
type Service struct {
	index   *lineage.Index
	backend Backend
	log     *logrus.Entry
}

// NewService creates a search service. backend may be nil if Meilisearch is
// not configured.
func NewService(index *lineage.Index, backend Backend, log *logrus.Entry) *Service {
	return &Service{index: index, backend: backend, log: log.WithField("component", "search")}
}

func (s *Service) backendUp() bool {
	return s.backend != nil && s.backend.Healthy()
}

// Search ranks tree members by how their name chain lines up with the terms.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	terms, err := NormalizeTerms(q.Terms)
	if err != nil {
		return Response{}, err
	}
	if q.Offset < 0 {
		return Response{}, invalidf("offset must be zero or more")
	}

	candidates, backend, truncated, err := s.candidates(ctx, terms)
	if err != nil {
		return Response{}, err
	}
	metrics.Search(backend)
	if truncated {
		s.log.WithField("terms", terms).Debug("backend candidate list hit the limit")
	}

	ranked := Rank(terms, candidates)
	return Response{
		Results:   Page(ranked, q.Limit, q.Offset),
		Total:     len(ranked),
		Truncated: truncated,
		Terms:     terms,
		Backend:   backend,
	}, nil
}

func (s *Service) candidates(ctx context.Context, terms []string) ([]Candidate, string, bool, error) {
	if s.backendUp() {
		ids, err := s.backend.Candidates(strings.Join(terms, " "), candidateLimit)
		if err == nil {
			out := make([]Candidate, 0, len(ids))
			for _, id := range ids {
				c, ok, err := s.candidate(ctx, id)
				if err != nil {
					return nil, "", false, err
				}
				if ok {
					out = append(out, c)
				}
			}
			return out, backendMeili, len(ids) >= candidateLimit, nil
		}
		s.log.WithError(err).Warn("meilisearch error, falling back to lineage index")
	}

	nodes, err := s.index.Nodes(ctx)
	if err != nil {
		return nil, "", false, err
	}
	out := make([]Candidate, 0, len(nodes))
	for _, n := range nodes {
		c, ok, err := s.candidate(ctx, n.ID)
		if err != nil {
			return nil, "", false, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, backendLineage, false, nil
}

// candidate resolves an id through the lineage index. Ids the index does not
// know (Munasib, deleted, stale search documents) are dropped.
func (s *Service) candidate(ctx context.Context, id string) (Candidate, bool, error) {
	chain, ok, err := s.index.BuildChain(ctx, id)
	if err != nil || !ok {
		return Candidate{}, false, err
	}
	name := ""
	if len(chain.Names) > 0 {
		name = chain.Names[0]
	}
	return Candidate{
		ProfileID:  id,
		Name:       name,
		Chain:      chain.Text,
		Names:      chain.Names,
		Generation: chain.Generation,
	}, true, nil
}

// SuggestNames ranks the distinct given names in the tree against prefix,
// folding case and diacritics.
func (s *Service) SuggestNames(ctx context.Context, prefix string, limit int) ([]string, error) {
	prefix = Normalize(prefix)
	if prefix == "" {
		return nil, invalidf("prefix is required")
	}
	if limit <= 0 || limit > MaxLimit {
		limit = 10
	}

	nodes, err := s.index.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var names, folded []string
	for _, n := range nodes {
		key := Normalize(n.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, n.Name)
		folded = append(folded, key)
	}

	ranks := fuzzy.RankFindNormalizedFold(prefix, folded)
	sort.Sort(ranks)

	out := make([]string, 0, min(limit, len(ranks)))
	for _, r := range ranks {
		if len(out) == limit {
			break
		}
		out = append(out, names[r.OriginalIndex])
	}
	return out, nil
}

// RefreshProfiles pushes the current chains of ids to the backend, removing
// ids that left the tree (fire-and-forget).
func (s *Service) RefreshProfiles(ctx context.Context, ids ...string) {
	if !s.backendUp() || len(ids) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		var records []ProfileRecord
		for _, id := range ids {
			c, ok, err := s.candidate(ctx, id)
			if err != nil {
				s.log.WithError(err).WithField("profile_id", id).Warn("refresh profile")
				continue
			}
			if !ok {
				if err := s.backend.DeleteProfile(id); err != nil {
					s.log.WithError(err).WithField("profile_id", id).Warn("delete profile from index")
				}
				continue
			}
			records = append(records, toRecord(c))
		}
		if err := s.backend.IndexProfiles(records); err != nil {
			s.log.WithError(err).Warn("index profiles")
		}
	}()
}

// ReindexAll rebuilds every document from the lineage index. It returns the
// number of documents sent.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if !s.backendUp() {
		return 0, nil
	}
	nodes, err := s.index.Nodes(ctx)
	if err != nil {
		return 0, err
	}
	records := make([]ProfileRecord, 0, len(nodes))
	for _, n := range nodes {
		c, ok, err := s.candidate(ctx, n.ID)
		if err != nil {
			return 0, err
		}
		if ok {
			records = append(records, toRecord(c))
		}
	}
	if err := s.backend.IndexProfiles(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func toRecord(c Candidate) ProfileRecord {
	return ProfileRecord{
		ID:         c.ProfileID,
		Name:       c.Name,
		Chain:      c.Chain,
		Names:      normalizeAll(c.Names),
		Generation: c.Generation,
	}
}

package search

import (
	"errors"
	"fmt"
)

// ErrInvalidInput reports a malformed query; the message is safe to show.
var ErrInvalidInput = errors.New("invalid search input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

const (
	DefaultLimit = 20
	MaxLimit     = 100
	MaxTerms     = 10
	MinTermRunes = 2
)

// Query is a name-chain search request.
type Query struct {
	Terms  []string `json:"terms"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// Result is one ranked profile.
type Result struct {
	ProfileID  string `json:"profileId"`
	Name       string `json:"name"`
	Chain      string `json:"chain"`
	Generation int    `json:"generation"`
	Tier       Tier   `json:"tier"`
	Score      int    `json:"score"`
}

// Response is the envelope returned by the search endpoint. Total counts the
// ranked candidates. Meilisearch hands over at most 1000 of them, so when
// Truncated is set Total is a lower bound and later pages may be missing
// matches the lineage scan would have found.
type Response struct {
	Results   []Result `json:"results"`
	Total     int      `json:"total"`
	Truncated bool     `json:"truncated,omitempty"`
	Terms     []string `json:"terms"`
	Backend   string   `json:"backend"`
}

// ProfileRecord is the document stored in the profiles index.
type ProfileRecord struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Chain      string   `json:"chain"`
	Names      []string `json:"names"`
	Generation int      `json:"generation"`
}

// Backend narrows the candidate set before ranking.
type Backend interface {
	Healthy() bool
	Candidates(query string, limit int) ([]string, error)
	IndexProfiles(records []ProfileRecord) error
	DeleteProfile(id string) error
}

package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrLockNotAvailable = errors.New("row is locked by another transaction")
	ErrMunasibViolation = errors.New("munasib constraint violated")
	ErrAuditImmutable   = errors.New("audit entry is immutable")
	ErrConflict         = errors.New("unique constraint violated")
	ErrConstraint       = errors.New("check constraint violated")
)

// Tx is the unit of work handed to InTx and View callbacks. Lock* methods
// take a row lock with NOWAIT and fail with ErrLockNotAvailable when another
// transaction holds it.
type Tx interface {
	GetProfile(ctx context.Context, id string) (Profile, error)
	LockProfile(ctx context.Context, id string) (Profile, error)
	InsertProfile(ctx context.Context, p Profile) error
	UpdateProfile(ctx context.Context, p Profile) error
	ListActiveChildren(ctx context.Context, parentID string) ([]Profile, error)
	ListChildHIDs(ctx context.Context, fatherID string) ([]string, error)

	GetMarriage(ctx context.Context, id string) (Marriage, error)
	LockMarriage(ctx context.Context, id string) (Marriage, error)
	InsertMarriage(ctx context.Context, m Marriage) error
	UpdateMarriage(ctx context.Context, m Marriage) error
	ListCurrentSpouseIDs(ctx context.Context, profileID string) ([]string, error)

	InsertAuditEntry(ctx context.Context, e *AuditEntry) error
	GetAuditEntry(ctx context.Context, id int64) (AuditEntry, error)
	LockAuditEntry(ctx context.Context, id int64) (AuditEntry, error)
	MarkAuditUndone(ctx context.Context, id int64, undoneBy string, reason *string, at time.Time) error
	ListAuditBatch(ctx context.Context, batchID string) ([]AuditEntry, error)
	ListAuditForRecord(ctx context.Context, recordID string, limit int) ([]AuditEntry, error)

	InsertSuggestion(ctx context.Context, s EditSuggestion) error
	GetSuggestion(ctx context.Context, id string) (EditSuggestion, error)
	LockSuggestion(ctx context.Context, id string) (EditSuggestion, error)
	UpdateSuggestionReview(ctx context.Context, s EditSuggestion) error
	ListPendingSuggestions(ctx context.Context, profileID string) ([]EditSuggestion, error)

	ListModeratorBranches(ctx context.Context, userID string) ([]string, error)
	InsertModerator(ctx context.Context, m BranchModerator) error
	DeactivateModerator(ctx context.Context, id string) error
	IsSuggestionBlocked(ctx context.Context, userID string) (bool, error)
	UpsertSuggestionBlock(ctx context.Context, b SuggestionBlock) error
	DeactivateSuggestionBlock(ctx context.Context, userID string) error
}

// Store is implemented by PostgresStore and MemoryStore.
type Store interface {
	// InTx runs fn in one transaction; any error rolls everything back.
	InTx(ctx context.Context, fn func(Tx) error) error
	// View runs fn without a transaction. Lock* must not be used inside it.
	View(ctx context.Context, fn func(Tx) error) error
	ListTreeNodes(ctx context.Context) ([]TreeNode, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	CreateAccount(ctx context.Context, a Account) error
	Ping(ctx context.Context) error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// AuditMetadata is the typed form of audit_log.metadata.
type AuditMetadata struct {
	BatchID      string `json:"batch_id,omitempty"`
	RootID       string `json:"root_id,omitempty"`
	Cascade      bool   `json:"cascade,omitempty"`
	SuggestionID string `json:"suggestion_id,omitempty"`
}

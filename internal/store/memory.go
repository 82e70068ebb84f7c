package store

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// Row-lock table names accepted by MemoryStore.HoldRowLock.
const (
	TableProfiles    = "profiles"
	TableMarriages   = "marriages"
	TableAuditLog    = "audit_log"
	TableSuggestions = "edit_suggestions"
)

type memoryState struct {
	profiles    map[string]Profile
	marriages   map[string]Marriage
	audit       map[int64]AuditEntry
	suggestions map[string]EditSuggestion
	moderators  map[string]BranchModerator
	blocks      map[string]SuggestionBlock
	accounts    map[string]Account
	auditSeq    int64
	lastAuditAt time.Time
}

func newMemoryState() *memoryState {
	return &memoryState{
		profiles:    map[string]Profile{},
		marriages:   map[string]Marriage{},
		audit:       map[int64]AuditEntry{},
		suggestions: map[string]EditSuggestion{},
		moderators:  map[string]BranchModerator{},
		blocks:      map[string]SuggestionBlock{},
		accounts:    map[string]Account{},
	}
}

// clone copies the maps. Stored values are replaced wholesale on write, never
// mutated in place, so a shallow copy of each map is enough.
func (s *memoryState) clone() *memoryState {
	return &memoryState{
		profiles:    maps.Clone(s.profiles),
		marriages:   maps.Clone(s.marriages),
		audit:       maps.Clone(s.audit),
		suggestions: maps.Clone(s.suggestions),
		moderators:  maps.Clone(s.moderators),
		blocks:      maps.Clone(s.blocks),
		accounts:    maps.Clone(s.accounts),
		auditSeq:    s.auditSeq,
		lastAuditAt: s.lastAuditAt,
	}
}

// MemoryStore is an in-process Store. Write transactions are serialized and
// commit by swapping in a modified copy of the state; View reads the last
// committed state.
type MemoryStore struct {
	writeMu sync.Mutex

	stateMu sync.RWMutex
	state   *memoryState

	lockMu sync.Mutex
	held   map[string]int

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: newMemoryState(),
		held:  map[string]int{},
		now:   time.Now,
	}
}

// SetClock replaces the time source used for audit timestamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.now = now
}

// HoldRowLock marks a row as locked by some other transaction until release
// is called. Lock* calls on it fail with ErrLockNotAvailable.
func (m *MemoryStore) HoldRowLock(table, id string) (release func()) {
	key := table + "/" + id
	m.lockMu.Lock()
	m.held[key]++
	m.lockMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.lockMu.Lock()
			defer m.lockMu.Unlock()
			if m.held[key] <= 1 {
				delete(m.held, key)
				return
			}
			m.held[key]--
		})
	}
}

func (m *MemoryStore) isHeld(table, id string) bool {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	return m.held[table+"/"+id] > 0
}

func (m *MemoryStore) snapshot() *memoryState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	work := m.snapshot().clone()
	if err := fn(&memTx{store: m, state: work}); err != nil {
		return err
	}

	m.stateMu.Lock()
	m.state = work
	m.stateMu.Unlock()
	return nil
}

func (m *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memTx{store: m, state: m.snapshot(), readOnly: true})
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) ListTreeNodes(ctx context.Context) ([]TreeNode, error) {
	state := m.snapshot()
	nodes := make([]TreeNode, 0, len(state.profiles))
	for _, p := range state.profiles {
		if p.IsMunasib() || p.IsDeleted() {
			continue
		}
		nodes = append(nodes, TreeNode{ID: p.ID, Name: p.Name, Gender: p.Gender, FatherID: p.FatherID, HID: *p.HID})
	}
	slices.SortFunc(nodes, func(a, b TreeNode) int { return strings.Compare(a.HID, b.HID) })
	return nodes, nil
}

func (m *MemoryStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	for _, a := range m.snapshot().accounts {
		if strings.EqualFold(a.Email, email) {
			return a, nil
		}
	}
	return Account{}, fmt.Errorf("account %s: %w", email, ErrNotFound)
}

func (m *MemoryStore) CreateAccount(ctx context.Context, a Account) error {
	return m.InTx(ctx, func(tx Tx) error {
		state := tx.(*memTx).state
		if _, ok := state.profiles[a.ProfileID]; !ok {
			return fmt.Errorf("create account: profile %s: %w", a.ProfileID, ErrNotFound)
		}
		for _, existing := range state.accounts {
			if strings.EqualFold(existing.Email, a.Email) || existing.ProfileID == a.ProfileID {
				return fmt.Errorf("create account: %w", ErrConflict)
			}
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = m.now().UTC()
		}
		state.accounts[a.ID] = a
		return nil
	})
}

type memTx struct {
	store    *MemoryStore
	state    *memoryState
	readOnly bool
}

func (t *memTx) writable() error {
	if t.readOnly {
		return fmt.Errorf("write outside transaction")
	}
	return nil
}

func (t *memTx) lock(table, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if t.store.isHeld(table, id) {
		return fmt.Errorf("lock %s %s: %w", table, id, ErrLockNotAvailable)
	}
	return nil
}

func (t *memTx) GetProfile(ctx context.Context, id string) (Profile, error) {
	p, ok := t.state.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("get profile %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (t *memTx) LockProfile(ctx context.Context, id string) (Profile, error) {
	p, err := t.GetProfile(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	if err := t.lock(TableProfiles, id); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (t *memTx) checkProfileRefs(p Profile) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name: %w", ErrConstraint)
	}
	if p.Gender != GenderMale && p.Gender != GenderFemale {
		return fmt.Errorf("profile gender: %w", ErrConstraint)
	}
	if p.Status != StatusAlive && p.Status != StatusDeceased {
		return fmt.Errorf("profile status: %w", ErrConstraint)
	}
	if p.Version < 1 {
		return fmt.Errorf("profile version: %w", ErrConstraint)
	}
	for _, ref := range []*string{p.FatherID, p.MotherID} {
		if ref == nil {
			continue
		}
		if _, ok := t.state.profiles[*ref]; !ok && *ref != p.ID {
			return fmt.Errorf("parent %s: %w", *ref, ErrNotFound)
		}
	}
	if p.HID != nil && *p.HID != "" {
		for id, other := range t.state.profiles {
			if id != p.ID && other.HID != nil && *other.HID == *p.HID {
				return fmt.Errorf("hid %s: %w", *p.HID, ErrConflict)
			}
		}
	}
	return nil
}

func (t *memTx) InsertProfile(ctx context.Context, p Profile) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.state.profiles[p.ID]; exists {
		return fmt.Errorf("insert profile %s: %w", p.ID, ErrConflict)
	}
	if err := t.checkProfileRefs(p); err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	t.state.profiles[p.ID] = p
	return nil
}

func (t *memTx) UpdateProfile(ctx context.Context, p Profile) error {
	if err := t.writable(); err != nil {
		return err
	}
	prev, exists := t.state.profiles[p.ID]
	if !exists {
		return fmt.Errorf("update profile %s: %w", p.ID, ErrNotFound)
	}
	if err := t.checkProfileRefs(p); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if !ptrEqual(prev.FamilyOrigin, p.FamilyOrigin) || !ptrEqual(prev.HID, p.HID) {
		if err := t.checkMarriagesOf(p); err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
	}
	t.state.profiles[p.ID] = p
	return nil
}

// checkMarriagesOf mirrors trg_profile_munasib_guard: every live marriage of
// p must still satisfy the munasib rule with p's new hid and family_origin.
func (t *memTx) checkMarriagesOf(p Profile) error {
	for _, m := range t.state.marriages {
		if m.DeletedAt != nil || (m.HusbandID != p.ID && m.WifeID != p.ID) {
			continue
		}
		husband, wife := t.state.profiles[m.HusbandID], t.state.profiles[m.WifeID]
		if m.HusbandID == p.ID {
			husband = p
		} else {
			wife = p
		}
		if err := CheckMunasib(husband, wife, m.Munasib); err != nil {
			return fmt.Errorf("marriage %s: %w", m.ID, err)
		}
	}
	return nil
}

func (t *memTx) ListActiveChildren(ctx context.Context, parentID string) ([]Profile, error) {
	var out []Profile
	for _, p := range t.state.profiles {
		if p.IsDeleted() {
			continue
		}
		if ptrEq(p.FatherID, parentID) || ptrEq(p.MotherID, parentID) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Profile) int {
		if a.SiblingOrder != b.SiblingOrder {
			return a.SiblingOrder - b.SiblingOrder
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *memTx) ListChildHIDs(ctx context.Context, fatherID string) ([]string, error) {
	var out []string
	for _, p := range t.state.profiles {
		if ptrEq(p.FatherID, fatherID) && !p.IsMunasib() {
			out = append(out, *p.HID)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (t *memTx) GetMarriage(ctx context.Context, id string) (Marriage, error) {
	m, ok := t.state.marriages[id]
	if !ok {
		return Marriage{}, fmt.Errorf("get marriage %s: %w", id, ErrNotFound)
	}
	return m, nil
}

func (t *memTx) LockMarriage(ctx context.Context, id string) (Marriage, error) {
	m, err := t.GetMarriage(ctx, id)
	if err != nil {
		return Marriage{}, err
	}
	if err := t.lock(TableMarriages, id); err != nil {
		return Marriage{}, err
	}
	return m, nil
}

func (t *memTx) checkMarriage(m Marriage) error {
	if m.HusbandID == m.WifeID {
		return fmt.Errorf("spouses must differ: %w", ErrConstraint)
	}
	if m.Status != MarriageCurrent && m.Status != MarriagePast {
		return fmt.Errorf("marriage status: %w", ErrConstraint)
	}
	husband, ok := t.state.profiles[m.HusbandID]
	if !ok {
		return fmt.Errorf("husband %s: %w", m.HusbandID, ErrNotFound)
	}
	wife, ok := t.state.profiles[m.WifeID]
	if !ok {
		return fmt.Errorf("wife %s: %w", m.WifeID, ErrNotFound)
	}
	return CheckMunasib(husband, wife, m.Munasib)
}

func (t *memTx) InsertMarriage(ctx context.Context, m Marriage) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.state.marriages[m.ID]; exists {
		return fmt.Errorf("insert marriage %s: %w", m.ID, ErrConflict)
	}
	if err := t.checkMarriage(m); err != nil {
		return fmt.Errorf("insert marriage: %w", err)
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	t.state.marriages[m.ID] = m
	return nil
}

func (t *memTx) UpdateMarriage(ctx context.Context, m Marriage) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.state.marriages[m.ID]; !exists {
		return fmt.Errorf("update marriage %s: %w", m.ID, ErrNotFound)
	}
	// pgTx.UpdateMarriage lists munasib in its SET clause, so the trigger
	// fires on every update.
	if err := t.checkMarriage(m); err != nil {
		return fmt.Errorf("update marriage: %w", err)
	}
	t.state.marriages[m.ID] = m
	return nil
}

func (t *memTx) ListCurrentSpouseIDs(ctx context.Context, profileID string) ([]string, error) {
	var out []string
	for _, m := range t.state.marriages {
		if m.Status != MarriageCurrent || m.DeletedAt != nil {
			continue
		}
		switch profileID {
		case m.HusbandID:
			out = append(out, m.WifeID)
		case m.WifeID:
			out = append(out, m.HusbandID)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (t *memTx) InsertAuditEntry(ctx context.Context, e *AuditEntry) error {
	if err := t.writable(); err != nil {
		return err
	}
	if e.CompensatesLogID != nil {
		if _, ok := t.state.audit[*e.CompensatesLogID]; !ok {
			return fmt.Errorf("insert audit entry: compensated entry %d: %w", *e.CompensatesLogID, ErrNotFound)
		}
	}
	for _, raw := range []json.RawMessage{e.OldData, e.NewData, e.Metadata} {
		if len(raw) > 0 && !json.Valid(raw) {
			return fmt.Errorf("insert audit entry: invalid json: %w", ErrConstraint)
		}
	}

	// Timestamps are strictly increasing, like clock_timestamp() per row.
	at := t.store.now().UTC()
	if !at.After(t.state.lastAuditAt) {
		at = t.state.lastAuditAt.Add(time.Microsecond)
	}
	t.state.lastAuditAt = at
	t.state.auditSeq++

	e.ID = t.state.auditSeq
	e.CreatedAt = at
	if e.Severity == "" {
		e.Severity = "low"
	}
	if len(e.Metadata) == 0 {
		e.Metadata = json.RawMessage(`{}`)
	}
	if e.ChangedFields == nil {
		e.ChangedFields = []string{}
	}
	stored := *e
	stored.ChangedFields = slices.Clone(e.ChangedFields)
	t.state.audit[e.ID] = stored
	return nil
}

func (t *memTx) GetAuditEntry(ctx context.Context, id int64) (AuditEntry, error) {
	e, ok := t.state.audit[id]
	if !ok {
		return AuditEntry{}, fmt.Errorf("get audit entry %d: %w", id, ErrNotFound)
	}
	e.ChangedFields = slices.Clone(e.ChangedFields)
	return e, nil
}

func (t *memTx) LockAuditEntry(ctx context.Context, id int64) (AuditEntry, error) {
	e, err := t.GetAuditEntry(ctx, id)
	if err != nil {
		return AuditEntry{}, err
	}
	if err := t.lock(TableAuditLog, fmt.Sprint(id)); err != nil {
		return AuditEntry{}, err
	}
	return e, nil
}

func (t *memTx) MarkAuditUndone(ctx context.Context, id int64, undoneBy string, reason *string, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	e, ok := t.state.audit[id]
	if !ok {
		return fmt.Errorf("mark audit entry %d undone: %w", id, ErrNotFound)
	}
	if e.UndoneAt != nil {
		return fmt.Errorf("mark audit entry %d undone: %w", id, ErrAuditImmutable)
	}
	at = at.UTC()
	e.UndoneAt = &at
	e.UndoneBy = &undoneBy
	e.UndoReason = reason
	t.state.audit[id] = e
	return nil
}

func (t *memTx) ListAuditBatch(ctx context.Context, batchID string) ([]AuditEntry, error) {
	var out []AuditEntry
	for _, e := range t.state.audit {
		if e.CompensatesLogID != nil || len(e.Metadata) == 0 {
			continue
		}
		var meta AuditMetadata
		if err := json.Unmarshal(e.Metadata, &meta); err != nil {
			continue
		}
		if meta.BatchID == batchID {
			out = append(out, e)
		}
	}
	sortAuditDesc(out)
	return out, nil
}

func (t *memTx) ListAuditForRecord(ctx context.Context, recordID string, limit int) ([]AuditEntry, error) {
	var out []AuditEntry
	for _, e := range t.state.audit {
		if e.RecordID == recordID {
			out = append(out, e)
		}
	}
	sortAuditDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortAuditDesc(entries []AuditEntry) {
	slices.SortFunc(entries, func(a, b AuditEntry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
}

func (t *memTx) InsertSuggestion(ctx context.Context, s EditSuggestion) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.profiles[s.ProfileID]; !ok {
		return fmt.Errorf("insert suggestion: profile %s: %w", s.ProfileID, ErrNotFound)
	}
	if _, exists := t.state.suggestions[s.ID]; exists {
		return fmt.Errorf("insert suggestion %s: %w", s.ID, ErrConflict)
	}
	t.state.suggestions[s.ID] = s
	return nil
}

func (t *memTx) GetSuggestion(ctx context.Context, id string) (EditSuggestion, error) {
	s, ok := t.state.suggestions[id]
	if !ok {
		return EditSuggestion{}, fmt.Errorf("get suggestion %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (t *memTx) LockSuggestion(ctx context.Context, id string) (EditSuggestion, error) {
	s, err := t.GetSuggestion(ctx, id)
	if err != nil {
		return EditSuggestion{}, err
	}
	if err := t.lock(TableSuggestions, id); err != nil {
		return EditSuggestion{}, err
	}
	return s, nil
}

func (t *memTx) UpdateSuggestionReview(ctx context.Context, s EditSuggestion) error {
	if err := t.writable(); err != nil {
		return err
	}
	prev, ok := t.state.suggestions[s.ID]
	if !ok {
		return fmt.Errorf("review suggestion %s: %w", s.ID, ErrNotFound)
	}
	prev.Status = s.Status
	prev.ReviewedBy = s.ReviewedBy
	prev.ReviewNote = s.ReviewNote
	prev.ReviewedAt = s.ReviewedAt
	t.state.suggestions[s.ID] = prev
	return nil
}

func (t *memTx) ListPendingSuggestions(ctx context.Context, profileID string) ([]EditSuggestion, error) {
	var out []EditSuggestion
	for _, s := range t.state.suggestions {
		if s.ProfileID == profileID && s.Status == SuggestionPending {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b EditSuggestion) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *memTx) ListModeratorBranches(ctx context.Context, userID string) ([]string, error) {
	var out []string
	for _, m := range t.state.moderators {
		if m.UserID == userID && m.IsActive {
			out = append(out, m.BranchHID)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (t *memTx) InsertModerator(ctx context.Context, m BranchModerator) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.profiles[m.UserID]; !ok {
		return fmt.Errorf("insert moderator: user %s: %w", m.UserID, ErrNotFound)
	}
	for _, existing := range t.state.moderators {
		if existing.IsActive && existing.UserID == m.UserID && existing.BranchHID == m.BranchHID {
			return fmt.Errorf("insert moderator: %w", ErrConflict)
		}
	}
	m.IsActive = true
	t.state.moderators[m.ID] = m
	return nil
}

func (t *memTx) DeactivateModerator(ctx context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	m, ok := t.state.moderators[id]
	if !ok || !m.IsActive {
		return fmt.Errorf("deactivate moderator %s: %w", id, ErrNotFound)
	}
	m.IsActive = false
	t.state.moderators[id] = m
	return nil
}

func (t *memTx) IsSuggestionBlocked(ctx context.Context, userID string) (bool, error) {
	b, ok := t.state.blocks[userID]
	return ok && b.IsActive, nil
}

func (t *memTx) UpsertSuggestionBlock(ctx context.Context, b SuggestionBlock) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.profiles[b.BlockedUserID]; !ok {
		return fmt.Errorf("block user %s: %w", b.BlockedUserID, ErrNotFound)
	}
	b.IsActive = true
	t.state.blocks[b.BlockedUserID] = b
	return nil
}

func (t *memTx) DeactivateSuggestionBlock(ctx context.Context, userID string) error {
	if err := t.writable(); err != nil {
		return err
	}
	b, ok := t.state.blocks[userID]
	if !ok || !b.IsActive {
		return fmt.Errorf("unblock user %s: %w", userID, ErrNotFound)
	}
	b.IsActive = false
	t.state.blocks[userID] = b
	return nil
}

func ptrEq(p *string, v string) bool {
	return p != nil && *p == v
}

func ptrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&pgTx{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapPgError(err))
	}
	return nil
}

func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	return fn(&pgTx{q: s.db})
}

func (s *PostgresStore) ListTreeNodes(ctx context.Context) ([]TreeNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, gender, father_id, hid
		FROM profiles
		WHERE hid IS NOT NULL AND hid <> '' AND deleted_at IS NULL
		ORDER BY hid
	`)
	if err != nil {
		return nil, fmt.Errorf("list tree nodes: %w", err)
	}
	defer rows.Close()

	var nodes []TreeNode
	for rows.Next() {
		var n TreeNode
		if err := rows.Scan(&n.ID, &n.Name, &n.Gender, &n.FatherID, &n.HID); err != nil {
			return nil, fmt.Errorf("scan tree node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	var a Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, profile_id, created_at
		FROM accounts WHERE lower(email) = lower($1)
	`, email).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.ProfileID, &a.CreatedAt)
	if err != nil {
		return Account{}, mapPgError(err)
	}
	return a, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, profile_id)
		VALUES ($1, $2, $3, $4)
	`, a.ID, a.Email, a.PasswordHash, a.ProfileID)
	if err != nil {
		return fmt.Errorf("create account: %w", mapPgError(err))
	}
	return nil
}

// pgTx runs every Tx method against either the pool or an open transaction.
type pgTx struct {
	q querier
}

const profileColumns = `
	id, hid, name, gender, status, father_id, mother_id, sibling_order, user_id, role,
	family_origin, kunya, nickname, bio, occupation, education, birth_place,
	current_residence, phone, email, photo_url, social_media_links, dob_data, dod_data,
	version, deleted_at, created_at, updated_at, updated_by`

func scanProfile(row rowScanner) (Profile, error) {
	var p Profile
	var social, dob, dod []byte
	err := row.Scan(
		&p.ID, &p.HID, &p.Name, &p.Gender, &p.Status, &p.FatherID, &p.MotherID, &p.SiblingOrder, &p.UserID, &p.Role,
		&p.FamilyOrigin, &p.Kunya, &p.Nickname, &p.Bio, &p.Occupation, &p.Education, &p.BirthPlace,
		&p.CurrentResidence, &p.Phone, &p.Email, &p.PhotoURL, &social, &dob, &dod,
		&p.Version, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt, &p.UpdatedBy,
	)
	if err != nil {
		return Profile{}, err
	}
	p.SocialMediaLinks = rawJSON(social)
	p.DobData = rawJSON(dob)
	p.DodData = rawJSON(dod)
	return p, nil
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

// jsonParam passes JSON as text so a NULL stays NULL rather than 'null'.
func jsonParam(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}

func (t *pgTx) GetProfile(ctx context.Context, id string) (Profile, error) {
	p, err := scanProfile(t.q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
	if err != nil {
		return Profile{}, fmt.Errorf("get profile %s: %w", id, mapPgError(err))
	}
	return p, nil
}

func (t *pgTx) LockProfile(ctx context.Context, id string) (Profile, error) {
	p, err := scanProfile(t.q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1 FOR UPDATE NOWAIT`, id))
	if err != nil {
		return Profile{}, fmt.Errorf("lock profile %s: %w", id, mapPgError(err))
	}
	return p, nil
}

func (t *pgTx) InsertProfile(ctx context.Context, p Profile) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO profiles (
			id, hid, name, gender, status, father_id, mother_id, sibling_order, user_id, role,
			family_origin, kunya, nickname, bio, occupation, education, birth_place,
			current_residence, phone, email, photo_url, social_media_links, dob_data, dod_data,
			version, created_at, updated_at, updated_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24,
			$25, $26, $26, $27
		)`,
		p.ID, p.HID, p.Name, p.Gender, p.Status, p.FatherID, p.MotherID, p.SiblingOrder, p.UserID, p.Role,
		p.FamilyOrigin, p.Kunya, p.Nickname, p.Bio, p.Occupation, p.Education, p.BirthPlace,
		p.CurrentResidence, p.Phone, p.Email, p.PhotoURL, jsonParam(p.SocialMediaLinks), jsonParam(p.DobData), jsonParam(p.DodData),
		p.Version, p.CreatedAt, p.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert profile: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) UpdateProfile(ctx context.Context, p Profile) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE profiles SET
			hid = $2, name = $3, gender = $4, status = $5, father_id = $6, mother_id = $7,
			sibling_order = $8, user_id = $9, role = $10, family_origin = $11, kunya = $12,
			nickname = $13, bio = $14, occupation = $15, education = $16, birth_place = $17,
			current_residence = $18, phone = $19, email = $20, photo_url = $21,
			social_media_links = $22, dob_data = $23, dod_data = $24,
			version = $25, deleted_at = $26, updated_at = $27, updated_by = $28
		WHERE id = $1`,
		p.ID, p.HID, p.Name, p.Gender, p.Status, p.FatherID, p.MotherID,
		p.SiblingOrder, p.UserID, p.Role, p.FamilyOrigin, p.Kunya,
		p.Nickname, p.Bio, p.Occupation, p.Education, p.BirthPlace,
		p.CurrentResidence, p.Phone, p.Email, p.PhotoURL,
		jsonParam(p.SocialMediaLinks), jsonParam(p.DobData), jsonParam(p.DodData),
		p.Version, p.DeletedAt, p.UpdatedAt, p.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("update profile %s: %w", p.ID, mapPgError(err))
	}
	return expectOneRow(res, "update profile")
}

func (t *pgTx) ListActiveChildren(ctx context.Context, parentID string) ([]Profile, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE (father_id = $1 OR mother_id = $1) AND deleted_at IS NULL
		ORDER BY sibling_order, created_at, id
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", parentID, mapPgError(err))
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) ListChildHIDs(ctx context.Context, fatherID string) ([]string, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT hid FROM profiles WHERE father_id = $1 AND hid IS NOT NULL
	`, fatherID)
	if err != nil {
		return nil, fmt.Errorf("list child hids: %w", mapPgError(err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan child hid: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

const marriageColumns = `id, husband_id, wife_id, status, start_date, end_date, munasib, version, deleted_at, created_at, updated_at`

func scanMarriage(row rowScanner) (Marriage, error) {
	var m Marriage
	err := row.Scan(&m.ID, &m.HusbandID, &m.WifeID, &m.Status, &m.StartDate, &m.EndDate, &m.Munasib,
		&m.Version, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (t *pgTx) GetMarriage(ctx context.Context, id string) (Marriage, error) {
	m, err := scanMarriage(t.q.QueryRowContext(ctx, `SELECT `+marriageColumns+` FROM marriages WHERE id = $1`, id))
	if err != nil {
		return Marriage{}, fmt.Errorf("get marriage %s: %w", id, mapPgError(err))
	}
	return m, nil
}

func (t *pgTx) LockMarriage(ctx context.Context, id string) (Marriage, error) {
	m, err := scanMarriage(t.q.QueryRowContext(ctx, `SELECT `+marriageColumns+` FROM marriages WHERE id = $1 FOR UPDATE NOWAIT`, id))
	if err != nil {
		return Marriage{}, fmt.Errorf("lock marriage %s: %w", id, mapPgError(err))
	}
	return m, nil
}

func (t *pgTx) InsertMarriage(ctx context.Context, m Marriage) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO marriages (id, husband_id, wife_id, status, start_date, end_date, munasib, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, m.ID, m.HusbandID, m.WifeID, m.Status, m.StartDate, m.EndDate, m.Munasib, m.Version, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert marriage: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) UpdateMarriage(ctx context.Context, m Marriage) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE marriages SET
			husband_id = $2, wife_id = $3, status = $4, start_date = $5, end_date = $6,
			munasib = $7, version = $8, deleted_at = $9, updated_at = $10
		WHERE id = $1
	`, m.ID, m.HusbandID, m.WifeID, m.Status, m.StartDate, m.EndDate, m.Munasib, m.Version, m.DeletedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update marriage %s: %w", m.ID, mapPgError(err))
	}
	return expectOneRow(res, "update marriage")
}

func (t *pgTx) ListCurrentSpouseIDs(ctx context.Context, profileID string) ([]string, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT CASE WHEN husband_id = $1 THEN wife_id ELSE husband_id END
		FROM marriages
		WHERE (husband_id = $1 OR wife_id = $1) AND status = 'current' AND deleted_at IS NULL
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list spouses: %w", mapPgError(err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan spouse: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const auditColumns = `
	id, table_name, record_id, action, action_category, actor_id, old_data, new_data,
	changed_fields, description, severity, metadata, is_undoable, undone_at, undone_by,
	undo_reason, compensates_log_id, created_at`

func scanAudit(row rowScanner) (AuditEntry, error) {
	var e AuditEntry
	var oldData, newData, changed, meta []byte
	err := row.Scan(&e.ID, &e.TableName, &e.RecordID, &e.Action, &e.ActionCategory, &e.ActorID, &oldData, &newData,
		&changed, &e.Description, &e.Severity, &meta, &e.IsUndoable, &e.UndoneAt, &e.UndoneBy,
		&e.UndoReason, &e.CompensatesLogID, &e.CreatedAt)
	if err != nil {
		return AuditEntry{}, err
	}
	e.OldData = rawJSON(oldData)
	e.NewData = rawJSON(newData)
	e.Metadata = rawJSON(meta)
	if len(changed) > 0 {
		if err := json.Unmarshal(changed, &e.ChangedFields); err != nil {
			return AuditEntry{}, fmt.Errorf("decode changed_fields: %w", err)
		}
	}
	return e, nil
}

func (t *pgTx) InsertAuditEntry(ctx context.Context, e *AuditEntry) error {
	changed, err := json.Marshal(nonNilStrings(e.ChangedFields))
	if err != nil {
		return fmt.Errorf("encode changed_fields: %w", err)
	}
	meta := e.Metadata
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}
	severity := e.Severity
	if severity == "" {
		severity = "low"
	}
	err = t.q.QueryRowContext(ctx, `
		INSERT INTO audit_log (
			table_name, record_id, action, action_category, actor_id, old_data, new_data,
			changed_fields, description, severity, metadata, is_undoable, compensates_log_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`, e.TableName, e.RecordID, e.Action, e.ActionCategory, e.ActorID, jsonParam(e.OldData), jsonParam(e.NewData),
		string(changed), e.Description, severity, string(meta), e.IsUndoable, e.CompensatesLogID,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", mapPgError(err))
	}
	e.Severity = severity
	e.Metadata = meta
	return nil
}

func (t *pgTx) GetAuditEntry(ctx context.Context, id int64) (AuditEntry, error) {
	e, err := scanAudit(t.q.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE id = $1`, id))
	if err != nil {
		return AuditEntry{}, fmt.Errorf("get audit entry %d: %w", id, mapPgError(err))
	}
	return e, nil
}

func (t *pgTx) LockAuditEntry(ctx context.Context, id int64) (AuditEntry, error) {
	e, err := scanAudit(t.q.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE id = $1 FOR UPDATE NOWAIT`, id))
	if err != nil {
		return AuditEntry{}, fmt.Errorf("lock audit entry %d: %w", id, mapPgError(err))
	}
	return e, nil
}

func (t *pgTx) MarkAuditUndone(ctx context.Context, id int64, undoneBy string, reason *string, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE audit_log SET undone_at = $2, undone_by = $3, undo_reason = $4
		WHERE id = $1 AND undone_at IS NULL
	`, id, at, undoneBy, reason)
	if err != nil {
		return fmt.Errorf("mark audit entry %d undone: %w", id, mapPgError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mark audit entry %d undone: %w", id, ErrAuditImmutable)
	}
	return nil
}

func (t *pgTx) queryAudit(ctx context.Context, op, query string, args ...any) ([]AuditEntry, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapPgError(err))
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) ListAuditBatch(ctx context.Context, batchID string) ([]AuditEntry, error) {
	return t.queryAudit(ctx, "list audit batch", `
		SELECT `+auditColumns+`
		FROM audit_log
		WHERE metadata->>'batch_id' = $1 AND compensates_log_id IS NULL
		ORDER BY created_at DESC, id DESC
	`, batchID)
}

func (t *pgTx) ListAuditForRecord(ctx context.Context, recordID string, limit int) ([]AuditEntry, error) {
	return t.queryAudit(ctx, "list audit for record", `
		SELECT `+auditColumns+`
		FROM audit_log
		WHERE record_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, recordID, limit)
}

const suggestionColumns = `id, profile_id, field, new_value, reason, profile_version, status, submitted_by, reviewed_by, review_note, created_at, reviewed_at`

func scanSuggestion(row rowScanner) (EditSuggestion, error) {
	var s EditSuggestion
	var value []byte
	err := row.Scan(&s.ID, &s.ProfileID, &s.Field, &value, &s.Reason, &s.ProfileVersion, &s.Status,
		&s.SubmittedBy, &s.ReviewedBy, &s.ReviewNote, &s.CreatedAt, &s.ReviewedAt)
	if err != nil {
		return EditSuggestion{}, err
	}
	s.NewValue = rawJSON(value)
	return s, nil
}

func (t *pgTx) InsertSuggestion(ctx context.Context, s EditSuggestion) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO edit_suggestions (id, profile_id, field, new_value, reason, profile_version, status, submitted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ID, s.ProfileID, s.Field, jsonParam(s.NewValue), s.Reason, s.ProfileVersion, s.Status, s.SubmittedBy, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert suggestion: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) GetSuggestion(ctx context.Context, id string) (EditSuggestion, error) {
	s, err := scanSuggestion(t.q.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM edit_suggestions WHERE id = $1`, id))
	if err != nil {
		return EditSuggestion{}, fmt.Errorf("get suggestion %s: %w", id, mapPgError(err))
	}
	return s, nil
}

func (t *pgTx) LockSuggestion(ctx context.Context, id string) (EditSuggestion, error) {
	s, err := scanSuggestion(t.q.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM edit_suggestions WHERE id = $1 FOR UPDATE NOWAIT`, id))
	if err != nil {
		return EditSuggestion{}, fmt.Errorf("lock suggestion %s: %w", id, mapPgError(err))
	}
	return s, nil
}

func (t *pgTx) UpdateSuggestionReview(ctx context.Context, s EditSuggestion) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE edit_suggestions SET status = $2, reviewed_by = $3, review_note = $4, reviewed_at = $5
		WHERE id = $1
	`, s.ID, s.Status, s.ReviewedBy, s.ReviewNote, s.ReviewedAt)
	if err != nil {
		return fmt.Errorf("review suggestion %s: %w", s.ID, mapPgError(err))
	}
	return expectOneRow(res, "review suggestion")
}

func (t *pgTx) ListPendingSuggestions(ctx context.Context, profileID string) ([]EditSuggestion, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+suggestionColumns+`
		FROM edit_suggestions
		WHERE profile_id = $1 AND status = 'pending'
		ORDER BY created_at, id
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list pending suggestions: %w", mapPgError(err))
	}
	defer rows.Close()

	var out []EditSuggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) ListModeratorBranches(ctx context.Context, userID string) ([]string, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT branch_hid FROM branch_moderators WHERE user_id = $1 AND is_active
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list moderator branches: %w", mapPgError(err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var branch string
		if err := rows.Scan(&branch); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		out = append(out, branch)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertModerator(ctx context.Context, m BranchModerator) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO branch_moderators (id, user_id, branch_hid, is_active, assigned_by, created_at)
		VALUES ($1, $2, $3, TRUE, $4, $5)
	`, m.ID, m.UserID, m.BranchHID, m.AssignedBy, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert moderator: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) DeactivateModerator(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `UPDATE branch_moderators SET is_active = FALSE WHERE id = $1 AND is_active`, id)
	if err != nil {
		return fmt.Errorf("deactivate moderator: %w", mapPgError(err))
	}
	return expectOneRow(res, "deactivate moderator")
}

func (t *pgTx) IsSuggestionBlocked(ctx context.Context, userID string) (bool, error) {
	var blocked bool
	err := t.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM suggestion_blocks WHERE blocked_user_id = $1 AND is_active)
	`, userID).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("check suggestion block: %w", mapPgError(err))
	}
	return blocked, nil
}

func (t *pgTx) UpsertSuggestionBlock(ctx context.Context, b SuggestionBlock) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO suggestion_blocks (blocked_user_id, reason, is_active, blocked_by, created_at)
		VALUES ($1, $2, TRUE, $3, $4)
		ON CONFLICT (blocked_user_id) DO UPDATE
		SET reason = EXCLUDED.reason, is_active = TRUE, blocked_by = EXCLUDED.blocked_by, created_at = EXCLUDED.created_at
	`, b.BlockedUserID, b.Reason, b.BlockedBy, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert suggestion block: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) DeactivateSuggestionBlock(ctx context.Context, userID string) error {
	res, err := t.q.ExecContext(ctx, `UPDATE suggestion_blocks SET is_active = FALSE WHERE blocked_user_id = $1 AND is_active`, userID)
	if err != nil {
		return fmt.Errorf("deactivate suggestion block: %w", mapPgError(err))
	}
	return expectOneRow(res, "deactivate suggestion block")
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"alqefari/api/internal/audit"
	"alqefari/api/internal/lease"
	"alqefari/api/internal/metrics"
	"alqefari/api/internal/rbac"
	"alqefari/api/internal/store"
)

// UndoResult is the outcome of an undo attempt. Domain failures are reported
// here with a code; the error return of Undo is kept for infrastructure
// failures.
type UndoResult struct {
	Success        bool     `json:"success"`
	Code           string   `json:"code,omitempty"`
	Message        string   `json:"message"`
	Retryable      bool     `json:"retryable,omitempty"`
	SkippedFields  []string `json:"skippedFields,omitempty"`
	CompensationID int64    `json:"compensationId,omitempty"`
	NewVersion     int      `json:"newVersion,omitempty"`
	Details        any      `json:"details,omitempty"`
}

func undoFailure(err error) (UndoResult, error) {
	var de *DomainError
	if !errors.As(err, &de) {
		return UndoResult{}, err
	}
	return UndoResult{
		Code:      de.Code,
		Message:   de.Message,
		Retryable: de.Code == CodeLockContention,
		Details:   de.Details,
	}, nil
}

func undoError(status int, code, message string, details any) *DomainError {
	return domainError(status, code, message, details)
}

func undoLeaseKey(logID int64) string {
	return fmt.Sprintf("undo:%d", logID)
}

// Undo reverses one audited mutation with a compensating write. The original
// entry is marked undone and a new non-undoable entry points back at it.
func (s *Service) Undo(ctx context.Context, actorID string, logID int64, reason string) (UndoResult, error) {
	log := s.logger(ctx).WithFields(logrus.Fields{"log_id": logID, "actor_id": actorID})

	release, err := s.locker.Acquire(ctx, undoLeaseKey(logID))
	if errors.Is(err, lease.ErrHeld) {
		metrics.Undo("unknown", CodeLockContention)
		return undoFailure(lockContention("undo already in progress"))
	}
	if err != nil {
		return UndoResult{}, fmt.Errorf("acquire undo lease: %w", err)
	}
	defer release()

	var (
		res     UndoResult
		action  = "unknown"
		touched *store.AuditEntry
	)
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		entry, err := tx.LockAuditEntry(ctx, logID)
		if errors.Is(err, store.ErrLockNotAvailable) {
			return lockContention("undo already in progress")
		}
		if err != nil {
			return storeError(err, "audit entry", fmt.Sprint(logID))
		}
		action = entry.Action

		if entry.UndoneAt != nil {
			return undoError(http.StatusConflict, CodeAlreadyUndone,
				"already undone at "+entry.UndoneAt.UTC().Format(time.RFC3339), nil)
		}
		meta, err := audit.DecodeMetadata(entry.Metadata)
		if err != nil {
			return err
		}
		if !entry.IsUndoable {
			return undoError(http.StatusUnprocessableEntity, CodeNotUndoable, "this entry cannot be undone", nil)
		}
		if meta.BatchID != "" {
			return undoError(http.StatusUnprocessableEntity, CodeNotUndoable,
				"entry belongs to cascade batch "+meta.BatchID+"; undo the batch instead",
				map[string]any{"batchId": meta.BatchID})
		}

		u := undoCtx{Service: s, ctx: ctx, tx: tx, actorID: actorID, entry: entry, reason: reason}
		switch entry.Action {
		case audit.ActionProfileUpdate:
			res, err = u.profileUpdate()
		case audit.ActionProfileSoftDelete:
			res, err = u.profileSoftDelete(true)
		case audit.ActionMarriageCreate, audit.ActionMarriageUpdate, audit.ActionMarriageDelete:
			res, err = u.marriage()
		default:
			return undoError(http.StatusUnprocessableEntity, CodeNotUndoable,
				fmt.Sprintf("action %s cannot be undone", entry.Action), nil)
		}
		touched = &entry
		return err
	})
	if err != nil {
		out, infraErr := undoFailure(err)
		if infraErr != nil {
			log.WithError(infraErr).Error("undo failed")
			return UndoResult{}, infraErr
		}
		metrics.Undo(action, out.Code)
		log.WithField("code", out.Code).Info("undo rejected")
		return out, nil
	}

	metrics.Undo(action, "ok")
	log.WithField("compensation_id", res.CompensationID).Info("undo applied")
	if touched != nil {
		if touched.TableName == store.TableProfiles {
			s.treeChanged(ctx, true, touched.RecordID)
		} else {
			s.treeChanged(ctx, false)
		}
	}
	return res, nil
}

// undoCtx carries one undo through its checks inside a transaction.
type undoCtx struct {
	*Service
	ctx     context.Context
	tx      store.Tx
	actorID string
	entry   store.AuditEntry
	reason  string
}

func (u undoCtx) expectedVersion() (int, error) {
	v, ok := audit.Version(u.entry.NewData)
	if !ok {
		return 0, undoError(http.StatusUnprocessableEntity, CodeNotUndoable, "entry has no recorded version", nil)
	}
	return v, nil
}

func undoVersionConflict(current, expected int) *DomainError {
	metrics.WriteConflict("version")
	return undoError(http.StatusConflict, CodeVersionConflict,
		fmt.Sprintf("cannot undo: edited since (current v%d, expected v%d)", current, expected),
		map[string]any{"current": current, "expected": expected})
}

// requireEditOn checks edit rights on a profile, treating it as active when
// revive is set so deletions can be reversed by the people who could edit it.
func (u undoCtx) requireEditOn(profileID string, revive bool) error {
	graph := txGraph{tx: u.tx}
	if revive {
		graph.revive = profileID
	}
	level, err := rbac.NewEvaluator(graph, u.cfg.ChainMaxDepth).Evaluate(u.ctx, u.actorID, profileID)
	if err != nil {
		return fmt.Errorf("evaluate permission: %w", err)
	}
	if !rbac.CanEdit(level) {
		return permissionDenied(fmt.Sprintf("permission level %q cannot undo this change", level))
	}
	return nil
}

// guardParents row-locks every reference named in the before-snapshot and
// fails when one of them is gone. The locks are held until commit.
func (u undoCtx) guardParents(refs ...string) error {
	for _, field := range refs {
		raw, ok := audit.Field(u.entry.OldData, field)
		if !ok || isNull(raw) {
			continue
		}
		var parentID string
		if err := json.Unmarshal(raw, &parentID); err != nil || parentID == "" {
			continue
		}
		parent, err := u.tx.LockProfile(u.ctx, parentID)
		if errors.Is(err, store.ErrLockNotAvailable) {
			return lockContention("referenced profile " + parentID + " is being modified")
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("lock %s: %w", field, err)
		}
		if err != nil || parent.IsDeleted() {
			return undoError(http.StatusUnprocessableEntity, CodeParentMissing,
				fmt.Sprintf("%s %s is missing; restore the parent first", field, parentID),
				map[string]any{"field": field, "parentId": parentID})
		}
	}
	return nil
}

// finish marks the original entry undone and appends the compensating entry.
func (u undoCtx) finish(table, recordID string, before, after any) (int64, error) {
	now := u.clock()
	var reason *string
	if u.reason != "" {
		reason = &u.reason
	}
	if err := u.tx.MarkAuditUndone(u.ctx, u.entry.ID, u.actorID, reason, now); err != nil {
		if errors.Is(err, store.ErrAuditImmutable) {
			return 0, undoError(http.StatusConflict, CodeAlreadyUndone, "already undone", nil)
		}
		return 0, fmt.Errorf("mark undone: %w", err)
	}
	meta, _ := audit.DecodeMetadata(u.entry.Metadata)
	description := fmt.Sprintf("undo of #%d", u.entry.ID)
	if u.reason != "" {
		description += ": " + u.reason
	}
	comp, _, err := audit.NewEntry(audit.Record{
		Table:       table,
		RecordID:    recordID,
		Action:      audit.UndoAction(u.entry.Action),
		Category:    u.entry.ActionCategory,
		ActorID:     u.actorID,
		Before:      before,
		After:       after,
		Description: description,
		Severity:    u.entry.Severity,
		Metadata:    meta,
		Compensates: &u.entry.ID,
	})
	if err != nil {
		return 0, err
	}
	if err := u.tx.InsertAuditEntry(u.ctx, comp); err != nil {
		return 0, fmt.Errorf("insert compensating entry: %w", err)
	}
	return comp.ID, nil
}

func (u undoCtx) lockLiveProfile(expected int) (store.Profile, error) {
	live, err := u.tx.LockProfile(u.ctx, u.entry.RecordID)
	if errors.Is(err, store.ErrLockNotAvailable) {
		return store.Profile{}, lockContention("profile is being modified, try again shortly")
	}
	if err != nil {
		return store.Profile{}, storeError(err, "profile", u.entry.RecordID)
	}
	if live.Version != expected {
		return store.Profile{}, undoVersionConflict(live.Version, expected)
	}
	return live, nil
}

func (u undoCtx) profileUpdate() (UndoResult, error) {
	if err := u.requireEditOn(u.entry.RecordID, false); err != nil {
		return UndoResult{}, err
	}
	expected, err := u.expectedVersion()
	if err != nil {
		return UndoResult{}, err
	}
	live, err := u.lockLiveProfile(expected)
	if err != nil {
		return UndoResult{}, err
	}
	if err := u.guardParents("father_id", "mother_id"); err != nil {
		return UndoResult{}, err
	}

	restored := live
	var skipped []string
	for _, field := range u.entry.ChangedFields {
		old, ok := audit.Field(u.entry.OldData, field)
		if !ok || !updatableFields[field] {
			skipped = append(skipped, field)
			continue
		}
		candidate := restored
		if err := applyProfileField(&candidate, field, old); err != nil {
			u.logger(u.ctx).WithFields(logrus.Fields{"log_id": u.entry.ID, "field": field}).
				WithError(err).Warn("skipping field on undo")
			skipped = append(skipped, field)
			continue
		}
		restored = candidate
	}

	restored.Version = live.Version + 1
	restored.UpdatedAt = u.clock()
	restored.UpdatedBy = &u.actorID
	if err := u.tx.UpdateProfile(u.ctx, restored); err != nil {
		return UndoResult{}, storeError(err, "profile", live.ID)
	}
	compID, err := u.finish(store.TableProfiles, live.ID, live, restored)
	if err != nil {
		return UndoResult{}, err
	}
	return UndoResult{
		Success:        true,
		Message:        "change undone",
		SkippedFields:  skipped,
		CompensationID: compID,
		NewVersion:     restored.Version,
	}, nil
}

// profileSoftDelete restores a deleted profile. guard is off for cascade
// restores, which bring children back before their parents.
func (u undoCtx) profileSoftDelete(guard bool) (UndoResult, error) {
	if guard {
		if err := u.requireEditOn(u.entry.RecordID, true); err != nil {
			return UndoResult{}, err
		}
	}
	expected, err := u.expectedVersion()
	if err != nil {
		return UndoResult{}, err
	}
	live, err := u.lockLiveProfile(expected)
	if err != nil {
		return UndoResult{}, err
	}
	if !live.IsDeleted() {
		return UndoResult{}, undoError(http.StatusConflict, CodeAlreadyUndone, "profile is not deleted", nil)
	}
	if guard {
		if err := u.guardParents("father_id", "mother_id"); err != nil {
			return UndoResult{}, err
		}
	}

	restored := live
	restored.DeletedAt = nil
	restored.Version = live.Version + 1
	restored.UpdatedAt = u.clock()
	restored.UpdatedBy = &u.actorID
	if err := u.tx.UpdateProfile(u.ctx, restored); err != nil {
		return UndoResult{}, storeError(err, "profile", live.ID)
	}
	compID, err := u.finish(store.TableProfiles, live.ID, live, restored)
	if err != nil {
		return UndoResult{}, err
	}
	return UndoResult{Success: true, Message: "profile restored", CompensationID: compID, NewVersion: restored.Version}, nil
}

func (u undoCtx) marriage() (UndoResult, error) {
	snapshot := u.entry.NewData
	if len(snapshot) == 0 {
		snapshot = u.entry.OldData
	}
	var spouses struct {
		HusbandID string `json:"husband_id"`
		WifeID    string `json:"wife_id"`
	}
	if err := json.Unmarshal(snapshot, &spouses); err != nil {
		return UndoResult{}, undoError(http.StatusUnprocessableEntity, CodeNotUndoable, "entry has no marriage snapshot", nil)
	}
	if err := u.requireEditOnEither(spouses.HusbandID, spouses.WifeID); err != nil {
		return UndoResult{}, err
	}

	expected, err := u.expectedVersion()
	if err != nil {
		return UndoResult{}, err
	}
	live, err := u.tx.LockMarriage(u.ctx, u.entry.RecordID)
	if errors.Is(err, store.ErrLockNotAvailable) {
		return UndoResult{}, lockContention("marriage is being modified, try again shortly")
	}
	if err != nil {
		return UndoResult{}, storeError(err, "marriage", u.entry.RecordID)
	}
	if live.Version != expected {
		return UndoResult{}, undoVersionConflict(live.Version, expected)
	}
	if err := u.guardParents("husband_id", "wife_id"); err != nil {
		return UndoResult{}, err
	}

	now := u.clock()
	restored := live
	var skipped []string
	switch u.entry.Action {
	case audit.ActionMarriageCreate:
		restored.DeletedAt = &now
	case audit.ActionMarriageDelete:
		restored.DeletedAt = nil
	case audit.ActionMarriageUpdate:
		for _, field := range u.entry.ChangedFields {
			old, ok := audit.Field(u.entry.OldData, field)
			candidate := restored
			if !ok || !marriageFields[field] || applyMarriageField(&candidate, field, old) != nil {
				skipped = append(skipped, field)
				continue
			}
			restored = candidate
		}
	}
	restored.Version = live.Version + 1
	restored.UpdatedAt = now

	if err := u.tx.UpdateMarriage(u.ctx, restored); err != nil {
		return UndoResult{}, storeError(err, "marriage", live.ID)
	}
	compID, err := u.finish(store.TableMarriages, live.ID, live, restored)
	if err != nil {
		return UndoResult{}, err
	}
	return UndoResult{
		Success:        true,
		Message:        "change undone",
		SkippedFields:  skipped,
		CompensationID: compID,
		NewVersion:     restored.Version,
	}, nil
}

func (u undoCtx) requireEditOnEither(ids ...string) error {
	levels, err := rbac.NewEvaluator(txGraph{tx: u.tx}, u.cfg.ChainMaxDepth).EvaluateMany(u.ctx, u.actorID, ids)
	if err != nil {
		return fmt.Errorf("evaluate permission: %w", err)
	}
	for _, id := range ids {
		if rbac.CanEdit(levels[id]) {
			return nil
		}
	}
	return permissionDenied("no edit rights on either spouse")
}

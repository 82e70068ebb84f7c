package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"alqefari/api/internal/audit"
	"alqefari/api/internal/metrics"
	"alqefari/api/internal/rbac"
	"alqefari/api/internal/store"
	"alqefari/api/internal/util"
)

type CreateMarriageInput struct {
	HusbandID string  `json:"husbandId" validate:"required,max=64"`
	WifeID    string  `json:"wifeId" validate:"required,max=64,nefield=HusbandID"`
	Status    string  `json:"status"`
	StartDate *string `json:"startDate" validate:"omitempty,datetime=2006-01-02"`
	EndDate   *string `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
	// Munasib defaults to the value the spouses imply when nil.
	Munasib *string `json:"munasib" validate:"omitempty,max=200"`
}

func (s *Service) CreateMarriage(ctx context.Context, actorID string, input CreateMarriageInput) (store.Marriage, error) {
	if err := validate.Struct(input); err != nil {
		return store.Marriage{}, invalidInput("%s", describeValidation(err))
	}
	status, ok := normalizeMarriageStatus(input.Status)
	if !ok {
		return store.Marriage{}, invalidInput("status must be current or past")
	}

	now := s.clock()
	m := store.Marriage{
		ID:        util.NewID(""),
		HusbandID: input.HusbandID,
		WifeID:    input.WifeID,
		Status:    status,
		StartDate: trimmed(input.StartDate),
		EndDate:   trimmed(input.EndDate),
		Munasib:   trimmed(input.Munasib),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		husband, err := s.activeSpouse(ctx, tx, m.HusbandID, store.GenderMale)
		if err != nil {
			return err
		}
		wife, err := s.activeSpouse(ctx, tx, m.WifeID, store.GenderFemale)
		if err != nil {
			return err
		}
		if err := s.requireEditOnSpouse(ctx, tx, actorID, m.HusbandID, m.WifeID); err != nil {
			return err
		}
		if input.Munasib == nil {
			if expected, ok := store.ExpectedMunasib(husband, wife); ok {
				m.Munasib = trimmed(expected)
			}
		}

		if err := tx.InsertMarriage(ctx, m); err != nil {
			return storeError(err, "marriage", m.ID)
		}
		return s.auditMarriage(ctx, tx, actorID, audit.ActionMarriageCreate, nil, &m,
			fmt.Sprintf("married %s and %s", husband.Name, wife.Name))
	})
	if err != nil {
		return store.Marriage{}, err
	}
	return m, nil
}

func (s *Service) activeSpouse(ctx context.Context, tx store.Tx, id, gender string) (store.Profile, error) {
	p, err := tx.GetProfile(ctx, id)
	if err != nil {
		return store.Profile{}, storeError(err, "profile", id)
	}
	if p.IsDeleted() {
		return store.Profile{}, notFound("profile", id)
	}
	if p.Gender != gender {
		return store.Profile{}, invalidInput("profile %s must be %s", id, gender)
	}
	return p, nil
}

func (s *Service) requireEditOnSpouse(ctx context.Context, tx store.Tx, actorID string, spouseIDs ...string) error {
	levels, err := s.evaluator(tx).EvaluateMany(ctx, actorID, spouseIDs)
	if err != nil {
		return fmt.Errorf("evaluate permission: %w", err)
	}
	for _, id := range spouseIDs {
		if rbac.CanEdit(levels[id]) {
			return nil
		}
	}
	return permissionDenied("no edit rights on either spouse")
}

// lockMarriageForWrite checks permission on the stored spouses before taking
// the row lock, then verifies the expected version.
func (s *Service) lockMarriageForWrite(ctx context.Context, tx store.Tx, actorID, id string, expectedVersion int) (store.Marriage, error) {
	current, err := tx.GetMarriage(ctx, id)
	if err != nil {
		return store.Marriage{}, storeError(err, "marriage", id)
	}
	if current.DeletedAt != nil {
		return store.Marriage{}, notFound("marriage", id)
	}
	if err := s.requireEditOnSpouse(ctx, tx, actorID, current.HusbandID, current.WifeID); err != nil {
		return store.Marriage{}, err
	}
	locked, err := tx.LockMarriage(ctx, id)
	if err != nil {
		return store.Marriage{}, storeError(err, "marriage", id)
	}
	if locked.DeletedAt != nil {
		return store.Marriage{}, notFound("marriage", id)
	}
	if locked.Version != expectedVersion {
		metrics.WriteConflict("version")
		return store.Marriage{}, versionConflict(locked.Version, expectedVersion)
	}
	return locked, nil
}

// UpdateMarriage applies status, start_date, end_date and munasib from patch.
// Other keys are ignored.
func (s *Service) UpdateMarriage(ctx context.Context, actorID, id string, expectedVersion int, patch Patch) (store.Marriage, error) {
	if expectedVersion < 1 {
		return store.Marriage{}, invalidInput("expectedVersion must be 1 or more")
	}
	fields := Patch{}
	for k, v := range patch {
		if marriageFields[k] {
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return store.Marriage{}, invalidInput("patch has no updatable field")
	}

	var updated store.Marriage
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		current, err := s.lockMarriageForWrite(ctx, tx, actorID, id, expectedVersion)
		if err != nil {
			return err
		}
		next := current
		for _, field := range fields.keys() {
			if err := applyMarriageField(&next, field, fields[field]); err != nil {
				return invalidInput("%s", err.Error())
			}
		}
		next.Version = current.Version + 1
		next.UpdatedAt = s.clock()
		if err := tx.UpdateMarriage(ctx, next); err != nil {
			return storeError(err, "marriage", id)
		}
		updated = next
		return s.auditMarriage(ctx, tx, actorID, audit.ActionMarriageUpdate, &current, &next, "")
	})
	if err != nil {
		return store.Marriage{}, err
	}
	return updated, nil
}

func (s *Service) DeleteMarriage(ctx context.Context, actorID, id string, expectedVersion int) (store.Marriage, error) {
	if expectedVersion < 1 {
		return store.Marriage{}, invalidInput("expectedVersion must be 1 or more")
	}
	var deleted store.Marriage
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		current, err := s.lockMarriageForWrite(ctx, tx, actorID, id, expectedVersion)
		if err != nil {
			return err
		}
		now := s.clock()
		next := current
		next.DeletedAt = &now
		next.Version = current.Version + 1
		next.UpdatedAt = now
		if err := tx.UpdateMarriage(ctx, next); err != nil {
			return storeError(err, "marriage", id)
		}
		deleted = next
		return s.auditMarriage(ctx, tx, actorID, audit.ActionMarriageDelete, &current, &next, "marriage deleted")
	})
	if err != nil {
		return store.Marriage{}, err
	}
	return deleted, nil
}

func (s *Service) auditMarriage(ctx context.Context, tx store.Tx, actorID, action string, before, after *store.Marriage, description string) error {
	rec := audit.Record{
		Table:       store.TableMarriages,
		Action:      action,
		Category:    "marriage",
		ActorID:     actorID,
		Description: description,
		Undoable:    true,
	}
	if before != nil {
		rec.Before = *before
		rec.RecordID = before.ID
	}
	if after != nil {
		rec.After = *after
		rec.RecordID = after.ID
	}
	entry, changes, err := audit.NewEntry(rec)
	if err != nil {
		return err
	}
	if entry.Description == "" {
		entry.Description = describeChange("updated marriage", changes.Fields())
	}
	if err := tx.InsertAuditEntry(ctx, entry); err != nil {
		if errors.Is(err, store.ErrConstraint) {
			return invalidInput("%s", strings.TrimSpace(err.Error()))
		}
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

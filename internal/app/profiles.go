package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"alqefari/api/internal/audit"
	"alqefari/api/internal/hid"
	"alqefari/api/internal/lineage"
	"alqefari/api/internal/metrics"
	"alqefari/api/internal/rbac"
	"alqefari/api/internal/store"
	"alqefari/api/internal/util"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

func (s *Service) GetProfile(ctx context.Context, id string) (store.Profile, error) {
	var p store.Profile
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.GetProfile(ctx, id)
		if err != nil {
			return storeError(err, "profile", id)
		}
		if p.IsDeleted() {
			return notFound("profile", id)
		}
		return nil
	})
	return p, err
}

// UpdateProfile applies a sparse patch when expectedVersion matches the
// stored version. The audit entry is written in the same transaction.
func (s *Service) UpdateProfile(ctx context.Context, actorID, id string, expectedVersion int, patch Patch) (store.Profile, error) {
	if expectedVersion < 1 {
		return store.Profile{}, invalidInput("expectedVersion must be 1 or more")
	}
	fields, err := patch.whitelisted()
	if err != nil {
		return store.Profile{}, err
	}

	var updated store.Profile
	var changed []string
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := s.requireEdit(ctx, tx, actorID, id); err != nil {
			return err
		}
		current, err := tx.LockProfile(ctx, id)
		if err != nil {
			return storeError(err, "profile", id)
		}
		if current.IsDeleted() {
			return notFound("profile", id)
		}
		if current.Version != expectedVersion {
			metrics.WriteConflict("version")
			return versionConflict(current.Version, expectedVersion)
		}
		updated, changed, err = s.writeProfilePatch(ctx, tx, actorID, current, fields, audit.Metadata{})
		return err
	})
	if err != nil {
		return store.Profile{}, err
	}

	s.logger(ctx).WithFields(logrus.Fields{
		"profile_id": id,
		"version":    updated.Version,
		"fields":     changed,
	}).Info("profile updated")
	s.treeChanged(ctx, lineageAffected(changed), id)
	return updated, nil
}

// writeProfilePatch validates fields against current, bumps the version and
// appends the profile_update entry. current must already be row-locked.
func (s *Service) writeProfilePatch(ctx context.Context, tx store.Tx, actorID string, current store.Profile, fields Patch, meta audit.Metadata) (store.Profile, []string, error) {
	next := current
	for _, field := range fields.keys() {
		if err := applyProfileField(&next, field, fields[field]); err != nil {
			return store.Profile{}, nil, invalidInput("%s", err.Error())
		}
	}
	if err := s.checkMother(ctx, tx, current, next); err != nil {
		return store.Profile{}, nil, err
	}

	next.Version = current.Version + 1
	next.UpdatedAt = s.clock()
	next.UpdatedBy = &actorID

	entry, changes, err := audit.NewEntry(audit.Record{
		Table:    store.TableProfiles,
		RecordID: current.ID,
		Action:   audit.ActionProfileUpdate,
		Category: "profile",
		ActorID:  actorID,
		Before:   current,
		After:    next,
		Undoable: true,
		Metadata: meta,
	})
	if err != nil {
		return store.Profile{}, nil, err
	}
	entry.Description = describeChange("updated", changes.Fields())

	if err := tx.UpdateProfile(ctx, next); err != nil {
		return store.Profile{}, nil, storeError(err, "profile", current.ID)
	}
	if err := tx.InsertAuditEntry(ctx, entry); err != nil {
		return store.Profile{}, nil, fmt.Errorf("insert audit entry: %w", err)
	}
	return next, changes.Fields(), nil
}

// checkMother validates a changed mother reference.
func (s *Service) checkMother(ctx context.Context, tx store.Tx, before, after store.Profile) error {
	if after.MotherID == nil || deref(before.MotherID) == *after.MotherID {
		return nil
	}
	if *after.MotherID == after.ID {
		return invalidInput("a profile cannot be its own mother")
	}
	mother, err := tx.GetProfile(ctx, *after.MotherID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && mother.IsDeleted()) {
		return invalidInput("mother %s does not exist", *after.MotherID)
	}
	if err != nil {
		return fmt.Errorf("load mother: %w", err)
	}
	if mother.Gender != store.GenderFemale {
		return invalidInput("mother %s is not female", mother.ID)
	}
	return nil
}

func describeChange(verb string, fields []string) string {
	if len(fields) == 0 {
		return verb + " with no field changes"
	}
	return verb + " " + strings.Join(fields, ", ")
}

// CreateProfileInput describes a new person. With FatherID the profile joins
// the tree and receives the next HID under the father; with HID alone it is
// a new root; with neither it is a Munasib.
type CreateProfileInput struct {
	Name         string  `json:"name" validate:"required,max=200"`
	Gender       string  `json:"gender" validate:"required,oneof=male female"`
	Status       string  `json:"status" validate:"omitempty,oneof=alive deceased"`
	FatherID     *string `json:"fatherId" validate:"omitempty,max=64"`
	MotherID     *string `json:"motherId" validate:"omitempty,max=64"`
	HID          *string `json:"hid" validate:"omitempty,max=64"`
	FamilyOrigin *string `json:"familyOrigin" validate:"omitempty,max=200"`
	Kunya        *string `json:"kunya" validate:"omitempty,max=200"`
	Nickname     *string `json:"nickname" validate:"omitempty,max=200"`
	Patch        Patch   `json:"fields"`
}

func (s *Service) CreateProfile(ctx context.Context, actorID string, input CreateProfileInput) (store.Profile, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validate.Struct(input); err != nil {
		return store.Profile{}, invalidInput("%s", describeValidation(err))
	}
	if input.FatherID != nil && input.HID != nil {
		return store.Profile{}, invalidInput("hid is assigned from the father; send one of fatherId or hid")
	}

	now := s.clock()
	p := store.Profile{
		ID:           util.NewID(""),
		Name:         input.Name,
		Gender:       input.Gender,
		Status:       input.Status,
		FatherID:     input.FatherID,
		MotherID:     input.MotherID,
		Role:         string(rbac.RoleUser),
		FamilyOrigin: trimmed(input.FamilyOrigin),
		Kunya:        trimmed(input.Kunya),
		Nickname:     trimmed(input.Nickname),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
		UpdatedBy:    &actorID,
	}
	if p.Status == "" {
		p.Status = store.StatusAlive
	}
	for _, field := range input.Patch.keys() {
		if !updatableFields[field] || lineageFields[field] {
			continue
		}
		if err := applyProfileField(&p, field, input.Patch[field]); err != nil {
			return store.Profile{}, invalidInput("%s", err.Error())
		}
	}

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		switch {
		case input.FatherID != nil:
			if err := s.placeUnderFather(ctx, tx, actorID, &p); err != nil {
				return err
			}
		case input.HID != nil:
			if err := s.requireAdmin(ctx, tx, actorID); err != nil {
				return err
			}
			root, err := hid.Parse(*input.HID)
			if err != nil || root.Depth() != 1 {
				return invalidInput("hid %q is not a root identifier", *input.HID)
			}
			rootHID := root.String()
			p.HID = &rootHID
		default:
			if err := s.requireActiveProfile(ctx, tx, actorID); err != nil {
				return permissionDenied("unknown actor")
			}
		}
		if err := s.checkMother(ctx, tx, store.Profile{}, p); err != nil {
			return err
		}

		if err := tx.InsertProfile(ctx, p); err != nil {
			return storeError(err, "profile", p.ID)
		}
		entry, _, err := audit.NewEntry(audit.Record{
			Table:       store.TableProfiles,
			RecordID:    p.ID,
			Action:      audit.ActionProfileCreate,
			Category:    "profile",
			ActorID:     actorID,
			After:       p,
			Description: "created " + p.Name,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertAuditEntry(ctx, entry); err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.Profile{}, err
	}
	if !p.IsMunasib() {
		s.treeChanged(ctx, true, p.ID)
	}
	return p, nil
}

// placeUnderFather locks the father so concurrent creations cannot pick the
// same HID, then assigns the next child identifier.
func (s *Service) placeUnderFather(ctx context.Context, tx store.Tx, actorID string, p *store.Profile) error {
	fatherID := *p.FatherID
	if err := s.requireEdit(ctx, tx, actorID, fatherID); err != nil {
		return err
	}
	father, err := tx.LockProfile(ctx, fatherID)
	if err != nil {
		return storeError(err, "father", fatherID)
	}
	if father.IsDeleted() {
		return notFound("father", fatherID)
	}
	if father.Gender != store.GenderMale {
		return invalidInput("father %s is not male", fatherID)
	}
	if father.IsMunasib() {
		return invalidInput("father %s is not a tree member", fatherID)
	}
	fatherHID, err := hid.Parse(*father.HID)
	if err != nil {
		return fmt.Errorf("father %s: %w", fatherID, err)
	}
	raw, err := tx.ListChildHIDs(ctx, fatherID)
	if err != nil {
		return fmt.Errorf("list child hids: %w", err)
	}
	siblings := make([]hid.HID, 0, len(raw))
	for _, r := range raw {
		if h, err := hid.Parse(r); err == nil {
			siblings = append(siblings, h)
		}
	}
	next := hid.NextChild(fatherHID, siblings)
	value := next.String()
	p.HID = &value
	p.SiblingOrder = next.Last()
	return nil
}

// DeleteProfile soft-deletes a single profile that has no active children.
// Subtrees go through CascadeDeleteProfile.
func (s *Service) DeleteProfile(ctx context.Context, actorID, id string, expectedVersion int) (store.Profile, int64, error) {
	if expectedVersion < 1 {
		return store.Profile{}, 0, invalidInput("expectedVersion must be 1 or more")
	}
	var deleted store.Profile
	var logID int64
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := s.requireEdit(ctx, tx, actorID, id); err != nil {
			return err
		}
		current, err := tx.LockProfile(ctx, id)
		if err != nil {
			return storeError(err, "profile", id)
		}
		if current.IsDeleted() {
			return notFound("profile", id)
		}
		if current.Version != expectedVersion {
			metrics.WriteConflict("version")
			return versionConflict(current.Version, expectedVersion)
		}
		children, err := tx.ListActiveChildren(ctx, id)
		if err != nil {
			return fmt.Errorf("list children: %w", err)
		}
		if len(children) > 0 {
			return domainError(http.StatusConflict, CodeConflict,
				"profile has active children; use cascade delete", map[string]any{"children": len(children)})
		}

		deleted, logID, err = s.softDelete(ctx, tx, actorID, current, audit.Metadata{}, audit.SeverityMedium)
		return err
	})
	if err != nil {
		return store.Profile{}, 0, err
	}
	s.treeChanged(ctx, true, id)
	return deleted, logID, nil
}

func (s *Service) softDelete(ctx context.Context, tx store.Tx, actorID string, current store.Profile, meta audit.Metadata, severity string) (store.Profile, int64, error) {
	now := s.clock()
	next := current
	next.DeletedAt = &now
	next.Version = current.Version + 1
	next.UpdatedAt = now
	next.UpdatedBy = &actorID

	entry, _, err := audit.NewEntry(audit.Record{
		Table:       store.TableProfiles,
		RecordID:    current.ID,
		Action:      audit.ActionProfileSoftDelete,
		Category:    "profile",
		ActorID:     actorID,
		Before:      current,
		After:       next,
		Description: "deleted " + current.Name,
		Severity:    severity,
		Undoable:    true,
		Metadata:    meta,
	})
	if err != nil {
		return store.Profile{}, 0, err
	}
	if err := tx.UpdateProfile(ctx, next); err != nil {
		return store.Profile{}, 0, storeError(err, "profile", current.ID)
	}
	if err := tx.InsertAuditEntry(ctx, entry); err != nil {
		return store.Profile{}, 0, fmt.Errorf("insert audit entry: %w", err)
	}
	return next, entry.ID, nil
}

// AncestryChain returns the name chain of a profile. Munasib profiles get
// their own name followed by their family of origin.
func (s *Service) AncestryChain(ctx context.Context, id string) (lineage.Chain, error) {
	chain, ok, err := s.index.BuildChain(ctx, id)
	if err != nil {
		return lineage.Chain{}, err
	}
	if ok {
		return chain, nil
	}
	p, err := s.GetProfile(ctx, id)
	if err != nil {
		return lineage.Chain{}, err
	}
	if !p.IsMunasib() {
		// In the store but not yet in the snapshot.
		s.index.Invalidate()
		if chain, ok, err = s.index.BuildChain(ctx, id); err != nil || ok {
			return chain, err
		}
		return lineage.Chain{}, notFound("profile", id)
	}
	return lineage.Chain{
		ProfileID: p.ID,
		Names:     []string{p.Name},
		Text:      lineage.MunasibChain(p.Name, p.FamilyOrigin),
	}, nil
}

// ListAuditLog returns the newest entries for one record. Admins and actors
// with edit rights on the profile may read it.
func (s *Service) ListAuditLog(ctx context.Context, actorID, recordID string, limit int) ([]store.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	limit = min(limit, maxAuditLimit)

	var entries []store.AuditEntry
	err := s.store.View(ctx, func(tx store.Tx) error {
		admin, err := s.isAdmin(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if !admin {
			if err := s.requireEdit(ctx, tx, actorID, recordID); err != nil {
				return err
			}
		}
		entries, err = tx.ListAuditForRecord(ctx, recordID, limit)
		return err
	})
	return entries, err
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"alqefari/api/internal/audit"
	"alqefari/api/internal/metrics"
	"alqefari/api/internal/ratelimit"
	"alqefari/api/internal/rbac"
	"alqefari/api/internal/store"
	"alqefari/api/internal/util"
)

const staleSuggestionNote = "profile changed since suggestion"

type SuggestionInput struct {
	ProfileID string          `json:"profileId" validate:"required,max=64"`
	Field     string          `json:"field" validate:"required"`
	NewValue  json.RawMessage `json:"newValue"`
	Reason    *string         `json:"reason" validate:"omitempty,max=1000"`
}

// SuggestionOutcome reports whether a suggestion was applied directly (the
// submitter could edit) or queued for review.
type SuggestionOutcome struct {
	Applied      bool           `json:"applied"`
	Profile      *store.Profile `json:"profile,omitempty"`
	SuggestionID string         `json:"suggestionId,omitempty"`
}

func (s *Service) SubmitEditSuggestion(ctx context.Context, actorID string, input SuggestionInput) (SuggestionOutcome, error) {
	if err := validate.Struct(input); err != nil {
		return SuggestionOutcome{}, invalidInput("%s", describeValidation(err))
	}

	var (
		level   rbac.Level
		current store.Profile
	)
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		if level, err = s.level(ctx, tx, actorID, input.ProfileID); err != nil {
			return err
		}
		current, err = tx.GetProfile(ctx, input.ProfileID)
		if err != nil {
			return storeError(err, "profile", input.ProfileID)
		}
		if current.IsDeleted() {
			return notFound("profile", input.ProfileID)
		}
		return nil
	})
	if err != nil {
		return SuggestionOutcome{}, err
	}

	if !rbac.CanSuggest(level) {
		metrics.Suggestion("denied")
		return SuggestionOutcome{}, permissionDenied(fmt.Sprintf("permission level %q cannot suggest edits", level))
	}
	if !suggestableFields[input.Field] {
		return SuggestionOutcome{}, domainError(http.StatusBadRequest, CodeFieldNotWhitelisted,
			fmt.Sprintf("field %s cannot be suggested", input.Field), map[string]any{"field": input.Field})
	}
	probe := current
	if err := applyProfileField(&probe, input.Field, input.NewValue); err != nil {
		return SuggestionOutcome{}, invalidInput("%s", err.Error())
	}

	if rbac.CanEdit(level) {
		updated, err := s.UpdateProfile(ctx, actorID, input.ProfileID, current.Version, Patch{input.Field: input.NewValue})
		if err != nil {
			return SuggestionOutcome{}, err
		}
		metrics.Suggestion("applied")
		return SuggestionOutcome{Applied: true, Profile: &updated}, nil
	}

	status, err := s.limiter.Take(ctx, "suggest:"+actorID)
	if errors.Is(err, ratelimit.ErrLimitReached) {
		metrics.Suggestion("rate_limited")
		return SuggestionOutcome{}, domainError(http.StatusTooManyRequests, CodeRateLimitExceeded,
			"too many suggestions, try again later",
			map[string]any{"limit": status.Limit, "reset": status.Reset})
	}
	if err != nil {
		return SuggestionOutcome{}, err
	}

	sug := store.EditSuggestion{
		ID:          util.NewID(""),
		ProfileID:   input.ProfileID,
		Field:       input.Field,
		NewValue:    normalizedValue(input.NewValue),
		Reason:      trimmed(input.Reason),
		Status:      store.SuggestionPending,
		SubmittedBy: actorID,
		CreatedAt:   s.clock(),
	}
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProfile(ctx, input.ProfileID)
		if err != nil {
			return storeError(err, "profile", input.ProfileID)
		}
		sug.ProfileVersion = p.Version
		return storeError(tx.InsertSuggestion(ctx, sug), "suggestion", sug.ID)
	})
	if err != nil {
		return SuggestionOutcome{}, err
	}
	metrics.Suggestion("pending")
	s.logger(ctx).WithFields(logrus.Fields{
		"suggestion_id": sug.ID,
		"profile_id":    sug.ProfileID,
		"field":         sug.Field,
	}).Info("suggestion queued")
	return SuggestionOutcome{SuggestionID: sug.ID}, nil
}

func normalizedValue(raw json.RawMessage) json.RawMessage {
	if isNull(raw) {
		return json.RawMessage(`null`)
	}
	return compactJSON(raw)
}

// lockPendingSuggestion locks a suggestion that is still awaiting review and
// checks that the actor may edit its profile.
func (s *Service) lockPendingSuggestion(ctx context.Context, tx store.Tx, actorID, id string) (store.EditSuggestion, error) {
	sug, err := tx.LockSuggestion(ctx, id)
	if err != nil {
		return store.EditSuggestion{}, storeError(err, "suggestion", id)
	}
	if sug.Status != store.SuggestionPending {
		return store.EditSuggestion{}, domainError(http.StatusConflict, CodeConflict,
			"suggestion was already "+sug.Status, map[string]any{"status": sug.Status})
	}
	if err := s.requireEdit(ctx, tx, actorID, sug.ProfileID); err != nil {
		return store.EditSuggestion{}, err
	}
	return sug, nil
}

// ApproveEditSuggestion applies a pending suggestion. A suggestion filed
// against an older profile version is rejected, and that rejection is kept
// even though the call reports a version conflict.
func (s *Service) ApproveEditSuggestion(ctx context.Context, actorID, id string) (store.Profile, error) {
	var (
		updated  store.Profile
		conflict *DomainError
		changed  []string
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		sug, err := s.lockPendingSuggestion(ctx, tx, actorID, id)
		if err != nil {
			return err
		}
		profile, err := tx.LockProfile(ctx, sug.ProfileID)
		if err != nil {
			return storeError(err, "profile", sug.ProfileID)
		}
		if profile.IsDeleted() {
			return notFound("profile", sug.ProfileID)
		}

		now := s.clock()
		sug.ReviewedBy = &actorID
		sug.ReviewedAt = &now
		if sug.ProfileVersion != profile.Version {
			note := staleSuggestionNote
			sug.Status = store.SuggestionRejected
			sug.ReviewNote = &note
			if err := tx.UpdateSuggestionReview(ctx, sug); err != nil {
				return fmt.Errorf("reject stale suggestion: %w", err)
			}
			metrics.WriteConflict("version")
			conflict = versionConflict(profile.Version, sug.ProfileVersion)
			conflict.Message = staleSuggestionNote
			return nil
		}

		updated, changed, err = s.writeProfilePatch(ctx, tx, actorID, profile,
			Patch{sug.Field: sug.NewValue}, audit.Metadata{SuggestionID: sug.ID})
		if err != nil {
			return err
		}
		sug.Status = store.SuggestionApproved
		return tx.UpdateSuggestionReview(ctx, sug)
	})
	if err != nil {
		return store.Profile{}, err
	}
	if conflict != nil {
		metrics.Suggestion("stale")
		return store.Profile{}, conflict
	}
	metrics.Suggestion("approved")
	s.treeChanged(ctx, lineageAffected(changed), updated.ID)
	return updated, nil
}

func (s *Service) RejectEditSuggestion(ctx context.Context, actorID, id, note string) (store.EditSuggestion, error) {
	var sug store.EditSuggestion
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		sug, err = s.lockPendingSuggestion(ctx, tx, actorID, id)
		if err != nil {
			return err
		}
		now := s.clock()
		sug.Status = store.SuggestionRejected
		sug.ReviewedBy = &actorID
		sug.ReviewedAt = &now
		if note = strings.TrimSpace(note); note != "" {
			sug.ReviewNote = &note
		}
		return tx.UpdateSuggestionReview(ctx, sug)
	})
	if err != nil {
		return store.EditSuggestion{}, err
	}
	metrics.Suggestion("rejected")
	return sug, nil
}

// ListPendingSuggestions is the review queue of one profile.
func (s *Service) ListPendingSuggestions(ctx context.Context, actorID, profileID string) ([]store.EditSuggestion, error) {
	var out []store.EditSuggestion
	err := s.store.View(ctx, func(tx store.Tx) error {
		if err := s.requireEdit(ctx, tx, actorID, profileID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListPendingSuggestions(ctx, profileID)
		return err
	})
	return out, err
}

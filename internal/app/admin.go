package app

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"alqefari/api/internal/hid"
	"alqefari/api/internal/rbac"
	"alqefari/api/internal/store"
	"alqefari/api/internal/util"
)

const maxPermissionTargets = 500

// AssignBranchModerator grants profileID moderator rights over the subtree
// rooted at branchHID.
func (s *Service) AssignBranchModerator(ctx context.Context, actorID, profileID, branchHID string) (store.BranchModerator, error) {
	branch, err := hid.Parse(branchHID)
	if err != nil {
		return store.BranchModerator{}, invalidInput("branch hid %q is invalid", branchHID)
	}
	m := store.BranchModerator{
		ID:         util.NewID(""),
		UserID:     profileID,
		BranchHID:  branch.String(),
		IsActive:   true,
		AssignedBy: actorID,
		CreatedAt:  s.clock(),
	}
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := s.requireAdmin(ctx, tx, actorID); err != nil {
			return err
		}
		if err := s.requireActiveProfile(ctx, tx, profileID); err != nil {
			return err
		}
		return storeError(tx.InsertModerator(ctx, m), "moderator", m.ID)
	})
	if err != nil {
		return store.BranchModerator{}, err
	}
	s.logger(ctx).WithFields(logrus.Fields{"profile_id": profileID, "branch_hid": m.BranchHID}).Info("moderator assigned")
	return m, nil
}

func (s *Service) RevokeBranchModerator(ctx context.Context, actorID, moderatorID string) error {
	return s.store.InTx(ctx, func(tx store.Tx) error {
		if err := s.requireAdmin(ctx, tx, actorID); err != nil {
			return err
		}
		return storeError(tx.DeactivateModerator(ctx, moderatorID), "moderator", moderatorID)
	})
}

// BlockSuggestions stops profileID from filing suggestions. Blocked actors
// keep any edit rights their relationships give them.
func (s *Service) BlockSuggestions(ctx context.Context, actorID, profileID, reason string) (store.SuggestionBlock, error) {
	b := store.SuggestionBlock{
		BlockedUserID: profileID,
		IsActive:      true,
		BlockedBy:     actorID,
		CreatedAt:     s.clock(),
	}
	if r := strings.TrimSpace(reason); r != "" {
		b.Reason = &r
	}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := s.requireAdmin(ctx, tx, actorID); err != nil {
			return err
		}
		if err := s.requireActiveProfile(ctx, tx, profileID); err != nil {
			return err
		}
		return storeError(tx.UpsertSuggestionBlock(ctx, b), "suggestion block", profileID)
	})
	if err != nil {
		return store.SuggestionBlock{}, err
	}
	return b, nil
}

func (s *Service) UnblockSuggestions(ctx context.Context, actorID, profileID string) error {
	return s.store.InTx(ctx, func(tx store.Tx) error {
		if err := s.requireAdmin(ctx, tx, actorID); err != nil {
			return err
		}
		return storeError(tx.DeactivateSuggestionBlock(ctx, profileID), "suggestion block", profileID)
	})
}

// CheckPermission reports the actor's level over one profile.
func (s *Service) CheckPermission(ctx context.Context, actorID, targetID string) (rbac.Level, error) {
	var level rbac.Level
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		level, err = s.level(ctx, tx, actorID, targetID)
		return err
	})
	return level, err
}

// CheckPermissions evaluates many targets with one actor context.
func (s *Service) CheckPermissions(ctx context.Context, actorID string, targetIDs []string) (map[string]rbac.Level, error) {
	if len(targetIDs) == 0 {
		return map[string]rbac.Level{}, nil
	}
	if len(targetIDs) > maxPermissionTargets {
		return nil, invalidInput("at most %d targets per request", maxPermissionTargets)
	}
	var levels map[string]rbac.Level
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		levels, err = s.evaluator(tx).EvaluateMany(ctx, actorID, targetIDs)
		return err
	})
	return levels, err
}

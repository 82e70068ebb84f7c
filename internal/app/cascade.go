package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"alqefari/api/internal/audit"
	"alqefari/api/internal/lease"
	"alqefari/api/internal/metrics"
	"alqefari/api/internal/store"
	"alqefari/api/internal/util"
)

type CascadeResult struct {
	BatchID      string   `json:"batchId"`
	DeletedCount int      `json:"deletedCount"`
	ProfileIDs   []string `json:"profileIds"`
}

type CascadeFailure struct {
	LogID     int64  `json:"logId"`
	ProfileID string `json:"profileId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type CascadeRestoreResult struct {
	BatchID         string           `json:"batchId"`
	RestoredCount   int              `json:"restoredCount"`
	AlreadyRestored int              `json:"alreadyRestored"`
	ProfileIDs      []string         `json:"profileIds"`
	Failed          []CascadeFailure `json:"failed"`
}

// CascadeDeleteProfile soft-deletes rootID and every descendant reachable
// through father or mother links in one transaction. All audit entries share
// one batch id.
func (s *Service) CascadeDeleteProfile(ctx context.Context, actorID, rootID string) (CascadeResult, error) {
	batchID := util.NewID("")
	var deleted []string

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		admin, err := s.isAdmin(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if !admin {
			return permissionDenied("cascade delete requires an admin")
		}

		root, err := tx.LockProfile(ctx, rootID)
		if err != nil {
			return storeError(err, "profile", rootID)
		}
		if root.IsDeleted() {
			return notFound("profile", rootID)
		}

		// Breadth first, so every parent is logged before its children.
		order := []store.Profile{root}
		visited := map[string]bool{root.ID: true}
		for i := 0; i < len(order); i++ {
			children, err := tx.ListActiveChildren(ctx, order[i].ID)
			if err != nil {
				return fmt.Errorf("list children of %s: %w", order[i].ID, err)
			}
			for _, child := range children {
				if visited[child.ID] {
					continue
				}
				visited[child.ID] = true
				locked, err := tx.LockProfile(ctx, child.ID)
				if err != nil {
					return storeError(err, "profile", child.ID)
				}
				order = append(order, locked)
			}
		}

		meta := audit.Metadata{BatchID: batchID, RootID: root.ID, Cascade: true}
		for i, p := range order {
			severity := audit.SeverityMedium
			if i == 0 {
				severity = audit.SeverityHigh
			}
			if _, _, err := s.softDelete(ctx, tx, actorID, p, meta, severity); err != nil {
				return err
			}
			deleted = append(deleted, p.ID)
		}
		return nil
	})
	if err != nil {
		return CascadeResult{}, err
	}

	metrics.Cascade("delete", len(deleted))
	s.logger(ctx).WithFields(logrus.Fields{
		"batch_id": batchID,
		"root_id":  rootID,
		"count":    len(deleted),
	}).Info("cascade delete")
	s.index.Invalidate()
	s.search.RefreshProfiles(ctx, deleted...)
	return CascadeResult{BatchID: batchID, DeletedCount: len(deleted), ProfileIDs: deleted}, nil
}

// UndoCascadeDelete restores every profile deleted by the batch that logID
// belongs to. Members are restored newest first, each in its own
// transaction; a member that fails is reported and skipped.
func (s *Service) UndoCascadeDelete(ctx context.Context, actorID string, logID int64) (CascadeRestoreResult, error) {
	var batchID string
	err := s.store.View(ctx, func(tx store.Tx) error {
		if err := s.requireAdmin(ctx, tx, actorID); err != nil {
			return err
		}
		entry, err := tx.GetAuditEntry(ctx, logID)
		if err != nil {
			return storeError(err, "audit entry", fmt.Sprint(logID))
		}
		meta, err := audit.DecodeMetadata(entry.Metadata)
		if err != nil {
			return err
		}
		if meta.BatchID == "" {
			return domainError(http.StatusNotFound, CodeBatchNotFound, "audit entry is not part of a cascade batch", nil)
		}
		batchID = meta.BatchID
		return nil
	})
	if err != nil {
		return CascadeRestoreResult{}, err
	}

	release, err := s.locker.Acquire(ctx, "undo:batch:"+batchID)
	if errors.Is(err, lease.ErrHeld) {
		return CascadeRestoreResult{}, lockContention("batch restore already in progress")
	}
	if err != nil {
		return CascadeRestoreResult{}, fmt.Errorf("acquire batch lease: %w", err)
	}
	defer release()

	var members []store.AuditEntry
	err = s.store.View(ctx, func(tx store.Tx) error {
		var err error
		members, err = tx.ListAuditBatch(ctx, batchID)
		return err
	})
	if err != nil {
		return CascadeRestoreResult{}, fmt.Errorf("list batch %s: %w", batchID, err)
	}
	if len(members) == 0 {
		return CascadeRestoreResult{}, domainError(http.StatusNotFound, CodeBatchNotFound, "batch has no entries", nil)
	}

	log := s.logger(ctx).WithField("batch_id", batchID)
	result := CascadeRestoreResult{BatchID: batchID, Failed: []CascadeFailure{}}
	for _, member := range members {
		if member.UndoneAt != nil {
			result.AlreadyRestored++
			continue
		}
		err := s.store.InTx(ctx, func(tx store.Tx) error {
			entry, err := tx.LockAuditEntry(ctx, member.ID)
			if err != nil {
				return storeError(err, "audit entry", fmt.Sprint(member.ID))
			}
			if entry.UndoneAt != nil {
				return undoError(http.StatusConflict, CodeAlreadyUndone, "already undone", nil)
			}
			u := undoCtx{Service: s, ctx: ctx, tx: tx, actorID: actorID, entry: entry, reason: "cascade restore"}
			_, err = u.profileSoftDelete(false)
			return err
		})
		if err == nil {
			result.RestoredCount++
			result.ProfileIDs = append(result.ProfileIDs, member.RecordID)
			continue
		}

		status, code, message, _ := mapError(err)
		if status == http.StatusInternalServerError {
			message = err.Error()
		}
		if code == CodeAlreadyUndone {
			result.AlreadyRestored++
			continue
		}
		log.WithFields(logrus.Fields{
			"log_id":     member.ID,
			"profile_id": member.RecordID,
			"code":       code,
		}).WithError(err).Warn("cascade restore member failed")
		result.Failed = append(result.Failed, CascadeFailure{
			LogID:     member.ID,
			ProfileID: member.RecordID,
			Code:      code,
			Message:   message,
		})
	}

	metrics.Cascade("restore", result.RestoredCount)
	log.WithFields(logrus.Fields{
		"restored": result.RestoredCount,
		"failed":   len(result.Failed),
	}).Info("cascade restore")
	if result.RestoredCount > 0 {
		s.index.Invalidate()
		s.search.RefreshProfiles(ctx, result.ProfileIDs...)
	}
	return result, nil
}

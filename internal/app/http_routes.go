package app

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"alqefari/api/internal/search"
	"alqefari/api/internal/store"
)

func (s *HTTPServer) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var body CreateProfileInput
	if !s.decode(w, r, &body) {
		return
	}
	p, err := s.service.CreateProfile(r.Context(), actorID(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExpectedVersion int   `json:"expectedVersion"`
		Fields          Patch `json:"fields"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	p, err := s.service.UpdateProfile(r.Context(), actorID(r), chi.URLParam(r, "id"), body.ExpectedVersion, body.Fields)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	expected, err := queryInt(r, "expectedVersion", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, logID, err := s.service.DeleteProfile(r.Context(), actorID(r), chi.URLParam(r, "id"), expected)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": p, "logId": logID})
}

func (s *HTTPServer) handleCascadeDelete(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.CascadeDeleteProfile(r.Context(), actorID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleChain(w http.ResponseWriter, r *http.Request) {
	chain, err := s.service.AncestryChain(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (s *HTTPServer) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entries, err := s.service.ListAuditLog(r.Context(), actorID(r), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, auditJSON(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func auditJSON(e store.AuditEntry) map[string]any {
	return map[string]any{
		"id":               e.ID,
		"tableName":        e.TableName,
		"recordId":         e.RecordID,
		"action":           e.Action,
		"actionCategory":   e.ActionCategory,
		"actorId":          e.ActorID,
		"oldData":          rawOrNull(e.OldData),
		"newData":          rawOrNull(e.NewData),
		"changedFields":    e.ChangedFields,
		"description":      e.Description,
		"severity":         e.Severity,
		"metadata":         rawOrNull(e.Metadata),
		"isUndoable":       e.IsUndoable,
		"undoneAt":         e.UndoneAt,
		"undoneBy":         e.UndoneBy,
		"undoReason":       e.UndoReason,
		"compensatesLogId": e.CompensatesLogID,
		"createdAt":        e.CreatedAt,
	}
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`null`)
	}
	return raw
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body search.Query
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.service.SearchByNameChain(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleSuggestNames(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	names, err := s.service.SuggestNames(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"names": names})
}

func logIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "logId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalidInput("logId must be a positive integer")
	}
	return id, nil
}

// undoStatus maps an undo outcome code to its HTTP status.
func undoStatus(res UndoResult) int {
	switch res.Code {
	case "":
		return http.StatusOK
	case CodeLockContention, CodeVersionConflict, CodeAlreadyUndone:
		return http.StatusConflict
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *HTTPServer) handleUndo(w http.ResponseWriter, r *http.Request) {
	logID, err := logIDParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.service.Undo(r.Context(), actorID(r), logID, body.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, undoStatus(res), res)
}

func (s *HTTPServer) handleUndoBatch(w http.ResponseWriter, r *http.Request) {
	logID, err := logIDParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.service.UndoCascadeDelete(r.Context(), actorID(r), logID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleCreateMarriage(w http.ResponseWriter, r *http.Request) {
	var body CreateMarriageInput
	if !s.decode(w, r, &body) {
		return
	}
	m, err := s.service.CreateMarriage(r.Context(), actorID(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *HTTPServer) handleUpdateMarriage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExpectedVersion int   `json:"expectedVersion"`
		Fields          Patch `json:"fields"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	m, err := s.service.UpdateMarriage(r.Context(), actorID(r), chi.URLParam(r, "id"), body.ExpectedVersion, body.Fields)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *HTTPServer) handleDeleteMarriage(w http.ResponseWriter, r *http.Request) {
	expected, err := queryInt(r, "expectedVersion", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.service.DeleteMarriage(r.Context(), actorID(r), chi.URLParam(r, "id"), expected)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func suggestionJSON(sug store.EditSuggestion) map[string]any {
	return map[string]any{
		"id":             sug.ID,
		"profileId":      sug.ProfileID,
		"field":          sug.Field,
		"newValue":       rawOrNull(sug.NewValue),
		"reason":         sug.Reason,
		"profileVersion": sug.ProfileVersion,
		"status":         sug.Status,
		"submittedBy":    sug.SubmittedBy,
		"reviewedBy":     sug.ReviewedBy,
		"reviewNote":     sug.ReviewNote,
		"createdAt":      sug.CreatedAt,
		"reviewedAt":     sug.ReviewedAt,
	}
}

func (s *HTTPServer) handleSubmitSuggestion(w http.ResponseWriter, r *http.Request) {
	var body SuggestionInput
	if !s.decode(w, r, &body) {
		return
	}
	out, err := s.service.SubmitEditSuggestion(r.Context(), actorID(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusAccepted
	if out.Applied {
		status = http.StatusOK
	}
	writeJSON(w, status, out)
}

func (s *HTTPServer) handleApproveSuggestion(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.ApproveEditSuggestion(r.Context(), actorID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": true, "profile": p})
}

func (s *HTTPServer) handleRejectSuggestion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Note string `json:"note"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	sug, err := s.service.RejectEditSuggestion(r.Context(), actorID(r), chi.URLParam(r, "id"), body.Note)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestionJSON(sug))
}

func (s *HTTPServer) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.ListPendingSuggestions(r.Context(), actorID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(list))
	for _, sug := range list {
		items = append(items, suggestionJSON(sug))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCheckPermission(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "targetId")
	level, err := s.service.CheckPermission(r.Context(), actorID(r), target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"targetId": target, "level": level})
}

func (s *HTTPServer) handleCheckPermissions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TargetIDs []string `json:"targetIds"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	levels, err := s.service.CheckPermissions(r.Context(), actorID(r), body.TargetIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"levels": levels})
}

func (s *HTTPServer) handleAssignModerator(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProfileID string `json:"profileId"`
		BranchHID string `json:"branchHid"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	m, err := s.service.AssignBranchModerator(r.Context(), actorID(r), body.ProfileID, body.BranchHID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         m.ID,
		"profileId":  m.UserID,
		"branchHid":  m.BranchHID,
		"isActive":   m.IsActive,
		"assignedBy": m.AssignedBy,
		"createdAt":  m.CreatedAt,
	})
}

func (s *HTTPServer) handleRevokeModerator(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RevokeBranchModerator(r.Context(), actorID(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleBlockSuggestions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProfileID string `json:"profileId"`
		Reason    string `json:"reason"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	b, err := s.service.BlockSuggestions(r.Context(), actorID(r), body.ProfileID, body.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"profileId": b.BlockedUserID,
		"reason":    b.Reason,
		"isActive":  b.IsActive,
		"blockedBy": b.BlockedBy,
		"createdAt": b.CreatedAt,
	})
}

func (s *HTTPServer) handleUnblockSuggestions(w http.ResponseWriter, r *http.Request) {
	if err := s.service.UnblockSuggestions(r.Context(), actorID(r), chi.URLParam(r, "profileId")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

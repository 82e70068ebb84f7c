package app

import (
	"errors"
	"fmt"
	"net/http"

	"alqefari/api/internal/search"
	"alqefari/api/internal/store"
)

const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodeNotAdmin            = "NOT_ADMIN"
	CodeLockContention      = "LOCK_CONTENTION"
	CodeVersionConflict     = "VERSION_CONFLICT"
	CodeMunasibConstraint   = "MUNASIB_CONSTRAINT"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeFieldNotWhitelisted = "FIELD_NOT_WHITELISTED"
	CodeBatchNotFound       = "BATCH_NOT_FOUND"
	CodeParentMissing       = "PARENT_MISSING"
	CodeNotUndoable         = "NOT_UNDOABLE"
	CodeAlreadyUndone       = "ALREADY_UNDONE"
	CodeConflict            = "CONFLICT"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func invalidInput(format string, args ...any) *DomainError {
	return domainError(http.StatusBadRequest, CodeInvalidInput, fmt.Sprintf(format, args...), nil)
}

func notFound(what, id string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, what+" not found", map[string]any{"id": id})
}

func permissionDenied(message string) *DomainError {
	return domainError(http.StatusForbidden, CodePermissionDenied, message, nil)
}

func notAdmin() *DomainError {
	return domainError(http.StatusForbidden, CodeNotAdmin, "admin role required", nil)
}

func lockContention(message string) *DomainError {
	return domainError(http.StatusConflict, CodeLockContention, message, map[string]any{"retryable": true})
}

func versionConflict(current, expected int) *DomainError {
	return domainError(http.StatusConflict, CodeVersionConflict,
		fmt.Sprintf("version conflict: current %d, expected %d", current, expected),
		map[string]any{"current": current, "expected": expected})
}

// storeError turns store sentinels into domain errors. Unknown errors pass
// through and end up as 500s.
func storeError(err error, what, id string) error {
	var de *DomainError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &de):
		return err
	case errors.Is(err, store.ErrNotFound):
		return notFound(what, id)
	case errors.Is(err, store.ErrLockNotAvailable):
		return lockContention(what + " is being modified, try again shortly")
	case errors.Is(err, store.ErrMunasibViolation):
		return domainError(http.StatusUnprocessableEntity, CodeMunasibConstraint, err.Error(), nil)
	case errors.Is(err, store.ErrConflict):
		return domainError(http.StatusConflict, CodeConflict, what+" already exists", nil)
	case errors.Is(err, store.ErrConstraint):
		return domainError(http.StatusBadRequest, CodeInvalidInput, err.Error(), nil)
	default:
		return err
	}
}

// mapError converts any error into the HTTP status and body fields.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, search.ErrInvalidInput) {
		return http.StatusBadRequest, CodeInvalidInput, err.Error(), nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	}
	if errors.Is(err, store.ErrLockNotAvailable) {
		return http.StatusConflict, CodeLockContention, "Resource is locked, try again shortly", map[string]any{"retryable": true}
	}
	if errors.Is(err, store.ErrMunasibViolation) {
		return http.StatusUnprocessableEntity, CodeMunasibConstraint, err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

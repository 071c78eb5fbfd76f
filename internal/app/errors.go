package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"barriers/api/internal/auth"
	"barriers/api/internal/barrier"
	"barriers/api/internal/notes"
	"barriers/api/internal/reference"
	"barriers/api/internal/savedsearch"
	"barriers/api/internal/store"
	"barriers/api/internal/team"
)

const (
	CodeInvalidField         = "INVALID_FIELD"
	CodeSubmissionIncomplete = "SUBMISSION_INCOMPLETE"
	CodeBadTransition        = "BAD_TRANSITION"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
	CodeConflict             = "CONFLICT"
	CodeUnknownReference     = "UNKNOWN_REFERENCE"
	CodeAlreadyArchived      = "ALREADY_ARCHIVED"
	CodeUnauthorized         = "UNAUTHORIZED"
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

func errForbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, message, nil)
}

func errNotFound(what string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, what+" not found", nil)
}

func errInvalid(field, message string) *DomainError {
	return domainError(http.StatusBadRequest, CodeInvalidField, "Invalid field", map[string]string{field: message})
}

// mapError renders any error returned by the service as a status, a stable
// code, a message and optional details.
func mapError(err error) (status int, code, message string, details any) {
	var (
		domainErr     *DomainError
		fieldErrs     barrier.FieldErrors
		refErr        *barrier.ReferenceError
		unknownErr    *reference.UnknownError
		transitionErr *barrier.TransitionError
		incompleteErr *barrier.IncompleteError
	)
	switch {
	case errors.As(err, &domainErr):
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	case errors.As(err, &incompleteErr):
		return http.StatusBadRequest, CodeSubmissionIncomplete, "Report is not complete", map[string]any{
			"stage_code":  incompleteErr.Stage.Code,
			"status_desc": incompleteErr.Stage.Status,
		}
	case errors.As(err, &refErr):
		return http.StatusBadRequest, CodeUnknownReference, refErr.Error(), map[string]string{refErr.Field: refErr.Err.Error()}
	case errors.As(err, &unknownErr):
		return http.StatusBadRequest, CodeUnknownReference, unknownErr.Error(), nil
	case errors.As(err, &fieldErrs):
		return http.StatusBadRequest, CodeInvalidField, "Invalid field", map[string]string(fieldErrs)
	case errors.As(err, &transitionErr):
		return http.StatusBadRequest, CodeBadTransition, transitionErr.Error(), nil
	case errors.Is(err, barrier.ErrAlreadyArchived), errors.Is(err, notes.ErrNoteArchived):
		return http.StatusBadRequest, CodeAlreadyArchived, err.Error(), nil
	case errors.Is(err, barrier.ErrNotArchived):
		return http.StatusBadRequest, CodeBadTransition, err.Error(), nil
	case errors.Is(err, team.ErrDefaultMember), errors.Is(err, team.ErrSoleOwner), errors.Is(err, notes.ErrNotAuthor):
		return http.StatusForbidden, CodeForbidden, err.Error(), nil
	case errors.Is(err, team.ErrInvalidRole):
		return http.StatusBadRequest, CodeInvalidField, "Invalid field", map[string]string{"role": err.Error()}
	case errors.Is(err, notes.ErrEmptyText):
		return http.StatusBadRequest, CodeInvalidField, "Invalid field", map[string]string{"text": err.Error()}
	case errors.Is(err, notes.ErrUnknownDocRef):
		return http.StatusBadRequest, CodeInvalidField, "Invalid field", map[string]string{"documents": err.Error()}
	case errors.Is(err, savedsearch.ErrNameRequired):
		return http.StatusBadRequest, CodeInvalidField, "Invalid field", map[string]string{"name": err.Error()}
	case errors.Is(err, reference.ErrUnknownReference):
		return http.StatusBadRequest, CodeUnknownReference, err.Error(), nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, barrier.ErrChildNotFound):
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, CodeConflict, "The barrier is being edited by someone else, try again", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

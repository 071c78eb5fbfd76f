package barrier

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ERDRequestStatus string

const (
	ERDRequestNeedsReview ERDRequestStatus = "NEEDS_REVIEW"
	ERDRequestApproved    ERDRequestStatus = "APPROVED"
	ERDRequestRejected    ERDRequestStatus = "REJECTED"
	ERDRequestCancelled   ERDRequestStatus = "CANCELLED"
)

// Pending reports whether an approver still has to act on the request.
func (r *ERDRequest) Pending() bool {
	return r != nil && r.Status == ERDRequestNeedsReview
}

// ERDResult tells the caller what SetEstimatedResolutionDate did.
type ERDResult int

const (
	ERDUnchanged ERDResult = iota
	ERDUpdated
	ERDRequested
)

func (b *Barrier) needsERDReview(date Date) bool {
	tp := b.topPriority()
	if tp != TopPriorityApproved && tp != TopPriorityRemovalPending {
		return false
	}
	return b.EstimatedResolutionDate != nil && !date.IsZero() && date > *b.EstimatedResolutionDate
}

// SetEstimatedResolutionDate sets the date directly, or, for approved top
// priority barriers being pushed later, opens a request for review.
func (b *Barrier) SetEstimatedResolutionDate(actor uuid.UUID, date Date, reason string, now time.Time) (ERDResult, error) {
	if b.Draft || b.Archived {
		return ERDUnchanged, &TransitionError{From: b.Status.String(), Event: "set_estimated_resolution_date", Reason: "only live barriers have a resolution estimate"}
	}
	if b.EstimatedResolutionDate != nil && *b.EstimatedResolutionDate == date {
		return ERDUnchanged, nil
	}
	if b.EstimatedResolutionDate == nil && date.IsZero() {
		return ERDUnchanged, nil
	}
	reason = strings.TrimSpace(reason)

	if b.needsERDReview(date) {
		if b.ERDRequest.Pending() {
			return ERDUnchanged, &TransitionError{From: string(ERDRequestNeedsReview), Event: "request_estimated_resolution_date", Reason: "a request is already awaiting review"}
		}
		if reason == "" {
			return ERDUnchanged, FieldErrors{"reason": "required when moving the estimate later"}
		}
		b.ERDRequest = &ERDRequest{
			ID:           uuid.New(),
			Status:       ERDRequestNeedsReview,
			ProposedDate: date,
			Reason:       reason,
			CreatedBy:    actor,
			CreatedOn:    now,
		}
		return ERDRequested, nil
	}

	if date.IsZero() {
		b.EstimatedResolutionDate = nil
	} else {
		d := date
		b.EstimatedResolutionDate = &d
	}
	return ERDUpdated, nil
}

// DecideERDRequest approves or rejects the pending request. Approval applies
// the proposed date.
func (b *Barrier) DecideERDRequest(actor uuid.UUID, approved bool, reason string, now time.Time) error {
	r := b.ERDRequest
	if !r.Pending() {
		return &TransitionError{From: erdState(r), Event: "decide_estimated_resolution_date", Reason: "no request is pending"}
	}
	reason = strings.TrimSpace(reason)
	if !approved && reason == "" {
		return FieldErrors{"reason": "required when rejecting"}
	}
	decided := now
	r.DecidedBy = &actor
	r.DecidedOn = &decided
	r.Decision = reason
	if approved {
		r.Status = ERDRequestApproved
		d := r.ProposedDate
		b.EstimatedResolutionDate = &d
		return nil
	}
	r.Status = ERDRequestRejected
	return nil
}

// CancelERDRequest withdraws a pending request.
func (b *Barrier) CancelERDRequest(actor uuid.UUID, now time.Time) error {
	r := b.ERDRequest
	if !r.Pending() {
		return &TransitionError{From: erdState(r), Event: "cancel_estimated_resolution_date", Reason: "no request is pending"}
	}
	decided := now
	r.Status = ERDRequestCancelled
	r.DecidedBy = &actor
	r.DecidedOn = &decided
	return nil
}

func erdState(r *ERDRequest) string {
	if r == nil {
		return "NONE"
	}
	return string(r.Status)
}

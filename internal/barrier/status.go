package barrier

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event names a status machine edge.
type Event string

const (
	EventResolveFull Event = "resolve_full"
	EventResolvePart Event = "resolve_part"
	EventHibernate   Event = "hibernate"
	EventReopen      Event = "reopen"
	EventOpenPending Event = "open_pending"
	EventMarkUnknown Event = "mark_unknown"
	EventArchive     Event = "archive"
	EventUnarchive   Event = "unarchive"
)

var submittedStates = []Status{
	StatusOpenPendingAction, StatusOpenInProgress, StatusResolvedInPart,
	StatusResolvedInFull, StatusDormant, StatusUnknown,
}

// transitions is the complete (from, event) -> to table. Pairs that are
// absent are illegal. Unarchive restores the pre-archive status and is
// handled separately.
var transitions = func() map[Status]map[Event]Status {
	t := map[Status]map[Event]Status{}
	add := func(to Status, event Event, from ...Status) {
		for _, f := range from {
			if t[f] == nil {
				t[f] = map[Event]Status{}
			}
			t[f][event] = to
		}
	}
	add(StatusResolvedInFull, EventResolveFull, StatusOpenPendingAction, StatusOpenInProgress, StatusResolvedInPart, StatusResolvedInFull)
	add(StatusResolvedInPart, EventResolvePart, StatusOpenPendingAction, StatusOpenInProgress, StatusResolvedInPart)
	add(StatusDormant, EventHibernate, submittedStates...)
	add(StatusOpenInProgress, EventReopen, StatusOpenPendingAction, StatusResolvedInPart, StatusResolvedInFull, StatusDormant, StatusUnknown)
	add(StatusOpenPendingAction, EventOpenPending, StatusOpenInProgress, StatusDormant, StatusUnknown)
	add(StatusUnknown, EventMarkUnknown, submittedStates...)
	add(StatusArchived, EventArchive, submittedStates...)
	return t
}()

// CanTransition reports whether event is legal from the current status.
func (b *Barrier) CanTransition(event Event) bool {
	if b.Draft || b.Archived {
		return false
	}
	_, ok := transitions[b.Status][event]
	return ok
}

// EventForStatus maps a requested target status to the edge reaching it.
func EventForStatus(target Status) (Event, bool) {
	switch target {
	case StatusResolvedInFull:
		return EventResolveFull, true
	case StatusResolvedInPart:
		return EventResolvePart, true
	case StatusDormant:
		return EventHibernate, true
	case StatusOpenInProgress:
		return EventReopen, true
	case StatusOpenPendingAction:
		return EventOpenPending, true
	case StatusUnknown:
		return EventMarkUnknown, true
	}
	return "", false
}

// StatusChange describes an applied transition for the status history.
type StatusChange struct {
	From        Status
	To          Status
	FromDate    *Date
	Date        Date
	FromSummary string
	Summary     string
	TopPriority *TopPriorityChange
}

// TransitionInput carries the caller-supplied part of a transition.
type TransitionInput struct {
	Event   Event
	Date    Date
	Summary string
}

func requiresSummary(e Event) bool {
	return e == EventResolveFull || e == EventResolvePart || e == EventHibernate
}

// Transition applies a status machine edge. It returns a nil change when
// the transition is a no-op: same target status and same date.
func (b *Barrier) Transition(in TransitionInput) (*StatusChange, error) {
	from := b.Status
	if b.Draft {
		return nil, &TransitionError{From: from.String(), Event: string(in.Event), Reason: "report has not been submitted"}
	}
	if b.Archived {
		return nil, &TransitionError{From: from.String(), Event: string(in.Event), Reason: "barrier is archived"}
	}
	to, ok := transitions[from][in.Event]
	if !ok {
		return nil, &TransitionError{From: from.String(), Event: string(in.Event)}
	}
	if in.Date.IsZero() {
		return nil, &TransitionError{From: from.String(), Event: string(in.Event), Reason: "status_date is required"}
	}
	summary := strings.TrimSpace(in.Summary)
	if requiresSummary(in.Event) && summary == "" {
		return nil, &TransitionError{From: from.String(), Event: string(in.Event), Reason: "status_summary is required"}
	}
	if to == from && b.StatusDate != nil && *b.StatusDate == in.Date {
		return nil, nil
	}

	change := &StatusChange{
		From:        from,
		To:          to,
		FromDate:    b.StatusDate,
		Date:        in.Date,
		FromSummary: b.StatusSummary,
		Summary:     summary,
	}
	date := in.Date
	b.Status = to
	b.StatusDate = &date
	b.StatusSummary = summary
	if to == StatusResolvedInFull {
		change.TopPriority = b.resolveTopPriority()
	}
	return change, nil
}

// RestateStatus edits the date or summary of the current status without
// moving along the machine. It returns a nil change when neither differs.
// A zero date keeps the current one.
func (b *Barrier) RestateStatus(date Date, summary string) (*StatusChange, error) {
	from := b.Status
	if b.Draft {
		return nil, &TransitionError{From: from.String(), Event: "restate", Reason: "report has not been submitted"}
	}
	if b.Archived {
		return nil, &TransitionError{From: from.String(), Event: "restate", Reason: "barrier is archived"}
	}
	if date.IsZero() {
		if b.StatusDate == nil {
			return nil, &TransitionError{From: from.String(), Event: "restate", Reason: "status_date is required"}
		}
		date = *b.StatusDate
	}
	summary = strings.TrimSpace(summary)
	if from.needsSummary() && summary == "" {
		return nil, &TransitionError{From: from.String(), Event: "restate", Reason: "status_summary is required"}
	}
	if b.StatusDate != nil && *b.StatusDate == date && b.StatusSummary == summary {
		return nil, nil
	}
	change := &StatusChange{
		From:        from,
		To:          from,
		FromDate:    b.StatusDate,
		Date:        date,
		FromSummary: b.StatusSummary,
		Summary:     summary,
	}
	b.StatusDate = &date
	b.StatusSummary = summary
	return change, nil
}

func (s Status) needsSummary() bool {
	return s == StatusResolvedInFull || s == StatusResolvedInPart || s == StatusDormant
}

// Submit turns a complete draft into a submitted barrier with the status
// chosen while drafting.
func (b *Barrier) Submit(now time.Time) error {
	if !b.Draft {
		return &TransitionError{From: b.Status.String(), Event: "submit", Reason: "barrier has already been submitted"}
	}
	if b.Archived {
		return &TransitionError{From: b.Status.String(), Event: "submit", Reason: "report is archived"}
	}
	if stage, incomplete := b.FirstIncompleteStage(); incomplete {
		return &IncompleteError{Stage: stage}
	}
	status := *b.ProposedStatus
	b.Status = status
	b.ProposedStatus = nil
	b.Draft = false
	if b.StatusDate == nil {
		d := DateOf(now)
		b.StatusDate = &d
	}
	reported := now
	b.ReportedOn = &reported
	if b.TopPriorityStatus == "" {
		b.TopPriorityStatus = TopPriorityNone
	}
	if b.PriorityLevel == "" {
		b.PriorityLevel = PriorityLevelNone
	}
	return nil
}

// ArchiveInput is the reason given for archiving.
type ArchiveInput struct {
	Reason      ArchiveReason
	Explanation string
	Date        Date
}

// Archive soft-deletes the barrier. Drafts keep status UNFINISHED;
// submitted barriers move to ARCHIVED and remember where they came from.
func (b *Barrier) Archive(actor uuid.UUID, in ArchiveInput, now time.Time) (*StatusChange, error) {
	if b.Archived {
		return nil, ErrAlreadyArchived
	}
	if in.Reason != "" && !in.Reason.Valid() {
		return nil, FieldErrors{"archived_reason": "unknown archive reason"}
	}
	if in.Reason == ArchiveReasonOther && strings.TrimSpace(in.Explanation) == "" {
		return nil, FieldErrors{"archived_explanation": "required when the reason is OTHER"}
	}

	var change *StatusChange
	if !b.Draft {
		if _, ok := transitions[b.Status][EventArchive]; !ok {
			return nil, &TransitionError{From: b.Status.String(), Event: string(EventArchive)}
		}
		if in.Date.IsZero() {
			in.Date = DateOf(now)
		}
		prev := b.Status
		change = &StatusChange{
			From:        prev,
			To:          StatusArchived,
			FromDate:    b.StatusDate,
			Date:        in.Date,
			FromSummary: b.StatusSummary,
			Summary:     strings.TrimSpace(in.Explanation),
		}
		b.PreArchiveStatus = &prev
		b.Status = StatusArchived
		d := in.Date
		b.StatusDate = &d
		b.StatusSummary = change.Summary
	}

	archivedOn := now
	b.Archived = true
	b.ArchivedOn = &archivedOn
	b.ArchivedBy = &actor
	b.ArchivedReason = in.Reason
	b.ArchivedExplanation = strings.TrimSpace(in.Explanation)
	return change, nil
}

// Unarchive restores an archived submitted barrier to its previous status.
func (b *Barrier) Unarchive(actor uuid.UUID, reason string, date Date, now time.Time) (*StatusChange, error) {
	if !b.Archived {
		return nil, ErrNotArchived
	}
	if b.Draft {
		return nil, &TransitionError{From: b.Status.String(), Event: string(EventUnarchive), Reason: "archived reports cannot be restored"}
	}
	if strings.TrimSpace(reason) == "" {
		return nil, FieldErrors{"unarchived_reason": "is required"}
	}
	if date.IsZero() {
		date = DateOf(now)
	}
	restored := StatusOpenInProgress
	if b.PreArchiveStatus != nil {
		restored = *b.PreArchiveStatus
	}
	change := &StatusChange{
		From:        b.Status,
		To:          restored,
		FromDate:    b.StatusDate,
		Date:        date,
		FromSummary: b.StatusSummary,
		Summary:     strings.TrimSpace(reason),
	}
	unarchivedOn := now
	b.Archived = false
	b.Status = restored
	b.StatusDate = &date
	b.StatusSummary = change.Summary
	b.PreArchiveStatus = nil
	b.UnarchivedOn = &unarchivedOn
	b.UnarchivedBy = &actor
	b.UnarchivedReason = strings.TrimSpace(reason)
	return change, nil
}

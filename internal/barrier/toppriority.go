package barrier

import "strings"

// TopPriorityChange records a move of the top priority tag. Notify is set
// for approvals and rejections, which owners are told about.
type TopPriorityChange struct {
	From     TopPriorityStatus
	To       TopPriorityStatus
	Approved bool
	Rejected bool
	Summary  string
}

func (c *TopPriorityChange) Notify() bool {
	if c == nil {
		return false
	}
	intoApproved := c.To == TopPriorityApproved || c.From == TopPriorityApprovalPending && c.Approved
	return intoApproved || c.Rejected && c.To == TopPriorityNone
}

func (b *Barrier) topPriority() TopPriorityStatus {
	if b.TopPriorityStatus == "" {
		return TopPriorityNone
	}
	return b.TopPriorityStatus
}

// RequestTopPriority asks approvers to promote the barrier.
func (b *Barrier) RequestTopPriority(reason string) (*TopPriorityChange, error) {
	from := b.topPriority()
	if b.Draft || b.Archived {
		return nil, &TransitionError{From: string(from), Event: "request_top_priority", Reason: "only live barriers can be top priority"}
	}
	if from != TopPriorityNone {
		return nil, &TransitionError{From: string(from), Event: "request_top_priority"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, FieldErrors{"top_priority_summary": "a reason is required"}
	}
	b.TopPriorityStatus = TopPriorityApprovalPending
	b.TopPriorityReason = reason
	b.TopPriorityRejectionSummary = ""
	return &TopPriorityChange{From: from, To: TopPriorityApprovalPending, Summary: reason}, nil
}

// RequestTopPriorityRemoval asks approvers to drop the tag.
func (b *Barrier) RequestTopPriorityRemoval(reason string) (*TopPriorityChange, error) {
	from := b.topPriority()
	if from != TopPriorityApproved {
		return nil, &TransitionError{From: string(from), Event: "request_top_priority_removal"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, FieldErrors{"top_priority_summary": "a reason is required"}
	}
	b.TopPriorityStatus = TopPriorityRemovalPending
	b.TopPriorityReason = reason
	return &TopPriorityChange{From: from, To: TopPriorityRemovalPending, Summary: reason}, nil
}

// DecideTopPriority resolves a pending promotion or removal request.
// Rejections must carry a summary.
func (b *Barrier) DecideTopPriority(approved bool, summary string) (*TopPriorityChange, error) {
	from := b.topPriority()
	summary = strings.TrimSpace(summary)
	if !approved && summary == "" {
		return nil, FieldErrors{"top_priority_rejection_summary": "required when rejecting"}
	}

	var to TopPriorityStatus
	switch {
	case from == TopPriorityApprovalPending && approved:
		to = TopPriorityApproved
	case from == TopPriorityApprovalPending:
		to = TopPriorityNone
	case from == TopPriorityRemovalPending && approved:
		to = TopPriorityNone
	case from == TopPriorityRemovalPending:
		to = TopPriorityApproved
	default:
		return nil, &TransitionError{From: string(from), Event: "decide_top_priority", Reason: "no request is pending"}
	}

	b.TopPriorityStatus = to
	if approved {
		b.TopPriorityRejectionSummary = ""
	} else {
		b.TopPriorityRejectionSummary = summary
	}
	if to == TopPriorityNone {
		b.TopPriorityReason = ""
	}
	if to == TopPriorityApproved && b.Status == StatusResolvedInFull {
		to = TopPriorityResolved
		b.TopPriorityStatus = to
	}
	return &TopPriorityChange{From: from, To: to, Approved: approved, Rejected: !approved, Summary: summary}, nil
}

// resolveTopPriority is the side effect of a full resolution. Pending
// requests are left for an approver to act on.
func (b *Barrier) resolveTopPriority() *TopPriorityChange {
	if b.topPriority() != TopPriorityApproved {
		return nil
	}
	b.TopPriorityStatus = TopPriorityResolved
	return &TopPriorityChange{From: TopPriorityApproved, To: TopPriorityResolved}
}

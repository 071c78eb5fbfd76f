package app

import (
	"context"
	"net/url"
	"sort"

	"github.com/google/uuid"

	"barriers/api/internal/barrier"
	"barriers/api/internal/filter"
	"barriers/api/internal/history"
	"barriers/api/internal/team"
)

func (s *Service) GetBarrier(ctx context.Context, actor Actor, id uuid.UUID) (BarrierView, error) {
	b, err := s.loadBarrier(ctx, actor, id)
	if err != nil {
		return BarrierView{}, err
	}
	return s.view(ctx, b)
}

// BarrierList is one page of a barrier query.
type BarrierList struct {
	Count         int           `json:"count"`
	Results       []BarrierView `json:"results"`
	SavedSearchID *uuid.UUID    `json:"saved_search_id,omitempty"`
}

// ListBarriers evaluates a filter document over submitted barriers. When the
// caller owns a saved search with the same filters its id is returned so the
// client can show its delta.
func (s *Service) ListBarriers(ctx context.Context, actor Actor, values url.Values) (BarrierList, error) {
	f, err := filter.Parse(values)
	if err != nil {
		return BarrierList{}, err
	}
	idx, err := s.index(ctx)
	if err != nil {
		return BarrierList{}, err
	}
	candidates, err := s.candidates(ctx)
	if err != nil {
		return BarrierList{}, err
	}
	fctx := filter.Context{User: actor.ID, Index: idx}
	if f.Search != "" {
		if matches, ok := s.search.Matches(ctx, f.Search); ok {
			fctx.TextMatches = matches
		}
	}
	q, err := f.Compile(fctx)
	if err != nil {
		return BarrierList{}, err
	}
	page := q.Apply(candidates)
	out := BarrierList{Count: page.Total, Results: make([]BarrierView, 0, len(page.Items))}
	for _, c := range page.Items {
		out.Results = append(out.Results, viewOf(idx, c.Barrier))
	}

	searches, err := s.store.ListSavedSearches(ctx, actor.ID)
	if err != nil {
		return BarrierList{}, err
	}
	for _, ss := range searches {
		if ss.Matches(values) {
			id := ss.ID
			out.SavedSearchID = &id
			break
		}
	}
	return out, nil
}

// candidates loads every submitted barrier with its active team.
func (s *Service) candidates(ctx context.Context) ([]filter.Candidate, error) {
	all, err := s.store.ListBarriers(ctx)
	if err != nil {
		return nil, err
	}
	members, err := s.store.MembersByBarrier(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]filter.Candidate, 0, len(all))
	for _, b := range all {
		if b.Draft {
			continue
		}
		out = append(out, filter.Candidate{Barrier: b, Members: team.Active(members[b.ID])})
	}
	return out, nil
}

// Reindex pushes every submitted barrier to the search engine.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	candidates, err := s.candidates(ctx)
	if err != nil {
		return 0, err
	}
	barriers := make([]*barrier.Barrier, 0, len(candidates))
	for _, c := range candidates {
		barriers = append(barriers, c.Barrier)
	}
	s.search.Reindex(barriers)
	return len(barriers), nil
}

func (s *Service) Counts(ctx context.Context, actor Actor) (filter.Counts, error) {
	all, err := s.store.ListBarriers(ctx)
	if err != nil {
		return filter.Counts{}, err
	}
	return filter.Count(all, actor.ID), nil
}

// PatchBarrier edits a submitted barrier. Status fields in the patch are
// routed through the status machine.
func (s *Service) PatchBarrier(ctx context.Context, actor Actor, id uuid.UUID, patch barrier.Patch) (BarrierView, error) {
	b, err := s.mutate(ctx, actor, id, "patch_barrier", func(m *mutation) error {
		if err := m.requireSubmitted(); err != nil {
			return err
		}
		if err := m.requireEditor(); err != nil {
			return err
		}
		if err := m.barrier.Apply(m.idx, patch); err != nil {
			return err
		}
		if !patch.TouchesStatus() {
			return nil
		}
		target := m.barrier.Status
		if patch.Status.Set && !patch.Status.Null {
			target = patch.Status.Value
		}
		if target == m.barrier.Status {
			summary := m.barrier.StatusSummary
			if patch.StatusSummary.Set {
				summary = patch.StatusSummary.Value
			}
			var date barrier.Date
			if patch.StatusDate.Set && !patch.StatusDate.Null {
				date = patch.StatusDate.Value
			}
			change, err := m.barrier.RestateStatus(date, summary)
			if err != nil {
				return err
			}
			return m.recordStatus(change)
		}
		event, ok := barrier.EventForStatus(target)
		if !ok {
			return &barrier.TransitionError{From: m.barrier.Status.String(), Event: "set_status", Reason: "status " + target.String() + " cannot be set directly"}
		}
		in := barrier.TransitionInput{Event: event}
		if patch.StatusDate.Set && !patch.StatusDate.Null {
			in.Date = patch.StatusDate.Value
		}
		if patch.StatusSummary.Set {
			in.Summary = patch.StatusSummary.Value
		}
		return m.transition(in)
	})
	if err != nil {
		return BarrierView{}, err
	}
	return s.view(ctx, b)
}

// TransitionRequest is the body of a status change.
type TransitionRequest struct {
	StatusDate    barrier.Date `json:"status_date"`
	StatusSummary string       `json:"status_summary"`
}

// Transition moves a barrier along the status machine. Resolutions need an
// explicit date; the other events default to today.
func (s *Service) Transition(ctx context.Context, actor Actor, id uuid.UUID, event barrier.Event, req TransitionRequest) (BarrierView, error) {
	b, err := s.mutate(ctx, actor, id, "transition", func(m *mutation) error {
		if err := m.requireSubmitted(); err != nil {
			return err
		}
		if err := m.requireEditor(); err != nil {
			return err
		}
		in := barrier.TransitionInput{Event: event, Date: req.StatusDate, Summary: req.StatusSummary}
		if in.Date.IsZero() && event != barrier.EventResolveFull && event != barrier.EventResolvePart {
			in.Date = barrier.DateOf(m.now)
		}
		return m.transition(in)
	})
	if err != nil {
		return BarrierView{}, err
	}
	return s.view(ctx, b)
}

// transition applies a status machine edge and records it, including any
// top priority side effect.
func (m *mutation) transition(in barrier.TransitionInput) error {
	change, err := m.barrier.Transition(in)
	if err != nil {
		return err
	}
	return m.recordStatus(change)
}

func (m *mutation) recordStatus(change *barrier.StatusChange) error {
	if change == nil {
		return nil
	}
	if err := m.rec.Status(change); err != nil {
		return err
	}
	to := change.To.String()
	m.afterCommit(func() { m.service.metrics.StatusTransition(to) })
	return nil
}

// ArchiveRequest is the body of an archive call.
type ArchiveRequest struct {
	Reason      barrier.ArchiveReason `json:"archived_reason"`
	Explanation string                `json:"archived_explanation"`
	Date        barrier.Date          `json:"status_date"`
}

func (s *Service) ArchiveBarrier(ctx context.Context, actor Actor, id uuid.UUID, req ArchiveRequest) (BarrierView, error) {
	b, err := s.mutate(ctx, actor, id, "archive", func(m *mutation) error {
		if err := m.requireSubmitted(); err != nil {
			return err
		}
		if err := m.requireEditor(); err != nil {
			return err
		}
		change, err := m.barrier.Archive(m.actor.ID, barrier.ArchiveInput{
			Reason:      req.Reason,
			Explanation: req.Explanation,
			Date:        req.Date,
		}, m.now)
		if err != nil {
			return err
		}
		return m.recordStatus(change)
	})
	if err != nil {
		return BarrierView{}, err
	}
	return s.view(ctx, b)
}

// UnarchiveRequest is the body of an unarchive call.
type UnarchiveRequest struct {
	Reason string       `json:"unarchived_reason"`
	Date   barrier.Date `json:"status_date"`
}

func (s *Service) UnarchiveBarrier(ctx context.Context, actor Actor, id uuid.UUID, req UnarchiveRequest) (BarrierView, error) {
	b, err := s.mutate(ctx, actor, id, "unarchive", func(m *mutation) error {
		if err := m.requireSubmitted(); err != nil {
			return err
		}
		if err := m.requireEditor(); err != nil {
			return err
		}
		change, err := m.barrier.Unarchive(m.actor.ID, req.Reason, req.Date, m.now)
		if err != nil {
			return err
		}
		return m.recordStatus(change)
	})
	if err != nil {
		return BarrierView{}, err
	}
	return s.view(ctx, b)
}

// ERDRequestBody sets the estimated resolution date or asks for it to move.
type ERDRequestBody struct {
	Date   barrier.Date `json:"estimated_resolution_date"`
	Reason string       `json:"reason"`
}

// SetEstimatedResolutionDate applies the date directly or opens a request
// for review, depending on the barrier's top priority state.
func (s *Service) SetEstimatedResolutionDate(ctx context.Context, actor Actor, id uuid.UUID, req ERDRequestBody) (BarrierView, barrier.ERDResult, error) {
	var result barrier.ERDResult
	b, err := s.mutate(ctx, actor, id, "set_estimated_resolution_date", func(m *mutation) error {
		if err := m.requireSubmitted(); err != nil {
			return err
		}
		if err := m.requireEditor(); err != nil {
			return err
		}
		r, err := m.barrier.SetEstimatedResolutionDate(m.actor.ID, req.Date, req.Reason, m.now)
		result = r
		return err
	})
	if err != nil {
		return BarrierView{}, barrier.ERDUnchanged, err
	}
	v, err := s.view(ctx, b)
	return v, result, err
}

// DecisionBody approves or rejects a pending request.
type DecisionBody struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

func (s *Service) DecideEstimatedResolutionDate(ctx context.Context, actor Actor, id uuid.UUID, req DecisionBody) (BarrierView, error) {
	b, err := s.mutate(ctx, actor, id, "decide_estimated_resolution_date", func(m *mutation) error {
		if err := m.requireSubmitted(); err != nil {
			return err
		}
		if err := m.requireApprover(); err != nil {
			return err
		}
		return m.barrier.DecideERDRequest(m.actor.ID, req.Approve, req.Reason, m.now)
	})
	if err != nil {
		return BarrierView{}, err
	}
	return s.view(ctx, b)
}

// CancelEstimatedResolutionDate withdraws a pending request. The requester
// and approvers may cancel.
func (s *Service) CancelEstimatedResolutionDate(ctx context.Context, actor Actor, id uuid.UUID) (BarrierView, error) {
	b, err := s.mutate(ctx, actor, id, "cancel_estimated_resolution_date", func(m *mutation) error {
		if err := m.requireSubmitted(); err != nil {
			return err
		}
		r := m.barrier.ERDRequest
		if r != nil && r.CreatedBy != m.actor.ID {
			if err := m.requireApprover(); err != nil {
				return errForbidden("only the requester or an approver can cancel this request")
			}
		}
		return m.barrier.CancelERDRequest(m.actor.ID, m.now)
	})
	if err != nil {
		return BarrierView{}, err
	}
	return s.view(ctx, b)
}

// TopPriorityBody carries the reason for a top priority request.
type TopPriorityBody struct {
	Summary string `json:"top_priority_summary"`
}

func (s *Service) RequestTopPriority(ctx context.Context, actor Actor, id uuid.UUID, req TopPriorityBody) (BarrierView, error) {
	return s.topPriority(ctx, actor, id, "request_top_priority", func(m *mutation) (*barrier.TopPriorityChange, error) {
		if err := m.requireEditor(); err != nil {
			return nil, err
		}
		return m.barrier.RequestTopPriority(req.Summary)
	})
}

func (s *Service) RequestTopPriorityRemoval(ctx context.Context, actor Actor, id uuid.UUID, req TopPriorityBody) (BarrierView, error) {
	return s.topPriority(ctx, actor, id, "request_top_priority_removal", func(m *mutation) (*barrier.TopPriorityChange, error) {
		if err := m.requireEditor(); err != nil {
			return nil, err
		}
		return m.barrier.RequestTopPriorityRemoval(req.Summary)
	})
}

// DecideTopPriority resolves a pending request. Owners are emailed about
// approvals and rejections.
func (s *Service) DecideTopPriority(ctx context.Context, actor Actor, id uuid.UUID, req DecisionBody) (BarrierView, error) {
	return s.topPriority(ctx, actor, id, "decide_top_priority", func(m *mutation) (*barrier.TopPriorityChange, error) {
		if err := m.requireApprover(); err != nil {
			return nil, err
		}
		change, err := m.barrier.DecideTopPriority(req.Approve, req.Reason)
		if err != nil || !change.Notify() {
			return change, err
		}
		to, err := userEmails(m.ctx, m.tx, team.Owners(m.members))
		if err != nil {
			return nil, err
		}
		snapshot := m.barrier.Clone()
		m.afterCommit(func() { m.service.notifier.TopPriorityDecision(to, snapshot, change) })
		return change, nil
	})
}

func (s *Service) topPriority(ctx context.Context, actor Actor, id uuid.UUID, op string, fn func(m *mutation) (*barrier.TopPriorityChange, error)) (BarrierView, error) {
	b, err := s.mutate(ctx, actor, id, op, func(m *mutation) error {
		if err := m.requireSubmitted(); err != nil {
			return err
		}
		change, err := fn(m)
		if err != nil {
			return err
		}
		if change.Summary == "" {
			return nil
		}
		return m.rec.Value(history.ModelTopPriority, m.barrier.ID.String(), "top_priority_summary", nil, change.Summary)
	})
	if err != nil {
		return BarrierView{}, err
	}
	return s.view(ctx, b)
}

func (s *Service) UpdateWTOProfile(ctx context.Context, actor Actor, id uuid.UUID, patch barrier.WTOPatch) (BarrierView, error) {
	return s.editChild(ctx, actor, id, "update_wto_profile", func(m *mutation) error {
		return m.barrier.UpdateWTOProfile(m.idx, patch)
	})
}

func (s *Service) AddAssessment(ctx context.Context, actor Actor, id uuid.UUID, in barrier.AssessmentInput) (BarrierView, error) {
	return s.editChild(ctx, actor, id, "add_assessment", func(m *mutation) error {
		_, err := m.barrier.AddAssessment(m.actor.ID, in, m.now)
		return err
	})
}

func (s *Service) UpdateAssessment(ctx context.Context, actor Actor, id, assessmentID uuid.UUID, in barrier.AssessmentInput) (BarrierView, error) {
	return s.editChild(ctx, actor, id, "update_assessment", func(m *mutation) error {
		_, err := m.barrier.UpdateAssessment(assessmentID, in)
		return err
	})
}

func (s *Service) AddProgressUpdate(ctx context.Context, actor Actor, id uuid.UUID, in barrier.ProgressUpdateInput) (BarrierView, error) {
	return s.editChild(ctx, actor, id, "add_progress_update", func(m *mutation) error {
		_, err := m.barrier.AddProgressUpdate(m.actor.ID, in, m.now)
		return err
	})
}

func (s *Service) UpdateProgressUpdate(ctx context.Context, actor Actor, id, updateID uuid.UUID, in barrier.ProgressUpdateInput) (BarrierView, error) {
	return s.editChild(ctx, actor, id, "update_progress_update", func(m *mutation) error {
		_, err := m.barrier.UpdateProgressUpdate(updateID, in)
		return err
	})
}

func (s *Service) AddNextStep(ctx context.Context, actor Actor, id uuid.UUID, in barrier.NextStepInput) (BarrierView, error) {
	return s.editChild(ctx, actor, id, "add_next_step", func(m *mutation) error {
		_, err := m.barrier.AddNextStep(m.actor.ID, in, m.now)
		return err
	})
}

func (s *Service) UpdateNextStep(ctx context.Context, actor Actor, id, stepID uuid.UUID, in barrier.NextStepInput) (BarrierView, error) {
	return s.editChild(ctx, actor, id, "update_next_step", func(m *mutation) error {
		_, err := m.barrier.UpdateNextStep(stepID, in)
		return err
	})
}

func (s *Service) UpdateActionPlan(ctx context.Context, actor Actor, id uuid.UUID, in barrier.ActionPlanInput) (BarrierView, error) {
	return s.editChild(ctx, actor, id, "update_action_plan", func(m *mutation) error {
		return m.barrier.UpdateActionPlan(in)
	})
}

func (s *Service) editChild(ctx context.Context, actor Actor, id uuid.UUID, op string, fn func(m *mutation) error) (BarrierView, error) {
	b, err := s.mutate(ctx, actor, id, op, func(m *mutation) error {
		if err := m.requireSubmitted(); err != nil {
			return err
		}
		if err := m.requireEditor(); err != nil {
			return err
		}
		return fn(m)
	})
	if err != nil {
		return BarrierView{}, err
	}
	return s.view(ctx, b)
}

func sortNewestFirst(views []BarrierView) {
	sort.SliceStable(views, func(i, j int) bool {
		if !views[i].CreatedOn.Equal(views[j].CreatedOn) {
			return views[i].CreatedOn.After(views[j].CreatedOn)
		}
		return views[i].Code > views[j].Code
	})
}

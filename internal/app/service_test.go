package app

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barriers/api/internal/barrier"
	"barriers/api/internal/notes"
	"barriers/api/internal/rbac"
	"barriers/api/internal/reference/referencetest"
	"barriers/api/internal/savedsearch"
	"barriers/api/internal/store"
	"barriers/api/internal/team"
)

func TestCreateReportAssignsCodeAndRecordsCreation(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)

	first, err := h.service.CreateReport(h.ctx, u, barrier.Patch{Term: barrier.Some(barrier.TermLongTerm)})
	require.NoError(t, err)
	second, err := h.service.CreateReport(h.ctx, u, barrier.Patch{})
	require.NoError(t, err)

	assert.Regexp(t, `^B-\d{2}-[0-9A-Z]{3,}$`, first.Code)
	assert.NotEqual(t, first.Code, second.Code)
	assert.True(t, first.Draft)
	assert.Equal(t, barrier.StatusUnfinished, first.Status)
	require.Len(t, first.Progress, 5)
	assert.Equal(t, barrier.StageInProgress, first.Progress[0].Status)

	log, err := h.service.History(h.ctx, u, first.ID, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, log)
	for _, e := range log {
		assert.Equal(t, u.ID, e.Actor)
	}
}

func TestViewerCannotCreateReport(t *testing.T) {
	h := newHarness(t)
	viewer := h.user("vic", rbac.RoleViewer)

	_, err := h.service.CreateReport(h.ctx, viewer, barrier.Patch{})
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, CodeForbidden, domainErr.Code)
}

func TestDraftsAreVisibleOnlyToTheirCreator(t *testing.T) {
	h := newHarness(t)
	ada := h.user("ada", rbac.RoleEditor)
	bob := h.user("bob", rbac.RoleEditor)

	draft, err := h.service.CreateReport(h.ctx, ada, barrier.Patch{})
	require.NoError(t, err)

	mine, err := h.service.ListReports(h.ctx, ada)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	theirs, err := h.service.ListReports(h.ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	_, err = h.service.PatchReport(h.ctx, bob, draft.ID, barrier.Patch{Title: barrier.Some("mine now")})
	assert.ErrorAs(t, err, new(*DomainError))
}

func TestSubmitRequiresCompleteReport(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)

	draft, err := h.service.CreateReport(h.ctx, u, barrier.Patch{Term: barrier.Some(barrier.TermLongTerm)})
	require.NoError(t, err)

	_, err = h.service.SubmitReport(h.ctx, u, draft.ID)
	var incomplete *barrier.IncompleteError
	require.ErrorAs(t, err, &incomplete)

	_, err = h.service.PatchReport(h.ctx, u, draft.ID, completePatch())
	require.NoError(t, err)
	view, err := h.service.SubmitReport(h.ctx, u, draft.ID)
	require.NoError(t, err)

	assert.False(t, view.Draft)
	assert.Equal(t, barrier.StatusOpenPendingAction, view.Status)
	assert.NotNil(t, view.ReportedOn)
	assert.Equal(t, float64(1), h.counter("barriers_barriers_submitted_total"))

	members, err := h.service.ListMembers(h.ctx, u, view.ID)
	require.NoError(t, err)
	roles := map[team.Role]bool{}
	for _, m := range members {
		assert.Equal(t, u.ID, m.UserID)
		roles[m.Role] = true
	}
	assert.True(t, roles[team.RoleReporter])
	assert.True(t, roles[team.RoleOwner])

	statuses, err := h.service.StatusHistory(h.ctx, u, view.ID)
	require.NoError(t, err)
	assert.Empty(t, statuses, "submission is not a status transition")

	_, err = h.service.SubmitReport(h.ctx, u, draft.ID)
	var transitionErr *barrier.TransitionError
	assert.ErrorAs(t, err, &transitionErr)
}

func TestSubmitPublishesChangeEvent(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)

	view := h.submitted(u)

	var found bool
	for _, e := range h.events.Events() {
		if e.BarrierID == view.ID && e.Code == view.Code {
			found = true
			assert.Equal(t, u.ID, e.Actor)
		}
	}
	assert.True(t, found)
}

func TestDeleteReportArchivesDraftWithoutChangingStatus(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)

	draft, err := h.service.CreateReport(h.ctx, u, barrier.Patch{})
	require.NoError(t, err)
	require.NoError(t, h.service.DeleteReport(h.ctx, u, draft.ID))

	b, err := h.store.GetBarrier(h.ctx, draft.ID)
	require.NoError(t, err)
	assert.True(t, b.Archived)
	assert.Equal(t, barrier.StatusUnfinished, b.Status)

	_, err = h.service.GetReport(h.ctx, u, draft.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound) || errors.As(err, new(*DomainError)))
}

func TestStatusHistoryFollowsTransitions(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)
	view := h.submitted(u)

	_, err := h.service.Transition(h.ctx, u, view.ID, barrier.EventResolveFull, TransitionRequest{
		StatusDate:    "2018-09-10",
		StatusSummary: "dummy summary",
	})
	require.NoError(t, err)

	entries, err := h.service.StatusHistory(h.ctx, u, view.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, barrier.StatusOpenPendingAction, entries[0].OldStatus)
	assert.Equal(t, barrier.StatusResolvedInFull, entries[0].NewStatus)
	require.NotNil(t, entries[0].Summary)
	assert.Equal(t, "dummy summary", *entries[0].Summary)

	_, err = h.service.Transition(h.ctx, u, view.ID, barrier.EventReopen, TransitionRequest{})
	require.NoError(t, err)

	entries, err = h.service.StatusHistory(h.ctx, u, view.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, barrier.StatusResolvedInFull, entries[1].OldStatus)
	assert.Equal(t, barrier.StatusOpenInProgress, entries[1].NewStatus)
	assert.Nil(t, entries[1].Summary)
	assert.Equal(t, entries[0].NewStatus, entries[1].OldStatus)
}

func TestResolutionRequiresDate(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)
	view := h.submitted(u)

	_, err := h.service.Transition(h.ctx, u, view.ID, barrier.EventResolvePart, TransitionRequest{StatusSummary: "partly"})
	var transitionErr *barrier.TransitionError
	assert.ErrorAs(t, err, &transitionErr)
}

func TestPatchBarrierRoutesStatusThroughStateMachine(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)
	view := h.submitted(u)

	updated, err := h.service.PatchBarrier(h.ctx, u, view.ID, barrier.Patch{
		Status:        barrier.Some(barrier.StatusDormant),
		StatusDate:    barrier.Some(barrier.Date("2024-01-02")),
		StatusSummary: barrier.Some("waiting on elections"),
	})
	require.NoError(t, err)
	assert.Equal(t, barrier.StatusDormant, updated.Status)

	entries, err := h.service.StatusHistory(h.ctx, u, view.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, barrier.StatusDormant, entries[0].NewStatus)

	_, err = h.service.PatchBarrier(h.ctx, u, view.ID, barrier.Patch{Status: barrier.Some(barrier.StatusArchived)})
	var transitionErr *barrier.TransitionError
	assert.ErrorAs(t, err, &transitionErr)
}

func TestPatchBarrierResendingStatusIsNotATransition(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)
	view := h.submitted(u)

	updated, err := h.service.PatchBarrier(h.ctx, u, view.ID, barrier.Patch{
		Title:  barrier.Some("Renamed"),
		Status: barrier.Some(view.Status),
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, view.Status, updated.Status)

	entries, err := h.service.StatusHistory(h.ctx, u, view.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPatchBarrierStatusSummaryOnly(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)
	view := h.submitted(u)

	updated, err := h.service.PatchBarrier(h.ctx, u, view.ID, barrier.Patch{StatusSummary: barrier.Some("talks resumed")})
	require.NoError(t, err)
	assert.Equal(t, view.Status, updated.Status)
	assert.Equal(t, "talks resumed", updated.StatusSummary)

	entries, err := h.service.StatusHistory(h.ctx, u, view.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, view.Status, entries[0].OldStatus)
	assert.Equal(t, view.Status, entries[0].NewStatus)
	require.NotNil(t, entries[0].Summary)
	assert.Equal(t, "talks resumed", *entries[0].Summary)

	_, err = h.service.PatchBarrier(h.ctx, u, view.ID, barrier.Patch{StatusSummary: barrier.Some("talks resumed")})
	require.NoError(t, err)
	entries, err = h.service.StatusHistory(h.ctx, u, view.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestArchiveAndUnarchiveRestoreStatus(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)
	view := h.submitted(u)

	archived, err := h.service.ArchiveBarrier(h.ctx, u, view.ID, ArchiveRequest{
		Reason:      barrier.ArchiveReasonDuplicate,
		Explanation: "same as B-24-001",
		Date:        "2024-03-01",
	})
	require.NoError(t, err)
	assert.True(t, archived.Archived)
	assert.Equal(t, barrier.StatusArchived, archived.Status)

	_, err = h.service.ArchiveBarrier(h.ctx, u, view.ID, ArchiveRequest{Reason: barrier.ArchiveReasonOther, Date: "2024-03-02"})
	assert.ErrorIs(t, err, barrier.ErrAlreadyArchived)

	restored, err := h.service.UnarchiveBarrier(h.ctx, u, view.ID, UnarchiveRequest{Reason: "not a duplicate", Date: "2024-03-03"})
	require.NoError(t, err)
	assert.False(t, restored.Archived)
	assert.Equal(t, barrier.StatusOpenPendingAction, restored.Status)

	entries, err := h.service.StatusHistory(h.ctx, u, view.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, barrier.StatusArchived, entries[0].NewStatus)
	assert.Equal(t, barrier.StatusOpenPendingAction, entries[1].NewStatus)
}

func TestTopPriorityResolvesWithFullResolution(t *testing.T) {
	cases := []struct {
		name    string
		approve bool
		event   barrier.Event
		want    barrier.TopPriorityStatus
	}{
		{name: "approved and resolved in full", approve: true, event: barrier.EventResolveFull, want: barrier.TopPriorityResolved},
		{name: "pending stays pending", approve: false, event: barrier.EventResolveFull, want: barrier.TopPriorityApprovalPending},
		{name: "partial resolution keeps approval", approve: true, event: barrier.EventResolvePart, want: barrier.TopPriorityApproved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			owner := h.user("ada", rbac.RoleEditor)
			approver := h.user("pat", rbac.RoleApprover)
			view := h.submitted(owner)

			_, err := h.service.RequestTopPriority(h.ctx, owner, view.ID, TopPriorityBody{Summary: "ministerial interest"})
			require.NoError(t, err)
			if tc.approve {
				decided, err := h.service.DecideTopPriority(h.ctx, approver, view.ID, DecisionBody{Approve: true})
				require.NoError(t, err)
				require.Equal(t, barrier.TopPriorityApproved, decided.TopPriorityStatus)
			}

			after, err := h.service.Transition(h.ctx, owner, view.ID, tc.event, TransitionRequest{
				StatusDate:    "2024-05-01",
				StatusSummary: "resolved",
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, after.TopPriorityStatus)
		})
	}
}

func TestTopPriorityDecisionEmailsOwners(t *testing.T) {
	h := newHarness(t)
	owner := h.user("ada", rbac.RoleEditor)
	approver := h.user("pat", rbac.RoleApprover)
	view := h.submitted(owner)

	_, err := h.service.RequestTopPriority(h.ctx, owner, view.ID, TopPriorityBody{Summary: "ministerial interest"})
	require.NoError(t, err)

	_, err = h.service.DecideTopPriority(h.ctx, owner, view.ID, DecisionBody{Approve: true})
	require.Error(t, err, "editors cannot decide")

	_, err = h.service.DecideTopPriority(h.ctx, approver, view.ID, DecisionBody{Approve: false})
	assert.Error(t, err, "rejection needs a reason")

	_, err = h.service.DecideTopPriority(h.ctx, approver, view.ID, DecisionBody{Approve: false, Reason: "not this quarter"})
	require.NoError(t, err)
	h.notifier.Wait()

	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "top_priority", sent[0].Kind)
	assert.Equal(t, []string{owner.Email}, sent[0].To)
}

func TestEstimatedResolutionDateRequestNeedsApprovalOnTopPriority(t *testing.T) {
	h := newHarness(t)
	owner := h.user("ada", rbac.RoleEditor)
	approver := h.user("pat", rbac.RoleApprover)
	view := h.submitted(owner)

	direct, result, err := h.service.SetEstimatedResolutionDate(h.ctx, owner, view.ID, ERDRequestBody{Date: "2025-01-01"})
	require.NoError(t, err)
	assert.Equal(t, barrier.ERDUpdated, result)
	require.NotNil(t, direct.EstimatedResolutionDate)

	_, result, err = h.service.SetEstimatedResolutionDate(h.ctx, owner, view.ID, ERDRequestBody{Date: "2025-01-01"})
	require.NoError(t, err)
	assert.Equal(t, barrier.ERDUnchanged, result)
	field, err := h.service.FieldHistory(h.ctx, owner, view.ID, "estimated_resolution_date")
	require.NoError(t, err)
	assert.Len(t, field, 1)

	_, err = h.service.RequestTopPriority(h.ctx, owner, view.ID, TopPriorityBody{Summary: "urgent"})
	require.NoError(t, err)
	_, err = h.service.DecideTopPriority(h.ctx, approver, view.ID, DecisionBody{Approve: true})
	require.NoError(t, err)

	pending, result, err := h.service.SetEstimatedResolutionDate(h.ctx, owner, view.ID, ERDRequestBody{Date: "2026-06-30", Reason: "slipped"})
	require.NoError(t, err)
	assert.Equal(t, barrier.ERDRequested, result)
	require.NotNil(t, pending.ERDRequest)
	assert.Equal(t, barrier.Date("2025-01-01"), *pending.EstimatedResolutionDate)

	approved, err := h.service.DecideEstimatedResolutionDate(h.ctx, approver, view.ID, DecisionBody{Approve: true})
	require.NoError(t, err)
	assert.Equal(t, barrier.Date("2026-06-30"), *approved.EstimatedResolutionDate)
}

func TestSavedSearchDeltasIgnoreOwnerChanges(t *testing.T) {
	h := newHarness(t)
	u1 := h.user("ada", rbac.RoleEditor)
	u2 := h.user("bob", rbac.RoleEditor)
	medium := func(p *barrier.Patch) { p.Priority = barrier.Some(barrier.PriorityMedium) }
	low := func(p *barrier.Patch) { p.Priority = barrier.Some(barrier.PriorityLow) }

	d := h.submitted(u1, low)

	ss, err := h.service.CreateSavedSearch(h.ctx, u1, savedsearch.Input{
		Name:    ptr("Medium priority"),
		Filters: &map[string][]string{"priority": {"MEDIUM"}},
	})
	require.NoError(t, err)
	_, err = h.service.MarkSavedSearchSeen(h.ctx, u1, ss.ID)
	require.NoError(t, err)

	h.submitted(u1, medium)
	view, err := h.service.GetSavedSearch(h.ctx, u1, ss.ID)
	require.NoError(t, err)
	assert.Empty(t, view.NewSinceSeen, "barriers reported by the owner are not new")

	c := h.submitted(u2, medium)
	view, err = h.service.GetSavedSearch(h.ctx, u1, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{c.ID}, view.NewSinceSeen)

	_, err = h.service.AddMember(h.ctx, u2, d.ID, AddMemberRequest{UserID: u2.ID})
	require.NoError(t, err)
	_, err = h.service.PatchBarrier(h.ctx, u2, d.ID, barrier.Patch{Priority: barrier.Some(barrier.PriorityMedium)})
	require.NoError(t, err)

	view, err = h.service.GetSavedSearch(h.ctx, u1, ss.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{c.ID, d.ID}, view.NewSinceSeen)
	assert.Equal(t, 3, view.BarrierCount)

	seen, err := h.service.MarkSavedSearchSeen(h.ctx, u1, ss.ID)
	require.NoError(t, err)
	assert.Empty(t, seen.NewSinceSeen)
	assert.Empty(t, seen.UpdatedSinceSeen)
	assert.Len(t, seen.NewSinceNotified, 2, "marking seen leaves the notified cursor alone")

	_, err = h.service.GetSavedSearch(h.ctx, u2, ss.ID)
	assert.Error(t, err, "saved searches are private")
}

func TestNotesDoNotMoveBarrierIntoSavedSearch(t *testing.T) {
	h := newHarness(t)
	u1 := h.user("ada", rbac.RoleEditor)
	u2 := h.user("bob", rbac.RoleEditor)

	x := h.submitted(u2, func(p *barrier.Patch) { p.Priority = barrier.Some(barrier.PriorityLow) })
	ss, err := h.service.CreateSavedSearch(h.ctx, u1, savedsearch.Input{
		Name:    ptr("Medium priority"),
		Filters: &map[string][]string{"priority": {"MEDIUM"}},
	})
	require.NoError(t, err)

	_, err = h.service.AddMember(h.ctx, u1, x.ID, AddMemberRequest{UserID: u1.ID})
	require.NoError(t, err)
	_, err = h.service.PatchBarrier(h.ctx, u1, x.ID, barrier.Patch{Priority: barrier.Some(barrier.PriorityMedium)})
	require.NoError(t, err)
	view, err := h.service.GetSavedSearch(h.ctx, u1, ss.ID)
	require.NoError(t, err)
	require.Empty(t, view.NewSinceSeen)

	_, err = h.service.CreateNote(h.ctx, u2, x.ID, notes.KindBarrier, notes.Input{Text: ptr("Raised with the embassy.")})
	require.NoError(t, err)
	note, err := h.service.CreateNote(h.ctx, u2, x.ID, notes.KindBarrier, notes.Input{Text: ptr("Follow-up booked.")})
	require.NoError(t, err)
	require.NoError(t, h.service.ArchiveNote(h.ctx, u2, note.ID))
	h.notifier.Wait()

	view, err = h.service.GetSavedSearch(h.ctx, u1, ss.ID)
	require.NoError(t, err)
	assert.Empty(t, view.NewSinceSeen, "the owner moved the barrier into scope")
	assert.Empty(t, view.NewSinceNotified)
}

func TestSweepSavedSearchesEmailsOwners(t *testing.T) {
	h := newHarness(t)
	u1 := h.user("ada", rbac.RoleEditor)
	u2 := h.user("bob", rbac.RoleEditor)

	_, err := h.service.CreateSavedSearch(h.ctx, u1, savedsearch.Input{
		Name:    ptr("France"),
		Filters: &map[string][]string{"location": {referencetest.France.String()}},
	})
	require.NoError(t, err)

	n, err := h.service.SweepSavedSearches(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.submitted(u2)
	n, err = h.service.SweepSavedSearches(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	h.notifier.Wait()

	n, err = h.service.SweepSavedSearches(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "the notified cursor moved")
}

func TestLocationFilterWithTradingBloc(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)

	b1 := h.submitted(u, func(p *barrier.Patch) {
		p.Country = barrier.Field[uuid.UUID]{}
		p.TradingBloc = barrier.Some(referencetest.EU)
	})
	b2 := h.submitted(u, func(p *barrier.Patch) { p.CausedByTradingBloc = barrier.Some(true) })
	b3 := h.submitted(u, func(p *barrier.Patch) { p.CausedByTradingBloc = barrier.Some(false) })
	h.submitted(u, func(p *barrier.Patch) { p.Country = barrier.Some(referencetest.Brazil) })

	ids := func(values url.Values) []uuid.UUID {
		t.Helper()
		list, err := h.service.ListBarriers(h.ctx, u, values)
		require.NoError(t, err)
		out := []uuid.UUID{}
		for _, r := range list.Results {
			out = append(out, r.ID)
		}
		return out
	}

	assert.ElementsMatch(t, []uuid.UUID{b1.ID}, ids(url.Values{"location": {referencetest.EU}}))
	assert.ElementsMatch(t, []uuid.UUID{b1.ID, b2.ID, b3.ID},
		ids(url.Values{"location": {referencetest.France.String() + "," + referencetest.EU}}))
	assert.ElementsMatch(t, []uuid.UUID{b1.ID, b2.ID},
		ids(url.Values{"location": {referencetest.EU}, "country_trading_bloc": {referencetest.EU}}))
}

func TestCountryAndTradingBlocAreExclusive(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)

	_, err := h.service.CreateReport(h.ctx, u, barrier.Patch{
		Country:     barrier.Some(referencetest.France),
		TradingBloc: barrier.Some(referencetest.EU),
	})
	var fieldErrs barrier.FieldErrors
	assert.ErrorAs(t, err, &fieldErrs)
}

func TestChildEditsCascadeModifiedBy(t *testing.T) {
	h := newHarness(t)
	u1 := h.user("ada", rbac.RoleEditor)
	u2 := h.user("bob", rbac.RoleEditor)
	view := h.submitted(u1)

	_, err := h.service.CreateNote(h.ctx, u2, view.ID, notes.KindBarrier, notes.Input{Text: ptr("Spoke to the embassy.")})
	require.NoError(t, err)
	b, err := h.service.GetBarrier(h.ctx, u1, view.ID)
	require.NoError(t, err)
	assert.Equal(t, u2.ID, b.ModifiedBy)
	noted := b.ModifiedOn

	_, err = h.service.UpdateWTOProfile(h.ctx, u2, view.ID, barrier.WTOPatch{CaseNumber: barrier.Some("DS123")})
	assert.Error(t, err, "non-members cannot edit owned children")

	_, err = h.service.AddMember(h.ctx, u2, view.ID, AddMemberRequest{UserID: u2.ID})
	require.NoError(t, err)
	b, err = h.service.UpdateWTOProfile(h.ctx, u2, view.ID, barrier.WTOPatch{CaseNumber: barrier.Some("DS123")})
	require.NoError(t, err)
	assert.Equal(t, u2.ID, b.ModifiedBy)
	assert.True(t, b.ModifiedOn.After(noted))
	require.NotNil(t, b.WTOProfile)
	assert.Equal(t, "DS123", b.WTOProfile.CaseNumber)
}

func TestMembersCannotRemoveDefaultMembers(t *testing.T) {
	h := newHarness(t)
	owner := h.user("ada", rbac.RoleEditor)
	other := h.user("bob", rbac.RoleEditor)
	view := h.submitted(owner)

	members, err := h.service.ListMembers(h.ctx, owner, view.ID)
	require.NoError(t, err)
	for _, m := range members {
		err := h.service.RemoveMember(h.ctx, owner, m.ID)
		assert.ErrorIs(t, err, team.ErrDefaultMember)
	}

	_, err = h.service.AddMember(h.ctx, other, view.ID, AddMemberRequest{UserID: other.ID, Role: team.RoleOwner})
	assert.Error(t, err, "self-service joins are contributor only")

	added, err := h.service.AddMember(h.ctx, owner, view.ID, AddMemberRequest{UserID: other.ID, Role: team.RoleOwner})
	require.NoError(t, err)
	require.NotNil(t, added.User)
	assert.Equal(t, other.Email, added.User.Email)

	changed, err := h.service.ChangeMemberRole(h.ctx, owner, added.ID, team.RoleContributor)
	require.NoError(t, err)
	assert.Equal(t, team.RoleContributor, changed.Role)

	require.NoError(t, h.service.RemoveMember(h.ctx, owner, added.ID))
	_, err = h.service.GetMember(h.ctx, owner, added.ID)
	assert.Error(t, err)
}

func TestMentionsCreateInboxItemsOnce(t *testing.T) {
	h := newHarness(t)
	author := h.user("ada", rbac.RoleEditor)
	reader := h.user("bob", rbac.RoleViewer)
	view := h.submitted(author)

	text := "Could @" + reader.Email + " take a look?"
	note, err := h.service.CreateNote(h.ctx, author, view.ID, notes.KindBarrier, notes.Input{Text: &text})
	require.NoError(t, err)

	edited := text + " Thanks."
	_, err = h.service.EditNote(h.ctx, author, note.ID, notes.Input{Text: &edited})
	require.NoError(t, err)
	h.notifier.Wait()

	inbox, err := h.service.ListMentions(h.ctx, reader)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Len(t, h.mailer.Sent(), 1)

	counts, err := h.service.MentionCounts(h.ctx, reader)
	require.NoError(t, err)
	assert.Equal(t, notes.Counts{ReadByRecipient: 1, Total: 1}, counts)

	_, err = h.service.MarkMention(h.ctx, author, inbox[0].ID, true)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr, "only the recipient can mark a mention")
	assert.Equal(t, CodeNotFound, domainErr.Code)

	read, err := h.service.MarkMention(h.ctx, reader, inbox[0].ID, true)
	require.NoError(t, err)
	assert.True(t, read.ReadByRecipient)
	counts, err = h.service.MentionCounts(h.ctx, reader)
	require.NoError(t, err)
	assert.Equal(t, notes.Counts{ReadByRecipient: 0, Total: 1}, counts)
}

func TestOnlyAuthorsEditNotes(t *testing.T) {
	h := newHarness(t)
	author := h.user("ada", rbac.RoleEditor)
	other := h.user("bob", rbac.RoleEditor)
	view := h.submitted(author)

	note, err := h.service.CreateNote(h.ctx, author, view.ID, notes.KindBarrier, notes.Input{Text: ptr("first")})
	require.NoError(t, err)

	_, err = h.service.EditNote(h.ctx, other, note.ID, notes.Input{Text: ptr("hijacked")})
	assert.ErrorIs(t, err, notes.ErrNotAuthor)

	require.NoError(t, h.service.ArchiveNote(h.ctx, author, note.ID))
	listed, err := h.service.ListNotes(h.ctx, author, view.ID, notes.KindBarrier)
	require.NoError(t, err)
	assert.Empty(t, listed)
	assert.ErrorIs(t, h.service.ArchiveNote(h.ctx, author, note.ID), notes.ErrNoteArchived)
}

func TestDocumentsAttachAndPurge(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)
	view := h.submitted(u)

	upload, err := h.service.CreateDocument(h.ctx, u, DocumentRequest{Name: "licence.pdf", Size: 1024, MimeType: "application/pdf"})
	require.NoError(t, err)
	assert.NotEmpty(t, upload.UploadURL)

	_, err = h.service.CreateNote(h.ctx, u, view.ID, notes.KindBarrier, notes.Input{
		Text:      ptr("licence attached"),
		Documents: &[]uuid.UUID{uuid.New()},
	})
	assert.ErrorIs(t, err, notes.ErrUnknownDocRef)

	note, err := h.service.CreateNote(h.ctx, u, view.ID, notes.KindBarrier, notes.Input{
		Text:      ptr("licence attached"),
		Documents: &[]uuid.UUID{upload.ID},
	})
	require.NoError(t, err)

	n, err := h.service.PurgeDocuments(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "attached documents are kept")

	require.NoError(t, h.service.ArchiveNote(h.ctx, u, note.ID))
	n, err = h.service.PurgeDocuments(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, h.docs.Removed(upload.ObjectKey))

	_, err = h.service.DownloadDocument(h.ctx, u, upload.ID)
	assert.Error(t, err)
}

func TestPublicTwinLifecycle(t *testing.T) {
	h := newHarness(t)
	owner := h.user("ada", rbac.RoleEditor)
	approver := h.user("pat", rbac.RoleApprover)
	view := h.submitted(owner)

	twin, err := h.service.GetPublicBarrier(h.ctx, owner, view.ID)
	require.NoError(t, err)
	assert.Equal(t, barrier.PublicUnknown, twin.Status)

	_, err = h.service.PatchPublicBarrier(h.ctx, owner, view.ID, barrier.PublicPatch{
		Title:   barrier.Some("Licensing requirement for widgets"),
		Summary: barrier.Some("Exporters of widgets need an import licence."),
	})
	require.NoError(t, err)
	_, err = h.service.MarkPublicBarrierReady(h.ctx, owner, view.ID)
	require.NoError(t, err)

	_, err = h.service.PublishPublicBarrier(h.ctx, owner, view.ID)
	assert.Error(t, err, "publishing needs an approver")

	published, err := h.service.PublishPublicBarrier(h.ctx, approver, view.ID)
	require.NoError(t, err)
	assert.Equal(t, barrier.PublicPublished, published.Status)

	b, err := h.service.GetBarrier(h.ctx, owner, view.ID)
	require.NoError(t, err)
	require.NotNil(t, b.PublicBarrierID)
	assert.Equal(t, published.ID, *b.PublicBarrierID)

	log, err := h.service.History(h.ctx, owner, view.ID, nil)
	require.NoError(t, err)
	var public int
	for _, e := range log {
		if e.Model == barrier.ModelPublicBarrier {
			public++
		}
	}
	assert.NotZero(t, public)
}

func TestDeleteHistoryEntryIsAdminOnlyAndRecorded(t *testing.T) {
	h := newHarness(t)
	owner := h.user("ada", rbac.RoleEditor)
	admin := h.user("root", rbac.RoleAdmin)
	view := h.submitted(owner)

	_, err := h.service.PatchBarrier(h.ctx, owner, view.ID, barrier.Patch{Title: barrier.Some("Renamed")})
	require.NoError(t, err)
	titles, err := h.service.FieldHistory(h.ctx, owner, view.ID, "title")
	require.NoError(t, err)
	require.NotEmpty(t, titles)
	target := titles[len(titles)-1]

	err = h.service.DeleteHistoryEntry(h.ctx, owner, view.ID, target.ID)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, CodeForbidden, domainErr.Code)

	require.NoError(t, h.service.DeleteHistoryEntry(h.ctx, admin, view.ID, target.ID))
	after, err := h.service.FieldHistory(h.ctx, owner, view.ID, "title")
	require.NoError(t, err)
	assert.Len(t, after, len(titles)-1)

	deleted, err := h.service.FieldHistory(h.ctx, owner, view.ID, "deleted")
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, admin.ID, deleted[0].Actor)
}

func TestHistorySince(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)
	view := h.submitted(u)

	all, err := h.service.History(h.ctx, u, view.ID, nil)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	cutoff := all[len(all)-1].RecordedAt

	_, err = h.service.PatchBarrier(h.ctx, u, view.ID, barrier.Patch{Product: barrier.Some("Gadget")})
	require.NoError(t, err)

	recent, err := h.service.History(h.ctx, u, view.ID, &cutoff)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "product", recent[0].Field)
}

func TestMutationRetriesOnceOnLostLock(t *testing.T) {
	flaky := &flakyStore{Store: store.NewMemoryStore()}
	h := newHarnessWithStore(t, flaky)
	u := h.user("ada", rbac.RoleEditor)
	view := h.submitted(u)

	flaky.failNext(1)
	updated, err := h.service.PatchBarrier(h.ctx, u, view.ID, barrier.Patch{Title: barrier.Some("Second attempt")})
	require.NoError(t, err)
	assert.Equal(t, "Second attempt", updated.Title)
	assert.Equal(t, 2, flaky.calls)

	flaky.failNext(2)
	_, err = h.service.PatchBarrier(h.ctx, u, view.ID, barrier.Patch{Title: barrier.Some("Never")})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, float64(3), h.counter("barriers_edit_conflicts_total"))

	b, err := h.store.GetBarrier(h.ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "Second attempt", b.Title)
}

func TestMutationPausesBeforeRetry(t *testing.T) {
	flaky := &flakyStore{Store: store.NewMemoryStore()}
	h := newHarnessWithStore(t, flaky)
	u := h.user("ada", rbac.RoleEditor)
	view := h.submitted(u)

	flaky.failNext(1)
	_, err := h.service.PatchBarrier(h.ctx, u, view.ID, barrier.Patch{Title: barrier.Some("Second attempt")})
	require.NoError(t, err)
	require.Len(t, flaky.at, 2)
	assert.GreaterOrEqual(t, flaky.at[1].Sub(flaky.at[0]), 50*time.Millisecond)

	ctx, cancel := context.WithCancel(h.ctx)
	cancel()
	flaky.failNext(1)
	_, err = h.service.PatchBarrier(ctx, u, view.ID, barrier.Patch{Title: barrier.Some("Cancelled")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, flaky.calls)
}

func TestCompletionIsStableAcrossNoopSaves(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)
	view := h.submitted(u)

	again, err := h.service.PatchBarrier(h.ctx, u, view.ID, barrier.Patch{Title: barrier.Some(view.Title)})
	require.NoError(t, err)
	assert.Equal(t, view.CompletionPercent, again.CompletionPercent)
	assert.Equal(t, view.ModifiedOn, again.ModifiedOn, "a save without changes records nothing")
}

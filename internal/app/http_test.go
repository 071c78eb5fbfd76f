package app

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barriers/api/internal/barrier"
	"barriers/api/internal/notes"
	"barriers/api/internal/rbac"
	"barriers/api/internal/reference/referencetest"
)

func TestHealthIsPublic(t *testing.T) {
	h := newHarness(t)

	rr := h.do(nil, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode[map[string]any](t, rr)["ok"])

	rr = h.do(nil, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ready", decode[map[string]any](t, rr)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	handler := NewHTTPServer(h.service, HTTPOptions{Gatherer: h.registry, Metrics: h.metrics}).Handler()

	h.do(nil, http.MethodGet, "/health", nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "barriers_http_request_duration_seconds")

	rr = h.do(nil, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code, "not mounted without a gatherer")
}

func TestRequestsNeedBearerToken(t *testing.T) {
	h := newHarness(t)

	rr := h.do(nil, http.MethodGet, "/barriers", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, CodeUnauthorized, errorCode(t, rr))

	req := httptest.NewRequest(http.MethodGet, "/barriers", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthenticateRegistersUser(t *testing.T) {
	h := newHarness(t)
	u := Actor{ID: h.user("tmp", rbac.RoleEditor).ID, Name: "Ada Lovelace", Email: "ada@trade.test", Role: rbac.RoleEditor}

	rr := h.do(&u, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	me := decode[map[string]any](t, rr)
	assert.Equal(t, "Ada Lovelace", me["name"])

	stored, err := h.store.GetUser(h.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@trade.test", stored.Email)
}

func TestMiddlewareSetsHeaders(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodOptions, "/barriers", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "req-123", rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	rr = h.do(nil, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestReportProgressGate(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)

	rr := h.do(&u, http.MethodPost, "/reports", `{"term":2}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	report := decode[BarrierView](t, rr)
	require.NotEmpty(t, report.Progress)
	assert.Equal(t, "1.1", report.Progress[0].Code)
	assert.Equal(t, barrier.StageInProgress, report.Progress[0].Status)

	path := "/reports/" + report.ID.String()
	rr = h.do(&u, http.MethodPut, path+"/submit", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, CodeSubmissionIncomplete, errorCode(t, rr))

	rr = h.do(&u, http.MethodPatch, path, map[string]any{
		"status":           1,
		"country":          referencetest.France,
		"trade_direction":  1,
		"sectors_affected": false,
		"product":          "Widget",
		"source":           "GOVT",
		"title":            "T",
		"summary":          "S",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	report = decode[BarrierView](t, rr)
	for _, stage := range report.Progress {
		assert.Equal(t, barrier.StageCompleted, stage.Status, stage.Code)
	}

	rr = h.do(&u, http.MethodPut, path+"/submit", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	submitted := decode[BarrierView](t, rr)
	assert.False(t, submitted.Draft)
	assert.Empty(t, submitted.Progress)

	rr = h.do(&u, http.MethodPut, path+"/submit", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, CodeNotFound, errorCode(t, h.do(&u, http.MethodGet, path, nil)),
		"submitted barriers leave the reports collection")
}

func TestStatusHistoryOverHTTP(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)
	view := h.submitted(u)
	path := "/barriers/" + view.ID.String()

	rr := h.do(&u, http.MethodPut, path+"/resolve-in-full", map[string]string{
		"status_date":    "2018-09-10",
		"status_summary": "dummy summary",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = h.do(&u, http.MethodPut, path+"/open-in-progress", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = h.do(&u, http.MethodGet, path+"/status-history", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	payload := decode[struct {
		History []map[string]any `json:"history"`
	}](t, rr)
	require.Len(t, payload.History, 2)
	assert.EqualValues(t, 1, payload.History[0]["old_status"])
	assert.EqualValues(t, 4, payload.History[0]["new_status"])
	assert.Equal(t, "dummy summary", payload.History[0]["status_summary"])
	assert.EqualValues(t, 4, payload.History[1]["old_status"])
	assert.EqualValues(t, 2, payload.History[1]["new_status"])

	rr = h.do(&u, http.MethodPut, path+"/resolve-in-part", map[string]string{"status_summary": "no date"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, CodeBadTransition, errorCode(t, rr))
}

func TestErrorRendering(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)
	viewer := h.user("vic", rbac.RoleViewer)
	view := h.submitted(u)

	cases := []struct {
		name   string
		actor  Actor
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"malformed id", u, http.MethodGet, "/barriers/not-a-uuid", nil, http.StatusNotFound, CodeNotFound},
		{"unknown barrier", u, http.MethodGet, "/barriers/7b1c6e0a-9f59-4c1e-8d8b-5c0f2a0f5b11", nil, http.StatusNotFound, CodeNotFound},
		{"viewer writes", viewer, http.MethodPatch, "/barriers/" + view.ID.String(), `{"title":"x"}`, http.StatusForbidden, CodeForbidden},
		{"unknown country", u, http.MethodPost, "/reports", `{"country":"7b1c6e0a-9f59-4c1e-8d8b-5c0f2a0f5b11"}`, http.StatusBadRequest, CodeUnknownReference},
		{"both locations", u, http.MethodPost, "/reports", `{"country":"` + referencetest.France.String() + `","trading_bloc":"` + referencetest.EU + `"}`, http.StatusBadRequest, CodeInvalidField},
		{"bad json", u, http.MethodPost, "/reports", `{"title":`, http.StatusBadRequest, "INVALID_BODY"},
		{"illegal transition", u, http.MethodPut, "/barriers/" + view.ID.String() + "/open-action_required", nil, http.StatusBadRequest, CodeBadTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			actor := tc.actor
			rr := h.do(&actor, tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			assert.Equal(t, tc.code, errorCode(t, rr))
		})
	}
}

func TestArchiveTwiceOverHTTP(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)
	view := h.submitted(u)
	path := "/barriers/" + view.ID.String()
	body := map[string]string{"archived_reason": "DUPLICATE", "archived_explanation": "dup"}

	rr := h.do(&u, http.MethodPut, path+"/archive", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = h.do(&u, http.MethodPut, path+"/archive", body)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, CodeAlreadyArchived, errorCode(t, rr))

	rr = h.do(&u, http.MethodPut, path+"/unarchive", map[string]string{"unarchived_reason": "not a duplicate"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.False(t, decode[BarrierView](t, rr).Archived)
}

func TestBarrierListAndCounts(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)
	h.submitted(u)
	h.submitted(u, func(p *barrier.Patch) { p.Country = barrier.Some(referencetest.Brazil) })
	_, err := h.service.CreateReport(h.ctx, u, barrier.Patch{})
	require.NoError(t, err)

	rr := h.do(&u, http.MethodGet, "/barriers?location="+referencetest.Brazil.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[BarrierList](t, rr)
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Results, 1)
	assert.NotEmpty(t, list.Results[0].Location)

	rr = h.do(&u, http.MethodGet, "/counts", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	counts := decode[map[string]any](t, rr)
	assert.NotNil(t, counts["barriers"])
}

func TestSavedSearchIsLinkedFromMatchingList(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)

	rr := h.do(&u, http.MethodPost, "/saved-searches", map[string]any{
		"name":    "Medium",
		"filters": map[string][]string{"priority": {"MEDIUM"}},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[SavedSearchView](t, rr)

	rr = h.do(&u, http.MethodGet, "/barriers?priority=MEDIUM", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[BarrierList](t, rr)
	require.NotNil(t, list.SavedSearchID)
	assert.Equal(t, created.ID, *list.SavedSearchID)

	path := "/saved-searches/" + created.ID.String()
	rr = h.do(&u, http.MethodPost, path+"/mark-notified", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(&u, http.MethodPatch, path, map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(&u, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = h.do(&u, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestInteractionsAndMentionsOverHTTP(t *testing.T) {
	h := newHarness(t)
	author := h.user("ada", rbac.RoleEditor)
	reader := h.user("bob", rbac.RoleEditor)
	view := h.submitted(author)

	rr := h.do(&author, http.MethodPost, "/barriers/"+view.ID.String()+"/interactions", map[string]string{
		"text": "Meeting booked, cc @" + reader.Email,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	note := decode[notes.Note](t, rr)
	h.notifier.Wait()

	rr = h.do(&reader, http.MethodGet, "/mentions/counts", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, notes.Counts{ReadByRecipient: 1, Total: 1}, decode[notes.Counts](t, rr))

	rr = h.do(&reader, http.MethodGet, "/mentions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	inbox := decode[[]notes.Mention](t, rr)
	require.Len(t, inbox, 1)

	rr = h.do(&reader, http.MethodPost, "/mentions/"+inbox[0].ID.String()+"/mark-as-read", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[notes.Mention](t, rr).ReadByRecipient)

	rr = h.do(&reader, http.MethodPut, "/interactions/"+note.ID.String(), map[string]string{"text": "edited"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = h.do(&author, http.MethodDelete, "/interactions/"+note.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = h.do(&author, http.MethodGet, "/interactions/"+note.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPublicBarrierOverHTTP(t *testing.T) {
	h := newHarness(t)
	owner := h.user("ada", rbac.RoleEditor)
	approver := h.user("pat", rbac.RoleApprover)
	view := h.submitted(owner)
	path := "/public-barriers/" + view.ID.String()

	rr := h.do(&owner, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(&owner, http.MethodPatch, path, map[string]string{"title": "Public title", "summary": "Public summary"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = h.do(&owner, http.MethodPost, path+"/ready", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = h.do(&owner, http.MethodPost, path+"/publish", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
	rr = h.do(&approver, http.MethodPost, path+"/publish", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, string(barrier.PublicPublished), decode[map[string]any](t, rr)["public_view_status"])

	rr = h.do(&owner, http.MethodPost, path+"/notes", map[string]string{"text": "Checked with comms"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	publicNote := decode[notes.Note](t, rr)
	rr = h.do(&owner, http.MethodPatch, "/public-barrier-notes/"+publicNote.ID.String(), map[string]string{"text": "Checked with press office"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = h.do(&owner, http.MethodGet, path+"/notes", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	listed := decode[[]notes.Note](t, rr)
	require.Len(t, listed, 1)
	assert.Equal(t, "Checked with press office", listed[0].Text)

	rr = h.do(&owner, http.MethodGet, "/barriers/"+view.ID.String()+"/interactions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "press office", "public notes are kept apart")
}

func TestHistoryEndpoints(t *testing.T) {
	h := newHarness(t)
	owner := h.user("ada", rbac.RoleEditor)
	admin := h.user("root", rbac.RoleAdmin)
	view := h.submitted(owner)
	path := "/barriers/" + view.ID.String()

	rr := h.do(&owner, http.MethodPatch, path, map[string]string{"product": "Gadget"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = h.do(&owner, http.MethodGet, path+"/history/product", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	entries := decode[struct {
		History []struct {
			ID    int64  `json:"id"`
			Field string `json:"field"`
		} `json:"history"`
	}](t, rr).History
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, "product", last.Field)

	rr = h.do(&owner, http.MethodGet, path+"/history?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	entryPath := path + "/history/" + strconv.FormatInt(last.ID, 10)
	rr = h.do(&owner, http.MethodDelete, entryPath, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = h.do(&admin, http.MethodDelete, entryPath, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	rr = h.do(&admin, http.MethodDelete, entryPath, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOwnedChildrenOverHTTP(t *testing.T) {
	h := newHarness(t)
	owner := h.user("ada", rbac.RoleEditor)
	view := h.submitted(owner)
	path := "/barriers/" + view.ID.String()

	rr := h.do(&owner, http.MethodPut, path+"/wto-profile", map[string]any{"wto_has_been_notified": true, "case_number": "DS600"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	b := decode[BarrierView](t, rr)
	require.NotNil(t, b.WTOProfile)
	assert.Equal(t, "DS600", b.WTOProfile.CaseNumber)

	rr = h.do(&owner, http.MethodPost, path+"/next-steps", map[string]any{"next_step_action": "Raise at committee", "next_step_owner": "Embassy"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	b = decode[BarrierView](t, rr)
	require.Len(t, b.NextSteps, 1)

	rr = h.do(&owner, http.MethodPatch, path+"/next-steps/"+b.NextSteps[0].ID.String(), map[string]any{"status": "COMPLETED"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = h.do(&owner, http.MethodPatch, path+"/next-steps/7b1c6e0a-9f59-4c1e-8d8b-5c0f2a0f5b11", map[string]any{"status": "COMPLETED"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDocumentEndpoints(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)

	rr := h.do(&u, http.MethodPost, "/documents", map[string]any{"original_filename": "scan.pdf", "size": 2048, "mime_type": "application/pdf"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	upload := decode[DocumentUpload](t, rr)
	assert.True(t, strings.HasPrefix(upload.UploadURL, "memory://upload/"))

	rr = h.do(&u, http.MethodGet, "/documents/"+upload.ID.String()+"/download", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(decode[map[string]string](t, rr)["signed_url"], "memory://download/"))

	rr = h.do(&u, http.MethodPost, "/documents", map[string]any{"original_filename": "huge.bin", "size": maxDocumentSize + 1})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t)
	u := h.user("ada", rbac.RoleEditor)

	rr := h.do(&u, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = h.do(&u, http.MethodDelete, "/barriers", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

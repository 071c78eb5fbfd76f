package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"barriers/api/internal/auth"
	"barriers/api/internal/barrier"
	"barriers/api/internal/documents"
	"barriers/api/internal/email"
	"barriers/api/internal/events"
	"barriers/api/internal/metrics"
	"barriers/api/internal/notify"
	"barriers/api/internal/rbac"
	"barriers/api/internal/reference/referencetest"
	"barriers/api/internal/store"
)

const testSecret = "test-secret"

type sentMail struct {
	Kind string
	To   []string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (f *fakeMailer) IsConfigured() bool { return true }

func (f *fakeMailer) SendMention(to string, _ email.MentionData) error {
	f.record("mention", to)
	return nil
}

func (f *fakeMailer) SendSavedSearchUpdate(to string, _ email.SavedSearchData) error {
	f.record("saved_search", to)
	return nil
}

func (f *fakeMailer) SendTopPriorityDecision(to []string, _ email.TopPriorityData) error {
	f.record("top_priority", to...)
	return nil
}

func (f *fakeMailer) record(kind string, to ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{Kind: kind, To: to})
}

func (f *fakeMailer) Sent() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMail(nil), f.sent...)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    store.Store
	service  *Service
	handler  http.Handler
	events   *events.Memory
	docs     *documents.Memory
	mailer   *fakeMailer
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, store.NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, st store.Store) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		store:  st,
		events: &events.Memory{},
		docs:   &documents.Memory{},
		mailer: &fakeMailer{},
	}
	h.registry = prometheus.NewRegistry()
	h.metrics = metrics.New(h.registry)
	h.notifier = notify.New(h.mailer, nil, h.metrics, "https://barriers.test", notify.WithRetry(1, 0))
	h.service = New(st, referencetest.Resolver(), testSecret,
		WithEvents(h.events),
		WithDocuments(h.docs, time.Minute),
		WithNotifier(h.notifier),
		WithMetrics(h.metrics),
	)
	h.handler = NewHTTPServer(h.service, HTTPOptions{Metrics: h.metrics}).Handler()
	return h
}

// user registers a caller in the user directory.
func (h *harness) user(name string, role rbac.Role) Actor {
	h.t.Helper()
	a := Actor{ID: uuid.New(), Name: name, Email: name + "@trade.test", Role: role}
	now := time.Now().UTC()
	require.NoError(h.t, h.store.UpsertUser(h.ctx, store.User{
		ID:        a.ID,
		Email:     a.Email,
		Name:      a.Name,
		Role:      string(a.Role),
		LastSeen:  now,
		CreatedOn: now,
	}))
	return a
}

func (h *harness) token(a Actor) string {
	h.t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:   a.ID.String(),
		Name:  a.Name,
		Email: a.Email,
		Role:  string(a.Role),
		JTI:   uuid.NewString(),
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(h.t, err)
	return token
}

// do sends an authenticated request. A nil actor sends no token.
func (h *harness) do(a *Actor, method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(h.t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if a != nil {
		req.Header.Set("Authorization", "Bearer "+h.token(*a))
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "body=%s", rr.Body.String())
	return out
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	payload := decode[map[string]any](t, rr)
	code, _ := payload["code"].(string)
	return code
}

// completePatch fills every submission stage for a barrier in France.
func completePatch() barrier.Patch {
	return barrier.Patch{
		Term:            barrier.Some(barrier.TermLongTerm),
		Status:          barrier.Some(barrier.StatusOpenPendingAction),
		Country:         barrier.Some(referencetest.France),
		TradeDirection:  barrier.Some(barrier.TradeDirectionExport),
		SectorsAffected: barrier.Some(false),
		Product:         barrier.Some("Widget"),
		Source:          barrier.Some(barrier.SourceGovt),
		Title:           barrier.Some("Import licence for widgets"),
		Summary:         barrier.Some("Widgets need a licence at the border."),
	}
}

// submitted creates and submits a barrier owned by a. Extra patches are
// applied to the draft before submission.
func (h *harness) submitted(a Actor, extra ...func(*barrier.Patch)) BarrierView {
	h.t.Helper()
	patch := completePatch()
	for _, fn := range extra {
		fn(&patch)
	}
	draft, err := h.service.CreateReport(h.ctx, a, patch)
	require.NoError(h.t, err)
	view, err := h.service.SubmitReport(h.ctx, a, draft.ID)
	require.NoError(h.t, err)
	return view
}

// flakyStore fails the first n transactions with a lost lock.
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures int
	calls    int
	at       []time.Time
}

func (f *flakyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, q store.Queries) error) error {
	f.mu.Lock()
	f.calls++
	f.at = append(f.at, time.Now())
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return store.ErrConflict
	}
	return f.Store.WithinTx(ctx, fn)
}

func (f *flakyStore) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
	f.calls = 0
	f.at = nil
}

// counter sums every series of a counter family.
func (h *harness) counter(name string) float64 {
	h.t.Helper()
	families, err := h.registry.Gather()
	require.NoError(h.t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func ptr[T any](v T) *T { return &v }

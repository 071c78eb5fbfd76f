package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"barriers/api/internal/barrier"
	"barriers/api/internal/metrics"
	"barriers/api/internal/notes"
	"barriers/api/internal/savedsearch"
	"barriers/api/internal/team"
)

// HTTPOptions configures the HTTP server.
type HTTPOptions struct {
	CORSOrigin     string
	RequestTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	// Gatherer backs GET /metrics. The endpoint is not mounted when nil.
	Gatherer prometheus.Gatherer
}

type HTTPServer struct {
	service *Service
	opts    HTTPOptions
	logger  *slog.Logger
}

func NewHTTPServer(service *Service, opts HTTPOptions) *HTTPServer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	return &HTTPServer{service: service, opts: opts, logger: logger}
}

var transitionRoutes = map[string]barrier.Event{
	"resolve-in-full":      barrier.EventResolveFull,
	"resolve-in-part":      barrier.EventResolvePart,
	"hibernate-barrier":    barrier.EventHibernate,
	"open-in-progress":     barrier.EventReopen,
	"open-action_required": barrier.EventOpenPending,
	"unknown-barrier":      barrier.EventMarkUnknown,
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(middleware.Recoverer)
	if s.opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
	}
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/ready", s.handleReady)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireActor)

		r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, actorFrom(r.Context()))
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", s.handleListReports)
			r.Post("/", s.handleCreateReport)
			r.Get("/{id}", s.handleGetReport)
			r.Patch("/{id}", s.handlePatchReport)
			r.Delete("/{id}", s.handleDeleteReport)
			r.Put("/{id}/submit", s.handleSubmitReport)
		})

		r.Get("/counts", s.handleCounts)
		r.Route("/barriers", func(r chi.Router) {
			r.Get("/", s.handleListBarriers)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetBarrier)
				r.Patch("/", s.handlePatchBarrier)
				for path, event := range transitionRoutes {
					r.Put("/"+path, s.handleTransition(event))
				}
				r.Put("/archive", s.handleArchive)
				r.Put("/unarchive", s.handleUnarchive)

				r.Get("/status-history", s.handleStatusHistory)
				r.Get("/history", s.handleHistory)
				r.Get("/history/{key}", s.handleFieldHistory)
				r.Delete("/history/{key}", s.handleDeleteHistoryEntry)

				r.Get("/members", s.handleListMembers)
				r.Post("/members", s.handleAddMember)
				r.Get("/interactions", s.handleListNotes(notes.KindBarrier))
				r.Post("/interactions", s.handleCreateNote(notes.KindBarrier))

				r.Post("/estimated-resolution-date-request", s.handleSetERD)
				r.Patch("/estimated-resolution-date-request", s.handleDecideERD)
				r.Delete("/estimated-resolution-date-request", s.handleCancelERD)

				r.Put("/top-priority/request", s.handleRequestTopPriority)
				r.Put("/top-priority/request-removal", s.handleRequestTopPriorityRemoval)
				r.Put("/top-priority/decision", s.handleDecideTopPriority)

				r.Put("/wto-profile", s.handleWTOProfile)
				r.Put("/action-plan", s.handleActionPlan)
				r.Post("/assessments", s.handleAddAssessment)
				r.Patch("/assessments/{child}", s.handleUpdateAssessment)
				r.Post("/progress-updates", s.handleAddProgressUpdate)
				r.Patch("/progress-updates/{child}", s.handleUpdateProgressUpdate)
				r.Post("/next-steps", s.handleAddNextStep)
				r.Patch("/next-steps/{child}", s.handleUpdateNextStep)
			})
		})

		r.Get("/members/{id}", s.handleGetMember)
		r.Patch("/members/{id}", s.handleChangeMemberRole)
		r.Delete("/members/{id}", s.handleRemoveMember)

		r.Get("/interactions/{id}", s.handleGetNote)
		r.Put("/interactions/{id}", s.handleEditNote)
		r.Patch("/interactions/{id}", s.handleEditNote)
		r.Delete("/interactions/{id}", s.handleArchiveNote)

		r.Route("/public-barriers/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetPublicBarrier)
			r.Patch("/", s.handlePatchPublicBarrier)
			r.Post("/ready", s.handlePublicAction(s.service.MarkPublicBarrierReady))
			r.Post("/unready", s.handlePublicAction(s.service.MarkPublicBarrierUnready))
			r.Post("/publish", s.handlePublicAction(s.service.PublishPublicBarrier))
			r.Post("/unpublish", s.handlePublicAction(s.service.UnpublishPublicBarrier))
			r.Get("/notes", s.handleListNotes(notes.KindPublic))
			r.Post("/notes", s.handleCreateNote(notes.KindPublic))
		})
		r.Patch("/public-barrier-notes/{id}", s.handleEditNote)
		r.Delete("/public-barrier-notes/{id}", s.handleArchiveNote)

		r.Route("/saved-searches", func(r chi.Router) {
			r.Get("/", s.handleListSavedSearches)
			r.Post("/", s.handleCreateSavedSearch)
			r.Get("/{id}", s.handleGetSavedSearch)
			r.Patch("/{id}", s.handlePatchSavedSearch)
			r.Delete("/{id}", s.handleDeleteSavedSearch)
			r.Post("/{id}/mark-seen", s.handleMarkSavedSearch(s.service.MarkSavedSearchSeen))
			r.Post("/{id}/mark-notified", s.handleMarkSavedSearch(s.service.MarkSavedSearchNotified))
		})

		r.Get("/mentions", s.handleListMentions)
		r.Get("/mentions/counts", s.handleMentionCounts)
		r.Post("/mentions/{id}/mark-as-read", s.handleMarkMention(true))
		r.Post("/mentions/{id}/mark-as-unread", s.handleMarkMention(false))

		r.Post("/documents", s.handleCreateDocument)
		r.Get("/documents/{id}/download", s.handleDownloadDocument)
	})
	return r
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type actorKey struct{}

func actorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}

// requireActor authenticates the bearer token and stores the caller in the
// request context.
func (s *HTTPServer) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
			return
		}
		actor, err := s.service.Authenticate(r.Context(), token)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// fail renders err. Unexpected errors are logged with the request id.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"request_id", requestIDFrom(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, payload)
}

// pathID parses a UUID path parameter. Malformed ids are reported as not
// found.
func (s *HTTPServer) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (s *HTTPServer) body(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) handleListReports(w http.ResponseWriter, r *http.Request) {
	out, err := s.service.ListReports(r.Context(), actorFrom(r.Context()))
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var patch barrier.Patch
	if !s.body(w, r, &patch) {
		return
	}
	out, err := s.service.CreateReport(r.Context(), actorFrom(r.Context()), patch)
	s.respond(w, r, http.StatusCreated, out, err)
}

func (s *HTTPServer) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := s.service.GetReport(r.Context(), actorFrom(r.Context()), id)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handlePatchReport(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var patch barrier.Patch
	if !s.body(w, r, &patch) {
		return
	}
	out, err := s.service.PatchReport(r.Context(), actorFrom(r.Context()), id, patch)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	err := s.service.DeleteReport(r.Context(), actorFrom(r.Context()), id)
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *HTTPServer) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := s.service.SubmitReport(r.Context(), actorFrom(r.Context()), id)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleCounts(w http.ResponseWriter, r *http.Request) {
	out, err := s.service.Counts(r.Context(), actorFrom(r.Context()))
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleListBarriers(w http.ResponseWriter, r *http.Request) {
	out, err := s.service.ListBarriers(r.Context(), actorFrom(r.Context()), r.URL.Query())
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleGetBarrier(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := s.service.GetBarrier(r.Context(), actorFrom(r.Context()), id)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handlePatchBarrier(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var patch barrier.Patch
	if !s.body(w, r, &patch) {
		return
	}
	out, err := s.service.PatchBarrier(r.Context(), actorFrom(r.Context()), id, patch)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleTransition(event barrier.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.pathID(w, r, "id")
		if !ok {
			return
		}
		var req TransitionRequest
		if !s.body(w, r, &req) {
			return
		}
		out, err := s.service.Transition(r.Context(), actorFrom(r.Context()), id, event, req)
		s.respond(w, r, http.StatusOK, out, err)
	}
}

func (s *HTTPServer) handleArchive(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req ArchiveRequest
	if !s.body(w, r, &req) {
		return
	}
	out, err := s.service.ArchiveBarrier(r.Context(), actorFrom(r.Context()), id, req)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleUnarchive(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req UnarchiveRequest
	if !s.body(w, r, &req) {
		return
	}
	out, err := s.service.UnarchiveBarrier(r.Context(), actorFrom(r.Context()), id, req)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := s.service.StatusHistory(r.Context(), actorFrom(r.Context()), id)
	s.respond(w, r, http.StatusOK, map[string]any{"history": out}, err)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.fail(w, r, errInvalid("since", "must be an RFC 3339 timestamp"))
			return
		}
		since = &t
	}
	out, err := s.service.History(r.Context(), actorFrom(r.Context()), id, since)
	s.respond(w, r, http.StatusOK, map[string]any{"history": out}, err)
}

func (s *HTTPServer) handleFieldHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := s.service.FieldHistory(r.Context(), actorFrom(r.Context()), id, chi.URLParam(r, "key"))
	s.respond(w, r, http.StatusOK, map[string]any{"history": out}, err)
}

func (s *HTTPServer) handleDeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	entryID, err := strconv.ParseInt(chi.URLParam(r, "key"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}
	err = s.service.DeleteHistoryEntry(r.Context(), actorFrom(r.Context()), id, entryID)
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := s.service.ListMembers(r.Context(), actorFrom(r.Context()), id)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleAddMember(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req AddMemberRequest
	if !s.body(w, r, &req) {
		return
	}
	out, err := s.service.AddMember(r.Context(), actorFrom(r.Context()), id, req)
	s.respond(w, r, http.StatusCreated, out, err)
}

func (s *HTTPServer) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := s.service.GetMember(r.Context(), actorFrom(r.Context()), id)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleChangeMemberRole(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Role team.Role `json:"role"`
	}
	if !s.body(w, r, &req) {
		return
	}
	out, err := s.service.ChangeMemberRole(r.Context(), actorFrom(r.Context()), id, req.Role)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	err := s.service.RemoveMember(r.Context(), actorFrom(r.Context()), id)
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *HTTPServer) handleListNotes(kind notes.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.pathID(w, r, "id")
		if !ok {
			return
		}
		out, err := s.service.ListNotes(r.Context(), actorFrom(r.Context()), id, kind)
		s.respond(w, r, http.StatusOK, out, err)
	}
}

func (s *HTTPServer) handleCreateNote(kind notes.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.pathID(w, r, "id")
		if !ok {
			return
		}
		var in notes.Input
		if !s.body(w, r, &in) {
			return
		}
		out, err := s.service.CreateNote(r.Context(), actorFrom(r.Context()), id, kind, in)
		s.respond(w, r, http.StatusCreated, out, err)
	}
}

func (s *HTTPServer) handleGetNote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := s.service.GetNote(r.Context(), actorFrom(r.Context()), id)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleEditNote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var in notes.Input
	if !s.body(w, r, &in) {
		return
	}
	out, err := s.service.EditNote(r.Context(), actorFrom(r.Context()), id, in)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleArchiveNote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	err := s.service.ArchiveNote(r.Context(), actorFrom(r.Context()), id)
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *HTTPServer) handleSetERD(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req ERDRequestBody
	if !s.body(w, r, &req) {
		return
	}
	out, result, err := s.service.SetEstimatedResolutionDate(r.Context(), actorFrom(r.Context()), id, req)
	status := http.StatusOK
	if result == barrier.ERDRequested {
		status = http.StatusCreated
	}
	s.respond(w, r, status, out, err)
}

func (s *HTTPServer) handleDecideERD(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req DecisionBody
	if !s.body(w, r, &req) {
		return
	}
	out, err := s.service.DecideEstimatedResolutionDate(r.Context(), actorFrom(r.Context()), id, req)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleCancelERD(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := s.service.CancelEstimatedResolutionDate(r.Context(), actorFrom(r.Context()), id)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleRequestTopPriority(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req TopPriorityBody
	if !s.body(w, r, &req) {
		return
	}
	out, err := s.service.RequestTopPriority(r.Context(), actorFrom(r.Context()), id, req)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleRequestTopPriorityRemoval(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req TopPriorityBody
	if !s.body(w, r, &req) {
		return
	}
	out, err := s.service.RequestTopPriorityRemoval(r.Context(), actorFrom(r.Context()), id, req)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleDecideTopPriority(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req DecisionBody
	if !s.body(w, r, &req) {
		return
	}
	out, err := s.service.DecideTopPriority(r.Context(), actorFrom(r.Context()), id, req)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleWTOProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var patch barrier.WTOPatch
	if !s.body(w, r, &patch) {
		return
	}
	out, err := s.service.UpdateWTOProfile(r.Context(), actorFrom(r.Context()), id, patch)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleActionPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var in barrier.ActionPlanInput
	if !s.body(w, r, &in) {
		return
	}
	out, err := s.service.UpdateActionPlan(r.Context(), actorFrom(r.Context()), id, in)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleAddAssessment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var in barrier.AssessmentInput
	if !s.body(w, r, &in) {
		return
	}
	out, err := s.service.AddAssessment(r.Context(), actorFrom(r.Context()), id, in)
	s.respond(w, r, http.StatusCreated, out, err)
}

func (s *HTTPServer) handleUpdateAssessment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	childID, ok := s.pathID(w, r, "child")
	if !ok {
		return
	}
	var in barrier.AssessmentInput
	if !s.body(w, r, &in) {
		return
	}
	out, err := s.service.UpdateAssessment(r.Context(), actorFrom(r.Context()), id, childID, in)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleAddProgressUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var in barrier.ProgressUpdateInput
	if !s.body(w, r, &in) {
		return
	}
	out, err := s.service.AddProgressUpdate(r.Context(), actorFrom(r.Context()), id, in)
	s.respond(w, r, http.StatusCreated, out, err)
}

func (s *HTTPServer) handleUpdateProgressUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	childID, ok := s.pathID(w, r, "child")
	if !ok {
		return
	}
	var in barrier.ProgressUpdateInput
	if !s.body(w, r, &in) {
		return
	}
	out, err := s.service.UpdateProgressUpdate(r.Context(), actorFrom(r.Context()), id, childID, in)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleAddNextStep(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var in barrier.NextStepInput
	if !s.body(w, r, &in) {
		return
	}
	out, err := s.service.AddNextStep(r.Context(), actorFrom(r.Context()), id, in)
	s.respond(w, r, http.StatusCreated, out, err)
}

func (s *HTTPServer) handleUpdateNextStep(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	childID, ok := s.pathID(w, r, "child")
	if !ok {
		return
	}
	var in barrier.NextStepInput
	if !s.body(w, r, &in) {
		return
	}
	out, err := s.service.UpdateNextStep(r.Context(), actorFrom(r.Context()), id, childID, in)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleGetPublicBarrier(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := s.service.GetPublicBarrier(r.Context(), actorFrom(r.Context()), id)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handlePatchPublicBarrier(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var patch barrier.PublicPatch
	if !s.body(w, r, &patch) {
		return
	}
	out, err := s.service.PatchPublicBarrier(r.Context(), actorFrom(r.Context()), id, patch)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handlePublicAction(action func(context.Context, Actor, uuid.UUID) (*barrier.PublicBarrier, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.pathID(w, r, "id")
		if !ok {
			return
		}
		out, err := action(r.Context(), actorFrom(r.Context()), id)
		s.respond(w, r, http.StatusOK, out, err)
	}
}

func (s *HTTPServer) handleListSavedSearches(w http.ResponseWriter, r *http.Request) {
	out, err := s.service.ListSavedSearches(r.Context(), actorFrom(r.Context()))
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleCreateSavedSearch(w http.ResponseWriter, r *http.Request) {
	var in savedsearch.Input
	if !s.body(w, r, &in) {
		return
	}
	out, err := s.service.CreateSavedSearch(r.Context(), actorFrom(r.Context()), in)
	s.respond(w, r, http.StatusCreated, out, err)
}

func (s *HTTPServer) handleGetSavedSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := s.service.GetSavedSearch(r.Context(), actorFrom(r.Context()), id)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handlePatchSavedSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var in savedsearch.Input
	if !s.body(w, r, &in) {
		return
	}
	out, err := s.service.PatchSavedSearch(r.Context(), actorFrom(r.Context()), id, in)
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleDeleteSavedSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	err := s.service.DeleteSavedSearch(r.Context(), actorFrom(r.Context()), id)
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *HTTPServer) handleMarkSavedSearch(mark func(context.Context, Actor, uuid.UUID) (SavedSearchView, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.pathID(w, r, "id")
		if !ok {
			return
		}
		out, err := mark(r.Context(), actorFrom(r.Context()), id)
		s.respond(w, r, http.StatusOK, out, err)
	}
}

func (s *HTTPServer) handleListMentions(w http.ResponseWriter, r *http.Request) {
	out, err := s.service.ListMentions(r.Context(), actorFrom(r.Context()))
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleMentionCounts(w http.ResponseWriter, r *http.Request) {
	out, err := s.service.MentionCounts(r.Context(), actorFrom(r.Context()))
	s.respond(w, r, http.StatusOK, out, err)
}

func (s *HTTPServer) handleMarkMention(read bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.pathID(w, r, "id")
		if !ok {
			return
		}
		out, err := s.service.MarkMention(r.Context(), actorFrom(r.Context()), id, read)
		s.respond(w, r, http.StatusOK, out, err)
	}
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if !s.body(w, r, &req) {
		return
	}
	out, err := s.service.CreateDocument(r.Context(), actorFrom(r.Context()), req)
	s.respond(w, r, http.StatusCreated, out, err)
}

func (s *HTTPServer) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	url, err := s.service.DownloadDocument(r.Context(), actorFrom(r.Context()), id)
	s.respond(w, r, http.StatusOK, map[string]string{"signed_url": url}, err)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.opts.CORSOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		s.opts.Metrics.ObserveRequest(r.Method, route, writer.status, elapsed)
		s.logger.InfoContext(ctx, "request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeBody reads a JSON body. An empty body leaves target untouched.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

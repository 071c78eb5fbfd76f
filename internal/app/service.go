package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"barriers/api/internal/auth"
	"barriers/api/internal/barrier"
	"barriers/api/internal/documents"
	"barriers/api/internal/events"
	"barriers/api/internal/history"
	"barriers/api/internal/metrics"
	"barriers/api/internal/notify"
	"barriers/api/internal/rbac"
	"barriers/api/internal/reference"
	"barriers/api/internal/search"
	"barriers/api/internal/store"
	"barriers/api/internal/team"
)

var tracer = otel.Tracer("barriers.app")

// Actor is the authenticated caller.
type Actor struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  rbac.Role `json:"role"`
}

type Service struct {
	store       store.Store
	resolver    *reference.Resolver
	search      *search.Service
	events      events.Publisher
	notifier    *notify.Notifier
	documents   documents.Storage
	metrics     *metrics.Metrics
	logger      *slog.Logger
	clock       *history.Clock
	tokenSecret []byte
	presignTTL  time.Duration
	retryDelay  time.Duration
}

type Option func(*Service)

func WithSearch(s *search.Service) Option {
	return func(svc *Service) { svc.search = s }
}

func WithEvents(p events.Publisher) Option {
	return func(svc *Service) {
		if p != nil {
			svc.events = p
		}
	}
}

func WithNotifier(n *notify.Notifier) Option {
	return func(svc *Service) { svc.notifier = n }
}

func WithDocuments(d documents.Storage, presignTTL time.Duration) Option {
	return func(svc *Service) {
		if d != nil {
			svc.documents = d
		}
		if presignTTL > 0 {
			svc.presignTTL = presignTTL
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(svc *Service) { svc.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(svc *Service) {
		if logger != nil {
			svc.logger = logger
		}
	}
}

// WithRetryDelay sets the pause before a conflicting mutation is retried.
func WithRetryDelay(d time.Duration) Option {
	return func(svc *Service) {
		if d >= 0 {
			svc.retryDelay = d
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.clock = history.NewClock(now) }
}

func New(st store.Store, resolver *reference.Resolver, tokenSecret string, opts ...Option) *Service {
	svc := &Service{
		store:       st,
		resolver:    resolver,
		events:      &events.Memory{},
		documents:   &documents.Memory{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:       history.NewClock(nil),
		tokenSecret: []byte(tokenSecret),
		presignTTL:  15 * time.Minute,
		retryDelay:  50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(a Actor, action rbac.Action) bool {
	return rbac.Can(a.Role, action)
}

func (s *Service) require(a Actor, action rbac.Action) error {
	if !s.Can(a, action) {
		return errForbidden(fmt.Sprintf("role %s may not %s", a.Role, action))
	}
	return nil
}

// Authenticate verifies a bearer token and refreshes the caller's entry in
// the user directory.
func (s *Service) Authenticate(ctx context.Context, token string) (Actor, error) {
	claims, err := auth.ParseToken(s.tokenSecret, token)
	if err != nil {
		return Actor{}, err
	}
	actor := Actor{
		ID:    claims.UserID(),
		Name:  claims.Name,
		Email: claims.Email,
		Role:  rbac.Normalize(claims.Role),
	}
	now := s.clock.Now()
	if err := s.store.UpsertUser(ctx, store.User{
		ID:        actor.ID,
		Email:     actor.Email,
		Name:      actor.Name,
		Role:      string(actor.Role),
		LastSeen:  now,
		CreatedOn: now,
	}); err != nil {
		return Actor{}, fmt.Errorf("upsert user: %w", err)
	}
	return actor, nil
}

func (s *Service) index(ctx context.Context) (*reference.Index, error) {
	idx, err := s.resolver.Index(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reference catalogue: %w", err)
	}
	return idx, nil
}

// mutation is the state handed to a barrier mutation inside its
// transaction.
type mutation struct {
	service *Service
	ctx     context.Context
	tx      store.Queries
	idx     *reference.Index
	actor   Actor
	barrier *barrier.Barrier
	members []team.Member
	rec     *history.Recorder
	now     time.Time
	hooks   []func()
}

// afterCommit queues fn to run once the transaction has committed.
func (m *mutation) afterCommit(fn func()) {
	m.hooks = append(m.hooks, fn)
}

func (m *mutation) isMember() bool {
	return team.IsMember(m.members, m.actor.ID)
}

// requireEditor allows the creator of a draft, and team members or admins on
// a submitted barrier.
func (m *mutation) requireEditor() error {
	if !rbac.Can(m.actor.Role, rbac.ActionWrite) {
		return errForbidden("read-only users cannot change barriers")
	}
	if m.barrier.Draft {
		if m.barrier.CreatedBy != m.actor.ID {
			return errForbidden("only the creator can edit a report")
		}
		return nil
	}
	if m.actor.Role == rbac.RoleAdmin || m.isMember() {
		return nil
	}
	return errForbidden("only team members can edit this barrier")
}

func (m *mutation) requireApprover() error {
	if !rbac.Can(m.actor.Role, rbac.ActionApprove) {
		return errForbidden("an approver must make this decision")
	}
	return nil
}

func (m *mutation) requireSubmitted() error {
	if m.barrier.Draft {
		return errNotFound("barrier")
	}
	return nil
}

// mutate runs fn against a locked barrier in one transaction, then records
// field history and cascades modified_on and modified_by. A lost lock is
// retried once before surfacing as a conflict.
func (s *Service) mutate(ctx context.Context, actor Actor, id uuid.UUID, op string, fn func(m *mutation) error) (*barrier.Barrier, error) {
	ctx, span := tracer.Start(ctx, "barrier."+op)
	defer span.End()
	span.SetAttributes(attribute.String("barrier.id", id.String()), attribute.String("actor.id", actor.ID.String()))

	idx, err := s.index(ctx)
	if err != nil {
		return nil, err
	}

	var (
		result  *barrier.Barrier
		entries []history.Entry
		hooks   []func()
	)
	attempt := func() error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx store.Queries) error {
			b, err := tx.LockBarrier(ctx, id)
			if err != nil {
				return err
			}
			if b.Draft && b.Archived {
				return errNotFound("report")
			}
			members, err := tx.ListMembers(ctx, id)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			m := &mutation{
				service: s,
				ctx:     ctx,
				tx:      tx,
				idx:     idx,
				actor:   actor,
				barrier: b,
				members: team.Active(members),
				rec:     history.NewRecorder(id, actor.ID, now),
				now:     now,
			}
			before := b.Tracked()
			if err := fn(m); err != nil {
				return err
			}
			b.Recompute()
			if err := m.rec.Diff(before, b.Tracked()); err != nil {
				return fmt.Errorf("diff barrier: %w", err)
			}
			if !m.rec.Empty() {
				b.ModifiedOn = now
				b.ModifiedBy = actor.ID
			}
			if err := tx.UpdateBarrier(ctx, b); err != nil {
				return err
			}
			recorded := m.rec.Entries()
			if len(recorded) > 0 {
				if err := tx.AppendHistory(ctx, recorded); err != nil {
					return err
				}
			}
			result, entries, hooks = b, recorded, m.hooks
			return nil
		})
	}

	err = attempt()
	if errors.Is(err, store.ErrConflict) {
		s.metrics.Conflict()
		s.logger.Info("barrier locked, retrying", "barrier_id", id, "op", op, "delay", s.retryDelay)
		err = s.pause(ctx)
		if err == nil {
			err = attempt()
		}
	}
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.metrics.Conflict()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.committed(ctx, actor, result, entries)
	for _, hook := range hooks {
		hook()
	}
	return result, nil
}

func (s *Service) pause(ctx context.Context) error {
	if s.retryDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// committed propagates a committed change to the search index and the
// change event stream.
func (s *Service) committed(ctx context.Context, actor Actor, b *barrier.Barrier, entries []history.Entry) {
	if len(entries) == 0 {
		return
	}
	s.metrics.HistoryWritten(len(entries))
	if !b.Draft {
		s.search.Index(b)
	}
	s.events.Publish(ctx, events.Event{
		Type:       events.TypeBarrierChanged,
		BarrierID:  b.ID,
		Code:       b.Code,
		Actor:      actor.ID,
		Fields:     changedFields(entries),
		OccurredAt: entries[0].RecordedAt,
	})
}

func changedFields(entries []history.Entry) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range entries {
		name := e.Field
		if e.Model != barrier.ModelBarrier && e.Model != history.ModelStatus {
			name = e.Model + "." + e.Field
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// loadBarrier reads a barrier for display. Drafts are visible to their
// creator and to admins only.
func (s *Service) loadBarrier(ctx context.Context, actor Actor, id uuid.UUID) (*barrier.Barrier, error) {
	b, err := s.store.GetBarrier(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Draft && b.CreatedBy != actor.ID && actor.Role != rbac.RoleAdmin {
		return nil, errNotFound("report")
	}
	return b, nil
}

// userEmails looks up the addresses of users, skipping unknown ids.
func userEmails(ctx context.Context, q store.Queries, ids []uuid.UUID) ([]string, error) {
	var out []string
	for _, id := range ids {
		u, err := q.GetUser(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, u.Email)
	}
	return out, nil
}

package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"barriers/api/internal/barrier"
	"barriers/api/internal/history"
	"barriers/api/internal/notes"
	"barriers/api/internal/rbac"
	"barriers/api/internal/reference"
	"barriers/api/internal/store"
	"barriers/api/internal/team"
)

// BarrierView is a barrier as rendered to clients. Reports additionally
// carry their progress stages.
type BarrierView struct {
	*barrier.Barrier
	Location string          `json:"location"`
	Progress []barrier.Stage `json:"progress,omitempty"`
}

func viewOf(idx *reference.Index, b *barrier.Barrier) BarrierView {
	v := BarrierView{Barrier: b, Location: idx.LocationName(b.Country, b.TradingBloc)}
	if b.Draft {
		v.Progress = b.Progress()
	}
	return v
}

func (s *Service) view(ctx context.Context, b *barrier.Barrier) (BarrierView, error) {
	idx, err := s.index(ctx)
	if err != nil {
		return BarrierView{}, err
	}
	return viewOf(idx, b), nil
}

// CreateReport starts a draft with a freshly assigned code.
func (s *Service) CreateReport(ctx context.Context, actor Actor, patch barrier.Patch) (BarrierView, error) {
	if err := s.require(actor, rbac.ActionWrite); err != nil {
		return BarrierView{}, err
	}
	ctx, span := tracer.Start(ctx, "barrier.create_report")
	defer span.End()

	idx, err := s.index(ctx)
	if err != nil {
		return BarrierView{}, err
	}
	var (
		b       *barrier.Barrier
		entries []history.Entry
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Queries) error {
		now := s.clock.Now()
		seq, err := tx.NextCodeSequence(ctx, now.Year())
		if err != nil {
			return err
		}
		b = barrier.NewDraft(actor.ID, barrier.FormatCode(now.Year(), seq), now)
		if err := b.Apply(idx, patch); err != nil {
			return err
		}
		b.Recompute()
		if err := tx.InsertBarrier(ctx, b); err != nil {
			return err
		}
		rec := history.NewRecorder(b.ID, actor.ID, now)
		if err := rec.Diff(nil, b.Tracked()); err != nil {
			return fmt.Errorf("diff report: %w", err)
		}
		entries = rec.Entries()
		return tx.AppendHistory(ctx, entries)
	})
	if err != nil {
		span.RecordError(err)
		return BarrierView{}, err
	}
	s.metrics.ReportCreated()
	s.committed(ctx, actor, b, entries)
	return viewOf(idx, b), nil
}

func (s *Service) GetReport(ctx context.Context, actor Actor, id uuid.UUID) (BarrierView, error) {
	b, err := s.loadBarrier(ctx, actor, id)
	if err != nil {
		return BarrierView{}, err
	}
	if !b.Draft || b.Archived {
		return BarrierView{}, errNotFound("report")
	}
	return s.view(ctx, b)
}

// ListReports returns the caller's unsubmitted drafts, newest first.
func (s *Service) ListReports(ctx context.Context, actor Actor) ([]BarrierView, error) {
	all, err := s.store.ListBarriers(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := s.index(ctx)
	if err != nil {
		return nil, err
	}
	out := []BarrierView{}
	for _, b := range all {
		if b.Draft && !b.Archived && b.CreatedBy == actor.ID {
			out = append(out, viewOf(idx, b))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Service) PatchReport(ctx context.Context, actor Actor, id uuid.UUID, patch barrier.Patch) (BarrierView, error) {
	b, err := s.mutate(ctx, actor, id, "patch_report", func(m *mutation) error {
		if !m.barrier.Draft {
			return errNotFound("report")
		}
		if err := m.requireEditor(); err != nil {
			return err
		}
		return m.barrier.Apply(m.idx, patch)
	})
	if err != nil {
		return BarrierView{}, err
	}
	return s.view(ctx, b)
}

// SubmitReport turns a complete draft into a barrier, adds the default team
// and turns the drafted next steps into a systemic note.
func (s *Service) SubmitReport(ctx context.Context, actor Actor, id uuid.UUID) (BarrierView, error) {
	b, err := s.mutate(ctx, actor, id, "submit_report", func(m *mutation) error {
		b := m.barrier
		if b.Draft {
			if err := m.requireEditor(); err != nil {
				return err
			}
		}
		if err := b.Submit(m.now); err != nil {
			return err
		}
		for _, member := range team.DefaultMembers(b.ID, m.actor.ID, b.CreatedBy, m.now) {
			if err := m.tx.SaveMember(m.ctx, member); err != nil {
				return err
			}
			if err := m.rec.Object(history.ModelTeamMember, member.ID.String(), nil, member.Fields()); err != nil {
				return err
			}
		}
		if note, ok := notes.Systemic(b.ID, m.actor.ID, b.NextStepsSummary, m.now); ok {
			if err := m.tx.SaveNote(m.ctx, note); err != nil {
				return err
			}
			if err := m.rec.Object(history.ModelNote, note.ID.String(), nil, note.Fields()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return BarrierView{}, err
	}
	s.metrics.BarrierSubmitted()
	s.search.Index(b)
	return s.view(ctx, b)
}

// DeleteReport archives a draft. Only its creator may do so.
func (s *Service) DeleteReport(ctx context.Context, actor Actor, id uuid.UUID) error {
	_, err := s.mutate(ctx, actor, id, "delete_report", func(m *mutation) error {
		if !m.barrier.Draft {
			return errNotFound("report")
		}
		if m.barrier.CreatedBy != m.actor.ID {
			return errForbidden("only the creator can delete a report")
		}
		_, err := m.barrier.Archive(m.actor.ID, barrier.ArchiveInput{}, m.now)
		return err
	})
	return err
}

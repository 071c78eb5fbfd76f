package app

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"barriers/api/internal/barrier"
	"barriers/api/internal/store"
)

// GetPublicBarrier returns the public twin. A barrier that has never been
// through a publication action gets an unsaved twin in UNKNOWN.
func (s *Service) GetPublicBarrier(ctx context.Context, actor Actor, barrierID uuid.UUID) (*barrier.PublicBarrier, error) {
	b, err := s.loadBarrier(ctx, actor, barrierID)
	if err != nil {
		return nil, err
	}
	if b.Draft {
		return nil, errNotFound("barrier")
	}
	p, err := s.store.GetPublicBarrier(ctx, barrierID)
	if errors.Is(err, store.ErrNotFound) {
		return barrier.NewPublicBarrier(b), nil
	}
	return p, err
}

func (s *Service) PatchPublicBarrier(ctx context.Context, actor Actor, barrierID uuid.UUID, patch barrier.PublicPatch) (*barrier.PublicBarrier, error) {
	return s.mutatePublic(ctx, actor, barrierID, "patch_public_barrier", false, func(m *mutation, p *barrier.PublicBarrier) error {
		return p.Apply(patch)
	})
}

func (s *Service) MarkPublicBarrierReady(ctx context.Context, actor Actor, barrierID uuid.UUID) (*barrier.PublicBarrier, error) {
	return s.mutatePublic(ctx, actor, barrierID, "public_ready", false, func(m *mutation, p *barrier.PublicBarrier) error {
		return p.MarkReady(m.barrier)
	})
}

func (s *Service) MarkPublicBarrierUnready(ctx context.Context, actor Actor, barrierID uuid.UUID) (*barrier.PublicBarrier, error) {
	return s.mutatePublic(ctx, actor, barrierID, "public_unready", false, func(m *mutation, p *barrier.PublicBarrier) error {
		return p.MarkUnready()
	})
}

func (s *Service) PublishPublicBarrier(ctx context.Context, actor Actor, barrierID uuid.UUID) (*barrier.PublicBarrier, error) {
	return s.mutatePublic(ctx, actor, barrierID, "publish", true, func(m *mutation, p *barrier.PublicBarrier) error {
		return p.Publish(m.barrier, m.now)
	})
}

func (s *Service) UnpublishPublicBarrier(ctx context.Context, actor Actor, barrierID uuid.UUID) (*barrier.PublicBarrier, error) {
	return s.mutatePublic(ctx, actor, barrierID, "unpublish", true, func(m *mutation, p *barrier.PublicBarrier) error {
		return p.Unpublish(m.now)
	})
}

// mutatePublic edits the twin inside the barrier's transaction, creating it
// on first use. Publishing and unpublishing need an approver; the other
// actions are open to the barrier's editors.
func (s *Service) mutatePublic(ctx context.Context, actor Actor, barrierID uuid.UUID, op string, approval bool, fn func(m *mutation, p *barrier.PublicBarrier) error) (*barrier.PublicBarrier, error) {
	var out *barrier.PublicBarrier
	_, err := s.mutate(ctx, actor, barrierID, op, func(m *mutation) error {
		if err := m.requireSubmitted(); err != nil {
			return err
		}
		if approval {
			if err := m.requireApprover(); err != nil {
				return err
			}
		} else if err := m.requireEditor(); err != nil {
			return err
		}

		p, err := m.tx.GetPublicBarrier(m.ctx, barrierID)
		created := false
		switch {
		case errors.Is(err, store.ErrNotFound):
			p, created = barrier.NewPublicBarrier(m.barrier), true
		case err != nil:
			return err
		}
		before := p.Tracked()
		if err := fn(m, p); err != nil {
			return err
		}
		p.ModifiedOn = m.now
		p.ModifiedBy = m.actor.ID
		if created {
			if err := m.tx.InsertPublicBarrier(m.ctx, p); err != nil {
				return err
			}
			id := p.ID
			m.barrier.PublicBarrierID = &id
		} else if err := m.tx.UpdatePublicBarrier(m.ctx, p); err != nil {
			return err
		}
		after := p.Tracked()
		if err := m.rec.Object(after.Model, after.ObjectID, before.Fields, after.Fields); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

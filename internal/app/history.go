package app

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"barriers/api/internal/history"
	"barriers/api/internal/rbac"
)

func (s *Service) entries(ctx context.Context, actor Actor, id uuid.UUID) ([]history.Entry, error) {
	if _, err := s.loadBarrier(ctx, actor, id); err != nil {
		return nil, err
	}
	entries, err := s.store.ListHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	history.Sort(entries)
	return entries, nil
}

// History returns a barrier's full change log, optionally limited to
// entries recorded after since.
func (s *Service) History(ctx context.Context, actor Actor, id uuid.UUID, since *time.Time) ([]history.Entry, error) {
	entries, err := s.entries(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if since != nil {
		entries = history.Since(entries, *since)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}

func (s *Service) FieldHistory(ctx context.Context, actor Actor, id uuid.UUID, field string) ([]history.Entry, error) {
	entries, err := s.entries(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	out := history.FieldHistory(entries, field)
	if out == nil {
		out = []history.Entry{}
	}
	return out, nil
}

func (s *Service) StatusHistory(ctx context.Context, actor Actor, id uuid.UUID) ([]history.StatusHistoryEntry, error) {
	entries, err := s.entries(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return history.StatusHistory(entries)
}

// DeleteHistoryEntry removes one entry from a barrier's log. Only admins may
// do so and the removal is itself recorded.
func (s *Service) DeleteHistoryEntry(ctx context.Context, actor Actor, id uuid.UUID, entryID int64) error {
	if err := s.require(actor, rbac.ActionAdmin); err != nil {
		return err
	}
	_, err := s.mutate(ctx, actor, id, "delete_history_entry", func(m *mutation) error {
		removed, err := m.tx.DeleteHistoryEntry(m.ctx, id, entryID)
		if err != nil {
			return err
		}
		return m.rec.Value(history.ModelHistory, strconv.FormatInt(entryID, 10), "deleted", removed, nil)
	})
	return err
}

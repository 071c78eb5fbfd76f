package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barriers/api/internal/barrier"
	"barriers/api/internal/history"
	"barriers/api/internal/notes"
	"barriers/api/internal/savedsearch"
)

func TestMemoryTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	b := barrier.NewDraft(uuid.New(), "B-26-001", now)
	require.NoError(t, s.InsertBarrier(ctx, b))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, q Queries) error {
		locked, err := q.LockBarrier(ctx, b.ID)
		require.NoError(t, err)
		locked.Title = "changed"
		require.NoError(t, q.UpdateBarrier(ctx, locked))
		require.NoError(t, q.AppendHistory(ctx, []history.Entry{{BarrierID: b.ID, Field: "title"}}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetBarrier(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Title)
	entries, err := s.ListHistory(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryTxCommits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	b := barrier.NewDraft(uuid.New(), "B-26-001", time.Now())
	require.NoError(t, s.InsertBarrier(ctx, b))

	err := s.WithinTx(ctx, func(ctx context.Context, q Queries) error {
		locked, err := q.LockBarrier(ctx, b.ID)
		if err != nil {
			return err
		}
		locked.Title = "changed"
		if err := q.UpdateBarrier(ctx, locked); err != nil {
			return err
		}
		return q.AppendHistory(ctx, []history.Entry{{BarrierID: b.ID, Field: "title"}, {BarrierID: b.ID, Field: "summary"}})
	})
	require.NoError(t, err)

	got, err := s.GetBarrier(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Title)
	entries, err := s.ListHistory(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, int64(2), entries[1].ID)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	b := barrier.NewDraft(uuid.New(), "B-26-001", time.Now())
	require.NoError(t, s.InsertBarrier(ctx, b))

	got, err := s.GetBarrier(ctx, b.ID)
	require.NoError(t, err)
	got.Title = "local edit"

	again, err := s.GetBarrier(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Title)
}

func TestMemoryCodeSequencePerYear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for want := int64(1); want <= 3; want++ {
		got, err := s.NextCodeSequence(ctx, 2026)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := s.NextCodeSequence(ctx, 2027)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestMemoryDuplicateCodeConflicts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InsertBarrier(ctx, barrier.NewDraft(uuid.New(), "B-26-001", time.Now())))
	err := s.InsertBarrier(ctx, barrier.NewDraft(uuid.New(), "B-26-001", time.Now()))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.GetBarrier(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMention(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.DeleteHistoryEntry(ctx, uuid.New(), 7)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteSavedSearch(ctx, uuid.New()), ErrNotFound)
}

func TestMemoryUsersByEmailIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id := uuid.New()
	require.NoError(t, s.UpsertUser(ctx, User{ID: id, Email: "Sam@Example.com"}))
	users, err := s.UsersByEmail(ctx, []string{"SAM@example.COM", "nobody@example.com"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, id, users[0].ID)
}

func TestMemoryPurgeableDocuments(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	purged := time.Now()
	detached := notes.Document{ID: uuid.New(), Detached: true}
	require.NoError(t, s.SaveDocument(ctx, detached))
	require.NoError(t, s.SaveDocument(ctx, notes.Document{ID: uuid.New()}))
	require.NoError(t, s.SaveDocument(ctx, notes.Document{ID: uuid.New(), Detached: true, PurgedOn: &purged}))

	docs, err := s.PurgeableDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, detached.ID, docs[0].ID)
}

func TestMemorySetSavedSearchNotifiedKeepsEdits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	search := savedsearch.SavedSearch{ID: uuid.New(), UserID: uuid.New(), Name: "Steel", Filters: map[string][]string{"priority": {"HIGH"}}}
	require.NoError(t, s.SaveSavedSearch(ctx, search))

	stale := search
	edited := search
	edited.Name = "Steel and aluminium"
	edited.NotifyAboutUpdates = true
	require.NoError(t, s.SaveSavedSearch(ctx, edited))

	stale.MarkNotified([]uuid.UUID{uuid.New()}, now)
	require.NoError(t, s.SetSavedSearchNotified(ctx, stale.ID, stale.LastNotified))

	got, err := s.GetSavedSearch(ctx, search.ID)
	require.NoError(t, err)
	assert.Equal(t, "Steel and aluminium", got.Name)
	assert.True(t, got.NotifyAboutUpdates)
	assert.Equal(t, now, got.LastNotified.At)
	assert.Len(t, got.LastNotified.IDs, 1)

	assert.ErrorIs(t, s.SetSavedSearchNotified(ctx, uuid.New(), stale.LastNotified), ErrNotFound)
}

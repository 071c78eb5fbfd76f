package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"barriers/api/internal/barrier"
	"barriers/api/internal/filter"
	"barriers/api/internal/notify"
	"barriers/api/internal/rbac"
	"barriers/api/internal/reference"
	"barriers/api/internal/savedsearch"
)

// SavedSearchView is a saved search with its deltas against both cursors.
type SavedSearchView struct {
	savedsearch.SavedSearch
	BarrierCount         int         `json:"barrier_count"`
	NewSinceSeen         []uuid.UUID `json:"new_since_seen"`
	UpdatedSinceSeen     []uuid.UUID `json:"updated_since_seen"`
	NewSinceNotified     []uuid.UUID `json:"new_since_notified"`
	UpdatedSinceNotified []uuid.UUID `json:"updated_since_notified"`
}

func (s *Service) savedSearchView(ctx context.Context, ss savedsearch.SavedSearch) (SavedSearchView, error) {
	m, err := s.matchSavedSearch(ctx, ss)
	if err != nil {
		return SavedSearchView{}, err
	}
	seen := savedsearch.Compute(ss.UserID, ss.LastSeen, m.Barriers, m.History, m.Scope)
	notified := savedsearch.Compute(ss.UserID, ss.LastNotified, m.Barriers, m.History, m.Scope)
	s.metrics.SavedSearchDelta("seen")
	s.metrics.SavedSearchDelta("notified")
	return SavedSearchView{
		SavedSearch:          ss,
		BarrierCount:         len(m.Barriers),
		NewSinceSeen:         seen.New,
		UpdatedSinceSeen:     seen.Updated,
		NewSinceNotified:     notified.New,
		UpdatedSinceNotified: notified.Updated,
	}, nil
}

// matchSavedSearch evaluates a saved search on behalf of its owner.
func (s *Service) matchSavedSearch(ctx context.Context, ss savedsearch.SavedSearch) (notify.Match, error) {
	f, err := ss.Filter()
	if err != nil {
		return notify.Match{}, fmt.Errorf("saved search %s: %w", ss.ID, err)
	}
	idx, err := s.index(ctx)
	if err != nil {
		return notify.Match{}, err
	}
	barriers, err := s.matching(ctx, idx, f, ss.UserID)
	if err != nil {
		return notify.Match{}, err
	}
	ids := make([]uuid.UUID, 0, len(barriers))
	for _, b := range barriers {
		ids = append(ids, b.ID)
	}
	log, err := s.store.HistoryFor(ctx, ids)
	if err != nil {
		return notify.Match{}, err
	}
	return notify.Match{Barriers: barriers, History: log, Scope: f.ScopeFields()}, nil
}

// matching returns every barrier selected by f for user, unpaginated.
func (s *Service) matching(ctx context.Context, idx *reference.Index, f filter.Filter, user uuid.UUID) ([]*barrier.Barrier, error) {
	candidates, err := s.candidates(ctx)
	if err != nil {
		return nil, err
	}
	fctx := filter.Context{User: user, Index: idx}
	if f.Search != "" {
		if matches, ok := s.search.Matches(ctx, f.Search); ok {
			fctx.TextMatches = matches
		}
	}
	q, err := f.Compile(fctx)
	if err != nil {
		return nil, err
	}
	var out []*barrier.Barrier
	for _, c := range candidates {
		if q.Match(c) {
			out = append(out, c.Barrier)
		}
	}
	return out, nil
}

func (s *Service) matchingIDs(ctx context.Context, ss savedsearch.SavedSearch) ([]uuid.UUID, error) {
	m, err := s.matchSavedSearch(ctx, ss)
	if err != nil {
		return nil, err
	}
	return m.IDs(), nil
}

func (s *Service) ListSavedSearches(ctx context.Context, actor Actor) ([]SavedSearchView, error) {
	searches, err := s.store.ListSavedSearches(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	out := make([]SavedSearchView, 0, len(searches))
	for _, ss := range searches {
		v, err := s.savedSearchView(ctx, ss)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) GetSavedSearch(ctx context.Context, actor Actor, id uuid.UUID) (SavedSearchView, error) {
	ss, err := s.ownSavedSearch(ctx, actor, id)
	if err != nil {
		return SavedSearchView{}, err
	}
	return s.savedSearchView(ctx, ss)
}

// CreateSavedSearch stores a named filter. Barriers matching at creation are
// neither new nor updated.
func (s *Service) CreateSavedSearch(ctx context.Context, actor Actor, in savedsearch.Input) (SavedSearchView, error) {
	if err := s.require(actor, rbac.ActionRead); err != nil {
		return SavedSearchView{}, err
	}
	draft, err := savedsearch.New(actor.ID, in, nil, s.clock.Now())
	if err != nil {
		return SavedSearchView{}, err
	}
	ids, err := s.matchingIDs(ctx, draft)
	if err != nil {
		return SavedSearchView{}, err
	}
	now := s.clock.Now()
	draft.MarkSeen(ids, now)
	draft.MarkNotified(ids, now)
	if err := s.store.SaveSavedSearch(ctx, draft); err != nil {
		return SavedSearchView{}, err
	}
	return s.savedSearchView(ctx, draft)
}

// PatchSavedSearch edits a saved search. Changing the filters restarts both
// cursors at the new matching set.
func (s *Service) PatchSavedSearch(ctx context.Context, actor Actor, id uuid.UUID, in savedsearch.Input) (SavedSearchView, error) {
	ss, err := s.ownSavedSearch(ctx, actor, id)
	if err != nil {
		return SavedSearchView{}, err
	}
	before := ss.Values()
	if err := ss.Apply(in, s.clock.Now()); err != nil {
		return SavedSearchView{}, err
	}
	if !filter.Equal(before, ss.Values()) {
		ids, err := s.matchingIDs(ctx, ss)
		if err != nil {
			return SavedSearchView{}, err
		}
		now := s.clock.Now()
		ss.MarkSeen(ids, now)
		ss.MarkNotified(ids, now)
	}
	if err := s.store.SaveSavedSearch(ctx, ss); err != nil {
		return SavedSearchView{}, err
	}
	return s.savedSearchView(ctx, ss)
}

func (s *Service) DeleteSavedSearch(ctx context.Context, actor Actor, id uuid.UUID) error {
	if _, err := s.ownSavedSearch(ctx, actor, id); err != nil {
		return err
	}
	return s.store.DeleteSavedSearch(ctx, id)
}

// MarkSavedSearchSeen moves the seen cursor to now.
func (s *Service) MarkSavedSearchSeen(ctx context.Context, actor Actor, id uuid.UUID) (SavedSearchView, error) {
	return s.moveCursor(ctx, actor, id, (*savedsearch.SavedSearch).MarkSeen)
}

// MarkSavedSearchNotified moves the notified cursor to now.
func (s *Service) MarkSavedSearchNotified(ctx context.Context, actor Actor, id uuid.UUID) (SavedSearchView, error) {
	return s.moveCursor(ctx, actor, id, (*savedsearch.SavedSearch).MarkNotified)
}

func (s *Service) moveCursor(ctx context.Context, actor Actor, id uuid.UUID, mark func(*savedsearch.SavedSearch, []uuid.UUID, time.Time)) (SavedSearchView, error) {
	ss, err := s.ownSavedSearch(ctx, actor, id)
	if err != nil {
		return SavedSearchView{}, err
	}
	ids, err := s.matchingIDs(ctx, ss)
	if err != nil {
		return SavedSearchView{}, err
	}
	mark(&ss, ids, s.clock.Now())
	if err := s.store.SaveSavedSearch(ctx, ss); err != nil {
		return SavedSearchView{}, err
	}
	return s.savedSearchView(ctx, ss)
}

func (s *Service) ownSavedSearch(ctx context.Context, actor Actor, id uuid.UUID) (savedsearch.SavedSearch, error) {
	ss, err := s.store.GetSavedSearch(ctx, id)
	if err != nil {
		return savedsearch.SavedSearch{}, err
	}
	if ss.UserID != actor.ID {
		return savedsearch.SavedSearch{}, errNotFound("saved search")
	}
	return ss, nil
}

// SweepSavedSearches emails owners about saved searches that changed since
// they were last notified.
func (s *Service) SweepSavedSearches(ctx context.Context) (int, error) {
	return s.notifier.SweepSavedSearches(ctx, s.store, s.matchSavedSearch, s.clock.Now())
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"barriers/api/internal/barrier"
	"barriers/api/internal/email"
	"barriers/api/internal/history"
	"barriers/api/internal/savedsearch"
	"barriers/api/internal/store"
)

const sweepConcurrency = 4

// Match is the current state of a saved search: the barriers it matches,
// their history and the fields that can move a barrier into it.
type Match struct {
	Barriers []*barrier.Barrier
	History  map[uuid.UUID][]history.Entry
	Scope    []string
}

func (m Match) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m.Barriers))
	for _, b := range m.Barriers {
		ids = append(ids, b.ID)
	}
	return ids
}

// Matcher evaluates a saved search on behalf of its owner.
type Matcher func(ctx context.Context, s savedsearch.SavedSearch) (Match, error)

// SavedSearchStore is what the sweep reads and writes.
type SavedSearchStore interface {
	AllSavedSearches(ctx context.Context) ([]savedsearch.SavedSearch, error)
	GetUser(ctx context.Context, id uuid.UUID) (store.User, error)
	SetSavedSearchNotified(ctx context.Context, id uuid.UUID, cursor savedsearch.Cursor) error
}

// SweepSavedSearches emails owners whose saved searches changed since they
// were last notified, then advances the notified cursor of those searches.
// It returns the number of emails sent. A failure on one search does not
// stop the others.
func (n *Notifier) SweepSavedSearches(ctx context.Context, st SavedSearchStore, match Matcher, now time.Time) (int, error) {
	if n == nil || n.mailer == nil || !n.mailer.IsConfigured() {
		return 0, nil
	}
	searches, err := st.AllSavedSearches(ctx)
	if err != nil {
		return 0, fmt.Errorf("list saved searches: %w", err)
	}

	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, s := range searches {
		if !s.NotifyAboutAdditions && !s.NotifyAboutUpdates {
			continue
		}
		g.Go(func() error {
			ok, err := n.notifySavedSearch(gctx, st, match, s, now)
			if err != nil {
				n.logger.Warn("saved search notification", "saved_search_id", s.ID, "error", err)
				return nil
			}
			if ok {
				sent.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(sent.Load()), err
	}
	return int(sent.Load()), ctx.Err()
}

func (n *Notifier) notifySavedSearch(ctx context.Context, st SavedSearchStore, match Matcher, s savedsearch.SavedSearch, now time.Time) (bool, error) {
	m, err := match(ctx, s)
	if err != nil {
		return false, fmt.Errorf("match saved search: %w", err)
	}
	delta := savedsearch.Compute(s.UserID, s.LastNotified, m.Barriers, m.History, m.Scope)
	n.metrics.SavedSearchDelta("notified")
	if !s.ShouldNotify(delta) {
		return false, nil
	}
	owner, err := st.GetUser(ctx, s.UserID)
	if err != nil {
		return false, fmt.Errorf("load owner: %w", err)
	}
	data := email.SavedSearchData{
		UserName:     owner.Name,
		SearchName:   s.Name,
		NewCount:     len(delta.New),
		UpdatedCount: len(delta.Updated),
		URL:          n.frontendURL + "/search?" + url.Values{"search_id": {s.ID.String()}}.Encode(),
	}
	if err := n.deliver(ctx, KindSavedSearch, func() error { return n.mailer.SendSavedSearchUpdate(owner.Email, data) }); err != nil {
		return false, err
	}
	s.MarkNotified(m.IDs(), now)
	if err := st.SetSavedSearchNotified(ctx, s.ID, s.LastNotified); err != nil && !errors.Is(err, store.ErrNotFound) {
		return true, fmt.Errorf("save notified cursor: %w", err)
	}
	return true, nil
}

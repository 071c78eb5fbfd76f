// Package savedsearch computes what changed in a user's saved filter since
// they last looked or were last notified.
package savedsearch

import (
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"barriers/api/internal/barrier"
	"barriers/api/internal/filter"
	"barriers/api/internal/history"
)

var ErrNameRequired = errors.New("saved search name is required")

// Cursor marks a point the owner has caught up to: a time and the ids that
// matched at that time.
type Cursor struct {
	At  time.Time   `json:"at"`
	IDs []uuid.UUID `json:"barrier_ids"`
}

func (c Cursor) contains(id uuid.UUID) bool {
	for _, x := range c.IDs {
		if x == id {
			return true
		}
	}
	return false
}

type SavedSearch struct {
	ID                   uuid.UUID           `json:"id"`
	UserID               uuid.UUID           `json:"user_id"`
	Name                 string              `json:"name"`
	Filters              map[string][]string `json:"filters"`
	NotifyAboutAdditions bool                `json:"notify_about_additions"`
	NotifyAboutUpdates   bool                `json:"notify_about_updates"`
	LastSeen             Cursor              `json:"last_seen"`
	LastNotified         Cursor              `json:"last_notified"`
	CreatedOn            time.Time           `json:"created_on"`
	ModifiedOn           time.Time           `json:"modified_on"`
}

// Values returns the stored filters as query parameters.
func (s SavedSearch) Values() url.Values {
	return url.Values(s.Filters)
}

// Filter parses the stored filters.
func (s SavedSearch) Filter() (filter.Filter, error) {
	return filter.Parse(s.Values())
}

// Input creates or edits a saved search.
type Input struct {
	Name                 *string              `json:"name"`
	Filters              *map[string][]string `json:"filters"`
	NotifyAboutAdditions *bool                `json:"notify_about_additions"`
	NotifyAboutUpdates   *bool                `json:"notify_about_updates"`
}

// New builds a saved search whose cursors start at the current matching set,
// so nothing that already matched is reported as new.
func New(owner uuid.UUID, in Input, matching []uuid.UUID, now time.Time) (SavedSearch, error) {
	s := SavedSearch{
		ID:                   uuid.New(),
		UserID:               owner,
		NotifyAboutAdditions: true,
		CreatedOn:            now,
		ModifiedOn:           now,
	}
	if err := s.Apply(in, now); err != nil {
		return SavedSearch{}, err
	}
	if s.Name == "" {
		return SavedSearch{}, ErrNameRequired
	}
	s.MarkSeen(matching, now)
	s.MarkNotified(matching, now)
	return s, nil
}

// Apply edits the search. Filters are validated and stored canonically.
func (s *SavedSearch) Apply(in Input, now time.Time) error {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return ErrNameRequired
		}
		s.Name = name
	}
	if in.Filters != nil {
		values := url.Values(*in.Filters)
		if _, err := filter.Parse(values); err != nil {
			return err
		}
		s.Filters = filter.Canonical(values)
	}
	if in.NotifyAboutAdditions != nil {
		s.NotifyAboutAdditions = *in.NotifyAboutAdditions
	}
	if in.NotifyAboutUpdates != nil {
		s.NotifyAboutUpdates = *in.NotifyAboutUpdates
	}
	s.ModifiedOn = now
	return nil
}

// Matches reports whether an inbound query selects the same barriers.
func (s SavedSearch) Matches(values url.Values) bool {
	return filter.Equal(s.Values(), values)
}

func (s *SavedSearch) MarkSeen(matching []uuid.UUID, now time.Time) {
	s.LastSeen = Cursor{At: now, IDs: sortedCopy(matching)}
}

func (s *SavedSearch) MarkNotified(matching []uuid.UUID, now time.Time) {
	s.LastNotified = Cursor{At: now, IDs: sortedCopy(matching)}
}

func sortedCopy(ids []uuid.UUID) []uuid.UUID {
	out := append([]uuid.UUID{}, ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Delta is the set of barriers added to or updated in the matching set
// since a cursor.
type Delta struct {
	New     []uuid.UUID `json:"new_barrier_ids"`
	Updated []uuid.UUID `json:"updated_barrier_ids"`
}

func (d Delta) Empty() bool { return len(d.New) == 0 && len(d.Updated) == 0 }

// Compute derives the delta for owner since cursor. matching is the current
// matching set; log holds the history of each matching barrier; scope lists
// the model-qualified keys that can move a barrier into the filter.
//
// A change made by the owner never counts. A newly reported barrier is new
// unless the owner created it or edited a scope field before it was
// reported. A barrier that existed at the cursor is new only when some
// other user moved it into scope afterwards. Barriers that were already
// matching are updated when another user changed anything after the cursor.
func Compute(owner uuid.UUID, cursor Cursor, matching []*barrier.Barrier, log map[uuid.UUID][]history.Entry, scope []string) Delta {
	inScope := make(map[string]bool, len(scope))
	for _, f := range scope {
		inScope[f] = true
	}
	d := Delta{New: []uuid.UUID{}, Updated: []uuid.UUID{}}
	for _, b := range matching {
		entries := log[b.ID]
		if cursor.contains(b.ID) {
			if changedByOthersSince(entries, owner, cursor.At, nil) {
				d.Updated = append(d.Updated, b.ID)
			}
			continue
		}
		if b.ReportedOn != nil && b.ReportedOn.After(cursor.At) {
			if b.CreatedBy != owner && !ownerTouchedScopeBy(entries, owner, *b.ReportedOn, inScope) {
				d.New = append(d.New, b.ID)
			}
			continue
		}
		if changedByOthersSince(entries, owner, cursor.At, inScope) {
			d.New = append(d.New, b.ID)
		}
	}
	sort.Slice(d.New, func(i, j int) bool { return d.New[i].String() < d.New[j].String() })
	sort.Slice(d.Updated, func(i, j int) bool { return d.Updated[i].String() < d.Updated[j].String() })
	return d
}

func changedByOthersSince(entries []history.Entry, owner uuid.UUID, since time.Time, scope map[string]bool) bool {
	for _, e := range entries {
		if e.Actor == owner || !e.RecordedAt.After(since) {
			continue
		}
		if scope == nil || scope[e.Key()] {
			return true
		}
	}
	return false
}

func ownerTouchedScopeBy(entries []history.Entry, owner uuid.UUID, until time.Time, scope map[string]bool) bool {
	for _, e := range entries {
		if e.Actor == owner && !e.RecordedAt.After(until) && scope[e.Key()] {
			return true
		}
	}
	return false
}

// ShouldNotify is the notification predicate over the since-notified delta.
func (s SavedSearch) ShouldNotify(sinceNotified Delta) bool {
	return s.NotifyAboutAdditions && len(sinceNotified.New) > 0 ||
		s.NotifyAboutUpdates && len(sinceNotified.Updated) > 0
}

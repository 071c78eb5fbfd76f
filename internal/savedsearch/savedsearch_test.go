package savedsearch

import (
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barriers/api/internal/barrier"
	"barriers/api/internal/history"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

func reported(id, creator uuid.UUID, when time.Time) *barrier.Barrier {
	return &barrier.Barrier{ID: id, CreatedBy: creator, ReportedOn: &when, Priority: barrier.PriorityMedium}
}

func entry(id, actor uuid.UUID, field string, when time.Time) history.Entry {
	return history.Entry{BarrierID: id, Actor: actor, Field: field, Model: barrier.ModelBarrier, RecordedAt: when}
}

func TestOwnerAttribution(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	scope := []string{"barrier.archived", "barrier.draft", "barrier.priority"}

	d := reported(uuid.New(), u2, at(-60))
	s, err := New(u1, Input{Name: ptr("Medium"), Filters: &map[string][]string{"priority": {"MEDIUM"}}}, nil, t0)
	require.NoError(t, err)

	b := reported(uuid.New(), u1, at(5))
	c := reported(uuid.New(), u2, at(6))
	log := map[uuid.UUID][]history.Entry{
		b.ID: {entry(b.ID, u1, "priority", at(1)), entry(b.ID, u1, "draft", at(5))},
		c.ID: {entry(c.ID, u2, "priority", at(2)), entry(c.ID, u2, "draft", at(6))},
	}

	delta := Compute(u1, s.LastSeen, []*barrier.Barrier{b, c}, log, scope)
	assert.Equal(t, []uuid.UUID{c.ID}, delta.New)
	assert.Empty(t, delta.Updated)

	log[d.ID] = []history.Entry{entry(d.ID, u2, "priority", at(10))}
	delta = Compute(u1, s.LastSeen, []*barrier.Barrier{b, c, d}, log, scope)
	assert.ElementsMatch(t, []uuid.UUID{c.ID, d.ID}, delta.New)
}

func TestOwnEditsDoNotCountAsAdditions(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	existing := reported(uuid.New(), u2, at(-60))
	log := map[uuid.UUID][]history.Entry{existing.ID: {entry(existing.ID, u1, "priority", at(3))}}

	delta := Compute(u1, Cursor{At: t0}, []*barrier.Barrier{existing}, log, []string{"barrier.priority"})
	assert.Empty(t, delta.New)

	log[existing.ID] = append(log[existing.ID], entry(existing.ID, u2, "summary", at(4)))
	delta = Compute(u1, Cursor{At: t0}, []*barrier.Barrier{existing}, log, []string{"barrier.priority"})
	assert.Empty(t, delta.New, "an out-of-scope edit does not add the barrier")
}

func TestSameNamedChildFieldsAreOutOfScope(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	existing := reported(uuid.New(), u2, at(-60))
	scope := []string{"barrier.archived", "barrier.draft", "barrier.priority"}
	log := map[uuid.UUID][]history.Entry{existing.ID: {
		entry(existing.ID, u1, "priority", at(1)),
		{BarrierID: existing.ID, Actor: u2, Model: history.ModelNote, Field: "archived", RecordedAt: at(2)},
		{BarrierID: existing.ID, Actor: u2, Model: history.ModelTeamMember, Field: "archived", RecordedAt: at(3)},
		{BarrierID: existing.ID, Actor: u2, Model: barrier.ModelProgressUpdate, Field: "status", RecordedAt: at(4)},
	}}

	delta := Compute(u1, Cursor{At: t0}, []*barrier.Barrier{existing}, log, scope)
	assert.Empty(t, delta.New, "note, membership and progress update fields do not move the barrier")

	log[existing.ID] = append(log[existing.ID], entry(existing.ID, u2, "archived", at(5)))
	delta = Compute(u1, Cursor{At: t0}, []*barrier.Barrier{existing}, log, scope)
	assert.Equal(t, []uuid.UUID{existing.ID}, delta.New)
}

func TestUpdatedSinceCursor(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	known := reported(uuid.New(), u2, at(-60))
	cursor := Cursor{At: t0, IDs: []uuid.UUID{known.ID}}

	log := map[uuid.UUID][]history.Entry{known.ID: {entry(known.ID, u2, "summary", at(-5)), entry(known.ID, u1, "title", at(5))}}
	assert.Empty(t, Compute(u1, cursor, []*barrier.Barrier{known}, log, nil).Updated)

	log[known.ID] = append(log[known.ID], entry(known.ID, u2, "summary", at(6)))
	assert.Equal(t, []uuid.UUID{known.ID}, Compute(u1, cursor, []*barrier.Barrier{known}, log, nil).Updated)
}

func TestShouldNotify(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		name      string
		additions bool
		updates   bool
		delta     Delta
		want      bool
	}{
		{"nothing new", true, true, Delta{}, false},
		{"addition wanted", true, false, Delta{New: []uuid.UUID{id}}, true},
		{"addition unwanted", false, true, Delta{New: []uuid.UUID{id}}, false},
		{"update wanted", false, true, Delta{Updated: []uuid.UUID{id}}, true},
		{"update unwanted", true, false, Delta{Updated: []uuid.UUID{id}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := SavedSearch{NotifyAboutAdditions: tc.additions, NotifyAboutUpdates: tc.updates}
			if got := s.ShouldNotify(tc.delta); got != tc.want {
				t.Fatalf("ShouldNotify() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFiltersStoredCanonically(t *testing.T) {
	s, err := New(uuid.New(), Input{
		Name:    ptr("EU"),
		Filters: &map[string][]string{"location": {"wider_europe,TB00016"}, "page": {"3"}},
	}, nil, t0)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"location": {"TB00016", "wider_europe"}}, s.Filters)
	assert.True(t, s.Matches(url.Values{"location": {"TB00016", "wider_europe"}, "ordering": {"-modified_on"}}))
	assert.True(t, s.Matches(url.Values{"location": {"TB00016,wider_europe"}, "archived": {"0"}, "tab": {"map"}}))
	assert.False(t, s.Matches(url.Values{"location": {"TB00016,wider_europe"}, "archived": {"1"}}))

	_, err = New(uuid.New(), Input{Name: ptr("bad"), Filters: &map[string][]string{"status": {"42"}}}, nil, t0)
	require.Error(t, err)
	_, err = New(uuid.New(), Input{Name: ptr("  ")}, nil, t0)
	require.ErrorIs(t, err, ErrNameRequired)
}

func ptr[T any](v T) *T { return &v }

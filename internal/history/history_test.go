package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barriers/api/internal/barrier"
)

func TestClockIsStrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(func() time.Time { return fixed })
	a, b, d := c.Now(), c.Now(), c.Now()
	assert.True(t, b.After(a))
	assert.True(t, d.After(b))
}

func TestDiffRecordsOnlyChangedFields(t *testing.T) {
	b := barrier.NewDraft(uuid.New(), "B-26-001", time.Now())
	before := b.Tracked()

	b.Title = "Import ban"
	b.Summary = "Details"
	b.Categories = []string{}
	after := b.Tracked()

	r := NewRecorder(b.ID, uuid.New(), time.Now())
	require.NoError(t, r.Diff(before, after))
	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "summary", entries[0].Field)
	assert.Equal(t, "title", entries[1].Field)
	assert.JSONEq(t, `""`, string(entries[1].OldValue))
	assert.JSONEq(t, `"Import ban"`, string(entries[1].NewValue))
}

func TestDiffNoChangesIsEmpty(t *testing.T) {
	b := barrier.NewDraft(uuid.New(), "B-26-001", time.Now())
	r := NewRecorder(b.ID, uuid.New(), time.Now())
	require.NoError(t, r.Diff(b.Tracked(), b.Clone().Tracked()))
	assert.True(t, r.Empty())
}

func TestDiffNewChildRecordsNonEmptyFields(t *testing.T) {
	b := barrier.NewDraft(uuid.New(), "B-26-001", time.Now())
	before := b.Tracked()
	b.WTOProfile = &barrier.WTOProfile{CaseNumber: "DS123"}

	r := NewRecorder(b.ID, uuid.New(), time.Now())
	require.NoError(t, r.Diff(before, b.Tracked()))
	entries := r.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, barrier.ModelWTOProfile, entries[0].Model)
	assert.Equal(t, "case_number", entries[0].Field)
}

func TestStatusHistoryProjection(t *testing.T) {
	id, actor := uuid.New(), uuid.New()
	clock := NewClock(nil)
	var log []Entry

	d1 := barrier.Date("2018-09-10")
	r := NewRecorder(id, actor, clock.Now())
	require.NoError(t, r.Status(&barrier.StatusChange{From: 1, To: 4, Date: d1, Summary: "dummy summary"}))
	log = append(log, r.Entries()...)

	r = NewRecorder(id, actor, clock.Now())
	require.NoError(t, r.Status(&barrier.StatusChange{From: 4, To: 2, FromDate: &d1, FromSummary: "dummy summary", Date: "2018-10-01"}))
	log = append(log, r.Entries()...)

	statuses, err := StatusHistory(log)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, barrier.Status(1), statuses[0].OldStatus)
	assert.Equal(t, barrier.Status(4), statuses[0].NewStatus)
	require.NotNil(t, statuses[0].Summary)
	assert.Equal(t, "dummy summary", *statuses[0].Summary)
	assert.Equal(t, statuses[0].NewStatus, statuses[1].OldStatus)
	assert.Nil(t, statuses[1].Summary)

	raw, err := json.Marshal(statuses[1])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status_summary":null`)
}

func TestFieldHistoryAndSince(t *testing.T) {
	id, actor := uuid.New(), uuid.New()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r := NewRecorder(id, actor, t0)
	require.NoError(t, r.Value(barrier.ModelBarrier, id.String(), "priority", "", "LOW"))
	require.NoError(t, r.Value(barrier.ModelWTOProfile, id.String(), "case_number", "", "DS1"))
	log := r.Entries()

	r = NewRecorder(id, actor, t0.Add(time.Hour))
	require.NoError(t, r.Value(barrier.ModelBarrier, id.String(), "priority", "LOW", "HIGH"))
	log = append(log, r.Entries()...)

	assert.Len(t, FieldHistory(log, "priority"), 2)
	assert.Len(t, FieldHistory(log, "wto_profile.case_number"), 1)
	assert.Len(t, FieldHistory(log, "case_number"), 0)
	assert.Len(t, Since(log, t0), 1)

	last, ok := LastChange(log)
	require.True(t, ok)
	assert.JSONEq(t, `"HIGH"`, string(last.NewValue))
}

package history

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"barriers/api/internal/barrier"
)

// StatusHistoryEntry is one status machine transition.
type StatusHistoryEntry struct {
	OldStatus  barrier.Status `json:"old_status"`
	NewStatus  barrier.Status `json:"new_status"`
	Date       *barrier.Date  `json:"status_date"`
	Summary    *string        `json:"status_summary"`
	Actor      uuid.UUID      `json:"user"`
	RecordedAt time.Time      `json:"date"`
}

// Sort orders entries by timestamp, then id, which is the commit order.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].RecordedAt.Equal(entries[j].RecordedAt) {
			return entries[i].RecordedAt.Before(entries[j].RecordedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

// StatusHistory projects the status events out of a barrier's log.
func StatusHistory(entries []Entry) ([]StatusHistoryEntry, error) {
	sorted := append([]Entry(nil), entries...)
	Sort(sorted)
	out := []StatusHistoryEntry{}
	for _, e := range sorted {
		if e.Model != ModelStatus {
			continue
		}
		var oldValue, newValue StatusValue
		if err := json.Unmarshal(e.OldValue, &oldValue); err != nil {
			return nil, fmt.Errorf("decode status entry %d: %w", e.ID, err)
		}
		if err := json.Unmarshal(e.NewValue, &newValue); err != nil {
			return nil, fmt.Errorf("decode status entry %d: %w", e.ID, err)
		}
		out = append(out, StatusHistoryEntry{
			OldStatus:  oldValue.Status,
			NewStatus:  newValue.Status,
			Date:       newValue.Date,
			Summary:    newValue.Summary,
			Actor:      e.Actor,
			RecordedAt: e.RecordedAt,
		})
	}
	return out, nil
}

// FieldHistory returns the entries for one field. The field may be qualified
// by model ("wto_profile.case_number"); unqualified names match the barrier
// and the status pseudo-field.
func FieldHistory(entries []Entry, field string) []Entry {
	model, name := barrier.ModelBarrier, field
	for i := 0; i < len(field); i++ {
		if field[i] == '.' {
			model, name = field[:i], field[i+1:]
			break
		}
	}
	out := []Entry{}
	for _, e := range entries {
		if e.Field != name {
			continue
		}
		if e.Model == model || (model == barrier.ModelBarrier && e.Model == ModelStatus) {
			out = append(out, e)
		}
	}
	Sort(out)
	return out
}

// Since keeps entries recorded strictly after t.
func Since(entries []Entry, t time.Time) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.RecordedAt.After(t) {
			out = append(out, e)
		}
	}
	return out
}

// LastChange returns the newest entry, which defines the barrier's
// modified_on and modified_by.
func LastChange(entries []Entry) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}
	last := entries[0]
	for _, e := range entries[1:] {
		if e.RecordedAt.After(last.RecordedAt) || e.RecordedAt.Equal(last.RecordedAt) && e.ID > last.ID {
			last = e
		}
	}
	return last, true
}

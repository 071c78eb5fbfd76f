// Package history records the append-only audit trail of barriers and their
// owned children, and projects it into status and field histories.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"barriers/api/internal/barrier"
)

// Models recorded outside barrier.Tracked.
const (
	ModelStatus      = "status"
	ModelTeamMember  = "team_member"
	ModelNote        = "note"
	ModelPublicNote  = "public_note"
	ModelHistory     = "history"
	ModelTopPriority = "top_priority"
)

// Entry is one changed field of one tracked object.
type Entry struct {
	ID         int64           `json:"id"`
	BarrierID  uuid.UUID       `json:"barrier_id"`
	Model      string          `json:"model"`
	ObjectID   string          `json:"object_id"`
	Field      string          `json:"field"`
	OldValue   json.RawMessage `json:"old_value"`
	NewValue   json.RawMessage `json:"new_value"`
	Actor      uuid.UUID       `json:"user"`
	RecordedAt time.Time       `json:"date"`
}

// Key qualifies the field by its model, e.g. "wto_profile.case_number".
func (e Entry) Key() string {
	return e.Model + "." + e.Field
}

// StatusValue is the payload of ModelStatus entries.
type StatusValue struct {
	Status  barrier.Status `json:"status"`
	Date    *barrier.Date  `json:"date"`
	Summary *string        `json:"summary"`
}

// Clock hands out strictly increasing timestamps at microsecond precision so
// that entries of consecutive transactions never share a timestamp.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

// Recorder builds entries for one transaction. All entries share the same
// timestamp and are emitted in (model, object, field) order.
type Recorder struct {
	BarrierID uuid.UUID
	Actor     uuid.UUID
	At        time.Time

	entries []Entry
}

func NewRecorder(barrierID, actor uuid.UUID, at time.Time) *Recorder {
	return &Recorder{BarrierID: barrierID, Actor: actor, At: at}
}

// Entries returns what has been recorded so far, sorted.
func (r *Recorder) Entries() []Entry {
	out := append([]Entry(nil), r.entries...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Model != b.Model {
			return modelOrder(a.Model) < modelOrder(b.Model)
		}
		if a.ObjectID != b.ObjectID {
			return a.ObjectID < b.ObjectID
		}
		return a.Field < b.Field
	})
	return out
}

// Empty reports whether the transaction changed nothing tracked.
func (r *Recorder) Empty() bool { return len(r.entries) == 0 }

func modelOrder(model string) string {
	if model == ModelStatus {
		return "\x00"
	}
	return model
}

// Diff compares snapshots of tracked objects and records one entry per
// changed field. Objects only present before are not recorded; owned
// children are archived, never removed.
func (r *Recorder) Diff(before, after []barrier.Tracked) error {
	prev := make(map[string]barrier.Tracked, len(before))
	for _, t := range before {
		prev[t.Model+"/"+t.ObjectID] = t
	}
	for _, t := range after {
		old := prev[t.Model+"/"+t.ObjectID]
		if err := r.Object(t.Model, t.ObjectID, old.Fields, t.Fields); err != nil {
			return err
		}
	}
	return nil
}

// Object records changes of a single object. A nil before map means the
// object was created in this transaction.
func (r *Recorder) Object(model, objectID string, before, after map[string]any) error {
	fields := make([]string, 0, len(after))
	for f := range after {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		oldRaw, err := encode(before[f])
		if err != nil {
			return fmt.Errorf("encode %s.%s: %w", model, f, err)
		}
		newRaw, err := encode(after[f])
		if err != nil {
			return fmt.Errorf("encode %s.%s: %w", model, f, err)
		}
		if equalValues(oldRaw, newRaw) {
			continue
		}
		r.add(model, objectID, f, oldRaw, newRaw)
	}
	return nil
}

// Status records a status machine transition.
func (r *Recorder) Status(change *barrier.StatusChange) error {
	if change == nil {
		return nil
	}
	oldRaw, err := json.Marshal(StatusValue{Status: change.From, Date: change.FromDate, Summary: optional(change.FromSummary)})
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	date := change.Date
	newRaw, err := json.Marshal(StatusValue{Status: change.To, Date: &date, Summary: optional(change.Summary)})
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	r.add(ModelStatus, r.BarrierID.String(), "status", oldRaw, newRaw)
	return nil
}

// Value records a single field change that is not part of a snapshot, such
// as the deletion of another entry.
func (r *Recorder) Value(model, objectID, field string, oldValue, newValue any) error {
	return r.Object(model, objectID, map[string]any{field: oldValue}, map[string]any{field: newValue})
}

func (r *Recorder) add(model, objectID, field string, oldRaw, newRaw json.RawMessage) {
	r.entries = append(r.entries, Entry{
		BarrierID:  r.BarrierID,
		Model:      model,
		ObjectID:   objectID,
		Field:      field,
		OldValue:   oldRaw,
		NewValue:   newRaw,
		Actor:      r.Actor,
		RecordedAt: r.At,
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func encode(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

var emptyValues = [][]byte{[]byte("null"), []byte(`""`), []byte("[]"), []byte("{}")}

func isEmpty(raw []byte) bool {
	for _, e := range emptyValues {
		if bytes.Equal(raw, e) {
			return true
		}
	}
	return false
}

// equalValues treats all empty encodings as the same value so that an unset
// field and its zero value never produce an entry.
func equalValues(a, b []byte) bool {
	if isEmpty(a) && isEmpty(b) {
		return true
	}
	return bytes.Equal(a, b)
}

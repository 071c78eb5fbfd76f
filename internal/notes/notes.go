// Package notes holds barrier and public-twin notes, the mentions they
// produce and the documents attached to them.
package notes

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmptyText     = errors.New("note text is required")
	ErrNotAuthor     = errors.New("only the author can change a note")
	ErrNoteArchived  = errors.New("note is archived")
	ErrUnknownDocRef = errors.New("document is not attachable")
)

type Kind string

const (
	KindBarrier Kind = "barrier"
	KindPublic  Kind = "public"
)

type Note struct {
	ID         uuid.UUID   `json:"id"`
	BarrierID  uuid.UUID   `json:"barrier_id"`
	Kind       Kind        `json:"kind"`
	Text       string      `json:"text"`
	Pinned     bool        `json:"pinned"`
	Systemic   bool        `json:"is_systemic"`
	Documents  []uuid.UUID `json:"documents"`
	Archived   bool        `json:"archived"`
	ArchivedOn *time.Time  `json:"archived_on,omitempty"`
	CreatedBy  uuid.UUID   `json:"created_by"`
	CreatedOn  time.Time   `json:"created_on"`
	ModifiedBy uuid.UUID   `json:"modified_by"`
	ModifiedOn time.Time   `json:"modified_on"`
}

// Fields is the history-tracked view of a note.
func (n Note) Fields() map[string]any {
	return map[string]any{
		"text":      n.Text,
		"pinned":    n.Pinned,
		"documents": n.Documents,
		"archived":  n.Archived,
	}
}

// Input is a create or edit request.
type Input struct {
	Text      *string      `json:"text"`
	Pinned    *bool        `json:"pinned"`
	Documents *[]uuid.UUID `json:"documents"`
}

// New builds a note. Documents must already have been validated.
func New(barrierID uuid.UUID, kind Kind, author uuid.UUID, in Input, now time.Time) (Note, error) {
	if in.Text == nil || strings.TrimSpace(*in.Text) == "" {
		return Note{}, ErrEmptyText
	}
	n := Note{
		ID:         uuid.New(),
		BarrierID:  barrierID,
		Kind:       kind,
		CreatedBy:  author,
		CreatedOn:  now,
		ModifiedBy: author,
		ModifiedOn: now,
	}
	n.apply(in)
	return n, nil
}

// Systemic is the interaction note created at submission from the next
// steps written while drafting.
func Systemic(barrierID, author uuid.UUID, nextSteps string, now time.Time) (Note, bool) {
	nextSteps = strings.TrimSpace(nextSteps)
	if nextSteps == "" {
		return Note{}, false
	}
	text := "Next steps: " + nextSteps
	n, err := New(barrierID, KindBarrier, author, Input{Text: &text}, now)
	if err != nil {
		return Note{}, false
	}
	n.Systemic = true
	return n, true
}

// Edit updates a note in place. Only the author may edit.
func (n *Note) Edit(actor uuid.UUID, in Input, now time.Time) error {
	if n.Archived {
		return ErrNoteArchived
	}
	if n.CreatedBy != actor {
		return ErrNotAuthor
	}
	if in.Text != nil && strings.TrimSpace(*in.Text) == "" {
		return ErrEmptyText
	}
	n.apply(in)
	n.ModifiedBy = actor
	n.ModifiedOn = now
	return nil
}

// Archive soft-deletes the note.
func (n *Note) Archive(actor uuid.UUID, now time.Time) error {
	if n.Archived {
		return ErrNoteArchived
	}
	if n.CreatedBy != actor {
		return ErrNotAuthor
	}
	archived := now
	n.Archived = true
	n.ArchivedOn = &archived
	n.ModifiedBy = actor
	n.ModifiedOn = now
	return nil
}

func (n *Note) apply(in Input) {
	if in.Text != nil {
		n.Text = strings.TrimSpace(*in.Text)
	}
	if in.Pinned != nil {
		n.Pinned = *in.Pinned
	}
	if in.Documents != nil {
		n.Documents = dedupe(*in.Documents)
	}
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]bool{}
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Document is the metadata of an attached file; the bytes live in object
// storage under ObjectKey.
type Document struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"original_filename"`
	Size       int64      `json:"size"`
	MimeType   string     `json:"mime_type"`
	ObjectKey  string     `json:"-"`
	Detached   bool       `json:"detached"`
	PurgedOn   *time.Time `json:"-"`
	UploadedBy uuid.UUID  `json:"created_by"`
	CreatedOn  time.Time  `json:"created_on"`
}

// DetachedDocuments returns the documents referenced by notes only through
// archived notes. Documents still attached to a live note are never
// returned.
func DetachedDocuments(notes []Note) []uuid.UUID {
	live := map[uuid.UUID]bool{}
	archived := map[uuid.UUID]bool{}
	for _, n := range notes {
		for _, d := range n.Documents {
			if n.Archived {
				archived[d] = true
			} else {
				live[d] = true
			}
		}
	}
	var out []uuid.UUID
	for d := range archived {
		if !live[d] {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Mention is an inbox item created for a user referenced in a note.
type Mention struct {
	ID              uuid.UUID `json:"id"`
	NoteID          uuid.UUID `json:"note_id"`
	BarrierID       uuid.UUID `json:"barrier_id"`
	Recipient       uuid.UUID `json:"recipient"`
	Author          uuid.UUID `json:"created_by"`
	Text            string    `json:"text"`
	ReadByRecipient bool      `json:"read_by_recipient"`
	CreatedOn       time.Time `json:"created_on"`
}

var mentionToken = regexp.MustCompile(`@([A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,})`)

// MentionedEmails extracts the lower-cased, de-duplicated addresses that
// follow an "@" in text, e.g. "@jane.doe@example.gov.uk".
func MentionedEmails(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range mentionToken.FindAllStringSubmatch(text, -1) {
		email := strings.ToLower(m[1])
		if !seen[email] {
			seen[email] = true
			out = append(out, email)
		}
	}
	sort.Strings(out)
	return out
}

const excerptLength = 200

// NewMentions builds a mention per recipient, skipping the author and users
// already mentioned by an earlier version of the note.
func NewMentions(n Note, recipients []uuid.UUID, already []uuid.UUID, now time.Time) []Mention {
	skip := map[uuid.UUID]bool{n.ModifiedBy: true}
	for _, id := range already {
		skip[id] = true
	}
	excerpt := n.Text
	if len([]rune(excerpt)) > excerptLength {
		excerpt = string([]rune(excerpt)[:excerptLength]) + "…"
	}
	var out []Mention
	for _, r := range recipients {
		if skip[r] {
			continue
		}
		skip[r] = true
		out = append(out, Mention{
			ID:        uuid.New(),
			NoteID:    n.ID,
			BarrierID: n.BarrierID,
			Recipient: r,
			Author:    n.ModifiedBy,
			Text:      excerpt,
			CreatedOn: now,
		})
	}
	return out
}

// Counts summarises a user's inbox. ReadByRecipient holds the number of
// mentions not yet read.
type Counts struct {
	ReadByRecipient int `json:"read_by_recipient"`
	Total           int `json:"total"`
}

func Count(mentions []Mention) Counts {
	c := Counts{Total: len(mentions)}
	for _, m := range mentions {
		if !m.ReadByRecipient {
			c.ReadByRecipient++
		}
	}
	return c
}

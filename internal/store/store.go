// Package store persists barriers, their history, team, notes, documents,
// public twins, saved searches and the user directory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"barriers/api/internal/barrier"
	"barriers/api/internal/history"
	"barriers/api/internal/notes"
	"barriers/api/internal/savedsearch"
	"barriers/api/internal/team"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a row lock cannot be taken or the
	// transaction lost a serialisation race.
	ErrConflict = errors.New("conflict")
)

// User is an entry in the user directory, upserted from verified tokens.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedOn time.Time `json:"created_on"`
}

// Queries is the set of operations available both on the store and inside a
// transaction.
type Queries interface {
	NextCodeSequence(ctx context.Context, year int) (int64, error)
	InsertBarrier(ctx context.Context, b *barrier.Barrier) error
	UpdateBarrier(ctx context.Context, b *barrier.Barrier) error
	GetBarrier(ctx context.Context, id uuid.UUID) (*barrier.Barrier, error)
	// LockBarrier loads a barrier and holds its row lock until the end of
	// the transaction. It waits for a concurrent holder up to the store's
	// lock timeout, then fails with ErrConflict.
	LockBarrier(ctx context.Context, id uuid.UUID) (*barrier.Barrier, error)
	ListBarriers(ctx context.Context) ([]*barrier.Barrier, error)

	AppendHistory(ctx context.Context, entries []history.Entry) error
	ListHistory(ctx context.Context, barrierID uuid.UUID) ([]history.Entry, error)
	HistoryFor(ctx context.Context, barrierIDs []uuid.UUID) (map[uuid.UUID][]history.Entry, error)
	DeleteHistoryEntry(ctx context.Context, barrierID uuid.UUID, entryID int64) (history.Entry, error)

	ListMembers(ctx context.Context, barrierID uuid.UUID) ([]team.Member, error)
	MembersByBarrier(ctx context.Context) (map[uuid.UUID][]team.Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (team.Member, error)
	SaveMember(ctx context.Context, m team.Member) error

	ListNotes(ctx context.Context, barrierID uuid.UUID, kind notes.Kind) ([]notes.Note, error)
	GetNote(ctx context.Context, id uuid.UUID) (notes.Note, error)
	SaveNote(ctx context.Context, n notes.Note) error

	InsertMentions(ctx context.Context, mentions []notes.Mention) error
	MentionsForNote(ctx context.Context, noteID uuid.UUID) ([]notes.Mention, error)
	ListMentions(ctx context.Context, recipient uuid.UUID) ([]notes.Mention, error)
	GetMention(ctx context.Context, id uuid.UUID) (notes.Mention, error)
	SaveMention(ctx context.Context, m notes.Mention) error

	SaveDocument(ctx context.Context, d notes.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (notes.Document, error)
	// PurgeableDocuments lists detached documents whose objects have not
	// been removed yet.
	PurgeableDocuments(ctx context.Context) ([]notes.Document, error)

	GetPublicBarrier(ctx context.Context, barrierID uuid.UUID) (*barrier.PublicBarrier, error)
	InsertPublicBarrier(ctx context.Context, p *barrier.PublicBarrier) error
	UpdatePublicBarrier(ctx context.Context, p *barrier.PublicBarrier) error

	ListSavedSearches(ctx context.Context, userID uuid.UUID) ([]savedsearch.SavedSearch, error)
	AllSavedSearches(ctx context.Context) ([]savedsearch.SavedSearch, error)
	GetSavedSearch(ctx context.Context, id uuid.UUID) (savedsearch.SavedSearch, error)
	SaveSavedSearch(ctx context.Context, s savedsearch.SavedSearch) error
	// SetSavedSearchNotified replaces only the notified cursor, leaving
	// concurrent edits to the rest of the search intact.
	SetSavedSearchNotified(ctx context.Context, id uuid.UUID, cursor savedsearch.Cursor) error
	DeleteSavedSearch(ctx context.Context, id uuid.UUID) error

	UpsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	UsersByEmail(ctx context.Context, emails []string) ([]User, error)
}

// Store is Queries plus transactions.
type Store interface {
	Queries
	// WithinTx runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
	Ping(ctx context.Context) error
}

package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"barriers/api/internal/barrier"
	"barriers/api/internal/history"
	"barriers/api/internal/notes"
	"barriers/api/internal/savedsearch"
	"barriers/api/internal/team"
)

// MemoryStore keeps everything in process. Transactions are serialised and
// work on a copy that replaces the live state on commit.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	barriers      map[uuid.UUID]*barrier.Barrier
	codeSeq       map[int]int64
	history       []history.Entry
	historySeq    int64
	members       map[uuid.UUID]team.Member
	notes         map[uuid.UUID]notes.Note
	mentions      map[uuid.UUID]notes.Mention
	documents     map[uuid.UUID]notes.Document
	public        map[uuid.UUID]*barrier.PublicBarrier
	publicSeq     int64
	savedSearches map[uuid.UUID]savedsearch.SavedSearch
	users         map[uuid.UUID]User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		barriers:      map[uuid.UUID]*barrier.Barrier{},
		codeSeq:       map[int]int64{},
		members:       map[uuid.UUID]team.Member{},
		notes:         map[uuid.UUID]notes.Note{},
		mentions:      map[uuid.UUID]notes.Mention{},
		documents:     map[uuid.UUID]notes.Document{},
		public:        map[uuid.UUID]*barrier.PublicBarrier{},
		savedSearches: map[uuid.UUID]savedsearch.SavedSearch{},
		users:         map[uuid.UUID]User{},
	}}
}

func (s *memState) clone() *memState {
	out := &memState{
		barriers:      make(map[uuid.UUID]*barrier.Barrier, len(s.barriers)),
		codeSeq:       copyMap(s.codeSeq),
		history:       append([]history.Entry(nil), s.history...),
		historySeq:    s.historySeq,
		members:       copyMap(s.members),
		notes:         copyMap(s.notes),
		mentions:      copyMap(s.mentions),
		documents:     copyMap(s.documents),
		public:        make(map[uuid.UUID]*barrier.PublicBarrier, len(s.public)),
		publicSeq:     s.publicSeq,
		savedSearches: copyMap(s.savedSearches),
		users:         copyMap(s.users),
	}
	for id, b := range s.barriers {
		out.barriers[id] = b.Clone()
	}
	for id, p := range s.public {
		cp := *p
		out.public[id] = &cp
	}
	return out
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(ctx, &memQueries{state: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// direct runs fn against the committed state outside a transaction.
func (s *MemoryStore) direct(fn func(q *memQueries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memQueries{state: s.state})
}

func (s *MemoryStore) NextCodeSequence(ctx context.Context, year int) (seq int64, err error) {
	err = s.direct(func(q *memQueries) error { seq, err = q.NextCodeSequence(ctx, year); return err })
	return seq, err
}

func (s *MemoryStore) InsertBarrier(ctx context.Context, b *barrier.Barrier) error {
	return s.direct(func(q *memQueries) error { return q.InsertBarrier(ctx, b) })
}

func (s *MemoryStore) UpdateBarrier(ctx context.Context, b *barrier.Barrier) error {
	return s.direct(func(q *memQueries) error { return q.UpdateBarrier(ctx, b) })
}

func (s *MemoryStore) GetBarrier(ctx context.Context, id uuid.UUID) (b *barrier.Barrier, err error) {
	err = s.direct(func(q *memQueries) error { b, err = q.GetBarrier(ctx, id); return err })
	return b, err
}

func (s *MemoryStore) LockBarrier(ctx context.Context, id uuid.UUID) (*barrier.Barrier, error) {
	return s.GetBarrier(ctx, id)
}

func (s *MemoryStore) ListBarriers(ctx context.Context) (out []*barrier.Barrier, err error) {
	err = s.direct(func(q *memQueries) error { out, err = q.ListBarriers(ctx); return err })
	return out, err
}

func (s *MemoryStore) AppendHistory(ctx context.Context, entries []history.Entry) error {
	return s.direct(func(q *memQueries) error { return q.AppendHistory(ctx, entries) })
}

func (s *MemoryStore) ListHistory(ctx context.Context, barrierID uuid.UUID) (out []history.Entry, err error) {
	err = s.direct(func(q *memQueries) error { out, err = q.ListHistory(ctx, barrierID); return err })
	return out, err
}

func (s *MemoryStore) HistoryFor(ctx context.Context, ids []uuid.UUID) (out map[uuid.UUID][]history.Entry, err error) {
	err = s.direct(func(q *memQueries) error { out, err = q.HistoryFor(ctx, ids); return err })
	return out, err
}

func (s *MemoryStore) DeleteHistoryEntry(ctx context.Context, barrierID uuid.UUID, entryID int64) (e history.Entry, err error) {
	err = s.direct(func(q *memQueries) error { e, err = q.DeleteHistoryEntry(ctx, barrierID, entryID); return err })
	return e, err
}

func (s *MemoryStore) ListMembers(ctx context.Context, barrierID uuid.UUID) (out []team.Member, err error) {
	err = s.direct(func(q *memQueries) error { out, err = q.ListMembers(ctx, barrierID); return err })
	return out, err
}

func (s *MemoryStore) MembersByBarrier(ctx context.Context) (out map[uuid.UUID][]team.Member, err error) {
	err = s.direct(func(q *memQueries) error { out, err = q.MembersByBarrier(ctx); return err })
	return out, err
}

func (s *MemoryStore) GetMember(ctx context.Context, id uuid.UUID) (m team.Member, err error) {
	err = s.direct(func(q *memQueries) error { m, err = q.GetMember(ctx, id); return err })
	return m, err
}

func (s *MemoryStore) SaveMember(ctx context.Context, m team.Member) error {
	return s.direct(func(q *memQueries) error { return q.SaveMember(ctx, m) })
}

func (s *MemoryStore) ListNotes(ctx context.Context, barrierID uuid.UUID, kind notes.Kind) (out []notes.Note, err error) {
	err = s.direct(func(q *memQueries) error { out, err = q.ListNotes(ctx, barrierID, kind); return err })
	return out, err
}

func (s *MemoryStore) GetNote(ctx context.Context, id uuid.UUID) (n notes.Note, err error) {
	err = s.direct(func(q *memQueries) error { n, err = q.GetNote(ctx, id); return err })
	return n, err
}

func (s *MemoryStore) SaveNote(ctx context.Context, n notes.Note) error {
	return s.direct(func(q *memQueries) error { return q.SaveNote(ctx, n) })
}

func (s *MemoryStore) InsertMentions(ctx context.Context, mentions []notes.Mention) error {
	return s.direct(func(q *memQueries) error { return q.InsertMentions(ctx, mentions) })
}

func (s *MemoryStore) MentionsForNote(ctx context.Context, noteID uuid.UUID) (out []notes.Mention, err error) {
	err = s.direct(func(q *memQueries) error { out, err = q.MentionsForNote(ctx, noteID); return err })
	return out, err
}

func (s *MemoryStore) ListMentions(ctx context.Context, recipient uuid.UUID) (out []notes.Mention, err error) {
	err = s.direct(func(q *memQueries) error { out, err = q.ListMentions(ctx, recipient); return err })
	return out, err
}

func (s *MemoryStore) GetMention(ctx context.Context, id uuid.UUID) (m notes.Mention, err error) {
	err = s.direct(func(q *memQueries) error { m, err = q.GetMention(ctx, id); return err })
	return m, err
}

func (s *MemoryStore) SaveMention(ctx context.Context, m notes.Mention) error {
	return s.direct(func(q *memQueries) error { return q.SaveMention(ctx, m) })
}

func (s *MemoryStore) SaveDocument(ctx context.Context, d notes.Document) error {
	return s.direct(func(q *memQueries) error { return q.SaveDocument(ctx, d) })
}

func (s *MemoryStore) GetDocument(ctx context.Context, id uuid.UUID) (d notes.Document, err error) {
	err = s.direct(func(q *memQueries) error { d, err = q.GetDocument(ctx, id); return err })
	return d, err
}

func (s *MemoryStore) PurgeableDocuments(ctx context.Context) (out []notes.Document, err error) {
	err = s.direct(func(q *memQueries) error { out, err = q.PurgeableDocuments(ctx); return err })
	return out, err
}

func (s *MemoryStore) GetPublicBarrier(ctx context.Context, barrierID uuid.UUID) (p *barrier.PublicBarrier, err error) {
	err = s.direct(func(q *memQueries) error { p, err = q.GetPublicBarrier(ctx, barrierID); return err })
	return p, err
}

func (s *MemoryStore) InsertPublicBarrier(ctx context.Context, p *barrier.PublicBarrier) error {
	return s.direct(func(q *memQueries) error { return q.InsertPublicBarrier(ctx, p) })
}

func (s *MemoryStore) UpdatePublicBarrier(ctx context.Context, p *barrier.PublicBarrier) error {
	return s.direct(func(q *memQueries) error { return q.UpdatePublicBarrier(ctx, p) })
}

func (s *MemoryStore) ListSavedSearches(ctx context.Context, userID uuid.UUID) (out []savedsearch.SavedSearch, err error) {
	err = s.direct(func(q *memQueries) error { out, err = q.ListSavedSearches(ctx, userID); return err })
	return out, err
}

func (s *MemoryStore) AllSavedSearches(ctx context.Context) (out []savedsearch.SavedSearch, err error) {
	err = s.direct(func(q *memQueries) error { out, err = q.AllSavedSearches(ctx); return err })
	return out, err
}

func (s *MemoryStore) GetSavedSearch(ctx context.Context, id uuid.UUID) (out savedsearch.SavedSearch, err error) {
	err = s.direct(func(q *memQueries) error { out, err = q.GetSavedSearch(ctx, id); return err })
	return out, err
}

func (s *MemoryStore) SaveSavedSearch(ctx context.Context, search savedsearch.SavedSearch) error {
	return s.direct(func(q *memQueries) error { return q.SaveSavedSearch(ctx, search) })
}

func (s *MemoryStore) SetSavedSearchNotified(ctx context.Context, id uuid.UUID, cursor savedsearch.Cursor) error {
	return s.direct(func(q *memQueries) error { return q.SetSavedSearchNotified(ctx, id, cursor) })
}

func (s *MemoryStore) DeleteSavedSearch(ctx context.Context, id uuid.UUID) error {
	return s.direct(func(q *memQueries) error { return q.DeleteSavedSearch(ctx, id) })
}

func (s *MemoryStore) UpsertUser(ctx context.Context, u User) error {
	return s.direct(func(q *memQueries) error { return q.UpsertUser(ctx, u) })
}

func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (u User, err error) {
	err = s.direct(func(q *memQueries) error { u, err = q.GetUser(ctx, id); return err })
	return u, err
}

func (s *MemoryStore) UsersByEmail(ctx context.Context, emails []string) (out []User, err error) {
	err = s.direct(func(q *memQueries) error { out, err = q.UsersByEmail(ctx, emails); return err })
	return out, err
}

// memQueries operates on one state without locking; the caller holds the
// store mutex.
type memQueries struct {
	state *memState
}

func (q *memQueries) NextCodeSequence(_ context.Context, year int) (int64, error) {
	q.state.codeSeq[year]++
	return q.state.codeSeq[year], nil
}

func (q *memQueries) InsertBarrier(_ context.Context, b *barrier.Barrier) error {
	if _, ok := q.state.barriers[b.ID]; ok {
		return ErrConflict
	}
	for _, existing := range q.state.barriers {
		if existing.Code == b.Code {
			return ErrConflict
		}
	}
	q.state.barriers[b.ID] = b.Clone()
	return nil
}

func (q *memQueries) UpdateBarrier(_ context.Context, b *barrier.Barrier) error {
	if _, ok := q.state.barriers[b.ID]; !ok {
		return ErrNotFound
	}
	q.state.barriers[b.ID] = b.Clone()
	return nil
}

func (q *memQueries) GetBarrier(_ context.Context, id uuid.UUID) (*barrier.Barrier, error) {
	b, ok := q.state.barriers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (q *memQueries) LockBarrier(ctx context.Context, id uuid.UUID) (*barrier.Barrier, error) {
	return q.GetBarrier(ctx, id)
}

func (q *memQueries) ListBarriers(_ context.Context) ([]*barrier.Barrier, error) {
	out := make([]*barrier.Barrier, 0, len(q.state.barriers))
	for _, b := range q.state.barriers {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (q *memQueries) AppendHistory(_ context.Context, entries []history.Entry) error {
	for _, e := range entries {
		q.state.historySeq++
		e.ID = q.state.historySeq
		q.state.history = append(q.state.history, e)
	}
	return nil
}

func (q *memQueries) ListHistory(_ context.Context, barrierID uuid.UUID) ([]history.Entry, error) {
	out := []history.Entry{}
	for _, e := range q.state.history {
		if e.BarrierID == barrierID {
			out = append(out, e)
		}
	}
	history.Sort(out)
	return out, nil
}

func (q *memQueries) HistoryFor(_ context.Context, ids []uuid.UUID) (map[uuid.UUID][]history.Entry, error) {
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[uuid.UUID][]history.Entry, len(ids))
	for _, e := range q.state.history {
		if want[e.BarrierID] {
			out[e.BarrierID] = append(out[e.BarrierID], e)
		}
	}
	for id := range out {
		history.Sort(out[id])
	}
	return out, nil
}

func (q *memQueries) DeleteHistoryEntry(_ context.Context, barrierID uuid.UUID, entryID int64) (history.Entry, error) {
	for i, e := range q.state.history {
		if e.ID == entryID && e.BarrierID == barrierID {
			q.state.history = append(q.state.history[:i:i], q.state.history[i+1:]...)
			return e, nil
		}
	}
	return history.Entry{}, ErrNotFound
}

func (q *memQueries) ListMembers(_ context.Context, barrierID uuid.UUID) ([]team.Member, error) {
	out := []team.Member{}
	for _, m := range q.state.members {
		if m.BarrierID == barrierID {
			out = append(out, m)
		}
	}
	sortMembers(out)
	return out, nil
}

func (q *memQueries) MembersByBarrier(_ context.Context) (map[uuid.UUID][]team.Member, error) {
	out := map[uuid.UUID][]team.Member{}
	for _, m := range q.state.members {
		out[m.BarrierID] = append(out[m.BarrierID], m)
	}
	for id := range out {
		sortMembers(out[id])
	}
	return out, nil
}

func sortMembers(members []team.Member) {
	sort.Slice(members, func(i, j int) bool {
		if !members[i].CreatedOn.Equal(members[j].CreatedOn) {
			return members[i].CreatedOn.Before(members[j].CreatedOn)
		}
		return members[i].ID.String() < members[j].ID.String()
	})
}

func (q *memQueries) GetMember(_ context.Context, id uuid.UUID) (team.Member, error) {
	m, ok := q.state.members[id]
	if !ok {
		return team.Member{}, ErrNotFound
	}
	return m, nil
}

func (q *memQueries) SaveMember(_ context.Context, m team.Member) error {
	q.state.members[m.ID] = m
	return nil
}

func (q *memQueries) ListNotes(_ context.Context, barrierID uuid.UUID, kind notes.Kind) ([]notes.Note, error) {
	out := []notes.Note{}
	for _, n := range q.state.notes {
		if n.BarrierID == barrierID && n.Kind == kind {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedOn.Equal(out[j].CreatedOn) {
			return out[i].CreatedOn.After(out[j].CreatedOn)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (q *memQueries) GetNote(_ context.Context, id uuid.UUID) (notes.Note, error) {
	n, ok := q.state.notes[id]
	if !ok {
		return notes.Note{}, ErrNotFound
	}
	return n, nil
}

func (q *memQueries) SaveNote(_ context.Context, n notes.Note) error {
	n.Documents = append([]uuid.UUID(nil), n.Documents...)
	q.state.notes[n.ID] = n
	return nil
}

func (q *memQueries) InsertMentions(_ context.Context, mentions []notes.Mention) error {
	for _, m := range mentions {
		q.state.mentions[m.ID] = m
	}
	return nil
}

func (q *memQueries) MentionsForNote(_ context.Context, noteID uuid.UUID) ([]notes.Mention, error) {
	return q.mentionsWhere(func(m notes.Mention) bool { return m.NoteID == noteID }), nil
}

func (q *memQueries) ListMentions(_ context.Context, recipient uuid.UUID) ([]notes.Mention, error) {
	return q.mentionsWhere(func(m notes.Mention) bool { return m.Recipient == recipient }), nil
}

func (q *memQueries) mentionsWhere(keep func(notes.Mention) bool) []notes.Mention {
	out := []notes.Mention{}
	for _, m := range q.state.mentions {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedOn.Equal(out[j].CreatedOn) {
			return out[i].CreatedOn.After(out[j].CreatedOn)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (q *memQueries) GetMention(_ context.Context, id uuid.UUID) (notes.Mention, error) {
	m, ok := q.state.mentions[id]
	if !ok {
		return notes.Mention{}, ErrNotFound
	}
	return m, nil
}

func (q *memQueries) SaveMention(_ context.Context, m notes.Mention) error {
	if _, ok := q.state.mentions[m.ID]; !ok {
		return ErrNotFound
	}
	q.state.mentions[m.ID] = m
	return nil
}

func (q *memQueries) SaveDocument(_ context.Context, d notes.Document) error {
	q.state.documents[d.ID] = d
	return nil
}

func (q *memQueries) GetDocument(_ context.Context, id uuid.UUID) (notes.Document, error) {
	d, ok := q.state.documents[id]
	if !ok {
		return notes.Document{}, ErrNotFound
	}
	return d, nil
}

func (q *memQueries) PurgeableDocuments(_ context.Context) ([]notes.Document, error) {
	out := []notes.Document{}
	for _, d := range q.state.documents {
		if d.Detached && d.PurgedOn == nil {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (q *memQueries) GetPublicBarrier(_ context.Context, barrierID uuid.UUID) (*barrier.PublicBarrier, error) {
	p, ok := q.state.public[barrierID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (q *memQueries) InsertPublicBarrier(_ context.Context, p *barrier.PublicBarrier) error {
	if _, ok := q.state.public[p.BarrierID]; ok {
		return ErrConflict
	}
	q.state.publicSeq++
	p.ID = q.state.publicSeq
	cp := *p
	q.state.public[p.BarrierID] = &cp
	return nil
}

func (q *memQueries) UpdatePublicBarrier(_ context.Context, p *barrier.PublicBarrier) error {
	if _, ok := q.state.public[p.BarrierID]; !ok {
		return ErrNotFound
	}
	cp := *p
	q.state.public[p.BarrierID] = &cp
	return nil
}

func (q *memQueries) ListSavedSearches(_ context.Context, userID uuid.UUID) ([]savedsearch.SavedSearch, error) {
	out := []savedsearch.SavedSearch{}
	for _, s := range q.state.savedSearches {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sortSavedSearches(out)
	return out, nil
}

func (q *memQueries) AllSavedSearches(_ context.Context) ([]savedsearch.SavedSearch, error) {
	out := make([]savedsearch.SavedSearch, 0, len(q.state.savedSearches))
	for _, s := range q.state.savedSearches {
		out = append(out, s)
	}
	sortSavedSearches(out)
	return out, nil
}

func sortSavedSearches(out []savedsearch.SavedSearch) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
}

func (q *memQueries) GetSavedSearch(_ context.Context, id uuid.UUID) (savedsearch.SavedSearch, error) {
	s, ok := q.state.savedSearches[id]
	if !ok {
		return savedsearch.SavedSearch{}, ErrNotFound
	}
	return s, nil
}

func (q *memQueries) SaveSavedSearch(_ context.Context, s savedsearch.SavedSearch) error {
	q.state.savedSearches[s.ID] = s
	return nil
}

func (q *memQueries) SetSavedSearchNotified(_ context.Context, id uuid.UUID, cursor savedsearch.Cursor) error {
	s, ok := q.state.savedSearches[id]
	if !ok {
		return ErrNotFound
	}
	s.LastNotified = cursor
	q.state.savedSearches[id] = s
	return nil
}

func (q *memQueries) DeleteSavedSearch(_ context.Context, id uuid.UUID) error {
	if _, ok := q.state.savedSearches[id]; !ok {
		return ErrNotFound
	}
	delete(q.state.savedSearches, id)
	return nil
}

func (q *memQueries) UpsertUser(_ context.Context, u User) error {
	if existing, ok := q.state.users[u.ID]; ok {
		u.CreatedOn = existing.CreatedOn
	}
	u.Email = strings.ToLower(u.Email)
	q.state.users[u.ID] = u
	return nil
}

func (q *memQueries) GetUser(_ context.Context, id uuid.UUID) (User, error) {
	u, ok := q.state.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (q *memQueries) UsersByEmail(_ context.Context, emails []string) ([]User, error) {
	want := map[string]bool{}
	for _, e := range emails {
		want[strings.ToLower(e)] = true
	}
	out := []User{}
	for _, u := range q.state.users {
		if want[u.Email] {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

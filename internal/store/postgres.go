package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"barriers/api/internal/barrier"
	"barriers/api/internal/history"
	"barriers/api/internal/notes"
	"barriers/api/internal/savedsearch"
	"barriers/api/internal/team"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore keeps each aggregate in a JSONB column next to the key
// columns the queries filter and lock on.
type PostgresStore struct {
	pgQueries
	db *sql.DB
}

// DefaultLockTimeout bounds how long LockBarrier waits behind another
// writer before giving up with ErrConflict.
const DefaultLockTimeout = 2 * time.Second

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{db: db, lockTimeout: DefaultLockTimeout}, db: db}
}

// SetLockTimeout changes how long a transaction waits for a barrier row
// lock. Non-positive values keep the current setting.
func (s *PostgresStore) SetLockTimeout(d time.Duration) {
	if d > 0 {
		s.lockTimeout = d
	}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, &pgQueries{db: tx, lockTimeout: s.lockTimeout}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapPgError(err))
	}
	return nil
}

// mapPgError turns lock, serialisation and uniqueness failures into
// ErrConflict.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01", "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}

type pgQueries struct {
	db          dbtx
	lockTimeout time.Duration
}

func (q *pgQueries) NextCodeSequence(ctx context.Context, year int) (int64, error) {
	var seq int64
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO barrier_code_sequences (year, last_value)
		VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_value = barrier_code_sequences.last_value + 1
		RETURNING last_value
	`, year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next code sequence: %w", err)
	}
	return seq, nil
}

func (q *pgQueries) InsertBarrier(ctx context.Context, b *barrier.Barrier) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode barrier: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO barriers (id, code, draft, archived, status, created_by, reported_on, modified_on, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, b.ID, b.Code, b.Draft, b.Archived, int(b.Status), b.CreatedBy, b.ReportedOn, b.ModifiedOn, data)
	if err != nil {
		return fmt.Errorf("insert barrier: %w", mapPgError(err))
	}
	return nil
}

func (q *pgQueries) UpdateBarrier(ctx context.Context, b *barrier.Barrier) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode barrier: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE barriers
		SET draft=$2, archived=$3, status=$4, reported_on=$5, modified_on=$6, data=$7
		WHERE id=$1
	`, b.ID, b.Draft, b.Archived, int(b.Status), b.ReportedOn, b.ModifiedOn, data)
	if err != nil {
		return fmt.Errorf("update barrier: %w", mapPgError(err))
	}
	return requireRow(res)
}

func (q *pgQueries) GetBarrier(ctx context.Context, id uuid.UUID) (*barrier.Barrier, error) {
	return q.loadBarrier(ctx, `SELECT data FROM barriers WHERE id=$1`, id)
}

func (q *pgQueries) LockBarrier(ctx context.Context, id uuid.UUID) (*barrier.Barrier, error) {
	if q.lockTimeout > 0 {
		// SET does not take bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", q.lockTimeout.Milliseconds())
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("set lock timeout: %w", err)
		}
	}
	return q.loadBarrier(ctx, `SELECT data FROM barriers WHERE id=$1 FOR UPDATE`, id)
}

func (q *pgQueries) loadBarrier(ctx context.Context, query string, id uuid.UUID) (*barrier.Barrier, error) {
	var raw []byte
	err := q.db.QueryRowContext(ctx, query, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load barrier: %w", mapPgError(err))
	}
	var b barrier.Barrier
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode barrier: %w", err)
	}
	return &b, nil
}

func (q *pgQueries) ListBarriers(ctx context.Context) ([]*barrier.Barrier, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT data FROM barriers ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list barriers: %w", err)
	}
	defer rows.Close()
	out := []*barrier.Barrier{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan barrier: %w", err)
		}
		var b barrier.Barrier
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode barrier: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (q *pgQueries) AppendHistory(ctx context.Context, entries []history.Entry) error {
	for _, e := range entries {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO barrier_history (barrier_id, model, object_id, field, old_value, new_value, actor, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, e.BarrierID, e.Model, e.ObjectID, e.Field, nullJSON(e.OldValue), nullJSON(e.NewValue), e.Actor, e.RecordedAt)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}
	return nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

const historyColumns = `id, barrier_id, model, object_id, field, old_value, new_value, actor, recorded_at`

func (q *pgQueries) ListHistory(ctx context.Context, barrierID uuid.UUID) ([]history.Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM barrier_history
		WHERE barrier_id=$1
		ORDER BY recorded_at, id
	`, barrierID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	out := []history.Entry{}
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *pgQueries) HistoryFor(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]history.Entry, error) {
	out := make(map[uuid.UUID][]history.Entry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM barrier_history
		WHERE barrier_id = ANY($1::uuid[])
		ORDER BY recorded_at, id
	`, keys)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out[e.BarrierID] = append(out[e.BarrierID], e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(row scanner) (history.Entry, error) {
	var e history.Entry
	var oldValue, newValue []byte
	if err := row.Scan(&e.ID, &e.BarrierID, &e.Model, &e.ObjectID, &e.Field, &oldValue, &newValue, &e.Actor, &e.RecordedAt); err != nil {
		return history.Entry{}, fmt.Errorf("scan history: %w", err)
	}
	if oldValue != nil {
		e.OldValue = json.RawMessage(oldValue)
	}
	if newValue != nil {
		e.NewValue = json.RawMessage(newValue)
	}
	e.RecordedAt = e.RecordedAt.UTC()
	return e, nil
}

// DeleteHistoryEntry lifts the append-only guard for the current
// transaction only.
func (q *pgQueries) DeleteHistoryEntry(ctx context.Context, barrierID uuid.UUID, entryID int64) (history.Entry, error) {
	if _, err := q.db.ExecContext(ctx, `SET LOCAL barriers.allow_history_delete = 'on'`); err != nil {
		return history.Entry{}, fmt.Errorf("allow history delete: %w", err)
	}
	row := q.db.QueryRowContext(ctx, `
		DELETE FROM barrier_history
		WHERE id=$1 AND barrier_id=$2
		RETURNING `+historyColumns, entryID, barrierID)
	e, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return history.Entry{}, ErrNotFound
	}
	if err != nil {
		return history.Entry{}, fmt.Errorf("delete history: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, `SET LOCAL barriers.allow_history_delete = 'off'`); err != nil {
		return history.Entry{}, fmt.Errorf("restore history guard: %w", err)
	}
	return e, nil
}

func (q *pgQueries) ListMembers(ctx context.Context, barrierID uuid.UUID) ([]team.Member, error) {
	out := []team.Member{}
	err := q.queryJSON(ctx, func(raw []byte) error {
		var m team.Member
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	}, `SELECT data FROM barrier_members WHERE barrier_id=$1 ORDER BY created_on, id`, barrierID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return out, nil
}

func (q *pgQueries) MembersByBarrier(ctx context.Context) (map[uuid.UUID][]team.Member, error) {
	out := map[uuid.UUID][]team.Member{}
	err := q.queryJSON(ctx, func(raw []byte) error {
		var m team.Member
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		out[m.BarrierID] = append(out[m.BarrierID], m)
		return nil
	}, `SELECT data FROM barrier_members ORDER BY created_on, id`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return out, nil
}

func (q *pgQueries) GetMember(ctx context.Context, id uuid.UUID) (team.Member, error) {
	var m team.Member
	if err := q.getJSON(ctx, &m, `SELECT data FROM barrier_members WHERE id=$1`, id); err != nil {
		return team.Member{}, err
	}
	return m, nil
}

func (q *pgQueries) SaveMember(ctx context.Context, m team.Member) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode member: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO barrier_members (id, barrier_id, user_id, role, is_default, archived, created_on, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET role=EXCLUDED.role, archived=EXCLUDED.archived, data=EXCLUDED.data
	`, m.ID, m.BarrierID, m.UserID, string(m.Role), m.Default, m.Archived, m.CreatedOn, data)
	if err != nil {
		return fmt.Errorf("save member: %w", mapPgError(err))
	}
	return nil
}

func (q *pgQueries) ListNotes(ctx context.Context, barrierID uuid.UUID, kind notes.Kind) ([]notes.Note, error) {
	out := []notes.Note{}
	err := q.queryJSON(ctx, func(raw []byte) error {
		var n notes.Note
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		out = append(out, n)
		return nil
	}, `SELECT data FROM notes WHERE barrier_id=$1 AND kind=$2 ORDER BY created_on DESC, id`, barrierID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return out, nil
}

func (q *pgQueries) GetNote(ctx context.Context, id uuid.UUID) (notes.Note, error) {
	var n notes.Note
	if err := q.getJSON(ctx, &n, `SELECT data FROM notes WHERE id=$1`, id); err != nil {
		return notes.Note{}, err
	}
	return n, nil
}

func (q *pgQueries) SaveNote(ctx context.Context, n notes.Note) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode note: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO notes (id, barrier_id, kind, archived, created_on, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET archived=EXCLUDED.archived, data=EXCLUDED.data
	`, n.ID, n.BarrierID, string(n.Kind), n.Archived, n.CreatedOn, data)
	if err != nil {
		return fmt.Errorf("save note: %w", err)
	}
	return nil
}

func (q *pgQueries) InsertMentions(ctx context.Context, mentions []notes.Mention) error {
	for _, m := range mentions {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode mention: %w", err)
		}
		_, err = q.db.ExecContext(ctx, `
			INSERT INTO mentions (id, note_id, barrier_id, recipient, created_on, data)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, m.ID, m.NoteID, m.BarrierID, m.Recipient, m.CreatedOn, data)
		if err != nil {
			return fmt.Errorf("insert mention: %w", err)
		}
	}
	return nil
}

func (q *pgQueries) MentionsForNote(ctx context.Context, noteID uuid.UUID) ([]notes.Mention, error) {
	return q.listMentions(ctx, `SELECT data FROM mentions WHERE note_id=$1 ORDER BY created_on DESC, id`, noteID)
}

func (q *pgQueries) ListMentions(ctx context.Context, recipient uuid.UUID) ([]notes.Mention, error) {
	return q.listMentions(ctx, `SELECT data FROM mentions WHERE recipient=$1 ORDER BY created_on DESC, id`, recipient)
}

func (q *pgQueries) listMentions(ctx context.Context, query string, arg uuid.UUID) ([]notes.Mention, error) {
	out := []notes.Mention{}
	err := q.queryJSON(ctx, func(raw []byte) error {
		var m notes.Mention
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	}, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list mentions: %w", err)
	}
	return out, nil
}

func (q *pgQueries) GetMention(ctx context.Context, id uuid.UUID) (notes.Mention, error) {
	var m notes.Mention
	if err := q.getJSON(ctx, &m, `SELECT data FROM mentions WHERE id=$1`, id); err != nil {
		return notes.Mention{}, err
	}
	return m, nil
}

func (q *pgQueries) SaveMention(ctx context.Context, m notes.Mention) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode mention: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `UPDATE mentions SET data=$2 WHERE id=$1`, m.ID, data)
	if err != nil {
		return fmt.Errorf("save mention: %w", err)
	}
	return requireRow(res)
}

// documentRow carries the fields hidden from the API encoding.
type documentRow struct {
	notes.Document
	ObjectKey string `json:"object_key"`
}

func (q *pgQueries) SaveDocument(ctx context.Context, d notes.Document) error {
	data, err := json.Marshal(documentRow{Document: d, ObjectKey: d.ObjectKey})
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO documents (id, detached, purged_on, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET detached=EXCLUDED.detached, purged_on=EXCLUDED.purged_on, data=EXCLUDED.data
	`, d.ID, d.Detached, d.PurgedOn, data)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func (q *pgQueries) GetDocument(ctx context.Context, id uuid.UUID) (notes.Document, error) {
	var row documentRow
	var purged sql.NullTime
	err := q.db.QueryRowContext(ctx, `SELECT data, purged_on FROM documents WHERE id=$1`, id).Scan(jsonDest{&row}, &purged)
	if errors.Is(err, sql.ErrNoRows) {
		return notes.Document{}, ErrNotFound
	}
	if err != nil {
		return notes.Document{}, fmt.Errorf("get document: %w", err)
	}
	return row.document(purged), nil
}

func (q *pgQueries) PurgeableDocuments(ctx context.Context) ([]notes.Document, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT data, purged_on FROM documents WHERE detached AND purged_on IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list purgeable documents: %w", err)
	}
	defer rows.Close()
	out := []notes.Document{}
	for rows.Next() {
		var row documentRow
		var purged sql.NullTime
		if err := rows.Scan(jsonDest{&row}, &purged); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, row.document(purged))
	}
	return out, rows.Err()
}

func (r documentRow) document(purged sql.NullTime) notes.Document {
	d := r.Document
	d.ObjectKey = r.ObjectKey
	if purged.Valid {
		t := purged.Time.UTC()
		d.PurgedOn = &t
	}
	return d
}

func (q *pgQueries) GetPublicBarrier(ctx context.Context, barrierID uuid.UUID) (*barrier.PublicBarrier, error) {
	var p barrier.PublicBarrier
	var id int64
	err := q.db.QueryRowContext(ctx, `SELECT id, data FROM public_barriers WHERE barrier_id=$1`, barrierID).Scan(&id, jsonDest{&p})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get public barrier: %w", err)
	}
	p.ID = id
	return &p, nil
}

func (q *pgQueries) InsertPublicBarrier(ctx context.Context, p *barrier.PublicBarrier) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode public barrier: %w", err)
	}
	err = q.db.QueryRowContext(ctx, `
		INSERT INTO public_barriers (barrier_id, data)
		VALUES ($1, $2)
		RETURNING id
	`, p.BarrierID, data).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert public barrier: %w", mapPgError(err))
	}
	return nil
}

func (q *pgQueries) UpdatePublicBarrier(ctx context.Context, p *barrier.PublicBarrier) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode public barrier: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `UPDATE public_barriers SET data=$2 WHERE barrier_id=$1`, p.BarrierID, data)
	if err != nil {
		return fmt.Errorf("update public barrier: %w", err)
	}
	return requireRow(res)
}

func (q *pgQueries) ListSavedSearches(ctx context.Context, userID uuid.UUID) ([]savedsearch.SavedSearch, error) {
	return q.listSavedSearches(ctx, `SELECT data FROM saved_searches WHERE user_id=$1 ORDER BY name, id`, userID)
}

func (q *pgQueries) AllSavedSearches(ctx context.Context) ([]savedsearch.SavedSearch, error) {
	return q.listSavedSearches(ctx, `SELECT data FROM saved_searches ORDER BY name, id`)
}

func (q *pgQueries) listSavedSearches(ctx context.Context, query string, args ...any) ([]savedsearch.SavedSearch, error) {
	out := []savedsearch.SavedSearch{}
	err := q.queryJSON(ctx, func(raw []byte) error {
		var s savedsearch.SavedSearch
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	}, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list saved searches: %w", err)
	}
	return out, nil
}

func (q *pgQueries) GetSavedSearch(ctx context.Context, id uuid.UUID) (savedsearch.SavedSearch, error) {
	var s savedsearch.SavedSearch
	if err := q.getJSON(ctx, &s, `SELECT data FROM saved_searches WHERE id=$1`, id); err != nil {
		return savedsearch.SavedSearch{}, err
	}
	return s, nil
}

func (q *pgQueries) SaveSavedSearch(ctx context.Context, s savedsearch.SavedSearch) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode saved search: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO saved_searches (id, user_id, name, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, data=EXCLUDED.data
	`, s.ID, s.UserID, s.Name, data)
	if err != nil {
		return fmt.Errorf("save saved search: %w", err)
	}
	return nil
}

func (q *pgQueries) SetSavedSearchNotified(ctx context.Context, id uuid.UUID, cursor savedsearch.Cursor) error {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("encode notified cursor: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE saved_searches SET data = jsonb_set(data, '{last_notified}', $2::jsonb)
		WHERE id=$1
	`, id, raw)
	if err != nil {
		return fmt.Errorf("set notified cursor: %w", err)
	}
	return requireRow(res)
}

func (q *pgQueries) DeleteSavedSearch(ctx context.Context, id uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM saved_searches WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete saved search: %w", err)
	}
	return requireRow(res)
}

func (q *pgQueries) UpsertUser(ctx context.Context, u User) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, last_seen)
		VALUES ($1, LOWER($2), $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET email=EXCLUDED.email, name=EXCLUDED.name, role=EXCLUDED.role, last_seen=EXCLUDED.last_seen
	`, u.ID, u.Email, u.Name, u.Role, u.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

const userColumns = `id, email, name, role, last_seen, created_on`

func (q *pgQueries) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (q *pgQueries) UsersByEmail(ctx context.Context, emails []string) ([]User, error) {
	out := []User{}
	if len(emails) == 0 {
		return out, nil
	}
	lowered := make([]string, len(emails))
	for i, e := range emails {
		lowered[i] = strings.ToLower(e)
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = ANY($1::text[])
		ORDER BY email
	`, lowered)
	if err != nil {
		return nil, fmt.Errorf("users by email: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(row scanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.LastSeen, &u.CreatedOn)
	return u, err
}

func (q *pgQueries) getJSON(ctx context.Context, dest any, query string, args ...any) error {
	err := q.db.QueryRowContext(ctx, query, args...).Scan(jsonDest{dest})
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (q *pgQueries) queryJSON(ctx context.Context, each func(raw []byte) error, query string, args ...any) error {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		if err := each(raw); err != nil {
			return err
		}
	}
	return rows.Err()
}

// jsonDest scans a JSONB column straight into v.
type jsonDest struct{ v any }

func (d jsonDest) Scan(src any) error {
	switch raw := src.(type) {
	case []byte:
		return json.Unmarshal(raw, d.v)
	case string:
		return json.Unmarshal([]byte(raw), d.v)
	case nil:
		return nil
	}
	return fmt.Errorf("unsupported json source %T", src)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

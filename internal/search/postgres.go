package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Postgres implements Searcher with case-insensitive pattern matching over
// the barrier JSONB documents.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *Postgres) Healthy() bool {
	return true
}

func (p *Postgres) Search(ctx context.Context, text string, limit int) ([]uuid.UUID, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(text) + "%"
	rows, err := p.db.QueryContext(ctx, `
		SELECT id
		FROM barriers
		WHERE code ILIKE $1
			OR data->>'title' ILIKE $1
			OR data->>'summary' ILIKE $1
			OR data->>'export_description' ILIKE $1
			OR EXISTS (
				SELECT 1 FROM jsonb_array_elements(COALESCE(data->'companies', '[]'::jsonb)) c
				WHERE c->>'name' ILIKE $1
			)
		ORDER BY modified_on DESC
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres search: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres search scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

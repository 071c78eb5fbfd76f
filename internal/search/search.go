// Package search runs free-text barrier search against Meilisearch, falling
// back to Postgres pattern matching when Meilisearch is unavailable.
package search

import (
	"context"

	"github.com/google/uuid"

	"barriers/api/internal/barrier"
)

// Searcher returns the ids of barriers matching free text.
type Searcher interface {
	Search(ctx context.Context, text string, limit int) ([]uuid.UUID, error)
	Healthy() bool
}

// Indexer pushes barriers into a search index.
type Indexer interface {
	IndexBarriers(records []Record) error
	DeleteBarrier(id uuid.UUID) error
}

// Record is the data we index for a barrier.
type Record struct {
	ID                string   `json:"id"`
	Code              string   `json:"code"`
	Title             string   `json:"title"`
	Summary           string   `json:"summary"`
	ExportDescription string   `json:"export_description"`
	Companies         []string `json:"companies"`
	Draft             bool     `json:"draft"`
	Archived          bool     `json:"archived"`
	Status            int      `json:"status"`
}

// RecordOf builds the index record of b.
func RecordOf(b *barrier.Barrier) Record {
	companies := make([]string, 0, len(b.Companies))
	for _, c := range b.Companies {
		companies = append(companies, c.Name)
	}
	return Record{
		ID:                b.ID.String(),
		Code:              b.Code,
		Title:             b.Title,
		Summary:           b.Summary,
		ExportDescription: b.ExportDescription,
		Companies:         companies,
		Draft:             b.Draft,
		Archived:          b.Archived,
		Status:            int(b.Status),
	}
}

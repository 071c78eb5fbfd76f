package search

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"barriers/api/internal/barrier"
)

// MaxHits caps the number of ids a search contributes to a filter.
const MaxHits = 1000

// Service is the facade that tries Meilisearch first and falls back to
// Postgres. Either side may be nil.
type Service struct {
	meili    *Meili
	fallback Searcher
	logger   *slog.Logger
}

func NewService(meili *Meili, fallback Searcher, logger *slog.Logger) *Service {
	return &Service{meili: meili, fallback: fallback, logger: logger}
}

// Matches returns the set of barrier ids matching text. ok is false when no
// engine could answer and the caller should match locally.
func (s *Service) Matches(ctx context.Context, text string) (map[uuid.UUID]bool, bool) {
	if s == nil {
		return nil, false
	}
	if s.meili != nil && s.meili.Healthy() {
		ids, err := s.meili.Search(ctx, text, MaxHits)
		if err == nil {
			return toSet(ids), true
		}
		s.logger.Warn("meilisearch error, falling back", "error", err)
	}
	if s.fallback == nil {
		return nil, false
	}
	ids, err := s.fallback.Search(ctx, text, MaxHits)
	if err != nil {
		s.logger.Error("fallback search failed", "error", err)
		return nil, false
	}
	return toSet(ids), true
}

func toSet(ids []uuid.UUID) map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

// Index pushes b to Meilisearch without blocking the caller. Failures are
// logged with the barrier id.
func (s *Service) Index(b *barrier.Barrier) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	rec := RecordOf(b)
	go func() {
		if err := s.meili.IndexBarriers([]Record{rec}); err != nil {
			s.logger.Error("index barrier", "barrier_id", rec.ID, "error", err)
		}
	}()
}

// Reindex pushes every barrier to Meilisearch.
func (s *Service) Reindex(barriers []*barrier.Barrier) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	records := make([]Record, 0, len(barriers))
	for _, b := range barriers {
		records = append(records, RecordOf(b))
	}
	if err := s.meili.IndexBarriers(records); err != nil {
		s.logger.Error("reindex barriers", "count", len(records), "error", err)
	}
}

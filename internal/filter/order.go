package filter

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"barriers/api/internal/barrier"
	"barriers/api/internal/reference"
)

// Page is one window of an ordered result.
type Page struct {
	Total int
	Items []Candidate
}

// Apply matches, orders and paginates candidates.
func (q *Query) Apply(candidates []Candidate) Page {
	var matched []Candidate
	for _, c := range candidates {
		if q.Match(c) {
			matched = append(matched, c)
		}
	}
	Order(matched, q.f.Ordering, q.ctx.Index)
	return paginate(matched, q.f.Offset, q.f.Limit)
}

// IDs returns the ids of every matching candidate, unpaginated.
func (q *Query) IDs(candidates []Candidate) []uuid.UUID {
	var out []uuid.UUID
	for _, c := range candidates {
		if q.Match(c) {
			out = append(out, c.Barrier.ID)
		}
	}
	return out
}

func paginate(items []Candidate, offset, limit int) Page {
	p := Page{Total: len(items)}
	if offset >= len(items) {
		p.Items = []Candidate{}
		return p
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	p.Items = items[offset:end]
	return p
}

// Order sorts candidates by ordering ("-" prefix for descending). Ties are
// broken by reported_on descending, then id.
func Order(items []Candidate, ordering string, idx *reference.Index) {
	desc := strings.HasPrefix(ordering, "-")
	key := strings.TrimPrefix(ordering, "-")
	cmp := comparator(key, idx)
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Barrier, items[j].Barrier
		if c := cmp(a, b); c != 0 {
			if desc {
				return c > 0
			}
			return c < 0
		}
		if c := compareTime(a.ReportedOn, b.ReportedOn); c != 0 {
			return c > 0
		}
		return a.ID.String() < b.ID.String()
	})
}

func comparator(key string, idx *reference.Index) func(a, b *barrier.Barrier) int {
	switch key {
	case "modified_on":
		return func(a, b *barrier.Barrier) int { return compareTime(&a.ModifiedOn, &b.ModifiedOn) }
	case "status":
		return func(a, b *barrier.Barrier) int { return int(a.Status) - int(b.Status) }
	case "priority":
		return func(a, b *barrier.Barrier) int { return a.Priority.Rank() - b.Priority.Rank() }
	case "country":
		return func(a, b *barrier.Barrier) int {
			if idx == nil {
				return 0
			}
			return strings.Compare(idx.LocationName(a.Country, a.TradingBloc), idx.LocationName(b.Country, b.TradingBloc))
		}
	case "resolution":
		return func(a, b *barrier.Barrier) int { return compareDateNullsLast(a.EstimatedResolutionDate, b.EstimatedResolutionDate) }
	case "resolved":
		return func(a, b *barrier.Barrier) int { return strings.Compare(resolvedKey(a), resolvedKey(b)) }
	case "reported_on":
		return func(a, b *barrier.Barrier) int { return compareTime(a.ReportedOn, b.ReportedOn) }
	}
	return func(a, b *barrier.Barrier) int { return 0 }
}

// resolvedKey gives every resolved barrier the same value, "a", so they
// sort ahead of unresolved ones and fall through to reported_on.
func resolvedKey(b *barrier.Barrier) string {
	if b.Status.IsResolved() && b.StatusDate != nil {
		return "a"
	}
	return "z"
}

func compareTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

func compareDateNullsLast(a, b *barrier.Date) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return strings.Compare(string(*a), string(*b))
}

// Counts is the dashboard summary.
type Counts struct {
	Barriers struct {
		Total    int `json:"total"`
		Open     int `json:"open"`
		Paused   int `json:"paused"`
		Resolved int `json:"resolved"`
	} `json:"barriers"`
	Reports int `json:"reports"`
	User    struct {
		Barriers int `json:"barriers"`
		Reports  int `json:"reports"`
	} `json:"user"`
}

// Count summarises live barriers and reports; user counts are scoped to
// user.
func Count(all []*barrier.Barrier, user uuid.UUID) Counts {
	var c Counts
	for _, b := range all {
		if b.Archived {
			continue
		}
		if b.Draft {
			c.Reports++
			if b.CreatedBy == user {
				c.User.Reports++
			}
			continue
		}
		c.Barriers.Total++
		switch {
		case b.Status.IsOpen():
			c.Barriers.Open++
		case b.Status == barrier.StatusDormant:
			c.Barriers.Paused++
		case b.Status.IsResolved():
			c.Barriers.Resolved++
		}
		if b.CreatedBy == user {
			c.User.Barriers++
		}
	}
	return c
}

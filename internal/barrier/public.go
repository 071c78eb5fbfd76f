package barrier

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type PublicStatus string

const (
	PublicUnknown     PublicStatus = "UNKNOWN"
	PublicReady       PublicStatus = "READY"
	PublicPublished   PublicStatus = "PUBLISHED"
	PublicUnpublished PublicStatus = "UNPUBLISHED"
)

// PublicBarrier is the externally publishable shadow of a barrier. It keeps
// its own title and summary and snapshots location and sectors when
// published.
type PublicBarrier struct {
	ID               int64        `json:"id"`
	BarrierID        uuid.UUID    `json:"barrier_id"`
	Status           PublicStatus `json:"public_view_status"`
	Title            string       `json:"title"`
	Summary          string       `json:"summary"`
	Country          *uuid.UUID   `json:"country"`
	TradingBloc      string       `json:"trading_bloc"`
	Sectors          []uuid.UUID  `json:"sectors"`
	AllSectors       bool         `json:"all_sectors"`
	BarrierStatus    Status       `json:"status"`
	FirstPublishedOn *time.Time   `json:"first_published_on"`
	LastPublishedOn  *time.Time   `json:"last_published_on"`
	UnpublishedOn    *time.Time   `json:"unpublished_on"`
	ModifiedOn       time.Time    `json:"modified_on"`
	ModifiedBy       uuid.UUID    `json:"modified_by"`
}

// NewPublicBarrier creates the twin lazily on the first publication action.
func NewPublicBarrier(b *Barrier) *PublicBarrier {
	return &PublicBarrier{
		BarrierID: b.ID,
		Status:    PublicUnknown,
	}
}

// Tracked mirrors Barrier.Tracked for the twin's history.
func (p *PublicBarrier) Tracked() Tracked {
	return Tracked{Model: ModelPublicBarrier, ObjectID: p.BarrierID.String(), Fields: map[string]any{
		"public_view_status": p.Status,
		"title":              p.Title,
		"summary":            p.Summary,
		"country":            p.Country,
		"trading_bloc":       p.TradingBloc,
		"sectors":            p.Sectors,
		"all_sectors":        p.AllSectors,
		"status":             p.BarrierStatus,
	}}
}

// PublicPatch edits the independent title and summary.
type PublicPatch struct {
	Title   Field[string] `json:"title"`
	Summary Field[string] `json:"summary"`
}

func (p *PublicBarrier) Apply(patch PublicPatch) error {
	setString(&p.Title, patch.Title)
	setString(&p.Summary, patch.Summary)
	if len(p.Title) > maxTitleLength {
		return FieldErrors{"title": "must be at most 255 characters"}
	}
	return nil
}

var publicTransitions = map[string]struct {
	from []PublicStatus
	to   PublicStatus
}{
	"ready":     {from: []PublicStatus{PublicUnknown, PublicUnpublished}, to: PublicReady},
	"unready":   {from: []PublicStatus{PublicReady}, to: PublicUnknown},
	"publish":   {from: []PublicStatus{PublicReady, PublicPublished}, to: PublicPublished},
	"unpublish": {from: []PublicStatus{PublicPublished}, to: PublicUnpublished},
}

func (p *PublicBarrier) move(action string) error {
	t := publicTransitions[action]
	for _, from := range t.from {
		if p.Status == from {
			p.Status = t.to
			return nil
		}
	}
	return &TransitionError{From: string(p.Status), Event: action}
}

// MarkReady flags the twin as ready for publication review.
func (p *PublicBarrier) MarkReady(b *Barrier) error {
	if b.Draft || b.Archived {
		return &TransitionError{From: string(p.Status), Event: "ready", Reason: "only live barriers can be published"}
	}
	return p.move("ready")
}

func (p *PublicBarrier) MarkUnready() error {
	return p.move("unready")
}

// Publish snapshots the barrier's public facts. Title and summary must have
// been written for the public audience first.
func (p *PublicBarrier) Publish(b *Barrier, now time.Time) error {
	if b.Draft || b.Archived {
		return &TransitionError{From: string(p.Status), Event: "publish", Reason: "only live barriers can be published"}
	}
	errs := FieldErrors{}
	if strings.TrimSpace(p.Title) == "" {
		errs.add("title", "a public title is required")
	}
	if strings.TrimSpace(p.Summary) == "" {
		errs.add("summary", "a public summary is required")
	}
	if err := errs.err(); err != nil {
		return err
	}
	if err := p.move("publish"); err != nil {
		return err
	}
	p.Country = b.Country
	p.TradingBloc = b.TradingBloc
	p.Sectors = append([]uuid.UUID(nil), b.Sectors...)
	p.AllSectors = b.AllSectors
	p.BarrierStatus = b.Status
	published := now
	if p.FirstPublishedOn == nil {
		p.FirstPublishedOn = &published
	}
	p.LastPublishedOn = &published
	p.UnpublishedOn = nil
	return nil
}

func (p *PublicBarrier) Unpublish(now time.Time) error {
	if err := p.move("unpublish"); err != nil {
		return err
	}
	t := now
	p.UnpublishedOn = &t
	return nil
}

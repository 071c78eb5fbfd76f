package barrier

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"barriers/api/internal/reference"
)

var ErrChildNotFound = errors.New("child record not found")

// NewDraft builds an empty report owned by actor. The code is assigned by
// the caller from the store's per-year sequence.
func NewDraft(actor uuid.UUID, code string, now time.Time) *Barrier {
	b := &Barrier{
		ID:                uuid.New(),
		Code:              code,
		Draft:             true,
		Status:            StatusUnfinished,
		PriorityLevel:     PriorityLevelNone,
		TopPriorityStatus: TopPriorityNone,
		CreatedOn:         now,
		CreatedBy:         actor,
		ModifiedOn:        now,
		ModifiedBy:        actor,
	}
	b.Recompute()
	return b
}

type WTOPatch struct {
	WTOHasBeenNotified       Field[bool]        `json:"wto_has_been_notified"`
	WTOShouldBeNotified      Field[bool]        `json:"wto_should_be_notified"`
	CommitteeNotified        Field[string]      `json:"committee_notified"`
	CommitteeNotificationURL Field[string]      `json:"committee_notification_link"`
	MemberStates             Field[[]uuid.UUID] `json:"member_states"`
	CommitteeRaisedIn        Field[string]      `json:"committee_raised_in"`
	RaisedDate               Field[Date]        `json:"raised_date"`
	CaseNumber               Field[string]      `json:"case_number"`
}

// UpdateWTOProfile creates the profile on first write.
func (b *Barrier) UpdateWTOProfile(idx *reference.Index, p WTOPatch) error {
	w := b.WTOProfile
	if w == nil {
		w = &WTOProfile{}
	}
	setBoolPtr(&w.WTOHasBeenNotified, p.WTOHasBeenNotified)
	setBoolPtr(&w.WTOShouldBeNotified, p.WTOShouldBeNotified)
	setString(&w.CommitteeNotified, p.CommitteeNotified)
	setString(&w.CommitteeNotificationURL, p.CommitteeNotificationURL)
	setString(&w.CommitteeRaisedIn, p.CommitteeRaisedIn)
	setString(&w.CaseNumber, p.CaseNumber)
	if p.RaisedDate.Set {
		if p.RaisedDate.Null || p.RaisedDate.Value.IsZero() {
			w.RaisedDate = nil
		} else {
			d := p.RaisedDate.Value
			w.RaisedDate = &d
		}
	}
	if p.MemberStates.Set {
		w.MemberStates = dedupeUUIDs(p.MemberStates.Value)
		for _, id := range w.MemberStates {
			if _, err := idx.CountryOf(id); err != nil {
				return &ReferenceError{Field: "member_states", Err: err}
			}
		}
	}
	b.WTOProfile = w
	return nil
}

type AssessmentInput struct {
	Kind     AssessmentKind `json:"kind"`
	Value    Field[int]     `json:"value"`
	Summary  Field[string]  `json:"summary"`
	Archived Field[bool]    `json:"archived"`
}

func (b *Barrier) AddAssessment(actor uuid.UUID, in AssessmentInput, now time.Time) (*Assessment, error) {
	if !in.Kind.Valid() {
		return nil, FieldErrors{"kind": "unknown assessment kind"}
	}
	for _, a := range b.Assessments {
		if a.Kind == in.Kind && !a.Archived {
			return nil, FieldErrors{"kind": "an active " + string(in.Kind) + " assessment already exists"}
		}
	}
	a := Assessment{ID: uuid.New(), Kind: in.Kind, CreatedBy: actor, CreatedOn: now}
	if err := a.apply(in); err != nil {
		return nil, err
	}
	b.Assessments = append(b.Assessments, a)
	return &b.Assessments[len(b.Assessments)-1], nil
}

func (b *Barrier) UpdateAssessment(id uuid.UUID, in AssessmentInput) (*Assessment, error) {
	for i := range b.Assessments {
		if b.Assessments[i].ID == id {
			if err := b.Assessments[i].apply(in); err != nil {
				return nil, err
			}
			return &b.Assessments[i], nil
		}
	}
	return nil, ErrChildNotFound
}

func (a *Assessment) apply(in AssessmentInput) error {
	if in.Value.Set {
		if in.Value.Value < 0 {
			return FieldErrors{"value": "must not be negative"}
		}
		a.Value = in.Value.Value
	}
	setString(&a.Summary, in.Summary)
	if in.Archived.Set {
		a.Archived = in.Archived.Value
	}
	return nil
}

var progressUpdateKinds = map[string]bool{"general": true, "programme_fund": true, "top_100": true}

type ProgressUpdateInput struct {
	Kind      string        `json:"kind"`
	Status    Field[string] `json:"status"`
	Message   Field[string] `json:"message"`
	NextSteps Field[string] `json:"next_steps"`
}

func (b *Barrier) AddProgressUpdate(actor uuid.UUID, in ProgressUpdateInput, now time.Time) (*ProgressUpdate, error) {
	kind := strings.TrimSpace(in.Kind)
	if kind == "" {
		kind = "general"
	}
	if !progressUpdateKinds[kind] {
		return nil, FieldErrors{"kind": "must be general, programme_fund or top_100"}
	}
	if !notBlank(in.Message.Value) {
		return nil, FieldErrors{"message": "is required"}
	}
	u := ProgressUpdate{ID: uuid.New(), Kind: kind, CreatedBy: actor, CreatedOn: now}
	u.apply(in)
	b.ProgressUpdates = append(b.ProgressUpdates, u)
	return &b.ProgressUpdates[len(b.ProgressUpdates)-1], nil
}

func (b *Barrier) UpdateProgressUpdate(id uuid.UUID, in ProgressUpdateInput) (*ProgressUpdate, error) {
	for i := range b.ProgressUpdates {
		if b.ProgressUpdates[i].ID == id {
			b.ProgressUpdates[i].apply(in)
			return &b.ProgressUpdates[i], nil
		}
	}
	return nil, ErrChildNotFound
}

func (u *ProgressUpdate) apply(in ProgressUpdateInput) {
	setString(&u.Status, in.Status)
	setString(&u.Message, in.Message)
	setString(&u.NextSteps, in.NextSteps)
}

type NextStepInput struct {
	ActionText     Field[string] `json:"next_step_action"`
	Owner          Field[string] `json:"next_step_owner"`
	Status         Field[string] `json:"status"`
	CompletionDate Field[Date]   `json:"completion_date"`
}

func (b *Barrier) AddNextStep(actor uuid.UUID, in NextStepInput, now time.Time) (*NextStepItem, error) {
	if !notBlank(in.ActionText.Value) {
		return nil, FieldErrors{"next_step_action": "is required"}
	}
	n := NextStepItem{ID: uuid.New(), Status: "IN_PROGRESS", CreatedBy: actor, CreatedOn: now}
	n.apply(in)
	b.NextSteps = append(b.NextSteps, n)
	return &b.NextSteps[len(b.NextSteps)-1], nil
}

func (b *Barrier) UpdateNextStep(id uuid.UUID, in NextStepInput) (*NextStepItem, error) {
	for i := range b.NextSteps {
		if b.NextSteps[i].ID == id {
			b.NextSteps[i].apply(in)
			return &b.NextSteps[i], nil
		}
	}
	return nil, ErrChildNotFound
}

func (n *NextStepItem) apply(in NextStepInput) {
	setString(&n.ActionText, in.ActionText)
	setString(&n.Owner, in.Owner)
	setString(&n.Status, in.Status)
	if in.CompletionDate.Set {
		if in.CompletionDate.Null || in.CompletionDate.Value.IsZero() {
			n.CompletionDate = nil
		} else {
			d := in.CompletionDate.Value
			n.CompletionDate = &d
		}
	}
}

type ActionPlanInput struct {
	Owner            Field[uuid.UUID] `json:"owner"`
	StrategicContext Field[string]    `json:"strategic_context"`
	Milestones       Field[int]       `json:"milestones"`
}

func (b *Barrier) UpdateActionPlan(in ActionPlanInput) error {
	p := b.ActionPlan
	if p == nil {
		p = &ActionPlan{}
	}
	if in.Owner.Set {
		if in.Owner.Null {
			p.Owner = nil
		} else {
			o := in.Owner.Value
			p.Owner = &o
		}
	}
	setString(&p.StrategicContext, in.StrategicContext)
	if in.Milestones.Set {
		if in.Milestones.Value < 0 {
			return FieldErrors{"milestones": "must not be negative"}
		}
		p.Milestones = in.Milestones.Value
	}
	b.ActionPlan = p
	return nil
}

// HasActionPlan reports whether an action plan has any content.
func (b *Barrier) HasActionPlan() bool {
	p := b.ActionPlan
	return p != nil && (p.Owner != nil || p.StrategicContext != "" || p.Milestones > 0)
}

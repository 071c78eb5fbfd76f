// Package barrier holds the barrier aggregate: the draft/submitted record,
// its owned children, the progress calculator, and the status, top priority
// and publication state machines.
package barrier

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Barrier is both a draft ("report") and a submitted barrier. Draft is true
// exactly while Status is UNFINISHED; the status a report will be submitted
// with is held in ProposedStatus until then.
type Barrier struct {
	ID       uuid.UUID `json:"id"`
	Code     string    `json:"code"`
	Draft    bool      `json:"draft"`
	Archived bool      `json:"archived"`

	Status         Status  `json:"status"`
	ProposedStatus *Status `json:"proposed_status,omitempty"`
	StatusDate     *Date   `json:"status_date"`
	StatusSummary  string  `json:"status_summary"`

	Country             *uuid.UUID  `json:"country"`
	TradingBloc         string      `json:"trading_bloc"`
	AdminAreas          []uuid.UUID `json:"admin_areas"`
	CausedByTradingBloc *bool       `json:"caused_by_trading_bloc"`

	Term            *Term           `json:"term"`
	SectorsAffected *bool           `json:"sectors_affected"`
	Sectors         []uuid.UUID     `json:"sectors"`
	MainSector      *uuid.UUID      `json:"main_sector"`
	AllSectors      bool            `json:"all_sectors"`
	Categories      []string        `json:"categories"`
	Organisations   []string        `json:"organisations"`
	Tags            []string        `json:"tags"`
	ExportTypes     []string        `json:"export_types"`
	TradeDirection  *TradeDirection `json:"trade_direction"`

	Title              string      `json:"title"`
	Summary            string      `json:"summary"`
	IsSummarySensitive *bool       `json:"is_summary_sensitive"`
	Product            string      `json:"product"`
	Source             Source      `json:"source"`
	OtherSource        string      `json:"other_source"`
	NextStepsSummary   string      `json:"next_steps_summary"`
	ExportDescription  string      `json:"export_description"`
	Companies          []Company   `json:"companies"`
	Commodities        []Commodity `json:"commodities"`

	Priority                    Priority          `json:"priority"`
	PriorityLevel               PriorityLevel     `json:"priority_level"`
	PrioritySummary             string            `json:"priority_summary"`
	TopPriorityStatus           TopPriorityStatus `json:"top_priority_status"`
	TopPriorityReason           string            `json:"top_priority_reason"`
	TopPriorityRejectionSummary string            `json:"top_priority_rejection_summary"`

	EstimatedResolutionDate *Date       `json:"estimated_resolution_date"`
	ERDRequest              *ERDRequest `json:"estimated_resolution_date_request"`

	ArchivedOn          *time.Time    `json:"archived_on"`
	ArchivedBy          *uuid.UUID    `json:"archived_by"`
	ArchivedReason      ArchiveReason `json:"archived_reason"`
	ArchivedExplanation string        `json:"archived_explanation"`
	PreArchiveStatus    *Status       `json:"pre_archive_status,omitempty"`
	UnarchivedOn        *time.Time    `json:"unarchived_on"`
	UnarchivedBy        *uuid.UUID    `json:"unarchived_by"`
	UnarchivedReason    string        `json:"unarchived_reason"`

	WTOProfile      *WTOProfile      `json:"wto_profile"`
	Assessments     []Assessment     `json:"assessments"`
	ProgressUpdates []ProgressUpdate `json:"progress_updates"`
	NextSteps       []NextStepItem   `json:"next_step_items"`
	ActionPlan      *ActionPlan      `json:"action_plan"`

	PublicBarrierID *int64 `json:"public_barrier_id"`

	CompletionPercent int        `json:"completion_percent"`
	ReportedOn        *time.Time `json:"reported_on"`
	CreatedOn         time.Time  `json:"created_on"`
	CreatedBy         uuid.UUID  `json:"created_by"`
	ModifiedOn        time.Time  `json:"modified_on"`
	ModifiedBy        uuid.UUID  `json:"modified_by"`
}

type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Commodity struct {
	Code        string     `json:"code"`
	Country     *uuid.UUID `json:"country,omitempty"`
	TradingBloc string     `json:"trading_bloc,omitempty"`
}

type WTOProfile struct {
	WTOHasBeenNotified       *bool       `json:"wto_has_been_notified"`
	WTOShouldBeNotified      *bool       `json:"wto_should_be_notified"`
	CommitteeNotified        string      `json:"committee_notified"`
	CommitteeNotificationURL string      `json:"committee_notification_link"`
	MemberStates             []uuid.UUID `json:"member_states"`
	CommitteeRaisedIn        string      `json:"committee_raised_in"`
	RaisedDate               *Date       `json:"raised_date"`
	CaseNumber               string      `json:"case_number"`
}

// HasNoInformation reports whether none of the WTO facts have been filled.
func (w *WTOProfile) HasNoInformation() bool {
	if w == nil {
		return true
	}
	return w.WTOHasBeenNotified == nil && w.WTOShouldBeNotified == nil &&
		w.CommitteeNotified == "" && w.CommitteeRaisedIn == "" &&
		w.RaisedDate == nil && w.CaseNumber == "" && len(w.MemberStates) == 0
}

type AssessmentKind string

const (
	AssessmentEconomic       AssessmentKind = "economic"
	AssessmentEconomicImpact AssessmentKind = "economic_impact"
	AssessmentResolvability  AssessmentKind = "resolvability"
	AssessmentStrategic      AssessmentKind = "strategic"
	AssessmentPreliminary    AssessmentKind = "preliminary"
)

func (k AssessmentKind) Valid() bool {
	switch k {
	case AssessmentEconomic, AssessmentEconomicImpact, AssessmentResolvability, AssessmentStrategic, AssessmentPreliminary:
		return true
	}
	return false
}

type Assessment struct {
	ID        uuid.UUID      `json:"id"`
	Kind      AssessmentKind `json:"kind"`
	Value     int            `json:"value"`
	Summary   string         `json:"summary"`
	Archived  bool           `json:"archived"`
	CreatedBy uuid.UUID      `json:"created_by"`
	CreatedOn time.Time      `json:"created_on"`
}

type ProgressUpdate struct {
	ID        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	NextSteps string    `json:"next_steps"`
	CreatedBy uuid.UUID `json:"created_by"`
	CreatedOn time.Time `json:"created_on"`
}

type NextStepItem struct {
	ID             uuid.UUID `json:"id"`
	ActionText     string    `json:"next_step_action"`
	Owner          string    `json:"next_step_owner"`
	Status         string    `json:"status"`
	CompletionDate *Date     `json:"completion_date"`
	CreatedBy      uuid.UUID `json:"created_by"`
	CreatedOn      time.Time `json:"created_on"`
}

type ActionPlan struct {
	Owner            *uuid.UUID `json:"owner"`
	StrategicContext string     `json:"strategic_context"`
	Milestones       int        `json:"milestones"`
}

// ERDRequest is a pending or decided request to move the estimated
// resolution date of a top priority barrier.
type ERDRequest struct {
	ID           uuid.UUID        `json:"id"`
	Status       ERDRequestStatus `json:"status"`
	ProposedDate Date             `json:"estimated_resolution_date"`
	Reason       string           `json:"reason"`
	CreatedBy    uuid.UUID        `json:"created_by"`
	CreatedOn    time.Time        `json:"created_on"`
	DecidedBy    *uuid.UUID       `json:"decided_by"`
	DecidedOn    *time.Time       `json:"decided_on"`
	Decision     string           `json:"decision_reason"`
}

// Tracked is a flattened view of one history-tracked entity.
type Tracked struct {
	Model    string
	ObjectID string
	Fields   map[string]any
}

const (
	ModelBarrier        = "barrier"
	ModelWTOProfile     = "wto_profile"
	ModelAssessment     = "assessment"
	ModelProgressUpdate = "progress_update"
	ModelNextStep       = "next_step"
	ModelActionPlan     = "action_plan"
	ModelERDRequest     = "estimated_resolution_date_request"
	ModelPublicBarrier  = "public_barrier"
)

// Tracked lists the barrier and every embedded child in a deterministic
// order. Status fields of submitted barriers are excluded: they change only
// through the status machine, which records its own entries.
func (b *Barrier) Tracked() []Tracked {
	out := []Tracked{{Model: ModelBarrier, ObjectID: b.ID.String(), Fields: b.trackedFields()}}
	if b.WTOProfile != nil {
		w := b.WTOProfile
		out = append(out, Tracked{Model: ModelWTOProfile, ObjectID: b.ID.String(), Fields: map[string]any{
			"wto_has_been_notified":       w.WTOHasBeenNotified,
			"wto_should_be_notified":      w.WTOShouldBeNotified,
			"committee_notified":          w.CommitteeNotified,
			"committee_notification_link": w.CommitteeNotificationURL,
			"member_states":               w.MemberStates,
			"committee_raised_in":         w.CommitteeRaisedIn,
			"raised_date":                 w.RaisedDate,
			"case_number":                 w.CaseNumber,
		}})
	}
	for _, a := range b.Assessments {
		out = append(out, Tracked{Model: ModelAssessment, ObjectID: a.ID.String(), Fields: map[string]any{
			"kind": a.Kind, "value": a.Value, "summary": a.Summary, "archived": a.Archived,
		}})
	}
	for _, p := range b.ProgressUpdates {
		out = append(out, Tracked{Model: ModelProgressUpdate, ObjectID: p.ID.String(), Fields: map[string]any{
			"kind": p.Kind, "status": p.Status, "message": p.Message, "next_steps": p.NextSteps,
		}})
	}
	for _, n := range b.NextSteps {
		out = append(out, Tracked{Model: ModelNextStep, ObjectID: n.ID.String(), Fields: map[string]any{
			"next_step_action": n.ActionText, "next_step_owner": n.Owner,
			"status": n.Status, "completion_date": n.CompletionDate,
		}})
	}
	if b.ActionPlan != nil {
		out = append(out, Tracked{Model: ModelActionPlan, ObjectID: b.ID.String(), Fields: map[string]any{
			"owner": b.ActionPlan.Owner, "strategic_context": b.ActionPlan.StrategicContext,
			"milestones": b.ActionPlan.Milestones,
		}})
	}
	if r := b.ERDRequest; r != nil {
		out = append(out, Tracked{Model: ModelERDRequest, ObjectID: r.ID.String(), Fields: map[string]any{
			"status": r.Status, "estimated_resolution_date": r.ProposedDate, "reason": r.Reason,
		}})
	}
	return out
}

func (b *Barrier) trackedFields() map[string]any {
	f := map[string]any{
		"draft":                          b.Draft,
		"archived":                       b.Archived,
		"country":                        b.Country,
		"trading_bloc":                   b.TradingBloc,
		"admin_areas":                    b.AdminAreas,
		"caused_by_trading_bloc":         b.CausedByTradingBloc,
		"term":                           b.Term,
		"sectors_affected":               b.SectorsAffected,
		"sectors":                        b.Sectors,
		"main_sector":                    b.MainSector,
		"all_sectors":                    b.AllSectors,
		"categories":                     b.Categories,
		"organisations":                  b.Organisations,
		"tags":                           b.Tags,
		"export_types":                   b.ExportTypes,
		"trade_direction":                b.TradeDirection,
		"title":                          b.Title,
		"summary":                        b.Summary,
		"is_summary_sensitive":           b.IsSummarySensitive,
		"product":                        b.Product,
		"source":                         b.Source,
		"other_source":                   b.OtherSource,
		"next_steps_summary":             b.NextStepsSummary,
		"export_description":             b.ExportDescription,
		"companies":                      b.Companies,
		"commodities":                    b.Commodities,
		"priority":                       b.Priority,
		"priority_level":                 b.PriorityLevel,
		"priority_summary":               b.PrioritySummary,
		"top_priority_status":            b.TopPriorityStatus,
		"top_priority_rejection_summary": b.TopPriorityRejectionSummary,
		"estimated_resolution_date":      b.EstimatedResolutionDate,
		"archived_reason":                b.ArchivedReason,
		"archived_explanation":           b.ArchivedExplanation,
	}
	if b.Draft {
		f["proposed_status"] = b.ProposedStatus
		f["status_date"] = b.StatusDate
		f["status_summary"] = b.StatusSummary
	}
	return f
}

// Clone returns a deep copy.
func (b *Barrier) Clone() *Barrier {
	raw, err := json.Marshal(b)
	if err != nil {
		panic(err)
	}
	var out Barrier
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

// IsResolved reports whether the barrier is, or is drafted as, resolved.
func (b *Barrier) IsResolved() bool {
	return b.effectiveStatus().IsResolved()
}

func (b *Barrier) effectiveStatus() Status {
	if b.Draft && b.ProposedStatus != nil {
		return *b.ProposedStatus
	}
	return b.Status
}

// normalise sorts set-valued fields so reordering alone is not a change.
func (b *Barrier) normalise() {
	sortUUIDs(b.AdminAreas)
	sortUUIDs(b.Sectors)
	sort.Strings(b.Categories)
	sort.Strings(b.Organisations)
	sort.Strings(b.Tags)
	sort.Strings(b.ExportTypes)
}

func sortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

func dedupeUUIDs(ids []uuid.UUID) []uuid.UUID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sortUUIDs(out)
	return out
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

package filter

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"barriers/api/internal/barrier"
	"barriers/api/internal/reference"
	"barriers/api/internal/team"
)

// Candidate is a barrier together with the data the filter needs beyond the
// barrier row itself.
type Candidate struct {
	Barrier *barrier.Barrier
	Members []team.Member
}

// Context carries per-request inputs to matching.
type Context struct {
	User  uuid.UUID
	Index *reference.Index
	// TextMatches, when non-nil, holds the ids returned by the search
	// engine for Filter.Search and replaces local substring matching.
	TextMatches map[uuid.UUID]bool
}

// Query is a filter compiled against a catalogue.
type Query struct {
	f   Filter
	ctx Context

	countries     map[uuid.UUID]bool
	blocs         map[string]bool
	blocCountries map[uuid.UUID]bool
	hasLocation   bool
	publicID      *int64
	search        string
	user, member  *uuid.UUID
	priorities    map[barrier.Priority]bool
	topPriorities map[barrier.TopPriorityStatus]bool
	statuses      map[barrier.Status]bool
	combined      []string
	sectors       map[uuid.UUID]bool
	adminAreas    map[uuid.UUID]bool
	directions    map[barrier.TradeDirection]bool
	categories    map[string]bool
	organisations map[string]bool
	tags          map[string]bool
	exportTypes   map[string]bool
}

// Compile resolves catalogue references in f. Unknown locations and blocs
// yield reference.ErrUnknownReference.
func (f Filter) Compile(ctx Context) (*Query, error) {
	q := &Query{
		f:             f,
		ctx:           ctx,
		countries:     map[uuid.UUID]bool{},
		blocs:         map[string]bool{},
		blocCountries: map[uuid.UUID]bool{},
	}
	for _, token := range f.Locations {
		loc, err := ctx.Index.ResolveLocation(token)
		if err != nil {
			return nil, &barrier.ReferenceError{Field: "location", Err: err}
		}
		for _, c := range loc.Countries {
			q.countries[c] = true
		}
		if loc.Bloc != "" {
			q.blocs[loc.Bloc] = true
		}
	}
	for _, code := range f.CountryTradingBloc {
		bloc, err := ctx.Index.TradingBlocOf(code)
		if err != nil {
			return nil, &barrier.ReferenceError{Field: "country_trading_bloc", Err: err}
		}
		for _, c := range bloc.Members {
			q.blocCountries[c] = true
		}
	}
	q.hasLocation = len(f.Locations) > 0 || len(f.CountryTradingBloc) > 0

	search := strings.TrimSpace(f.Search)
	if rest, ok := cutPrefixFold(search, "PID-"); ok {
		if n, err := strconv.ParseInt(rest, 10, 64); err == nil {
			q.publicID = &n
		}
	}
	q.search = strings.ToLower(search)

	if f.User != nil {
		id := f.User.resolve(ctx.User)
		q.user = &id
	}
	if f.Member != nil {
		id := f.Member.resolve(ctx.User)
		q.member = &id
	}
	q.priorities = setOf(f.Priorities)
	q.topPriorities = setOf(f.TopPriority)
	q.statuses = setOf(f.Statuses)
	q.combined = f.CombinedPriority
	q.sectors = setOf(f.Sectors)
	q.adminAreas = setOf(f.AdminAreas)
	q.directions = setOf(f.TradeDirections)
	q.categories = setOf(f.Categories)
	q.organisations = setOf(f.Organisations)
	q.tags = setOf(f.Tags)
	q.exportTypes = setOf(f.ExportTypes)
	return q, nil
}

func setOf[T comparable](values []T) map[T]bool {
	if len(values) == 0 {
		return nil
	}
	out := make(map[T]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

func anyIn[T comparable](set map[T]bool, values []T) bool {
	for _, v := range values {
		if set[v] {
			return true
		}
	}
	return false
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

// Match reports whether c satisfies every clause of the filter.
func (q *Query) Match(c Candidate) bool {
	b := c.Barrier
	f := q.f
	if b.Archived != f.Archived {
		return false
	}
	if q.hasLocation && !q.matchLocation(b) {
		return false
	}
	if q.adminAreas != nil && !anyIn(q.adminAreas, b.AdminAreas) {
		return false
	}
	if q.statuses != nil && !q.statuses[b.Status] {
		return false
	}
	if r, ok := f.StatusDates[b.Status]; ok && !r.Contains(b.StatusDate) {
		return false
	}
	if r, ok := f.ResolutionDates[b.Status]; ok && !r.Contains(b.EstimatedResolutionDate) {
		return false
	}
	if f.StartDate != nil && !f.StartDate.Contains(b.StatusDate) {
		return false
	}
	if q.priorities != nil && !q.priorities[priorityOrUnknown(b.Priority)] {
		return false
	}
	if q.topPriorities != nil && !q.topPriorities[b.TopPriorityStatus] {
		return false
	}
	if len(q.combined) > 0 && !q.matchCombined(b) {
		return false
	}
	if q.sectors != nil && !q.matchSectors(b) {
		return false
	}
	if q.categories != nil && !anyIn(q.categories, b.Categories) {
		return false
	}
	if q.organisations != nil && !anyIn(q.organisations, b.Organisations) {
		return false
	}
	if q.tags != nil && !anyIn(q.tags, b.Tags) {
		return false
	}
	if q.exportTypes != nil && !anyIn(q.exportTypes, b.ExportTypes) {
		return false
	}
	if q.directions != nil && (b.TradeDirection == nil || !q.directions[*b.TradeDirection]) {
		return false
	}
	if len(f.WTO) > 0 && !matchWTO(b.WTOProfile, f.WTO) {
		return false
	}
	if f.Search != "" && !q.matchSearch(b) {
		return false
	}
	if q.user != nil && b.CreatedBy != *q.user {
		return false
	}
	if q.member != nil && !team.IsMember(c.Members, *q.member) {
		return false
	}
	if f.ReportedAfter != nil && (b.ReportedOn == nil || b.ReportedOn.Before(*f.ReportedAfter)) {
		return false
	}
	if f.ReportedBefore != nil && (b.ReportedOn == nil || b.ReportedOn.After(*f.ReportedBefore)) {
		return false
	}
	if f.HasActionPlan != nil && b.HasActionPlan() != *f.HasActionPlan {
		return false
	}
	if f.Valuation != nil && hasAssessment(b, barrier.AssessmentEconomicImpact) != *f.Valuation {
		return false
	}
	if f.Preliminary != nil && hasAssessment(b, barrier.AssessmentPreliminary) != *f.Preliminary {
		return false
	}
	return true
}

// matchLocation ORs the location tokens. country_trading_bloc adds barriers
// in member countries that were caused by the bloc.
func (q *Query) matchLocation(b *barrier.Barrier) bool {
	if b.Country != nil && q.countries[*b.Country] {
		return true
	}
	if b.TradingBloc != "" && q.blocs[b.TradingBloc] {
		return true
	}
	if b.Country != nil && q.blocCountries[*b.Country] && b.CausedByTradingBloc != nil && *b.CausedByTradingBloc {
		return true
	}
	return false
}

func (q *Query) matchCombined(b *barrier.Barrier) bool {
	for _, v := range q.combined {
		switch v {
		case "APPROVED":
			if b.TopPriorityStatus == barrier.TopPriorityApproved || b.TopPriorityStatus == barrier.TopPriorityRemovalPending {
				return true
			}
		case "PENDING":
			if b.TopPriorityStatus == barrier.TopPriorityApprovalPending {
				return true
			}
		default:
			if string(b.PriorityLevel) == v {
				return true
			}
		}
	}
	return false
}

func (q *Query) matchSectors(b *barrier.Barrier) bool {
	if q.f.OnlyMainSector {
		return b.MainSector != nil && q.sectors[*b.MainSector]
	}
	if b.AllSectors {
		return true
	}
	if b.MainSector != nil && q.sectors[*b.MainSector] {
		return true
	}
	return anyIn(q.sectors, b.Sectors)
}

func (q *Query) matchSearch(b *barrier.Barrier) bool {
	if q.publicID != nil {
		return b.PublicBarrierID != nil && *b.PublicBarrierID == *q.publicID
	}
	if q.ctx.TextMatches != nil {
		return q.ctx.TextMatches[b.ID]
	}
	if strings.Contains(strings.ToLower(b.Code), q.search) {
		return true
	}
	for _, text := range []string{b.Title, b.Summary, b.ExportDescription} {
		if strings.Contains(strings.ToLower(text), q.search) {
			return true
		}
	}
	for _, c := range b.Companies {
		if strings.Contains(strings.ToLower(c.Name), q.search) {
			return true
		}
	}
	return false
}

func matchWTO(w *barrier.WTOProfile, keys []string) bool {
	for _, k := range keys {
		switch k {
		case "has_no_information":
			if w.HasNoInformation() {
				return true
			}
		case "wto_has_been_notified":
			if w != nil && w.WTOHasBeenNotified != nil && *w.WTOHasBeenNotified {
				return true
			}
		case "wto_should_be_notified":
			if w != nil && w.WTOShouldBeNotified != nil && *w.WTOShouldBeNotified {
				return true
			}
		case "has_raised_date":
			if w != nil && w.RaisedDate != nil {
				return true
			}
		case "has_committee_raised_in":
			if w != nil && w.CommitteeRaisedIn != "" {
				return true
			}
		case "has_case_number":
			if w != nil && w.CaseNumber != "" {
				return true
			}
		}
	}
	return false
}

func hasAssessment(b *barrier.Barrier, kind barrier.AssessmentKind) bool {
	for _, a := range b.Assessments {
		if a.Kind == kind && !a.Archived {
			return true
		}
	}
	return false
}

func priorityOrUnknown(p barrier.Priority) barrier.Priority {
	if p == "" {
		return barrier.PriorityUnknown
	}
	return p
}

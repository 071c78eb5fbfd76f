// Package filter parses barrier filter documents, matches barriers against
// them and orders and paginates the result.
package filter

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"barriers/api/internal/barrier"
	"barriers/api/internal/history"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// DateRange is an inclusive range; either bound may be open.
type DateRange struct {
	From barrier.Date
	To   barrier.Date
}

func (r DateRange) Contains(d *barrier.Date) bool {
	if d == nil || d.IsZero() {
		return false
	}
	if !r.From.IsZero() && *d < r.From {
		return false
	}
	if !r.To.IsZero() && *d > r.To {
		return false
	}
	return true
}

// UserRef is "the caller" or a specific user.
type UserRef struct {
	Current bool
	ID      uuid.UUID
}

func (u *UserRef) resolve(current uuid.UUID) uuid.UUID {
	if u.Current {
		return current
	}
	return u.ID
}

// Filter is a parsed filter document. Fields are AND-combined; list values
// are OR-combined.
type Filter struct {
	Locations          []string
	CountryTradingBloc []string
	AdminAreas         []uuid.UUID
	Statuses           []barrier.Status
	Priorities         []barrier.Priority
	TopPriority        []barrier.TopPriorityStatus
	CombinedPriority   []string
	Sectors            []uuid.UUID
	OnlyMainSector     bool
	Categories         []string
	Organisations      []string
	Tags               []string
	ExportTypes        []string
	TradeDirections    []barrier.TradeDirection
	WTO                []string
	Search             string
	User               *UserRef
	Member             *UserRef
	StartDate          *DateRange
	StatusDates        map[barrier.Status]DateRange
	ResolutionDates    map[barrier.Status]DateRange
	ReportedAfter      *time.Time
	ReportedBefore     *time.Time
	HasActionPlan      *bool
	Valuation          *bool
	Preliminary        *bool
	Archived           bool

	Ordering string
	Limit    int
	Offset   int
}

var wtoKeys = map[string]bool{
	"wto_has_been_notified":   true,
	"wto_should_be_notified":  true,
	"has_raised_date":         true,
	"has_committee_raised_in": true,
	"has_case_number":         true,
	"has_no_information":      true,
}

var orderingKeys = map[string]bool{
	"reported_on": true, "modified_on": true, "status": true, "priority": true,
	"country": true, "resolution": true, "resolved": true,
}

// matchKeys are the keys Parse reads into matching criteria.
var matchKeys = map[string]bool{
	"location": true, "country_trading_bloc": true, "admin_areas": true,
	"status": true, "priority": true, "top_priority_status": true,
	"combined_priority": true, "sector": true, "only_main_sector": true,
	"category": true, "organisation": true, "tags": true, "export_types": true,
	"trade_direction": true, "wto": true, "search": true, "user": true,
	"member": true, "start_date": true, "reported_on_after": true,
	"reported_on_before": true, "has_action_plan": true,
	"valuation_assessment": true, "preliminary_assessment": true, "archived": true,
}

// flagKeys are read with parseFlag and default to off.
var flagKeys = map[string]bool{"archived": true, "only_main_sector": true}

// scalarKeys take their first value whole; commas in them are not lists.
var scalarKeys = map[string]bool{
	"search": true, "user": true, "member": true, "start_date": true,
	"reported_on_after": true, "reported_on_before": true, "has_action_plan": true,
	"valuation_assessment": true, "preliminary_assessment": true,
}

func isRangeKey(key string) bool {
	return strings.HasPrefix(key, "status_date_") || strings.HasPrefix(key, "estimated_resolution_date_")
}

func isMatchKey(key string) bool {
	return matchKeys[key] || isRangeKey(key)
}

// Parse reads a filter document from query parameters. Unknown keys are
// ignored so that clients can carry UI state alongside filters.
func Parse(values url.Values) (Filter, error) {
	f := Filter{Limit: DefaultLimit, Ordering: "-reported_on"}
	errs := barrier.FieldErrors{}
	list := func(key string) []string { return splitList(values[key]) }

	f.Locations = list("location")
	f.CountryTradingBloc = list("country_trading_bloc")
	f.AdminAreas = parseUUIDs(errs, "admin_areas", list("admin_areas"))
	for _, v := range list("status") {
		n, err := strconv.Atoi(v)
		if err != nil || !barrier.Status(n).Valid() {
			errs["status"] = "unknown status " + strconv.Quote(v)
			continue
		}
		f.Statuses = append(f.Statuses, barrier.Status(n))
	}
	for _, v := range list("priority") {
		f.Priorities = append(f.Priorities, barrier.Priority(strings.ToUpper(v)))
	}
	for _, v := range list("top_priority_status") {
		s := barrier.TopPriorityStatus(strings.ToUpper(v))
		if !s.Valid() {
			errs["top_priority_status"] = "unknown top priority status " + strconv.Quote(v)
			continue
		}
		f.TopPriority = append(f.TopPriority, s)
	}
	for _, v := range list("combined_priority") {
		f.CombinedPriority = append(f.CombinedPriority, strings.ToUpper(v))
	}
	f.Sectors = parseUUIDs(errs, "sector", list("sector"))
	f.OnlyMainSector = parseFlag(values.Get("only_main_sector"))
	f.Categories = list("category")
	f.Organisations = list("organisation")
	f.Tags = list("tags")
	f.ExportTypes = list("export_types")
	for _, v := range list("trade_direction") {
		n, err := strconv.Atoi(v)
		if err != nil || !barrier.TradeDirection(n).Valid() {
			errs["trade_direction"] = "must be 1 or 2"
			continue
		}
		f.TradeDirections = append(f.TradeDirections, barrier.TradeDirection(n))
	}
	for _, v := range list("wto") {
		if !wtoKeys[v] {
			errs["wto"] = "unknown wto filter " + strconv.Quote(v)
			continue
		}
		f.WTO = append(f.WTO, v)
	}
	f.Search = strings.TrimSpace(values.Get("search"))
	f.User = parseUserRef(errs, "user", values.Get("user"))
	f.Member = parseUserRef(errs, "member", values.Get("member"))
	if v := values.Get("start_date"); v != "" {
		r, err := parseRange(v)
		if err != nil {
			errs["start_date"] = err.Error()
		} else {
			f.StartDate = &r
		}
	}
	for key, vs := range values {
		if len(vs) == 0 || vs[0] == "" {
			continue
		}
		var target map[barrier.Status]DateRange
		var state string
		switch {
		case strings.HasPrefix(key, "status_date_"):
			state = strings.TrimPrefix(key, "status_date_")
			if f.StatusDates == nil {
				f.StatusDates = map[barrier.Status]DateRange{}
			}
			target = f.StatusDates
		case strings.HasPrefix(key, "estimated_resolution_date_"):
			state = strings.TrimPrefix(key, "estimated_resolution_date_")
			if f.ResolutionDates == nil {
				f.ResolutionDates = map[barrier.Status]DateRange{}
			}
			target = f.ResolutionDates
		default:
			continue
		}
		status, ok := barrier.StatusByName(state)
		if !ok {
			errs[key] = "unknown status " + strconv.Quote(state)
			continue
		}
		r, err := parseRange(vs[0])
		if err != nil {
			errs[key] = err.Error()
			continue
		}
		target[status] = r
	}
	f.ReportedAfter = parseTime(errs, "reported_on_after", values.Get("reported_on_after"))
	f.ReportedBefore = parseTime(errs, "reported_on_before", values.Get("reported_on_before"))
	f.HasActionPlan = parseBool(errs, "has_action_plan", values.Get("has_action_plan"))
	f.Valuation = parseWithWithout(errs, "valuation_assessment", values.Get("valuation_assessment"))
	f.Preliminary = parseWithWithout(errs, "preliminary_assessment", values.Get("preliminary_assessment"))
	if v := values.Get("archived"); v != "" {
		f.Archived = parseFlag(v)
	}

	if v := strings.TrimSpace(values.Get("ordering")); v != "" {
		if !orderingKeys[strings.TrimPrefix(v, "-")] {
			errs["ordering"] = "unknown ordering " + strconv.Quote(v)
		} else {
			f.Ordering = v
		}
	}
	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs["limit"] = "must be a positive integer"
		} else {
			f.Limit = min(n, MaxLimit)
		}
	}
	if v := values.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs["offset"] = "must be a non-negative integer"
		} else {
			f.Offset = n
		}
	}
	if len(errs) > 0 {
		return Filter{}, errs
	}
	return f, nil
}

// ScopeFields lists the model-qualified history keys (see history.Entry.Key)
// whose change can move a barrier into or out of the filter's matching set.
// Notes, team members and progress updates record fields with the same
// names, so keys are always qualified.
func (f Filter) ScopeFields() []string {
	set := map[string]bool{}
	add := func(cond bool, model string, fields ...string) {
		if cond {
			for _, x := range fields {
				set[model+"."+x] = true
			}
		}
	}
	add(true, barrier.ModelBarrier, "archived", "draft")
	add(len(f.Locations) > 0 || len(f.CountryTradingBloc) > 0, barrier.ModelBarrier, "country", "trading_bloc", "caused_by_trading_bloc")
	add(len(f.AdminAreas) > 0, barrier.ModelBarrier, "admin_areas")
	statusScoped := len(f.Statuses) > 0 || len(f.StatusDates) > 0 || f.StartDate != nil
	add(statusScoped, history.ModelStatus, "status")
	add(statusScoped, barrier.ModelBarrier, "proposed_status", "status_date")
	add(len(f.Priorities) > 0, barrier.ModelBarrier, "priority")
	add(len(f.TopPriority) > 0 || len(f.CombinedPriority) > 0, barrier.ModelBarrier, "top_priority_status", "priority_level")
	add(len(f.Sectors) > 0, barrier.ModelBarrier, "sectors", "main_sector", "all_sectors")
	add(len(f.Categories) > 0, barrier.ModelBarrier, "categories")
	add(len(f.Organisations) > 0, barrier.ModelBarrier, "organisations")
	add(len(f.Tags) > 0, barrier.ModelBarrier, "tags")
	add(len(f.ExportTypes) > 0, barrier.ModelBarrier, "export_types")
	add(len(f.TradeDirections) > 0, barrier.ModelBarrier, "trade_direction")
	add(len(f.WTO) > 0, barrier.ModelWTOProfile, "wto_has_been_notified", "wto_should_be_notified", "raised_date", "committee_raised_in", "case_number")
	add(f.Search != "", barrier.ModelBarrier, "title", "summary", "export_description", "companies")
	add(len(f.ResolutionDates) > 0, barrier.ModelBarrier, "estimated_resolution_date")
	add(f.HasActionPlan != nil, barrier.ModelActionPlan, "owner", "strategic_context", "milestones")
	add(f.Valuation != nil || f.Preliminary != nil, barrier.ModelAssessment, "kind", "value", "archived")
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Canonical returns the normal form used to compare filter documents. Only
// keys Parse matches on are kept, and flags left at their default of off are
// dropped. Comma lists are split, values are trimmed, de-duplicated and
// sorted, and empty keys are removed. Location
// tokens, including synthetic region ids, are kept as written and compared
// as opaque strings.
func Canonical(values url.Values) map[string][]string {
	out := map[string][]string{}
	for key, vs := range values {
		if !isMatchKey(key) {
			continue
		}
		if flagKeys[key] {
			if len(vs) > 0 && parseFlag(vs[0]) {
				out[key] = []string{"1"}
			}
			continue
		}
		if scalarKeys[key] || isRangeKey(key) {
			if len(vs) > 0 {
				if v := strings.TrimSpace(vs[0]); v != "" {
					out[key] = []string{v}
				}
			}
			continue
		}
		items := splitList(vs)
		if len(items) == 0 {
			continue
		}
		out[key] = items
	}
	return out
}

// Equal reports whether two filter documents select the same barriers by
// construction.
func Equal(a, b url.Values) bool {
	ca, cb := Canonical(a), Canonical(b)
	if len(ca) != len(cb) {
		return false
	}
	for k, va := range ca {
		vb, ok := cb[k]
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if va[i] != vb[i] {
				return false
			}
		}
	}
	return true
}

func splitList(values []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	sort.Strings(out)
	return out
}

func parseUUIDs(errs barrier.FieldErrors, key string, values []string) []uuid.UUID {
	var out []uuid.UUID
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			errs[key] = "invalid id " + strconv.Quote(v)
			continue
		}
		out = append(out, id)
	}
	return out
}

func parseUserRef(errs barrier.FieldErrors, key, value string) *UserRef {
	value = strings.TrimSpace(value)
	switch value {
	case "":
		return nil
	case "1", "me":
		return &UserRef{Current: true}
	}
	id, err := uuid.Parse(value)
	if err != nil {
		errs[key] = `must be "1" or a user id`
		return nil
	}
	return &UserRef{ID: id}
}

func parseRange(value string) (DateRange, error) {
	from, to, _ := strings.Cut(value, ",")
	var r DateRange
	var err error
	if from = strings.TrimSpace(from); from != "" {
		if r.From, err = barrier.ParseDate(from); err != nil {
			return DateRange{}, err
		}
	}
	if to = strings.TrimSpace(to); to != "" {
		if r.To, err = barrier.ParseDate(to); err != nil {
			return DateRange{}, err
		}
	}
	return r, nil
}

func parseTime(errs barrier.FieldErrors, key, value string) *time.Time {
	if value == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t
	}
	d, err := barrier.ParseDate(value)
	if err != nil {
		errs[key] = "must be a date or an RFC 3339 timestamp"
		return nil
	}
	t := d.Time()
	return &t
}

func parseFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func parseBool(errs barrier.FieldErrors, key, value string) *bool {
	if value == "" {
		return nil
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		errs[key] = "must be true or false"
		return nil
	}
	return &v
}

func parseWithWithout(errs barrier.FieldErrors, key, value string) *bool {
	switch strings.ToLower(value) {
	case "":
		return nil
	case "with", "1", "true":
		v := true
		return &v
	case "without", "0", "false":
		v := false
		return &v
	}
	errs[key] = `must be "with" or "without"`
	return nil
}

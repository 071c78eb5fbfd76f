package barrier

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a barrier. Values are part of the wire
// format.
type Status int

const (
	StatusUnfinished        Status = 0
	StatusOpenPendingAction Status = 1
	StatusOpenInProgress    Status = 2
	StatusResolvedInPart    Status = 3
	StatusResolvedInFull    Status = 4
	StatusDormant           Status = 5
	StatusArchived          Status = 6
	StatusUnknown           Status = 7
)

var statusNames = map[Status]string{
	StatusUnfinished:        "UNFINISHED",
	StatusOpenPendingAction: "OPEN_PENDING_ACTION",
	StatusOpenInProgress:    "OPEN_IN_PROGRESS",
	StatusResolvedInPart:    "RESOLVED_IN_PART",
	StatusResolvedInFull:    "RESOLVED_IN_FULL",
	StatusDormant:           "DORMANT",
	StatusArchived:          "ARCHIVED",
	StatusUnknown:           "UNKNOWN",
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) IsOpen() bool {
	return s == StatusOpenPendingAction || s == StatusOpenInProgress
}

func (s Status) IsResolved() bool {
	return s == StatusResolvedInPart || s == StatusResolvedInFull
}

// StatusByName accepts the lower-case state names used in filter keys,
// e.g. "resolved_in_full".
func StatusByName(name string) (Status, bool) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for s, n := range statusNames {
		if n == upper {
			return s, true
		}
	}
	return 0, false
}

type Term int

const (
	TermShortTerm Term = 1
	TermLongTerm  Term = 2
)

func (t Term) Valid() bool { return t == TermShortTerm || t == TermLongTerm }

type TradeDirection int

const (
	TradeDirectionExport TradeDirection = 1
	TradeDirectionImport TradeDirection = 2
)

func (d TradeDirection) Valid() bool {
	return d == TradeDirectionExport || d == TradeDirectionImport
}

type Source string

const (
	SourceCompany Source = "COMPANY"
	SourceTrade   Source = "TRADE"
	SourceGovt    Source = "GOVT"
	SourceOther   Source = "OTHER"
)

func (s Source) Valid() bool {
	switch s {
	case SourceCompany, SourceTrade, SourceGovt, SourceOther:
		return true
	}
	return false
}

type Priority string

const (
	PriorityUnknown Priority = "UNKNOWN"
	PriorityLow     Priority = "LOW"
	PriorityMedium  Priority = "MEDIUM"
	PriorityHigh    Priority = "HIGH"
)

// Rank orders priorities for sorting; unset sorts with UNKNOWN.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	}
	return 0
}

type PriorityLevel string

const (
	PriorityLevelNone      PriorityLevel = "NONE"
	PriorityLevelRegional  PriorityLevel = "REGIONAL"
	PriorityLevelCountry   PriorityLevel = "COUNTRY"
	PriorityLevelWatchlist PriorityLevel = "WATCHLIST"
	PriorityLevelOverseas  PriorityLevel = "OVERSEAS"
)

func (l PriorityLevel) Valid() bool {
	switch l {
	case PriorityLevelNone, PriorityLevelRegional, PriorityLevelCountry, PriorityLevelWatchlist, PriorityLevelOverseas:
		return true
	}
	return false
}

type TopPriorityStatus string

const (
	TopPriorityNone            TopPriorityStatus = "NONE"
	TopPriorityApprovalPending TopPriorityStatus = "APPROVAL_PENDING"
	TopPriorityApproved        TopPriorityStatus = "APPROVED"
	TopPriorityRemovalPending  TopPriorityStatus = "REMOVAL_PENDING"
	TopPriorityResolved        TopPriorityStatus = "RESOLVED"
)

func (s TopPriorityStatus) Valid() bool {
	switch s {
	case TopPriorityNone, TopPriorityApprovalPending, TopPriorityApproved, TopPriorityRemovalPending, TopPriorityResolved:
		return true
	}
	return false
}

type ArchiveReason string

const (
	ArchiveReasonDuplicate   ArchiveReason = "DUPLICATE"
	ArchiveReasonNotABarrier ArchiveReason = "NOT_A_BARRIER"
	ArchiveReasonOther       ArchiveReason = "OTHER"
)

func (r ArchiveReason) Valid() bool {
	return r == ArchiveReasonDuplicate || r == ArchiveReasonNotABarrier || r == ArchiveReasonOther
}

const dateLayout = "2006-01-02"

// Date is a calendar day in YYYY-MM-DD form. The zero value is "unset" and
// lexical order matches chronological order.
type Date string

func ParseDate(value string) (Date, error) {
	value = strings.TrimSpace(value)
	if _, err := time.Parse(dateLayout, value); err != nil {
		return "", fmt.Errorf("invalid date %q: expected YYYY-MM-DD", value)
	}
	return Date(value), nil
}

func DateOf(t time.Time) Date {
	return Date(t.UTC().Format(dateLayout))
}

func (d Date) IsZero() bool { return d == "" }

func (d Date) Time() time.Time {
	t, _ := time.Parse(dateLayout, string(d))
	return t
}

func (d *Date) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" {
		*d = ""
		return nil
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

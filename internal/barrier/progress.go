package barrier

import "strings"

type StageStatus string

const (
	StageNotStarted StageStatus = "NOT STARTED"
	StageInProgress StageStatus = "IN PROGRESS"
	StageCompleted  StageStatus = "COMPLETED"
)

// Stage is one of the five submission checkpoints.
type Stage struct {
	Code   string      `json:"stage_code"`
	Status StageStatus `json:"status_desc"`
}

// Progress evaluates stages 1.1 to 1.5 in order. It is pure.
func (b *Barrier) Progress() []Stage {
	return []Stage{
		{Code: "1.1", Status: b.statusStage()},
		{Code: "1.2", Status: b.locationStage()},
		{Code: "1.3", Status: b.sectorsStage()},
		{Code: "1.4", Status: b.aboutStage()},
		{Code: "1.5", Status: b.summaryStage()},
	}
}

// FirstIncompleteStage returns the first stage that is not COMPLETED.
func (b *Barrier) FirstIncompleteStage() (Stage, bool) {
	for _, stage := range b.Progress() {
		if stage.Status != StageCompleted {
			return stage, true
		}
	}
	return Stage{}, false
}

func (b *Barrier) statusStage() StageStatus {
	status := b.effectiveStatus()
	termSet := b.Term != nil && b.Term.Valid()
	if termSet && status.IsOpen() {
		return StageCompleted
	}
	if status == StatusResolvedInFull && b.StatusDate != nil && !b.StatusDate.IsZero() && notBlank(b.StatusSummary) {
		return StageCompleted
	}
	if b.Term != nil || status != StatusUnfinished || b.IsResolved() || notBlank(b.StatusSummary) {
		return StageInProgress
	}
	return StageNotStarted
}

func (b *Barrier) locationStage() StageStatus {
	located := b.Country != nil || b.TradingBloc != ""
	direction := b.TradeDirection != nil
	switch {
	case located && direction:
		return StageCompleted
	case located || direction:
		return StageInProgress
	}
	return StageNotStarted
}

func (b *Barrier) sectorsStage() StageStatus {
	if b.SectorsAffected == nil {
		return StageNotStarted
	}
	if !*b.SectorsAffected {
		return StageCompleted
	}
	if b.AllSectors != (len(b.Sectors) > 0) {
		return StageCompleted
	}
	return StageInProgress
}

func (b *Barrier) aboutStage() StageStatus {
	product, title, source := notBlank(b.Product), notBlank(b.Title), b.Source != ""
	if product && title && source && (b.Source != SourceOther || notBlank(b.OtherSource)) {
		return StageCompleted
	}
	if product || title || source {
		return StageInProgress
	}
	return StageNotStarted
}

func (b *Barrier) summaryStage() StageStatus {
	if notBlank(b.Summary) {
		return StageCompleted
	}
	if b.IsResolved() {
		return StageInProgress
	}
	return StageNotStarted
}

// Completion weights; they sum to 100.
const (
	weightLocation    = 18
	weightSummary     = 18
	weightSource      = 16
	weightSectors     = 16
	weightCategories  = 16
	weightCommodities = 16
)

// ComputeCompletion is the weighted sum of six completeness signals,
// clamped to 100.
func (b *Barrier) ComputeCompletion() int {
	total := 0
	if b.Country != nil || b.TradingBloc != "" {
		total += weightLocation
	}
	if notBlank(b.Summary) {
		total += weightSummary
	}
	if b.Source != "" {
		total += weightSource
	}
	if len(b.Sectors) > 0 || b.AllSectors {
		total += weightSectors
	}
	if len(b.Categories) > 0 {
		total += weightCategories
	}
	if len(b.Commodities) > 0 {
		total += weightCommodities
	}
	if total > 100 {
		total = 100
	}
	return total
}

// Recompute refreshes derived fields. Call before every save.
func (b *Barrier) Recompute() {
	b.normalise()
	b.CompletionPercent = b.ComputeCompletion()
}

func notBlank(s string) bool {
	return strings.TrimSpace(s) != ""
}

package barrier

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"barriers/api/internal/reference"
)

// Field is an optional patch value. Set is false when the key was absent
// from the JSON body; Null is true when it was an explicit null.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		var zero T
		f.Value = zero
		f.Null = true
		return nil
	}
	return json.Unmarshal(b, &f.Value)
}

// Some builds a set, non-null Field.
func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// Null builds an explicit null Field.
func Null[T any]() Field[T] {
	return Field[T]{Set: true, Null: true}
}

// Patch carries the editable fields of a report or barrier.
type Patch struct {
	Title              Field[string]      `json:"title"`
	Summary            Field[string]      `json:"summary"`
	IsSummarySensitive Field[bool]        `json:"is_summary_sensitive"`
	Product            Field[string]      `json:"product"`
	Source             Field[Source]      `json:"source"`
	OtherSource        Field[string]      `json:"other_source"`
	NextStepsSummary   Field[string]      `json:"next_steps_summary"`
	ExportDescription  Field[string]      `json:"export_description"`
	Companies          Field[[]Company]   `json:"companies"`
	Commodities        Field[[]Commodity] `json:"commodities"`

	Term          Field[Term]   `json:"term"`
	Status        Field[Status] `json:"status"`
	StatusDate    Field[Date]   `json:"status_date"`
	StatusSummary Field[string] `json:"status_summary"`

	Country             Field[uuid.UUID]   `json:"country"`
	TradingBloc         Field[string]      `json:"trading_bloc"`
	AdminAreas          Field[[]uuid.UUID] `json:"admin_areas"`
	CausedByTradingBloc Field[bool]        `json:"caused_by_trading_bloc"`

	SectorsAffected Field[bool]           `json:"sectors_affected"`
	Sectors         Field[[]uuid.UUID]    `json:"sectors"`
	MainSector      Field[uuid.UUID]      `json:"main_sector"`
	AllSectors      Field[bool]           `json:"all_sectors"`
	Categories      Field[[]string]       `json:"categories"`
	Organisations   Field[[]string]       `json:"organisations"`
	Tags            Field[[]string]       `json:"tags"`
	ExportTypes     Field[[]string]       `json:"export_types"`
	TradeDirection  Field[TradeDirection] `json:"trade_direction"`

	Priority        Field[Priority]      `json:"priority"`
	PriorityLevel   Field[PriorityLevel] `json:"priority_level"`
	PrioritySummary Field[string]        `json:"priority_summary"`
}

// TouchesStatus reports whether the patch carries status fields.
func (p *Patch) TouchesStatus() bool {
	return p.Status.Set || p.StatusDate.Set || p.StatusSummary.Set
}

var commodityCode = regexp.MustCompile(`^[0-9]{2,10}$`)

const maxTitleLength = 255

// Apply validates p against the catalogue and the barrier rules and
// writes it onto b. Status fields are applied only to drafts; submitted
// barriers change status through Transition. On error b may be partially
// modified and must be discarded.
func (b *Barrier) Apply(idx *reference.Index, p Patch) error {
	errs := FieldErrors{}
	var refErr error
	ref := func(field string, err error) {
		if err != nil && refErr == nil {
			refErr = &ReferenceError{Field: field, Err: err}
		}
	}

	setString(&b.Title, p.Title)
	if len(b.Title) > maxTitleLength {
		errs.add("title", "must be at most %d characters", maxTitleLength)
	}
	setString(&b.Summary, p.Summary)
	setBoolPtr(&b.IsSummarySensitive, p.IsSummarySensitive)
	setString(&b.Product, p.Product)
	setString(&b.NextStepsSummary, p.NextStepsSummary)
	setString(&b.ExportDescription, p.ExportDescription)
	setString(&b.OtherSource, p.OtherSource)

	if p.Source.Set {
		if p.Source.Null || p.Source.Value == "" {
			b.Source = ""
		} else if !p.Source.Value.Valid() {
			errs.add("source", "unknown source %q", p.Source.Value)
		} else {
			b.Source = p.Source.Value
		}
	}
	if b.Source != SourceOther {
		b.OtherSource = ""
	} else if !b.Draft && !notBlank(b.OtherSource) {
		errs.add("other_source", "required when source is OTHER")
	}

	if p.Companies.Set {
		companies := make([]Company, 0, len(p.Companies.Value))
		for _, c := range p.Companies.Value {
			if !notBlank(c.Name) {
				errs.add("companies", "company name is required")
				continue
			}
			companies = append(companies, Company{ID: strings.TrimSpace(c.ID), Name: strings.TrimSpace(c.Name)})
		}
		b.Companies = companies
	}
	if p.Commodities.Set {
		commodities := make([]Commodity, 0, len(p.Commodities.Value))
		for _, c := range p.Commodities.Value {
			if !commodityCode.MatchString(c.Code) {
				errs.add("commodities", "invalid commodity code %q", c.Code)
				continue
			}
			if c.Country != nil {
				_, err := idx.CountryOf(*c.Country)
				ref("commodities", err)
			}
			if c.TradingBloc != "" {
				_, err := idx.TradingBlocOf(c.TradingBloc)
				ref("commodities", err)
			}
			commodities = append(commodities, c)
		}
		b.Commodities = commodities
	}

	if p.Term.Set {
		if p.Term.Null {
			b.Term = nil
		} else if !p.Term.Value.Valid() {
			errs.add("term", "must be 1 or 2")
		} else {
			t := p.Term.Value
			b.Term = &t
		}
	}

	if b.Draft {
		b.applyDraftStatus(p, errs)
	}

	b.applyLocation(idx, p, errs, ref)
	b.applySectors(idx, p, errs, ref)

	if p.Categories.Set {
		b.Categories = dedupeStrings(p.Categories.Value)
		for _, id := range b.Categories {
			_, err := idx.CategoryOf(id)
			ref("categories", err)
		}
	}
	if p.Organisations.Set {
		b.Organisations = dedupeStrings(p.Organisations.Value)
		for _, id := range b.Organisations {
			_, err := idx.OrganisationOf(id)
			ref("organisations", err)
		}
	}
	if p.Tags.Set {
		b.Tags = dedupeStrings(p.Tags.Value)
		for _, id := range b.Tags {
			_, err := idx.TagOf(id)
			ref("tags", err)
		}
	}
	if p.ExportTypes.Set {
		b.ExportTypes = dedupeStrings(p.ExportTypes.Value)
		for _, name := range b.ExportTypes {
			ref("export_types", idx.ExportTypeOf(name))
		}
	}
	if p.TradeDirection.Set {
		if p.TradeDirection.Null {
			b.TradeDirection = nil
		} else if !p.TradeDirection.Value.Valid() {
			errs.add("trade_direction", "must be 1 (export) or 2 (import)")
		} else {
			d := p.TradeDirection.Value
			b.TradeDirection = &d
		}
	}

	if p.Priority.Set {
		if p.Priority.Null || p.Priority.Value == "" {
			b.Priority = ""
		} else if _, err := idx.PriorityOf(string(p.Priority.Value)); err != nil {
			ref("priority", err)
		} else {
			b.Priority = p.Priority.Value
		}
	}
	if p.PriorityLevel.Set {
		if p.PriorityLevel.Null {
			b.PriorityLevel = PriorityLevelNone
		} else if !p.PriorityLevel.Value.Valid() {
			errs.add("priority_level", "unknown priority level %q", p.PriorityLevel.Value)
		} else {
			b.PriorityLevel = p.PriorityLevel.Value
		}
	}
	setString(&b.PrioritySummary, p.PrioritySummary)

	if err := errs.err(); err != nil {
		return err
	}
	return refErr
}

func (b *Barrier) applyDraftStatus(p Patch, errs FieldErrors) {
	if p.Status.Set {
		switch {
		case p.Status.Null || p.Status.Value == StatusUnfinished:
			b.ProposedStatus = nil
		case p.Status.Value == StatusOpenPendingAction || p.Status.Value == StatusOpenInProgress || p.Status.Value == StatusResolvedInFull:
			s := p.Status.Value
			b.ProposedStatus = &s
		default:
			errs.add("status", "a report can be submitted as 1, 2 or 4, not %d", int(p.Status.Value))
		}
	}
	if p.StatusDate.Set {
		if p.StatusDate.Null || p.StatusDate.Value.IsZero() {
			b.StatusDate = nil
		} else {
			d := p.StatusDate.Value
			b.StatusDate = &d
		}
	}
	setString(&b.StatusSummary, p.StatusSummary)
}

func (b *Barrier) applyLocation(idx *reference.Index, p Patch, errs FieldErrors, ref func(string, error)) {
	countrySet := p.Country.Set && !p.Country.Null
	blocSet := p.TradingBloc.Set && !p.TradingBloc.Null && p.TradingBloc.Value != ""
	if countrySet && blocSet {
		errs.add("trading_bloc", "a barrier is located in a country or a trading bloc, not both")
		return
	}

	previousCountry := b.Country
	switch {
	case countrySet:
		if _, err := idx.CountryOf(p.Country.Value); err != nil {
			ref("country", err)
			return
		}
		c := p.Country.Value
		b.Country = &c
		b.TradingBloc = ""
	case p.Country.Set:
		b.Country = nil
	}
	switch {
	case blocSet:
		if _, err := idx.TradingBlocOf(p.TradingBloc.Value); err != nil {
			ref("trading_bloc", err)
			return
		}
		b.TradingBloc = p.TradingBloc.Value
		b.Country = nil
	case p.TradingBloc.Set:
		b.TradingBloc = ""
	}

	if p.AdminAreas.Set {
		b.AdminAreas = dedupeUUIDs(p.AdminAreas.Value)
	}
	if b.Country == nil {
		b.AdminAreas = nil
	} else {
		for _, id := range b.AdminAreas {
			area, err := idx.AdminAreaOf(id)
			if err != nil {
				ref("admin_areas", err)
				continue
			}
			if area.Country != *b.Country {
				errs.add("admin_areas", "%s is not in the barrier's country", area.Name)
			}
		}
	}

	inBloc := false
	if b.Country != nil {
		_, inBloc = idx.BlocOfCountry(*b.Country)
	}
	if p.CausedByTradingBloc.Set {
		switch {
		case p.CausedByTradingBloc.Null:
			b.CausedByTradingBloc = nil
		case !inBloc:
			errs.add("caused_by_trading_bloc", "only applies to countries in a trading bloc")
		default:
			v := p.CausedByTradingBloc.Value
			b.CausedByTradingBloc = &v
		}
	}
	if !inBloc {
		b.CausedByTradingBloc = nil
	} else if !sameUUID(previousCountry, b.Country) && !p.CausedByTradingBloc.Set {
		b.CausedByTradingBloc = nil
	}
}

func (b *Barrier) applySectors(idx *reference.Index, p Patch, errs FieldErrors, ref func(string, error)) {
	setBoolPtr(&b.SectorsAffected, p.SectorsAffected)

	if p.Sectors.Set {
		b.Sectors = dedupeUUIDs(p.Sectors.Value)
		for _, id := range b.Sectors {
			_, err := idx.SectorOf(id)
			ref("sectors", err)
		}
		if len(b.Sectors) > 0 && !p.AllSectors.Set {
			b.AllSectors = false
		}
	}
	if p.AllSectors.Set {
		b.AllSectors = p.AllSectors.Value && !p.AllSectors.Null
		if b.AllSectors {
			if p.Sectors.Set && len(b.Sectors) > 0 {
				errs.add("all_sectors", "cannot be combined with a list of sectors")
			}
			b.Sectors = nil
		}
	}
	if p.MainSector.Set {
		if p.MainSector.Null {
			b.MainSector = nil
		} else if _, err := idx.SectorOf(p.MainSector.Value); err != nil {
			ref("main_sector", err)
		} else {
			m := p.MainSector.Value
			b.MainSector = &m
		}
	}
	if b.SectorsAffected != nil && !*b.SectorsAffected {
		b.Sectors = nil
		b.AllSectors = false
		b.MainSector = nil
	}
}

func setString(dst *string, f Field[string]) {
	if !f.Set {
		return
	}
	if f.Null {
		*dst = ""
		return
	}
	*dst = strings.TrimSpace(f.Value)
}

func setBoolPtr(dst **bool, f Field[bool]) {
	if !f.Set {
		return
	}
	if f.Null {
		*dst = nil
		return
	}
	v := f.Value
	*dst = &v
}

func sameUUID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

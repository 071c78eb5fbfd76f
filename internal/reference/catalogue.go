// Package reference holds the read-only catalogues barriers point into:
// countries, overseas regions, trading blocs, sectors, categories,
// administrative areas, organisations, tags, export types and priorities.
package reference

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ErrUnknownReference is matched by every lookup miss.
var ErrUnknownReference = errors.New("unknown reference")

// UnknownError names the catalogue and key a lookup missed.
type UnknownError struct {
	Kind string
	Key  string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown %s: %s", e.Kind, e.Key)
}

func (e *UnknownError) Is(target error) bool {
	return target == ErrUnknownReference
}

func unknown(kind, key string) error {
	return &UnknownError{Kind: kind, Key: key}
}

type Country struct {
	ID             uuid.UUID `yaml:"id" json:"id"`
	Name           string    `yaml:"name" json:"name"`
	OverseasRegion uuid.UUID `yaml:"overseas_region" json:"overseas_region"`
	TradingBloc    string    `yaml:"trading_bloc,omitempty" json:"trading_bloc,omitempty"`
}

type OverseasRegion struct {
	ID   uuid.UUID `yaml:"id" json:"id"`
	Name string    `yaml:"name" json:"name"`
}

// PseudoRegion is a synthetic grouping of overseas regions, such as
// wider_europe. Membership is listed explicitly in the catalogue.
type PseudoRegion struct {
	ID      string      `yaml:"id" json:"id"`
	Name    string      `yaml:"name" json:"name"`
	Regions []uuid.UUID `yaml:"regions" json:"regions"`
}

type TradingBloc struct {
	Code    string      `yaml:"code" json:"code"`
	Name    string      `yaml:"name" json:"name"`
	Members []uuid.UUID `yaml:"members" json:"members"`
}

type Sector struct {
	ID   uuid.UUID `yaml:"id" json:"id"`
	Name string    `yaml:"name" json:"name"`
}

type Category struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
}

type AdminArea struct {
	ID      uuid.UUID `yaml:"id" json:"id"`
	Name    string    `yaml:"name" json:"name"`
	Country uuid.UUID `yaml:"country" json:"country"`
}

type Organisation struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

type Tag struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
}

type Priority struct {
	Code  string `yaml:"code" json:"code"`
	Name  string `yaml:"name" json:"name"`
	Order int    `yaml:"order" json:"order"`
}

// Catalogue is the serialised form loaded from a Source and shared through
// a Cache.
type Catalogue struct {
	Version         string           `yaml:"version" json:"version"`
	Countries       []Country        `yaml:"countries" json:"countries"`
	OverseasRegions []OverseasRegion `yaml:"overseas_regions" json:"overseas_regions"`
	PseudoRegions   []PseudoRegion   `yaml:"pseudo_regions" json:"pseudo_regions"`
	TradingBlocs    []TradingBloc    `yaml:"trading_blocs" json:"trading_blocs"`
	Sectors         []Sector         `yaml:"sectors" json:"sectors"`
	Categories      []Category       `yaml:"categories" json:"categories"`
	AdminAreas      []AdminArea      `yaml:"admin_areas" json:"admin_areas"`
	Organisations   []Organisation   `yaml:"organisations" json:"organisations"`
	Tags            []Tag            `yaml:"tags" json:"tags"`
	ExportTypes     []string         `yaml:"export_types" json:"export_types"`
	Priorities      []Priority       `yaml:"priorities" json:"priorities"`
}

// Index is an immutable lookup view over a Catalogue. All methods are safe
// for concurrent use.
type Index struct {
	version       string
	countries     map[uuid.UUID]Country
	regions       map[uuid.UUID]OverseasRegion
	pseudoRegions map[string]PseudoRegion
	blocs         map[string]TradingBloc
	sectors       map[uuid.UUID]Sector
	categories    map[string]Category
	adminAreas    map[uuid.UUID]AdminArea
	organisations map[string]Organisation
	tags          map[string]Tag
	exportTypes   map[string]struct{}
	priorities    map[string]Priority
}

// NewIndex validates c and builds its lookup maps.
func NewIndex(c *Catalogue) (*Index, error) {
	if c == nil {
		return nil, errors.New("nil catalogue")
	}
	idx := &Index{
		version:       c.Version,
		countries:     make(map[uuid.UUID]Country, len(c.Countries)),
		regions:       make(map[uuid.UUID]OverseasRegion, len(c.OverseasRegions)),
		pseudoRegions: make(map[string]PseudoRegion, len(c.PseudoRegions)),
		blocs:         make(map[string]TradingBloc, len(c.TradingBlocs)),
		sectors:       make(map[uuid.UUID]Sector, len(c.Sectors)),
		categories:    make(map[string]Category, len(c.Categories)),
		adminAreas:    make(map[uuid.UUID]AdminArea, len(c.AdminAreas)),
		organisations: make(map[string]Organisation, len(c.Organisations)),
		tags:          make(map[string]Tag, len(c.Tags)),
		exportTypes:   make(map[string]struct{}, len(c.ExportTypes)),
		priorities:    make(map[string]Priority, len(c.Priorities)),
	}
	for _, r := range c.OverseasRegions {
		idx.regions[r.ID] = r
	}
	for _, country := range c.Countries {
		if _, ok := idx.regions[country.OverseasRegion]; !ok && country.OverseasRegion != uuid.Nil {
			return nil, fmt.Errorf("country %s: %w", country.Name, unknown("overseas region", country.OverseasRegion.String()))
		}
		idx.countries[country.ID] = country
	}
	for _, p := range c.PseudoRegions {
		for _, id := range p.Regions {
			if _, ok := idx.regions[id]; !ok {
				return nil, fmt.Errorf("pseudo region %s: %w", p.ID, unknown("overseas region", id.String()))
			}
		}
		idx.pseudoRegions[p.ID] = p
	}
	for _, b := range c.TradingBlocs {
		for _, id := range b.Members {
			if _, ok := idx.countries[id]; !ok {
				return nil, fmt.Errorf("trading bloc %s: %w", b.Code, unknown("country", id.String()))
			}
		}
		idx.blocs[b.Code] = b
	}
	for _, s := range c.Sectors {
		idx.sectors[s.ID] = s
	}
	for _, cat := range c.Categories {
		idx.categories[cat.ID] = cat
	}
	for _, a := range c.AdminAreas {
		idx.adminAreas[a.ID] = a
	}
	for _, o := range c.Organisations {
		idx.organisations[o.ID] = o
	}
	for _, t := range c.Tags {
		idx.tags[t.ID] = t
	}
	for _, e := range c.ExportTypes {
		idx.exportTypes[e] = struct{}{}
	}
	for _, p := range c.Priorities {
		idx.priorities[p.Code] = p
	}
	return idx, nil
}

func (x *Index) Version() string { return x.version }

func (x *Index) CountryOf(id uuid.UUID) (Country, error) {
	c, ok := x.countries[id]
	if !ok {
		return Country{}, unknown("country", id.String())
	}
	return c, nil
}

func (x *Index) RegionOf(id uuid.UUID) (OverseasRegion, error) {
	r, ok := x.regions[id]
	if !ok {
		return OverseasRegion{}, unknown("overseas region", id.String())
	}
	return r, nil
}

func (x *Index) PseudoRegionOf(id string) (PseudoRegion, error) {
	p, ok := x.pseudoRegions[id]
	if !ok {
		return PseudoRegion{}, unknown("region", id)
	}
	return p, nil
}

func (x *Index) TradingBlocOf(code string) (TradingBloc, error) {
	b, ok := x.blocs[code]
	if !ok {
		return TradingBloc{}, unknown("trading bloc", code)
	}
	return b, nil
}

// BlocOfCountry returns the bloc the country belongs to, if any.
func (x *Index) BlocOfCountry(id uuid.UUID) (TradingBloc, bool) {
	c, ok := x.countries[id]
	if !ok || c.TradingBloc == "" {
		return TradingBloc{}, false
	}
	b, ok := x.blocs[c.TradingBloc]
	return b, ok
}

func (x *Index) SectorOf(id uuid.UUID) (Sector, error) {
	s, ok := x.sectors[id]
	if !ok {
		return Sector{}, unknown("sector", id.String())
	}
	return s, nil
}

func (x *Index) CategoryOf(id string) (Category, error) {
	c, ok := x.categories[id]
	if !ok {
		return Category{}, unknown("category", id)
	}
	return c, nil
}

func (x *Index) AdminAreaOf(id uuid.UUID) (AdminArea, error) {
	a, ok := x.adminAreas[id]
	if !ok {
		return AdminArea{}, unknown("admin area", id.String())
	}
	return a, nil
}

func (x *Index) OrganisationOf(id string) (Organisation, error) {
	o, ok := x.organisations[id]
	if !ok {
		return Organisation{}, unknown("organisation", id)
	}
	return o, nil
}

func (x *Index) TagOf(id string) (Tag, error) {
	t, ok := x.tags[id]
	if !ok {
		return Tag{}, unknown("tag", id)
	}
	return t, nil
}

func (x *Index) ExportTypeOf(name string) error {
	if _, ok := x.exportTypes[name]; !ok {
		return unknown("export type", name)
	}
	return nil
}

func (x *Index) PriorityOf(code string) (Priority, error) {
	p, ok := x.priorities[code]
	if !ok {
		return Priority{}, unknown("priority", code)
	}
	return p, nil
}

// Location is a parsed location filter token.
type Location struct {
	Countries []uuid.UUID
	Bloc      string
}

// ResolveLocation interprets a location token: a country id, an overseas
// region id, a pseudo region id or a trading bloc code. Regions expand to
// the countries they contain.
func (x *Index) ResolveLocation(token string) (Location, error) {
	token = strings.TrimSpace(token)
	if p, ok := x.pseudoRegions[token]; ok {
		var countries []uuid.UUID
		for _, region := range p.Regions {
			countries = append(countries, x.countriesIn(region)...)
		}
		return Location{Countries: countries}, nil
	}
	if _, ok := x.blocs[token]; ok {
		return Location{Bloc: token}, nil
	}
	id, err := uuid.Parse(token)
	if err != nil {
		return Location{}, unknown("location", token)
	}
	if _, ok := x.countries[id]; ok {
		return Location{Countries: []uuid.UUID{id}}, nil
	}
	if _, ok := x.regions[id]; ok {
		return Location{Countries: x.countriesIn(id)}, nil
	}
	return Location{}, unknown("location", token)
}

func (x *Index) countriesIn(region uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for id, c := range x.countries {
		if c.OverseasRegion == region {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// LocationName renders a barrier location for ordering and display.
func (x *Index) LocationName(country *uuid.UUID, bloc string) string {
	if country != nil {
		if c, ok := x.countries[*country]; ok {
			return c.Name
		}
	}
	if b, ok := x.blocs[bloc]; ok {
		return b.Name
	}
	return ""
}

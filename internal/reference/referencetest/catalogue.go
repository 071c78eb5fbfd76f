// Package referencetest provides a small fixed catalogue for tests.
package referencetest

import (
	_ "embed"

	"github.com/google/uuid"

	"barriers/api/internal/reference"
)

//go:embed catalogue.yaml
var catalogueYAML []byte

var (
	Europe        = uuid.MustParse("3e6809d6-89f6-4590-8458-1d0dab73ad1a")
	EasternEurope = uuid.MustParse("a25f66a0-5d95-4f2f-8e5d-7a0a07d2fb7c")
	LatinAmerica  = uuid.MustParse("5616ccf5-ab4a-4c2c-9624-13c69be3c46b")
	NorthAmerica  = uuid.MustParse("04a7cff0-03dd-4677-aa3c-12dd8426f0d7")

	France       = uuid.MustParse("82756b9a-5d95-e211-a939-e4115bead28a")
	Germany      = uuid.MustParse("83756b9a-5d95-e211-a939-e4115bead28a")
	Norway       = uuid.MustParse("6f756b9a-5d95-e211-a939-e4115bead28a")
	Turkey       = uuid.MustParse("9f5f66a0-5d95-e211-a939-e4115bead28a")
	Brazil       = uuid.MustParse("b05f66a0-5d95-e211-a939-e4115bead28a")
	UnitedStates = uuid.MustParse("81756b9a-5d95-e211-a939-e4115bead28a")

	Aerospace  = uuid.MustParse("9538cecc-5f95-e211-a939-e4115bead28a")
	Automotive = uuid.MustParse("9638cecc-5f95-e211-a939-e4115bead28a")
	Food       = uuid.MustParse("9738cecc-5f95-e211-a939-e4115bead28a")

	Texas      = uuid.MustParse("5cd9b01b-a327-4f1d-9e3d-4e9c9ed50a2b")
	California = uuid.MustParse("1a0c0d2e-6d1f-4f8b-9d27-2b7c4a38c55e")
)

const (
	EU       = "TB00016"
	Mercosur = "TB00017"

	CategoryTariffs   = "127"
	CategorySanitary  = "130"
	CategorySubsidies = "141"
)

// Catalogue parses the embedded fixture. It panics on malformed data.
func Catalogue() *reference.Catalogue {
	c, err := reference.ParseYAML(catalogueYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// Index returns an index over the fixture catalogue.
func Index() *reference.Index {
	idx, err := reference.NewIndex(Catalogue())
	if err != nil {
		panic(err)
	}
	return idx
}

// Resolver returns a static resolver over the fixture catalogue.
func Resolver() *reference.Resolver {
	r, err := reference.NewStatic(Catalogue())
	if err != nil {
		panic(err)
	}
	return r
}

package model

// Package is a purchasable product in the storefront catalog.
type Package struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Songs       int    `json:"songs"`
	Credits     int    `json:"credits"`
	AmountCents int64  `json:"amountCents"`
}

var Packages = map[string]Package{
	"solo-serenade": {
		ID:          "solo-serenade",
		Name:        "Solo Serenade",
		Songs:       1,
		Credits:     1,
		AmountCents: 1999,
	},
	"double-harmony": {
		ID:          "double-harmony",
		Name:        "Double Harmony",
		Songs:       2,
		Credits:     2,
		AmountCents: 3499,
	},
	"family-album": {
		ID:          "family-album",
		Name:        "Family Album",
		Songs:       3,
		Credits:     3,
		AmountCents: 4999,
	},
	"credit-pack-5": {
		ID:          "credit-pack-5",
		Name:        "5 Song Credits",
		Songs:       0,
		Credits:     5,
		AmountCents: 2499,
	},
}

// LookupPackage returns the catalog entry for id.
func LookupPackage(id string) (Package, bool) {
	p, ok := Packages[id]
	return p, ok
}

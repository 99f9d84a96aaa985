package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
)

var (
	ErrUnknownGroup      = errors.New("unknown group")
	ErrFacetNotSupported = errors.New("facet not supported for group")
	ErrValueNotAllowed   = errors.New("value not allowed for group")
)

type Facet string

const (
	FacetCategory        Facet = "category"
	FacetProductCategory Facet = "product_category"
	FacetGender          Facet = "gender"
	FacetFit             Facet = "fit"
	FacetNeckline        Facet = "neckline"
	FacetSleeves         Facet = "sleeves"
	FacetFabric          Facet = "fabric"
	FacetPattern         Facet = "pattern"
	FacetSchoolName      Facet = "school_name"
	FacetColor           Facet = "color"
	FacetSize            Facet = "size"
)

// Brand describes what a group's catalog exposes. Enums, when present for a
// facet, both restrict uploaded values and fix the listing order.
type Brand struct {
	Group  string
	Facets []Facet
	Enums  map[Facet][]string
}

var apparelSizes = []string{"XS", "S", "M", "L", "XL", "XXL", "XXXL"}

var brands = map[string]Brand{
	"HEAL": {
		Group:  "HEAL",
		Facets: []Facet{FacetCategory, FacetProductCategory, FacetGender, FacetFit, FacetNeckline, FacetSleeves, FacetFabric, FacetColor, FacetSize},
		Enums: map[Facet][]string{
			FacetGender: {"MALE", "FEMALE", "UNISEX"},
			FacetSize:   apparelSizes,
		},
	},
	"ELITE": {
		Group:  "ELITE",
		Facets: []Facet{FacetCategory, FacetProductCategory, FacetGender, FacetFit, FacetSleeves, FacetFabric, FacetColor, FacetSize},
		Enums: map[Facet][]string{
			FacetGender: {"MALE", "FEMALE", "UNISEX"},
			FacetSize:   apparelSizes,
		},
	},
	"TOGS": {
		Group:  "TOGS",
		Facets: []Facet{FacetCategory, FacetSchoolName, FacetProductCategory, FacetGender, FacetPattern, FacetColor, FacetSize},
		Enums: map[Facet][]string{
			FacetGender: {"BOY", "GIRL", "UNISEX"},
		},
	},
	"SHIELD": {
		Group:  "SHIELD",
		Facets: []Facet{FacetCategory, FacetProductCategory, FacetGender, FacetFabric, FacetColor, FacetSize},
		Enums: map[Facet][]string{
			FacetSize: apparelSizes,
		},
	},
	"SPIRIT": {
		Group:  "SPIRIT",
		Facets: []Facet{FacetCategory, FacetProductCategory, FacetGender, FacetNeckline, FacetSleeves, FacetColor, FacetSize},
		Enums: map[Facet][]string{
			FacetSize: apparelSizes,
		},
	},
	"WORK_WEAR_UNIFORMS": {
		Group:  "WORK_WEAR_UNIFORMS",
		Facets: []Facet{FacetCategory, FacetProductCategory, FacetGender, FacetFit, FacetFabric, FacetColor, FacetSize},
		Enums: map[Facet][]string{
			FacetSize: apparelSizes,
		},
	},
}

// Lookup resolves a group name, accepting "WORK WEAR UNIFORMS" style spacing.
func Lookup(group string) (Brand, bool) {
	key := NormalizeGroup(group)
	brand, ok := brands[key]
	return brand, ok
}

func NormalizeGroup(group string) string {
	key := strings.ToUpper(strings.TrimSpace(group))
	return strings.Join(strings.Fields(key), "_")
}

func Groups() []string {
	out := make([]string, 0, len(brands))
	for name := range brands {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (b Brand) Supports(facet Facet) bool {
	for _, f := range b.Facets {
		if f == facet {
			return true
		}
	}
	return false
}

// Allows reports whether value is acceptable for facet. Facets without an
// enum accept anything.
func (b Brand) Allows(facet Facet, value string) bool {
	allowed, ok := b.Enums[facet]
	if !ok || value == "" {
		return true
	}
	for _, v := range allowed {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

// FacetValues lists the distinct values of facet across live products.
func FacetValues(brand Brand, products []domain.Product, facet Facet) ([]string, error) {
	if !brand.Supports(facet) {
		return nil, fmt.Errorf("%w: %s/%s", ErrFacetNotSupported, brand.Group, facet)
	}

	seen := make(map[string]struct{})
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v != "" {
			seen[v] = struct{}{}
		}
	}
	for _, p := range products {
		if p.IsDeleted {
			continue
		}
		switch facet {
		case FacetColor, FacetSize:
			for _, v := range p.Variants {
				if v.IsDeleted {
					continue
				}
				if facet == FacetColor {
					add(v.Color.Name)
					continue
				}
				for _, s := range v.VariantSizes {
					add(s.Size)
				}
			}
		default:
			add(productField(p, facet))
		}
	}

	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	order := brand.Enums[facet]
	rank := func(v string) int {
		for i, e := range order {
			if strings.EqualFold(e, v) {
				return i
			}
		}
		return len(order)
	}
	sort.Slice(values, func(i, j int) bool {
		ri, rj := rank(values[i]), rank(values[j])
		if ri != rj {
			return ri < rj
		}
		return values[i] < values[j]
	})
	return values, nil
}

func productField(p domain.Product, facet Facet) string {
	switch facet {
	case FacetCategory:
		return p.Category
	case FacetProductCategory:
		return p.ProductCategory
	case FacetGender:
		return p.Gender
	case FacetFit:
		return p.Fit
	case FacetNeckline:
		return p.Neckline
	case FacetSleeves:
		return p.Sleeves
	case FacetFabric:
		return p.Fabric
	case FacetPattern:
		return p.Pattern
	case FacetSchoolName:
		return p.SchoolName
	}
	return ""
}

// ProductKey derives the natural product id of a stock line. SCHOOL lines key
// on school, product category, name, gender and pattern; CORPORATE lines drop
// the school; every other category also drops the pattern.
func ProductKey(line domain.StockLine) string {
	category := strings.ToUpper(strings.TrimSpace(line.Category))
	parts := []string{category}
	switch category {
	case "SCHOOL":
		parts = append(parts, line.SchoolName, line.ProductCategory, line.ProductName, line.Gender, line.Pattern)
	case "CORPORATE":
		parts = append(parts, line.ProductCategory, line.ProductName, line.Gender, line.Pattern)
	default:
		parts = append(parts, line.ProductCategory, line.ProductName, line.Gender)
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Join(strings.Fields(p), "-")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "_")
}

// ValidateLine checks a stock line against the brand's enum sets.
func ValidateLine(brand Brand, line domain.StockLine) error {
	checks := []struct {
		facet Facet
		value string
	}{
		{FacetGender, line.Gender},
		{FacetSize, line.Size},
		{FacetFit, line.Fit},
	}
	for _, c := range checks {
		if !brand.Allows(c.facet, c.value) {
			return fmt.Errorf("%w: %s=%q for %s", ErrValueNotAllowed, c.facet, c.value, brand.Group)
		}
	}
	return nil
}

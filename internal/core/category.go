package core

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Category tags a Box with the history breakdown field it mirrors.
type Category string

const (
	CategoryNone       Category = ""
	CategoryGeneral    Category = "general"
	CategoryOperating  Category = "operaciones"
	CategoryWorkers    Category = "trabajadores"
	CategoryRent       Category = "arriendo"
	CategoryMotorcycle Category = "motos"
	CategoryCorn       Category = "maiz"
	CategoryCharcoal   Category = "carbon"
)

var ErrUnknownCategory = errors.New("unknown category")

var categories = []Category{
	CategoryGeneral, CategoryOperating, CategoryWorkers, CategoryRent,
	CategoryMotorcycle, CategoryCorn, CategoryCharcoal,
}

// Categories returns every known tag in display order.
func Categories() []Category {
	return append([]Category(nil), categories...)
}

func (c Category) String() string {
	return string(c)
}

func (c Category) IsValid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory accepts a tag regardless of case and accents ("Maíz", "CARBÓN").
// An empty string yields CategoryNone.
func ParseCategory(s string) (Category, error) {
	folded := Fold(s)
	if folded == "" {
		return CategoryNone, nil
	}
	c := Category(folded)
	if !c.IsValid() {
		return CategoryNone, ErrUnknownCategory
	}
	return c, nil
}

// Fold lower-cases s with Spanish rules and strips combining marks.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.TrimSpace(cases.Lower(language.Spanish).String(out))
}

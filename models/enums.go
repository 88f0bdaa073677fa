package models

import (
	"errors"
	"strings"
)

type Category string

const (
	CategoryIceCream     Category = "Ice Cream"
	CategoryDessert      Category = "Dessert"
	CategoryDrink        Category = "Drink"
	CategoryCombo        Category = "Combo"
	CategoryExtra        Category = "Extra"
	CategoryUnclassified Category = "Unclassified"
)

var ErrInvalidCategory = errors.New("invalid category")

func AllCategories() []Category {
	return []Category{
		CategoryIceCream, CategoryDessert, CategoryDrink,
		CategoryCombo, CategoryExtra, CategoryUnclassified,
	}
}

func (c Category) IsValid() bool {
	for _, v := range AllCategories() {
		if v == c {
			return true
		}
	}
	return false
}

// ParseCategory accepts any casing and surrounding whitespace.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, v := range AllCategories() {
		if strings.EqualFold(string(v), s) {
			return v, nil
		}
	}
	return "", ErrInvalidCategory
}

type ResolutionMethod string

const (
	MethodAlias     ResolutionMethod = "alias"
	MethodExact     ResolutionMethod = "exact"
	MethodFuzzy     ResolutionMethod = "fuzzy"
	MethodUnmatched ResolutionMethod = "unmatched"
	// MethodPending marks a line item stored but not yet resolved (e.g. after a rebuild reset).
	MethodPending ResolutionMethod = "pending"
)

func AllMethods() []ResolutionMethod {
	return []ResolutionMethod{MethodAlias, MethodExact, MethodFuzzy, MethodUnmatched, MethodPending}
}

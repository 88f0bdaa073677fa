package normalizer

import (
	"strings"

	"github.com/mmdatafocus/menu_backend/models"
)

// Lookup key prefixes shared by the Brain and the catalog alias table.
const (
	rawKeyPrefix    = "raw:"
	structKeyPrefix = "struct:"
	itemKeyPrefix   = "item:"
)

// RawKey identifies a raw name up to case, entities, accents and spacing.
func RawKey(raw string) string {
	return rawKeyPrefix + strings.ToLower(Clean(raw))
}

// StructKey identifies a normalized (base, category, variant) triple.
func StructKey(base string, category models.Category, variantToken string) string {
	return structKeyPrefix + models.NameKey(base) + "|" + strings.ToLower(string(category)) + "|" + strings.ToUpper(variantToken)
}

// ItemKey identifies a (name, category) pair.
func ItemKey(name string, category models.Category) string {
	return itemKeyPrefix + models.NameKey(name) + "|" + strings.ToLower(string(category))
}

// LookupKeys returns the keys the alias tier tries for a record, most specific first.
func (r Record) LookupKeys() []string {
	return []string{
		RawKey(r.Raw),
		StructKey(r.BaseName, r.Category, r.VariantToken),
		ItemKey(r.BaseName, r.Category),
	}
}

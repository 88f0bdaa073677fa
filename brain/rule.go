package brain

import (
	"time"

	"github.com/mmdatafocus/menu_backend/models"
)

type RuleKind string

const (
	// RuleKindAlias maps a verified raw-name family to an item/variant.
	RuleKindAlias RuleKind = "alias"
	// RuleKindMerge redirects a retired item's identity to its merge target.
	RuleKindMerge RuleKind = "merge"
)

// Rule is a human-confirmed resolution. Names and categories are the durable
// identity; the ids are hints only valid for the catalog the rule was written
// against, since a rebuild re-issues ids.
type Rule struct {
	ID   string   `json:"id"`
	Kind RuleKind `json:"kind"`
	// Keys are normalizer lookup keys (raw:, struct:, item:) that select this rule.
	Keys            []string        `json:"keys"`
	RawNames        []string        `json:"raw_names,omitempty"`
	SourceItemId    int             `json:"source_item_id,omitempty"`
	SourceName      string          `json:"source_name,omitempty"`
	SourceCategory  models.Category `json:"source_category,omitempty"`
	TargetName      string          `json:"target_name"`
	TargetCategory  models.Category `json:"target_category"`
	TargetVariant   string          `json:"target_variant,omitempty"`
	TargetItemId    int             `json:"target_item_id,omitempty"`
	TargetVariantId *int            `json:"target_variant_id,omitempty"`
	Verified        bool            `json:"verified"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (r Rule) PrimaryKey() string {
	if len(r.Keys) == 0 {
		return ""
	}
	return r.Keys[0]
}

type document struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Rules     []Rule    `json:"rules"`
}

const documentVersion = 1

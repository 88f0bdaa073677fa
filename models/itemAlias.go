package models

import "time"

// ItemAlias is the catalog-side copy of a Brain rule key, rebuilt from the Brain.
type ItemAlias struct {
	ID        int       `gorm:"primary_key" json:"id"`
	AliasKey  string    `gorm:"size:500;not null;uniqueIndex" json:"alias_key"`
	RuleId    string    `gorm:"size:64;not null;index" json:"rule_id"`
	ItemId    int       `gorm:"not null;index" json:"item_id"`
	VariantId *int      `json:"variant_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderLineItem is one sold line from a POS order. The raw corpus lives here and
// survives catalog rebuilds; only the resolution columns are reset.
type OrderLineItem struct {
	ID            int              `gorm:"primary_key" json:"id"`
	Source        string           `gorm:"size:50;not null" json:"source"`
	OrderRef      string           `gorm:"size:100;not null;uniqueIndex:idx_order_line,priority:1" json:"order_ref"`
	LineRef       string           `gorm:"size:100;not null;uniqueIndex:idx_order_line,priority:2" json:"line_ref"`
	ParentLineRef string           `gorm:"size:100" json:"parent_line_ref"`
	RawName       string           `gorm:"size:500;not null" json:"raw_name"`
	Quantity      int              `gorm:"not null" json:"quantity"`
	UnitPrice     decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	Revenue       decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"revenue"`
	IsAddon       bool             `gorm:"not null" json:"is_addon"`
	OrderedAt     *time.Time       `json:"ordered_at"`
	ItemId        *int             `gorm:"index" json:"item_id"`
	VariantId     *int             `gorm:"index" json:"variant_id"`
	Confidence    *int             `json:"confidence"`
	Method        ResolutionMethod `gorm:"size:20;not null;index" json:"method"`
	ResolvedAt    *time.Time       `json:"resolved_at"`
	ResolveError  string           `gorm:"size:500" json:"resolve_error"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

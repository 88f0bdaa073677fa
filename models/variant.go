package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Variant is a size/quantity form identified by its canonical token, e.g. REGULAR_TUB_300ML.
type Variant struct {
	ID         int             `gorm:"primary_key" json:"id"`
	Name       string          `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Label      string          `gorm:"size:255" json:"label"`
	Unit       string          `gorm:"size:20" json:"unit"`
	Value      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"value"`
	IsVerified bool            `gorm:"not null" json:"is_verified"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type ItemVariantLink struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	ItemId             int             `gorm:"not null;uniqueIndex:idx_item_variant,priority:1" json:"item_id"`
	VariantId          int             `gorm:"not null;uniqueIndex:idx_item_variant,priority:2;index" json:"variant_id"`
	Price              decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	IsActive           bool            `gorm:"not null" json:"is_active"`
	IsAddonEligible    bool            `gorm:"not null" json:"is_addon_eligible"`
	IsDeliveryEligible bool            `gorm:"not null" json:"is_delivery_eligible"`
	IsVerified         bool            `gorm:"not null" json:"is_verified"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CanonicalItem struct {
	ID       int      `gorm:"primary_key" json:"id"`
	Name     string   `gorm:"size:255;not null" json:"name"`
	NameKey  string   `gorm:"size:255;not null;uniqueIndex:idx_item_active_name,priority:1" json:"-"`
	Category Category `gorm:"size:50;not null;uniqueIndex:idx_item_active_name,priority:2;index" json:"category"`
	// ActiveSlot is 0 while active and the row id once retired, so the unique
	// index only constrains active rows.
	ActiveSlot        int             `gorm:"not null;uniqueIndex:idx_item_active_name,priority:3" json:"-"`
	PrefixFamily      string          `gorm:"size:50;not null;index" json:"prefix_family"`
	IsActive          bool            `gorm:"not null;index" json:"is_active"`
	IsVerified        bool            `gorm:"not null;index" json:"is_verified"`
	VerifiedAt        *time.Time      `json:"verified_at"`
	TotalRevenue      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_revenue"`
	TotalSold         int             `gorm:"not null" json:"total_sold"`
	SoldStandalone    int             `gorm:"not null" json:"sold_standalone"`
	SoldAsAddon       int             `gorm:"not null" json:"sold_as_addon"`
	SuggestedTargetId *int            `gorm:"index" json:"suggested_target_id"`
	MergedIntoId      *int            `gorm:"index" json:"merged_into_id"`
	SourceRawName     string          `gorm:"size:500" json:"source_raw_name"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ItemCounters is the aggregate sales state of one item.
type ItemCounters struct {
	TotalRevenue   decimal.Decimal `json:"total_revenue"`
	TotalSold      int             `json:"total_sold"`
	SoldStandalone int             `json:"sold_standalone"`
	SoldAsAddon    int             `json:"sold_as_addon"`
}

func (i CanonicalItem) Counters() ItemCounters {
	return ItemCounters{
		TotalRevenue:   i.TotalRevenue,
		TotalSold:      i.TotalSold,
		SoldStandalone: i.SoldStandalone,
		SoldAsAddon:    i.SoldAsAddon,
	}
}

func (c ItemCounters) Add(o ItemCounters) ItemCounters {
	return ItemCounters{
		TotalRevenue:   c.TotalRevenue.Add(o.TotalRevenue),
		TotalSold:      c.TotalSold + o.TotalSold,
		SoldStandalone: c.SoldStandalone + o.SoldStandalone,
		SoldAsAddon:    c.SoldAsAddon + o.SoldAsAddon,
	}
}

func (c ItemCounters) Sub(o ItemCounters) ItemCounters {
	return ItemCounters{
		TotalRevenue:   c.TotalRevenue.Sub(o.TotalRevenue),
		TotalSold:      c.TotalSold - o.TotalSold,
		SoldStandalone: c.SoldStandalone - o.SoldStandalone,
		SoldAsAddon:    c.SoldAsAddon - o.SoldAsAddon,
	}
}

func (c ItemCounters) Equal(o ItemCounters) bool {
	return c.TotalRevenue.Equal(o.TotalRevenue) &&
		c.TotalSold == o.TotalSold &&
		c.SoldStandalone == o.SoldStandalone &&
		c.SoldAsAddon == o.SoldAsAddon
}

// NameKey folds a display name for uniqueness checks: lower case, single spaces.
func NameKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

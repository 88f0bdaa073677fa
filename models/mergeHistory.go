package models

import (
	"encoding/json"
	"time"
)

type MergeHistory struct {
	ID             int        `gorm:"primary_key" json:"id"`
	SourceItemId   int        `gorm:"not null;index" json:"source_item_id"`
	SourceName     string     `gorm:"size:255;not null" json:"source_name"`
	SourceCategory Category   `gorm:"size:50;not null" json:"source_category"`
	TargetItemId   int        `gorm:"not null;index" json:"target_item_id"`
	AdoptPrices    bool       `gorm:"not null" json:"adopt_prices"`
	RuleId         string     `gorm:"size:64" json:"rule_id"`
	SnapshotJSON   []byte     `gorm:"type:json" json:"-"`
	MergedBy       string     `gorm:"size:100" json:"merged_by"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UndoneAt       *time.Time `json:"undone_at"`
	UndoneBy       string     `gorm:"size:100" json:"undone_by"`
}

// MergeSnapshot is the pre-merge state needed to reverse a merge.
type MergeSnapshot struct {
	SourceCounters    ItemCounters      `json:"source_counters"`
	TargetCounters    ItemCounters      `json:"target_counters"`
	SourceLinks       []ItemVariantLink `json:"source_links"`
	TargetLinks       []ItemVariantLink `json:"target_links"`
	LineItemIds       []int             `json:"line_item_ids"`
	AliasIds          []int             `json:"alias_ids"`
	TargetWasVerified bool              `json:"target_was_verified"`
	TargetVerifiedAt  *time.Time        `json:"target_verified_at"`
	SourceWasVerified bool              `json:"source_was_verified"`
	SourceVerifiedAt  *time.Time        `json:"source_verified_at"`
}

func (m *MergeHistory) Snapshot() (MergeSnapshot, error) {
	var s MergeSnapshot
	if len(m.SnapshotJSON) == 0 {
		return s, nil
	}
	err := json.Unmarshal(m.SnapshotJSON, &s)
	return s, err
}

func (m *MergeHistory) SetSnapshot(s MergeSnapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.SnapshotJSON = data
	return nil
}

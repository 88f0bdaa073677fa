package catalog

import (
	"context"

	"github.com/mmdatafocus/menu_backend/models"
	"gorm.io/gorm/clause"
)

// UpsertAlias points key at the item/variant; an existing key is overwritten.
func (s *Store) UpsertAlias(ctx context.Context, key string, ruleId string, itemId int, variantId *int) error {
	alias := models.ItemAlias{AliasKey: key, RuleId: ruleId, ItemId: itemId, VariantId: variantId}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "alias_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"rule_id", "item_id", "variant_id"}),
	}).Create(&alias).Error
}

// LookupAlias returns the alias for the first key that has one, in key order.
func (s *Store) LookupAlias(ctx context.Context, keys []string) (*models.ItemAlias, string, bool, error) {
	if len(keys) == 0 {
		return nil, "", false, nil
	}
	var rows []models.ItemAlias
	if err := s.db.WithContext(ctx).Where("alias_key IN ?", keys).Find(&rows).Error; err != nil {
		return nil, "", false, err
	}
	byKey := make(map[string]models.ItemAlias, len(rows))
	for _, r := range rows {
		byKey[r.AliasKey] = r
	}
	for _, k := range keys {
		if r, ok := byKey[k]; ok {
			return &r, k, true, nil
		}
	}
	return nil, "", false, nil
}

func (s *Store) DeleteAliasesByRule(ctx context.Context, ruleIds ...string) error {
	if len(ruleIds) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("rule_id IN ?", ruleIds).Delete(&models.ItemAlias{}).Error
}

// ReassignAliases moves every alias of one item to another and returns the moved ids.
func (s *Store) ReassignAliases(ctx context.Context, fromItem int, toItem int) ([]int, error) {
	db := s.db.WithContext(ctx)
	var ids []int
	if err := db.Model(&models.ItemAlias{}).Where("item_id = ?", fromItem).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	err := db.Model(&models.ItemAlias{}).Where("id IN ?", ids).Update("item_id", toItem).Error
	return ids, err
}

func (s *Store) SetAliasItem(ctx context.Context, aliasIds []int, itemId int) error {
	if len(aliasIds) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.ItemAlias{}).
		Where("id IN ?", aliasIds).
		Update("item_id", itemId).Error
}

func (s *Store) CountAliases(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ItemAlias{}).Count(&n).Error
	return n, err
}

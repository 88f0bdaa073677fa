package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/menu_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type NewItem struct {
	Name              string
	Category          models.Category
	PrefixFamily      string
	Verified          bool
	SourceRawName     string
	SuggestedTargetId *int
}

func (s *Store) GetItem(ctx context.Context, id int) (*models.CanonicalItem, error) {
	var item models.CanonicalItem
	if err := s.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, notFound(err, fmt.Errorf("%w: id %d", ErrItemNotFound, id))
	}
	return &item, nil
}

// FindActiveItem returns the active item with this (name, category), or ErrItemNotFound.
func (s *Store) FindActiveItem(ctx context.Context, name string, category models.Category) (*models.CanonicalItem, error) {
	var item models.CanonicalItem
	err := s.db.WithContext(ctx).
		Where("name_key = ? AND category = ? AND active_slot = 0", models.NameKey(name), category).
		First(&item).Error
	if err != nil {
		return nil, notFound(err, fmt.Errorf("%w: %s/%s", ErrItemNotFound, category, name))
	}
	return &item, nil
}

// InsertOrFetchItem returns the active item for (name, category), creating it
// when missing. Asking for a verified item upgrades an existing unverified one.
func (s *Store) InsertOrFetchItem(ctx context.Context, in NewItem) (*models.CanonicalItem, bool, error) {
	if models.NameKey(in.Name) == "" {
		return nil, false, errors.New("item name is required")
	}
	if !in.Category.IsValid() {
		return nil, false, fmt.Errorf("%w: %q", models.ErrInvalidCategory, in.Category)
	}
	unlock := s.lockKey("item:" + models.NameKey(in.Name) + "|" + string(in.Category))
	defer unlock()

	item, err := s.FindActiveItem(ctx, in.Name, in.Category)
	if err == nil {
		if in.Verified && !item.IsVerified {
			if err := s.markVerified(ctx, item); err != nil {
				return nil, false, err
			}
		}
		return item, false, nil
	}
	if !errors.Is(err, ErrItemNotFound) {
		return nil, false, err
	}

	item = &models.CanonicalItem{
		Name:              in.Name,
		NameKey:           models.NameKey(in.Name),
		Category:          in.Category,
		PrefixFamily:      in.PrefixFamily,
		IsActive:          true,
		IsVerified:        in.Verified,
		TotalRevenue:      decimal.Zero,
		SourceRawName:     in.SourceRawName,
		SuggestedTargetId: in.SuggestedTargetId,
	}
	if in.Verified {
		t := now()
		item.VerifiedAt = &t
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		if !isDuplicateKeyErr(err) {
			return nil, false, err
		}
		// Another process won the race.
		existing, ferr := s.FindActiveItem(ctx, in.Name, in.Category)
		if ferr != nil {
			return nil, false, ferr
		}
		return existing, false, nil
	}
	s.Invalidate()
	return item, true, nil
}

func (s *Store) markVerified(ctx context.Context, item *models.CanonicalItem) error {
	t := now()
	err := s.db.WithContext(ctx).Model(&models.CanonicalItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]interface{}{"is_verified": true, "verified_at": t, "suggested_target_id": nil}).Error
	if err != nil {
		return err
	}
	item.IsVerified = true
	item.VerifiedAt = &t
	item.SuggestedTargetId = nil
	s.Invalidate()
	return nil
}

// VerifyItem marks the item verified, optionally renaming or re-categorising it.
func (s *Store) VerifyItem(ctx context.Context, id int, name string, category models.Category, prefixFamily string) (*models.CanonicalItem, error) {
	t := now()
	err := s.db.WithContext(ctx).Model(&models.CanonicalItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"name":                name,
			"name_key":            models.NameKey(name),
			"category":            category,
			"prefix_family":       prefixFamily,
			"is_verified":         true,
			"verified_at":         t,
			"suggested_target_id": nil,
		}).Error
	if err != nil {
		return nil, err
	}
	s.Invalidate()
	return s.GetItem(ctx, id)
}

// SetVerifiedState restores an item's verification flag and timestamp.
func (s *Store) SetVerifiedState(ctx context.Context, id int, verified bool, verifiedAt *time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.CanonicalItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_verified": verified, "verified_at": verifiedAt}).Error
	if err == nil {
		s.Invalidate()
	}
	return err
}

// RetireItem deactivates a merged item, keeping its id for history.
func (s *Store) RetireItem(ctx context.Context, id int, mergedInto int) error {
	err := s.db.WithContext(ctx).Model(&models.CanonicalItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":      false,
			"active_slot":    id,
			"merged_into_id": mergedInto,
		}).Error
	if err == nil {
		s.Invalidate()
	}
	return err
}

// ReactivateItem reverses RetireItem. It fails with a duplicate-key error when
// another active item took the same (name, category) in the meantime.
func (s *Store) ReactivateItem(ctx context.Context, id int) error {
	err := s.db.WithContext(ctx).Model(&models.CanonicalItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":      true,
			"active_slot":    0,
			"merged_into_id": nil,
		}).Error
	if err == nil {
		s.Invalidate()
	}
	return err
}

func (s *Store) SetSuggestedTarget(ctx context.Context, id int, target *int) error {
	return s.db.WithContext(ctx).Model(&models.CanonicalItem{}).
		Where("id = ?", id).
		Update("suggested_target_id", target).Error
}

// ResolveMergeChain follows MergedIntoId from id to the surviving item.
func (s *Store) ResolveMergeChain(ctx context.Context, id int) (*models.CanonicalItem, error) {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	for hop := 0; hop < 10 && !item.IsActive && item.MergedIntoId != nil; hop++ {
		item, err = s.GetItem(ctx, *item.MergedIntoId)
		if err != nil {
			return nil, err
		}
	}
	return item, nil
}

func (s *Store) ListActiveItems(ctx context.Context) ([]models.CanonicalItem, error) {
	var items []models.CanonicalItem
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&items).Error
	return items, err
}

// ListUnverifiedItems returns active unverified items, best sellers first.
func (s *Store) ListUnverifiedItems(ctx context.Context) ([]models.CanonicalItem, error) {
	var items []models.CanonicalItem
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND is_verified = ?", true, false).
		Order("total_sold DESC").Order("id").
		Find(&items).Error
	return items, err
}

// ActiveItemExists reports whether an active item other than excludeId holds (name, category).
func (s *Store) ActiveItemExists(ctx context.Context, name string, category models.Category, excludeId int) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.CanonicalItem{}).
		Where("name_key = ? AND category = ? AND active_slot = 0 AND id <> ?", models.NameKey(name), category, excludeId).
		Count(&count).Error
	return count > 0, err
}

// RecomputeCounters sets each item's aggregates from its line items. It is a
// single statement per item, so it is idempotent and needs no lock.
func (s *Store) RecomputeCounters(ctx context.Context, itemIds ...int) error {
	db := s.db.WithContext(ctx)
	for _, id := range itemIds {
		err := db.Model(&models.CanonicalItem{}).Where("id = ?", id).Updates(map[string]interface{}{
			"total_revenue":   gorm.Expr("(SELECT COALESCE(SUM(revenue), 0) FROM order_line_items WHERE item_id = ?)", id),
			"total_sold":      gorm.Expr("(SELECT COALESCE(SUM(quantity), 0) FROM order_line_items WHERE item_id = ?)", id),
			"sold_standalone": gorm.Expr("(SELECT COALESCE(SUM(quantity), 0) FROM order_line_items WHERE item_id = ? AND is_addon = ?)", id, false),
			"sold_as_addon":   gorm.Expr("(SELECT COALESCE(SUM(quantity), 0) FROM order_line_items WHERE item_id = ? AND is_addon = ?)", id, true),
		}).Error
		if err != nil {
			return fmt.Errorf("recompute counters for item %d: %w", id, err)
		}
	}
	return nil
}

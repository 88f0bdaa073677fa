package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/menu_backend/models"
	"gorm.io/gorm"
)

// Resolution is the outcome written back onto a line item.
type Resolution struct {
	ItemId     *int
	VariantId  *int
	Confidence *int
	Method     models.ResolutionMethod
	Error      string
}

// UpsertLineItem stores a line item keyed by (order_ref, line_ref). A line
// already stored is returned unchanged, which makes re-delivered orders safe.
func (s *Store) UpsertLineItem(ctx context.Context, li *models.OrderLineItem) (*models.OrderLineItem, bool, error) {
	unlock := s.lockKey("line:" + li.OrderRef + "|" + li.LineRef)
	defer unlock()

	existing, err := s.findLineItem(ctx, li.OrderRef, li.LineRef)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	if li.Method == "" {
		li.Method = models.MethodPending
	}
	if err := s.db.WithContext(ctx).Create(li).Error; err != nil {
		if !isDuplicateKeyErr(err) {
			return nil, false, err
		}
		existing, ferr := s.findLineItem(ctx, li.OrderRef, li.LineRef)
		if ferr != nil {
			return nil, false, ferr
		}
		return existing, false, nil
	}
	return li, true, nil
}

func (s *Store) findLineItem(ctx context.Context, orderRef string, lineRef string) (*models.OrderLineItem, error) {
	var li models.OrderLineItem
	err := s.db.WithContext(ctx).Where("order_ref = ? AND line_ref = ?", orderRef, lineRef).First(&li).Error
	if err != nil {
		return nil, err
	}
	return &li, nil
}

func (s *Store) GetLineItem(ctx context.Context, id int) (*models.OrderLineItem, error) {
	var li models.OrderLineItem
	if err := s.db.WithContext(ctx).First(&li, id).Error; err != nil {
		return nil, fmt.Errorf("line item %d: %w", id, err)
	}
	return &li, nil
}

func (s *Store) SetResolution(ctx context.Context, lineId int, r Resolution) error {
	return s.db.WithContext(ctx).Model(&models.OrderLineItem{}).
		Where("id = ?", lineId).
		Updates(map[string]interface{}{
			"item_id":       r.ItemId,
			"variant_id":    r.VariantId,
			"confidence":    r.Confidence,
			"method":        r.Method,
			"resolve_error": r.Error,
			"resolved_at":   now(),
		}).Error
}

// LineItemsAfter pages through line items by id. With onlyPending set, only
// lines not yet resolved are returned.
func (s *Store) LineItemsAfter(ctx context.Context, afterId int, limit int, onlyPending bool) ([]models.OrderLineItem, error) {
	q := s.db.WithContext(ctx).Where("id > ?", afterId)
	if onlyPending {
		q = q.Where("method = ?", models.MethodPending)
	}
	var out []models.OrderLineItem
	err := q.Order("id").Limit(limit).Find(&out).Error
	return out, err
}

// ResetResolutions clears every line item's resolution; the raw corpus stays.
func (s *Store) ResetResolutions(ctx context.Context) error {
	return s.db.WithContext(ctx).Model(&models.OrderLineItem{}).
		Where("1 = 1").
		Updates(map[string]interface{}{
			"item_id":       nil,
			"variant_id":    nil,
			"confidence":    nil,
			"method":        models.MethodPending,
			"resolve_error": "",
			"resolved_at":   nil,
		}).Error
}

func (s *Store) LineItemIdsForItem(ctx context.Context, itemId int) ([]int, error) {
	var ids []int
	err := s.db.WithContext(ctx).Model(&models.OrderLineItem{}).
		Where("item_id = ?", itemId).Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (s *Store) MoveLineItems(ctx context.Context, ids []int, toItem int) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.OrderLineItem{}).
		Where("id IN ?", ids).
		Update("item_id", toItem).Error
}

// RawNamesForItem returns the distinct raw names resolved to the item. Lines
// already resolved by alias are skipped when skipAlias is set.
func (s *Store) RawNamesForItem(ctx context.Context, itemId int, skipAlias bool) ([]string, error) {
	q := s.db.WithContext(ctx).Model(&models.OrderLineItem{}).Where("item_id = ?", itemId)
	if skipAlias {
		q = q.Where("method <> ?", models.MethodAlias)
	}
	var names []string
	err := q.Distinct("raw_name").Order("raw_name").Pluck("raw_name", &names).Error
	return names, err
}

// LineVariantsForItem maps each raw name of the item to the variant it resolved to.
func (s *Store) LineVariantsForItem(ctx context.Context, itemId int) (map[string]*int, error) {
	var rows []models.OrderLineItem
	err := s.db.WithContext(ctx).Select("raw_name", "variant_id").
		Where("item_id = ?", itemId).Order("id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]*int, len(rows))
	for _, r := range rows {
		if _, ok := out[r.RawName]; !ok || r.VariantId != nil {
			out[r.RawName] = r.VariantId
		}
	}
	return out, nil
}

// MarkLinesAlias records that the item's lines are now backed by a Brain rule.
func (s *Store) MarkLinesAlias(ctx context.Context, itemId int) error {
	full := 100
	return s.db.WithContext(ctx).Model(&models.OrderLineItem{}).
		Where("item_id = ? AND method <> ?", itemId, models.MethodAlias).
		Updates(map[string]interface{}{
			"method":      models.MethodAlias,
			"confidence":  full,
			"resolved_at": now(),
		}).Error
}

// MethodStats counts line items per resolution method.
func (s *Store) MethodStats(ctx context.Context) (map[models.ResolutionMethod]int64, error) {
	var rows []struct {
		Method models.ResolutionMethod
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.OrderLineItem{}).
		Select("method, COUNT(*) AS count").Group("method").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.ResolutionMethod]int64, len(rows))
	for _, r := range rows {
		out[r.Method] = r.Count
	}
	return out, nil
}

// ItemIdsWithLines returns every item id referenced by a line item.
func (s *Store) ItemIdsWithLines(ctx context.Context) ([]int, error) {
	var ids []int
	err := s.db.WithContext(ctx).Model(&models.OrderLineItem{}).
		Where("item_id IS NOT NULL").Distinct("item_id").Pluck("item_id", &ids).Error
	return ids, err
}

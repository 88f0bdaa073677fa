package catalog

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/menu_backend/models"
)

func (s *Store) CreateMergeHistory(ctx context.Context, h *models.MergeHistory) error {
	return s.db.WithContext(ctx).Create(h).Error
}

func (s *Store) GetMergeHistory(ctx context.Context, id int) (*models.MergeHistory, error) {
	var h models.MergeHistory
	if err := s.db.WithContext(ctx).First(&h, id).Error; err != nil {
		return nil, notFound(err, fmt.Errorf("%w: id %d", ErrMergeNotFound, id))
	}
	return &h, nil
}

// ListMergeHistory returns the newest merges first.
func (s *Store) ListMergeHistory(ctx context.Context, limit int) ([]models.MergeHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.MergeHistory
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// LaterMergeTouches reports whether an unreversed merge newer than mergeId
// involves any of the given items.
func (s *Store) LaterMergeTouches(ctx context.Context, mergeId int, itemIds ...int) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.MergeHistory{}).
		Where("id > ? AND undone_at IS NULL", mergeId).
		Where("source_item_id IN ? OR target_item_id IN ?", itemIds, itemIds).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) MarkMergeUndone(ctx context.Context, id int, by string) error {
	return s.db.WithContext(ctx).Model(&models.MergeHistory{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"undone_at": now(), "undone_by": by}).Error
}

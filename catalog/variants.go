package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/normalizer"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func (s *Store) GetVariant(ctx context.Context, id int) (*models.Variant, error) {
	var v models.Variant
	if err := s.db.WithContext(ctx).First(&v, id).Error; err != nil {
		return nil, notFound(err, fmt.Errorf("%w: id %d", ErrVariantNotFound, id))
	}
	return &v, nil
}

func (s *Store) GetVariantByName(ctx context.Context, token string) (*models.Variant, error) {
	var v models.Variant
	if err := s.db.WithContext(ctx).Where("name = ?", token).First(&v).Error; err != nil {
		return nil, notFound(err, fmt.Errorf("%w: %s", ErrVariantNotFound, token))
	}
	return &v, nil
}

// InsertOrFetchVariant returns the variant with info.Token, creating it when
// missing. Asking for a verified variant upgrades an existing unverified one.
func (s *Store) InsertOrFetchVariant(ctx context.Context, info normalizer.VariantInfo, verified bool) (*models.Variant, bool, error) {
	if info.Token == "" {
		return nil, false, errors.New("variant token is required")
	}
	unlock := s.lockKey("variant:" + info.Token)
	defer unlock()

	v, err := s.GetVariantByName(ctx, info.Token)
	if err == nil {
		if verified && !v.IsVerified {
			if err := s.db.WithContext(ctx).Model(v).Update("is_verified", true).Error; err != nil {
				return nil, false, err
			}
			v.IsVerified = true
		}
		return v, false, nil
	}
	if !errors.Is(err, ErrVariantNotFound) {
		return nil, false, err
	}

	v = &models.Variant{
		Name:       info.Token,
		Label:      info.Label,
		Unit:       info.Unit,
		Value:      info.Value,
		IsVerified: verified,
	}
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		if !isDuplicateKeyErr(err) {
			return nil, false, err
		}
		existing, ferr := s.GetVariantByName(ctx, info.Token)
		if ferr != nil {
			return nil, false, ferr
		}
		return existing, false, nil
	}
	return v, true, nil
}

type LinkInput struct {
	ItemId             int
	VariantId          int
	Price              decimal.Decimal
	Verified           bool
	IsAddonEligible    bool
	IsDeliveryEligible bool
}

// EnsureLink returns the (item, variant) link, creating it when missing. An
// existing link keeps its price unless it has none yet, and only ever moves
// from unverified to verified.
func (s *Store) EnsureLink(ctx context.Context, in LinkInput) (*models.ItemVariantLink, bool, error) {
	unlock := s.lockKey(fmt.Sprintf("link:%d:%d", in.ItemId, in.VariantId))
	defer unlock()

	db := s.db.WithContext(ctx)
	var link models.ItemVariantLink
	err := db.Where("item_id = ? AND variant_id = ?", in.ItemId, in.VariantId).First(&link).Error
	if err == nil {
		updates := map[string]interface{}{}
		if in.Verified && !link.IsVerified {
			updates["is_verified"] = true
		}
		if link.Price.IsZero() && !in.Price.IsZero() {
			updates["price"] = in.Price
		}
		if len(updates) > 0 {
			if err := db.Model(&link).Updates(updates).Error; err != nil {
				return nil, false, err
			}
		}
		return &link, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	link = models.ItemVariantLink{
		ItemId:             in.ItemId,
		VariantId:          in.VariantId,
		Price:              in.Price,
		IsActive:           true,
		IsAddonEligible:    in.IsAddonEligible,
		IsDeliveryEligible: in.IsDeliveryEligible,
		IsVerified:         in.Verified,
	}
	if err := db.Create(&link).Error; err != nil {
		if !isDuplicateKeyErr(err) {
			return nil, false, err
		}
		if err := db.Where("item_id = ? AND variant_id = ?", in.ItemId, in.VariantId).First(&link).Error; err != nil {
			return nil, false, err
		}
		return &link, false, nil
	}
	s.Invalidate()
	return &link, true, nil
}

func (s *Store) LinksForItem(ctx context.Context, itemId int) ([]models.ItemVariantLink, error) {
	var links []models.ItemVariantLink
	err := s.db.WithContext(ctx).Where("item_id = ?", itemId).Order("id").Find(&links).Error
	return links, err
}

func (s *Store) MarkLinksVerified(ctx context.Context, itemId int) error {
	return s.db.WithContext(ctx).Model(&models.ItemVariantLink{}).
		Where("item_id = ?", itemId).
		Update("is_verified", true).Error
}

// MoveLink re-points a link to another item.
func (s *Store) MoveLink(ctx context.Context, linkId int, toItem int) error {
	err := s.db.WithContext(ctx).Model(&models.ItemVariantLink{}).
		Where("id = ?", linkId).
		Update("item_id", toItem).Error
	if err == nil {
		s.Invalidate()
	}
	return err
}

func (s *Store) SetLinkPrice(ctx context.Context, linkId int, price decimal.Decimal) error {
	return s.db.WithContext(ctx).Model(&models.ItemVariantLink{}).
		Where("id = ?", linkId).
		Update("price", price).Error
}

func (s *Store) DeleteLink(ctx context.Context, linkId int) error {
	err := s.db.WithContext(ctx).Delete(&models.ItemVariantLink{}, linkId).Error
	if err == nil {
		s.Invalidate()
	}
	return err
}

// RestoreLink writes a link back exactly as snapshotted, id included.
func (s *Store) RestoreLink(ctx context.Context, link models.ItemVariantLink) error {
	err := s.db.WithContext(ctx).Save(&link).Error
	if err == nil {
		s.Invalidate()
	}
	return err
}

package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/restaurant/internal/models"
)

// RedeemCheck validates a locked promotion against the identity's prior
// unreleased uses and returns the discount to record.
type RedeemCheck func(p *models.Promotion, priorUses int64) (int64, error)

func (r *GormRepo) GetPromotionByCode(ctx context.Context, code string) (*models.Promotion, error) {
	var p models.Promotion
	if err := r.DB.WithContext(ctx).Where("code = ?", code).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GormRepo) CountUsages(ctx context.Context, promotionID uuid.UUID, identityKey string) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.PromotionUsage{}).
		Where("promotion_id = ? AND identity = ? AND released_at IS NULL", promotionID, identityKey).
		Count(&n).Error
	return n, err
}

// Redeem locks the promotion row, runs check, then performs the conditional
// increment and records the usage. Any failure rolls the whole unit back.
func (r *GormRepo) Redeem(ctx context.Context, code, identityKey string, check RedeemCheck) (*models.PromotionUsage, *models.Promotion, error) {
	var (
		usage *models.PromotionUsage
		promo models.Promotion
	)

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("code = ?", code).First(&promo).Error; err != nil {
			return err
		}

		var prior int64
		if err := tx.Model(&models.PromotionUsage{}).
			Where("promotion_id = ? AND identity = ? AND released_at IS NULL", promo.ID, identityKey).
			Count(&prior).Error; err != nil {
			return err
		}

		discount, err := check(&promo, prior)
		if err != nil {
			return err
		}

		res := tx.Model(&models.Promotion{}).
			Where("id = ? AND (max_usage_count IS NULL OR current_usage_count < max_usage_count)", promo.ID).
			Updates(map[string]any{
				"current_usage_count": gorm.Expr("current_usage_count + 1"),
				"updated_at":          time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrQuotaFull
		}

		usage = &models.PromotionUsage{
			PromotionID:    promo.ID,
			Code:           promo.Code,
			Identity:       identityKey,
			DiscountAmount: discount,
		}
		if err := tx.Create(usage).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", promo.ID).First(&promo).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return usage, &promo, nil
}

// Release marks the usage released and gives its slot back. A usage is
// released at most once.
func (r *GormRepo) Release(ctx context.Context, usageID uuid.UUID) (*models.Promotion, error) {
	var promo models.Promotion

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var usage models.PromotionUsage
		if err := tx.Where("id = ?", usageID).First(&usage).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		res := tx.Model(&models.PromotionUsage{}).
			Where("id = ? AND released_at IS NULL", usageID).
			Update("released_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyReleased
		}

		if err := tx.Model(&models.Promotion{}).
			Where("id = ? AND current_usage_count > 0", usage.PromotionID).
			Updates(map[string]any{
				"current_usage_count": gorm.Expr("current_usage_count - 1"),
				"updated_at":          now,
			}).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", usage.PromotionID).First(&promo).Error
	})
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

func (r *GormRepo) GetUsage(ctx context.Context, id uuid.UUID) (*models.PromotionUsage, error) {
	var u models.PromotionUsage
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/restaurant/internal/identity"
	"github.com/Skotchmaster/restaurant/internal/models"
	"github.com/Skotchmaster/restaurant/internal/status"
)

type OrderFilter struct {
	Owner    identity.Identity
	Statuses []status.OrderStatus
	Limit    int
	Offset   int
}

func preloadDetails(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Details", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC, id ASC") }).
		Preload("Details.Options")
}

// CreateOrder inserts the header with its details and options, and ties a
// held promotion usage to the new order, in one transaction.
func (r *GormRepo) CreateOrder(ctx context.Context, order *models.OrderHeader) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		if order.PromotionUsageID == nil {
			return nil
		}
		res := tx.Model(&models.PromotionUsage{}).
			Where("id = ? AND released_at IS NULL", *order.PromotionUsageID).
			Update("order_id", order.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyReleased
		}
		return nil
	})
}

func (r *GormRepo) GetOrder(ctx context.Context, id uuid.UUID) (*models.OrderHeader, error) {
	var order models.OrderHeader
	if err := preloadDetails(r.DB.WithContext(ctx)).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *GormRepo) ListOrders(ctx context.Context, f OrderFilter) ([]models.OrderHeader, error) {
	q := preloadDetails(r.DB.WithContext(ctx)).Model(&models.OrderHeader{})

	if !f.Owner.IsZero() {
		if f.Owner.UserID != "" {
			q = q.Where("owner_user_id = ?", f.Owner.UserID)
		} else {
			q = q.Where("guest_token = ?", f.Owner.GuestToken)
		}
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var orders []models.OrderHeader
	if err := q.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// ListUnpaidBefore returns orders still waiting for prepayment that were
// created before the cutoff.
func (r *GormRepo) ListUnpaidBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.OrderHeader, error) {
	var orders []models.OrderHeader
	err := r.DB.WithContext(ctx).
		Where("status = ? AND paid_at IS NULL AND created_at < ?", status.PendingPayment, cutoff.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// SaveOrder writes the mutable header fields and the given details only if
// the stored version still equals expected. On success order.Version is
// advanced.
func (r *GormRepo) SaveOrder(ctx context.Context, order *models.OrderHeader, expected int64, details ...uuid.UUID) error {
	now := time.Now().UTC()
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.OrderHeader{}).
			Where("id = ? AND version = ?", order.ID, expected).
			Updates(map[string]any{
				"status":         order.Status,
				"customer_name":  order.CustomerName,
				"customer_phone": order.CustomerPhone,
				"customer_note":  order.CustomerNote,
				"sub_total":      order.SubTotal,
				"discount":       order.Discount,
				"total":          order.Total,
				"payment_method": order.PaymentMethod,
				"approved_at":    order.ApprovedAt,
				"paid_at":        order.PaidAt,
				"preparing_at":   order.PreparingAt,
				"ready_at":       order.ReadyAt,
				"completed_at":   order.CompletedAt,
				"cancelled_at":   order.CancelledAt,
				"closed_at":      order.ClosedAt,
				"updated_at":     now,
				"version":        expected + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.missOrStale(tx, order.ID)
		}

		for _, id := range details {
			d := order.Detail(id)
			if d == nil {
				continue
			}
			if err := tx.Model(&models.OrderDetail{}).
				Where("id = ? AND order_id = ?", d.ID, order.ID).
				Updates(map[string]any{
					"kitchen_status": d.KitchenStatus,
					"is_cancelled":   d.IsCancelled,
					"cancelled_at":   d.CancelledAt,
					"updated_at":     now,
				}).Error; err != nil {
				return err
			}
			d.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return err
	}
	order.Version = expected + 1
	order.UpdatedAt = now
	return nil
}

// ArchiveOrder soft-deletes the order if it is still at the expected version.
func (r *GormRepo) ArchiveOrder(ctx context.Context, id uuid.UUID, expected int64) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND version = ?", id, expected).Delete(&models.OrderHeader{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.missOrStale(tx, id)
		}
		return nil
	})
}

func (r *GormRepo) missOrStale(tx *gorm.DB, id uuid.UUID) error {
	var count int64
	if err := tx.Model(&models.OrderHeader{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return ErrStaleVersion
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

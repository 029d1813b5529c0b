package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

// Completer finishes a delivered order. It is shared by the order service and
// the escrow release engine so both paths mutate stock the same way.
type Completer interface {
	// Complete moves a delivered or disputed order to COMPLETED and reports
	// whether this call made the change.
	Complete(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, at time.Time) (bool, error)
	// ApplyInventory decrements stock and increments sold for every line of
	// the order. Only the first call per order has an effect.
	ApplyInventory(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, at time.Time) (bool, error)
}

type completer struct{}

// NewCompleter exposes the default completion implementation.
func NewCompleter() Completer {
	return completer{}
}

func (c completer) Complete(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, at time.Time) (bool, error) {
	if tx == nil {
		return false, fmt.Errorf("transaction required to complete order")
	}
	at = at.UTC()
	res := tx.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN ?", orderID, []enums.OrderStatus{
			enums.OrderStatusDelivered,
			enums.OrderStatusReview,
			enums.OrderStatusComplaint,
		}).
		Updates(map[string]any{
			"status":       enums.OrderStatusCompleted,
			"completed_at": at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("complete order: %w", res.Error)
	}
	completed := res.RowsAffected == 1
	if completed {
		if _, err := c.ApplyInventory(ctx, tx, orderID, at); err != nil {
			return false, err
		}
	}
	return completed, nil
}

func (completer) ApplyInventory(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, at time.Time) (bool, error) {
	if tx == nil {
		return false, fmt.Errorf("transaction required to apply inventory")
	}
	res := tx.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND inventory_applied_at IS NULL", orderID).
		Update("inventory_applied_at", at.UTC())
	if res.Error != nil {
		return false, fmt.Errorf("claim inventory mutation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	var items []models.OrderLineItem
	if err := tx.WithContext(ctx).Where("order_id = ?", orderID).Find(&items).Error; err != nil {
		return false, fmt.Errorf("load line items: %w", err)
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		err := tx.WithContext(ctx).
			Model(&models.Product{}).
			Where("id = ?", item.ProductID).
			Updates(map[string]any{
				"stock": gorm.Expr("stock - ?", item.Quantity),
				"sold":  gorm.Expr("sold + ?", item.Quantity),
			}).Error
		if err != nil {
			return false, fmt.Errorf("apply inventory for product %s: %w", item.ProductID, err)
		}
	}
	return true, nil
}

package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

// Repository persists escrow rows and seller balances.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindForSeller(ctx context.Context, paymentID, sellerID uuid.UUID) (*models.PaymentEscrow, error)
	FindPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	MarkReleased(ctx context.Context, escrowID uuid.UUID, at time.Time) (bool, error)
	CreditSeller(ctx context.Context, sellerID uuid.UUID, amount int64) (bool, error)
	ListDue(ctx context.Context, now time.Time, after DueCursor, limit int) ([]models.PaymentEscrow, error)
	CountHolding(ctx context.Context, paymentID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an escrow repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindForSeller(ctx context.Context, paymentID, sellerID uuid.UUID) (*models.PaymentEscrow, error) {
	var row models.PaymentEscrow
	if err := r.db.WithContext(ctx).
		Where("payment_id = ? AND seller_id = ?", paymentID, sellerID).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	var row models.Payment
	if err := r.db.WithContext(ctx).First(&row, "id = ?", paymentID).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var row models.Order
	if err := r.db.WithContext(ctx).First(&row, "id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// MarkReleased flips HOLD to RELEASED. It reports false when another caller
// already moved the row.
func (r *repository) MarkReleased(ctx context.Context, escrowID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentEscrow{}).
		Where("id = ? AND status = ?", escrowID, enums.EscrowStatusHold).
		Updates(map[string]any{
			"status":      enums.EscrowStatusReleased,
			"released_at": at,
			"updated_at":  at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreditSeller(ctx context.Context, sellerID uuid.UUID, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Seller{}).
		Where("id = ?", sellerID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DueCursor is the keyset position of the last escrow read by ListDue.
// The zero value starts from the beginning.
type DueCursor struct {
	PaymentID uuid.UUID
	ID        uuid.UUID
}

// ListDue returns releasable escrows whose hold window has elapsed, sorted
// by payment so a payment's entries arrive together. Only entries of PAID
// payments whose order is DELIVERED are returned; anything else cannot be
// released and would crowd out payable entries.
func (r *repository) ListDue(ctx context.Context, now time.Time, after DueCursor, limit int) ([]models.PaymentEscrow, error) {
	var rows []models.PaymentEscrow
	query := r.db.WithContext(ctx).
		Model(&models.PaymentEscrow{}).
		Select("payment_escrows.*").
		Joins("JOIN payments ON payments.id = payment_escrows.payment_id").
		Joins("JOIN orders ON orders.id = payment_escrows.order_id").
		Where("payment_escrows.status = ? AND payment_escrows.hold_until <= ?", enums.EscrowStatusHold, now).
		Where("payments.status = ?", enums.PaymentStatusPaid).
		Where("orders.status = ?", enums.OrderStatusDelivered)
	if after != (DueCursor{}) {
		query = query.Where(
			"(payment_escrows.payment_id > ? OR (payment_escrows.payment_id = ? AND payment_escrows.id > ?))",
			after.PaymentID, after.PaymentID, after.ID,
		)
	}
	query = query.
		Order("payment_escrows.payment_id ASC").
		Order("payment_escrows.id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CountHolding(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentEscrow{}).
		Where("payment_id = ? AND status = ?", paymentID, enums.EscrowStatusHold).
		Count(&count).Error
	return count, err
}

package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

// Repository defines persistence operations for payments and their escrows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	CreateEscrows(ctx context.Context, escrows []models.PaymentEscrow) error
	FindByID(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	FindDetail(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	// TransitionStatus moves the payment to `to` only from one of `from`.
	TransitionStatus(ctx context.Context, paymentID uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus, paidAt *time.Time) (bool, error)
	ConfirmPendingOrders(ctx context.Context, paymentID uuid.UUID) (int64, error)
	ClearCart(ctx context.Context, buyerID, paymentID uuid.UUID) (int64, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Omit("Orders", "Escrows", "History").Create(payment).Error
}

func (r *repository) CreateEscrows(ctx context.Context, escrows []models.PaymentEscrow) error {
	if len(escrows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&escrows).Error
}

func (r *repository) FindByID(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", paymentID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindDetail(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Preload("Orders", func(db *gorm.DB) *gorm.DB { return db.Order("code ASC") }).
		Preload("Escrows", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", paymentID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) TransitionStatus(ctx context.Context, paymentID uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus, paidAt *time.Time) (bool, error) {
	updates := map[string]any{"status": to}
	if paidAt != nil {
		updates["paid_at"] = paidAt.UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status IN ?", paymentID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ConfirmPendingOrders(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("payment_id = ? AND status = ?", paymentID, enums.OrderStatusPending).
		Update("status", enums.OrderStatusConfirmed)
	return res.RowsAffected, res.Error
}

func (r *repository) ClearCart(ctx context.Context, buyerID, paymentID uuid.UUID) (int64, error) {
	var orderIDs []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("payment_id = ?", paymentID).
		Pluck("id", &orderIDs).Error; err != nil {
		return 0, err
	}
	if len(orderIDs) == 0 {
		return 0, nil
	}

	var productIDs []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.OrderLineItem{}).
		Where("order_id IN ?", orderIDs).
		Distinct().
		Pluck("product_id", &productIDs).Error; err != nil {
		return 0, err
	}
	if len(productIDs) == 0 {
		return 0, nil
	}

	res := r.db.WithContext(ctx).
		Where("buyer_id = ? AND product_id IN ?", buyerID, productIDs).
		Delete(&models.CartItem{})
	return res.RowsAffected, res.Error
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

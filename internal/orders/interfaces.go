package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

// Repository defines persistence operations for seller orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrders(ctx context.Context, orders []models.Order) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]models.Order, error)
	FindPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	// TransitionStatus applies updates only while the order is still in from.
	TransitionStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
	List(ctx context.Context, query listQuery) ([]models.Order, error)
}

// CODSettler flips a cash-on-delivery payment to PAID when its order is delivered.
type CODSettler interface {
	MarkCODPaid(ctx context.Context, tx *gorm.DB, paymentID, orderID uuid.UUID) (bool, error)
}

// Releaser settles the escrow held for a seller's share of a payment. It
// completes the order as part of the release.
type Releaser interface {
	ReleaseOrder(ctx context.Context, paymentID, sellerID uuid.UUID) error
}

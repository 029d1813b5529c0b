package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

// Payment covers every order of one checkout. Its ID doubles as the
// provider-side transaction reference.
type Payment struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID     uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null"`
	Method      enums.PaymentMethod `gorm:"column:method;type:text;not null"`
	Status      enums.PaymentStatus `gorm:"column:status;type:text;not null"`
	TotalAmount int64               `gorm:"column:total_amount;not null"`
	PaidAt      *time.Time          `gorm:"column:paid_at"`
	Orders      []Order             `gorm:"foreignKey:PaymentID"`
	Escrows     []PaymentEscrow     `gorm:"foreignKey:PaymentID;constraint:OnDelete:CASCADE"`
	History     []PaymentHistory    `gorm:"foreignKey:PaymentID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time           `gorm:"column:created_at"`
	UpdatedAt   time.Time           `gorm:"column:updated_at"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// OrderIDs lists the orders covered by the payment, when preloaded.
func (p *Payment) OrderIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.Orders))
	for _, order := range p.Orders {
		ids = append(ids, order.ID)
	}
	return ids
}

// PaymentEscrow is one seller's held share of a payment.
type PaymentEscrow struct {
	ID           uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	PaymentID    uuid.UUID          `gorm:"column:payment_id;type:uuid;not null"`
	SellerID     uuid.UUID          `gorm:"column:seller_id;type:uuid;not null"`
	OrderID      uuid.UUID          `gorm:"column:order_id;type:uuid;not null"`
	Subtotal     int64              `gorm:"column:subtotal;not null"`
	ServiceFee   int64              `gorm:"column:service_fee;not null"`
	PaymentFee   int64              `gorm:"column:payment_fee;not null"`
	EscrowAmount int64              `gorm:"column:escrow_amount;not null"`
	Status       enums.EscrowStatus `gorm:"column:status;type:text;not null"`
	HoldUntil    time.Time          `gorm:"column:hold_until;not null"`
	ReleasedAt   *time.Time         `gorm:"column:released_at"`
	CreatedAt    time.Time          `gorm:"column:created_at"`
	UpdatedAt    time.Time          `gorm:"column:updated_at"`
}

func (e *PaymentEscrow) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}

// PaymentHistory is an append-only audit row. (payment_id, transaction_id) is unique.
type PaymentHistory struct {
	ID            uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	PaymentID     uuid.UUID                `gorm:"column:payment_id;type:uuid;not null"`
	Kind          enums.PaymentHistoryKind `gorm:"column:kind;type:text;not null"`
	Amount        int64                    `gorm:"column:amount;not null"`
	Method        enums.PaymentMethod      `gorm:"column:method;type:text;not null"`
	TransactionID string                   `gorm:"column:transaction_id;not null"`
	SellerID      *uuid.UUID               `gorm:"column:seller_id;type:uuid"`
	Note          string                   `gorm:"column:note;not null;default:''"`
	CreatedAt     time.Time                `gorm:"column:created_at"`
}

func (PaymentHistory) TableName() string {
	return "payment_history"
}

func (h *PaymentHistory) BeforeCreate(*gorm.DB) error {
	ensureID(&h.ID)
	return nil
}

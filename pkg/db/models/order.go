package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

// Order is the per-seller order produced from one checkout.
type Order struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Code               string            `gorm:"column:code;not null;uniqueIndex"`
	BuyerID            uuid.UUID         `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID           uuid.UUID         `gorm:"column:seller_id;type:uuid;not null"`
	PaymentID          *uuid.UUID        `gorm:"column:payment_id;type:uuid"`
	Subtotal           int64             `gorm:"column:subtotal;not null"`
	ShippingFee        int64             `gorm:"column:shipping_fee;not null;default:0"`
	Discount           int64             `gorm:"column:discount;not null;default:0"`
	Total              int64             `gorm:"column:total;not null"`
	ShippingAddressID  *uuid.UUID        `gorm:"column:shipping_address_id;type:uuid"`
	Status             enums.OrderStatus `gorm:"column:status;type:text;not null"`
	CancelReason       *string           `gorm:"column:cancel_reason"`
	InventoryAppliedAt *time.Time        `gorm:"column:inventory_applied_at"`
	DeliveredAt        *time.Time        `gorm:"column:delivered_at"`
	CompletedAt        *time.Time        `gorm:"column:completed_at"`
	CancelledAt        *time.Time        `gorm:"column:cancelled_at"`
	Items              []OrderLineItem   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time         `gorm:"column:created_at"`
	UpdatedAt          time.Time         `gorm:"column:updated_at"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrderLineItem snapshots product name and price at checkout time.
type OrderLineItem struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Name      string    `gorm:"column:name;not null"`
	Quantity  int       `gorm:"column:quantity;not null"`
	UnitPrice int64     `gorm:"column:unit_price;not null"`
	LineTotal int64     `gorm:"column:line_total;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (li *OrderLineItem) BeforeCreate(*gorm.DB) error {
	ensureID(&li.ID)
	return nil
}

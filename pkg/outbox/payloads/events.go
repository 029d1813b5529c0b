package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

// OrderCreatedEvent is emitted once per checkout with every seller order it produced.
type OrderCreatedEvent struct {
	PaymentID     uuid.UUID           `json:"payment_id"`
	BuyerID       uuid.UUID           `json:"buyer_id"`
	OrderIDs      []uuid.UUID         `json:"order_ids"`
	OrderCodes    []string            `json:"order_codes"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	TotalAmount   int64               `json:"total_amount"`
}

// OrderStatusChangedEvent reports every accepted state transition.
type OrderStatusChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	OrderCode  string            `json:"order_code"`
	BuyerID    uuid.UUID         `json:"buyer_id"`
	SellerID   uuid.UUID         `json:"seller_id"`
	FromStatus enums.OrderStatus `json:"from_status"`
	ToStatus   enums.OrderStatus `json:"to_status"`
	Reason     string            `json:"reason,omitempty"`
	ChangedAt  time.Time         `json:"changed_at"`
}

// PaymentStatusEvent covers payment_paid and payment_failed.
type PaymentStatusEvent struct {
	PaymentID     uuid.UUID           `json:"payment_id"`
	BuyerID       uuid.UUID           `json:"buyer_id"`
	Method        enums.PaymentMethod `json:"method"`
	Status        enums.PaymentStatus `json:"status"`
	Amount        int64               `json:"amount"`
	TransactionID string              `json:"transaction_id"`
	OrderIDs      []uuid.UUID         `json:"order_ids,omitempty"`
}

// EscrowReleasedEvent is emitted when a seller is credited.
type EscrowReleasedEvent struct {
	PaymentID     uuid.UUID `json:"payment_id"`
	EscrowID      uuid.UUID `json:"escrow_id"`
	SellerID      uuid.UUID `json:"seller_id"`
	OrderID       uuid.UUID `json:"order_id"`
	Amount        int64     `json:"amount"`
	TransactionID string    `json:"transaction_id"`
	ReleasedAt    time.Time `json:"released_at"`
}

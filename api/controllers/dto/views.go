// Package dto holds the JSON views returned by the HTTP controllers.
package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

type LineItem struct {
	ProductID uuid.UUID `json:"productId"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unitPrice"`
	LineTotal int64     `json:"lineTotal"`
}

type Order struct {
	ID                uuid.UUID         `json:"id"`
	Code              string            `json:"code"`
	BuyerID           uuid.UUID         `json:"buyerId"`
	SellerID          uuid.UUID         `json:"sellerId"`
	PaymentID         *uuid.UUID        `json:"paymentId,omitempty"`
	Status            enums.OrderStatus `json:"status"`
	Subtotal          int64             `json:"subtotal"`
	ShippingFee       int64             `json:"shippingFee"`
	Discount          int64             `json:"discount"`
	Total             int64             `json:"total"`
	ShippingAddressID *uuid.UUID        `json:"shippingAddressId,omitempty"`
	CancelReason      *string           `json:"cancelReason,omitempty"`
	DeliveredAt       *time.Time        `json:"deliveredAt,omitempty"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
	CancelledAt       *time.Time        `json:"cancelledAt,omitempty"`
	Items             []LineItem        `json:"items,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

type Escrow struct {
	ID           uuid.UUID          `json:"id"`
	SellerID     uuid.UUID          `json:"sellerId"`
	OrderID      uuid.UUID          `json:"orderId"`
	Subtotal     int64              `json:"subtotal"`
	ServiceFee   int64              `json:"serviceFee"`
	PaymentFee   int64              `json:"paymentFee"`
	EscrowAmount int64              `json:"escrowAmount"`
	Status       enums.EscrowStatus `json:"status"`
	HoldUntil    time.Time          `json:"holdUntil"`
	ReleasedAt   *time.Time         `json:"releasedAt,omitempty"`
}

type HistoryEntry struct {
	Kind          enums.PaymentHistoryKind `json:"kind"`
	Amount        int64                    `json:"amount"`
	Method        enums.PaymentMethod      `json:"method"`
	TransactionID string                   `json:"transactionId"`
	SellerID      *uuid.UUID               `json:"sellerId,omitempty"`
	Note          string                   `json:"note,omitempty"`
	CreatedAt     time.Time                `json:"createdAt"`
}

type Payment struct {
	ID          uuid.UUID           `json:"id"`
	BuyerID     uuid.UUID           `json:"buyerId"`
	Method      enums.PaymentMethod `json:"method"`
	Status      enums.PaymentStatus `json:"status"`
	TotalAmount int64               `json:"totalAmount"`
	PaidAt      *time.Time          `json:"paidAt,omitempty"`
	OrderIDs    []uuid.UUID         `json:"orderIds"`
	Escrows     []Escrow            `json:"escrows,omitempty"`
	History     []HistoryEntry      `json:"history,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
}

type OrderPage struct {
	Orders     []Order `json:"orders"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

type Checkout struct {
	Payment     Payment `json:"payment"`
	Orders      []Order `json:"orders"`
	RedirectURL string  `json:"redirectUrl,omitempty"`
}

func FromOrder(o models.Order) Order {
	items := make([]LineItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, LineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal,
		})
	}
	return Order{
		ID:                o.ID,
		Code:              o.Code,
		BuyerID:           o.BuyerID,
		SellerID:          o.SellerID,
		PaymentID:         o.PaymentID,
		Status:            o.Status,
		Subtotal:          o.Subtotal,
		ShippingFee:       o.ShippingFee,
		Discount:          o.Discount,
		Total:             o.Total,
		ShippingAddressID: o.ShippingAddressID,
		CancelReason:      o.CancelReason,
		DeliveredAt:       o.DeliveredAt,
		CompletedAt:       o.CompletedAt,
		CancelledAt:       o.CancelledAt,
		Items:             items,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func FromOrders(orders []models.Order) []Order {
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, FromOrder(o))
	}
	return out
}

// FromPayment renders a payment. Orders are taken from orders when the
// payment was loaded without them.
func FromPayment(p models.Payment, orders []models.Order) Payment {
	if len(p.Orders) == 0 {
		p.Orders = orders
	}
	view := Payment{
		ID:          p.ID,
		BuyerID:     p.BuyerID,
		Method:      p.Method,
		Status:      p.Status,
		TotalAmount: p.TotalAmount,
		PaidAt:      p.PaidAt,
		OrderIDs:    p.OrderIDs(),
		CreatedAt:   p.CreatedAt,
	}
	for _, e := range p.Escrows {
		view.Escrows = append(view.Escrows, Escrow{
			ID:           e.ID,
			SellerID:     e.SellerID,
			OrderID:      e.OrderID,
			Subtotal:     e.Subtotal,
			ServiceFee:   e.ServiceFee,
			PaymentFee:   e.PaymentFee,
			EscrowAmount: e.EscrowAmount,
			Status:       e.Status,
			HoldUntil:    e.HoldUntil,
			ReleasedAt:   e.ReleasedAt,
		})
	}
	for _, h := range p.History {
		view.History = append(view.History, HistoryEntry{
			Kind:          h.Kind,
			Amount:        h.Amount,
			Method:        h.Method,
			TransactionID: h.TransactionID,
			SellerID:      h.SellerID,
			Note:          h.Note,
			CreatedAt:     h.CreatedAt,
		})
	}
	return view
}

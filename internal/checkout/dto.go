package checkout

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

// Item is one cart line at the price the buyer saw.
type Item struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
	Price     int64     `json:"price" validate:"gte=0"`
}

// SellerGroup is the part of the cart sold by one seller.
type SellerGroup struct {
	SellerID    uuid.UUID `json:"seller_id" validate:"required"`
	Items       []Item    `json:"items" validate:"required,min=1,dive"`
	ShippingFee int64     `json:"shipping_fee" validate:"gte=0"`
	Discount    int64     `json:"discount" validate:"gte=0"`
}

// CheckoutInput is the grouped cart submitted by the buyer.
type CheckoutInput struct {
	Groups            []SellerGroup       `json:"groups" validate:"required,min=1,dive"`
	ShippingAddressID *uuid.UUID          `json:"shipping_address_id,omitempty"`
	TotalAmount       int64               `json:"total_amount" validate:"gte=0"`
	PaymentMethod     enums.PaymentMethod `json:"payment_method" validate:"required,enum"`
	ClientIP          string              `json:"-"`
}

// CheckoutResult is returned after the orders are committed.
type CheckoutResult struct {
	Payment     *models.Payment `json:"payment"`
	Orders      []models.Order  `json:"orders"`
	RedirectURL string          `json:"redirect_url,omitempty"`
}

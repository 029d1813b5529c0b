package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/escrow-settlement/pkg/config"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

// FeeRates are the platform deductions applied to each seller subtotal.
type FeeRates struct {
	Service decimal.Decimal
	Payment decimal.Decimal
}

// DefaultFeeRates are 7.9% service and 2% payment processing.
var DefaultFeeRates = FeeRates{
	Service: decimal.RequireFromString("0.079"),
	Payment: decimal.RequireFromString("0.02"),
}

// RatesFromConfig converts the configured float rates.
func RatesFromConfig(cfg config.SettlementConfig) FeeRates {
	return FeeRates{
		Service: decimal.NewFromFloat(cfg.ServiceFeeRate),
		Payment: decimal.NewFromFloat(cfg.PaymentFeeRate),
	}
}

// Fees is the split of one seller subtotal.
type Fees struct {
	ServiceFee   int64
	PaymentFee   int64
	EscrowAmount int64
}

// ComputeFees rounds each fee half away from zero to whole currency units.
// The escrow amount is whatever remains, so the three always sum to subtotal.
func ComputeFees(subtotal int64, rates FeeRates) Fees {
	base := decimal.NewFromInt(subtotal)
	service := base.Mul(rates.Service).Round(0).IntPart()
	payment := base.Mul(rates.Payment).Round(0).IntPart()
	return Fees{
		ServiceFee:   service,
		PaymentFee:   payment,
		EscrowAmount: subtotal - service - payment,
	}
}

// BuildEscrows creates one HOLD entry per distinct seller among orders,
// releasable after holdUntil = now + hold. Orders must already carry IDs.
func BuildEscrows(paymentID uuid.UUID, orders []models.Order, now time.Time, hold time.Duration, rates FeeRates) []models.PaymentEscrow {
	type share struct {
		orderID  uuid.UUID
		subtotal int64
	}
	shares := make(map[uuid.UUID]*share, len(orders))
	sellers := make([]uuid.UUID, 0, len(orders))
	for _, order := range orders {
		s, ok := shares[order.SellerID]
		if !ok {
			s = &share{orderID: order.ID}
			shares[order.SellerID] = s
			sellers = append(sellers, order.SellerID)
		}
		s.subtotal += order.Subtotal
	}

	now = now.UTC()
	holdUntil := now.Add(hold)
	escrows := make([]models.PaymentEscrow, 0, len(sellers))
	for _, sellerID := range sellers {
		s := shares[sellerID]
		fees := ComputeFees(s.subtotal, rates)
		escrows = append(escrows, models.PaymentEscrow{
			ID:           uuid.New(),
			PaymentID:    paymentID,
			SellerID:     sellerID,
			OrderID:      s.orderID,
			Subtotal:     s.subtotal,
			ServiceFee:   fees.ServiceFee,
			PaymentFee:   fees.PaymentFee,
			EscrowAmount: fees.EscrowAmount,
			Status:       enums.EscrowStatusHold,
			HoldUntil:    holdUntil,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return escrows
}

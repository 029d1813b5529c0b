package payments

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/escrow-settlement/pkg/config"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

func TestComputeFees(t *testing.T) {
	cases := []struct {
		subtotal int64
		want     Fees
	}{
		{1_000_000, Fees{ServiceFee: 79_000, PaymentFee: 20_000, EscrowAmount: 901_000}},
		// 1500 * 0.079 = 118.5 rounds up, 1500 * 0.02 = 30
		{1_500, Fees{ServiceFee: 119, PaymentFee: 30, EscrowAmount: 1_351}},
		{0, Fees{}},
		{333_333, Fees{ServiceFee: 26_333, PaymentFee: 6_667, EscrowAmount: 300_333}},
	}
	for _, tc := range cases {
		got := ComputeFees(tc.subtotal, DefaultFeeRates)
		assert.Equal(t, tc.want, got, "subtotal %d", tc.subtotal)
		assert.Equal(t, tc.subtotal, got.ServiceFee+got.PaymentFee+got.EscrowAmount)
	}
}

func TestRatesFromConfigMatchDefaults(t *testing.T) {
	rates := RatesFromConfig(config.SettlementConfig{ServiceFeeRate: 0.079, PaymentFeeRate: 0.02})
	assert.True(t, rates.Service.Equal(DefaultFeeRates.Service))
	assert.True(t, rates.Payment.Equal(DefaultFeeRates.Payment))
}

func TestBuildEscrowsOnePerSeller(t *testing.T) {
	paymentID := uuid.New()
	sellerA, sellerB := uuid.New(), uuid.New()
	orders := []models.Order{
		{ID: uuid.New(), SellerID: sellerA, Subtotal: 1_000_000},
		{ID: uuid.New(), SellerID: sellerB, Subtotal: 250_000},
	}
	now := time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC)

	escrows := BuildEscrows(paymentID, orders, now, 10*time.Minute, DefaultFeeRates)
	require.Len(t, escrows, 2)

	first := escrows[0]
	assert.Equal(t, paymentID, first.PaymentID)
	assert.Equal(t, sellerA, first.SellerID)
	assert.Equal(t, orders[0].ID, first.OrderID)
	assert.Equal(t, int64(79_000), first.ServiceFee)
	assert.Equal(t, int64(20_000), first.PaymentFee)
	assert.Equal(t, int64(901_000), first.EscrowAmount)
	assert.Equal(t, enums.EscrowStatusHold, first.Status)
	assert.Equal(t, now.Add(10*time.Minute), first.HoldUntil)

	second := escrows[1]
	assert.Equal(t, sellerB, second.SellerID)
	assert.Equal(t, int64(19_750), second.ServiceFee)
	assert.Equal(t, int64(5_000), second.PaymentFee)
	assert.Equal(t, int64(225_250), second.EscrowAmount)
}

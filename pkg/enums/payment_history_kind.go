package enums

// PaymentHistoryKind labels entries in a payment's append-only history.
type PaymentHistoryKind string

const (
	HistoryKindPayment       PaymentHistoryKind = "PAYMENT"
	HistoryKindPaymentFailed PaymentHistoryKind = "PAYMENT_FAILED"
	HistoryKindEscrowRelease PaymentHistoryKind = "ESCROW_RELEASE"
)

func (k PaymentHistoryKind) IsValid() bool {
	switch k {
	case HistoryKindPayment, HistoryKindPaymentFailed, HistoryKindEscrowRelease:
		return true
	default:
		return false
	}
}

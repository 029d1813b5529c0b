package enums

import (
	"fmt"
	"strings"
)

// PaymentMethod identifies how the buyer pays for a checkout.
type PaymentMethod string

const (
	PaymentMethodCOD     PaymentMethod = "COD"
	PaymentMethodMomo    PaymentMethod = "MOMO"
	PaymentMethodVNPay   PaymentMethod = "VNPAY"
	PaymentMethodZaloPay PaymentMethod = "ZALOPAY"
	PaymentMethodBank    PaymentMethod = "BANK"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCOD,
	PaymentMethodMomo,
	PaymentMethodVNPay,
	PaymentMethodZaloPay,
	PaymentMethodBank,
}

func (m PaymentMethod) String() string {
	return string(m)
}

func (m PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// UnmarshalText upper-cases input so "vnpay" in a request body decodes.
// Validity is left to callers.
func (m *PaymentMethod) UnmarshalText(text []byte) error {
	*m = PaymentMethod(strings.ToUpper(strings.TrimSpace(string(text))))
	return nil
}

// IsGateway reports whether the method redirects the buyer to an external provider.
func (m PaymentMethod) IsGateway() bool {
	switch m {
	case PaymentMethodMomo, PaymentMethodVNPay, PaymentMethodZaloPay:
		return true
	default:
		return false
	}
}

// ParsePaymentMethod is case-insensitive so route segments like "vnpay" resolve.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validPaymentMethods {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}

package gateway

import (
	"context"
	"fmt"

	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-settlement/pkg/errors"
)

// Offline covers methods settled outside a hosted gateway (COD, bank
// transfer). No redirect is produced and no callback is accepted.
type Offline struct {
	method enums.PaymentMethod
}

// NewOffline builds the adapter for a non-gateway method.
func NewOffline(method enums.PaymentMethod) (*Offline, error) {
	if !method.IsValid() || method.IsGateway() {
		return nil, fmt.Errorf("%q is not an offline payment method", method)
	}
	return &Offline{method: method}, nil
}

func (o *Offline) Method() enums.PaymentMethod { return o.method }

func (o *Offline) BuildPaymentURL(context.Context, PaymentRequest) (string, error) {
	return "", nil
}

func (o *Offline) ParseCallback(map[string]string) (*Callback, error) {
	return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s payments have no gateway callback", o.method))
}

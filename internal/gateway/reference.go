package gateway

import (
	"strings"

	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

var referenceFields = map[enums.PaymentMethod][2]string{
	enums.PaymentMethodVNPay:   {"vnp_TxnRef", "vnp_ResponseCode"},
	enums.PaymentMethodMomo:    {"orderId", "resultCode"},
	enums.PaymentMethodZaloPay: {"app_trans_id", "return_code"},
}

// CallbackReference identifies one provider outcome for a payment, e.g.
// "VNPAY:<ref>:00". A retried failure followed by a success yields two
// references. It is empty when the fields carry no reference.
func CallbackReference(method enums.PaymentMethod, fields map[string]string) string {
	keys, ok := referenceFields[method]
	if !ok {
		return ""
	}
	ref := strings.TrimSpace(fields[keys[0]])
	if ref == "" {
		return ""
	}
	return method.String() + ":" + ref + ":" + strings.TrimSpace(fields[keys[1]])
}

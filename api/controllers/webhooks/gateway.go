// Package webhooks receives payment gateway notifications.
package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/escrow-settlement/api/responses"
	"github.com/angelmondragon/escrow-settlement/internal/gateway"
	"github.com/angelmondragon/escrow-settlement/internal/payments"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-settlement/pkg/errors"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
)

type callbackService interface {
	VerifyCallback(ctx context.Context, method enums.PaymentMethod, fields map[string]string) error
	HandleCallback(ctx context.Context, method enums.PaymentMethod, fields map[string]string) (*payments.CallbackResult, error)
}

// CallbackGuard deduplicates provider notifications.
type CallbackGuard interface {
	CheckAndMark(ctx context.Context, ref string) (bool, error)
	Delete(ctx context.Context, ref string) error
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeDuplicate
	outcomeFailed
)

// GatewayCallback verifies and applies a provider's payment notification and
// answers in the format that provider expects. Repeated notifications are
// acknowledged without reapplying them.
func GatewayCallback(svc callbackService, guard CallbackGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		method, err := enums.ParsePaymentMethod(chi.URLParam(r, "method"))
		if err != nil || !method.IsGateway() {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment gateway"))
			return
		}
		if svc == nil {
			writeAck(ctx, logg, w, method, outcomeFailed, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		if method == enums.PaymentMethodVNPay && r.Method != http.MethodGet && r.Method != http.MethodPost {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unsupported method"))
			return
		}

		fields, err := readFields(w, r)
		if err != nil {
			writeAck(ctx, logg, w, method, outcomeFailed, err)
			return
		}

		ref := gateway.CallbackReference(method, fields)
		ctx = logg.WithFields(ctx, map[string]any{"payment_method": method, "callback_ref": ref})
		// only an authentic notification may claim its reference
		if err := svc.VerifyCallback(ctx, method, fields); err != nil {
			writeAck(ctx, logg, w, method, outcomeFailed, err)
			return
		}
		guarded := false
		if guard != nil && ref != "" {
			seen, err := guard.CheckAndMark(ctx, ref)
			switch {
			case err != nil:
				// the service rejects reapplied outcomes on its own
				logg.Warn(ctx, "callback guard unavailable: "+err.Error())
			case seen:
				logg.Info(ctx, "duplicate gateway callback acknowledged")
				writeAck(ctx, logg, w, method, outcomeDuplicate, nil)
				return
			default:
				guarded = true
			}
		}

		result, err := svc.HandleCallback(ctx, method, fields)
		if err != nil {
			if guarded {
				if delErr := guard.Delete(ctx, ref); delErr != nil {
					logg.Error(ctx, "failed to release callback guard", delErr)
				}
			}
			writeAck(ctx, logg, w, method, outcomeFailed, err)
			return
		}
		if !result.Applied {
			writeAck(ctx, logg, w, method, outcomeDuplicate, nil)
			return
		}
		writeAck(ctx, logg, w, method, outcomeApplied, nil)
	}
}

func writeAck(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, method enums.PaymentMethod, result outcome, err error) {
	if err != nil && logg != nil {
		if pkgerrors.MetadataFor(pkgerrors.As(err).Code()).HTTPStatus >= http.StatusInternalServerError {
			logg.Error(ctx, "gateway callback failed", err)
		} else {
			logg.Warn(ctx, "gateway callback rejected: "+err.Error())
		}
	}

	switch method {
	case enums.PaymentMethodVNPay:
		code, message := vnpayAck(result, err)
		writeRaw(w, http.StatusOK, map[string]string{"RspCode": code, "Message": message})
	case enums.PaymentMethodZaloPay:
		switch result {
		case outcomeApplied:
			writeRaw(w, http.StatusOK, map[string]any{"return_code": 1, "return_message": "success"})
		case outcomeDuplicate:
			writeRaw(w, http.StatusOK, map[string]any{"return_code": 2, "return_message": "already processed"})
		default:
			writeRaw(w, http.StatusOK, map[string]any{"return_code": -1, "return_message": pkgerrors.As(err).Message()})
		}
	default:
		if result == outcomeFailed {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// vnpayAck maps an outcome to VNPay's IPN response codes.
func vnpayAck(result outcome, err error) (string, string) {
	switch result {
	case outcomeApplied:
		return "00", "Confirm Success"
	case outcomeDuplicate:
		return "02", "Order already confirmed"
	}
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature):
		return "97", "Invalid signature"
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		return "01", "Order not found"
	case pkgerrors.IsCode(err, pkgerrors.CodeValidation) && strings.Contains(pkgerrors.As(err).Message(), "amount"):
		return "04", "Invalid amount"
	case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
		return "02", "Order already confirmed"
	default:
		return "99", "Unknown error"
	}
}

func writeRaw(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Package payments exposes payment lookups and the buyer return landing.
package payments

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/api/controllers/dto"
	"github.com/angelmondragon/escrow-settlement/api/middleware"
	"github.com/angelmondragon/escrow-settlement/api/responses"
	"github.com/angelmondragon/escrow-settlement/api/validators"
	paymentsvc "github.com/angelmondragon/escrow-settlement/internal/payments"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-settlement/pkg/errors"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
)

type paymentReader interface {
	Get(ctx context.Context, paymentID uuid.UUID, viewer paymentsvc.Viewer) (*models.Payment, error)
}

type callbackService interface {
	HandleCallback(ctx context.Context, method enums.PaymentMethod, fields map[string]string) (*paymentsvc.CallbackResult, error)
}

type returnView struct {
	PaymentID uuid.UUID           `json:"paymentId"`
	Status    enums.PaymentStatus `json:"status"`
	Succeeded bool                `json:"succeeded"`
}

func Detail(svc paymentReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		id, ok := middleware.IdentityFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}
		paymentID, err := validators.ParseUUIDParam(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Get(r.Context(), paymentID, paymentsvc.Viewer{
			UserID:   id.UserID,
			SellerID: id.SellerID,
			Role:     id.Role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.FromPayment(*payment, nil))
	}
}

// Return handles the browser redirect back from a gateway. The signed query
// is applied like a notification, so the outcome is recorded even when the
// provider's server callback is late.
func Return(svc callbackService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		method, err := enums.ParsePaymentMethod(chi.URLParam(r, "method"))
		if err != nil || !method.IsGateway() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment gateway"))
			return
		}

		fields := make(map[string]string)
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				fields[key] = values[0]
			}
		}
		result, err := svc.HandleCallback(r.Context(), method, fields)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, returnView{
			PaymentID: result.Payment.ID,
			Status:    result.Payment.Status,
			Succeeded: result.Succeeded,
		})
	}
}

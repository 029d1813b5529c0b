package controllers

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/api/controllers/dto"
	"github.com/angelmondragon/escrow-settlement/api/responses"
	"github.com/angelmondragon/escrow-settlement/api/validators"
	checkoutsvc "github.com/angelmondragon/escrow-settlement/internal/checkout"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-settlement/pkg/errors"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
)

type checkoutService interface {
	Execute(ctx context.Context, buyerID uuid.UUID, input checkoutsvc.CheckoutInput) (*checkoutsvc.CheckoutResult, error)
}

// Checkout splits the buyer's grouped cart into per-seller orders under one payment.
func Checkout(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		caller, err := identity(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if caller.Role != enums.ActorRoleBuyer {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "only buyers can check out"))
			return
		}

		var payload checkoutsvc.CheckoutInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payload.ClientIP = clientIP(r)

		result, err := svc.Execute(r.Context(), caller.UserID, payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view := dto.Checkout{
			Orders:      dto.FromOrders(result.Orders),
			RedirectURL: result.RedirectURL,
		}
		if result.Payment != nil {
			view.Payment = dto.FromPayment(*result.Payment, result.Orders)
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

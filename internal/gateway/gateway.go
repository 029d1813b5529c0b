// Package gateway adapts the hosted payment providers. Each provider builds a
// redirect URL for a payment and verifies the signed callback it sends back.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-settlement/pkg/errors"
)

// PaymentRequest carries what a provider needs to start a hosted payment.
// PaymentID is sent as the provider-side reference.
type PaymentRequest struct {
	PaymentID uuid.UUID
	BuyerID   uuid.UUID
	Amount    int64
	OrderInfo string
	ClientIP  string
	CreatedAt time.Time
}

// Callback is a verified provider notification.
type Callback struct {
	Method        enums.PaymentMethod
	PaymentID     uuid.UUID
	Amount        int64
	TransactionID string
	ResponseCode  string
	Succeeded     bool
}

// Provider is implemented by every payment method.
type Provider interface {
	Method() enums.PaymentMethod
	// BuildPaymentURL returns the URL the buyer is redirected to. Offline
	// methods return an empty string.
	BuildPaymentURL(ctx context.Context, req PaymentRequest) (string, error)
	// ParseCallback verifies the signature over fields and extracts the result.
	ParseCallback(fields map[string]string) (*Callback, error)
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registry resolves the provider for a payment method.
type Registry struct {
	providers map[enums.PaymentMethod]Provider
}

// NewRegistry indexes providers by method. A later provider for the same
// method replaces an earlier one.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[enums.PaymentMethod]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[p.Method()] = p
	}
	return r
}

// Provider returns the adapter for method.
func (r *Registry) Provider(method enums.PaymentMethod) (Provider, error) {
	if p, ok := r.providers[method]; ok {
		return p, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported payment method %q", method))
}

// Methods lists the registered methods.
func (r *Registry) Methods() []enums.PaymentMethod {
	out := make([]enums.PaymentMethod, 0, len(r.providers))
	for m := range r.providers {
		out = append(out, m)
	}
	return out
}

func errInvalidSignature(method enums.PaymentMethod) error {
	return pkgerrors.New(pkgerrors.CodeInvalidSignature, fmt.Sprintf("%s callback signature mismatch", method))
}

func errMalformed(method enums.PaymentMethod, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s callback: %s", method, msg))
}

func parsePaymentRef(method enums.PaymentMethod, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errMalformed(method, "invalid payment reference")
	}
	return id, nil
}

package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	checkoutsvc "github.com/angelmondragon/escrow-settlement/internal/checkout"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-settlement/pkg/errors"
)

type stubCheckoutService struct {
	buyerID uuid.UUID
	input   checkoutsvc.CheckoutInput
	result  *checkoutsvc.CheckoutResult
	err     error
}

func (s *stubCheckoutService) Execute(ctx context.Context, buyerID uuid.UUID, input checkoutsvc.CheckoutInput) (*checkoutsvc.CheckoutResult, error) {
	s.buyerID = buyerID
	s.input = input
	return s.result, s.err
}

func checkoutBody(t *testing.T) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"groups": []map[string]any{{
			"seller_id":    uuid.NewString(),
			"shipping_fee": 15000,
			"items":        []map[string]any{{"product_id": uuid.NewString(), "quantity": 2, "price": 50000}},
		}},
		"total_amount":   115000,
		"payment_method": "vnpay",
	})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func TestCheckoutCreatesOrders(t *testing.T) {
	paymentID := uuid.New()
	orderID := uuid.New()
	svc := &stubCheckoutService{result: &checkoutsvc.CheckoutResult{
		Payment:     &models.Payment{ID: paymentID, Method: enums.PaymentMethodVNPay, Status: enums.PaymentStatusUnpaid, TotalAmount: 115000},
		Orders:      []models.Order{{ID: orderID, Code: "SHOP17102026001", Status: enums.OrderStatusPending, Total: 115000}},
		RedirectURL: "https://pay.example/redirect",
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", checkoutBody(t))
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req, buyerID := asRole(req, enums.ActorRoleBuyer)
	resp := httptest.NewRecorder()
	Checkout(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, buyerID, svc.buyerID)
	assert.Equal(t, enums.PaymentMethodVNPay, svc.input.PaymentMethod)
	assert.Equal(t, "203.0.113.7", svc.input.ClientIP)

	var envelope struct {
		Data struct {
			Payment struct {
				ID       uuid.UUID   `json:"id"`
				OrderIDs []uuid.UUID `json:"orderIds"`
			} `json:"payment"`
			Orders      []struct{ Code string } `json:"orders"`
			RedirectURL string                  `json:"redirectUrl"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.Equal(t, paymentID, envelope.Data.Payment.ID)
	assert.Equal(t, []uuid.UUID{orderID}, envelope.Data.Payment.OrderIDs)
	require.Len(t, envelope.Data.Orders, 1)
	assert.Equal(t, "SHOP17102026001", envelope.Data.Orders[0].Code)
	assert.Equal(t, "https://pay.example/redirect", envelope.Data.RedirectURL)
}

func TestCheckoutRejectsSellers(t *testing.T) {
	svc := &stubCheckoutService{}
	req, _ := asRole(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", checkoutBody(t)), enums.ActorRoleSeller)
	resp := httptest.NewRecorder()
	Checkout(svc, testLogger())(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, uuid.Nil, svc.buyerID)
}

func TestCheckoutRequiresIdentity(t *testing.T) {
	resp := httptest.NewRecorder()
	Checkout(&stubCheckoutService{}, testLogger())(resp, httptest.NewRequest(http.MethodPost, "/api/v1/checkout", checkoutBody(t)))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestCheckoutRejectsUnknownFields(t *testing.T) {
	req, _ := asRole(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewBufferString(`{"groups":[],"bogus":1}`)), enums.ActorRoleBuyer)
	resp := httptest.NewRecorder()
	Checkout(&stubCheckoutService{}, testLogger())(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCheckoutSurfacesServiceErrors(t *testing.T) {
	svc := &stubCheckoutService{err: pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock")}
	req, _ := asRole(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", checkoutBody(t)), enums.ActorRoleBuyer)
	req.RemoteAddr = "198.51.100.4:5123"
	resp := httptest.NewRecorder()
	Checkout(svc, testLogger())(resp, req)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "198.51.100.4", svc.input.ClientIP)
}

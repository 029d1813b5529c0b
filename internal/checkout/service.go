package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/internal/orders"
	"github.com/angelmondragon/escrow-settlement/internal/payments"
	dbpkg "github.com/angelmondragon/escrow-settlement/pkg/db"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-settlement/pkg/errors"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox/payloads"
)

const maxCodeAttempts = 3

// postgres names the index orders_code_key; sqlite reports the column.
var orderCodeConstraints = []string{"orders_code_key", "orders.code"}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type paymentInitiator interface {
	Initiate(ctx context.Context, payment *models.Payment, clientIP string) (string, error)
}

// Service splits a cart into per-seller orders under one payment.
type Service interface {
	Execute(ctx context.Context, buyerID uuid.UUID, input CheckoutInput) (*CheckoutResult, error)
}

// ServiceParams groups the checkout collaborators.
type ServiceParams struct {
	Tx           txRunner
	Catalog      Repository
	Orders       orders.Repository
	Payments     payments.Repository
	Initiator    paymentInitiator
	Codes        *orders.CodeGenerator
	Outbox       outbox.Emitter
	Rates        payments.FeeRates
	HoldDuration time.Duration
	Logger       *logger.Logger
	Now          func() time.Time
}

type service struct {
	tx        txRunner
	catalog   Repository
	orders    orders.Repository
	payments  payments.Repository
	initiator paymentInitiator
	codes     *orders.CodeGenerator
	outbox    outbox.Emitter
	rates     payments.FeeRates
	hold      time.Duration
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Initiator == nil {
		return nil, fmt.Errorf("payment initiator required")
	}
	if params.Codes == nil {
		return nil, fmt.Errorf("order code generator required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	rates := params.Rates
	if rates.Service.IsZero() && rates.Payment.IsZero() {
		rates = payments.DefaultFeeRates
	}
	hold := params.HoldDuration
	if hold <= 0 {
		hold = 10 * time.Minute
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		tx:        params.Tx,
		catalog:   params.Catalog,
		orders:    params.Orders,
		payments:  params.Payments,
		initiator: params.Initiator,
		codes:     params.Codes,
		outbox:    params.Outbox,
		rates:     rates,
		hold:      hold,
		logg:      params.Logger,
		now:       now,
	}, nil
}

func (s *service) Execute(ctx context.Context, buyerID uuid.UUID, input CheckoutInput) (*CheckoutResult, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var (
		result *CheckoutResult
		err    error
	)
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		result, err = s.place(ctx, buyerID, input)
		if err == nil || !isCodeCollision(err) {
			break
		}
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "order code collision, retrying checkout")
		}
	}
	if err != nil {
		if isCodeCollision(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "could not allocate order codes")
		}
		return nil, err
	}

	redirect, err := s.initiator.Initiate(ctx, result.Payment, input.ClientIP)
	if err != nil {
		return result, s.initiationFailed(ctx, result, err)
	}
	result.RedirectURL = redirect

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payment_id":     result.Payment.ID,
			"payment_method": result.Payment.Method,
			"order_count":    len(result.Orders),
		})
		s.logg.Info(logCtx, "checkout placed")
	}
	return result, nil
}

// initiationFailed reports a gateway failure after the checkout committed.
// The orders stay PENDING with an UNPAID payment, so the error names them.
func (s *service) initiationFailed(ctx context.Context, result *CheckoutResult, err error) error {
	orderIDs := make([]uuid.UUID, 0, len(result.Orders))
	for _, order := range result.Orders {
		orderIDs = append(orderIDs, order.ID)
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payment_id":     result.Payment.ID,
			"payment_method": result.Payment.Method,
			"order_count":    len(result.Orders),
		})
		s.logg.Error(logCtx, "payment initiation failed after checkout", err)
	}
	return pkgerrors.Wrap(pkgerrors.As(err).Code(), err, "checkout placed but payment could not be initiated").
		WithDetails(map[string]any{"payment_id": result.Payment.ID, "order_ids": orderIDs})
}

func (s *service) place(ctx context.Context, buyerID uuid.UUID, input CheckoutInput) (*CheckoutResult, error) {
	var result *CheckoutResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()

		if err := s.verifyCatalog(ctx, s.catalog.WithTx(tx), input.Groups); err != nil {
			return err
		}

		codes, err := s.codes.Next(ctx, tx, now, len(input.Groups))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate order codes")
		}

		payment := &models.Payment{
			ID:          uuid.New(),
			BuyerID:     buyerID,
			Method:      input.PaymentMethod,
			Status:      enums.PaymentStatusUnpaid,
			TotalAmount: input.TotalAmount,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		paymentsRepo := s.payments.WithTx(tx)
		if err := paymentsRepo.Create(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}

		placed := buildOrders(buyerID, payment.ID, input, codes, now)
		if err := s.orders.WithTx(tx).CreateOrders(ctx, placed); err != nil {
			return err
		}

		escrows := payments.BuildEscrows(payment.ID, placed, now, s.hold, s.rates)
		if err := paymentsRepo.CreateEscrows(ctx, escrows); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create escrows")
		}

		// Gateway payments keep the cart until the provider confirms.
		if input.PaymentMethod == enums.PaymentMethodCOD {
			if _, err := paymentsRepo.ClearCart(ctx, buyerID, payment.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
			}
		}

		orderIDs := make([]uuid.UUID, len(placed))
		for i := range placed {
			orderIDs[i] = placed[i].ID
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         &outbox.ActorRef{UserID: buyerID, Role: enums.ActorRoleBuyer},
			OccurredAt:    now,
			Data: payloads.OrderCreatedEvent{
				PaymentID:     payment.ID,
				BuyerID:       buyerID,
				OrderIDs:      orderIDs,
				OrderCodes:    codes,
				PaymentMethod: payment.Method,
				TotalAmount:   payment.TotalAmount,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created")
		}

		payment.Orders = placed
		payment.Escrows = escrows
		result = &CheckoutResult{Payment: payment, Orders: placed}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) verifyCatalog(ctx context.Context, repo Repository, groups []SellerGroup) error {
	sellerIDs := make([]uuid.UUID, 0, len(groups))
	productIDs := make([]uuid.UUID, 0)
	for _, group := range groups {
		sellerIDs = append(sellerIDs, group.SellerID)
		for _, item := range group.Items {
			productIDs = append(productIDs, item.ProductID)
		}
	}

	sellers, err := repo.FindSellers(ctx, sellerIDs)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sellers")
	}
	products, err := repo.FindProducts(ctx, productIDs)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}

	for _, group := range groups {
		if _, ok := sellers[group.SellerID]; !ok {
			return pkgerrors.New(pkgerrors.CodeNotFound, "seller not found").
				WithDetails(map[string]any{"seller_id": group.SellerID})
		}
		for _, item := range group.Items {
			product, ok := products[item.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
					WithDetails(map[string]any{"product_id": item.ProductID})
			}
			if product.SellerID != group.SellerID {
				return pkgerrors.New(pkgerrors.CodeValidation, "product does not belong to seller").
					WithDetails(map[string]any{"product_id": item.ProductID, "seller_id": group.SellerID})
			}
			if product.Price != item.Price {
				return pkgerrors.New(pkgerrors.CodeValidation, "product price changed").
					WithDetails(map[string]any{"product_id": item.ProductID, "price": product.Price})
			}
		}
	}
	return nil
}

func buildOrders(buyerID, paymentID uuid.UUID, input CheckoutInput, codes []string, now time.Time) []models.Order {
	placed := make([]models.Order, 0, len(input.Groups))
	for i, group := range input.Groups {
		orderID := uuid.New()
		items := make([]models.OrderLineItem, 0, len(group.Items))
		var subtotal int64
		for _, item := range group.Items {
			lineTotal := item.Price * int64(item.Quantity)
			subtotal += lineTotal
			items = append(items, models.OrderLineItem{
				ID:        uuid.New(),
				OrderID:   orderID,
				ProductID: item.ProductID,
				Name:      item.Name,
				Quantity:  item.Quantity,
				UnitPrice: item.Price,
				LineTotal: lineTotal,
				CreatedAt: now,
			})
		}
		pid := paymentID
		placed = append(placed, models.Order{
			ID:                orderID,
			Code:              codes[i],
			BuyerID:           buyerID,
			SellerID:          group.SellerID,
			PaymentID:         &pid,
			Subtotal:          subtotal,
			ShippingFee:       group.ShippingFee,
			Discount:          group.Discount,
			Total:             subtotal + group.ShippingFee - group.Discount,
			ShippingAddressID: input.ShippingAddressID,
			Status:            enums.OrderStatusPending,
			Items:             items,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	return placed
}

func validateInput(input CheckoutInput) error {
	if len(input.Groups) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method").
			WithDetails(map[string]any{"payment_method": input.PaymentMethod})
	}

	seen := make(map[uuid.UUID]struct{}, len(input.Groups))
	var expected int64
	for _, group := range input.Groups {
		if group.SellerID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
		}
		if _, dup := seen[group.SellerID]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, "seller appears more than once").
				WithDetails(map[string]any{"seller_id": group.SellerID})
		}
		seen[group.SellerID] = struct{}{}

		if len(group.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "seller group has no items").
				WithDetails(map[string]any{"seller_id": group.SellerID})
		}
		if group.ShippingFee < 0 || group.Discount < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "shipping fee and discount must not be negative")
		}

		var subtotal int64
		for _, item := range group.Items {
			if item.ProductID == uuid.Nil {
				return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
			}
			if item.Quantity <= 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
					WithDetails(map[string]any{"product_id": item.ProductID})
			}
			if item.Price < 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative").
					WithDetails(map[string]any{"product_id": item.ProductID})
			}
			if strings.TrimSpace(item.Name) == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "item name required").
					WithDetails(map[string]any{"product_id": item.ProductID})
			}
			subtotal += item.Price * int64(item.Quantity)
		}
		total := subtotal + group.ShippingFee - group.Discount
		if total < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "discount exceeds order value").
				WithDetails(map[string]any{"seller_id": group.SellerID})
		}
		expected += total
	}

	if input.TotalAmount != expected {
		return pkgerrors.New(pkgerrors.CodeValidation, "total amount does not match orders").
			WithDetails(map[string]any{"expected": expected, "received": input.TotalAmount})
	}
	return nil
}

func isCodeCollision(err error) bool {
	for _, name := range orderCodeConstraints {
		if dbpkg.IsUniqueViolation(err, name) {
			return true
		}
	}
	return false
}

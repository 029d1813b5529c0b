package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/internal/gateway"
	"github.com/angelmondragon/escrow-settlement/internal/ledger"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-settlement/pkg/errors"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type providerRegistry interface {
	Provider(method enums.PaymentMethod) (gateway.Provider, error)
}

// Service manages payment records and their transitions.
type Service interface {
	Get(ctx context.Context, paymentID uuid.UUID, viewer Viewer) (*models.Payment, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, input MarkPaidInput) (bool, error)
	MarkCODPaid(ctx context.Context, tx *gorm.DB, paymentID, orderID uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, tx *gorm.DB, input MarkFailedInput) (bool, error)
	Initiate(ctx context.Context, payment *models.Payment, clientIP string) (string, error)
	VerifyCallback(ctx context.Context, method enums.PaymentMethod, fields map[string]string) error
	HandleCallback(ctx context.Context, method enums.PaymentMethod, fields map[string]string) (*CallbackResult, error)
}

// Viewer identifies who is reading a payment.
type Viewer struct {
	UserID   uuid.UUID
	SellerID *uuid.UUID
	Role     enums.ActorRole
}

// MarkPaidInput records a confirmed payment.
type MarkPaidInput struct {
	PaymentID     uuid.UUID
	Amount        int64
	Method        enums.PaymentMethod
	TransactionID string
	Note          string
}

// MarkFailedInput records a declined or abandoned payment.
type MarkFailedInput struct {
	PaymentID     uuid.UUID
	Amount        int64
	TransactionID string
	Note          string
}

// CallbackResult reports how a gateway callback was applied. Applied is false
// when the callback repeated an already recorded outcome.
type CallbackResult struct {
	Payment   *models.Payment
	Succeeded bool
	Applied   bool
}

// ServiceParams groups the payment service collaborators.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Ledger   ledger.Service
	Outbox   outbox.Emitter
	Gateways providerRegistry
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	ledger   ledger.Service
	outbox   outbox.Emitter
	gateways providerRegistry
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds a payment service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("payment history service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Gateways == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		ledger:   params.Ledger,
		outbox:   params.Outbox,
		gateways: params.Gateways,
		logg:     params.Logger,
		now:      now,
	}, nil
}

func (s *service) Get(ctx context.Context, paymentID uuid.UUID, viewer Viewer) (*models.Payment, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	payment, err := s.repo.FindDetail(ctx, paymentID)
	if err != nil {
		return nil, notFoundOr(err, "payment")
	}

	switch viewer.Role {
	case enums.ActorRoleAdmin, enums.ActorRoleSystem:
		return payment, nil
	case enums.ActorRoleBuyer:
		if payment.BuyerID == viewer.UserID {
			return payment, nil
		}
	case enums.ActorRoleSeller:
		if viewer.SellerID != nil {
			for _, escrow := range payment.Escrows {
				if escrow.SellerID == *viewer.SellerID {
					return payment, nil
				}
			}
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment does not belong to caller")
}

// MarkPaid flips UNPAID (or FAILED) to PAID. Only the call that performs the
// flip records history, confirms the orders and clears the cart.
func (s *service) MarkPaid(ctx context.Context, tx *gorm.DB, input MarkPaidInput) (bool, error) {
	if tx == nil {
		return false, pkgerrors.New(pkgerrors.CodeInternal, "transaction required to mark payment paid")
	}
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByID(ctx, input.PaymentID)
	if err != nil {
		return false, notFoundOr(err, "payment")
	}

	now := s.now().UTC()
	applied, err := repo.TransitionStatus(ctx, payment.ID,
		[]enums.PaymentStatus{enums.PaymentStatusUnpaid, enums.PaymentStatusFailed},
		enums.PaymentStatusPaid, &now)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
	}
	if !applied {
		return false, nil
	}

	method := input.Method
	if method == "" {
		method = payment.Method
	}
	amount := input.Amount
	if amount == 0 {
		amount = payment.TotalAmount
	}
	if _, _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
		PaymentID:     payment.ID,
		Kind:          enums.HistoryKindPayment,
		Amount:        amount,
		Method:        method,
		TransactionID: input.TransactionID,
		Note:          input.Note,
		At:            now,
	}); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment history")
	}

	if _, err := repo.ConfirmPendingOrders(ctx, payment.ID); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm orders")
	}
	if _, err := repo.ClearCart(ctx, payment.BuyerID, payment.ID); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}

	if err := s.emitStatus(ctx, tx, payment, enums.EventPaymentPaid, enums.PaymentStatusPaid, amount, input.TransactionID, now); err != nil {
		return false, err
	}
	return true, nil
}

// MarkCODPaid settles a cash-on-delivery payment once one of its orders is
// delivered. Every delivered order adds its own cash collection entry.
func (s *service) MarkCODPaid(ctx context.Context, tx *gorm.DB, paymentID, orderID uuid.UUID) (bool, error) {
	if tx == nil {
		return false, pkgerrors.New(pkgerrors.CodeInternal, "transaction required to mark payment paid")
	}
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByID(ctx, paymentID)
	if err != nil {
		return false, notFoundOr(err, "payment")
	}
	if payment.Method != enums.PaymentMethodCOD {
		return false, nil
	}
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		return false, notFoundOr(err, "order")
	}
	if order.PaymentID == nil || *order.PaymentID != payment.ID {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "order is not covered by payment")
	}

	now := s.now().UTC()
	applied, err := repo.TransitionStatus(ctx, payment.ID,
		[]enums.PaymentStatus{enums.PaymentStatusUnpaid}, enums.PaymentStatusPaid, &now)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
	}

	sellerID := order.SellerID
	txnID := "COD-" + order.ID.String()
	if _, _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
		PaymentID:     payment.ID,
		Kind:          enums.HistoryKindPayment,
		Amount:        order.Total,
		Method:        enums.PaymentMethodCOD,
		TransactionID: txnID,
		SellerID:      &sellerID,
		Note:          "cash collected on delivery of " + order.Code,
		At:            now,
	}); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment history")
	}

	if applied {
		if err := s.emitStatus(ctx, tx, payment, enums.EventPaymentPaid, enums.PaymentStatusPaid, payment.TotalAmount, txnID, now); err != nil {
			return false, err
		}
	}
	return applied, nil
}

func (s *service) MarkFailed(ctx context.Context, tx *gorm.DB, input MarkFailedInput) (bool, error) {
	if tx == nil {
		return false, pkgerrors.New(pkgerrors.CodeInternal, "transaction required to mark payment failed")
	}
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByID(ctx, input.PaymentID)
	if err != nil {
		return false, notFoundOr(err, "payment")
	}

	applied, err := repo.TransitionStatus(ctx, payment.ID,
		[]enums.PaymentStatus{enums.PaymentStatusUnpaid}, enums.PaymentStatusFailed, nil)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
	}
	if !applied {
		return false, nil
	}

	now := s.now().UTC()
	if _, _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
		PaymentID:     payment.ID,
		Kind:          enums.HistoryKindPaymentFailed,
		Amount:        input.Amount,
		Method:        payment.Method,
		TransactionID: input.TransactionID,
		Note:          input.Note,
		At:            now,
	}); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment history")
	}
	if err := s.emitStatus(ctx, tx, payment, enums.EventPaymentFailed, enums.PaymentStatusFailed, input.Amount, input.TransactionID, now); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) Initiate(ctx context.Context, payment *models.Payment, clientIP string) (string, error) {
	if payment == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payment required")
	}
	if !payment.Method.IsGateway() {
		return "", nil
	}
	provider, err := s.gateways.Provider(payment.Method)
	if err != nil {
		return "", err
	}
	redirect, err := provider.BuildPaymentURL(ctx, gateway.PaymentRequest{
		PaymentID: payment.ID,
		BuyerID:   payment.BuyerID,
		Amount:    payment.TotalAmount,
		ClientIP:  clientIP,
		CreatedAt: s.now(),
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeGateway, err, "initiate gateway payment")
	}
	return redirect, nil
}

// VerifyCallback checks a notification's signature and shape without
// touching any payment.
func (s *service) VerifyCallback(ctx context.Context, method enums.PaymentMethod, fields map[string]string) error {
	_, err := s.parseCallback(ctx, method, fields)
	return err
}

func (s *service) parseCallback(ctx context.Context, method enums.PaymentMethod, fields map[string]string) (*gateway.Callback, error) {
	provider, err := s.gateways.Provider(method)
	if err != nil {
		return nil, err
	}
	cb, err := provider.ParseCallback(fields)
	if err != nil {
		if s.logg != nil && pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature) {
			s.logg.Warn(s.logg.WithField(ctx, "payment_method", method), "rejected gateway callback with bad signature")
		}
		return nil, err
	}
	return cb, nil
}

func (s *service) HandleCallback(ctx context.Context, method enums.PaymentMethod, fields map[string]string) (*CallbackResult, error) {
	cb, err := s.parseCallback(ctx, method, fields)
	if err != nil {
		return nil, err
	}

	payment, err := s.repo.FindByID(ctx, cb.PaymentID)
	if err != nil {
		return nil, notFoundOr(err, "payment")
	}
	if payment.Method != method {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback method does not match payment")
	}
	if cb.Amount != payment.TotalAmount {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback amount does not match payment").
			WithDetails(map[string]any{"expected": payment.TotalAmount, "received": cb.Amount})
	}

	var applied bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if cb.Succeeded {
			applied, err = s.MarkPaid(ctx, tx, MarkPaidInput{
				PaymentID:     payment.ID,
				Amount:        cb.Amount,
				Method:        method,
				TransactionID: cb.TransactionID,
				Note:          fmt.Sprintf("%s response %s", method, cb.ResponseCode),
			})
			return err
		}
		applied, err = s.MarkFailed(ctx, tx, MarkFailedInput{
			PaymentID:     payment.ID,
			Amount:        cb.Amount,
			TransactionID: cb.TransactionID,
			Note:          fmt.Sprintf("%s response %s", method, cb.ResponseCode),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.FindDetail(ctx, payment.ID)
	if err != nil {
		return nil, notFoundOr(err, "payment")
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payment_id":     payment.ID.String(),
			"payment_method": method,
			"succeeded":      cb.Succeeded,
			"applied":        applied,
		})
		s.logg.Info(logCtx, "gateway callback handled")
	}
	return &CallbackResult{Payment: updated, Succeeded: cb.Succeeded, Applied: applied}, nil
}

func (s *service) emitStatus(ctx context.Context, tx *gorm.DB, payment *models.Payment, eventType enums.OutboxEventType, status enums.PaymentStatus, amount int64, txnID string, at time.Time) error {
	orders, err := s.repo.WithTx(tx).FindDetail(ctx, payment.ID)
	var orderIDs []uuid.UUID
	if err == nil {
		orderIDs = orders.OrderIDs()
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         outbox.SystemActor(),
		OccurredAt:    at,
		Data: payloads.PaymentStatusEvent{
			PaymentID:     payment.ID,
			BuyerID:       payment.BuyerID,
			Method:        payment.Method,
			Status:        status,
			Amount:        amount,
			TransactionID: txnID,
			OrderIDs:      orderIDs,
		},
	})
}

func notFoundOr(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, entity+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+entity)
}

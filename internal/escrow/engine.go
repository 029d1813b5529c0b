package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/internal/ledger"
	"github.com/angelmondragon/escrow-settlement/internal/notifications"
	"github.com/angelmondragon/escrow-settlement/internal/orders"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-settlement/pkg/errors"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
	"github.com/angelmondragon/escrow-settlement/pkg/metrics"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox/payloads"
)

// Outcome reports what a release call did.
type Outcome string

const (
	OutcomeReleased        Outcome = "released"
	OutcomeAlreadyReleased Outcome = "already_released"
	OutcomeNotEligible     Outcome = "not_eligible"
)

// ReleaseResult is returned by Release. Order is nil when the call stopped
// before reading it.
type ReleaseResult struct {
	Outcome Outcome
	Escrow  *models.PaymentEscrow
	Order   *models.Order
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// EngineParams groups the release engine collaborators.
type EngineParams struct {
	Tx        txRunner
	Repo      Repository
	Ledger    ledger.Service
	Completer orders.Completer
	Outbox    outbox.Emitter
	Notifier  notifications.Notifier
	Metrics   *metrics.EscrowMetrics
	Logger    *logger.Logger
	Now       func() time.Time
}

// Engine moves held escrow into seller balances. It is the only writer of
// seller balances.
type Engine struct {
	tx        txRunner
	repo      Repository
	ledger    ledger.Service
	completer orders.Completer
	outbox    outbox.Emitter
	notifier  notifications.Notifier
	metrics   *metrics.EscrowMetrics
	logg      *logger.Logger
	now       func() time.Time
}

// NewEngine validates params and builds an Engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("escrow repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("payment history service required")
	}
	if params.Completer == nil {
		return nil, fmt.Errorf("order completer required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = notifications.NopNotifier{}
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		tx:        params.Tx,
		repo:      params.Repo,
		ledger:    params.Ledger,
		completer: params.Completer,
		outbox:    params.Outbox,
		notifier:  notifier,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       now,
	}, nil
}

// Release credits the seller's share of a payment once the seller's order is
// delivered. Repeated or concurrent calls credit the seller at most once.
// Orders under review or complaint are held until the dispute closes.
func (e *Engine) Release(ctx context.Context, paymentID, sellerID uuid.UUID) (*ReleaseResult, error) {
	return e.release(ctx, paymentID, sellerID, deliveredOnly)
}

func deliveredOnly(status enums.OrderStatus) bool {
	return status == enums.OrderStatusDelivered
}

func (e *Engine) release(ctx context.Context, paymentID, sellerID uuid.UUID, eligible func(enums.OrderStatus) bool) (*ReleaseResult, error) {
	if paymentID == uuid.Nil || sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id and seller id required")
	}

	var result *ReleaseResult
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		now := e.now()

		entry, err := repo.FindForSeller(ctx, paymentID, sellerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "escrow not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow")
		}
		switch entry.Status {
		case enums.EscrowStatusHold:
		case enums.EscrowStatusReleased:
			result = &ReleaseResult{Outcome: OutcomeAlreadyReleased, Escrow: entry}
			return nil
		default:
			result = &ReleaseResult{Outcome: OutcomeNotEligible, Escrow: entry}
			return nil
		}

		payment, err := repo.FindPayment(ctx, paymentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if payment.Status != enums.PaymentStatusPaid {
			result = &ReleaseResult{Outcome: OutcomeNotEligible, Escrow: entry}
			return nil
		}

		order, err := repo.FindOrder(ctx, entry.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if !eligible(order.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order not delivered").
				WithDetails(map[string]any{"order_id": order.ID, "status": order.Status})
		}

		claimed, err := repo.MarkReleased(ctx, entry.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark escrow released")
		}
		if !claimed {
			result = &ReleaseResult{Outcome: OutcomeAlreadyReleased, Escrow: entry, Order: order}
			return nil
		}

		credited, err := repo.CreditSeller(ctx, entry.SellerID, entry.EscrowAmount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit seller balance")
		}
		if !credited {
			return pkgerrors.New(pkgerrors.CodeNotFound, "seller not found")
		}

		creditedSeller := entry.SellerID
		if _, _, err := e.ledger.Record(ctx, tx, ledger.RecordInput{
			PaymentID:     entry.PaymentID,
			Kind:          enums.HistoryKindEscrowRelease,
			Amount:        entry.EscrowAmount,
			Method:        payment.Method,
			TransactionID: ledger.EscrowTransactionID(entry.ID),
			SellerID:      &creditedSeller,
			Note:          fmt.Sprintf("escrow released for order %s", order.Code),
			At:            now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record escrow release")
		}

		fromStatus := order.Status
		completed, err := e.completer.Complete(ctx, tx, order.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete order")
		}

		released := *entry
		released.Status = enums.EscrowStatusReleased
		released.ReleasedAt = &now

		if err := e.emit(ctx, tx, &released, order, fromStatus, completed, now); err != nil {
			return err
		}
		if completed {
			order.Status = enums.OrderStatusCompleted
			order.CompletedAt = &now
		}
		result = &ReleaseResult{Outcome: OutcomeReleased, Escrow: &released, Order: order}
		return nil
	})
	if err != nil {
		e.metrics.IncRelease("error")
		return nil, err
	}

	e.metrics.IncRelease(string(result.Outcome))
	if result.Outcome == OutcomeReleased {
		e.metrics.AddCredited(result.Escrow.EscrowAmount)
		e.logRelease(ctx, result)
		e.notify(ctx, result.Order)
	}
	return result, nil
}

// ReleaseOrder satisfies orders.Releaser. It also settles orders whose
// dispute is being closed. A settled escrow is not an error; an escrow that
// can never be released is.
func (e *Engine) ReleaseOrder(ctx context.Context, paymentID, sellerID uuid.UUID) error {
	result, err := e.release(ctx, paymentID, sellerID, orders.Settleable)
	if err != nil {
		return err
	}
	if result.Outcome == OutcomeNotEligible {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "escrow is not eligible for release").
			WithDetails(map[string]any{"escrow_status": result.Escrow.Status})
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, tx *gorm.DB, entry *models.PaymentEscrow, order *models.Order, from enums.OrderStatus, completed bool, now time.Time) error {
	system := outbox.SystemActor()
	err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventEscrowReleased,
		AggregateType: enums.AggregatePayment,
		AggregateID:   entry.PaymentID,
		Actor:         system,
		OccurredAt:    now,
		Data: payloads.EscrowReleasedEvent{
			PaymentID:     entry.PaymentID,
			EscrowID:      entry.ID,
			SellerID:      entry.SellerID,
			OrderID:       entry.OrderID,
			Amount:        entry.EscrowAmount,
			TransactionID: ledger.EscrowTransactionID(entry.ID),
			ReleasedAt:    now,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit escrow released")
	}
	if !completed {
		return nil
	}
	err = e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         system,
		OccurredAt:    now,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:    order.ID,
			OrderCode:  order.Code,
			BuyerID:    order.BuyerID,
			SellerID:   order.SellerID,
			FromStatus: from,
			ToStatus:   enums.OrderStatusCompleted,
			ChangedAt:  now,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order completed")
	}
	return nil
}

func (e *Engine) logRelease(ctx context.Context, result *ReleaseResult) {
	if e.logg == nil {
		return
	}
	logCtx := e.logg.WithFields(ctx, map[string]any{
		"payment_id": result.Escrow.PaymentID.String(),
		"seller_id":  result.Escrow.SellerID.String(),
		"escrow_id":  result.Escrow.ID.String(),
		"amount":     result.Escrow.EscrowAmount,
	})
	e.logg.Info(logCtx, "escrow released")
}

func (e *Engine) notify(ctx context.Context, order *models.Order) {
	if order == nil {
		return
	}
	err := e.notifier.OrderUpdated(ctx, notifications.OrderUpdate{
		OrderID:   order.ID,
		OrderCode: order.Code,
		BuyerID:   order.BuyerID,
		SellerID:  order.SellerID,
		Status:    order.Status,
	})
	if err != nil && e.logg != nil {
		logCtx := e.logg.WithField(ctx, "order_id", order.ID.String())
		e.logg.Warn(logCtx, fmt.Sprintf("escrow release notification failed: %v", err))
	}
}

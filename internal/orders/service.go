package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/internal/notifications"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-settlement/pkg/errors"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/escrow-settlement/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service coordinates order status changes and their settlement side effects.
type Service interface {
	Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	List(ctx context.Context, params ListParams) (*OrderList, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Order, error)
	ConfirmReceived(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
}

// ServiceParams groups the order service collaborators.
type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Outbox    outbox.Emitter
	Completer Completer
	COD       CODSettler
	Releaser  Releaser
	Notifier  notifications.Notifier
	Logger    *logger.Logger
	Now       func() time.Time
}

type service struct {
	repo      Repository
	tx        txRunner
	outbox    outbox.Emitter
	completer Completer
	cod       CODSettler
	releaser  Releaser
	notifier  notifications.Notifier
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the order coordinator with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Completer == nil {
		return nil, fmt.Errorf("order completer required")
	}
	if params.COD == nil {
		return nil, fmt.Errorf("cod settler required")
	}
	if params.Releaser == nil {
		return nil, fmt.Errorf("escrow releaser required")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = notifications.NopNotifier{}
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:      params.Repo,
		tx:        params.Tx,
		outbox:    params.Outbox,
		completer: params.Completer,
		cod:       params.COD,
		releaser:  params.Releaser,
		notifier:  notifier,
		logg:      params.Logger,
		now:       now,
	}, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.load(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.isPrivileged() && !actor.isBuyerOf(order) && !actor.isSellerOf(order) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*OrderList, error) {
	query := listQuery{
		Status: params.Status,
		Limit:  pagination.LimitWithBuffer(params.Limit),
	}
	switch params.Actor.Role {
	case enums.ActorRoleBuyer:
		if params.Actor.UserID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
		}
		buyer := params.Actor.UserID
		query.BuyerID = &buyer
	case enums.ActorRoleSeller:
		if params.Actor.SellerID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "seller context missing")
		}
		seller := *params.Actor.SellerID
		query.SellerID = &seller
	case enums.ActorRoleAdmin, enums.ActorRoleSystem:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot list orders")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status filter")
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	page, next := pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	result := &OrderList{Orders: page}
	if next != nil {
		result.NextCursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	if input.Status == enums.OrderStatusCancelled {
		return s.Cancel(ctx, CancelInput{OrderID: input.OrderID, Actor: input.Actor})
	}

	current, err := s.load(ctx, s.repo, input.OrderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeTransition(input.Actor, current, input.Status); err != nil {
		return nil, err
	}
	if current.Status == input.Status {
		return current, nil
	}

	// Completing a delivered or disputed order settles the seller, so it goes through escrow.
	if input.Status == enums.OrderStatusCompleted && Settleable(current.Status) && current.PaymentID != nil {
		return s.settle(ctx, current, input.Actor)
	}

	var updated *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if order.Status == input.Status {
			updated = order
			return nil
		}
		if err := s.transition(ctx, tx, repo, order, input.Status, input.Actor, ""); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	if updated.Status != current.Status {
		s.notify(ctx, updated, "")
	}
	return updated, nil
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	reason := strings.TrimSpace(input.Reason)

	var (
		updated   *models.Order
		cancelled bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if err := authorizeTransition(input.Actor, order, enums.OrderStatusCancelled); err != nil {
			return err
		}
		if order.Status == enums.OrderStatusCancelled {
			updated = order
			return nil
		}
		if !cancellable(order.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order cannot be cancelled while %s", order.Status))
		}
		if err := s.transition(ctx, tx, repo, order, enums.OrderStatusCancelled, input.Actor, reason); err != nil {
			return err
		}
		updated = order
		cancelled = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cancelled {
		message := ""
		if reason != "" {
			message = fmt.Sprintf("Order %s was cancelled: %s", updated.Code, reason)
		}
		s.notify(ctx, updated, message)
	}
	return updated, nil
}

func (s *service) ConfirmReceived(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var (
		order     *models.Order
		delivered bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if !actor.isBuyerOf(loaded) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can confirm receipt")
		}
		order = loaded
		switch loaded.Status {
		case enums.OrderStatusCompleted, enums.OrderStatusDelivered:
			return nil
		case enums.OrderStatusShipping:
			if err := s.transition(ctx, tx, repo, loaded, enums.OrderStatusDelivered, actor, ""); err != nil {
				return err
			}
			delivered = true
			return nil
		default:
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order cannot be received while %s", loaded.Status))
		}
	})
	if err != nil {
		return nil, err
	}
	if delivered {
		s.notify(ctx, order, "")
	}
	if order.Status == enums.OrderStatusCompleted {
		return order, nil
	}
	return s.settle(ctx, order, actor)
}

// settle finishes a delivered or disputed order. Orders backed by a payment
// go through the escrow releaser, which completes the order in its own
// transaction. An escrow released before the dispute opened leaves the order
// to be completed here.
func (s *service) settle(ctx context.Context, order *models.Order, actor Actor) (*models.Order, error) {
	if order.PaymentID != nil {
		if err := s.releaser.ReleaseOrder(ctx, *order.PaymentID, order.SellerID); err != nil {
			return nil, err
		}
	}

	var completed bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, order.ID)
		if err != nil {
			return err
		}
		if current.Status == enums.OrderStatusCompleted {
			*order = *current
			return nil
		}
		if err := s.transition(ctx, tx, repo, current, enums.OrderStatusCompleted, actor, ""); err != nil {
			return err
		}
		*order = *current
		completed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if completed {
		s.notify(ctx, order, "")
	}
	return order, nil
}

// transition validates and applies one status change inside tx, including
// its side effects and the order_status_changed event. order is updated in place.
func (s *service) transition(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, to enums.OrderStatus, actor Actor, reason string) error {
	from := order.Status
	if !CanTransition(from, to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move order from %s to %s", from, to)).
			WithDetails(map[string]any{"from": from, "to": to})
	}

	var payment *models.Payment
	if order.PaymentID != nil {
		p, err := repo.FindPayment(ctx, *order.PaymentID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		payment = p
	}
	if to == enums.OrderStatusConfirmed && payment != nil && payment.Method.IsGateway() && payment.Status != enums.PaymentStatusPaid {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be confirmed before payment")
	}

	now := s.now().UTC()
	updates := map[string]any{}
	switch to {
	case enums.OrderStatusDelivered:
		updates["delivered_at"] = now
		order.DeliveredAt = &now
	case enums.OrderStatusCompleted:
		updates["completed_at"] = now
		order.CompletedAt = &now
	case enums.OrderStatusCancelled:
		updates["cancelled_at"] = now
		order.CancelledAt = &now
		if reason != "" {
			updates["cancel_reason"] = reason
			order.CancelReason = &reason
		}
	}

	ok, err := repo.TransitionStatus(ctx, order.ID, from, to, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
	}
	order.Status = to

	switch to {
	case enums.OrderStatusDelivered:
		if payment != nil && payment.Method == enums.PaymentMethodCOD {
			if _, err := s.cod.MarkCODPaid(ctx, tx, payment.ID, order.ID); err != nil {
				return err
			}
		}
	case enums.OrderStatusCompleted:
		if _, err := s.completer.ApplyInventory(ctx, tx, order.ID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply inventory")
		}
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor.ref(),
		OccurredAt:    now,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:    order.ID,
			OrderCode:  order.Code,
			BuyerID:    order.BuyerID,
			SellerID:   order.SellerID,
			FromStatus: from,
			ToStatus:   to,
			Reason:     reason,
			ChangedAt:  now,
		},
	}
	return s.outbox.Emit(ctx, tx, event)
}

func (s *service) load(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) notify(ctx context.Context, order *models.Order, message string) {
	err := s.notifier.OrderUpdated(ctx, notifications.OrderUpdate{
		OrderID:   order.ID,
		OrderCode: order.Code,
		BuyerID:   order.BuyerID,
		SellerID:  order.SellerID,
		Status:    order.Status,
		Message:   message,
	})
	if err != nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id": order.ID.String(),
			"status":   order.Status,
		})
		s.logg.Warn(logCtx, fmt.Sprintf("order notification failed: %v", err))
	}
}

// authorizeTransition decides whether actor may move order to target.
// Sellers drive fulfilment, buyers cancel early orders and open disputes,
// and completion of a delivered order is reserved for the buyer's receipt
// confirmation or an admin.
func authorizeTransition(actor Actor, order *models.Order, target enums.OrderStatus) error {
	if actor.isPrivileged() {
		return nil
	}
	switch {
	case actor.isSellerOf(order):
		switch target {
		case enums.OrderStatusConfirmed,
			enums.OrderStatusProcessing,
			enums.OrderStatusShipping,
			enums.OrderStatusDelivered,
			enums.OrderStatusCancelled:
			return nil
		}
	case actor.isBuyerOf(order):
		switch target {
		case enums.OrderStatusReview, enums.OrderStatusComplaint:
			return nil
		case enums.OrderStatusCancelled:
			if order.Status == enums.OrderStatusPending ||
				order.Status == enums.OrderStatusConfirmed ||
				order.Status == enums.OrderStatusCancelled {
				return nil
			}
		}
	default:
		return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("%s cannot move order to %s", actor.Role, target))
}

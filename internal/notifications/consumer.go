package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox/idempotency"
)

const orderUpdateConsumer = "order-update-notifications"

type consumerRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	SellerOwner(ctx context.Context, sellerID uuid.UUID) (uuid.UUID, error)
}

// Consumer stores a notification row for every order-update message.
type Consumer struct {
	repo         consumerRepository
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds an order-update consumer.
func NewConsumer(repo consumerRepository, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes[AttrEventType]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
		"channel":    msg.Attributes[AttrChannel],
	})

	if eventType != EventOrderUpdate {
		c.logg.Info(logCtx, "skipping non order-update message")
		return processResult{ack: true}
	}

	var payload Message
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.logg.Error(logCtx, "failed to decode order update", err)
		return processResult{ack: true}
	}
	if payload.OrderID == uuid.Nil || payload.RecipientID == uuid.Nil {
		c.logg.Warn(logCtx, "order update missing order or recipient")
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, orderUpdateConsumer, msg.ID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "message already processed")
		return processResult{ack: true}
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"order_id": payload.OrderID.String(),
		"status":   payload.Status,
	})
	if err := c.store(ctx, payload); err != nil {
		if errors.Is(err, errUnknownRecipient) {
			c.logg.Warn(logCtx, err.Error())
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "storing notification failed", err)
		_ = c.idempotency.Delete(ctx, orderUpdateConsumer, msg.ID)
		return processResult{nack: true}
	}
	c.logg.Info(logCtx, "order update stored")
	return processResult{ack: true}
}

var errUnknownRecipient = errors.New("notification recipient not found")

func (c *Consumer) store(ctx context.Context, payload Message) error {
	recipient, err := c.resolveRecipient(ctx, payload)
	if err != nil {
		return err
	}
	orderID := payload.OrderID
	return c.repo.Create(ctx, &models.Notification{
		RecipientID: recipient,
		OrderID:     &orderID,
		Type:        enums.NotificationTypeOrderUpdate,
		Title:       titleFor(enums.OrderStatus(payload.Status)),
		Message:     payload.Message,
		CreatedAt:   payload.Timestamp,
	})
}

// Sellers read their notifications as the owning user.
func (c *Consumer) resolveRecipient(ctx context.Context, payload Message) (uuid.UUID, error) {
	switch payload.Recipient {
	case RecipientBuyer:
		return payload.RecipientID, nil
	case RecipientSeller:
		owner, err := c.repo.SellerOwner(ctx, payload.RecipientID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, fmt.Errorf("%w: seller %s", errUnknownRecipient, payload.RecipientID)
		}
		return owner, err
	default:
		return uuid.Nil, fmt.Errorf("%w: kind %q", errUnknownRecipient, payload.Recipient)
	}
}

func titleFor(status enums.OrderStatus) string {
	switch status {
	case enums.OrderStatusCompleted:
		return "Order completed"
	case enums.OrderStatusCancelled:
		return "Order cancelled"
	case enums.OrderStatusDelivered:
		return "Order delivered"
	default:
		return "Order updated"
	}
}

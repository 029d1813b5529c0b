package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/pkg/logger"
)

const (
	// EventOrderUpdate is the event name carried by fan-out messages.
	EventOrderUpdate = "order-update"

	AttrChannel   = "channel"
	AttrEventType = "event_type"

	RecipientBuyer  = "user"
	RecipientSeller = "seller"

	publishTimeout = 10 * time.Second
)

// Message is the JSON body of one order-update delivery.
type Message struct {
	Event       string    `json:"event"`
	OrderID     uuid.UUID `json:"orderId"`
	OrderCode   string    `json:"orderCode,omitempty"`
	RecipientID uuid.UUID `json:"recipientId"`
	Recipient   string    `json:"recipient"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// Channel renders the routing attribute, e.g. user:<id> or seller:<id>.
func (m Message) Channel() string {
	return m.Recipient + ":" + m.RecipientID.String()
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
}

type topicPublisher struct {
	p *pubsub.Publisher
}

func (t topicPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return t.p.Publish(ctx, msg)
}

// PubSubNotifier publishes one message per recipient to the notification
// topic. Publish results are only logged; callers never wait on them.
type PubSubNotifier struct {
	pub  publisher
	logg *logger.Logger
	now  func() time.Time

	wg sync.WaitGroup
}

// NewPubSubNotifier wraps a topic publisher.
func NewPubSubNotifier(p *pubsub.Publisher, logg *logger.Logger) (*PubSubNotifier, error) {
	if p == nil {
		return nil, fmt.Errorf("notification publisher required")
	}
	return newPubSubNotifier(topicPublisher{p: p}, logg)
}

func newPubSubNotifier(pub publisher, logg *logger.Logger) (*PubSubNotifier, error) {
	if pub == nil {
		return nil, fmt.Errorf("notification publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &PubSubNotifier{
		pub:  pub,
		logg: logg,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// OrderUpdated enqueues the buyer and seller messages. Only encoding errors
// are returned; delivery failures surface in the logs.
func (n *PubSubNotifier) OrderUpdated(ctx context.Context, update OrderUpdate) error {
	if update.OrderID == uuid.Nil {
		return fmt.Errorf("order id required")
	}
	for _, msg := range Messages(update, n.now()) {
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode order update: %w", err)
		}
		result := n.pub.Publish(context.WithoutCancel(ctx), &pubsub.Message{
			Data: body,
			Attributes: map[string]string{
				AttrChannel:   msg.Channel(),
				AttrEventType: EventOrderUpdate,
			},
		})
		n.observe(ctx, msg, result)
	}
	return nil
}

func (n *PubSubNotifier) observe(ctx context.Context, msg Message, result publishResult) {
	logCtx := n.logg.WithFields(context.WithoutCancel(ctx), map[string]any{
		"order_id": msg.OrderID.String(),
		"channel":  msg.Channel(),
		"status":   msg.Status,
	})
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		waitCtx, cancel := context.WithTimeout(logCtx, publishTimeout)
		defer cancel()
		id, err := result.Get(waitCtx)
		if err != nil {
			n.logg.Warn(logCtx, fmt.Sprintf("order update publish failed: %v", err))
			return
		}
		n.logg.Debug(n.logg.WithField(logCtx, "message_id", id), "order update published")
	}()
}

// Wait blocks until every observed publish has resolved. Used on shutdown.
func (n *PubSubNotifier) Wait() {
	n.wg.Wait()
}

// Messages expands an update into its buyer and seller deliveries. A missing
// party is skipped.
func Messages(update OrderUpdate, at time.Time) []Message {
	text := DefaultMessage(update)
	base := Message{
		Event:     EventOrderUpdate,
		OrderID:   update.OrderID,
		OrderCode: update.OrderCode,
		Status:    update.Status.String(),
		Message:   text,
		Timestamp: at,
	}
	var out []Message
	if update.BuyerID != uuid.Nil {
		msg := base
		msg.Recipient, msg.RecipientID = RecipientBuyer, update.BuyerID
		out = append(out, msg)
	}
	if update.SellerID != uuid.Nil {
		msg := base
		msg.Recipient, msg.RecipientID = RecipientSeller, update.SellerID
		out = append(out, msg)
	}
	return out
}

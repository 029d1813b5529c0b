package notifications

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

// OrderUpdate describes an order status change that buyer and seller should hear about.
type OrderUpdate struct {
	OrderID   uuid.UUID
	OrderCode string
	BuyerID   uuid.UUID
	SellerID  uuid.UUID
	Status    enums.OrderStatus
	Message   string
}

// Notifier fans an order update out to its recipients. Delivery is best
// effort: callers log a returned error and carry on.
type Notifier interface {
	OrderUpdated(ctx context.Context, update OrderUpdate) error
}

// NopNotifier drops every update.
type NopNotifier struct{}

func (NopNotifier) OrderUpdated(context.Context, OrderUpdate) error { return nil }

// DefaultMessage is the text used when an update carries none.
func DefaultMessage(update OrderUpdate) string {
	if update.Message != "" {
		return update.Message
	}
	code := update.OrderCode
	if code == "" {
		code = update.OrderID.String()
	}
	switch update.Status {
	case enums.OrderStatusConfirmed:
		return "Order " + code + " has been confirmed"
	case enums.OrderStatusProcessing:
		return "Order " + code + " is being prepared"
	case enums.OrderStatusShipping:
		return "Order " + code + " is on its way"
	case enums.OrderStatusDelivered:
		return "Order " + code + " has been delivered"
	case enums.OrderStatusCompleted:
		return "Order " + code + " is completed"
	case enums.OrderStatusCancelled:
		return "Order " + code + " was cancelled"
	default:
		return "Order " + code + " status changed to " + update.Status.String()
	}
}

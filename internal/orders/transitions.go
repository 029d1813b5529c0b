package orders

import "github.com/angelmondragon/escrow-settlement/pkg/enums"

var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending: {
		enums.OrderStatusConfirmed,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusConfirmed: {
		enums.OrderStatusProcessing,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusProcessing: {
		enums.OrderStatusShipping,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusShipping: {
		enums.OrderStatusDelivered,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusDelivered: {
		enums.OrderStatusCompleted,
		enums.OrderStatusReview,
		enums.OrderStatusComplaint,
	},
	enums.OrderStatusCompleted: {
		enums.OrderStatusReview,
		enums.OrderStatusComplaint,
	},
	// disputes close back into COMPLETED
	enums.OrderStatusReview: {
		enums.OrderStatusCompleted,
		enums.OrderStatusComplaint,
	},
	enums.OrderStatusComplaint: {
		enums.OrderStatusCompleted,
	},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further lifecycle transition is possible.
// COMPLETED only admits the dispute side states.
func IsTerminal(status enums.OrderStatus) bool {
	return status == enums.OrderStatusCompleted || status == enums.OrderStatusCancelled
}

// Settleable reports whether an order in status may be completed by
// releasing its escrow: delivered, or delivered and then disputed.
func Settleable(status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusDelivered, enums.OrderStatusReview, enums.OrderStatusComplaint:
		return true
	}
	return false
}

func cancellable(status enums.OrderStatus) bool {
	return CanTransition(status, enums.OrderStatusCancelled)
}

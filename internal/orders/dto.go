package orders

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox"
	"github.com/angelmondragon/escrow-settlement/pkg/pagination"
)

// Actor is the authenticated caller acting on an order.
type Actor struct {
	UserID   uuid.UUID
	SellerID *uuid.UUID
	Role     enums.ActorRole
}

// SystemActor is used by background jobs.
var SystemActor = Actor{Role: enums.ActorRoleSystem}

func (a Actor) isBuyerOf(order *models.Order) bool {
	return a.Role == enums.ActorRoleBuyer && a.UserID != uuid.Nil && a.UserID == order.BuyerID
}

func (a Actor) isSellerOf(order *models.Order) bool {
	return a.Role == enums.ActorRoleSeller && a.SellerID != nil && *a.SellerID == order.SellerID
}

func (a Actor) isPrivileged() bool {
	return a.Role == enums.ActorRoleAdmin || a.Role == enums.ActorRoleSystem
}

func (a Actor) ref() *outbox.ActorRef {
	return &outbox.ActorRef{UserID: a.UserID, SellerID: a.SellerID, Role: a.Role}
}

// UpdateStatusInput moves an order to Status on behalf of Actor.
type UpdateStatusInput struct {
	OrderID uuid.UUID
	Status  enums.OrderStatus
	Actor   Actor
}

// CancelInput cancels an order with a reason.
type CancelInput struct {
	OrderID uuid.UUID
	Reason  string
	Actor   Actor
}

// ListParams scopes an order listing to the actor.
type ListParams struct {
	Actor  Actor
	Status *enums.OrderStatus
	pagination.Params
}

// OrderList is one page of orders.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type listQuery struct {
	BuyerID  *uuid.UUID
	SellerID *uuid.UUID
	Status   *enums.OrderStatus
	Limit    int
	Cursor   *pagination.Cursor
}

package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

// CurrentEnvelopeVersion is stamped on events that don't set their own.
const CurrentEnvelopeVersion = 1

// ActorRef records who caused a settlement event. UserID is nil for cron and
// gateway driven transitions.
type ActorRef struct {
	UserID   uuid.UUID       `json:"userId"`
	SellerID *uuid.UUID      `json:"sellerId,omitempty"`
	Role     enums.ActorRole `json:"role,omitempty"`
}

// SystemActor is used by the release job and webhook processing.
func SystemActor() *ActorRef {
	return &ActorRef{Role: enums.ActorRoleSystem}
}

// PayloadEnvelope is what lands in outbox_events.payload and, unchanged, in
// the Pub/Sub message body.
type PayloadEnvelope struct {
	Version       int                       `json:"version"`
	EventID       string                    `json:"eventId"`
	EventType     enums.OutboxEventType     `json:"eventType,omitempty"`
	AggregateType enums.OutboxAggregateType `json:"aggregateType,omitempty"`
	AggregateID   uuid.UUID                 `json:"aggregateId"`
	OccurredAt    time.Time                 `json:"occurredAt"`
	Actor         *ActorRef                 `json:"actor,omitempty"`
	Data          json.RawMessage           `json:"data"`
}

// DomainEvent is the write-side shape services hand to Emit.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

func (e DomainEvent) validate() error {
	switch {
	case !e.EventType.IsValid():
		return errors.New("unknown outbox event type " + string(e.EventType))
	case !e.AggregateType.IsValid():
		return errors.New("unknown outbox aggregate type " + string(e.AggregateType))
	case e.AggregateID == uuid.Nil:
		return errors.New("outbox event requires an aggregate id")
	case e.Data == nil:
		return errors.New("outbox event requires data")
	}
	return nil
}

// envelope fills defaults and serializes the event data.
func (e DomainEvent) envelope(eventID uuid.UUID, now time.Time) (PayloadEnvelope, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return PayloadEnvelope{}, err
	}
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	version := e.Version
	if version == 0 {
		version = CurrentEnvelopeVersion
	}
	return PayloadEnvelope{
		Version:       version,
		EventID:       eventID.String(),
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		OccurredAt:    occurred.UTC(),
		Actor:         e.Actor,
		Data:          data,
	}, nil
}

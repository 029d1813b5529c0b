package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/pkg/config"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox/payloads"
)

// ErrNonRetryable marks rows the relay should dead-letter immediately.
var ErrNonRetryable = errors.New("non-retryable")

// NonRetryable wraps err so IsNonRetryable reports true for it.
func NonRetryable(err error) error {
	if err == nil {
		return ErrNonRetryable
	}
	return fmt.Errorf("%w: %w", ErrNonRetryable, err)
}

func IsNonRetryable(err error) bool {
	return errors.Is(err, ErrNonRetryable)
}

// EventDescriptor binds an event type to its aggregate, topic and payload.
// MaxVersion is the newest envelope version this build can decode.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	MaxVersion     int
	PayloadFactory func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

func descriptors() []EventDescriptor {
	return []EventDescriptor{
		{EventType: enums.EventOrderCreated, AggregateType: enums.AggregatePayment, PayloadFactory: func() any { return &payloads.OrderCreatedEvent{} }},
		{EventType: enums.EventOrderStatusChanged, AggregateType: enums.AggregateOrder, PayloadFactory: func() any { return &payloads.OrderStatusChangedEvent{} }},
		{EventType: enums.EventPaymentPaid, AggregateType: enums.AggregatePayment, PayloadFactory: func() any { return &payloads.PaymentStatusEvent{} }},
		{EventType: enums.EventPaymentFailed, AggregateType: enums.AggregatePayment, PayloadFactory: func() any { return &payloads.PaymentStatusEvent{} }},
		{EventType: enums.EventEscrowReleased, AggregateType: enums.AggregatePayment, PayloadFactory: func() any { return &payloads.EscrowReleasedEvent{} }},
	}
}

// NewEventRegistry routes every settlement event to the domain topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.DomainTopic == "" {
		return nil, errors.New("domain topic is required")
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range descriptors() {
		desc.Topic = cfg.DomainTopic
		if desc.MaxVersion == 0 {
			desc.MaxVersion = outbox.CurrentEnvelopeVersion
		}
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Resolve checks the row against its descriptor and decodes the typed payload.
// Every failure here is permanent for the row.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NonRetryable(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NonRetryable(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NonRetryable(errors.New("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NonRetryable(fmt.Errorf("decode envelope: %w", err))
	}
	if envelope.Version < 1 || envelope.Version > desc.MaxVersion {
		return nil, NonRetryable(fmt.Errorf("unsupported %s envelope version %d", event.EventType, envelope.Version))
	}
	// Rows written before the envelope carried its own type leave it empty.
	if envelope.EventType != "" && envelope.EventType != event.EventType {
		return nil, NonRetryable(fmt.Errorf("envelope type %s does not match row type %s", envelope.EventType, event.EventType))
	}
	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NonRetryable(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NonRetryable(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

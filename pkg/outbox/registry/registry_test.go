package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/pkg/config"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox/payloads"
)

func envelopeFor(t *testing.T, data any) json.RawMessage {
	t.Helper()
	return envelopeWith(t, outbox.PayloadEnvelope{Version: 1}, data)
}

func envelopeWith(t *testing.T, env outbox.PayloadEnvelope, data any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	env.EventID = uuid.NewString()
	env.OccurredAt = time.Now()
	env.Data = raw
	out, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return out
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatalf("expected error without domain topic")
	}
}

func TestResolveEscrowReleased(t *testing.T) {
	reg, err := NewEventRegistry(config.PubSubConfig{DomainTopic: "domain"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	sellerID := uuid.New()
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventEscrowReleased,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       envelopeFor(t, payloads.EscrowReleasedEvent{SellerID: sellerID, Amount: 901000}),
	}

	resolved, err := reg.Resolve(row)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Descriptor.Topic != "domain" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.EscrowReleasedEvent)
	if !ok || payload.SellerID != sellerID || payload.Amount != 901000 {
		t.Fatalf("unexpected payload %#v", resolved.Payload)
	}
}

func TestResolveRejectsBadRowsAsNonRetryable(t *testing.T) {
	reg, _ := NewEventRegistry(config.PubSubConfig{DomainTopic: "domain"})
	cases := map[string]models.OutboxEvent{
		"aggregate mismatch": {EventType: enums.EventOrderStatusChanged, AggregateType: enums.AggregatePayment, AggregateID: uuid.New()},
		"unknown type":       {EventType: "mystery", AggregateType: enums.AggregateOrder, AggregateID: uuid.New()},
		"missing aggregate":  {EventType: enums.EventPaymentPaid, AggregateType: enums.AggregatePayment},
		"null payload": {
			EventType: enums.EventPaymentPaid, AggregateType: enums.AggregatePayment, AggregateID: uuid.New(),
			Payload: envelopeFor(t, nil),
		},
		"future version": {
			EventType: enums.EventPaymentPaid, AggregateType: enums.AggregatePayment, AggregateID: uuid.New(),
			Payload: envelopeWith(t, outbox.PayloadEnvelope{Version: 2}, payloads.PaymentStatusEvent{}),
		},
		"type mismatch": {
			EventType: enums.EventPaymentPaid, AggregateType: enums.AggregatePayment, AggregateID: uuid.New(),
			Payload: envelopeWith(t, outbox.PayloadEnvelope{Version: 1, EventType: enums.EventPaymentFailed}, payloads.PaymentStatusEvent{}),
		},
	}
	for name, row := range cases {
		_, err := reg.Resolve(row)
		if !IsNonRetryable(err) {
			t.Fatalf("%s: expected non-retryable error, got %v", name, err)
		}
	}
}

func TestNonRetryableWrapsCause(t *testing.T) {
	cause := errors.New("bad topic")
	err := NonRetryable(cause)
	if !IsNonRetryable(err) || !errors.Is(err, cause) {
		t.Fatalf("unexpected %v", err)
	}
	if IsNonRetryable(cause) {
		t.Fatalf("plain error reported as non-retryable")
	}
	if !IsNonRetryable(NonRetryable(nil)) {
		t.Fatalf("nil cause should still be non-retryable")
	}
}

package outbox_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/internal/testdb"
	"github.com/angelmondragon/escrow-settlement/pkg/config"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox/registry"
)

func releasedEvent(paymentID uuid.UUID) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventEscrowReleased,
		AggregateType: enums.AggregatePayment,
		AggregateID:   paymentID,
		Actor:         outbox.SystemActor(),
		Data:          payloads.EscrowReleasedEvent{SellerID: uuid.New(), Amount: 901000},
	}
}

func TestEmitStoresEnvelopeWithRowID(t *testing.T) {
	db := testdb.Open(t)
	svc := outbox.NewService(outbox.NewRepository(db), nil)
	paymentID := uuid.New()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, releasedEvent(paymentID))
	}))

	var rows []models.OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, paymentID, row.AggregateID)
	assert.Nil(t, row.PublishedAt)

	var env outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &env))
	assert.Equal(t, row.ID.String(), env.EventID)
	assert.Equal(t, outbox.CurrentEnvelopeVersion, env.Version)
	assert.Equal(t, enums.EventEscrowReleased, env.EventType)
	assert.Equal(t, paymentID, env.AggregateID)
	require.NotNil(t, env.Actor)
	assert.Equal(t, enums.ActorRoleSystem, env.Actor.Role)

	reg, err := registry.NewEventRegistry(config.PubSubConfig{DomainTopic: "domain"})
	require.NoError(t, err)
	resolved, err := reg.Resolve(row)
	require.NoError(t, err)
	payload, ok := resolved.Payload.(*payloads.EscrowReleasedEvent)
	require.True(t, ok)
	assert.Equal(t, int64(901000), payload.Amount)
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	db := testdb.Open(t)
	svc := outbox.NewService(outbox.NewRepository(db), nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, releasedEvent(uuid.New())); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitRejectsIncompleteEvents(t *testing.T) {
	db := testdb.Open(t)
	svc := outbox.NewService(outbox.NewRepository(db), nil)
	ctx := context.Background()

	assert.Error(t, svc.Emit(ctx, nil, releasedEvent(uuid.New())))

	cases := map[string]func(*outbox.DomainEvent){
		"unknown type":      func(e *outbox.DomainEvent) { e.EventType = "refund_issued" },
		"unknown aggregate": func(e *outbox.DomainEvent) { e.AggregateType = "seller" },
		"nil aggregate":     func(e *outbox.DomainEvent) { e.AggregateID = uuid.Nil },
		"no data":           func(e *outbox.DomainEvent) { e.Data = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			event := releasedEvent(uuid.New())
			mutate(&event)
			err := db.Transaction(func(tx *gorm.DB) error { return svc.Emit(ctx, tx, event) })
			assert.Error(t, err)
		})
	}
}

func TestPurgePublishedBeforeKeepsPending(t *testing.T) {
	db := testdb.Open(t)
	repo := outbox.NewRepository(db)
	old := time.Now().UTC().Add(-48 * time.Hour)
	published := models.OutboxEvent{EventType: enums.EventPaymentPaid, AggregateType: enums.AggregatePayment, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), PublishedAt: &old}
	pending := models.OutboxEvent{EventType: enums.EventPaymentPaid, AggregateType: enums.AggregatePayment, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old}
	require.NoError(t, repo.Insert(db, published))
	require.NoError(t, repo.Insert(db, pending))

	removed, err := repo.PurgePublishedBefore(context.Background(), nil, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var left []models.OutboxEvent
	require.NoError(t, db.Find(&left).Error)
	require.Len(t, left, 1)
	assert.Nil(t, left[0].PublishedAt)
}

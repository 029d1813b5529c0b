package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/escrow-settlement/internal/testdb"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox/idempotency"
	"github.com/angelmondragon/escrow-settlement/pkg/redis"
)

type failingCreateRepo struct {
	consumerRepository
	err error
}

func (f failingCreateRepo) Create(context.Context, *models.Notification) error { return f.err }

func newTestConsumer(t *testing.T, repo consumerRepository) *Consumer {
	t.Helper()
	srv := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	manager, err := idempotency.NewManager(redis.FromRaw(raw), time.Hour)
	require.NoError(t, err)
	return &Consumer{repo: repo, idempotency: manager, logg: testLogger()}
}

func orderUpdateMessage(t *testing.T, id string, msg Message) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return &pubsub.Message{
		ID:   id,
		Data: data,
		Attributes: map[string]string{
			AttrEventType: EventOrderUpdate,
			AttrChannel:   msg.Channel(),
		},
	}
}

func TestConsumerStoresBuyerAndSellerNotifications(t *testing.T) {
	conn := testdb.Open(t)
	repo := NewRepository(conn)
	consumer := newTestConsumer(t, repo)
	seller := testdb.SeedSeller(t, conn, "Shop")
	buyer := uuid.New()

	update := OrderUpdate{OrderID: uuid.New(), OrderCode: "EC17102026001", BuyerID: buyer, SellerID: seller.ID, Status: enums.OrderStatusCompleted}
	for i, msg := range Messages(update, time.Now().UTC()) {
		res := consumer.process(context.Background(), orderUpdateMessage(t, []string{"m-1", "m-2"}[i], msg))
		assert.True(t, res.ack)
	}

	var rows []models.Notification
	require.NoError(t, conn.Order("recipient_id").Find(&rows).Error)
	require.Len(t, rows, 2)
	recipients := []uuid.UUID{rows[0].RecipientID, rows[1].RecipientID}
	assert.ElementsMatch(t, []uuid.UUID{buyer, seller.OwnerID}, recipients)
	for _, row := range rows {
		assert.Equal(t, "Order completed", row.Title)
		require.NotNil(t, row.OrderID)
		assert.Equal(t, update.OrderID, *row.OrderID)
	}
}

func TestConsumerDedupesRedelivery(t *testing.T) {
	conn := testdb.Open(t)
	consumer := newTestConsumer(t, NewRepository(conn))
	msg := Messages(OrderUpdate{OrderID: uuid.New(), BuyerID: uuid.New(), Status: enums.OrderStatusShipping}, time.Now().UTC())[0]

	first := consumer.process(context.Background(), orderUpdateMessage(t, "dup", msg))
	second := consumer.process(context.Background(), orderUpdateMessage(t, "dup", msg))
	assert.True(t, first.ack)
	assert.True(t, second.ack)

	var count int64
	require.NoError(t, conn.Model(&models.Notification{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestConsumerNacksAndForgetsOnStoreFailure(t *testing.T) {
	conn := testdb.Open(t)
	repo := NewRepository(conn)
	msg := Messages(OrderUpdate{OrderID: uuid.New(), BuyerID: uuid.New(), Status: enums.OrderStatusShipping}, time.Now().UTC())[0]

	failing := newTestConsumer(t, failingCreateRepo{consumerRepository: repo, err: errors.New("db down")})
	res := failing.process(context.Background(), orderUpdateMessage(t, "retry-me", msg))
	assert.True(t, res.nack)

	already, err := failing.idempotency.CheckAndMarkProcessed(context.Background(), orderUpdateConsumer, "retry-me")
	require.NoError(t, err)
	assert.False(t, already, "failed message must be retried")
}

func TestConsumerAcksUnknownSellerAndForeignEvents(t *testing.T) {
	conn := testdb.Open(t)
	consumer := newTestConsumer(t, NewRepository(conn))

	msg := Messages(OrderUpdate{OrderID: uuid.New(), SellerID: uuid.New(), Status: enums.OrderStatusShipping}, time.Now().UTC())[0]
	assert.True(t, consumer.process(context.Background(), orderUpdateMessage(t, "ghost", msg)).ack)

	foreign := &pubsub.Message{ID: "x", Data: []byte(`{}`), Attributes: map[string]string{AttrEventType: "payment_paid"}}
	assert.True(t, consumer.process(context.Background(), foreign).ack)

	garbage := &pubsub.Message{ID: "y", Data: []byte(`not json`), Attributes: map[string]string{AttrEventType: EventOrderUpdate}}
	assert.True(t, consumer.process(context.Background(), garbage).ack)

	var count int64
	require.NoError(t, conn.Model(&models.Notification{}).Count(&count).Error)
	assert.Zero(t, count)
}

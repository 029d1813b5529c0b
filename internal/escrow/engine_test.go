package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/internal/ledger"
	"github.com/angelmondragon/escrow-settlement/internal/notifications"
	"github.com/angelmondragon/escrow-settlement/internal/orders"
	"github.com/angelmondragon/escrow-settlement/internal/testdb"
	dbpkg "github.com/angelmondragon/escrow-settlement/pkg/db"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-settlement/pkg/errors"
	"github.com/angelmondragon/escrow-settlement/pkg/metrics"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox"
)

type recordingNotifier struct {
	mu      sync.Mutex
	updates []notifications.OrderUpdate
	err     error
}

func (r *recordingNotifier) OrderUpdated(ctx context.Context, update notifications.OrderUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	return r.err
}

type engineFixture struct {
	client   *dbpkg.Client
	db       *gorm.DB
	engine   *Engine
	notifier *recordingNotifier
	registry *prometheus.Registry
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	client, db := testdb.Client(t)
	history, err := ledger.NewService(ledger.NewRepository(db))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	notifier := &recordingNotifier{}
	engine, err := NewEngine(EngineParams{
		Tx:        client,
		Repo:      NewRepository(db),
		Ledger:    history,
		Completer: orders.NewCompleter(),
		Outbox:    outbox.NewService(outbox.NewRepository(db), nil),
		Notifier:  notifier,
		Metrics:   metrics.NewEscrowMetrics(reg),
	})
	require.NoError(t, err)
	return &engineFixture{client: client, db: db, engine: engine, notifier: notifier, registry: reg}
}

func (f *engineFixture) balance(t *testing.T, sellerID uuid.UUID) int64 {
	t.Helper()
	var seller models.Seller
	require.NoError(t, f.db.First(&seller, "id = ?", sellerID).Error)
	return seller.Balance
}

func (f *engineFixture) historyCount(t *testing.T, paymentID uuid.UUID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.PaymentHistory{}).
		Where("payment_id = ? AND kind = ?", paymentID, enums.HistoryKindEscrowRelease).
		Count(&count).Error)
	return count
}

func TestReleaseCreditsSellerAndCompletesOrder(t *testing.T) {
	f := newEngineFixture(t)
	s := testdb.SeedSettlement(t, f.db, testdb.SettlementOptions{})

	res, err := f.engine.Release(context.Background(), s.Payment.ID, s.Seller.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReleased, res.Outcome)
	assert.Equal(t, enums.EscrowStatusReleased, res.Escrow.Status)
	assert.Equal(t, enums.OrderStatusCompleted, res.Order.Status)

	assert.Equal(t, int64(901_000), f.balance(t, s.Seller.ID))
	assert.Equal(t, int64(1), f.historyCount(t, s.Payment.ID))

	var entry models.PaymentHistory
	require.NoError(t, f.db.First(&entry, "payment_id = ? AND kind = ?", s.Payment.ID, enums.HistoryKindEscrowRelease).Error)
	assert.Equal(t, "ESCROW-"+s.Escrow.ID.String(), entry.TransactionID)
	assert.Equal(t, int64(901_000), entry.Amount)

	var escrow models.PaymentEscrow
	require.NoError(t, f.db.First(&escrow, "id = ?", s.Escrow.ID).Error)
	assert.Equal(t, enums.EscrowStatusReleased, escrow.Status)
	assert.NotNil(t, escrow.ReleasedAt)

	var order models.Order
	require.NoError(t, f.db.First(&order, "id = ?", s.Order.ID).Error)
	assert.Equal(t, enums.OrderStatusCompleted, order.Status)
	assert.NotNil(t, order.InventoryAppliedAt)

	var product models.Product
	require.NoError(t, f.db.First(&product, "id = ?", s.Product.ID).Error)
	assert.Equal(t, 8, product.Stock)
	assert.Equal(t, 2, product.Sold)

	var events []models.OutboxEvent
	require.NoError(t, f.db.Order("created_at ASC").Find(&events).Error)
	require.Len(t, events, 2)
	types := []enums.OutboxEventType{events[0].EventType, events[1].EventType}
	assert.ElementsMatch(t, []enums.OutboxEventType{enums.EventEscrowReleased, enums.EventOrderStatusChanged}, types)

	require.Len(t, f.notifier.updates, 1)
	assert.Equal(t, enums.OrderStatusCompleted, f.notifier.updates[0].Status)
	assert.Equal(t, float64(1), f.releaseCount(t, "released"))
}

func (f *engineFixture) releaseCount(t *testing.T, outcome string) float64 {
	t.Helper()
	mfs, err := f.registry.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "escrow_release_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	s := testdb.SeedSettlement(t, f.db, testdb.SettlementOptions{})

	first, err := f.engine.Release(context.Background(), s.Payment.ID, s.Seller.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeReleased, first.Outcome)

	second, err := f.engine.Release(context.Background(), s.Payment.ID, s.Seller.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyReleased, second.Outcome)

	assert.Equal(t, int64(901_000), f.balance(t, s.Seller.ID))
	assert.Equal(t, int64(1), f.historyCount(t, s.Payment.ID))
	assert.Len(t, f.notifier.updates, 1)

	var product models.Product
	require.NoError(t, f.db.First(&product, "id = ?", s.Product.ID).Error)
	assert.Equal(t, 8, product.Stock)
}

func TestReleaseRefusesUndeliveredOrder(t *testing.T) {
	f := newEngineFixture(t)
	s := testdb.SeedSettlement(t, f.db, testdb.SettlementOptions{OrderStatus: enums.OrderStatusShipping})

	_, err := f.engine.Release(context.Background(), s.Payment.ID, s.Seller.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	var escrow models.PaymentEscrow
	require.NoError(t, f.db.First(&escrow, "id = ?", s.Escrow.ID).Error)
	assert.Equal(t, enums.EscrowStatusHold, escrow.Status)
	assert.Zero(t, f.balance(t, s.Seller.ID))
	assert.Zero(t, f.historyCount(t, s.Payment.ID))
}

func TestReleaseNotEligible(t *testing.T) {
	f := newEngineFixture(t)

	unpaid := testdb.SeedSettlement(t, f.db, testdb.SettlementOptions{PaymentStatus: enums.PaymentStatusUnpaid, Method: enums.PaymentMethodCOD})
	res, err := f.engine.Release(context.Background(), unpaid.Payment.ID, unpaid.Seller.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotEligible, res.Outcome)
	assert.Zero(t, f.balance(t, unpaid.Seller.ID))

	failed := testdb.SeedSettlement(t, f.db, testdb.SettlementOptions{EscrowStatus: enums.EscrowStatusFailed})
	res, err = f.engine.Release(context.Background(), failed.Payment.ID, failed.Seller.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotEligible, res.Outcome)

	err = f.engine.ReleaseOrder(context.Background(), failed.Payment.ID, failed.Seller.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestReleaseUnknownEscrow(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.Release(context.Background(), uuid.New(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.engine.Release(context.Background(), uuid.Nil, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestConcurrentReleaseCreditsOnce(t *testing.T) {
	f := newEngineFixture(t)
	s := testdb.SeedSettlement(t, f.db, testdb.SettlementOptions{})

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
		errs     []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := f.engine.Release(context.Background(), s.Payment.ID, s.Seller.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			outcomes[res.Outcome]++
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, outcomes[OutcomeReleased])
	assert.Equal(t, callers-1, outcomes[OutcomeAlreadyReleased])
	assert.Equal(t, int64(901_000), f.balance(t, s.Seller.ID))
	assert.Equal(t, int64(1), f.historyCount(t, s.Payment.ID))

	var product models.Product
	require.NoError(t, f.db.First(&product, "id = ?", s.Product.ID).Error)
	assert.Equal(t, 8, product.Stock)
	assert.Equal(t, 2, product.Sold)
}

func TestReleaseSurvivesNotifierFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.notifier.err = errors.New("pubsub down")
	s := testdb.SeedSettlement(t, f.db, testdb.SettlementOptions{})

	res, err := f.engine.Release(context.Background(), s.Payment.ID, s.Seller.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReleased, res.Outcome)
	assert.Equal(t, int64(901_000), f.balance(t, s.Seller.ID))
}

func TestReleaseRollsBackWhenSellerMissing(t *testing.T) {
	f := newEngineFixture(t)
	s := testdb.SeedSettlement(t, f.db, testdb.SettlementOptions{})
	require.NoError(t, f.db.Delete(&models.Seller{}, "id = ?", s.Seller.ID).Error)

	_, err := f.engine.Release(context.Background(), s.Payment.ID, s.Seller.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	var escrow models.PaymentEscrow
	require.NoError(t, f.db.First(&escrow, "id = ?", s.Escrow.ID).Error)
	assert.Equal(t, enums.EscrowStatusHold, escrow.Status)
}

type stubCOD struct{}

func (stubCOD) MarkCODPaid(ctx context.Context, tx *gorm.DB, paymentID, orderID uuid.UUID) (bool, error) {
	return false, nil
}

func TestConfirmReceivedReleasesThroughEngine(t *testing.T) {
	f := newEngineFixture(t)
	s := testdb.SeedSettlement(t, f.db, testdb.SettlementOptions{OrderStatus: enums.OrderStatusShipping})

	svc, err := orders.NewService(orders.ServiceParams{
		Repo:      orders.NewRepository(f.db),
		Tx:        f.client,
		Outbox:    outbox.NewService(outbox.NewRepository(f.db), nil),
		Completer: orders.NewCompleter(),
		COD:       stubCOD{},
		Releaser:  f.engine,
		Now:       func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	order, err := svc.ConfirmReceived(context.Background(), s.Order.ID, orders.Actor{UserID: s.Order.BuyerID, Role: enums.ActorRoleBuyer})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, order.Status)
	assert.Equal(t, int64(901_000), f.balance(t, s.Seller.ID))

	again, err := svc.ConfirmReceived(context.Background(), s.Order.ID, orders.Actor{UserID: s.Order.BuyerID, Role: enums.ActorRoleBuyer})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, again.Status)
	assert.Equal(t, int64(901_000), f.balance(t, s.Seller.ID))
}

func TestReleaseHoldsDisputedOrder(t *testing.T) {
	f := newEngineFixture(t)
	s := testdb.SeedSettlement(t, f.db, testdb.SettlementOptions{OrderStatus: enums.OrderStatusComplaint})

	_, err := f.engine.Release(context.Background(), s.Payment.ID, s.Seller.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Zero(t, f.balance(t, s.Seller.ID))
}

func TestClosingReviewReleasesEscrow(t *testing.T) {
	f := newEngineFixture(t)
	s := testdb.SeedSettlement(t, f.db, testdb.SettlementOptions{})

	svc := f.orderService(t)
	ctx := context.Background()

	order, err := svc.UpdateStatus(ctx, orders.UpdateStatusInput{
		OrderID: s.Order.ID,
		Status:  enums.OrderStatusReview,
		Actor:   orders.Actor{UserID: s.Order.BuyerID, Role: enums.ActorRoleBuyer},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusReview, order.Status)

	order, err = svc.UpdateStatus(ctx, orders.UpdateStatusInput{
		OrderID: s.Order.ID,
		Status:  enums.OrderStatusCompleted,
		Actor:   orders.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, order.Status)

	var escrow models.PaymentEscrow
	require.NoError(t, f.db.First(&escrow, "id = ?", s.Escrow.ID).Error)
	assert.Equal(t, enums.EscrowStatusReleased, escrow.Status)
	assert.Equal(t, int64(901_000), f.balance(t, s.Seller.ID))
	assert.Equal(t, int64(1), f.historyCount(t, s.Payment.ID))

	var product models.Product
	require.NoError(t, f.db.First(&product, "id = ?", s.Product.ID).Error)
	assert.Equal(t, 8, product.Stock)

	var completedEvents []models.OutboxEvent
	require.NoError(t, f.db.
		Where("aggregate_id = ? AND event_type = ?", s.Order.ID, enums.EventOrderStatusChanged).
		Where("payload LIKE ?", `%"to_status":"COMPLETED"%`).
		Find(&completedEvents).Error)
	require.Len(t, completedEvents, 1)
	assert.Contains(t, string(completedEvents[0].Payload), `"from_status":"REVIEW"`)
}

func TestClosingReviewAfterReleaseCompletesOrder(t *testing.T) {
	f := newEngineFixture(t)
	s := testdb.SeedSettlement(t, f.db, testdb.SettlementOptions{})
	svc := f.orderService(t)
	ctx := context.Background()

	_, err := f.engine.Release(ctx, s.Payment.ID, s.Seller.ID)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, orders.UpdateStatusInput{
		OrderID: s.Order.ID,
		Status:  enums.OrderStatusReview,
		Actor:   orders.Actor{UserID: s.Order.BuyerID, Role: enums.ActorRoleBuyer},
	})
	require.NoError(t, err)

	order, err := svc.UpdateStatus(ctx, orders.UpdateStatusInput{
		OrderID: s.Order.ID,
		Status:  enums.OrderStatusCompleted,
		Actor:   orders.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, order.Status)
	assert.Equal(t, int64(901_000), f.balance(t, s.Seller.ID))
	assert.Equal(t, int64(1), f.historyCount(t, s.Payment.ID))

	var product models.Product
	require.NoError(t, f.db.First(&product, "id = ?", s.Product.ID).Error)
	assert.Equal(t, 8, product.Stock)
}

func (f *engineFixture) orderService(t *testing.T) orders.Service {
	t.Helper()
	svc, err := orders.NewService(orders.ServiceParams{
		Repo:      orders.NewRepository(f.db),
		Tx:        f.client,
		Outbox:    outbox.NewService(outbox.NewRepository(f.db), nil),
		Completer: orders.NewCompleter(),
		COD:       stubCOD{},
		Releaser:  f.engine,
		Now:       func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	return svc
}

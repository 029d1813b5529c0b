package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/internal/testdb"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/outbox"
)

type nopTxRunner struct{}

func (nopTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func TestRetentionJobUsesCutoff(t *testing.T) {
	now := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	var gotCutoff time.Time
	jobIface, err := NewRetentionJob(RetentionJobParams{
		Name:      "notification-cleanup",
		Logger:    testLogger(),
		DB:        nopTxRunner{},
		Retention: NotificationRetention,
		Purger: PurgerFunc(func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
			gotCutoff = cutoff
			return 3, nil
		}),
	})
	if err != nil {
		t.Fatalf("NewRetentionJob: %v", err)
	}
	job := jobIface.(*retentionJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-30 * 24 * time.Hour); !gotCutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, gotCutoff)
	}
	if job.Name() != "notification-cleanup" {
		t.Fatalf("unexpected name %q", job.Name())
	}
}

func TestRetentionJobPropagatesError(t *testing.T) {
	job, err := NewRetentionJob(RetentionJobParams{
		Name:      "outbox-retention",
		Logger:    testLogger(),
		DB:        nopTxRunner{},
		Retention: OutboxRetention,
		Purger: PurgerFunc(func(context.Context, *gorm.DB, time.Time) (int64, error) {
			return 0, errors.New("boom")
		}),
	})
	if err != nil {
		t.Fatalf("NewRetentionJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestOutboxRetentionKeepsUnpublishedRows(t *testing.T) {
	client, db := testdb.Client(t)
	old := time.Now().UTC().Add(-10 * 24 * time.Hour)
	recent := time.Now().UTC().Add(-time.Hour)
	rows := []models.OutboxEvent{
		{EventType: "order_created", AggregateType: "payment", Payload: []byte(`{}`), CreatedAt: old, PublishedAt: &old},
		{EventType: "order_created", AggregateType: "payment", Payload: []byte(`{}`), CreatedAt: old},
		{EventType: "order_created", AggregateType: "payment", Payload: []byte(`{}`), CreatedAt: recent, PublishedAt: &recent},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed outbox: %v", err)
		}
	}

	job, err := NewRetentionJob(RetentionJobParams{
		Name:      "outbox-retention",
		Logger:    testLogger(),
		DB:        client,
		Retention: OutboxRetention,
		Purger:    PurgerFunc(outbox.NewRepository(db).PurgePublishedBefore),
	})
	if err != nil {
		t.Fatalf("NewRetentionJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var remaining int64
	db.Model(&models.OutboxEvent{}).Count(&remaining)
	if remaining != 2 {
		t.Fatalf("expected 2 rows left, got %d", remaining)
	}
}

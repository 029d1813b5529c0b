package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
)

// Repository persists the append-only payment history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// Append inserts entry unless (payment_id, transaction_id) already exists.
	Append(ctx context.Context, entry *models.PaymentHistory) (bool, error)
	ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentHistory, error)
	Exists(ctx context.Context, paymentID uuid.UUID, transactionID string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a history repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Append(ctx context.Context, entry *models.PaymentHistory) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_id"}, {Name: "transaction_id"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentHistory, error) {
	var entries []models.PaymentHistory
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) Exists(ctx context.Context, paymentID uuid.UUID, transactionID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.PaymentHistory{}).
		Where("payment_id = ? AND transaction_id = ?", paymentID, transactionID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

// Service records entries in a payment's append-only history. Entries are
// never updated or deleted.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.PaymentHistory, bool, error)
	HasTransaction(ctx context.Context, paymentID uuid.UUID, transactionID string) (bool, error)
	List(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentHistory, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

// RecordInput captures the immutable data of one history entry.
type RecordInput struct {
	PaymentID     uuid.UUID
	Kind          enums.PaymentHistoryKind
	Amount        int64
	Method        enums.PaymentMethod
	TransactionID string
	SellerID      *uuid.UUID
	Note          string
	At            time.Time
}

// NewService wires a history service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Record appends an entry inside tx. The bool is false when an entry with the
// same transaction id already exists for the payment.
func (s *service) Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.PaymentHistory, bool, error) {
	if input.PaymentID == uuid.Nil {
		return nil, false, fmt.Errorf("payment id is required")
	}
	if !input.Kind.IsValid() {
		return nil, false, fmt.Errorf("invalid history kind %q", input.Kind)
	}
	if strings.TrimSpace(input.TransactionID) == "" {
		return nil, false, fmt.Errorf("transaction id is required")
	}
	if input.Amount < 0 {
		return nil, false, fmt.Errorf("amount must not be negative")
	}
	at := input.At
	if at.IsZero() {
		at = s.now()
	}

	entry := &models.PaymentHistory{
		PaymentID:     input.PaymentID,
		Kind:          input.Kind,
		Amount:        input.Amount,
		Method:        input.Method,
		TransactionID: input.TransactionID,
		SellerID:      input.SellerID,
		Note:          input.Note,
		CreatedAt:     at.UTC(),
	}
	appended, err := s.repo.WithTx(tx).Append(ctx, entry)
	if err != nil {
		return nil, false, err
	}
	return entry, appended, nil
}

func (s *service) HasTransaction(ctx context.Context, paymentID uuid.UUID, transactionID string) (bool, error) {
	if paymentID == uuid.Nil {
		return false, fmt.Errorf("payment id is required")
	}
	return s.repo.Exists(ctx, paymentID, transactionID)
}

func (s *service) List(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentHistory, error) {
	return s.repo.ListByPaymentID(ctx, paymentID)
}

// EscrowTransactionID is the synthetic reference written for escrow releases.
func EscrowTransactionID(escrowID uuid.UUID) string {
	return "ESCROW-" + escrowID.String()
}

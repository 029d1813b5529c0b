package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/escrow-settlement/internal/escrow"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	pkgerrors "github.com/angelmondragon/escrow-settlement/pkg/errors"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
)

const defaultSweepBatch = 500

type escrowReleaser interface {
	Release(ctx context.Context, paymentID, sellerID uuid.UUID) (*escrow.ReleaseResult, error)
}

type dueEscrowReader interface {
	ListDue(ctx context.Context, now time.Time, after escrow.DueCursor, limit int) ([]models.PaymentEscrow, error)
	CountHolding(ctx context.Context, paymentID uuid.UUID) (int64, error)
}

// EscrowReleaseJobParams configure the escrow sweep.
type EscrowReleaseJobParams struct {
	Logger    *logger.Logger
	Escrows   dueEscrowReader
	Releaser  escrowReleaser
	BatchSize int
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	PaymentsScanned   int
	PaymentsProcessed int
	PaymentsCaughtUp  int
	EntriesReleased   int
	EntriesSkipped    int
	EntriesFailed     int
}

// NewEscrowReleaseJob builds the job that releases escrow whose hold window
// has elapsed.
func NewEscrowReleaseJob(params EscrowReleaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Escrows == nil {
		return nil, fmt.Errorf("escrow repository required")
	}
	if params.Releaser == nil {
		return nil, fmt.Errorf("escrow releaser required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &escrowReleaseJob{
		logg:     params.Logger,
		escrows:  params.Escrows,
		releaser: params.Releaser,
		batch:    batch,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

type escrowReleaseJob struct {
	logg     *logger.Logger
	escrows  dueEscrowReader
	releaser escrowReleaser
	batch    int
	now      func() time.Time
}

func (j *escrowReleaseJob) Name() string { return "escrow-release" }

func (j *escrowReleaseJob) Run(ctx context.Context) error {
	report, err := j.Sweep(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"payments_scanned":   report.PaymentsScanned,
		"payments_processed": report.PaymentsProcessed,
		"payments_caught_up": report.PaymentsCaughtUp,
		"entries_released":   report.EntriesReleased,
		"entries_skipped":    report.EntriesSkipped,
		"entries_failed":     report.EntriesFailed,
	})
	j.logg.Info(logCtx, "escrow sweep complete")
	return err
}

// Sweep releases every due escrow entry once. Due entries are read in pages
// of the batch size; a payment split across two pages is held back and
// handled with the next page. A failing entry never stops the rest of the
// sweep; all failures are returned together.
func (j *escrowReleaseJob) Sweep(ctx context.Context) (SweepReport, error) {
	var (
		report SweepReport
		errs   error
		cursor escrow.DueCursor
		carry  []models.PaymentEscrow
	)
	now := j.now()
	for {
		if ctx.Err() != nil {
			return report, multierr.Append(errs, ctx.Err())
		}
		page, err := j.escrows.ListDue(ctx, now, cursor, j.batch)
		if err != nil {
			return report, multierr.Append(errs, fmt.Errorf("list due escrows: %w", err))
		}
		last := len(page) < j.batch
		if len(page) > 0 {
			tail := page[len(page)-1]
			cursor = escrow.DueCursor{PaymentID: tail.PaymentID, ID: tail.ID}
		}

		groups := groupByPayment(append(carry, page...))
		carry = nil
		if !last && len(groups) > 0 {
			carry = groups[len(groups)-1]
			groups = groups[:len(groups)-1]
		}
		for _, group := range groups {
			if ctx.Err() != nil {
				return report, multierr.Append(errs, ctx.Err())
			}
			errs = multierr.Append(errs, j.sweepPayment(ctx, group, &report))
		}
		if last {
			return report, errs
		}
	}
}

func (j *escrowReleaseJob) sweepPayment(ctx context.Context, group []models.PaymentEscrow, report *SweepReport) error {
	var errs error
	report.PaymentsScanned++
	processed := false
	for _, entry := range group {
		outcome, err := j.releaseEntry(ctx, entry)
		switch {
		case err != nil:
			report.EntriesFailed++
			errs = multierr.Append(errs, err)
		case outcome == escrow.OutcomeReleased:
			report.EntriesReleased++
			processed = true
		default:
			report.EntriesSkipped++
		}
	}
	if processed {
		report.PaymentsProcessed++
	}

	paymentID := group[0].PaymentID
	remaining, err := j.escrows.CountHolding(ctx, paymentID)
	if err != nil {
		return multierr.Append(errs, fmt.Errorf("count held escrows for payment %s: %w", paymentID, err))
	}
	if remaining == 0 {
		report.PaymentsCaughtUp++
	}
	return errs
}

func (j *escrowReleaseJob) releaseEntry(ctx context.Context, entry models.PaymentEscrow) (escrow.Outcome, error) {
	res, err := j.releaser.Release(ctx, entry.PaymentID, entry.SellerID)
	if err == nil {
		return res.Outcome, nil
	}
	// the order left DELIVERED after it was listed; a later sweep retries
	if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		return escrow.OutcomeNotEligible, nil
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"payment_id": entry.PaymentID.String(),
		"seller_id":  entry.SellerID.String(),
		"order_id":   entry.OrderID.String(),
		"escrow_id":  entry.ID.String(),
	})
	j.logg.Error(logCtx, "escrow release failed", err)
	return "", fmt.Errorf("release escrow %s: %w", entry.ID, err)
}

// groupByPayment keeps the repository order, which is sorted by payment.
func groupByPayment(rows []models.PaymentEscrow) [][]models.PaymentEscrow {
	var groups [][]models.PaymentEscrow
	for _, row := range rows {
		n := len(groups)
		if n > 0 && groups[n-1][0].PaymentID == row.PaymentID {
			groups[n-1] = append(groups[n-1], row)
			continue
		}
		groups = append(groups, []models.PaymentEscrow{row})
	}
	return groups
}

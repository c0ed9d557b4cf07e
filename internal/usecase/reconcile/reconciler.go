package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// Errors stored on records the ledger can no longer account for
var (
	ErrNeverBroadcast = errors.New("transaction was never broadcast")
	ErrDropped        = errors.New("transaction dropped by the ledger")
)

// Result counts the outcome of one reconciliation pass
type Result struct {
	Checked   int
	Confirmed int
	Failed    int
	Pending   int
	Errors    int
}

// Reconciler settles transaction records that were left open by a previous run
type Reconciler struct {
	records domain.TransactionRecordRepository
	ledger  domain.LedgerQuery
	logger  *zap.Logger
}

// NewReconciler creates a new Reconciler instance
func NewReconciler(records domain.TransactionRecordRepository, ledger domain.LedgerQuery, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		records: records,
		ledger:  ledger,
		logger:  logger,
	}
}

// Reconcile re-queries every open record and persists its settled status.
// Logic:
//  1. A record without a hash never reached the ledger and is marked Failed
//  2. A hash the ledger does not know was dropped and is marked Failed
//  3. Confirmed or reverted receipts move the record to its terminal status
//  4. Still pending records are left as they are
//
// A ledger read error skips the record; it is retried on the next pass.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	open, err := r.records.ListOpen(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list open transaction records: %w", err)
	}

	var result Result
	for _, rec := range open {
		result.Checked++

		settled, err := r.settle(ctx, rec)
		if err != nil {
			result.Errors++
			r.logger.Warn("failed to reconcile transaction record",
				zap.String("record_id", rec.ID.String()),
				zap.String("tx_hash", rec.HashValue()),
				zap.Error(err))
			continue
		}

		switch settled {
		case domain.TxStatusConfirmed:
			result.Confirmed++
		case domain.TxStatusFailed:
			result.Failed++
		default:
			result.Pending++
			continue
		}

		if err := r.records.Save(ctx, rec); err != nil {
			return result, fmt.Errorf("failed to save transaction record %s: %w", rec.ID, err)
		}

		r.logger.Info("transaction record reconciled",
			zap.String("record_id", rec.ID.String()),
			zap.String("kind", string(rec.Kind)),
			zap.String("tx_hash", rec.HashValue()),
			zap.String("status", string(rec.Status)))
	}

	return result, nil
}

// settle applies the ledger's view to rec and returns the resulting status
func (r *Reconciler) settle(ctx context.Context, rec *domain.TransactionRecord) (domain.TxStatus, error) {
	if rec.Hash == nil {
		return domain.TxStatusFailed, rec.MarkFailed(ErrNeverBroadcast)
	}

	status, err := r.ledger.TransactionStatus(ctx, *rec.Hash)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.TxStatusFailed, rec.MarkFailed(ErrDropped)
	}
	if err != nil {
		return "", err
	}

	switch status {
	case domain.TxStatusConfirmed:
		return status, rec.Advance(domain.TxStatusConfirmed)
	case domain.TxStatusFailed:
		return status, rec.MarkFailed(domain.ErrTransactionReverted)
	default:
		return status, nil
	}
}

package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// Run applies confirmation events until ctx is done or the workflow is closed
func (w *Workflow) Run(ctx context.Context) error {
	for {
		if err := w.ProcessNext(ctx); err != nil {
			return err
		}
	}
}

// ProcessNext blocks for one confirmation event and applies it
func (w *Workflow) ProcessNext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.dispatcher.Done():
		return ErrClosed
	case ev := <-w.events:
		w.apply(ctx, ev)
		return nil
	}
}

// apply moves the matching record to its terminal status and drives the step
func (w *Workflow) apply(ctx context.Context, ev domain.ConfirmationEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ev.Record == nil {
		return
	}

	var rec *domain.TransactionRecord
	switch {
	case w.approval != nil && w.approval.ID == ev.Record.ID:
		rec = w.approval
	case w.transfer != nil && w.transfer.ID == ev.Record.ID:
		rec = w.transfer
	default:
		w.logger.Warn("confirmation for unknown record ignored",
			zap.String("record_id", ev.Record.ID.String()),
			zap.String("tx_hash", ev.Record.HashValue()))
		return
	}

	if rec.Status.IsTerminal() {
		return
	}

	if err := w.dispatcher.Settle(ctx, rec, ev); err != nil {
		w.logger.Error("failed to settle record", zap.String("record_id", rec.ID.String()), zap.Error(err))
		return
	}
	w.metrics.WriteSettled(rec.Kind, rec.Status, time.Since(rec.CreatedAt))

	if rec.Status == domain.TxStatusFailed {
		w.notify(domain.SeverityError, w.message(ev.Err))
		return
	}

	switch rec.Kind {
	case domain.TransactionKindApproval:
		w.approvalConfirmed(ctx)
	case domain.TransactionKindTransfer:
		w.transferConfirmed(ctx, rec)
	}
}

// approvalConfirmed re-reads the allowance before a transfer may use it
func (w *Workflow) approvalConfirmed(ctx context.Context) {
	w.snapshot = nil
	if _, err := w.refresh(ctx); err != nil {
		w.logger.Warn("allowance refresh after approval failed", zap.Error(err))
	}
	w.notify(domain.SeverityInfo, "Token approval confirmed! You can now submit the batch.")
}

// transferConfirmed records the completion and moves to Complete
func (w *Workflow) transferConfirmed(ctx context.Context, rec *domain.TransactionRecord) {
	batch := w.submitted
	if batch == nil {
		w.logger.Error("confirmed transfer has no submitted batch", zap.String("tx_hash", rec.HashValue()))
		return
	}

	hash := rec.HashValue()
	completion := &domain.CompletionRecord{
		ID:             uuid.New(),
		WorkflowID:     w.id,
		TxHash:         hash,
		ExplorerURL:    w.network.TransactionURL(hash),
		AssetSymbol:    batch.Asset.Symbol,
		Decimals:       batch.Asset.Decimals,
		RecipientCount: len(batch.Recipients),
		TotalAmount:    batch.TotalAmount,
		Recipients:     batch.Recipients,
		CompletedAt:    time.Now(),
	}

	if w.repo != nil {
		if err := w.repo.Create(ctx, completion); err != nil {
			w.logger.Error("failed to persist completion record", zap.String("tx_hash", hash), zap.Error(err))
		}
	}

	w.completion = completion
	w.snapshot = nil
	w.step = domain.StepComplete
	w.metrics.BatchCompleted(batch.Asset.Symbol, len(batch.Recipients))

	w.logger.Info("batch transfer completed",
		zap.String("tx_hash", hash),
		zap.String("asset", batch.Asset.Symbol),
		zap.Int("recipients", len(batch.Recipients)),
		zap.String("total", batch.TotalAmount.String()))
	w.notify(domain.SeverityInfo, "Batch transfer completed successfully!")
}

// Reconcile re-queries every in-flight record by hash.
// Settled records are queued as confirmation events. Pending ones get a watcher
// unless one is already running.
func (w *Workflow) Reconcile(ctx context.Context) error {
	select {
	case <-w.dispatcher.Done():
		return ErrClosed
	default:
	}

	w.mu.Lock()
	var open []*domain.TransactionRecord
	for _, rec := range []*domain.TransactionRecord{w.approval, w.transfer} {
		if rec.InFlight() && rec.Hash != nil {
			open = append(open, rec.Clone())
		}
	}
	w.mu.Unlock()

	for _, rec := range open {
		hash := rec.HashValue()
		status, err := w.ledger.TransactionStatus(ctx, hash)
		if err != nil {
			return fmt.Errorf("failed to query transaction %s: %w", hash, err)
		}

		switch status {
		case domain.TxStatusConfirmed:
			err = w.post(ctx, domain.ConfirmationEvent{Record: rec, Receipt: domain.Receipt{Hash: hash, Success: true}})
		case domain.TxStatusFailed:
			err = w.post(ctx, domain.ConfirmationEvent{
				Record:  rec,
				Receipt: domain.Receipt{Hash: hash},
				Err:     fmt.Errorf("%w: %s", domain.ErrTransactionReverted, hash),
			})
		default:
			if w.dispatcher.Watch(ctx, rec, domain.PendingTx{Hash: hash}) {
				w.logger.Info("confirmation watcher re-armed", zap.String("tx_hash", hash))
			}
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// post queues ev for the event loop
func (w *Workflow) post(ctx context.Context, ev domain.ConfirmationEvent) error {
	select {
	case w.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.dispatcher.Done():
		return ErrClosed
	}
}

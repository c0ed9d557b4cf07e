package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// Dispatcher issues ledger writes and watches them until they settle.
// Settlement outcomes are posted to Events; the owner of the channel applies them.
// Watchers live until their write settles or Close is called.
type Dispatcher struct {
	Writer  domain.LedgerWriter
	Records domain.TransactionRecordRepository // optional
	Events  chan<- domain.ConfirmationEvent
	Logger  *zap.Logger

	life     context.Context
	shutdown context.CancelFunc

	mu       sync.Mutex
	watching map[string]struct{}
}

// NewDispatcher creates a new Dispatcher instance
func NewDispatcher(writer domain.LedgerWriter, records domain.TransactionRecordRepository, events chan<- domain.ConfirmationEvent, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	life, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		Writer:   writer,
		Records:  records,
		Events:   events,
		Logger:   logger,
		life:     life,
		shutdown: cancel,
		watching: make(map[string]struct{}),
	}
}

// Close stops every watcher. Pending confirmations are dropped; the records stay
// in flight until reconciled.
func (d *Dispatcher) Close() {
	d.shutdown()
}

// Done is closed once Close has been called
func (d *Dispatcher) Done() <-chan struct{} {
	return d.life.Done()
}

// Dispatch records and broadcasts one write.
// Logic:
//  1. Idle -> Submitted before the writer is called
//  2. Writer failure (including a declined signature) -> Failed, returned with the record
//  3. Accepted -> AwaitingConfirmation with the hash, then a watcher waits for settlement
//
// The returned record is owned by the caller. The watcher only posts a copy.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *domain.TransactionRecord, req domain.WriteRequest) (*domain.TransactionRecord, error) {
	if err := rec.Advance(domain.TxStatusSubmitted); err != nil {
		return nil, err
	}
	d.save(ctx, rec)

	pending, err := d.Writer.Submit(ctx, req)
	if err != nil {
		if markErr := rec.MarkFailed(err); markErr != nil {
			return nil, markErr
		}
		d.save(ctx, rec)
		d.Logger.Warn("ledger write not broadcast",
			zap.String("kind", string(rec.Kind)),
			zap.String("function", req.Function),
			zap.Error(err))
		return rec, fmt.Errorf("failed to submit %s: %w", req.Function, err)
	}

	if err := rec.MarkAccepted(pending.Hash); err != nil {
		return nil, err
	}
	d.save(ctx, rec)

	d.Logger.Info("ledger write accepted",
		zap.String("kind", string(rec.Kind)),
		zap.String("function", req.Function),
		zap.String("tx_hash", pending.Hash))

	d.Watch(ctx, rec, pending)

	return rec, nil
}

// Watch starts a confirmation wait for rec unless one is already running for its hash.
// A broadcast cannot be recalled, so the wait ignores ctx cancellation and ends
// only when the write settles or the dispatcher is closed.
// Returns false when a watcher already exists or the dispatcher is closed.
func (d *Dispatcher) Watch(ctx context.Context, rec *domain.TransactionRecord, pending domain.PendingTx) bool {
	if d.life.Err() != nil {
		return false
	}

	d.mu.Lock()
	if _, ok := d.watching[pending.Hash]; ok {
		d.mu.Unlock()
		return false
	}
	d.watching[pending.Hash] = struct{}{}
	d.mu.Unlock()

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(d.life, cancel)

	snapshot := rec.Clone()
	go func() {
		defer stop()
		defer cancel()
		defer func() {
			d.mu.Lock()
			delete(d.watching, pending.Hash)
			d.mu.Unlock()
		}()

		receipt, err := d.Writer.AwaitConfirmation(ctx, pending)
		if ctx.Err() != nil {
			d.Logger.Warn("confirmation wait stopped", zap.String("tx_hash", pending.Hash))
			return
		}
		if err == nil && !receipt.Success {
			err = fmt.Errorf("%w: %s", domain.ErrTransactionReverted, revertReason(receipt))
		}

		select {
		case d.Events <- domain.ConfirmationEvent{Record: snapshot, Receipt: receipt, Err: err}:
		case <-ctx.Done():
			d.Logger.Warn("confirmation dropped", zap.String("tx_hash", pending.Hash), zap.Error(ctx.Err()))
		}
	}()
	return true
}

// Watching reports whether a watcher is running for hash
func (d *Dispatcher) Watching(hash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.watching[hash]
	return ok
}

// Settle applies a confirmation outcome to rec and persists it
func (d *Dispatcher) Settle(ctx context.Context, rec *domain.TransactionRecord, ev domain.ConfirmationEvent) error {
	if ev.Err != nil {
		if err := rec.MarkFailed(ev.Err); err != nil {
			return err
		}
		d.save(ctx, rec)
		d.Logger.Warn("ledger write failed",
			zap.String("kind", string(rec.Kind)),
			zap.String("tx_hash", rec.HashValue()),
			zap.Error(ev.Err))
		return nil
	}

	if err := rec.Advance(domain.TxStatusConfirmed); err != nil {
		return err
	}
	d.save(ctx, rec)
	d.Logger.Info("ledger write confirmed",
		zap.String("kind", string(rec.Kind)),
		zap.String("tx_hash", rec.HashValue()),
		zap.Uint64("block", ev.Receipt.BlockNumber))
	return nil
}

// save persists rec when a repository is configured. Persistence failures are
// logged and never block the ledger flow.
func (d *Dispatcher) save(ctx context.Context, rec *domain.TransactionRecord) {
	if d.Records == nil {
		return
	}
	if err := d.Records.Save(ctx, rec); err != nil {
		d.Logger.Error("failed to persist transaction record",
			zap.String("record_id", rec.ID.String()),
			zap.String("status", string(rec.Status)),
			zap.Error(err))
	}
}

func revertReason(r domain.Receipt) string {
	if r.Reason != "" {
		return r.Reason
	}
	return "status 0 in block " + fmt.Sprint(r.BlockNumber)
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simaogato/batchpay-backend/internal/domain"
	"github.com/simaogato/batchpay-backend/internal/usecase/amount"
	"github.com/simaogato/batchpay-backend/internal/usecase/approval"
	"github.com/simaogato/batchpay-backend/internal/usecase/dispatch"
	"github.com/simaogato/batchpay-backend/internal/usecase/gatekeeper"
	"github.com/simaogato/batchpay-backend/internal/usecase/transfer"
	"github.com/simaogato/batchpay-backend/internal/usecase/validator"
)

// BalanceDisplayDecimals is the number of fractional digits shown for balances
const BalanceDisplayDecimals = 4

// eventBuffer bounds pending confirmations. At most one write is in flight,
// so a small buffer never fills in practice.
const eventBuffer = 8

// ErrClosed is returned once Close has stopped the workflow's confirmation watchers
var ErrClosed = errors.New("workflow closed")

// Deps holds the collaborators of a workflow instance
type Deps struct {
	Network     domain.NetworkConfig
	Ledger      domain.LedgerQuery
	Writer      domain.LedgerWriter
	Wallet      domain.Wallet
	Addresses   validator.AddressValidator         // optional, defaults to a length check
	Sink        domain.NotificationSink            // optional
	Completions domain.CompletionRepository        // optional
	Records     domain.TransactionRecordRepository // optional
	Metrics     Metrics                            // optional
	Logger      *zap.Logger                        // optional
}

// Workflow drives one batch through Setup, Review and Complete.
// All commands are serialized by a mutex. Ledger confirmations arrive on an
// internal queue and are applied by Run or ProcessNext.
type Workflow struct {
	mu sync.Mutex

	id      uuid.UUID
	network domain.NetworkConfig
	ledger  domain.LedgerQuery
	wallet  domain.Wallet
	sink    domain.NotificationSink
	repo    domain.CompletionRepository
	metrics Metrics
	logger  *zap.Logger

	events     chan domain.ConfirmationEvent
	validator  *validator.RecipientValidator
	gatekeeper *gatekeeper.Gatekeeper
	dispatcher *dispatch.Dispatcher
	approvals  *approval.Coordinator
	transfers  *transfer.Coordinator

	step       domain.WorkflowStep
	asset      domain.TokenAsset
	recipients []domain.Recipient
	approval   *domain.TransactionRecord
	transfer   *domain.TransactionRecord
	submitted  *domain.TransferBatch // batch as it was when the transfer was dispatched
	snapshot   *gatekeeper.Snapshot  // last ledger view, display only
	completion *domain.CompletionRecord
}

// New creates a workflow in Setup with the network's default asset selected
func New(deps Deps) (*Workflow, error) {
	if err := deps.Network.Validate(); err != nil {
		return nil, fmt.Errorf("invalid network configuration: %w", err)
	}
	if deps.Ledger == nil || deps.Writer == nil || deps.Wallet == nil {
		return nil, errors.New("ledger query, ledger writer and wallet are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := deps.Sink
	if sink == nil {
		sink = discardSink{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}

	id := uuid.New()
	logger = logger.With(zap.String("workflow_id", id.String()))
	events := make(chan domain.ConfirmationEvent, eventBuffer)

	gk := gatekeeper.NewGatekeeper(deps.Ledger, deps.Network.SettlementContract)
	d := dispatch.NewDispatcher(deps.Writer, deps.Records, events, logger)

	return &Workflow{
		id:         id,
		network:    deps.Network,
		ledger:     deps.Ledger,
		wallet:     deps.Wallet,
		sink:       sink,
		repo:       deps.Completions,
		metrics:    metrics,
		logger:     logger,
		events:     events,
		validator:  validator.NewRecipientValidator(deps.Addresses),
		gatekeeper: gk,
		dispatcher: d,
		approvals:  approval.NewCoordinator(id, deps.Network, gk, d, logger),
		transfers:  transfer.NewCoordinator(id, deps.Network, gk, d, logger),
		step:       domain.StepSetup,
		asset:      deps.Network.DefaultAsset(),
	}, nil
}

// ID returns the workflow identifier
func (w *Workflow) ID() uuid.UUID {
	return w.id
}

// Close stops the confirmation watchers. Writes still in flight keep their
// persisted records for the boot reconciler.
func (w *Workflow) Close() {
	w.dispatcher.Close()
}

// InFlight reports whether an approval or transfer is waiting for the ledger
func (w *Workflow) InFlight() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeInFlight()
}

// State is a read-only view of the workflow
type State struct {
	ID             uuid.UUID
	Step           domain.WorkflowStep
	Asset          domain.TokenAsset
	Recipients     []domain.Recipient
	TotalAmount    *big.Int // nil while any amount is malformed
	Balance        *big.Int // nil until the ledger was read
	BalanceDisplay string
	Paused         bool
	ApprovalState  *domain.ApprovalState // nil for the native asset or before the ledger was read
	Approval       *domain.TransactionRecord
	Transfer       *domain.TransactionRecord
	Completion     *domain.CompletionRecord
}

// State returns a copy of the current workflow state
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	recipients := make([]domain.Recipient, len(w.recipients))
	copy(recipients, w.recipients)

	state := State{
		ID:         w.id,
		Step:       w.step,
		Asset:      w.asset,
		Recipients: recipients,
		Approval:   w.approval.Clone(),
		Transfer:   w.transfer.Clone(),
		Completion: w.completion,
	}

	if batch, err := amount.BuildBatch(w.asset, w.recipients); err == nil {
		state.TotalAmount = batch.TotalAmount
	}

	if w.snapshot != nil {
		state.Balance = new(big.Int).Set(w.snapshot.Balance)
		state.BalanceDisplay = fmt.Sprintf("%s %s",
			amount.Format(w.snapshot.Balance, w.asset.Decimals, BalanceDisplayDecimals), w.asset.Symbol)
		state.Paused = w.snapshot.Paused
		if !w.asset.IsNative() {
			approvalState := w.snapshot.ApprovalState()
			state.ApprovalState = &approvalState
		}
	}

	return state
}

// SelectAsset changes the asset of the batch. Allowed in Setup only.
func (w *Workflow) SelectAsset(symbol string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep(domain.StepSetup); err != nil {
		return w.fail(err)
	}

	asset, err := w.network.Asset(symbol)
	if err != nil {
		return w.fail(err)
	}

	if asset.Symbol != w.asset.Symbol {
		w.asset = asset
		w.snapshot = nil
	}
	return nil
}

// AddRecipient appends a recipient line. Allowed in Setup only.
func (w *Workflow) AddRecipient(address, amountStr string) (domain.Recipient, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep(domain.StepSetup); err != nil {
		return domain.Recipient{}, w.fail(err)
	}

	r := domain.NewRecipient(address, amountStr)
	w.recipients = append(w.recipients, r)
	return r, nil
}

// UpdateRecipient edits one field of a recipient in place. Allowed in Setup only.
func (w *Workflow) UpdateRecipient(id uuid.UUID, field domain.RecipientField, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep(domain.StepSetup); err != nil {
		return w.fail(err)
	}

	i := w.indexOf(id)
	if i < 0 {
		return w.fail(fmt.Errorf("%w: %s", domain.ErrRecipientNotFound, id))
	}

	switch field {
	case domain.RecipientFieldAddress:
		w.recipients[i].Address = strings.TrimSpace(value)
	case domain.RecipientFieldAmount:
		w.recipients[i].Amount = strings.TrimSpace(value)
	default:
		return w.fail(fmt.Errorf("%w: unknown recipient field %q", domain.ErrValidation, field))
	}
	return nil
}

// RemoveRecipient deletes a recipient. Allowed in Setup only.
// The last remaining recipient cannot be removed; edit it instead.
func (w *Workflow) RemoveRecipient(id uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep(domain.StepSetup); err != nil {
		return w.fail(err)
	}

	i := w.indexOf(id)
	if i < 0 {
		return w.fail(fmt.Errorf("%w: %s", domain.ErrRecipientNotFound, id))
	}
	if len(w.recipients) == 1 {
		return w.fail(fmt.Errorf("%w: a batch keeps at least one recipient", domain.ErrValidation))
	}

	w.recipients = append(w.recipients[:i], w.recipients[i+1:]...)
	return nil
}

// ImportRecipients replaces the recipient list with the rows of source.
// A failing row aborts the import and leaves the current list untouched.
func (w *Workflow) ImportRecipients(source domain.RecipientSource) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep(domain.StepSetup); err != nil {
		return 0, w.fail(err)
	}

	var imported []domain.Recipient
	for row, err := range source.Rows() {
		if err != nil {
			return 0, w.fail(fmt.Errorf("%w: import failed: %v", domain.ErrValidation, err))
		}
		imported = append(imported, domain.NewRecipient(row.Address, row.Amount))
	}

	w.recipients = imported
	w.notify(domain.SeverityInfo, fmt.Sprintf("Imported %d recipients.", len(imported)))
	w.logger.Info("recipients imported", zap.Int("count", len(imported)))
	return len(imported), nil
}

// Next validates the recipients and moves Setup -> Review.
// The ledger view is refreshed on a best-effort basis.
func (w *Workflow) Next(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep(domain.StepSetup); err != nil {
		return w.fail(err)
	}

	if err := w.validator.Validate(w.asset, w.recipients); err != nil {
		return w.fail(err)
	}

	w.step = domain.StepReview
	w.logger.Info("batch ready for review",
		zap.String("asset", w.asset.Symbol),
		zap.Int("recipients", len(w.recipients)))

	if _, err := w.refresh(ctx); err != nil {
		w.logger.Warn("ledger view unavailable", zap.Error(err))
	}
	return nil
}

// Back moves Review -> Setup. Recipients, asset and records are kept.
func (w *Workflow) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep(domain.StepReview); err != nil {
		return w.fail(err)
	}

	w.step = domain.StepSetup
	return nil
}

// Refresh re-reads balance, allowance and pause status for the connected sender
func (w *Workflow) Refresh(ctx context.Context) (*gatekeeper.Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap, err := w.refresh(ctx)
	if err != nil {
		return nil, w.fail(err)
	}
	return snap, nil
}

// Approve requests a token spending authorization for the batch.
// An empty amount approves the exact batch total. Allowed in Review only.
func (w *Workflow) Approve(ctx context.Context, amountStr string) (*domain.TransactionRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	batch, sender, err := w.prepareWrite(ctx)
	if err != nil {
		return nil, w.fail(err)
	}

	var approveAmount *big.Int
	if strings.TrimSpace(amountStr) != "" {
		approveAmount, err = amount.ToSmallestUnit(amountStr, w.asset.Decimals)
		if err != nil {
			return nil, w.fail(fmt.Errorf("%w: approval amount: %v", domain.ErrValidation, err))
		}
	}

	rec, err := w.approvals.RequestApproval(ctx, batch, sender, approveAmount)
	if rec != nil {
		w.approval = rec
		w.metrics.WriteDispatched(domain.TransactionKindApproval)
	}
	if err != nil {
		return rec.Clone(), w.fail(err)
	}

	w.notify(domain.SeverityInfo, fmt.Sprintf("Approval for %s %s submitted.",
		amount.FromSmallestUnit(rec.Amount, w.asset.Decimals), w.asset.Symbol))
	return rec.Clone(), nil
}

// Submit dispatches the batch transfer. Allowed in Review only.
func (w *Workflow) Submit(ctx context.Context) (*domain.TransactionRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	batch, sender, err := w.prepareWrite(ctx)
	if err != nil {
		return nil, w.fail(err)
	}

	rec, err := w.transfers.SubmitBatch(ctx, batch, sender)
	if rec != nil {
		w.transfer = rec
		w.submitted = batch.Clone()
		w.metrics.WriteDispatched(domain.TransactionKindTransfer)
	}
	if err != nil {
		return rec.Clone(), w.fail(err)
	}

	w.notify(domain.SeverityInfo, fmt.Sprintf("Batch transfer to %d recipients submitted.", len(batch.Recipients)))
	return rec.Clone(), nil
}

// NewBatch resets to Setup with an empty list and a fresh record pair.
// Refused while a ledger write is in flight.
func (w *Workflow) NewBatch() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writeInFlight() {
		return w.fail(domain.ErrWriteInFlight)
	}

	w.step = domain.StepSetup
	w.asset = w.network.DefaultAsset()
	w.recipients = nil
	w.approval = nil
	w.transfer = nil
	w.submitted = nil
	w.snapshot = nil
	w.completion = nil
	return nil
}

// prepareWrite checks the step and the single-write rule, then builds the batch
// and resolves the sender. Caller holds the lock.
func (w *Workflow) prepareWrite(ctx context.Context) (*domain.TransferBatch, domain.Account, error) {
	if err := w.requireStep(domain.StepReview); err != nil {
		return nil, domain.Account{}, err
	}
	if w.writeInFlight() {
		return nil, domain.Account{}, domain.ErrWriteInFlight
	}

	batch, err := amount.BuildBatch(w.asset, w.recipients)
	if err != nil {
		return nil, domain.Account{}, err
	}

	sender, err := w.account(ctx)
	if err != nil {
		return nil, domain.Account{}, err
	}
	return batch, sender, nil
}

// refresh reads a fresh ledger snapshot for the current batch. Caller holds the lock.
func (w *Workflow) refresh(ctx context.Context) (*gatekeeper.Snapshot, error) {
	sender, err := w.account(ctx)
	if err != nil {
		return nil, err
	}

	batch, err := amount.BuildBatch(w.asset, w.recipients)
	if err != nil {
		batch = &domain.TransferBatch{Asset: w.asset, TotalAmount: new(big.Int)}
	}

	snap, err := w.gatekeeper.Snapshot(ctx, batch, sender.Address)
	if err != nil {
		return nil, err
	}
	w.snapshot = snap
	return snap, nil
}

func (w *Workflow) account(ctx context.Context) (domain.Account, error) {
	acct, err := w.wallet.Account(ctx)
	if err != nil {
		return domain.Account{}, fmt.Errorf("%w: %v", domain.ErrWalletNotConnected, err)
	}
	if !acct.Connected() {
		return domain.Account{}, domain.ErrWalletNotConnected
	}
	return acct, nil
}

func (w *Workflow) requireStep(step domain.WorkflowStep) error {
	if w.step != step {
		return fmt.Errorf("%w: step is %s, expected %s", domain.ErrInvalidStep, w.step, step)
	}
	return nil
}

func (w *Workflow) writeInFlight() bool {
	return w.approval.InFlight() || w.transfer.InFlight()
}

func (w *Workflow) indexOf(id uuid.UUID) int {
	for i, r := range w.recipients {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// fail reports err as one error notification and returns it unchanged
func (w *Workflow) fail(err error) error {
	w.metrics.GuardRejected(domain.KindOf(err))
	w.notify(domain.SeverityError, w.message(err))
	return err
}

func (w *Workflow) notify(severity domain.Severity, message string) {
	w.sink.Notify(domain.Notification{Severity: severity, Message: message, At: time.Now()})
}

// message turns an error into the text shown to the user
func (w *Workflow) message(err error) string {
	switch {
	case errors.Is(err, domain.ErrWalletNotConnected):
		return "Please connect your wallet"
	case errors.Is(err, domain.ErrNetworkMismatch):
		return "Please switch to " + w.network.Name
	case errors.Is(err, domain.ErrContractPaused):
		return "Contract is currently paused"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return fmt.Sprintf("Insufficient %s balance", w.asset.Symbol)
	case errors.Is(err, domain.ErrApprovalRequired):
		return "Please approve token spending first"
	default:
		return err.Error()
	}
}

type discardSink struct{}

func (discardSink) Notify(domain.Notification) {}

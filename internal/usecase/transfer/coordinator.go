package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simaogato/batchpay-backend/internal/domain"
	"github.com/simaogato/batchpay-backend/internal/usecase/amount"
	"github.com/simaogato/batchpay-backend/internal/usecase/dispatch"
	"github.com/simaogato/batchpay-backend/internal/usecase/gatekeeper"
)

// Coordinator submits the batch to the settlement contract
type Coordinator struct {
	*dispatch.Dispatcher

	Gatekeeper *gatekeeper.Gatekeeper
	Network    domain.NetworkConfig
	WorkflowID uuid.UUID
	Logger     *zap.Logger
}

// NewCoordinator creates a new transfer Coordinator instance
func NewCoordinator(workflowID uuid.UUID, network domain.NetworkConfig, gk *gatekeeper.Gatekeeper, d *dispatch.Dispatcher, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		Dispatcher: d,
		Gatekeeper: gk,
		Network:    network,
		WorkflowID: workflowID,
		Logger:     logger,
	}
}

// SubmitBatch issues batchTransfer(asset, recipients, amounts) for the batch.
// Every precondition is evaluated against a fresh ledger snapshot, in order:
//  1. Sender connected
//  2. Sender on the configured network
//  3. Settlement contract not paused
//  4. Balance covers the total
//  5. Token allowance covers the total
//
// The first failing check is returned and no write is issued.
// Native transfers attach the total as value, token transfers attach zero.
func (c *Coordinator) SubmitBatch(ctx context.Context, batch *domain.TransferBatch, sender domain.Account) (*domain.TransactionRecord, error) {
	snap, err := c.Check(ctx, batch, sender)
	if err != nil {
		return nil, err
	}

	value := new(big.Int)
	if batch.Asset.IsNative() {
		value.Set(batch.TotalAmount)
	}

	amounts := make([]*big.Int, len(batch.Amounts))
	for i, a := range batch.Amounts {
		amounts[i] = new(big.Int).Set(a)
	}

	rec := domain.NewTransactionRecord(c.WorkflowID, domain.TransactionKindTransfer, batch.TotalAmount)
	req := domain.WriteRequest{
		Contract: c.Network.SettlementContract,
		Function: domain.FunctionBatchTransfer,
		Args:     []any{batch.Asset.Reference(), batch.Addresses(), amounts},
		Value:    value,
	}

	c.Logger.Info("submitting batch transfer",
		zap.String("workflow_id", c.WorkflowID.String()),
		zap.String("asset", batch.Asset.Symbol),
		zap.Int("recipients", len(batch.Recipients)),
		zap.String("total", batch.TotalAmount.String()),
		zap.String("balance", snap.Balance.String()))

	return c.Dispatch(ctx, rec, req)
}

// Check evaluates every submission precondition without writing anything
func (c *Coordinator) Check(ctx context.Context, batch *domain.TransferBatch, sender domain.Account) (*gatekeeper.Snapshot, error) {
	if batch == nil || len(batch.Recipients) == 0 {
		return nil, errors.New("batch is empty")
	}
	if !sender.Connected() {
		return nil, domain.ErrWalletNotConnected
	}
	if sender.ChainID != c.Network.ChainID {
		return nil, fmt.Errorf("%w: connected to chain %d, expected %s (%d)",
			domain.ErrNetworkMismatch, sender.ChainID, c.Network.Name, c.Network.ChainID)
	}

	snap, err := c.Gatekeeper.Snapshot(ctx, batch, sender.Address)
	if err != nil {
		return nil, err
	}

	asset := batch.Asset
	switch {
	case snap.Paused:
		return nil, domain.ErrContractPaused
	case !snap.Decision.SufficientBalance:
		return nil, fmt.Errorf("%w: %s balance %s is below total %s", domain.ErrInsufficientFunds, asset.Symbol,
			amount.FromSmallestUnit(snap.Balance, asset.Decimals),
			amount.FromSmallestUnit(batch.TotalAmount, asset.Decimals))
	case snap.Decision.NeedsApproval:
		return nil, fmt.Errorf("%w: %s allowance is below total %s", domain.ErrApprovalRequired, asset.Symbol,
			amount.FromSmallestUnit(batch.TotalAmount, asset.Decimals))
	}

	return snap, nil
}

package approval

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simaogato/batchpay-backend/internal/domain"
	"github.com/simaogato/batchpay-backend/internal/usecase/dispatch"
	"github.com/simaogato/batchpay-backend/internal/usecase/gatekeeper"
)

// Coordinator issues the token spending authorization that lets the settlement
// contract move the batch total on the sender's behalf
type Coordinator struct {
	*dispatch.Dispatcher

	Gatekeeper *gatekeeper.Gatekeeper
	Network    domain.NetworkConfig
	WorkflowID uuid.UUID
	Logger     *zap.Logger
}

// NewCoordinator creates a new approval Coordinator instance
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

// RequestApproval issues exactly one approve(settlement contract, amount) write.
// A nil amount approves the exact batch total.
// Logic:
//  1. Sender must be connected to the configured network
//  2. Asset must be a token and the amount positive
//  3. Allowance is read fresh and must still be below the batch total
//  4. The write is dispatched and its confirmation is posted to the workflow queue
//
// Precondition failures return no record and issue no write.
func (c *Coordinator) RequestApproval(ctx context.Context, batch *domain.TransferBatch, sender domain.Account, amount *big.Int) (*domain.TransactionRecord, error) {
	if batch == nil {
		return nil, errors.New("batch is required")
	}
	if !sender.Connected() {
		return nil, domain.ErrWalletNotConnected
	}
	if sender.ChainID != c.Network.ChainID {
		return nil, fmt.Errorf("%w: connected to chain %d, expected %s (%d)",
			domain.ErrNetworkMismatch, sender.ChainID, c.Network.Name, c.Network.ChainID)
	}

	asset := batch.Asset
	if asset.IsNative() {
		return nil, fmt.Errorf("%w: %s is the native asset", domain.ErrApprovalNotNeeded, asset.Symbol)
	}

	if amount == nil {
		amount = batch.TotalAmount
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: approval amount must be greater than 0", domain.ErrValidation)
	}

	allowance, err := c.Gatekeeper.Allowance(ctx, asset, sender.Address)
	if err != nil {
		return nil, err
	}
	if !gatekeeper.CanSubmit(batch, nil, allowance).NeedsApproval {
		return nil, fmt.Errorf("%w: allowance %s already covers %s", domain.ErrApprovalNotNeeded, allowance, batch.TotalAmount)
	}

	rec := domain.NewTransactionRecord(c.WorkflowID, domain.TransactionKindApproval, amount)
	req := domain.WriteRequest{
		Contract: asset.Reference(),
		Function: domain.FunctionApprove,
		Args:     []any{c.Network.SettlementContract, new(big.Int).Set(amount)},
		Value:    new(big.Int),
	}

	c.Logger.Info("requesting token approval",
		zap.String("workflow_id", c.WorkflowID.String()),
		zap.String("asset", asset.Symbol),
		zap.String("owner", sender.Address),
		zap.String("amount", amount.String()))

	return c.Dispatch(ctx, rec, req)
}

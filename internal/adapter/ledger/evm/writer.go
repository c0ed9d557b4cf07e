package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// Submit implements domain.LedgerWriter.
// Logic:
//  1. Pack the call data for the requested function
//  2. Fetch nonce and gas price, estimate gas (a failing estimate means the call would revert)
//  3. Sign with the configured key and broadcast
func (c *Client) Submit(ctx context.Context, req domain.WriteRequest) (domain.PendingTx, error) {
	if c.key == nil {
		return domain.PendingTx{}, domain.ErrWalletNotConnected
	}

	data, err := PackWrite(req)
	if err != nil {
		return domain.PendingTx{}, err
	}

	to := common.HexToAddress(req.Contract)
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return domain.PendingTx{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return domain.PendingTx{}, fmt.Errorf("failed to get gas price: %w", err)
	}
	if c.config.MaxGasPrice != nil && gasPrice.Cmp(c.config.MaxGasPrice) > 0 {
		gasPrice = c.config.MaxGasPrice
	}

	estimate, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return domain.PendingTx{}, fmt.Errorf("%w: gas estimation for %s failed: %v", domain.ErrTransactionReverted, req.Function, err)
	}
	gasLimit := uint64(float64(estimate) * c.config.GasLimitMultiplier)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return domain.PendingTx{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return domain.PendingTx{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	hash := signedTx.Hash().Hex()
	c.logger.Info("transaction sent",
		zap.String("tx_hash", hash),
		zap.String("function", req.Function),
		zap.String("contract", req.Contract),
		zap.String("value", value.String()),
		zap.Uint64("gas_limit", gasLimit))

	return domain.PendingTx{Hash: hash, SubmittedAt: time.Now()}, nil
}

// AwaitConfirmation implements domain.LedgerWriter by polling for the receipt.
// Transient RPC errors are logged and retried until ctx is done.
func (c *Client) AwaitConfirmation(ctx context.Context, tx domain.PendingTx) (domain.Receipt, error) {
	hash := common.HexToHash(tx.Hash)
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			result := domain.Receipt{
				Hash:        tx.Hash,
				Success:     receipt.Status == types.ReceiptStatusSuccessful,
				BlockNumber: receipt.BlockNumber.Uint64(),
			}
			if !result.Success {
				result.Reason = fmt.Sprintf("status %d in block %d", receipt.Status, result.BlockNumber)
			}
			c.logger.Info("transaction settled",
				zap.String("tx_hash", tx.Hash),
				zap.Bool("success", result.Success),
				zap.Uint64("block", result.BlockNumber),
				zap.Duration("elapsed", time.Since(tx.SubmittedAt)))
			return result, nil
		case errors.Is(err, ethereum.NotFound):
		default:
			c.logger.Warn("receipt poll failed", zap.String("tx_hash", tx.Hash), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return domain.Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// NativeBalance implements domain.LedgerQuery
func (c *Client) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	result, err := c.read("balance", func() (any, error) {
		return c.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get native balance: %w", err)
	}
	return result.(*big.Int), nil
}

// TokenBalance implements domain.LedgerQuery
func (c *Client) TokenBalance(ctx context.Context, token, address string) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	balance, err := c.callUint(ctx, common.HexToAddress(token), "balanceOf", data)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("token balance retrieved",
		zap.String("address", address),
		zap.String("token", token),
		zap.String("balance", balance.String()))

	return balance, nil
}

// Allowance implements domain.LedgerQuery
func (c *Client) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance: %w", err)
	}
	return c.callUint(ctx, common.HexToAddress(token), "allowance", data)
}

// IsPaused implements domain.LedgerQuery
func (c *Client) IsPaused(ctx context.Context) (bool, error) {
	data, err := settlementABI.Pack("paused")
	if err != nil {
		return false, fmt.Errorf("failed to pack paused: %w", err)
	}

	result, err := c.call(ctx, c.settlement, "paused", data)
	if err != nil {
		return false, err
	}

	out, err := settlementABI.Unpack("paused", result)
	if err != nil {
		return false, fmt.Errorf("failed to unpack paused: %w", err)
	}
	paused, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected paused result %T", out[0])
	}
	return paused, nil
}

// TransactionStatus implements domain.LedgerQuery
func (c *Client) TransactionStatus(ctx context.Context, hash string) (domain.TxStatus, error) {
	h := common.HexToHash(hash)

	result, err := c.read("receipt", func() (any, error) {
		receipt, err := c.backend.TransactionReceipt(ctx, h)
		if errors.Is(err, ethereum.NotFound) {
			return (*types.Receipt)(nil), nil
		}
		return receipt, err
	})
	if err != nil {
		return "", fmt.Errorf("failed to get receipt: %w", err)
	}

	if receipt := result.(*types.Receipt); receipt != nil {
		if receipt.Status == types.ReceiptStatusSuccessful {
			return domain.TxStatusConfirmed, nil
		}
		return domain.TxStatusFailed, nil
	}

	// No receipt yet: pending if the node still knows the transaction
	_, err = c.read("transaction", func() (any, error) {
		_, _, err := c.backend.TransactionByHash(ctx, h)
		return nil, err
	})
	if errors.Is(err, ethereum.NotFound) {
		return "", fmt.Errorf("transaction %s: %w", hash, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get transaction: %w", err)
	}
	return domain.TxStatusAwaitingConfirmation, nil
}

// callUint performs an eth_call that returns a single uint256
func (c *Client) callUint(ctx context.Context, contract common.Address, method string, data []byte) (*big.Int, error) {
	result, err := c.call(ctx, contract, method, data)
	if err != nil {
		return nil, err
	}

	// Empty result: the address never interacted with the token
	if len(result) == 0 {
		return big.NewInt(0), nil
	}

	out, err := erc20ABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	value, ok := out[0].(*big.Int)
	if !ok || value == nil {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (c *Client) call(ctx context.Context, contract common.Address, method string, data []byte) ([]byte, error) {
	result, err := c.read(method, func() (any, error) {
		return c.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	return result.([]byte), nil
}

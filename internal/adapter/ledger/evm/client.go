package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// Backend is the subset of ethclient.Client the adapter uses
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config holds the EVM adapter settings
type Config struct {
	RPCURL             string
	ChainID            uint64
	SettlementContract string
	PrivateKey         string        // hex, optional 0x prefix
	PollInterval       time.Duration // receipt polling
	GasLimitMultiplier float64       // applied to the estimate
	MaxGasPrice        *big.Int      // optional cap
}

// Client implements LedgerQuery, LedgerWriter and Wallet against an EVM JSON-RPC node
type Client struct {
	backend    Backend
	breaker    *gobreaker.CircuitBreaker
	config     Config
	chainID    *big.Int
	settlement common.Address
	key        *ecdsa.PrivateKey
	from       common.Address
	logger     *zap.Logger
}

// Dial connects to cfg.RPCURL and checks the node serves cfg.ChainID
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger node: %w", err)
	}

	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if chainID.Uint64() != cfg.ChainID {
		rpc.Close()
		return nil, fmt.Errorf("%w: node serves chain %s, configured %d", domain.ErrNetworkMismatch, chainID, cfg.ChainID)
	}

	client, err := NewClient(rpc, cfg, logger)
	if err != nil {
		rpc.Close()
		return nil, err
	}

	logger.Info("ledger client initialized",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.String("settlement", cfg.SettlementContract),
		zap.String("signer", client.from.Hex()))

	return client, nil
}

// NewClient wraps an existing backend
func NewClient(backend Backend, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !common.IsHexAddress(cfg.SettlementContract) {
		return nil, fmt.Errorf("invalid settlement contract address %q", cfg.SettlementContract)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.GasLimitMultiplier < 1 {
		cfg.GasLimitMultiplier = 1.2
	}

	c := &Client{
		backend:    backend,
		config:     cfg,
		chainID:    new(big.Int).SetUint64(cfg.ChainID),
		settlement: common.HexToAddress(cfg.SettlementContract),
		logger:     logger,
	}

	if cfg.PrivateKey != "" {
		key, err := parsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger-rpc",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A missing receipt or transaction is an answer, not a node failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ethereum.NotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("ledger circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return c, nil
}

// Account implements domain.Wallet. The configured key is the sender.
func (c *Client) Account(_ context.Context) (domain.Account, error) {
	if c.key == nil {
		return domain.Account{}, nil
	}
	return domain.Account{Address: c.from.Hex(), ChainID: c.config.ChainID}, nil
}

// read runs fn through the circuit breaker
func (c *Client) read(name string, fn func() (any, error)) (any, error) {
	result, err := c.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("ledger read rejected by circuit breaker", zap.String("call", name))
			return nil, fmt.Errorf("ledger node unavailable (%s): %w", name, err)
		}
		return nil, err
	}
	return result, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// AddressValidator checks EVM hex addresses, including the EIP-55 checksum
// when the address is mixed case
type AddressValidator struct{}

// ValidateAddress implements validator.AddressValidator
func (AddressValidator) ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return errors.New("invalid EVM address format")
	}

	body := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if common.HexToAddress(address).Hex() != address {
			return errors.New("invalid address checksum")
		}
	}
	return nil
}

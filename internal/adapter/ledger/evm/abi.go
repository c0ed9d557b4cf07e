package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// Settlement contract ABI: batchTransfer and paused
const settlementABIJSON = `[
	{
		"inputs": [
			{"name": "token", "type": "address"},
			{"name": "recipients", "type": "address[]"},
			{"name": "amounts", "type": "uint256[]"}
		],
		"name": "batchTransfer",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "paused",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ERC-20 ABI subset used by the gatekeeper and the approval flow
const erc20ABIJSON = `[
	{
		"constant": true,
		"inputs": [{"name": "_owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "balance", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "_owner", "type": "address"},
			{"name": "_spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "_spender", "type": "address"},
			{"name": "_value", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

var (
	settlementABI = mustParseABI(settlementABIJSON)
	erc20ABI      = mustParseABI(erc20ABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// abiFor returns the ABI that declares function
func abiFor(function string) (abi.ABI, error) {
	switch function {
	case domain.FunctionBatchTransfer:
		return settlementABI, nil
	case domain.FunctionApprove:
		return erc20ABI, nil
	default:
		return abi.ABI{}, fmt.Errorf("unsupported contract function %s", function)
	}
}

// PackWrite encodes a write request as call data.
// Domain arguments are converted to ABI types: string addresses to common.Address,
// []string to []common.Address. *big.Int values pass through.
func PackWrite(req domain.WriteRequest) ([]byte, error) {
	parsed, err := abiFor(req.Function)
	if err != nil {
		return nil, err
	}

	args := make([]any, len(req.Args))
	for i, arg := range req.Args {
		converted, err := toABIValue(arg)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", req.Function, i, err)
		}
		args[i] = converted
	}

	data, err := parsed.Pack(req.Function, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", req.Function, err)
	}
	return data, nil
}

func toABIValue(arg any) (any, error) {
	switch v := arg.(type) {
	case string:
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("invalid address %q", v)
		}
		return common.HexToAddress(v), nil
	case []string:
		addresses := make([]common.Address, len(v))
		for i, s := range v {
			if !common.IsHexAddress(s) {
				return nil, fmt.Errorf("invalid address %q at position %d", s, i)
			}
			addresses[i] = common.HexToAddress(s)
		}
		return addresses, nil
	case *big.Int:
		if v == nil || v.Sign() < 0 {
			return nil, fmt.Errorf("amount must be a non-negative integer")
		}
		return v, nil
	case []*big.Int:
		for i, a := range v {
			if a == nil || a.Sign() < 0 {
				return nil, fmt.Errorf("amount at position %d must be a non-negative integer", i)
			}
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported argument type %T", arg)
	}
}

package domain

import (
	"errors"
	"fmt"
	"strings"
)

// NativeAssetReference is the asset reference the settlement contract expects
// when the batch moves the ledger's native currency.
const NativeAssetReference = "0x0000000000000000000000000000000000000000"

// MaxDecimals bounds the precision an asset may declare.
const MaxDecimals = 36

// TokenAsset represents a transferable asset sourced from static configuration.
// A nil LedgerReference marks the ledger's native currency.
type TokenAsset struct {
	Symbol          string
	Name            string
	LedgerReference *string // contract address for tokens, nil for the native asset
	Decimals        int
}

// IsNative reports whether the asset is the ledger's built-in currency
func (a TokenAsset) IsNative() bool {
	return a.LedgerReference == nil
}

// Reference returns the address passed to the settlement contract for this asset
func (a TokenAsset) Reference() string {
	if a.IsNative() {
		return NativeAssetReference
	}
	return *a.LedgerReference
}

// Validate ensures the asset adheres to domain rules
func (a TokenAsset) Validate() error {
	if strings.TrimSpace(a.Symbol) == "" {
		return errors.New("asset symbol cannot be empty")
	}

	if a.Decimals < 0 || a.Decimals > MaxDecimals {
		return fmt.Errorf("asset %s decimals must be between 0 and %d", a.Symbol, MaxDecimals)
	}

	// Token assets MUST carry a contract reference
	if a.LedgerReference != nil && strings.TrimSpace(*a.LedgerReference) == "" {
		return fmt.Errorf("asset %s has an empty ledger reference", a.Symbol)
	}

	return nil
}

// NetworkConfig is the immutable ledger configuration handed to the core.
// It replaces module-level token and contract constants.
type NetworkConfig struct {
	Name               string
	ChainID            uint64
	SettlementContract string
	ExplorerURL        string
	Assets             []TokenAsset
}

// Validate checks the network configuration and its asset registry
func (c NetworkConfig) Validate() error {
	if c.ChainID == 0 {
		return errors.New("network chain ID must be set")
	}
	if strings.TrimSpace(c.SettlementContract) == "" {
		return errors.New("settlement contract address must be set")
	}
	if len(c.Assets) == 0 {
		return errors.New("network must configure at least one asset")
	}

	seen := make(map[string]bool, len(c.Assets))
	for _, asset := range c.Assets {
		if err := asset.Validate(); err != nil {
			return err
		}
		key := strings.ToUpper(asset.Symbol)
		if seen[key] {
			return fmt.Errorf("duplicate asset symbol %s", asset.Symbol)
		}
		seen[key] = true
	}

	return nil
}

// Asset looks up a configured asset by symbol, case-insensitively
func (c NetworkConfig) Asset(symbol string) (TokenAsset, error) {
	for _, asset := range c.Assets {
		if strings.EqualFold(asset.Symbol, symbol) {
			return asset, nil
		}
	}
	return TokenAsset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
}

// DefaultAsset returns the first configured asset, the initial selection of a new batch
func (c NetworkConfig) DefaultAsset() TokenAsset {
	if len(c.Assets) == 0 {
		return TokenAsset{}
	}
	return c.Assets[0]
}

// TransactionURL builds a block explorer link for a transaction hash
func (c NetworkConfig) TransactionURL(hash string) string {
	if c.ExplorerURL == "" || hash == "" {
		return ""
	}
	return strings.TrimRight(c.ExplorerURL, "/") + "/tx/" + hash
}

package postgres

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Smallest-unit amounts are stored as NUMERIC(78, 0), wide enough for any uint256

func numericString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, 0).String()
}

func parseNumeric(column, s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", column, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, fmt.Errorf("failed to parse %s: %s is not an integer", column, s)
	}
	return d.BigInt(), nil
}

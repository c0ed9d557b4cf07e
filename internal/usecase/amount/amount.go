package amount

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/simaogato/batchpay-backend/internal/domain"
)

// ToSmallestUnit converts a decimal string into an exact integer in the asset's smallest unit.
// Logic:
//  1. Accept only digits with at most one decimal point (no sign, no exponent)
//  2. Shift the decimal left by precision places
//  3. Reject the value if anything is left behind the decimal point
//
// Safety: No rounding ever happens. "1.50" at precision 1 is fine, "1.55" is not.
func ToSmallestUnit(amountStr string, precision int) (*big.Int, error) {
	if precision < 0 {
		return nil, fmt.Errorf("%w: negative precision %d", domain.ErrMalformedAmount, precision)
	}

	normalized, err := normalize(amountStr)
	if err != nil {
		return nil, err
	}

	value, err := decimal.NewFromString(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrMalformedAmount, amountStr)
	}

	shifted := value.Shift(int32(precision))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more than %d fractional digits", domain.ErrMalformedAmount, amountStr, precision)
	}

	return shifted.BigInt(), nil
}

// normalize checks the character set and pads a bare leading or trailing point
func normalize(amountStr string) (string, error) {
	s := strings.TrimSpace(amountStr)
	if s == "" {
		return "", fmt.Errorf("%w: empty amount", domain.ErrMalformedAmount)
	}

	digits := 0
	points := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			points++
		default:
			return "", fmt.Errorf("%w: %q", domain.ErrMalformedAmount, amountStr)
		}
	}
	if digits == 0 || points > 1 {
		return "", fmt.Errorf("%w: %q", domain.ErrMalformedAmount, amountStr)
	}

	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	if strings.HasSuffix(s, ".") {
		s += "0"
	}

	return s, nil
}

// Sum adds smallest-unit values exactly.
// Nil entries count as zero.
func Sum(values []*big.Int) *big.Int {
	total := new(big.Int)
	for _, v := range values {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

// Format renders a smallest-unit value for display with displayDecimals fractional digits.
// Extra digits are truncated, never rounded up, so a displayed balance is never overstated.
func Format(value *big.Int, precision, displayDecimals int) string {
	if value == nil {
		value = new(big.Int)
	}
	if displayDecimals < 0 {
		displayDecimals = 0
	}

	d := decimal.NewFromBigInt(value, -int32(precision))
	return d.Truncate(int32(displayDecimals)).StringFixed(int32(displayDecimals))
}

// FromSmallestUnit renders a smallest-unit value as a plain decimal string without trailing zeros.
// Used for exports so that re-importing yields the same smallest-unit value.
func FromSmallestUnit(value *big.Int, precision int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(precision)).String()
}

// BuildBatch converts every recipient amount at the asset precision and aggregates the total.
// Safety check: the total equals the sum of the per-recipient amounts exactly.
func BuildBatch(asset domain.TokenAsset, recipients []domain.Recipient) (*domain.TransferBatch, error) {
	amounts := make([]*big.Int, len(recipients))
	for i, r := range recipients {
		v, err := ToSmallestUnit(r.Amount, asset.Decimals)
		if err != nil {
			return nil, fmt.Errorf("recipient %d: %w", i+1, err)
		}
		amounts[i] = v
	}

	ordered := make([]domain.Recipient, len(recipients))
	copy(ordered, recipients)

	return &domain.TransferBatch{
		Asset:       asset,
		Recipients:  ordered,
		Amounts:     amounts,
		TotalAmount: Sum(amounts),
	}, nil
}

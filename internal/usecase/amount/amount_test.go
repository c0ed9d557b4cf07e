package amount

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "bad test literal %s", s)
	return v
}

func TestToSmallestUnit(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		precision int
		want      string
		wantErr   bool
	}{
		{name: "whole number at 18 decimals", input: "1", precision: 18, want: "1000000000000000000"},
		{name: "fractional native amount", input: "1.5", precision: 18, want: "1500000000000000000"},
		{name: "six decimal token", input: "100.000001", precision: 6, want: "100000001"},
		{name: "smallest unit at 18 decimals", input: "0.000000000000000001", precision: 18, want: "1"},
		{name: "leading point", input: ".25", precision: 2, want: "25"},
		{name: "trailing point", input: "7.", precision: 0, want: "7"},
		{name: "trailing zeros beyond precision are exact", input: "1.500", precision: 1, want: "15"},
		{name: "surrounding whitespace", input: "  2.5 ", precision: 6, want: "2500000"},
		{name: "zero is well formed", input: "0", precision: 6, want: "0"},
		{name: "large total stays exact", input: "123456789012345678.123456789012345678", precision: 18, want: "123456789012345678123456789012345678"},
		{name: "too many fractional digits", input: "1.0000001", precision: 6, wantErr: true},
		{name: "negative amount", input: "-1", precision: 18, wantErr: true},
		{name: "exponent notation", input: "1e18", precision: 18, wantErr: true},
		{name: "two decimal points", input: "1.2.3", precision: 18, wantErr: true},
		{name: "letters", input: "abc", precision: 18, wantErr: true},
		{name: "empty", input: "", precision: 18, wantErr: true},
		{name: "lone point", input: ".", precision: 18, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToSmallestUnit(tt.input, tt.precision)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrMalformedAmount))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestSum_IsExactAcrossPrecisions(t *testing.T) {
	// 0.1 + 0.2 is the classic floating-point trap; at 18 decimals it must be exactly 0.3
	a, err := ToSmallestUnit("0.1", 18)
	require.NoError(t, err)
	b, err := ToSmallestUnit("0.2", 18)
	require.NoError(t, err)
	c, err := ToSmallestUnit("0.3", 18)
	require.NoError(t, err)

	assert.Equal(t, 0, Sum([]*big.Int{a, b}).Cmp(c))

	// Many tiny amounts
	values := make([]*big.Int, 0, 1000)
	for i := 0; i < 1000; i++ {
		v, err := ToSmallestUnit("0.000000000000000001", 18)
		require.NoError(t, err)
		values = append(values, v)
	}
	assert.Equal(t, "1000", Sum(values).String())
	assert.Equal(t, "0", Sum(nil).String())
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		precision int
		display   int
		want      string
	}{
		{name: "native balance to 4 places", value: "2000000000000000000", precision: 18, display: 4, want: "2.0000"},
		{name: "truncates instead of rounding", value: "1999999", precision: 6, display: 2, want: "1.99"},
		{name: "six decimals full", value: "100000001", precision: 6, display: 6, want: "100.000001"},
		{name: "zero precision", value: "42", precision: 0, display: 2, want: "42.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(mustBig(t, tt.value), tt.precision, tt.display))
		})
	}
	assert.Equal(t, "0.00", Format(nil, 18, 2))
}

func TestFromSmallestUnit_RoundTrip(t *testing.T) {
	inputs := []struct {
		amount    string
		precision int
	}{
		{"1.5", 18},
		{"100.000001", 6},
		{"0.000000000000000001", 18},
		{"42", 0},
	}

	for _, in := range inputs {
		v, err := ToSmallestUnit(in.amount, in.precision)
		require.NoError(t, err)
		back, err := ToSmallestUnit(FromSmallestUnit(v, in.precision), in.precision)
		require.NoError(t, err)
		assert.Equal(t, 0, v.Cmp(back), in.amount)
	}
}

func TestBuildBatch(t *testing.T) {
	ref := "0x2F25deB3848C207fc8E0c34035B3Ba7fC157602B"
	usdc := domain.TokenAsset{Symbol: "USDC", LedgerReference: &ref, Decimals: 6}

	recipients := []domain.Recipient{
		domain.NewRecipient("0x1111111111111111111111111111111111111111", "100"),
		domain.NewRecipient("0x2222222222222222222222222222222222222222", "0.000001"),
	}

	batch, err := BuildBatch(usdc, recipients)
	require.NoError(t, err)

	assert.Equal(t, "100000001", batch.TotalAmount.String())
	require.Len(t, batch.Amounts, 2)
	assert.Equal(t, "100000000", batch.Amounts[0].String())
	assert.Equal(t, "1", batch.Amounts[1].String())
	assert.Equal(t, []string{recipients[0].Address, recipients[1].Address}, batch.Addresses())

	// The batch owns its own slice
	recipients[0].Address = "changed"
	assert.NotEqual(t, "changed", batch.Recipients[0].Address)

	_, err = BuildBatch(usdc, []domain.Recipient{domain.NewRecipient("0x1", "1.0000001")})
	assert.True(t, errors.Is(err, domain.ErrMalformedAmount))
}

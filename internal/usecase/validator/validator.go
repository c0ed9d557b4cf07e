package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/simaogato/batchpay-backend/internal/domain"
	"github.com/simaogato/batchpay-backend/internal/usecase/amount"
)

// DefaultMinAddressLength is the structural floor applied when no ledger-specific
// address validator is configured
const DefaultMinAddressLength = 6

// AddressValidator checks the structure of a recipient address
type AddressValidator interface {
	ValidateAddress(address string) error
}

// MinLengthValidator rejects addresses shorter than MinLength characters
type MinLengthValidator struct {
	MinLength int
}

// ValidateAddress implements AddressValidator
func (v MinLengthValidator) ValidateAddress(address string) error {
	if len(strings.TrimSpace(address)) < v.MinLength {
		return errors.New("address looks invalid")
	}
	return nil
}

// RecipientValidator validates a recipient list against an asset
type RecipientValidator struct {
	addresses AddressValidator
}

// NewRecipientValidator creates a validator. A nil AddressValidator falls back to
// MinLengthValidator with DefaultMinAddressLength.
func NewRecipientValidator(addresses AddressValidator) *RecipientValidator {
	if addresses == nil {
		addresses = MinLengthValidator{MinLength: DefaultMinAddressLength}
	}
	return &RecipientValidator{addresses: addresses}
}

// Validate checks every recipient and reports all failing rows at once.
// Rules per row, first failure wins:
//  1. Address and amount are both present
//  2. Amount is a well formed decimal at the asset precision and greater than 0
//  3. Address passes the structural check
//
// Duplicate addresses are legal: each row is an independent payment.
func (v *RecipientValidator) Validate(asset domain.TokenAsset, recipients []domain.Recipient) error {
	if len(recipients) == 0 {
		return &domain.ValidationError{Reason: "add at least one recipient"}
	}

	var rows []domain.RowError
	for i, r := range recipients {
		if reason := v.checkRow(asset, r); reason != "" {
			rows = append(rows, domain.RowError{
				Row:         i,
				RecipientID: r.ID.String(),
				Reason:      reason,
			})
		}
	}

	if len(rows) > 0 {
		return &domain.ValidationError{
			Reason: fmt.Sprintf("%d of %d recipients are invalid", len(rows), len(recipients)),
			Rows:   rows,
		}
	}

	return nil
}

func (v *RecipientValidator) checkRow(asset domain.TokenAsset, r domain.Recipient) string {
	address := strings.TrimSpace(r.Address)
	amountStr := strings.TrimSpace(r.Amount)

	if address == "" || amountStr == "" {
		return "address and amount are required"
	}

	value, err := amount.ToSmallestUnit(amountStr, asset.Decimals)
	if err != nil {
		return fmt.Sprintf("amount %q is not a valid %s amount", amountStr, asset.Symbol)
	}
	if value.Sign() <= 0 {
		return "amount must be greater than 0"
	}

	if err := v.addresses.ValidateAddress(address); err != nil {
		return fmt.Sprintf("address %q: %v", address, err)
	}

	return ""
}

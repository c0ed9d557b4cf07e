package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Validation errors block a step advance only and are fixed by editing input.
var (
	ErrValidation      = errors.New("validation failed")
	ErrMalformedAmount = errors.New("malformed amount")
)

// Submission preconditions. They are reported before any write is issued.
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrApprovalRequired   = errors.New("token approval required")
	ErrNetworkMismatch    = errors.New("wrong ledger network")
	ErrContractPaused     = errors.New("settlement contract is paused")
	ErrWalletNotConnected = errors.New("wallet not connected")
)

// Failures reported by the ledger write path.
var (
	ErrUserRejected        = errors.New("user rejected the signature request")
	ErrTransactionReverted = errors.New("transaction reverted")
)

// Workflow usage errors.
var (
	ErrInvalidStep       = errors.New("operation not allowed in current step")
	ErrWriteInFlight     = errors.New("a ledger transaction is already in flight")
	ErrUnknownAsset      = errors.New("unknown asset")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrApprovalNotNeeded = errors.New("approval not needed")
	ErrNotFound          = errors.New("not found")
)

// ErrorKind classifies a failure stored on a TransactionRecord
type ErrorKind string

const (
	ErrorKindValidation         ErrorKind = "VALIDATION"
	ErrorKindInsufficientFunds  ErrorKind = "INSUFFICIENT_FUNDS"
	ErrorKindApprovalRequired   ErrorKind = "APPROVAL_REQUIRED"
	ErrorKindNetworkMismatch    ErrorKind = "NETWORK_MISMATCH"
	ErrorKindWalletNotConnected ErrorKind = "WALLET_NOT_CONNECTED"
	ErrorKindContractPaused     ErrorKind = "CONTRACT_PAUSED"
	ErrorKindUserRejected       ErrorKind = "USER_REJECTED"
	ErrorKindReverted           ErrorKind = "TRANSACTION_REVERTED"
	ErrorKindLedger             ErrorKind = "LEDGER"
)

// KindOf maps an error to its ErrorKind
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrMalformedAmount):
		return ErrorKindValidation
	case errors.Is(err, ErrInsufficientFunds):
		return ErrorKindInsufficientFunds
	case errors.Is(err, ErrApprovalRequired):
		return ErrorKindApprovalRequired
	case errors.Is(err, ErrWalletNotConnected):
		return ErrorKindWalletNotConnected
	case errors.Is(err, ErrNetworkMismatch):
		return ErrorKindNetworkMismatch
	case errors.Is(err, ErrContractPaused):
		return ErrorKindContractPaused
	case errors.Is(err, ErrUserRejected):
		return ErrorKindUserRejected
	case errors.Is(err, ErrTransactionReverted):
		return ErrorKindReverted
	default:
		return ErrorKindLedger
	}
}

// IsPrecondition reports whether err is a submission-blocking precondition failure
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrApprovalRequired) ||
		errors.Is(err, ErrNetworkMismatch) ||
		errors.Is(err, ErrContractPaused) ||
		errors.Is(err, ErrWalletNotConnected)
}

// RowError describes why a single recipient row failed validation
type RowError struct {
	Row         int // zero-based position in the recipient list
	RecipientID string
	Reason      string
}

// ValidationError carries every failing recipient row.
// It matches ErrValidation with errors.Is.
type ValidationError struct {
	Reason string
	Rows   []RowError
}

func (e *ValidationError) Error() string {
	if len(e.Rows) == 0 {
		return e.Reason
	}

	parts := make([]string, 0, len(e.Rows))
	for _, row := range e.Rows {
		parts = append(parts, fmt.Sprintf("row %d: %s", row.Row+1, row.Reason))
	}
	return e.Reason + ": " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) match a *ValidationError
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

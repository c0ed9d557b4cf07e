package domain

import (
	"context"
	"iter"
	"math/big"
	"time"
)

// Settlement and token functions invoked by the core
const (
	FunctionApprove       = "approve"
	FunctionBatchTransfer = "batchTransfer"
)

// LedgerQuery defines the read-only ledger operations.
// Every call is side-effect free and safe to re-issue.
type LedgerQuery interface {
	// NativeBalance returns the native asset balance in the smallest unit
	NativeBalance(ctx context.Context, address string) (*big.Int, error)

	// TokenBalance returns a token balance in the token's smallest unit
	TokenBalance(ctx context.Context, token, address string) (*big.Int, error)

	// Allowance returns how much spender may move on behalf of owner
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)

	// IsPaused reports whether the settlement contract is administratively paused
	IsPaused(ctx context.Context) (bool, error)

	// TransactionStatus returns AwaitingConfirmation while a transaction is pending,
	// Confirmed or Failed once it settled
	TransactionStatus(ctx context.Context, hash string) (TxStatus, error)
}

// WriteRequest describes one state-changing contract call.
// Args use domain types: addresses as strings, amounts as *big.Int.
type WriteRequest struct {
	Contract string
	Function string
	Args     []any
	Value    *big.Int
}

// PendingTx is the handle of a broadcast transaction
type PendingTx struct {
	Hash        string
	SubmittedAt time.Time
}

// Receipt is the settlement outcome of a transaction
type Receipt struct {
	Hash        string
	Success     bool
	BlockNumber uint64
	Reason      string
}

// LedgerWriter defines the state-changing ledger operations
type LedgerWriter interface {
	// Submit signs and broadcasts a contract call.
	// Returns an error wrapping ErrUserRejected if signing was declined.
	Submit(ctx context.Context, req WriteRequest) (PendingTx, error)

	// AwaitConfirmation blocks until the transaction settles or ctx is done
	AwaitConfirmation(ctx context.Context, tx PendingTx) (Receipt, error)
}

// Wallet exposes the connected sender
type Wallet interface {
	Account(ctx context.Context) (Account, error)
}

// ImportRow is one externally parsed (address, amount) pair
type ImportRow struct {
	Line    int
	Address string
	Amount  string
}

// RecipientSource yields imported rows lazily.
// Rows may be ranged over more than once; each range restarts from the first row.
type RecipientSource interface {
	Rows() iter.Seq2[ImportRow, error]
}

// Severity of a user-facing notification
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Notification is a transient user-facing message
type Notification struct {
	Severity Severity
	Message  string
	At       time.Time
}

// NotificationSink receives notifications, fire-and-forget
type NotificationSink interface {
	Notify(n Notification)
}

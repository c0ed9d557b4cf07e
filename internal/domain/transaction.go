package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// TransactionKind identifies which of the two ledger writes a record tracks
type TransactionKind string

const (
	TransactionKindApproval TransactionKind = "APPROVAL"
	TransactionKindTransfer TransactionKind = "TRANSFER"
)

// TxStatus represents the lifecycle of a ledger write
type TxStatus string

const (
	TxStatusIdle                 TxStatus = "IDLE"
	TxStatusSubmitted            TxStatus = "SUBMITTED"
	TxStatusAwaitingConfirmation TxStatus = "AWAITING_CONFIRMATION"
	TxStatusConfirmed            TxStatus = "CONFIRMED"
	TxStatusFailed               TxStatus = "FAILED"
)

// IsTerminal reports whether no further transition is possible
func (s TxStatus) IsTerminal() bool {
	return s == TxStatusConfirmed || s == TxStatusFailed
}

// allowedTransitions lists the legal moves out of each status.
// Submitted may fail directly when the signer declines or the node refuses the broadcast.
var allowedTransitions = map[TxStatus][]TxStatus{
	TxStatusIdle:                 {TxStatusSubmitted},
	TxStatusSubmitted:            {TxStatusAwaitingConfirmation, TxStatusFailed},
	TxStatusAwaitingConfirmation: {TxStatusConfirmed, TxStatusFailed},
}

// TransactionRecord tracks one ledger write issued by a workflow
type TransactionRecord struct {
	ID         uuid.UUID
	WorkflowID uuid.UUID
	Kind       TransactionKind
	Hash       *string // set once the ledger accepts the transaction
	Status     TxStatus
	Error      *ErrorKind
	Message    string
	Amount     *big.Int // approval amount or batch total, smallest unit
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewTransactionRecord creates an Idle record for a workflow
func NewTransactionRecord(workflowID uuid.UUID, kind TransactionKind, amount *big.Int) *TransactionRecord {
	now := time.Now()
	return &TransactionRecord{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		Kind:       kind,
		Status:     TxStatusIdle,
		Amount:     new(big.Int).Set(amount),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Advance moves the record to the next status.
// Returns an error if the transition is not allowed.
func (r *TransactionRecord) Advance(next TxStatus) error {
	for _, allowed := range allowedTransitions[r.Status] {
		if allowed == next {
			r.Status = next
			r.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("invalid %s transaction transition from %s to %s", r.Kind, r.Status, next)
}

// MarkAccepted records the hash and moves Submitted -> AwaitingConfirmation
func (r *TransactionRecord) MarkAccepted(hash string) error {
	if err := r.Advance(TxStatusAwaitingConfirmation); err != nil {
		return err
	}
	r.Hash = &hash
	return nil
}

// MarkFailed moves the record to Failed and stores the error classification
func (r *TransactionRecord) MarkFailed(err error) error {
	if advanceErr := r.Advance(TxStatusFailed); advanceErr != nil {
		return advanceErr
	}
	kind := KindOf(err)
	r.Error = &kind
	if err != nil {
		r.Message = err.Error()
	}
	return nil
}

// InFlight reports whether the write was issued and has not settled yet
func (r *TransactionRecord) InFlight() bool {
	return r != nil && (r.Status == TxStatusSubmitted || r.Status == TxStatusAwaitingConfirmation)
}

// HashValue returns the hash or an empty string
func (r *TransactionRecord) HashValue() string {
	if r == nil || r.Hash == nil {
		return ""
	}
	return *r.Hash
}

// Clone returns a copy safe to hand outside the workflow lock
func (r *TransactionRecord) Clone() *TransactionRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Hash != nil {
		h := *r.Hash
		c.Hash = &h
	}
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	if r.Amount != nil {
		c.Amount = new(big.Int).Set(r.Amount)
	}
	return &c
}

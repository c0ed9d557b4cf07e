package domain

import (
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Recipient is one user-entered payment line.
// Amount stays a decimal string until the batch is built against an asset precision.
type Recipient struct {
	ID      uuid.UUID
	Address string
	Amount  string
}

// NewRecipient creates a recipient with a fresh ID
func NewRecipient(address, amount string) Recipient {
	return Recipient{
		ID:      uuid.New(),
		Address: strings.TrimSpace(address),
		Amount:  strings.TrimSpace(amount),
	}
}

// RecipientField names an editable recipient field
type RecipientField string

const (
	RecipientFieldAddress RecipientField = "address"
	RecipientFieldAmount  RecipientField = "amount"
)

// TransferBatch is derived from an asset and a validated recipient list.
// Amounts[i] is Recipients[i].Amount in the asset's smallest unit.
type TransferBatch struct {
	Asset       TokenAsset
	Recipients  []Recipient
	Amounts     []*big.Int
	TotalAmount *big.Int
}

// Addresses returns the ordered recipient addresses
func (b *TransferBatch) Addresses() []string {
	addresses := make([]string, len(b.Recipients))
	for i, r := range b.Recipients {
		addresses[i] = r.Address
	}
	return addresses
}

// Clone returns a deep copy, used to snapshot the batch at submission time
func (b *TransferBatch) Clone() *TransferBatch {
	if b == nil {
		return nil
	}

	recipients := make([]Recipient, len(b.Recipients))
	copy(recipients, b.Recipients)

	amounts := make([]*big.Int, len(b.Amounts))
	for i, a := range b.Amounts {
		amounts[i] = new(big.Int).Set(a)
	}

	return &TransferBatch{
		Asset:       b.Asset,
		Recipients:  recipients,
		Amounts:     amounts,
		TotalAmount: new(big.Int).Set(b.TotalAmount),
	}
}

// ApprovalState tracks whether the settlement contract may move the batch total
type ApprovalState struct {
	CurrentAllowance *big.Int
	Required         bool
}

// Account identifies the connected sender
type Account struct {
	Address string
	ChainID uint64
}

// Connected reports whether a sender address is known
func (a Account) Connected() bool {
	return strings.TrimSpace(a.Address) != ""
}

// CompletionRecord is the permanent receipt of a confirmed batch transfer
type CompletionRecord struct {
	ID             uuid.UUID
	WorkflowID     uuid.UUID
	TxHash         string
	ExplorerURL    string
	AssetSymbol    string
	Decimals       int
	RecipientCount int
	TotalAmount    *big.Int
	Recipients     []Recipient
	CompletedAt    time.Time
}

package domain

import (
	"context"
)

// CompletionRepository defines the interface for completion record persistence operations
type CompletionRepository interface {
	// Create stores the receipt of a confirmed batch
	Create(ctx context.Context, rec *CompletionRecord) error

	// GetByTxHash retrieves a completion record by its settlement transaction hash
	GetByTxHash(ctx context.Context, hash string) (*CompletionRecord, error)

	// List retrieves a paginated list of completion records, newest first
	List(ctx context.Context, limit, offset int) ([]*CompletionRecord, error)
}

// TransactionRecordRepository defines the interface for transaction record persistence operations
type TransactionRecordRepository interface {
	// Save inserts or updates a record
	Save(ctx context.Context, rec *TransactionRecord) error

	// ListOpen retrieves records that were broadcast but have not settled
	ListOpen(ctx context.Context) ([]*TransactionRecord, error)
}

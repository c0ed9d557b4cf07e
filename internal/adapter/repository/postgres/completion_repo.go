package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// completionRepository implements domain.CompletionRepository
type completionRepository struct {
	db *DB
}

// NewCompletionRepository creates a new completion repository
func NewCompletionRepository(db *DB) domain.CompletionRepository {
	return &completionRepository{db: db}
}

// recipientRow is the JSONB shape of one recipient line
type recipientRow struct {
	ID      uuid.UUID `json:"id"`
	Address string    `json:"address"`
	Amount  string    `json:"amount"`
}

const completionColumns = `
	id, workflow_id, tx_hash, explorer_url, asset_symbol, decimals,
	recipient_count, total_amount, recipients, completed_at
`

// Create stores a completion record
func (r *completionRepository) Create(ctx context.Context, rec *domain.CompletionRecord) error {
	rows := make([]recipientRow, len(rec.Recipients))
	for i, recipient := range rec.Recipients {
		rows[i] = recipientRow{ID: recipient.ID, Address: recipient.Address, Amount: recipient.Amount}
	}
	recipients, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode recipients: %w", err)
	}

	query := `
		INSERT INTO batch_completions (` + completionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID,
		rec.WorkflowID,
		rec.TxHash,
		rec.ExplorerURL,
		rec.AssetSymbol,
		rec.Decimals,
		rec.RecipientCount,
		numericString(rec.TotalAmount),
		recipients,
		rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create completion record: %w", err)
	}

	return nil
}

// GetByTxHash retrieves a completion record by its settlement transaction hash
func (r *completionRepository) GetByTxHash(ctx context.Context, hash string) (*domain.CompletionRecord, error) {
	query := `SELECT ` + completionColumns + ` FROM batch_completions WHERE tx_hash = $1`

	rec, err := scanCompletion(r.db.QueryRowContext(ctx, query, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("completion record for %s: %w", hash, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get completion record: %w", err)
	}
	return rec, nil
}

// List retrieves completion records, newest first
func (r *completionRepository) List(ctx context.Context, limit, offset int) ([]*domain.CompletionRecord, error) {
	query := `
		SELECT ` + completionColumns + `
		FROM batch_completions
		ORDER BY completed_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list completion records: %w", err)
	}
	defer rows.Close()

	var records []*domain.CompletionRecord
	for rows.Next() {
		rec, err := scanCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan completion record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating completion records: %w", err)
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompletion(row rowScanner) (*domain.CompletionRecord, error) {
	var rec domain.CompletionRecord
	var totalStr string
	var recipients []byte

	err := row.Scan(
		&rec.ID,
		&rec.WorkflowID,
		&rec.TxHash,
		&rec.ExplorerURL,
		&rec.AssetSymbol,
		&rec.Decimals,
		&rec.RecipientCount,
		&totalStr,
		&recipients,
		&rec.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.TotalAmount, err = parseNumeric("total_amount", totalStr)
	if err != nil {
		return nil, err
	}

	var lines []recipientRow
	if err := json.Unmarshal(recipients, &lines); err != nil {
		return nil, fmt.Errorf("failed to decode recipients: %w", err)
	}
	rec.Recipients = make([]domain.Recipient, len(lines))
	for i, line := range lines {
		rec.Recipients[i] = domain.Recipient{ID: line.ID, Address: line.Address, Amount: line.Amount}
	}

	return &rec, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// transactionRecordRepository implements domain.TransactionRecordRepository
type transactionRecordRepository struct {
	db *DB
}

// NewTransactionRecordRepository creates a new transaction record repository
func NewTransactionRecordRepository(db *DB) domain.TransactionRecordRepository {
	return &transactionRecordRepository{db: db}
}

// Save inserts the record or updates its mutable columns
func (r *transactionRecordRepository) Save(ctx context.Context, rec *domain.TransactionRecord) error {
	query := `
		INSERT INTO transaction_records (id, workflow_id, kind, tx_hash, status, error_kind, message, amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			tx_hash = EXCLUDED.tx_hash,
			status = EXCLUDED.status,
			error_kind = EXCLUDED.error_kind,
			message = EXCLUDED.message,
			updated_at = EXCLUDED.updated_at
	`

	var hash, errorKind interface{}
	if rec.Hash != nil {
		hash = *rec.Hash
	}
	if rec.Error != nil {
		errorKind = string(*rec.Error)
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.WorkflowID,
		string(rec.Kind),
		hash,
		string(rec.Status),
		errorKind,
		rec.Message,
		numericString(rec.Amount),
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction record: %w", err)
	}

	return nil
}

// ListOpen retrieves records still Submitted or AwaitingConfirmation, oldest first
func (r *transactionRecordRepository) ListOpen(ctx context.Context) ([]*domain.TransactionRecord, error) {
	query := `
		SELECT id, workflow_id, kind, tx_hash, status, error_kind, message, amount, created_at, updated_at
		FROM transaction_records
		WHERE status IN ($1, $2)
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query,
		string(domain.TxStatusSubmitted),
		string(domain.TxStatusAwaitingConfirmation),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list open transaction records: %w", err)
	}
	defer rows.Close()

	var records []*domain.TransactionRecord
	for rows.Next() {
		var rec domain.TransactionRecord
		var hash, errorKind sql.NullString
		var amountStr string

		if err := rows.Scan(
			&rec.ID,
			&rec.WorkflowID,
			&rec.Kind,
			&hash,
			&rec.Status,
			&errorKind,
			&rec.Message,
			&amountStr,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction record: %w", err)
		}

		if hash.Valid {
			h := hash.String
			rec.Hash = &h
		}
		if errorKind.Valid {
			kind := domain.ErrorKind(errorKind.String)
			rec.Error = &kind
		}

		amount, err := parseNumeric("amount", amountStr)
		if err != nil {
			return nil, err
		}
		rec.Amount = amount

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction records: %w", err)
	}

	return records, nil
}

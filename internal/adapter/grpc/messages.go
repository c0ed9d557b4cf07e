package grpc

import "time"

// BatchRequest addresses an existing batch session
type BatchRequest struct {
	BatchID string `json:"batch_id"`
}

// StartBatchRequest opens a new batch session
type StartBatchRequest struct{}

// SelectAssetRequest is the SelectAsset request message
type SelectAssetRequest struct {
	BatchID string `json:"batch_id"`
	Symbol  string `json:"symbol"`
}

// AddRecipientRequest is the AddRecipient request message
type AddRecipientRequest struct {
	BatchID string `json:"batch_id"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// UpdateRecipientRequest is the UpdateRecipient request message.
// Field is "address" or "amount".
type UpdateRecipientRequest struct {
	BatchID     string `json:"batch_id"`
	RecipientID string `json:"recipient_id"`
	Field       string `json:"field"`
	Value       string `json:"value"`
}

// RemoveRecipientRequest is the RemoveRecipient request message
type RemoveRecipientRequest struct {
	BatchID     string `json:"batch_id"`
	RecipientID string `json:"recipient_id"`
}

// ImportRecipientsRequest carries CSV text with Address,Amount rows
type ImportRecipientsRequest struct {
	BatchID string `json:"batch_id"`
	CSV     string `json:"csv"`
}

// ImportRecipientsResponse is the ImportRecipients response message
type ImportRecipientsResponse struct {
	Imported int        `json:"imported"`
	Batch    *BatchView `json:"batch"`
}

// ApproveRequest is the Approve request message. An empty amount approves the batch total.
type ApproveRequest struct {
	BatchID string `json:"batch_id"`
	Amount  string `json:"amount,omitempty"`
}

// BatchResponse returns the batch state after a command
type BatchResponse struct {
	Batch *BatchView `json:"batch"`
}

// ExportRecipientsResponse is the ExportRecipients response message
type ExportRecipientsResponse struct {
	CSV string `json:"csv"`
}

// ListCompletionsRequest is the ListCompletions request message
type ListCompletionsRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ListCompletionsResponse is the ListCompletions response message
type ListCompletionsResponse struct {
	Completions []*CompletionView `json:"completions"`
}

// BatchView is the client-facing state of a batch session
type BatchView struct {
	ID            string             `json:"id"`
	Step          string             `json:"step"`
	Asset         AssetView          `json:"asset"`
	Recipients    []RecipientView    `json:"recipients"`
	TotalAmount   string             `json:"total_amount,omitempty"`
	Balance       string             `json:"balance,omitempty"`
	Paused        bool               `json:"paused"`
	Approval      *ApprovalView      `json:"approval,omitempty"`
	ApprovalTx    *TransactionView   `json:"approval_tx,omitempty"`
	TransferTx    *TransactionView   `json:"transfer_tx,omitempty"`
	Completion    *CompletionView    `json:"completion,omitempty"`
	Notifications []NotificationView `json:"notifications,omitempty"`
}

// AssetView is the AssetView message
type AssetView struct {
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Decimals  int    `json:"decimals"`
	Native    bool   `json:"native"`
	Reference string `json:"reference"`
}

// RecipientView is the RecipientView message
type RecipientView struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// ApprovalView reports the current allowance against the batch total
type ApprovalView struct {
	CurrentAllowance string `json:"current_allowance"`
	Required         bool   `json:"required"`
}

// TransactionView is the TransactionView message
type TransactionView struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Hash        string `json:"hash,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`
	Error       string `json:"error,omitempty"`
	Message     string `json:"message,omitempty"`
}

// CompletionView is the CompletionView message
type CompletionView struct {
	ID             string          `json:"id"`
	BatchID        string          `json:"batch_id"`
	TxHash         string          `json:"tx_hash"`
	ExplorerURL    string          `json:"explorer_url"`
	AssetSymbol    string          `json:"asset_symbol"`
	RecipientCount int             `json:"recipient_count"`
	TotalAmount    string          `json:"total_amount"`
	Recipients     []RecipientView `json:"recipients"`
	CompletedAt    time.Time       `json:"completed_at"`
}

// NotificationView is the NotificationView message
type NotificationView struct {
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

package grpc

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/simaogato/batchpay-backend/internal/adapter/csvio"
	"github.com/simaogato/batchpay-backend/internal/adapter/notify"
	"github.com/simaogato/batchpay-backend/internal/domain"
	"github.com/simaogato/batchpay-backend/internal/usecase/amount"
	"github.com/simaogato/batchpay-backend/internal/usecase/workflow"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// session is one batch workflow and the notifications it produced since the last GetBatch
type session struct {
	workflow      *workflow.Workflow
	notifications *notify.Queue
	cancel        context.CancelFunc
	done          chan struct{} // closed when the event loop returns
	lastSeen      time.Time     // guarded by Server.mu
}

// Server implements the BatchPaymentService gRPC server.
// Each StartBatch opens a workflow session whose event loop runs until the session
// is closed, evicted or ctx is done.
type Server struct {
	ctx         context.Context
	deps        workflow.Deps
	completions domain.CompletionRepository
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

// NewServer creates a new gRPC server instance.
// deps is the template every session workflow is built from; its Sink also receives session notifications.
func NewServer(ctx context.Context, deps workflow.Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ctx:         ctx,
		deps:        deps,
		completions: deps.Completions,
		logger:      logger,
		now:         time.Now,
		sessions:    make(map[uuid.UUID]*session),
	}
}

// StartBatch handles the StartBatch RPC
func (s *Server) StartBatch(_ context.Context, _ *StartBatchRequest) (*BatchResponse, error) {
	queue := notify.NewQueue()

	deps := s.deps
	if deps.Sink != nil {
		deps.Sink = notify.Fanout{queue, deps.Sink}
	} else {
		deps.Sink = queue
	}

	wf, err := workflow.New(deps)
	if err != nil {
		s.logger.Error("failed to create workflow", zap.Error(err))
		return nil, status.Errorf(codes.Internal, "failed to start batch: %v", err)
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	sess := &session{
		workflow:      wf,
		notifications: queue,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	s.mu.Lock()
	sess.lastSeen = s.now()
	s.sessions[wf.ID()] = sess
	s.mu.Unlock()

	go s.run(runCtx, sess)

	s.logger.Info("batch started", zap.String("batch_id", wf.ID().String()))

	return &BatchResponse{Batch: s.view(wf.State(), nil)}, nil
}

// SelectAsset handles the SelectAsset RPC
func (s *Server) SelectAsset(_ context.Context, req *SelectAssetRequest) (*BatchResponse, error) {
	sess, err := s.session(req.BatchID)
	if err != nil {
		return nil, err
	}

	if err := sess.workflow.SelectAsset(req.Symbol); err != nil {
		return nil, mapError(err)
	}

	return &BatchResponse{Batch: s.view(sess.workflow.State(), nil)}, nil
}

// AddRecipient handles the AddRecipient RPC
func (s *Server) AddRecipient(_ context.Context, req *AddRecipientRequest) (*BatchResponse, error) {
	sess, err := s.session(req.BatchID)
	if err != nil {
		return nil, err
	}

	if _, err := sess.workflow.AddRecipient(req.Address, req.Amount); err != nil {
		return nil, mapError(err)
	}

	return &BatchResponse{Batch: s.view(sess.workflow.State(), nil)}, nil
}

// UpdateRecipient handles the UpdateRecipient RPC
func (s *Server) UpdateRecipient(_ context.Context, req *UpdateRecipientRequest) (*BatchResponse, error) {
	sess, err := s.session(req.BatchID)
	if err != nil {
		return nil, err
	}

	recipientID, err := uuid.Parse(req.RecipientID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid recipient_id format: %v", err)
	}

	field := domain.RecipientField(req.Field)
	if field != domain.RecipientFieldAddress && field != domain.RecipientFieldAmount {
		return nil, status.Errorf(codes.InvalidArgument, "invalid field %q: must be address or amount", req.Field)
	}

	if err := sess.workflow.UpdateRecipient(recipientID, field, req.Value); err != nil {
		return nil, mapError(err)
	}

	return &BatchResponse{Batch: s.view(sess.workflow.State(), nil)}, nil
}

// RemoveRecipient handles the RemoveRecipient RPC
func (s *Server) RemoveRecipient(_ context.Context, req *RemoveRecipientRequest) (*BatchResponse, error) {
	sess, err := s.session(req.BatchID)
	if err != nil {
		return nil, err
	}

	recipientID, err := uuid.Parse(req.RecipientID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid recipient_id format: %v", err)
	}

	if err := sess.workflow.RemoveRecipient(recipientID); err != nil {
		return nil, mapError(err)
	}

	return &BatchResponse{Batch: s.view(sess.workflow.State(), nil)}, nil
}

// ImportRecipients handles the ImportRecipients RPC. The CSV replaces the recipient list.
func (s *Server) ImportRecipients(_ context.Context, req *ImportRecipientsRequest) (*ImportRecipientsResponse, error) {
	sess, err := s.session(req.BatchID)
	if err != nil {
		return nil, err
	}

	imported, err := sess.workflow.ImportRecipients(csvio.NewSource([]byte(req.CSV)))
	if err != nil {
		return nil, mapError(err)
	}

	return &ImportRecipientsResponse{
		Imported: imported,
		Batch:    s.view(sess.workflow.State(), nil),
	}, nil
}

// Next handles the Next RPC
func (s *Server) Next(ctx context.Context, req *BatchRequest) (*BatchResponse, error) {
	sess, err := s.session(req.BatchID)
	if err != nil {
		return nil, err
	}

	if err := sess.workflow.Next(ctx); err != nil {
		return nil, mapError(err)
	}

	return &BatchResponse{Batch: s.view(sess.workflow.State(), nil)}, nil
}

// Back handles the Back RPC
func (s *Server) Back(_ context.Context, req *BatchRequest) (*BatchResponse, error) {
	sess, err := s.session(req.BatchID)
	if err != nil {
		return nil, err
	}

	if err := sess.workflow.Back(); err != nil {
		return nil, mapError(err)
	}

	return &BatchResponse{Batch: s.view(sess.workflow.State(), nil)}, nil
}

// Approve handles the Approve RPC
func (s *Server) Approve(ctx context.Context, req *ApproveRequest) (*BatchResponse, error) {
	sess, err := s.session(req.BatchID)
	if err != nil {
		return nil, err
	}

	if _, err := sess.workflow.Approve(ctx, req.Amount); err != nil {
		return nil, mapError(err)
	}

	return &BatchResponse{Batch: s.view(sess.workflow.State(), nil)}, nil
}

// Submit handles the Submit RPC
func (s *Server) Submit(ctx context.Context, req *BatchRequest) (*BatchResponse, error) {
	sess, err := s.session(req.BatchID)
	if err != nil {
		return nil, err
	}

	if _, err := sess.workflow.Submit(ctx); err != nil {
		return nil, mapError(err)
	}

	return &BatchResponse{Batch: s.view(sess.workflow.State(), nil)}, nil
}

// NewBatch handles the NewBatch RPC
func (s *Server) NewBatch(_ context.Context, req *BatchRequest) (*BatchResponse, error) {
	sess, err := s.session(req.BatchID)
	if err != nil {
		return nil, err
	}

	if err := sess.workflow.NewBatch(); err != nil {
		return nil, mapError(err)
	}

	return &BatchResponse{Batch: s.view(sess.workflow.State(), nil)}, nil
}

// GetBatch handles the GetBatch RPC. Pending notifications are returned once.
func (s *Server) GetBatch(_ context.Context, req *BatchRequest) (*BatchResponse, error) {
	sess, err := s.session(req.BatchID)
	if err != nil {
		return nil, err
	}

	return &BatchResponse{Batch: s.view(sess.workflow.State(), sess.notifications.Drain())}, nil
}

// Refresh handles the Refresh RPC. Balance, allowance and pause status are re-read
// without changing the step.
func (s *Server) Refresh(ctx context.Context, req *BatchRequest) (*BatchResponse, error) {
	sess, err := s.session(req.BatchID)
	if err != nil {
		return nil, err
	}

	if _, err := sess.workflow.Refresh(ctx); err != nil {
		return nil, mapError(err)
	}

	return &BatchResponse{Batch: s.view(sess.workflow.State(), nil)}, nil
}

// Reconcile handles the Reconcile RPC. In-flight writes are re-queried by hash;
// settled ones are applied by the session's event loop.
func (s *Server) Reconcile(ctx context.Context, req *BatchRequest) (*BatchResponse, error) {
	sess, err := s.session(req.BatchID)
	if err != nil {
		return nil, err
	}

	if err := sess.workflow.Reconcile(ctx); err != nil {
		return nil, mapError(err)
	}

	return &BatchResponse{Batch: s.view(sess.workflow.State(), nil)}, nil
}

// CloseBatch handles the CloseBatch RPC. The session is released and its pending
// notifications are returned. Refused while a ledger write is in flight.
func (s *Server) CloseBatch(_ context.Context, req *BatchRequest) (*BatchResponse, error) {
	sess, err := s.session(req.BatchID)
	if err != nil {
		return nil, err
	}

	if sess.workflow.InFlight() {
		return nil, mapError(domain.ErrWriteInFlight)
	}

	s.mu.Lock()
	delete(s.sessions, sess.workflow.ID())
	s.mu.Unlock()
	s.release(sess)

	s.logger.Info("batch closed", zap.String("batch_id", sess.workflow.ID().String()))

	return &BatchResponse{Batch: s.view(sess.workflow.State(), sess.notifications.Drain())}, nil
}

// ExportRecipients handles the ExportRecipients RPC
func (s *Server) ExportRecipients(_ context.Context, req *BatchRequest) (*ExportRecipientsResponse, error) {
	sess, err := s.session(req.BatchID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := csvio.WriteRecipients(&buf, sess.workflow.State().Recipients); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to export recipients: %v", err)
	}

	return &ExportRecipientsResponse{CSV: buf.String()}, nil
}

// ListCompletions handles the ListCompletions RPC
func (s *Server) ListCompletions(ctx context.Context, req *ListCompletionsRequest) (*ListCompletionsResponse, error) {
	if s.completions == nil {
		return nil, status.Error(codes.FailedPrecondition, "completion history is not configured")
	}
	if req.Offset < 0 {
		return nil, status.Error(codes.InvalidArgument, "offset must not be negative")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	records, err := s.completions.List(ctx, limit, req.Offset)
	if err != nil {
		return nil, mapError(err)
	}

	completions := make([]*CompletionView, len(records))
	for i, rec := range records {
		completions[i] = completionView(rec)
	}

	return &ListCompletionsResponse{Completions: completions}, nil
}

// EvictIdle closes sessions not used for longer than ttl and returns how many were
// closed. Sessions with a ledger write in flight are kept until it settles.
func (s *Server) EvictIdle(ttl time.Duration) int {
	s.mu.Lock()
	cutoff := s.now().Add(-ttl)
	var stale []*session
	for _, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			stale = append(stale, sess)
		}
	}
	s.mu.Unlock()

	evicted := 0
	for _, sess := range stale {
		if sess.workflow.InFlight() {
			continue
		}

		s.mu.Lock()
		current, ok := s.sessions[sess.workflow.ID()]
		if !ok || current != sess || !sess.lastSeen.Before(cutoff) {
			s.mu.Unlock()
			continue
		}
		delete(s.sessions, sess.workflow.ID())
		s.mu.Unlock()

		s.release(sess)
		evicted++
	}
	return evicted
}

// RunEviction calls EvictIdle every half ttl until ctx is done
func (s *Server) RunEviction(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(ttl); n > 0 {
				s.logger.Info("idle batch sessions evicted", zap.Int("count", n))
			}
		}
	}
}

// run drives the session's confirmation events until ctx is done or the session is released
func (s *Server) run(ctx context.Context, sess *session) {
	defer close(sess.done)

	wf := sess.workflow
	if err := wf.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, workflow.ErrClosed) {
		s.logger.Error("workflow event loop stopped",
			zap.String("batch_id", wf.ID().String()),
			zap.Error(err))
	}
}

// release stops the session's event loop and confirmation watchers
func (s *Server) release(sess *session) {
	sess.cancel()
	sess.workflow.Close()
}

func (s *Server) session(batchID string) (*session, error) {
	id, err := uuid.Parse(batchID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid batch_id format: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "batch %s not found", batchID)
	}
	sess.lastSeen = s.now()
	return sess, nil
}

// view converts workflow state to the response message
func (s *Server) view(state workflow.State, notifications []domain.Notification) *BatchView {
	v := &BatchView{
		ID:   state.ID.String(),
		Step: string(state.Step),
		Asset: AssetView{
			Symbol:    state.Asset.Symbol,
			Name:      state.Asset.Name,
			Decimals:  state.Asset.Decimals,
			Native:    state.Asset.IsNative(),
			Reference: state.Asset.Reference(),
		},
		Recipients: recipientViews(state.Recipients),
		Balance:    state.BalanceDisplay,
		Paused:     state.Paused,
		ApprovalTx: s.transactionView(state.Approval),
		TransferTx: s.transactionView(state.Transfer),
	}

	if state.TotalAmount != nil {
		v.TotalAmount = amount.FromSmallestUnit(state.TotalAmount, state.Asset.Decimals)
	}
	if state.ApprovalState != nil {
		v.Approval = &ApprovalView{
			CurrentAllowance: amount.FromSmallestUnit(state.ApprovalState.CurrentAllowance, state.Asset.Decimals),
			Required:         state.ApprovalState.Required,
		}
	}
	if state.Completion != nil {
		v.Completion = completionView(state.Completion)
	}
	for _, n := range notifications {
		v.Notifications = append(v.Notifications, NotificationView{
			Severity: string(n.Severity),
			Message:  n.Message,
			At:       n.At,
		})
	}

	return v
}

func (s *Server) transactionView(rec *domain.TransactionRecord) *TransactionView {
	if rec == nil {
		return nil
	}

	v := &TransactionView{
		ID:          rec.ID.String(),
		Kind:        string(rec.Kind),
		Status:      string(rec.Status),
		Hash:        rec.HashValue(),
		ExplorerURL: s.deps.Network.TransactionURL(rec.HashValue()),
		Message:     rec.Message,
	}
	if rec.Error != nil {
		v.Error = string(*rec.Error)
	}
	return v
}

func recipientViews(recipients []domain.Recipient) []RecipientView {
	views := make([]RecipientView, len(recipients))
	for i, r := range recipients {
		views[i] = RecipientView{ID: r.ID.String(), Address: r.Address, Amount: r.Amount}
	}
	return views
}

func completionView(rec *domain.CompletionRecord) *CompletionView {
	return &CompletionView{
		ID:             rec.ID.String(),
		BatchID:        rec.WorkflowID.String(),
		TxHash:         rec.TxHash,
		ExplorerURL:    rec.ExplorerURL,
		AssetSymbol:    rec.AssetSymbol,
		RecipientCount: rec.RecipientCount,
		TotalAmount:    amount.FromSmallestUnit(rec.TotalAmount, rec.Decimals),
		Recipients:     recipientViews(rec.Recipients),
		CompletedAt:    rec.CompletedAt,
	}
}

// mapError converts domain errors to gRPC status errors
func mapError(err error) error {
	if err == nil {
		return nil
	}

	errorMsg := err.Error()

	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrMalformedAmount),
		errors.Is(err, domain.ErrUnknownAsset):
		return status.Errorf(codes.InvalidArgument, "%s", errorMsg)

	case errors.Is(err, domain.ErrRecipientNotFound),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, workflow.ErrClosed):
		return status.Errorf(codes.NotFound, "%s", errorMsg)

	case domain.IsPrecondition(err),
		errors.Is(err, domain.ErrInvalidStep),
		errors.Is(err, domain.ErrWriteInFlight),
		errors.Is(err, domain.ErrApprovalNotNeeded):
		return status.Errorf(codes.FailedPrecondition, "%s", errorMsg)

	case errors.Is(err, domain.ErrUserRejected),
		errors.Is(err, domain.ErrTransactionReverted):
		return status.Errorf(codes.Aborted, "%s", errorMsg)

	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%s", errorMsg)

	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%s", errorMsg)
	}

	// Default to Internal error for unknown errors
	return status.Errorf(codes.Internal, "%s", errorMsg)
}

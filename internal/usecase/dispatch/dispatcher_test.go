package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// MockLedgerWriter is a mock implementation of LedgerWriter for testing
type MockLedgerWriter struct {
	mock.Mock
}

func (m *MockLedgerWriter) Submit(ctx context.Context, req domain.WriteRequest) (domain.PendingTx, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.PendingTx), args.Error(1)
}

func (m *MockLedgerWriter) AwaitConfirmation(ctx context.Context, tx domain.PendingTx) (domain.Receipt, error) {
	args := m.Called(ctx, tx)
	return args.Get(0).(domain.Receipt), args.Error(1)
}

// MockRecordRepository is a mock implementation of TransactionRecordRepository for testing
type MockRecordRepository struct {
	mock.Mock
}

func (m *MockRecordRepository) Save(ctx context.Context, rec *domain.TransactionRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockRecordRepository) ListOpen(ctx context.Context) ([]*domain.TransactionRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.TransactionRecord), args.Error(1)
}

func approveRequest() domain.WriteRequest {
	return domain.WriteRequest{
		Contract: "0x2F25deB3848C207fc8E0c34035B3Ba7fC157602B",
		Function: domain.FunctionApprove,
		Args:     []any{"0xCf4E003Cbd64a22F96CB2d08ab07F7C8Ccb8b462", big.NewInt(100)},
		Value:    new(big.Int),
	}
}

func newRecord() *domain.TransactionRecord {
	return domain.NewTransactionRecord(uuid.New(), domain.TransactionKindApproval, big.NewInt(100))
}

func waitEvent(t *testing.T, events <-chan domain.ConfirmationEvent) domain.ConfirmationEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for confirmation event")
		return domain.ConfirmationEvent{}
	}
}

func TestDispatch_ConfirmedFlow(t *testing.T) {
	ctx := context.Background()
	writer := new(MockLedgerWriter)
	repo := new(MockRecordRepository)
	events := make(chan domain.ConfirmationEvent, 1)
	d := NewDispatcher(writer, repo, events, nil)

	pending := domain.PendingTx{Hash: "0xabc", SubmittedAt: time.Now()}
	writer.On("Submit", mock.Anything, approveRequest()).Return(pending, nil).Once()
	writer.On("AwaitConfirmation", mock.Anything, pending).Return(domain.Receipt{Hash: "0xabc", Success: true, BlockNumber: 7}, nil).Once()
	repo.On("Save", mock.Anything, mock.AnythingOfType("*domain.TransactionRecord")).Return(nil)

	rec, err := d.Dispatch(ctx, newRecord(), approveRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusAwaitingConfirmation, rec.Status)
	assert.Equal(t, "0xabc", rec.HashValue())

	ev := waitEvent(t, events)
	require.NoError(t, ev.Err)
	assert.Equal(t, rec.ID, ev.Record.ID)
	assert.Equal(t, uint64(7), ev.Receipt.BlockNumber)

	// The posted record is a copy
	assert.NotSame(t, rec, ev.Record)

	require.NoError(t, d.Settle(ctx, rec, ev))
	assert.Equal(t, domain.TxStatusConfirmed, rec.Status)
	assert.Nil(t, rec.Error)

	// Submitted, AwaitingConfirmation, Confirmed
	repo.AssertNumberOfCalls(t, "Save", 3)
	writer.AssertExpectations(t)
}

func TestDispatch_UserRejected(t *testing.T) {
	ctx := context.Background()
	writer := new(MockLedgerWriter)
	events := make(chan domain.ConfirmationEvent, 1)
	d := NewDispatcher(writer, nil, events, nil)

	writer.On("Submit", mock.Anything, mock.Anything).
		Return(domain.PendingTx{}, fmt.Errorf("signer: %w", domain.ErrUserRejected)).Once()

	rec, err := d.Dispatch(ctx, newRecord(), approveRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUserRejected))

	require.NotNil(t, rec)
	assert.Equal(t, domain.TxStatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, domain.ErrorKindUserRejected, *rec.Error)
	assert.Nil(t, rec.Hash)

	writer.AssertNotCalled(t, "AwaitConfirmation", mock.Anything, mock.Anything)
	assert.Empty(t, events)
}

func TestDispatch_RevertedReceiptBecomesFailure(t *testing.T) {
	ctx := context.Background()
	writer := new(MockLedgerWriter)
	events := make(chan domain.ConfirmationEvent, 1)
	d := NewDispatcher(writer, nil, events, nil)

	pending := domain.PendingTx{Hash: "0xdead"}
	writer.On("Submit", mock.Anything, mock.Anything).Return(pending, nil).Once()
	writer.On("AwaitConfirmation", mock.Anything, pending).
		Return(domain.Receipt{Hash: "0xdead", Success: false, Reason: "ERC20: insufficient allowance"}, nil).Once()

	rec, err := d.Dispatch(ctx, newRecord(), approveRequest())
	require.NoError(t, err)

	ev := waitEvent(t, events)
	require.Error(t, ev.Err)
	assert.True(t, errors.Is(ev.Err, domain.ErrTransactionReverted))
	assert.Contains(t, ev.Err.Error(), "insufficient allowance")

	require.NoError(t, d.Settle(ctx, rec, ev))
	assert.Equal(t, domain.TxStatusFailed, rec.Status)
	assert.Equal(t, domain.ErrorKindReverted, *rec.Error)
}

func TestDispatch_PersistenceFailureDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	writer := new(MockLedgerWriter)
	repo := new(MockRecordRepository)
	events := make(chan domain.ConfirmationEvent, 1)
	d := NewDispatcher(writer, repo, events, nil)

	pending := domain.PendingTx{Hash: "0x1"}
	writer.On("Submit", mock.Anything, mock.Anything).Return(pending, nil).Once()
	writer.On("AwaitConfirmation", mock.Anything, pending).Return(domain.Receipt{Success: true}, nil).Once()
	repo.On("Save", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	rec, err := d.Dispatch(ctx, newRecord(), approveRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusAwaitingConfirmation, rec.Status)
	waitEvent(t, events)
}

func TestDispatch_RecordMustBeIdle(t *testing.T) {
	writer := new(MockLedgerWriter)
	d := NewDispatcher(writer, nil, make(chan domain.ConfirmationEvent, 1), nil)

	rec := newRecord()
	require.NoError(t, rec.Advance(domain.TxStatusSubmitted))

	_, err := d.Dispatch(context.Background(), rec, approveRequest())
	assert.Error(t, err)
	writer.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestWatch_OneWatcherPerHash(t *testing.T) {
	writer := new(MockLedgerWriter)
	events := make(chan domain.ConfirmationEvent, 2)
	d := NewDispatcher(writer, nil, events, nil)

	release := make(chan struct{})
	pending := domain.PendingTx{Hash: "0xfeed"}
	writer.On("AwaitConfirmation", mock.Anything, pending).
		Run(func(mock.Arguments) { <-release }).
		Return(domain.Receipt{Success: true}, nil).Once()

	rec := newRecord()
	require.NoError(t, rec.Advance(domain.TxStatusSubmitted))
	require.NoError(t, rec.MarkAccepted(pending.Hash))

	assert.True(t, d.Watch(context.Background(), rec, pending))
	assert.True(t, d.Watching(pending.Hash))
	assert.False(t, d.Watch(context.Background(), rec, pending))

	close(release)
	waitEvent(t, events)

	assert.Eventually(t, func() bool { return !d.Watching(pending.Hash) }, time.Second, 10*time.Millisecond)
	writer.AssertExpectations(t)
}

func TestWatch_OutlivesCallerContext(t *testing.T) {
	writer := new(MockLedgerWriter)
	d := NewDispatcher(writer, nil, make(chan domain.ConfirmationEvent, 1), nil)

	waitCtx := make(chan context.Context, 1)
	pending := domain.PendingTx{Hash: "0xbeef"}
	writer.On("AwaitConfirmation", mock.Anything, pending).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			waitCtx <- ctx
			<-ctx.Done()
		}).
		Return(domain.Receipt{}, context.Canceled).Once()

	rec := newRecord()
	require.NoError(t, rec.Advance(domain.TxStatusSubmitted))
	require.NoError(t, rec.MarkAccepted(pending.Hash))

	callerCtx, cancel := context.WithCancel(context.Background())
	require.True(t, d.Watch(callerCtx, rec, pending))

	var ctx context.Context
	select {
	case ctx = <-waitCtx:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never waited")
	}

	cancel()
	assert.NoError(t, ctx.Err())
	assert.True(t, d.Watching(pending.Hash))

	d.Close()
	assert.Eventually(t, func() bool { return !d.Watching(pending.Hash) }, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	writer.AssertExpectations(t)
}

func TestWatch_CloseReleasesUnreadConfirmation(t *testing.T) {
	writer := new(MockLedgerWriter)
	// Nobody reads the events channel
	d := NewDispatcher(writer, nil, make(chan domain.ConfirmationEvent), nil)

	called := make(chan struct{})
	pending := domain.PendingTx{Hash: "0xcafe"}
	writer.On("AwaitConfirmation", mock.Anything, pending).
		Run(func(mock.Arguments) { close(called) }).
		Return(domain.Receipt{Hash: pending.Hash, Success: true}, nil).Once()

	rec := newRecord()
	require.NoError(t, rec.Advance(domain.TxStatusSubmitted))
	require.NoError(t, rec.MarkAccepted(pending.Hash))

	require.True(t, d.Watch(context.Background(), rec, pending))
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never waited")
	}
	assert.True(t, d.Watching(pending.Hash))

	d.Close()
	assert.Eventually(t, func() bool { return !d.Watching(pending.Hash) }, time.Second, 10*time.Millisecond)

	// A closed dispatcher starts no new watchers
	assert.False(t, d.Watch(context.Background(), rec, pending))
}

package workflow

import (
	"context"
	"errors"
	"iter"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/batchpay-backend/internal/adapter/ledger/simulated"
	"github.com/simaogato/batchpay-backend/internal/adapter/notify"
	"github.com/simaogato/batchpay-backend/internal/domain"
	"github.com/simaogato/batchpay-backend/internal/usecase/amount"
)

const (
	chainID    = uint64(11142220)
	settlement = "0xCf4E003Cbd64a22F96CB2d08ab07F7C8Ccb8b462"
	usdcRef    = "0x2F25deB3848C207fc8E0c34035B3Ba7fC157602B"
	sender     = "0x9999999999999999999999999999999999999999"
	addrA      = "0x1111111111111111111111111111111111111111"
	addrB      = "0x2222222222222222222222222222222222222222"
)

func testNetwork() domain.NetworkConfig {
	ref := usdcRef
	return domain.NetworkConfig{
		Name:               "Celo Sepolia",
		ChainID:            chainID,
		SettlementContract: settlement,
		ExplorerURL:        "https://celo-sepolia.blockscout.com",
		Assets: []domain.TokenAsset{
			{Symbol: "CELO", Name: "Celo", Decimals: 18},
			{Symbol: "USDC", Name: "USD Coin", LedgerReference: &ref, Decimals: 6},
		},
	}
}

type harness struct {
	wf     *Workflow
	ledger *simulated.Ledger
	inbox  *notify.Queue
	repo   *memoryCompletions
}

func newHarness(t *testing.T, opts ...simulated.Option) *harness {
	t.Helper()
	opts = append([]simulated.Option{simulated.WithAccount(sender, chainID)}, opts...)
	ledger := simulated.NewLedger(chainID, settlement, opts...)
	inbox := notify.NewQueue()
	repo := &memoryCompletions{}

	wf, err := New(Deps{
		Network:     testNetwork(),
		Ledger:      ledger,
		Writer:      ledger,
		Wallet:      ledger,
		Sink:        inbox,
		Completions: repo,
	})
	require.NoError(t, err)
	return &harness{wf: wf, ledger: ledger, inbox: inbox, repo: repo}
}

func units(t *testing.T, s string, precision int) *big.Int {
	t.Helper()
	v, err := amount.ToSmallestUnit(s, precision)
	require.NoError(t, err)
	return v
}

func (h *harness) processNext(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.wf.ProcessNext(ctx))
}

func (h *harness) messages() []string {
	var out []string
	for _, n := range h.inbox.Drain() {
		out = append(out, n.Message)
	}
	return out
}

type memoryCompletions struct {
	records []*domain.CompletionRecord
}

func (m *memoryCompletions) Create(_ context.Context, rec *domain.CompletionRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryCompletions) GetByTxHash(_ context.Context, hash string) (*domain.CompletionRecord, error) {
	for _, r := range m.records {
		if r.TxHash == hash {
			return r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memoryCompletions) List(_ context.Context, limit, offset int) ([]*domain.CompletionRecord, error) {
	return m.records, nil
}

type rowsSource []domain.ImportRow

func (s rowsSource) Rows() iter.Seq2[domain.ImportRow, error] {
	return func(yield func(domain.ImportRow, error) bool) {
		for _, row := range s {
			if !yield(row, nil) {
				return
			}
		}
	}
}

type brokenSource struct{}

func (brokenSource) Rows() iter.Seq2[domain.ImportRow, error] {
	return func(yield func(domain.ImportRow, error) bool) {
		if !yield(domain.ImportRow{Line: 2, Address: addrA, Amount: "1"}, nil) {
			return
		}
		yield(domain.ImportRow{Line: 3}, errors.New("line 3: wrong number of fields"))
	}
}

// Scenario A: native asset, one recipient, 1.5 against a balance of 2.0
func TestScenario_NativeTransferCompletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulated.WithAutoConfirm())
	h.ledger.SetNativeBalance(sender, units(t, "2.0", 18))

	_, err := h.wf.AddRecipient(addrA, "1.5")
	require.NoError(t, err)
	require.NoError(t, h.wf.Next(ctx))

	state := h.wf.State()
	assert.Equal(t, domain.StepReview, state.Step)
	assert.Nil(t, state.ApprovalState)
	assert.Equal(t, "2.0000 CELO", state.BalanceDisplay)

	rec, err := h.wf.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusAwaitingConfirmation, rec.Status)

	h.processNext(t)

	state = h.wf.State()
	assert.Equal(t, domain.StepComplete, state.Step)
	assert.Nil(t, state.Approval)
	assert.Equal(t, domain.TxStatusConfirmed, state.Transfer.Status)

	require.NotNil(t, state.Completion)
	assert.Equal(t, rec.HashValue(), state.Completion.TxHash)
	assert.Equal(t, "https://celo-sepolia.blockscout.com/tx/"+rec.HashValue(), state.Completion.ExplorerURL)
	assert.Equal(t, 1, state.Completion.RecipientCount)
	assert.Equal(t, 0, state.Completion.TotalAmount.Cmp(units(t, "1.5", 18)))
	assert.Len(t, h.repo.records, 1)

	submissions := h.ledger.Submissions()
	require.Len(t, submissions, 1)
	assert.Equal(t, domain.FunctionBatchTransfer, submissions[0].Function)

	balance, _ := h.ledger.NativeBalance(ctx, sender)
	assert.Equal(t, 0, balance.Cmp(units(t, "0.5", 18)))

	assert.Contains(t, h.messages(), "Batch transfer completed successfully!")
}

// Scenario B: 6-decimal token summing to 100.000001 with zero allowance
func TestScenario_TokenNeedsApprovalFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulated.WithAutoConfirm())
	h.ledger.SetTokenBalance(usdcRef, sender, units(t, "500", 6))

	require.NoError(t, h.wf.SelectAsset("usdc"))
	_, err := h.wf.AddRecipient(addrA, "100")
	require.NoError(t, err)
	_, err = h.wf.AddRecipient(addrB, "0.000001")
	require.NoError(t, err)
	require.NoError(t, h.wf.Next(ctx))

	state := h.wf.State()
	assert.Equal(t, "100000001", state.TotalAmount.String())
	require.NotNil(t, state.ApprovalState)
	assert.True(t, state.ApprovalState.Required)

	_, err = h.wf.Submit(ctx)
	assert.True(t, errors.Is(err, domain.ErrApprovalRequired))
	assert.Equal(t, []string{"Please approve token spending first"}, h.messages())
	assert.Empty(t, h.ledger.Submissions())

	approval, err := h.wf.Approve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionKindApproval, approval.Kind)
	assert.Equal(t, "100000001", approval.Amount.String())

	h.processNext(t)

	state = h.wf.State()
	assert.Equal(t, domain.StepReview, state.Step)
	assert.Equal(t, domain.TxStatusConfirmed, state.Approval.Status)
	assert.False(t, state.ApprovalState.Required)
	assert.Contains(t, h.messages(), "Token approval confirmed! You can now submit the batch.")

	_, err = h.wf.Submit(ctx)
	require.NoError(t, err)
	h.processNext(t)

	state = h.wf.State()
	assert.Equal(t, domain.StepComplete, state.Step)
	assert.Equal(t, "USDC", state.Completion.AssetSymbol)
	assert.Equal(t, 2, state.Completion.RecipientCount)

	submissions := h.ledger.Submissions()
	require.Len(t, submissions, 2)
	assert.Equal(t, domain.FunctionApprove, submissions[0].Function)
	assert.Equal(t, domain.FunctionBatchTransfer, submissions[1].Function)
	assert.Equal(t, 0, submissions[1].Value.Sign())

	a, _ := h.ledger.TokenBalance(ctx, usdcRef, addrA)
	assert.Equal(t, "100000000", a.String())
}

// Scenario C: balance 0.5 against a total of 1.0
func TestScenario_InsufficientFundsStaysInReview(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulated.WithAutoConfirm())
	h.ledger.SetNativeBalance(sender, units(t, "0.5", 18))

	_, err := h.wf.AddRecipient(addrA, "1.0")
	require.NoError(t, err)
	require.NoError(t, h.wf.Next(ctx))

	rec, err := h.wf.Submit(ctx)
	assert.Nil(t, rec)
	assert.True(t, errors.Is(err, domain.ErrInsufficientFunds))
	assert.Equal(t, domain.StepReview, h.wf.State().Step)
	assert.Equal(t, []string{"Insufficient CELO balance"}, h.messages())
	assert.Empty(t, h.ledger.Submissions())
}

// Scenario D: paused settlement contract blocks even a funded, approved batch
func TestScenario_PausedContractBlocksSubmission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulated.WithAutoConfirm())
	h.ledger.SetTokenBalance(usdcRef, sender, units(t, "10", 6))
	h.ledger.SetAllowance(usdcRef, sender, settlement, units(t, "10", 6))
	h.ledger.SetPaused(true)

	require.NoError(t, h.wf.SelectAsset("USDC"))
	_, err := h.wf.AddRecipient(addrA, "1")
	require.NoError(t, err)
	require.NoError(t, h.wf.Next(ctx))
	assert.True(t, h.wf.State().Paused)

	_, err = h.wf.Submit(ctx)
	assert.True(t, errors.Is(err, domain.ErrContractPaused))
	assert.Equal(t, []string{"Contract is currently paused"}, h.messages())
	assert.Empty(t, h.ledger.Submissions())
	assert.Equal(t, domain.StepReview, h.wf.State().Step)
}

func TestNext_ValidationFailureKeepsSetup(t *testing.T) {
	h := newHarness(t)

	_, err := h.wf.AddRecipient(addrA, "1")
	require.NoError(t, err)
	_, err = h.wf.AddRecipient("", "abc")
	require.NoError(t, err)

	err = h.wf.Next(context.Background())
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Equal(t, domain.StepSetup, h.wf.State().Step)

	msgs := h.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "row 2")

	err = h.wf.Next(context.Background())
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestNext_EmptyListIsInvalid(t *testing.T) {
	h := newHarness(t)
	err := h.wf.Next(context.Background())
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Equal(t, []string{"add at least one recipient"}, h.messages())
}

func TestRecipientEditing(t *testing.T) {
	h := newHarness(t)

	a, err := h.wf.AddRecipient(" "+addrA+" ", " 1 ")
	require.NoError(t, err)
	assert.Equal(t, addrA, a.Address)
	b, err := h.wf.AddRecipient(addrB, "2")
	require.NoError(t, err)

	require.NoError(t, h.wf.UpdateRecipient(a.ID, domain.RecipientFieldAmount, "3.5"))
	require.NoError(t, h.wf.RemoveRecipient(b.ID))

	state := h.wf.State()
	require.Len(t, state.Recipients, 1)
	assert.Equal(t, "3.5", state.Recipients[0].Amount)
	assert.Equal(t, units(t, "3.5", 18).String(), state.TotalAmount.String())

	err = h.wf.RemoveRecipient(b.ID)
	assert.True(t, errors.Is(err, domain.ErrRecipientNotFound))

	err = h.wf.RemoveRecipient(a.ID)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Len(t, h.wf.State().Recipients, 1)

	err = h.wf.UpdateRecipient(a.ID, "memo", "x")
	assert.True(t, errors.Is(err, domain.ErrValidation))

	err = h.wf.SelectAsset("DOGE")
	assert.True(t, errors.Is(err, domain.ErrUnknownAsset))
}

func TestImportRecipients(t *testing.T) {
	h := newHarness(t)
	_, err := h.wf.AddRecipient(addrB, "9")
	require.NoError(t, err)

	n, err := h.wf.ImportRecipients(rowsSource{
		{Line: 2, Address: addrA, Amount: "1"},
		{Line: 3, Address: addrA, Amount: "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"Imported 2 recipients."}, h.messages())

	state := h.wf.State()
	require.Len(t, state.Recipients, 2)
	assert.NotEqual(t, state.Recipients[0].ID, state.Recipients[1].ID)

	_, err = h.wf.ImportRecipients(brokenSource{})
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Len(t, h.wf.State().Recipients, 2)
}

func TestBack_KeepsDataAndStepGuards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledger.SetNativeBalance(sender, units(t, "5", 18))

	err := h.wf.Back()
	assert.True(t, errors.Is(err, domain.ErrInvalidStep))

	_, err = h.wf.AddRecipient(addrA, "1")
	require.NoError(t, err)
	require.NoError(t, h.wf.Next(ctx))

	_, err = h.wf.AddRecipient(addrB, "1")
	assert.True(t, errors.Is(err, domain.ErrInvalidStep))
	assert.True(t, errors.Is(h.wf.SelectAsset("USDC"), domain.ErrInvalidStep))

	require.NoError(t, h.wf.Back())
	state := h.wf.State()
	assert.Equal(t, domain.StepSetup, state.Step)
	assert.Len(t, state.Recipients, 1)

	_, err = h.wf.Submit(ctx)
	assert.True(t, errors.Is(err, domain.ErrInvalidStep))
}

func TestSingleWriteInFlight(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledger.SetNativeBalance(sender, units(t, "5", 18))

	_, err := h.wf.AddRecipient(addrA, "1")
	require.NoError(t, err)
	require.NoError(t, h.wf.Next(ctx))

	_, err = h.wf.Submit(ctx)
	require.NoError(t, err)

	_, err = h.wf.Submit(ctx)
	assert.True(t, errors.Is(err, domain.ErrWriteInFlight))
	assert.True(t, errors.Is(h.wf.NewBatch(), domain.ErrWriteInFlight))
	assert.Len(t, h.ledger.Submissions(), 1)

	assert.Equal(t, 1, h.ledger.ConfirmAll())
	h.processNext(t)
	assert.Equal(t, domain.StepComplete, h.wf.State().Step)
}

func TestBackDuringTransferCompletesFromSubmittedBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledger.SetNativeBalance(sender, units(t, "5", 18))

	a, err := h.wf.AddRecipient(addrA, "1")
	require.NoError(t, err)
	require.NoError(t, h.wf.Next(ctx))
	_, err = h.wf.Submit(ctx)
	require.NoError(t, err)

	require.NoError(t, h.wf.Back())
	require.NoError(t, h.wf.UpdateRecipient(a.ID, domain.RecipientFieldAmount, "2"))

	h.ledger.ConfirmAll()
	h.processNext(t)

	state := h.wf.State()
	assert.Equal(t, domain.StepComplete, state.Step)
	assert.Equal(t, "1", state.Completion.Recipients[0].Amount)
	assert.Equal(t, 0, state.Completion.TotalAmount.Cmp(units(t, "1", 18)))
}

func TestSubmit_SignerDeclinedAllowsRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulated.WithAutoConfirm())
	h.ledger.SetNativeBalance(sender, units(t, "5", 18))

	_, err := h.wf.AddRecipient(addrA, "1")
	require.NoError(t, err)
	require.NoError(t, h.wf.Next(ctx))

	h.ledger.RejectNextSubmit()
	rec, err := h.wf.Submit(ctx)
	assert.True(t, errors.Is(err, domain.ErrUserRejected))
	require.NotNil(t, rec)
	assert.Equal(t, domain.TxStatusFailed, rec.Status)
	assert.Equal(t, domain.ErrorKindUserRejected, *rec.Error)
	assert.Equal(t, domain.StepReview, h.wf.State().Step)
	assert.Len(t, h.messages(), 1)

	_, err = h.wf.Submit(ctx)
	require.NoError(t, err)
	h.processNext(t)
	assert.Equal(t, domain.StepComplete, h.wf.State().Step)
}

func TestSubmit_RevertedTransferStaysInReview(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulated.WithAutoConfirm())
	h.ledger.SetNativeBalance(sender, units(t, "5", 18))

	_, err := h.wf.AddRecipient(addrA, "1")
	require.NoError(t, err)
	require.NoError(t, h.wf.Next(ctx))
	h.messages()

	h.ledger.RevertNext("execution reverted")
	_, err = h.wf.Submit(ctx)
	require.NoError(t, err)
	h.processNext(t)

	state := h.wf.State()
	assert.Equal(t, domain.StepReview, state.Step)
	assert.Equal(t, domain.TxStatusFailed, state.Transfer.Status)
	assert.Equal(t, domain.ErrorKindReverted, *state.Transfer.Error)
	assert.Nil(t, state.Completion)

	msgs := h.messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1], "execution reverted")
}

func TestWalletAndNetworkGuards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledger.SetNativeBalance(sender, units(t, "5", 18))

	_, err := h.wf.AddRecipient(addrA, "1")
	require.NoError(t, err)
	require.NoError(t, h.wf.Next(ctx))
	h.messages()

	h.ledger.SetAccount(sender, 42220)
	_, err = h.wf.Submit(ctx)
	assert.True(t, errors.Is(err, domain.ErrNetworkMismatch))
	assert.Equal(t, []string{"Please switch to Celo Sepolia"}, h.messages())

	h.ledger.SetAccount("", 0)
	_, err = h.wf.Submit(ctx)
	assert.True(t, errors.Is(err, domain.ErrWalletNotConnected))
	assert.Equal(t, []string{"Please connect your wallet"}, h.messages())
}

func TestApprove_NativeAssetRefused(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledger.SetNativeBalance(sender, units(t, "5", 18))

	_, err := h.wf.AddRecipient(addrA, "1")
	require.NoError(t, err)
	require.NoError(t, h.wf.Next(ctx))

	rec, err := h.wf.Approve(ctx, "")
	assert.Nil(t, rec)
	assert.True(t, errors.Is(err, domain.ErrApprovalNotNeeded))
	assert.Empty(t, h.ledger.Submissions())
}

func TestNewBatchResets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulated.WithAutoConfirm())
	h.ledger.SetNativeBalance(sender, units(t, "5", 18))

	_, err := h.wf.AddRecipient(addrA, "1")
	require.NoError(t, err)
	require.NoError(t, h.wf.Next(ctx))
	_, err = h.wf.Submit(ctx)
	require.NoError(t, err)
	h.processNext(t)

	require.NoError(t, h.wf.NewBatch())
	state := h.wf.State()
	assert.Equal(t, domain.StepSetup, state.Step)
	assert.Empty(t, state.Recipients)
	assert.Nil(t, state.Transfer)
	assert.Nil(t, state.Approval)
	assert.Nil(t, state.Completion)
	assert.Equal(t, "CELO", state.Asset.Symbol)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledger.SetNativeBalance(sender, units(t, "5", 18))

	_, err := h.wf.AddRecipient(addrA, "1")
	require.NoError(t, err)
	require.NoError(t, h.wf.Next(ctx))
	rec, err := h.wf.Submit(ctx)
	require.NoError(t, err)

	// Still pending and already watched: nothing to do
	require.NoError(t, h.wf.Reconcile(ctx))
	assert.True(t, h.wf.State().Transfer.InFlight())

	require.True(t, h.ledger.Confirm(rec.HashValue()))
	h.processNext(t)
	assert.Equal(t, domain.StepComplete, h.wf.State().Step)

	// Settled records are not re-queried
	require.NoError(t, h.wf.Reconcile(ctx))
	assert.Len(t, h.repo.records, 1)
}

func TestReconcile_StoppedLoopDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledger.SetNativeBalance(sender, units(t, "5", 18))

	_, err := h.wf.AddRecipient(addrA, "1")
	require.NoError(t, err)
	require.NoError(t, h.wf.Next(ctx))
	rec, err := h.wf.Submit(ctx)
	require.NoError(t, err)
	assert.True(t, h.wf.InFlight())
	require.True(t, h.ledger.Confirm(rec.HashValue()))

	// No event loop is running: fill the queue
	for full := false; !full; {
		select {
		case h.wf.events <- domain.ConfirmationEvent{}:
		default:
			full = true
		}
	}

	timeout, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.wf.Reconcile(timeout), context.DeadlineExceeded)

	h.wf.Close()
	assert.ErrorIs(t, h.wf.Reconcile(ctx), ErrClosed)
	assert.True(t, h.wf.InFlight())
}

func TestRun_StopsWhenClosed(t *testing.T) {
	h := newHarness(t)

	done := make(chan error, 1)
	go func() { done <- h.wf.Run(context.Background()) }()
	h.wf.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("event loop kept running after Close")
	}
}

func TestRun_StopsWithContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.wf.Run(ctx), context.Canceled)
}

func TestNew_RejectsInvalidNetwork(t *testing.T) {
	ledger := simulated.NewLedger(chainID, settlement)
	_, err := New(Deps{Network: domain.NetworkConfig{}, Ledger: ledger, Writer: ledger, Wallet: ledger})
	assert.Error(t, err)

	_, err = New(Deps{Network: testNetwork()})
	assert.Error(t, err)
}

package simulated

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// Ledger is an in-memory ledger with a settlement contract and ERC-20 style tokens.
// It implements LedgerQuery, LedgerWriter and Wallet for development and tests.
type Ledger struct {
	mu sync.Mutex

	chainID    uint64
	settlement string
	account    domain.Account
	logger     *zap.Logger

	native     map[string]*big.Int
	tokens     map[string]map[string]*big.Int // token -> owner -> balance
	allowances map[string]*big.Int            // token|owner|spender -> amount
	paused     bool

	autoConfirm bool
	rejectNext  bool
	revertNext  string

	nonce       uint64
	pending     map[string]*pendingWrite
	settled     map[string]domain.Receipt
	submissions []domain.WriteRequest
}

type pendingWrite struct {
	req  domain.WriteRequest
	from string
	done chan struct{}
}

// Option configures a Ledger
type Option func(*Ledger)

// WithAccount connects a sender on the given chain
func WithAccount(address string, chainID uint64) Option {
	return func(l *Ledger) {
		l.account = domain.Account{Address: address, ChainID: chainID}
	}
}

// WithAutoConfirm settles every write as soon as it is submitted
func WithAutoConfirm() Option {
	return func(l *Ledger) {
		l.autoConfirm = true
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// NewLedger creates an empty ledger for chainID with the given settlement contract
func NewLedger(chainID uint64, settlementContract string, opts ...Option) *Ledger {
	l := &Ledger{
		chainID:    chainID,
		settlement: settlementContract,
		logger:     zap.NewNop(),
		native:     make(map[string]*big.Int),
		tokens:     make(map[string]map[string]*big.Int),
		allowances: make(map[string]*big.Int),
		pending:    make(map[string]*pendingWrite),
		settled:    make(map[string]domain.Receipt),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func key(parts ...string) string {
	for i, p := range parts {
		parts[i] = strings.ToLower(p)
	}
	return strings.Join(parts, "|")
}

func copyOf(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// SetNativeBalance sets the native balance of address
func (l *Ledger) SetNativeBalance(address string, v *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.native[key(address)] = copyOf(v)
}

// SetTokenBalance sets the token balance of address
func (l *Ledger) SetTokenBalance(token, address string, v *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokenBalances(token)[key(address)] = copyOf(v)
}

// SetAllowance sets what spender may move for owner
func (l *Ledger) SetAllowance(token, owner, spender string, v *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[key(token, owner, spender)] = copyOf(v)
}

// SetPaused pauses or resumes the settlement contract
func (l *Ledger) SetPaused(paused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = paused
}

// SetAccount changes the connected sender. An empty address disconnects.
func (l *Ledger) SetAccount(address string, chainID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account = domain.Account{Address: address, ChainID: chainID}
}

// RejectNextSubmit makes the next Submit fail as if the signer declined
func (l *Ledger) RejectNextSubmit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectNext = true
}

// RevertNext makes the next submitted write revert with reason on settlement
func (l *Ledger) RevertNext(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revertNext = reason
}

// Submissions returns every accepted write request in order
func (l *Ledger) Submissions() []domain.WriteRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.WriteRequest, len(l.submissions))
	copy(out, l.submissions)
	return out
}

// Pending returns the hashes of writes awaiting settlement
func (l *Ledger) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	hashes := make([]string, 0, len(l.pending))
	for hash := range l.pending {
		hashes = append(hashes, hash)
	}
	return hashes
}

// Account implements domain.Wallet
func (l *Ledger) Account(_ context.Context) (domain.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account, nil
}

// NativeBalance implements domain.LedgerQuery
func (l *Ledger) NativeBalance(_ context.Context, address string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyOf(l.native[key(address)]), nil
}

// TokenBalance implements domain.LedgerQuery
func (l *Ledger) TokenBalance(_ context.Context, token, address string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyOf(l.tokenBalances(token)[key(address)]), nil
}

// Allowance implements domain.LedgerQuery
func (l *Ledger) Allowance(_ context.Context, token, owner, spender string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyOf(l.allowances[key(token, owner, spender)]), nil
}

// IsPaused implements domain.LedgerQuery
func (l *Ledger) IsPaused(_ context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused, nil
}

// TransactionStatus implements domain.LedgerQuery
func (l *Ledger) TransactionStatus(_ context.Context, hash string) (domain.TxStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.pending[hash]; ok {
		return domain.TxStatusAwaitingConfirmation, nil
	}
	if receipt, ok := l.settled[hash]; ok {
		if receipt.Success {
			return domain.TxStatusConfirmed, nil
		}
		return domain.TxStatusFailed, nil
	}
	return "", fmt.Errorf("transaction %s: %w", hash, domain.ErrNotFound)
}

// Submit implements domain.LedgerWriter. The write is signed by the connected account.
func (l *Ledger) Submit(_ context.Context, req domain.WriteRequest) (domain.PendingTx, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rejectNext {
		l.rejectNext = false
		return domain.PendingTx{}, domain.ErrUserRejected
	}
	if !l.account.Connected() {
		return domain.PendingTx{}, domain.ErrWalletNotConnected
	}
	if l.account.ChainID != l.chainID {
		return domain.PendingTx{}, fmt.Errorf("%w: signer on chain %d", domain.ErrNetworkMismatch, l.account.ChainID)
	}

	l.nonce++
	hash := fmt.Sprintf("0x%064x", l.nonce)
	l.submissions = append(l.submissions, req)
	l.pending[hash] = &pendingWrite{req: req, from: l.account.Address, done: make(chan struct{})}

	l.logger.Debug("simulated write accepted",
		zap.String("tx_hash", hash),
		zap.String("function", req.Function))

	if l.autoConfirm {
		l.settle(hash)
	}

	return domain.PendingTx{Hash: hash, SubmittedAt: time.Now()}, nil
}

// AwaitConfirmation implements domain.LedgerWriter
func (l *Ledger) AwaitConfirmation(ctx context.Context, tx domain.PendingTx) (domain.Receipt, error) {
	l.mu.Lock()
	if receipt, ok := l.settled[tx.Hash]; ok {
		l.mu.Unlock()
		return receipt, nil
	}
	p, ok := l.pending[tx.Hash]
	l.mu.Unlock()
	if !ok {
		return domain.Receipt{}, fmt.Errorf("transaction %s: %w", tx.Hash, domain.ErrNotFound)
	}

	select {
	case <-ctx.Done():
		return domain.Receipt{}, ctx.Err()
	case <-p.done:
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settled[tx.Hash], nil
}

// Confirm mines one pending write. Returns false if hash is not pending.
func (l *Ledger) Confirm(hash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pending[hash]; !ok {
		return false
	}
	l.settle(hash)
	return true
}

// ConfirmAll mines every pending write and returns how many settled
func (l *Ledger) ConfirmAll() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for hash := range l.pending {
		l.settle(hash)
		n++
	}
	return n
}

// settle executes a pending write and records its receipt. Caller holds the lock.
func (l *Ledger) settle(hash string) {
	p := l.pending[hash]
	delete(l.pending, hash)

	receipt := domain.Receipt{Hash: hash, Success: true, BlockNumber: l.nonce}
	if l.revertNext != "" {
		receipt.Success = false
		receipt.Reason = l.revertNext
		l.revertNext = ""
	} else if err := l.execute(p.from, p.req); err != nil {
		receipt.Success = false
		receipt.Reason = err.Error()
	}

	l.settled[hash] = receipt
	close(p.done)

	l.logger.Debug("simulated write settled",
		zap.String("tx_hash", hash),
		zap.Bool("success", receipt.Success),
		zap.String("reason", receipt.Reason))
}

// execute applies the state change of a write. Nothing changes on error.
func (l *Ledger) execute(from string, req domain.WriteRequest) error {
	switch req.Function {
	case domain.FunctionApprove:
		if len(req.Args) != 2 {
			return errors.New("approve: bad arguments")
		}
		spender, ok1 := req.Args[0].(string)
		amount, ok2 := req.Args[1].(*big.Int)
		if !ok1 || !ok2 {
			return errors.New("approve: bad argument types")
		}
		l.allowances[key(req.Contract, from, spender)] = copyOf(amount)
		return nil

	case domain.FunctionBatchTransfer:
		if !strings.EqualFold(req.Contract, l.settlement) {
			return fmt.Errorf("batchTransfer: unknown contract %s", req.Contract)
		}
		if l.paused {
			return errors.New("Pausable: paused")
		}
		if len(req.Args) != 3 {
			return errors.New("batchTransfer: bad arguments")
		}
		token, ok1 := req.Args[0].(string)
		recipients, ok2 := req.Args[1].([]string)
		amounts, ok3 := req.Args[2].([]*big.Int)
		if !ok1 || !ok2 || !ok3 {
			return errors.New("batchTransfer: bad argument types")
		}
		if len(recipients) != len(amounts) {
			return errors.New("Arrays length mismatch")
		}

		total := new(big.Int)
		for _, a := range amounts {
			total.Add(total, a)
		}

		if strings.EqualFold(token, domain.NativeAssetReference) {
			return l.moveNative(from, recipients, amounts, total, req.Value)
		}
		return l.moveToken(token, from, recipients, amounts, total)

	default:
		return fmt.Errorf("unsupported function %s", req.Function)
	}
}

func (l *Ledger) moveNative(from string, recipients []string, amounts []*big.Int, total, value *big.Int) error {
	if value == nil || value.Cmp(total) != 0 {
		return errors.New("Incorrect native amount")
	}
	balance := copyOf(l.native[key(from)])
	if balance.Cmp(total) < 0 {
		return errors.New("insufficient funds for transfer")
	}

	l.native[key(from)] = balance.Sub(balance, total)
	for i, to := range recipients {
		l.native[key(to)] = new(big.Int).Add(copyOf(l.native[key(to)]), amounts[i])
	}
	return nil
}

func (l *Ledger) moveToken(token, from string, recipients []string, amounts []*big.Int, total *big.Int) error {
	allowanceKey := key(token, from, l.settlement)
	allowance := copyOf(l.allowances[allowanceKey])
	if allowance.Cmp(total) < 0 {
		return errors.New("ERC20: insufficient allowance")
	}

	balances := l.tokenBalances(token)
	balance := copyOf(balances[key(from)])
	if balance.Cmp(total) < 0 {
		return errors.New("ERC20: transfer amount exceeds balance")
	}

	l.allowances[allowanceKey] = allowance.Sub(allowance, total)
	balances[key(from)] = balance.Sub(balance, total)
	for i, to := range recipients {
		balances[key(to)] = new(big.Int).Add(copyOf(balances[key(to)]), amounts[i])
	}
	return nil
}

func (l *Ledger) tokenBalances(token string) map[string]*big.Int {
	k := key(token)
	balances, ok := l.tokens[k]
	if !ok {
		balances = make(map[string]*big.Int)
		l.tokens[k] = balances
	}
	return balances
}

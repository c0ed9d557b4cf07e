package gatekeeper

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// Decision is the outcome of the balance/allowance check
type Decision struct {
	SufficientBalance bool
	NeedsApproval     bool
}

// CanSubmit decides whether a batch may be submitted given fresh ledger values.
// The native asset never needs approval.
func CanSubmit(batch *domain.TransferBatch, balance, allowance *big.Int) Decision {
	total := batch.TotalAmount
	if total == nil {
		total = new(big.Int)
	}

	return Decision{
		SufficientBalance: balance != nil && balance.Cmp(total) >= 0,
		NeedsApproval:     !batch.Asset.IsNative() && (allowance == nil || allowance.Cmp(total) < 0),
	}
}

// Snapshot is one consistent read of everything a submission depends on
type Snapshot struct {
	Balance   *big.Int
	Allowance *big.Int // nil for the native asset
	Paused    bool
	Decision  Decision
	FetchedAt time.Time
}

// ApprovalState derives the approval view from the snapshot
func (s *Snapshot) ApprovalState() domain.ApprovalState {
	allowance := new(big.Int)
	if s.Allowance != nil {
		allowance.Set(s.Allowance)
	}
	return domain.ApprovalState{
		CurrentAllowance: allowance,
		Required:         s.Decision.NeedsApproval,
	}
}

// Gatekeeper reads balances, allowances and pause status from the ledger.
// It holds no state between calls: every check re-reads the ledger.
type Gatekeeper struct {
	Ledger  domain.LedgerQuery
	Spender string // settlement contract
}

// NewGatekeeper creates a new Gatekeeper instance
func NewGatekeeper(ledger domain.LedgerQuery, settlementContract string) *Gatekeeper {
	return &Gatekeeper{
		Ledger:  ledger,
		Spender: settlementContract,
	}
}

// Balance returns the owner's balance of the asset
func (g *Gatekeeper) Balance(ctx context.Context, asset domain.TokenAsset, owner string) (*big.Int, error) {
	if asset.IsNative() {
		balance, err := g.Ledger.NativeBalance(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s balance: %w", asset.Symbol, err)
		}
		return balance, nil
	}

	balance, err := g.Ledger.TokenBalance(ctx, asset.Reference(), owner)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s balance: %w", asset.Symbol, err)
	}
	return balance, nil
}

// Allowance returns what the settlement contract may spend for owner.
// The native asset needs no allowance and returns nil.
func (g *Gatekeeper) Allowance(ctx context.Context, asset domain.TokenAsset, owner string) (*big.Int, error) {
	if asset.IsNative() {
		return nil, nil
	}

	allowance, err := g.Ledger.Allowance(ctx, asset.Reference(), owner, g.Spender)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s allowance: %w", asset.Symbol, err)
	}
	return allowance, nil
}

// Snapshot fetches balance, allowance and pause status concurrently and evaluates the batch
func (g *Gatekeeper) Snapshot(ctx context.Context, batch *domain.TransferBatch, owner string) (*Snapshot, error) {
	var (
		balance   *big.Int
		allowance *big.Int
		paused    bool
	)

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		var err error
		balance, err = g.Balance(gctx, batch.Asset, owner)
		return err
	})

	group.Go(func() error {
		var err error
		allowance, err = g.Allowance(gctx, batch.Asset, owner)
		return err
	})

	group.Go(func() error {
		var err error
		paused, err = g.Ledger.IsPaused(gctx)
		if err != nil {
			return fmt.Errorf("failed to read pause status: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return &Snapshot{
		Balance:   balance,
		Allowance: allowance,
		Paused:    paused,
		Decision:  CanSubmit(batch, balance, allowance),
		FetchedAt: time.Now(),
	}, nil
}

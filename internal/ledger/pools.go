package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"peerlend/internal/model"
)

// SetPool registers or updates the caller's pool for a token pair and settles
// the balance delta with the lender through the gateway. The stored
// outstanding-loans figure cannot be overwritten; callers must echo it back.
func (l *Ledger) SetPool(ctx context.Context, caller common.Address, p model.Pool) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.setPoolLocked(ctx, caller, p)
}

func (l *Ledger) setPoolLocked(ctx context.Context, caller common.Address, p model.Pool) (common.Hash, error) {
	if caller != p.Lender {
		return common.Hash{}, ErrUnauthorized
	}
	if p.MinLoanSize == nil || p.MinLoanSize.Sign() <= 0 {
		return common.Hash{}, ErrInvalidPoolTerms
	}
	if p.MaxLoanRatio == nil || p.MaxLoanRatio.Sign() <= 0 {
		return common.Hash{}, ErrInvalidPoolTerms
	}
	if p.AuctionLength <= 0 || p.AuctionLength > MaxAuctionLength {
		return common.Hash{}, ErrInvalidPoolTerms
	}
	if p.InterestRate > MaxInterestRate {
		return common.Hash{}, ErrInvalidPoolTerms
	}
	newBalance := big.NewInt(0)
	if p.PoolBalance != nil {
		if p.PoolBalance.Sign() < 0 {
			return common.Hash{}, ErrInvalidPoolTerms
		}
		newBalance = new(big.Int).Set(p.PoolBalance)
	}

	id := PoolID(p.Lender, p.LoanToken, p.CollateralToken)
	stored, exists := l.pools[id]
	storedBalance := big.NewInt(0)
	storedOutstanding := big.NewInt(0)
	if exists {
		storedBalance = stored.PoolBalance
		storedOutstanding = stored.OutstandingLoans
	}
	wantOutstanding := big.NewInt(0)
	if p.OutstandingLoans != nil {
		wantOutstanding = p.OutstandingLoans
	}
	if wantOutstanding.Cmp(storedOutstanding) != 0 {
		return common.Hash{}, ErrOutstandingMismatch
	}

	// Settle the signed delta before committing terms: pull from the lender
	// when the balance grows, push back when it shrinks.
	switch newBalance.Cmp(storedBalance) {
	case 1:
		delta := new(big.Int).Sub(newBalance, storedBalance)
		if err := l.gateway.TransferFrom(ctx, p.LoanToken, p.Lender, l.custody, delta); err != nil {
			return common.Hash{}, fmt.Errorf("pull pool funds: %w", err)
		}
	case -1:
		delta := new(big.Int).Sub(storedBalance, newBalance)
		if err := l.gateway.Transfer(ctx, p.LoanToken, p.Lender, delta); err != nil {
			return common.Hash{}, fmt.Errorf("push pool funds: %w", err)
		}
	}

	pool := &model.Pool{
		Lender:           p.Lender,
		LoanToken:        p.LoanToken,
		CollateralToken:  p.CollateralToken,
		MinLoanSize:      new(big.Int).Set(p.MinLoanSize),
		PoolBalance:      newBalance,
		MaxLoanRatio:     new(big.Int).Set(p.MaxLoanRatio),
		AuctionLength:    p.AuctionLength,
		InterestRate:     p.InterestRate,
		OutstandingLoans: new(big.Int).Set(storedOutstanding),
	}
	l.pools[id] = pool

	if exists {
		l.emitPool(model.EventPoolUpdated, id, pool)
	} else {
		l.emitPool(model.EventPoolCreated, id, pool)
	}
	l.emitPool(model.EventPoolBalanceUpdated, id, pool)
	l.logger.Debug("pool set",
		zap.String("pool_id", id.Hex()),
		zap.String("balance", pool.PoolBalance.String()),
	)
	return id, nil
}

// AddToPool tops up the caller's pool balance.
func (l *Ledger) AddToPool(ctx context.Context, caller common.Address, id common.Hash, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, err := l.lenderPool(caller, id)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := l.gateway.TransferFrom(ctx, pool.LoanToken, pool.Lender, l.custody, amount); err != nil {
		return fmt.Errorf("pull pool funds: %w", err)
	}
	l.updatePoolBalance(id, pool, new(big.Int).Add(pool.PoolBalance, amount))
	return nil
}

// RemoveFromPool pays part of the pool balance back out to the lender.
func (l *Ledger) RemoveFromPool(ctx context.Context, caller common.Address, id common.Hash, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, err := l.lenderPool(caller, id)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if pool.PoolBalance.Cmp(amount) < 0 {
		return ErrPoolTooSmall
	}
	if err := l.gateway.Transfer(ctx, pool.LoanToken, pool.Lender, amount); err != nil {
		return fmt.Errorf("push pool funds: %w", err)
	}
	l.updatePoolBalance(id, pool, new(big.Int).Sub(pool.PoolBalance, amount))
	return nil
}

// UpdateMaxLoanRatio changes the pool's maximum debt/collateral ratio. No
// funds move and live loans are unaffected.
func (l *Ledger) UpdateMaxLoanRatio(caller common.Address, id common.Hash, maxLoanRatio *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, err := l.lenderPool(caller, id)
	if err != nil {
		return err
	}
	if maxLoanRatio == nil || maxLoanRatio.Sign() <= 0 {
		return ErrInvalidPoolTerms
	}
	pool.MaxLoanRatio = new(big.Int).Set(maxLoanRatio)
	l.emitPool(model.EventPoolMaxRatioUpdated, id, pool)
	return nil
}

// UpdateInterestRate changes the pool's offered rate for future settlements.
func (l *Ledger) UpdateInterestRate(caller common.Address, id common.Hash, rate uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, err := l.lenderPool(caller, id)
	if err != nil {
		return err
	}
	if rate > MaxInterestRate {
		return ErrInvalidPoolTerms
	}
	pool.InterestRate = rate
	l.emitPool(model.EventPoolRateUpdated, id, pool)
	return nil
}

// lenderPool resolves a pool and checks the caller owns it. Callers hold l.mu.
func (l *Ledger) lenderPool(caller common.Address, id common.Hash) (*model.Pool, error) {
	pool, ok := l.pools[id]
	if !ok {
		return nil, ErrPoolNotFound
	}
	if pool.Lender != caller {
		return nil, ErrUnauthorized
	}
	return pool, nil
}

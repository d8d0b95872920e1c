package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"peerlend/internal/model"
)

// BorrowRequest asks for a loan of Debt against Collateral from the pool
// identified by PoolID.
type BorrowRequest struct {
	PoolID     common.Hash
	Debt       *big.Int
	Collateral *big.Int
}

// Borrow draws loans against collateral, one per request, strictly in order.
// A later request observes pool balance changes made by earlier requests in
// the same batch. On the first failing request the call aborts; requests
// already applied stay applied and their loan ids are returned alongside the
// error.
func (l *Ledger) Borrow(ctx context.Context, borrower common.Address, requests []BorrowRequest) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]uint64, 0, len(requests))
	for i, req := range requests {
		id, err := l.borrowOne(ctx, borrower, req)
		if err != nil {
			return ids, fmt.Errorf("borrow request %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (l *Ledger) borrowOne(ctx context.Context, borrower common.Address, req BorrowRequest) (uint64, error) {
	pool, ok := l.pools[req.PoolID]
	if !ok {
		return 0, ErrPoolNotFound
	}
	if req.Debt == nil || req.Debt.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if req.Debt.Cmp(pool.MinLoanSize) < 0 {
		return 0, ErrLoanTooSmall
	}
	if req.Debt.Cmp(pool.PoolBalance) > 0 {
		return 0, ErrLoanTooLarge
	}
	if req.Collateral == nil || req.Collateral.Sign() <= 0 {
		return 0, ErrZeroCollateral
	}
	if loanRatio(req.Debt, req.Collateral).Cmp(pool.MaxLoanRatio) > 0 {
		return 0, ErrRatioTooHigh
	}

	_, borrowerFeeBps, feeReceiver := l.params.snapshot()
	fee := feeOf(req.Debt, borrowerFeeBps)
	payout := new(big.Int).Sub(req.Debt, fee)

	// Collateral comes into custody first; only then do loan funds go out.
	if err := l.gateway.TransferFrom(ctx, pool.CollateralToken, borrower, l.custody, req.Collateral); err != nil {
		return 0, fmt.Errorf("pull collateral: %w", err)
	}
	if err := l.gateway.Transfer(ctx, pool.LoanToken, borrower, payout); err != nil {
		return 0, fmt.Errorf("pay borrower: %w", err)
	}
	if err := l.gateway.Transfer(ctx, pool.LoanToken, feeReceiver, fee); err != nil {
		return 0, fmt.Errorf("pay origination fee: %w", err)
	}

	pool.PoolBalance = new(big.Int).Sub(pool.PoolBalance, req.Debt)
	pool.OutstandingLoans = new(big.Int).Add(pool.OutstandingLoans, req.Debt)

	loan := &model.Loan{
		Lender:          pool.Lender,
		Borrower:        borrower,
		LoanToken:       pool.LoanToken,
		CollateralToken: pool.CollateralToken,
		Debt:            new(big.Int).Set(req.Debt),
		Collateral:      new(big.Int).Set(req.Collateral),
		InterestRate:    pool.InterestRate,
		StartTime:       l.now(),
		AuctionLength:   pool.AuctionLength,
		Active:          true,
	}
	l.loans = append(l.loans, loan)
	id := uint64(len(l.loans) - 1)

	l.emitLoan(model.EventLoanBorrowed, id, loan)
	l.logger.Debug("loan borrowed",
		zap.Uint64("loan_id", id),
		zap.String("debt", loan.Debt.String()),
		zap.String("collateral", loan.Collateral.String()),
	)
	return id, nil
}

// Repay settles loans in full, interest included. The repayer does not need
// to be the borrower; collateral always returns to the recorded borrower.
// Tombstoned ids fail with ErrLoanNotFound.
func (l *Ledger) Repay(ctx context.Context, caller common.Address, loanIDs []uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, id := range loanIDs {
		if err := l.repayOne(ctx, caller, id); err != nil {
			return fmt.Errorf("repay loan %d: %w", i, err)
		}
	}
	return nil
}

func (l *Ledger) repayOne(ctx context.Context, caller common.Address, id uint64) error {
	loan, err := l.activeLoan(id)
	if err != nil {
		return err
	}
	lenderFeeBps, _, feeReceiver := l.params.snapshot()
	lenderInterest, protocolInterest := accrueInterest(loan, l.now(), lenderFeeBps)

	poolID := PoolID(loan.Lender, loan.LoanToken, loan.CollateralToken)
	pool, ok := l.pools[poolID]
	if !ok {
		return ErrPoolNotFound
	}

	poolDue := new(big.Int).Add(loan.Debt, lenderInterest)
	if err := l.gateway.TransferFrom(ctx, loan.LoanToken, caller, l.custody, poolDue); err != nil {
		return fmt.Errorf("pull repayment: %w", err)
	}
	if err := l.gateway.TransferFrom(ctx, loan.LoanToken, caller, feeReceiver, protocolInterest); err != nil {
		return fmt.Errorf("pull protocol interest: %w", err)
	}
	if err := l.gateway.Transfer(ctx, loan.CollateralToken, loan.Borrower, loan.Collateral); err != nil {
		return fmt.Errorf("release collateral: %w", err)
	}

	l.updatePoolBalance(poolID, pool, new(big.Int).Add(pool.PoolBalance, poolDue))
	pool.OutstandingLoans = new(big.Int).Sub(pool.OutstandingLoans, loan.Debt)

	l.emitLoan(model.EventLoanRepaid, id, loan)
	l.tombstone(id)
	return nil
}

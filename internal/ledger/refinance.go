package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"peerlend/internal/model"
)

// RefinanceRequest moves a loan to a destination pool at a freely chosen new
// debt and collateral.
type RefinanceRequest struct {
	LoanID     uint64
	PoolID     common.Hash
	Debt       *big.Int
	Collateral *big.Int
}

// Refinance re-homes loans under new terms, borrower only. Each request
// settles the old position in full (interest included) against the newly
// drawn debt, netting the difference with the borrower: a shortfall is pulled
// from them, an excess is paid out minus a borrower fee on that excess.
// Requests apply independently; on the first failure the call aborts with
// earlier requests already applied.
func (l *Ledger) Refinance(ctx context.Context, borrower common.Address, requests []RefinanceRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, req := range requests {
		if err := l.refinanceOne(ctx, borrower, req); err != nil {
			return fmt.Errorf("refinance request %d: %w", i, err)
		}
	}
	return nil
}

func (l *Ledger) refinanceOne(ctx context.Context, borrower common.Address, req RefinanceRequest) error {
	loan, err := l.activeLoan(req.LoanID)
	if err != nil {
		return err
	}
	if loan.Borrower != borrower {
		return ErrUnauthorized
	}
	pool, ok := l.pools[req.PoolID]
	if !ok {
		return ErrPoolNotFound
	}
	if pool.LoanToken != loan.LoanToken || pool.CollateralToken != loan.CollateralToken {
		return ErrTokenMismatch
	}
	if req.Debt == nil || req.Debt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if req.Debt.Cmp(pool.MinLoanSize) < 0 {
		return ErrLoanTooSmall
	}
	if req.Debt.Cmp(pool.PoolBalance) > 0 {
		return ErrLoanTooLarge
	}
	if req.Collateral == nil || req.Collateral.Sign() <= 0 {
		return ErrZeroCollateral
	}
	if loanRatio(req.Debt, req.Collateral).Cmp(pool.MaxLoanRatio) > 0 {
		return ErrRatioTooHigh
	}

	lenderFeeBps, borrowerFeeBps, feeReceiver := l.params.snapshot()
	now := l.now()
	lenderInterest, protocolInterest := accrueInterest(loan, now, lenderFeeBps)
	debtOwed := new(big.Int).Add(loan.Debt, lenderInterest)
	debtOwed.Add(debtOwed, protocolInterest)

	// Settle with the borrower and the fee receiver through the gateway
	// before rewriting any table state.
	if err := l.gateway.Transfer(ctx, loan.LoanToken, feeReceiver, protocolInterest); err != nil {
		return fmt.Errorf("pay protocol interest: %w", err)
	}
	switch debtOwed.Cmp(req.Debt) {
	case 1:
		shortfall := new(big.Int).Sub(debtOwed, req.Debt)
		if err := l.gateway.TransferFrom(ctx, loan.LoanToken, borrower, l.custody, shortfall); err != nil {
			return fmt.Errorf("pull shortfall: %w", err)
		}
	case -1:
		excess := new(big.Int).Sub(req.Debt, debtOwed)
		fee := feeOf(excess, borrowerFeeBps)
		if err := l.gateway.Transfer(ctx, loan.LoanToken, feeReceiver, fee); err != nil {
			return fmt.Errorf("pay excess fee: %w", err)
		}
		if err := l.gateway.Transfer(ctx, loan.LoanToken, borrower, new(big.Int).Sub(excess, fee)); err != nil {
			return fmt.Errorf("pay excess: %w", err)
		}
	}
	switch req.Collateral.Cmp(loan.Collateral) {
	case 1:
		delta := new(big.Int).Sub(req.Collateral, loan.Collateral)
		if err := l.gateway.TransferFrom(ctx, loan.CollateralToken, borrower, l.custody, delta); err != nil {
			return fmt.Errorf("pull collateral top-up: %w", err)
		}
	case -1:
		delta := new(big.Int).Sub(loan.Collateral, req.Collateral)
		if err := l.gateway.Transfer(ctx, loan.CollateralToken, borrower, delta); err != nil {
			return fmt.Errorf("release collateral: %w", err)
		}
	}

	oldPoolID := PoolID(loan.Lender, loan.LoanToken, loan.CollateralToken)
	if oldPool, ok := l.pools[oldPoolID]; ok {
		credit := new(big.Int).Add(loan.Debt, lenderInterest)
		l.updatePoolBalance(oldPoolID, oldPool, new(big.Int).Add(oldPool.PoolBalance, credit))
		oldPool.OutstandingLoans = new(big.Int).Sub(oldPool.OutstandingLoans, loan.Debt)
	}
	l.updatePoolBalance(req.PoolID, pool, new(big.Int).Sub(pool.PoolBalance, req.Debt))
	pool.OutstandingLoans = new(big.Int).Add(pool.OutstandingLoans, req.Debt)

	loan.Lender = pool.Lender
	loan.InterestRate = pool.InterestRate
	loan.Debt = new(big.Int).Set(req.Debt)
	loan.Collateral = new(big.Int).Set(req.Collateral)
	loan.StartTime = now
	loan.AuctionStart = nil
	loan.AuctionLength = pool.AuctionLength

	l.emitLoan(model.EventLoanRefinanced, req.LoanID, loan)
	l.logger.Debug("loan refinanced",
		zap.Uint64("loan_id", req.LoanID),
		zap.String("pool_id", req.PoolID.Hex()),
		zap.String("debt", loan.Debt.String()),
	)
	return nil
}

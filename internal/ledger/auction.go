package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"peerlend/internal/model"
)

// StartAuction opens a Dutch refinance auction on each loan. Lender only; the
// loan must not already be in auction. No funds move.
func (l *Ledger) StartAuction(caller common.Address, loanIDs []uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, id := range loanIDs {
		loan, err := l.activeLoan(id)
		if err != nil {
			return fmt.Errorf("start auction %d: %w", i, err)
		}
		if loan.Lender != caller {
			return fmt.Errorf("start auction %d: %w", i, ErrUnauthorized)
		}
		if loan.AuctionStart != nil {
			return fmt.Errorf("start auction %d: %w", i, ErrAuctionStarted)
		}
		start := l.now()
		loan.AuctionStart = &start
		l.emit(model.EventAuctionStarted, model.AuctionEventData{
			LoanID:        id,
			Lender:        loan.Lender.Hex(),
			AuctionStart:  uint64(start.Unix()),
			AuctionLength: uint64(loan.AuctionLength.Seconds()),
		})
	}
	return nil
}

// auctionCeiling is the highest pool rate the auction accepts at now. It
// rises linearly from 0 at the auction start to MaxInterestRate at the end of
// the window.
func auctionCeiling(loan *model.Loan, now int64) uint64 {
	elapsed := now - loan.AuctionStart.Unix()
	if elapsed <= 0 {
		return 0
	}
	length := int64(loan.AuctionLength.Seconds())
	if length <= 0 {
		return MaxInterestRate
	}
	return MaxInterestRate * uint64(elapsed) / uint64(length)
}

// BuyLoan moves an auctioned loan into the offering pool, capitalizing the
// accrued interest into its principal. The pool's rate must be at or below
// the current auction ceiling and the pool must cover the full grown debt.
// The loan's new lender is the pool's lender.
func (l *Ledger) BuyLoan(ctx context.Context, loanID uint64, poolID common.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buyLoanLocked(ctx, loanID, poolID)
}

// BuyLoanWithNewPool registers a pool for the caller and immediately buys the
// auctioned loan into it in one call.
func (l *Ledger) BuyLoanWithNewPool(ctx context.Context, caller common.Address, p model.Pool, loanID uint64) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	poolID, err := l.setPoolLocked(ctx, caller, p)
	if err != nil {
		return common.Hash{}, err
	}
	if err := l.buyLoanLocked(ctx, loanID, poolID); err != nil {
		return common.Hash{}, err
	}
	return poolID, nil
}

func (l *Ledger) buyLoanLocked(ctx context.Context, loanID uint64, poolID common.Hash) error {
	loan, err := l.activeLoan(loanID)
	if err != nil {
		return err
	}
	if loan.AuctionStart == nil {
		return ErrAuctionNotStarted
	}
	now := l.now()
	if end, _ := loan.AuctionEnd(); now.After(end) {
		return ErrAuctionEnded
	}
	pool, ok := l.pools[poolID]
	if !ok {
		return ErrPoolNotFound
	}
	if pool.LoanToken != loan.LoanToken || pool.CollateralToken != loan.CollateralToken {
		return ErrTokenMismatch
	}
	if pool.InterestRate > auctionCeiling(loan, now.Unix()) {
		return ErrRateTooHigh
	}

	if err := l.reassignLoan(ctx, loan, poolID, pool); err != nil {
		return err
	}
	l.emitLoan(model.EventLoanBought, loanID, loan)
	l.logger.Debug("loan bought",
		zap.Uint64("loan_id", loanID),
		zap.String("pool_id", poolID.Hex()),
		zap.String("debt", loan.Debt.String()),
	)
	return nil
}

// GiveLoan hands loans to pools with terms no worse for the borrower: rate at
// or below the loan's, auction window at least as long. Lender only. Works
// whether or not an auction is running and simply discards one.
func (l *Ledger) GiveLoan(ctx context.Context, caller common.Address, loanIDs []uint64, poolIDs []common.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(loanIDs) != len(poolIDs) {
		return ErrLengthMismatch
	}
	for i := range loanIDs {
		if err := l.giveOne(ctx, caller, loanIDs[i], poolIDs[i]); err != nil {
			return fmt.Errorf("give loan %d: %w", i, err)
		}
	}
	return nil
}

func (l *Ledger) giveOne(ctx context.Context, caller common.Address, loanID uint64, poolID common.Hash) error {
	loan, err := l.activeLoan(loanID)
	if err != nil {
		return err
	}
	if loan.Lender != caller {
		return ErrUnauthorized
	}
	pool, ok := l.pools[poolID]
	if !ok {
		return ErrPoolNotFound
	}
	if pool.LoanToken != loan.LoanToken || pool.CollateralToken != loan.CollateralToken {
		return ErrTokenMismatch
	}
	if pool.InterestRate > loan.InterestRate {
		return ErrRateTooHigh
	}
	if pool.AuctionLength < loan.AuctionLength {
		return ErrAuctionTooShort
	}

	if err := l.reassignLoan(ctx, loan, poolID, pool); err != nil {
		return err
	}
	l.emitLoan(model.EventLoanGiven, loanID, loan)
	return nil
}

// reassignLoan performs the capitalize-and-reassign bookkeeping shared by buy
// and give: the destination pool funds the full grown debt, the outgoing
// pool is made whole on principal plus lender interest, the protocol takes
// its interest cut, and the loan restarts under the destination lender on the
// destination pool's terms with the interest folded into principal. Callers hold l.mu and have validated
// the destination pool.
func (l *Ledger) reassignLoan(ctx context.Context, loan *model.Loan, poolID common.Hash, pool *model.Pool) error {
	lenderFeeBps, _, feeReceiver := l.params.snapshot()
	now := l.now()
	lenderInterest, protocolInterest := accrueInterest(loan, now, lenderFeeBps)
	totalDebt := new(big.Int).Add(loan.Debt, lenderInterest)
	totalDebt.Add(totalDebt, protocolInterest)

	if pool.PoolBalance.Cmp(totalDebt) < 0 {
		return ErrPoolTooSmall
	}
	if err := l.gateway.Transfer(ctx, loan.LoanToken, feeReceiver, protocolInterest); err != nil {
		return fmt.Errorf("pay protocol interest: %w", err)
	}

	l.updatePoolBalance(poolID, pool, new(big.Int).Sub(pool.PoolBalance, totalDebt))
	pool.OutstandingLoans = new(big.Int).Add(pool.OutstandingLoans, totalDebt)

	oldPoolID := PoolID(loan.Lender, loan.LoanToken, loan.CollateralToken)
	if oldPool, ok := l.pools[oldPoolID]; ok {
		credit := new(big.Int).Add(loan.Debt, lenderInterest)
		l.updatePoolBalance(oldPoolID, oldPool, new(big.Int).Add(oldPool.PoolBalance, credit))
		oldPool.OutstandingLoans = new(big.Int).Sub(oldPool.OutstandingLoans, loan.Debt)
	}

	loan.Lender = pool.Lender
	loan.InterestRate = pool.InterestRate
	loan.StartTime = now
	loan.AuctionStart = nil
	loan.AuctionLength = pool.AuctionLength
	loan.Debt = totalDebt
	return nil
}

// SeizeLoan forfeits collateral on auctions that expired unbought. Anyone may
// trigger it. No debt is repaid; the lender absorbs any shortfall.
func (l *Ledger) SeizeLoan(ctx context.Context, loanIDs []uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, id := range loanIDs {
		if err := l.seizeOne(ctx, id); err != nil {
			return fmt.Errorf("seize loan %d: %w", i, err)
		}
	}
	return nil
}

func (l *Ledger) seizeOne(ctx context.Context, id uint64) error {
	loan, err := l.activeLoan(id)
	if err != nil {
		return err
	}
	if loan.AuctionStart == nil {
		return ErrAuctionNotStarted
	}
	if end, _ := loan.AuctionEnd(); !l.now().After(end) {
		return ErrAuctionNotEnded
	}

	_, borrowerFeeBps, feeReceiver := l.params.snapshot()
	seizeFee := feeOf(loan.Collateral, borrowerFeeBps)
	remainder := new(big.Int).Sub(loan.Collateral, seizeFee)

	if err := l.gateway.Transfer(ctx, loan.CollateralToken, feeReceiver, seizeFee); err != nil {
		return fmt.Errorf("pay seize fee: %w", err)
	}
	if err := l.gateway.Transfer(ctx, loan.CollateralToken, loan.Lender, remainder); err != nil {
		return fmt.Errorf("forfeit collateral: %w", err)
	}

	poolID := PoolID(loan.Lender, loan.LoanToken, loan.CollateralToken)
	if pool, ok := l.pools[poolID]; ok {
		pool.OutstandingLoans = new(big.Int).Sub(pool.OutstandingLoans, loan.Debt)
	}

	l.emit(model.EventLoanSeized, model.SeizeEventData{
		LoanID:     id,
		Lender:     loan.Lender.Hex(),
		Borrower:   loan.Borrower.Hex(),
		Collateral: loan.Collateral.String(),
		SeizeFee:   seizeFee.String(),
	})
	l.tombstone(id)
	return nil
}

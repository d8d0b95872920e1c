package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestRefinanceShortfall(t *testing.T) {
	env := newTestEnv(t)
	pool1 := env.createPool(t, defaultPool(lenderAddr))
	loanID := env.borrow(t, 100, 100, pool1)
	pool2 := env.createPool(t, defaultPool(lender2Addr))
	env.clock.advance(365 * 24 * time.Hour)

	// The old position owes 110; the new draw of 100 leaves a 10 shortfall
	// pulled from the borrower. A running auction does not survive the move.
	if err := env.ledger.StartAuction(lenderAddr, []uint64{loanID}); err != nil {
		t.Fatalf("start auction: %v", err)
	}
	env.book.Approve(loanTok, borrowerAddr, big.NewInt(1_000_000))
	err := env.ledger.Refinance(context.Background(), borrowerAddr, []RefinanceRequest{{
		LoanID:     loanID,
		PoolID:     pool2,
		Debt:       big.NewInt(100),
		Collateral: big.NewInt(100),
	}})
	if err != nil {
		t.Fatalf("refinance: %v", err)
	}

	loan := mustLoan(t, env.ledger, loanID)
	if loan.Lender != lender2Addr || loan.Debt.Int64() != 100 {
		t.Fatalf("loan = lender %s debt %s", loan.Lender.Hex(), loan.Debt)
	}
	if loan.AuctionStart != nil {
		t.Fatalf("auction survived refinance")
	}
	if !loan.StartTime.Equal(env.clock.now) {
		t.Fatalf("start time not reset")
	}

	old := mustPool(t, env.ledger, pool1)
	if old.PoolBalance.Int64() != 1009 || old.OutstandingLoans.Sign() != 0 {
		t.Fatalf("old pool = balance %s outstanding %s", old.PoolBalance, old.OutstandingLoans)
	}
	dst := mustPool(t, env.ledger, pool2)
	if dst.PoolBalance.Int64() != 900 || dst.OutstandingLoans.Int64() != 100 {
		t.Fatalf("new pool = balance %s outstanding %s", dst.PoolBalance, dst.OutstandingLoans)
	}
	if got := env.balance(loanTok, borrowerAddr); got != 90 {
		t.Fatalf("borrower = %d, want 90", got)
	}
	if got := env.balance(loanTok, feeAddr); got != 1 {
		t.Fatalf("fee receiver = %d, want 1", got)
	}
}

func TestRefinanceExcessPaysBorrowerMinusFee(t *testing.T) {
	env := newTestEnv(t)
	pool1 := env.createPool(t, defaultPool(lenderAddr))
	loanID := env.borrow(t, 100, 100, pool1)
	pool2 := env.createPool(t, defaultPool(lender2Addr))
	env.clock.advance(365 * 24 * time.Hour)

	// Drawing 1000 against a 110 debt leaves an 890 excess; the borrower
	// fee on the excess is 890 * 50 bps = 4. Collateral tops up by 400.
	env.fund(collTok, borrowerAddr, 400)
	err := env.ledger.Refinance(context.Background(), borrowerAddr, []RefinanceRequest{{
		LoanID:     loanID,
		PoolID:     pool2,
		Debt:       big.NewInt(1000),
		Collateral: big.NewInt(500),
	}})
	if err != nil {
		t.Fatalf("refinance: %v", err)
	}

	if got := env.balance(loanTok, borrowerAddr); got != 986 {
		t.Fatalf("borrower = %d, want 986", got)
	}
	if got := env.balance(loanTok, feeAddr); got != 5 {
		t.Fatalf("fee receiver = %d, want 5", got)
	}
	if got := env.balance(collTok, custodyAddr); got != 500 {
		t.Fatalf("custody collateral = %d, want 500", got)
	}

	loan := mustLoan(t, env.ledger, loanID)
	if loan.Debt.Int64() != 1000 || loan.Collateral.Int64() != 500 {
		t.Fatalf("loan = debt %s collateral %s", loan.Debt, loan.Collateral)
	}
	dst := mustPool(t, env.ledger, pool2)
	if dst.PoolBalance.Sign() != 0 || dst.OutstandingLoans.Int64() != 1000 {
		t.Fatalf("new pool = balance %s outstanding %s", dst.PoolBalance, dst.OutstandingLoans)
	}
}

func TestRefinanceReleasesCollateral(t *testing.T) {
	env := newTestEnv(t)
	pool1 := env.createPool(t, defaultPool(lenderAddr))
	loanID := env.borrow(t, 100, 1000, pool1)

	// Same pool, same debt, less collateral: only the delta moves.
	err := env.ledger.Refinance(context.Background(), borrowerAddr, []RefinanceRequest{{
		LoanID:     loanID,
		PoolID:     pool1,
		Debt:       big.NewInt(100),
		Collateral: big.NewInt(200),
	}})
	if err != nil {
		t.Fatalf("refinance: %v", err)
	}
	if got := env.balance(collTok, borrowerAddr); got != 800 {
		t.Fatalf("borrower collateral = %d, want 800", got)
	}
	loan := mustLoan(t, env.ledger, loanID)
	if loan.Collateral.Int64() != 200 {
		t.Fatalf("collateral = %s, want 200", loan.Collateral)
	}
	pool := mustPool(t, env.ledger, pool1)
	if pool.PoolBalance.Int64() != 900 || pool.OutstandingLoans.Int64() != 100 {
		t.Fatalf("pool = balance %s outstanding %s", pool.PoolBalance, pool.OutstandingLoans)
	}
}

func TestRefinanceValidation(t *testing.T) {
	env := newTestEnv(t)
	pool1 := env.createPool(t, defaultPool(lenderAddr))
	loanID := env.borrow(t, 100, 100, pool1)

	mismatched := defaultPool(lender2Addr)
	mismatched.CollateralToken = otherTok
	badPool := env.createPool(t, mismatched)

	req := func(poolID common.Hash, debt, coll int64) []RefinanceRequest {
		return []RefinanceRequest{{LoanID: loanID, PoolID: poolID, Debt: big.NewInt(debt), Collateral: big.NewInt(coll)}}
	}
	ctx := context.Background()

	if err := env.ledger.Refinance(ctx, lender2Addr, req(pool1, 100, 100)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-borrower err = %v", err)
	}
	if err := env.ledger.Refinance(ctx, borrowerAddr, req(common.Hash{0xff}, 100, 100)); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("unknown pool err = %v", err)
	}
	if err := env.ledger.Refinance(ctx, borrowerAddr, req(badPool, 100, 100)); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("token mismatch err = %v", err)
	}
	if err := env.ledger.Refinance(ctx, borrowerAddr, req(pool1, 0, 100)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero debt err = %v", err)
	}
	if err := env.ledger.Refinance(ctx, borrowerAddr, req(pool1, 50, 100)); !errors.Is(err, ErrLoanTooSmall) {
		t.Fatalf("small debt err = %v", err)
	}
	if err := env.ledger.Refinance(ctx, borrowerAddr, req(pool1, 5000, 5000)); !errors.Is(err, ErrLoanTooLarge) {
		t.Fatalf("large debt err = %v", err)
	}
	if err := env.ledger.Refinance(ctx, borrowerAddr, req(pool1, 100, 0)); !errors.Is(err, ErrZeroCollateral) {
		t.Fatalf("zero collateral err = %v", err)
	}
	if err := env.ledger.Refinance(ctx, borrowerAddr, req(pool1, 400, 100)); !errors.Is(err, ErrRatioTooHigh) {
		t.Fatalf("thin collateral err = %v", err)
	}
}

func TestRefinanceBatchStopsAtFirstFailure(t *testing.T) {
	env := newTestEnv(t)
	pool1 := env.createPool(t, defaultPool(lenderAddr))
	loanID := env.borrow(t, 100, 100, pool1)
	pool2 := env.createPool(t, defaultPool(lender2Addr))

	err := env.ledger.Refinance(context.Background(), borrowerAddr, []RefinanceRequest{
		{LoanID: loanID, PoolID: pool2, Debt: big.NewInt(100), Collateral: big.NewInt(100)},
		{LoanID: loanID, PoolID: common.Hash{0xff}, Debt: big.NewInt(100), Collateral: big.NewInt(100)},
	})
	if !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("err = %v, want %v", err, ErrPoolNotFound)
	}
	// The first request stays applied.
	if loan := mustLoan(t, env.ledger, loanID); loan.Lender != lender2Addr {
		t.Fatalf("loan lender = %s, want %s", loan.Lender.Hex(), lender2Addr.Hex())
	}
}

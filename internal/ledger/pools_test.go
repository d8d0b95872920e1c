package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"peerlend/internal/model"
)

func TestSetPoolCreatesAndPullsBalance(t *testing.T) {
	env := newTestEnv(t)
	id := env.createPool(t, defaultPool(lenderAddr))

	if want := PoolID(lenderAddr, loanTok, collTok); id != want {
		t.Fatalf("pool id = %s, want %s", id.Hex(), want.Hex())
	}
	if got := env.balance(loanTok, custodyAddr); got != 1000 {
		t.Fatalf("custody balance = %d, want 1000", got)
	}
	if got := env.balance(loanTok, lenderAddr); got != 0 {
		t.Fatalf("lender balance = %d, want 0", got)
	}

	kinds := env.events.kinds()
	if len(kinds) != 2 || kinds[0] != model.EventPoolCreated || kinds[1] != model.EventPoolBalanceUpdated {
		t.Fatalf("event kinds = %v", kinds)
	}
}

func TestSetPoolSameBalanceNoTransfer(t *testing.T) {
	env := newTestEnv(t)
	id := env.createPool(t, defaultPool(lenderAddr))
	env.events.reset()

	before := env.balance(loanTok, lenderAddr)
	if _, err := env.ledger.SetPool(context.Background(), lenderAddr, defaultPool(lenderAddr)); err != nil {
		t.Fatalf("set pool: %v", err)
	}
	if got := env.balance(loanTok, lenderAddr); got != before {
		t.Fatalf("lender balance moved: %d -> %d", before, got)
	}
	if kinds := env.events.kinds(); kinds[0] != model.EventPoolUpdated {
		t.Fatalf("event kinds = %v", kinds)
	}
	if got := mustPool(t, env.ledger, id).PoolBalance.Int64(); got != 1000 {
		t.Fatalf("pool balance = %d, want 1000", got)
	}
}

func TestSetPoolDeltaSettlement(t *testing.T) {
	env := newTestEnv(t)
	env.createPool(t, defaultPool(lenderAddr))

	// Raising the balance pulls exactly the delta.
	env.fund(loanTok, lenderAddr, 500)
	higher := defaultPool(lenderAddr)
	higher.PoolBalance = big.NewInt(1400)
	if _, err := env.ledger.SetPool(context.Background(), lenderAddr, higher); err != nil {
		t.Fatalf("raise balance: %v", err)
	}
	if got := env.balance(loanTok, lenderAddr); got != 100 {
		t.Fatalf("lender balance after raise = %d, want 100", got)
	}

	// Lowering it pushes exactly the delta back.
	lower := defaultPool(lenderAddr)
	lower.PoolBalance = big.NewInt(400)
	if _, err := env.ledger.SetPool(context.Background(), lenderAddr, lower); err != nil {
		t.Fatalf("lower balance: %v", err)
	}
	if got := env.balance(loanTok, lenderAddr); got != 1100 {
		t.Fatalf("lender balance after lower = %d, want 1100", got)
	}
	if got := env.balance(loanTok, custodyAddr); got != 400 {
		t.Fatalf("custody balance = %d, want 400", got)
	}
}

func TestSetPoolValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name    string
		mutate  func(*model.Pool)
		wantErr error
	}{
		{"zero min loan size", func(p *model.Pool) { p.MinLoanSize = big.NewInt(0) }, ErrInvalidPoolTerms},
		{"zero max ratio", func(p *model.Pool) { p.MaxLoanRatio = big.NewInt(0) }, ErrInvalidPoolTerms},
		{"zero auction length", func(p *model.Pool) { p.AuctionLength = 0 }, ErrInvalidPoolTerms},
		{"auction too long", func(p *model.Pool) { p.AuctionLength = MaxAuctionLength + time.Second }, ErrInvalidPoolTerms},
		{"rate above cap", func(p *model.Pool) { p.InterestRate = MaxInterestRate + 1 }, ErrInvalidPoolTerms},
		{"negative balance", func(p *model.Pool) { p.PoolBalance = big.NewInt(-1) }, ErrInvalidPoolTerms},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := defaultPool(lenderAddr)
			tc.mutate(&p)
			if _, err := env.ledger.SetPool(context.Background(), lenderAddr, p); !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}

	if _, err := env.ledger.SetPool(context.Background(), lender2Addr, defaultPool(lenderAddr)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("caller mismatch err = %v, want %v", err, ErrUnauthorized)
	}
}

func TestSetPoolRejectsForgedOutstanding(t *testing.T) {
	env := newTestEnv(t)
	id := env.createPool(t, defaultPool(lenderAddr))
	env.borrow(t, 100, 100, id)

	p := defaultPool(lenderAddr)
	p.OutstandingLoans = big.NewInt(0) // stored value is now 100
	if _, err := env.ledger.SetPool(context.Background(), lenderAddr, p); !errors.Is(err, ErrOutstandingMismatch) {
		t.Fatalf("err = %v, want %v", err, ErrOutstandingMismatch)
	}

	p.OutstandingLoans = big.NewInt(100)
	p.PoolBalance = big.NewInt(900)
	if _, err := env.ledger.SetPool(context.Background(), lenderAddr, p); err != nil {
		t.Fatalf("honest update: %v", err)
	}
}

func TestAddAndRemoveFromPool(t *testing.T) {
	env := newTestEnv(t)
	id := env.createPool(t, defaultPool(lenderAddr))
	ctx := context.Background()

	env.fund(loanTok, lenderAddr, 500)
	if err := env.ledger.AddToPool(ctx, lenderAddr, id, big.NewInt(500)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := mustPool(t, env.ledger, id).PoolBalance.Int64(); got != 1500 {
		t.Fatalf("pool balance = %d, want 1500", got)
	}

	if err := env.ledger.RemoveFromPool(ctx, lenderAddr, id, big.NewInt(200)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := mustPool(t, env.ledger, id).PoolBalance.Int64(); got != 1300 {
		t.Fatalf("pool balance = %d, want 1300", got)
	}
	if got := env.balance(loanTok, lenderAddr); got != 200 {
		t.Fatalf("lender balance = %d, want 200", got)
	}

	if err := env.ledger.RemoveFromPool(ctx, lenderAddr, id, big.NewInt(99999)); !errors.Is(err, ErrPoolTooSmall) {
		t.Fatalf("overdraw err = %v, want %v", err, ErrPoolTooSmall)
	}
	if err := env.ledger.AddToPool(ctx, lenderAddr, id, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount err = %v, want %v", err, ErrInvalidAmount)
	}
	if err := env.ledger.AddToPool(ctx, lender2Addr, id, big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger err = %v, want %v", err, ErrUnauthorized)
	}
}

func TestUpdateTerms(t *testing.T) {
	env := newTestEnv(t)
	id := env.createPool(t, defaultPool(lenderAddr))
	env.events.reset()

	if err := env.ledger.UpdateMaxLoanRatio(lenderAddr, id, ratio(3)); err != nil {
		t.Fatalf("update ratio: %v", err)
	}
	if err := env.ledger.UpdateInterestRate(lenderAddr, id, 2000); err != nil {
		t.Fatalf("update rate: %v", err)
	}
	pool := mustPool(t, env.ledger, id)
	if pool.MaxLoanRatio.Cmp(ratio(3)) != 0 || pool.InterestRate != 2000 {
		t.Fatalf("terms not applied: ratio=%s rate=%d", pool.MaxLoanRatio, pool.InterestRate)
	}
	kinds := env.events.kinds()
	if len(kinds) != 2 || kinds[0] != model.EventPoolMaxRatioUpdated || kinds[1] != model.EventPoolRateUpdated {
		t.Fatalf("event kinds = %v", kinds)
	}

	if err := env.ledger.UpdateInterestRate(lenderAddr, id, MaxInterestRate+1); !errors.Is(err, ErrInvalidPoolTerms) {
		t.Fatalf("rate cap err = %v", err)
	}
	if err := env.ledger.UpdateMaxLoanRatio(lender2Addr, id, ratio(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger err = %v", err)
	}
}

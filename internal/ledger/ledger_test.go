package ledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"peerlend/internal/model"
	"peerlend/internal/token"
)

var (
	custodyAddr  = common.HexToAddress("0x00000000000000000000000000000000000000cd")
	feeAddr      = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	lenderAddr   = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	lender2Addr  = common.HexToAddress("0x0000000000000000000000000000000000000a02")
	borrowerAddr = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	loanTok      = common.HexToAddress("0x0000000000000000000000000000000000000101")
	collTok      = common.HexToAddress("0x0000000000000000000000000000000000000102")
	otherTok     = common.HexToAddress("0x0000000000000000000000000000000000000103")
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type eventLog struct {
	records []model.EventRecord
}

func (e *eventLog) Emit(rec model.EventRecord) { e.records = append(e.records, rec) }

func (e *eventLog) kinds() []string {
	out := make([]string, 0, len(e.records))
	for _, rec := range e.records {
		out = append(out, rec.Kind)
	}
	return out
}

func (e *eventLog) reset() { e.records = nil }

type testEnv struct {
	ledger *Ledger
	book   *token.Book
	clock  *testClock
	params *Params
	events *eventLog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	params, err := NewParams(1000, 50, feeAddr)
	if err != nil {
		t.Fatalf("new params: %v", err)
	}
	clock := &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
	events := &eventLog{}
	book := token.NewBook(custodyAddr)
	led := New(custodyAddr, book, params, events, nil)
	led.SetClock(clock.Now)
	return &testEnv{ledger: led, book: book, clock: clock, params: params, events: events}
}

// fund mints a balance and grants the ledger a large standing allowance.
func (env *testEnv) fund(tok, holder common.Address, amount int64) {
	env.book.Mint(tok, holder, big.NewInt(amount))
	env.book.Approve(tok, holder, big.NewInt(1_000_000_000_000))
}

func (env *testEnv) balance(tok, holder common.Address) int64 {
	return env.book.BalanceOf(tok, holder).Int64()
}

// defaultPool is the standard fixture: balance 1000, min loan 100, max ratio
// 2.0, 24h auctions, 1000 bps.
func defaultPool(lender common.Address) model.Pool {
	return model.Pool{
		Lender:          lender,
		LoanToken:       loanTok,
		CollateralToken: collTok,
		MinLoanSize:     big.NewInt(100),
		PoolBalance:     big.NewInt(1000),
		MaxLoanRatio:    ratio(2),
		AuctionLength:   24 * time.Hour,
		InterestRate:    1000,
	}
}

// ratio scales a whole-number debt/collateral ratio to 1e18 fixed point.
func ratio(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), loanRatioScale)
}

func (env *testEnv) createPool(t *testing.T, p model.Pool) common.Hash {
	t.Helper()
	env.fund(p.LoanToken, p.Lender, p.PoolBalance.Int64())
	id, err := env.ledger.SetPool(context.Background(), p.Lender, p)
	if err != nil {
		t.Fatalf("set pool: %v", err)
	}
	return id
}

func (env *testEnv) borrow(t *testing.T, debt, collateral int64, poolID common.Hash) uint64 {
	t.Helper()
	env.fund(collTok, borrowerAddr, collateral)
	ids, err := env.ledger.Borrow(context.Background(), borrowerAddr, []BorrowRequest{{
		PoolID:     poolID,
		Debt:       big.NewInt(debt),
		Collateral: big.NewInt(collateral),
	}})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected one loan id, got %d", len(ids))
	}
	return ids[0]
}

func mustPool(t *testing.T, led *Ledger, id common.Hash) *model.Pool {
	t.Helper()
	pool, ok := led.GetPool(id)
	if !ok {
		t.Fatalf("pool %s not found", id.Hex())
	}
	return pool
}

func mustLoan(t *testing.T, led *Ledger, id uint64) *model.Loan {
	t.Helper()
	loan, ok := led.GetLoan(id)
	if !ok {
		t.Fatalf("loan %d not found", id)
	}
	return loan
}

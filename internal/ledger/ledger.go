package ledger

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"peerlend/internal/model"
	"peerlend/internal/token"
)

// Fixed protocol limits. Fee rates live in Params and may change at runtime;
// these never do.
const (
	// MaxInterestRate caps pool rates and anchors the auction ceiling, in
	// basis points (1000% APR).
	MaxInterestRate uint64 = 100_000
	// MaxAuctionLength caps the refinance auction window.
	MaxAuctionLength = 72 * time.Hour

	// MaxLenderFeeBps bounds the protocol's cut of lender interest (50%).
	MaxLenderFeeBps uint64 = 5_000
	// MaxBorrowerFeeBps bounds origination and seizure fees (5%).
	MaxBorrowerFeeBps uint64 = 500

	basisPoints    = 10_000
	secondsPerYear = 31_536_000
)

var (
	bigBasisPoints    = big.NewInt(basisPoints)
	bigSecondsPerYear = big.NewInt(secondsPerYear)
	// loanRatioScale is the fixed-point scale for debt/collateral ratios.
	loanRatioScale = big.NewInt(1_000_000_000_000_000_000)
)

// EventSink receives one record per state transition.
type EventSink interface {
	Emit(model.EventRecord)
}

type nopSink struct{}

func (nopSink) Emit(model.EventRecord) {}

// Params holds the privileged-owner-controlled fee settings. They are read
// live per batch item, never snapshotted per batch.
type Params struct {
	mu             sync.RWMutex
	lenderFeeBps   uint64
	borrowerFeeBps uint64
	feeReceiver    common.Address
}

// NewParams validates fee rates against their caps.
func NewParams(lenderFeeBps, borrowerFeeBps uint64, feeReceiver common.Address) (*Params, error) {
	if lenderFeeBps > MaxLenderFeeBps || borrowerFeeBps > MaxBorrowerFeeBps {
		return nil, ErrFeeTooHigh
	}
	return &Params{
		lenderFeeBps:   lenderFeeBps,
		borrowerFeeBps: borrowerFeeBps,
		feeReceiver:    feeReceiver,
	}, nil
}

// SetLenderFee updates the protocol's share of lender interest.
func (p *Params) SetLenderFee(bps uint64) error {
	if bps > MaxLenderFeeBps {
		return ErrFeeTooHigh
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lenderFeeBps = bps
	return nil
}

// SetBorrowerFee updates the origination/seizure fee rate.
func (p *Params) SetBorrowerFee(bps uint64) error {
	if bps > MaxBorrowerFeeBps {
		return ErrFeeTooHigh
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.borrowerFeeBps = bps
	return nil
}

// SetFeeReceiver updates the protocol fee destination.
func (p *Params) SetFeeReceiver(addr common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feeReceiver = addr
}

func (p *Params) snapshot() (lenderFeeBps, borrowerFeeBps uint64, feeReceiver common.Address) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lenderFeeBps, p.borrowerFeeBps, p.feeReceiver
}

// Ledger owns the pool and loan tables and applies every state transition of
// the lending protocol. All mutating entry points hold one non-reentrant lock
// for their whole duration, including gateway callbacks, so a misbehaving
// gateway can never observe or re-enter partially updated state.
type Ledger struct {
	mu      sync.Mutex
	custody common.Address
	gateway token.Gateway
	params  *Params
	events  EventSink
	logger  *zap.Logger
	clock   func() time.Time

	pools map[common.Hash]*model.Pool
	loans []*model.Loan
}

// New builds a ledger. Custody is the account whose gateway balance holds
// pooled funds and locked collateral.
func New(custody common.Address, gateway token.Gateway, params *Params, events EventSink, logger *zap.Logger) *Ledger {
	if events == nil {
		events = nopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		custody: custody,
		gateway: gateway,
		params:  params,
		events:  events,
		logger:  logger,
		clock:   time.Now,
		pools:   make(map[common.Hash]*model.Pool),
	}
}

// SetClock replaces the time source. Replay and tests only; not safe while
// operations are in flight.
func (l *Ledger) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	l.clock = now
}

// PoolID derives the stable pool key for a lender and token pair.
func PoolID(lender, loanToken, collateralToken common.Address) common.Hash {
	return crypto.Keccak256Hash(lender.Bytes(), loanToken.Bytes(), collateralToken.Bytes())
}

// GetPool returns a copy of the pool record.
func (l *Ledger) GetPool(id common.Hash) (*model.Pool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pool, ok := l.pools[id]
	if !ok {
		return nil, false
	}
	return pool.Clone(), true
}

// GetLoan returns a copy of the loan slot. Tombstoned slots read as empty
// inactive loans.
func (l *Ledger) GetLoan(id uint64) (*model.Loan, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id >= uint64(len(l.loans)) {
		return nil, false
	}
	return l.loans[id].Clone(), true
}

// GetLoanDebt reports the total owed on a loan right now, interest included.
func (l *Ledger) GetLoanDebt(id uint64) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	loan, err := l.activeLoan(id)
	if err != nil {
		return nil, err
	}
	lenderFeeBps, _, _ := l.params.snapshot()
	lenderInterest, protocolInterest := accrueInterest(loan, l.clock(), lenderFeeBps)
	debt := new(big.Int).Add(loan.Debt, lenderInterest)
	return debt.Add(debt, protocolInterest), nil
}

// SnapshotPools returns deep copies of every pool for persistence.
func (l *Ledger) SnapshotPools() []model.PoolSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.PoolSnapshot, 0, len(l.pools))
	for id, pool := range l.pools {
		out = append(out, model.PoolSnapshot{ID: id, Pool: pool.Clone()})
	}
	return out
}

// SnapshotLoans returns deep copies of every loan slot for persistence.
func (l *Ledger) SnapshotLoans() []model.LoanSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.LoanSnapshot, 0, len(l.loans))
	for id, loan := range l.loans {
		out = append(out, model.LoanSnapshot{ID: uint64(id), Loan: loan.Clone()})
	}
	return out
}

// activeLoan resolves a live loan slot. Callers hold l.mu.
func (l *Ledger) activeLoan(id uint64) (*model.Loan, error) {
	if id >= uint64(len(l.loans)) {
		return nil, ErrLoanNotFound
	}
	loan := l.loans[id]
	if loan == nil || !loan.Active {
		return nil, ErrLoanNotFound
	}
	return loan, nil
}

// tombstone resets a terminated loan slot to defaults, keeping the id valid.
func (l *Ledger) tombstone(id uint64) {
	l.loans[id] = &model.Loan{}
}

func (l *Ledger) now() time.Time {
	return l.clock()
}

func (l *Ledger) emit(kind string, data any) {
	l.events.Emit(model.EventRecord{
		Kind:      kind,
		Timestamp: uint64(l.now().Unix()),
		Data:      data,
	})
}

func (l *Ledger) emitPool(kind string, id common.Hash, pool *model.Pool) {
	l.emit(kind, model.PoolEventData{
		PoolID:           id.Hex(),
		Lender:           pool.Lender.Hex(),
		LoanToken:        pool.LoanToken.Hex(),
		CollateralToken:  pool.CollateralToken.Hex(),
		MinLoanSize:      bigString(pool.MinLoanSize),
		PoolBalance:      bigString(pool.PoolBalance),
		MaxLoanRatio:     bigString(pool.MaxLoanRatio),
		AuctionLength:    uint64(pool.AuctionLength / time.Second),
		InterestRate:     pool.InterestRate,
		OutstandingLoans: bigString(pool.OutstandingLoans),
	})
}

func (l *Ledger) emitLoan(kind string, id uint64, loan *model.Loan) {
	l.emit(kind, model.LoanEventData{
		LoanID:          id,
		Lender:          loan.Lender.Hex(),
		Borrower:        loan.Borrower.Hex(),
		LoanToken:       loan.LoanToken.Hex(),
		CollateralToken: loan.CollateralToken.Hex(),
		Debt:            bigString(loan.Debt),
		Collateral:      bigString(loan.Collateral),
		InterestRate:    loan.InterestRate,
		AuctionLength:   uint64(loan.AuctionLength / time.Second),
	})
}

// updatePoolBalance writes a new balance and emits the balance-changed event.
// Callers hold l.mu.
func (l *Ledger) updatePoolBalance(id common.Hash, pool *model.Pool, newBalance *big.Int) {
	pool.PoolBalance = newBalance
	l.emitPool(model.EventPoolBalanceUpdated, id, pool)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

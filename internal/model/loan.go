package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Loan is an open debt position. A terminated loan keeps its slot in the
// ledger's table with Active=false and zeroed fields, so old ids stay valid
// lookups that read as empty.
//
// AuctionStart is nil while no auction is running; a non-nil value is the
// clock reading when the current auction began.
type Loan struct {
	Lender          common.Address
	Borrower        common.Address
	LoanToken       common.Address
	CollateralToken common.Address
	Debt            *big.Int
	Collateral      *big.Int
	InterestRate    uint64 // snapshot at last settlement, basis points
	StartTime       time.Time
	AuctionStart    *time.Time
	AuctionLength   time.Duration
	Active          bool
}

// LoanSnapshot pairs a loan slot with its stable id for persistence.
type LoanSnapshot struct {
	ID   uint64
	Loan *Loan
}

// Clone returns a deep copy of the loan record.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Debt = cloneBig(l.Debt)
	clone.Collateral = cloneBig(l.Collateral)
	if l.AuctionStart != nil {
		start := *l.AuctionStart
		clone.AuctionStart = &start
	}
	return &clone
}

// AuctionEnd reports the instant the running auction expires. The second
// return is false when no auction is active.
func (l *Loan) AuctionEnd() (time.Time, bool) {
	if l == nil || l.AuctionStart == nil {
		return time.Time{}, false
	}
	return l.AuctionStart.Add(l.AuctionLength), true
}

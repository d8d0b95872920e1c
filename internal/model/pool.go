package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Pool is a lender's standing offer of funds against a token pair.
// Amounts are raw token units; MaxLoanRatio is debt/collateral scaled by 1e18.
type Pool struct {
	Lender           common.Address
	LoanToken        common.Address
	CollateralToken  common.Address
	MinLoanSize      *big.Int
	PoolBalance      *big.Int
	MaxLoanRatio     *big.Int
	AuctionLength    time.Duration
	InterestRate     uint64 // annualized, basis points
	OutstandingLoans *big.Int
}

// PoolSnapshot pairs a pool record with its derived key for persistence.
type PoolSnapshot struct {
	ID   common.Hash
	Pool *Pool
}

// Clone returns a deep copy so callers cannot alias the ledger's record.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.MinLoanSize = cloneBig(p.MinLoanSize)
	clone.PoolBalance = cloneBig(p.PoolBalance)
	clone.MaxLoanRatio = cloneBig(p.MaxLoanRatio)
	clone.OutstandingLoans = cloneBig(p.OutstandingLoans)
	return &clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

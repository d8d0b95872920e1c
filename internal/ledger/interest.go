package ledger

import (
	"math/big"
	"time"

	"peerlend/internal/model"
)

// accrueInterest computes the interest accrued on a loan between its last
// settlement and now, split into the lender's and the protocol's share.
//
// Gross interest is one integer product rate*debt*elapsedSeconds truncated by
// two sequential divisions (basis points, then seconds per year); the protocol
// share is then carved out of the truncated gross. The order matters for
// rounding and must not change: 100 units at 1000 bps over 365 days yields a
// gross of exactly 10.
func accrueInterest(loan *model.Loan, now time.Time, lenderFeeBps uint64) (lenderInterest, protocolInterest *big.Int) {
	elapsed := int64(now.Sub(loan.StartTime) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	gross := new(big.Int).SetUint64(loan.InterestRate)
	gross.Mul(gross, loan.Debt)
	gross.Mul(gross, big.NewInt(elapsed))
	gross.Quo(gross, bigBasisPoints)
	gross.Quo(gross, bigSecondsPerYear)

	protocolInterest = new(big.Int).SetUint64(lenderFeeBps)
	protocolInterest.Mul(protocolInterest, gross)
	protocolInterest.Quo(protocolInterest, bigBasisPoints)

	lenderInterest = new(big.Int).Sub(gross, protocolInterest)
	return lenderInterest, protocolInterest
}

// loanRatio is debt/collateral at fixed-point scale 1e18. Collateral must be
// positive.
func loanRatio(debt, collateral *big.Int) *big.Int {
	ratio := new(big.Int).Mul(debt, loanRatioScale)
	return ratio.Quo(ratio, collateral)
}

// feeOf applies a basis-point rate to an amount, truncating.
func feeOf(amount *big.Int, bps uint64) *big.Int {
	fee := new(big.Int).SetUint64(bps)
	fee.Mul(fee, amount)
	return fee.Quo(fee, bigBasisPoints)
}

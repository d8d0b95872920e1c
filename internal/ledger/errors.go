package ledger

import "errors"

var (
	ErrUnauthorized        = errors.New("lending ledger: caller is not authorized")
	ErrInvalidPoolTerms    = errors.New("lending ledger: pool terms out of bounds")
	ErrOutstandingMismatch = errors.New("lending ledger: outstanding loans accounting mismatch")
	ErrPoolNotFound        = errors.New("lending ledger: pool not found")
	ErrLoanNotFound        = errors.New("lending ledger: loan not found or terminated")
	ErrInvalidAmount       = errors.New("lending ledger: amount must be positive")
	ErrLoanTooSmall        = errors.New("lending ledger: loan below pool minimum")
	ErrLoanTooLarge        = errors.New("lending ledger: loan exceeds pool balance")
	ErrZeroCollateral      = errors.New("lending ledger: collateral must be positive")
	ErrRatioTooHigh        = errors.New("lending ledger: loan ratio exceeds pool maximum")
	ErrTokenMismatch       = errors.New("lending ledger: pool token pair does not match loan")
	ErrAuctionStarted      = errors.New("lending ledger: auction already started")
	ErrAuctionNotStarted   = errors.New("lending ledger: auction not started")
	ErrAuctionEnded        = errors.New("lending ledger: auction ended")
	ErrAuctionNotEnded     = errors.New("lending ledger: auction not ended")
	ErrRateTooHigh         = errors.New("lending ledger: rate too high")
	ErrAuctionTooShort     = errors.New("lending ledger: auction length shorter than current loan")
	ErrPoolTooSmall        = errors.New("lending ledger: pool too small")
	ErrFeeTooHigh          = errors.New("lending ledger: fee exceeds cap")
	ErrLengthMismatch      = errors.New("lending ledger: loan and pool id counts differ")
)

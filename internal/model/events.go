package model

// Event kinds emitted by the ledger, one record per state transition.
const (
	EventPoolCreated         = "pool_created"
	EventPoolUpdated         = "pool_updated"
	EventPoolBalanceUpdated  = "pool_balance_updated"
	EventPoolMaxRatioUpdated = "pool_max_loan_ratio_updated"
	EventPoolRateUpdated     = "pool_interest_rate_updated"
	EventLoanBorrowed        = "loan_borrowed"
	EventLoanRepaid          = "loan_repaid"
	EventAuctionStarted      = "auction_started"
	EventLoanBought          = "loan_bought"
	EventLoanGiven           = "loan_given"
	EventLoanSeized          = "loan_seized"
	EventLoanRefinanced      = "loan_refinanced"
)

// EventRecord is the envelope written to event storage. Data holds one of the
// typed payloads below; big amounts are carried as decimal strings.
type EventRecord struct {
	Kind      string `json:"kind"`
	Timestamp uint64 `json:"timestamp"`
	Data      any    `json:"data"`
}

// PoolEventData is the post-transition snapshot carried by every pool event.
type PoolEventData struct {
	PoolID           string `json:"pool_id"`
	Lender           string `json:"lender"`
	LoanToken        string `json:"loan_token"`
	CollateralToken  string `json:"collateral_token"`
	MinLoanSize      string `json:"min_loan_size"`
	PoolBalance      string `json:"pool_balance"`
	MaxLoanRatio     string `json:"max_loan_ratio"`
	AuctionLength    uint64 `json:"auction_length_seconds"`
	InterestRate     uint64 `json:"interest_rate_bps"`
	OutstandingLoans string `json:"outstanding_loans"`
}

// LoanEventData is the post-transition snapshot carried by every loan event.
type LoanEventData struct {
	LoanID          uint64 `json:"loan_id"`
	Lender          string `json:"lender"`
	Borrower        string `json:"borrower"`
	LoanToken       string `json:"loan_token"`
	CollateralToken string `json:"collateral_token"`
	Debt            string `json:"debt"`
	Collateral      string `json:"collateral"`
	InterestRate    uint64 `json:"interest_rate_bps"`
	AuctionLength   uint64 `json:"auction_length_seconds"`
}

// AuctionEventData records an auction start for a loan.
type AuctionEventData struct {
	LoanID        uint64 `json:"loan_id"`
	Lender        string `json:"lender"`
	AuctionStart  uint64 `json:"auction_start"`
	AuctionLength uint64 `json:"auction_length_seconds"`
}

// SeizeEventData records a collateral seizure after an unbought auction.
type SeizeEventData struct {
	LoanID     uint64 `json:"loan_id"`
	Lender     string `json:"lender"`
	Borrower   string `json:"borrower"`
	Collateral string `json:"collateral"`
	SeizeFee   string `json:"seize_fee"`
}

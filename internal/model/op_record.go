package model

import "encoding/json"

// OpRecord is one ledger operation in a JSONL batch file. Params holds the
// kind-specific payload; Timestamp drives the replay clock (unix seconds).
type OpRecord struct {
	Seq       uint64          `json:"seq"`
	Kind      string          `json:"kind"`
	Caller    string          `json:"caller"`
	Timestamp uint64          `json:"timestamp"`
	Params    json.RawMessage `json:"params"`
}

// OpError records a failed operation for the errors output.
type OpError struct {
	Seq       uint64 `json:"seq"`
	Kind      string `json:"kind"`
	Caller    string `json:"caller"`
	Timestamp uint64 `json:"timestamp"`
	Error     string `json:"error"`
}

// Operation kinds accepted by the apply runner.
const (
	OpSetPool            = "set_pool"
	OpAddToPool          = "add_to_pool"
	OpRemoveFromPool     = "remove_from_pool"
	OpUpdateMaxLoanRatio = "update_max_loan_ratio"
	OpUpdateInterestRate = "update_interest_rate"
	OpBorrow             = "borrow"
	OpRepay              = "repay"
	OpStartAuction       = "start_auction"
	OpBuyLoan            = "buy_loan"
	OpBuyLoanWithPool    = "buy_loan_with_new_pool"
	OpSeizeLoan          = "seize_loan"
	OpGiveLoan           = "give_loan"
	OpRefinance          = "refinance"
)

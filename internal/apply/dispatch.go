package apply

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"peerlend/internal/ledger"
	"peerlend/internal/model"
)

type setPoolParams struct {
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

type poolAmountParams struct {
	PoolID string `json:"pool_id"`
	Amount string `json:"amount"`
}

type poolRatioParams struct {
	PoolID       string `json:"pool_id"`
	MaxLoanRatio string `json:"max_loan_ratio"`
}

type poolRateParams struct {
	PoolID       string `json:"pool_id"`
	InterestRate uint64 `json:"interest_rate_bps"`
}

type borrowItem struct {
	PoolID     string `json:"pool_id"`
	Debt       string `json:"debt"`
	Collateral string `json:"collateral"`
}

type borrowParams struct {
	Requests []borrowItem `json:"requests"`
}

type loanIDsParams struct {
	LoanIDs []uint64 `json:"loan_ids"`
}

type buyLoanParams struct {
	LoanID uint64 `json:"loan_id"`
	PoolID string `json:"pool_id"`
}

type buyLoanWithPoolParams struct {
	LoanID uint64        `json:"loan_id"`
	Pool   setPoolParams `json:"pool"`
}

type giveLoanParams struct {
	LoanIDs []uint64 `json:"loan_ids"`
	PoolIDs []string `json:"pool_ids"`
}

type refinanceItem struct {
	LoanID     uint64 `json:"loan_id"`
	PoolID     string `json:"pool_id"`
	Debt       string `json:"debt"`
	Collateral string `json:"collateral"`
}

type refinanceParams struct {
	Requests []refinanceItem `json:"requests"`
}

// dispatch decodes an operation record and applies it to the ledger.
func (r *Runner) dispatch(ctx context.Context, rec model.OpRecord) error {
	caller, err := parseAddress(rec.Caller)
	if err != nil {
		return fmt.Errorf("caller: %w", err)
	}

	switch rec.Kind {
	case model.OpSetPool:
		var p setPoolParams
		if err := json.Unmarshal(rec.Params, &p); err != nil {
			return fmt.Errorf("parse params: %w", err)
		}
		pool, err := poolFromParams(p)
		if err != nil {
			return err
		}
		_, err = r.ledger.SetPool(ctx, caller, pool)
		return err

	case model.OpAddToPool:
		id, amount, err := parsePoolAmount(rec.Params)
		if err != nil {
			return err
		}
		return r.ledger.AddToPool(ctx, caller, id, amount)

	case model.OpRemoveFromPool:
		id, amount, err := parsePoolAmount(rec.Params)
		if err != nil {
			return err
		}
		return r.ledger.RemoveFromPool(ctx, caller, id, amount)

	case model.OpUpdateMaxLoanRatio:
		var p poolRatioParams
		if err := json.Unmarshal(rec.Params, &p); err != nil {
			return fmt.Errorf("parse params: %w", err)
		}
		ratio, err := parseBigInt(p.MaxLoanRatio)
		if err != nil {
			return fmt.Errorf("max loan ratio: %w", err)
		}
		return r.ledger.UpdateMaxLoanRatio(caller, common.HexToHash(p.PoolID), ratio)

	case model.OpUpdateInterestRate:
		var p poolRateParams
		if err := json.Unmarshal(rec.Params, &p); err != nil {
			return fmt.Errorf("parse params: %w", err)
		}
		return r.ledger.UpdateInterestRate(caller, common.HexToHash(p.PoolID), p.InterestRate)

	case model.OpBorrow:
		var p borrowParams
		if err := json.Unmarshal(rec.Params, &p); err != nil {
			return fmt.Errorf("parse params: %w", err)
		}
		requests := make([]ledger.BorrowRequest, 0, len(p.Requests))
		for i, item := range p.Requests {
			debt, err := parseBigInt(item.Debt)
			if err != nil {
				return fmt.Errorf("request %d debt: %w", i, err)
			}
			collateral, err := parseBigInt(item.Collateral)
			if err != nil {
				return fmt.Errorf("request %d collateral: %w", i, err)
			}
			requests = append(requests, ledger.BorrowRequest{
				PoolID:     common.HexToHash(item.PoolID),
				Debt:       debt,
				Collateral: collateral,
			})
		}
		_, err := r.ledger.Borrow(ctx, caller, requests)
		return err

	case model.OpRepay:
		var p loanIDsParams
		if err := json.Unmarshal(rec.Params, &p); err != nil {
			return fmt.Errorf("parse params: %w", err)
		}
		return r.ledger.Repay(ctx, caller, p.LoanIDs)

	case model.OpStartAuction:
		var p loanIDsParams
		if err := json.Unmarshal(rec.Params, &p); err != nil {
			return fmt.Errorf("parse params: %w", err)
		}
		return r.ledger.StartAuction(caller, p.LoanIDs)

	case model.OpBuyLoan:
		var p buyLoanParams
		if err := json.Unmarshal(rec.Params, &p); err != nil {
			return fmt.Errorf("parse params: %w", err)
		}
		return r.ledger.BuyLoan(ctx, p.LoanID, common.HexToHash(p.PoolID))

	case model.OpBuyLoanWithPool:
		var p buyLoanWithPoolParams
		if err := json.Unmarshal(rec.Params, &p); err != nil {
			return fmt.Errorf("parse params: %w", err)
		}
		pool, err := poolFromParams(p.Pool)
		if err != nil {
			return err
		}
		_, err = r.ledger.BuyLoanWithNewPool(ctx, caller, pool, p.LoanID)
		return err

	case model.OpSeizeLoan:
		var p loanIDsParams
		if err := json.Unmarshal(rec.Params, &p); err != nil {
			return fmt.Errorf("parse params: %w", err)
		}
		return r.ledger.SeizeLoan(ctx, p.LoanIDs)

	case model.OpGiveLoan:
		var p giveLoanParams
		if err := json.Unmarshal(rec.Params, &p); err != nil {
			return fmt.Errorf("parse params: %w", err)
		}
		poolIDs := make([]common.Hash, 0, len(p.PoolIDs))
		for _, id := range p.PoolIDs {
			poolIDs = append(poolIDs, common.HexToHash(id))
		}
		return r.ledger.GiveLoan(ctx, caller, p.LoanIDs, poolIDs)

	case model.OpRefinance:
		var p refinanceParams
		if err := json.Unmarshal(rec.Params, &p); err != nil {
			return fmt.Errorf("parse params: %w", err)
		}
		requests := make([]ledger.RefinanceRequest, 0, len(p.Requests))
		for i, item := range p.Requests {
			debt, err := parseBigInt(item.Debt)
			if err != nil {
				return fmt.Errorf("request %d debt: %w", i, err)
			}
			collateral, err := parseBigInt(item.Collateral)
			if err != nil {
				return fmt.Errorf("request %d collateral: %w", i, err)
			}
			requests = append(requests, ledger.RefinanceRequest{
				LoanID:     item.LoanID,
				PoolID:     common.HexToHash(item.PoolID),
				Debt:       debt,
				Collateral: collateral,
			})
		}
		return r.ledger.Refinance(ctx, caller, requests)

	default:
		return fmt.Errorf("unknown op kind: %s", rec.Kind)
	}
}

func poolFromParams(p setPoolParams) (model.Pool, error) {
	lender, err := parseAddress(p.Lender)
	if err != nil {
		return model.Pool{}, fmt.Errorf("lender: %w", err)
	}
	loanToken, err := parseAddress(p.LoanToken)
	if err != nil {
		return model.Pool{}, fmt.Errorf("loan token: %w", err)
	}
	collateralToken, err := parseAddress(p.CollateralToken)
	if err != nil {
		return model.Pool{}, fmt.Errorf("collateral token: %w", err)
	}
	minLoanSize, err := parseBigInt(p.MinLoanSize)
	if err != nil {
		return model.Pool{}, fmt.Errorf("min loan size: %w", err)
	}
	poolBalance, err := parseBigInt(p.PoolBalance)
	if err != nil {
		return model.Pool{}, fmt.Errorf("pool balance: %w", err)
	}
	maxLoanRatio, err := parseBigInt(p.MaxLoanRatio)
	if err != nil {
		return model.Pool{}, fmt.Errorf("max loan ratio: %w", err)
	}
	outstanding, err := parseBigInt(p.OutstandingLoans)
	if err != nil {
		return model.Pool{}, fmt.Errorf("outstanding loans: %w", err)
	}
	return model.Pool{
		Lender:           lender,
		LoanToken:        loanToken,
		CollateralToken:  collateralToken,
		MinLoanSize:      minLoanSize,
		PoolBalance:      poolBalance,
		MaxLoanRatio:     maxLoanRatio,
		AuctionLength:    time.Duration(p.AuctionLength) * time.Second,
		InterestRate:     p.InterestRate,
		OutstandingLoans: outstanding,
	}, nil
}

func parsePoolAmount(raw json.RawMessage) (common.Hash, *big.Int, error) {
	var p poolAmountParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return common.Hash{}, nil, fmt.Errorf("parse params: %w", err)
	}
	amount, err := parseBigInt(p.Amount)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("amount: %w", err)
	}
	return common.HexToHash(p.PoolID), amount, nil
}

func parseAddress(value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid address: %s", value)
	}
	return common.HexToAddress(value), nil
}

func parseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return parsed, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"peerlend/internal/model"
)

// Store provides Postgres persistence for ledger snapshots and events.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertPools inserts or updates pool snapshots.
func (s *Store) UpsertPools(ctx context.Context, pools []model.PoolSnapshot) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range pools {
		p := snap.Pool
		batch.Queue(`
			INSERT INTO pools (
				pool_id, lender, loan_token, collateral_token, min_loan_size,
				pool_balance, max_loan_ratio, auction_length_seconds,
				interest_rate_bps, outstanding_loans, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
			ON CONFLICT (pool_id)
			DO UPDATE SET
				min_loan_size = EXCLUDED.min_loan_size,
				pool_balance = EXCLUDED.pool_balance,
				max_loan_ratio = EXCLUDED.max_loan_ratio,
				auction_length_seconds = EXCLUDED.auction_length_seconds,
				interest_rate_bps = EXCLUDED.interest_rate_bps,
				outstanding_loans = EXCLUDED.outstanding_loans,
				updated_at = now()
		`,
			snap.ID.Hex(),
			p.Lender.Hex(),
			p.LoanToken.Hex(),
			p.CollateralToken.Hex(),
			p.MinLoanSize.String(),
			p.PoolBalance.String(),
			p.MaxLoanRatio.String(),
			int64(p.AuctionLength/time.Second),
			int64(p.InterestRate),
			p.OutstandingLoans.String(),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertLoans inserts or updates loan slots, tombstones included.
func (s *Store) UpsertLoans(ctx context.Context, loans []model.LoanSnapshot) error {
	if len(loans) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range loans {
		l := snap.Loan
		var auctionStart *int64
		if l.AuctionStart != nil {
			ts := l.AuctionStart.Unix()
			auctionStart = &ts
		}
		batch.Queue(`
			INSERT INTO loans (
				loan_id, lender, borrower, loan_token, collateral_token, debt,
				collateral, interest_rate_bps, start_ts, auction_start_ts,
				auction_length_seconds, active, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
			ON CONFLICT (loan_id)
			DO UPDATE SET
				lender = EXCLUDED.lender,
				borrower = EXCLUDED.borrower,
				loan_token = EXCLUDED.loan_token,
				collateral_token = EXCLUDED.collateral_token,
				debt = EXCLUDED.debt,
				collateral = EXCLUDED.collateral,
				interest_rate_bps = EXCLUDED.interest_rate_bps,
				start_ts = EXCLUDED.start_ts,
				auction_start_ts = EXCLUDED.auction_start_ts,
				auction_length_seconds = EXCLUDED.auction_length_seconds,
				active = EXCLUDED.active,
				updated_at = now()
		`,
			int64(snap.ID),
			l.Lender.Hex(),
			l.Borrower.Hex(),
			l.LoanToken.Hex(),
			l.CollateralToken.Hex(),
			bigOrZero(l.Debt),
			bigOrZero(l.Collateral),
			int64(l.InterestRate),
			l.StartTime.Unix(),
			auctionStart,
			int64(l.AuctionLength/time.Second),
			l.Active,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range loans {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// AppendEvents writes event records to the audit table.
func (s *Store) AppendEvents(ctx context.Context, events []model.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		batch.Queue(`
			INSERT INTO ledger_events (kind, event_ts, data, created_at)
			VALUES ($1, $2, $3, now())
		`, ev.Kind, int64(ev.Timestamp), data)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns last_applied_seq for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var seq uint64
	row := s.pool.QueryRow(ctx, `SELECT last_applied_seq FROM apply_state WHERE name=$1`, name)
	if err := row.Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return seq, true, nil
}

// SaveState upserts last_applied_seq for a name.
func (s *Store) SaveState(ctx context.Context, name string, seq uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO apply_state (name, last_applied_seq, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_applied_seq = EXCLUDED.last_applied_seq, updated_at = now()
	`, name, seq)
	return err
}

func bigOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

package apply

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"peerlend/internal/ledger"
	"peerlend/internal/model"
	"peerlend/internal/storage"
)

// Snapshotter persists pool/loan snapshots and the resume position. Nil
// disables snapshotting.
type Snapshotter interface {
	UpsertPools(ctx context.Context, pools []model.PoolSnapshot) error
	UpsertLoans(ctx context.Context, loans []model.LoanSnapshot) error
	AppendEvents(ctx context.Context, events []model.EventRecord) error
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, seq uint64) error
}

// RunConfig holds runtime settings for the apply runner.
type RunConfig struct {
	InputPath     string
	ErrorsPath    string
	SnapshotEvery int
	StateName     string
}

// Runner replays an operation file against the ledger: one JSON line per
// operation, applied in file order under the recorded timestamps. A failed
// operation is recorded and skipped; core batch semantics (abort mid-batch,
// no rollback of earlier items) live inside the ledger itself.
type Runner struct {
	cfg       RunConfig
	ledger    *ledger.Ledger
	clock     *ReplayClock
	collector *Collector
	events    storage.EventStorage
	snapshots Snapshotter
	logger    *zap.Logger
}

func NewRunner(cfg RunConfig, led *ledger.Ledger, clock *ReplayClock, collector *Collector, events storage.EventStorage, snapshots Snapshotter, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:       cfg,
		ledger:    led,
		clock:     clock,
		collector: collector,
		events:    events,
		snapshots: snapshots,
		logger:    logger,
	}
}

// Run executes the replay loop.
func (r *Runner) Run(ctx context.Context) error {
	if r.ledger == nil {
		return fmt.Errorf("ledger is nil")
	}
	if r.cfg.InputPath == "" {
		return fmt.Errorf("input path is required")
	}

	var resumeSeq uint64
	if r.snapshots != nil && r.cfg.StateName != "" {
		seq, ok, err := r.snapshots.LoadState(ctx, r.cfg.StateName)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		if ok {
			resumeSeq = seq
			r.logger.Info("resume from state", zap.Uint64("last_applied_seq", seq))
		}
	}

	file, err := os.Open(r.cfg.InputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	var applied, failed, lastSeq uint64
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.OpRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("parse op record: %w", err)
		}
		if resumeSeq > 0 && rec.Seq <= resumeSeq {
			continue
		}

		r.clock.Set(time.Unix(int64(rec.Timestamp), 0).UTC())
		opErr := r.dispatch(ctx, rec)

		// Events emitted before a failing batch item reflect state that
		// stays applied; flush them regardless of the op outcome.
		if events := r.collector.Drain(); len(events) > 0 {
			if r.events != nil {
				if err := r.events.PutEventBatch(events); err != nil {
					return fmt.Errorf("write events: %w", err)
				}
			}
			if r.snapshots != nil {
				if err := r.snapshots.AppendEvents(ctx, events); err != nil {
					return fmt.Errorf("append events: %w", err)
				}
			}
		}

		if opErr != nil {
			failed++
			r.logger.Warn("op failed",
				zap.Uint64("seq", rec.Seq),
				zap.String("kind", rec.Kind),
				zap.Error(opErr),
			)
			if err := r.appendOpError(rec, opErr); err != nil {
				return err
			}
		} else {
			applied++
		}
		lastSeq = rec.Seq

		if r.cfg.SnapshotEvery > 0 && (applied+failed)%uint64(r.cfg.SnapshotEvery) == 0 {
			if err := r.snapshot(ctx, lastSeq); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	if err := r.snapshot(ctx, lastSeq); err != nil {
		return err
	}

	r.logger.Info("apply done",
		zap.Uint64("applied", applied),
		zap.Uint64("failed", failed),
		zap.Uint64("last_seq", lastSeq),
	)
	return nil
}

func (r *Runner) snapshot(ctx context.Context, lastSeq uint64) error {
	if r.snapshots == nil {
		return nil
	}
	if err := r.snapshots.UpsertPools(ctx, r.ledger.SnapshotPools()); err != nil {
		return fmt.Errorf("upsert pools: %w", err)
	}
	if err := r.snapshots.UpsertLoans(ctx, r.ledger.SnapshotLoans()); err != nil {
		return fmt.Errorf("upsert loans: %w", err)
	}
	if r.cfg.StateName != "" && lastSeq > 0 {
		if err := r.snapshots.SaveState(ctx, r.cfg.StateName, lastSeq); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
	}
	return nil
}

func (r *Runner) appendOpError(rec model.OpRecord, opErr error) error {
	if r.cfg.ErrorsPath == "" {
		return nil
	}
	dir := filepath.Dir(r.cfg.ErrorsPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create errors dir: %w", err)
		}
	}
	file, err := os.OpenFile(r.cfg.ErrorsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open errors file: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(model.OpError{
		Seq:       rec.Seq,
		Kind:      rec.Kind,
		Caller:    rec.Caller,
		Timestamp: rec.Timestamp,
		Error:     opErr.Error(),
	})
	if err != nil {
		return fmt.Errorf("marshal op error: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write op error: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"peerlend/internal/apply"
	"peerlend/internal/config"
	"peerlend/internal/ledger"
	"peerlend/internal/storage"
	"peerlend/internal/storage/postgres"
	"peerlend/internal/token"
)

func main() {
	root := &cobra.Command{
		Use:          "lenderd",
		Short:        "Peer-to-peer lending ledger",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply an operation batch file to the ledger",
		RunE:  runApply,
	}

	applyCmd.Flags().String("in", "", "input operations JSONL")
	applyCmd.Flags().String("events-out", "./data/events.jsonl", "output events JSONL")
	applyCmd.Flags().String("errors-out", "./data/op_errors.jsonl", "failed ops JSONL")
	applyCmd.Flags().String("balances", "", "balances seed JSONL for the gateway book")
	applyCmd.Flags().String("pg-dsn", "", "Postgres DSN for snapshots (optional)")
	applyCmd.Flags().Int("snapshot-every", 100, "snapshot pools/loans every N ops")
	applyCmd.Flags().String("custody", "", "ledger custody address")
	applyCmd.Flags().String("fee-receiver", "", "protocol fee receiver address")
	applyCmd.Flags().Uint64("lender-fee-bps", 1000, "protocol share of lender interest (bps)")
	applyCmd.Flags().Uint64("borrower-fee-bps", 50, "origination and seizure fee (bps)")
	applyCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(applyCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runApply(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if !common.IsHexAddress(cfg.Custody) {
		return fmt.Errorf("custody address is required")
	}
	if !common.IsHexAddress(cfg.FeeReceiver) {
		return fmt.Errorf("fee receiver address is required")
	}
	custody := common.HexToAddress(cfg.Custody)
	feeReceiver := common.HexToAddress(cfg.FeeReceiver)

	params, err := ledger.NewParams(cfg.LenderFeeBps, cfg.BorrowerFeeBps, feeReceiver)
	if err != nil {
		return fmt.Errorf("fee params: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	book := token.NewBook(custody)
	if cfg.BalancesIn != "" {
		if err := apply.SeedBalances(cfg.BalancesIn, book); err != nil {
			return err
		}
	}

	clock := apply.NewReplayClock()
	collector := apply.NewCollector()
	led := ledger.New(custody, book, params, collector, logger)
	led.SetClock(clock.Now)

	var events storage.EventStorage
	if cfg.EventsOut != "" {
		events = storage.NewJsonlStorage(cfg.EventsOut)
	}

	var snapshots apply.Snapshotter
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		snapshots = store
	}

	runner := apply.NewRunner(apply.RunConfig{
		InputPath:     cfg.In,
		ErrorsPath:    cfg.ErrorsOut,
		SnapshotEvery: cfg.SnapshotEvery,
		StateName:     "apply:" + cfg.In,
	}, led, clock, collector, events, snapshots, logger)

	logger.Info("apply start",
		zap.String("in", cfg.In),
		zap.String("events_out", cfg.EventsOut),
		zap.String("errors_out", cfg.ErrorsOut),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("custody", custody.Hex()),
		zap.String("fee_receiver", feeReceiver.Hex()),
		zap.Uint64("lender_fee_bps", cfg.LenderFeeBps),
		zap.Uint64("borrower_fee_bps", cfg.BorrowerFeeBps),
	)

	return runner.Run(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	In             string
	EventsOut      string
	ErrorsOut      string
	BalancesIn     string
	PGDSN          string
	SnapshotEvery  int
	Custody        string
	FeeReceiver    string
	LenderFeeBps   uint64
	BorrowerFeeBps uint64
	LogLevel       string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LENDERD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("events-out", "./data/events.jsonl")
	v.SetDefault("errors-out", "./data/op_errors.jsonl")
	v.SetDefault("snapshot-every", 100)
	v.SetDefault("lender-fee-bps", uint64(1000))
	v.SetDefault("borrower-fee-bps", uint64(50))
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		In:             v.GetString("in"),
		EventsOut:      v.GetString("events-out"),
		ErrorsOut:      v.GetString("errors-out"),
		BalancesIn:     v.GetString("balances"),
		PGDSN:          v.GetString("pg-dsn"),
		SnapshotEvery:  v.GetInt("snapshot-every"),
		Custody:        v.GetString("custody"),
		FeeReceiver:    v.GetString("fee-receiver"),
		LenderFeeBps:   v.GetUint64("lender-fee-bps"),
		BorrowerFeeBps: v.GetUint64("borrower-fee-bps"),
		LogLevel:       v.GetString("log-level"),
	}

	return cfg, nil
}

// Package cmd is the ledger command tree.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"strategy-ledger/internal/app"
	"strategy-ledger/internal/config"
	"strategy-ledger/internal/logger"
)

// env is the state shared by every subcommand, filled in before RunE.
type env struct {
	configPath string
	cfg        *config.Config
	log        *zap.Logger
}

// build wires the application for one command invocation.
func (e *env) build(ctx context.Context) (*app.App, error) {
	a, err := app.Build(ctx, e.cfg, e.log)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	return a, nil
}

// NewRootCmd returns the ledger command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:   "ledger",
		Short: "Strategy trade ledger and performance analytics",
		Long: `Ledger records fills and strategy signals, tracks per-strategy FIFO lots
and reports strategy performance.

Commands:
  serve       - Run the HTTP endpoint, event feed and metrics collector
  migrate     - Apply database schemas
  summary     - Print a performance report for all strategies
  sharpe      - Print the Sharpe ratio of one strategy
  lots        - List lots of one strategy
  signals     - List signals by workflow, strategy or lifecycle state
  strategies  - Import or list strategy metadata

Configuration is read from --config and LEDGER_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(e.configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			e.cfg, e.log = cfg, log
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if e.log != nil {
				_ = e.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&e.configPath, "config", "c", "", "config file (yaml)")

	root.AddCommand(
		newServeCmd(e),
		newMigrateCmd(e),
		newSummaryCmd(e),
		newSharpeCmd(e),
		newLotsCmd(e),
		newSignalsCmd(e),
		newStrategiesCmd(e),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

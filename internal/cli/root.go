// Package cli implements creditctl, the operator tool for credit ledgers.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/config"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/storage"
)

var Version = "dev"

// app holds the storage selection shared by every subcommand.
type app struct {
	driver  string
	dsn     string
	verbose bool
}

// open loads the environment configuration and applies the flag overrides.
func (a *app) open(ctx context.Context) (*config.Config, *storage.Backend, error) {
	cfg := config.Load()
	if a.driver != "" {
		cfg.Storage.LedgerDriver = a.driver
	}
	if a.dsn != "" {
		cfg.Storage.LedgerDSN = a.dsn
	}

	backend, err := storage.Open(ctx, &cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	return cfg, backend, nil
}

func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "creditctl",
		Short:        "Inspect and adjust chat credit ledgers",
		Long:         "creditctl reads and writes the credit ledger and streaming sessions used by the chat gateway.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger := zap.NewNop()
			if a.verbose {
				var err error
				if logger, err = zap.NewDevelopment(); err != nil {
					return err
				}
			}
			observability.SetLogger(logger)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&a.driver, "driver", "", "Ledger driver (memory, sqlite, mysql); defaults to LEDGER_DRIVER")
	root.PersistentFlags().StringVar(&a.dsn, "dsn", "", "Ledger DSN; defaults to LEDGER_DSN")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log to stderr")

	root.AddCommand(
		newBalanceCmd(a),
		newAllocateCmd(a),
		newSessionsCmd(a),
	)

	root.Version = Version

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

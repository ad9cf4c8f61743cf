package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/config"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/storage"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and reconcile streaming sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newSessionsListCmd(a), newSessionsSweepCmd(a))

	return cmd
}

func newSessionsListCmd(a *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, backend, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			sessions, err := backend.Sessions.ListActive(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "no active sessions")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tUSER\tMODEL\tALLOCATED\tSTARTED")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.6f\t%s\n",
					s.SessionID, s.UserID, s.ModelID, s.AllocatedCredits, s.StartedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only list sessions started at least this long ago")

	return cmd
}

func newSessionsSweepCmd(a *app) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Abort active sessions older than the maximum age",
		Long:  "Aborts stale active sessions with zero generated tokens, refunding their whole escrow.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, backend, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			if !cmd.Flags().Changed("max-age") {
				maxAge = cfg.Sweeper.MaxAge
			}

			swept, err := sweep(ctx, cfg, backend, maxAge)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "swept %d sessions\n", swept)
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 15*time.Minute, "Abort sessions started longer ago than this; defaults to SESSION_MAX_AGE")

	return cmd
}

func sweep(ctx context.Context, cfg *config.Config, backend *storage.Backend, maxAge time.Duration) (int, error) {
	calculator, err := config.NewCostCalculator(ctx, &cfg.Credits)
	if err != nil {
		return 0, err
	}

	logger := observability.FromContext(ctx)
	manager := domain.NewSessionManager(
		backend.Ledger,
		backend.Sessions,
		calculator,
		observability.NewEventBus(logger),
		domain.SessionManagerOptions{
			Service:          cfg.Credits.Service,
			ChargeOverage:    cfg.Credits.ChargeOverage,
			RefundExpiryDays: cfg.Credits.RefundExpiryDays,
		},
	)

	lifetime := domain.PipelineOptions{
		Timeout:       cfg.Streaming.Timeout,
		LedgerTimeout: cfg.Streaming.LedgerTimeout,
	}.Lifetime()

	sweeper, err := domain.NewSessionSweeper(backend.Sessions, manager, maxAge, lifetime)
	if err != nil {
		return 0, err
	}
	return sweeper.Sweep(ctx)
}

package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
)

type balanceReport struct {
	UserID      string                     `json:"userId"`
	Balance     float64                    `json:"balance"`
	Allocations []*domain.CreditAllocation `json:"allocations"`
}

func newBalanceCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a user's balance and allocations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, backend, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			userID := args[0]
			balance, err := backend.Ledger.Balance(ctx, userID)
			if err != nil {
				return err
			}
			allocations, err := backend.Ledger.Allocations(ctx, userID)
			if err != nil {
				return err
			}

			report := balanceReport{UserID: userID, Balance: domain.RoundCredits(balance), Allocations: allocations}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s balance: %.6f\n", userID, report.Balance)
			if len(allocations) == 0 {
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tREMAINING\tTOTAL\tEXPIRES\tBY\tNOTES")
			for _, alloc := range allocations {
				fmt.Fprintf(tw, "%d\t%.6f\t%.6f\t%s\t%s\t%s\n",
					alloc.ID, alloc.RemainingCredits, alloc.TotalCredits,
					alloc.ExpiresAt.Format(time.DateOnly), alloc.AllocatedBy, alloc.Notes)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")

	return cmd
}

package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
)

func newAllocateCmd(a *app) *cobra.Command {
	var (
		expiryDays int
		notes      string
		by         string
	)

	cmd := &cobra.Command{
		Use:   "allocate <user-id> <credits>",
		Short: "Grant credits to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			credits, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid credits %q: %w", args[1], err)
			}
			if credits <= 0 {
				return errors.New("credits must be positive")
			}

			ctx := cmd.Context()
			_, backend, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			alloc, err := backend.Ledger.Allocate(ctx, domain.AllocationRequest{
				UserID:      args[0],
				Credits:     credits,
				AllocatedBy: by,
				ExpiryDays:  expiryDays,
				Notes:       notes,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "allocated %.6f credits to %s (id %d, expires %s)\n",
				alloc.TotalCredits, alloc.UserID, alloc.ID, alloc.ExpiresAt.Format(time.DateOnly))
			return nil
		},
	}

	cmd.Flags().IntVar(&expiryDays, "expiry-days", domain.DefaultExpiryDays, "Days until the allocation expires")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form note stored with the allocation")
	cmd.Flags().StringVar(&by, "by", "creditctl", "Allocator recorded on the allocation")

	return cmd
}

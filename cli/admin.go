package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newAdminCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Privileged engine configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set-oracle <address>",
		Short: "Register the address allowed to settle policies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			if err := app.Policies.SetOracle(ctx, app.Caller(opts), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "oracle set to %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-dispute-link <address>",
		Short: "Register the dispute-side address allowed to replay settlements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			if err := app.Policies.SetDisputeLink(ctx, app.Caller(opts), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dispute link set to %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-insurance-link <address>",
		Short: "Register the insurance-side address the dispute engine targets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			if err := app.Disputes.SetInsuranceLink(ctx, app.Caller(opts), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "insurance link set to %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "fund <amount>",
		Short: "Credit the premium pool payouts are drawn from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			amount, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("cli: parse amount %q: %w", args[0], err)
			}

			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			if err := app.Policies.Fund(ctx, amount); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "premium pool credited %d\n", amount)
			return nil
		},
	})

	return cmd
}

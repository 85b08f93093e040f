package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newPolicyCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Policy queries and fee quotation",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("cli: parse policy id %q: %w", args[0], err)
			}

			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			p, err := app.Policies.Get(ctx, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "policy %d owner=%s zip=%s window=[%d,%d] cap=%d %s@%d slope=%d fee=%d\n",
				p.ID, p.Owner, p.ZipCode, p.T0, p.T1, p.Cap, p.Direction, p.Threshold, p.Slope, p.FeePaid)
			fmt.Fprintf(out, "status=%s payout=%d settled_round=%d created_round=%d\n",
				p.Status, p.Payout, p.SettledRound, p.CreatedRound)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "by-owner <address>",
		Short: "List an owner's policies, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			list, err := app.Policies.ByOwner(ctx, args[0])
			if err != nil {
				return err
			}
			for _, p := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\tcap=%d\tstatus=%s\tpayout=%d\n", p.ID, p.ZipCode, p.Cap, p.Status, p.Payout)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "timing <id>",
		Short: "Classify a policy against the current round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("cli: parse policy id %q: %w", args[0], err)
			}

			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			st, err := app.Policies.ValidateTiming(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", st)
			return nil
		},
	})

	quote := &cobra.Command{
		Use:   "quote",
		Short: "Price a coverage request without touching storage",
		Args:  cobra.NoArgs,
	}
	var capAmount, risk, uncertainty, days int64
	quote.Flags().Int64Var(&capAmount, "cap", 0, "payout ceiling")
	quote.Flags().Int64Var(&risk, "risk", 0, "regional risk score")
	quote.Flags().Int64Var(&uncertainty, "uncertainty", 0, "forecast uncertainty")
	quote.Flags().Int64Var(&days, "days", 0, "coverage duration in days")
	quote.RunE = func(cmd *cobra.Command, args []string) error {
		app, done, err := connect(cmd.Context(), opts)
		if err != nil {
			return err
		}
		defer done()

		fee, err := app.Policies.QuoteFee(capAmount, risk, uncertainty, days)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d\n", fee)
		return nil
	}
	cmd.AddCommand(quote)

	return cmd
}

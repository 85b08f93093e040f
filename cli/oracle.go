package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"cropshield/oracle"
)

func newOracleCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oracle",
		Short: "Oracle decision intake",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "settle <token>",
		Short: "Verify a signed decision document and settle the policy it names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			cfg, err := app.Policies.Globals(ctx)
			if err != nil {
				return err
			}

			d, err := oracle.NewVerifier(app.Cfg.OracleSecret, cfg.Oracle).Verify(args[0])
			if err != nil {
				return err
			}

			payout, err := app.Policies.Settle(ctx, cfg.Oracle, d.PolicyID, d.Approved)
			if err != nil {
				return err
			}
			app.Log.Infow("oracle decision applied",
				"policy_id", d.PolicyID,
				"approved", d.Approved,
				"payout", payout,
				"confidence", d.Confidence,
			)
			fmt.Fprintf(cmd.OutOrStdout(), "policy %d settled, payout %d\n", d.PolicyID, payout)
			return nil
		},
	})

	return cmd
}

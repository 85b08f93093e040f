package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newDisputeCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispute",
		Short: "Dispute queries and administrative archival",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one dispute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("cli: parse dispute id %q: %w", args[0], err)
			}

			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			d, err := app.Disputes.Get(ctx, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dispute %d policy=%d claimant=%s status=%s\n", d.ID, d.PolicyID, d.Claimant, d.Status)
			fmt.Fprintf(out, "votes yes=%d no=%d total=%d deadline=%d resolved_round=%d\n",
				d.YesVotes, d.NoVotes, d.TotalVotes, d.VotingDeadline, d.ResolutionRound)
			if d.Reason != "" {
				fmt.Fprintf(out, "reason: %s\n", d.Reason)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status <id>",
		Short: "Report a dispute's status, persisting expiry if observed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("cli: parse dispute id %q: %w", args[0], err)
			}

			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			st, err := app.Disputes.Status(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), st)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "active",
		Short: "List disputes still collecting votes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			list, err := app.Disputes.Active(ctx)
			if err != nil {
				return err
			}
			for _, d := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\tpolicy=%d\tvotes=%d/%d\tdeadline=%d\n",
					d.ID, d.PolicyID, d.YesVotes, d.TotalVotes, d.VotingDeadline)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "panel <id>",
		Short: "List the jurors assigned to a dispute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("cli: parse dispute id %q: %w", args[0], err)
			}

			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			addrs, err := app.Disputes.Panel(ctx, id)
			if err != nil {
				return err
			}
			for _, a := range addrs {
				fmt.Fprintln(cmd.OutOrStdout(), a)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "archive <id>",
		Short: "Move a decided dispute to processed (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("cli: parse dispute id %q: %w", args[0], err)
			}

			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			if err := app.Disputes.Archive(ctx, app.Caller(opts), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dispute %d archived\n", id)
			return nil
		},
	})

	return cmd
}

func newJurorCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "juror",
		Short: "Juror registry queries",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <address>",
		Short: "Show one juror",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			j, err := app.Disputes.Juror(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "juror %s reputation=%d votes=%d correct=%d registered=%d last_vote=%d stake=%d\n",
				j.Address, j.Reputation, j.TotalVotes, j.CorrectVotes, j.RegistrationRound, j.LastVoteRound, j.StakedAmount)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "eligibility <address>",
		Short: "Classify an address against the juror requirements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			e, err := app.Disputes.Eligibility(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", e)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "docket <address>",
		Short: "List the dispute ids a juror sits on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			ids, err := app.Disputes.AssignedTo(ctx, args[0])
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})

	return cmd
}

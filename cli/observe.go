package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatsCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the running counters of both engines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			s, err := app.Queries.Statistics(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "insurance: policies=%d coverage=%d payouts=%d active=%d fees=%d\n",
				s.Insurance.TotalPolicies, s.Insurance.TotalCoverage, s.Insurance.TotalPayouts,
				s.Insurance.ActivePolicies, s.Insurance.TotalFees)
			fmt.Fprintf(out, "disputes: total=%d resolved=%d rejected=%d votes=%d jurors=%d\n",
				s.Dispute.TotalDisputes, s.Dispute.ResolvedDisputes, s.Dispute.RejectedDisputes,
				s.Dispute.VotesCast, s.Dispute.ActiveJurors)
			return nil
		},
	}
}

func newEventsCommand(opts *Options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events [id]",
		Short: "Show one audit event by id, or the most recent ones",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("cli: parse event id %q: %w", args[0], err)
				}
				ev, err := app.Queries.Event(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s/%d\tactor=%s\tround=%d\tamount=%d\t%s\n",
					ev.ID, ev.Kind, ev.SubjectKind, ev.SubjectID, ev.Actor, ev.Round, ev.Amount, ev.Detail)
				return nil
			}

			list, err := app.Queries.Recent(ctx, limit)
			if err != nil {
				return err
			}
			for _, ev := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s/%d\tactor=%s\tround=%d\tamount=%d\n",
					ev.ID, ev.Kind, ev.SubjectKind, ev.SubjectID, ev.Actor, ev.Round, ev.Amount)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to list")
	return cmd
}

func newSettlementsCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settlements",
		Short: "Monitor and retry bridged settlement calls",
	}

	pending := &cobra.Command{
		Use:   "pending",
		Short: "List settlement replays still awaiting success",
		Args:  cobra.NoArgs,
	}
	var limit int
	pending.Flags().IntVar(&limit, "limit", 50, "maximum rows to list")
	pending.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, done, err := connect(ctx, opts)
		if err != nil {
			return err
		}
		defer done()

		list, err := app.Bridge.Pending(ctx, limit)
		if err != nil {
			return err
		}
		for _, c := range list {
			fmt.Fprintf(cmd.OutOrStdout(), "dispute=%d\tpolicy=%d\tapproved=%t\tattempts=%d\tlast_error=%s\n",
				c.DisputeID, c.PolicyID, c.Approved, c.Attempts, c.LastError)
		}
		return nil
	}
	cmd.AddCommand(pending)

	retry := &cobra.Command{
		Use:   "retry",
		Short: "Replay pending settlement calls",
		Args:  cobra.NoArgs,
	}
	var batch int
	retry.Flags().IntVar(&batch, "limit", 10, "maximum calls to replay")
	retry.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, done, err := connect(ctx, opts)
		if err != nil {
			return err
		}
		defer done()

		moved, err := app.Bridge.Retry(ctx, batch)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d calls left the pending state\n", moved)
		return nil
	}
	cmd.AddCommand(retry)

	return cmd
}

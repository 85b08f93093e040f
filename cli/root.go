// Package cli is the operational surface over the engines: schema
// migration, bootstrap, admin links, oracle intake and the read-only
// queries. Commands connect, act once and exit; the logical round is
// supplied per invocation because the substrate, not this process,
// owns the clock.
package cli

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cropshield/audit"
	"cropshield/bridge"
	"cropshield/config"
	"cropshield/db"
	"cropshield/dispute"
	"cropshield/policy"
	"cropshield/rounds"
)

// Options holds the global flags shared by all commands.
type Options struct {
	Round  int64
	Caller string
}

// NewRootCommand builds the cropshield command tree.
func NewRootCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:           "cropshield",
		Short:         "Parametric crop insurance and community dispute engines",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().Int64Var(&opts.Round, "round", 0, "current logical round of the execution substrate")
	cmd.PersistentFlags().StringVar(&opts.Caller, "caller", "", "address the operation runs as (defaults to the configured admin)")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newInitCommand(opts))
	cmd.AddCommand(newAdminCommand(opts))
	cmd.AddCommand(newPolicyCommand(opts))
	cmd.AddCommand(newDisputeCommand(opts))
	cmd.AddCommand(newJurorCommand(opts))
	cmd.AddCommand(newOracleCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newEventsCommand(opts))
	cmd.AddCommand(newSettlementsCommand(opts))

	return cmd
}

// App bundles the wired services one command invocation runs against.
type App struct {
	Cfg      config.Config
	Log      *zap.SugaredLogger
	Pool     *pgxpool.Pool
	Policies *policy.Service
	Disputes *dispute.Service
	Bridge   *bridge.Bridge
	Queries  *audit.Queries
}

// Caller resolves the acting address for a command.
func (a *App) Caller(opts *Options) string {
	if opts.Caller != "" {
		return opts.Caller
	}
	return a.Cfg.AdminAddress
}

// connect loads configuration, opens the pool and wires both engines
// together with the settlement bridge. The returned closer flushes the
// logger and releases the pool.
func connect(ctx context.Context, opts *Options) (*App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	log, err := newLogger(cfg.LogMode)
	if err != nil {
		return nil, nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Sync()
		return nil, nil, err
	}

	clock := rounds.NewCounter(cfg.StartRound)
	clock.AdvanceTo(opts.Round)

	policies := policy.NewService(pool, nil, nil, clock)
	disputes := dispute.NewService(pool, nil, nil, clock)
	br := bridge.New(pool, policies, cfg.BridgeAddress, log, clock)
	disputes.WithSettlements(br)
	policies.WithDisputes(disputes)

	app := &App{
		Cfg:      cfg,
		Log:      log,
		Pool:     pool,
		Policies: policies,
		Disputes: disputes,
		Bridge:   br,
		Queries:  audit.NewQueries(pool),
	}
	closer := func() {
		pool.Close()
		log.Sync()
	}
	return app, closer, nil
}

func newLogger(mode string) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if mode == "production" {
		l, err = zap.NewProduction()
	} else {
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, fmt.Errorf("cli: build logger: %w", err)
	}
	return l.Sugar(), nil
}

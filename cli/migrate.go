package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"cropshield/config"
	"cropshield/db"
)

func newMigrateCommand(opts *Options) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQL schema to the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			pool, err := db.NewPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.ApplyMigrations(ctx, pool, dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied from %s\n", dir)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (defaults to MIGRATIONS_DIR)")
	return cmd
}

func newInitCommand(opts *Options) *cobra.Command {
	var admin string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Bootstrap both engines with their admin address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, done, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer done()

			if admin == "" {
				admin = app.Cfg.AdminAddress
			}
			if err := app.Policies.Initialize(ctx, admin); err != nil {
				return err
			}
			if err := app.Disputes.Initialize(ctx, admin); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "engines initialized, admin %s\n", admin)
			return nil
		},
	}

	cmd.Flags().StringVar(&admin, "admin", "", "admin address (defaults to ADMIN_ADDRESS)")
	return cmd
}

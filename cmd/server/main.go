// Command server runs the partner portal API and its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/internal/config"
	"github.com/diewo77/go-partners/internal/db"
	"github.com/diewo77/go-partners/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	serve := newServeCmd(opts)
	root := &cobra.Command{
		Use:           "partners",
		Short:         "Partner onboarding portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "optional YAML config file")
	// Running without a subcommand serves, so it accepts serve's flags.
	root.Flags().AddFlagSet(serve.Flags())
	root.AddCommand(serve, newMigrateCmd(opts), newSeedCmd(opts))
	return root
}

// env is what every command starts from.
type env struct {
	cfg *config.Config
	log *zap.Logger
}

func setup(opts *rootOptions) (*env, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.App.IsDev())
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &env{cfg: cfg, log: log}, nil
}

func (e *env) connect(ctx context.Context) (*gorm.DB, error) {
	return db.Connect(ctx, e.cfg.Database, e.log)
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.log.Sync() }()
			gdb, err := e.connect(cmd.Context())
			if err != nil {
				return err
			}
			if err := db.Migrate(gdb, e.cfg.Database, e.log); err != nil {
				return err
			}
			e.log.Info("migrations complete")
			return nil
		},
	}
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed permissions, profiles and the admin account, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.log.Sync() }()
			gdb, err := e.connect(cmd.Context())
			if err != nil {
				return err
			}
			if err := db.Seed(gdb, seedOptions(e.cfg)); err != nil {
				return err
			}
			e.log.Info("seed complete")
			return nil
		},
	}
}

func seedOptions(cfg *config.Config) db.SeedOptions {
	return db.SeedOptions{AdminEmail: cfg.App.AdminEmail, AdminPassword: cfg.App.AdminPassword}
}

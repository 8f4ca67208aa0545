// Package main is the entry point for the filevault database migration tool.
// It manages the embedded schema migrations for both PostgreSQL and SQLite.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/prn-tf/filevault/internal/app"
	"github.com/prn-tf/filevault/internal/config"
	"github.com/prn-tf/filevault/internal/repository"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "filevault-migrate",
		Short: "Manage the filevault database schema",
		Long: `Manage the filevault database schema.

The database is selected by the same configuration as the server
(database.driver, FILEVAULT_DATABASE_* environment variables).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	withMigrator := func(fn func(ctx context.Context, m repository.Migrator) error) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		dbCfg := cfg.Database
		dbCfg.AutoMigrate = false

		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(zerolog.InfoLevel).With().Timestamp().Logger()

		ctx := context.Background()
		store, err := app.OpenStore(ctx, dbCfg, logger)
		if err != nil {
			return err
		}
		defer store.Database.Close()

		return fn(ctx, store.Migrator)
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(ctx context.Context, m repository.Migrator) error {
					if err := m.Up(ctx); err != nil {
						return err
					}
					return printVersion(ctx, cmd, m)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(ctx context.Context, m repository.Migrator) error {
					if err := m.Down(ctx); err != nil {
						return err
					}
					return printVersion(ctx, cmd, m)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the status of every migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(ctx context.Context, m repository.Migrator) error {
					statuses, err := m.Status(ctx)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "VERSION\tSTATE\tSOURCE")
					for _, s := range statuses {
						state := "pending"
						if s.Applied {
							state = "applied"
						}
						fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, state, s.Source)
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the schema version and tool build information",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "filevault Migration Tool %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
				return withMigrator(func(ctx context.Context, m repository.Migrator) error {
					return printVersion(ctx, cmd, m)
				})
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printVersion(ctx context.Context, cmd *cobra.Command, m repository.Migrator) error {
	version, err := m.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d\n", version)
	return nil
}

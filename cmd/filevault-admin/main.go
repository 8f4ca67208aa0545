// Package main is the entry point for the filevault admin CLI.
// This tool provides administrative commands for inspecting users and
// repairing drift between metadata and the object store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/prn-tf/filevault/internal/app"
	"github.com/prn-tf/filevault/internal/config"
	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/pkg/crypto"
	"github.com/prn-tf/filevault/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type options struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "filevault-admin",
		Short:         "Administrative commands for filevault",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newUserCommand(opts),
		newReconcileCommand(opts),
		newKeygenCommand(),
		newVersionCommand(),
	)
	return root
}

// =============================================================================
// Setup
// =============================================================================

func (o *options) logger() zerolog.Logger {
	level := zerolog.WarnLevel
	if o.verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}

// withApp loads configuration, builds the application and runs fn with it.
func (o *options) withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, o.logger())
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

// =============================================================================
// user
// =============================================================================

func newUserCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect users",
	}

	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List users with their upload counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				out, err := a.Users.List(ctx, service.ListUsersInput{Limit: limit, Offset: offset})
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tEMAIL\tNAME\tUPLOADS\tCREATED")
				for _, u := range out.Users {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
						u.ID, u.Email, u.Name, u.UploadCount, domain.MaxUploadsPerUser, u.CreatedAt.Format(time.RFC3339))
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d users\n", len(out.Users), out.TotalCount)
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of users to show")
	list.Flags().IntVar(&offset, "offset", 0, "number of users to skip")

	show := &cobra.Command{
		Use:   "show <id|email>",
		Short: "Show one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				user, err := lookupUser(ctx, a, args[0])
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "ID:\t%s\n", user.ID)
				fmt.Fprintf(w, "Email:\t%s\n", user.Email)
				fmt.Fprintf(w, "Name:\t%s\n", user.Name)
				fmt.Fprintf(w, "Uploads:\t%d (%d remaining)\n", user.UploadCount, user.UploadsRemaining())
				fmt.Fprintf(w, "Created:\t%s\n", user.CreatedAt.Format(time.RFC3339))
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func lookupUser(ctx context.Context, a *app.App, ref string) (*domain.User, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return a.Users.GetByID(ctx, id)
	}
	return a.Store.Repos.User.GetByEmail(ctx, domain.NormalizeEmail(ref))
}

// =============================================================================
// reconcile
// =============================================================================

func newReconcileCommand(opts *options) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair drift between file metadata, stored objects and upload counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				result := a.Reconciler.RunOnce(ctx, dryRun)
				if result.Skipped {
					return fmt.Errorf("another reconciliation is running")
				}

				out := cmd.OutOrStdout()
				if dryRun {
					fmt.Fprintln(out, "[DRY RUN] nothing was changed")
				}
				fmt.Fprintf(out, "Tombstones purged:  %d\n", result.TombstonesPurged)
				fmt.Fprintf(out, "Orphans deleted:    %d\n", result.OrphansDeleted)
				fmt.Fprintf(out, "Counters repaired:  %d\n", result.CountersRepaired)
				fmt.Fprintf(out, "Errors:             %d\n", result.Errors)
				fmt.Fprintf(out, "Duration:           %s\n", result.Duration.Round(time.Millisecond))

				if result.Errors > 0 {
					return fmt.Errorf("reconciliation finished with %d errors", result.Errors)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be repaired without changing anything")
	return cmd
}

// =============================================================================
// keygen / version
// =============================================================================

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random secret for auth.jwt_secret or storage.local.signing_key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := crypto.GenerateSecret()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "filevault Admin CLI\n")
			fmt.Fprintf(out, "Version: %s\n", Version)
			fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
		},
	}
}

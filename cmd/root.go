// Package cmd defines the plotmon command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/plotmon/internal/app"
	"github.com/JakeFAU/plotmon/internal/config"
	"github.com/JakeFAU/plotmon/internal/logging"
	"github.com/JakeFAU/plotmon/internal/protocol"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the application. Tests inject a fake.
type App interface {
	Run(ctx context.Context, mode protocol.Mode, dir string) error
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(configPath string, out io.Writer) (App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.Build(cfg, logger, app.Options{Out: out})
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "plotmon",
		Short: "Monitor running disk-plotting jobs from their logs.",
		Long: `plotmon discovers running plot jobs from the process table, replays and
follows their logs, and reports per-job progress, phase timings and worker
resource usage.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cfgFile, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env PLOTMON_* overrides)")

	cmd.AddCommand(newModeCmd(protocol.ModePrint,
		"Print a one-shot progress report for every job",
		"Replays each job log once, prints one summary line per job plus the phase\n"+
			"timing statistics, then exits."))
	cmd.AddCommand(newModeCmd(protocol.ModeWatch,
		"Follow every job and report progress live",
		"Replays each job log, then follows it, reporting progress on every new line\n"+
			"and sampling worker CPU and memory until interrupted."))
	return cmd
}

// newModeCmd builds the print and watch subcommands. The optional directory
// restricts the run to jobs whose log lives under it.
func newModeCmd(mode protocol.Mode, short, long string) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode) + " [directory]",
		Short: short,
		Long:  long,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var dir string
			if len(args) == 1 {
				dir = args[0]
			}
			if err := appInstance.Run(cmd.Context(), mode, dir); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI until it finishes or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

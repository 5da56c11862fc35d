// Package cli exposes FundBot as cobra commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Rodato/FundBot/internal/app"
	"github.com/Rodato/FundBot/internal/config"
	"github.com/Rodato/FundBot/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Debug      bool
}

// NewRootCommand creates the fundbot command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fundbot",
		Short: "FundBot watches grant portals and posts new calls to Discord",
		Long: `FundBot scrapes public funding portals, asks an LLM which calls fit the
organisation, skips calls it already sent, and posts short summaries of the new
ones to a Discord channel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to the YAML config (default $FUNDBOT_CONFIG)")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "enable debug logging")

	runCmd := NewRunCommand(opts)
	cmd.RunE = runCmd.RunE

	cmd.AddCommand(runCmd)
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCheckWebhookCommand(opts))

	return cmd
}

// Execute runs the command tree and maps the outcome to a process exit code:
// 0 on success or interrupt, 1 otherwise.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(stderr, "fundbot: interrupted")
		return 0
	default:
		fmt.Fprintf(stderr, "fundbot: %v\n", err)
		return 1
	}
}

// session bundles what every command needs after bootstrapping.
type session struct {
	cfg    config.Config
	logger *slog.Logger
	app    *app.Application
	closer io.Closer
}

func (s *session) Close() {
	if s.app != nil {
		if err := s.app.Close(); err != nil {
			s.logger.Warn("close application", "error", err)
		}
	}
	if s.closer != nil {
		_ = s.closer.Close()
	}
}

func bootstrap(ctx context.Context, opts *RootOptions, logOut io.Writer) (*session, error) {
	cfg := config.Load(opts.ConfigPath)
	level := cfg.Logging.Level
	if opts.Debug {
		level = "debug"
	}

	logger, closer, err := logging.NewTo(logOut, level, cfg.Logging.File)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	return &session{cfg: cfg, logger: logger, app: application, closer: closer}, nil
}

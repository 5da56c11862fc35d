package cli

import (
	"time"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once, or repeatedly with --every",
		Long: `Scrape every configured portal, keep the relevant calls that were not sent
before, and post them to Discord.

With --every (or scheduler.every in the config) the pipeline runs back to back
with the given pause until the process is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := bootstrap(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			interval := every
			if !cmd.Flags().Changed("every") {
				interval = s.cfg.Scheduler.Every
			}

			if interval > 0 {
				return s.app.RunEvery(cmd.Context(), interval)
			}

			_, err = s.app.Run(cmd.Context())
			return err
		},
	}

	cmd.Flags().DurationVar(&every, "every", 0, "repeat the run with this pause between runs (e.g. 6h)")

	return cmd
}

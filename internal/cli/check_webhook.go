package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCheckWebhookCommand creates the check-webhook command.
func NewCheckWebhookCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-webhook",
		Short: "Validate the Discord webhook URL and post a test message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := bootstrap(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.app.CheckWebhook(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "webhook OK")
			return nil
		},
	}
}

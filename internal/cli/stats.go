package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Rodato/FundBot/internal/domain"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print dedup store counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := bootstrap(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.app.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("read stats: %w", err)
			}

			writeStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func writeStats(w io.Writer, stats domain.StoreStats) {
	fmt.Fprintf(w, "Total listings: %d\n", stats.Total)
	fmt.Fprintf(w, "Added today:    %d\n", stats.AddedToday)

	if len(stats.BySource) == 0 {
		return
	}

	tags := make([]string, 0, len(stats.BySource))
	for tag := range stats.BySource {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	fmt.Fprintln(w, "By source:")
	for _, tag := range tags {
		fmt.Fprintf(w, "  %-10s %d\n", tag, stats.BySource[tag])
	}
}

package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print dedup counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()

			s, err := opts.client().Stats(ctx)
			if err != nil {
				return err
			}

			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), s)
			}

			hitRate := 0.0
			if lookups := s.CacheHits + s.CacheMisses; lookups > 0 {
				hitRate = float64(s.CacheHits) / float64(lookups) * 100
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "checks\t%d\n", s.TotalChecks)
			fmt.Fprintf(tw, "cache hits\t%d (%.1f%%)\n", s.CacheHits, hitRate)
			fmt.Fprintf(tw, "cache misses\t%d\n", s.CacheMisses)
			fmt.Fprintf(tw, "rejected\t%d\n", s.BlockedRequests)
			fmt.Fprintf(tw, "avg response\t%.3fms\n", s.AverageResponseTimeMs)
			fmt.Fprintf(tw, "in flight\t%d\n", s.InFlight)
			fmt.Fprintf(tw, "queued\t%d\n", s.QueueLength)
			fmt.Fprintf(tw, "cached verdicts\t%d (%d bytes)\n", s.CacheSize, s.MemoryUsageBytes)
			fmt.Fprintf(tw, "entries\t%d / %d\n", s.Entries, s.Capacity)
			return tw.Flush()
		},
	}
}

package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/SebastienMelki/notifyguard/internal/gateway"
)

func newCompareCmd(opts *rootOptions) *cobra.Command {
	var method string
	var threshold float64

	cmd := &cobra.Command{
		Use:     "compare <a> <b>",
		Short:   "Score the similarity of two strings",
		Example: `  dedupctl compare "Sync failed" "Sync has failed" --method levenshtein --threshold 0.7`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()

			req := gateway.SimilarityRequest{A: args[0], B: args[1], Method: method}
			if cmd.Flags().Changed("threshold") {
				req.Threshold = &threshold
			}

			res, err := opts.client().Similarity(ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				return printJSON(out, res)
			}

			verdict := color.GreenString("distinct")
			if res.IsDuplicate {
				verdict = color.YellowString("duplicate")
			}
			fmt.Fprintf(out, "%s %.3f (%s, threshold %.2f)\n", verdict, res.Similarity, res.Method, res.Threshold)
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", "jaro-winkler", "Similarity method (jaro-winkler, cosine, levenshtein)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Duplicate threshold in [0,1] (default: configured default)")

	return cmd
}

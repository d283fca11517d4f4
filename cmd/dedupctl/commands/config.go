package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/SebastienMelki/notifyguard/internal/gateway"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the dedup policies",
	}

	cmd.AddCommand(newConfigGetCmd(opts), newConfigSetCmd(opts))
	return cmd
}

func newConfigGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the current policy configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()

			cfg, err := opts.client().GetConfig(ctx)
			if err != nil {
				return err
			}

			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

type configSetFlags struct {
	enabled          bool
	window           time.Duration
	threshold        float64
	maxDuplicates    int
	removeCategories []string
	file             string
}

func newConfigSetCmd(opts *rootOptions) *cobra.Command {
	var f configSetFlags

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Apply a partial policy update",
		Long: `Apply a partial policy update. Only the flags you pass are changed.
Tier and category policies are set with --file, a JSON document in the
PATCH /v1/config format; individual flags override fields from the file.`,
		Example: `  dedupctl config set --default-threshold 0.8
  dedupctl config set --file policies.json --remove-category promo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := f.patch(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := opts.requestContext(cmd)
			defer cancel()

			cfg, err := opts.client().UpdateConfig(ctx, patch)
			if err != nil {
				return err
			}

			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("configuration updated"))
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}

	cmd.Flags().BoolVar(&f.enabled, "enabled", true, "Turn deduplication on or off globally")
	cmd.Flags().DurationVar(&f.window, "default-window", 0, "Default tier time window")
	cmd.Flags().Float64Var(&f.threshold, "default-threshold", 0, "Default tier similarity threshold (0-1)")
	cmd.Flags().IntVar(&f.maxDuplicates, "default-max-duplicates", 0, "Default tier duplicate allowance")
	cmd.Flags().StringSliceVar(&f.removeCategories, "remove-category", nil, "Category overrides to delete (repeatable)")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "JSON patch file")

	return cmd
}

// patch builds the update from the file, if any, then the changed flags.
func (f *configSetFlags) patch(cmd *cobra.Command) (gateway.ConfigPatch, error) {
	var p gateway.ConfigPatch

	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return p, fmt.Errorf("read patch file: %w", err)
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return p, fmt.Errorf("parse patch file %s: %w", f.file, err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("enabled") {
		p.Enabled = &f.enabled
	}
	if flags.Changed("default-window") {
		ms := f.window.Milliseconds()
		p.DefaultTimeWindowMs = &ms
	}
	if flags.Changed("default-threshold") {
		p.DefaultSimilarityThreshold = &f.threshold
	}
	if flags.Changed("default-max-duplicates") {
		p.DefaultMaxDuplicates = &f.maxDuplicates
	}
	if len(f.removeCategories) > 0 {
		p.RemoveCategories = append(p.RemoveCategories, f.removeCategories...)
	}

	return p, nil
}

func printConfig(w io.Writer, cfg *gateway.ConfigDTO) {
	bold := color.New(color.Bold).SprintFunc()

	state := color.GreenString("enabled")
	if !cfg.Enabled {
		state = color.RedString("disabled")
	}
	fmt.Fprintf(w, "%s %s\n\n", bold("deduplication"), state)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCOPE\tNAME\tENABLED\tWINDOW\tTHRESHOLD\tMAX DUPLICATES")
	fmt.Fprintf(tw, "tier\tdefault\ttrue\t%s\t%.2f\t%d\n",
		msDuration(cfg.DefaultTimeWindowMs), cfg.DefaultSimilarityThreshold, cfg.DefaultMaxDuplicates)

	writeRows(tw, "tier", cfg.Tiers)
	writeRows(tw, "category", cfg.Categories)
	_ = tw.Flush()
}

func writeRows(w io.Writer, scope string, policies map[string]gateway.PolicyDTO) {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		p := policies[name]
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%.2f\t%d\n",
			scope, name, p.Enabled, msDuration(p.TimeWindowMs), p.SimilarityThreshold, p.MaxDuplicates)
	}
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

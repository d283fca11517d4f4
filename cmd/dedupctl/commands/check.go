package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/SebastienMelki/notifyguard/internal/gateway"
)

type contentFlags struct {
	title    string
	message  string
	category string
}

func (f *contentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.title, "title", "t", "", "Notification title")
	cmd.Flags().StringVarP(&f.message, "message", "m", "", "Notification message")
	cmd.Flags().StringVarP(&f.category, "category", "c", "", "Notification category")
}

func (f *contentFlags) request() gateway.ContentRequest {
	return gateway.ContentRequest{Title: f.title, Message: f.message, Category: f.category}
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var content contentFlags
	var priority string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Ask whether a notification should be shown",
		Example: `  dedupctl check -t "Budget alert" -m "You exceeded your food budget" -c budget -p high`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()

			res, err := opts.client().Check(ctx, gateway.CheckRequest{
				Title:    content.title,
				Message:  content.message,
				Category: content.category,
				Priority: priority,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				return printJSON(out, res)
			}

			green := color.New(color.FgGreen, color.Bold).SprintFunc()
			yellow := color.New(color.FgYellow, color.Bold).SprintFunc()
			red := color.New(color.FgRed, color.Bold).SprintFunc()
			gray := color.New(color.FgHiBlack).SprintFunc()

			switch {
			case res.ShouldBlock:
				fmt.Fprintf(out, "%s duplicate, suppress it\n", red("BLOCK"))
			case res.IsDuplicate:
				fmt.Fprintf(out, "%s duplicate within allowance\n", yellow("SHOW"))
			default:
				fmt.Fprintf(out, "%s new notification\n", green("SHOW"))
			}

			if res.MatchedHash != "" {
				fmt.Fprintf(out, "  %s %s\n", gray("matched:"), res.MatchedHash)
			}
			if res.Similarity > 0 {
				fmt.Fprintf(out, "  %s %.3f\n", gray("similarity:"), res.Similarity)
			}
			fmt.Fprintf(out, "  %s %dms\n", gray("window:"), res.WindowMs)
			return nil
		},
	}

	content.register(cmd)
	cmd.Flags().StringVarP(&priority, "priority", "p", "normal", "Priority (low, normal, high, urgent)")

	return cmd
}

func newBlockCmd(opts *rootOptions) *cobra.Command {
	var content contentFlags

	cmd := &cobra.Command{
		Use:   "block",
		Short: "Block content until it is unblocked or ages out",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()

			if err := opts.client().Block(ctx, content.request()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %q\n", color.RedString("blocked"), content.title)
			return nil
		},
	}

	content.register(cmd)
	return cmd
}

func newUnblockCmd(opts *rootOptions) *cobra.Command {
	var content contentFlags

	cmd := &cobra.Command{
		Use:   "unblock",
		Short: "Forget content so it is treated as new",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()

			existed, err := opts.client().Unblock(ctx, content.request())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if existed {
				fmt.Fprintf(out, "%s %q\n", color.GreenString("unblocked"), content.title)
			} else {
				fmt.Fprintf(out, "%s %q was not tracked\n", color.YellowString("nothing to do:"), content.title)
			}
			return nil
		},
	}

	content.register(cmd)
	return cmd
}

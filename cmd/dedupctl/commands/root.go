// Package commands implements the dedupctl command tree.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/SebastienMelki/notifyguard/internal/gateway"
)

type rootOptions struct {
	addr     string
	clientID string
	apiKey   string
	timeout  time.Duration
	noColor  bool
	asJSON   bool
}

// NewRootCmd builds the dedupctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "dedupctl",
		Short:         "Inspect and steer a notifyguard deduplication service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	defaultAddr := os.Getenv("NOTIFYGUARD_ADDR")
	if defaultAddr == "" {
		defaultAddr = "http://localhost:8080"
	}

	root.PersistentFlags().StringVar(&opts.addr, "addr", defaultAddr, "Gateway base URL (env NOTIFYGUARD_ADDR)")
	root.PersistentFlags().StringVar(&opts.clientID, "client-id", "dedupctl", "Value sent as X-Client-ID")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("NOTIFYGUARD_API_KEY"), "Value sent as X-API-Key (env NOTIFYGUARD_API_KEY)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Print raw JSON responses")

	root.AddCommand(
		newCheckCmd(opts),
		newBlockCmd(opts),
		newUnblockCmd(opts),
		newCompareCmd(opts),
		newConfigCmd(opts),
		newStatsCmd(opts),
	)

	return root
}

// Execute runs dedupctl with os.Args.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), color.RedString("error:"), err)
		return err
	}
	return nil
}

func (o *rootOptions) client() *gateway.Client {
	return gateway.NewClient(o.addr,
		gateway.WithClientID(o.clientID),
		gateway.WithAPIKey(o.apiKey),
		gateway.WithHTTPClient(&http.Client{Timeout: o.timeout}),
	)
}

func (o *rootOptions) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, o.timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

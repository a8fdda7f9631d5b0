// Command exemptions looks up NYC property tax exemption records by parcel,
// exports them as CSV and serves the same lookups over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
	token      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "exemptions",
		Short:         "NYC property tax exemption lookup",
		Long:          "Look up NYC property tax exemption records by borough/block/lot, export them as CSV, or serve the lookups over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "open data app token (overrides EXEMPTIONS_APP_TOKEN)")

	root.AddCommand(newLookupCmd(opts))
	root.AddCommand(newExportCmd(opts))
	root.AddCommand(newServeCmd(opts))

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

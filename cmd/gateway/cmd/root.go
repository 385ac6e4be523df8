// Package cmd provides the gateway CLI's subcommands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "gateway-homebrew-go is a layer-7 HTTP reverse proxy",
	Long: `gateway-homebrew-go routes incoming HTTP requests to weighted backend
pools, enforcing rate limits, bearer-token auth, response caching, and
gzip compression ahead of the upstream fleet.

Commands:
  run       Start the proxy server
  validate  Load and validate a config file without starting a listener
  version   Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./cmd/gateway/config.yaml", "path to YAML config")
}

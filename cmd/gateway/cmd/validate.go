package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabian4/gateway-homebrew-go/internal/config"
)

var showEffective bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the config file without starting a listener",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Printf("config OK: %d route(s), http_port=%d, metrics_port=%d, cache_backend=%q\n",
			len(cfg.Routes), cfg.HTTPPort, cfg.MetricsPort, cfg.CacheBackend)
		if showEffective {
			out, err := config.Dump(cfg)
			if err != nil {
				return fmt.Errorf("render effective config: %w", err)
			}
			fmt.Print(string(out))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&showEffective, "show", false, "print the effective config (after defaults and normalization) as YAML")
	rootCmd.AddCommand(validateCmd)
}

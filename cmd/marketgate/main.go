package main

import (
	"fmt"
	"os"

	"github.com/newthinker/marketgate/internal/app"
	"github.com/newthinker/marketgate/internal/config"
	"github.com/newthinker/marketgate/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "marketgate",
	Short: "marketgate - rate-aware market data gateway",
	Long: `marketgate fronts several market data providers behind one API.
It routes around provider quotas and rate limits, caches quotes and series,
and fans real-time updates out to any number of subscribers.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

// loadConfig reads --config, or the defaults when it is unset, and
// validates the result.
func loadConfig() (*config.Config, error) {
	cfg := config.Defaults()
	if cfgFile != "" {
		var err error
		if cfg, err = config.Load(cfgFile); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *zap.Logger {
	level := cfg.Log.Level
	if debug {
		level = "debug"
	}
	return logger.Must(debug || cfg.Log.Development, level)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if app.IsConfigError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

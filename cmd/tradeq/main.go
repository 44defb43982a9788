package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tradeq/internal/config"
	"tradeq/internal/logging"
)

var (
	cfgPath string
	verbose bool

	appCfg *config.AppConfig
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tradeq",
	Short: "Ask questions about trade data in plain English",
	Long: `tradeq turns a plain-English question into a MongoDB aggregation,
runs it against the Trade database and returns the matching documents.

Run "tradeq serve" for the HTTP API or "tradeq explore" for the terminal explorer.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		var path string
		if cfgPath == "" {
			appCfg, path, err = config.LoadDefault()
		} else {
			appCfg, err = config.Load(cfgPath)
			path = cfgPath
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := appCfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", path, err)
		}

		level := appCfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, appCfg.Logging.Development)
		if err != nil {
			return err
		}
		logger.Debug("config loaded", zap.String("path", path))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/tradeq/config.yaml if not provided)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd, askCmd, exploreCmd, promptCmd, keyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

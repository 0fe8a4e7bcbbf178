// Command rfm segments retail customers by recency, frequency and monetary
// value.
package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opensource-finance/rfm/internal/config"
	"github.com/opensource-finance/rfm/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	cfg        *domain.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "rfm",
	Short:         "RFM customer segmentation",
	Long:          "Scores customers on recency, frequency and monetary value from point-of-sale extracts and assigns each a named segment.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Logging); err != nil {
			return eris.Wrap(err, "init logger")
		}

		zap.L().Debug("configuration loaded",
			zap.String("version", Version),
			zap.String("commit", Commit),
			zap.String("build_date", BuildDate),
			zap.String("repository", cfg.Repository.Driver),
			zap.String("cache", cfg.Cache.Type),
			zap.String("eventbus", cfg.EventBus.Type),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./rfm.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}

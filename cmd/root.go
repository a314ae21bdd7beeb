package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/athlete-monitor/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "athlete-monitor",
	Short: "Media monitoring for professional athletes",
	Long:  "Collects press and social coverage of tracked athletes, classifies it with Claude, scores image and risk, raises alerts and writes weekly recommendations.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngn-platform/score-integrity/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "score-integrity",
	Short: "NGN Score integrity and fairness receipt engine",
	Long:  "Maintains the append-only score ledger, re-verifies published scores against raw signals, tracks disputes, and issues HMAC-signed fairness receipts.",
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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "phone-pipeline",
	Short: "Contact phone extraction and validation pipeline",
	Long:  "Reads a company table, crawls each canonical website under strict budgets, extracts phone candidates, classifies them with an LLM, and writes consolidated contact reports with a full attrition audit trail.",
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

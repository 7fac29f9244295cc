package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"faris/backend/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	logLevel string
}

var rootCmd = &cobra.Command{
	Use:   "faris",
	Short: "Failure analysis and risk scoring for LLM answers",
	Long:  "faris runs the failure analysis pipeline against a local Ollama backend\nand reports detected failures, risk and recommendations.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level, err := logrus.ParseLevel(rootFlags.logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", rootFlags.logLevel, err)
		}
		logrus.SetLevel(level)
		logrus.SetOutput(cmd.ErrOrStderr())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.Version = version
}

func loadSettings() (config.Settings, error) {
	settings, err := config.Load()
	if err != nil {
		return config.Settings{}, fmt.Errorf("load configuration: %w", err)
	}
	return settings, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

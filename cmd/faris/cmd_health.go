package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"faris/backend/internal/api"
)

var healthFlags struct {
	timeout time.Duration
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the Ollama backend is reachable",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	healthCmd.Flags().DurationVar(&healthFlags.timeout, "timeout", 5*time.Second, "Probe timeout")
}

func runHealth(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	backend, err := api.NewBackend(settings)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), healthFlags.timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Backend:  %s\n", settings.Model.BaseURL)
	if err := backend.Client.Health(ctx); err != nil {
		fmt.Fprintf(out, "Status:   unreachable\n")
		return fmt.Errorf("backend health: %w", err)
	}
	fmt.Fprintf(out, "Status:   healthy\n")

	models, err := backend.Client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	found := false
	fmt.Fprintf(out, "Models:\n")
	for _, name := range models {
		marker := " "
		if name == settings.Model.Name {
			marker = "*"
			found = true
		}
		fmt.Fprintf(out, "  %s %s\n", marker, name)
	}
	if !found {
		fmt.Fprintf(out, "Warning:  configured model %s is not pulled\n", settings.Model.Name)
	}
	return nil
}

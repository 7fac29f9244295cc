package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"faris/backend/internal/api"
	"faris/backend/internal/match"
)

var analyzeFlags struct {
	question string
	answer   string
	context  string
	domain   string
	persist  bool
	jsonOut  bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze one LLM answer for failures",
	Long: `Run the failure analysis pipeline on a question/answer pair and print
the detected failures, risk assessment and recommendations.

Usage:
  faris analyze --question "What dose?" --answer "Take 500mg." --domain medical
  faris analyze --question "..." --answer - < answer.txt   # read answer from stdin

The Ollama backend is configured through OLLAMA_* environment variables
or the YAML file named by FARIS_CONFIG.`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVarP(&analyzeFlags.question, "question", "q", "", "Question that was asked (required)")
	f.StringVarP(&analyzeFlags.answer, "answer", "a", "", "Answer to analyze, or - to read stdin (required)")
	f.StringVar(&analyzeFlags.context, "context", "", "Optional grounding context")
	f.StringVarP(&analyzeFlags.domain, "domain", "d", "general", "Domain: general, finance, medical, legal or code")
	f.BoolVar(&analyzeFlags.persist, "persist", false, "Store the case in the configured database")
	f.BoolVar(&analyzeFlags.jsonOut, "json", false, "Print the full report as JSON")

	_ = analyzeCmd.MarkFlagRequired("question")
	_ = analyzeCmd.MarkFlagRequired("answer")
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	answer := analyzeFlags.answer
	if answer == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read answer from stdin: %w", err)
		}
		answer = string(data)
	}
	req := api.AnalyzeRequest{
		Question:  analyzeFlags.question,
		LLMAnswer: answer,
		Context:   analyzeFlags.context,
		Domain:    strings.ToLower(strings.TrimSpace(analyzeFlags.domain)),
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	backend, err := api.NewBackend(settings)
	if err != nil {
		return err
	}
	cfg := api.Config{
		Settings:           settings,
		DBPath:             settings.DBPath,
		SilentDB:           true,
		DisablePersistence: !analyzeFlags.persist,
	}
	backend.Apply(&cfg)
	if settings.LexiconPath != "" {
		if cfg.Lexicon, err = match.LoadLexicon(settings.LexiconPath); err != nil {
			return fmt.Errorf("load lexicon: %w", err)
		}
	}
	server, err := api.NewServer(cfg)
	if err != nil {
		return err
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp := server.Analyze(ctx, req, analyzeFlags.persist)

	out := cmd.OutOrStdout()
	if analyzeFlags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printReport(out, resp)
	return nil
}

func printReport(out io.Writer, resp *api.AnalyzeResponse) {
	risk := resp.RiskAssessment
	fmt.Fprintf(out, "Analysis:  %s\n", resp.Metadata.AnalysisID)
	fmt.Fprintf(out, "Risk:      %.3f (%s), domain %s x%.1f\n", risk.RiskScore, risk.RiskLevel, risk.Domain, risk.DomainMultiplier)
	switch {
	case resp.Cancelled:
		fmt.Fprintf(out, "Status:    cancelled\n")
	case resp.EarlyExit:
		fmt.Fprintf(out, "Status:    skipped\n")
	}

	if len(resp.Failures) == 0 {
		fmt.Fprintf(out, "Failures:  none\n")
	} else {
		fmt.Fprintf(out, "Failures:\n")
		for _, f := range resp.Failures {
			fmt.Fprintf(out, "  - %s (%s, confidence %.2f)\n", f.FailureType, f.Severity, f.Confidence)
			for _, e := range f.Evidence {
				fmt.Fprintf(out, "      %s\n", e)
			}
		}
	}

	if len(resp.Claims) > 0 {
		fmt.Fprintf(out, "Claims:\n")
		for _, c := range resp.Claims {
			status := "ok"
			if !c.IsSupported {
				status = strings.Join(c.Issues, ",")
			}
			fmt.Fprintf(out, "  %-4s [%s] %s\n", c.ClaimID, status, c.ClaimText)
		}
	}

	fmt.Fprintf(out, "\n%s\n", resp.Explanation)

	if len(resp.Recommendations) > 0 {
		fmt.Fprintf(out, "\nRecommendations:\n")
		for _, r := range resp.Recommendations {
			fmt.Fprintf(out, "  P%d %s: %s\n", r.Priority, r.Title, r.Description)
		}
	}
	if len(resp.Errors) > 0 {
		fmt.Fprintf(out, "\nStage errors:\n")
		for _, e := range resp.Errors {
			fmt.Fprintf(out, "  %s: %s\n", e.Stage, e.Message)
		}
	}
	fmt.Fprintf(out, "\nModel %s, %d ms\n", resp.Metadata.AnalysisModel, resp.Metadata.ProcessingTimeMs)
}

package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"faris/backend/internal/api"
	"faris/backend/internal/store"
)

var statsFlags struct {
	dbPath  string
	jsonOut bool
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print statistics over persisted analysis cases",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	f := statsCmd.Flags()
	f.StringVar(&statsFlags.dbPath, "db", "", "Case database path (default: configured FARIS_DB_PATH)")
	f.BoolVar(&statsFlags.jsonOut, "json", false, "Print statistics as JSON")
}

type statsReport struct {
	store.Statistics
	FailureDistribution map[string]int64     `json:"failure_distribution"`
	MostCommon          []store.FailureCount `json:"most_common_failures"`
	HighRiskPatterns    []api.PatternDTO     `json:"high_risk_patterns"`
}

func runStats(cmd *cobra.Command, _ []string) error {
	path := statsFlags.dbPath
	if path == "" {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		path = settings.DBPath
	}

	db, err := store.Open(path, true)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var report statsReport
	if report.Statistics, err = db.Statistics(); err != nil {
		return err
	}
	if report.FailureDistribution, err = db.FailureDistribution(); err != nil {
		return err
	}
	if report.MostCommon, err = db.MostCommonFailures(5); err != nil {
		return err
	}
	patterns, err := db.HighRiskPatterns(0.5, 2)
	if err != nil {
		return err
	}
	report.HighRiskPatterns = make([]api.PatternDTO, 0, len(patterns))
	for _, p := range patterns {
		report.HighRiskPatterns = append(report.HighRiskPatterns, api.FromPattern(p))
	}

	out := cmd.OutOrStdout()
	if statsFlags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "Cases:          %d\n", report.TotalCases)
	fmt.Fprintf(out, "With failures:  %d (%.1f%%)\n", report.CasesWithFailures, report.FailureRate*100)
	fmt.Fprintf(out, "Avg risk:       %.3f\n", report.AvgRiskScore)
	printCounts(cmd, "Risk levels", report.RiskDistribution)
	printCounts(cmd, "Domains", report.DomainDistribution)
	if len(report.MostCommon) > 0 {
		fmt.Fprintf(out, "Most common failures:\n")
		for _, fc := range report.MostCommon {
			fmt.Fprintf(out, "  %-22s %4d  avg confidence %.3f\n", fc.FailureType, fc.Count, fc.AvgConfidence)
		}
	}
	if len(report.HighRiskPatterns) > 0 {
		fmt.Fprintf(out, "Recurring high-risk patterns:\n")
		for _, p := range report.HighRiskPatterns {
			fmt.Fprintf(out, "  %dx risk %.3f  %s\n", p.OccurrenceCount, p.AvgRiskScore, p.PatternSignature)
		}
	}
	return nil
}

func printCounts(cmd *cobra.Command, title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(out, "  %-10s %d\n", k, counts[k])
	}
}

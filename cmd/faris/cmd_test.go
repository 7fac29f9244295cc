package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"faris/backend/internal/analysis"
	"faris/backend/internal/api"
)

func TestPrintReport(t *testing.T) {
	resp := &api.AnalyzeResponse{
		FailureDetected: true,
		Failures: []api.FailureDTO{{
			FailureType: "hallucination",
			Severity:    "high",
			Confidence:  0.85,
			Evidence:    []string{"Dosage not supported"},
		}},
		Claims: []api.ClaimDTO{
			{ClaimID: "c1", ClaimText: "Ibuprofen is an NSAID.", IsSupported: true},
			{ClaimID: "c2", ClaimText: "Take 2000mg.", Issues: []string{"hallucination"}},
		},
		RiskAssessment:  api.RiskAssessmentDTO{RiskScore: 0.446, RiskLevel: "medium", Domain: "medical", DomainMultiplier: 1.5},
		Recommendations: []api.RecommendationDTO{{Priority: 1, Title: "Ground dosages", Description: "Cite a source."}},
		Explanation:     "Dosage claim is unsupported.",
		Errors:          []analysis.StageError{{Stage: "explanation", Message: "timeout"}},
	}
	resp.Metadata.AnalysisID = "run-1"

	var buf bytes.Buffer
	printReport(&buf, resp)
	out := buf.String()

	require.Contains(t, out, "0.446 (medium), domain medical x1.5")
	require.Contains(t, out, "hallucination (high, confidence 0.85)")
	require.Contains(t, out, "c2   [hallucination] Take 2000mg.")
	require.Contains(t, out, "c1   [ok]")
	require.Contains(t, out, "P1 Ground dosages: Cite a source.")
	require.Contains(t, out, "explanation: timeout")
}

func TestPrintReportNoFailures(t *testing.T) {
	resp := &api.AnalyzeResponse{EarlyExit: true, Explanation: "Nothing to analyze."}
	var buf bytes.Buffer
	printReport(&buf, resp)
	require.Contains(t, buf.String(), "Status:    skipped")
	require.Contains(t, buf.String(), "Failures:  none")
}

func TestPrintCountsSorted(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	printCounts(cmd, "Risk levels", map[string]int64{"medium": 2, "critical": 1, "low": 5})
	require.Equal(t, "Risk levels:\n  critical   1\n  low        5\n  medium     2\n", buf.String())
	buf.Reset()
	printCounts(cmd, "Empty", nil)
	require.Empty(t, buf.String())
}

func TestAnalyzeRequiresFlags(t *testing.T) {
	require.NotNil(t, analyzeCmd.Flags().Lookup("question"))
	require.NotNil(t, analyzeCmd.Flags().Lookup("answer"))
	require.Equal(t, "general", analyzeCmd.Flags().Lookup("domain").DefValue)
}

package scoring

import (
	"math"
	"strings"
	"testing"
)

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		expected Category
	}{
		{"zero", 0, CategoryLow},
		{"below medium", 0.249, CategoryLow},
		{"medium boundary", 0.25, CategoryMedium},
		{"medium", 0.446, CategoryMedium},
		{"high boundary", 0.5, CategoryHigh},
		{"critical boundary", 0.75, CategoryCritical},
		{"capped", 1.0, CategoryCritical},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CategoryFor(tc.score); got != tc.expected {
				t.Fatalf("expected %s got %s", tc.expected, got)
			}
		})
	}
}

func TestCategoryMonotonic(t *testing.T) {
	rank := map[Category]int{CategoryLow: 0, CategoryMedium: 1, CategoryHigh: 2, CategoryCritical: 3}
	prev := 0
	for i := 0; i <= 1000; i++ {
		r := rank[CategoryFor(float64(i)/1000)]
		if r < prev {
			t.Fatalf("category decreased at %d", i)
		}
		prev = r
	}
}

func TestRiskScorerMedicalScenario(t *testing.T) {
	scorer := NewRiskScorer(nil, nil)
	result := scorer.Score("medical", []Input{{FailureType: "hallucination", Confidence: 0.85, Severity: "high"}})

	if result.Score != 0.446 {
		t.Fatalf("expected 0.446 got %v", result.Score)
	}
	if result.Category != CategoryMedium {
		t.Fatalf("expected medium got %s", result.Category)
	}
	if result.DomainMultiplier != 2.0 {
		t.Fatalf("expected multiplier 2.0 got %v", result.DomainMultiplier)
	}
	if len(result.Factors) != 1 || math.Abs(result.Factors[0].Contribution-0.44625) > 0.0002 {
		t.Fatalf("unexpected factors %+v", result.Factors)
	}
	if !strings.Contains(result.Explanation, "Hallucination: 85% confidence, high severity") {
		t.Fatalf("unexpected explanation %q", result.Explanation)
	}
}

func TestRiskScorerCapsAtOne(t *testing.T) {
	weights := map[string]float64{"hallucination": 0.5, "logical_inconsistency": 0.5}
	multipliers := map[string]float64{"general": 1.3}
	scorer := NewRiskScorer(weights, multipliers)

	result := scorer.Score("general", []Input{
		{FailureType: "hallucination", Confidence: 1, Severity: "critical"},
		{FailureType: "logical_inconsistency", Confidence: 1, Severity: "critical"},
	})
	if result.Score != 1.0 {
		t.Fatalf("expected capped score got %v", result.Score)
	}
	if result.Category != CategoryCritical {
		t.Fatalf("expected critical got %s", result.Category)
	}
}

func TestRiskScorerNoFailures(t *testing.T) {
	result := NewRiskScorer(nil, nil).Score("general", nil)
	if result.Score != 0 || result.Category != CategoryLow {
		t.Fatalf("unexpected result %+v", result)
	}
	if !strings.Contains(result.Explanation, "No significant failures were detected") {
		t.Fatalf("unexpected explanation %q", result.Explanation)
	}
}

func TestRiskScorerFactorOrderingAndUnknowns(t *testing.T) {
	scorer := NewRiskScorer(nil, nil)
	result := scorer.Score("unknown-domain", []Input{
		{FailureType: "scope_violation", Confidence: 0.9, Severity: "low"},
		{FailureType: "hallucination", Confidence: 0.6, Severity: "medium"},
		{FailureType: "made_up", Confidence: 0.7, Severity: "bogus"},
	})
	if result.DomainMultiplier != 1.0 {
		t.Fatalf("expected default multiplier got %v", result.DomainMultiplier)
	}
	got := []string{result.Factors[0].FailureType, result.Factors[1].FailureType, result.Factors[2].FailureType}
	want := []string{"hallucination", "made_up", "scope_violation"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v got %v", want, got)
		}
	}
	if result.Factors[1].TypeWeight != unknownTypeWeight || result.Factors[1].SeverityMultiplier != 0.5 {
		t.Fatalf("unexpected fallback factor %+v", result.Factors[1])
	}
}

func TestRiskScorerIsDeterministic(t *testing.T) {
	scorer := NewRiskScorer(nil, nil)
	inputs := []Input{
		{FailureType: "overconfidence", Confidence: 0.7, Severity: "medium"},
		{FailureType: "missing_assumptions", Confidence: 0.7, Severity: "medium"},
	}
	first := scorer.Score("finance", inputs)
	for i := 0; i < 10; i++ {
		again := scorer.Score("finance", inputs)
		if again.Score != first.Score || again.Explanation != first.Explanation {
			t.Fatalf("non-deterministic scoring")
		}
		for j := range first.Factors {
			if again.Factors[j] != first.Factors[j] {
				t.Fatalf("factor order changed")
			}
		}
	}
}

package analysis

import (
	"context"
	"fmt"
	"strings"

	"faris/backend/internal/ai"
	"faris/backend/internal/scoring"
)

// Explainer writes the narrative for a finished analysis.
type Explainer struct {
	model ai.StructuredGenerator
}

// NewExplainer builds an Explainer. A nil model always uses the template.
func NewExplainer(model ai.StructuredGenerator) *Explainer {
	return &Explainer{model: model}
}

// Explain returns the narrative and its combined text. It always returns
// usable text; a failed model call falls back to a deterministic template
// and is reported as a stage error.
func (e *Explainer) Explain(ctx context.Context, in Input, claims []Claim, failures []FailureSignal, risk scoring.RiskResult) (Narrative, string, []StageError) {
	if len(failures) == 0 {
		n := Narrative{
			Summary: fmt.Sprintf("The analysis found no significant reliability issues with this LLM output. "+
				"Risk score: %.2f (%s). The response appears to be appropriate for the given question and context. "+
				"Standard deployment practices are recommended.", risk.Score, risk.Category),
			KeyFindings: []string{"No significant issues detected"},
			Impact:      "Low impact - output appears reliable.",
		}
		return n, n.Summary, nil
	}

	if e.model == nil {
		n := templateNarrative(failures, risk)
		return n, n.Summary, nil
	}

	res, err := e.model.GenerateStructured(ctx, ai.Request{
		Prompt:      explanationPrompt(in.Question, in.Answer, failures, claims, risk.Score, string(risk.Category)),
		System:      analyzerSystem,
		Temperature: 0.3,
		MaxTokens:   1536,
	})
	if err == nil && !res.OK {
		err = fmt.Errorf("explanation: %w", ai.ErrParse)
	}
	if err != nil {
		n := templateNarrative(failures, risk)
		return n, n.Summary, []StageError{stageError(string(StageExplanation), err)}
	}

	n := Narrative{
		Summary:     stringField(res.Data, "summary", ""),
		KeyFindings: nonNil(stringList(res.Data, "key_findings")),
		Detailed:    stringField(res.Data, "detailed_explanation", ""),
		Impact:      stringField(res.Data, "impact_assessment", ""),
	}
	if n.Summary == "" {
		t := templateNarrative(failures, risk)
		return t, t.Summary, []StageError{{Stage: string(StageExplanation), Message: "explanation summary missing"}}
	}
	return n, combineNarrative(n), nil
}

func combineNarrative(n Narrative) string {
	parts := []string{n.Summary}
	if n.Detailed != "" {
		parts = append(parts, n.Detailed)
	}
	if n.Impact != "" {
		parts = append(parts, "Impact: "+n.Impact)
	}
	return strings.Join(parts, "\n\n")
}

func templateNarrative(failures []FailureSignal, risk scoring.RiskResult) Narrative {
	names := make([]string, 0, len(failures))
	findings := make([]string, 0, len(failures))
	for _, f := range failures {
		names = append(names, scoring.TitleCase(string(f.FailureType)))
		findings = append(findings, string(f.FailureType))
	}
	summary := fmt.Sprintf("Analysis detected %d potential issue(s): %s. Overall risk score: %.2f (%s). "+
		"Review the detailed findings and evidence for each failure type. "+
		"Consider the recommendations provided to mitigate these issues.",
		len(failures), strings.Join(names, ", "), risk.Score, strings.ToUpper(string(risk.Category)))
	return Narrative{
		Summary:     summary,
		KeyFindings: findings,
		Impact:      "Risk level: " + string(risk.Category),
	}
}

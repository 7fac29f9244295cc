package analysis

import "faris/backend/internal/scoring"

// TaxonomyEntry describes one failure type for API consumers.
type TaxonomyEntry struct {
	Type                 FailureType `json:"type"`
	Name                 string      `json:"name"`
	Description          string      `json:"description"`
	Examples             []string    `json:"examples"`
	DetectionSignals     []string    `json:"detection_signals"`
	SeverityWeight       float64     `json:"severity_weight"`
	MitigationStrategies []string    `json:"mitigation_strategies"`
}

var taxonomy = []TaxonomyEntry{
	{
		Type: Hallucination,
		Name: "Hallucination",
		Description: "The answer contains information that is factually incorrect, fabricated, or not grounded " +
			"in the provided context. This covers made-up facts, fake citations, non-existent entities and " +
			"incorrect technical details.",
		Examples: []string{
			"Citing a research paper that doesn't exist",
			"Claiming a historical event happened on the wrong date",
			"Inventing statistics or numerical data",
			"Describing features of a product that don't exist",
		},
		DetectionSignals: []string{
			"Claims not verifiable from provided context",
			"External knowledge required but not cited",
			"Fabricated entities, names, or references",
			"Inconsistency with known facts",
		},
		MitigationStrategies: []string{
			"Implement retrieval-augmented generation (RAG)",
			"Add source citation requirements",
			"Use fact-checking verification layer",
			"Reduce temperature for factual queries",
		},
	},
	{
		Type: LogicalInconsistency,
		Name: "Logical Inconsistency",
		Description: "The answer contains logical errors, internal contradictions, or invalid reasoning. " +
			"The conclusion does not follow from the premises, or parts of the answer contradict each other.",
		Examples: []string{
			"Stating X is true, then later stating X is false",
			"Drawing a conclusion that doesn't follow from the argument",
			"Using circular reasoning",
			"Making invalid logical inferences",
		},
		DetectionSignals: []string{
			"Internal contradictions between claims",
			"Non sequitur conclusions",
			"Invalid inference patterns",
			"Missing logical steps in reasoning",
		},
		MitigationStrategies: []string{
			"Implement chain-of-thought prompting",
			"Add self-consistency checking",
			"Use reasoning verification layer",
			"Request step-by-step explanations",
		},
	},
	{
		Type: MissingAssumptions,
		Name: "Missing Assumptions",
		Description: "The answer depends on unstated assumptions that should be acknowledged. It takes " +
			"conditions or constraints for granted that the question never provided.",
		Examples: []string{
			"Answering a finance question assuming US tax law",
			"Assuming a specific programming language without being told",
			"Taking for granted domain-specific knowledge",
			"Ignoring edge cases and exceptions",
		},
		DetectionSignals: []string{
			"Answer assumes unstated conditions",
			"Domain-specific assumptions not acknowledged",
			"Critical context assumed but not verified",
			"Edge cases ignored without mention",
		},
		MitigationStrategies: []string{
			"Require explicit assumption listing",
			"Implement clarification request flow",
			"Provide comprehensive context in prompts",
			"Define default assumptions clearly",
		},
	},
	{
		Type: Overconfidence,
		Name: "Overconfidence",
		Description: "The answer expresses unjustified certainty, using absolute language or failing to " +
			"acknowledge uncertainty where the evidence calls for it.",
		Examples: []string{
			"Using 'always' or 'never' for probabilistic events",
			"Stating opinions as definitive facts",
			"Not hedging on uncertain or debated topics",
			"Claiming certainty on future predictions",
		},
		DetectionSignals: []string{
			"Absolute language (always, never, definitely)",
			"Lack of uncertainty markers",
			"Definitive statements on uncertain topics",
			"Tone vs evidence mismatch",
		},
		MitigationStrategies: []string{
			"Request confidence qualifiers",
			"Implement calibration training",
			"Add post-processing for absolute statements",
			"Prompt for acknowledgment of uncertainty",
		},
	},
	{
		Type: ScopeViolation,
		Name: "Scope Violation",
		Description: "The answer goes beyond the question, introducing tangential information or " +
			"unsolicited advice that was not asked for.",
		Examples: []string{
			"Adding medical advice to a cooking question",
			"Providing unsolicited opinions on ethics",
			"Expanding a simple question into a lecture",
			"Introducing unrelated topics",
		},
		DetectionSignals: []string{
			"Information beyond what was asked",
			"Tangential topics introduced",
			"Unsolicited advice or opinions",
			"Significant scope creep from question",
		},
		MitigationStrategies: []string{
			"Add scope constraints to prompts",
			"Implement response filtering",
			"Define clear boundaries in system prompt",
			"Use focused summarization post-processing",
		},
	},
	{
		Type: Underspecification,
		Name: "Underspecification Risk",
		Description: "The question lacks information needed for a reliable answer, and the answer proceeds " +
			"without acknowledging the gap or asking for clarification.",
		Examples: []string{
			"Answering 'What's the best language?' without asking 'for what?'",
			"Providing specific advice on incomplete scenarios",
			"Not asking for clarification on ambiguous terms",
			"Making silent assumptions about missing parameters",
		},
		DetectionSignals: []string{
			"Question is ambiguous",
			"Critical parameters missing",
			"Multiple valid interpretations exist",
			"Should have requested clarification",
		},
		MitigationStrategies: []string{
			"Implement ambiguity detection",
			"Add clarification workflow",
			"Provide default assumptions explicitly",
			"Train model to identify underspecified queries",
		},
	},
}

// Taxonomy returns the failure catalogue with weights from scorer.
func Taxonomy(scorer *scoring.RiskScorer) []TaxonomyEntry {
	if scorer == nil {
		scorer = scoring.NewRiskScorer(nil, nil)
	}
	out := make([]TaxonomyEntry, len(taxonomy))
	for i, entry := range taxonomy {
		entry.SeverityWeight = scorer.Weight(string(entry.Type))
		out[i] = entry
	}
	return out
}

// TaxonomyFor returns the entry for one failure type.
func TaxonomyFor(scorer *scoring.RiskScorer, t FailureType) (TaxonomyEntry, bool) {
	for _, entry := range Taxonomy(scorer) {
		if entry.Type == t {
			return entry, true
		}
	}
	return TaxonomyEntry{}, false
}

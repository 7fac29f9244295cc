package analysis

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"faris/backend/internal/ai"
	"faris/backend/internal/scoring"
)

const (
	recommendationsPerType = 2
	maxDomainRecs          = 3
	maxRecommendations     = 10
)

var recommendationTable = map[FailureType][]Recommendation{
	Hallucination: {
		{Priority: 1, Title: "Implement RAG with verified sources",
			Description:        "Ground responses in retrieved, verified documents.",
			ImplementationHint: "Index a curated knowledge base in a vector store and inject the top passages into the prompt."},
		{Priority: 2, Title: "Add source citations requirement",
			Description:        "Require the model to cite a source for every factual claim.",
			ImplementationHint: "State the citation requirement in the system prompt and reject answers without citations."},
		{Priority: 2, Title: "Implement fact-checking pipeline",
			Description:        "Verify factual claims in a post-processing step.",
			ImplementationHint: "Route extracted claims through a verification model or knowledge graph lookup."},
	},
	LogicalInconsistency: {
		{Priority: 1, Title: "Add chain-of-thought prompting",
			Description:        "Make the model show its reasoning steps explicitly.",
			ImplementationHint: "Ask for numbered reasoning before the final answer."},
		{Priority: 2, Title: "Implement self-consistency checking",
			Description:        "Sample several responses and compare them for agreement.",
			ImplementationHint: "Generate 3-5 samples and keep the majority conclusion."},
		{Priority: 3, Title: "Add logical validation layer",
			Description:        "Validate reasoning chains with a separate critic model.",
			ImplementationHint: "Run a critic pass that checks each step follows from the previous ones."},
	},
	MissingAssumptions: {
		{Priority: 1, Title: "Require explicit assumption listing",
			Description:        "Have the model list its assumptions before answering.",
			ImplementationHint: "Add a required assumptions section to the response format."},
		{Priority: 2, Title: "Implement clarification requests",
			Description:        "Let the model ask clarifying questions when information is missing.",
			ImplementationHint: "Detect clarification requests in the output and route them back to the user."},
		{Priority: 2, Title: "Provide comprehensive context",
			Description:        "Include all context the task depends on in the prompt.",
			ImplementationHint: "Build prompt templates with required context fields."},
	},
	Overconfidence: {
		{Priority: 1, Title: "Request confidence qualifiers",
			Description:        "Ask the model to state its uncertainty where appropriate.",
			ImplementationHint: "Require a confidence level alongside each key claim."},
		{Priority: 2, Title: "Implement calibration training",
			Description:        "Tune prompts or the model for better calibrated confidence.",
			ImplementationHint: "Use few-shot examples that demonstrate appropriate hedging."},
		{Priority: 3, Title: "Post-process absolute statements",
			Description:        "Flag absolute language in responses before delivery.",
			ImplementationHint: "Scan for terms such as 'always' and 'never' and route matches for review."},
	},
	ScopeViolation: {
		{Priority: 1, Title: "Add scope constraints to prompts",
			Description:        "Define the scope of acceptable responses explicitly.",
			ImplementationHint: "Instruct the model to answer only the specific question asked."},
		{Priority: 2, Title: "Implement response filtering",
			Description:        "Remove tangential content from responses.",
			ImplementationHint: "Add a summarization pass focused on the original question."},
	},
	Underspecification: {
		{Priority: 1, Title: "Implement ambiguity detection",
			Description:        "Detect ambiguous queries before answering them.",
			ImplementationHint: "Classify incoming questions for missing parameters."},
		{Priority: 2, Title: "Add clarification workflow",
			Description:        "Gather missing information through a multi-turn exchange.",
			ImplementationHint: "Return clarifying questions instead of an answer when parameters are missing."},
		{Priority: 3, Title: "Provide default assumptions",
			Description:        "Define and state standard assumptions when information is missing.",
			ImplementationHint: "Maintain per-domain default assumption sets and surface them in answers."},
	},
}

// Recommender maps retained failures to mitigations.
type Recommender struct {
	model ai.StructuredGenerator
}

// NewRecommender builds a Recommender. A nil model disables the
// domain-specific enrichment.
func NewRecommender(model ai.StructuredGenerator) *Recommender {
	return &Recommender{model: model}
}

// Recommend returns up to ten recommendations sorted by priority.
func (r *Recommender) Recommend(ctx context.Context, domain Domain, failures []FailureSignal) []Recommendation {
	recs := []Recommendation{}
	if len(failures) == 0 {
		return recs
	}

	bySeverity := make([]FailureSignal, len(failures))
	copy(bySeverity, failures)
	sort.SliceStable(bySeverity, func(i, j int) bool {
		return scoring.SeverityRank(string(bySeverity[i].Severity)) < scoring.SeverityRank(string(bySeverity[j].Severity))
	})

	seen := make(map[FailureType]bool)
	for _, f := range bySeverity {
		if seen[f.FailureType] {
			continue
		}
		seen[f.FailureType] = true
		table := recommendationTable[f.FailureType]
		if len(table) > recommendationsPerType {
			table = table[:recommendationsPerType]
		}
		for _, entry := range table {
			entry.ID = fmt.Sprintf("r%d", len(recs)+1)
			entry.FailureType = string(f.FailureType)
			recs = append(recs, entry)
		}
	}

	if domain != DomainGeneral && r.model != nil {
		recs = append(recs, r.domainRecommendations(ctx, domain, failures)...)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Priority < recs[j].Priority
	})
	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}

// domainRecommendations is best effort: any failure yields nothing.
func (r *Recommender) domainRecommendations(ctx context.Context, domain Domain, failures []FailureSignal) []Recommendation {
	res, err := r.model.GenerateStructured(ctx, ai.Request{
		Prompt:      recommendationPrompt(failures, domain),
		System:      analyzerSystem,
		Temperature: 0.3,
		MaxTokens:   1024,
	})
	if err != nil || !res.OK {
		logrus.WithField("domain", domain).WithError(err).Debug("domain recommendations unavailable")
		return nil
	}

	var out []Recommendation
	for _, rec := range recordList(res.Data, "recommendations") {
		if len(out) == maxDomainRecs {
			break
		}
		priority := intField(rec, "priority", 3)
		if priority < 1 || priority > 5 {
			priority = 3
		}
		out = append(out, Recommendation{
			ID:                 fmt.Sprintf("rd%d", len(out)+1),
			Priority:           priority,
			FailureType:        stringField(rec, "failure_type", "general"),
			Title:              stringField(rec, "title", "Domain-specific recommendation"),
			Description:        stringField(rec, "description", ""),
			ImplementationHint: stringField(rec, "implementation_hint", ""),
		})
	}
	return out
}

package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"faris/backend/internal/ai"
	"faris/backend/internal/match"
)

// detectorSpec captures what differs between the six detectors.
type detectorSpec struct {
	failureType     FailureType
	flagKey         string
	defaultSeverity Severity
	maxTokens       int
	noIssues        string
	unable          string
	prompt          func(Snapshot, *match.Lexicon) string
	evidence        func(data map[string]any, findings []map[string]any) (evidence, related []string)
}

var detectorSpecs = []detectorSpec{
	{
		failureType:     Hallucination,
		flagKey:         "hallucination_detected",
		defaultSeverity: SeverityMedium,
		maxTokens:       1536,
		noIssues:        "No hallucination issues detected.",
		unable:          "Unable to analyze for hallucinations.",
		prompt:          hallucinationPrompt,
		evidence:        hallucinationEvidence,
	},
	{
		failureType:     LogicalInconsistency,
		flagKey:         "inconsistency_detected",
		defaultSeverity: SeverityMedium,
		maxTokens:       1536,
		noIssues:        "No logical inconsistencies detected.",
		unable:          "Unable to analyze for logical inconsistencies.",
		prompt:          logicalPrompt,
		evidence:        logicalEvidence,
	},
	{
		failureType:     MissingAssumptions,
		flagKey:         "missing_assumptions_detected",
		defaultSeverity: SeverityMedium,
		maxTokens:       1536,
		noIssues:        "No missing assumptions detected.",
		unable:          "Unable to analyze for missing assumptions.",
		prompt:          assumptionsPrompt,
		evidence:        assumptionEvidence,
	},
	{
		failureType:     Overconfidence,
		flagKey:         "overconfidence_detected",
		defaultSeverity: SeverityMedium,
		maxTokens:       1536,
		noIssues:        "No overconfidence detected.",
		unable:          "Unable to analyze for overconfidence.",
		prompt:          overconfidencePrompt,
		evidence:        overconfidenceEvidence,
	},
	{
		failureType:     ScopeViolation,
		flagKey:         "scope_violation_detected",
		defaultSeverity: SeverityLow,
		maxTokens:       1024,
		noIssues:        "No scope violations detected.",
		unable:          "Unable to analyze for scope violations.",
		prompt:          scopePrompt,
		evidence:        scopeEvidence,
	},
	{
		failureType:     Underspecification,
		flagKey:         "underspecification_detected",
		defaultSeverity: SeverityMedium,
		maxTokens:       1024,
		noIssues:        "No underspecification issues detected.",
		unable:          "Unable to analyze for underspecification.",
		prompt:          underspecificationPrompt,
		evidence:        underspecificationEvidence,
	},
}

func specFor(t FailureType) (detectorSpec, bool) {
	for _, s := range detectorSpecs {
		if s.failureType == t {
			return s, true
		}
	}
	return detectorSpec{}, false
}

// DetectorResult is what one detector hands back at fan-in.
type DetectorResult struct {
	Signal  FailureSignal
	Outcome Outcome
	Err     error
	Elapsed time.Duration
}

// Detector evaluates one failure type.
type Detector struct {
	spec    detectorSpec
	model   ai.StructuredGenerator
	lexicon *match.Lexicon
}

// NewDetectors returns one detector per failure type in encounter order.
func NewDetectors(model ai.StructuredGenerator, lexicon *match.Lexicon) []*Detector {
	if lexicon == nil {
		lexicon = match.DefaultLexicon()
	}
	out := make([]*Detector, 0, len(detectorSpecs))
	for _, spec := range detectorSpecs {
		out = append(out, &Detector{spec: spec, model: model, lexicon: lexicon})
	}
	return out
}

// Type returns the failure type this detector reports on.
func (d *Detector) Type() FailureType {
	return d.spec.failureType
}

// Name is the stage name used in timings and error entries.
func (d *Detector) Name() string {
	return string(d.spec.failureType) + "_detector"
}

// Detect runs the detector against a snapshot. It never returns an error
// value: backend and parse failures yield the default signal with a
// degraded outcome.
func (d *Detector) Detect(ctx context.Context, snap Snapshot) DetectorResult {
	if d.model == nil {
		return d.degraded(ai.ErrDisabled)
	}
	res, err := d.model.GenerateStructured(ctx, ai.Request{
		Prompt:      d.spec.prompt(snap, d.lexicon),
		System:      criticSystem,
		Temperature: 0.1,
		MaxTokens:   d.spec.maxTokens,
	})
	if err != nil {
		return d.degraded(err)
	}
	if !res.OK {
		return d.degraded(ai.ErrParse)
	}

	findings := recordList(res.Data, "findings")
	evidence, related := d.spec.evidence(res.Data, findings)
	return DetectorResult{
		Signal: FailureSignal{
			FailureType:     d.spec.failureType,
			Detected:        boolField(res.Data, d.spec.flagKey, false),
			Confidence:      clamp01(floatField(res.Data, "confidence", 0)),
			Severity:        ParseSeverity(stringField(res.Data, "severity", ""), d.spec.defaultSeverity),
			Evidence:        nonNil(evidence),
			RelatedClaimIDs: nonNil(related),
			Explanation:     stringField(res.Data, "summary", d.spec.noIssues),
			Findings:        findings,
		},
		Outcome: OutcomeOK,
	}
}

func (d *Detector) degraded(err error) DetectorResult {
	return DetectorResult{
		Signal:  DefaultSignal(d.spec.failureType),
		Outcome: OutcomeDegraded,
		Err:     err,
	}
}

// DefaultSignal is the non-detection signal used when a detector cannot
// produce a genuine result.
func DefaultSignal(t FailureType) FailureSignal {
	explanation := "Unable to analyze."
	if spec, ok := specFor(t); ok {
		explanation = spec.unable
	}
	return FailureSignal{
		FailureType:     t,
		Detected:        false,
		Confidence:      0,
		Severity:        SeverityLow,
		Evidence:        []string{},
		RelatedClaimIDs: []string{},
		Explanation:     explanation,
		Findings:        []map[string]any{},
	}
}

func hallucinationEvidence(_ map[string]any, findings []map[string]any) ([]string, []string) {
	var evidence, related []string
	for _, f := range findings {
		if !boolField(f, "is_hallucinated", false) {
			continue
		}
		if id := stringField(f, "claim_id", ""); id != "" {
			related = append(related, id)
		}
		if reason := stringField(f, "reason", ""); reason != "" {
			evidence = append(evidence, reason)
		}
	}
	return evidence, related
}

func logicalEvidence(_ map[string]any, findings []map[string]any) ([]string, []string) {
	var evidence, related []string
	for _, f := range findings {
		for _, id := range stringList(f, "involved_claims") {
			related = match.AppendUnique(related, id)
		}
		if desc := stringField(f, "description", ""); desc != "" {
			evidence = append(evidence, fmt.Sprintf("[%s] %s", stringField(f, "type", "unknown"), desc))
		}
	}
	return evidence, related
}

func assumptionEvidence(_ map[string]any, findings []map[string]any) ([]string, []string) {
	var evidence []string
	for _, f := range findings {
		if !boolField(f, "should_be_stated", false) {
			continue
		}
		if assumption := stringField(f, "assumption", ""); assumption != "" {
			evidence = append(evidence, "Unstated assumption: "+assumption)
		}
		if impact := stringField(f, "impact", ""); impact != "" {
			evidence = append(evidence, "Impact: "+impact)
		}
	}
	return evidence, nil
}

func overconfidenceEvidence(data map[string]any, findings []map[string]any) ([]string, []string) {
	var evidence, related []string
	for _, f := range findings {
		if id := stringField(f, "claim_id", ""); id != "" {
			related = match.AppendUnique(related, id)
		}
		text := stringField(f, "text", "")
		issue := stringField(f, "issue", "")
		if text != "" && issue != "" {
			evidence = append(evidence, fmt.Sprintf("\"%s\" - %s", text, issue))
		}
	}
	if terms := stringList(data, "absolute_terms_found"); len(terms) > 0 {
		evidence = append(evidence, "Absolute terms used: "+strings.Join(terms, ", "))
	}
	return evidence, related
}

func scopeEvidence(_ map[string]any, findings []map[string]any) ([]string, []string) {
	var evidence []string
	for _, f := range findings {
		if text := stringField(f, "text", ""); text != "" {
			evidence = append(evidence, fmt.Sprintf("[%s] %s...", stringField(f, "violation_type", ""), match.Truncate(text, 100)))
		}
		if explanation := stringField(f, "explanation", ""); explanation != "" {
			evidence = append(evidence, explanation)
		}
	}
	return evidence, nil
}

func underspecificationEvidence(data map[string]any, findings []map[string]any) ([]string, []string) {
	var evidence []string
	for _, f := range findings {
		if issue := stringField(f, "issue", ""); issue != "" {
			evidence = append(evidence, fmt.Sprintf("[%s] %s", stringField(f, "ambiguity_type", ""), issue))
		}
		if interpretations := stringList(f, "possible_interpretations"); len(interpretations) > 0 {
			evidence = append(evidence, "Possible interpretations: "+strings.Join(firstN(interpretations, 3), ", "))
		}
	}
	if questions := stringList(data, "clarifying_questions"); len(questions) > 0 {
		evidence = append(evidence, "Should have asked: "+strings.Join(firstN(questions, 3), "; "))
	}
	return evidence, nil
}

package analysis

import (
	"fmt"
	"strings"

	"faris/backend/internal/match"
)

const analyzerSystem = `You are FARIS, an analyst that inspects answers produced by language models for reliability failures.
You identify problems in the answer you are given; you never write a new answer yourself.
Be precise and evidence-based and never make unsupported claims.
Reply with a single valid JSON object in exactly the requested format.`

const criticSystem = `You are a critical reviewer of language model output.
You look for logical flaws, unsupported claims and other reliability failures.
Only flag genuine issues that you can back with clear evidence.
Reply with a single valid JSON object.`

const noContext = "No context provided."

func orNoContext(ctx string) string {
	if strings.TrimSpace(ctx) == "" {
		return noContext
	}
	return ctx
}

func formatClaims(claims []Claim) string {
	if len(claims) == 0 {
		return "No claims extracted."
	}
	var b strings.Builder
	for i, c := range claims {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%s] %s", c.ID, c.Text)
	}
	return b.String()
}

func formatList(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, item)
	}
	return b.String()
}

func precheckPrompt(question, answer string) string {
	return fmt.Sprintf(`Decide whether the following input is suitable for failure analysis.

QUESTION: %s

LLM ANSWER: %s

Consider:
1. Does the answer actually attempt to address the question?
2. Is it a refusal or an error message?
3. Is there enough content to analyze?
4. Is it coherent text rather than gibberish?

Reply with JSON:
{
    "is_valid": true|false,
    "issues": ["issues found, if any"],
    "answer_type": "response|refusal|error|empty|gibberish",
    "proceed_with_analysis": true|false,
    "reason": "short explanation"
}`, match.Truncate(question, 1000), match.Truncate(answer, 2000))
}

func decomposePrompt(question, answer, context string) string {
	return fmt.Sprintf(`Extract every distinct claim made in the following answer.

QUESTION: %s

LLM ANSWER: %s

CONTEXT: %s

For each claim give:
1. The atomic statement
2. Whether it is a factual claim, an opinion or a reasoning step
3. The implicit assumptions it needs in order to be true

Reply with JSON:
{
    "claims": [
        {
            "claim_id": "c1",
            "claim_text": "the claim",
            "claim_type": "factual|opinion|reasoning",
            "implicit_assumptions": ["assumption"]
        }
    ],
    "overall_assumptions": ["assumptions the whole answer depends on"],
    "reasoning_chain": ["step 1", "step 2"]
}

Include obvious claims too.`, question, answer, orNoContext(context))
}

func hallucinationPrompt(s Snapshot, _ *match.Lexicon) string {
	return fmt.Sprintf(`Check the following claims for hallucination.

ORIGINAL QUESTION: %s

CONTEXT PROVIDED: %s

CLAIMS:
%s

A claim is hallucinated when it is unsupported by the context, states fabricated facts, numbers or citations,
invents entities, people or events, or gets technical details wrong.

Reply with JSON:
{
    "hallucination_detected": true|false,
    "confidence": 0.0-1.0,
    "severity": "low|medium|high|critical",
    "findings": [
        {
            "claim_id": "c1",
            "is_hallucinated": true|false,
            "confidence": 0.0-1.0,
            "reason": "why the claim is or is not hallucinated",
            "evidence": "what supports this finding"
        }
    ],
    "summary": "short summary"
}

Only flag clear hallucinations.`, s.Question, orNoContext(s.Context), formatClaims(s.Claims))
}

func logicalPrompt(s Snapshot, _ *match.Lexicon) string {
	return fmt.Sprintf(`Check the following answer for logical inconsistencies.

QUESTION: %s

ANSWER: %s

CLAIMS:
%s

REASONING CHAIN:
%s

Look for contradictions between claims, conclusions that do not follow, invalid inferences,
circular reasoning and missing steps.

Reply with JSON:
{
    "inconsistency_detected": true|false,
    "confidence": 0.0-1.0,
    "severity": "low|medium|high|critical",
    "findings": [
        {
            "type": "contradiction|non_sequitur|invalid_inference|circular|missing_step",
            "description": "the inconsistency",
            "involved_claims": ["c1", "c2"],
            "explanation": "why it is a logical problem"
        }
    ],
    "summary": "short summary"
}`, s.Question, s.Answer, formatClaims(s.Claims), formatList(s.ReasoningSteps, "No explicit reasoning chain."))
}

func assumptionsPrompt(s Snapshot, _ *match.Lexicon) string {
	return fmt.Sprintf(`Check whether the answer relies on unstated assumptions that should have been made explicit.

QUESTION: %s

CONTEXT: %s

ANSWER: %s

ASSUMPTIONS ALREADY IDENTIFIED:
%s

Consider conditions not stated in the question, unverified context, unacknowledged domain knowledge,
ignored edge cases and temporal or situational assumptions.

Reply with JSON:
{
    "missing_assumptions_detected": true|false,
    "confidence": 0.0-1.0,
    "severity": "low|medium|high|critical",
    "findings": [
        {
            "assumption": "what is assumed",
            "impact": "how it affects the answer",
            "should_be_stated": true|false,
            "suggested_clarification": "how to make it explicit"
        }
    ],
    "summary": "short summary"
}`, s.Question, orNoContext(s.Context), s.Answer, formatList(s.Assumptions, "None identified."))
}

func overconfidencePrompt(s Snapshot, lex *match.Lexicon) string {
	spotted := "none"
	if hits := lex.Match(match.ClassAbsolute, s.Answer); len(hits) > 0 {
		spotted = strings.Join(hits, ", ")
	}
	return fmt.Sprintf(`Check the answer for confidence that the evidence does not warrant.

QUESTION: %s

ANSWER: %s

CLAIMS:
%s

ABSOLUTE TERMS SPOTTED BY KEYWORD SCAN: %s

Look for absolute language, missing acknowledgement of uncertainty, definitive statements on uncertain
topics, missing caveats and a tone that outruns the evidence.

Reply with JSON:
{
    "overconfidence_detected": true|false,
    "confidence": 0.0-1.0,
    "severity": "low|medium|high|critical",
    "findings": [
        {
            "text": "the overconfident statement",
            "claim_id": "c1",
            "issue": "why it is overconfident",
            "suggested_revision": "a hedged version"
        }
    ],
    "absolute_terms_found": ["terms"],
    "summary": "short summary"
}`, s.Question, s.Answer, formatClaims(s.Claims), spotted)
}

func scopePrompt(s Snapshot, _ *match.Lexicon) string {
	return fmt.Sprintf(`Check whether the answer stays within the scope of the question.

QUESTION: %s

ANSWER: %s

Look for information beyond what was asked, tangents, unsolicited advice or opinions, scope creep
and unnecessary elaboration.

Reply with JSON:
{
    "scope_violation_detected": true|false,
    "confidence": 0.0-1.0,
    "severity": "low|medium|high|critical",
    "findings": [
        {
            "text": "the out-of-scope content",
            "violation_type": "tangent|unsolicited|elaboration|different_topic",
            "explanation": "why it is out of scope"
        }
    ],
    "summary": "short summary"
}`, s.Question, s.Answer)
}

func underspecificationPrompt(s Snapshot, _ *match.Lexicon) string {
	return fmt.Sprintf(`Check whether the question lacked information needed for a reliable answer.

QUESTION: %s

CONTEXT: %s

ANSWER: %s

Consider ambiguity, missing parameters, multiple valid interpretations, and whether the answer should
have asked for clarification instead of assuming.

Reply with JSON:
{
    "underspecification_detected": true|false,
    "confidence": 0.0-1.0,
    "severity": "low|medium|high|critical",
    "findings": [
        {
            "issue": "what information is missing",
            "ambiguity_type": "parameter|scope|interpretation|context",
            "possible_interpretations": ["interpretation"],
            "should_clarify": true|false
        }
    ],
    "clarifying_questions": ["questions that should have been asked"],
    "summary": "short summary"
}`, s.Question, orNoContext(s.Context), s.Answer)
}

func explanationPrompt(question, answer string, failures []FailureSignal, claims []Claim, score float64, category string) string {
	var fb strings.Builder
	for i, f := range failures {
		if i == 5 {
			break
		}
		if i > 0 {
			fb.WriteByte('\n')
		}
		fmt.Fprintf(&fb, "- %s (%s severity, %.0f%% confidence): %s",
			f.FailureType, f.Severity, f.Confidence*100, f.Explanation)
		for _, ev := range firstN(f.Evidence, 3) {
			fmt.Fprintf(&fb, "\n  * %s", ev)
		}
	}
	shown := claims
	if len(shown) > 10 {
		shown = shown[:10]
	}
	return fmt.Sprintf(`Write a clear explanation of the following failure analysis.

QUESTION: %s

ANSWER: %s

DETECTED FAILURES:
%s

CLAIMS:
%s

RISK SCORE: %.3f
RISK LEVEL: %s

The explanation should summarize the key findings, say why each failure matters, tie failures to
specific claims and be useful to the developers who must fix them.

Reply with JSON:
{
    "summary": "one paragraph summary",
    "key_findings": ["finding in plain language"],
    "detailed_explanation": "detailed explanation",
    "impact_assessment": "how these failures could affect users"
}`, match.Truncate(question, 500), match.Truncate(answer, 1000), fb.String(), formatClaims(shown), score, category)
}

func recommendationPrompt(failures []FailureSignal, domain Domain) string {
	var fb strings.Builder
	for i, f := range failures {
		if i > 0 {
			fb.WriteByte('\n')
		}
		fmt.Fprintf(&fb, "- %s: %s", f.FailureType, match.Truncate(f.Explanation, 100))
	}
	return fmt.Sprintf(`Suggest actionable fixes for the failures below, specific to the %s domain.

DETECTED FAILURES:
%s

DOMAIN: %s

Reply with JSON:
{
    "recommendations": [
        {
            "recommendation_id": "r1",
            "priority": 1-5,
            "failure_type": "failure type addressed",
            "title": "short action title",
            "description": "what to do",
            "implementation_hint": "technical guidance"
        }
    ]
}

Priority 1 is most urgent and 5 is nice to have.`, domain, fb.String(), domain)
}

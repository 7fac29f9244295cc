package analysis

import (
	"fmt"
	"strings"
)

// Domain selects the risk multiplier applied to a run.
type Domain string

const (
	DomainGeneral Domain = "general"
	DomainFinance Domain = "finance"
	DomainMedical Domain = "medical"
	DomainLegal   Domain = "legal"
	DomainCode    Domain = "code"
)

// Domains lists every supported domain.
var Domains = []Domain{DomainGeneral, DomainFinance, DomainMedical, DomainLegal, DomainCode}

// ParseDomain validates a domain name. An empty name means general.
func ParseDomain(name string) (Domain, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DomainGeneral, nil
	}
	for _, d := range Domains {
		if string(d) == name {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown domain %q", name)
}

// FailureType names one of the six failure classes.
type FailureType string

const (
	Hallucination        FailureType = "hallucination"
	LogicalInconsistency FailureType = "logical_inconsistency"
	MissingAssumptions   FailureType = "missing_assumptions"
	Overconfidence       FailureType = "overconfidence"
	ScopeViolation       FailureType = "scope_violation"
	Underspecification   FailureType = "underspecification"
)

// FailureTypes is the fixed encounter order used for tie-breaking.
var FailureTypes = []FailureType{
	Hallucination,
	LogicalInconsistency,
	MissingAssumptions,
	Overconfidence,
	ScopeViolation,
	Underspecification,
}

// ParseFailureType validates a failure type name.
func ParseFailureType(name string) (FailureType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, t := range FailureTypes {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

func encounterIndex(t FailureType) int {
	for i, ft := range FailureTypes {
		if ft == t {
			return i
		}
	}
	return len(FailureTypes)
}

// Severity grades how harmful a failure is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity normalizes a severity, returning def for unknown values.
func ParseSeverity(value string, def Severity) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(value))) {
	case SeverityLow:
		return SeverityLow
	case SeverityMedium:
		return SeverityMedium
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return def
	}
}

// AnswerType classifies the analysed answer during precheck.
type AnswerType string

const (
	AnswerResponse  AnswerType = "response"
	AnswerRefusal   AnswerType = "refusal"
	AnswerError     AnswerType = "error"
	AnswerEmpty     AnswerType = "empty"
	AnswerGibberish AnswerType = "gibberish"
)

func parseAnswerType(value string) AnswerType {
	switch AnswerType(strings.ToLower(strings.TrimSpace(value))) {
	case AnswerRefusal:
		return AnswerRefusal
	case AnswerError:
		return AnswerError
	case AnswerEmpty:
		return AnswerEmpty
	case AnswerGibberish:
		return AnswerGibberish
	default:
		return AnswerResponse
	}
}

// ClaimType describes what kind of statement a claim is.
type ClaimType string

const (
	ClaimFactual   ClaimType = "factual"
	ClaimOpinion   ClaimType = "opinion"
	ClaimReasoning ClaimType = "reasoning"
)

func parseClaimType(value string) ClaimType {
	switch ClaimType(strings.ToLower(strings.TrimSpace(value))) {
	case ClaimOpinion:
		return ClaimOpinion
	case ClaimReasoning:
		return ClaimReasoning
	default:
		return ClaimFactual
	}
}

// Claim is one atomic statement extracted from the answer.
type Claim struct {
	ID          string        `json:"claim_id"`
	Text        string        `json:"claim_text"`
	Type        ClaimType     `json:"claim_type"`
	Assumptions []string      `json:"implicit_assumptions"`
	Issues      []FailureType `json:"issues"`
}

// Supported reports whether no retained failure references the claim.
func (c Claim) Supported() bool {
	return len(c.Issues) == 0
}

// FailureSignal is the output of one detector.
type FailureSignal struct {
	FailureType     FailureType      `json:"failure_type"`
	Detected        bool             `json:"detected"`
	Confidence      float64          `json:"confidence"`
	Severity        Severity         `json:"severity"`
	Evidence        []string         `json:"evidence"`
	RelatedClaimIDs []string         `json:"related_claim_ids"`
	Explanation     string           `json:"explanation"`
	Findings        []map[string]any `json:"findings"`
}

// Recommendation is an actionable mitigation for a failure type.
type Recommendation struct {
	ID                 string `json:"recommendation_id"`
	Priority           int    `json:"priority"`
	FailureType        string `json:"failure_type"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	ImplementationHint string `json:"implementation_hint,omitempty"`
}

// Outcome reports whether a stage produced a genuine result.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeDegraded Outcome = "degraded"
)

// Stage names a pipeline state.
type Stage string

const (
	StagePrecheck       Stage = "precheck"
	StageEarlyExit      Stage = "early_exit"
	StageDecomposition  Stage = "decomposition"
	StageDetection      Stage = "parallel_detection"
	StageAggregation    Stage = "aggregation"
	StageRiskScoring    Stage = "risk_scoring"
	StageExplanation    Stage = "explanation"
	StageRecommendation Stage = "recommendation"
	StageFinalize       Stage = "finalize"
	StageDone           Stage = "done"
)

// StageError records a non-fatal failure inside a stage.
type StageError struct {
	Stage   string `json:"stage"`
	Message string `json:"error"`
}

func (e StageError) Error() string {
	return e.Stage + ": " + e.Message
}

func stageError(stage string, err error) StageError {
	return StageError{Stage: stage, Message: err.Error()}
}

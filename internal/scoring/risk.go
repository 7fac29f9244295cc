package scoring

import (
	"fmt"
	"sort"
	"strings"
)

const unknownTypeWeight = 0.1

// DefaultWeights is the per failure type weight table.
var DefaultWeights = map[string]float64{
	"hallucination":         0.35,
	"logical_inconsistency": 0.25,
	"missing_assumptions":   0.20,
	"overconfidence":        0.10,
	"scope_violation":       0.05,
	"underspecification":    0.05,
}

// DefaultDomainMultipliers scales risk for stricter domains.
var DefaultDomainMultipliers = map[string]float64{
	"general": 1.0,
	"finance": 1.5,
	"medical": 2.0,
	"legal":   1.8,
	"code":    1.3,
}

// Input is one retained failure fed into the scorer.
type Input struct {
	FailureType string
	Confidence  float64
	Severity    string
}

// Factor is the scoring breakdown for one failure.
type Factor struct {
	FailureType        string  `json:"failure_type"`
	Confidence         float64 `json:"confidence"`
	Severity           string  `json:"severity"`
	TypeWeight         float64 `json:"type_weight"`
	SeverityMultiplier float64 `json:"severity_multiplier"`
	DomainMultiplier   float64 `json:"domain_multiplier"`
	Contribution       float64 `json:"contribution"`
}

// RiskResult is the deterministic output of a scoring pass.
type RiskResult struct {
	Score            float64  `json:"risk_score"`
	Category         Category `json:"risk_category"`
	DomainMultiplier float64  `json:"domain_multiplier"`
	Factors          []Factor `json:"contributing_factors"`
	Explanation      string   `json:"explanation"`
}

// RiskScorer computes risk from weighted failure contributions.
type RiskScorer struct {
	weights     map[string]float64
	multipliers map[string]float64
}

// NewRiskScorer copies the supplied tables; nil tables fall back to defaults.
func NewRiskScorer(weights, domainMultipliers map[string]float64) *RiskScorer {
	if weights == nil {
		weights = DefaultWeights
	}
	if domainMultipliers == nil {
		domainMultipliers = DefaultDomainMultipliers
	}
	s := &RiskScorer{
		weights:     make(map[string]float64, len(weights)),
		multipliers: make(map[string]float64, len(domainMultipliers)),
	}
	for k, v := range weights {
		s.weights[k] = v
	}
	for k, v := range domainMultipliers {
		s.multipliers[k] = v
	}
	return s
}

// Weight returns the weight of a failure type.
func (s *RiskScorer) Weight(failureType string) float64 {
	if w, ok := s.weights[failureType]; ok {
		return w
	}
	return unknownTypeWeight
}

// DomainMultiplier returns the multiplier for a domain, 1.0 if unknown.
func (s *RiskScorer) DomainMultiplier(domain string) float64 {
	if m, ok := s.multipliers[domain]; ok {
		return m
	}
	return 1.0
}

// Weights returns a copy of the weight table.
func (s *RiskScorer) Weights() map[string]float64 {
	out := make(map[string]float64, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out
}

// DomainMultipliers returns a copy of the domain multiplier table.
func (s *RiskScorer) DomainMultipliers() map[string]float64 {
	out := make(map[string]float64, len(s.multipliers))
	for k, v := range s.multipliers {
		out[k] = v
	}
	return out
}

// Score sums the contribution of every input and caps the total at 1.0.
// The score is rounded to three places and the category is derived from
// the rounded value. Factors are ordered by contribution, descending.
func (s *RiskScorer) Score(domain string, inputs []Input) RiskResult {
	multiplier := s.DomainMultiplier(domain)
	total := 0.0
	factors := make([]Factor, 0, len(inputs))
	for _, in := range inputs {
		confidence := clampFloat(in.Confidence, 0, 1)
		weight := s.Weight(in.FailureType)
		sevMult := SeverityMultiplier(in.Severity)
		contribution := confidence * weight * sevMult * multiplier
		total += contribution
		factors = append(factors, Factor{
			FailureType:        in.FailureType,
			Confidence:         confidence,
			Severity:           in.Severity,
			TypeWeight:         weight,
			SeverityMultiplier: sevMult,
			DomainMultiplier:   multiplier,
			Contribution:       round(contribution, 4),
		})
	}
	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Contribution > factors[j].Contribution
	})

	if total > 1.0 {
		total = 1.0
	}
	score := round(total, 3)
	result := RiskResult{
		Score:            score,
		Category:         CategoryFor(score),
		DomainMultiplier: multiplier,
		Factors:          factors,
	}
	result.Explanation = explainRisk(result, domain)
	return result
}

func explainRisk(result RiskResult, domain string) string {
	level := strings.ToUpper(string(result.Category))
	if len(result.Factors) == 0 {
		return fmt.Sprintf("Risk Score: %.2f (%s). No significant failures were detected in the analysis. "+
			"The LLM output appears to be reliable for the given context.", result.Score, level)
	}

	lines := []string{
		fmt.Sprintf("Risk Score: %.2f (%s)", result.Score, level),
		fmt.Sprintf("Domain: %s (multiplier: %gx)", domain, result.DomainMultiplier),
		"",
		"Contributing Factors:",
	}
	for i, f := range result.Factors {
		if i == 5 {
			break
		}
		lines = append(lines, fmt.Sprintf("  - %s: %.0f%% confidence, %s severity (+%.3f)",
			TitleCase(f.FailureType), f.Confidence*100, f.Severity, f.Contribution))
	}
	lines = append(lines, "")
	switch result.Category {
	case CategoryCritical:
		lines = append(lines, "CRITICAL: This output has significant reliability issues. Do not deploy without substantial review and correction.")
	case CategoryHigh:
		lines = append(lines, "HIGH RISK: Multiple significant issues detected. Careful review and mitigation recommended before deployment.")
	case CategoryMedium:
		lines = append(lines, "MODERATE RISK: Some issues detected. Review the flagged concerns before production use.")
	default:
		lines = append(lines, "LOW RISK: Minor issues detected. Standard review recommended.")
	}
	return strings.Join(lines, "\n")
}

// TitleCase turns "scope_violation" into "Scope Violation".
func TitleCase(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

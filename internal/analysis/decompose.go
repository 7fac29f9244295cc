package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"faris/backend/internal/ai"
	"faris/backend/internal/match"
)

const (
	maxFallbackClaims   = 20
	minFallbackClaimLen = 10
)

// Decomposition is the claim breakdown of an answer.
type Decomposition struct {
	Claims         []Claim
	Assumptions    []string
	ReasoningSteps []string
}

// Decomposer splits an answer into claims.
type Decomposer struct {
	model ai.StructuredGenerator
}

// NewDecomposer builds a Decomposer. A nil model always uses the
// sentence-split fallback.
func NewDecomposer(model ai.StructuredGenerator) *Decomposer {
	return &Decomposer{model: model}
}

// Decompose extracts claims, assumptions and reasoning steps. When the
// model call fails, or returns no claims, the answer is split into
// sentences instead and the failure is reported as a stage error.
func (d *Decomposer) Decompose(ctx context.Context, in Input) (Decomposition, []StageError) {
	if d.model == nil {
		return fallbackDecomposition(in.Answer), nil
	}

	res, err := d.model.GenerateStructured(ctx, ai.Request{
		Prompt:      decomposePrompt(in.Question, in.Answer, in.Context),
		System:      analyzerSystem,
		Temperature: 0.1,
		MaxTokens:   2048,
	})
	if err != nil {
		return fallbackDecomposition(in.Answer), []StageError{stageError(string(StageDecomposition), err)}
	}
	if !res.OK {
		return fallbackDecomposition(in.Answer),
			[]StageError{stageError(string(StageDecomposition), fmt.Errorf("claim extraction: %w", ai.ErrParse))}
	}

	var claims []Claim
	seen := make(map[string]bool)
	assumptions := stringList(res.Data, "overall_assumptions")
	for i, rec := range recordList(res.Data, "claims") {
		text := stringField(rec, "claim_text", "")
		if text == "" {
			continue
		}
		id := stringField(rec, "claim_id", fmt.Sprintf("c%d", i+1))
		if seen[id] {
			id = fmt.Sprintf("c%d", i+1)
		}
		seen[id] = true
		implicit := stringList(rec, "implicit_assumptions")
		claims = append(claims, Claim{
			ID:          id,
			Text:        text,
			Type:        parseClaimType(stringField(rec, "claim_type", "")),
			Assumptions: nonNil(implicit),
			Issues:      []FailureType{},
		})
		assumptions = append(assumptions, implicit...)
	}
	if len(claims) == 0 {
		return fallbackDecomposition(in.Answer),
			[]StageError{stageError(string(StageDecomposition), errors.New("model returned no claims"))}
	}

	return Decomposition{
		Claims:         claims,
		Assumptions:    match.Dedupe(assumptions),
		ReasoningSteps: nonNil(stringList(res.Data, "reasoning_chain")),
	}, nil
}

func fallbackDecomposition(answer string) Decomposition {
	return Decomposition{
		Claims:         FallbackClaims(answer),
		Assumptions:    []string{},
		ReasoningSteps: []string{},
	}
}

// FallbackClaims splits an answer on sentence boundaries, keeping
// fragments longer than ten characters, capped at twenty. When every
// fragment is too short the whole trimmed answer becomes the only claim.
func FallbackClaims(answer string) []Claim {
	claims := []Claim{}
	for _, sentence := range match.SplitSentences(answer) {
		if utf8.RuneCountInString(sentence) <= minFallbackClaimLen {
			continue
		}
		claims = append(claims, newFallbackClaim(len(claims)+1, sentence))
		if len(claims) == maxFallbackClaims {
			break
		}
	}
	if len(claims) == 0 {
		if trimmed := strings.TrimSpace(answer); trimmed != "" {
			claims = append(claims, newFallbackClaim(1, trimmed))
		}
	}
	return claims
}

func newFallbackClaim(n int, text string) Claim {
	return Claim{
		ID:          fmt.Sprintf("c%d", n),
		Text:        text,
		Type:        ClaimFactual,
		Assumptions: []string{},
		Issues:      []FailureType{},
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

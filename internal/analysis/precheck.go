package analysis

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"faris/backend/internal/ai"
	"faris/backend/internal/match"
)

const (
	refusalMaxChars = 200
	errorMaxChars   = 500
)

// Prechecker gates a run before any expensive analysis.
type Prechecker struct {
	model   ai.StructuredGenerator
	lexicon *match.Lexicon
}

// NewPrechecker builds a Prechecker. A nil model skips the model-based
// validation step and only applies the deterministic rules.
func NewPrechecker(model ai.StructuredGenerator, lexicon *match.Lexicon) *Prechecker {
	if lexicon == nil {
		lexicon = match.DefaultLexicon()
	}
	return &Prechecker{model: model, lexicon: lexicon}
}

// Check applies the rule cascade. Rules run in order and the first
// rejection wins; model failures fail open.
func (p *Prechecker) Check(ctx context.Context, in Input) (PrecheckResult, []StageError) {
	question := strings.TrimSpace(in.Question)
	answer := strings.TrimSpace(in.Answer)

	if question == "" {
		return PrecheckResult{Passed: false, Reason: "Question is empty", AnswerType: AnswerEmpty}, nil
	}
	if answer == "" {
		return PrecheckResult{Passed: false, Reason: "Answer is empty", AnswerType: AnswerEmpty}, nil
	}

	length := utf8.RuneCountInString(answer)
	// short refusals are still analyzed, only tagged
	if length < refusalMaxChars && p.lexicon.Contains(match.ClassRefusal, answer) {
		return PrecheckResult{Passed: true, AnswerType: AnswerRefusal}, nil
	}
	if length < errorMaxChars && p.lexicon.Contains(match.ClassError, answer) {
		return PrecheckResult{Passed: false, Reason: "Answer appears to be an error message", AnswerType: AnswerError}, nil
	}

	if p.model == nil {
		return PrecheckResult{Passed: true, AnswerType: AnswerResponse}, nil
	}

	res, err := p.model.GenerateStructured(ctx, ai.Request{
		Prompt:      precheckPrompt(question, answer),
		System:      analyzerSystem,
		Temperature: 0.1,
		MaxTokens:   512,
	})
	if err != nil {
		logrus.WithError(err).Warn("precheck validation call failed, continuing")
		return PrecheckResult{Passed: true, AnswerType: AnswerResponse},
			[]StageError{stageError(string(StagePrecheck), fmt.Errorf("input validation failed open: %w", err))}
	}
	if !res.OK {
		return PrecheckResult{Passed: true, AnswerType: AnswerResponse},
			[]StageError{stageError(string(StagePrecheck), fmt.Errorf("input validation: %w", ai.ErrParse))}
	}

	isValid := boolField(res.Data, "is_valid", true)
	proceed := boolField(res.Data, "proceed_with_analysis", true)
	answerType := parseAnswerType(stringField(res.Data, "answer_type", string(AnswerResponse)))
	if !isValid || !proceed {
		reason := stringField(res.Data, "reason", "Answer failed input validation")
		return PrecheckResult{Passed: false, Reason: reason, AnswerType: answerType}, nil
	}
	return PrecheckResult{Passed: true, AnswerType: answerType}, nil
}

package analysis

import (
	"time"

	"faris/backend/internal/scoring"
)

// Input is the caller supplied material for one run.
type Input struct {
	Question      string         `json:"question"`
	Answer        string         `json:"llm_answer"`
	Context       string         `json:"context,omitempty"`
	Domain        Domain         `json:"domain"`
	ModelMetadata map[string]any `json:"model_metadata,omitempty"`
}

// PrecheckResult is the gate decision for a run.
type PrecheckResult struct {
	Passed     bool       `json:"passed"`
	Reason     string     `json:"reason,omitempty"`
	AnswerType AnswerType `json:"answer_type"`
}

// Narrative is the human-readable explanation of a run.
type Narrative struct {
	Summary     string   `json:"summary"`
	KeyFindings []string `json:"key_findings"`
	Detailed    string   `json:"detailed_explanation"`
	Impact      string   `json:"impact_assessment"`
}

// RunState accumulates everything a pipeline run produces. Each field is
// written by exactly one stage.
type RunState struct {
	RunID string `json:"run_id"`
	Input Input  `json:"input"`

	Precheck PrecheckResult `json:"precheck"`

	Claims         []Claim  `json:"claims"`
	Assumptions    []string `json:"assumptions"`
	ReasoningSteps []string `json:"reasoning_steps"`

	Signals          map[FailureType]FailureSignal `json:"signals"`
	DetectorOutcomes map[FailureType]Outcome       `json:"detector_outcomes"`

	DetectedFailures []FailureSignal `json:"detected_failures"`
	AllSignals       []FailureSignal `json:"all_signals"`
	FailureDetected  bool            `json:"failure_detected"`
	FailureTypes     []FailureType   `json:"failure_types"`

	Risk scoring.RiskResult `json:"risk"`

	Narrative       Narrative        `json:"narrative"`
	Explanation     string           `json:"explanation"`
	Recommendations []Recommendation `json:"recommendations"`

	Errors     []StageError             `json:"errors"`
	StageTimes map[string]time.Duration `json:"stage_times"`
	EarlyExit  bool                     `json:"early_exit"`
	Cancelled  bool                     `json:"cancelled"`
	StartedAt  time.Time                `json:"started_at"`
	Elapsed    time.Duration            `json:"elapsed"`
}

func newRunState(runID string, in Input, risk scoring.RiskResult) *RunState {
	return &RunState{
		RunID:            runID,
		Input:            in,
		Precheck:         PrecheckResult{Passed: true, AnswerType: AnswerResponse},
		Claims:           []Claim{},
		Assumptions:      []string{},
		ReasoningSteps:   []string{},
		Signals:          make(map[FailureType]FailureSignal, len(FailureTypes)),
		DetectorOutcomes: make(map[FailureType]Outcome, len(FailureTypes)),
		DetectedFailures: []FailureSignal{},
		AllSignals:       []FailureSignal{},
		FailureTypes:     []FailureType{},
		Risk:             risk,
		Narrative:        Narrative{KeyFindings: []string{}},
		Recommendations:  []Recommendation{},
		Errors:           []StageError{},
		StageTimes:       make(map[string]time.Duration),
	}
}

func (s *RunState) addErrors(errs ...StageError) {
	s.Errors = append(s.Errors, errs...)
}

// Snapshot is the read-only view detectors work from.
type Snapshot struct {
	Question       string
	Answer         string
	Context        string
	Domain         Domain
	Claims         []Claim
	Assumptions    []string
	ReasoningSteps []string
}

// Snapshot copies the fields detectors read so concurrent detectors never
// share mutable slices with the run state.
func (s *RunState) Snapshot() Snapshot {
	claims := make([]Claim, len(s.Claims))
	for i, c := range s.Claims {
		c.Assumptions = append([]string(nil), c.Assumptions...)
		c.Issues = append([]FailureType(nil), c.Issues...)
		claims[i] = c
	}
	return Snapshot{
		Question:       s.Input.Question,
		Answer:         s.Input.Answer,
		Context:        s.Input.Context,
		Domain:         s.Input.Domain,
		Claims:         claims,
		Assumptions:    append([]string(nil), s.Assumptions...),
		ReasoningSteps: append([]string(nil), s.ReasoningSteps...),
	}
}

// SignalsInOrder returns the recorded signals in encounter order,
// skipping types that produced no signal.
func (s *RunState) SignalsInOrder() []FailureSignal {
	out := make([]FailureSignal, 0, len(s.Signals))
	for _, t := range FailureTypes {
		if sig, ok := s.Signals[t]; ok {
			out = append(out, sig)
		}
	}
	return out
}

// Degraded reports whether any stage fell back to a default result.
func (s *RunState) Degraded() bool {
	return len(s.Errors) > 0
}

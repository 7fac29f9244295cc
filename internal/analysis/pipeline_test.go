package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"faris/backend/internal/ai"
	"faris/backend/internal/scoring"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var detectorRoutes = []string{
	routeHallucination, routeLogical, routeAssumptions,
	routeOverconfidence, routeScope, routeUnderspecified,
}

func TestPipelineNoFailures(t *testing.T) {
	model := newFakeModel(map[string]fakeReply{
		routeDecompose: {data: map[string]any{"claims": []any{
			map[string]any{"claim_id": "c1", "claim_text": "2+2 equals 4.", "claim_type": "factual"},
		}}},
	})
	var stages []Stage
	p := NewPipeline(model, Options{Observer: func(ev Event) { stages = append(stages, ev.Stage) }})

	state := p.Run(context.Background(), Input{Question: "What is 2+2?", Answer: "2+2 equals 4.", Domain: DomainGeneral})

	require.NotNil(t, state)
	assert.NotEmpty(t, state.RunID)
	assert.False(t, state.FailureDetected)
	assert.Equal(t, 0.0, state.Risk.Score)
	assert.Equal(t, scoring.CategoryLow, state.Risk.Category)
	assert.Empty(t, state.DetectedFailures)
	assert.Len(t, state.AllSignals, len(FailureTypes))
	assert.Empty(t, state.Errors)
	assert.Empty(t, state.Recommendations)
	assert.NotEmpty(t, state.Explanation)
	assert.True(t, state.Claims[0].Supported())
	for _, route := range detectorRoutes {
		assert.Equal(t, 1, model.callCount(route), route)
	}
	assert.Equal(t, []Stage{
		StagePrecheck, StageDecomposition, StageDetection, StageAggregation, StageRiskScoring,
		StageExplanation, StageRecommendation, StageFinalize, StageDone,
	}, stages)
	assert.Contains(t, state.StageTimes, "hallucination_detector")
}

func TestPipelineMedicalHallucination(t *testing.T) {
	model := newFakeModel(map[string]fakeReply{
		routeDecompose: {data: map[string]any{"claims": claimRecords("c1", "c2")}},
		routeHallucination: {data: map[string]any{
			"hallucination_detected": true,
			"confidence":             0.85,
			"severity":               "high",
			"findings": []any{
				map[string]any{"claim_id": "c2", "is_hallucinated": true, "reason": "Dosage not supported"},
			},
		}},
		routeLogical: {data: map[string]any{
			"inconsistency_detected": true,
			"confidence":             0.3,
			"severity":               "high",
		}},
		routeExplain: {data: map[string]any{"summary": "Dosage claim is unsupported."}},
	})
	p := NewPipeline(model, Options{})

	state := p.Run(context.Background(), Input{Question: "Dose?", Answer: "Take 500mg. It is safe.", Domain: DomainMedical})

	require.Empty(t, state.Errors)
	assert.True(t, state.FailureDetected)
	assert.Equal(t, []FailureType{Hallucination}, state.FailureTypes)
	assert.Equal(t, 0.446, state.Risk.Score)
	assert.Equal(t, scoring.CategoryMedium, state.Risk.Category)
	require.Len(t, state.Risk.Factors, 1)
	assert.InDelta(t, 0.44625, state.Risk.Factors[0].Contribution, 0.0002)

	require.Len(t, state.Claims, 2)
	assert.Empty(t, state.Claims[0].Issues)
	assert.Equal(t, []FailureType{Hallucination}, state.Claims[1].Issues)
	assert.False(t, state.Claims[1].Supported())

	assert.Equal(t, "Dosage claim is unsupported.", state.Explanation)
	require.NotEmpty(t, state.Recommendations)
	assert.Equal(t, 1, model.callCount(routeRecommend))
}

func TestPipelineEarlyExit(t *testing.T) {
	model := newFakeModel(nil)
	p := NewPipeline(model, Options{})

	state := p.Run(context.Background(), Input{Question: "What is 2+2?", Answer: "   "})

	assert.True(t, state.EarlyExit)
	assert.False(t, state.Precheck.Passed)
	assert.Equal(t, AnswerEmpty, state.Precheck.AnswerType)
	assert.Equal(t, "Analysis skipped: Answer is empty", state.Explanation)
	assert.Equal(t, DomainGeneral, state.Input.Domain)
	assert.Equal(t, 0.0, state.Risk.Score)
	assert.Equal(t, scoring.CategoryLow, state.Risk.Category)
	assert.Empty(t, state.Claims)
	assert.Zero(t, model.callCount(routeDecompose))
	assert.Contains(t, state.StageTimes, string(StageEarlyExit))
	assert.NotContains(t, state.StageTimes, string(StageFinalize))
}

func TestPipelineAnalyzesShortRefusal(t *testing.T) {
	model := newFakeModel(nil)
	p := NewPipeline(model, Options{})

	state := p.Run(context.Background(), Input{Question: "How do I pick a lock?", Answer: "I'm sorry, but I cannot help with that."})

	assert.False(t, state.EarlyExit)
	assert.True(t, state.Precheck.Passed)
	assert.Empty(t, state.Precheck.Reason)
	assert.Equal(t, AnswerRefusal, state.Precheck.AnswerType)
	assert.Zero(t, model.callCount(routePrecheck))
	assert.Equal(t, 1, model.callCount(routeDecompose))
	for _, route := range detectorRoutes {
		assert.Equal(t, 1, model.callCount(route), route)
	}
	assert.Len(t, state.AllSignals, len(FailureTypes))
	assert.Contains(t, state.StageTimes, string(StageFinalize))
}

func TestPipelineThreshold(t *testing.T) {
	lowConfidence := map[string]fakeReply{
		routeDecompose: {data: map[string]any{"claims": claimRecords("c1")}},
		routeHallucination: {data: map[string]any{
			"hallucination_detected": true,
			"confidence":             0.2,
			"severity":               "medium",
		}},
	}
	in := Input{Question: "q?", Answer: "An answer worth checking."}
	zero, negative, above := 0.0, -0.1, 1.5

	cases := []struct {
		name      string
		threshold *float64
		want      float64
		detected  bool
	}{
		{"default", nil, DefaultThreshold, false},
		{"zero keeps low confidence", &zero, 0, true},
		{"negative uses default", &negative, DefaultThreshold, false},
		{"above one uses default", &above, DefaultThreshold, false},
	}
	for _, tc := range cases {
		p := NewPipeline(newFakeModel(lowConfidence), Options{Threshold: tc.threshold})
		assert.Equal(t, tc.want, p.Threshold(), tc.name)

		state := p.Run(context.Background(), in)
		assert.Equal(t, tc.detected, state.FailureDetected, tc.name)
		if tc.detected {
			assert.Equal(t, []FailureType{Hallucination}, state.FailureTypes, tc.name)
		}
	}
}

func TestPipelineDetectorFailuresAreIsolated(t *testing.T) {
	model := newFakeModel(map[string]fakeReply{
		routeDecompose:      {data: map[string]any{"claims": claimRecords("c1")}},
		routeOverconfidence: {panics: true},
		routeScope:          {err: ai.ErrConnection},
		routeHallucination: {data: map[string]any{
			"hallucination_detected": true,
			"confidence":             0.9,
			"severity":               "critical",
		}},
		routeExplain: {data: map[string]any{"summary": "Fabricated."}},
	})
	p := NewPipeline(model, Options{})

	state := p.Run(context.Background(), Input{Question: "q?", Answer: "A long enough answer to analyze."})

	require.Len(t, state.Signals, len(FailureTypes))
	assert.Equal(t, OutcomeDegraded, state.DetectorOutcomes[Overconfidence])
	assert.Equal(t, OutcomeDegraded, state.DetectorOutcomes[ScopeViolation])
	assert.Equal(t, OutcomeOK, state.DetectorOutcomes[Hallucination])
	assert.Equal(t, OutcomeOK, state.DetectorOutcomes[Underspecification])
	assert.False(t, state.Signals[Overconfidence].Detected)
	assert.Equal(t, []FailureType{Hallucination}, state.FailureTypes)

	stages := map[string]string{}
	for _, e := range state.Errors {
		stages[e.Stage] = e.Message
	}
	assert.Contains(t, stages["overconfidence_detector"], "panicked")
	assert.Contains(t, stages, "scope_violation_detector")
	assert.True(t, state.Degraded())
}

func TestPipelineRunsDetectorsConcurrently(t *testing.T) {
	var inFlight, peak int32
	release := make(chan struct{})
	var once sync.Once
	hook := func() {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		if n == int32(len(detectorRoutes)) {
			once.Do(func() { close(release) })
		}
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		atomic.AddInt32(&inFlight, -1)
	}
	replies := map[string]fakeReply{
		routeDecompose: {data: map[string]any{"claims": claimRecords("c1")}},
	}
	for _, route := range detectorRoutes {
		replies[route] = fakeReply{hook: hook}
	}
	p := NewPipeline(newFakeModel(replies), Options{})

	state := p.Run(context.Background(), Input{Question: "q?", Answer: "A long enough answer to analyze."})

	assert.Equal(t, int32(len(detectorRoutes)), atomic.LoadInt32(&peak))
	assert.Empty(t, state.Errors)
}

func TestPipelineCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := newFakeModel(nil)

	state := NewPipeline(model, Options{}).Run(ctx, Input{Question: "q?", Answer: "An answer worth checking."})

	assert.True(t, state.Cancelled)
	require.NotEmpty(t, state.Errors)
	assert.Equal(t, string(StagePrecheck), state.Errors[0].Stage)
	assert.True(t, strings.HasPrefix(state.Errors[0].Message, "cancelled: "))
	assert.Equal(t, "Analysis cancelled before completion.", state.Explanation)
	assert.Equal(t, 0.0, state.Risk.Score)
	assert.Zero(t, model.callCount(routePrecheck))
}

func TestPipelineCancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	model := newFakeModel(map[string]fakeReply{
		routeDecompose: {data: map[string]any{"claims": claimRecords("c1")}, hook: cancel},
	})

	state := NewPipeline(model, Options{}).Run(ctx, Input{Question: "q?", Answer: "An answer worth checking."})

	assert.True(t, state.Cancelled)
	require.Len(t, state.Errors, 1)
	assert.Equal(t, string(StageDetection), state.Errors[0].Stage)
	assert.Len(t, state.Claims, 1)
	for _, route := range detectorRoutes {
		assert.Zero(t, model.callCount(route), route)
	}
	assert.Contains(t, state.StageTimes, string(StageFinalize))
}

func TestPipelineDeterministic(t *testing.T) {
	replies := map[string]fakeReply{
		routeDecompose: {data: map[string]any{"claims": claimRecords("c1", "c2")}},
		routeLogical: {data: map[string]any{
			"inconsistency_detected": true, "confidence": 0.8, "severity": "medium",
		}},
		routeAssumptions: {data: map[string]any{
			"missing_assumptions_detected": true, "confidence": 0.8, "severity": "high",
		}},
		routeExplain: {err: errors.New("explain offline")},
	}
	in := Input{Question: "q?", Answer: "An answer worth checking.", Domain: DomainFinance}

	first := NewPipeline(newFakeModel(replies), Options{}).Run(context.Background(), in)
	second := NewPipeline(newFakeModel(replies), Options{}).Run(context.Background(), in)

	assert.Equal(t, first.Risk, second.Risk)
	assert.Equal(t, first.FailureTypes, second.FailureTypes)
	assert.Equal(t, []FailureType{LogicalInconsistency, MissingAssumptions}, first.FailureTypes)
	assert.Equal(t, first.Explanation, second.Explanation)
	assert.Equal(t, first.Recommendations, second.Recommendations)
}

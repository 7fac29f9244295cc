package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"faris/backend/internal/ai"
	"faris/backend/internal/match"
	"faris/backend/internal/metrics"
	"faris/backend/internal/scoring"
	"faris/backend/internal/util"
)

// Event reports progress of a run to an Observer.
type Event struct {
	RunID   string        `json:"run_id"`
	Stage   Stage         `json:"stage"`
	Elapsed time.Duration `json:"elapsed"`
	Errors  int           `json:"errors"`
	Message string        `json:"message,omitempty"`
}

// Observer receives stage events. It is called synchronously from the
// pipeline goroutine and must not block.
type Observer func(Event)

// Options configures a Pipeline.
type Options struct {
	// Threshold is the retention confidence. Nil or out of [0,1] uses
	// DefaultThreshold; zero keeps every detected signal.
	Threshold *float64
	Scorer    *scoring.RiskScorer
	Lexicon   *match.Lexicon
	Observer  Observer
}

// Pipeline runs the analysis state machine.
type Pipeline struct {
	precheck    *Prechecker
	decomposer  *Decomposer
	detectors   []*Detector
	explainer   *Explainer
	recommender *Recommender
	scorer      *scoring.RiskScorer
	threshold   float64
	observer    Observer
}

// NewPipeline wires every stage against one model backend.
func NewPipeline(model ai.StructuredGenerator, opts Options) *Pipeline {
	if opts.Scorer == nil {
		opts.Scorer = scoring.NewRiskScorer(nil, nil)
	}
	if opts.Lexicon == nil {
		opts.Lexicon = match.DefaultLexicon()
	}
	threshold := DefaultThreshold
	if t := opts.Threshold; t != nil && *t >= 0 && *t <= 1 {
		threshold = *t
	}
	return &Pipeline{
		precheck:    NewPrechecker(model, opts.Lexicon),
		decomposer:  NewDecomposer(model),
		detectors:   NewDetectors(model, opts.Lexicon),
		explainer:   NewExplainer(model),
		recommender: NewRecommender(model),
		scorer:      opts.Scorer,
		threshold:   threshold,
		observer:    opts.Observer,
	}
}

// Threshold returns the detection confidence threshold.
func (p *Pipeline) Threshold() float64 {
	return p.threshold
}

// Scorer returns the risk scorer in use.
func (p *Pipeline) Scorer() *scoring.RiskScorer {
	return p.scorer
}

// Run drives one input through the pipeline and always returns a
// well-formed state. Stage failures are recorded in RunState.Errors.
func (p *Pipeline) Run(ctx context.Context, in Input) *RunState {
	return p.RunWithObserver(ctx, in, nil)
}

// RunWithObserver is Run with an extra per-call observer.
func (p *Pipeline) RunWithObserver(ctx context.Context, in Input, observer Observer) *RunState {
	if in.Domain == "" {
		in.Domain = DomainGeneral
	}
	runTimer := util.StartTimer()
	state := newRunState(uuid.NewString(), in, p.scorer.Score(string(in.Domain), nil))
	state.StartedAt = runTimer.Started()

	log := logrus.WithFields(logrus.Fields{"run_id": state.RunID, "domain": in.Domain})
	log.Info("analysis started")

	stage := StagePrecheck
	for stage != StageDone {
		if err := ctx.Err(); err != nil && stage != StageFinalize && stage != StageEarlyExit {
			state.Cancelled = true
			state.addErrors(StageError{Stage: string(stage), Message: "cancelled: " + err.Error()})
			log.WithField("stage", stage).Warn("analysis cancelled")
			stage = StageFinalize
			continue
		}

		timer := util.StartTimer()
		before := len(state.Errors)
		next := p.step(ctx, stage, state)
		elapsed := timer.Elapsed()

		state.StageTimes[string(stage)] = elapsed
		metrics.RecordStage(string(stage), elapsed)
		for _, e := range state.Errors[before:] {
			log.WithFields(logrus.Fields{"stage": e.Stage}).Warn(e.Message)
		}
		log.WithFields(logrus.Fields{"stage": stage, "elapsed_ms": elapsed.Milliseconds()}).Debug("stage complete")
		p.emit(observer, Event{RunID: state.RunID, Stage: stage, Elapsed: elapsed, Errors: len(state.Errors)})
		stage = next
	}

	state.Elapsed = runTimer.Elapsed()
	outcome := "completed"
	switch {
	case state.Cancelled:
		outcome = "cancelled"
	case state.EarlyExit:
		outcome = "early_exit"
	}
	metrics.RecordAnalysis(outcome, state.Elapsed)
	metrics.RecordRiskScore(string(in.Domain), state.Risk.Score)
	log.WithFields(logrus.Fields{
		"risk_score":    state.Risk.Score,
		"risk_category": state.Risk.Category,
		"failures":      len(state.DetectedFailures),
		"errors":        len(state.Errors),
		"elapsed_ms":    state.Elapsed.Milliseconds(),
	}).Info("analysis finished")
	p.emit(observer, Event{RunID: state.RunID, Stage: StageDone, Elapsed: state.Elapsed, Errors: len(state.Errors), Message: outcome})
	return state
}

func (p *Pipeline) emit(extra Observer, ev Event) {
	if p.observer != nil {
		p.observer(ev)
	}
	if extra != nil {
		extra(ev)
	}
}

func (p *Pipeline) step(ctx context.Context, stage Stage, state *RunState) Stage {
	switch stage {
	case StagePrecheck:
		result, errs := p.precheck.Check(ctx, state.Input)
		state.Precheck = result
		state.addErrors(errs...)
		if !result.Passed {
			return StageEarlyExit
		}
		return StageDecomposition

	case StageEarlyExit:
		state.EarlyExit = true
		state.Explanation = "Analysis skipped: " + state.Precheck.Reason
		state.Narrative = Narrative{
			Summary:     state.Explanation,
			KeyFindings: []string{},
		}
		return StageDone

	case StageDecomposition:
		d, errs := p.decomposer.Decompose(ctx, state.Input)
		state.Claims = d.Claims
		state.Assumptions = d.Assumptions
		state.ReasoningSteps = d.ReasoningSteps
		state.addErrors(errs...)
		return StageDetection

	case StageDetection:
		p.detect(ctx, state)
		return StageAggregation

	case StageAggregation:
		agg := Aggregate(state.SignalsInOrder(), p.threshold)
		state.DetectedFailures = agg.Detected
		state.AllSignals = agg.All
		state.FailureTypes = agg.FailureTypes
		state.FailureDetected = agg.FailureDetected
		return StageRiskScoring

	case StageRiskScoring:
		inputs := make([]scoring.Input, 0, len(state.DetectedFailures))
		for _, f := range state.DetectedFailures {
			inputs = append(inputs, scoring.Input{
				FailureType: string(f.FailureType),
				Confidence:  f.Confidence,
				Severity:    string(f.Severity),
			})
		}
		state.Risk = p.scorer.Score(string(state.Input.Domain), inputs)
		return StageExplanation

	case StageExplanation:
		n, text, errs := p.explainer.Explain(ctx, state.Input, state.Claims, state.DetectedFailures, state.Risk)
		state.Narrative = n
		state.Explanation = text
		state.addErrors(errs...)
		return StageRecommendation

	case StageRecommendation:
		state.Recommendations = p.recommender.Recommend(ctx, state.Input.Domain, state.DetectedFailures)
		return StageFinalize

	case StageFinalize:
		p.finalize(state)
		return StageDone
	}
	return StageDone
}

// detect fans the detectors out over one snapshot. Each detector writes
// only its own result slot; the merge happens after every task finishes.
func (p *Pipeline) detect(ctx context.Context, state *RunState) {
	snap := state.Snapshot()
	results := make([]DetectorResult, len(p.detectors))

	var g errgroup.Group
	for i, d := range p.detectors {
		i, d := i, d
		g.Go(func() error {
			results[i] = runDetector(ctx, d, snap)
			return nil
		})
	}
	_ = g.Wait()

	for i, d := range p.detectors {
		res := results[i]
		state.Signals[d.Type()] = res.Signal
		state.DetectorOutcomes[d.Type()] = res.Outcome
		state.StageTimes[d.Name()] = res.Elapsed
		metrics.RecordDetector(string(d.Type()), string(res.Outcome), res.Signal.Detected)
		if res.Err != nil {
			state.addErrors(stageError(d.Name(), res.Err))
		}
	}
}

func runDetector(ctx context.Context, d *Detector, snap Snapshot) (res DetectorResult) {
	timer := util.StartTimer()
	defer func() {
		if r := recover(); r != nil {
			res = DetectorResult{
				Signal:  DefaultSignal(d.Type()),
				Outcome: OutcomeDegraded,
				Err:     fmt.Errorf("detector panicked: %v", r),
			}
		}
		res.Elapsed = timer.Elapsed()
	}()
	return d.Detect(ctx, snap)
}

// finalize tags claims referenced by retained failures and makes sure the
// run carries explanation text.
func (p *Pipeline) finalize(state *RunState) {
	index := make(map[string]int, len(state.Claims))
	for i, c := range state.Claims {
		index[c.ID] = i
	}
	for _, f := range state.DetectedFailures {
		for _, id := range f.RelatedClaimIDs {
			i, ok := index[id]
			if !ok {
				continue
			}
			claim := &state.Claims[i]
			tagged := false
			for _, t := range claim.Issues {
				if t == f.FailureType {
					tagged = true
					break
				}
			}
			if !tagged {
				claim.Issues = append(claim.Issues, f.FailureType)
			}
		}
	}

	if state.Explanation == "" {
		if state.Cancelled {
			state.Explanation = "Analysis cancelled before completion."
		} else {
			state.Explanation = state.Risk.Explanation
		}
		if state.Narrative.Summary == "" {
			state.Narrative.Summary = state.Explanation
		}
	}
}

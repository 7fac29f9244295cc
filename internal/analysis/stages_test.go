package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"faris/backend/internal/ai"
	"faris/backend/internal/match"
	"faris/backend/internal/scoring"
)

func TestPrecheckRules(t *testing.T) {
	cases := []struct {
		name     string
		in       Input
		passed   bool
		reason   string
		wantType AnswerType
	}{
		{"empty question", Input{Question: "  ", Answer: "text"}, false, "Question is empty", AnswerEmpty},
		{"empty answer", Input{Question: "q?", Answer: "\n\t"}, false, "Answer is empty", AnswerEmpty},
		{"refusal is tagged and passes", Input{Question: "q?", Answer: "I'm sorry, but I cannot help with that."}, true, "", AnswerRefusal},
		{"error", Input{Question: "q?", Answer: "Traceback (most recent call last): KeyError"}, false, "Answer appears to be an error message", AnswerError},
		{"long refusal passes", Input{Question: "q?", Answer: "I cannot stress enough " + strings.Repeat("how much this matters. ", 12)}, true, "", AnswerResponse},
		{"normal", Input{Question: "What is 2+2?", Answer: "2+2 equals 4."}, true, "", AnswerResponse},
	}
	p := NewPrechecker(nil, nil)
	for _, tc := range cases {
		got, errs := p.Check(context.Background(), tc.in)
		if got.Passed != tc.passed || got.Reason != tc.reason || got.AnswerType != tc.wantType {
			t.Fatalf("%s: got %+v", tc.name, got)
		}
		if len(errs) != 0 {
			t.Fatalf("%s: unexpected errors %v", tc.name, errs)
		}
	}
}

func TestPrecheckModelRejects(t *testing.T) {
	model := newFakeModel(map[string]fakeReply{
		routePrecheck: {data: map[string]any{
			"is_valid":              true,
			"proceed_with_analysis": false,
			"answer_type":           "gibberish",
			"reason":                "Answer is not coherent text",
		}},
	})
	got, errs := NewPrechecker(model, nil).Check(context.Background(), Input{Question: "q?", Answer: "asdf qwer zxcv"})
	if got.Passed || got.Reason != "Answer is not coherent text" || got.AnswerType != AnswerGibberish {
		t.Fatalf("unexpected result %+v", got)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func TestPrecheckFailsOpen(t *testing.T) {
	for name, reply := range map[string]fakeReply{
		"backend": {err: ai.ErrConnection},
		"parse":   {raw: "not json at all"},
	} {
		model := newFakeModel(map[string]fakeReply{routePrecheck: reply})
		got, errs := NewPrechecker(model, nil).Check(context.Background(), Input{Question: "q?", Answer: "A sufficiently long answer."})
		if !got.Passed {
			t.Fatalf("%s: expected pass, got %+v", name, got)
		}
		if len(errs) != 1 || errs[0].Stage != string(StagePrecheck) {
			t.Fatalf("%s: expected one precheck error, got %v", name, errs)
		}
	}
}

func TestFallbackClaims(t *testing.T) {
	claims := FallbackClaims("Short. Paris is the capital of France. It has about two million residents! Ok?")
	var got []string
	for _, c := range claims {
		got = append(got, c.ID+"="+c.Text)
	}
	want := []string{
		"c1=Paris is the capital of France.",
		"c2=It has about two million residents!",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("claims mismatch (-want +got):\n%s", diff)
	}

	only := FallbackClaims("  4.  ")
	if len(only) != 1 || only[0].ID != "c1" || only[0].Text != "4." {
		t.Fatalf("expected whole answer as c1, got %+v", only)
	}
	if len(FallbackClaims("   ")) != 0 {
		t.Fatalf("expected no claims for blank answer")
	}

	long := strings.Repeat("This sentence is long enough. ", 30)
	if n := len(FallbackClaims(long)); n != maxFallbackClaims {
		t.Fatalf("expected cap at %d, got %d", maxFallbackClaims, n)
	}
}

func TestDecomposeMergesAssumptions(t *testing.T) {
	model := newFakeModel(map[string]fakeReply{
		routeDecompose: {data: map[string]any{
			"claims": []any{
				map[string]any{"claim_id": "c1", "claim_text": "Rates rose.", "claim_type": "factual",
					"implicit_assumptions": []any{"US market"}},
				map[string]any{"claim_id": "c1", "claim_text": "Bonds fell.", "claim_type": "opinion",
					"implicit_assumptions": []any{"US market", "2023"}},
				map[string]any{"claim_id": "c3", "claim_text": "  "},
			},
			"overall_assumptions": []any{"Investor is retail"},
			"reasoning_chain":     []any{"rates up", "bonds down"},
		}},
	})
	d, errs := NewDecomposer(model).Decompose(context.Background(), Input{Question: "q", Answer: "a"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
	if len(d.Claims) != 2 || d.Claims[0].ID != "c1" || d.Claims[1].ID != "c2" {
		t.Fatalf("unexpected claims %+v", d.Claims)
	}
	if d.Claims[1].Type != ClaimOpinion {
		t.Fatalf("expected opinion claim, got %q", d.Claims[1].Type)
	}
	if diff := cmp.Diff([]string{"Investor is retail", "US market", "2023"}, d.Assumptions); diff != "" {
		t.Fatalf("assumptions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"rates up", "bonds down"}, d.ReasoningSteps); diff != "" {
		t.Fatalf("reasoning mismatch (-want +got):\n%s", diff)
	}
}

func TestDecomposeFallsBack(t *testing.T) {
	answer := "Paris is the capital of France."
	for name, reply := range map[string]fakeReply{
		"backend":   {err: ai.ErrTimeout},
		"parse":     {raw: "Sure! Here are the claims."},
		"no claims": {data: map[string]any{"claims": []any{}}},
	} {
		model := newFakeModel(map[string]fakeReply{routeDecompose: reply})
		d, errs := NewDecomposer(model).Decompose(context.Background(), Input{Question: "q", Answer: answer})
		if len(d.Claims) != 1 || d.Claims[0].Text != answer {
			t.Fatalf("%s: expected sentence fallback, got %+v", name, d.Claims)
		}
		if len(errs) != 1 || errs[0].Stage != string(StageDecomposition) {
			t.Fatalf("%s: expected decomposition error, got %v", name, errs)
		}
	}
}

func TestDetectorEvidence(t *testing.T) {
	model := newFakeModel(map[string]fakeReply{
		routeHallucination: {data: map[string]any{
			"hallucination_detected": true,
			"confidence":             1.4,
			"severity":               "HIGH",
			"summary":                "Invented citation.",
			"findings": []any{
				map[string]any{"claim_id": "c2", "is_hallucinated": true, "reason": "Paper does not exist"},
				map[string]any{"claim_id": "c1", "is_hallucinated": false, "reason": "Fine"},
			},
		}},
		routeOverconfidence: {data: map[string]any{
			"overconfidence_detected": true,
			"confidence":              0.7,
			"severity":                "bogus",
			"findings": []any{
				map[string]any{"claim_id": "c1", "text": "always works", "issue": "absolute claim"},
				map[string]any{"claim_id": "c1", "text": `it "never" fails`, "issue": "quoted certainty"},
			},
			"absolute_terms_found": []any{"always", "never"},
		}},
	})
	snap := Snapshot{Question: "q", Answer: "It always works.", Claims: []Claim{{ID: "c1", Text: "It always works."}}}
	detectors := NewDetectors(model, nil)

	h := detectors[0].Detect(context.Background(), snap)
	if h.Outcome != OutcomeOK || h.Err != nil {
		t.Fatalf("unexpected outcome %+v", h)
	}
	sig := h.Signal
	if !sig.Detected || sig.Confidence != 1 || sig.Severity != SeverityHigh || sig.Explanation != "Invented citation." {
		t.Fatalf("unexpected hallucination signal %+v", sig)
	}
	if diff := cmp.Diff([]string{"Paper does not exist"}, sig.Evidence); diff != "" {
		t.Fatalf("evidence mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c2"}, sig.RelatedClaimIDs); diff != "" {
		t.Fatalf("related mismatch (-want +got):\n%s", diff)
	}

	o := detectors[3].Detect(context.Background(), snap).Signal
	if o.Severity != SeverityMedium {
		t.Fatalf("expected default severity for unknown value, got %q", o.Severity)
	}
	want := []string{
		`"always works" - absolute claim`,
		`"it "never" fails" - quoted certainty`,
		"Absolute terms used: always, never",
	}
	if diff := cmp.Diff(want, o.Evidence); diff != "" {
		t.Fatalf("overconfidence evidence mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(model.prompt(routeOverconfidence), "always") {
		t.Fatalf("expected lexicon hits in overconfidence prompt")
	}
}

func TestDetectorDegrades(t *testing.T) {
	model := newFakeModel(map[string]fakeReply{
		routeScope:          {err: ai.ErrConnection},
		routeUnderspecified: {raw: "no json here"},
	})
	snap := Snapshot{Question: "q", Answer: "a"}
	detectors := NewDetectors(model, match.DefaultLexicon())

	scope := detectors[4].Detect(context.Background(), snap)
	if scope.Outcome != OutcomeDegraded || !errors.Is(scope.Err, ai.ErrConnection) {
		t.Fatalf("expected degraded connection result, got %+v", scope)
	}
	if scope.Signal.Detected || scope.Signal.Explanation != "Unable to analyze for scope violations." {
		t.Fatalf("unexpected default signal %+v", scope.Signal)
	}

	under := detectors[5].Detect(context.Background(), snap)
	if under.Outcome != OutcomeDegraded || !errors.Is(under.Err, ai.ErrParse) {
		t.Fatalf("expected degraded parse result, got %+v", under)
	}

	none := NewDetectors(nil, nil)[0].Detect(context.Background(), snap)
	if !errors.Is(none.Err, ai.ErrDisabled) {
		t.Fatalf("expected disabled error, got %v", none.Err)
	}
}

func TestExplainTemplates(t *testing.T) {
	scorer := scoring.NewRiskScorer(nil, nil)
	e := NewExplainer(nil)

	n, text, errs := e.Explain(context.Background(), Input{}, nil, nil, scorer.Score("general", nil))
	if len(errs) != 0 || text != n.Summary {
		t.Fatalf("unexpected no-failure result %q %v", text, errs)
	}
	if diff := cmp.Diff([]string{"No significant issues detected"}, n.KeyFindings); diff != "" {
		t.Fatalf("key findings mismatch (-want +got):\n%s", diff)
	}

	failures := []FailureSignal{{FailureType: LogicalInconsistency, Detected: true, Confidence: 0.9, Severity: SeverityHigh}}
	risk := scorer.Score("general", []scoring.Input{{FailureType: "logical_inconsistency", Confidence: 0.9, Severity: "high"}})
	model := newFakeModel(map[string]fakeReply{routeExplain: {err: ai.ErrTimeout}})
	n, text, errs = NewExplainer(model).Explain(context.Background(), Input{}, nil, failures, risk)
	if len(errs) != 1 || errs[0].Stage != string(StageExplanation) {
		t.Fatalf("expected explanation error, got %v", errs)
	}
	if !strings.HasPrefix(text, "Analysis detected 1 potential issue(s): Logical Inconsistency.") {
		t.Fatalf("unexpected template text %q", text)
	}
	if n.Summary != text {
		t.Fatalf("expected summary to equal text")
	}
}

func TestExplainCombinesModelNarrative(t *testing.T) {
	model := newFakeModel(map[string]fakeReply{routeExplain: {data: map[string]any{
		"summary":              "One claim is fabricated.",
		"key_findings":         []any{"Fabricated citation"},
		"detailed_explanation": "Claim c2 cites a paper that does not exist.",
		"impact_assessment":    "High",
	}}})
	failures := []FailureSignal{{FailureType: Hallucination, Detected: true, Confidence: 0.8, Severity: SeverityHigh}}
	_, text, errs := NewExplainer(model).Explain(context.Background(), Input{}, nil, failures, scoring.RiskResult{})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
	want := "One claim is fabricated.\n\nClaim c2 cites a paper that does not exist.\n\nImpact: High"
	if text != want {
		t.Fatalf("got %q want %q", text, want)
	}
}

func TestRecommend(t *testing.T) {
	r := NewRecommender(nil)
	if recs := r.Recommend(context.Background(), DomainGeneral, nil); recs == nil || len(recs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", recs)
	}

	failures := []FailureSignal{
		{FailureType: ScopeViolation, Severity: SeverityLow},
		{FailureType: Hallucination, Severity: SeverityCritical},
		{FailureType: Hallucination, Severity: SeverityHigh},
	}
	recs := r.Recommend(context.Background(), DomainGeneral, failures)
	var got []string
	for _, rec := range recs {
		got = append(got, rec.FailureType+":"+rec.Title)
	}
	want := []string{
		"hallucination:Implement RAG with verified sources",
		"scope_violation:Add scope constraints to prompts",
		"hallucination:Add source citations requirement",
		"scope_violation:Implement response filtering",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("recommendations mismatch (-want +got):\n%s", diff)
	}
}

func TestRecommendDomainEnrichment(t *testing.T) {
	model := newFakeModel(map[string]fakeReply{routeRecommend: {data: map[string]any{
		"recommendations": []any{
			map[string]any{"title": "Cite clinical guidelines", "priority": 1, "failure_type": "hallucination"},
			map[string]any{"title": "Add disclaimer", "priority": 9},
			map[string]any{"title": "Second opinion", "priority": 2},
			map[string]any{"title": "Dropped", "priority": 1},
		},
	}}})
	failures := []FailureSignal{{FailureType: Hallucination, Severity: SeverityHigh}}

	recs := NewRecommender(model).Recommend(context.Background(), DomainMedical, failures)
	ids := map[string]Recommendation{}
	for _, rec := range recs {
		ids[rec.ID] = rec
	}
	if len(recs) != 5 {
		t.Fatalf("expected 5 recommendations, got %d", len(recs))
	}
	if ids["rd2"].Priority != 3 || ids["rd2"].FailureType != "general" {
		t.Fatalf("expected clamped priority and general type, got %+v", ids["rd2"])
	}
	for i := 1; i < len(recs); i++ {
		if recs[i-1].Priority > recs[i].Priority {
			t.Fatalf("recommendations not sorted by priority: %+v", recs)
		}
	}

	NewRecommender(model).Recommend(context.Background(), DomainGeneral, failures)
	if model.callCount(routeRecommend) != 1 {
		t.Fatalf("general domain must not call the model")
	}
}

func TestTaxonomyUsesScorerWeights(t *testing.T) {
	scorer := scoring.NewRiskScorer(map[string]float64{"hallucination": 0.5}, nil)
	entries := Taxonomy(scorer)
	if len(entries) != len(FailureTypes) {
		t.Fatalf("expected %d entries, got %d", len(FailureTypes), len(entries))
	}
	for i, entry := range entries {
		if entry.Type != FailureTypes[i] {
			t.Fatalf("entry %d out of order: %s", i, entry.Type)
		}
	}
	h, ok := TaxonomyFor(scorer, Hallucination)
	if !ok || h.SeverityWeight != 0.5 {
		t.Fatalf("unexpected hallucination entry %+v", h)
	}
	if _, ok := TaxonomyFor(scorer, FailureType("nope")); ok {
		t.Fatalf("expected unknown type to miss")
	}
}

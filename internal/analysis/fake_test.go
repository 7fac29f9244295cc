package analysis

import (
	"context"
	"strings"
	"sync"

	"faris/backend/internal/ai"
)

const (
	routePrecheck       = "precheck"
	routeDecompose      = "decompose"
	routeExplain        = "explain"
	routeRecommend      = "recommend"
	routeUnknown        = "unknown"
	routeHallucination  = string(Hallucination)
	routeLogical        = string(LogicalInconsistency)
	routeAssumptions    = string(MissingAssumptions)
	routeOverconfidence = string(Overconfidence)
	routeScope          = string(ScopeViolation)
	routeUnderspecified = string(Underspecification)
)

var routePrefixes = []struct {
	prefix string
	route  string
}{
	{"Decide whether the following input", routePrecheck},
	{"Extract every distinct claim", routeDecompose},
	{"Check the following claims for hallucination", routeHallucination},
	{"Check the following answer for logical", routeLogical},
	{"Check whether the answer relies on unstated", routeAssumptions},
	{"Check the answer for confidence", routeOverconfidence},
	{"Check whether the answer stays within", routeScope},
	{"Check whether the question lacked", routeUnderspecified},
	{"Write a clear explanation", routeExplain},
	{"Suggest actionable fixes", routeRecommend},
}

func routeFor(prompt string) string {
	for _, r := range routePrefixes {
		if strings.HasPrefix(prompt, r.prefix) {
			return r.route
		}
	}
	return routeUnknown
}

type fakeReply struct {
	data   map[string]any
	raw    string
	err    error
	panics bool
	hook   func()
}

// fakeModel answers each prompt family with a canned reply. Routes without
// a reply get an empty JSON object.
type fakeModel struct {
	mu      sync.Mutex
	replies map[string]fakeReply
	calls   map[string]int
	prompts map[string]string
}

func newFakeModel(replies map[string]fakeReply) *fakeModel {
	if replies == nil {
		replies = map[string]fakeReply{}
	}
	return &fakeModel{replies: replies, calls: map[string]int{}, prompts: map[string]string{}}
}

func (f *fakeModel) GenerateStructured(ctx context.Context, req ai.Request) (ai.Result, error) {
	route := routeFor(req.Prompt)
	f.mu.Lock()
	f.calls[route]++
	f.prompts[route] = req.Prompt
	reply, ok := f.replies[route]
	f.mu.Unlock()

	if reply.hook != nil {
		reply.hook()
	}
	if reply.panics {
		panic("boom from " + route)
	}
	if reply.err != nil {
		return ai.Result{}, reply.err
	}
	if reply.raw != "" {
		return ai.ParseStructured(reply.raw), nil
	}
	if !ok || reply.data == nil {
		return ai.Result{Data: map[string]any{}, OK: true}, nil
	}
	return ai.Result{Data: reply.data, OK: true}, nil
}

func (f *fakeModel) callCount(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

func (f *fakeModel) prompt(route string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[route]
}

func claimRecords(ids ...string) []any {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, map[string]any{
			"claim_id":   id,
			"claim_text": "Claim " + id + " states something checkable.",
			"claim_type": "factual",
		})
	}
	return out
}

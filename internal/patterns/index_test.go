package patterns

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faris/backend/internal/analysis"
	"faris/backend/internal/store"
)

// keywordEncoder maps text onto a fixed three-word vocabulary.
type keywordEncoder struct {
	fail  bool
	calls int
}

func (k *keywordEncoder) Encode(_ context.Context, text string) ([]float64, error) {
	k.calls++
	if k.fail {
		return nil, errors.New("encoder offline")
	}
	text = strings.ToLower(text)
	vec := make([]float64, 3)
	for i, word := range []string{"dose", "always", "contradiction"} {
		if strings.Contains(text, word) {
			vec[i] = 1
		}
	}
	if vec[0]+vec[1]+vec[2] == 0 {
		vec[2] = 0.1
	}
	return vec, nil
}

func openDB(t *testing.T) *store.Database {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "faris.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var failures = []analysis.FailureSignal{
	{FailureType: analysis.Hallucination, Explanation: "Fabricated dose", Evidence: []string{"The dose is not supported"}, Severity: analysis.SeverityHigh, Confidence: 0.9},
	{FailureType: analysis.Overconfidence, Explanation: "Uses always", Evidence: []string{"Says it always works"}, Severity: analysis.SeverityMedium, Confidence: 0.7},
}

func TestSignature(t *testing.T) {
	assert.Equal(t, "hallucination:the dose is not supported", Signature(failures[0]))
	noEvidence := analysis.FailureSignal{FailureType: analysis.ScopeViolation, Explanation: "  Off   topic "}
	assert.Equal(t, "scope_violation:off topic", Signature(noEvidence))
}

func TestIndexAndSimilarByEmbedding(t *testing.T) {
	db := openDB(t)
	enc := &keywordEncoder{}
	svc := NewService(db, enc)

	require.NoError(t, svc.Index(context.Background(), "case-1", failures, 0.6))
	require.NoError(t, svc.Index(context.Background(), "case-2", failures[:1], 0.8))

	hallucinations, err := db.FindPatterns("hallucination", 5)
	require.NoError(t, err)
	require.Len(t, hallucinations, 1)
	assert.Equal(t, 2, hallucinations[0].OccurrenceCount)

	matches, err := svc.Similar(context.Background(), "wrong dose given", 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, "hallucination", m.FailureType)
		assert.Equal(t, "embedding", m.Source)
	}

	calls := enc.calls
	_, err = svc.Similar(context.Background(), "wrong  dose given", 5)
	require.NoError(t, err)
	assert.Equal(t, calls, enc.calls, "normalized repeat query should hit the cache")

	require.NoError(t, svc.Forget("case-2"))
	matches, err = svc.Similar(context.Background(), "wrong dose given", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "case-1", matches[0].CaseID)
}

func TestSimilarFallsBackToSignatures(t *testing.T) {
	db := openDB(t)
	require.NoError(t, NewService(db, nil).Index(context.Background(), "case-1", failures, 0.5))

	enc := &keywordEncoder{fail: true}
	for name, svc := range map[string]*Service{"no encoder": NewService(db, nil), "failing encoder": NewService(db, enc)} {
		matches, err := svc.Similar(context.Background(), "The dose is not supported!", 3)
		require.NoError(t, err, name)
		require.NotEmpty(t, matches, name)
		assert.Equal(t, "hallucination", matches[0].FailureType, name)
		assert.Equal(t, "signature", matches[0].Source, name)
		assert.Equal(t, 1, matches[0].Occurrences, name)
	}

	_, err := NewService(db, nil).Similar(context.Background(), "   ", 3)
	assert.Error(t, err)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("abc", "abc"))
	assert.Equal(t, 0.0, similarity("", "abc"))
	assert.InDelta(t, 0.75, similarity("dose", "dost"), 1e-9)
	assert.Equal(t, 3, levenshtein([]rune("kitten"), []rune("sitting")))
}

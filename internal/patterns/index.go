package patterns

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"faris/backend/internal/analysis"
	"faris/backend/internal/match"
	"faris/backend/internal/store"
)

const (
	signatureChars     = 200
	lexicalCandidates  = 200
	defaultMinScore    = 0.5
	defaultSimilarRank = 5
)

// Match is one similar past failure.
type Match struct {
	FailureType string  `json:"failure_type"`
	CaseID      string  `json:"case_id,omitempty"`
	Document    string  `json:"document"`
	Similarity  float64 `json:"similarity"`
	Occurrences int     `json:"occurrences,omitempty"`
	Source      string  `json:"source"`
}

// Encoder turns text into vectors.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float64, error)
}

// Service records failure patterns and answers similarity lookups. Without
// an encoder it falls back to edit-distance matching over pattern
// signatures.
type Service struct {
	db      *store.Database
	encoder Encoder
	cache   map[string][]Match
	cacheMu sync.RWMutex
}

// NewService builds a Service. encoder may be nil.
func NewService(db *store.Database, encoder Encoder) *Service {
	return &Service{
		db:      db,
		encoder: encoder,
		cache:   make(map[string][]Match),
	}
}

// Signature is the normalized key under which a failure is counted.
func Signature(f analysis.FailureSignal) string {
	text := f.Explanation
	if len(f.Evidence) > 0 {
		text = f.Evidence[0]
	}
	return string(f.FailureType) + ":" + match.Truncate(match.NormalizeText(text), signatureChars)
}

// Document is the text embedded for a failure.
func Document(f analysis.FailureSignal) string {
	parts := []string{string(f.FailureType), f.Explanation}
	parts = append(parts, f.Evidence...)
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// Index records a pattern occurrence and, when an encoder is configured,
// an embedding for every retained failure of a case. It keeps going after
// individual failures and returns them joined.
func (s *Service) Index(ctx context.Context, caseID string, failures []analysis.FailureSignal, riskScore float64) error {
	if s == nil || s.db == nil {
		return nil
	}
	var errs []error
	for i, f := range failures {
		if _, err := s.db.RecordPattern(string(f.FailureType), Signature(f), caseID, riskScore); err != nil {
			errs = append(errs, err)
		}
		if s.encoder == nil {
			continue
		}
		doc := Document(f)
		vector, err := s.encoder.Encode(ctx, doc)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", f.FailureType, err))
			continue
		}
		meta := map[string]any{
			"failure_type": string(f.FailureType),
			"severity":     string(f.Severity),
			"confidence":   f.Confidence,
			"risk_score":   riskScore,
		}
		refID := fmt.Sprintf("%s-%d", f.FailureType, i)
		if _, err := s.db.AddEmbedding(store.KindFailure, refID, caseID, doc, vector, meta); err != nil {
			errs = append(errs, err)
		}
	}
	s.resetCache()
	return errors.Join(errs...)
}

// Forget removes a case's embeddings.
func (s *Service) Forget(caseID string) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.DeleteCaseEmbeddings(caseID)
	s.resetCache()
	return err
}

// Similar returns past failures resembling text, best first.
func (s *Service) Similar(ctx context.Context, text string, limit int) ([]Match, error) {
	normalized := match.NormalizeText(text)
	if normalized == "" {
		return nil, errors.New("query text is empty")
	}
	if limit <= 0 {
		limit = defaultSimilarRank
	}
	key := fmt.Sprintf("%d|%s", limit, normalized)
	if cached, ok := s.lookupCache(key); ok {
		return cached, nil
	}

	var (
		matches []Match
		err     error
	)
	if s.encoder != nil {
		matches, err = s.similarByEmbedding(ctx, text, limit)
		if err != nil {
			logrus.WithError(err).Warn("embedding search failed, using signature match")
		}
	}
	if s.encoder == nil || err != nil {
		matches, err = s.similarBySignature(normalized, limit)
		if err != nil {
			return nil, err
		}
	}

	s.storeCache(key, matches)
	return matches, nil
}

func (s *Service) similarByEmbedding(ctx context.Context, text string, limit int) ([]Match, error) {
	vector, err := s.encoder.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	hits, err := s.db.FindSimilar(store.KindFailure, vector, limit, defaultMinScore)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(hits))
	for _, hit := range hits {
		failureType, _ := hit.Embedding.Metadata()["failure_type"].(string)
		out = append(out, Match{
			FailureType: failureType,
			CaseID:      hit.Embedding.CaseID,
			Document:    hit.Embedding.Document,
			Similarity:  round3(hit.Score),
			Source:      "embedding",
		})
	}
	return out, nil
}

func (s *Service) similarBySignature(normalized string, limit int) ([]Match, error) {
	rows, err := s.db.ListPatterns(lexicalCandidates)
	if err != nil {
		return nil, err
	}
	var out []Match
	for _, row := range rows {
		body := row.PatternSignature
		if idx := strings.Index(body, ":"); idx >= 0 {
			body = body[idx+1:]
		}
		sim := similarity(normalized, body)
		if sim < defaultMinScore {
			continue
		}
		var caseID string
		if ids := row.ExampleCaseIDs(); len(ids) > 0 {
			caseID = ids[len(ids)-1]
		}
		out = append(out, Match{
			FailureType: row.PatternType,
			CaseID:      caseID,
			Document:    body,
			Similarity:  round3(sim),
			Occurrences: row.OccurrenceCount,
			Source:      "signature",
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) lookupCache(key string) ([]Match, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	entry, ok := s.cache[key]
	return entry, ok
}

func (s *Service) storeCache(key string, entry []Match) {
	s.cacheMu.Lock()
	s.cache[key] = entry
	s.cacheMu.Unlock()
}

func (s *Service) resetCache() {
	s.cacheMu.Lock()
	s.cache = make(map[string][]Match)
	s.cacheMu.Unlock()
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func similarity(a, b string) float64 {
	aRunes := []rune(a)
	bRunes := []rune(b)
	if len(aRunes) == 0 && len(bRunes) == 0 {
		return 1
	}
	if len(aRunes) == 0 || len(bRunes) == 0 {
		return 0
	}

	dist := levenshtein(aRunes, bRunes)
	maxLen := math.Max(float64(len(aRunes)), float64(len(bRunes)))
	score := 1 - float64(dist)/maxLen
	if score < 0 {
		return 0
	}
	return score
}

func levenshtein(a, b []rune) int {
	cols := len(b) + 1
	prev := make([]int, cols)
	curr := make([]int, cols)
	for c := range prev {
		prev[c] = c
	}
	for r := 1; r <= len(a); r++ {
		curr[0] = r
		for c := 1; c < cols; c++ {
			cost := 1
			if a[r-1] == b[c-1] {
				cost = 0
			}
			curr[c] = min(prev[c]+1, curr[c-1]+1, prev[c-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[cols-1]
}

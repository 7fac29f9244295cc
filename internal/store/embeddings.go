package store

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// Embedding kinds.
const (
	KindFailure = "failure"
	KindClaim   = "claim"
)

var embeddingNamespace = uuid.MustParse("6f1c3c0e-3b7f-4c55-9f3c-2f8e7d1a9b40")

// SimilarMatch is one FindSimilar hit.
type SimilarMatch struct {
	Embedding PatternEmbedding
	Score     float64
}

// AddEmbedding indexes a vector. Re-adding the same kind, ref and case
// replaces the stored row.
func (d *Database) AddEmbedding(kind, refID, caseID, document string, vector []float64, metadata map[string]any) (*PatternEmbedding, error) {
	if len(vector) == 0 {
		return nil, errors.New("embedding vector is empty")
	}
	row := &PatternEmbedding{
		ID:       uuid.NewSHA1(embeddingNamespace, []byte(kind+"|"+caseID+"|"+refID)).String(),
		Kind:     kind,
		RefID:    refID,
		CaseID:   caseID,
		Document: document,
	}
	row.SetVector(vector)
	row.SetMetadata(metadata)

	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"document", "dimensions", "vector", "metadata"}),
	}).Create(row).Error
	if err != nil {
		return nil, fmt.Errorf("add embedding: %w", err)
	}
	return row, nil
}

// FindSimilar returns the stored embeddings of kind closest to vector by
// cosine similarity, best first. Rows with a different dimensionality are
// ignored.
func (d *Database) FindSimilar(kind string, vector []float64, limit int, minScore float64) ([]SimilarMatch, error) {
	if len(vector) == 0 {
		return nil, errors.New("query vector is empty")
	}
	if limit <= 0 {
		limit = 5
	}
	var rows []PatternEmbedding
	err := d.gorm.Model(&PatternEmbedding{}).
		Where("kind = ? AND dimensions = ?", kind, len(vector)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	matches := make([]SimilarMatch, 0, len(rows))
	for _, row := range rows {
		score := Cosine(vector, row.Vector())
		if score < minScore {
			continue
		}
		matches = append(matches, SimilarMatch{Embedding: row, Score: score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// DeleteCaseEmbeddings removes every embedding attached to a case.
func (d *Database) DeleteCaseEmbeddings(caseID string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.gorm.Where("case_id = ?", caseID).Delete(&PatternEmbedding{})
	return res.RowsAffected, res.Error
}

// CountEmbeddings returns the number of indexed vectors.
func (d *Database) CountEmbeddings() (int64, error) {
	var count int64
	if err := d.gorm.Model(&PatternEmbedding{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Cosine returns the cosine similarity of two equal-length vectors, or 0
// when either is empty, zero or the lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

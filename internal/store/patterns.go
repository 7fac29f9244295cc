package store

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"
)

// FailureDistribution counts retained failures per failure type.
func (d *Database) FailureDistribution() (map[string]int64, error) {
	return d.countBy(&Failure{}, "failure_type")
}

// SeverityDistribution counts retained failures per severity.
func (d *Database) SeverityDistribution() (map[string]int64, error) {
	return d.countBy(&Failure{}, "severity")
}

// FailureCount is one row of MostCommonFailures.
type FailureCount struct {
	FailureType   string  `json:"failure_type"`
	Count         int64   `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// MostCommonFailures returns the most frequent failure types.
func (d *Database) MostCommonFailures(limit int) ([]FailureCount, error) {
	if d == nil {
		return nil, errors.New("database is nil")
	}
	if limit <= 0 {
		limit = 5
	}
	var rows []FailureCount
	err := d.gorm.Model(&Failure{}).
		Select("failure_type, COUNT(*) AS count, AVG(confidence) AS avg_confidence").
		Group("failure_type").
		Order("count DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("most common failures: %w", err)
	}
	for i := range rows {
		rows[i].AvgConfidence = math.Round(rows[i].AvgConfidence*1000) / 1000
	}
	return rows, nil
}

// RecordPattern registers one occurrence of a pattern signature. The
// occurrence count grows by one and the average risk is kept as a running
// mean; the case id joins the example list once.
func (d *Database) RecordPattern(patternType, signature, caseID string, riskScore float64) (*FailurePattern, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, errors.New("pattern signature is empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var pattern FailurePattern
	err := d.gorm.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		err := tx.Where("pattern_signature = ?", signature).First(&pattern).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			pattern = FailurePattern{
				PatternType:      patternType,
				PatternSignature: signature,
				OccurrenceCount:  1,
				AvgRiskScore:     riskScore,
				FirstSeen:        now,
				LastSeen:         now,
			}
			pattern.SetExampleCaseIDs([]string{caseID})
			return tx.Create(&pattern).Error
		}
		if err != nil {
			return err
		}

		pattern.OccurrenceCount++
		n := float64(pattern.OccurrenceCount)
		pattern.AvgRiskScore = (pattern.AvgRiskScore*(n-1) + riskScore) / n
		examples := pattern.ExampleCaseIDs()
		if caseID != "" && !containsString(examples, caseID) {
			pattern.SetExampleCaseIDs(append(examples, caseID))
		}
		pattern.LastSeen = now
		return tx.Save(&pattern).Error
	})
	if err != nil {
		return nil, fmt.Errorf("record pattern: %w", err)
	}
	return &pattern, nil
}

// FindPatterns returns patterns of a type ordered by occurrence count.
func (d *Database) FindPatterns(patternType string, limit int) ([]FailurePattern, error) {
	if limit <= 0 {
		limit = 5
	}
	var rows []FailurePattern
	err := d.gorm.Model(&FailurePattern{}).
		Where("pattern_type = ?", patternType).
		Order("occurrence_count DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// HighRiskPatterns returns recurring patterns with a high average risk.
func (d *Database) HighRiskPatterns(minRisk float64, minOccurrences int) ([]FailurePattern, error) {
	var rows []FailurePattern
	err := d.gorm.Model(&FailurePattern{}).
		Where("avg_risk_score >= ? AND occurrence_count >= ?", minRisk, minOccurrences).
		Order("avg_risk_score DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListPatterns returns every pattern, most frequent first.
func (d *Database) ListPatterns(limit int) ([]FailurePattern, error) {
	query := d.gorm.Model(&FailurePattern{}).Order("occurrence_count DESC, last_seen DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []FailurePattern
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func containsString(items []string, v string) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}

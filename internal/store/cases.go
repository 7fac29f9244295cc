package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateCase inserts a case together with its failures, claims and
// recommendations in one transaction.
func (d *Database) CreateCase(c *Case) error {
	if c == nil {
		return errors.New("case is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("create case: %w", err)
		}
		return nil
	})
}

// GetCase loads a case with all child rows.
func (d *Database) GetCase(id string) (*Case, error) {
	var c Case
	err := d.gorm.
		Preload("Failures", func(db *gorm.DB) *gorm.DB { return db.Order("confidence DESC") }).
		Preload("Claims", func(db *gorm.DB) *gorm.DB { return db.Order("rowid ASC") }).
		Preload("Recommendations", func(db *gorm.DB) *gorm.DB { return db.Order("priority ASC, rowid ASC") }).
		First(&c, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// CaseQuery encapsulates filters and pagination for listing cases.
type CaseQuery struct {
	Page            int
	PageSize        int
	Domain          string
	RiskLevel       string
	FailureDetected *bool
	Start           *time.Time
	End             *time.Time
}

func (q CaseQuery) normalized() CaseQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	return q
}

// ListCases returns a page of cases, newest first, and the filtered total.
func (d *Database) ListCases(opts CaseQuery) ([]Case, int64, error) {
	opts = opts.normalized()
	base := d.gorm.Model(&Case{})
	if opts.Domain != "" {
		base = base.Where("domain = ?", opts.Domain)
	}
	if opts.RiskLevel != "" {
		base = base.Where("risk_level = ?", opts.RiskLevel)
	}
	if opts.FailureDetected != nil {
		base = base.Where("failure_detected = ?", *opts.FailureDetected)
	}
	if opts.Start != nil {
		base = base.Where("created_at >= ?", *opts.Start)
	}
	if opts.End != nil {
		base = base.Where("created_at <= ?", *opts.End)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []Case
	err := base.Order("created_at DESC").
		Offset((opts.Page - 1) * opts.PageSize).
		Limit(opts.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// DeleteCase removes a case and its child rows.
func (d *Database) DeleteCase(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&Case{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		for _, child := range []any{&Failure{}, &Claim{}, &Recommendation{}} {
			if err := tx.Where("case_id = ?", id).Delete(child).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Statistics summarises persisted cases.
type Statistics struct {
	TotalCases         int64            `json:"total_cases"`
	CasesWithFailures  int64            `json:"cases_with_failures"`
	FailureRate        float64          `json:"failure_rate"`
	AvgRiskScore       float64          `json:"avg_risk_score"`
	RiskDistribution   map[string]int64 `json:"risk_distribution"`
	DomainDistribution map[string]int64 `json:"domain_distribution"`
}

// Statistics computes aggregate counts over every case.
func (d *Database) Statistics() (Statistics, error) {
	stats := Statistics{
		RiskDistribution:   map[string]int64{},
		DomainDistribution: map[string]int64{},
	}
	if err := d.gorm.Model(&Case{}).Count(&stats.TotalCases).Error; err != nil {
		return stats, err
	}
	if err := d.gorm.Model(&Case{}).Where("failure_detected = ?", true).Count(&stats.CasesWithFailures).Error; err != nil {
		return stats, err
	}
	var avg sql.NullFloat64
	if err := d.gorm.Model(&Case{}).Select("AVG(risk_score)").Row().Scan(&avg); err != nil {
		return stats, err
	}
	if avg.Valid {
		stats.AvgRiskScore = math.Round(avg.Float64*1000) / 1000
	}
	if stats.TotalCases > 0 {
		stats.FailureRate = float64(stats.CasesWithFailures) / float64(stats.TotalCases)
	}

	var err error
	if stats.RiskDistribution, err = d.countBy(&Case{}, "risk_level"); err != nil {
		return stats, err
	}
	if stats.DomainDistribution, err = d.countBy(&Case{}, "domain"); err != nil {
		return stats, err
	}
	return stats, nil
}

type groupCount struct {
	Label string
	Total int64
}

func (d *Database) countBy(model any, column string) (map[string]int64, error) {
	var rows []groupCount
	err := d.gorm.Model(model).
		Select(column + " AS label, COUNT(*) AS total").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count by %s: %w", column, err)
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Label] = row.Total
	}
	return out, nil
}

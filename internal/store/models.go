package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Case is one persisted analysis of an LLM answer.
type Case struct {
	ID                string  `gorm:"primaryKey;size:36"`
	Question          string  `gorm:"type:text;not null"`
	LLMAnswer         string  `gorm:"column:llm_answer;type:text;not null"`
	Context           string  `gorm:"type:text"`
	Domain            string  `gorm:"size:50;index;default:general"`
	ModelName         string  `gorm:"size:100"`
	ModelMetadataJSON string  `gorm:"column:model_metadata;type:text"`
	FailureDetected   bool    `gorm:"index"`
	FailureCount      int     `gorm:"default:0"`
	RiskScore         float64 `gorm:"default:0"`
	RiskLevel         string  `gorm:"size:20;index;default:low"`
	Explanation       string  `gorm:"type:text"`
	ProcessingTimeMs  int64
	AnalysisModel     string    `gorm:"size:100"`
	Version           string    `gorm:"column:faris_version;size:20"`
	CreatedAt         time.Time `gorm:"index"`
	UpdatedAt         time.Time

	Failures        []Failure        `gorm:"foreignKey:CaseID;constraint:OnDelete:CASCADE"`
	Claims          []Claim          `gorm:"foreignKey:CaseID;constraint:OnDelete:CASCADE"`
	Recommendations []Recommendation `gorm:"foreignKey:CaseID;constraint:OnDelete:CASCADE"`
}

// TableName keeps the historical table name.
func (Case) TableName() string { return "analysis_cases" }

// BeforeCreate assigns a UUID when the caller did not.
func (c *Case) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// SetModelMetadata stores caller supplied model metadata as JSON.
func (c *Case) SetModelMetadata(meta map[string]any) {
	if len(meta) == 0 {
		c.ModelMetadataJSON = ""
		return
	}
	payload, _ := json.Marshal(meta)
	c.ModelMetadataJSON = string(payload)
}

// ModelMetadata decodes the stored model metadata.
func (c *Case) ModelMetadata() map[string]any {
	if strings.TrimSpace(c.ModelMetadataJSON) == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(c.ModelMetadataJSON), &out); err != nil {
		return nil
	}
	return out
}

// Failure is a retained detector signal attached to a case.
type Failure struct {
	ID                  string  `gorm:"primaryKey;size:36"`
	CaseID              string  `gorm:"size:36;index;not null"`
	FailureType         string  `gorm:"size:50;index;not null"`
	Severity            string  `gorm:"size:20;default:medium"`
	Confidence          float64 `gorm:"default:0"`
	EvidenceJSON        string  `gorm:"column:evidence;type:text"`
	Explanation         string  `gorm:"type:text"`
	RelatedClaimIDsJSON string  `gorm:"column:related_claim_ids;type:text"`
	CreatedAt           time.Time
}

// TableName keeps the historical table name.
func (Failure) TableName() string { return "detected_failures" }

// BeforeCreate assigns a UUID when the caller did not.
func (f *Failure) BeforeCreate(*gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// SetEvidence stores the evidence list as JSON.
func (f *Failure) SetEvidence(evidence []string) {
	f.EvidenceJSON = encodeStrings(evidence)
}

// Evidence returns the decoded evidence list.
func (f *Failure) Evidence() []string {
	return decodeStrings(f.EvidenceJSON)
}

// SetRelatedClaimIDs stores the claim ids as JSON.
func (f *Failure) SetRelatedClaimIDs(ids []string) {
	f.RelatedClaimIDsJSON = encodeStrings(ids)
}

// RelatedClaimIDs returns the decoded claim ids.
func (f *Failure) RelatedClaimIDs() []string {
	return decodeStrings(f.RelatedClaimIDsJSON)
}

// Claim is one extracted claim with its issue tags.
type Claim struct {
	ID           string `gorm:"primaryKey;size:36"`
	CaseID       string `gorm:"size:36;index;not null"`
	ClaimID      string `gorm:"size:50;not null"`
	ClaimText    string `gorm:"type:text;not null"`
	IsVerifiable bool
	IsSupported  bool
	Confidence   float64
	IssuesJSON   string `gorm:"column:issues;type:text"`
	CreatedAt    time.Time
}

// BeforeCreate assigns a UUID when the caller did not.
func (c *Claim) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// SetIssues stores the failure types tagged on the claim.
func (c *Claim) SetIssues(issues []string) {
	c.IssuesJSON = encodeStrings(issues)
}

// Issues returns the decoded issue tags.
func (c *Claim) Issues() []string {
	return decodeStrings(c.IssuesJSON)
}

// Recommendation is one mitigation suggested for a case.
type Recommendation struct {
	ID                 string `gorm:"primaryKey;size:36"`
	CaseID             string `gorm:"size:36;index;not null"`
	RecommendationID   string `gorm:"size:50;not null"`
	Priority           int    `gorm:"default:3"`
	FailureType        string `gorm:"size:50;not null"`
	Title              string `gorm:"size:200;not null"`
	Description        string `gorm:"type:text"`
	ImplementationHint string `gorm:"type:text"`
	CreatedAt          time.Time
}

// BeforeCreate assigns a UUID when the caller did not.
func (r *Recommendation) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// FailurePattern aggregates recurring failures that share a signature.
type FailurePattern struct {
	ID                 string  `gorm:"primaryKey;size:36"`
	PatternType        string  `gorm:"size:50;index;not null"`
	PatternSignature   string  `gorm:"type:text;uniqueIndex;not null"`
	OccurrenceCount    int     `gorm:"default:1;index"`
	AvgRiskScore       float64 `gorm:"default:0"`
	ExampleCaseIDsJSON string  `gorm:"column:example_case_ids;type:text"`
	FirstSeen          time.Time
	LastSeen           time.Time
}

// BeforeCreate assigns a UUID when the caller did not.
func (p *FailurePattern) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// SetExampleCaseIDs stores the example case ids as JSON.
func (p *FailurePattern) SetExampleCaseIDs(ids []string) {
	p.ExampleCaseIDsJSON = encodeStrings(ids)
}

// ExampleCaseIDs returns the decoded example case ids.
func (p *FailurePattern) ExampleCaseIDs() []string {
	return decodeStrings(p.ExampleCaseIDsJSON)
}

// PatternEmbedding is an indexed vector for similarity search.
type PatternEmbedding struct {
	ID           string `gorm:"primaryKey;size:36"`
	Kind         string `gorm:"size:20;index;not null"`
	RefID        string `gorm:"size:64;index"`
	CaseID       string `gorm:"size:36;index"`
	Document     string `gorm:"type:text"`
	Dimensions   int    `gorm:"index"`
	VectorJSON   string `gorm:"column:vector;type:text"`
	MetadataJSON string `gorm:"column:metadata;type:text"`
	CreatedAt    time.Time
}

// SetVector stores the embedding vector as JSON.
func (e *PatternEmbedding) SetVector(vector []float64) {
	payload, _ := json.Marshal(vector)
	e.VectorJSON = string(payload)
	e.Dimensions = len(vector)
}

// Vector returns the decoded embedding vector.
func (e *PatternEmbedding) Vector() []float64 {
	if strings.TrimSpace(e.VectorJSON) == "" {
		return nil
	}
	var out []float64
	if err := json.Unmarshal([]byte(e.VectorJSON), &out); err != nil {
		return nil
	}
	return out
}

// SetMetadata stores free-form metadata as JSON.
func (e *PatternEmbedding) SetMetadata(meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	payload, _ := json.Marshal(meta)
	e.MetadataJSON = string(payload)
}

// Metadata returns the decoded metadata.
func (e *PatternEmbedding) Metadata() map[string]any {
	out := map[string]any{}
	if strings.TrimSpace(e.MetadataJSON) == "" {
		return out
	}
	_ = json.Unmarshal([]byte(e.MetadataJSON), &out)
	return out
}

func encodeStrings(items []string) string {
	if items == nil {
		return "[]"
	}
	payload, _ := json.Marshal(items)
	return string(payload)
}

func decodeStrings(raw string) []string {
	out := []string{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{}
	}
	return out
}

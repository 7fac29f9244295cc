package api

import (
	"time"

	"github.com/gin-gonic/gin/binding"

	"faris/backend/internal/analysis"
	"faris/backend/internal/match"
	"faris/backend/internal/scoring"
	"faris/backend/internal/store"
)

const (
	maxBatchSize         = 10
	questionPreviewChars = 100
)

// AnalyzeRequest is the body of the analyze endpoints.
type AnalyzeRequest struct {
	Question      string         `json:"question" binding:"required,max=10000"`
	LLMAnswer     string         `json:"llm_answer" binding:"required,max=50000"`
	Context       string         `json:"context" binding:"max=50000"`
	Domain        string         `json:"domain" binding:"omitempty,oneof=general finance medical legal code"`
	ModelName     string         `json:"model_name" binding:"max=100"`
	ModelMetadata map[string]any `json:"model_metadata"`
}

// BatchRequest wraps up to ten analyze requests.
type BatchRequest struct {
	Requests []AnalyzeRequest `json:"requests" binding:"required,min=1,max=10,dive"`
	Persist  *bool            `json:"persist"`
}

// ClaimDTO is a claim as returned to API callers.
type ClaimDTO struct {
	ClaimID             string   `json:"claim_id"`
	ClaimText           string   `json:"claim_text"`
	ClaimType           string   `json:"claim_type,omitempty"`
	IsVerifiable        bool     `json:"is_verifiable"`
	IsSupported         bool     `json:"is_supported"`
	Confidence          float64  `json:"confidence"`
	Issues              []string `json:"issues"`
	ImplicitAssumptions []string `json:"implicit_assumptions,omitempty"`
}

// FailureDTO is a retained failure as returned to API callers.
type FailureDTO struct {
	FailureType     string   `json:"failure_type"`
	Severity        string   `json:"severity"`
	Confidence      float64  `json:"confidence"`
	Evidence        []string `json:"evidence"`
	Explanation     string   `json:"explanation"`
	RelatedClaimIDs []string `json:"related_claim_ids"`
}

// RecommendationDTO is a mitigation as returned to API callers.
type RecommendationDTO struct {
	RecommendationID   string `json:"recommendation_id"`
	Priority           int    `json:"priority"`
	FailureType        string `json:"failure_type"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	ImplementationHint string `json:"implementation_hint,omitempty"`
}

// AnalysisMetadata describes how an analysis was produced.
type AnalysisMetadata struct {
	AnalysisID       string           `json:"analysis_id"`
	Timestamp        time.Time        `json:"timestamp"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	AnalysisModel    string           `json:"analysis_model"`
	Version          string           `json:"version"`
	Persisted        bool             `json:"persisted"`
	StageTimesMs     map[string]int64 `json:"stage_times_ms,omitempty"`
}

// AnalyzeResponse is the full report for one analysis.
type AnalyzeResponse struct {
	FailureDetected bool                  `json:"failure_detected"`
	FailureTypes    []string              `json:"failure_types"`
	Failures        []FailureDTO          `json:"failures"`
	Claims          []ClaimDTO            `json:"claims"`
	RiskAssessment  RiskAssessmentDTO     `json:"risk_assessment"`
	Recommendations []RecommendationDTO   `json:"recommendations"`
	Explanation     string                `json:"explanation"`
	Narrative       analysis.Narrative    `json:"narrative"`
	Errors          []analysis.StageError `json:"errors"`
	EarlyExit       bool                  `json:"early_exit"`
	Cancelled       bool                  `json:"cancelled"`
	Metadata        AnalysisMetadata      `json:"metadata"`
}

// RiskAssessmentDTO is the scored risk of an analysis.
type RiskAssessmentDTO struct {
	RiskScore           float64          `json:"risk_score"`
	RiskLevel           string           `json:"risk_level"`
	Domain              string           `json:"domain"`
	DomainMultiplier    float64          `json:"domain_multiplier"`
	ContributingFactors []scoring.Factor `json:"contributing_factors"`
	Explanation         string           `json:"explanation"`
}

// BatchItem is one entry of a batch response.
type BatchItem struct {
	Index  int              `json:"index"`
	Result *AnalyzeResponse `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// BatchResponse collects the results of a batch.
type BatchResponse struct {
	Items     []BatchItem `json:"items"`
	Total     int         `json:"total"`
	Failed    int         `json:"failed"`
	ElapsedMs int64       `json:"elapsed_ms"`
}

// CaseSummaryDTO is a list row for persisted cases.
type CaseSummaryDTO struct {
	ID               string    `json:"id"`
	QuestionPreview  string    `json:"question_preview"`
	Domain           string    `json:"domain"`
	ModelName        string    `json:"model_name,omitempty"`
	FailureDetected  bool      `json:"failure_detected"`
	FailureCount     int       `json:"failure_count"`
	RiskScore        float64   `json:"risk_score"`
	RiskLevel        string    `json:"risk_level"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// CaseDTO is a persisted case with its child rows.
type CaseDTO struct {
	CaseSummaryDTO
	Question        string              `json:"question"`
	LLMAnswer       string              `json:"llm_answer"`
	Context         string              `json:"context,omitempty"`
	ModelMetadata   map[string]any      `json:"model_metadata,omitempty"`
	Explanation     string              `json:"explanation"`
	AnalysisModel   string              `json:"analysis_model"`
	Version         string              `json:"version"`
	Failures        []FailureDTO        `json:"failures"`
	Claims          []ClaimDTO          `json:"claims"`
	Recommendations []RecommendationDTO `json:"recommendations"`
}

// CaseListResponse is a page of cases.
type CaseListResponse struct {
	Items    []CaseSummaryDTO `json:"items"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	HasMore  bool             `json:"has_more"`
}

// StatisticsResponse adds failure breakdowns to the case statistics.
type StatisticsResponse struct {
	store.Statistics
	FailureDistribution  map[string]int64     `json:"failure_distribution"`
	SeverityDistribution map[string]int64     `json:"severity_distribution"`
	MostCommonFailures   []store.FailureCount `json:"most_common_failures"`
}

// PatternDTO is a recurring failure pattern.
type PatternDTO struct {
	PatternType      string    `json:"pattern_type"`
	PatternSignature string    `json:"pattern_signature"`
	OccurrenceCount  int       `json:"occurrence_count"`
	AvgRiskScore     float64   `json:"avg_risk_score"`
	ExampleCaseIDs   []string  `json:"example_case_ids"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
}

// Validate applies the binding rules outside of a gin request.
func (r AnalyzeRequest) Validate() error {
	return binding.Validator.ValidateStruct(&r)
}

// Input converts the request into pipeline input.
func (r AnalyzeRequest) Input() analysis.Input {
	domain, err := analysis.ParseDomain(r.Domain)
	if err != nil {
		domain = analysis.DomainGeneral
	}
	return analysis.Input{
		Question:      r.Question,
		Answer:        r.LLMAnswer,
		Context:       r.Context,
		Domain:        domain,
		ModelMetadata: r.ModelMetadata,
	}
}

// FromCaseSummary converts a store case to its list representation.
func FromCaseSummary(c store.Case) CaseSummaryDTO {
	return CaseSummaryDTO{
		ID:               c.ID,
		QuestionPreview:  match.TruncateWithEllipsis(c.Question, questionPreviewChars),
		Domain:           c.Domain,
		ModelName:        c.ModelName,
		FailureDetected:  c.FailureDetected,
		FailureCount:     c.FailureCount,
		RiskScore:        c.RiskScore,
		RiskLevel:        c.RiskLevel,
		ProcessingTimeMs: c.ProcessingTimeMs,
		CreatedAt:        c.CreatedAt,
	}
}

// FromCase converts a fully loaded store case.
func FromCase(c *store.Case) CaseDTO {
	dto := CaseDTO{
		CaseSummaryDTO:  FromCaseSummary(*c),
		Question:        c.Question,
		LLMAnswer:       c.LLMAnswer,
		Context:         c.Context,
		ModelMetadata:   c.ModelMetadata(),
		Explanation:     c.Explanation,
		AnalysisModel:   c.AnalysisModel,
		Version:         c.Version,
		Failures:        make([]FailureDTO, 0, len(c.Failures)),
		Claims:          make([]ClaimDTO, 0, len(c.Claims)),
		Recommendations: make([]RecommendationDTO, 0, len(c.Recommendations)),
	}
	for _, f := range c.Failures {
		dto.Failures = append(dto.Failures, FailureDTO{
			FailureType:     f.FailureType,
			Severity:        f.Severity,
			Confidence:      f.Confidence,
			Evidence:        f.Evidence(),
			Explanation:     f.Explanation,
			RelatedClaimIDs: f.RelatedClaimIDs(),
		})
	}
	for _, cl := range c.Claims {
		dto.Claims = append(dto.Claims, ClaimDTO{
			ClaimID:      cl.ClaimID,
			ClaimText:    cl.ClaimText,
			IsVerifiable: cl.IsVerifiable,
			IsSupported:  cl.IsSupported,
			Confidence:   cl.Confidence,
			Issues:       cl.Issues(),
		})
	}
	for _, r := range c.Recommendations {
		dto.Recommendations = append(dto.Recommendations, RecommendationDTO{
			RecommendationID:   r.RecommendationID,
			Priority:           r.Priority,
			FailureType:        r.FailureType,
			Title:              r.Title,
			Description:        r.Description,
			ImplementationHint: r.ImplementationHint,
		})
	}
	return dto
}

// FromPattern converts a store pattern.
func FromPattern(p store.FailurePattern) PatternDTO {
	return PatternDTO{
		PatternType:      p.PatternType,
		PatternSignature: p.PatternSignature,
		OccurrenceCount:  p.OccurrenceCount,
		AvgRiskScore:     p.AvgRiskScore,
		ExampleCaseIDs:   p.ExampleCaseIDs(),
		FirstSeen:        p.FirstSeen,
		LastSeen:         p.LastSeen,
	}
}

package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"faris/backend/internal/analysis"
	"faris/backend/internal/scoring"
	"faris/backend/internal/store"
	"faris/backend/internal/util"
)

const defaultClaimConfidence = 0.8

// Analyze runs one request through the pipeline and, when persist is set
// and a database is configured, stores the case and indexes its failures.
// A persistence failure is logged and never changes the returned report.
func (s *Server) Analyze(ctx context.Context, req AnalyzeRequest, persist bool) *AnalyzeResponse {
	resp, _ := s.analyze(ctx, req, persist, s.notifier.Observer())
	return resp
}

func (s *Server) analyze(ctx context.Context, req AnalyzeRequest, persist bool, observer analysis.Observer) (*AnalyzeResponse, error) {
	timer := util.StartTimer()
	state := s.pipeline.RunWithObserver(ctx, req.Input(), observer)
	resp := s.buildResponse(state, timer.ElapsedMs())

	if !persist || s.db == nil || state.Cancelled {
		return resp, nil
	}
	if err := s.persist(ctx, req, resp, state); err != nil {
		logrus.WithError(err).WithField("analysis_id", resp.Metadata.AnalysisID).Error("persist analysis")
		return resp, err
	}
	resp.Metadata.Persisted = true
	return resp, nil
}

// AnalyzeBatch analyzes requests one after another. Items whose
// persistence failed still carry their result plus the error text.
func (s *Server) AnalyzeBatch(ctx context.Context, reqs []AnalyzeRequest, persist bool) BatchResponse {
	timer := util.StartTimer()
	out := BatchResponse{Items: make([]BatchItem, 0, len(reqs)), Total: len(reqs)}
	for i, req := range reqs {
		resp, err := s.analyze(ctx, req, persist, s.notifier.Observer())
		item := BatchItem{Index: i, Result: resp}
		if err != nil {
			item.Error = err.Error()
			out.Failed++
		}
		out.Items = append(out.Items, item)
	}
	out.ElapsedMs = timer.ElapsedMs()
	logrus.WithFields(logrus.Fields{
		"items":      out.Total,
		"failed":     out.Failed,
		"elapsed_ms": out.ElapsedMs,
	}).Info("batch analysis finished")
	return out
}

func (s *Server) buildResponse(state *analysis.RunState, processingMs int64) *AnalyzeResponse {
	resp := &AnalyzeResponse{
		FailureDetected: state.FailureDetected,
		FailureTypes:    make([]string, 0, len(state.FailureTypes)),
		Failures:        make([]FailureDTO, 0, len(state.DetectedFailures)),
		Claims:          make([]ClaimDTO, 0, len(state.Claims)),
		RiskAssessment: RiskAssessmentDTO{
			RiskScore:           state.Risk.Score,
			RiskLevel:           string(state.Risk.Category),
			Domain:              string(state.Input.Domain),
			DomainMultiplier:    state.Risk.DomainMultiplier,
			ContributingFactors: state.Risk.Factors,
			Explanation:         state.Risk.Explanation,
		},
		Recommendations: make([]RecommendationDTO, 0, len(state.Recommendations)),
		Explanation:     state.Explanation,
		Narrative:       state.Narrative,
		Errors:          state.Errors,
		EarlyExit:       state.EarlyExit,
		Cancelled:       state.Cancelled,
		Metadata: AnalysisMetadata{
			AnalysisID:       state.RunID,
			Timestamp:        state.StartedAt.UTC(),
			ProcessingTimeMs: processingMs,
			AnalysisModel:    s.modelName(),
			Version:          s.settings.Version,
			StageTimesMs:     make(map[string]int64, len(state.StageTimes)),
		},
	}
	if resp.RiskAssessment.ContributingFactors == nil {
		resp.RiskAssessment.ContributingFactors = []scoring.Factor{}
	}
	for _, t := range state.FailureTypes {
		resp.FailureTypes = append(resp.FailureTypes, string(t))
	}
	for _, f := range state.DetectedFailures {
		resp.Failures = append(resp.Failures, FailureDTO{
			FailureType:     string(f.FailureType),
			Severity:        string(f.Severity),
			Confidence:      f.Confidence,
			Evidence:        nonNil(f.Evidence),
			Explanation:     f.Explanation,
			RelatedClaimIDs: nonNil(f.RelatedClaimIDs),
		})
	}
	for _, c := range state.Claims {
		issues := make([]string, 0, len(c.Issues))
		for _, t := range c.Issues {
			issues = append(issues, string(t))
		}
		resp.Claims = append(resp.Claims, ClaimDTO{
			ClaimID:             c.ID,
			ClaimText:           c.Text,
			ClaimType:           string(c.Type),
			IsVerifiable:        c.Type != analysis.ClaimOpinion,
			IsSupported:         c.Supported(),
			Confidence:          defaultClaimConfidence,
			Issues:              issues,
			ImplicitAssumptions: c.Assumptions,
		})
	}
	for _, r := range state.Recommendations {
		resp.Recommendations = append(resp.Recommendations, RecommendationDTO{
			RecommendationID:   r.ID,
			Priority:           r.Priority,
			FailureType:        r.FailureType,
			Title:              r.Title,
			Description:        r.Description,
			ImplementationHint: r.ImplementationHint,
		})
	}
	for stage, d := range state.StageTimes {
		resp.Metadata.StageTimesMs[stage] = d.Milliseconds()
	}
	return resp
}

func (s *Server) persist(ctx context.Context, req AnalyzeRequest, resp *AnalyzeResponse, state *analysis.RunState) error {
	c := &store.Case{
		ID:               resp.Metadata.AnalysisID,
		Question:         req.Question,
		LLMAnswer:        req.LLMAnswer,
		Context:          req.Context,
		Domain:           resp.RiskAssessment.Domain,
		ModelName:        requestModelName(req),
		FailureDetected:  resp.FailureDetected,
		FailureCount:     len(resp.Failures),
		RiskScore:        resp.RiskAssessment.RiskScore,
		RiskLevel:        resp.RiskAssessment.RiskLevel,
		Explanation:      resp.Explanation,
		ProcessingTimeMs: resp.Metadata.ProcessingTimeMs,
		AnalysisModel:    resp.Metadata.AnalysisModel,
		Version:          resp.Metadata.Version,
	}
	c.SetModelMetadata(req.ModelMetadata)

	for _, f := range resp.Failures {
		row := store.Failure{
			FailureType: f.FailureType,
			Severity:    f.Severity,
			Confidence:  f.Confidence,
			Explanation: f.Explanation,
		}
		row.SetEvidence(f.Evidence)
		row.SetRelatedClaimIDs(f.RelatedClaimIDs)
		c.Failures = append(c.Failures, row)
	}
	for _, cl := range resp.Claims {
		row := store.Claim{
			ClaimID:      cl.ClaimID,
			ClaimText:    cl.ClaimText,
			IsVerifiable: cl.IsVerifiable,
			IsSupported:  cl.IsSupported,
			Confidence:   cl.Confidence,
		}
		row.SetIssues(cl.Issues)
		c.Claims = append(c.Claims, row)
	}
	for _, r := range resp.Recommendations {
		c.Recommendations = append(c.Recommendations, store.Recommendation{
			RecommendationID:   r.RecommendationID,
			Priority:           r.Priority,
			FailureType:        r.FailureType,
			Title:              r.Title,
			Description:        r.Description,
			ImplementationHint: r.ImplementationHint,
		})
	}

	if err := s.db.CreateCase(c); err != nil {
		return fmt.Errorf("save case: %w", err)
	}

	// indexing is best effort; the case itself is already stored
	indexCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.patterns.Index(indexCtx, c.ID, state.DetectedFailures, state.Risk.Score); err != nil {
		logrus.WithError(err).WithField("case_id", c.ID).Warn("index failure patterns")
	}
	return nil
}

func (s *Server) modelName() string {
	if s.model == nil {
		return s.settings.Model.Name
	}
	return s.model.Model()
}

func requestModelName(req AnalyzeRequest) string {
	if name := strings.TrimSpace(req.ModelName); name != "" {
		return name
	}
	if name, ok := req.ModelMetadata["model_name"].(string); ok {
		return strings.TrimSpace(name)
	}
	return ""
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

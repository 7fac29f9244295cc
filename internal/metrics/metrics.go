// Package metrics exposes Prometheus instrumentation for the analysis pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	analysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faris_analyses_total",
			Help: "Total number of completed analysis runs",
		},
		[]string{"outcome"}, // completed, early_exit, cancelled
	)

	analysisDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faris_analysis_duration_seconds",
			Help:    "End to end analysis duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faris_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	detectorOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faris_detector_outcomes_total",
			Help: "Detector results by failure type and outcome",
		},
		[]string{"failure_type", "outcome", "detected"},
	)

	riskScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faris_risk_score",
			Help:    "Distribution of computed risk scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"domain"},
	)

	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faris_llm_calls_total",
			Help: "Total number of model backend calls",
		},
		[]string{"model", "status"}, // success, error
	)

	llmDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faris_llm_duration_seconds",
			Help:    "Model backend call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faris_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "method", "code"},
	)
)

// RecordAnalysis records a finished pipeline run.
func RecordAnalysis(outcome string, elapsed time.Duration) {
	analysesTotal.WithLabelValues(outcome).Inc()
	analysisDurationSeconds.Observe(elapsed.Seconds())
}

// RecordStage records how long one pipeline stage took.
func RecordStage(stage string, elapsed time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordDetector counts a detector result.
func RecordDetector(failureType, outcome string, detected bool) {
	flag := "false"
	if detected {
		flag = "true"
	}
	detectorOutcomesTotal.WithLabelValues(failureType, outcome, flag).Inc()
}

// RecordRiskScore observes the final risk score for a domain.
func RecordRiskScore(domain string, score float64) {
	riskScore.WithLabelValues(domain).Observe(score)
}

// RecordLLMCall records one backend generation call.
func RecordLLMCall(model, status string, elapsed time.Duration) {
	llmCallsTotal.WithLabelValues(model, status).Inc()
	llmDurationSeconds.WithLabelValues(model).Observe(elapsed.Seconds())
}

// RecordHTTPRequest counts an HTTP request once it has been served.
func RecordHTTPRequest(route, method, code string) {
	httpRequestsTotal.WithLabelValues(route, method, code).Inc()
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"faris/backend/internal/ai"
	"faris/backend/internal/analysis"
	"faris/backend/internal/config"
	"faris/backend/internal/match"
	"faris/backend/internal/metrics"
	"faris/backend/internal/patterns"
	"faris/backend/internal/scoring"
	"faris/backend/internal/store"
)

const (
	healthTimeout       = 5 * time.Second
	defaultSimilarLimit = 5
	maxSimilarLimit     = 50
)

var errPersistenceDisabled = errors.New("persistence is disabled")

// HealthChecker probes the model backend.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Config defines server dependencies.
type Config struct {
	Settings           config.Settings
	DBPath             string
	SilentDB           bool
	DisablePersistence bool
	AllowedOrigins     []string
	Model              ai.Generator
	Backend            HealthChecker
	Encoder            patterns.Encoder
	Lexicon            *match.Lexicon
}

// Server wires HTTP handlers with the pipeline and persistence.
type Server struct {
	db             *store.Database
	pipeline       *analysis.Pipeline
	model          ai.Generator
	backend        HealthChecker
	patterns       *patterns.Service
	notifier       *StageNotifier
	settings       config.Settings
	allowedOrigins []string
	embeddings     bool
}

// NewServer constructs the API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Model == nil {
		return nil, errors.New("model backend required")
	}
	if cfg.Lexicon != nil {
		if err := cfg.Lexicon.Validate(); err != nil {
			return nil, fmt.Errorf("invalid lexicon: %w", err)
		}
	}

	var db *store.Database
	if cfg.DisablePersistence {
		logrus.Info("case persistence disabled via configuration")
	} else {
		if cfg.DBPath == "" {
			return nil, errors.New("db path required")
		}
		opened, err := store.Open(cfg.DBPath, cfg.SilentDB)
		if err != nil {
			return nil, err
		}
		db = opened
		logrus.WithField("path", cfg.DBPath).Info("case store opened")
	}

	backend := cfg.Backend
	if backend == nil {
		if hc, ok := cfg.Model.(HealthChecker); ok {
			backend = hc
		}
	}

	threshold := cfg.Settings.DetectionThreshold
	scorer := scoring.NewRiskScorer(cfg.Settings.Weights.Map(), cfg.Settings.DomainMultipliers.Map())
	pipeline := analysis.NewPipeline(ai.NewStructured(cfg.Model), analysis.Options{
		Threshold: &threshold,
		Scorer:    scorer,
		Lexicon:   cfg.Lexicon,
	})

	server := &Server{
		db:             db,
		pipeline:       pipeline,
		model:          cfg.Model,
		backend:        backend,
		notifier:       NewStageNotifier(),
		settings:       cfg.Settings,
		allowedOrigins: cfg.AllowedOrigins,
		embeddings:     cfg.Encoder != nil,
	}
	if db != nil {
		server.patterns = patterns.NewService(db, cfg.Encoder)
	}

	logrus.WithFields(logrus.Fields{
		"model":       server.modelName(),
		"threshold":   pipeline.Threshold(),
		"persistence": db != nil,
		"embeddings":  server.embeddings,
	}).Info("analysis server configured")
	return server, nil
}

// Close releases the database handle.
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()
	r.Use(requestMetrics())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/analyze", s.handleAnalyze)
		api.POST("/analyze/quick", s.handleAnalyzeQuick)
		api.POST("/analyze/batch", s.handleAnalyzeBatch)
		api.GET("/analyze/stream", s.handleAnalyzeStream)
		api.GET("/cases", s.handleListCases)
		api.GET("/cases/:id", s.handleGetCase)
		api.DELETE("/cases/:id", s.handleDeleteCase)
		api.GET("/statistics", s.handleStatistics)
		api.GET("/taxonomy", s.handleTaxonomy)
		api.GET("/taxonomy/:type", s.handleTaxonomyType)
		api.GET("/patterns", s.handlePatterns)
		api.GET("/patterns/similar", s.handleSimilar)
	}

	return r, nil
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(route, c.Request.Method, strconv.Itoa(c.Writer.Status()))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := "healthy"
	components := gin.H{"api": "healthy"}

	switch {
	case s.backend == nil:
		components["ollama"] = "unknown"
	default:
		if err := s.backend.Health(ctx); err != nil {
			logrus.WithError(err).Warn("model backend health check failed")
			components["ollama"] = "unreachable"
			status = "degraded"
		} else {
			components["ollama"] = "healthy"
		}
	}

	switch {
	case s.db == nil:
		components["database"] = "disabled"
	default:
		if err := s.db.Ping(); err != nil {
			logrus.WithError(err).Warn("database health check failed")
			components["database"] = "unhealthy"
			status = "degraded"
		} else {
			components["database"] = "healthy"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"version":    s.settings.Version,
		"timestamp":  time.Now().UTC(),
		"components": components,
	})
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"model":               s.modelName(),
		"embedding_model":     s.settings.Model.EmbeddingName,
		"detection_threshold": s.pipeline.Threshold(),
		"weights":             s.pipeline.Scorer().Weights(),
		"domain_multipliers":  s.pipeline.Scorer().DomainMultipliers(),
		"domains":             analysis.Domains,
		"failure_types":       analysis.FailureTypes,
		"persistence":         s.db != nil,
		"embeddings":          s.embeddings,
		"version":             s.settings.Version,
	})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	s.serveAnalyze(c, true)
}

func (s *Server) handleAnalyzeQuick(c *gin.Context) {
	s.serveAnalyze(c, false)
}

func (s *Server) serveAnalyze(c *gin.Context, persist bool) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, s.Analyze(c.Request.Context(), req, persist))
}

func (s *Server) handleAnalyzeBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Requests) > maxBatchSize {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("batch accepts at most %d requests", maxBatchSize))
		return
	}
	persist := req.Persist == nil || *req.Persist
	c.JSON(http.StatusOK, s.AnalyzeBatch(c.Request.Context(), req.Requests, persist))
}

func (s *Server) handleAnalyzeStream(c *gin.Context) {
	persist := true
	if value := strings.TrimSpace(c.Query("persist")); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid persist value %q", value))
			return
		}
		persist = parsed
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.notifier.Register(conn)
	remote := conn.RemoteAddr().String()
	logrus.WithField("remote", remote).Info("analysis websocket connected")
	defer s.notifier.Unregister(client)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("remote", remote).Info("analysis websocket closed")
			} else {
				logrus.WithError(err).Warn("analysis websocket unexpected close")
			}
			return
		}

		var req AnalyzeRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			_ = s.notifier.Send(client, StageEvent{Type: EventError, Message: "invalid request: " + err.Error()})
			continue
		}
		if err := req.Validate(); err != nil {
			_ = s.notifier.Send(client, StageEvent{Type: EventError, Message: err.Error()})
			continue
		}

		resp := s.Analyze(c.Request.Context(), req, persist)
		s.notifier.Broadcast(StageEvent{
			Type:       EventResult,
			AnalysisID: resp.Metadata.AnalysisID,
			ElapsedMs:  resp.Metadata.ProcessingTimeMs,
			Errors:     len(resp.Errors),
			Result:     resp,
		})
	}
}

func (s *Server) handleListCases(c *gin.Context) {
	if s.db == nil {
		s.renderError(c, http.StatusServiceUnavailable, errPersistenceDisabled)
		return
	}

	query, err := parseCaseQuery(c)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	rows, total, err := s.db.ListCases(query)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	if query.Page < 1 {
		query.Page = 1
	}
	if query.PageSize < 1 {
		query.PageSize = 20
	}
	if query.PageSize > 100 {
		query.PageSize = 100
	}

	items := make([]CaseSummaryDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, FromCaseSummary(row))
	}
	c.JSON(http.StatusOK, CaseListResponse{
		Items:    items,
		Total:    total,
		Page:     query.Page,
		PageSize: query.PageSize,
		HasMore:  int64(query.Page*query.PageSize) < total,
	})
}

func parseCaseQuery(c *gin.Context) (store.CaseQuery, error) {
	var q store.CaseQuery
	if value := strings.TrimSpace(c.Query("page")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 1 {
			return q, fmt.Errorf("invalid page %q", value)
		}
		q.Page = parsed
	}
	if value := strings.TrimSpace(c.Query("page_size")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 1 || parsed > 100 {
			return q, fmt.Errorf("invalid page_size %q", value)
		}
		q.PageSize = parsed
	}
	if value := strings.TrimSpace(c.Query("domain")); value != "" {
		domain, err := analysis.ParseDomain(value)
		if err != nil {
			return q, err
		}
		q.Domain = string(domain)
	}
	if value := strings.TrimSpace(c.Query("risk_level")); value != "" {
		q.RiskLevel = strings.ToLower(value)
	}
	if value := strings.TrimSpace(c.Query("failure_detected")); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return q, fmt.Errorf("invalid failure_detected %q", value)
		}
		q.FailureDetected = &parsed
	}
	for key, target := range map[string]**time.Time{"start": &q.Start, "end": &q.End} {
		value := strings.TrimSpace(c.Query(key))
		if value == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return q, fmt.Errorf("invalid %s %q: expected RFC3339", key, value)
		}
		*target = &parsed
	}
	return q, nil
}

func (s *Server) handleGetCase(c *gin.Context) {
	if s.db == nil {
		s.renderError(c, http.StatusServiceUnavailable, errPersistenceDisabled)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	row, err := s.db.GetCase(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("case %s not found", id))
			return
		}
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, FromCase(row))
}

func (s *Server) handleDeleteCase(c *gin.Context) {
	if s.db == nil {
		s.renderError(c, http.StatusServiceUnavailable, errPersistenceDisabled)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if err := s.db.DeleteCase(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("case %s not found", id))
			return
		}
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if err := s.patterns.Forget(id); err != nil {
		logrus.WithError(err).WithField("case_id", id).Warn("remove case embeddings")
	}
	logrus.WithField("case_id", id).Info("case deleted")
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStatistics(c *gin.Context) {
	if s.db == nil {
		s.renderError(c, http.StatusServiceUnavailable, errPersistenceDisabled)
		return
	}
	stats, err := s.db.Statistics()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	resp := StatisticsResponse{Statistics: stats}
	if resp.FailureDistribution, err = s.db.FailureDistribution(); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if resp.SeverityDistribution, err = s.db.SeverityDistribution(); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if resp.MostCommonFailures, err = s.db.MostCommonFailures(5); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTaxonomy(c *gin.Context) {
	entries := analysis.Taxonomy(s.pipeline.Scorer())
	c.JSON(http.StatusOK, gin.H{
		"failure_types": entries,
		"total_types":   len(entries),
	})
}

func (s *Server) handleTaxonomyType(c *gin.Context) {
	name := c.Param("type")
	t, ok := analysis.ParseFailureType(name)
	if !ok {
		s.renderError(c, http.StatusNotFound, fmt.Errorf("unknown failure type %q", name))
		return
	}
	entry, _ := analysis.TaxonomyFor(s.pipeline.Scorer(), t)
	c.JSON(http.StatusOK, entry)
}

func (s *Server) handlePatterns(c *gin.Context) {
	if s.db == nil {
		s.renderError(c, http.StatusServiceUnavailable, errPersistenceDisabled)
		return
	}

	var (
		rows []store.FailurePattern
		err  error
	)
	switch {
	case strings.TrimSpace(c.Query("min_risk")) != "":
		minRisk, parseErr := strconv.ParseFloat(c.Query("min_risk"), 64)
		if parseErr != nil {
			s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid min_risk %q", c.Query("min_risk")))
			return
		}
		minOccurrences := 2
		if value := strings.TrimSpace(c.Query("min_occurrences")); value != "" {
			if minOccurrences, parseErr = strconv.Atoi(value); parseErr != nil {
				s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid min_occurrences %q", value))
				return
			}
		}
		rows, err = s.db.HighRiskPatterns(minRisk, minOccurrences)
	case strings.TrimSpace(c.Query("type")) != "":
		t, ok := analysis.ParseFailureType(c.Query("type"))
		if !ok {
			s.renderError(c, http.StatusBadRequest, fmt.Errorf("unknown failure type %q", c.Query("type")))
			return
		}
		rows, err = s.db.FindPatterns(string(t), 20)
	default:
		rows, err = s.db.ListPatterns(50)
	}
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	items := make([]PatternDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, FromPattern(row))
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

func (s *Server) handleSimilar(c *gin.Context) {
	if s.patterns == nil {
		s.renderError(c, http.StatusServiceUnavailable, errPersistenceDisabled)
		return
	}
	text := strings.TrimSpace(c.Query("text"))
	if text == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("text is required"))
		return
	}
	limit := defaultSimilarLimit
	if value := strings.TrimSpace(c.Query("limit")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 1 {
			s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q", value))
			return
		}
		limit = min(parsed, maxSimilarLimit)
	}

	matches, err := s.patterns.Similar(c.Request.Context(), text, limit)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if matches == nil {
		matches = []patterns.Match{}
	}
	c.JSON(http.StatusOK, gin.H{"query": text, "matches": matches})
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

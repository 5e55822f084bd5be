package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nshruti113/vnc-security-monitor/internal/anomaly"
	"github.com/nshruti113/vnc-security-monitor/internal/config"
	"github.com/nshruti113/vnc-security-monitor/internal/metrics"
	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"github.com/nshruti113/vnc-security-monitor/internal/pipeline"
	"github.com/nshruti113/vnc-security-monitor/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultAlertLimit = 20
	maxAlertLimit     = 1000
	sessionCacheSize  = 1024
	statsInterval     = 5 * time.Second
	maxPacketBytes    = 32 << 20
)

type Server struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	redis    *storage.RedisClient
	hub      *Hub
	router   *gin.Engine
	registry *prometheus.Registry
	logger   *zap.Logger
	ctx      context.Context
	sessions *sessionCache

	// packetLimit caps the body of /api/packets
	packetLimit int64
}

// NewServer builds the pipeline and routes. Redis is only used when an
// address is configured.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := pipeline.Deps{
		Logger:  logger,
		Metrics: metrics.New(registry),
	}

	var redisClient *storage.RedisClient
	if cfg.RedisAddr != "" {
		rc, err := storage.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.AlertRetention, logger.Named("redis"))
		if err != nil {
			return nil, err
		}
		redisClient = rc
		deps.Mirror = rc
	}

	s := &Server{
		cfg:      cfg,
		pipeline: pipeline.New(pipeline.OptionsFromConfig(cfg), deps),
		redis:    redisClient,
		hub:      NewHub(logger.Named("ws")),
		router:   gin.New(),
		registry: registry,
		logger:   logger,
		ctx:      ctx,
		sessions: newSessionCache(sessionCacheSize),

		packetLimit: maxPacketBytes,
	}

	s.pipeline.OnAlert(func(a models.Alert) {
		s.hub.Broadcast("alert", a)
	})
	s.pipeline.OnCorrelated(func(a models.CorrelatedAlert) {
		s.hub.Broadcast("correlated_alert", a)
	})

	s.loadModel()
	s.setupRoutes()
	return s, nil
}

// loadModel tries the model file, then the Redis copy. Without either the
// monitor runs on heuristics only.
func (s *Server) loadModel() {
	err := s.pipeline.LoadModel(s.cfg.ModelPath)
	if err == nil {
		s.logger.Info("model loaded", zap.String("path", s.cfg.ModelPath))
		return
	}
	s.logger.Warn("no model file", zap.String("path", s.cfg.ModelPath), zap.Error(err))

	if s.redis == nil {
		s.logger.Warn("running rule-based detection only")
		return
	}
	blob, err := s.redis.LoadModelBlob()
	if err != nil {
		s.logger.Warn("no model in redis, running rule-based detection only", zap.Error(err))
		return
	}
	m, err := anomaly.Load(bytes.NewReader(blob))
	if err != nil {
		s.logger.Error("stored model rejected", zap.Error(err))
		return
	}
	s.pipeline.UseModel(m)
	s.logger.Info("model loaded from redis", zap.Int("training_size", m.TrainingSize))
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())

	api := s.router.Group("/api")
	{
		api.POST("/packets", s.handlePacket)
		api.POST("/sessions", s.handleSession)
		api.POST("/explain", s.handleExplain)
		api.POST("/model/evaluate", s.handleEvaluate)
		api.GET("/stats", s.handleStats)
		api.GET("/status", s.handleStatus)
		api.GET("/alerts", s.handleAlerts)
		api.GET("/alerts/history", s.handleAlertHistory)
		api.GET("/correlated", s.handleCorrelated)
		api.GET("/correlated/history", s.handleCorrelatedHistory)
		api.GET("/ml_insights", s.handleMLInsights)
		api.GET("/threat_matrix", s.handleThreatMatrix)
		api.GET("/traffic_data", s.handleTrafficData)
		api.GET("/threat_intelligence", s.handleThreatIntelligence)
		api.POST("/monitoring/start", s.handleStart)
		api.POST("/monitoring/stop", s.handleStop)
		api.POST("/feedback/:id", s.handleFeedback)
	}

	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})
}

// errorStatus maps pipeline error kinds onto HTTP codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrInput), errors.Is(err, models.ErrSchema):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrIO):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultAlertLimit)))
	if err != nil || limit <= 0 {
		return defaultAlertLimit
	}
	return min(limit, maxAlertLimit)
}

// handlePacket analyses a raw payload. A session_id query parameter links it
// to a session previously posted to /api/sessions.
func (s *Server) handlePacket(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.packetLimit)
	payload, err := c.GetRawData()
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var session *models.SessionRecord
	if id := c.Query("session_id"); id != "" {
		rec, ok := s.sessions.get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session " + id})
			return
		}
		session = &rec
	}

	res, err := s.pipeline.ProcessPacket(payload, session)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleSession(c *gin.Context) {
	var rec models.SessionRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.pipeline.AnalyzeSession(rec)
	if err != nil {
		s.fail(c, err)
		return
	}
	if rec.SessionID != "" {
		s.sessions.put(rec)
	}
	c.JSON(http.StatusOK, res)
}

// handleExplain returns the engineered features of a session and the
// columns that drive its score. top caps the explanation count.
func (s *Server) handleExplain(c *gin.Context) {
	var rec models.SessionRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	top, err := strconv.Atoi(c.DefaultQuery("top", strconv.Itoa(anomaly.DefaultExplainTopN)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid top"})
		return
	}

	res, err := s.pipeline.Explain(rec, top)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var sessions []models.SessionRecord
	if err := c.ShouldBindJSON(&sessions); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev, err := s.pipeline.Evaluate(sessions)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (s *Server) handleStats(c *gin.Context) {
	status := s.pipeline.Status()
	c.JSON(http.StatusOK, gin.H{
		"detection_stats": status.Detection,
		"rule_stats":      status.Rules,
		"ml_trained":      status.Model.Trained,
		"monitoring":      status.Running,
		"ws_clients":      s.hub.Len(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipeline.Status())
}

// handleAlerts lists recent rule alerts, optionally only one severity
func (s *Server) handleAlerts(c *gin.Context) {
	severity := models.Severity(strings.ToUpper(c.Query("severity")))
	if severity == "" {
		c.JSON(http.StatusOK, gin.H{"alerts": s.pipeline.Alerts(limitParam(c))})
		return
	}
	if !severity.Known() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity " + string(severity)})
		return
	}

	matched := make([]models.Alert, 0)
	for _, a := range s.pipeline.Alerts(0) {
		if a.Severity == severity {
			matched = append(matched, a)
		}
	}
	if limit := limitParam(c); len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"alerts": matched})
}

func (s *Server) handleAlertHistory(c *gin.Context) {
	if s.redis == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redis not configured"})
		return
	}
	span, err := time.ParseDuration(c.DefaultQuery("span", "1h"))
	if err != nil || span <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid span"})
		return
	}
	history, err := s.redis.GetRecentAlerts(span)
	if err != nil {
		s.fail(c, err)
		return
	}
	counts, err := s.redis.GetAlertCounts(time.Now())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": history, "current_minute": counts})
}

func (s *Server) handleCorrelated(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": s.pipeline.Correlated(limitParam(c))})
}

func (s *Server) handleCorrelatedHistory(c *gin.Context) {
	if s.redis == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redis not configured"})
		return
	}
	history, err := s.redis.GetCorrelated(limitParam(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": history})
}

func (s *Server) handleMLInsights(c *gin.Context) {
	top, err := s.pipeline.TopFeatures(10)
	if errors.Is(err, models.ErrConfiguration) {
		c.JSON(http.StatusOK, gin.H{"trained": false, "message": "ML model not trained"})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trained": true, "feature_importance": top})
}

func (s *Server) handleThreatMatrix(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scenarios": s.pipeline.ThreatMatrix()})
}

func (s *Server) handleTrafficData(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bandwidth": s.pipeline.TrafficData()})
}

func (s *Server) handleThreatIntelligence(c *gin.Context) {
	status := s.pipeline.Status()
	c.JSON(http.StatusOK, gin.H{
		"timestamp":       time.Now().UTC(),
		"threat_patterns": s.pipeline.ThreatPatterns(),
		"accuracy":        status.Feedback,
		"recommendations": status.Recommendations,
	})
}

func (s *Server) handleStart(c *gin.Context) {
	started := s.pipeline.Start(s.ctx)
	c.JSON(http.StatusOK, gin.H{"started": started, "running": s.pipeline.Running()})
}

func (s *Server) handleStop(c *gin.Context) {
	stopped := s.pipeline.Stop()
	c.JSON(http.StatusOK, gin.H{"stopped": stopped, "running": s.pipeline.Running()})
}

type feedbackRequest struct {
	TruePositive *bool `json:"true_positive" binding:"required"`
}

func (s *Server) handleFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.pipeline.Feedback(c.Param("id"), *req.TruePositive); err != nil {
		if errors.Is(err, models.ErrInput) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

// runStatsBroadcaster pushes a status snapshot to dashboard clients
func (s *Server) runStatsBroadcaster(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.Len() > 0 {
				s.hub.Broadcast("stats", s.pipeline.Status())
			}
		}
	}
}

func (s *Server) Close() error {
	s.pipeline.Stop()
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// sessionCache remembers recently analysed sessions so packets can refer to
// them by ID. The oldest entry is dropped when full.
type sessionCache struct {
	mu    sync.Mutex
	size  int
	order []string
	byID  map[string]models.SessionRecord
}

func newSessionCache(size int) *sessionCache {
	return &sessionCache{size: size, byID: make(map[string]models.SessionRecord, size)}
}

func (sc *sessionCache) put(rec models.SessionRecord) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if _, ok := sc.byID[rec.SessionID]; !ok {
		if len(sc.order) >= sc.size {
			delete(sc.byID, sc.order[0])
			sc.order = sc.order[1:]
		}
		sc.order = append(sc.order, rec.SessionID)
	}
	sc.byID[rec.SessionID] = rec
}

func (sc *sessionCache) get(id string) (models.SessionRecord, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	rec, ok := sc.byID[id]
	return rec, ok
}

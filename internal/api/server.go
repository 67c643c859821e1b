package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"deye-monitor/internal/collector"
	"deye-monitor/internal/inverter"
	"deye-monitor/internal/outage"
	"deye-monitor/internal/schedule"
	"deye-monitor/internal/stats"
)

type Server struct {
	router    *gin.Engine
	server    *http.Server
	collector *collector.Collector
	caps      inverter.Capabilities
	outages   *outage.Detector
	stats     *stats.Aggregator
	schedules *schedule.Service
	logger    *logrus.Logger
	port      int
}

type ServerConfig struct {
	Port         int
	Collector    *collector.Collector
	Capabilities inverter.Capabilities
	Outages      *outage.Detector
	Stats        *stats.Aggregator
	Schedules    *schedule.Service
}

func NewServer(cfg ServerConfig, logger *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:    router,
		collector: cfg.Collector,
		caps:      cfg.Capabilities,
		outages:   cfg.Outages,
		stats:     cfg.Stats,
		schedules: cfg.Schedules,
		logger:    logger,
		port:      cfg.Port,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api/v1")
	{
		api.GET("/status", s.statusHandler)
		api.GET("/capabilities", s.capabilitiesHandler)
		api.GET("/outages", s.outagesHandler)
		api.DELETE("/outages", s.clearOutagesHandler)
		api.GET("/stats/daily", s.dailyStatsHandler)
		api.DELETE("/stats", s.clearStatsHandler)
		api.GET("/history/phases", s.phaseHistoryHandler)
		api.GET("/schedule", s.scheduleHandler)
	}
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	s.logger.WithField("port", s.port).Info("API server starting")
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) healthHandler(c *gin.Context) {
	status := s.collector.Status()

	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"connected":  status.Connected,
		"collecting": status.Collecting,
		"grid":       s.outages.State(),
		"timestamp":  time.Now(),
	})
}

func (s *Server) statusHandler(c *gin.Context) {
	status := s.collector.Status()
	if status.Reading == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No data available yet",
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) capabilitiesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.caps)
}

// outagesHandler returns the event log in chronological order. With
// ?limit= only the most recent events are kept.
func (s *Server) outagesHandler(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "0")

	var limit int
	fmt.Sscanf(limitStr, "%d", &limit)

	events := s.outages.Events()
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	c.JSON(http.StatusOK, gin.H{
		"state":  s.outages.State(),
		"events": events,
	})
}

func (s *Server) clearOutagesHandler(c *gin.Context) {
	if err := s.outages.Clear(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (s *Server) dailyStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"days": s.stats.Days(),
	})
}

func (s *Server) clearStatsHandler(c *gin.Context) {
	if err := s.stats.Clear(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (s *Server) phaseHistoryHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"points": s.stats.History(),
	})
}

func (s *Server) scheduleHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.schedules.Current())
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/refill-risk-engine/internal/domain"
	"github.com/refill-risk-engine/internal/middleware"
)

// Dependencies bundles everything the HTTP layer needs.
type Dependencies struct {
	Aggregator domain.SnapshotAggregator
	Metrics    domain.MetricsEngine
	Scorer     domain.RiskScorer

	Snapshots   domain.SnapshotRepository
	MetricsRepo domain.MetricsRepository
	Risks       domain.RiskRepository

	Audit    domain.AuditLogger
	Versions domain.VersionRegistry

	Cache *ArtifactCache
	Log   *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	config *domain.Config
	deps   Dependencies
	router *gin.Engine
	server *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(config *domain.Config, deps Dependencies) *Server {
	// Set Gin mode based on environment
	if config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(middleware.RequestLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	if config.Server.RateLimit > 0 {
		router.Use(middleware.RateLimit(config.Server.RateLimit, config.Server.RateBurst))
	}

	server := &Server{
		config: config,
		deps:   deps,
		router: router,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.deps.Log.WithField("addr", addr).Info("HTTP server started")

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/events", s.handleIngestEvents)
		v1.POST("/events/batch", s.handleIngestBatch)

		v1.GET("/snapshots", s.handleQuerySnapshots)
		v1.GET("/snapshots/:id", s.handleGetSnapshot)
		v1.POST("/snapshots/:id/events", s.handleUpdateSnapshot)
		v1.GET("/members/:id/snapshots", s.handleMemberSnapshots)
		v1.GET("/bundles/:id/snapshots", s.handleBundleSnapshots)

		v1.POST("/metrics/compute", s.handleComputeMetrics)
		v1.POST("/metrics/compute-batch", s.handleComputeMetricsBatch)
		v1.GET("/metrics", s.handleQueryMetrics)
		v1.GET("/metrics/:id", s.handleGetMetrics)

		v1.POST("/risks/assess", s.handleAssessRisk)
		v1.POST("/risks/assess-batch", s.handleAssessRiskBatch)
		v1.GET("/risks", s.handleQueryRisks)
		v1.GET("/risks/:id", s.handleGetRisk)

		v1.GET("/audit/trail", s.handleAuditTrail)
		v1.GET("/audit/statistics", s.handleAuditStatistics)
		v1.GET("/audit/events/:id/lineage", s.handleEventLineage)

		v1.GET("/versions/artifacts/:id", s.handleArtifactVersions)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   domain.MetricsVersion,
		"cache":     s.deps.Cache.Stats(),
	})
}

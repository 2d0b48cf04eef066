// Package server exposes the administrative HTTP surface of the roles store:
// health, metrics, usage statistics, descriptor lookup, and cache
// invalidation.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/authz-engine/roles-core/internal/cache"
	"github.com/authz-engine/roles-core/internal/metrics"
	"github.com/authz-engine/roles-core/internal/rolestore"
	"github.com/authz-engine/roles-core/pkg/types"
)

// Config configures the admin server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Version      string
}

// DefaultConfig returns the default admin server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		Version:      "1.0.0",
	}
}

// Server is the admin HTTP server.
type Server struct {
	store       *rolestore.CompositeRolesStore
	invalidator *cache.Invalidator
	metrics     *metrics.PrometheusMetrics
	logger      *zap.Logger
	config      Config
	httpServer  *http.Server
	startTime   time.Time
}

// New creates the admin server. The invalidator is optional; without it,
// invalidation requests apply locally only.
func New(
	cfg Config,
	store *rolestore.CompositeRolesStore,
	invalidator *cache.Invalidator,
	m *metrics.PrometheusMetrics,
	logger *zap.Logger,
) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("roles store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:       store,
		invalidator: invalidator,
		metrics:     m,
		logger:      logger,
		config:      cfg,
		startTime:   time.Now(),
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(RequestID(), RequestLogger(logger), gin.Recovery())
	s.registerRoutes(router)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/health", s.health)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.HTTPHandler()))
	}

	v1 := router.Group("/v1")
	v1.GET("/roles/usage", s.usageStats)
	v1.POST("/roles/_query", s.queryDescriptors)
	v1.POST("/cache/invalidate", s.invalidate)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.config.Version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

func (s *Server) usageStats(c *gin.Context) {
	done := make(chan struct{})
	s.store.UsageStats(c.Request.Context(), func(stats map[string]interface{}, err error) {
		defer close(done)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	})
	<-done
}

// QueryDescriptorsRequest asks for the raw descriptors of named roles.
type QueryDescriptorsRequest struct {
	Names []string `json:"names" binding:"required"`
}

func (s *Server) queryDescriptors(c *gin.Context) {
	var req QueryDescriptorsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid request parameters"})
		return
	}
	done := make(chan struct{})
	s.store.GetRoleDescriptors(c.Request.Context(), req.Names, func(descriptors []types.RoleDescriptor, err error) {
		defer close(done)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"roles": descriptors})
	})
	<-done
}

// InvalidateRequest names the roles to invalidate, or requests a full flush.
type InvalidateRequest struct {
	Names []string `json:"names"`
	All   bool     `json:"all"`
}

func (s *Server) invalidate(c *gin.Context) {
	var req InvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid request parameters"})
		return
	}
	if !req.All && len(req.Names) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either names or all is required"})
		return
	}

	if req.All {
		s.store.InvalidateAll()
	} else {
		s.store.InvalidateRoles(req.Names)
	}

	// Local invalidation already happened; a failed broadcast only delays
	// peers until their entries expire or are re-resolved.
	if s.invalidator != nil {
		var err error
		if req.All {
			err = s.invalidator.BroadcastInvalidateAll(c.Request.Context())
		} else {
			err = s.invalidator.BroadcastInvalidate(c.Request.Context(), req.Names...)
		}
		if err != nil {
			s.logger.Warn("failed to broadcast invalidation", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("admin server listening", zap.String("addr", s.config.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

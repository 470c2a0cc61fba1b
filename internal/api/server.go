package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/coursecheck/internal/analysis/progress"
	"github.com/jonesrussell/coursecheck/internal/logger"
	"github.com/jonesrussell/coursecheck/internal/metrics"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server is the polling API server.
type Server struct {
	logger logger.Logger
	engine *gin.Engine
	http   *http.Server
}

// NewServer builds the router and handlers.
func NewServer(
	addr string,
	runs RunStore,
	jobs JobStore,
	progressStore *progress.Store,
	log logger.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	runsHandler := NewRunsHandler(runs, jobs)
	progressHandler := NewProgressHandler(progressStore)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/runs", runsHandler.ListRuns)
		v1.GET("/runs/:id", runsHandler.GetRun)
		v1.GET("/runs/:id/jobs", runsHandler.ListRunJobs)
		v1.GET("/analyses/:id/progress", progressHandler.GetProgress)
	}

	return &Server{
		logger: log,
		engine: engine,
		http: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.engine
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("api server listening", logger.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

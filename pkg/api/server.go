// Package api is the thin HTTP submission/status surface (§6): enqueue a
// research job, read one back, and read a session's active task. It never
// runs pipeline stages itself -- that is queue.ResearchJobExecutor's job,
// polled by the worker pool wired in cmd/researchd.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deepresearch/researchd/pkg/config"
)

// shutdownGrace bounds how long Run waits for in-flight requests to drain
// once its context is canceled.
const shutdownGrace = 10 * time.Second

// NewRouter builds the gin.Engine and registers the three operations plus
// a health check.
func NewRouter(s *Server) *gin.Engine {
	router := gin.Default()
	router.GET("/health", func(c *gin.Context) { s.health(c) })

	v1 := router.Group("/api/v1")
	v1.POST("/research-jobs", s.createResearchJob)
	v1.GET("/research-jobs/:id", s.getResearchJob)
	v1.GET("/sessions/:id/active-task", s.getActiveTask)

	return router
}

// Run starts the HTTP server on cfg.Addr and blocks until ctx is canceled,
// then shuts the server down gracefully.
func Run(ctx context.Context, cfg *config.ServerConfig, s *Server) error {
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: NewRouter(s),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

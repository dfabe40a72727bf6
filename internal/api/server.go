// Package api serves the query engine over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/telemetry"
	"github.com/Aman-CERP/hybridrag/pkg/version"
)

// Server is the HTTP query API.
type Server struct {
	engine  *search.Engine
	catalog store.Catalog
	metrics *telemetry.Metrics
	mcp     http.Handler
	router  *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves /metrics from m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMCP mounts the MCP streamable HTTP transport at /mcp.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// New builds the router.
func New(engine *search.Engine, catalog store.Catalog, opts ...Option) (*Server, error) {
	if engine == nil || catalog == nil {
		return nil, errors.New("api: engine and catalog are required")
	}
	s := &Server{engine: engine, catalog: catalog}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.Health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	v1 := r.Group("/v1")
	{
		v1.POST("/search", s.Search)
		v1.GET("/personas", s.ListPersonas)
		v1.GET("/stats", s.Stats)
	}
	if s.mcp != nil {
		r.Any("/mcp", gin.WrapH(s.mcp))
	}

	s.router = r
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("http api listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Health reports liveness.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}

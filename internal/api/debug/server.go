// Package debug serves a local diagnostics endpoint: /healthz with the
// connection state and /metrics in Prometheus format. It binds to
// loopback by default and is disabled unless configured on.
package debug

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rpimetrics/shellmux/internal/infrastructure/logging"
	"github.com/rpimetrics/shellmux/internal/infrastructure/monitoring"
)

// Status is the live client state the health endpoint reports.
type Status interface {
	ConnectionState() string
	SessionCount() int
}

// Server is the debug HTTP server.
type Server struct {
	router  *gin.Engine
	srv     *http.Server
	log     *logging.Logger
	status  Status
	started time.Time
}

// New builds the router. Start must be called to serve.
func New(status Status, metrics *monitoring.Metrics, log *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Accept", "Origin"},
		MaxAge:       12 * time.Hour,
	}))

	s := &Server{
		router:  router,
		log:     log,
		status:  status,
		started: time.Now(),
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		metrics.Registry(),
		promhttp.HandlerOpts{},
	)))

	return s
}

func (s *Server) handleHealth(c *gin.Context) {
	state := s.status.ConnectionState()

	status := "ok"
	code := http.StatusOK
	if state == "reconnect_failed" {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":         status,
		"connection":     state,
		"sessions":       s.status.SessionCount(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

// Start serves on addr in the background.
func (s *Server) Start(addr string) error {
	ln := &http.Server{Addr: addr, Handler: s.router}
	s.srv = ln

	go func() {
		s.log.Info("debug server listening", zap.String("addr", addr))
		if err := ln.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn("debug server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("debug server shutdown: %w", err)
	}
	return nil
}

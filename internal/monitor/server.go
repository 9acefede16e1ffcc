package monitor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r973356237/AlphaWorker/internal/config"
	"github.com/r973356237/AlphaWorker/internal/logger"
)

// Status is the snapshot served on /status
type Status struct {
	RunID             string    `json:"run_id"`
	Mode              string    `json:"mode"`
	QueueDepth        int       `json:"queue_depth"`
	ActiveSimulations int       `json:"active_simulations"`
	Submitted         int64     `json:"submitted"`
	Completed         int64     `json:"completed"`
	Failed            int64     `json:"failed"`
	StartedAt         time.Time `json:"started_at"`
}

// StatusProvider returns the current pipeline snapshot
type StatusProvider func() Status

// Server is the optional status/metrics HTTP server
type Server struct {
	httpServer *http.Server
	log        logger.Logger
}

// NewServer creates the monitor server
func NewServer(cfg config.MonitorConfig, collector *Collector, status StatusProvider, log logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   "alphaworker",
			"timestamp": time.Now(),
		})
	})

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, status())
	})

	path := cfg.PrometheusPath
	if path == "" {
		path = "/metrics"
	}
	router.GET(path, gin.WrapH(promhttp.HandlerFor(
		collector.Registry(), promhttp.HandlerOpts{})))

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: router,
		},
		log: log.WithField("component", "monitor"),
	}
}

// Start serves in the background until Shutdown
func (s *Server) Start() {
	s.log.Info("Starting monitor server", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("Monitor server error", "error", err)
		}
	}()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

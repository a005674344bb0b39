// Package status serves the read-only health, stats and metrics endpoints.
package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xaenox/teadesk-bot/internal/models"
)

type StatsProvider interface {
	Stats() models.Stats
}

type Server struct {
	addr     string
	stats    StatsProvider
	gatherer prometheus.Gatherer
	started  time.Time
	logger   *zap.Logger
}

func New(addr string, stats StatsProvider, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		addr:     addr,
		stats:    stats,
		gatherer: gatherer,
		started:  time.Now(),
		logger:   logger,
	}
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	router.GET("/stats", s.statsHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	return router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.stats.Stats())
}

// Run listens on the configured address until ctx is cancelled. An empty
// address disables the server.
func (s *Server) Run(ctx context.Context) error {
	if s.addr == "" {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening", zap.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Status server shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

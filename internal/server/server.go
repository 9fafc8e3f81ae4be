// Package server holds the HTTP plumbing shared by the planmeet services:
// the gin engine, middleware, error rendering and the serve loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/planmeet/planmeet/internal/apperr"
	"github.com/planmeet/planmeet/internal/config"
)

// EngineOptions configures NewEngine.
type EngineOptions struct {
	Service        string
	Logger         *zap.Logger
	Registry       *prometheus.Registry
	AllowedOrigins []string
	// Health is the text answered on GET /.
	Health string
}

// NewEngine returns a gin engine with logging, metrics, CORS, recovery, a
// health route and /metrics.
func NewEngine(opts EngineOptions) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := gin.New()
	r.Use(
		RequestLog(logger),
		NewMetrics(reg, opts.Service).Middleware(),
		gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
			logger.Error("panic serving request", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
			WriteError(c, apperr.New(apperr.KindInternal, "", "internal error"))
		}),
		CORS(opts.AllowedOrigins),
	)
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, opts.Health) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	return r
}

// NewHTTPServer wraps h with the timeouts from cfg.
func NewHTTPServer(cfg config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// Run serves until ctx is done, then shuts the server down gracefully.
func Run(ctx context.Context, srv *http.Server, logger *zap.Logger, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server is listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server is shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tickerd/tickerd/internal/config"
	"github.com/tickerd/tickerd/internal/host"
	"github.com/tickerd/tickerd/internal/launcher"
	"github.com/tickerd/tickerd/internal/logging"
	"go.uber.org/zap"
)

// HealthHandler reports per-worker activity from the host's health tracker.
func HealthHandler(tracker *host.HealthTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := tracker.GetStatus()
		if tracker.IsHealthy() {
			c.JSON(http.StatusOK, status)
		} else {
			c.JSON(http.StatusServiceUnavailable, status)
		}
	}
}

type launchRequest struct {
	Database string `json:"database" binding:"required"`
}

// LaunchHandler starts a ticker worker for the requested database and waits
// for its start acknowledgement before responding.
func LaunchHandler(launch *launcher.Launcher, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req launchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "database is required"})
			return
		}

		pid, err := launch.Launch(c.Request.Context(), req.Database)
		if err != nil {
			logger.Ctx(c.Request.Context()).Error("launch failed",
				zap.String("database", req.Database),
				zap.Error(err))
			switch {
			case errors.Is(err, launcher.ErrInsufficientResources):
				c.JSON(http.StatusTooManyRequests, gin.H{"message": err.Error()})
			case errors.Is(err, launcher.ErrHostUnavailable):
				c.JSON(http.StatusServiceUnavailable, gin.H{"message": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
			}
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"pid":      pid,
			"database": req.Database,
		})
	}
}

// registerHTTPServer adds the HTTP server to the host's worker set. A health
// port of 0 disables the endpoint entirely; nothing is registered and no
// listener is opened.
func registerHTTPServer(h *host.Host, cfg *config.Config, launch *launcher.Launcher, logger *logging.Logger) (bool, error) {
	if cfg.HealthPort == 0 {
		return false, nil
	}
	router := newRouter(h.Health(), launch, cfg.GinMode, logger)
	if err := h.RegisterWorker(newHTTPWorkerSpec(cfg.HealthPort, router, logger)); err != nil {
		return false, err
	}
	return true, nil
}

func newRouter(tracker *host.HealthTracker, launch *launcher.Launcher, ginMode string, logger *logging.Logger) *gin.Engine {
	gin.SetMode(ginMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", HealthHandler(tracker))
	r.POST("/api/v1/workers", LaunchHandler(launch, logger))

	return r
}

// httpWorker wraps the HTTP server as a host worker so it shares the host's
// startup, shutdown broadcast, and health accounting.
type httpWorker struct {
	server *http.Server
	logger *logging.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

func newHTTPWorkerSpec(port int, handler http.Handler, logger *logging.Logger) host.WorkerSpec {
	w := &httpWorker{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: handler,
		},
		logger: logger,
		stop:   make(chan struct{}),
	}
	return host.WorkerSpec{
		Name: "http-server",
		// A dead listener is not recoverable by restarting in place;
		// surface it through health instead.
		RestartDelaySeconds: -1,
		Start: func(ctx context.Context) (host.RunFunc, error) {
			return w.run, nil
		},
		Notify: func(sig host.Signal) {
			if sig == host.SignalShutdown {
				w.stopOnce.Do(func() { close(w.stop) })
			}
		},
	}
}

// run starts the HTTP server and blocks until a shutdown notification, context
// cancellation, or server failure.
func (w *httpWorker) run(ctx context.Context) error {
	logger := w.logger.Ctx(ctx)
	logger.Info("http server listening", zap.String("addr", w.server.Addr))

	errChan := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-w.stop:
	case <-ctx.Done():
	case err := <-errChan:
		logger.Error("http server error", zap.Error(err))
		return err
	}

	// Graceful shutdown
	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
		return err
	}
	logger.Info("http server shut down")
	return nil
}

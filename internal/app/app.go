package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/atomic"

	"pose-relay/internal/blobsink"
	"pose-relay/internal/config"
	"pose-relay/internal/handler/http/health"
	httpiface "pose-relay/internal/handler/http/interface"
	"pose-relay/internal/handler/http/relay"
	"pose-relay/internal/upstream"
	"pose-relay/pkg/logger"
)

// App represents the application with its lifecycle management
type App struct {
	config       *config.Config
	echo         *echo.Echo
	readiness    *atomic.Bool
	httpHandlers []httpiface.HttpRouter
	sink         *blobsink.Dispatcher
	cancel       context.CancelFunc
}

// NewApp creates a new App instance with the given configuration
// Follows constructor injection pattern - all dependencies passed via parameters
func NewApp(cfg *config.Config) *App {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	return &App{
		config:    cfg,
		echo:      e,
		readiness: atomic.NewBool(false),
	}
}

// injectDependency initializes the backend client, the advisory blob sink,
// and all HTTP handlers
func (a *App) injectDependency() {
	shutdownTimeout := time.Duration(a.config.ShutdownTimeoutSeconds) * time.Second

	backend := upstream.New(a.config.BackendBaseURL, upstream.Timeouts{
		Status: time.Duration(a.config.StatusTimeoutSeconds) * time.Second,
		Frame:  time.Duration(a.config.FrameTimeoutSeconds) * time.Second,
		Video:  time.Duration(a.config.VideoTimeoutSeconds) * time.Second,
		Submit: time.Duration(a.config.SubmitTimeoutSeconds) * time.Second,
	})

	// Persistence is opt-in twice over: the deployment must configure a
	// bucket, and each request must set save_to_bucket. Without a bucket
	// the relay runs with no sink at all.
	var persister relay.Persister
	if a.config.StorageBucket != "" {
		sink := blobsink.NewSink(a.config.StorageRegion, a.config.StorageBucket, a.config.StorageAuthMode, a.config.StorageProfile)
		uploadTimeout := time.Duration(a.config.VideoTimeoutSeconds) * time.Second
		a.sink = blobsink.NewDispatcher(sink, a.config.SinkMaxConcurrent, uploadTimeout, shutdownTimeout)
		persister = a.sink
		logger.Info("Blob sink enabled: bucket=%s (advisory, fire-and-forget)", a.config.StorageBucket)
	} else {
		logger.Info("Blob sink disabled: no storage_bucket configured")
	}

	a.httpHandlers = []httpiface.HttpRouter{
		health.NewHealthHandler(a.readiness),
		relay.NewRelayHandler(backend, persister),
	}
}

// preProcess is called before server starts
func (a *App) preProcess() {
	logger.Info("Preparing to start server...")
	if a.sink != nil {
		a.sink.Start()
	}
}

// postProcess is called after shutdown signal is received
func (a *App) postProcess() {
	logger.Info("Shutting down gracefully...")
}

// Run starts the Echo server and handles graceful shutdown
// This implements the full lifecycle: startup -> run -> graceful shutdown
func (a *App) Run() error {
	_, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.injectDependency()
	a.preProcess()

	go func() {
		e := a.echo
		addr := fmt.Sprintf(":%d", a.config.ServerPort)

		// CORS first so preflight is answered before anything else sees
		// the request
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     a.config.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Content-Type", "Accept", "Origin", "User-Agent", "X-Requested-With"},
			AllowCredentials: true,
		}))

		// Body size limit protects against memory exhaustion; the limit is
		// sized for whole video uploads
		limit := fmt.Sprintf("%dM", a.config.MaxRequestSizeMB)
		e.Use(middleware.BodyLimit(limit))

		// Request IDs tie relay logs to backend logs for one upload
		e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
			Generator: func() string { return uuid.NewString() },
		}))

		e.Use(middleware.Logger())
		e.Use(middleware.Recover())

		// Readiness gate: reject new work while draining, but keep probes
		// and metrics reachable
		e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				if !a.readiness.Load() {
					p := c.Request().URL.Path
					if p != "/healthz" && p != "/readyz" && p != "/metrics" {
						logger.Info("readiness=false: reject new request path=%s", p)
						return c.NoContent(http.StatusServiceUnavailable)
					}
				}
				return next(c)
			}
		})

		e.Use(echoprometheus.NewMiddleware("pose_relay"))
		e.GET("/metrics", echoprometheus.NewHandler())

		for _, handler := range a.httpHandlers {
			handler.SetupRoutes(e)
		}

		logger.Info("Starting pose relay server on %s", addr)

		// Mark readiness true just before starting to accept connections
		a.readiness.Store(true)

		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	logger.Info("Server ready. Waiting for interrupt signal...")
	<-quit

	a.postProcess()

	// Step 1: Mark as not ready so load balancers stop routing traffic
	a.readiness.Store(false)
	drainDuration := time.Duration(a.config.ShutdownDrainSeconds) * time.Second
	logger.Info("readiness=false: start drain window duration=%v", drainDuration)

	// Step 2: Drain period - allow load balancers to detect unhealthy state
	time.Sleep(drainDuration)

	// Step 3: Let in-flight advisory uploads finish
	if a.sink != nil {
		a.sink.Stop()
	}

	// Step 4: Shutdown Echo server with timeout
	shutdownTimeout := time.Duration(a.config.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	logger.Info("Shutting down Echo server...")
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
		a.cancel()
		return err
	}

	a.cancel()

	logger.Info("Server stopped gracefully")
	return nil
}

//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/slipstream/scrapecore/internal/api/handlers"
	apimw "github.com/slipstream/scrapecore/internal/api/middleware"
	"github.com/slipstream/scrapecore/internal/history"
	"github.com/slipstream/scrapecore/internal/indexer"
	"github.com/slipstream/scrapecore/internal/logger"
	"github.com/slipstream/scrapecore/internal/scheduler"
	"github.com/slipstream/scrapecore/internal/websocket"
)

const version = "0.1.0"

// Deps are the services exposed over HTTP. Only Registry is required.
type Deps struct {
	Registry  *indexer.Registry
	History   *history.Service
	Scheduler *scheduler.Scheduler
	Hub       *websocket.Hub
	Logs      *logger.RecentLogs
	LogFile   string
}

// Options tune the HTTP layer.
type Options struct {
	// SearchRate limits search and cache calls per client IP; 0 disables it.
	SearchRate  float64
	SearchBurst int
}

// Server is the HTTP API server.
type Server struct {
	echo      *echo.Echo
	deps      Deps
	opts      Options
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a server with middleware and routes configured.
func NewServer(deps Deps, opts Options, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		deps:      deps,
		opts:      opts,
		logger:    logger.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(apimw.SecurityHeaders())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogMethod:    true,
		LogError:     true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Debug()
			if v.Error != nil {
				event = s.logger.Warn().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Str("requestId", v.RequestID).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{Level: 5}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	api := s.echo.Group("/api/v1")
	api.GET("/status", s.getStatus)

	providers := api.Group("/providers")
	if s.opts.SearchRate > 0 {
		providers.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(s.opts.SearchRate),
				Burst:     s.opts.SearchBurst,
				ExpiresIn: 3 * time.Minute,
			},
		)))
	}
	indexer.NewHandlers(s.deps.Registry).RegisterRoutes(providers)

	if s.deps.History != nil {
		history.NewHandlers(s.deps.History).RegisterRoutes(api.Group("/history"))
	}

	if s.deps.Scheduler != nil {
		schedulerHandler := handlers.NewSchedulerHandler(s.deps.Scheduler)
		schedulerGroup := api.Group("/scheduler")
		schedulerGroup.GET("/tasks", schedulerHandler.ListTasks)
		schedulerGroup.GET("/tasks/:id", schedulerHandler.GetTask)
		schedulerGroup.POST("/tasks/:id/run", schedulerHandler.RunTask)
	}

	if s.deps.Hub != nil {
		api.GET("/ws", s.deps.Hub.HandleWebSocket)
	}

	if s.deps.Logs != nil {
		NewLogsHandlers(s.deps.Logs, s.deps.LogFile).RegisterRoutes(api.Group("/logs"))
	}
}

// Start begins listening for HTTP requests. It returns nil after Shutdown.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"version":   version,
		"startTime": s.startTime.Format(time.RFC3339),
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"providers": len(s.deps.Registry.List()),
	})
}

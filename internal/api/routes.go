// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/docintake/backend/internal/upload"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	UploadMgr *upload.Manager
	Journal   EventJournal
	Auth      Authenticator
	Version   string
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Intake IntakeHandler
	Stream ChangeStreamHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health: NewHealthHandler(deps.Version, deps.UploadMgr),
		Intake: NewIntakeHandler(deps.UploadMgr, deps.Journal, deps.Auth),
		Stream: NewWebSocketHandler(deps.UploadMgr),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Intake sessions
	intakeGroup := apiGroup.Group("/intake")
	intakeGroup.POST("", handlers.Intake.HandleOpenSession)
	intakeGroup.GET("/:id", handlers.Intake.HandleGetSession)
	intakeGroup.GET("/:id/msgpack", handlers.Intake.HandleGetSessionMsgpack)
	intakeGroup.DELETE("/:id", handlers.Intake.HandleCloseSession)

	// Slot operations
	intakeGroup.POST("/:id/files", handlers.Intake.HandleAdmitFiles)
	intakeGroup.DELETE("/:id/files/:slot", handlers.Intake.HandleRemoveFile)
	intakeGroup.GET("/:id/files/:slot/preview", handlers.Intake.HandleGetPreview)
	intakeGroup.POST("/:id/reset", handlers.Intake.HandleReset)
	intakeGroup.POST("/:id/drag", handlers.Intake.HandleDrag)

	// Journal and change stream
	intakeGroup.GET("/:id/events", handlers.Intake.HandleGetEvents)
	intakeGroup.GET("/:id/ws", handlers.Stream.HandleChangeStream)
}

// RegisterMetricsRoute exposes the registry in Prometheus text format
func RegisterMetricsRoute(e *echo.Echo, gatherer prometheus.Gatherer) {
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// MiddlewareOptions tunes SetupMiddleware
type MiddlewareOptions struct {
	BodyLimit    string
	RateLimitRPS float64
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, opts MiddlewareOptions) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}

	if opts.RateLimitRPS > 0 {
		burst := int(opts.RateLimitRPS * 2)
		if burst < 1 {
			burst = 1
		}
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: func(c echo.Context) bool {
				return c.Request().URL.Path == "/api/health" || c.Request().URL.Path == "/metrics"
			},
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(opts.RateLimitRPS),
				Burst:     burst,
				ExpiresIn: 3 * time.Minute,
			}),
			IdentifierExtractor: func(c echo.Context) (string, error) {
				return c.RealIP(), nil
			},
			DenyHandler: func(c echo.Context, identifier string, err error) error {
				return &APIError{
					Status:  http.StatusTooManyRequests,
					Code:    "RATE_LIMITED",
					Message: "too many requests",
				}
			},
		}))
	}
}

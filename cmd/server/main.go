package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/docintake/backend/internal/api"
	"github.com/docintake/backend/internal/config"
	"github.com/docintake/backend/internal/journal"
	"github.com/docintake/backend/internal/logging"
	"github.com/docintake/backend/internal/metrics"
	"github.com/docintake/backend/internal/preview"
	"github.com/docintake/backend/internal/storage"
	"github.com/docintake/backend/internal/upload"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	configPath := filepath.Join(exeDir, "intake.yaml")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.SetLevel(cfg.Advanced.LogLevel)
	logger := logging.New("server")

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg)

	// Preview storage
	var provider preview.Provider
	switch cfg.Intake.PreviewBackend {
	case "disk":
		previewStore, err := storage.NewLocalStore(cfg.Storage.PreviewDirectory)
		if err != nil {
			fmt.Printf("Failed to initialize preview storage: %v\n", err)
			os.Exit(1)
		}
		provider = preview.NewDiskProvider(previewStore)
	default:
		provider = preview.NewMemoryProvider()
	}
	previews := preview.NewManager(provider, collector)

	// Event journal
	var (
		eventJournal api.EventJournal
		recorder     upload.Recorder
		duck         *journal.DuckStore
	)
	if cfg.Storage.JournalPath != "" {
		duck, err = journal.Open(cfg.Storage.JournalPath, cfg.Advanced.DuckDBThreads)
		if err != nil {
			fmt.Printf("Failed to open event journal: %v\n", err)
			os.Exit(1)
		}
		eventJournal = duck
		recorder = duck
	}

	uploadMgr := upload.NewManager(upload.Settings{
		DefaultCapacity: cfg.Intake.DefaultCapacity,
		Policy:          cfg.Policy(),
		LoginRedirect:   cfg.Intake.LoginRedirect,
		GateRemoval:     cfg.Intake.GateRemoval,
		ErrorDisplay:    cfg.ErrorDisplay(),
	}, previews, recorder, collector)

	// Start background session cleanup
	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Intake.CleanupIntervalMinutes) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				uploadMgr.CleanupIdle(time.Duration(cfg.Intake.SessionTimeoutMinutes) * time.Minute)
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true

	// Configure middleware
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" || path == "/metrics" || strings.HasSuffix(path, "/ws")
		},
	}))

	api.SetupMiddleware(e, api.MiddlewareOptions{
		BodyLimit:    cfg.Server.BodyLimit,
		RateLimitRPS: cfg.Server.RateLimitRPS,
	})

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	handlers := api.NewHandlers(&api.Dependencies{
		UploadMgr: uploadMgr,
		Journal:   eventJournal,
		Auth: api.Authenticator{
			Required: cfg.Security.RequireAuth,
			Token:    cfg.Security.AuthToken,
		},
		Version: Version,
	})
	api.RegisterRoutes(e, handlers)
	if cfg.Advanced.EnableMetrics {
		api.RegisterMetricsRoute(e, reg)
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	journalMode := "disabled"
	if duck != nil {
		journalMode = cfg.Storage.JournalPath
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Document Intake Server                          ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Previews:   %-45s║\n", cfg.Intake.PreviewBackend)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Journal:   %-46s║\n", journalMode)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	go func() {
		if err := e.StartServer(s); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopCleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}

	// Release every outstanding preview before the journal goes away
	uploadMgr.Shutdown()
	if stats := previews.Stats(); stats.Outstanding > 0 {
		logger.Warnf("%d preview handles still outstanding after shutdown", stats.Outstanding)
	}
	if duck != nil {
		if err := duck.Close(); err != nil {
			logger.Errorf("closing journal: %v", err)
		}
	}
}

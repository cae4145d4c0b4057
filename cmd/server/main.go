package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/sdrflow/internal/auth"
	"github.com/ksred/sdrflow/internal/config"
	"github.com/ksred/sdrflow/internal/database"
	"github.com/ksred/sdrflow/internal/feed"
	"github.com/ksred/sdrflow/internal/insight"
	"github.com/ksred/sdrflow/internal/orchestrator"
	"github.com/ksred/sdrflow/internal/query"
	"github.com/ksred/sdrflow/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures application logging based on environment settings.
// Development gets pretty printing; DEBUG enables debug level.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the analytics server with graceful shutdown.
// Configuration failures are fatal here and only here; once the scheduler
// is running, per-cycle failures are logged and retried.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	router := gin.Default()

	feedClient := feed.NewClient(cfg.FeedURL, feed.WithTimeout(cfg.FeedTimeout))

	orch := orchestrator.New(db, cfg, feedClient)
	orchCtx, orchCancel := context.WithCancel(context.Background())
	defer orchCancel()
	orch.Start(orchCtx)

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "sdrflow-secret-key"
	}
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	authService.RegisterAPICredentials(os.Getenv("API_KEY"), os.Getenv("API_SECRET"))

	queryService := query.NewService(db, cfg, orch)
	queryHandlers := query.NewGinHandlers(queryService)

	insightService := insight.NewService(db, cfg)
	insightHandlers := insight.NewGinHandlers(insightService)

	setupRoutes(router, jwtSecret, authHandlers, queryHandlers, insightHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop the scheduler first; a cycle in flight runs to completion.
	orchCancel()
	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints:
// - Auth routes: public token issuance
// - Query routes: protected by JWT authentication
// - Trigger routes: protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	queryHandlers *query.GinHandlers,
	insightHandlers *insight.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Rate limiting sits behind auth on protected groups so the
		// limiter keys on the authenticated client id; the public token
		// route is limited per IP.
		authGroup := v1.Group("/auth")
		authGroup.Use(middleware.RateLimit())
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		queries := v1.Group("")
		queries.Use(middleware.JWTAuth(jwtSecret), middleware.RateLimit())
		{
			queries.GET("/commentary", queryHandlers.GetCommentaryHandler())
			queries.GET("/structures", queryHandlers.GetStructuresHandler())
			queries.GET("/logs", queryHandlers.GetLogsHandler())
			queries.GET("/orphans", queryHandlers.GetOrphansHandler())
			queries.GET("/status", queryHandlers.StatusHandler())
			queries.GET("/currencies", queryHandlers.CurrenciesHandler())
			queries.GET("/date-range", queryHandlers.DateRangeHandler())
			queries.GET("/export/trades", queryHandlers.ExportTradesHandler())
			queries.POST("/insight/ask", insightHandlers.AskHandler())
		}

		internal := v1.Group("/analysis")
		internal.Use(middleware.InternalAuth(jwtSecret), middleware.RateLimit())
		{
			internal.POST("/run", queryHandlers.RunAnalysisHandler())
			internal.POST("/refresh", queryHandlers.ForceRefreshHandler())
		}
	}
}

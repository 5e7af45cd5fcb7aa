package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/msgtosan/taxledger-api/internal/auth"
	"github.com/msgtosan/taxledger-api/internal/database"
	"github.com/msgtosan/taxledger-api/internal/gains"
	"github.com/msgtosan/taxledger-api/internal/ledger"
	"github.com/msgtosan/taxledger-api/internal/metrics"
	"github.com/msgtosan/taxledger-api/internal/reconciliation"
	"github.com/msgtosan/taxledger-api/internal/rules"
	"github.com/msgtosan/taxledger-api/internal/suspense"
	"github.com/msgtosan/taxledger-api/internal/truth"
	"github.com/msgtosan/taxledger-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Local overrides come from .env when present
	_ = godotenv.Load()

	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the tax ledger API server with graceful shutdown
// support. It sets up all required services, database connections, and API
// routes.
func main() {
	// Initialize database
	db, err := database.NewDatabase()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "taxledger-secret-key"
	}
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials with the full permission grant
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret,
		auth.PermissionIngest, auth.PermissionReports, auth.PermissionInternal)

	rulesService := rules.NewService(db)
	if err := rulesService.SeedDefaults(); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to seed default rules")
	}

	truthService := truth.NewService(db)
	if err := truthService.SeedDefaults(); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to seed default truth priorities")
	}
	truthHandlers := truth.NewGinHandlers(truthService)

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	gainsService := gains.NewService(db, rulesService)
	gainsHandlers := gains.NewGinHandlers(gainsService)

	suspenseService := suspense.NewService(db)
	suspenseHandlers := suspense.NewGinHandlers(suspenseService)

	reconciliationService := reconciliation.NewService(db, truthService, rulesService, suspenseService)
	reconciliationHandlers := reconciliation.NewGinHandlers(reconciliationService)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, ledgerHandlers, gainsHandlers,
		reconciliationHandlers, truthHandlers, suspenseHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Ingest routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
// - Report, truth and suspense routes: Protected by JWT authentication
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	gainsHandlers *gains.GinHandlers,
	reconciliationHandlers *reconciliation.GinHandlers,
	truthHandlers *truth.GinHandlers,
	suspenseHandlers *suspense.GinHandlers,
) {
	// Prometheus scrape endpoint
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Ingestion routes for parsed statement rows
		ingest := v1.Group("/ingest")
		ingest.Use(middleware.JWTAuth(), middleware.RequirePermission(auth.PermissionIngest))
		{
			ingest.POST("/lots", ledgerHandlers.IngestLotsHandler())
			ingest.POST("/disposals", ledgerHandlers.IngestDisposalsHandler())
			ingest.POST("/prices", ledgerHandlers.IngestPricesHandler())
			ingest.POST("/golden", reconciliationHandlers.IngestGoldenHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.POST("/gains/run", gainsHandlers.RunGainsHandler())
			internal.POST("/reconciliation/run", reconciliationHandlers.ReconcileHandler())
		}

		// Report routes
		reports := v1.Group("/reports")
		reports.Use(middleware.JWTAuth(), middleware.RequirePermission(auth.PermissionReports))
		{
			reports.GET("/gains", gainsHandlers.GetGainsHandler())
			reports.GET("/gains/runs/:run_id", gainsHandlers.GetRunHandler())
			reports.GET("/reconciliation", reconciliationHandlers.SummaryHandler())
		}

		// Truth source priority routes
		truthGroup := v1.Group("/truth")
		truthGroup.Use(middleware.JWTAuth(), middleware.RequirePermission(auth.PermissionReports))
		{
			truthGroup.GET("/resolve", truthHandlers.ResolveHandler())
			truthGroup.PUT("/override", truthHandlers.SetOverrideHandler())
		}

		// Suspense workflow routes
		suspenseGroup := v1.Group("/suspense")
		suspenseGroup.Use(middleware.JWTAuth(), middleware.RequirePermission(auth.PermissionReports))
		{
			suspenseGroup.GET("/open", suspenseHandlers.ListOpenHandler())
			suspenseGroup.POST("/:item_id/resolve", suspenseHandlers.ResolveHandler())
			suspenseGroup.POST("/:item_id/write-off", suspenseHandlers.WriteOffHandler())
		}
	}
}

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

	"github.com/papertrade/papertrade-api/internal/auth"
	"github.com/papertrade/papertrade-api/internal/database"
	"github.com/papertrade/papertrade-api/internal/ledger"
	"github.com/papertrade/papertrade-api/internal/market"
	"github.com/papertrade/papertrade-api/internal/pricing"
	"github.com/papertrade/papertrade-api/internal/push"
	"github.com/papertrade/papertrade-api/internal/valuation"
	"github.com/papertrade/papertrade-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
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

// main initializes and runs the trading API server with graceful shutdown
// support. It wires the pricing gateway, ledger engine, push hub, and
// background order monitor.
func main() {
	// Initialize database
	db, err := database.NewDatabase(os.Getenv("DATABASE_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "papertrade-secret-key"
	}

	// Initialize router
	router := gin.Default()

	// Initialize collaborators
	markets := market.NewStore(db)
	provider := pricing.NewStaticProvider(pricing.DefaultDemoPrices())

	hub := push.NewHub()

	// The ledger emits events into the hub; the hub pulls snapshots back
	// out of the ledger, so wire the notifier after the service.
	ledgerService := ledger.NewService(db, markets, provider, nil)
	ledgerService.SetEvents(push.NewLedgerNotifier(hub, ledgerService))

	trendStore := valuation.NewSnapshotStore(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService, trendStore)

	authService := auth.NewService(jwtSecret, ledgerService.DB())
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	// Create and start the pending-order monitor
	monitor := ledger.NewMonitor(ledgerService, 5*time.Second)
	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()

	go monitor.Start(monitorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, jwtSecret, authHandlers, ledgerHandlers)
	router.GET("/ws", hub.ServeWS(authService, ledgerService))

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
// Auth routes are public; order and portfolio routes require a JWT.
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(jwtSecret))
		{
			orders.POST("", ledgerHandlers.PlaceOrderHandler())
			orders.GET("/:order_id", ledgerHandlers.GetOrderHandler())
			orders.DELETE("/:order_id", ledgerHandlers.CancelOrderHandler())
		}

		// Portfolio routes
		portfolio := v1.Group("/portfolio")
		portfolio.Use(middleware.JWTAuth(jwtSecret))
		{
			portfolio.GET("/snapshot", ledgerHandlers.SnapshotHandler())
			portfolio.GET("/trades", ledgerHandlers.TradesHandler())
			portfolio.GET("/trend", ledgerHandlers.TrendHandler())
		}
	}
}

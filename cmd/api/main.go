package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/GTDGit/gtd_backoffice/internal/cache"
	"github.com/GTDGit/gtd_backoffice/internal/config"
	"github.com/GTDGit/gtd_backoffice/internal/database"
	"github.com/GTDGit/gtd_backoffice/internal/handler"
	"github.com/GTDGit/gtd_backoffice/internal/middleware"
	"github.com/GTDGit/gtd_backoffice/internal/repository"
	"github.com/GTDGit/gtd_backoffice/internal/secret"
	"github.com/GTDGit/gtd_backoffice/internal/service"
	"github.com/GTDGit/gtd_backoffice/internal/worker"
)

// main is the application entrypoint for the GTD reseller back office.
func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Setup logger
	setupLogger(cfg.Env)
	log.Info().Str("env", cfg.Env).Msg("starting gtd backoffice")

	// 3. Connect database
	db, err := database.Connect(&cfg.DB)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "database connection failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// 3a. Run migrations
	if err := runMigrations(db.DB); err != nil {
		log.Error().Err(err).Msg("migration failed")
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	log.Info().Msg("migrations completed successfully")

	// 3b. Connect to Redis
	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Error().Err(err).Msg("redis connection failed")
		fmt.Fprintf(os.Stderr, "redis connection failed: %v\n", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected successfully")

	// 3c. Initialize claim idempotency cache
	claimCache := cache.NewClaimCache(redisClient, cfg.Stock.ClaimCacheTTL)

	// 4. Initialize the secret codec. A bad key is fatal: the back office
	// never stores plaintext credentials.
	codec, err := secret.NewCodec(cfg.Stock.EncryptionKey, cfg.Stock.FingerprintKey)
	if err != nil {
		log.Error().Err(err).Msg("secret codec initialization failed")
		fmt.Fprintf(os.Stderr, "secret codec initialization failed: %v\n", err)
		os.Exit(1)
	}

	// 5. Initialize repositories
	repository.SetTxRetryLimit(cfg.Stock.ClaimMaxRetry)
	clientRepo := repository.NewClientRepository(db)
	poolRepo := repository.NewPoolRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	adminRepo := repository.NewAdminUserRepository(db)

	// 6. Initialize services
	authSvc := service.NewAuthService(clientRepo)
	adminAuthSvc := service.NewAdminAuthService(adminRepo)
	clientSvc := service.NewClientService(clientRepo)
	stockSvc := service.NewStockService(poolRepo, codec, claimCache)
	ledgerSvc := service.NewLedgerService(ledgerRepo)

	// 7. Initialize handlers
	handlers := &Handlers{
		Health: handler.NewHealthHandler(db, redisClient),
		Stock:  handler.NewStockHandler(stockSvc),
		Ledger: handler.NewLedgerHandler(ledgerSvc),
		Client: handler.NewClientHandler(clientSvc),
		Auth:   handler.NewAuthHandler(adminAuthSvc),
	}

	// 8. Initialize middleware
	authMw := middleware.NewAuthMiddleware(authSvc)
	jwtMw := middleware.NewJWTMiddleware()

	// 9. Setup router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.LoggingMiddleware())
	setupRoutes(router, handlers, authMw, jwtMw)

	// 10. Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 11. Start workers
	go worker.NewExpiryWorker(stockSvc, poolRepo, cfg.Worker.ExpiryInterval).Start(ctx)
	go worker.NewReconcileWorker(stockSvc, poolRepo, cfg.Worker.ReconcileInterval).Start(ctx)
	go worker.NewPaymentDueWorker(ledgerSvc, cfg.Worker.PaymentDueInterval).Start(ctx)

	// 12. Start HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// 13. Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// 14. Cancel context to stop workers
	cancel()

	// 15. Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

// Handlers groups all HTTP handlers used by the server.
type Handlers struct {
	Health *handler.HealthHandler
	Stock  *handler.StockHandler
	Ledger *handler.LedgerHandler
	Client *handler.ClientHandler
	Auth   *handler.AuthHandler
}

// setupRoutes registers all routes.
func setupRoutes(router *gin.Engine, handlers *Handlers, authMiddleware *middleware.AuthMiddleware, jwtMiddleware *middleware.JWTMiddleware) {
	router.GET("/v1/health", handlers.Health.GetHealth)

	// Fulfillment routes (protected with client API key)
	v1 := router.Group("/v1")
	v1.Use(authMiddleware.Handle())
	{
		v1.POST("/stock/claim", handlers.Stock.Claim)

		v1.GET("/ledger/:kind/:retailerId", handlers.Ledger.Snapshot)
		v1.GET("/ledger/:kind/:retailerId/history", handlers.Ledger.History)
		v1.GET("/ledger/:kind/:retailerId/check", handlers.Ledger.CheckBalance)
		v1.POST("/ledger/:kind/:retailerId/debit", handlers.Ledger.Debit)
		v1.POST("/ledger/:kind/:retailerId/refund", handlers.Ledger.Refund)
	}

	// Admin routes
	admin := router.Group("/v1/admin")
	admin.POST("/auth/login", handlers.Auth.Login)
	admin.Use(jwtMiddleware.Handle())
	{
		// Client Management
		admin.POST("/clients", handlers.Client.Create)
		admin.GET("/clients", handlers.Client.List)
		admin.PUT("/clients/:id", handlers.Client.Update)
		admin.POST("/clients/:id/rotate", handlers.Client.RotateKeys)

		// Stock Management
		admin.POST("/stock/pools", handlers.Stock.ImportBatch)
		admin.GET("/stock/pools", handlers.Stock.ListPools)
		admin.DELETE("/stock/pools", handlers.Stock.DeleteAllPools)
		admin.GET("/stock/pools/:poolId", handlers.Stock.GetPool)
		admin.DELETE("/stock/pools/:poolId", handlers.Stock.DeletePool)
		admin.PATCH("/stock/pools/:poolId/status", handlers.Stock.SetPoolStatus)
		admin.POST("/stock/pools/:poolId/recount", handlers.Stock.Recount)
		admin.GET("/stock/pools/:poolId/items", handlers.Stock.ListItems)
		admin.PATCH("/stock/pools/:poolId/items/:itemId", handlers.Stock.UpdateItem)
		admin.DELETE("/stock/pools/:poolId/items/:itemId", handlers.Stock.DeleteItem)
		admin.POST("/stock/pools/:poolId/items/:itemId/:action", handlers.Stock.TransitionItem)

		// Ledger Management
		admin.POST("/ledger/:kind/accounts", handlers.Ledger.Open)
		admin.GET("/ledger/:kind/accounts", handlers.Ledger.ListAccounts)
		admin.POST("/ledger/:kind/accounts/:retailerId/adjust", handlers.Ledger.AdjustLimit)
		admin.PATCH("/ledger/:kind/accounts/:retailerId/status", handlers.Ledger.SetStatus)
		admin.POST("/ledger/:kind/accounts/:retailerId/payment", handlers.Ledger.ReceivePayment)
	}
}

// runMigrations runs database migrations using golang-migrate.
func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func setupLogger(env string) {
	if env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

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

	"github.com/ksred/brokerage-api/internal/auth"
	"github.com/ksred/brokerage-api/internal/balance"
	"github.com/ksred/brokerage-api/internal/commission"
	"github.com/ksred/brokerage-api/internal/config"
	"github.com/ksred/brokerage-api/internal/database"
	"github.com/ksred/brokerage-api/internal/gateway"
	"github.com/ksred/brokerage-api/internal/ib"
	"github.com/ksred/brokerage-api/internal/identity"
	"github.com/ksred/brokerage-api/internal/notify"
	"github.com/ksred/brokerage-api/internal/orders"
	"github.com/ksred/brokerage-api/internal/payments"
	"github.com/ksred/brokerage-api/internal/rates"
	"github.com/ksred/brokerage-api/internal/withdrawals"
	"github.com/ksred/brokerage-api/pkg/middleware"

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

// main initializes and runs the brokerage API server with graceful shutdown
// support. It sets up configuration, database, gateway clients, all domain
// services and API routes.
func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Vendor wire codecs
	legacyCodec, err := gateway.NewCBCCodec(cfg.LegacySecretKey, cfg.LegacySecretIV)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize legacy gateway codec")
	}
	cryptoCodec, err := gateway.NewGCMCodec(cfg.CryptoSecretKey)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize crypto gateway codec")
	}

	// External service clients
	legacyGateway := gateway.NewLegacyClient(gateway.LegacyConfig{
		BaseURL:   cfg.LegacyGatewayURL,
		Username:  cfg.LegacyGatewayUsername,
		Password:  cfg.LegacyGatewayPassword,
		AgentCode: cfg.LegacyAgentCode,
		GatewayID: cfg.LegacyGatewayID,
		Timeout:   cfg.GatewayTimeout,
	}, legacyCodec)
	cryptoGateway := gateway.NewCryptoClient(gateway.CryptoConfig{
		BaseURL:   cfg.CryptoGatewayURL,
		AgentCode: cfg.CryptoAgentCode,
		Timeout:   cfg.GatewayTimeout,
	}, cryptoCodec)
	ledger := balance.NewClient(cfg.BalanceProviderURL, cfg.BalanceProviderTimeout)
	fx := rates.NewConverter(cfg.RateAPIURL, cfg.RateCacheTTL)
	notifier := notify.NewLogSender()

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	middleware.SetJWTSecret(cfg.JWTSecret)
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	authService.RegisterAPICredentials(auth.TestAdminKey, auth.TestAdminSecret, "trade", "admin")

	identityService := identity.NewService(db, ledger, notifier)
	identityHandlers := identity.NewGinHandlers(identityService)

	orderService := orders.NewService(db, identityService.DB(), legacyGateway, cryptoGateway)
	orderHandlers := orders.NewGinHandlers(orderService)

	ibService := ib.NewService(db, identityService.DB(), notifier, cfg.AdminEmail)
	commissionService := commission.NewService(identityService.DB(), ibService, ledger, ledger)
	ibHandlers := ib.NewGinHandlers(ibService, commissionService)

	withdrawalService := withdrawals.NewService(db, identityService.DB(), ledger, legacyGateway, fx, notifier, cfg.AdminEmail)
	withdrawalHandlers := withdrawals.NewGinHandlers(withdrawalService)

	paymentService := payments.NewService(db, orderService, identityService.DB(), ledger, fx, legacyCodec, cryptoCodec, notifier, cfg.AdminEmail)
	paymentHandlers := payments.NewGinHandlers(paymentService)

	// Create and start the failed-credit reconciliation processor
	creditProcessor := payments.NewProcessor(paymentService)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go creditProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, identityHandlers, orderHandlers, paymentHandlers, withdrawalHandlers, ibHandlers)

	port := cfg.Port
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
// - Callback routes: Public endpoints the payment gateways call back into
// - Client routes: Protected by JWT authentication
// - Admin routes: Protected by JWT authentication with the admin permission
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	identityHandlers *identity.GinHandlers,
	orderHandlers *orders.GinHandlers,
	paymentHandlers *payments.GinHandlers,
	withdrawalHandlers *withdrawals.GinHandlers,
	ibHandlers *ib.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Callback routes (authenticated by the encrypted payloads themselves)
		callbacks := v1.Group("/payments/callbacks")
		{
			callbacks.POST("/transaction", paymentHandlers.HostedCallbackHandler())
			callbacks.POST("/order", paymentHandlers.LegacyCallbackHandler())
			callbacks.POST("/crypto", paymentHandlers.CryptoCallbackHandler())
		}

		// Client routes
		client := v1.Group("")
		client.Use(middleware.JWTAuth())
		{
			client.POST("/users", identityHandlers.CreateUserHandler())
			client.POST("/accounts", identityHandlers.ProvisionAccountHandler())
			client.POST("/accounts/password", identityHandlers.ChangePasswordHandler())
			client.POST("/users/bank-details", identityHandlers.SubmitBankDetailsHandler())

			client.POST("/payments/deposit", orderHandlers.HostedDepositHandler())
			client.POST("/payments/deposit/order", orderHandlers.LegacyDepositHandler())
			client.POST("/payments/deposit/crypto", orderHandlers.CryptoDepositHandler())
			client.GET("/payments/deposits/:account_no", orderHandlers.ListByAccountHandler())

			client.POST("/withdrawals", withdrawalHandlers.SubmitHandler())
			client.GET("/withdrawals/:account_no", withdrawalHandlers.ListByAccountHandler())

			client.POST("/ib/register", ibHandlers.RegisterHandler())
			client.GET("/ib/referral-code/:email", ibHandlers.ReferralCodeHandler())
			client.POST("/ib/commission/withdraw", ibHandlers.WithdrawCommissionHandler())
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth())
		{
			admin.GET("/deposits", orderHandlers.ListAllHandler())
			admin.GET("/transactions", paymentHandlers.ListTransactionsHandler())
			admin.GET("/transactions/failed", paymentHandlers.ListFailedCreditsHandler())

			admin.GET("/withdrawals", withdrawalHandlers.ListAllHandler())
			admin.GET("/withdrawals/pending", withdrawalHandlers.ListPendingHandler())
			admin.POST("/withdrawals/:withdrawal_id/approve", withdrawalHandlers.ApproveHandler())
			admin.POST("/withdrawals/:withdrawal_id/reject", withdrawalHandlers.RejectHandler())

			admin.POST("/users/bank-details/:email/approve", identityHandlers.ApproveBankDetailsHandler())
			admin.POST("/users/bank-details/:email/reject", identityHandlers.RejectBankDetailsHandler())
			admin.POST("/users/kyc/:email/approve", identityHandlers.ApproveKYCHandler())

			admin.GET("/ib", ibHandlers.ListHandler())
			admin.POST("/ib/:email/approve", ibHandlers.ApproveHandler())
			admin.POST("/ib/:email/reject", ibHandlers.RejectHandler())
			admin.POST("/ib/commission/update", ibHandlers.UpdateCommissionHandler())
		}
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hotelease/checkout-backend/internal/config"
	"github.com/hotelease/checkout-backend/internal/database"
	"github.com/hotelease/checkout-backend/internal/handlers"
	"github.com/hotelease/checkout-backend/internal/middleware"
	"github.com/hotelease/checkout-backend/internal/services"
	"github.com/hotelease/checkout-backend/pkg/jwt"
	"github.com/hotelease/checkout-backend/pkg/validator"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting HotelEase checkout backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Audit trail database
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	auditRepository := database.NewCheckoutAuditRepository(db, logger)

	// Session store: Redis when configured so every instance sees the same sessions
	healthChecks := map[string]handlers.Pinger{"database": db}
	var store database.SessionStore
	if cfg.Redis.Addr != "" {
		redisClient, err := database.NewRedisClient(context.Background(), cfg.Redis)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		store = database.NewRedisSessionStore(redisClient, cfg.Redis.KeyPrefix)
		healthChecks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
		logger.WithField("addr", cfg.Redis.Addr).Info("Checkout sessions stored in Redis")
	} else {
		store = database.NewMemorySessionStore()
		logger.Warn("REDIS_ADDR not set, checkout sessions are kept in memory (single instance only)")
	}

	// Backend and processor clients
	logger.Info("Initializing services...")
	api := services.NewBackendAPI(cfg.Backend, logger)
	bookingClient := services.NewBookingServiceClient(api, cfg.Payment.DefaultCurrency, logger)

	var processor services.CardProcessor
	if cfg.Payment.StripeSecretKey != "" {
		processor = services.NewStripeProcessor(cfg.Payment, logger)
		logger.Info("Stripe card processing enabled")
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, card payments will fail with a configuration error")
	}
	paymentClient := services.NewPaymentServiceClient(api, processor, bookingClient, cfg.Payment.DefaultCurrency, logger)

	structValidator := validator.NewStructValidator()
	pricingService := services.NewPricingService(cfg.Payment.TaxRatePercent, cfg.Payment.DefaultCurrency)

	orchestrator := services.NewCheckoutOrchestratorService(
		pricingService,
		bookingClient,
		paymentClient,
		store,
		auditRepository,
		structValidator,
		services.CheckoutOrchestratorConfig{
			SessionTTL:      cfg.Checkout.SessionTTL,
			HandoffTTL:      cfg.Payment.HandoffRetention,
			ConfirmAttempts: cfg.Checkout.ConfirmAttempts,
			ConfirmBackoff:  cfg.Checkout.ConfirmBackoff,
			DefaultCurrency: cfg.Payment.DefaultCurrency,
		},
		logger,
	)
	confirmationService := services.NewConfirmationService(bookingClient, store, logger)
	reconciliationService := services.NewReconciliationService(
		paymentClient,
		auditRepository,
		cfg.Payment.WebhookSecret,
		cfg.Backend.ServiceToken,
		logger,
	)

	declineLimiter := services.NewDeclineLimiter(auditRepository, services.DeclineLimitConfig{
		MaxDeclines: cfg.Checkout.MaxCardDeclines,
		Window:      cfg.Checkout.DeclineWindow,
	}, logger)

	cronService := services.NewCronService(store, reconciliationService, cfg.Checkout.SweepInterval, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	logger.Info("Cron service started")

	jwtService := jwt.NewService(cfg.JWT.Secret, 0)

	// Router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handlers.Routes{
		Checkout:     handlers.NewCheckoutHandler(orchestrator, pricingService, structValidator.Phones(), logger).WithDeclineLimiter(declineLimiter),
		Confirmation: handlers.NewConfirmationHandler(confirmationService, logger),
		Webhook:      handlers.NewWebhookHandler(reconciliationService, logger),
		Health:       handlers.NewHealthHandler(version, healthChecks),
	}.Register(router, middleware.AuthMiddleware(jwtService, logger))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.PaymentRequestBudget(),
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	logger.Info("Stopping cron service...")
	cronService.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

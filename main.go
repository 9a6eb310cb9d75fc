package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"payment-svc/cache"
	"payment-svc/circuitbreaker"
	"payment-svc/config"
	"payment-svc/database"
	"payment-svc/gateway"
	"payment-svc/handlers"
	"payment-svc/kafka"
	"payment-svc/ledger"
	"payment-svc/middleware"
	"payment-svc/reconcile"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize database
	db, err := database.InitDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis; the order cache is an optimization, not a dependency
	rdb, err := cache.InitRedis(cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis unavailable, running without order cache", zap.Error(err))
		rdb = nil
	}

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(cfg.Kafka, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize Kafka consumer
	consumer, err := kafka.InitConsumer(cfg.Kafka, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing("payment-service", cfg.App.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	led := ledger.New(db, logger)
	gw := gateway.New(cfg.PayHere)
	breaker := circuitbreaker.New(5, 30*time.Second)
	coordinator := reconcile.New(led, gw, producer, cfg.Kafka.ProducerTopic, breaker, rdb, logger)

	// Start session-events consumer in background
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	go func() {
		if err := kafka.StartConsumer(consumerCtx, consumer, cfg.Kafka.ConsumerTopic, led, logger); err != nil {
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	donationHandler := handlers.NewDonationHandler(led, gw, cfg.PayHere.Currency, rdb, logger)
	webhookHandler := handlers.NewWebhookHandler(coordinator, logger)
	adminHandler := handlers.NewAdminHandler(led, logger)
	refundHandler := handlers.NewRefundHandler(db, cfg.Refund, logger)

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("payment-service"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	api := router.Group("/api")
	{
		api.POST("/donations", donationHandler.CreateDonation)
		api.GET("/donations/:orderId", donationHandler.GetDonation)
		api.POST("/payments/notify", webhookHandler.HandleNotify)
		api.POST("/sessions/refund-quote", refundHandler.QuoteRefund)

		admin := api.Group("/admin", middleware.RequireAdmin([]byte(cfg.App.JWTSecret), logger))
		admin.POST("/orders/:id/complete", adminHandler.CompleteOrder)
		admin.POST("/orders/:id/void", adminHandler.VoidOrder)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Payment Service started", zap.Int("port", cfg.App.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopConsumer()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	logger.Info("Server exited")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"minishop/payment-service/config"
	"minishop/payment-service/database"
	"minishop/payment-service/gateway"
	"minishop/payment-service/handlers"
	"minishop/payment-service/kafka"
	"minishop/payment-service/middleware"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()

	// Initialize database
	db, err := database.InitDB(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(cfg.KafkaBroker, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing("payment-service", cfg.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("payment-service"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	paymentHandler := handlers.NewPaymentHandler(db, gateway.Random(cfg.GatewaySuccessRate), producer, cfg.KafkaTopic, logger)

	secret := []byte(cfg.JWTSecret)
	// Charging is server-to-server and carries no token; reads are
	// caller-scoped, refunds require a caller.
	router.POST("/payments", paymentHandler.ProcessPayment)
	router.GET("/payments/:id", middleware.OptionalAuth(secret), paymentHandler.GetPayment)
	router.GET("/payments", middleware.OptionalAuth(secret), paymentHandler.ListPayments)
	router.POST("/payments/:id/refund", middleware.OptionalAuth(secret), paymentHandler.RefundPayment)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Payment Service started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"minishop/order-service/cache"
	"minishop/order-service/clients"
	"minishop/order-service/config"
	"minishop/order-service/database"
	"minishop/order-service/handlers"
	"minishop/order-service/kafka"
	"minishop/order-service/middleware"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
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

	// Redis is an optional read-through cache for user verification
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.InitRedis(cfg, logger)
		if err != nil {
			logger.Warn("Redis unavailable, user verification cache disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(cfg.KafkaBroker, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing("order-service", cfg.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	userClient := clients.NewUserClient(cfg.UserServiceURL, redisClient, logger)
	paymentClient := clients.NewPaymentClient(cfg.PaymentServiceURL, logger)

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("order-service"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	orderHandler := handlers.NewOrderHandler(db, userClient, paymentClient, producer, cfg.KafkaTopic, logger)

	authorized := router.Group("/", middleware.RequireAuth([]byte(cfg.JWTSecret)))
	authorized.POST("/orders", orderHandler.CreateOrder)
	authorized.GET("/orders", orderHandler.ListOrders)
	authorized.GET("/orders/:id", orderHandler.GetOrder)
	authorized.PATCH("/orders/:id/status", orderHandler.UpdateOrderStatus)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Order Service started", zap.String("port", cfg.Port))

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

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

	"delivery-platform/config"
	"delivery-platform/internal/api"
	"delivery-platform/internal/broker"
	"delivery-platform/internal/clients"
	"delivery-platform/internal/redisclient"
	"delivery-platform/internal/service"
	"delivery-platform/internal/store"
	"delivery-platform/internal/util"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger("order-service", cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting order service")

	tp, err := util.InitTracer("order-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	collab := cfg.Collaborators
	collabTimeout := time.Duration(collab.TimeoutSeconds) * time.Second
	catalogClient := clients.NewCatalogClient(collab.CatalogBaseURL, collabTimeout, collab.RetryAttempts)
	restaurantClient := clients.NewRestaurantClient(collab.RestaurantBaseURL, collabTimeout, collab.RetryAttempts)
	userClient := clients.NewUserClient(collab.UserBaseURL, collabTimeout, collab.RetryAttempts)
	notifyClient := clients.NewNotificationClient(collab.NotificationBaseURL, collabTimeout, collab.RetryAttempts)
	paymentClient := clients.NewPaymentClient(collab.PaymentBaseURL, collabTimeout, collab.RetryAttempts)

	orderService := service.NewOrderService(
		db,
		redisClient,
		eventPublisher,
		catalogClient,
		restaurantClient,
		userClient,
		notifyClient,
		paymentClient,
	)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewOrderHandler(orderService, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

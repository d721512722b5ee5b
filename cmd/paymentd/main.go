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
	"delivery-platform/internal/provider"
	"delivery-platform/internal/redisclient"
	"delivery-platform/internal/service"
	"delivery-platform/internal/store"
	"delivery-platform/internal/util"
	"delivery-platform/internal/webhook"
	"delivery-platform/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger("payment-service", cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting payment service")

	tp, err := util.InitTracer("payment-service", cfg.Observ.JaegerEndpoint)
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

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayment)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	collab := cfg.Collaborators
	collabTimeout := time.Duration(collab.TimeoutSeconds) * time.Second
	orderClient := clients.NewOrderClient(collab.OrderBaseURL, collabTimeout, collab.RetryAttempts)
	notifyClient := clients.NewNotificationClient(collab.NotificationBaseURL, collabTimeout, collab.RetryAttempts)

	providerClient := provider.NewClient(
		cfg.Provider.BaseURL,
		cfg.Provider.APIKey,
		time.Duration(cfg.Provider.TimeoutSeconds)*time.Second,
	)

	refundService := service.NewRefundService(
		db,
		db,
		orderClient,
		providerClient,
		redisClient,
		eventPublisher,
		notifyClient,
	)
	paymentService := service.NewPaymentService(
		db,
		orderClient,
		providerClient,
		eventPublisher,
		notifyClient,
		refundService,
		cfg.Payments.DefaultCurrency,
	)
	settlementService := service.NewSettlementService(
		db,
		providerClient,
		notifyClient,
		cfg.Payments.DefaultCurrency,
		cfg.Payments.DriverFeePercent,
		cfg.Payments.RestaurantFeePercent,
	)

	reconciler := webhook.NewReconciler(
		db,
		db,
		db,
		db,
		paymentService,
		refundService,
		cfg.Provider.WebhookSecret,
		time.Duration(cfg.Provider.WebhookToleranceSeconds)*time.Second,
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	orderConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	settlementWorker := worker.NewSettlementWorker(orderConsumer, db, settlementService, refundService, paymentService)
	go func() {
		if err := settlementWorker.Start(workerCtx); err != nil {
			log.Printf("Settlement worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewPaymentHandler(paymentService, refundService, settlementService, reconciler, map[string]api.Pinger{
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

	workerCancel()
	if err := settlementWorker.Stop(); err != nil {
		log.Printf("Error stopping settlement worker: %v", err)
	}

	log.Println("Server exited")
}

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

	"payment-gateway/config"
	"payment-gateway/internal/api"
	"payment-gateway/internal/broker"
	"payment-gateway/internal/gateway"
	"payment-gateway/internal/redisclient"
	"payment-gateway/internal/service"
	"payment-gateway/internal/tokencache"
	"payment-gateway/internal/tracker"
	"payment-gateway/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting payment gateway")

	if cfg.Stripe.Key == "" {
		logger.Fatal("STRIPE_KEY is missing in environment variables")
	}

	tp, err := util.InitTracer("payment-gateway", cfg.Observ.JaegerEndpoint)
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

	cartTracker := tracker.New(cfg.Tracker.Capacity)
	tokens := tokencache.New(time.Duration(cfg.Token.MarginSeconds) * time.Second)

	stripeClient := gateway.NewStripeClient(cfg.Stripe.Key, cfg.Stripe.WebhookSecret, cfg.Store.Domain)
	paypalClient := gateway.NewPayPalClient(
		cfg.PayPal.Env,
		cfg.PayPal.ClientID,
		cfg.PayPal.ClientSecret,
		cfg.Store.Domain,
		cfg.Store.StoreName,
		time.Duration(cfg.Token.FetchTimeoutSeconds)*time.Second,
		tokens,
	)
	geo := gateway.NewGeoLocator()

	var dedup *redisclient.Client
	if cfg.Redis.Addr != "" {
		dedup, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, webhook dedup disabled", zap.Error(err))
			dedup = nil
		} else {
			defer dedup.Close()
			logger.Info("Redis connected, webhook dedup enabled")
		}
	}

	var events *broker.CartEventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		events = broker.NewCartEventPublisher(producer)
		logger.Info("Kafka producer initialized",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	checkout := service.NewCheckoutService(
		cartTracker,
		stripeClient,
		paypalClient,
		geo,
		events,
		dedup,
		cfg.Shipping.Rates,
	)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(checkout, cartTracker, stripeClient, cfg.PayPal.Env)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server listening",
			zap.String("port", cfg.Server.Port),
			zap.String("domain", cfg.Store.Domain),
			zap.String("store", cfg.Store.StoreName))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

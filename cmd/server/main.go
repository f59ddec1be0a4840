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

	"ridepool/internal/config"
	"ridepool/internal/handlers"
	"ridepool/internal/middleware"
	"ridepool/internal/repositories/mongodb"
	"ridepool/internal/services"
	"ridepool/internal/utils"
	"ridepool/pkg/cache"
	"ridepool/pkg/database"
	"ridepool/pkg/logger"
	"ridepool/pkg/maps"
	"ridepool/pkg/payment"
	"ridepool/pkg/push"
	"ridepool/routes"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.NewLogger(&logger.Config{
		Level:  logger.LogLevel(cfg.App.LogLevel),
		Format: "json",
		Output: "stdout",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	db, err := database.NewMongoDB(&database.DatabaseConfig{
		URI:            cfg.Database.URI,
		Database:       cfg.Database.Database,
		MaxPoolSize:    cfg.Database.MaxPoolSize,
		MinPoolSize:    cfg.Database.MinPoolSize,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		SocketTimeout:  cfg.Database.SocketTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}

	redisCache, err := cache.NewRedisCache(&cache.RedisConfig{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		KeyPrefix:    cfg.Redis.KeyPrefix,
	})
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	pushProvider, err := push.NewFCMProvider(cfg.Push.FCM.Credentials)
	if err != nil {
		log.Fatalf("Failed to initialize push provider: %v", err)
	}
	mapsProvider, err := maps.NewGoogleMapsProvider(cfg.Maps.GoogleMaps.APIKey)
	if err != nil {
		log.Fatalf("Failed to initialize maps provider: %v", err)
	}
	paymentProvider := payment.NewStripeProvider(cfg.Payment.Stripe.SecretKey, cfg.Payment.Stripe.WebhookSecret)

	// Repositories
	tripRepo := mongodb.NewTripRepository(db.Database, redisCache)
	groupRepo := mongodb.NewTripGroupRepository(db.Database)
	userRepo := mongodb.NewUserRepository(db.Database)
	messageRepo := mongodb.NewMessageRepository(db.Database)
	txnManager := mongodb.NewTransactionManager(db)

	// Services
	matchingService, _, groupService := services.NewTripEngine(
		tripRepo, groupRepo, userRepo, messageRepo, cfg.Matching, appLogger,
	)
	notificationService := services.NewNotificationService(userRepo, pushProvider, redisCache, appLogger, cfg.App.Timezone)
	suggestionService := services.NewSuggestionService(groupRepo, tripRepo, mapsProvider, appLogger, cfg.Matching.SuggestionLimit)
	ticketService := services.NewTicketService(userRepo, paymentProvider, cfg.Payment, appLogger)

	// Handlers
	triggerHandler := handlers.NewTriggerHandler(
		txnManager, tripRepo, matchingService, groupService,
		notificationService, suggestionService, redisCache, appLogger,
	)
	tripHandler := handlers.NewTripHandler(tripRepo, groupRepo)
	ticketHandler := handlers.NewTicketHandler(ticketService, userRepo)

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(appLogger))

	v1 := router.Group("/api/v1")
	{
		routes.SetupTriggerRoutes(v1, triggerHandler)
		routes.SetupTripRoutes(v1, tripHandler)
		routes.SetupTicketRoutes(v1, ticketHandler)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		status := utils.StatusSuccess
		code := http.StatusOK
		if err := redisCache.Ping(c.Request.Context()); err != nil {
			status = utils.StatusError
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"version": cfg.App.Version,
		})
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: router,
	}

	go func() {
		appLogger.Infof("Server starting on port %d", cfg.App.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLogger.WithError(err).Error("Forced server shutdown")
	}
	if err := db.Close(); err != nil {
		appLogger.WithError(err).Error("Failed to close MongoDB connection")
	}
	if err := redisCache.Close(); err != nil {
		appLogger.WithError(err).Error("Failed to close Redis connection")
	}
	appLogger.Info("Server stopped")
}

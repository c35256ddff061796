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

	intDatabase "voicelink-backend/internal/database"
	callHandler "voicelink-backend/internal/handler/http/call"
	roomHandler "voicelink-backend/internal/handler/http/room"
	wsHandler "voicelink-backend/internal/handler/ws"
	"voicelink-backend/internal/middleware"
	"voicelink-backend/internal/repository/cockroach"
	"voicelink-backend/internal/repository/redis"
	"voicelink-backend/pkg/config"
	pkgDatabase "voicelink-backend/pkg/database"
	"voicelink-backend/pkg/env"
	"voicelink-backend/pkg/jwt"
	"voicelink-backend/pkg/logger"
	"voicelink-backend/pkg/metrics"
)

func main() {
	// 1. Load configuration and logging
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 2. Setup JWT Manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", cfg.JWT.Secret)
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("JWT_SECRET must be at least 32 characters")
	}

	jwtManager := jwt.NewJWTManager(jwtSecret, cfg.JWT.AccessTokenExpiry)

	// Initialize Redis metrics before connecting to Redis
	intDatabase.InitRedisMetrics()

	// 3. Connect to Redis with degraded mode support
	redisConfig := &intDatabase.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: env.GetStringFromFile("REDIS_PASSWORD", cfg.Redis.Password),
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	}

	redisDB, err := intDatabase.NewRedisDB(redisConfig)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisDB.Close()

	log.Println("✅ Connected to Redis")

	// Start background Redis health check
	go redisDB.StartHealthCheck(context.Background(), 10*time.Second)
	log.Println("✅ Redis health check started (10s interval)")

	// 4. Connect to CockroachDB
	cockroachConfig := &pkgDatabase.CockroachConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: env.GetStringFromFile("DB_PASSWORD", cfg.Database.Password),
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	}

	cockroachDB, err := pkgDatabase.NewCockroachDB(context.Background(), cockroachConfig)
	if err != nil {
		log.Fatalf("Failed to connect to CockroachDB: %v", err)
	}
	defer cockroachDB.Close()

	log.Println("✅ Connected to CockroachDB")

	// 5. Initialize Repositories
	callRepo := cockroach.NewCallRepository(cockroachDB.Pool)
	guardedCallRepo := cockroach.NewGuardedCallRepository(callRepo)
	presenceRepo := redis.NewPresenceRepository(redisDB)
	roomRepo := redis.NewCachedRoomRepository(redis.NewRoomRepository(redisDB), 5*time.Second)

	// 6. Initialize Metrics
	appMetrics := metrics.NewMetrics("relay-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 7. Initialize Handlers
	callHdlr := callHandler.NewHandler(callRepo)
	roomHdlr := roomHandler.NewHandler(roomRepo)

	// 8. Initialize WebSocket Relay Hub
	relayHub := wsHandler.NewRelayHub(redisDB.Client, guardedCallRepo, presenceRepo, roomRepo)

	// 9. Setup Gin Router
	router := gin.New() // Don't use Default() to have full control

	// Configure trusted proxies for production
	trustedProxies := []string{}
	if os.Getenv("ENV") == "production" {
		trustedProxies = []string{
			"https://api.voicelink.io",
			"https://*.voicelink.io",
		}
	} else {
		trustedProxies = []string{
			"http://localhost:3000",
			"http://localhost:8080",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:8080",
		}
	}
	router.SetTrustedProxies(trustedProxies)

	// Apply global middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "relay-service",
			"time":    time.Now().UTC(),
		})
	})

	// Metrics endpoint (for Prometheus scraping)
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	// Relay routes (all require authentication)
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		// Call history endpoints
		v1.GET("/calls/history", callHdlr.GetHistory)
		v1.GET("/calls/:id", callHdlr.GetCall)
		v1.GET("/rooms/:id/calls", callHdlr.GetRoomHistory)

		// Room roster endpoints
		v1.POST("/rooms/:id/members", roomHdlr.JoinRoom)
		v1.DELETE("/rooms/:id/members", roomHdlr.LeaveRoom)
		v1.GET("/rooms/:id/members", roomHdlr.GetMembers)

		// WebSocket endpoint (real-time signaling)
		v1.GET("/signals/ws", relayHub.ServeWS)
	}

	// 10. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("🚀 Relay Service starting on port %d\n", cfg.Server.Port)
		log.Println("📡 WebSocket endpoint: /v1/signals/ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 11. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

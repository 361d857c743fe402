package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lumeo/backend/internal/aiimage"
	"github.com/lumeo/backend/internal/auth"
	"github.com/lumeo/backend/internal/cache"
	"github.com/lumeo/backend/internal/database"
	"github.com/lumeo/backend/internal/handlers"
	"github.com/lumeo/backend/internal/logger"
	"github.com/lumeo/backend/internal/metrics"
	"github.com/lumeo/backend/internal/middleware"
	"github.com/lumeo/backend/internal/realtime"
	"github.com/lumeo/backend/internal/social"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	// Structured logging to console and rotating file
	if err := logger.Initialize(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FILE")); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	logger.Log.Info("=== Lumeo server starting ===")

	// Initialize database
	if err := database.Initialize(); err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		logger.Log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Redis is optional; notification count caching degrades to the DB
	redisClient, err := cache.NewRedisClient(
		os.Getenv("REDIS_HOST"),
		os.Getenv("REDIS_PORT"),
		os.Getenv("REDIS_PASSWORD"),
	)
	if err != nil {
		logger.Log.Warn("Redis unavailable, notification counts will hit the database", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	// Prometheus registry
	metrics.Initialize()

	jwtSecret := []byte(os.Getenv("JWT_SECRET"))
	if len(jwtSecret) == 0 {
		logger.Log.Fatal("JWT_SECRET environment variable is required")
	}

	authService := auth.NewService(jwtSecret)
	graph := social.NewService(database.DB)

	// Realtime dispatcher and socket handler
	dispatcher := realtime.NewDispatcher(database.DB, graph)
	rtHandler := realtime.NewHandler(dispatcher, jwtSecret)

	// Handlers
	h := handlers.NewHandlers(authService, graph, dispatcher)
	if redisClient != nil {
		h.SetRedisClient(redisClient)
	}
	imageClient := aiimage.NewClient(os.Getenv("OPENAI_API_KEY"))
	if imageClient.Enabled() {
		h.SetImageGenerator(imageClient)
	} else {
		logger.Log.Warn("OPENAI_API_KEY not set, AI image endpoints disabled")
	}

	// Gin router
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.GinLoggerMiddleware())
	r.Use(middleware.MetricsMiddleware())

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"} // Configure properly for production
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(corsConfig))

	// Health and metrics
	r.GET("/health", func(c *gin.Context) {
		status := "ok"
		if err := database.Health(); err != nil {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC(),
			"service":   "lumeo-backend",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	requireAuth := middleware.RequireAuth(authService)
	requireSetup := middleware.RequireProfileSetup()

	api := r.Group("/api/v1")
	{
		// Authentication routes (public)
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", h.Register)
			authGroup.POST("/login", h.Login)
		}

		// User routes
		users := api.Group("/users")
		{
			users.Use(requireAuth)
			users.GET("/me", h.GetMe)
			users.POST("/me/setup", h.SetupProfile)
			users.PUT("/me", h.UpdateProfile)
			users.GET("/search", h.SearchUsers)
			users.GET("/:id", h.GetUser)
		}

		// Post routes: all require a completed profile
		posts := api.Group("/posts")
		{
			posts.Use(requireAuth, requireSetup)
			posts.POST("", h.CreatePost)
			posts.GET("/feed", h.GetFeed)
			posts.GET("/saved", h.GetSavedPosts)
			posts.GET("/:id", h.GetPost)
			posts.POST("/:id/like", h.LikePost)
			posts.DELETE("/:id/like", h.UnlikePost)
			posts.POST("/:id/comments", h.CommentOnPost)
			posts.POST("/:id/save", h.SavePost)
			posts.DELETE("/:id/save", h.UnsavePost)
			posts.POST("/:id/share", h.SharePost)
		}

		// Connection graph routes
		connections := api.Group("/connections")
		{
			connections.Use(requireAuth, requireSetup)
			connections.GET("", h.GetConnections)
			connections.GET("/requests", h.GetConnectionRequests)
			connections.GET("/status/:userId", h.GetConnectionStatus)
			connections.POST("/request/:userId", h.RequestConnection)
			connections.DELETE("/request/:userId", h.CancelConnection)
			connections.POST("/accept/:userId", h.AcceptConnection)
			connections.POST("/reject/:userId", h.RejectConnection)
			connections.DELETE("/:userId", h.Disconnect)
		}

		// Chat routes
		chat := api.Group("/chat")
		{
			chat.Use(requireAuth, requireSetup)
			chat.GET("/connections", h.GetChatConnections)
			chat.GET("/unread", h.GetUnreadCount)
			chat.GET("/messages/:userId", h.GetChatMessages)
			chat.POST("/messages/:userId", h.SendChatMessage)
			chat.POST("/read/:userId", h.MarkChatRead)
		}

		// Notification routes
		notifications := api.Group("/notifications")
		{
			notifications.Use(requireAuth)
			notifications.GET("", h.GetNotifications)
			notifications.GET("/counts", h.GetNotificationCounts)
			notifications.POST("/read-all", h.MarkAllNotificationsRead)
			notifications.POST("/read/:id", h.MarkNotificationRead)
		}

		// AI image routes
		ai := api.Group("/ai")
		{
			ai.Use(requireAuth, requireSetup)
			ai.POST("/generate", h.GenerateImage)
			ai.POST("/edit", h.EditImage)
			ai.POST("/style", h.StyleImage)
			ai.GET("/history", h.GetImageHistory)
		}

		// Realtime socket routes
		ws := api.Group("/ws")
		{
			// Socket endpoint - auth via query param ?token=... or Authorization header
			ws.GET("", rtHandler.HandleUpgrade)
			ws.GET("/connect", rtHandler.HandleUpgrade)

			ws.GET("/metrics", requireAuth, rtHandler.HandleMetrics)
			ws.POST("/online", requireAuth, rtHandler.HandleOnlineStatus)
		}
	}

	// Server configuration
	port := os.Getenv("PORT")
	if port == "" {
		port = "8787"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		logger.Log.Info("📸 Lumeo backend listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close realtime sockets before the HTTP listener
	if err := dispatcher.Shutdown(ctx); err != nil {
		logger.Log.Warn("Realtime shutdown warning", zap.Error(err))
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Log.Info("Server exited")
}

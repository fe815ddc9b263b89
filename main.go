package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"support-chat/internal/auth"
	"support-chat/internal/chat"
	"support-chat/internal/config"
	"support-chat/internal/db"
	"support-chat/internal/handlers"
	"support-chat/internal/middleware"
	"support-chat/internal/observability"
	"support-chat/internal/rabbitmq"
	"support-chat/internal/realtime"
	"support-chat/internal/repositories"
	"support-chat/internal/telemetry"
	"support-chat/internal/uploads"
	"support-chat/internal/ws"
)

const serviceName = "support-chat"

func main() {
	cfg := config.Load()
	ctx := context.Background()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	var transport realtime.Transport
	if cfg.RedisAddr != "" {
		redisTransport, err := realtime.NewRedisTransport(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisTransport.Close()
		transport = redisTransport
		log.Printf("realtime transport: redis %s", cfg.RedisAddr)
	} else {
		transport = realtime.NewHub()
		log.Printf("realtime transport: in-process hub")
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Printf("event publisher mode: %s", rabbitmq.PublisherMode(publisher))

	emitter := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, serviceName, cfg.Environment)

	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	core := chat.NewCore(chatRepo, messageRepo, transport)

	verifier := auth.NewVerifier(cfg.JWTSecret)

	chatHandler := handlers.NewChatHandler(core, emitter)
	sessionHandler := ws.NewSessionHandler(core, transport, verifier)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)
	adminOnly := middleware.RequireAdmin()

	router.GET("/chat/active", authMiddleware, chatHandler.GetActiveChat)
	router.GET("/chat/unread-count", authMiddleware, chatHandler.UserUnreadCount)
	router.GET("/chats", authMiddleware, adminOnly, chatHandler.ListChats)
	router.GET("/chats/unread-counts", authMiddleware, adminOnly, chatHandler.AdminUnreadCounts)
	router.GET("/chats/:chat_id/messages", authMiddleware, chatHandler.GetMessages)
	router.POST("/chats/:chat_id/messages", authMiddleware, chatHandler.PostMessage)
	router.PATCH("/chats/:chat_id/messages/:message_id", authMiddleware, chatHandler.EditMessage)
	router.DELETE("/chats/:chat_id/messages/:message_id", authMiddleware, chatHandler.DeleteMessage)
	router.POST("/chats/:chat_id/read", authMiddleware, chatHandler.MarkRead)
	router.POST("/chats/:chat_id/typing", authMiddleware, chatHandler.Typing)
	router.DELETE("/chats/:chat_id", authMiddleware, adminOnly, chatHandler.DeleteChat)

	if cfg.MinioEndpoint != "" {
		uploader, err := uploads.NewMinioUploader(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey,
			cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioPublicURL, cfg.MinioSecure)
		if err != nil {
			log.Fatalf("failed to connect to minio: %v", err)
		}
		uploadHandler := handlers.NewUploadHandler(uploader)
		router.POST("/uploads", authMiddleware, uploadHandler.Upload)
	} else {
		log.Printf("minio not configured, uploads disabled")
	}

	router.GET("/ws/admin", sessionHandler.HandleAdmin)
	router.GET("/ws/widget", sessionHandler.HandleWidget)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	handlers.RegisterDebugRoutes(router, emitter, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/phyoewaiaung/devnexus-api/internal/config"
	"github.com/phyoewaiaung/devnexus-api/internal/handler"
	"github.com/phyoewaiaung/devnexus-api/internal/middleware"
	"github.com/phyoewaiaung/devnexus-api/internal/model"
	"github.com/phyoewaiaung/devnexus-api/internal/repository"
	"github.com/phyoewaiaung/devnexus-api/internal/service"
	"github.com/phyoewaiaung/devnexus-api/internal/ws"
	"github.com/phyoewaiaung/devnexus-api/pkg/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db := database.Connect()
	if err := db.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.Participant{},
		&model.Message{},
		&model.MessageAttachment{},
		&model.MessageReceipt{},
		&model.Notification{},
		&model.Post{},
		&model.Comment{},
		&model.PostLike{},
	); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if err := repository.MigrateLikeIndex(db); err != nil {
		log.Fatalf("migrate like index: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	convoRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notifRepo := repository.NewNotificationRepository(db)
	postRepo := repository.NewPostRepository(db)

	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTTTL)

	// The hub needs the chat service for membership checks and the
	// services need a broadcaster; break the cycle by building with a
	// placeholder and swapping the real broadcaster in below.
	var broadcaster service.Broadcaster = service.NopBroadcaster{}
	limiter := service.NewRateLimiter(cfg.SendBurst, cfg.SendRefill)

	notifService := service.NewNotificationService(notifRepo, &broadcasterRef{target: &broadcaster})
	chatService := service.NewChatService(convoRepo, messageRepo, userRepo, notifService, &broadcasterRef{target: &broadcaster}, limiter)
	postService := service.NewPostService(postRepo, notifService)

	hub := ws.NewHub(chatService, cfg.PresenceGrace)
	broadcaster = hub

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		relay := ws.NewRedisBroadcaster(redis.NewClient(opts), hub)
		broadcaster = relay
		go relay.Run(ctx)
	}

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(cfg.AllowedOrigins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	authHandler := handler.NewAuthHandler(authService)
	chatHandler := handler.NewChatHandler(chatService)
	notifHandler := handler.NewNotificationHandler(notifService)
	postHandler := handler.NewPostHandler(postService)
	wsHandler := ws.NewHandler(hub, ws.NewRouter(chatService), authService, cfg.AllowedOrigins)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/auth/register", authHandler.Register)
		api.POST("/auth/login", authHandler.Login)

		authed := api.Group("", middleware.RequireAuth(authService))
		{
			authed.GET("/chats", chatHandler.List)
			authed.POST("/chats/direct", chatHandler.CreateDirect)
			authed.POST("/chats/group", chatHandler.CreateGroup)
			authed.GET("/chats/:id", chatHandler.Get)
			authed.POST("/chats/:id/invite", chatHandler.Invite)
			authed.POST("/chats/:id/accept", chatHandler.Accept)
			authed.POST("/chats/:id/decline", chatHandler.Decline)
			authed.GET("/chats/:id/messages", chatHandler.ListMessages)
			authed.POST("/chats/:id/messages", chatHandler.SendMessage)
			authed.POST("/chats/:id/read", chatHandler.MarkRead)
			authed.DELETE("/messages/:id", chatHandler.DeleteMessage)

			authed.GET("/notifications", notifHandler.List)
			authed.GET("/notifications/unread-count", notifHandler.UnreadCount)
			authed.POST("/notifications/read", notifHandler.MarkRead)
			authed.POST("/notifications/read-all", notifHandler.MarkAllRead)

			authed.POST("/posts", postHandler.Create)
			authed.GET("/posts/:id", postHandler.Get)
			authed.POST("/posts/:id/comments", postHandler.Comment)
			authed.POST("/posts/:id/like", postHandler.Like)
			authed.DELETE("/posts/:id/like", postHandler.Unlike)
		}
	}

	router.GET("/ws", wsHandler.Serve)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// broadcasterRef defers the broadcaster choice until after the hub
// exists; services hold the ref, the hub is assigned into it.
type broadcasterRef struct {
	target *service.Broadcaster
}

func (r *broadcasterRef) Broadcast(channel, event string, payload interface{}) {
	(*r.target).Broadcast(channel, event, payload)
}

func (r *broadcasterRef) BroadcastExcept(channel string, exclude uuid.UUID, event string, payload interface{}) {
	(*r.target).BroadcastExcept(channel, exclude, event, payload)
}

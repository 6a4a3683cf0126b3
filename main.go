package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ragudos/chat-server/auth"
	"github.com/Ragudos/chat-server/broadcast"
	"github.com/Ragudos/chat-server/config"
	"github.com/Ragudos/chat-server/db"
	"github.com/Ragudos/chat-server/routes"
	"github.com/Ragudos/chat-server/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Initialize database
	pool, err := db.InitDatabase(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to the database: %v", err)
	}
	defer pool.Close()

	var directory services.Directory = services.NewPgUserDirectory(pool)
	if cfg.RedisURL != "" {
		cache, err := services.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer cache.Close()
		directory = services.NewCachedDirectory(directory, cache, cfg.IdentityCacheTTL)
		log.Printf("Identity cache enabled, ttl %s", cfg.IdentityCacheTTL)
	}

	hub := broadcast.New(cfg.BroadcastCapacity)
	store := services.NewPgChatStore(pool, cfg.SearchThreshold)
	chats := services.NewChatService(store, directory, hub, cfg.MaxMessageLength)
	tokens := auth.NewTokens(cfg.JWTSecret)

	r := gin.New()
	r.Use(gin.LoggerWithFormatter(auth.LogFormatter), gin.Recovery(), services.RequestID())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Authorization", services.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", services.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Initialize routes
	routes.SetupHealthRoutes(r, pool)
	routes.SetupChatRoutes(r, services.NewChatHandler(chats), tokens)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: r,
	}

	go func() {
		log.Printf("Chat server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received %s, shutting down", sig)

	// Live streams never finish on their own, end them before draining.
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	log.Println("Server stopped")
}

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

	"kairos-backend/internal/config"
	"kairos-backend/internal/database"
	"kairos-backend/internal/handlers"
	"kairos-backend/internal/llm"
	"kairos-backend/internal/middleware"
	"kairos-backend/internal/persona"
	"kairos-backend/internal/repository"
	"kairos-backend/internal/router"
	"kairos-backend/internal/services"
	"kairos-backend/internal/tools"
	"kairos-backend/internal/websocket"
	"kairos-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting Kairos Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(context.Background(), pool); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Step 5: Load Personas ────
	personas, err := persona.NewStore(cfg.PersonaFile)
	if err != nil {
		log.Fatalf("✗ Persona load failed: %v", err)
	}
	if err := personas.Watch(); err != nil {
		log.Printf("✗ Persona hot reload disabled: %v", err)
	}
	defer personas.Stop()
	log.Printf("✓ Personas loaded: %v", personas.Names())

	// ──── Step 6: Initialize AI Providers ────
	openai := llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ChatModel, cfg.ImageModel)
	var chatProvider llm.ChatProvider = openai
	if cfg.AIProvider == "gemini" {
		gemini, err := llm.NewGeminiProvider(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatalf("✗ Gemini client initialization failed: %v", err)
		}
		defer gemini.Close()
		chatProvider = gemini
	}
	log.Printf("✓ Chat provider: %s, image model: %s", chatProvider.Name(), openai.ImageModel())

	// ──── Initialize Repositories ────
	conversationRepo := repository.NewConversationRepo(pool)
	imageRepo := repository.NewImageRepo(pool)
	jobRepo := repository.NewJobRepo(pool)
	toolCache := repository.NewRedisCache(redisClients.Queue)

	// ──── Initialize Services ────
	registry := tools.NewRegistry(
		tools.NewHanRiverTemp(cfg.HanRiverAPIURL, &http.Client{Timeout: 10 * time.Second}, toolCache, cfg.ToolCacheTTL),
	)
	slots := services.NewSlots(cfg.AIConcurrentReqs)
	chatService := services.NewChatService(chatProvider, registry, personas, conversationRepo, slots, cfg.ChatMaxSteps, cfg.ChatMaxDuration)
	imageService := services.NewImageService(openai, cfg.ImageModel, imageRepo, cfg.StoragePath, slots, cfg.ImageRequestDuration)
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)

	queue := worker.NewRedisQueue(redisClients.Queue)
	publisher := websocket.NewPublisher(redisClients.Queue)

	// ──── Initialize Handlers ────
	h := router.Handlers{
		Auth:          handlers.NewAuthHandler(jwtAuth),
		Chat:          handlers.NewChatHandler(chatService),
		Image:         handlers.NewImageHandler(imageService, imageRepo, jobRepo, queue),
		Conversations: handlers.NewConversationHandler(conversationRepo, personas),
		Jobs:          handlers.NewJobHandler(jobRepo, publisher),
		Pages:         handlers.NewPageHandler(personas, imageService),
		Health: handlers.NewHealthHandler(chatProvider.Name(), map[string]handlers.Pinger{
			"postgres": pool,
			"redis":    redisClients,
		}),
	}

	// ──── Step 7: Start Job Worker Pool ────
	workerPool := worker.NewPool(queue, jobRepo, imageService, publisher, cfg.WorkerCount)
	workerPool.Start()
	log.Printf("✓ Worker pool started (%d goroutines)", cfg.WorkerCount)

	// ──── Step 8: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth)
	log.Println("✓ WebSocket hub started")

	// ──── Step 9: Start HTTP Server ────
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, middleware.DefaultVisitorIdle)
	defer limiter.Stop()

	r := router.New(jwtAuth, limiter, h, wsHub, cfg.FrontendURL)

	// Streams and image requests run for minutes, so the write timeout
	// must outlast both.
	writeTimeout := max(cfg.ChatMaxDuration, cfg.ImageRequestDuration) + 30*time.Second

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		workerPool.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ Kairos Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	animify "animify-backend"
	"animify-backend/internal/config"
	"animify-backend/internal/database"
	"animify-backend/internal/handlers"
	"animify-backend/internal/imaging"
	"animify-backend/internal/middleware"
	"animify-backend/internal/repository"
	"animify-backend/internal/router"
	"animify-backend/internal/services"
	"animify-backend/internal/websocket"
	"animify-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting Animify Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("✗ Configuration invalid: %v", err)
	}
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
	migrations, err := fs.Sub(animify.MigrationsFS, "migrations")
	if err != nil {
		log.Fatalf("✗ Migration files missing: %v", err)
	}
	if err := database.RunMigrations(cfg.DatabaseURL, migrations); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Initialize Repositories ────
	mediaRepo := repository.NewMediaRepo(pool)
	chatConfigRepo := repository.NewChatConfigRepo(pool)

	// ──── Step 5: Initialize Generation Clients ────
	exhService := services.NewExhService(cfg.ExhBaseURL, cfg.ExhAPIToken, cfg.ExhTimeout, cfg.ExhConcurrentReqs)
	log.Printf("✓ exh.ai client initialized (%s)", cfg.ExhBaseURL)

	// Left nil when Gemini is not configured so suggestions report as disabled
	var promptSuggester interface {
		SuggestPrompt(ctx context.Context, data []byte, mimeType string) (string, error)
	}
	if cfg.GeminiAPIKey != "" {
		promptService, err := services.NewPromptService(cfg.GeminiAPIKey, cfg.ExhConcurrentReqs)
		if err != nil {
			log.Fatalf("✗ Gemini client initialization failed: %v", err)
		}
		defer promptService.Close()
		promptSuggester = promptService
		log.Println("✓ Gemini client initialized")
	} else {
		log.Println("• GEMINI_API_KEY not set, prompt suggestions disabled")
	}

	// ──── Initialize Services ────
	transformDefaults, err := services.LoadTransformDefaults()
	if err != nil {
		log.Fatalf("✗ Transform defaults invalid: %v", err)
	}
	chatConfigService, err := services.NewChatConfigService(chatConfigRepo)
	if err != nil {
		log.Fatalf("✗ Chat defaults invalid: %v", err)
	}

	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	fetcher := imaging.NewFetcher(20*time.Second, cfg.MaxUploadBytes())
	jobQueue := services.NewJobQueue(redisClients.Queue)
	publisher := services.NewPublisher(redisClients.Queue)
	mediaService := services.NewMediaService(
		mediaRepo,
		jobQueue,
		fetcher,
		promptSuggester,
		transformDefaults,
		cfg.StoragePath,
		cfg.MaxUploadBytes(),
	)
	chatService := services.NewChatService(exhService, chatConfigService)

	// ──── Initialize Handlers ────
	sessionHandler := handlers.NewSessionHandler(jwtAuth)
	mediaHandler := handlers.NewMediaHandler(mediaService, cfg.MaxUploadBytes())
	chatHandler := handlers.NewChatHandler(chatService, chatConfigService)
	proxyHandler := handlers.NewProxyHandler(exhService)

	// ──── Step 6: Start Job Worker Pool ────
	workerPool := worker.NewPool(
		redisClients.Queue,
		exhService,
		mediaRepo,
		mediaService,
		publisher,
		jobQueue,
		cfg.WorkerCount,
	)
	if n, err := workerPool.RecoverStale(context.Background()); err != nil {
		log.Printf("⚠ Stale media sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("✓ Marked %d interrupted media items as failed", n)
	}
	workerPool.Start()
	log.Printf("✓ Worker pool started (%d goroutines)", cfg.WorkerCount)

	// ──── Step 7: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth)
	log.Println("✓ WebSocket hub started")

	// ──── Step 8: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		sessionHandler,
		mediaHandler,
		chatHandler,
		proxyHandler,
		wsHub,
		cfg.FrontendURL,
		cfg.GenerationRatePerMin,
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Proxy calls block on exh.ai for up to ExhTimeout
		WriteTimeout: cfg.ExhTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown. Workers drain before main returns and closes the pools.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
		wsHub.Close()

		drainCtx, drainCancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer drainCancel()
		workerPool.Stop(drainCtx)
	}()

	log.Printf("✓ Animify Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	<-shutdownDone
	log.Println("✓ Shutdown complete")
}

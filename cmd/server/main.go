package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kairon-backend/internal/config"
	"kairon-backend/internal/database"
	"kairon-backend/internal/handlers"
	"kairon-backend/internal/logger"
	"kairon-backend/internal/middleware"
	"kairon-backend/internal/repository"
	"kairon-backend/internal/router"
	"kairon-backend/internal/services"
	"kairon-backend/internal/websocket"
	"kairon-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("starting kairon backend", "env", cfg.Env, "store", cfg.Store, "ai_provider", cfg.AIProvider)

	ctx := context.Background()

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("postgres connection failed", "error", err)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, log); err != nil {
		log.Fatal("database migration failed", "error", err)
	}

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatal("redis connection failed", "error", err)
	}
	defer redisClients.Close()

	// ──── Repositories ────
	userRepo := repository.NewUserRepo(pool)
	st := selectStores(cfg.Store, pool)
	projectStore, jobStore := st.projects, st.jobs
	if st.memory {
		log.Warn("projects and jobs are kept in memory and will not survive a restart")
	}

	// ──── Step 4: Initialize the Generator ────
	var generator services.Generator
	switch cfg.AIProvider {
	case "gemini":
		gemini, err := services.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiConcurrentReqs, log)
		if err != nil {
			log.Fatal("gemini client initialization failed", "error", err)
		}
		defer gemini.Close()
		generator = gemini
	default:
		generator = services.NewSimulatedGenerator(cfg.SimulatedDelay, log)
	}
	log.Info("generator ready", "provider", cfg.AIProvider, "timeout", cfg.GenerationTimeout)

	// ──── Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.FrontendURL, log)
	authService := services.NewAuthService(userRepo, redisClients.Queue, jwtAuth, emailService, log)

	queue := worker.NewRedisQueue(redisClients.Queue, jobStore)
	projectService := services.NewProjectService(projectStore)
	generationService := services.NewGenerationService(projectStore, generator, cfg.GenerationTimeout, log)
	ingestService := services.NewIngestionService(
		projectService,
		services.NewFileExtractService(),
		services.NewYouTubeService(log),
		generator,
		queue,
		log,
	)

	// ──── Step 5: Start Job Worker Pool ────
	workerPool := worker.NewPool(
		redisClients.Queue,
		jobStore,
		generationService,
		worker.NewRedisPublisher(redisClients.Queue),
		cfg.WorkerCount,
		log,
	)
	workerPool.Start()

	// ──── Step 6: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, cfg.FrontendURL, log)

	// ──── Step 7: Start HTTP Server ────
	authLimiter := middleware.NewRateLimiter(10, time.Minute)
	r := router.New(
		jwtAuth,
		handlers.NewAuthHandler(authService),
		handlers.NewProjectHandler(projectService, ingestService),
		handlers.NewIngestHandler(ingestService, cfg.MaxUploadBytes),
		handlers.NewGenerationHandler(generationService, projectService, queue, jobStore, cfg.MaxUploadBytes),
		authLimiter,
		wsHub,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// Synchronous generation of several kinds can take a while.
		WriteTimeout: cfg.GenerationTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down")
		workerPool.Stop()
		wsHub.Close()
		authLimiter.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("kairon backend ready", "addr", server.Addr, "api", "/api/v1", "ws", "/api/v1/ws")

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", "error", err)
	}
}

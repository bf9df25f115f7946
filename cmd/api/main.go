package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bobarin/stockreel/internal/api"
	"github.com/bobarin/stockreel/internal/config"
	"github.com/bobarin/stockreel/internal/db"
	"github.com/bobarin/stockreel/internal/logging"
	"github.com/bobarin/stockreel/internal/queue"
	"github.com/bobarin/stockreel/internal/services"
	"github.com/bobarin/stockreel/internal/storage"
	"github.com/bobarin/stockreel/internal/worker"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := logging.Setup(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	log.Println("Starting Stockreel API...")

	if err := cfg.ValidateService(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = database.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Printf("Connected to database (%s)", database.Driver())

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Initialize storage
	stor, err := storage.Open(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	log.Printf("Initialized %s storage", cfg.StorageBackend)

	// Create API handler
	handler := api.NewHandler(database, q, stor, api.Defaults{
		Resolution:   cfg.DefaultResolution,
		FPS:          cfg.DefaultFPS,
		Style:        cfg.DefaultStyle,
		MusicEnabled: cfg.BackgroundMusicEnabled,
		MusicSource:  cfg.BackgroundMusicPath,
		MusicGain:    cfg.MusicGain,
		Transcriber:  cfg.Transcriber,
	})
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Warn("No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		ffmpegSvc := services.NewFFmpegService(cfg.FFmpegPath, cfg.FFprobePath)

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())

		transcriber, err := services.NewTranscriber(workerCtx, cfg)
		if err != nil {
			log.Fatalf("Failed to initialize transcriber: %v", err)
		}
		if transcriber != nil {
			log.Printf("Transcription enabled (%s)", cfg.Transcriber)
		}
		if !cfg.HasProviders() {
			log.Warn("No stock provider keys set, every clip will be a placeholder")
		}

		w := worker.New(database, q, stor, cfg, ffmpegSvc, transcriber)
		go w.Start(workerCtx, cfg.MaxConcurrentJobs)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown worker
	if workerCancel != nil {
		workerCancel()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

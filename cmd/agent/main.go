package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/cutline/agent/internal/config"
	"github.com/cutline/agent/internal/handlers"
	custommw "github.com/cutline/agent/internal/middleware"
	"github.com/cutline/agent/internal/observability"
	"github.com/cutline/agent/internal/remote"
	"github.com/cutline/agent/internal/repository"
	"github.com/cutline/agent/internal/services"
	"github.com/cutline/agent/internal/store"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize telemetry
	telemetry, err := observability.Initialize(context.Background(), observability.NewConfig("cutline-agent", version))
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Printf("Telemetry shutdown error: %v", err)
		}
	}()

	// Initialize database and repositories
	var recordRepo repository.RecordRepo
	var stateRepo repository.SyncStateRepo
	if cfg.UsePostgres() {
		log.Println("Using PostgreSQL database")
		db, err := repository.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
		}
		defer db.Close()
		recordRepo = repository.NewRecordRepositoryPostgres(db)
		stateRepo = repository.NewSyncStateRepositoryPostgres(db)
	} else {
		log.Println("Using SQLite database")
		db, err := repository.NewSQLiteDB(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite database: %v", err)
		}
		defer db.Close()
		recordRepo = repository.NewRecordRepository(db)
		stateRepo = repository.NewSyncStateRepository(db)
	}

	// The store serializes all record access through a single worker.
	recordStore := store.NewStore(recordRepo, stateRepo)
	go recordStore.Run()
	defer recordStore.Close()

	// Initialize the sync engine and its triggers
	backend := remote.NewHTTPBackend(cfg)
	resolver := services.NewConflictResolver()
	engine := services.NewSyncService(recordStore, backend, resolver, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run(ctx)
	go services.NewPeriodicTrigger(engine, cfg.PeriodicInterval()).Run(ctx)
	go services.NewForegroundTrigger(engine).Run(ctx)
	go services.NewNotificationService(backend.NotificationsURL(), recordStore, engine).Run(ctx)

	// Any local edit schedules a push once the current cycle finishes.
	recordStore.OnChange(engine.RequestSync)

	// Initialize handlers
	recordHandler := handlers.NewRecordHandler(recordStore, services.NewEXIFService())
	syncHandler := handlers.NewSyncHandler(recordStore, engine)
	healthHandler := handlers.NewHealthHandler()

	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize HTTP metrics: %v", err)
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware("cutline-agent"))
	r.Use(observability.MetricsMiddleware(httpMetrics))
	r.Use(custommw.APIKeyAuth(cfg.Security.APIKeyHash, cfg.Security.APIKeyHeader))

	// Routes
	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/api/health", healthHandler.HealthCheck)
	r.Get("/api/version", handlers.VersionHandler)

	r.Route("/api/records", func(r chi.Router) {
		r.Get("/", recordHandler.List)
		r.Get("/search", recordHandler.Search)
		r.Post("/", recordHandler.Create)
		r.Post("/from-image", recordHandler.CreateFromImage)
		r.Get("/{id}", recordHandler.GetByID)
		r.Put("/{id}", recordHandler.Update)
		r.Delete("/{id}", recordHandler.Delete)
	})

	r.Route("/api/sync", func(r chi.Router) {
		r.Post("/refresh", syncHandler.Refresh)
		r.Get("/status", syncHandler.GetStatus)
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Create server
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Cutline Agent starting on %s", cfg.ServerAddress)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down agent...")

	// Stop the engine and triggers before draining the store so the
	// change token and any queued writes reach disk.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Agent stopped")
}

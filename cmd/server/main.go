package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/cloudchest/internal/config"
	"github.com/maneesh/cloudchest/internal/handlers"
	"github.com/maneesh/cloudchest/internal/storage"
	"github.com/maneesh/cloudchest/internal/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	log.Println("Starting Cloudchest upload service...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Service: %s, Port: %s", cfg.ServiceName, cfg.ServicePort)

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	// Initialize object store
	log.Println("Connecting to MinIO...")
	objectStore, err := storage.NewMinioStore(
		cfg.MinIOEndpoint,
		cfg.MinIOAccessKey,
		cfg.MinIOSecretKey,
		cfg.MinIOBucketName,
		cfg.MinIOUseSSL,
	)
	if err != nil {
		log.Fatalf("Failed to initialize MinIO client: %v", err)
	}
	log.Println("MinIO client initialized")

	// Initialize durable metadata store
	log.Println("Connecting to MySQL...")
	metadataStore, err := storage.NewMySQLStore(cfg.GetDSN())
	if err != nil {
		log.Fatalf("Failed to initialize MySQL client: %v", err)
	}
	defer metadataStore.Close()

	// Schema creation is idempotent and runs on every cold start
	if err := metadataStore.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}
	log.Println("MySQL client initialized")

	// Initialize ephemeral session store
	log.Println("Connecting to Redis...")
	sessionStore, err := storage.NewRedisSessionStore(cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to initialize Redis client: %v", err)
	}
	defer sessionStore.Close()
	log.Println("Redis client initialized")

	// Initialize upload handler
	uploadHandler := handlers.NewUploadHandler(
		objectStore,
		sessionStore,
		metadataStore,
		cfg.GetMaxUploadBytes(),
		cfg.GetSessionTTL(),
	)

	validator := handlers.StaticTokenValidator{Secret: cfg.AuthToken}

	// Setup HTTP router
	router := mux.NewRouter()

	// Health check endpoint (no tracing or auth needed)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Chunked-upload protocol with tracing and auth
	mount := func(path, name string, h http.HandlerFunc) {
		router.Handle(path,
			handlers.AuthMiddleware(validator, otelhttp.NewHandler(h, name)),
		).Methods("POST")
	}
	mount("/upload/init", "POST /upload/init", uploadHandler.InitUpload)
	mount("/upload/chunk", "POST /upload/chunk", uploadHandler.UploadChunk)
	mount("/upload/complete", "POST /upload/complete", uploadHandler.CompleteUpload)
	mount("/upload/abort", "POST /upload/abort", uploadHandler.AbortUpload)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.ServicePort,
		Handler:      handlers.CORSMiddleware(router),
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server listening on port %s", cfg.ServicePort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

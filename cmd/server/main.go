package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"relay/internal/auth"
	"relay/internal/capabilities"
	"relay/internal/config"
	llmSvc "relay/internal/domain/services/llm"
	"relay/internal/handler"
	"relay/internal/handler/stream"
	"relay/internal/middleware"
	"relay/internal/repository"
	"relay/internal/service/attachments"
	serviceLLM "relay/internal/service/llm"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

// devUserID is the identity every request carries when auth is disabled.
const devUserID = "00000000-0000-0000-0000-000000000001"

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup structured logging, mirrored to a rotating file when LOG_DIR is set
	var logOutput io.Writer = os.Stdout
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, cfg.LogMaxFiles)
		if err != nil {
			log.Fatalf("Failed to setup log file: %v", err)
		}
		defer logFile.Close()
		logOutput = io.MultiWriter(os.Stdout, logFile)
	}

	logLevel := slog.LevelInfo
	if cfg.IsDev() {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(logOutput, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	ctx := context.Background()

	// Storage (Postgres or SQLite)
	store, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	// Live stream registry (Redis or in-process)
	streamRegistry, closeRegistry, err := openStreamRegistry(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to setup stream registry: %v", err)
	}
	defer closeRegistry()

	// Initialize capability registry
	capabilityRegistry, err := capabilities.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to initialize capability registry: %v", err)
	}
	logger.Info("capability registry initialized")

	providerRegistry, err := serviceLLM.SetupProviders(cfg, capabilityRegistry, logger)
	if err != nil {
		log.Fatalf("Failed to setup LLM providers: %v", err)
	}

	// Attachments are optional; leave the interface nil when unconfigured
	var attachmentFetcher llmSvc.AttachmentFetcher
	if cfg.Attachments.Bucket != "" {
		fetcher, err := attachments.NewS3Fetcher(ctx, attachments.Config{
			Bucket:   cfg.Attachments.Bucket,
			Region:   cfg.Attachments.Region,
			Endpoint: cfg.Attachments.Endpoint,
			MaxBytes: cfg.Attachments.MaxBytes,
		}, logger)
		if err != nil {
			log.Fatalf("Failed to setup attachment storage: %v", err)
		}
		attachmentFetcher = fetcher
		logger.Info("attachments enabled", "bucket", cfg.Attachments.Bucket)
	}

	// Streams outlive their HTTP requests; cancelling this severs them
	streamCtx, severStreams := context.WithCancel(context.Background())
	defer severStreams()

	llmServices, err := serviceLLM.SetupServices(
		streamCtx,
		store.Conversations,
		store.Messages,
		store.Usage,
		store.TxManager,
		streamRegistry,
		providerRegistry,
		attachmentFetcher,
		cfg,
		logger,
	)
	if err != nil {
		log.Fatalf("Failed to setup LLM services: %v", err)
	}

	conversationHandler := handler.NewConversationHandler(llmServices.Conversation, logger)
	streamConfig := stream.DefaultConfig()
	streamConfig.KeepAliveInterval = cfg.KeepaliveInterval
	streamHandler := handler.NewStreamHandler(llmServices.Streaming, streamConfig, logger)
	modelsHandler := handler.NewModelsHandler(cfg, logger, capabilityRegistry)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handler.HealthCheck)

	// Conversation routes
	mux.HandleFunc("POST /api/conversations", conversationHandler.CreateConversation)
	mux.HandleFunc("GET /api/conversations/{id}", conversationHandler.GetConversation)
	mux.HandleFunc("PATCH /api/conversations/{id}", conversationHandler.UpdateConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", conversationHandler.ListMessages)

	// Streaming routes
	mux.HandleFunc("POST /api/conversations/{id}/stream", streamHandler.Stream)
	mux.HandleFunc("GET /api/conversations/{id}/stream/state", streamHandler.State)
	mux.HandleFunc("GET /api/conversations/{id}/stream/live", streamHandler.Live)

	mux.HandleFunc("GET /api/models", modelsHandler.ListModels)

	// Debug routes (only in dev environment)
	if cfg.IsDev() && cfg.Debug {
		debugHandler := handler.NewStreamDebugHandler(llmServices.Streaming, logger)
		mux.HandleFunc("POST /debug/api/conversations/{id}/llm-request", debugHandler.PreviewRequest)
		logger.Warn("Debug route registered: POST /debug/api/conversations/:id/llm-request (provider request preview)")
	}

	// Build middleware chain
	var h http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Auth → RateLimit → Routes
	h = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger).Middleware(h)
	if cfg.JWKSURL != "" {
		jwtVerifier, err := auth.NewJWTVerifier(cfg.JWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
		defer jwtVerifier.Close()
		h = middleware.AuthMiddleware(jwtVerifier, logger)(h)
	} else if cfg.IsDev() {
		logger.Warn("JWKS_URL not set - auth disabled, all requests act as the dev user", "user_id", devUserID)
		h = middleware.DevAuthMiddleware(devUserID)(h)
	} else {
		log.Fatalf("JWKS_URL is required outside dev")
	}
	h = middleware.Recovery(logger)(h)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposedHeaders:   []string{handler.AssistantMessageIDHeader, "Retry-After"},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived streams
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop accepting requests, then sever whatever is still streaming
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	severStreams()
	llmServices.Streaming.Wait()
	logger.Info("server stopped")
}

// Survey chatbot server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/survey-chatbot/internal/api"
	"github.com/ashureev/survey-chatbot/internal/bank"
	"github.com/ashureev/survey-chatbot/internal/chatws"
	"github.com/ashureev/survey-chatbot/internal/config"
	"github.com/ashureev/survey-chatbot/internal/embedding"
	"github.com/ashureev/survey-chatbot/internal/export"
	"github.com/ashureev/survey-chatbot/internal/identity"
	"github.com/ashureev/survey-chatbot/internal/matcher"
	"github.com/ashureev/survey-chatbot/internal/middleware"
	"github.com/ashureev/survey-chatbot/internal/oracle"
	"github.com/ashureev/survey-chatbot/internal/session"
	"github.com/ashureev/survey-chatbot/internal/store"
	"github.com/ashureev/survey-chatbot/internal/turnlog"
	"github.com/ashureev/survey-chatbot/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	catalog, err := bank.Load(cfg.Questions.Dir, cfg.Questions.Domains)
	if err != nil {
		slog.Error("Failed to load question catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("Question catalog loaded", "domains", len(cfg.Questions.Domains))

	apiKey := os.Getenv("GENAI_API_KEY")

	engine, err := embedding.NewEngine(ctx, embedding.Config{
		Provider:       cfg.Matching.Provider,
		GenAIAPIKey:    apiKey,
		GenAIModel:     cfg.Matching.Model,
		OllamaEndpoint: cfg.Matching.OllamaEndpoint,
		OllamaModel:    cfg.Matching.Model,
	})
	if err != nil {
		slog.Error("Failed to initialize embedding engine", "error", err)
		os.Exit(1)
	}
	slog.Info("Embedding engine ready", "engine", engine.Name())

	match := matcher.New(engine, cfg.Matching.MinSimilarity)

	genie, err := oracle.NewGemini(ctx, apiKey, cfg.Oracle.Model, cfg.Oracle.Timeout)
	if err != nil {
		slog.Error("Failed to initialize oracle", "error", err)
		os.Exit(1)
	}

	turnLog, err := turnlog.NewWriter(turnlog.Config{
		Dir:           cfg.TurnLog.Dir,
		AggregatePath: cfg.TurnLog.AggregatePath,
	})
	if err != nil {
		slog.Error("Failed to initialize turn log", "error", err)
		os.Exit(1)
	}

	var exporter export.Exporter
	switch cfg.Export.Provider {
	case "drive":
		exporter, err = export.NewDrive(ctx, cfg.Export.CredentialsFile)
	default:
		exporter, err = export.NewLocal(cfg.Export.LocalDir)
	}
	if err != nil {
		slog.Error("Failed to initialize exporter", "error", err, "provider", cfg.Export.Provider)
		os.Exit(1)
	}

	svc, err := session.NewService(session.Deps{
		Catalog:  catalog,
		Matcher:  match,
		Oracle:   genie,
		TurnLog:  turnLog,
		Exporter: exporter,
		Repo:     repo,
	}, session.Config{
		ScheduleLength:     cfg.Questions.ScheduleLength,
		QuestionsPerDomain: cfg.Questions.PerDomain,
		ExportFolderID:     cfg.Export.DriveFolderID,
	}, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		slog.Error("Failed to initialize session service", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	apiHandler := api.NewHandler(svc, cfg.IsDevelopment())
	wsHandler := chatws.NewHandler(svc, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(svc, cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout, WebSocket connections stay open
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/screenloom/backend/internal/config"
	"github.com/screenloom/backend/internal/execution"
	"github.com/screenloom/backend/internal/generator"
	"github.com/screenloom/backend/internal/handlers"
	"github.com/screenloom/backend/internal/ledger"
	"github.com/screenloom/backend/internal/orchestrator"
	"github.com/screenloom/backend/internal/planner"
	"github.com/screenloom/backend/internal/provider"
	"github.com/screenloom/backend/internal/realtime"
	"github.com/screenloom/backend/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Repositories
	accountRepo := repository.NewAccountRepo(pool)
	transactionRepo := repository.NewTransactionRepo(pool)
	projectRepo := repository.NewProjectRepo(pool)
	frameRepo := repository.NewFrameRepo(pool)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)

	// Realtime hub and ledger
	hub := realtime.NewHub(logger)
	ledgerSvc := ledger.NewService(accountRepo, transactionRepo, hub, logger)

	// Generation pipeline
	modelClient := provider.NewHTTPClient(cfg.ModelBaseURL, cfg.ModelAPIKey, cfg.ModelName, provider.StaticImageSearcher{}, logger)
	planSvc, err := planner.NewPlanner(modelClient, cfg.SchemaDir, logger)
	if err != nil {
		slog.Error("Failed to init planner", "error", err)
		os.Exit(1)
	}
	screenGen := generator.NewGenerator(modelClient, generator.PassthroughSanitizer{}, logger)
	orch := orchestrator.New(planSvc, screenGen, ledgerSvc, frameRepo, projectRepo, hub, logger)

	// River client (processes generation jobs)
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewGenerateProjectWorker(orch))
	river.AddWorker(workers, execution.NewRegenerateFrameWorker(orch))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxJobWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	// Handlers
	genHandler := &handlers.GenerationHandler{
		Projects: projectRepo,
		Frames:   frameRepo,
		InsertGenerateProject: func(ctx context.Context, args execution.GenerateProjectArgs) error {
			_, err := riverClient.Insert(ctx, args, nil)
			return err
		},
		InsertRegenerateFrame: func(ctx context.Context, args execution.RegenerateFrameArgs) error {
			_, err := riverClient.Insert(ctx, args, nil)
			return err
		},
		Logger: logger,
	}
	creditsHandler := &handlers.CreditsHandler{Ledger: ledgerSvc, Logger: logger}

	mux := http.NewServeMux()
	RegisterV1Routes(mux, apiKeyRepo, genHandler, creditsHandler, hub)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}

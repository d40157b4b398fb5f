package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"repartition/internal/api"
	"repartition/internal/config"
	"repartition/internal/processor"
	"repartition/internal/repository"
	"repartition/internal/repository/memory"
	"repartition/internal/repository/postgres"
	"repartition/internal/service"
	"repartition/pkg/crypto"
	"repartition/pkg/metrics"
	"syscall"
	"time"

	"github.com/rs/cors"
)

const (
	appName = "repartition"
)

type storage struct {
	rules   repository.RuleRepository
	history repository.HistoryRepository
	db      *postgres.DB
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg)
	logger.Info("Starting application",
		slog.String("name", appName),
		slog.String("env", cfg.Env))

	store, err := setupStorage(cfg, logger)
	if err != nil {
		logger.Error("Storage setup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	policy, err := processor.ParseSplitPolicy(cfg.SplitPolicy, cfg.SplitWeights)
	if err != nil {
		logger.Error("Invalid split policy", slog.String("error", err.Error()))
		os.Exit(1)
	}

	metricsCollector := metrics.NewMetricsCollector(logger)
	signer := crypto.NewSigner(cfg.SigningKey, logger)
	notifier := service.NewAuditNotifier(cfg.NotifyWorkers, logger, service.NewLogSink(logger))

	ruleOpts := []service.RuleSetOption{service.WithRuleMetrics(metricsCollector)}
	if cfg.RulesFile != "" {
		ruleOpts = append(ruleOpts, service.WithBootstrapFile(cfg.RulesFile))
	}
	ruleService := service.NewRuleSetService(store.rules, notifier, logger, ruleOpts...)
	historyService := service.NewHistoryService(store.history, signer, notifier, logger,
		service.WithHistoryMetrics(metricsCollector))

	engine := processor.NewAllocationEngine(policy)
	distributionProcessor := processor.NewDistributionProcessor(engine, ruleService, historyService, metricsCollector, logger)

	apiHandler := api.NewAPIHandler(distributionProcessor, ruleService, historyService, logger)
	metricsServer := metricsCollector.StartMetricsServer(cfg.MetricsAddr)
	httpServer := startHTTPServer(cfg, apiHandler, logger)
	waitForShutdown(cfg, logger, httpServer, metricsServer, metricsCollector, notifier, store)
	logger.Info("Application shutdown complete")
}

func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

func setupStorage(cfg *config.Config, logger *slog.Logger) (*storage, error) {
	if !cfg.UsesDatabase() {
		logger.Warn("DATABASE_URL not set, using in-memory repositories")
		return &storage{
			rules:   memory.NewRuleRepository(),
			history: memory.NewHistoryRepository(),
		}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Connected to PostgreSQL")
	return &storage{
		rules:   postgres.NewRuleRepository(db, logger),
		history: postgres.NewHistoryRepository(db, logger),
		db:      db,
	}, nil
}

func startHTTPServer(cfg *config.Config, apiHandler *api.APIHandler, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	apiHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name": "%s", "status": "ok"}`, appName)
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "If-Match", "X-User-ID"},
		ExposedHeaders:   []string{"ETag", "Location"},
		AllowCredentials: false,
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      corsHandler.Handler(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	return server
}

func waitForShutdown(
	cfg *config.Config,
	logger *slog.Logger,
	httpServer *http.Server,
	metricsServer *http.Server,
	metricsCollector *metrics.MetricsCollector,
	notifier *service.AuditNotifier,
	store *storage,
) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}

	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("Metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if err := notifier.Shutdown(ctx); err != nil {
		logger.Error("Audit notifier shutdown failed", slog.String("error", err.Error()))
	}
	if err := metricsCollector.Shutdown(ctx); err != nil {
		logger.Error("Metrics collector shutdown failed", slog.String("error", err.Error()))
	}

	if store.db != nil {
		store.db.Close()
	}
}

// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kelechi-nwosu/exam-registration-core/internal/config"
	"github.com/kelechi-nwosu/exam-registration-core/internal/database"
	"github.com/kelechi-nwosu/exam-registration-core/internal/export"
	"github.com/kelechi-nwosu/exam-registration-core/internal/handler"
	"github.com/kelechi-nwosu/exam-registration-core/internal/jobstore"
	"github.com/kelechi-nwosu/exam-registration-core/internal/repository"
	"github.com/kelechi-nwosu/exam-registration-core/internal/service"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── 1. Connect to PostgreSQL ──────────────────────────────────────────
	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	// ── 2. Pick the job store backend ─────────────────────────────────────
	// A single instance runs fine on the in-memory store; multi-instance
	// deployments share job state through Redis behind the same interface.
	var store jobstore.Store = jobstore.NewMemory()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		store = jobstore.NewRedis(rdb)
		logger.Info("using redis job store", zap.String("addr", cfg.Redis.Addr))
	}

	// ── 3. Wire up layers ────────────────────────────────────────────────
	ledgerRepo := repository.NewPgLedger(pool)
	regRepo := repository.NewRegistrationRepository(pool)
	ledgerSvc := service.NewLedgerService(ledgerRepo, logger)
	bulkSvc := service.NewBulkService(regRepo, logger)

	artifacts := export.NewFSArtifactStore(cfg.Artifact.Dir, cfg.Artifact.URLPrefix)
	orchestrator := export.NewOrchestrator(store, regRepo, artifacts, logger,
		export.WithWorkers(cfg.Jobs.Workers),
		export.WithBatchSize(cfg.Jobs.BatchSize),
		export.WithMaxJobDuration(cfg.Jobs.MaxJobDuration),
		export.WithRetention(cfg.Jobs.Retention),
		export.WithSweepInterval(cfg.Jobs.SweepEvery),
	)
	orchestrator.StartSweeps(ctx)

	api := handler.NewAPI(ledgerSvc, bulkSvc, orchestrator)

	// ── 4. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(handler.RequestLogger(logger))
	api.Routes(r)

	// Serve generated export artifacts for download.
	r.Handle(cfg.Artifact.URLPrefix+"/*",
		http.StripPrefix(cfg.Artifact.URLPrefix+"/",
			http.FileServer(http.Dir(cfg.Artifact.Dir))))

	// ── 5. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	orchestrator.Wait()
	logger.Info("server stopped")
}

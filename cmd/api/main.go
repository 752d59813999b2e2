package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/befundwerk/ingest-api/internal/config"
	adminHandler "github.com/befundwerk/ingest-api/internal/handler/admin"
	healthHandler "github.com/befundwerk/ingest-api/internal/handler/health"
	ingestHandler "github.com/befundwerk/ingest-api/internal/handler/ingest"
	"github.com/befundwerk/ingest-api/internal/middleware"
	"github.com/befundwerk/ingest-api/internal/notification"
	"github.com/befundwerk/ingest-api/internal/parser"
	"github.com/befundwerk/ingest-api/internal/pipeline"
	"github.com/befundwerk/ingest-api/internal/repository/postgres"
	"github.com/befundwerk/ingest-api/internal/router"
	auditService "github.com/befundwerk/ingest-api/internal/service/audit"
	intakeService "github.com/befundwerk/ingest-api/internal/service/intake"
	mapperService "github.com/befundwerk/ingest-api/internal/service/mapper"
	resultService "github.com/befundwerk/ingest-api/internal/service/result"
	"github.com/befundwerk/ingest-api/pkg/logger"
	"github.com/befundwerk/ingest-api/pkg/messaging/redis"
	"github.com/befundwerk/ingest-api/pkg/metrics"
	"github.com/befundwerk/ingest-api/pkg/objectstore"
	"github.com/befundwerk/ingest-api/pkg/security"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	log.Logger = appLogger.ZL

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &appLogger.ZL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer broker.Close()

	hasher, err := security.NewPIIHasher(cfg.Security.PIIHashKey)
	if err != nil {
		log.Fatal().Err(err).Msg("pii hash key is required")
	}

	store, err := objectstore.NewFSStore(cfg.ObjectStore.BaseDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open object store")
	}

	// Repositories
	baseRepo := postgres.NewBaseRepository(db)
	rawRepo := postgres.NewRawMessageRepository(baseRepo)
	resultRepo := postgres.NewResultRepository(baseRepo)
	patientRepo := postgres.NewPatientRepository(baseRepo)
	userRepo := postgres.NewUserRepository(baseRepo)
	practiceRepo := postgres.NewPracticeRepository(baseRepo)
	auditRepo := postgres.NewAuditRepository(baseRepo)

	// Services
	m := metrics.NewMetrics("ingest")
	auditSvc := auditService.NewService(auditRepo)
	intakeSvc := intakeService.NewService(rawRepo, &baseRepo, auditSvc, broker, cfg.Pipeline.Channel, appLogger, m)
	mapperSvc := mapperService.NewService(userRepo, practiceRepo, patientRepo, hasher, appLogger)
	resultSvc := resultService.NewService(resultRepo, &baseRepo, auditSvc, store, appLogger, m)

	// The API process hosts the orchestrator only for admin reprocessing;
	// the worker binary runs the consuming loop.
	orch := pipeline.NewOrchestrator(rawRepo, &baseRepo, parser.NewRegistry(), mapperSvc, resultSvc,
		auditSvc, broker, notification.NopNotifier{}, cfg.Pipeline, appLogger, m)

	// Middleware and handlers
	authMW := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	auditMW := middleware.NewAuditMiddleware(auditSvc)

	r := router.NewRouter(
		authMW,
		ingestHandler.NewHandler(intakeSvc),
		adminHandler.NewHandler(rawRepo, resultSvc, auditSvc, mapperSvc, orch, auditMW),
		healthHandler.NewHandler(db),
		cfg.RateLimit,
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		appLogger.Info("api listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	appLogger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error(err, "graceful shutdown failed")
	}
}

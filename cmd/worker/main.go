package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/befundwerk/ingest-api/internal/config"
	"github.com/befundwerk/ingest-api/internal/notification"
	"github.com/befundwerk/ingest-api/internal/parser"
	"github.com/befundwerk/ingest-api/internal/pipeline"
	"github.com/befundwerk/ingest-api/internal/repository/postgres"
	auditService "github.com/befundwerk/ingest-api/internal/service/audit"
	mapperService "github.com/befundwerk/ingest-api/internal/service/mapper"
	resultService "github.com/befundwerk/ingest-api/internal/service/result"
	"github.com/befundwerk/ingest-api/pkg/logger"
	"github.com/befundwerk/ingest-api/pkg/messaging/redis"
	"github.com/befundwerk/ingest-api/pkg/metrics"
	"github.com/befundwerk/ingest-api/pkg/objectstore"
	"github.com/befundwerk/ingest-api/pkg/security"
)

func setupOps(appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			appLogger.Error(err, "ops server failed")
			os.Exit(1)
		}
	}()
}

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

	baseRepo := postgres.NewBaseRepository(db)
	rawRepo := postgres.NewRawMessageRepository(baseRepo)
	resultRepo := postgres.NewResultRepository(baseRepo)
	patientRepo := postgres.NewPatientRepository(baseRepo)
	userRepo := postgres.NewUserRepository(baseRepo)
	practiceRepo := postgres.NewPracticeRepository(baseRepo)
	auditRepo := postgres.NewAuditRepository(baseRepo)

	m := metrics.NewMetrics("ingest_worker")
	auditSvc := auditService.NewService(auditRepo)
	mapperSvc := mapperService.NewService(userRepo, practiceRepo, patientRepo, hasher, appLogger)
	resultSvc := resultService.NewService(resultRepo, &baseRepo, auditSvc, store, appLogger, m)

	var notifier notification.Notifier = notification.NopNotifier{}
	if cfg.SMTP.Enabled {
		notifier = notification.NewEmailNotifier(&cfg.SMTP, appLogger)
	}

	orch := pipeline.NewOrchestrator(rawRepo, &baseRepo, parser.NewRegistry(), mapperSvc, resultSvc,
		auditSvc, broker, notifier, cfg.Pipeline, appLogger, m)

	setupOps(appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("shutting down")
		cancel()
	}()

	appLogger.Info("worker started", "workers", cfg.Pipeline.Workers)
	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("worker failed")
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"biliticket/referralhub/internal/config"
	"biliticket/referralhub/internal/handler"
	"biliticket/referralhub/internal/model"
	"biliticket/referralhub/internal/repository"
	"biliticket/referralhub/internal/service"
	"biliticket/referralhub/internal/telemetry"
	jwtpkg "biliticket/referralhub/pkg/jwt"
)

func main() {
	// 1. Load configuration; a local .env is optional
	_ = godotenv.Load()
	path := os.Getenv("REFERRALHUB_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Initialize logger
	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Tracing
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("failed to setup tracing", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	// 4. Connect to PostgreSQL
	db, err := config.NewPostgresDB(cfg.Database.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}

	// 5. Auto-migrate if enabled
	if cfg.Database.Postgres.AutoMigrate {
		if err := model.AutoMigrate(db); err != nil {
			logger.Fatal("failed to auto-migrate", zap.Error(err))
		}
		logger.Info("database migration completed")
	}

	// 6. Initialize state store (Redis or in-memory)
	var stateStore repository.StateStore
	switch cfg.State.Backend {
	case "redis":
		redisClient, err := config.NewRedisClient(cfg.Database.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		stateStore = repository.NewRedisStateStore(redisClient)
		logger.Info("using Redis state store")
	case "memory":
		stateStore = repository.NewMemoryStateStore()
		logger.Info("using in-memory state store")
	default:
		logger.Fatal("unknown state backend", zap.String("backend", cfg.State.Backend))
	}

	// 7. Initialize the referral engine
	store := repository.NewPGStore(db)
	registry := service.NewCodeRegistry(store, service.CodeOptions{
		MaxAttempts:    cfg.Referral.CodeMaxAttempts,
		DefaultMaxUses: cfg.Referral.DefaultMaxUses,
	}, logger.Named("codes"))
	tree := service.NewNetworkTree(store, nil)
	aggregator := service.NewStatsAggregator(store, tree, stateStore, service.AggregatorOptions{
		Retry: service.RetryPolicy{
			MaxAttempts:     cfg.Aggregation.MaxAttempts,
			InitialInterval: cfg.Aggregation.RetryBackoff,
		},
	}, logger.Named("aggregator"))

	g, gctx := errgroup.WithContext(ctx)

	var dispatcher service.Dispatcher
	switch cfg.Aggregation.Mode {
	case "sync":
		dispatcher = service.NewSyncDispatcher(aggregator, logger.Named("dispatcher"))
	case "async", "":
		async := service.NewAsyncDispatcher(aggregator, service.DispatcherOptions{
			Workers:   cfg.Aggregation.Workers,
			QueueSize: cfg.Aggregation.QueueSize,
		}, logger.Named("dispatcher"))
		g.Go(func() error { return async.Run(gctx) })
		dispatcher = async
	default:
		logger.Fatal("unknown aggregation mode", zap.String("mode", cfg.Aggregation.Mode))
	}

	processor := service.NewReferralProcessor(store, registry, tree, dispatcher, service.ProcessorOptions{
		Retry: service.RetryPolicy{
			MaxAttempts:     cfg.Referral.MaxAttempts,
			InitialInterval: cfg.Referral.RetryBackoff,
			MaxInterval:     cfg.Referral.RetryMaxDelay,
		},
	}, logger.Named("processor"))
	queries := service.NewQueryService(store, tree, stateStore, cfg.Query.CacheTTL, logger.Named("queries"))

	reconciler := service.NewReconciler(aggregator, stateStore,
		cfg.Aggregation.SweepInterval, cfg.Aggregation.SweepPageSize, logger.Named("reconciler"))
	g.Go(func() error { return reconciler.Run(gctx) })

	// 8. JWT verification of identity-provider tokens
	jwtManager := jwtpkg.NewManager(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.AccessTokenTTL)

	// 9. Initialize handlers and router
	referralHandler := handler.NewReferralHandler(processor, registry, queries, logger.Named("http"))
	adminHandler := handler.NewAdminHandler(registry, tree, processor, aggregator, cfg.Aggregation.SweepPageSize, logger.Named("admin"))
	router := handler.SetupRouter(cfg, logger, jwtManager, referralHandler, adminHandler)

	// 10. Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 11. Serve until a signal arrives, then shut down gracefully
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		return
	}
	logger.Info("server exited gracefully")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

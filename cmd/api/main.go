package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/activityquery/internal/api"
	"example.com/activityquery/internal/auth"
	"example.com/activityquery/internal/config"
	"example.com/activityquery/internal/consumer"
	"example.com/activityquery/internal/domain"
	"example.com/activityquery/internal/freshness"
	"example.com/activityquery/internal/observability"
	"example.com/activityquery/internal/persistence/memory"
	"example.com/activityquery/internal/persistence/postgres"
	"example.com/activityquery/internal/sources"
	httptransport "example.com/activityquery/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger depends on config, so fall back to stderr.
		_, _ = os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := sources.LoadFile(cfg.SourceRegistryFile)
	if err != nil {
		logger.Fatal("failed to load source registry", zap.String("path", cfg.SourceRegistryFile), zap.Error(err))
	}
	logger.Info("source registry loaded", zap.String("path", cfg.SourceRegistryFile), zap.Int("sources", registry.Len()))

	var (
		entries domain.EntryStore
		stores  domain.Stores
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		store := memory.NewStore()
		entries, stores = store, store.Stores()
		logger.Warn("using in-memory stores")
	default:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()
		entries, stores = postgres.NewEntryRepository(pool), postgres.NewStores(pool)
	}

	service := domain.NewService(entries, stores, registry,
		domain.WithQueryTimeout(cfg.RequestTimeout),
		domain.WithSourceCap(cfg.SourceStatsCap),
	)
	tracker := freshness.NewTracker()

	var wg sync.WaitGroup
	if len(cfg.KafkaBrokers) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.RunGroup(ctx, consumer.GroupConfig{
				Brokers: cfg.KafkaBrokers,
				GroupID: cfg.ConsumerGroupID,
				Topics:  cfg.ConsumerTopics,
			}, consumer.NewFreshnessHandler(tracker, logger), logger.Named("consumer"))
		}()
	} else {
		logger.Info("KAFKA_BROKERS not set, freshness consumer disabled")
	}

	handler := api.NewHandler(service, tracker, api.Config{
		EntryCacheTTL:     cfg.EntryCacheTTL,
		AggregateCacheTTL: cfg.AggregateCacheTTL,
	}, logger)
	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, api.WriteAuthError)

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Mount("/", handler.Router(authMiddleware.Wrap))

	server := httptransport.NewServer(
		httptransport.DefaultServerConfig(cfg.HTTPAddress, cfg.RequestTimeout),
		httptransport.Chain(router, logger.Named("http"), cfg.CORSAllowedOrigin),
	)

	go func() {
		logger.Info("activity-query listening", zap.String("address", cfg.HTTPAddress), zap.String("store", cfg.StoreBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	wg.Wait()
}

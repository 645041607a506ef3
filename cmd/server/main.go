package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blagoySimandov/salonsuite/internal/api"
	"github.com/blagoySimandov/salonsuite/internal/billing"
	"github.com/blagoySimandov/salonsuite/internal/business"
	"github.com/blagoySimandov/salonsuite/internal/config"
	"github.com/blagoySimandov/salonsuite/internal/db"
	"github.com/blagoySimandov/salonsuite/internal/lease"
	"github.com/blagoySimandov/salonsuite/internal/logger"
	"github.com/blagoySimandov/salonsuite/internal/metrics"
	"github.com/blagoySimandov/salonsuite/internal/subscription"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

const (
	leaseKeyPrefix   = "salonsuite:lease:business:"
	webhookKeyPrefix = "salonsuite:webhook:"
)

func main() {
	cfg := config.Load()
	log := logger.Configure(cfg.LogLevel)

	ctx := context.Background()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	businesses, closeStore, err := openBusinessStore(ctx, cfg)
	if err != nil {
		log.Error("failed to open business store", "store", cfg.BusinessStore, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	locker, dedupe, closeRedis, err := openLeases(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer closeRedis()

	stripeProvider := billing.NewStripe(cfg, func(_, to gobreaker.State) {
		m.SetBreakerState(int(to))
	})
	catalog := billing.NewCatalog(cfg.PriceIDs())

	prices, err := subscription.NewPriceResolver(stripeProvider, catalog, cfg.BillingCurrency, m)
	if err != nil {
		log.Error("failed to create price resolver", "error", err)
		os.Exit(1)
	}
	svc := subscription.NewService(businesses, stripeProvider, catalog, prices, locker, cfg.LeaseTTL, m)

	subHandler := api.NewSubscriptionHandler(svc, catalog, cfg.BillingCurrency)
	webhookHandler := api.NewWebhookHandler(stripeProvider, svc, dedupe, m)
	router := api.SetupRoutes(subHandler, webhookHandler, m, cfg.FE_BASE_URL)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	log.Info("server starting", "addr", cfg.ServerAddr, "store", cfg.BusinessStore, "redis", cfg.RedisURL != "")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

func openBusinessStore(ctx context.Context, cfg *config.Config) (business.Repository, func(), error) {
	switch cfg.BusinessStore {
	case config.StoreFirestore:
		repo, err := business.NewFirestoreRepository(ctx, cfg.FirestoreProjectID, cfg.FirestoreCollection)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil

	case config.StorePostgres:
		bunDB, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return business.NewPostgresRepository(bunDB), func() { _ = bunDB.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown business store %q", cfg.BusinessStore)
}

// openLeases uses Redis when configured so leases and webhook claims hold across
// replicas. Without it both live in process memory.
func openLeases(ctx context.Context, cfg *config.Config) (lease.Locker, lease.Deduper, func(), error) {
	if cfg.RedisURL == "" {
		logger.Log.Warn("REDIS_URL not set, leases and webhook dedupe are process-local")
		return lease.NewLocalLocker(), lease.NewMemoryDeduper(cfg.WebhookDedupeTTL), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	locker := lease.NewRedisLocker(client, leaseKeyPrefix)
	dedupe := lease.NewRedisDeduper(client, webhookKeyPrefix, cfg.WebhookDedupeTTL)
	return locker, dedupe, func() { _ = client.Close() }, nil
}

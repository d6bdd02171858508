package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lumenchat/lumenchat/pkg/api"
	"github.com/lumenchat/lumenchat/pkg/auth"
	"github.com/lumenchat/lumenchat/pkg/billing"
	"github.com/lumenchat/lumenchat/pkg/chat"
	"github.com/lumenchat/lumenchat/pkg/config"
	"github.com/lumenchat/lumenchat/pkg/observability"
	"github.com/lumenchat/lumenchat/pkg/plans"
	"github.com/lumenchat/lumenchat/pkg/storage"
	"github.com/lumenchat/lumenchat/pkg/subscriptions"
	"github.com/lumenchat/lumenchat/pkg/usage"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	ctx := context.Background()

	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize OpenTelemetry")
			os.Exit(1)
		}
	}

	db, err := storage.NewConnectionManager(cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to PostgreSQL")
		os.Exit(1)
	}

	redisClient := newRedisClient(cfg.Redis)
	if redisClient != nil {
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("Redis unreachable at startup, continuing without it")
		}
	}

	verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OIDC verifier")
		os.Exit(1)
	}

	catalog := plans.NewCatalog(cfg.Stripe.ProPriceID, cfg.Stripe.EnterprisePriceID)
	stripeClient := billing.NewStripeClient(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)

	var subsStore subscriptions.Store = subscriptions.NewPostgresStore(db.Primary())
	if redisClient != nil && cfg.Redis.CacheEnabled {
		subsStore = subscriptions.NewCachedStore(subsStore, redisClient, logger, metrics)
	}
	usageStore := usage.NewPostgresStore(db.Primary())
	gate := usage.NewGate(subsStore, usageStore, logger, metrics)

	flowise, err := chat.NewFlowiseClient(cfg.Flowise, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize chat completion client")
		os.Exit(1)
	}
	chatStore := chat.NewPostgresStore(db.Primary())
	chatService := chat.NewService(chatStore, flowise, gate, logger)

	synchronizer := billing.NewSynchronizer(stripeClient, subsStore, catalog, logger, metrics)

	server := api.NewServer(api.Deps{
		Catalog:        catalog,
		Subscriptions:  subsStore,
		Gate:           gate,
		Chat:           chatService,
		ChatStore:      chatStore,
		Billing:        stripeClient,
		Synchronizer:   synchronizer,
		Verifier:       verifier,
		Redis:          redisClient,
		Stripe:         cfg.Stripe,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
		Metrics:        metrics,
	})

	var handler http.Handler = server
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(server, "lumenchat-api")
	}

	apiSrv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthChecker := observability.NewHealthChecker(db.Primary(), redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", healthChecker.Liveness)
	healthMux.HandleFunc("/readyz", healthChecker.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthSrv := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthMux,
		ReadTimeout: 10 * time.Second,
	}

	db.StartHealthCheckRoutine(ctx, 30*time.Second)

	scheduler := cron.New()
	scheduler.AddFunc("@every 1m", func() {
		refreshGauges(db, subsStore, metrics, logger)
	})
	scheduler.Start()

	shutdownMgr := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiSrv, healthSrv)
	shutdownMgr.RegisterShutdownFunc(func(ctx context.Context) error {
		scheduler.Stop()
		return nil
	})
	shutdownMgr.RegisterShutdownFunc(func(ctx context.Context) error {
		return db.Close()
	})
	if redisClient != nil {
		shutdownMgr.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if otelProviders != nil {
		shutdownMgr.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiSrv.Addr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("Health server listening on %s", healthSrv.Addr)
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})

	go func() {
		if err := g.Wait(); err != nil {
			logger.WithError(err).Error("Server exited unexpectedly")
			os.Exit(1)
		}
	}()

	if err := shutdownMgr.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
		os.Exit(1)
	}
}

// newRedisClient builds a client from either a redis:// URL or a bare
// host:port address. Returns nil when Redis is not configured.
func newRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.URL == "" {
		return nil
	}

	if strings.Contains(cfg.URL, "://") {
		if opts, err := redis.ParseURL(cfg.URL); err == nil {
			return redis.NewClient(opts)
		}
	}
	return redis.NewClient(&redis.Options{
		Addr:       cfg.URL,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: cfg.MaxRetries,
		PoolSize:   cfg.PoolSize,
	})
}

// refreshGauges updates the subscription and connection pool gauges
func refreshGauges(db *storage.ConnectionManager, subs subscriptions.Store, metrics *observability.Metrics, logger *observability.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	counts, err := subs.CountActiveByTier(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to refresh subscription gauges")
	} else {
		for _, tier := range []plans.Tier{plans.TierFree, plans.TierPro, plans.TierEnterprise} {
			metrics.SubscriptionsActive.WithLabelValues(string(tier)).Set(float64(counts[tier]))
		}
	}

	metrics.CollectDBStats(db.Primary())
}

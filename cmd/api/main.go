package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/giftcraft/api/internal/di"
	"github.com/giftcraft/api/internal/handlers"
	"github.com/giftcraft/api/internal/payments"
	"github.com/giftcraft/api/internal/platform/auth"
	"github.com/giftcraft/api/internal/platform/cache"
	"github.com/giftcraft/api/internal/platform/config"
	pfirestore "github.com/giftcraft/api/internal/platform/firestore"
	"github.com/giftcraft/api/internal/platform/httpx"
	"github.com/giftcraft/api/internal/platform/idempotency"
	"github.com/giftcraft/api/internal/platform/jobs"
	"github.com/giftcraft/api/internal/platform/observability"
	"github.com/giftcraft/api/internal/platform/secrets"
	platformstorage "github.com/giftcraft/api/internal/platform/storage"
	firestoreRepo "github.com/giftcraft/api/internal/repositories/firestore"
)

const cacheNamespace = "giftcraft"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames()...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)
	eventLogger := observability.NewEventLogger(logger.Named("services"))

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	gateway, err := payments.NewRazorpayGateway(payments.RazorpayConfig{
		KeyID:         cfg.Razorpay.KeyID,
		KeySecret:     cfg.Razorpay.KeySecret,
		WebhookSecret: cfg.Razorpay.WebhookSecret,
		Timeout:       cfg.Razorpay.Timeout,
		Logger:        payments.GatewayLogger(eventLogger),
	})
	if err != nil {
		logger.Fatal("failed to initialise razorpay gateway", zap.Error(err))
	}

	cacheStore, idempotencyStore, closeStores := newStores(cfg.Cache, logger)
	defer closeStores()
	viewCache := cache.New(cacheStore, cacheNamespace, cfg.Cache.TTL)

	adapters := di.Adapters{
		Gateway: gateway,
		Cache:   viewCache,
		Meter:   otel.Meter("github.com/giftcraft/api"),
		Logger:  eventLogger,
	}

	var notificationTopic *pubsub.Topic
	if projectID := strings.TrimSpace(cfg.PubSub.ProjectID); projectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		notificationTopic = pubsubClient.Topic(cfg.PubSub.NotificationTopic)
		publisher, err := jobs.NewPubSubNotificationPublisher(notificationTopic)
		if err != nil {
			logger.Fatal("failed to initialise notification publisher", zap.Error(err))
		}
		defer publisher.Stop()
		adapters.Publisher = publisher
	} else {
		logger.Warn("pubsub project not configured; outbox worker disabled")
	}

	if bucket := strings.TrimSpace(cfg.Storage.ExportsBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		reports, err := platformstorage.NewReportWriter(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise report writer", zap.Error(err))
		}
		adapters.Reports = reports
	}

	container, err := di.NewContainer(ctx, cfg, registry, adapters)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workerWG sync.WaitGroup
	var tickers []*time.Ticker

	if worker := container.Services.Outbox; worker != nil && cfg.Outbox.Interval > 0 {
		tickers = append(tickers, startTicker(workerCtx, &workerWG, cfg.Outbox.Interval, func(ctx context.Context) {
			workerLogger := logger.Named("outbox")
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			stats, err := worker.ProcessDue(runCtx)
			if err != nil {
				workerLogger.Error("outbox run error", zap.Error(err))
				return
			}
			if stats.Processed > 0 || stats.Retried > 0 || stats.Dead > 0 {
				workerLogger.Info("outbox run complete",
					zap.Int("processed", stats.Processed),
					zap.Int("retried", stats.Retried),
					zap.Int("dead", stats.Dead),
				)
			}
		}))
	}

	if cfg.RefundSync.Enabled && cfg.RefundSync.Interval > 0 {
		refunds := container.Services.Refunds
		tickers = append(tickers, startTicker(workerCtx, &workerWG, cfg.RefundSync.Interval, func(ctx context.Context) {
			syncLogger := logger.Named("refund-sync")
			runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			defer cancel()
			report, err := refunds.SyncRefundStatuses(runCtx)
			if err != nil {
				syncLogger.Error("refund sync error", zap.Error(err))
				return
			}
			syncLogger.Info("refund sync complete",
				zap.Int("total", report.Total),
				zap.Int("updated", report.Updated),
				zap.Int("failed", len(report.Failed)),
				zap.String("report", report.ReportURI),
			)
		}))
	}

	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders,
		handlers.WithOrderIdempotency(idempotency.Middleware(idempotencyStore)),
	)
	deliveryHandlers := handlers.NewDeliveryHandlers(authenticator, container.Services.Orders,
		handlers.WithOTPVerifyRateLimit(cfg.RateLimits.OTPVerifyPerMinute, cfg.RateLimits.OTPVerifyBurst),
	)
	adminOrderHandlers := handlers.NewAdminOrderHandlers(authenticator, container.Services.Orders)
	adminRefundHandlers := handlers.NewAdminRefundHandlers(authenticator, container.Services.Refunds)
	webhookHandlers := handlers.NewWebhookHandlers(container.Services.Refunds)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		observability.LocaleMiddleware(),
		httpx.ExposeDetailMiddleware(!cfg.Security.IsProduction()),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithReadinessChecks(readinessChecks(firestoreProvider, viewCache, notificationTopic, fetcher)...),
	)

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(healthHandlers))
	opts = append(opts, handlers.WithOrderRoutes(orderHandlers.Routes))
	opts = append(opts, handlers.WithDeliveryRoutes(deliveryHandlers.Routes))
	opts = append(opts, handlers.WithAdminRoutes(adminOrderHandlers.Routes, adminRefundHandlers.Routes))
	opts = append(opts, handlers.WithWebhookRoutes(webhookHandlers.Routes))
	opts = append(opts, handlers.WithWebhookMiddlewares(
		handlers.RateLimitByIP(cfg.RateLimits.WebhookPerMinute, cfg.RateLimits.WebhookBurst),
		auth.RequireSignature(cfg.Security.WebhookSignatureHeader, gateway.VerifyWebhookSignature),
	))

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("giftcraft api listening", zap.String("environment", buildInfo.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	for _, ticker := range tickers {
		ticker.Stop()
	}
	workerCancel()
	workerWG.Wait()

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func startTicker(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, run func(context.Context)) *time.Ticker {
	ticker := time.NewTicker(interval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ticker.C:
				run(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return ticker
}

func newStores(cfg config.CacheConfig, logger *zap.Logger) (cache.Store, idempotency.Store, func()) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		logger.Info("cache: using in-process stores")
		return cache.NewMemoryStore(), idempotency.NewMemoryStore(), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	keys, err := idempotency.NewRedisStore(client, cacheNamespace+":idempotency")
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	return cache.NewRedisStore(client), keys, func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}
}

func readinessChecks(provider *pfirestore.Provider, viewCache *cache.Cache, topic *pubsub.Topic, fetcher *secrets.Fetcher) []handlers.ReadinessCheck {
	checks := []handlers.ReadinessCheck{
		{Name: "firestore", Timeout: 1500 * time.Millisecond, Check: provider.Ping},
		{Name: "cache", Timeout: 500 * time.Millisecond, Check: viewCache.Ping},
	}
	if topic != nil {
		checks = append(checks, handlers.ReadinessCheck{
			Name:    "pubsub",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topic.ID())
				}
				return nil
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, handlers.ReadinessCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return checks
}

func buildInfoFromEnv(cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(os.Getenv(key))
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter("github.com/giftcraft/api/internal/platform/secrets")),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames() []string {
	return []string{
		"Razorpay.KeySecret",
		"Razorpay.WebhookSecret",
	}
}

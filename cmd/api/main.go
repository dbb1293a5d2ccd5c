package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Luneo19/luneo-platform-sub030/internal/di"
	"github.com/Luneo19/luneo-platform-sub030/internal/handlers"
	"github.com/Luneo19/luneo-platform-sub030/internal/payments"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/config"
	pfirestore "github.com/Luneo19/luneo-platform-sub030/internal/platform/firestore"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/idempotency"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/jobs"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/observability"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/ratelimit"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/secrets"
	platformstorage "github.com/Luneo19/luneo-platform-sub030/internal/platform/storage"
	"github.com/Luneo19/luneo-platform-sub030/internal/repositories"
	firestoreRepo "github.com/Luneo19/luneo-platform-sub030/internal/repositories/firestore"
	"github.com/Luneo19/luneo-platform-sub030/internal/services"
)

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
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames()...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := provider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(provider, firestoreRepo.WithHealthChecks(healthChecks(cfg, fetcher)...))
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	publisher, closePublisher, err := newPublisher(ctx, cfg, logger.Named("events"))
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}
	events := jobs.NewAsyncPublisher(publisher, cfg.Events.BufferSize, jobs.WithAsyncLogger(logger.Named("events")))

	instanceID := strings.TrimSpace(cfg.Scheduler.InstanceID)
	if instanceID == "" {
		instanceID = ulid.Make().String()
	}
	locker, err := jobs.NewFirestoreLocker(provider, instanceID, time.Now)
	if err != nil {
		logger.Fatal("failed to initialise job locker", zap.Error(err))
	}

	infra := di.Infrastructure{
		Events: events,
		Locker: locker,
		Clock:  time.Now,
		Logger: func(component string) services.Logger {
			return services.Logger(observability.ServiceLogger(logger, component))
		},
	}

	var storageClient *gcs.Client
	if bucket := strings.TrimSpace(cfg.Storage.ExportsBucket); bucket != "" {
		storageClient, err = gcs.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		reports, err := platformstorage.NewReportWriter(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise report writer", zap.Error(err))
		}
		infra.Reports = reports
	}

	var verifier payments.WebhookVerifier
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) != "" {
		paymentsLogger := observability.ServiceLogger(logger, "stripe")
		gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey:        cfg.PSP.StripeAPIKey,
			WebhookSecret: cfg.PSP.StripeWebhookSecret,
			Logger:        payments.StripeLogger(paymentsLogger),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
		}
		infra.Gateway = gateway
		verifier = gateway
	} else {
		logger.Warn("stripe api key not configured; payout disbursement disabled")
	}

	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	svc := container.Services

	limiter, err := newLimiter(cfg, provider, logger.Named("ratelimit"))
	if err != nil {
		logger.Fatal("failed to initialise rate limiter", zap.Error(err))
	}

	replayStore, err := newIdempotencyStore(cfg, provider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyOpts := []idempotency.MiddlewareOption{idempotency.WithTTL(cfg.Idempotency.TTL)}
	if cfg.Idempotency.RequireKeys {
		idempotencyOpts = append(idempotencyOpts, idempotency.RequireKey())
	}

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	scheduler := jobs.NewScheduler(logger.Named("jobs"))
	if cfg.Scheduler.Enabled {
		if err := scheduler.Every("sla-sweep", cfg.Scheduler.SLASweepInterval, svc.SLA.RunSweep); err != nil {
			logger.Fatal("failed to schedule sla sweep", zap.Error(err))
		}
		if err := scheduler.Every("load-reconciliation", cfg.Scheduler.ReconcileInterval, svc.Reconciliation.RunNightly); err != nil {
			logger.Fatal("failed to schedule reconciliation", zap.Error(err))
		}
		purgeLogger := logger.Named("idempotency")
		if err := scheduler.Every("idempotency-purge", time.Hour, func(ctx context.Context) error {
			removed, err := replayStore.Purge(ctx, time.Now().UTC(), 0)
			if removed > 0 {
				purgeLogger.Info("purged expired idempotency keys", zap.Int("removed", removed))
			}
			return err
		}); err != nil {
			logger.Fatal("failed to schedule idempotency purge", zap.Error(err))
		}
		scheduler.Start(schedulerCtx)
	}

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(cfg, startedAt)),
		handlers.WithHealthSystemService(svc.System),
	)
	routingHandlers := handlers.NewRoutingHandlers(svc.Routing)
	workOrderHandlers := handlers.NewWorkOrderHandlers(svc.WorkOrders, svc.SLA)
	fulfillmentHandlers := handlers.NewFulfillmentHandlers(svc.Fulfillments)
	payoutHandlers := handlers.NewPayoutHandlers(svc.Payouts, svc.SLA)
	adminHandlers := handlers.NewAdminRateLimitHandlers(limiter)
	webhookHandlers := handlers.NewWebhookHandlers(verifier, svc.Payouts)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithTenantMiddlewares(
			ratelimit.Middleware(limiter, ratelimit.MutatingOnly()),
			idempotency.Middleware(replayStore, idempotencyOpts...),
		),
		handlers.WithRoutingRoutes(routingHandlers.Routes),
		handlers.WithWorkOrderRoutes(workOrderHandlers.Routes),
		handlers.WithFulfillmentRoutes(fulfillmentHandlers.Routes),
		handlers.WithPayoutRoutes(payoutHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

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
		serverLogger.Info("marketplace api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	stopScheduler()
	scheduler.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := events.Close(shutdownCtx); err != nil {
		logger.Warn("event publisher drain incomplete", zap.Error(err))
	}
	closePublisher()
	if storageClient != nil {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("firestore close error", zap.Error(err))
	}
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
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Secrets.Environment,
		StartedAt:   started,
	}
}

// newSecretFetcher runs before config.Load, so it reads its own settings from the process environment.
func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	project := strings.TrimSpace(os.Getenv("API_SECRETS_PROJECT_ID"))
	if project == "" {
		project = strings.TrimSpace(os.Getenv("API_FIRESTORE_PROJECT_ID"))
	}
	fallback := strings.TrimSpace(os.Getenv("API_SECRETS_FALLBACK_FILE"))
	if fallback == "" {
		fallback = ".secrets.local"
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallback),
	}
	if project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames makes the payment secrets mandatory outside local and dev.
func requiredSecretNames() []string {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT"))) {
	case "", "local", "dev", "test":
		return nil
	}
	return []string{"PSP.StripeAPIKey", "PSP.StripeWebhookSecret"}
}

func healthChecks(cfg config.Config, fetcher *secrets.Fetcher) []repositories.DependencyCheck {
	if fetcher == nil || strings.TrimSpace(cfg.Secrets.DefaultProject) == "" {
		return nil
	}
	const secretHealthReference = "secret://system/healthz?version=latest"
	return []repositories.DependencyCheck{{
		Name:     "secretManager",
		Timeout:  time.Second,
		Optional: true,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(errors.Unwrap(err)); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}}
}

func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (jobs.Publisher, func(), error) {
	switch cfg.Events.Driver {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		publisher, err := jobs.NewPubSubPublisher(client.Topic(cfg.Events.Topic))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return publisher, func() {
			publisher.Close()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}, nil
	case "kafka":
		publisher, err := jobs.NewKafkaPublisher(jobs.KafkaConfig{
			Brokers: cfg.Events.KafkaBrokers,
			Topic:   cfg.Events.Topic,
		})
		if err != nil {
			return nil, nil, err
		}
		return publisher, func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("kafka close error", zap.Error(err))
			}
		}, nil
	default:
		return jobs.NewLogPublisher(logger), func() {}, nil
	}
}

func newIdempotencyStore(cfg config.Config, provider *pfirestore.Provider) (idempotency.Store, error) {
	if cfg.Idempotency.Store == "memory" {
		return idempotency.NewMemoryStore(), nil
	}
	return idempotency.NewFirestoreStore(provider)
}

func newLimiter(cfg config.Config, provider *pfirestore.Provider, logger *zap.Logger) (*ratelimit.Limiter, error) {
	var store ratelimit.Store
	switch cfg.RateLimit.Store {
	case "memory":
		store = ratelimit.NewMemoryStore()
	default:
		fsStore, err := ratelimit.NewFirestoreStore(provider)
		if err != nil {
			return nil, err
		}
		store = fsStore
	}
	return ratelimit.New(store,
		ratelimit.WithLogger(logger),
		ratelimit.WithDefaultConfig(ratelimit.Config{
			Capacity:       cfg.RateLimit.Capacity,
			RefillRate:     cfg.RateLimit.RefillRate,
			RefillInterval: cfg.RateLimit.RefillInterval,
		}),
	)
}

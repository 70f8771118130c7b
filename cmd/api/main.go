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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	domain "github.com/topmanuais/api/internal/domain"
	"github.com/topmanuais/api/internal/handlers"
	"github.com/topmanuais/api/internal/notifications"
	"github.com/topmanuais/api/internal/payments"
	"github.com/topmanuais/api/internal/platform/config"
	pfirestore "github.com/topmanuais/api/internal/platform/firestore"
	"github.com/topmanuais/api/internal/platform/idempotency"
	"github.com/topmanuais/api/internal/platform/jobs"
	"github.com/topmanuais/api/internal/platform/metrics"
	"github.com/topmanuais/api/internal/platform/observability"
	"github.com/topmanuais/api/internal/platform/secrets"
	platformstorage "github.com/topmanuais/api/internal/platform/storage"
	"github.com/topmanuais/api/internal/repositories"
	firestoreRepo "github.com/topmanuais/api/internal/repositories/firestore"
	"github.com/topmanuais/api/internal/repositories/memory"
	"github.com/topmanuais/api/internal/services"
)

const apiBasePath = "/api/v1"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger("topmanuais-api", strings.ToLower(strings.TrimSpace(envValues["STORE_ENVIRONMENT"])))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
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
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	recorder := metrics.New()
	events := observability.EventLogger(logger)
	var healthChecks []repositories.DependencyCheck

	var firestoreProvider *pfirestore.Provider
	if cfg.Persistence == config.PersistenceFirestore || cfg.Idempotency.Backend == config.IdempotencyBackendFirestore {
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		if _, err := firestoreProvider.Client(ctx); err != nil {
			logger.Fatal("failed to initialise firestore client", zap.Error(err))
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := firestoreProvider.Close(closeCtx); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}()
		healthChecks = append(healthChecks, repositories.DependencyCheck{Name: "firestore", Check: firestoreProvider.Ping})
	}

	repos, err := newRepositories(cfg, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}
	logger.Info("persistence ready", zap.String("backend", cfg.Persistence), zap.String("catalog", repos.catalogSource))

	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{Repository: repos.catalog, Logger: events})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}
	counterService, err := services.NewCounterService(services.CounterServiceDeps{Repository: repos.counters, Prefix: cfg.Checkout.OrderNumberPrefix})
	if err != nil {
		logger.Fatal("failed to initialise counter service", zap.Error(err))
	}
	issuer, err := services.NewOrderIssuer(services.OrderIssuerDeps{
		Orders:         repos.orders,
		Counters:       counterService,
		Currency:       cfg.Checkout.Currency,
		EntitlementTTL: cfg.Checkout.EntitlementTTL,
		MaxDownloads:   cfg.Checkout.MaxDownloads,
		Logger:         events,
	})
	if err != nil {
		logger.Fatal("failed to initialise order issuer", zap.Error(err))
	}

	links, err := newDownloadLinks(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise download links", zap.Error(err))
	}
	downloadService, err := services.NewDownloadService(services.DownloadServiceDeps{
		Orders:       repos.orders,
		Entitlements: repos.entitlements,
		Links:        links,
		Logger:       events,
		Metrics:      recorder,
	})
	if err != nil {
		logger.Fatal("failed to initialise download service", zap.Error(err))
	}

	processor, err := newPaymentProcessor(cfg, events)
	if err != nil {
		logger.Fatal("failed to initialise payment processor", zap.Error(err))
	}

	dispatcher, closeDispatcher, err := newDispatcher(ctx, cfg, logger, events)
	if err != nil {
		logger.Fatal("failed to initialise notification dispatcher", zap.Error(err))
	}
	defer closeDispatcher()

	checkoutDeps := services.CheckoutSessionDeps{
		Payments:        processor,
		Issuer:          issuer,
		Dispatcher:      dispatcher,
		PublicBaseURL:   cfg.Server.PublicBaseURL + apiBasePath,
		Currency:        cfg.Checkout.Currency,
		PaymentTimeout:  cfg.Payments.Timeout,
		DispatchTimeout: cfg.Notifications.Timeout,
		Logger:          events,
		Metrics:         recorder,
	}
	registry, err := services.NewSessionRegistry(services.SessionRegistryDeps{
		IdleTTL:        cfg.Checkout.SessionIdleTTL,
		Logger:         events,
		ActiveSessions: recorder.SetActiveSessions,
		Factory: func(id string) (*services.ShopperSession, error) {
			return services.NewShopperSession(services.ShopperSessionDeps{
				ID:       id,
				Catalog:  catalogService,
				Checkout: checkoutDeps,
			})
		},
	})
	if err != nil {
		logger.Fatal("failed to initialise session registry", zap.Error(err))
	}

	idempotencyStore, idempotencyCheck, err := newIdempotencyStore(cfg, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	if idempotencyCheck != nil {
		healthChecks = append(healthChecks, *idempotencyCheck)
	}
	submitIdempotency := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithPersistWhen(idempotency.SuccessOnly),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	background, stopBackground := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup
	runEvery(background, &backgroundWG, cfg.Idempotency.CleanupInterval, func(runCtx context.Context) {
		removed, err := idempotencyStore.Purge(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
		if err != nil {
			logger.Named("idempotency").Error("idempotency cleanup error", zap.Error(err))
			return
		}
		if removed > 0 {
			logger.Named("idempotency").Info("idempotency cleanup removed records", zap.Int("count", removed))
		}
	})
	runEvery(background, &backgroundWG, cfg.Checkout.SessionSweepInterval, func(runCtx context.Context) {
		registry.SweepIdle(runCtx, time.Now().UTC())
	})

	healthRepo, err := repositories.NewDependencyHealthRepository(healthChecks)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithHealthRepository(healthRepo),
	)

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		recorder.Middleware,
	}

	orderHandlers := handlers.NewOrderHandlers(downloadService)
	checkoutHandlers := handlers.NewCheckoutHandlers(handlers.WithSubmitMiddleware(submitIdempotency))
	sessionMiddleware := handlers.SessionMiddleware(registry, handlers.SessionCookieOptions{
		Secure: strings.HasPrefix(cfg.Server.PublicBaseURL, "https://"),
		MaxAge: cfg.Checkout.SessionIdleTTL,
	})

	router := handlers.NewRouter(
		handlers.WithBasePath(apiBasePath),
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(recorder.Handler()),
		handlers.WithCatalogRoutes(handlers.NewCatalogHandlers(catalogService).Routes),
		handlers.WithCartRoutes(handlers.NewCartHandlers().Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithEntitlementRoutes(orderHandlers.EntitlementRoutes),
		handlers.WithDownloadRoutes(orderHandlers.DownloadRoutes),
		handlers.WithSessionMiddleware(sessionMiddleware),
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
		serverLogger.Info("topmanuais api listening",
			zap.String("payments", cfg.Payments.Provider),
			zap.String("notifications", cfg.Notifications.Mode),
			zap.String("idempotency", cfg.Idempotency.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	stopBackground()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

type repositorySet struct {
	catalog       repositories.CatalogRepository
	catalogSource string
	orders        repositories.OrderRepository
	entitlements  repositories.EntitlementRepository
	counters      repositories.CounterRepository
}

func newRepositories(cfg config.Config, provider *pfirestore.Provider) (repositorySet, error) {
	var set repositorySet

	switch {
	case strings.TrimSpace(cfg.Catalog.File) != "":
		items, err := memory.LoadCatalogFile(cfg.Catalog.File)
		if err != nil {
			return set, err
		}
		repo, err := memory.NewCatalogRepository(items)
		if err != nil {
			return set, err
		}
		set.catalog, set.catalogSource = repo, "file"
	case cfg.Persistence == config.PersistenceFirestore:
		repo, err := firestoreRepo.NewCatalogRepository(provider)
		if err != nil {
			return set, err
		}
		set.catalog, set.catalogSource = repo, "firestore"
	default:
		repo, err := memory.NewCatalogRepository(memory.SeedCatalog())
		if err != nil {
			return set, err
		}
		set.catalog, set.catalogSource = repo, "seed"
	}

	if cfg.Persistence != config.PersistenceFirestore {
		store := memory.NewStore()
		set.orders = store.Orders()
		set.entitlements = store.Entitlements()
		set.counters = memory.NewCounterRepository()
		return set, nil
	}

	orders, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return set, err
	}
	entitlements, err := firestoreRepo.NewEntitlementRepository(provider)
	if err != nil {
		return set, err
	}
	counters, err := firestoreRepo.NewCounterRepository(provider)
	if err != nil {
		return set, err
	}
	set.orders, set.entitlements, set.counters = orders, entitlements, counters
	return set, nil
}

func newDownloadLinks(ctx context.Context, cfg config.Config) (services.DownloadLinkSigner, error) {
	bucket := strings.TrimSpace(cfg.Storage.DownloadsBucket)
	if bucket == "" {
		return platformstorage.NewPublicLinks(cfg.Server.PublicBaseURL, cfg.Storage.SignedURLTTL, nil)
	}

	signer, err := platformstorage.NewSigner(ctx, platformstorage.SignerConfig{
		CredentialsFile: cfg.Storage.CredentialsFile,
		Email:           cfg.Storage.SignerEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("downloads bucket %s: %w", bucket, err)
	}
	return platformstorage.NewDownloadLinks(signer, bucket, cfg.Storage.SignedURLTTL)
}

func newPaymentProcessor(cfg config.Config, events func(context.Context, string, map[string]any)) (payments.Processor, error) {
	var base payments.Processor
	switch cfg.Payments.Provider {
	case config.PaymentProviderStripe:
		stripeProcessor, err := payments.NewStripeProcessor(payments.StripeProcessorConfig{
			APIKey: cfg.Payments.StripeAPIKey,
			Logger: events,
		})
		if err != nil {
			return nil, err
		}
		base = stripeProcessor
	default:
		var declines []domain.PaymentMethod
		for _, raw := range cfg.Payments.SimulatedDeclines {
			method, ok := domain.ParsePaymentMethod(raw)
			if !ok {
				return nil, fmt.Errorf("payments: unknown simulated decline method %q", raw)
			}
			declines = append(declines, method)
		}
		base = payments.NewSimulatedProcessor(payments.SimulatedProcessorConfig{
			Latency:  cfg.Payments.SimulatedLatency,
			Declines: declines,
		})
	}

	guarded, err := payments.NewBreakerProcessor(base, payments.BreakerConfig{
		Name:        cfg.Payments.Provider,
		MaxFailures: uint32(cfg.Payments.BreakerMaxFailures),
		OpenTimeout: cfg.Payments.BreakerOpenTimeout,
		Logger:      events,
	})
	if err != nil {
		return nil, err
	}
	return payments.NewRouter(map[domain.PaymentMethod]payments.Processor{
		domain.PaymentMethodPIX:        guarded,
		domain.PaymentMethodCreditCard: guarded,
		domain.PaymentMethodBoleto:     guarded,
	})
}

func newDispatcher(ctx context.Context, cfg config.Config, logger *zap.Logger, events func(context.Context, string, map[string]any)) (services.ConfirmationDispatcher, func(), error) {
	renderer, err := notifications.NewRenderer(notifications.RendererOptions{StoreName: "Top Manuais"})
	if err != nil {
		return nil, func() {}, err
	}

	if cfg.Notifications.Mode != config.NotificationModePubSub {
		dispatcher, err := notifications.NewLogDispatcher(renderer, logger)
		return dispatcher, func() {}, err
	}

	client, err := pubsub.NewClient(ctx, cfg.Notifications.ProjectID)
	if err != nil {
		return nil, func() {}, err
	}
	topic := client.Topic(cfg.Notifications.Topic)
	publisher, err := jobs.NewPubSubEmailPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, func() {}, err
	}
	dispatcher, err := notifications.NewPubSubDispatcher(notifications.PubSubDispatcherDeps{
		Renderer:  renderer,
		Publisher: publisher,
		Logger:    events,
	})
	if err != nil {
		publisher.Stop()
		_ = client.Close()
		return nil, func() {}, err
	}
	closeFn := func() {
		publisher.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return dispatcher, closeFn, nil
}

func newIdempotencyStore(cfg config.Config, provider *pfirestore.Provider) (idempotency.Store, *repositories.DependencyCheck, error) {
	switch cfg.Idempotency.Backend {
	case config.IdempotencyBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Idempotency.RedisAddr,
			Password: cfg.Idempotency.RedisPassword,
			DB:       cfg.Idempotency.RedisDB,
		})
		store, err := idempotency.NewRedisStore(client)
		if err != nil {
			return nil, nil, err
		}
		return store, &repositories.DependencyCheck{Name: "redis", Check: store.Ping}, nil
	case config.IdempotencyBackendFirestore:
		store, err := idempotency.NewFirestoreStore(provider)
		return store, nil, err
	default:
		return idempotency.NewMemoryStore(), nil, nil
	}
}

// runEvery calls fn on every tick until ctx ends. A non-positive interval disables it.
func runEvery(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, time.Minute)
				fn(runCtx)
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["STORE_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   strings.TrimSpace(env["STORE_BUILD_COMMIT_SHA"]),
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("STORE_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("STORE_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("STORE_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("STORE_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projects := parseKeyValueList(lookup("STORE_SECRET_PROJECT_IDS")); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookup("STORE_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("STORE_GCP_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.EqualFold(strings.TrimSpace(env["STORE_PAYMENTS_PROVIDER"]), config.PaymentProviderStripe) {
		required = append(required, "Payments.StripeAPIKey")
	}
	if strings.TrimSpace(env["STORE_IDEMPOTENCY_REDIS_PASSWORD"]) != "" {
		required = append(required, "Idempotency.RedisPassword")
	}
	return required
}

// secretVersionPins parses "ref=version" pairs, normalising refs to secret:// form.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRequestTimeout       = 45 * time.Second
	defaultEnvironment          = "local"
	defaultPersistence          = PersistenceMemory
	defaultSignedURLTTL         = 10 * time.Minute
	defaultPaymentProvider      = PaymentProviderSimulated
	defaultPaymentTimeout       = 20 * time.Second
	defaultSimulatedLatency     = 300 * time.Millisecond
	defaultBreakerFailures      = 5
	defaultBreakerOpenTimeout   = 30 * time.Second
	defaultCurrency             = "BRL"
	defaultOrderNumberPrefix    = "TM"
	defaultEntitlementTTL       = 30 * 24 * time.Hour
	defaultMaxDownloads         = 5
	defaultSessionIdleTTL       = 2 * time.Hour
	defaultSessionSweepInterval = 5 * time.Minute
	defaultNotificationMode     = NotificationModeLog
	defaultNotificationTimeout  = 5 * time.Second
	defaultPublicBaseURL        = "http://localhost:8080"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultIdempotencyBackend   = IdempotencyBackendMemory
)

// Backend selectors.
const (
	PersistenceMemory    = "memory"
	PersistenceFirestore = "firestore"

	PaymentProviderSimulated = "simulated"
	PaymentProviderStripe    = "stripe"

	NotificationModeLog    = "log"
	NotificationModePubSub = "pubsub"

	IdempotencyBackendMemory    = "memory"
	IdempotencyBackendRedis     = "redis"
	IdempotencyBackendFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment   string
	Persistence   string
	Server        ServerConfig
	Firestore     FirestoreConfig
	Storage       StorageConfig
	Payments      PaymentsConfig
	Checkout      CheckoutConfig
	Notifications NotificationsConfig
	Idempotency   IdempotencyConfig
	Catalog       CatalogConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	PublicBaseURL  string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig locates the downloadable manuals and controls signed URL issuance.
type StorageConfig struct {
	DownloadsBucket string
	SignerEmail     string
	CredentialsFile string
	SignedURLTTL    time.Duration
}

// PaymentsConfig selects the payment processor and its resilience settings.
type PaymentsConfig struct {
	Provider           string
	StripeAPIKey       string
	Timeout            time.Duration
	SimulatedLatency   time.Duration
	SimulatedDeclines  []string
	BreakerMaxFailures int
	BreakerOpenTimeout time.Duration
}

// CheckoutConfig holds commercial rules applied when orders are issued.
type CheckoutConfig struct {
	Currency             string
	OrderNumberPrefix    string
	EntitlementTTL       time.Duration
	MaxDownloads         int
	SessionIdleTTL       time.Duration
	SessionSweepInterval time.Duration
}

// NotificationsConfig controls how order confirmations leave the service.
type NotificationsConfig struct {
	Mode      string
	ProjectID string
	Topic     string
	Timeout   time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
	Backend          string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
}

// CatalogConfig points at an optional YAML catalog file.
type CatalogConfig struct {
	File string
}

// Option customises Load and EnvironmentValues.
type Option func(*loader)

type loader struct {
	sources
	resolver       SecretResolver
	required       []string
	panicOnMissing bool
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(l *loader) { l.resolver = resolver }
}

// WithRequiredSecrets names secret fields, such as "Payments.StripeAPIKey",
// that must resolve to a non-blank value.
func WithRequiredSecrets(names ...string) Option {
	return func(l *loader) { l.required = append(l.required, names...) }
}

// WithPanicOnMissingSecrets makes Load panic with *MissingSecretsError instead
// of returning it.
func WithPanicOnMissingSecrets() Option {
	return func(l *loader) { l.panicOnMissing = true }
}

func newLoader(opts []Option) *loader {
	l := &loader{sources: sources{envFile: defaultEnvFile, system: true}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads STORE_* settings from, in rising precedence, the .env file, the
// process environment and WithEnvMap, then resolves secret references and
// validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	l := newLoader(opts)
	env, err := l.reader()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment: strings.ToLower(env.str("STORE_ENVIRONMENT", defaultEnvironment)),
		Persistence: strings.ToLower(env.str("STORE_PERSISTENCE", defaultPersistence)),
		Server: ServerConfig{
			Port:           env.str("STORE_SERVER_PORT", defaultPort),
			ReadTimeout:    env.duration("STORE_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   env.duration("STORE_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    env.duration("STORE_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: env.duration("STORE_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
			PublicBaseURL:  strings.TrimRight(env.str("STORE_PUBLIC_BASE_URL", defaultPublicBaseURL), "/"),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("STORE_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("STORE_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			DownloadsBucket: env.str("STORE_STORAGE_DOWNLOADS_BUCKET", ""),
			SignerEmail:     env.str("STORE_STORAGE_SIGNER_EMAIL", ""),
			CredentialsFile: env.str("STORE_STORAGE_CREDENTIALS_FILE", ""),
			SignedURLTTL:    env.duration("STORE_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
		},
		Payments: PaymentsConfig{
			Provider:           strings.ToLower(env.str("STORE_PAYMENTS_PROVIDER", defaultPaymentProvider)),
			StripeAPIKey:       env.str("STORE_PAYMENTS_STRIPE_API_KEY", ""),
			Timeout:            env.duration("STORE_PAYMENTS_TIMEOUT", defaultPaymentTimeout),
			SimulatedLatency:   env.duration("STORE_PAYMENTS_SIMULATED_LATENCY", defaultSimulatedLatency),
			SimulatedDeclines:  env.list("STORE_PAYMENTS_SIMULATED_DECLINES"),
			BreakerMaxFailures: env.integer("STORE_PAYMENTS_BREAKER_FAILURES", defaultBreakerFailures),
			BreakerOpenTimeout: env.duration("STORE_PAYMENTS_BREAKER_OPEN_TIMEOUT", defaultBreakerOpenTimeout),
		},
		Checkout: CheckoutConfig{
			Currency:             strings.ToUpper(env.str("STORE_CHECKOUT_CURRENCY", defaultCurrency)),
			OrderNumberPrefix:    env.str("STORE_CHECKOUT_ORDER_PREFIX", defaultOrderNumberPrefix),
			EntitlementTTL:       env.duration("STORE_CHECKOUT_ENTITLEMENT_TTL", defaultEntitlementTTL),
			MaxDownloads:         env.integer("STORE_CHECKOUT_MAX_DOWNLOADS", defaultMaxDownloads),
			SessionIdleTTL:       env.duration("STORE_CHECKOUT_SESSION_IDLE_TTL", defaultSessionIdleTTL),
			SessionSweepInterval: env.duration("STORE_CHECKOUT_SESSION_SWEEP_INTERVAL", defaultSessionSweepInterval),
		},
		Notifications: NotificationsConfig{
			Mode:      strings.ToLower(env.str("STORE_NOTIFICATIONS_MODE", defaultNotificationMode)),
			ProjectID: env.str("STORE_NOTIFICATIONS_PROJECT_ID", ""),
			Topic:     env.str("STORE_NOTIFICATIONS_TOPIC", ""),
			Timeout:   env.duration("STORE_NOTIFICATIONS_TIMEOUT", defaultNotificationTimeout),
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("STORE_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("STORE_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("STORE_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("STORE_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
			Backend:          strings.ToLower(env.str("STORE_IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
			RedisAddr:        env.str("STORE_IDEMPOTENCY_REDIS_ADDR", ""),
			RedisPassword:    env.str("STORE_IDEMPOTENCY_REDIS_PASSWORD", ""),
			RedisDB:          env.integer("STORE_IDEMPOTENCY_REDIS_DB", 0),
		},
		Catalog: CatalogConfig{
			File: env.str("STORE_CATALOG_FILE", ""),
		},
	}

	// Notifications publish into the Firestore project unless told otherwise.
	if cfg.Notifications.ProjectID == "" {
		cfg.Notifications.ProjectID = cfg.Firestore.ProjectID
	}

	resolved, err := l.resolveSecrets(ctx, map[string]*string{
		"Payments.StripeAPIKey":     &cfg.Payments.StripeAPIKey,
		"Idempotency.RedisPassword": &cfg.Idempotency.RedisPassword,
	})
	if err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	if missing := missingSecrets(l.required, resolved); missing != nil {
		if l.panicOnMissing {
			fmt.Fprintf(os.Stderr, "config: %v\n", missing)
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

package config

import (
	"slices"
	"strings"
)

// ValidationError names every missing or invalid field, as "Section.Field".
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config validation failed: missing or invalid fields [" + strings.Join(e.fields, ", ") + "]"
}

func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func validate(cfg Config) error {
	checks := []struct {
		field string
		bad   bool
	}{
		{"Server.Port", blank(cfg.Server.Port)},
		{"Server.RequestTimeout", cfg.Server.RequestTimeout <= 0},
		{"Persistence", cfg.Persistence != PersistenceMemory && cfg.Persistence != PersistenceFirestore},
		{"Firestore.ProjectID", cfg.Persistence == PersistenceFirestore && blank(cfg.Firestore.ProjectID)},
		{"Storage.SignedURLTTL", cfg.Storage.DownloadsBucket != "" && cfg.Storage.SignedURLTTL <= 0},
		{"Payments.Provider", cfg.Payments.Provider != PaymentProviderSimulated && cfg.Payments.Provider != PaymentProviderStripe},
		{"Payments.StripeAPIKey", cfg.Payments.Provider == PaymentProviderStripe && blank(cfg.Payments.StripeAPIKey)},
		{"Payments.Timeout", cfg.Payments.Timeout <= 0},
		{"Checkout.Currency", blank(cfg.Checkout.Currency)},
		{"Checkout.OrderNumberPrefix", blank(cfg.Checkout.OrderNumberPrefix)},
		{"Checkout.EntitlementTTL", cfg.Checkout.EntitlementTTL <= 0},
		{"Checkout.MaxDownloads", cfg.Checkout.MaxDownloads <= 0},
		{"Checkout.SessionIdleTTL", cfg.Checkout.SessionIdleTTL <= 0},
		{"Notifications.Mode", cfg.Notifications.Mode != NotificationModeLog && cfg.Notifications.Mode != NotificationModePubSub},
		{"Notifications.ProjectID", cfg.Notifications.Mode == NotificationModePubSub && blank(cfg.Notifications.ProjectID)},
		{"Notifications.Topic", cfg.Notifications.Mode == NotificationModePubSub && blank(cfg.Notifications.Topic)},
		{"Idempotency.Header", blank(cfg.Idempotency.Header)},
		{"Idempotency.TTL", cfg.Idempotency.TTL <= 0},
		{"Idempotency.CleanupInterval", cfg.Idempotency.CleanupInterval <= 0},
		{"Idempotency.CleanupBatchSize", cfg.Idempotency.CleanupBatchSize <= 0},
		{"Idempotency.Backend", !validIdempotencyBackend(cfg)},
		{"Idempotency.RedisAddr", cfg.Idempotency.Backend == IdempotencyBackendRedis && blank(cfg.Idempotency.RedisAddr)},
	}
	var fields []string
	for _, c := range checks {
		if c.bad {
			fields = append(fields, c.field)
		}
	}
	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

// The firestore idempotency backend shares the order store's client, so it
// requires firestore persistence.
func validIdempotencyBackend(cfg Config) bool {
	switch cfg.Idempotency.Backend {
	case IdempotencyBackendMemory, IdempotencyBackendRedis:
		return true
	case IdempotencyBackendFirestore:
		return cfg.Persistence == PersistenceFirestore
	}
	return false
}

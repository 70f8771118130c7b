// Package observability wires zap and OpenTelemetry into the HTTP stack.
package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/topmanuais/api/internal/platform/requestctx"
)

// NewLogger returns a JSON logger whose keys match Cloud Logging's structured
// payload (severity, message, timestamp). LOG_LEVEL selects the level; unknown
// values mean info.
func NewLogger(service, environment string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if lvl, err := zapcore.ParseLevel(raw); err == nil {
			cfg.Level.SetLevel(lvl)
		}
	}
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	fields := map[string]any{}
	if service != "" {
		fields["service"] = service
	}
	if environment != "" {
		fields["environment"] = environment
	}
	cfg.InitialFields = fields
	return cfg.Build()
}

// WithLogger stores logger on ctx for code running outside a request.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// EventLogger adapts zap to the func(ctx, event, fields) hook the services take.
// The request logger on ctx wins over fallback so entries carry request fields.
// The event suffix picks the level.
func EventLogger(fallback *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = fallback
		}
		zfields := make([]zap.Field, 0, len(fields)+1)
		zfields = append(zfields, zap.String("event", event))
		for key, value := range fields {
			if err, ok := value.(error); ok {
				zfields = append(zfields, zap.NamedError(key, err))
			} else {
				zfields = append(zfields, zap.Any(key, value))
			}
		}
		if ce := logger.Check(eventLevel(event), event); ce != nil {
			ce.Write(zfields...)
		}
	}
}

func eventLevel(event string) zapcore.Level {
	switch {
	case strings.HasSuffix(event, "_orphaned"):
		return zapcore.ErrorLevel
	case strings.HasSuffix(event, "_failed"), strings.HasSuffix(event, "_error"):
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}

// PrintfAdapter feeds printf-style loggers, such as the idempotency guard, into zap.
type PrintfAdapter struct {
	sugar *zap.SugaredLogger
}

func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{sugar: logger.Sugar()}
}

func (a PrintfAdapter) Printf(format string, args ...any) {
	a.sugar.Warnf(format, args...)
}

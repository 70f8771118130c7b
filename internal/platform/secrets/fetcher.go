// Package secrets resolves secret:// configuration references against Google
// Secret Manager, with a local key=value file for development machines.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves references, caching values per version. Concurrent lookups
// of the same secret share one Secret Manager call.
type Fetcher struct {
	client     secretManagerClient
	clientOpts []option.ClientOption
	ownsClient bool
	logger     *zap.Logger
	meter      metric.Meter
	latency    metric.Float64Histogram

	env            string
	defaultProject string
	projects       map[string]string
	pins           map[string]string

	fallbackPath string
	fallback     func() (map[string]string, error)

	group    singleflight.Group
	mu       sync.RWMutex
	cache    map[string]cached
	cacheTTL time.Duration
	clock    func() time.Time
}

type cached struct {
	value     string
	canonical string
	fetchedAt time.Time
}

// Option customises a Fetcher.
type Option func(*Fetcher)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithEnvironment selects the entry of the project map to use.
func WithEnvironment(env string) Option {
	return func(f *Fetcher) {
		if env = strings.ToLower(strings.TrimSpace(env)); env != "" {
			f.env = env
		}
	}
}

// WithDefaultProject is used when the project map has no entry for the environment.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) { f.defaultProject = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment names to Secret Manager projects.
func WithProjectMap(m map[string]string) Option {
	return func(f *Fetcher) {
		for env, project := range m {
			f.projects[strings.ToLower(env)] = strings.TrimSpace(project)
		}
	}
}

func WithFallbackFile(path string) Option {
	return func(f *Fetcher) { f.fallbackPath = strings.TrimSpace(path) }
}

func WithMeter(m metric.Meter) Option {
	return func(f *Fetcher) { f.meter = m }
}

// WithSecretManagerClient injects a client instead of dialing one.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(f *Fetcher) { f.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(f *Fetcher) { f.clientOpts = append(f.clientOpts, opts...) }
}

// WithVersionPins pins secrets to versions. Keys are either "secret://name" or
// "env:secret://name"; the environment-qualified pin wins.
func WithVersionPins(pins map[string]string) Option {
	return func(f *Fetcher) {
		for key, version := range pins {
			f.pins[key] = strings.TrimSpace(version)
		}
	}
}

// WithCacheTTL bounds how long a value is reused. Zero keeps values for the
// fetcher's lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		if ttl > 0 {
			f.cacheTTL = ttl
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(f *Fetcher) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// NewFetcher never fails for missing credentials: without a client every
// reference is served from the fallback file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("STORE_ENVIRONMENT"))),
		projects:     map[string]string{},
		pins:         map[string]string{},
		fallbackPath: defaultFallbackPath,
		cache:        map[string]cached{},
		clock:        time.Now,
	}
	if f.env == "" {
		f.env = defaultEnvironment
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.fallback = sync.OnceValues(func() (map[string]string, error) {
		return readFallbackFile(f.fallbackPath)
	})

	if f.meter == nil {
		f.meter = otel.GetMeterProvider().Meter("github.com/topmanuais/api/secrets")
	}
	latency, err := f.meter.Float64Histogram("secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution by source"),
	)
	if err != nil {
		f.logger.Warn("secrets: latency metric disabled", zap.Error(err))
	} else {
		f.latency = latency
	}

	if f.client == nil {
		client, err := secretManagerClientFactory(ctx, f.clientOpts...)
		if err != nil {
			f.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value of a secret:// reference.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}
	version := f.version(ref)
	key := versionedKey(ref.canonical, version)

	if value, ok := f.cached(key); ok {
		f.observe(ctx, start, "cache")
		return value, nil
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		value, source, err := f.lookup(ctx, ref, version)
		if err != nil {
			f.observe(ctx, start, "error")
			return "", err
		}
		f.mu.Lock()
		f.cache[key] = cached{value: value, canonical: ref.canonical, fetchedAt: f.clock()}
		f.mu.Unlock()
		f.observe(ctx, start, source)
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops every cached version of the reference.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := parseReference(raw)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, entry := range f.cache {
		if entry.canonical == ref.canonical {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) lookup(ctx context.Context, ref reference, version string) (string, string, error) {
	project := f.project(ref)
	if project != "" && f.client != nil {
		name := ref.resource(project, version)
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		switch {
		case err == nil && resp.GetPayload() != nil:
			return string(resp.GetPayload().GetData()), "remote", nil
		case err == nil:
			return "", "", fmt.Errorf("secrets: empty payload for %s", name)
		case !fallbackAllowed(err):
			return "", "", fmt.Errorf("secrets: fetch %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secrets: remote lookup failed, trying fallback file", zap.String("ref", ref.canonical), zap.Error(err))
	}

	values, err := f.fallback()
	if err != nil {
		return "", "", err
	}
	if value, ok := values[versionedKey(ref.canonical, version)]; ok {
		return value, "fallback", nil
	}
	if value, ok := values[ref.canonical]; ok {
		return value, "fallback", nil
	}
	return "", "", fmt.Errorf("secrets: no value for %s", ref.canonical)
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	if !ok || (f.cacheTTL > 0 && f.clock().Sub(entry.fetchedAt) >= f.cacheTTL) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) project(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if project := f.projects[f.env]; project != "" {
		return project
	}
	return f.defaultProject
}

func (f *Fetcher) version(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	if pin := f.pins[f.env+":"+ref.canonical]; pin != "" {
		return pin
	}
	if pin := f.pins[ref.canonical]; pin != "" {
		return pin
	}
	return latestVersion
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

// fallbackAllowed lists errors a developer machine typically hits without
// credentials. NotFound is never masked by the local file.
func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

// readFallbackFile parses "secret://name=value" lines. A missing
// file is an empty set.
func readFallbackFile(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: open fallback file %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		ref, err := parseReference(key)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		values[ref.canonical] = value
		if ref.version != "" {
			values[versionedKey(ref.canonical, ref.version)] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
	return values, nil
}

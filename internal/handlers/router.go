package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/topmanuais/api/internal/platform/httpx"
)

// RouteRegistrar attaches one resource's endpoints to r.
type RouteRegistrar func(r chi.Router)

const (
	defaultAPIPrefix  = "/api/v1"
	requestTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// group is one resource of the public API. Groups without a prefix register
// full paths themselves, since chi cannot mount "name:action" style segments.
// Shopper groups run behind the session middleware. Until a registrar is
// supplied, the placeholder paths answer 501.
type group struct {
	name         string
	prefix       string
	placeholders []string
	shopper      bool
}

var apiGroups = []group{
	{name: "catalog", prefix: "/catalog"},
	{name: "orders", prefix: "/orders"},
	{name: "entitlements", placeholders: []string{"/entitlements/{entitlementId}:consume"}},
	{name: "downloads", placeholders: []string{"/downloads/{entitlementId}"}},
	{name: "cart", prefix: "/cart", shopper: true},
	{name: "checkout", placeholders: []string{"/checkout", "/checkout/*", "/checkout:submit"}, shopper: true},
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	shopperMW   []func(http.Handler) http.Handler
	health      *HealthHandlers
	metrics     http.Handler
	registrars  map[string]RouteRegistrar
}

// Option customises NewRouter.
type Option func(*routerConfig)

// NewRouter builds the chi router: probes and /metrics at the root, resources
// under the API prefix.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath:    defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
		registrars:  map[string]RouteRegistrar{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route(cfg.basePath, func(api chi.Router) {
		shopper := api.With(cfg.shopperMW...)
		for _, g := range apiGroups {
			target := api
			if g.shopper {
				target = shopper
			}
			cfg.mount(target, g)
		}
	})
	return r
}

func (cfg *routerConfig) mount(r chi.Router, g group) {
	reg := cfg.registrars[g.name]
	if g.prefix != "" {
		r.Route(g.prefix, func(sub chi.Router) {
			if reg != nil {
				reg(sub)
				return
			}
			sub.HandleFunc("/", notImplemented(g.name))
			sub.HandleFunc("/*", notImplemented(g.name))
		})
		return
	}
	if reg != nil {
		reg(r)
		return
	}
	for _, path := range g.placeholders {
		r.HandleFunc(path, notImplemented(g.name))
	}
}

func notImplemented(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" routes are not configured", http.StatusNotImplemented))
	}
}

func withRoutes(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		if reg != nil {
			cfg.registrars[name] = reg
		}
	}
}

// WithMiddlewares appends global middleware after the request ID, real IP and
// timeout defaults.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

func WithBasePath(path string) Option {
	return func(cfg *routerConfig) {
		if path != "" {
			cfg.basePath = path
		}
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithMetricsHandler exposes h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(cfg *routerConfig) { cfg.metrics = h }
}

// WithSessionMiddleware wraps the cart and checkout routes.
func WithSessionMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.shopperMW = append(cfg.shopperMW, mw...) }
}

func WithCatalogRoutes(reg RouteRegistrar) Option     { return withRoutes("catalog", reg) }
func WithCartRoutes(reg RouteRegistrar) Option        { return withRoutes("cart", reg) }
func WithOrderRoutes(reg RouteRegistrar) Option       { return withRoutes("orders", reg) }
func WithCheckoutRoutes(reg RouteRegistrar) Option    { return withRoutes("checkout", reg) }
func WithEntitlementRoutes(reg RouteRegistrar) Option { return withRoutes("entitlements", reg) }
func WithDownloadRoutes(reg RouteRegistrar) Option    { return withRoutes("downloads", reg) }

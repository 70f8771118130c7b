package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "topmanuais"

// Recorder owns the Prometheus collectors for HTTP traffic and checkout outcomes.
type Recorder struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	checkouts      *prometheus.CounterVec
	paymentLatency *prometheus.HistogramVec
	consumptions   *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

// New registers every collector on a dedicated registry together with the Go and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "attempts_total",
			Help:      "Checkout submissions by outcome.",
		}, []string{"outcome"}),
		paymentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "authorize_duration_seconds",
			Help:      "Payment authorization latency by method and result.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "result"}),
		consumptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlements",
			Name:      "consume_total",
			Help:      "Entitlement consume attempts by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatch_total",
			Help:      "Order confirmation dispatches by result.",
		}, []string{"result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Shopper sessions currently held in memory.",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requests,
		r.latency,
		r.checkouts,
		r.paymentLatency,
		r.consumptions,
		r.notifications,
		r.activeSessions,
	)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Middleware records request counts and latency labelled by the matched chi route pattern.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.requests.WithLabelValues(route, req.Method, strconv.Itoa(status)).Inc()
		r.latency.WithLabelValues(route, req.Method).Observe(time.Since(start).Seconds())
	})
}

// ObserveCheckout counts one checkout submission outcome.
func (r *Recorder) ObserveCheckout(outcome string) {
	r.checkouts.WithLabelValues(outcome).Inc()
}

// ObservePayment records one processor round-trip.
func (r *Recorder) ObservePayment(method, result string, elapsed time.Duration) {
	r.paymentLatency.WithLabelValues(method, result).Observe(elapsed.Seconds())
}

// ObserveConsume counts one entitlement consume attempt.
func (r *Recorder) ObserveConsume(result string) {
	r.consumptions.WithLabelValues(result).Inc()
}

// ObserveNotification counts one confirmation dispatch.
func (r *Recorder) ObserveNotification(result string) {
	r.notifications.WithLabelValues(result).Inc()
}

// SetActiveSessions reports the size of the shopper session registry.
func (r *Recorder) SetActiveSessions(n int) {
	r.activeSessions.Set(float64(n))
}

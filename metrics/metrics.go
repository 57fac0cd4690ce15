// Package metrics exposes the engine's Prometheus counters on a dedicated
// listener.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsServer struct {
	srv      *http.Server
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	requestTime *prometheus.HistogramVec
	signatures  *prometheus.CounterVec
	shardsIn    *prometheus.CounterVec
	reshares    prometheus.Counter
	unlocked    prometheus.Gauge
}

func New(namespace string, listenAddr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &MetricsServer{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route and status code",
		}, []string{"route", "code"}),
		requestTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency by route",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"route"}),
		signatures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "signatures_total",
			Help:      "Signatures produced by purpose",
		}, []string{"purpose"}),
		shardsIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "shard_submissions_total",
			Help:      "Shard submissions by outcome",
		}, []string{"outcome"}),
		reshares: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "reshares_total",
			Help:      "Shard re-share operations",
		}),
		unlocked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "unlocked",
			Help:      "1 while the root seed is held in memory",
		}),
	}

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	m.srv = &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return m, nil
}

func (m *MetricsServer) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsServer) ObserveRequest(route string, code int, d time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.requestTime.WithLabelValues(route).Observe(d.Seconds())
}

func (m *MetricsServer) IncSignature(purpose string) {
	m.signatures.WithLabelValues(purpose).Inc()
}

// IncShardSubmission records "accepted", "unlocked" or "rejected".
func (m *MetricsServer) IncShardSubmission(outcome string) {
	m.shardsIn.WithLabelValues(outcome).Inc()
}

func (m *MetricsServer) IncReshare() {
	m.reshares.Inc()
}

func (m *MetricsServer) SetUnlocked(unlocked bool) {
	if unlocked {
		m.unlocked.Set(1)
	} else {
		m.unlocked.Set(0)
	}
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// Package metrics exports compile and link metrics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/links"
)

const namespace = "gridsql"

var durationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// Metrics implements compiler.Observer and links.Observer.
type Metrics struct {
	registry *prometheus.Registry

	compiles        *prometheus.CounterVec
	compileDuration *prometheus.HistogramVec
	links           *prometheus.CounterVec
	linkDuration    *prometheus.HistogramVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		compiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compiles_total",
				Help:      "Formula compiles by engine and outcome.",
			},
			[]string{"engine", "status"},
		),
		compileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compile_duration_seconds",
				Help:      "Duration of formula compiles in seconds.",
				Buckets:   durationBuckets,
			},
			[]string{"engine"},
		),
		links: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "link_mutations_total",
				Help:      "Link and unlink requests by relation kind and outcome.",
			},
			[]string{"op", "kind", "status"},
		),
		linkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "link_duration_seconds",
				Help:      "Duration of link and unlink requests in seconds.",
				Buckets:   durationBuckets,
			},
			[]string{"op"},
		),
	}
	m.registry.MustRegister(m.compiles, m.compileDuration, m.links, m.linkDuration)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CacheHitRate exports a catalog cache hit rate.
func (m *Metrics) CacheHitRate(rate func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "catalog_cache_hit_ratio",
		Help:      "Hit ratio of the catalog metadata cache.",
	}, rate))
}

// CompileDone implements compiler.Observer.
func (m *Metrics) CompileDone(engine core.Engine, elapsed time.Duration, err error) {
	m.compiles.WithLabelValues(engine.String(), status(err)).Inc()
	m.compileDuration.WithLabelValues(engine.String()).Observe(elapsed.Seconds())
}

// LinkDone implements links.Observer.
func (m *Metrics) LinkDone(op links.Op, kind core.RelationKind, elapsed time.Duration, err error) {
	k := string(kind)
	if k == "" {
		k = "unknown"
	}
	m.links.WithLabelValues(string(op), k, status(err)).Inc()
	m.linkDuration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

// status buckets errors into a small label set.
func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrRecordNotFound):
		return "not_found"
	case errors.Is(err, core.ErrUnprocessableRelationRequest), errors.Is(err, core.ErrRelationEndpointNotFound):
		return "rejected"
	case errors.Is(err, core.ErrFormulaCompile), errors.Is(err, core.ErrFormulaCircularReference),
		errors.Is(err, core.ErrUnsupportedDialectOperation):
		return "invalid"
	default:
		return "error"
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Router serves /metrics and /healthz.
func (m *Metrics) Router() http.Handler {
	r := chi.NewMux()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

// Serve exposes Router on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: m.Router(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("serving metrics", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop metrics server: %w", err)
		}
		return nil
	}
}

// Package metrics exposes Prometheus counters and histograms for the CLI's
// analyze command. Every collector is registered, but the only update in
// this module is analyze calling RecordCategory("UNKNOWN") once per UNKNOWN
// ledger record; the SAFE and BUG counters, both duration histograms and
// BudgetExceeded are never updated.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the collectors a single CLI invocation updates. It is
// always created; only serving it over HTTP is gated behind --metrics-addr.
type Registry struct {
	registry *prometheus.Registry

	POsAnalyzed      prometheus.Counter
	POsSafe          prometheus.Counter
	POsBug           prometheus.Counter
	POsUnknown       prometheus.Counter
	AnalyzeDuration  prometheus.Histogram
	ValidateDuration prometheus.Histogram
	BudgetExceeded   prometheus.Counter
}

// New builds a Registry with every collector registered, ready to increment
// regardless of whether it is ever served.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,
		POsAnalyzed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sappp_pos_analyzed_total",
			Help: "Total proof obligations the analyzer has produced a result for.",
		}),
		POsSafe: factory.NewCounter(prometheus.CounterOpts{
			Name: "sappp_pos_safe_total",
			Help: "Total proof obligations the analyzer classified SAFE.",
		}),
		POsBug: factory.NewCounter(prometheus.CounterOpts{
			Name: "sappp_pos_bug_total",
			Help: "Total proof obligations the analyzer classified BUG.",
		}),
		POsUnknown: factory.NewCounter(prometheus.CounterOpts{
			Name: "sappp_pos_unknown_total",
			Help: "Total proof obligations the analyzer or validator left UNKNOWN.",
		}),
		AnalyzeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sappp_analyze_duration_seconds",
			Help:    "Wall-clock duration of an analyze run.",
			Buckets: prometheus.DefBuckets,
		}),
		ValidateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sappp_validate_duration_seconds",
			Help:    "Wall-clock duration of a validate run.",
			Buckets: prometheus.DefBuckets,
		}),
		BudgetExceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "sappp_budget_exceeded_total",
			Help: "Total proof obligations abandoned due to the iteration budget.",
		}),
	}
}

// RecordCategory increments the per-category counter matching category,
// which must be one of "SAFE", "BUG", "UNKNOWN".
func (r *Registry) RecordCategory(category string) {
	r.POsAnalyzed.Inc()
	switch category {
	case "SAFE":
		r.POsSafe.Inc()
	case "BUG":
		r.POsBug.Inc()
	case "UNKNOWN":
		r.POsUnknown.Inc()
	}
}

// Serve starts an HTTP server exposing /metrics on addr and blocks until ctx
// is cancelled or the server fails to start.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return server.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"repartition/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsCollector struct {
	registry           *prometheus.Registry
	distributionsTotal prometheus.Counter
	inconsistentTotal  prometheus.Counter
	rejectedTotal      prometheus.Counter
	warningsTotal      *prometheus.CounterVec
	computeDuration    prometheus.Histogram
	netAmount          prometheus.Histogram
	recordsCommitted   *prometheus.CounterVec
	recordsDeleted     prometheus.Counter
	ruleUpdates        *prometheus.CounterVec
	logger             *slog.Logger
}

func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()

	collector := &MetricsCollector{
		registry: registry,
		distributionsTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "distributions_computed_total",
			Help: "Total number of computed distributions",
		}),
		inconsistentTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "distributions_inconsistent_total",
			Help: "Total number of distributions computed with warnings",
		}),
		rejectedTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "distributions_rejected_total",
			Help: "Total number of computations rejected by validation",
		}),
		warningsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "distribution_warnings_total",
			Help: "Computation warnings by code",
		}, []string{"code"}),
		computeDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "distribution_compute_duration_seconds",
			Help:    "Time taken to compute a distribution",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
		netAmount: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "distribution_net_amount",
			Help:    "Net amount of computed distributions in minor units",
			Buckets: prometheus.ExponentialBuckets(1_000, 10, 9),
		}),
		recordsCommitted: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "distribution_records_committed_total",
			Help: "Distribution records committed to history",
		}, []string{"override"}),
		recordsDeleted: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "distribution_records_deleted_total",
			Help: "Distribution records deleted from history",
		}),
		ruleUpdates: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "distribution_rule_updates_total",
			Help: "Rule replacements by key",
		}, []string{"key"}),
		logger: logger,
	}

	return collector
}

func (m *MetricsCollector) RecordComputation(result *domain.DistributionResult, duration time.Duration) {
	m.distributionsTotal.Inc()
	m.computeDuration.Observe(duration.Seconds())
	m.netAmount.Observe(float64(result.NetAmount))

	if !result.Consistent {
		m.inconsistentTotal.Inc()
	}
	for _, w := range result.Warnings {
		m.warningsTotal.WithLabelValues(string(w.Code)).Inc()
	}
}

func (m *MetricsCollector) RecordComputationFailure() {
	m.rejectedTotal.Inc()
}

func (m *MetricsCollector) RecordCommit(overridden bool) {
	m.recordsCommitted.WithLabelValues(strconv.FormatBool(overridden)).Inc()
}

func (m *MetricsCollector) RecordDeletion() {
	m.recordsDeleted.Inc()
}

func (m *MetricsCollector) RecordRuleUpdate(key domain.Category) {
	m.ruleUpdates.WithLabelValues(string(key)).Inc()
}

func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.GetHandler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return server
}

func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	m.logger.Info("Metrics collector shutdown complete")
	return nil
}

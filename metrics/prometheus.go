package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PrometheusConfig configures the Prometheus sink.
type PrometheusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// PrometheusSink exposes per-request cache metrics on a scrape endpoint.
type PrometheusSink struct {
	registry *prometheus.Registry
	logger   *zap.SugaredLogger

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	memoryDeltaMB   *prometheus.HistogramVec
}

func NewPrometheusSink(config *PrometheusConfig, logger *zap.SugaredLogger) (*PrometheusSink, error) {
	registry := prometheus.NewRegistry()

	s := &PrometheusSink{
		registry: registry,
		logger:   logger,
	}

	s.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "cache_requests_total",
			Help:      "Total instrumented requests partitioned by endpoint and cache result",
		},
		[]string{"endpoint", "result"},
	)

	s.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "cache_request_duration_seconds",
			Help:      "Request duration partitioned by endpoint and cache result",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "result"},
	)

	s.memoryDeltaMB = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "cache_request_memory_delta_mb",
			Help:      "Resident memory delta per request in MB",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 50, 100},
		},
		[]string{"endpoint"},
	)

	for _, collector := range []prometheus.Collector{
		s.requestsTotal, s.requestDuration, s.memoryDeltaMB,
	} {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register collector: %v", err)
		}
	}

	return s, nil
}

func (s *PrometheusSink) RecordRequest(_ context.Context, endpoint string, hit bool, elapsed time.Duration, memoryDeltaMB float64) {
	result := "miss"
	if hit {
		result = "hit"
	}
	s.requestsTotal.WithLabelValues(endpoint, result).Inc()
	s.requestDuration.WithLabelValues(endpoint, result).Observe(elapsed.Seconds())
	s.memoryDeltaMB.WithLabelValues(endpoint).Observe(memoryDeltaMB)
}

// Handler returns the scrape handler for this sink's private registry.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Package server assembles the cache monitoring subsystem: backend, metrics
// registry and sinks, instrumentation middleware, invalidation coordinator,
// profiler, history store, analyzer, and the admin HTTP surface.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"

	"github.com/kudoslab/kudos/adminapi"
	"github.com/kudoslab/kudos/analyzer"
	"github.com/kudoslab/kudos/cache"
	"github.com/kudoslab/kudos/config"
	"github.com/kudoslab/kudos/history"
	"github.com/kudoslab/kudos/invalidation"
	"github.com/kudoslab/kudos/metrics"
	"github.com/kudoslab/kudos/middleware"
	"github.com/kudoslab/kudos/profiler"
)

// Server owns every component of the monitoring subsystem and exposes the
// pieces business handlers integrate with: the backend, the instrumentation
// middleware, and the invalidation coordinator.
type Server struct {
	Backend      cache.Backend
	Registry     *metrics.Registry
	Instrumenter *middleware.Instrumenter
	Coordinator  *invalidation.Coordinator
	Profiler     *profiler.Profiler
	History      *history.Store
	Analyzer     *analyzer.Analyzer

	// DefaultTTL is what business handlers pass to Backend.Set unless they
	// have an endpoint-specific TTL.
	DefaultTTL time.Duration

	router   *mux.Router
	logger   *zap.SugaredLogger
	cleanups []func()
}

func New(cfg *config.Config, logger *zap.SugaredLogger) (*Server, error) {
	defaultTTL, err := time.ParseDuration(cfg.Cache.DefaultTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid default TTL: %v", err)
	}
	s := &Server{logger: logger, DefaultTTL: defaultTTL}

	backend, cleanup, err := setupBackend(cfg)
	if err != nil {
		return nil, err
	}
	s.Backend = backend
	if cleanup != nil {
		s.cleanups = append(s.cleanups, cleanup)
	}

	s.Registry = metrics.NewRegistry(cfg.Monitoring.MaxSamples)

	sinks, promSink, sinkCleanup, err := setupSinks(cfg, logger)
	if err != nil {
		s.Shutdown()
		return nil, err
	}
	if sinkCleanup != nil {
		s.cleanups = append(s.cleanups, sinkCleanup)
	}
	s.Instrumenter = middleware.NewInstrumenter(s.Registry, cfg.Monitoring.Enabled, logger, sinks...)

	s.Coordinator = invalidation.NewCoordinator(backend, invalidation.DefaultCatalog(), logger)
	s.Profiler = profiler.New(backend, logger)
	s.Analyzer = analyzer.New(backend.Name(), logger)

	store, err := history.Open(cfg.HistoryDBPath, logger)
	if err != nil {
		s.Shutdown()
		return nil, err
	}
	s.History = store
	s.cleanups = append(s.cleanups, func() {
		if err := store.Close(); err != nil {
			logger.Warnw("Failed to close history store", "error", err)
		}
	})

	router := mux.NewRouter()
	api := adminapi.New(
		s.Registry, s.Analyzer, s.History, s.Coordinator, s.Profiler,
		backend.Name(), cfg.AdminApiKey, logger,
	)
	api.RegisterRoutes(router)
	if promSink != nil {
		path := cfg.Monitoring.Prometheus.Path
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, promSink.Handler()).Methods("GET")
	}
	s.router = router

	return s, nil
}

// Router returns the admin HTTP handler. Host applications mount their own
// business routes alongside it and wrap them with Instrumenter.Wrap.
func (s *Server) Router() http.Handler {
	return s.router
}

// Shutdown releases backend and store resources.
func (s *Server) Shutdown() {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
	s.cleanups = nil
}

func setupBackend(cfg *config.Config) (cache.Backend, func(), error) {
	if cfg.ValkeyEndpoint == "" {
		backend, stop := cache.NewMemoryBackend(cfg.Cache.MaxMemoryBytes)
		return backend, stop, nil
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{cfg.ValkeyEndpoint},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Valkey client: %v", err)
	}
	return cache.NewValkeyBackend(client), client.Close, nil
}

func setupSinks(cfg *config.Config, logger *zap.SugaredLogger) ([]metrics.Sink, *metrics.PrometheusSink, func(), error) {
	var sinks []metrics.Sink
	var promSink *metrics.PrometheusSink
	var cleanup func()

	if prom := cfg.Monitoring.Prometheus; prom != nil && prom.Enabled {
		sink, err := metrics.NewPrometheusSink(prom, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to set up Prometheus sink: %v", err)
		}
		promSink = sink
		sinks = append(sinks, sink)
	}

	if cfg.Monitoring.SharedSink && cfg.ValkeyEndpoint != "" {
		client, err := valkey.NewClient(valkey.ClientOption{
			InitAddress: []string{cfg.ValkeyEndpoint},
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create shared sink client: %v", err)
		}
		sinks = append(sinks, metrics.NewValkeySink(client, "", logger))
		cleanup = client.Close
	}

	return sinks, promSink, cleanup, nil
}

// EvaluateCache builds the effectiveness report from the live registry and
// the persisted history window. save persists the current snapshot first.
func (s *Server) EvaluateCache(days int, save bool) (*analyzer.Report, error) {
	snap := s.Registry.Snapshot()

	if save {
		score := s.Analyzer.PerformanceScore(snap)
		if _, err := s.History.Save(snap, s.Backend.Name(), score); err != nil {
			return nil, fmt.Errorf("failed to persist snapshot: %v", err)
		}
	}

	records, err := s.History.ListSince(days)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %v", err)
	}
	return s.Analyzer.Evaluate(snap, records, days), nil
}

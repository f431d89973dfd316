package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kudoslab/kudos/metrics"
	"github.com/kudoslab/kudos/utils/env"
)

// Config represents the full application configuration.
type Config struct {
	// Port to listen for incoming requests.
	Port int `yaml:"port"`

	// Valkey (open-source version of Redis) endpoint for the cache backend
	// and the shared metrics sink. Empty selects the in-memory backend.
	// E.g., localhost:6379
	ValkeyEndpoint string `yaml:"valkey_endpoint"`

	// Key required by the privileged admin endpoints (reset, clear). The
	// caller provides it in the Authorization header with the Bearer scheme.
	AdminApiKey string `yaml:"admin_api_key"`

	// Path of the SQLite database holding persisted metrics snapshots.
	HistoryDBPath string `yaml:"history_db_path"`

	Monitoring MonitoringConfig `yaml:"monitoring"`
	Cache      CacheConfig      `yaml:"cache"`
}

// MonitoringConfig controls the request instrumentation layer.
type MonitoringConfig struct {
	// Disabling makes the instrumentation middleware a pass-through.
	Enabled bool `yaml:"enabled"`

	// Capacity of the bounded memory-sample ring.
	MaxSamples int `yaml:"max_samples"`

	// Publish per-endpoint counters to a shared Valkey sink so multiple
	// worker processes can be aggregated externally.
	SharedSink bool `yaml:"shared_sink"`

	Prometheus *metrics.PrometheusConfig `yaml:"prometheus,omitempty"`
}

// CacheConfig describes the cache backend budget.
type CacheConfig struct {
	// Maximum bytes held by the in-memory backend.
	MaxMemoryBytes int64 `yaml:"max_memory_bytes"`

	// Default TTL applied by business handlers; surfaced here so the
	// evaluate-cache report can reference it. E.g., 15m
	DefaultTTL string `yaml:"default_ttl"`
}

// LoadConfig loads the configuration from the specified path, then applies
// environment-variable overrides on top of the YAML values.
func LoadConfig(path string, logger *zap.SugaredLogger) (*Config, error) {
	// Setting default values
	config := Config{
		Port:          8080,
		HistoryDBPath: "kudos-metrics.db",
		Monitoring: MonitoringConfig{
			Enabled:    true,
			MaxSamples: metrics.DefaultMaxSamples,
		},
		Cache: CacheConfig{
			MaxMemoryBytes: 256 * 1024 * 1024,
			DefaultTTL:     "15m",
		},
	}

	if path != "" {
		logger.Infow("Loading config", "path", path)
		configData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %v", err)
		}
		if err := yaml.Unmarshal(configData, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %v", err)
		}
	}

	// Values from environment variables precede the values from the YAML
	// file.
	config.Port = env.OptionalIntVariable("PORT", config.Port)
	config.ValkeyEndpoint = env.OptionalStringVariable("VALKEY_ENDPOINT", config.ValkeyEndpoint)
	config.AdminApiKey = env.OptionalStringVariable("KUDOS_ADMIN_API_KEY", config.AdminApiKey)
	config.HistoryDBPath = env.OptionalStringVariable("KUDOS_HISTORY_DB", config.HistoryDBPath)
	config.Monitoring.Enabled = env.OptionalBoolVariable("KUDOS_MONITORING_ENABLED", config.Monitoring.Enabled)
	config.Monitoring.MaxSamples = env.OptionalIntVariable("KUDOS_MAX_SAMPLES", config.Monitoring.MaxSamples)

	if config.Monitoring.MaxSamples <= 0 {
		config.Monitoring.MaxSamples = metrics.DefaultMaxSamples
	}
	return &config, nil
}

// BackendName reports which cache backend this configuration selects.
func (c *Config) BackendName() string {
	if c.ValkeyEndpoint != "" {
		return "valkey"
	}
	return "memory"
}

package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchedulerConfig holds the RT/NRT pipeline scheduler's settings.
type SchedulerConfig struct {
	NRTWorkers int `json:"nrt_workers"` // Default: 0 (runtime.GOMAXPROCS(0))
}

// HTTPConfig holds the HTTP control surface's settings.
type HTTPConfig struct {
	Addr string `json:"addr"` // Default: :8090
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`      // Default: false
	Exporter    string  `json:"exporter"`     // otlp-http (or otlp), stdout
	Endpoint    string  `json:"endpoint"`     // localhost:4318
	ServiceName string  `json:"service_name"` // dyngend
	SampleRate  float64 `json:"sample_rate"`  // 1.0
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`           // Default: true
	Namespace        string    `json:"namespace"`         // dyngend
	HistogramBuckets []float64 `json:"histogram_buckets"` // Pipeline duration buckets in ms
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level          string `json:"level"`            // debug, info, warn, error
	Format         string `json:"format"`           // text, json
	IncludeTraceID bool   `json:"include_trace_id"` // Correlate with traces
}

// ObservabilityConfig holds all observability-related settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// PostgresConfig holds the optional durability side-channel's settings.
// Empty DSN disables persistence entirely.
type PostgresConfig struct {
	DSN string `json:"dsn"`
}

// RedisConfig holds the optional cross-process fanout bus's settings.
// Empty Addr disables the Redis broadcaster in favor of the in-process one.
type RedisConfig struct {
	Addr string `json:"addr"`
	DB   int    `json:"db"`
}

// S3Config holds the S3 region setting. The scriptstore loader does not
// read it; s3:// loads use the AWS default configuration chain.
type S3Config struct {
	Region string `json:"region"`
}

// Config is the central configuration struct embedding every component's
// settings.
type Config struct {
	Scheduler     SchedulerConfig     `json:"scheduler"`
	HTTP          HTTPConfig          `json:"http"`
	Observability ObservabilityConfig `json:"observability"`
	Postgres      PostgresConfig      `json:"postgres"`
	Redis         RedisConfig         `json:"redis"`
	S3            S3Config            `json:"s3"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			NRTWorkers: 0,
		},
		HTTP: HTTPConfig{
			Addr: ":8090",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "dyngend",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "dyngend",
				HistogramBuckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
			},
		},
		Postgres: PostgresConfig{
			DSN: "",
		},
		Redis: RedisConfig{
			Addr: "",
			DB:   0,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
	}
}

// LoadFromFile loads configuration from a JSON file, overlaying it onto
// the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ScriptBundle names one script to publish at daemon startup.
type ScriptBundle struct {
	Hash   int32    `yaml:"hash"`
	Path   string   `yaml:"path"`
	Params []string `yaml:"params"`
}

// PreloadManifest is a static deployment manifest of scripts to publish
// before the HTTP control surface starts accepting traffic — useful for a
// worker process that should come up with its standard preset bank already
// resident instead of waiting for a client to push each one.
type PreloadManifest struct {
	Scripts []ScriptBundle `yaml:"scripts"`
}

// LoadPreloadManifest reads a YAML preload manifest from path.
func LoadPreloadManifest(path string) (*PreloadManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m PreloadManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadFromEnv applies DYNGEND_* environment variable overrides to cfg.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("DYNGEND_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("DYNGEND_NRT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.NRTWorkers = n
		}
	}

	if v := os.Getenv("DYNGEND_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("DYNGEND_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("DYNGEND_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("DYNGEND_TRACING_SERVICE_NAME"); v != "" {
		cfg.Observability.Tracing.ServiceName = v
	}
	if v := os.Getenv("DYNGEND_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("DYNGEND_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("DYNGEND_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("DYNGEND_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("DYNGEND_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("DYNGEND_LOG_INCLUDE_TRACE_ID"); v != "" {
		cfg.Observability.Logging.IncludeTraceID = parseBool(v)
	}

	if v := os.Getenv("DYNGEND_PG_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("DYNGEND_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DYNGEND_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("DYNGEND_S3_REGION"); v != "" {
		cfg.S3.Region = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

// Package config holds the JANA2-Go parameter surface: the typed
// key/value pairs spec.md §6 describes as "consumed, not implemented"
// by the engine core. Values are loaded from a YAML file (overridden by
// environment variables), mirroring the teacher daemon's
// DefaultConfig/LoadFromFile/LoadFromEnv layering.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AffinityStrategy mirrors JProcessorMapping::AffinityStrategy.
type AffinityStrategy int

const (
	AffinityNone AffinityStrategy = iota
	AffinityMemoryBound
	AffinityComputeBound
)

// LocalityStrategy mirrors JProcessorMapping::LocalityStrategy.
type LocalityStrategy int

const (
	LocalityGlobal LocalityStrategy = iota
	LocalitySocketLocal
	LocalityNumaDomainLocal
	LocalityCoreLocal
	LocalityCpuLocal
)

// BackoffStrategy selects the worker retry-loop backoff curve.
type BackoffStrategy int

const (
	BackoffLinear BackoffStrategy = iota
	BackoffExponential
)

// EngineConfig holds the jana:* parameters from spec.md §6.
type EngineConfig struct {
	NThreads               int             `yaml:"nthreads"`
	NSkip                  uint64          `yaml:"nskip"`
	NEvents                uint64          `yaml:"nevents"`
	EventPoolSize          int             `yaml:"event_pool_size"`
	EventQueueThreshold    int             `yaml:"event_queue_threshold"`
	SourceChunksize        int             `yaml:"event_source_chunksize"`
	ProcessorChunksize     int             `yaml:"event_processor_chunksize"`
	Affinity               AffinityStrategy `yaml:"affinity"`
	Locality                LocalityStrategy `yaml:"locality"`
	EnableStealing          bool            `yaml:"enable_stealing"`
	TickerIntervalMS        int             `yaml:"ticker_interval_ms"`
	ExtendedReport          bool            `yaml:"extended_report"`
	TimeoutEnabled          bool            `yaml:"timeout_enabled"`
	TimeoutSec              int             `yaml:"timeout_sec"`
	WiringFile              string          `yaml:"wiring_file"`
	Backoff                 BackoffStrategy `yaml:"backoff_strategy"`
	InitialBackoff          time.Duration   `yaml:"initial_backoff"`
	MaxBackoffTries         int             `yaml:"max_backoff_tries"`
	CheckinTime             time.Duration   `yaml:"checkin_time"`
}

// DaemonConfig holds process-level settings.
type DaemonConfig struct {
	LogLevel string `yaml:"log_level"`
	HTTPAddr string `yaml:"http_addr"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `yaml:"enabled"`
	Namespace        string    `yaml:"namespace"`
	HistogramBuckets []float64 `yaml:"histogram_buckets"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig groups the tracing/metrics/logging ambient config.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// Config is the root configuration object.
type Config struct {
	Engine        EngineConfig        `yaml:"engine"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DefaultConfig returns a Config with sensible defaults, matching the
// JANA2 engine's own hardcoded defaults where spec.md names one.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			NThreads:            1,
			EventPoolSize:       16,
			EventQueueThreshold: 80,
			SourceChunksize:     40,
			ProcessorChunksize:  40,
			Affinity:            AffinityNone,
			Locality:            LocalityGlobal,
			EnableStealing:      false,
			TickerIntervalMS:    1000,
			ExtendedReport:      false,
			TimeoutEnabled:      true,
			TimeoutSec:          8,
			Backoff:             BackoffExponential,
			InitialBackoff:      10 * time.Millisecond,
			MaxBackoffTries:     4,
			CheckinTime:         500 * time.Millisecond,
		},
		Daemon: DaemonConfig{
			LogLevel: "info",
			HTTPAddr: "",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "jana2go",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "jana2go",
				HistogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file, overlaying it onto
// DefaultConfig so missing fields keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config,
// following the JANA_* naming convention.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("JANA_NTHREADS"); v != "" {
		if v == "Ncores" {
			cfg.Engine.NThreads = 0 // resolved by the caller against runtime.NumCPU
		} else if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.NThreads = n
		}
	}
	if v := os.Getenv("JANA_NSKIP"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Engine.NSkip = n
		}
	}
	if v := os.Getenv("JANA_NEVENTS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Engine.NEvents = n
		}
	}
	if v := os.Getenv("JANA_WIRING_FILE"); v != "" {
		cfg.Engine.WiringFile = v
	}
	if v := os.Getenv("JANA_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("JANA_ENABLE_STEALING"); v != "" {
		cfg.Engine.EnableStealing = v == "true" || v == "1"
	}
	if v := os.Getenv("JANA_TIMEOUT_ENABLED"); v != "" {
		cfg.Engine.TimeoutEnabled = v == "true" || v == "1"
	}
}

package config

// Package config provides structures and utilities for managing the
// Shoreline engine configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed
// from main.go via go:embed.
type EmbeddedConfig []byte

// EngineConfig holds the knobs of the batch processing engine itself.
type EngineConfig struct {
	// BatchSize is the number of records grouped into one batch.
	BatchSize int `yaml:"batch_size"`
	// MaxRetries is the total number of attempts allowed per stage per record,
	// including the first one.
	MaxRetries int `yaml:"max_retries"`
	// RetryBaseDelayMs is the base backoff delay in milliseconds. The delay
	// before attempt n is base * n.
	RetryBaseDelayMs int `yaml:"retry_base_delay_ms"`
	// Workers is the number of records processed concurrently within a batch.
	Workers int `yaml:"workers"`
	// ProgressIntervalRecords controls how often progress is reported.
	ProgressIntervalRecords int `yaml:"progress_interval_records"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig holds the connection settings of the versioned store.
type DatabaseConfig struct {
	// Type selects the driver: "postgres", "mysql" or "sqlite3".
	Type string `yaml:"type"`
	// DSN is the driver-specific data source name.
	DSN string `yaml:"dsn"`
	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int `yaml:"max_open_conns"`
	// MaxIdleConns bounds the idle connections kept in the pool.
	MaxIdleConns int `yaml:"max_idle_conns"`
	// AutoMigrate applies pending schema migrations on startup.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// ArtifactConfig controls where failure artifacts are written.
type ArtifactConfig struct {
	// Store selects the backend: "local" or "gcs".
	Store string `yaml:"store"`
	// Dir is the local directory for the "local" store.
	Dir string `yaml:"dir"`
	// Bucket is the GCS bucket name for the "gcs" store.
	Bucket string `yaml:"bucket"`
	// Prefix is prepended to every object name.
	Prefix string `yaml:"prefix"`
	// Format selects the serialization: "json" or "parquet".
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig controls the OTLP trace exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	// ServiceName overrides the reported service name.
	ServiceName string `yaml:"service_name"`
}

// ShorelineConfig holds all configuration under the "shoreline" top-level key.
type ShorelineConfig struct {
	// Engine contains the batch engine configuration.
	Engine EngineConfig `yaml:"engine"`
	// System contains system-wide configurations.
	System SystemConfig `yaml:"system"`
	// Database contains the versioned store connection settings.
	Database DatabaseConfig `yaml:"database"`
	// Artifact contains the failure artifact settings.
	Artifact ArtifactConfig `yaml:"artifact"`
	// Metrics contains the metrics exposition settings.
	Metrics MetricsConfig `yaml:"metrics"`
	// Tracing contains the trace exporter settings.
	Tracing TracingConfig `yaml:"tracing"`
	// Pipeline is the declarative pipeline definition.
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Shoreline ShorelineConfig `yaml:"shoreline"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		Shoreline: ShorelineConfig{
			Engine: EngineConfig{
				BatchSize:               100,
				MaxRetries:              3,
				RetryBaseDelayMs:        500,
				Workers:                 1,
				ProgressIntervalRecords: 1000,
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Database: DatabaseConfig{
				Type:         "sqlite3",
				DSN:          "file:shoreline.db?cache=shared",
				MaxOpenConns: 10,
				MaxIdleConns: 5,
				AutoMigrate:  true,
			},
			Artifact: ArtifactConfig{
				Store:  "local",
				Dir:    "artifacts",
				Format: "json",
			},
			Metrics: MetricsConfig{
				Enabled: false,
				Addr:    ":9090",
			},
			Tracing: TracingConfig{
				Enabled:     false,
				ServiceName: "shoreline",
			},
		},
	}
}

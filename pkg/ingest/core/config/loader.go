package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/shoreline/pkg/ingest/support/exception"
	"github.com/tigerroll/shoreline/pkg/ingest/support/logger"
)

const moduleName = "config"

// loadConfig loads configuration from the embedded YAML and environment
// variables. Defaults come first, the YAML overrides them, and environment
// variables override everything. ${VAR} placeholders inside the YAML are
// expanded before parsing.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	expanded, err := NewOsEnvironmentExpander().Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to expand environment variables in config", err)
	}

	var yamlConfig Config
	if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to unmarshal embedded config", err)
	}

	mergeConfig(cfg, &yamlConfig)

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to load config from environment variables", err)
	}
	return cfg, nil
}

// LoadConfig loads configuration from the embedded YAML and environment
// variables. It is expected to be called only once during application startup.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// Validate checks that the engine knobs are usable.
func (e *EngineConfig) Validate() error {
	if e.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", e.BatchSize)
	}
	if e.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive, got %d", e.MaxRetries)
	}
	if e.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", e.Workers)
	}
	return nil
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Values in sourceConfig overwrite corresponding values in destConfig
// if they are not zero values for their type.
func mergeConfig(destConfig, sourceConfig *Config) {
	mergeShorelineConfig(&destConfig.Shoreline, &sourceConfig.Shoreline)
}

func mergeShorelineConfig(dest, source *ShorelineConfig) {
	if source.Engine.BatchSize != 0 {
		dest.Engine.BatchSize = source.Engine.BatchSize
	}
	if source.Engine.MaxRetries != 0 {
		dest.Engine.MaxRetries = source.Engine.MaxRetries
	}
	if source.Engine.RetryBaseDelayMs != 0 {
		dest.Engine.RetryBaseDelayMs = source.Engine.RetryBaseDelayMs
	}
	if source.Engine.Workers != 0 {
		dest.Engine.Workers = source.Engine.Workers
	}
	if source.Engine.ProgressIntervalRecords != 0 {
		dest.Engine.ProgressIntervalRecords = source.Engine.ProgressIntervalRecords
	}

	if source.System.Timezone != "" {
		dest.System.Timezone = source.System.Timezone
	}
	if source.System.Logging.Level != "" {
		dest.System.Logging.Level = source.System.Logging.Level
	}

	if source.Database.Type != "" {
		dest.Database.Type = source.Database.Type
	}
	if source.Database.DSN != "" {
		dest.Database.DSN = source.Database.DSN
	}
	if source.Database.MaxOpenConns != 0 {
		dest.Database.MaxOpenConns = source.Database.MaxOpenConns
	}
	if source.Database.MaxIdleConns != 0 {
		dest.Database.MaxIdleConns = source.Database.MaxIdleConns
	}
	if source.Database.AutoMigrate {
		dest.Database.AutoMigrate = true
	}

	if source.Artifact.Store != "" {
		dest.Artifact.Store = source.Artifact.Store
	}
	if source.Artifact.Dir != "" {
		dest.Artifact.Dir = source.Artifact.Dir
	}
	if source.Artifact.Bucket != "" {
		dest.Artifact.Bucket = source.Artifact.Bucket
	}
	if source.Artifact.Prefix != "" {
		dest.Artifact.Prefix = source.Artifact.Prefix
	}
	if source.Artifact.Format != "" {
		dest.Artifact.Format = source.Artifact.Format
	}

	if source.Metrics.Enabled {
		dest.Metrics.Enabled = true
	}
	if source.Metrics.Addr != "" {
		dest.Metrics.Addr = source.Metrics.Addr
	}

	if source.Tracing.Enabled {
		dest.Tracing.Enabled = true
	}
	if source.Tracing.Endpoint != "" {
		dest.Tracing.Endpoint = source.Tracing.Endpoint
	}
	if source.Tracing.ServiceName != "" {
		dest.Tracing.ServiceName = source.Tracing.ServiceName
	}

	// The pipeline definition is taken wholesale from YAML; there is no
	// default pipeline to merge into.
	if len(source.Pipeline.Sources) != 0 || len(source.Pipeline.Stages) != 0 {
		dest.Pipeline = source.Pipeline
	}
}

// loadStructFromEnv recursively loads configuration values into a struct from
// environment variables. It uses the "yaml" tag to build the variable name,
// e.g. SHORELINE_ENGINE_BATCH_SIZE.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}

		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// setField sets the value of a reflect.Value field based on its kind.
// It handles string, int, float, and bool types.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}

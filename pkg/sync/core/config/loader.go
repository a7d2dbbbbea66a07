package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"

	"go.uber.org/fx"
)

// Package config loads application configuration from embedded YAML and
// environment variables, merged over built-in defaults.

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string `name:"envFilePath" optional:"true"`
}

// loadConfig loads configuration from embedded YAML and environment
// variables. Called once during application startup.
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
		return nil, exception.NewSyncError(moduleName, "failed to expand environment variables in embedded config", err, false, false)
	}

	var yamlConfig Config
	if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
		return nil, exception.NewSyncError(moduleName, "failed to unmarshal embedded config", err, false, false)
	}

	mergeConfig(cfg, &yamlConfig)

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewSyncError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It merges defaults, the embedded YAML, and environment variable overrides,
// then sets the global logger level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}

	GlobalConfig = cfg

	logger.SetLogLevel(cfg.Famsync.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Famsync.System.Logging.Level)

	return cfg, nil
}

// LoadConfig loads configuration from configuration files and environment
// variables. Expected to be called only once during application startup.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Non-zero values in sourceConfig overwrite the corresponding defaults.
func mergeConfig(destConfig, sourceConfig *Config) {
	mergeFamsyncConfig(&destConfig.Famsync, &sourceConfig.Famsync)
}

func mergeFamsyncConfig(dest, source *FamsyncConfig) {
	if source.Sync.JobKey != "" {
		dest.Sync.JobKey = source.Sync.JobKey
	}
	if source.Sync.ForceSync {
		dest.Sync.ForceSync = source.Sync.ForceSync
	}
	if source.Sync.MessageIDMaxAttempts != 0 {
		dest.Sync.MessageIDMaxAttempts = source.Sync.MessageIDMaxAttempts
	}
	mergeRetryConfig(&dest.Sync.Retry, &source.Sync.Retry)

	if source.CRM.BaseURL != "" {
		dest.CRM.BaseURL = source.CRM.BaseURL
	}
	if source.CRM.APIKey != "" {
		dest.CRM.APIKey = source.CRM.APIKey
	}
	if source.CRM.TimeoutSeconds != 0 {
		dest.CRM.TimeoutSeconds = source.CRM.TimeoutSeconds
	}

	if source.Queue.Addr != "" {
		dest.Queue.Addr = source.Queue.Addr
	}
	if source.Queue.Password != "" {
		dest.Queue.Password = source.Queue.Password
	}
	if source.Queue.DB != 0 {
		dest.Queue.DB = source.Queue.DB
	}
	if source.Queue.StreamKey != "" {
		dest.Queue.StreamKey = source.Queue.StreamKey
	}
	if source.Queue.VisibilityTimeoutSeconds != 0 {
		dest.Queue.VisibilityTimeoutSeconds = source.Queue.VisibilityTimeoutSeconds
	}
	if source.Queue.ReceiveTimeoutSeconds != 0 {
		dest.Queue.ReceiveTimeoutSeconds = source.Queue.ReceiveTimeoutSeconds
	}

	if source.Archive.Enabled {
		dest.Archive.Enabled = source.Archive.Enabled
	}
	if source.Archive.Storage != "" {
		dest.Archive.Storage = source.Archive.Storage
	}
	if source.Archive.LocalDir != "" {
		dest.Archive.LocalDir = source.Archive.LocalDir
	}
	if source.Archive.Bucket != "" {
		dest.Archive.Bucket = source.Archive.Bucket
	}
	if source.Archive.Prefix != "" {
		dest.Archive.Prefix = source.Archive.Prefix
	}
	if source.Archive.BatchSize != 0 {
		dest.Archive.BatchSize = source.Archive.BatchSize
	}
	if source.Archive.RetentionHours != 0 {
		dest.Archive.RetentionHours = source.Archive.RetentionHours
	}

	if source.Metrics.Enabled {
		dest.Metrics.Enabled = source.Metrics.Enabled
	}
	if source.Metrics.Addr != "" {
		dest.Metrics.Addr = source.Metrics.Addr
	}

	if source.Tracing.Enabled {
		dest.Tracing.Enabled = source.Tracing.Enabled
	}
	if source.Tracing.Endpoint != "" {
		dest.Tracing.Endpoint = source.Tracing.Endpoint
	}

	mergeSystemConfig(&dest.System, &source.System)

	if source.Infrastructure.SyncRepositoryDBRef != "" {
		dest.Infrastructure.SyncRepositoryDBRef = source.Infrastructure.SyncRepositoryDBRef
	}

	if source.Security.MaskedMemberKeys != nil {
		dest.Security.MaskedMemberKeys = source.Security.MaskedMemberKeys
	}

	if source.AdaptorConfigs != nil {
		if dest.AdaptorConfigs == nil {
			dest.AdaptorConfigs = make(map[string]interface{})
		}
		for key, value := range source.AdaptorConfigs {
			dest.AdaptorConfigs[key] = value
		}
	}
}

func mergeRetryConfig(dest, source *RetryConfig) {
	if source.MaxAttempts != 0 {
		dest.MaxAttempts = source.MaxAttempts
	}
	if source.InitialInterval != 0 {
		dest.InitialInterval = source.InitialInterval
	}
	if source.MaxInterval != 0 {
		dest.MaxInterval = source.MaxInterval
	}
	if source.Factor != 0 {
		dest.Factor = source.Factor
	}
	if source.CircuitBreakerThreshold != 0 {
		dest.CircuitBreakerThreshold = source.CircuitBreakerThreshold
	}
	if source.CircuitBreakerResetInterval != 0 {
		dest.CircuitBreakerResetInterval = source.CircuitBreakerResetInterval
	}
}

func mergeSystemConfig(dest, source *SystemConfig) {
	if source.Timezone != "" {
		dest.Timezone = source.Timezone
	}
	if source.Logging.Level != "" {
		dest.Logging.Level = source.Logging.Level
	}
}

// loadStructFromEnv recursively loads configuration values into a struct from
// environment variables, deriving variable names from "yaml" tags
// (e.g., FAMSYNC_CRM_BASE_URL).
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

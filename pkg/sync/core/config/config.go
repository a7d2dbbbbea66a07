package config

// Package config provides structures and utilities for managing application
// configuration.

// EmbeddedConfig holds the content of the configuration file, typically
// passed from main.go when loading from an embedded source.
type EmbeddedConfig []byte

// RetryConfig holds configuration for the CRM call retry decorator.
type RetryConfig struct {
	MaxAttempts                 int     `yaml:"max_attempts"`                   // MaxAttempts is the maximum number of retry attempts.
	InitialInterval             int     `yaml:"initial_interval"`               // InitialInterval is the initial backoff interval in milliseconds.
	MaxInterval                 int     `yaml:"max_interval"`                   // MaxInterval is the maximum backoff interval in milliseconds.
	Factor                      float64 `yaml:"factor"`                         // Factor is the multiplier applied to the interval after each attempt.
	CircuitBreakerThreshold     int     `yaml:"circuit_breaker_threshold"`      // CircuitBreakerThreshold is the number of consecutive failures to open the circuit.
	CircuitBreakerResetInterval int     `yaml:"circuit_breaker_reset_interval"` // CircuitBreakerResetInterval is the time in milliseconds before attempting to close the circuit.
}

// SyncConfig holds configuration specific to the reconciliation engine.
type SyncConfig struct {
	// JobKey is the domain event type recorded on created Jobs.
	JobKey string `yaml:"job_key"`
	// ForceSync bypasses staleness detection and always re-fetches from the CRM.
	ForceSync bool `yaml:"force_sync"`
	// MessageIDMaxAttempts bounds the generate-and-check loop for Job message ids.
	MessageIDMaxAttempts int `yaml:"message_id_max_attempts"`
	// Retry is the retry configuration for CRM calls.
	Retry RetryConfig `yaml:"retry"`
}

// CRMConfig holds the connection settings for the third-party CRM.
type CRMConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// QueueConfig holds the inbound Redis event source settings.
type QueueConfig struct {
	Addr                     string `yaml:"addr"`
	Password                 string `yaml:"password"`
	DB                       int    `yaml:"db"`
	StreamKey                string `yaml:"stream_key"`
	VisibilityTimeoutSeconds int    `yaml:"visibility_timeout_seconds"`
	ReceiveTimeoutSeconds    int    `yaml:"receive_timeout_seconds"`
}

// ArchiveConfig holds the audit archival settings.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled"`
	// Storage selects the target adapter: "local" or "gcs".
	Storage string `yaml:"storage"`
	// LocalDir is the output directory for the local adapter.
	LocalDir string `yaml:"local_dir"`
	// Bucket and Prefix address the GCS adapter target.
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	// BatchSize is the number of finished Jobs exported per run.
	BatchSize int `yaml:"batch_size"`
	// RetentionHours is how long a Job must be finished before it is archived.
	RetentionHours int `yaml:"retention_hours"`
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig holds the OTLP trace exporter settings.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedMemberKeys is a list of payload keys whose values are masked when
	// family documents are logged.
	MaskedMemberKeys []string `yaml:"masked_member_keys"`
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

// InfrastructureConfig holds logical dependency settings for infrastructure
// components.
type InfrastructureConfig struct {
	// SyncRepositoryDBRef is the name of the DBConnection used by the
	// SyncRepository (e.g., "audit").
	SyncRepositoryDBRef string `yaml:"sync_repository_db_ref"`
}

// FamsyncConfig holds all configuration under the "famsync" top-level key.
type FamsyncConfig struct {
	Sync           SyncConfig           `yaml:"sync"`
	CRM            CRMConfig            `yaml:"crm"`
	Queue          QueueConfig          `yaml:"queue"`
	Archive        ArchiveConfig        `yaml:"archive"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Tracing        TracingConfig        `yaml:"tracing"`
	System         SystemConfig         `yaml:"system"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	Security       SecurityConfig       `yaml:"security"`
	// AdaptorConfigs holds database connection configurations keyed by name.
	AdaptorConfigs map[string]interface{} `yaml:"database"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Famsync FamsyncConfig `yaml:"famsync"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not
	// from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// GlobalConfig is a pointer to the configuration instance shared across the
// application. It is set by NewConfigProvider.
var GlobalConfig *Config

// GetMaskedMemberKeys retrieves the list of payload keys to mask from the
// global configuration.
func GetMaskedMemberKeys() []string {
	if GlobalConfig == nil {
		return []string{}
	}
	return GlobalConfig.Famsync.Security.MaskedMemberKeys
}

// NewConfig returns a new Config instance with default values.
func NewConfig() *Config {
	cfg := &Config{
		Famsync: FamsyncConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Sync: SyncConfig{
				JobKey:               "family_updated",
				MessageIDMaxAttempts: 5,
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: 500,
					MaxInterval:     5000,
					Factor:          2.0,
				},
			},
			CRM: CRMConfig{
				TimeoutSeconds: 30,
			},
			Queue: QueueConfig{
				Addr:                     "localhost:6379",
				StreamKey:                "famsync:inbound",
				VisibilityTimeoutSeconds: 60,
				ReceiveTimeoutSeconds:    5,
			},
			Archive: ArchiveConfig{
				Storage:        "local",
				LocalDir:       "archive",
				BatchSize:      100,
				RetentionHours: 24,
			},
			Metrics: MetricsConfig{
				Addr: ":9464",
			},
			Infrastructure: InfrastructureConfig{
				SyncRepositoryDBRef: "audit",
			},
			Security: SecurityConfig{
				MaskedMemberKeys: []string{"firstName", "lastName", "email", "phone"},
			},
		},
	}

	cfg.Famsync.AdaptorConfigs = map[string]interface{}{}
	return cfg
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", EmbeddedConfig(""))
	require.NoError(t, err)

	assert.Equal(t, "family_updated", cfg.Famsync.Sync.JobKey)
	assert.Equal(t, 3, cfg.Famsync.Sync.Retry.MaxAttempts)
	assert.Equal(t, "UTC", cfg.Famsync.System.Timezone)
	assert.Equal(t, "INFO", cfg.Famsync.System.Logging.Level)
	assert.Equal(t, "audit", cfg.Famsync.Infrastructure.SyncRepositoryDBRef)
	assert.Contains(t, cfg.Famsync.Security.MaskedMemberKeys, "email")
}

func TestLoadConfigMergesYAML(t *testing.T) {
	yamlDoc := `
famsync:
  sync:
    job_key: family_imported
    retry:
      max_attempts: 7
  crm:
    base_url: https://crm.example.com/api
  system:
    logging:
      level: DEBUG
  database:
    audit:
      type: postgres
      host: db.example.com
`
	cfg, err := LoadConfig("", EmbeddedConfig(yamlDoc))
	require.NoError(t, err)

	assert.Equal(t, "family_imported", cfg.Famsync.Sync.JobKey)
	assert.Equal(t, 7, cfg.Famsync.Sync.Retry.MaxAttempts)
	// Unset nested values keep their defaults.
	assert.Equal(t, 2.0, cfg.Famsync.Sync.Retry.Factor)
	assert.Equal(t, "https://crm.example.com/api", cfg.Famsync.CRM.BaseURL)
	assert.Equal(t, "DEBUG", cfg.Famsync.System.Logging.Level)
	require.Contains(t, cfg.Famsync.AdaptorConfigs, "audit")
}

func TestLoadConfigExpandsPlaceholders(t *testing.T) {
	t.Setenv("TEST_CRM_BASE_URL", "https://crm.example.com/api")

	cfg, err := LoadConfig("", EmbeddedConfig("famsync:\n  crm:\n    base_url: \"${TEST_CRM_BASE_URL}\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "https://crm.example.com/api", cfg.Famsync.CRM.BaseURL)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("FAMSYNC_CRM_BASE_URL", "https://override.example.com")
	t.Setenv("FAMSYNC_SYNC_RETRY_MAX_ATTEMPTS", "9")
	t.Setenv("FAMSYNC_SYNC_FORCE_SYNC", "true")

	cfg, err := LoadConfig("", EmbeddedConfig("famsync:\n  crm:\n    base_url: https://yaml.example.com\n"))
	require.NoError(t, err)

	assert.Equal(t, "https://override.example.com", cfg.Famsync.CRM.BaseURL)
	assert.Equal(t, 9, cfg.Famsync.Sync.Retry.MaxAttempts)
	assert.True(t, cfg.Famsync.Sync.ForceSync)
}

package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "32-byte-key-for-aes-encryption!!"

func TestLoad_MissingAPIKey(t *testing.T) {
	t.Setenv("PLATFORM_API_KEY", "")
	t.Setenv("ENCRYPTION_KEY", testKey)

	cfg, err := Load()
	assert.Nil(t, cfg)
	assert.True(t, errors.Is(err, ErrMissingAPIKey))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PLATFORM_API_KEY", "rnd_test")
	t.Setenv("ENCRYPTION_KEY", testKey)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "rnd_test", cfg.Platform.APIKey)
	assert.Equal(t, "https://api.render.com/v1", cfg.Platform.BaseURL)
	assert.Equal(t, 3, cfg.Jobs.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Jobs.RetryBaseDelay)
	assert.Equal(t, time.Duration(0), cfg.Jobs.ReconcileInterval)
	assert.Equal(t, "tenants.lifecycle", cfg.NATS.Subject)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PLATFORM_API_KEY", "rnd_test")
	t.Setenv("ENCRYPTION_KEY", testKey)
	t.Setenv("JOB_WORKERS", "8")
	t.Setenv("JOB_RETRY_BASE_DELAY", "2s")
	t.Setenv("PLATFORM_RPS", "0.5")
	t.Setenv("DB_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Jobs.Workers)
	assert.Equal(t, 2*time.Second, cfg.Jobs.RetryBaseDelay)
	assert.Equal(t, 0.5, cfg.Platform.RequestsPerSecond)
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestValidate_Workers(t *testing.T) {
	t.Setenv("PLATFORM_API_KEY", "rnd_test")
	t.Setenv("ENCRYPTION_KEY", testKey)
	t.Setenv("JOB_WORKERS", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=disable", c.DSN())
	assert.Equal(t, "postgres://u:p@db:5433/n?sslmode=disable", c.URL())
}

func TestValidate_EncryptionKey(t *testing.T) {
	t.Setenv("PLATFORM_API_KEY", "rnd_test")
	t.Setenv("ENCRYPTION_KEY", "too-short")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDatabase_IgnoresPlatformSettings(t *testing.T) {
	t.Setenv("PLATFORM_API_KEY", "")
	t.Setenv("DB_NAME", "provisioning")

	cfg, err := LoadDatabase()
	require.NoError(t, err)
	assert.Equal(t, "provisioning", cfg.Name)
	assert.Equal(t, "localhost", cfg.Host)
}

func TestValidate_JobTimeoutBelowLockTTL(t *testing.T) {
	t.Setenv("PLATFORM_API_KEY", "rnd_test")
	t.Setenv("ENCRYPTION_KEY", testKey)
	t.Setenv("JOB_LOCK_TTL", "5m")
	t.Setenv("JOB_TIMEOUT", "5m")

	_, err := Load()
	assert.ErrorContains(t, err, "JOB_TIMEOUT")
}

func TestValidate_StaleAfterCoversRetryDelay(t *testing.T) {
	t.Setenv("PLATFORM_API_KEY", "rnd_test")
	t.Setenv("ENCRYPTION_KEY", testKey)
	t.Setenv("RECONCILE_INTERVAL", "1m")

	// 240s before the last retry plus a 15m lock
	t.Setenv("RECONCILE_STALE_AFTER", "19m")
	_, err := Load()
	assert.ErrorContains(t, err, "RECONCILE_STALE_AFTER must exceed 19m0s")

	t.Setenv("RECONCILE_STALE_AFTER", "20m")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 240*time.Second, cfg.Jobs.MaxRetryDelay())
	assert.Equal(t, 10*time.Minute, cfg.Jobs.JobTimeout)
}

func TestJobsConfig_MaxRetryDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), JobsConfig{MaxRetries: 0, RetryBaseDelay: time.Minute}.MaxRetryDelay())
	assert.Equal(t, time.Minute, JobsConfig{MaxRetries: 1, RetryBaseDelay: time.Minute}.MaxRetryDelay())
	assert.Equal(t, 8*time.Minute, JobsConfig{MaxRetries: 4, RetryBaseDelay: time.Minute}.MaxRetryDelay())
}

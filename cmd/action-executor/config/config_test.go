package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("POSTGRES_USER", "executor")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DATABASE", "actions")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "actions", cfg.Exchange)
	assert.Equal(t, "action-executor", cfg.Queue)
	assert.Equal(t, "actions.exec.#", cfg.BindPattern)
	assert.Equal(t, "throttle.exec", cfg.ThrottlePrefix)
	assert.Equal(t, 3, cfg.DefaultRetryRemaining)
	assert.Equal(t, []int{408, 503, 504}, cfg.RetryStatuses)
	assert.Equal(t, int64(5), cfg.RateLimitBufferSeconds)
	assert.Equal(t, int64(3600000), cfg.QuotaDelayMS)
}

func TestLoadRequiresPostgresCredentials(t *testing.T) {
	// t.Setenv registers the restore; unsetting afterwards guarantees the
	// variable is absent regardless of the ambient test environment.
	for _, key := range []string{"POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DATABASE"} {
		t.Setenv(key, "placeholder")
		_ = os.Unsetenv(key)
	}

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RETRY_STATUSES", "429,500")
	t.Setenv("THROTTLE_PREFIX", "actions.throttle")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []int{429, 500}, cfg.RetryStatuses)
	assert.Equal(t, "actions.throttle", cfg.ThrottlePrefix)
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{
		PostgresHost:     "db",
		PostgresPort:     5432,
		PostgresUser:     "executor",
		PostgresPassword: "secret",
		PostgresDatabase: "actions",
		PostgresSSLMode:  "require",
	}
	assert.Equal(t,
		"host=db port=5432 user=executor password=secret dbname=actions sslmode=require",
		cfg.PostgresDSN())
}

func TestIsRetryStatus(t *testing.T) {
	cfg := &Config{RetryStatuses: []int{408, 503, 504}}
	assert.True(t, cfg.IsRetryStatus(503))
	assert.False(t, cfg.IsRetryStatus(429))
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9999")
	t.Setenv("STORE_DRIVER", "PEBBLE")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("SEND_RATE_BURST", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.HTTP.Port)
	assert.Equal(t, DriverPebble, cfg.Storage.Driver)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 3, cfg.Messaging.SendBurst)
	assert.Equal(t, float64(5), cfg.Messaging.SendRPS)
	assert.Equal(t, "dm.events", cfg.AMQP.EventsExchange)
}

func TestLoadMergesYAMLFileBeforeEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: "7000"
  debug_routes: true
storage:
  driver: pebble
  pebble_path: /tmp/dm
auth:
  jwt_secret: from-file
messaging:
  purge_cron: "*/5 * * * *"
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7001")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7001", cfg.HTTP.Port)
	assert.True(t, cfg.HTTP.DebugRoutes)
	assert.Equal(t, "/tmp/dm", cfg.Storage.PebblePath)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, "*/5 * * * *", cfg.Messaging.PurgeCron)
	assert.Equal(t, "dm-service", cfg.ServiceName)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("SEND_RATE_RPS", "fast")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "missing secret")

	cfg.Auth.JWTSecret = "x"
	assert.NoError(t, cfg.Validate())

	cfg.Storage.Driver = "sqlite"
	assert.Error(t, cfg.Validate())
}

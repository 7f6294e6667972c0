package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadServer_SubstitutesEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("WP_JWT_SECRET", "s3cret")
	t.Setenv("DB_PORT", "")
	path := writeConfig(t, `
database:
  driver: sqlite
  path: /tmp/workpulse.db
auth:
  jwt_secret: ${WP_JWT_SECRET}
attendance:
  timezone: Europe/Berlin
`)

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, 30, cfg.Activity.DefaultInterval)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadServer_PostgresPortFromEnv(t *testing.T) {
	t.Setenv("DB_PORT", "6543")
	path := writeConfig(t, `
database:
  host: db
  user: wp
  password: pw
  dbname: workpulse
auth:
  jwt_secret: x
`)

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "postgres://wp:pw@db:6543/workpulse?sslmode=disable", cfg.Database.DSN())
}

func TestLoadServer_ValidationAggregates(t *testing.T) {
	t.Setenv("DB_PORT", "")
	path := writeConfig(t, `
database:
  driver: sqlite
auth:
  jwt_secret: ${UNSET_WORKPULSE_SECRET}
discord:
  token: abc
`)

	_, err := LoadServer(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
	assert.Contains(t, err.Error(), "auth.jwt_secret")
	assert.Contains(t, err.Error(), "discord.token")
}

func TestLoadAgent_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadAgent(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Agent.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.Agent.SampleInterval)
	assert.Equal(t, 30*time.Second, cfg.Agent.TransmitInterval)
	assert.Equal(t, 60*time.Second, cfg.Agent.IdleThreshold)
	assert.NotEmpty(t, cfg.Agent.StatePath)
}

func TestLoadAgent_ParsesDurations(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: https://hr.example.com
  timeout: 10s
agent:
  state_path: /var/lib/workagent/state.db
  poll_interval: 15s
log:
  level: debug
`)

	cfg, err := LoadAgent(path)
	require.NoError(t, err)
	assert.Equal(t, "https://hr.example.com", cfg.Server.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Server.Timeout)
	assert.Equal(t, 15*time.Second, cfg.Agent.PollInterval)
	assert.Equal(t, "DEBUG", cfg.Log.SlogLevel().String())
}

func TestLoadAgent_RejectsBadURL(t *testing.T) {
	path := writeConfig(t, "server:\n  base_url: localhost:8080\n")
	_, err := LoadAgent(path)
	assert.Error(t, err)
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old := SearchPaths
	SearchPaths = []string{dir}
	t.Cleanup(func() { SearchPaths = old })
	return dir
}

func TestLoadDefaultsNeedDSN(t *testing.T) {
	isolate(t)
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")
}

func TestLoadMemoryDriverUsesDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("DELPHI_DATABASE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Scheduler, cfg.Scheduler)
	assert.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "local", cfg.Ticketing.Backend)
	assert.False(t, cfg.VaultEnabled())
}

func TestLoadFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "custom.yaml", `
database:
  dsn: postgres://delphi@db/delphi
scheduler:
  tick: 30s
  alert_overlap: 2m
  lock:
    redis_url: redis://cache:6379/0
wazuh:
  vulnerability_index: wazuh-states-vulnerabilities-*
ticketing:
  backend: glpi
  glpi:
    url: https://glpi.example.com/apirest.php
    user_token: tok
secrets:
  vault:
    address: https://vault:8200
    auth: approle
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://delphi@db/delphi", cfg.Database.DSN)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Tick)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.AlertOverlap)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.AlertLookback, "unset keys keep their default")
	assert.Equal(t, "redis://cache:6379/0", cfg.Scheduler.Lock.RedisURL)
	assert.Equal(t, "wazuh-states-vulnerabilities-*", cfg.Wazuh.VulnerabilityIndex)
	assert.Equal(t, "tok", cfg.Ticketing.GLPI.UserToken)
	require.True(t, cfg.VaultEnabled())
	assert.Equal(t, "approle", cfg.Secrets.Vault.Auth)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "delphi-sync.yaml", "database:\n  dsn: postgres://file\nlog:\n  level: INFO\n")
	t.Setenv("DELPHI_DATABASE_DSN", "postgres://env")
	t.Setenv("DELPHI_SCHEDULER_CONCURRENCY", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.Database.DSN)
	assert.Equal(t, 9, cfg.Scheduler.Concurrency)
}

func TestDotEnvNextToConfig(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "delphi-sync.yaml", "database:\n  driver: memory\n")
	writeFile(t, dir, ".env", "DELPHI_NATS_SUBJECT_PREFIX=from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("DELPHI_NATS_SUBJECT_PREFIX") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.NATS.SubjectPrefix)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	_, err := Load(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateReportsEveryField(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "LOUD"
	cfg.Ticketing.Backend = "glpi"
	cfg.API.Listen = "not a listen address"

	err := Validate(&cfg)
	require.Error(t, err)
	for _, want := range []string{"log.level", "database.dsn", "api.listen", "ticketing.glpi.url", "ticketing.glpi.user_token"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestHTTPClientSettings(t *testing.T) {
	cfg := Default()
	cfg.HTTP.InsecureSkipVerify = true
	hc := cfg.HTTPClient()
	assert.Equal(t, 10*time.Second, hc.Timeout)
	assert.True(t, hc.TLSConfig.InsecureSkipVerify)
	require.NotNil(t, hc.BreakerConfig)
	assert.Equal(t, uint32(5), hc.BreakerConfig.ConsecutiveFailures)

	cfg.HTTP.BreakerFailures = 0
	assert.Nil(t, cfg.HTTPClient().BreakerConfig)
}

func TestWriteFileRoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "etc", DefaultFileName)
	cfg := Default()
	cfg.Database.DSN = "postgres://delphi@db/delphi"
	cfg.Scheduler.Tick = 45 * time.Second

	require.NoError(t, WriteFile(context.Background(), path, cfg, false))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerm), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Database.DSN, loaded.Database.DSN)
	assert.Equal(t, 45*time.Second, loaded.Scheduler.Tick)

	err = WriteFile(context.Background(), path, cfg, false)
	assert.ErrorIs(t, err, ErrExists)
	assert.NoError(t, WriteFile(context.Background(), path, cfg, true))
}

package app

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/config"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/events"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/glpi"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/secrets"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.Driver = "memory"
	return &cfg
}

func TestNewMemoryPipeline(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close(ctx)) })

	assert.NotNil(t, a.Scheduler)
	assert.NotNil(t, a.Tickets)
	assert.IsType(t, events.Nop{}, a.Events)

	srv := httptest.NewServer(a.Server())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewUsesGivenTables(t *testing.T) {
	tables := store.NewMemoryTables()
	cfg := memoryConfig()
	cfg.Database.Driver = "postgres"

	a, err := New(context.Background(), cfg, WithTables(tables))
	require.NoError(t, err)
	assert.Same(t, tables, a.Tables)
}

func TestNewLoadsKeyFile(t *testing.T) {
	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(key)), 0o600))

	cfg := memoryConfig()
	cfg.Secrets.KeyFile = path
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)

	sealed, err := a.Secrets.Seal("hunter2")
	require.NoError(t, err)
	plain, err := a.Secrets.Resolve(context.Background(), sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestNewFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing key file", func(c *config.Config) { c.Secrets.KeyFile = "/nonexistent/delphi.key" }},
		{"unreachable nats", func(c *config.Config) { c.NATS.URL = "nats://127.0.0.1:1" }},
		{"bad redis url", func(c *config.Config) { c.Scheduler.Lock.RedisURL = "mysql://nope" }},
		{"postgres without dsn", func(c *config.Config) { c.Database.Driver = "postgres" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg)
			assert.Error(t, err)
		})
	}
}

func TestGLPIBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Ticketing.Backend = "glpi"
	cfg.Ticketing.GLPI = glpi.Config{URL: "http://127.0.0.1:1/apirest.php", UserToken: "t"}

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, a.closers, 1, "the glpi session is closed with the app")
}

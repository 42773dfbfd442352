package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, wantErr: "Timeout"},
		{name: "zero rps", mutate: func(c *Config) { c.RateLimitConfig.RequestsPerSecond = 0 }, wantErr: "RequestsPerSecond"},
		{name: "zero burst", mutate: func(c *Config) { c.RateLimitConfig.BurstSize = 0 }, wantErr: "BurstSize"},
		{name: "zero breaker threshold", mutate: func(c *Config) { c.BreakerConfig.ConsecutiveFailures = 0 }, wantErr: "ConsecutiveFailures"},
		{name: "no optional sections", mutate: func(c *Config) {
			c.RateLimitConfig = nil
			c.BreakerConfig = nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Field, tt.wantErr)
		})
	}
}

func TestDefaultTimeoutIsTenSeconds(t *testing.T) {
	assert.Equal(t, 10*time.Second, DefaultConfig().Timeout)
}

func TestBuildTLSConfig(t *testing.T) {
	cfg, err := BuildTLSConfig(&TLSConfig{InsecureSkipVerify: true})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)

	_, err = BuildTLSConfig(&TLSConfig{RootCAFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a cert"), 0600))
	_, err = BuildTLSConfig(&TLSConfig{RootCAFile: bad})
	assert.Error(t, err)
}

func TestClientTrustPolicy(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	strict := DefaultConfig()
	strictClient, err := NewClient(strict)
	require.NoError(t, err)
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	_, err = strictClient.Do(req)
	assert.Error(t, err, "self-signed certificate must be rejected by default")

	lax, err := NewClient(TestConfig())
	require.NoError(t, err)
	req, _ = http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	resp, err := lax.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestClientBreakerTripsOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := TestConfig()
	cfg.BreakerConfig.ConsecutiveFailures = 2
	client, err := NewClient(cfg)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
		resp, err := client.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	_, err = client.Do(req)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())

	u, _ := url.Parse(srv.URL)
	assert.Equal(t, "open", client.BreakerState(u.Host))
	assert.Equal(t, "none", client.BreakerState("elsewhere:1"))
}

func TestClientClientErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := TestConfig()
	cfg.BreakerConfig.ConsecutiveFailures = 1
	client, err := NewClient(cfg)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

package httpclient

import (
	"crypto/tls"
	"fmt"
	"time"
)

// Config represents HTTP client configuration options
type Config struct {
	Timeout   time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	UserAgent string        `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`

	TLSConfig       *TLSConfig       `json:"tls" yaml:"tls" mapstructure:"tls"`
	RateLimitConfig *RateLimitConfig `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`
	BreakerConfig   *BreakerConfig   `json:"breaker" yaml:"breaker" mapstructure:"breaker"`
	PoolConfig      *PoolConfig      `json:"pool" yaml:"pool" mapstructure:"pool"`
}

// TLSConfig defines the trust policy toward Wazuh, indexer and GLPI endpoints.
type TLSConfig struct {
	InsecureSkipVerify bool   `json:"insecure_skip_verify" yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	MinVersion         uint16 `json:"min_version" yaml:"min_version" mapstructure:"min_version"`
	RootCAFile         string `json:"root_ca_file" yaml:"root_ca_file" mapstructure:"root_ca_file"`
}

// RateLimitConfig defines rate limiting behavior
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `json:"burst_size" yaml:"burst_size" mapstructure:"burst_size"`
}

// BreakerConfig controls the per-host circuit breaker.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32 `json:"consecutive_failures" yaml:"consecutive_failures" mapstructure:"consecutive_failures"`
	// OpenTimeout is how long the breaker stays open before a half-open probe.
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout" mapstructure:"open_timeout"`
}

// PoolConfig defines connection pool settings
type PoolConfig struct {
	MaxIdleConns        int           `json:"max_idle_conns" yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host" mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout" yaml:"idle_conn_timeout" mapstructure:"idle_conn_timeout"`
	DialTimeout         time.Duration `json:"dial_timeout" yaml:"dial_timeout" mapstructure:"dial_timeout"`
	KeepAlive           time.Duration `json:"keep_alive" yaml:"keep_alive" mapstructure:"keep_alive"`
}

// DefaultConfig returns a secure default configuration. Wazuh calls are
// bounded to 10s end to end.
func DefaultConfig() *Config {
	return &Config{
		Timeout:   10 * time.Second,
		UserAgent: "delphi-sync/1.0 (https://cybermonkey.net.au)",

		TLSConfig: &TLSConfig{
			InsecureSkipVerify: false,
			MinVersion:         tls.VersionTLS12,
		},

		RateLimitConfig: &RateLimitConfig{
			RequestsPerSecond: 10.0,
			BurstSize:         20,
		},

		BreakerConfig: &BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         60 * time.Second,
		},

		PoolConfig: &PoolConfig{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialTimeout:         5 * time.Second,
			KeepAlive:           30 * time.Second,
		},
	}
}

// TestConfig returns a configuration suitable for httptest servers
func TestConfig() *Config {
	config := DefaultConfig()
	config.TLSConfig.InsecureSkipVerify = true
	config.Timeout = 2 * time.Second
	config.PoolConfig.DialTimeout = 1 * time.Second
	config.RateLimitConfig.RequestsPerSecond = 1000
	config.RateLimitConfig.BurstSize = 1000
	return config
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return &ConfigError{Field: "Timeout", Message: "must be positive"}
	}

	if c.RateLimitConfig != nil {
		if c.RateLimitConfig.RequestsPerSecond <= 0 {
			return &ConfigError{Field: "RateLimitConfig.RequestsPerSecond", Message: "must be positive"}
		}
		if c.RateLimitConfig.BurstSize <= 0 {
			return &ConfigError{Field: "RateLimitConfig.BurstSize", Message: "must be positive"}
		}
	}

	if c.BreakerConfig != nil {
		if c.BreakerConfig.ConsecutiveFailures == 0 {
			return &ConfigError{Field: "BreakerConfig.ConsecutiveFailures", Message: "must be positive"}
		}
		if c.BreakerConfig.OpenTimeout <= 0 {
			return &ConfigError{Field: "BreakerConfig.OpenTimeout", Message: "must be positive"}
		}
	}

	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config field %s: %s", e.Field, e.Message)
}

// Package config loads delphi-sync settings from a YAML file, an optional
// .env file and DELPHI_* environment variables, in increasing precedence.
// Per-connection settings live in the store, not here.
package config

import (
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/glpi"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/httpclient"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/secrets"
)

const (
	EnvPrefix       = "DELPHI"
	DefaultFileName = "delphi-sync.yaml"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Wazuh     WazuhConfig     `mapstructure:"wazuh" yaml:"wazuh"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Secrets   SecretsConfig   `mapstructure:"secrets" yaml:"secrets"`
	Ticketing TicketingConfig `mapstructure:"ticketing" yaml:"ticketing"`
	NATS      NATSConfig      `mapstructure:"nats" yaml:"nats"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Path        string `mapstructure:"path" yaml:"path,omitempty"`
	ConsoleOnly bool   `mapstructure:"console_only" yaml:"console_only"`
}

type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path,omitempty"`
}

type DatabaseConfig struct {
	// Driver is postgres, or memory for dry runs.
	Driver          string        `mapstructure:"driver" yaml:"driver" validate:"oneof=postgres memory"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn,omitempty" validate:"required_if=Driver postgres"`
	AutoMigrate     bool          `mapstructure:"auto_migrate" yaml:"auto_migrate"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

type HTTPConfig struct {
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	CAFile             string        `mapstructure:"ca_file" yaml:"ca_file,omitempty" validate:"omitempty,file"`
	RatePerSecond      float64       `mapstructure:"rate_per_second" yaml:"rate_per_second" validate:"gte=0"`
	Burst              int           `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
	BreakerFailures    uint32        `mapstructure:"breaker_failures" yaml:"breaker_failures"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout" yaml:"breaker_open_timeout"`
}

type WazuhConfig struct {
	VulnerabilityIndex string `mapstructure:"vulnerability_index" yaml:"vulnerability_index"`
	AlertIndex         string `mapstructure:"alert_index" yaml:"alert_index"`
	SearchPageSize     int    `mapstructure:"search_page_size" yaml:"search_page_size" validate:"gte=0,lte=10000"`
}

type SchedulerConfig struct {
	Tick           time.Duration `mapstructure:"tick" yaml:"tick" validate:"gte=0"`
	Concurrency    int           `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=0"`
	AlertLookback  time.Duration `mapstructure:"alert_lookback" yaml:"alert_lookback" validate:"gte=0"`
	AlertOverlap   time.Duration `mapstructure:"alert_overlap" yaml:"alert_overlap"`
	GroupCacheSize int           `mapstructure:"group_cache_size" yaml:"group_cache_size" validate:"gte=0"`
	Lock           LockConfig    `mapstructure:"lock" yaml:"lock"`
}

// LockConfig enables the cross-process lock when RedisURL is set.
type LockConfig struct {
	RedisURL string        `mapstructure:"redis_url" yaml:"redis_url,omitempty" validate:"omitempty,url"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type SecretsConfig struct {
	// KeyFile holds the 32-byte key for enc: secrets, hex or base64.
	KeyFile string               `mapstructure:"key_file" yaml:"key_file,omitempty"`
	Vault   *secrets.VaultConfig `mapstructure:"vault" yaml:"vault,omitempty"`
}

type TicketingConfig struct {
	Backend  string      `mapstructure:"backend" yaml:"backend" validate:"oneof=local glpi"`
	LinkBase string      `mapstructure:"link_base" yaml:"link_base,omitempty"`
	GLPI     glpi.Config `mapstructure:"glpi" yaml:"glpi,omitempty" validate:"-"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url" yaml:"url,omitempty"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen" validate:"omitempty,hostname_port"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Log:      LogConfig{Level: "INFO"},
		Database: DatabaseConfig{Driver: "postgres", AutoMigrate: true, MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Hour},
		HTTP: HTTPConfig{
			Timeout:            10 * time.Second,
			RatePerSecond:      10,
			Burst:              20,
			BreakerFailures:    5,
			BreakerOpenTimeout: 30 * time.Second,
		},
		Wazuh: WazuhConfig{SearchPageSize: 1000},
		Scheduler: SchedulerConfig{
			Tick:           time.Minute,
			Concurrency:    4,
			AlertLookback:  24 * time.Hour,
			AlertOverlap:   5 * time.Minute,
			GroupCacheSize: 4096,
			Lock:           LockConfig{TTL: 30 * time.Minute},
		},
		Ticketing: TicketingConfig{Backend: "local"},
		NATS:      NATSConfig{SubjectPrefix: "delphi"},
		API:       APIConfig{Listen: "127.0.0.1:8420"},
	}
}

// HTTPClient translates the http section into an httpclient.Config.
func (c *Config) HTTPClient() *httpclient.Config {
	hc := httpclient.DefaultConfig()
	hc.Timeout = c.HTTP.Timeout
	hc.TLSConfig.InsecureSkipVerify = c.HTTP.InsecureSkipVerify
	hc.TLSConfig.RootCAFile = c.HTTP.CAFile
	if c.HTTP.RatePerSecond > 0 {
		hc.RateLimitConfig.RequestsPerSecond = c.HTTP.RatePerSecond
		hc.RateLimitConfig.BurstSize = c.HTTP.Burst
	}
	if c.HTTP.BreakerFailures == 0 {
		hc.BreakerConfig = nil
	} else {
		hc.BreakerConfig.ConsecutiveFailures = c.HTTP.BreakerFailures
		hc.BreakerConfig.OpenTimeout = c.HTTP.BreakerOpenTimeout
	}
	return hc
}

// VaultEnabled reports whether vault: references can be resolved.
func (c *Config) VaultEnabled() bool {
	return c.Secrets.Vault != nil && c.Secrets.Vault.Address != ""
}

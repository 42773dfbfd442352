// pkg/httpclient/client.go

package httpclient

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	cerr "github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned while a host's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

var errServerStatus = errors.New("server error status")

// Client wraps http.Client with a shared rate limiter and one circuit
// breaker per target host. Transport errors and 5xx responses count as
// breaker failures; 4xx responses do not.
type Client struct {
	cfg     *Config
	http    *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tlsConfig, err := BuildTLSConfig(cfg.TLSConfig)
	if err != nil {
		return nil, cerr.Wrap(err, "build TLS config")
	}

	pool := cfg.PoolConfig
	if pool == nil {
		pool = DefaultConfig().PoolConfig
	}
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsConfig,
		DialContext: (&net.Dialer{
			Timeout:   pool.DialTimeout,
			KeepAlive: pool.KeepAlive,
		}).DialContext,
		MaxIdleConns:        pool.MaxIdleConns,
		MaxIdleConnsPerHost: pool.MaxIdleConnsPerHost,
		IdleConnTimeout:     pool.IdleConnTimeout,
	}

	c := &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout, Transport: transport},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	if rl := cfg.RateLimitConfig; rl != nil {
		c.limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.BurstSize)
	}
	return c, nil
}

// Do sends req after waiting on the rate limiter and consulting the host's
// breaker. The caller owns the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, cerr.Wrap(err, "rate limiter")
		}
	}
	if c.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	cb := c.breaker(req.URL.Host)
	if cb == nil {
		return c.http.Do(req)
	}

	out, err := cb.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%s: %w", req.URL.Host, ErrCircuitOpen)
	case errors.Is(err, errServerStatus):
		return out.(*http.Response), nil
	case err != nil:
		return nil, err
	}
	return out.(*http.Response), nil
}

// BreakerState reports the breaker state for host, or "none".
func (c *Client) BreakerState(host string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[host]; ok {
		return cb.State().String()
	}
	return "none"
}

func (c *Client) breaker(host string) *gobreaker.CircuitBreaker {
	bc := c.cfg.BreakerConfig
	if bc == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.ConsecutiveFailures
		},
	})
	c.breakers[host] = cb
	return cb
}

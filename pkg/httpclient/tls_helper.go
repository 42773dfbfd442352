package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// BuildTLSConfig turns the trust policy into a *tls.Config. A custom CA file
// is added to the verification pool; InsecureSkipVerify disables verification
// entirely and is meant for self-signed Wazuh lab deployments.
func BuildTLSConfig(c *TLSConfig) (*tls.Config, error) {
	if c == nil {
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}

	minVersion := c.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}

	tlsConfig := &tls.Config{
		MinVersion:         minVersion,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // operator-controlled trust policy
	}

	if c.RootCAFile != "" {
		caCert, err := os.ReadFile(c.RootCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate from %s: %w", c.RootCAFile, err)
		}

		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %s", c.RootCAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

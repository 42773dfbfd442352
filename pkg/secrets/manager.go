// pkg/secrets/manager.go

package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Manager dispatches a reference to the backend its prefix names. Either
// backend may be nil when it is not configured.
type Manager struct {
	cipher *Cipher
	vault  Resolver
	getenv func(string) (string, bool)
}

// NewManager wires the configured backends.
func NewManager(cipher *Cipher, vault Resolver) *Manager {
	return &Manager{cipher: cipher, vault: vault, getenv: os.LookupEnv}
}

// Resolve returns the plaintext for ref. An empty ref resolves to "".
func (m *Manager) Resolve(ctx context.Context, ref string) (string, error) {
	switch Scheme(ref) {
	case PrefixEncrypted:
		if m.cipher == nil {
			return "", fmt.Errorf("%w: no secrets key configured", ErrBackendUnavailable)
		}
		return m.cipher.Open(ref)

	case PrefixVault:
		if m.vault == nil {
			return "", fmt.Errorf("%w: vault is not configured", ErrBackendUnavailable)
		}
		return m.vault.Resolve(ctx, ref)

	case PrefixEnv:
		name := strings.TrimPrefix(ref, PrefixEnv)
		v, ok := m.getenv(name)
		if !ok {
			return "", fmt.Errorf("%w: environment variable %s", ErrSecretNotFound, name)
		}
		return v, nil

	default:
		if ref == "" {
			return "", nil
		}
		return "", fmt.Errorf("%w: stored value has no enc:, vault: or env: prefix", ErrInvalidReference)
	}
}

// Seal converts operator input into stored form. Values that already are
// references pass through; anything else is encrypted.
func (m *Manager) Seal(value string) (string, error) {
	if value == "" || IsReference(value) {
		return value, nil
	}
	if m.cipher == nil {
		return "", fmt.Errorf("%w: no secrets key configured to encrypt with", ErrBackendUnavailable)
	}
	return m.cipher.Seal(value)
}

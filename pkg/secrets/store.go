// Package secrets resolves the credential references stored on a
// connection into plaintext at call time. A reference is one of
//
//	enc:<base64>            sealed with the local key (see Cipher)
//	vault:<path>#<field>    read from Vault KV v2
//	env:<NAME>              read from the process environment
//
// Plaintext is never cached or logged.
package secrets

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrSecretNotFound means the reference points at nothing.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrPermissionDenied means the backend refused the read.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrBackendUnavailable means the backend could not be reached or is
	// not configured.
	ErrBackendUnavailable = errors.New("secret storage backend unavailable")

	// ErrInvalidReference means the stored value is not a recognised
	// reference.
	ErrInvalidReference = errors.New("invalid secret reference")
)

// Resolver turns a stored reference into its plaintext.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Reference prefixes.
const (
	PrefixEncrypted = "enc:"
	PrefixVault     = "vault:"
	PrefixEnv       = "env:"
)

// Scheme returns the prefix of ref, or "" when it has none.
func Scheme(ref string) string {
	for _, p := range []string{PrefixEncrypted, PrefixVault, PrefixEnv} {
		if strings.HasPrefix(ref, p) {
			return p
		}
	}
	return ""
}

// IsReference reports whether ref is already in stored form, so callers
// can tell plaintext input apart before sealing it.
func IsReference(ref string) bool {
	return Scheme(ref) != ""
}

// Redact hides everything after the scheme of a reference for log output.
func Redact(ref string) string {
	switch s := Scheme(ref); s {
	case PrefixVault, PrefixEnv:
		return ref
	case PrefixEncrypted:
		return s + "***"
	default:
		if ref == "" {
			return ""
		}
		return "***"
	}
}

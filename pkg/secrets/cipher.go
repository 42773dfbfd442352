// pkg/secrets/cipher.go

package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	cerr "github.com/cockroachdb/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher seals and opens connection secrets with XChaCha20-Poly1305. The
// sealed form is "enc:" + base64(nonce || ciphertext).
type Cipher struct {
	key []byte
}

// NewCipher takes a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrInvalidReference, chacha20poly1305.KeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Cipher{key: k}, nil
}

// GenerateKey returns a fresh random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, cerr.Wrap(err, "generate key")
	}
	return key, nil
}

// LoadKeyFile reads a key stored as hex or standard base64.
func LoadKeyFile(path string) (*Cipher, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, cerr.Wrapf(err, "read key file %s", path)
	}
	text := strings.TrimSpace(string(raw))
	if key, err := hex.DecodeString(text); err == nil && len(key) == chacha20poly1305.KeySize {
		return NewCipher(key)
	}
	key, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, cerr.WithHint(cerr.Newf("key file %s is neither hex nor base64", path),
			"generate one with: head -c 32 /dev/urandom | base64")
	}
	return NewCipher(key)
}

// Seal encrypts plaintext into its stored form.
func (c *Cipher) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", cerr.Wrap(err, "init aead")
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", cerr.Wrap(err, "generate nonce")
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return PrefixEncrypted + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a stored "enc:" value.
func (c *Cipher) Open(ref string) (string, error) {
	if !strings.HasPrefix(ref, PrefixEncrypted) {
		return "", fmt.Errorf("%w: missing %q prefix", ErrInvalidReference, PrefixEncrypted)
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ref, PrefixEncrypted))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", cerr.Wrap(err, "init aead")
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: sealed value too short", ErrInvalidReference)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// Wrong key or tampered value; the two are indistinguishable.
		return "", fmt.Errorf("%w: decryption failed", ErrPermissionDenied)
	}
	return string(plain), nil
}

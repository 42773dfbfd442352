package secrets

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)
	return c
}

func TestCipherSealOpen(t *testing.T) {
	c := newCipher(t)
	sealed, err := c.Seal("hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, PrefixEncrypted))
	assert.NotContains(t, sealed, "hunter2")

	again, err := c.Seal("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "every seal uses a fresh nonce")

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestCipherRejectsTamperingAndWrongKey(t *testing.T) {
	c := newCipher(t)
	sealed, err := c.Seal("hunter2")
	require.NoError(t, err)

	raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, PrefixEncrypted))
	raw[len(raw)-1] ^= 0x01
	_, err = c.Open(PrefixEncrypted + base64.StdEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = newCipher(t).Open(sealed)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = c.Open("enc:!!notbase64")
	assert.ErrorIs(t, err, ErrInvalidReference)
	_, err = c.Open("enc:" + base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidReference)

	_, err = NewCipher([]byte("too short"))
	assert.Error(t, err)
}

func TestLoadKeyFile(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	dir := t.TempDir()

	b64 := filepath.Join(dir, "key.b64")
	require.NoError(t, os.WriteFile(b64, []byte(base64.StdEncoding.EncodeToString(key)+"\n"), 0600))
	c, err := LoadKeyFile(b64)
	require.NoError(t, err)
	sealed, err := c.Seal("x")
	require.NoError(t, err)

	hexPath := filepath.Join(dir, "key.hex")
	require.NoError(t, os.WriteFile(hexPath, []byte(strings.ToUpper(hex.EncodeToString(key))), 0600))
	c2, err := LoadKeyFile(hexPath)
	require.NoError(t, err)
	plain, err := c2.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "x", plain)

	bad := filepath.Join(dir, "bad")
	require.NoError(t, os.WriteFile(bad, []byte("not a key"), 0600))
	_, err = LoadKeyFile(bad)
	assert.Error(t, err)
}

type stubResolver map[string]string

func (s stubResolver) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := s[ref]
	if !ok {
		return "", ErrSecretNotFound
	}
	return v, nil
}

func TestManagerDispatch(t *testing.T) {
	ctx := context.Background()
	c := newCipher(t)
	m := NewManager(c, stubResolver{"vault:wazuh/prod#api_password": "from-vault"})
	m.getenv = func(name string) (string, bool) {
		if name == "WAZUH_PASS" {
			return "from-env", true
		}
		return "", false
	}

	sealed, err := m.Seal("from-key")
	require.NoError(t, err)

	tests := []struct {
		ref     string
		want    string
		wantErr error
	}{
		{ref: "", want: ""},
		{ref: sealed, want: "from-key"},
		{ref: "vault:wazuh/prod#api_password", want: "from-vault"},
		{ref: "env:WAZUH_PASS", want: "from-env"},
		{ref: "env:MISSING", wantErr: ErrSecretNotFound},
		{ref: "plaintext", wantErr: ErrInvalidReference},
	}
	for _, tt := range tests {
		got, err := m.Resolve(ctx, tt.ref)
		if tt.wantErr != nil {
			assert.ErrorIs(t, err, tt.wantErr, tt.ref)
			continue
		}
		require.NoError(t, err, tt.ref)
		assert.Equal(t, tt.want, got)
	}

	passthrough, err := m.Seal("vault:a#b")
	require.NoError(t, err)
	assert.Equal(t, "vault:a#b", passthrough)

	bare := NewManager(nil, nil)
	_, err = bare.Resolve(ctx, sealed)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	_, err = bare.Resolve(ctx, "vault:a#b")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	_, err = bare.Seal("x")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "enc:***", Redact("enc:abcdef"))
	assert.Equal(t, "vault:a#b", Redact("vault:a#b"))
	assert.Equal(t, "***", Redact("hunter2"))
	assert.Equal(t, "", Redact(""))
}

// fakeVault serves KV v2 reads and an approle login.
func fakeVault(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPut || r.Method == http.MethodPost:
			if r.URL.Path != "/v1/auth/approle/login" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["role_id"] != "role" || body["secret_id"] != "sid" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"errors":["invalid role or secret id"]}`))
				return
			}
			_, _ = w.Write([]byte(`{"auth":{"client_token":"s.approle","accessor":"acc","policies":["default"],"lease_duration":3600,"renewable":true}}`))
		case r.Header.Get("X-Vault-Token") != "s.root" && r.Header.Get("X-Vault-Token") != "s.approle":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
		case r.URL.Path == "/v1/secret/data/wazuh/prod":
			_, _ = w.Write([]byte(`{"data":{"data":{"api_password":"s3cret"},"metadata":{"version":1}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
		}
	}))
}

func TestVaultResolverToken(t *testing.T) {
	srv := fakeVault(t)
	defer srv.Close()
	ctx := context.Background()

	v, err := NewVaultResolver(ctx, VaultConfig{Address: srv.URL, Token: "s.root"})
	require.NoError(t, err)

	got, err := v.Resolve(ctx, "vault:wazuh/prod#api_password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	_, err = v.Resolve(ctx, "vault:wazuh/prod#missing_field")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	_, err = v.Resolve(ctx, "vault:wazuh/absent#api_password")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	_, err = v.Resolve(ctx, "vault:no-field")
	assert.ErrorIs(t, err, ErrInvalidReference)

	denied, err := NewVaultResolver(ctx, VaultConfig{Address: srv.URL, Token: "s.wrong"})
	require.NoError(t, err)
	_, err = denied.Resolve(ctx, "vault:wazuh/prod#api_password")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestVaultResolverAppRole(t *testing.T) {
	srv := fakeVault(t)
	defer srv.Close()
	ctx := context.Background()

	sidFile := filepath.Join(t.TempDir(), "secret_id")
	require.NoError(t, os.WriteFile(sidFile, []byte("sid\n"), 0600))

	v, err := NewVaultResolver(ctx, VaultConfig{Address: srv.URL, Auth: AuthAppRole, RoleID: "role", SecretIDFile: sidFile})
	require.NoError(t, err)
	got, err := v.Resolve(ctx, "vault:wazuh/prod#api_password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	_, err = NewVaultResolver(ctx, VaultConfig{Address: srv.URL, Auth: "kerberos"})
	assert.Error(t, err)
}

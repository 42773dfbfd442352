// pkg/secrets/vault_store.go

package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	cerr "github.com/cockroachdb/errors"
	vaultapi "github.com/hashicorp/vault/api"
	"github.com/hashicorp/vault/api/auth/approle"
	"github.com/hashicorp/vault/api/auth/userpass"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Vault auth methods.
const (
	AuthToken    = "token"
	AuthAppRole  = "approle"
	AuthUserpass = "userpass"
)

// VaultConfig selects the Vault server, KV v2 mount and login method.
type VaultConfig struct {
	Address string `mapstructure:"address" yaml:"address,omitempty"`
	Mount   string `mapstructure:"mount" yaml:"mount,omitempty"`
	Auth    string `mapstructure:"auth" yaml:"auth,omitempty" validate:"omitempty,oneof=token approle userpass"`

	Token string `mapstructure:"token" yaml:"token,omitempty"`

	RoleID       string `mapstructure:"role_id" yaml:"role_id,omitempty"`
	SecretIDFile string `mapstructure:"secret_id_file" yaml:"secret_id_file,omitempty"`

	Username string `mapstructure:"username" yaml:"username,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// AuthMount overrides the mount path of approle or userpass.
	AuthMount string `mapstructure:"auth_mount" yaml:"auth_mount,omitempty"`
}

// VaultResolver reads "vault:<path>#<field>" references from KV v2.
type VaultResolver struct {
	client *vaultapi.Client
	mount  string
}

// NewVaultResolver builds a client and logs in.
func NewVaultResolver(ctx context.Context, cfg VaultConfig) (*VaultResolver, error) {
	log := otelzap.Ctx(ctx)

	vc := vaultapi.DefaultConfig()
	if cfg.Address != "" {
		vc.Address = cfg.Address
	}
	client, err := vaultapi.NewClient(vc)
	if err != nil {
		return nil, cerr.Wrap(err, "failed to create vault client")
	}

	switch cfg.Auth {
	case "", AuthToken:
		token := cfg.Token
		if token == "" {
			token = os.Getenv("VAULT_TOKEN")
		}
		if token == "" {
			return nil, cerr.WithHint(fmt.Errorf("%w: no vault token", ErrBackendUnavailable), "set secrets.vault.token or VAULT_TOKEN")
		}
		client.SetToken(token)

	case AuthAppRole:
		raw, err := os.ReadFile(cfg.SecretIDFile)
		if err != nil {
			return nil, cerr.Wrap(err, "read approle secret id")
		}
		var opts []approle.LoginOption
		if cfg.AuthMount != "" {
			opts = append(opts, approle.WithMountPath(cfg.AuthMount))
		}
		auth, err := approle.NewAppRoleAuth(cfg.RoleID, &approle.SecretID{FromString: strings.TrimSpace(string(raw))}, opts...)
		if err != nil {
			return nil, cerr.Wrap(err, "create approle auth")
		}
		if err := login(ctx, client, auth); err != nil {
			return nil, cerr.Wrap(err, "approle login failed")
		}

	case AuthUserpass:
		var opts []userpass.LoginOption
		if cfg.AuthMount != "" {
			opts = append(opts, userpass.WithMountPath(cfg.AuthMount))
		}
		auth, err := userpass.NewUserpassAuth(cfg.Username, &userpass.Password{FromString: cfg.Password}, opts...)
		if err != nil {
			return nil, cerr.Wrap(err, "create userpass auth")
		}
		if err := login(ctx, client, auth); err != nil {
			return nil, cerr.Wrap(err, "userpass login failed")
		}

	default:
		return nil, fmt.Errorf("unsupported vault auth method %q", cfg.Auth)
	}

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	log.Debug("Vault resolver ready", zap.String("address", vc.Address), zap.String("auth", cfg.Auth), zap.String("mount", mount))
	return &VaultResolver{client: client, mount: mount}, nil
}

func login(ctx context.Context, client *vaultapi.Client, method vaultapi.AuthMethod) error {
	secret, err := client.Auth().Login(ctx, method)
	if err != nil {
		return err
	}
	if secret == nil || secret.Auth == nil {
		return cerr.New("no auth info returned from vault login")
	}
	client.SetToken(secret.Auth.ClientToken)
	return nil
}

// Resolve reads the field of a KV v2 secret.
func (v *VaultResolver) Resolve(ctx context.Context, ref string) (string, error) {
	path, field, err := parseVaultRef(ref)
	if err != nil {
		return "", err
	}

	secret, err := v.client.Logical().ReadWithContext(ctx, v.mount+"/data/"+path)
	if err != nil {
		if isVaultNotFoundError(err) {
			return "", fmt.Errorf("%w at path %s", ErrSecretNotFound, path)
		}
		if isVaultPermissionError(err) {
			return "", fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return "", fmt.Errorf("%w: failed to read %s: %v", ErrBackendUnavailable, path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w at path %s", ErrSecretNotFound, path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("%w at path %s (deleted version?)", ErrSecretNotFound, path)
	}
	value, ok := data[field].(string)
	if !ok {
		return "", fmt.Errorf("%w: field %q at path %s", ErrSecretNotFound, field, path)
	}
	return value, nil
}

func parseVaultRef(ref string) (string, string, error) {
	body := strings.TrimPrefix(ref, PrefixVault)
	path, field, ok := strings.Cut(body, "#")
	path = strings.Trim(path, "/")
	if !strings.HasPrefix(ref, PrefixVault) || !ok || path == "" || field == "" {
		return "", "", fmt.Errorf("%w: want vault:<path>#<field>, got %q", ErrInvalidReference, ref)
	}
	return path, field, nil
}

// isVaultNotFoundError checks if error indicates "secret not found" (404)
func isVaultNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var respErr *vaultapi.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 404
	}
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "not found") ||
		strings.Contains(errMsg, "no value found") ||
		strings.Contains(errMsg, "does not exist")
}

// isVaultPermissionError checks if error indicates "permission denied" (403)
func isVaultPermissionError(err error) bool {
	if err == nil {
		return false
	}
	var respErr *vaultapi.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 403
	}
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "permission denied") ||
		strings.Contains(errMsg, "access denied") ||
		strings.Contains(errMsg, "forbidden")
}

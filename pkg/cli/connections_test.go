package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/secrets"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/wazuh"
	"github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *secrets.Manager {
	t.Helper()
	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	cipher, err := secrets.NewCipher(key)
	require.NoError(t, err)
	return secrets.NewManager(cipher, nil)
}

func TestSaveConnectionCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	tables := store.NewMemoryTables()
	mgr := newManager(t)

	conn := inventory.Connection{Name: " prod ", ServerURL: "https://wazuh.example.com", APIUsername: "wazuh", APIPassword: "s3cret", IsActive: true}
	created, err := SaveConnection(ctx, tables, mgr, &conn)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "prod", conn.Name)
	assert.Equal(t, inventory.DefaultAPIPort, conn.APIPort)
	assert.True(t, strings.HasPrefix(conn.APIPassword, secrets.PrefixEncrypted), "stored sealed")

	plain, err := mgr.Resolve(ctx, conn.APIPassword)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)

	again := inventory.Connection{Name: "prod", ServerURL: "https://wazuh2.example.com", APIUsername: "wazuh", SyncInterval: 3600}
	created, err = SaveConnection(ctx, tables, mgr, &again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conn.ID, again.ID)

	stored, err := tables.Connections.Get(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://wazuh2.example.com", stored.ServerURL)
	assert.Equal(t, 3600, stored.SyncInterval)
	assert.Equal(t, conn.APIPassword, stored.APIPassword, "an empty password keeps the stored one")
}

func TestSaveConnectionRejectsInvalid(t *testing.T) {
	tables := store.NewMemoryTables()
	tests := []struct {
		name string
		conn inventory.Connection
	}{
		{"no name", inventory.Connection{ServerURL: "https://w", APIUsername: "u"}},
		{"bad url", inventory.Connection{Name: "x", ServerURL: "not a url", APIUsername: "u"}},
		{"short interval", inventory.Connection{Name: "x", ServerURL: "https://w", APIUsername: "u", SyncInterval: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SaveConnection(context.Background(), tables, newManager(t), &tt.conn)
			assert.Error(t, err)
			assert.Equal(t, 0, tables.Connections.(*store.MemTable[inventory.Connection]).Len())
		})
	}
}

func TestSaveConnectionWithoutKeyKeepsReferences(t *testing.T) {
	mgr := secrets.NewManager(nil, nil)
	conn := inventory.Connection{Name: "c", ServerURL: "https://w", APIUsername: "u", APIPassword: "vault:wazuh/prod#password"}
	_, err := SaveConnection(context.Background(), store.NewMemoryTables(), mgr, &conn)
	require.NoError(t, err)
	assert.Equal(t, "vault:wazuh/prod#password", conn.APIPassword)

	plain := inventory.Connection{Name: "d", ServerURL: "https://w", APIUsername: "u", APIPassword: "clear"}
	_, err = SaveConnection(context.Background(), store.NewMemoryTables(), mgr, &plain)
	assert.ErrorIs(t, err, secrets.ErrBackendUnavailable)
}

const importDoc = `
connections:
  - name: prod
    server_url: https://wazuh.example.com
    api_username: wazuh
    api_password: env:WAZUH_PROD_PASSWORD
    indexer_url: https://indexer.example.com
    indexer_username: admin
    indexer_password: env:WAZUH_PROD_INDEXER
    sync_interval: 3600
    is_active: true
    entity_id: 2
  - name: broken
    server_url: nope
    api_username: wazuh
  - name: lab
    server_url: https://lab.example.com
    api_username: wazuh
    is_active: false
`

func TestImportConnections(t *testing.T) {
	ctx := context.Background()
	tables := store.NewMemoryTables()
	mgr := newManager(t)

	res, err := ImportConnections(ctx, tables, mgr, strings.NewReader(importDoc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry 2")
	assert.Equal(t, ImportResult{Created: 2, Failed: 1}, res)

	conns, err := tables.Connections.Find(ctx, store.Filter{"name": "prod"})
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, 9200, conns[0].IndexerPort)
	assert.Equal(t, "env:WAZUH_PROD_PASSWORD", conns[0].APIPassword)
	assert.Equal(t, uint(2), conns[0].EntityID)

	res, err = ImportConnections(ctx, tables, mgr, strings.NewReader("connections:\n  - name: lab\n    server_url: https://lab2.example.com\n    api_username: wazuh\n"))
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Updated: 1}, res)
}

func TestImportConnectionsRejectsBadDocuments(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":         "",
		"unknown field": "connections:\n  - name: x\n    colour: red\n",
		"not yaml":      "connections: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ImportConnections(context.Background(), store.NewMemoryTables(), newManager(t), strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestListConnectionsRedacts(t *testing.T) {
	ctx := context.Background()
	tables := store.NewMemoryTables()
	mgr := newManager(t)
	conn := inventory.Connection{Name: "prod", ServerURL: "https://w", APIUsername: "u", APIPassword: "pw", IndexerPassword: "vault:kv/idx#pw"}
	_, err := SaveConnection(ctx, tables, mgr, &conn)
	require.NoError(t, err)
	gone := inventory.Connection{Name: "old", ServerURL: "https://w", APIUsername: "u", IsDeleted: true}
	require.NoError(t, tables.Connections.Insert(ctx, &gone))

	conns, err := ListConnections(ctx, tables)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, secrets.PrefixEncrypted+"***", conns[0].APIPassword)
	assert.Equal(t, "vault:kv/idx#pw", conns[0].IndexerPassword)
}

type fakeProber struct {
	gotEndpoint wazuh.Endpoint
	version     string
	authErr     error
}

func (f *fakeProber) Authenticate(_ context.Context, ep wazuh.Endpoint) (string, error) {
	f.gotEndpoint = ep
	return "token", f.authErr
}

func (f *fakeProber) ManagerVersion(context.Context, wazuh.Endpoint, string) (*version.Version, error) {
	return version.NewVersion(f.version)
}

func TestCheckConnection(t *testing.T) {
	t.Setenv("DELPHI_TEST_WAZUH_PW", "pw")
	conn := inventory.Connection{Name: "prod", ServerURL: "https://wazuh", APIPort: 55000, APIUsername: "wazuh", APIPassword: "env:DELPHI_TEST_WAZUH_PW"}
	mgr := secrets.NewManager(nil, nil)

	p := &fakeProber{version: "4.9.1"}
	res, err := CheckConnection(context.Background(), p, mgr, &conn)
	require.NoError(t, err)
	assert.Equal(t, "pw", p.gotEndpoint.ManagerPassword)
	assert.Equal(t, "https://wazuh:55000", res.Manager)
	assert.Equal(t, "4.9.1", res.Version)
	assert.True(t, res.UsesIndex)

	p = &fakeProber{version: "4.7.5"}
	res, err = CheckConnection(context.Background(), p, mgr, &conn)
	require.NoError(t, err)
	assert.False(t, res.UsesIndex)

	p = &fakeProber{authErr: &wazuh.AuthError{URL: "https://wazuh:55000", Status: 401}}
	_, err = CheckConnection(context.Background(), p, mgr, &conn)
	assert.True(t, wazuh.IsAuthError(err))

	conn.APIPassword = "env:DELPHI_TEST_MISSING"
	_, err = CheckConnection(context.Background(), &fakeProber{}, mgr, &conn)
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
}

//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "delphi",
				"POSTGRES_PASSWORD": "delphi",
				"POSTGRES_DB":       "delphi",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("host=%s port=%s user=delphi password=delphi dbname=delphi sslmode=disable", host, port.Port())
}

func TestGormTablesAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Options{DSN: startPostgres(t)})
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db), "migrate is idempotent")

	tables := NewGormTables(db)
	p := inventory.Profile{Finding: inventory.KindVulnerability, Device: inventory.KindComputer}
	findings := tables.Findings(p)

	f := inventory.Finding{Key: "idx-1", Name: "CVE-2024-0001", DeviceID: 42, Payload: inventory.Payload{"v_severity": "High"}}
	require.NoError(t, findings.Insert(ctx, &f))
	require.NotZero(t, f.ID)

	dup := inventory.Finding{Key: "idx-1", DeviceID: 42}
	assert.ErrorIs(t, findings.Insert(ctx, &dup), ErrUniqueViolation)

	rows, err := findings.Find(ctx, Filter{"remote_key": "idx-1", "entity_id": 0, "is_deleted": false})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "High", rows[0].Payload.Text("v_severity"))

	require.NoError(t, findings.UpdateColumns(ctx, f.ID, map[string]any{"is_discontinue": true}))
	got, err := findings.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, got.Discontinued)

	got.Name = "CVE-2024-0002"
	require.NoError(t, findings.Update(ctx, &got))
	rows, err = findings.Find(ctx, Filter{"parent_id": Ne(1)})
	require.NoError(t, err)
	assert.Equal(t, "CVE-2024-0002", rows[0].Name)

	_, err = findings.Get(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	agent := inventory.Agent{AgentID: "001", ConnectionID: 1, Name: "HOST1", Groups: []string{"default", "linux"}}
	require.NoError(t, tables.Agents.Insert(ctx, &agent))
	agents, err := tables.Agents.Find(ctx, Filter{"item_id": 0})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, []string{"default", "linux"}, []string(agents[0].Groups))
}

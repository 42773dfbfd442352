package store

import (
	"context"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFindings(t *testing.T) *MemTable[inventory.Finding] {
	t.Helper()
	ctx := context.Background()
	tbl := NewMemTable[inventory.Finding]("computer_alerts", findingUnique)
	observed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := []inventory.Finding{
		{Key: "a", Name: "sshd", DeviceID: 1, EntityID: 0, ObservedAt: &observed},
		{Key: "b", Name: "sshd", DeviceID: 2, EntityID: 0, ParentID: 1},
		{Key: "c", Name: "pam", DeviceID: 1, EntityID: 3, Discontinued: true},
	}
	for i := range rows {
		require.NoError(t, tbl.Insert(ctx, &rows[i]))
		assert.Equal(t, uint(i+1), rows[i].ID)
	}
	return tbl
}

func keys(rows []inventory.Finding) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Key)
	}
	return out
}

func TestMemTableFind(t *testing.T) {
	ctx := context.Background()
	tbl := seedFindings(t)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "all", filter: nil, want: []string{"a", "b", "c"}},
		{name: "equality with int literal", filter: Filter{"device_id": 1}, want: []string{"a", "c"}},
		{name: "two columns", filter: Filter{"name": "sshd", "entity_id": uint(0)}, want: []string{"a", "b"}},
		{name: "bool column by tag", filter: Filter{"is_discontinue": false}, want: []string{"a", "b"}},
		{name: "not equal", filter: Filter{"parent_id": Ne(0)}, want: []string{"b"}},
		{name: "in list", filter: Filter{"remote_key": []string{"c", "a", "zz"}}, want: []string{"a", "c"}},
		{name: "empty in list", filter: Filter{"remote_key": []string{}}, want: []string{}},
		{name: "is null", filter: Filter{"observed_at": nil}, want: []string{"b", "c"}},
		{name: "time comparison", filter: Filter{"observed_at": Gte(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))}, want: []string{"a"}},
		{name: "greater than", filter: Filter{"entity_id": Gt(1)}, want: []string{"c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := tbl.Find(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, keys(rows))
		})
	}
}

func TestMemTableFindRejectsBadFilters(t *testing.T) {
	ctx := context.Background()
	tbl := seedFindings(t)

	_, err := tbl.Find(ctx, Filter{"name; drop table": "x"})
	assert.Error(t, err)
	_, err = tbl.Find(ctx, Filter{"name": Op{Operator: "LIKE", Value: "%"}})
	assert.Error(t, err)
	_, err = tbl.Find(ctx, Filter{"no_such_column": 1})
	assert.Error(t, err)
}

func TestMemTableUniqueIgnoresDeletedRows(t *testing.T) {
	ctx := context.Background()
	tbl := seedFindings(t)

	dup := inventory.Finding{Key: "a", EntityID: 0}
	err := tbl.Insert(ctx, &dup)
	assert.ErrorIs(t, err, ErrUniqueViolation)
	assert.Zero(t, dup.ID)

	otherEntity := inventory.Finding{Key: "a", EntityID: 9}
	require.NoError(t, tbl.Insert(ctx, &otherEntity))

	require.NoError(t, tbl.UpdateColumns(ctx, 1, map[string]any{"is_deleted": true}))
	again := inventory.Finding{Key: "a", EntityID: 0}
	require.NoError(t, tbl.Insert(ctx, &again))
	assert.Equal(t, 5, tbl.Len())
}

func TestMemTableUpdate(t *testing.T) {
	ctx := context.Background()
	tbl := seedFindings(t)

	row, err := tbl.Get(ctx, 2)
	require.NoError(t, err)
	row.Name = "sshd-auth"
	require.NoError(t, tbl.Update(ctx, &row))

	got, err := tbl.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "sshd-auth", got.Name)

	row.Key = "a"
	assert.ErrorIs(t, tbl.Update(ctx, &row), ErrUniqueViolation)

	missing := inventory.Finding{ID: 99}
	assert.ErrorIs(t, tbl.Update(ctx, &missing), ErrNotFound)

	_, err = tbl.Get(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemTableUpdateColumns(t *testing.T) {
	ctx := context.Background()
	tbl := seedFindings(t)

	require.NoError(t, tbl.UpdateColumns(ctx, 3, map[string]any{"tickets_id": uint(12), "is_discontinue": false}))
	got, err := tbl.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, uint(12), got.TicketID)
	assert.False(t, got.Discontinued)
	assert.Equal(t, "pam", got.Name)

	assert.ErrorIs(t, tbl.UpdateColumns(ctx, 42, map[string]any{"name": "x"}), ErrNotFound)
	assert.Error(t, tbl.UpdateColumns(ctx, 3, map[string]any{"bogus": 1}))
}

func TestMemTableTimePointerColumn(t *testing.T) {
	ctx := context.Background()
	conns := NewMemTable[inventory.Connection]("wazuh_connections")
	c := inventory.Connection{Name: "prod", IsActive: true}
	require.NoError(t, conns.Insert(ctx, &c))

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, conns.UpdateColumns(ctx, c.ID, map[string]any{"last_sync": now}))

	got, err := conns.Get(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSync)
	assert.True(t, got.LastSync.Equal(now))

	active, err := conns.Find(ctx, Filter{"is_conn_active": true, "is_deleted": false})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestMemTableClearsPointerColumn(t *testing.T) {
	ctx := context.Background()
	seen := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value any
	}{
		{name: "typed nil", value: (*time.Time)(nil)},
		{name: "untyped nil", value: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agents := NewMemTable[inventory.Agent]("wazuh_agents")
			a := inventory.Agent{AgentID: "001", LastKeepAlive: &seen}
			require.NoError(t, agents.Insert(ctx, &a))

			require.NoError(t, agents.UpdateColumns(ctx, a.ID, map[string]any{"last_keep_alive": tt.value}))
			got, err := agents.Get(ctx, a.ID)
			require.NoError(t, err)
			assert.Nil(t, got.LastKeepAlive)
			assert.Equal(t, "001", got.AgentID)
		})
	}
}

func TestMemoryTablesBundle(t *testing.T) {
	tables := NewMemoryTables()
	for _, p := range inventory.Profiles {
		require.NotNil(t, tables.Findings(p))
		assert.Equal(t, p.Table(), tables.Findings(p).Name())
	}
	assert.Equal(t, "computers", tables.Devices(inventory.KindComputer).Name())
	assert.Equal(t, "network_equipments", tables.Devices(inventory.KindNetworkEquipment).Name())

	ctx := context.Background()
	a1 := inventory.Agent{AgentID: "001", ConnectionID: 1}
	a2 := inventory.Agent{AgentID: "001", ConnectionID: 1}
	require.NoError(t, tables.Agents.Insert(ctx, &a1))
	assert.ErrorIs(t, tables.Agents.Insert(ctx, &a2), ErrUniqueViolation)
}

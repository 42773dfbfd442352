package linker

import (
	"context"
	"testing"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	tables *store.Tables
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{t: t, ctx: context.Background(), tables: store.NewMemoryTables()}
	// 1 -> 2 -> 4, and 3 beside 1.
	for _, e := range []inventory.Entity{
		{ID: 1, Name: "Root org"},
		{ID: 2, Name: "Branch", ParentID: 1},
		{ID: 3, Name: "Other org"},
		{ID: 4, Name: "Sub-branch", ParentID: 2},
	} {
		e := e
		require.NoError(t, f.tables.Entities.Insert(f.ctx, &e))
	}
	return f
}

func (f *fixture) device(kind inventory.DeviceKind, id uint, name string, entity uint) {
	d := inventory.Device{ID: id, Name: name, EntityID: entity}
	require.NoError(f.t, f.tables.Devices(kind).Insert(f.ctx, &d))
}

func (f *fixture) agent(agentID, name string, entity uint) uint {
	a := inventory.Agent{AgentID: agentID, ConnectionID: 1, Name: name, EntityID: entity}
	require.NoError(f.t, f.tables.Agents.Insert(f.ctx, &a))
	return a.ID
}

func (f *fixture) bound(id uint) (inventory.DeviceRef, bool) {
	a, err := f.tables.Agents.Get(f.ctx, id)
	require.NoError(f.t, err)
	return a.Device()
}

func TestLastDeviceKindWins(t *testing.T) {
	f := newFixture(t)
	f.device(inventory.KindComputer, 5, "HOST1", 1)
	f.device(inventory.KindNetworkEquipment, 7, "HOST1", 1)
	id := f.agent("001", "HOST1", 1)

	report, err := New(f.tables).LinkUnbound(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Linked)

	ref, ok := f.bound(id)
	require.True(t, ok)
	assert.Equal(t, inventory.ComputerRef(5), ref, "Computer is searched after NetworkEquipment")

	require.Len(t, report.Ambiguous, 1)
	amb := report.Ambiguous[0]
	assert.Equal(t, []inventory.DeviceRef{inventory.NetworkEquipmentRef(7), inventory.ComputerRef(5)}, amb.Candidates)
	assert.Equal(t, inventory.ComputerRef(5), amb.Chosen)
	assert.Contains(t, amb.Error(), "HOST1")
}

func TestLastRowWinsWithinOneKind(t *testing.T) {
	f := newFixture(t)
	f.device(inventory.KindComputer, 5, "HOST1", 1)
	f.device(inventory.KindComputer, 6, "HOST1", 1)
	id := f.agent("001", "HOST1", 1)

	_, err := New(f.tables).LinkUnbound(f.ctx, 1)
	require.NoError(t, err)
	ref, _ := f.bound(id)
	assert.Equal(t, inventory.ComputerRef(6), ref)
}

func TestUnmatchedAgentStaysUnbound(t *testing.T) {
	f := newFixture(t)
	f.device(inventory.KindComputer, 5, "HOST1", 3)
	f.device(inventory.KindComputer, 6, "host1", 1)
	id := f.agent("001", "HOST1", 1)
	noName := f.agent("002", "", 1)

	report, err := New(f.tables).LinkUnbound(f.ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, report.Linked)
	assert.Equal(t, 2, report.Unmatched)
	_, ok := f.bound(id)
	assert.False(t, ok, "name match must be exact and in the agent's entity")
	_, ok = f.bound(noName)
	assert.False(t, ok)
}

func TestScopeCoversDescendantEntities(t *testing.T) {
	f := newFixture(t)
	f.device(inventory.KindComputer, 10, "deep", 4)
	f.device(inventory.KindComputer, 11, "elsewhere", 3)
	deep := f.agent("001", "deep", 4)
	elsewhere := f.agent("002", "elsewhere", 3)

	report, err := New(f.tables).LinkUnbound(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Linked)

	ref, ok := f.bound(deep)
	require.True(t, ok)
	assert.Equal(t, inventory.ComputerRef(10), ref)
	_, ok = f.bound(elsewhere)
	assert.False(t, ok, "entity 3 is outside the scope of entity 1")
}

func TestBoundAndDeletedAreSkipped(t *testing.T) {
	f := newFixture(t)
	f.device(inventory.KindComputer, 5, "HOST1", 1)
	gone := inventory.Device{ID: 8, Name: "HOST2", EntityID: 1, IsDeleted: true}
	require.NoError(t, f.tables.Devices(inventory.KindComputer).Insert(f.ctx, &gone))

	id := f.agent("001", "HOST1", 1)
	require.NoError(t, f.tables.Agents.UpdateColumns(f.ctx, id, map[string]any{"itemtype": "NetworkEquipment", "item_id": uint(99)}))
	host2 := f.agent("002", "HOST2", 1)

	report, err := New(f.tables).LinkUnbound(f.ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, report.Linked)

	ref, _ := f.bound(id)
	assert.Equal(t, inventory.NetworkEquipmentRef(99), ref, "existing links are never rewritten")
	_, ok := f.bound(host2)
	assert.False(t, ok)
}

func TestDescendants(t *testing.T) {
	f := newFixture(t)
	ids, err := Descendants(f.ctx, f.tables.Entities, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2, 4}, ids)

	all, err := Descendants(f.ctx, f.tables.Entities, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{0, 1, 2, 3, 4}, all)
}

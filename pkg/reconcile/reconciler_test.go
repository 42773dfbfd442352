package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func finding(key string, entity uint, name string) inventory.Finding {
	return inventory.Finding{
		Key:      key,
		Name:     name,
		DeviceID: 42,
		EntityID: entity,
		Payload:  inventory.Payload{"v_severity": "High"},
	}
}

func findingTable() *store.MemTable[inventory.Finding] {
	return store.NewMemTable[inventory.Finding]("computer_vulnerabilities", []string{"remote_key", "entity_id"})
}

func TestUpsertIsIdempotentPerKey(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	tbl := findingTable()
	r := NewFindings(tbl, WithClock(clk.now))

	first := finding("idx-1", 0, "CVE-2024-1")
	id1, outcome, err := r.Upsert(ctx, &first)
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)

	clk.advance(time.Hour)
	second := finding("idx-1", 0, "CVE-2024-1")
	second.Payload["v_severity"] = "Critical"
	id2, outcome, err := r.Upsert(ctx, &second)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, tbl.Len())

	stored, err := tbl.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "Critical", stored.Payload.Text("v_severity"))
	assert.True(t, stored.DateCreation.Equal(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)))
	assert.True(t, stored.DateMod.Equal(clk.t), "findings overwrite and bump date_mod")
}

func TestUpsertScopesKeyByEntity(t *testing.T) {
	ctx := context.Background()
	tbl := findingTable()
	r := NewFindings(tbl)

	a := finding("idx-1", 1, "CVE-1")
	b := finding("idx-1", 2, "CVE-1")
	idA, _, err := r.Upsert(ctx, &a)
	require.NoError(t, err)
	idB, _, err := r.Upsert(ctx, &b)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)

	for i := 0; i < 3; i++ {
		again := finding("idx-1", 1, "CVE-1")
		id, _, err := r.Upsert(ctx, &again)
		require.NoError(t, err)
		assert.Equal(t, idA, id)
	}
	rows, err := tbl.Find(ctx, store.Filter{"remote_key": "idx-1", "entity_id": 1})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestUpsertKeepsTicketBackLink(t *testing.T) {
	ctx := context.Background()
	tbl := findingTable()
	r := NewFindings(tbl)

	f := finding("idx-1", 0, "CVE-1")
	id, _, err := r.Upsert(ctx, &f)
	require.NoError(t, err)
	require.NoError(t, tbl.UpdateColumns(ctx, id, map[string]any{"tickets_id": uint(77)}))

	again := finding("idx-1", 0, "CVE-1")
	_, _, err = r.Upsert(ctx, &again)
	require.NoError(t, err)

	stored, err := tbl.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint(77), stored.TicketID)
}

func TestUpsertReactivatesDiscontinuedFinding(t *testing.T) {
	ctx := context.Background()
	tbl := findingTable()
	r := NewFindings(tbl)

	f := finding("idx-1", 0, "CVE-1")
	id, _, err := r.Upsert(ctx, &f)
	require.NoError(t, err)
	require.NoError(t, tbl.UpdateColumns(ctx, id, map[string]any{"is_discontinue": true}))

	again := finding("idx-1", 0, "CVE-1")
	_, _, err = r.Upsert(ctx, &again)
	require.NoError(t, err)
	stored, _ := tbl.Get(ctx, id)
	assert.False(t, stored.Discontinued)
}

func TestUpsertRejectsDuplicateKeys(t *testing.T) {
	ctx := context.Background()
	tbl := store.NewMemTable[inventory.Finding]("computer_alerts")
	for i := 0; i < 2; i++ {
		f := finding("dup", 0, "sshd")
		require.NoError(t, tbl.Insert(ctx, &f))
	}
	r := NewFindings(tbl)

	f := finding("dup", 0, "sshd-new")
	id, outcome, err := r.Upsert(ctx, &f)
	require.Error(t, err)
	assert.Zero(t, id)
	assert.Equal(t, Failed, outcome)
	assert.True(t, IsDuplicateKey(err))

	var de *DuplicateKeyError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, []uint{1, 2}, de.IDs)
	assert.Equal(t, "computer_alerts", de.Table)

	rows, _ := tbl.Find(ctx, nil)
	for _, row := range rows {
		assert.Equal(t, "sshd", row.Name, "no row is touched")
	}
}

func TestAgentsSkipUnchangedRows(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	tbl := store.NewMemTable[inventory.Agent]("wazuh_agents", []string{"agent_id", "connection_id", "entity_id"})
	r := NewAgents(tbl, WithClock(clk.now))

	agent := func(ip string) inventory.Agent {
		return inventory.Agent{AgentID: "001", ConnectionID: 1, Name: "HOST1", IP: ip, Groups: []string{"default"}}
	}

	a := agent("10.0.0.1")
	id, outcome, err := r.Upsert(ctx, &a)
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)

	stored, _ := tbl.Get(ctx, id)
	stored.Bind(inventory.ComputerRef(9))
	require.NoError(t, tbl.Update(ctx, &stored))
	created := clk.t

	clk.advance(time.Hour)
	same := agent("10.0.0.1")
	_, outcome, err = r.Upsert(ctx, &same)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
	stored, _ = tbl.Get(ctx, id)
	assert.True(t, stored.DateMod.Equal(created), "no write, no date_mod bump")

	changed := agent("10.0.0.2")
	_, outcome, err = r.Upsert(ctx, &changed)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)

	stored, _ = tbl.Get(ctx, id)
	assert.Equal(t, "10.0.0.2", stored.IP)
	assert.True(t, stored.DateMod.Equal(clk.t))
	ref, ok := stored.Device()
	require.True(t, ok, "sync never touches the device link")
	assert.Equal(t, inventory.ComputerRef(9), ref)
}

// relinkTable changes the stored link of every row right after a lookup,
// as a linker or operator writing between read and update would.
type relinkTable struct {
	*store.MemTable[inventory.Agent]
	relink func(*inventory.Agent)
}

func (r *relinkTable) Find(ctx context.Context, filter store.Filter) ([]inventory.Agent, error) {
	rows, err := r.MemTable.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		stored := row
		r.relink(&stored)
		if err := r.MemTable.Update(ctx, &stored); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func TestAgentUpdateKeepsConcurrentLinkChanges(t *testing.T) {
	tests := []struct {
		name    string
		initial inventory.DeviceRef
		relink  func(*inventory.Agent)
		wantRef inventory.DeviceRef
	}{
		{
			name:    "linked during sync",
			relink:  func(a *inventory.Agent) { a.Bind(inventory.ComputerRef(9)) },
			wantRef: inventory.ComputerRef(9),
		},
		{
			name:    "relinked during sync",
			initial: inventory.ComputerRef(9),
			relink:  func(a *inventory.Agent) { a.Bind(inventory.ComputerRef(11)) },
			wantRef: inventory.ComputerRef(11),
		},
		{
			name:    "unlinked during sync",
			initial: inventory.ComputerRef(9),
			relink:  func(a *inventory.Agent) { a.ItemType, a.ItemID = "", 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clk := newClock()
			mem := store.NewMemTable[inventory.Agent]("wazuh_agents", []string{"agent_id", "connection_id", "entity_id"})
			stored := inventory.Agent{AgentID: "001", ConnectionID: 1, Name: "HOST1", IP: "10.0.0.1"}
			if tt.initial != nil {
				stored.Bind(tt.initial)
			}
			require.NoError(t, mem.Insert(ctx, &stored))

			r := NewAgents(&relinkTable{MemTable: mem, relink: tt.relink}, WithClock(clk.now))
			clk.advance(time.Hour)
			incoming := inventory.Agent{AgentID: "001", ConnectionID: 1, Name: "HOST1", IP: "10.0.0.2"}
			_, outcome, err := r.Upsert(ctx, &incoming)
			require.NoError(t, err)
			assert.Equal(t, Updated, outcome)

			got, err := mem.Get(ctx, stored.ID)
			require.NoError(t, err)
			assert.Equal(t, "10.0.0.2", got.IP)
			assert.True(t, got.DateMod.Equal(clk.now()))
			ref, ok := got.Device()
			if tt.wantRef == nil {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.wantRef, ref)
		})
	}
}

// flakyTable fails inserts of selected keys and can hide rows from the next
// lookup to simulate a concurrent insert.
type flakyTable struct {
	*store.MemTable[inventory.Finding]
	failKeys map[string]bool
	hideOnce bool
}

func (f *flakyTable) Find(ctx context.Context, filter store.Filter) ([]inventory.Finding, error) {
	if f.hideOnce {
		f.hideOnce = false
		return nil, nil
	}
	return f.MemTable.Find(ctx, filter)
}

func (f *flakyTable) Insert(ctx context.Context, row *inventory.Finding) error {
	if f.failKeys[row.Key] {
		return errors.New("connection reset by peer")
	}
	return f.MemTable.Insert(ctx, row)
}

func TestUpsertAllContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	tbl := &flakyTable{MemTable: findingTable(), failKeys: map[string]bool{"b": true}}
	r := NewFindings(tbl)

	res := r.UpsertAll(ctx, []inventory.Finding{
		finding("a", 0, "A"),
		finding("b", 0, "B"),
		finding("c", 0, "C"),
	})
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, res.Succeeded())
	assert.Len(t, res.IDs, 2)
	require.Len(t, res.Errors, 1)

	var pe *PersistenceError
	require.ErrorAs(t, res.Errors[0], &pe)
	assert.Equal(t, "insert", pe.Op)
	assert.Contains(t, pe.Key, "remote_key=b")
	assert.Error(t, res.Err())
	assert.Equal(t, 2, tbl.Len())
}

func TestUpsertRecoversFromConcurrentInsert(t *testing.T) {
	ctx := context.Background()
	tbl := &flakyTable{MemTable: findingTable()}
	r := NewFindings(tbl)

	f := finding("a", 0, "A")
	id, _, err := r.Upsert(ctx, &f)
	require.NoError(t, err)

	tbl.hideOnce = true
	again := finding("a", 0, "A2")
	id2, outcome, err := r.Upsert(ctx, &again)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
	assert.Equal(t, id, id2)
	assert.Equal(t, 1, tbl.Len())
}

func TestUpsertAllStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewFindings(findingTable())

	res := r.UpsertAll(ctx, []inventory.Finding{finding("a", 0, "A")})
	assert.Zero(t, res.Succeeded())
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], context.Canceled)
}

func TestResultMerge(t *testing.T) {
	var total Result
	total.Merge(Result{Created: 1, IDs: []uint{1}})
	total.Merge(Result{Updated: 2, Failed: 1, Discontinued: 3, Errors: []error{errors.New("x")}})
	assert.Equal(t, 3, total.Succeeded())
	assert.Equal(t, 1, total.Failed)
	assert.Equal(t, 3, total.Discontinued)
	assert.Error(t, total.Err())
	assert.Nil(t, Result{}.Err())
}

// pkg/store/tables.go

package store

import (
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"gorm.io/gorm"
)

// Tables is the set of tables the sync pipeline reads and writes.
type Tables struct {
	Connections Table[inventory.Connection]
	Agents      Table[inventory.Agent]
	Entities    Table[inventory.Entity]
	Tickets     Table[inventory.Ticket]
	ItemTickets Table[inventory.ItemTicket]

	devices  map[inventory.DeviceKind]Table[inventory.Device]
	findings map[inventory.Profile]Table[inventory.Finding]
}

// Devices returns the asset table for kind.
func (t *Tables) Devices(kind inventory.DeviceKind) Table[inventory.Device] {
	return t.devices[kind]
}

// Findings returns the finding table for p.
func (t *Tables) Findings(p inventory.Profile) Table[inventory.Finding] {
	return t.findings[p]
}

var (
	agentUnique   = []string{"agent_id", "connection_id", "entity_id"}
	findingUnique = []string{"remote_key", "entity_id"}
)

// NewGormTables binds every table to db.
func NewGormTables(db *gorm.DB) *Tables {
	t := &Tables{
		Connections: NewGormTable[inventory.Connection](db, inventory.Connection{}.TableName()),
		Agents:      NewGormTable[inventory.Agent](db, inventory.Agent{}.TableName()),
		Entities:    NewGormTable[inventory.Entity](db, inventory.Entity{}.TableName()),
		Tickets:     NewGormTable[inventory.Ticket](db, inventory.Ticket{}.TableName()),
		ItemTickets: NewGormTable[inventory.ItemTicket](db, inventory.ItemTicket{}.TableName()),
		devices:     make(map[inventory.DeviceKind]Table[inventory.Device]),
		findings:    make(map[inventory.Profile]Table[inventory.Finding]),
	}
	for _, kind := range inventory.DeviceKinds {
		t.devices[kind] = NewGormTable[inventory.Device](db, kind.Table())
	}
	for _, p := range inventory.Profiles {
		t.findings[p] = NewGormTable[inventory.Finding](db, p.Table())
	}
	return t
}

// NewMemoryTables builds empty in-process tables with the same unique
// constraints Migrate creates.
func NewMemoryTables() *Tables {
	t := &Tables{
		Connections: NewMemTable[inventory.Connection](inventory.Connection{}.TableName()),
		Agents:      NewMemTable[inventory.Agent](inventory.Agent{}.TableName(), agentUnique),
		Entities:    NewMemTable[inventory.Entity](inventory.Entity{}.TableName()),
		Tickets:     NewMemTable[inventory.Ticket](inventory.Ticket{}.TableName()),
		ItemTickets: NewMemTable[inventory.ItemTicket](inventory.ItemTicket{}.TableName()),
		devices:     make(map[inventory.DeviceKind]Table[inventory.Device]),
		findings:    make(map[inventory.Profile]Table[inventory.Finding]),
	}
	for _, kind := range inventory.DeviceKinds {
		t.devices[kind] = NewMemTable[inventory.Device](kind.Table())
	}
	for _, p := range inventory.Profiles {
		t.findings[p] = NewMemTable[inventory.Finding](p.Table(), findingUnique)
	}
	return t
}

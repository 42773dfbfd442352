// pkg/inventory/agent.go

package inventory

import (
	"reflect"
	"strings"
	"time"

	"github.com/lib/pq"
)

// AgentStatus mirrors the manager's agent status values.
type AgentStatus string

const (
	AgentActive         AgentStatus = "active"
	AgentDisconnected   AgentStatus = "disconnected"
	AgentPending        AgentStatus = "pending"
	AgentNeverConnected AgentStatus = "never_connected"
	AgentStatusUnknown  AgentStatus = "unknown"
)

// ParseAgentStatus maps a manager status string, defaulting to unknown.
func ParseAgentStatus(s string) AgentStatus {
	switch AgentStatus(strings.ToLower(strings.TrimSpace(s))) {
	case AgentActive:
		return AgentActive
	case AgentDisconnected:
		return AgentDisconnected
	case AgentPending:
		return AgentPending
	case AgentNeverConnected:
		return AgentNeverConnected
	default:
		return AgentStatusUnknown
	}
}

// Agent is a Wazuh-monitored endpoint. ItemType/ItemID hold the binding to
// a local device and are written only by the linker.
type Agent struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	AgentID       string         `gorm:"column:agent_id;size:32;not null;uniqueIndex:idx_agent_conn_entity" json:"agent_id"`
	ConnectionID  uint           `gorm:"not null;uniqueIndex:idx_agent_conn_entity" json:"connection_id"`
	EntityID      uint           `gorm:"not null;uniqueIndex:idx_agent_conn_entity" json:"entity_id"`
	Name          string         `gorm:"size:255" json:"name"`
	IP            string         `gorm:"size:64" json:"ip"`
	Version       string         `gorm:"size:64" json:"version"`
	Status        AgentStatus    `gorm:"size:32" json:"status"`
	LastKeepAlive *time.Time     `json:"last_keep_alive,omitempty"`
	OSName        string         `gorm:"size:255" json:"os_name"`
	OSVersion     string         `gorm:"size:255" json:"os_version"`
	Groups        pq.StringArray `gorm:"type:text[]" json:"groups"`
	ItemType      string         `gorm:"column:itemtype;size:64" json:"itemtype,omitempty"`
	ItemID        uint           `gorm:"column:item_id;not null;default:0" json:"item_id,omitempty"`
	IsDeleted     bool           `gorm:"not null;default:false" json:"is_deleted"`
	DateCreation  time.Time      `json:"date_creation"`
	DateMod       time.Time      `json:"date_mod"`
}

func (Agent) TableName() string { return "wazuh_agents" }

// Device returns the bound device, if any.
func (a *Agent) Device() (DeviceRef, bool) {
	ref, err := NewDeviceRef(DeviceKind(a.ItemType), a.ItemID)
	if err != nil {
		return nil, false
	}
	return ref, true
}

// Bind sets the device link fields.
func (a *Agent) Bind(ref DeviceRef) {
	a.ItemType = string(ref.Kind())
	a.ItemID = ref.DeviceID()
}

func (a *Agent) GetID() uint   { return a.ID }
func (a *Agent) SetID(id uint) { a.ID = id }
func (a *Agent) Stamp(created bool, now time.Time) {
	if created {
		a.DateCreation = now
	}
	a.DateMod = now
}

// SameContent compares the fields a manager sync owns. Link fields and
// bookkeeping columns are excluded.
func (a *Agent) SameContent(other *Agent) bool {
	return a.Name == other.Name &&
		a.IP == other.IP &&
		a.Version == other.Version &&
		a.Status == other.Status &&
		timePtrEqual(a.LastKeepAlive, other.LastKeepAlive) &&
		a.OSName == other.OSName &&
		a.OSVersion == other.OSVersion &&
		reflect.DeepEqual(normalizeGroups(a.Groups), normalizeGroups(other.Groups)) &&
		a.IsDeleted == other.IsDeleted
}

// MergeInto copies manager-owned fields onto existing, keeping its link,
// id and creation date.
func (a *Agent) MergeInto(existing *Agent) {
	a.ID = existing.ID
	a.ItemType = existing.ItemType
	a.ItemID = existing.ItemID
	a.DateCreation = existing.DateCreation
	a.DateMod = existing.DateMod
}

// OwnedColumns lists the columns a manager sync writes on update. The link
// columns belong to the linker and operators and are never written here.
func (a *Agent) OwnedColumns() map[string]any {
	return map[string]any{
		"name":            a.Name,
		"ip":              a.IP,
		"version":         a.Version,
		"status":          a.Status,
		"last_keep_alive": a.LastKeepAlive,
		"os_name":         a.OSName,
		"os_version":      a.OSVersion,
		"groups":          a.Groups,
		"is_deleted":      a.IsDeleted,
		"date_mod":        a.DateMod,
	}
}

func normalizeGroups(g pq.StringArray) []string {
	if len(g) == 0 {
		return nil
	}
	return []string(g)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

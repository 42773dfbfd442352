// pkg/inventory/finding.go

package inventory

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Payload is the free-form, kind-specific detail blob of a finding.
type Payload map[string]any

// Value implements driver.Valuer.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("payload: cannot scan %T", src)
	}
	out := Payload{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("payload: %w", err)
		}
	}
	*p = out
	return nil
}

// Text returns the payload value at key as a string, or "".
func (p Payload) Text(key string) string {
	if v, ok := p[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

// Finding is a reconciled vulnerability or alert row, or a synthetic parent
// group when IsGroup is set. Children point at their group through ParentID;
// zero means root. ConnectionID is the connection that last reported the
// row; groups carry zero.
type Finding struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Key          string     `gorm:"column:remote_key;size:255;not null" json:"key"`
	Name         string     `gorm:"size:255" json:"name"`
	DeviceID     uint       `gorm:"column:device_id;not null" json:"device_id"`
	EntityID     uint       `gorm:"not null" json:"entity_id"`
	ConnectionID uint       `gorm:"column:connection_id;not null;default:0" json:"connection_id,omitempty"`
	ParentID     uint       `gorm:"not null;default:0" json:"parent_id"`
	IsGroup      bool       `gorm:"not null;default:false" json:"is_group"`
	Payload      Payload    `gorm:"type:jsonb" json:"payload,omitempty"`
	ObservedAt   *time.Time `json:"observed_at,omitempty"`
	Discontinued bool       `gorm:"column:is_discontinue;not null;default:false" json:"discontinued"`
	TicketID     uint       `gorm:"column:tickets_id;not null;default:0" json:"ticket_id,omitempty"`
	IsDeleted    bool       `gorm:"not null;default:false" json:"is_deleted"`
	DateCreation time.Time  `json:"date_creation"`
	DateMod      time.Time  `json:"date_mod"`
}

func (f *Finding) GetID() uint   { return f.ID }
func (f *Finding) SetID(id uint) { f.ID = id }
func (f *Finding) Stamp(created bool, now time.Time) {
	if created {
		f.DateCreation = now
	}
	f.DateMod = now
}

// SameContent compares the source-owned fields.
func (f *Finding) SameContent(other *Finding) bool {
	return f.Name == other.Name &&
		f.DeviceID == other.DeviceID &&
		f.ConnectionID == other.ConnectionID &&
		f.ParentID == other.ParentID &&
		f.IsGroup == other.IsGroup &&
		f.Discontinued == other.Discontinued &&
		timePtrEqual(f.ObservedAt, other.ObservedAt) &&
		payloadEqual(f.Payload, other.Payload)
}

// MergeInto keeps the ticket back-link, id and creation date of existing.
func (f *Finding) MergeInto(existing *Finding) {
	f.ID = existing.ID
	f.TicketID = existing.TicketID
	f.DateCreation = existing.DateCreation
	f.DateMod = existing.DateMod
}

// payloadEqual compares through JSON so that values read back from a store
// (float64 numbers) match freshly mapped ones.
func payloadEqual(a, b Payload) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	var na, nb any
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	if json.Unmarshal(ja, &na) != nil || json.Unmarshal(jb, &nb) != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

// pkg/inventory/device.go

package inventory

import (
	"fmt"
)

// DeviceKind names one of the local asset tables an agent can be bound to.
type DeviceKind string

const (
	KindComputer         DeviceKind = "Computer"
	KindNetworkEquipment DeviceKind = "NetworkEquipment"
)

// DeviceKinds lists every kind in linking order. The last kind to match wins.
var DeviceKinds = []DeviceKind{KindNetworkEquipment, KindComputer}

// Table is the store table holding devices of this kind.
func (k DeviceKind) Table() string {
	switch k {
	case KindComputer:
		return "computers"
	case KindNetworkEquipment:
		return "network_equipments"
	default:
		return ""
	}
}

func (k DeviceKind) Valid() bool {
	return k == KindComputer || k == KindNetworkEquipment
}

// DeviceRef is a closed sum: ComputerRef or NetworkEquipmentRef.
type DeviceRef interface {
	Kind() DeviceKind
	DeviceID() uint
	isDeviceRef()
}

type ComputerRef uint

func (r ComputerRef) Kind() DeviceKind { return KindComputer }
func (r ComputerRef) DeviceID() uint   { return uint(r) }
func (ComputerRef) isDeviceRef()       {}
func (r ComputerRef) String() string   { return fmt.Sprintf("Computer(%d)", uint(r)) }

type NetworkEquipmentRef uint

func (r NetworkEquipmentRef) Kind() DeviceKind { return KindNetworkEquipment }
func (r NetworkEquipmentRef) DeviceID() uint   { return uint(r) }
func (NetworkEquipmentRef) isDeviceRef()       {}
func (r NetworkEquipmentRef) String() string {
	return fmt.Sprintf("NetworkEquipment(%d)", uint(r))
}

// NewDeviceRef builds a reference from a stored itemtype tag and id.
func NewDeviceRef(kind DeviceKind, id uint) (DeviceRef, error) {
	if id == 0 {
		return nil, fmt.Errorf("device id must be non-zero")
	}
	switch kind {
	case KindComputer:
		return ComputerRef(id), nil
	case KindNetworkEquipment:
		return NetworkEquipmentRef(id), nil
	default:
		return nil, fmt.Errorf("unknown device kind %q", kind)
	}
}

// Device is a row of a local asset table (computers, network_equipments).
// Rows are owned by the asset inventory; delphi-sync only reads them.
type Device struct {
	ID        uint   `gorm:"primaryKey" json:"id" yaml:"id"`
	Name      string `gorm:"size:255" json:"name" yaml:"name"`
	EntityID  uint   `json:"entity_id" yaml:"entity_id"`
	IsDeleted bool   `gorm:"not null;default:false" json:"is_deleted" yaml:"is_deleted"`
}

// Entity is a tenant scope. ParentID zero marks the root.
type Entity struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"size:255" json:"name"`
	ParentID uint   `gorm:"index" json:"parent_id"`
}

func (Entity) TableName() string { return "entities" }

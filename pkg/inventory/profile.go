// pkg/inventory/profile.go

package inventory

import "strings"

// FindingKind is the source of a finding.
type FindingKind string

const (
	KindVulnerability FindingKind = "vulnerability"
	KindAlert         FindingKind = "alert"
)

func (k FindingKind) Valid() bool {
	return k == KindVulnerability || k == KindAlert
}

// Profile identifies one finding table: a finding kind stored against one
// device kind. Every table shares the Finding row shape.
type Profile struct {
	Finding FindingKind
	Device  DeviceKind
}

// Profiles enumerates every finding table.
var Profiles = []Profile{
	{Finding: KindVulnerability, Device: KindComputer},
	{Finding: KindVulnerability, Device: KindNetworkEquipment},
	{Finding: KindAlert, Device: KindComputer},
	{Finding: KindAlert, Device: KindNetworkEquipment},
}

// Table is e.g. "computer_vulnerabilities" or "networkequipment_alerts".
func (p Profile) Table() string {
	suffix := "alerts"
	if p.Finding == KindVulnerability {
		suffix = "vulnerabilities"
	}
	return strings.ToLower(string(p.Device)) + "_" + suffix
}

// DeviceTable is the asset table findings in this profile point at.
func (p Profile) DeviceTable() string {
	return p.Device.Table()
}

// DeviceForeignKey is the column holding the owning device id.
func (p Profile) DeviceForeignKey() string {
	return "device_id"
}

// ItemType is the tag used when linking a finding of this profile to a ticket.
func (p Profile) ItemType() string {
	switch p.Finding {
	case KindAlert:
		return string(p.Device) + "Alert"
	default:
		return string(p.Device) + "Vulnerability"
	}
}

// SweepsAbsent reports whether findings missing from a complete fetch are
// marked discontinued. Alerts are time-windowed, so absence means nothing.
func (p Profile) SweepsAbsent() bool {
	return p.Finding == KindVulnerability
}

func (p Profile) Valid() bool {
	return p.Finding.Valid() && p.Device.Valid()
}

func (p Profile) String() string {
	return p.Table()
}

// ProfileForTable returns the profile stored in table.
func ProfileForTable(table string) (Profile, bool) {
	for _, p := range Profiles {
		if p.Table() == table {
			return p, true
		}
	}
	return Profile{}, false
}

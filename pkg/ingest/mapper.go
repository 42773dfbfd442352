// Package ingest maps Wazuh DTOs onto inventory rows. Mapping is pure: no
// I/O, no clock, and missing source fields become empty values.
package ingest

import (
	"path"
	"strings"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/wazuh"
)

const (
	// SyscheckChangedGroup is the grouping name of file-integrity change
	// events, which nest one level deeper by directory.
	SyscheckChangedGroup = "syscheck_integrity_changed"

	unknownGroup = "unknown"
)

// Agent maps a manager agent onto an Agent row owned by conn. Link fields
// are left empty; the reconciler preserves existing links.
func Agent(dto wazuh.AgentDTO, conn *inventory.Connection) inventory.Agent {
	groups := make([]string, 0, len(dto.Group))
	groups = append(groups, dto.Group...)
	if len(groups) == 0 {
		groups = nil
	}
	return inventory.Agent{
		AgentID:       dto.ID,
		ConnectionID:  conn.ID,
		EntityID:      conn.EntityID,
		Name:          dto.Name,
		IP:            dto.IP,
		Version:       dto.Version,
		Status:        inventory.ParseAgentStatus(dto.Status),
		LastKeepAlive: ParseTimestamp(dto.LastKeepAlive),
		OSName:        dto.OS.Name,
		OSVersion:     dto.OS.Version,
		Groups:        groups,
	}
}

// Vulnerability maps an indexer vulnerability onto a Finding of dev. The
// record name is the CVE id.
func Vulnerability(hit wazuh.VulnerabilityHit, dev inventory.Device) inventory.Finding {
	v, p := hit.Vulnerability, hit.Package
	return inventory.Finding{
		Key:        hit.Key,
		Name:       v.ID,
		DeviceID:   dev.ID,
		EntityID:   dev.EntityID,
		ObservedAt: ParseTimestamp(v.DetectedAt),
		Payload: inventory.Payload{
			"v_description":    v.Description,
			"v_severity":       v.Severity,
			"v_detected":       formatTimestamp(v.DetectedAt),
			"v_published":      formatTimestamp(v.PublishedAt),
			"v_enum":           v.Enumeration,
			"v_category":       v.Category,
			"v_classification": v.Classification,
			"v_reference":      v.Reference,
			"v_score":          v.Score.Base,
			"p_name":           p.Name,
			"p_version":        p.Version,
			"p_type":           p.Type,
			"p_description":    p.Description,
			"p_installed":      formatTimestamp(p.Installed),
		},
	}
}

// Alert maps an indexer alert onto a Finding of dev. The record name is the
// alert's grouping name.
func Alert(hit wazuh.AlertHit, dev inventory.Device) inventory.Finding {
	return inventory.Finding{
		Key:        hit.Key,
		Name:       AlertGroupName(hit),
		DeviceID:   dev.ID,
		EntityID:   dev.EntityID,
		ObservedAt: ParseTimestamp(hit.Timestamp),
		Payload: inventory.Payload{
			"a_ip":             hit.Agent.IP,
			"a_name":           hit.Agent.Name,
			"a_id":             hit.Agent.ID,
			"decoder":          hit.Decoder.Name,
			"data":             blob(hit.Data),
			"rule":             blob(hit.Rule),
			"syscheck":         blob(hit.Syscheck),
			"input_type":       hit.Input.Type,
			"location":         hit.Location,
			"source_timestamp": formatTimestamp(hit.Timestamp),
		},
	}
}

// AlertGroupName is decoder.name, then rule.description, then "unknown".
func AlertGroupName(hit wazuh.AlertHit) string {
	if name := strings.TrimSpace(hit.Decoder.Name); name != "" {
		return name
	}
	if desc := strings.TrimSpace(hit.RuleDescription()); desc != "" {
		return desc
	}
	return unknownGroup
}

// AlertGroupPath is the parent-group chain for an alert: the grouping name,
// plus the top-level directory for file-integrity changes.
func AlertGroupPath(hit wazuh.AlertHit) []string {
	name := AlertGroupName(hit)
	if name == SyscheckChangedGroup {
		if dir := SyscheckDirectory(hit.SyscheckPath()); dir != "" {
			return []string{name, dir}
		}
	}
	return []string{name}
}

// VulnerabilityGroupPath groups vulnerabilities of a device by CVE id.
func VulnerabilityGroupPath(hit wazuh.VulnerabilityHit) []string {
	if hit.Vulnerability.ID == "" {
		return nil
	}
	return []string{hit.Vulnerability.ID}
}

// SyscheckDirectory returns the first component of the directory holding
// p: /etc/ssh/sshd_config gives "etc". Relative or root-level paths give "".
func SyscheckDirectory(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	if !strings.HasPrefix(p, "/") {
		if i := strings.Index(p, ":/"); i == 1 {
			p = p[2:]
		} else {
			return ""
		}
	}
	parts := strings.Split(path.Dir(p), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func blob(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}

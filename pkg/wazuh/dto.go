// pkg/wazuh/dto.go

package wazuh

import "encoding/json"

// OSInfo is the operating system block of a manager agent record.
type OSInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Arch     string `json:"arch"`
}

// AgentDTO is one entry of GET /agents. Missing fields decode to zero values.
type AgentDTO struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	IP            string   `json:"ip"`
	Version       string   `json:"version"`
	Status        string   `json:"status"`
	LastKeepAlive string   `json:"lastKeepAlive"`
	DateAdd       string   `json:"dateAdd"`
	OS            OSInfo   `json:"os"`
	Group         []string `json:"group"`
	Manager       string   `json:"manager"`
	NodeName      string   `json:"node_name"`
}

// Score holds CVSS scores reported for a vulnerability.
type Score struct {
	Base    float64 `json:"base"`
	Version string  `json:"version"`
}

// Vulnerability is the vulnerability block of a wazuh-states-vulnerabilities
// document.
type Vulnerability struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	Severity       string `json:"severity"`
	DetectedAt     string `json:"detected_at"`
	PublishedAt    string `json:"published_at"`
	Enumeration    string `json:"enumeration"`
	Category       string `json:"category"`
	Classification string `json:"classification"`
	Reference      string `json:"reference"`
	Score          Score  `json:"score"`
}

// Package is the affected software package.
type Package struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Type         string `json:"type"`
	Description  string `json:"description"`
	Installed    string `json:"installed"`
	Architecture string `json:"architecture"`
}

// AgentRef identifies the reporting agent inside an indexer document.
type AgentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// VulnerabilityHit is one vulnerability finding. Key is the indexer document
// id, or a synthesized id for the legacy manager endpoint.
type VulnerabilityHit struct {
	Key           string        `json:"-"`
	Agent         AgentRef      `json:"agent"`
	Vulnerability Vulnerability `json:"vulnerability"`
	Package       Package       `json:"package"`
}

// AlertHit is one alert document from wazuh-alerts-*. The rule, data and
// syscheck blobs are kept as raw maps.
type AlertHit struct {
	Key       string         `json:"-"`
	Timestamp string         `json:"timestamp"`
	Agent     AgentRef       `json:"agent"`
	Decoder   struct {
		Name string `json:"name"`
	} `json:"decoder"`
	Rule     map[string]any `json:"rule"`
	Data     map[string]any `json:"data"`
	Syscheck map[string]any `json:"syscheck"`
	Input    struct {
		Type string `json:"type"`
	} `json:"input"`
	Location string `json:"location"`
	FullLog  string `json:"full_log"`
}

// RuleDescription returns rule.description, or "".
func (a *AlertHit) RuleDescription() string {
	if s, ok := a.Rule["description"].(string); ok {
		return s
	}
	return ""
}

// SyscheckPath returns syscheck.path, or "".
func (a *AlertHit) SyscheckPath() string {
	if s, ok := a.Syscheck["path"].(string); ok {
		return s
	}
	return ""
}

// Batch is the result of a per-agent fetch. Truncated lists agents whose
// result set exceeded what the indexer would page through; callers must not
// treat those agents' lists as complete.
type Batch[T any] struct {
	Items     []T
	Truncated map[string]bool
}

func (b *Batch[T]) markTruncated(agentID string) {
	if b.Truncated == nil {
		b.Truncated = make(map[string]bool)
	}
	b.Truncated[agentID] = true
}

// managerEnvelope is the common manager API response shape.
type managerEnvelope[T any] struct {
	Data struct {
		AffectedItems      []T `json:"affected_items"`
		TotalAffectedItems int `json:"total_affected_items"`
		TotalFailedItems   int `json:"total_failed_items"`
	} `json:"data"`
	Message string `json:"message"`
	Error   int    `json:"error"`
}

type authEnvelope struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

type infoEnvelope struct {
	Data struct {
		Title      string `json:"title"`
		APIVersion string `json:"api_version"`
		Revision   int    `json:"revision"`
		Hostname   string `json:"hostname"`
	} `json:"data"`
}

// managerFault is the body of a non-2xx manager reply.
type managerFault struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type searchHit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

type searchEnvelope struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

// legacyVulnerability is an item of the pre-4.8 GET /vulnerability/{agent_id}.
type legacyVulnerability struct {
	CVE                string   `json:"cve"`
	Name               string   `json:"name"`
	Version            string   `json:"version"`
	Architecture       string   `json:"architecture"`
	Severity           string   `json:"severity"`
	Title              string   `json:"title"`
	Published          string   `json:"published"`
	DetectionTime      string   `json:"detection_time"`
	Type               string   `json:"type"`
	Status             string   `json:"status"`
	CVSS3Score         float64  `json:"cvss3_score"`
	CVSS2Score         float64  `json:"cvss2_score"`
	ExternalReferences []string `json:"external_references"`
}

func (l legacyVulnerability) hit(agentID string) VulnerabilityHit {
	score := l.CVSS3Score
	if score == 0 {
		score = l.CVSS2Score
	}
	ref := ""
	if len(l.ExternalReferences) > 0 {
		ref = l.ExternalReferences[0]
	}
	return VulnerabilityHit{
		Key:   agentID + "_" + l.Name + "_" + l.Version + "_" + l.CVE,
		Agent: AgentRef{ID: agentID},
		Vulnerability: Vulnerability{
			ID:          l.CVE,
			Description: l.Title,
			Severity:    l.Severity,
			DetectedAt:  l.DetectionTime,
			PublishedAt: l.Published,
			Enumeration: "CVE",
			Category:    "Packages",
			Reference:   ref,
			Score:       Score{Base: score},
		},
		Package: Package{
			Name:         l.Name,
			Version:      l.Version,
			Type:         l.Type,
			Architecture: l.Architecture,
		},
	}
}

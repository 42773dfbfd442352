// pkg/ingest/timestamp.go

package ingest

import (
	"strings"
	"time"
)

// timestampLayouts covers the formats the manager and indexer emit,
// e.g. 2026-01-28T08:28:55.574+0000 for alerts and RFC 3339 elsewhere.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999-0700",
	"2006-01-02T15:04:05.999Z0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// latestPlausible bounds accepted timestamps. The manager reports its own
// agent's keepalive as 9999-12-31.
var latestPlausible = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

// ParseTimestamp converts a source timestamp to UTC. Empty, unparsable,
// non-positive and far-future values yield nil.
func ParseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		t = t.UTC()
		if t.Unix() <= 0 || !t.Before(latestPlausible) {
			return nil
		}
		return &t
	}
	return nil
}

// formatTimestamp renders a parsed timestamp for a payload, or nil.
func formatTimestamp(s string) any {
	t := ParseTimestamp(s)
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

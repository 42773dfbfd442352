// Package events publishes sync notifications for downstream consumers.
package events

import (
	"context"
	"sync"
	"time"
)

// Event types, also the last subject token.
const (
	TypeSyncCompleted = "sync.completed"
	TypeSyncFailed    = "sync.failed"
	TypeDiscontinued  = "findings.discontinued"
	TypeTicketCreated = "ticket.created"
)

// Event is one notification. Fields is free-form and JSON-encoded.
type Event struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	ConnectionID uint           `json:"connection_id,omitempty"`
	EntityID     uint           `json:"entity_id"`
	Time         time.Time      `json:"time"`
	Fields       map[string]any `json:"fields,omitempty"`
}

// Publisher delivers events. Publish failures are for logging only; the
// pipeline never blocks on them.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of what was published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType filters Events by type.
func (r *Recorder) OfType(t string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

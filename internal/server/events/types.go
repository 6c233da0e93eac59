package events

import (
	"slices"
	"time"
)

// Event is one state change pushed to rendering surfaces.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // graph.updated, filter.updated, selection.updated, auth.updated
	Timestamp time.Time `json:"timestamp"`
	Version   uint64    `json:"version"`
	Payload   any       `json:"payload,omitempty"`
}

// Event type constants
const (
	EventGraphUpdated     = "graph.updated"
	EventFilterUpdated    = "filter.updated"
	EventSelectionUpdated = "selection.updated"
	EventAuthUpdated      = "auth.updated"
)

// Pattern selects the events a client receives. An empty pattern matches
// everything.
type Pattern struct {
	EventTypes []string `json:"event_types,omitempty"`
}

// Matches reports whether e is selected by p.
func (p Pattern) Matches(e Event) bool {
	return len(p.EventTypes) == 0 || slices.Contains(p.EventTypes, e.Type)
}

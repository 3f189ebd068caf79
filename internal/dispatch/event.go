package dispatch

import (
	"fmt"
	"time"

	"github.com/sawpanic/signalcache/internal/models"
)

// EventKind is the closed set of live mutations a scope can push.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventExpired EventKind = "expired"
)

// Event is one push from the server: a kind plus the full signal
// snapshot it refers to.
type Event struct {
	Kind       EventKind     `json:"kind"`
	Signal     models.Signal `json:"signal"`
	ReceivedAt time.Time     `json:"received_at"`
}

// Validate rejects payloads outside the closed kind set or without an
// identity, so malformed frames never reach the mutation table.
func (e Event) Validate() error {
	switch e.Kind {
	case EventCreated, EventUpdated, EventExpired:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Signal.ID == "" {
		return fmt.Errorf("event %s missing signal id", e.Kind)
	}
	return nil
}

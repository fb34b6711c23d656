// Package journal keeps an operational history of device change events in
// SQLite. It is a history only: device and source registries are always
// rebuilt from the network.
package journal

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is one journaled change event.
type Entry struct {
	EventID    string          `json:"event_id"`
	ReceivedAt time.Time       `json:"received_at"`
	Host       string          `json:"host"`
	Event      string          `json:"event"`
	Command    string          `json:"command"`
	Message    string          `json:"message"`
	PID        *int            `json:"pid,omitempty"`
	Heos       json.RawMessage `json:"heos"`
}

// Filter narrows List. Zero fields do not filter.
type Filter struct {
	Event  string
	Host   string
	PID    *int
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// EntryNotFoundError is returned when a journal entry does not exist.
type EntryNotFoundError struct {
	EventID string
}

func (e *EntryNotFoundError) Error() string {
	return fmt.Sprintf("journal entry not found: %s", e.EventID)
}

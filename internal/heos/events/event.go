// Package events watches the device push feed, applies it to device state
// and fans it out to subscribers.
package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
)

// Event is one unsolicited change event as received from a device.
type Event struct {
	ID         string
	Host       string
	Command    string
	Name       string
	Message    protocol.Message
	Envelope   protocol.Envelope
	ReceivedAt time.Time
}

// NewEvent wraps an event envelope read from host.
func NewEvent(env protocol.Envelope, host string) Event {
	return Event{
		ID:         uuid.NewString(),
		Host:       host,
		Command:    env.Command,
		Name:       env.EventName(),
		Message:    env.Message,
		Envelope:   env,
		ReceivedAt: time.Now().UTC(),
	}
}

// PID returns the pid named in the message, if any.
func (ev Event) PID() (int, bool) {
	pid, err := ev.Message.Int("pid")
	if err != nil {
		return 0, false
	}
	return pid, true
}

// Record is the serialized form of an event pushed to stream clients.
type Record struct {
	Event   string          `json:"event"`
	Command string          `json:"command"`
	Message string          `json:"message"`
	Heos    json.RawMessage `json:"heos"`
}

// Record returns the wire record for the event. Heos holds the complete
// envelope as received.
func (ev Event) Record() Record {
	raw := json.RawMessage(ev.Envelope.Raw)
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	return Record{
		Event:   ev.Name,
		Command: ev.Command,
		Message: ev.Message.Raw(),
		Heos:    raw,
	}
}

// FormatEvent renders ev as a text block:
//
//	Event: <name>
//	data: <line 1 of the indented JSON record>
//	data: <line 2>
//	...
//
// followed by a blank line.
func FormatEvent(ev Event) string {
	data, err := json.MarshalIndent(ev.Record(), "", "  ")
	if err != nil {
		// drop the envelope if it does not re-encode
		data, _ = json.MarshalIndent(Record{Event: ev.Name, Command: ev.Command, Message: ev.Message.Raw()}, "", "  ")
	}

	var b strings.Builder
	b.WriteString("Event: ")
	b.WriteString(ev.Name)
	b.WriteByte('\n')
	for _, line := range strings.Split(string(data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

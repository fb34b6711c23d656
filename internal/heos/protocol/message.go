package protocol

import (
	"net/url"
	"strconv"
	"strings"
)

// Message is the parsed form of the heos.message field. The field is a
// query-string-like blob (k=v&k=v) and is never JSON.
type Message struct {
	raw    string
	keys   []string
	values map[string]string
}

// ParseMessage splits a message blob into key/value pairs. Keys without a
// value (bare flags such as "command under process") map to "".
func ParseMessage(raw string) Message {
	msg := Message{raw: raw, values: make(map[string]string)}
	if raw == "" {
		return msg
	}
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		key = unescapeValue(key)
		if _, exists := msg.values[key]; !exists {
			msg.keys = append(msg.keys, key)
		}
		msg.values[key] = unescapeValue(value)
	}
	return msg
}

// unescapeValue decodes %XX sequences. '+' is kept literally; the CLI does
// not use form encoding.
func unescapeValue(value string) string {
	if !strings.Contains(value, "%") {
		return value
	}
	decoded, err := url.PathUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}

// Raw returns the undecoded message text.
func (m Message) Raw() string { return m.raw }

func (m Message) String() string { return m.raw }

// Keys returns the keys in the order they appeared.
func (m Message) Keys() []string {
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	return keys
}

// Get returns the value for key, or "" when absent.
func (m Message) Get(key string) string {
	return m.values[key]
}

// Lookup returns the value for key and whether it was present.
func (m Message) Lookup(key string) (string, bool) {
	value, ok := m.values[key]
	return value, ok
}

// Has reports whether key was present.
func (m Message) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Int parses the value for key as an integer. Missing or non-numeric values
// produce a *ParseError rather than a default.
func (m Message) Int(key string) (int, error) {
	value, ok := m.values[key]
	if !ok {
		return 0, &ParseError{Field: key, Value: "", Err: errMissing}
	}
	return ParseInt(key, value)
}

// Map copies the decoded pairs into a plain map.
func (m Message) Map() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// ParseInt converts text to an int, returning a *ParseError on failure.
func ParseInt(field, value string) (int, error) {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, &ParseError{Field: field, Value: value, Err: err}
	}
	return parsed, nil
}

// ParseOnOff converts the CLI's on/off tokens to a bool.
func ParseOnOff(field, value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, &ParseError{Field: field, Value: value}
	}
}

// OnOff is the inverse of ParseOnOff.
func OnOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

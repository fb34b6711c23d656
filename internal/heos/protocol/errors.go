package protocol

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by a Pool after Close.
var ErrClosed = errors.New("link pool closed")

var errMissing = errors.New("missing value")

// TransportError indicates the connection to a device could not be used.
type TransportError struct {
	Host string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("heos %s %s: %v", e.Op, e.Host, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports bytes that did not resolve to a usable envelope.
type ProtocolError struct {
	Host   string
	Reason string
	Raw    []byte
}

func (e *ProtocolError) Error() string {
	if e.Host == "" {
		return "heos protocol error: " + e.Reason
	}
	return fmt.Sprintf("heos protocol error from %s: %s", e.Host, e.Reason)
}

// CommandRejectedError represents a response with result=fail.
type CommandRejectedError struct {
	Command string
	Message Message
}

func (e *CommandRejectedError) Error() string {
	text := e.Message.Get("text")
	eid := e.Message.Get("eid")
	switch {
	case text != "" && eid != "":
		return fmt.Sprintf("heos command %s rejected: eid %s (%s)", e.Command, eid, text)
	case text != "":
		return fmt.Sprintf("heos command %s rejected: %s", e.Command, text)
	default:
		return fmt.Sprintf("heos command %s rejected", e.Command)
	}
}

// ValidationError is returned for inputs refused before any network I/O.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ParseError indicates a message field carried text that could not be parsed.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("parse %s: unexpected value %q", e.Field, e.Value)
	}
	return fmt.Sprintf("parse %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

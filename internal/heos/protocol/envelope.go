package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

const (
	ResultSuccess = "success"
	ResultFail    = "fail"

	// ProvisionalMarker starts the message of a response that is not final yet.
	ProvisionalMarker = "command under process"

	eventPrefix = "event/"
)

// Envelope is one parsed protocol unit: the heos header plus optional payload.
type Envelope struct {
	Command string
	Result  string
	Message Message
	Payload json.RawMessage
	Options json.RawMessage
	Raw     []byte
}

// ParseEnvelope extracts the heos header from a single complete JSON object.
func ParseEnvelope(raw []byte) (Envelope, error) {
	if !json.Valid(raw) {
		return Envelope{}, &ProtocolError{Reason: "invalid JSON object", Raw: raw}
	}
	owned := make([]byte, len(raw))
	copy(owned, raw)

	command, err := jsonparser.GetString(owned, "heos", "command")
	if err != nil {
		return Envelope{}, &ProtocolError{Reason: "missing heos.command", Raw: owned}
	}
	env := Envelope{Command: command, Raw: owned}

	if result, err := jsonparser.GetString(owned, "heos", "result"); err == nil {
		env.Result = result
	}
	if message, err := jsonparser.GetString(owned, "heos", "message"); err == nil {
		env.Message = ParseMessage(message)
	}
	if env.Payload, err = optionalValue(owned, "payload"); err != nil {
		return Envelope{}, &ProtocolError{Reason: "malformed payload", Raw: owned}
	}
	if env.Options, err = optionalValue(owned, "options"); err != nil {
		return Envelope{}, &ProtocolError{Reason: "malformed options", Raw: owned}
	}
	return env, nil
}

func optionalValue(data []byte, key string) (json.RawMessage, error) {
	value, dataType, _, err := jsonparser.Get(data, key)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) || dataType == jsonparser.Null {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(value), nil
}

// Succeeded reports result == success.
func (e Envelope) Succeeded() bool {
	return e.Result == ResultSuccess
}

// IsProvisional reports whether the device is still working on the command.
func (e Envelope) IsProvisional() bool {
	return strings.HasPrefix(e.Message.Raw(), ProvisionalMarker)
}

// IsEvent reports whether the envelope is an unsolicited change event.
func (e Envelope) IsEvent() bool {
	return strings.HasPrefix(e.Command, eventPrefix)
}

// EventName returns <name> for a command of the form event/<name>.
func (e Envelope) EventName() string {
	return strings.TrimPrefix(e.Command, eventPrefix)
}

// HasPayload reports whether a non-null payload was present.
func (e Envelope) HasPayload() bool {
	return len(e.Payload) > 0
}

// DecodePayload unmarshals the payload into v. A missing payload leaves v untouched.
func (e Envelope) DecodePayload(v any) error {
	if !e.HasPayload() {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Err converts a failed result into a *CommandRejectedError.
func (e Envelope) Err() error {
	if e.Succeeded() {
		return nil
	}
	return &CommandRejectedError{Command: e.Command, Message: e.Message}
}

// FlexString decodes a JSON string or number. The CLI is not consistent about
// whether identifiers are quoted.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = ""
		return nil
	case data[0] == '"':
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*s = FlexString(value)
		return nil
	default:
		var number json.Number
		if err := json.Unmarshal(data, &number); err != nil {
			return err
		}
		*s = FlexString(number.String())
		return nil
	}
}

func (s FlexString) String() string { return string(s) }

// Int parses the value as an integer.
func (s FlexString) Int() (int, error) {
	return strconv.Atoi(strings.TrimSpace(string(s)))
}

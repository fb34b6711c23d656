package protocol

import (
	"bytes"
	"fmt"
)

// DefaultMaxFrameSize bounds how many bytes a single unfinished object may occupy.
const DefaultMaxFrameSize = 1 << 20

// Framer turns a non-delimited byte stream into envelopes. The CLI does not
// guarantee one object per read, nor one object per line, so objects are cut
// by tracking brace depth outside of JSON strings.
type Framer struct {
	buf     []byte
	maxSize int

	// scan state for the object at the head of buf
	pos      int
	depth    int
	inString bool
	escaped  bool
}

// NewFramer returns a framer with the default size bound.
func NewFramer() *Framer {
	return &Framer{maxSize: DefaultMaxFrameSize}
}

// Feed appends raw bytes read from the connection.
func (f *Framer) Feed(data []byte) {
	f.buf = append(f.buf, data...)
}

// Buffered returns the number of bytes not yet framed.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset drops any buffered bytes.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.resetScan()
}

func (f *Framer) resetScan() {
	f.pos = 0
	f.depth = 0
	f.inString = false
	f.escaped = false
}

// Next returns the next complete envelope. ok is false when more data is
// needed. A non-nil error means something was discarded (leading garbage or
// an undecodable object); the framer stays usable and Next should be called
// again.
func (f *Framer) Next() (env Envelope, ok bool, err error) {
	if f.depth == 0 && f.pos == 0 {
		if dropped := f.skipToObject(); dropped != nil {
			return Envelope{}, false, &ProtocolError{Reason: "discarded non-JSON bytes", Raw: dropped}
		}
		if len(f.buf) == 0 {
			return Envelope{}, false, nil
		}
	}

	end := f.scan()
	if end < 0 {
		if len(f.buf) > f.maxSize {
			size := len(f.buf)
			f.Reset()
			return Envelope{}, false, &ProtocolError{Reason: fmt.Sprintf("frame exceeds %d bytes", size)}
		}
		return Envelope{}, false, nil
	}

	object := append([]byte(nil), f.buf[:end]...)
	f.consume(end)
	env, err = ParseEnvelope(object)
	if err != nil {
		return Envelope{}, false, err
	}
	return env, true, nil
}

// skipToObject discards bytes before the next '{'. Whitespace is dropped
// silently; anything else is returned so the caller can report it.
func (f *Framer) skipToObject() []byte {
	idx := bytes.IndexByte(f.buf, '{')
	if idx < 0 {
		idx = len(f.buf)
	}
	if idx == 0 {
		return nil
	}
	head := f.buf[:idx]
	var dropped []byte
	if len(bytes.TrimSpace(head)) > 0 {
		dropped = append([]byte(nil), head...)
	}
	f.consume(idx)
	return dropped
}

// scan advances over buffered bytes and returns the end offset of the head
// object, or -1 when it is not complete yet.
func (f *Framer) scan() int {
	for ; f.pos < len(f.buf); f.pos++ {
		c := f.buf[f.pos]
		if f.inString {
			switch {
			case f.escaped:
				f.escaped = false
			case c == '\\':
				f.escaped = true
			case c == '"':
				f.inString = false
			}
			continue
		}
		switch c {
		case '"':
			f.inString = true
		case '{':
			f.depth++
		case '}':
			f.depth--
			if f.depth == 0 {
				f.pos++
				return f.pos
			}
		}
	}
	return -1
}

func (f *Framer) consume(n int) {
	remaining := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:remaining]
	f.resetScan()
}

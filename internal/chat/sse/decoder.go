// Package sse decodes the agent's /reply event stream into typed frames.
//
// Two framings are accepted. Event framing terminates each event with a blank
// line and may spread one payload over several data lines. Line framing
// carries one complete JSON payload per data line and ends with a [DONE]
// sentinel. The framing is detected once from the first payload and then
// applied to the rest of the stream.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// FrameType discriminates decoded frames.
type FrameType string

const (
	FrameMessage FrameType = "Message"
	FrameError   FrameType = "Error"
	FrameFinish  FrameType = "Finish"
)

// Framing identifies how payloads are delimited on the wire.
type Framing int

const (
	FramingUnknown Framing = iota
	FramingEvent
	FramingLine
)

func (f Framing) String() string {
	switch f {
	case FramingEvent:
		return "event"
	case FramingLine:
		return "line"
	}
	return "unknown"
}

// Frame is one decoded payload. Frames with a type other than Message, Error
// or Finish are passed through with only Type and Data set.
type Frame struct {
	Type    FrameType
	Message json.RawMessage
	Error   string
	Reason  string
	Data    []byte
}

const (
	readChunkSize = 32 * 1024
	maxLineSize   = 16 * 1024 * 1024
	doneSentinel  = "[DONE]"
)

// ErrLineTooLong is returned when a single line exceeds the buffer limit.
var ErrLineTooLong = errors.New("sse: line too long")

// MalformedFrameError reports a payload that could not be decoded. The
// stream is still usable; callers log it and call Next again.
type MalformedFrameError struct {
	Data string
	Err  error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame %q: %v", truncate(e.Data, 120), e.Err)
}

func (e *MalformedFrameError) Unwrap() error {
	return e.Err
}

type result struct {
	frame Frame
	err   error
}

// Decoder reads frames from an event stream. It is not safe for concurrent
// use.
type Decoder struct {
	r       io.Reader
	chunk   []byte
	buf     []byte
	data    []string
	framing Framing
	queue   []result
	err     error
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:     r,
		chunk: make([]byte, readChunkSize),
	}
}

// Framing returns the detected framing, FramingUnknown until the first
// payload has been delimited.
func (d *Decoder) Framing() Framing {
	return d.framing
}

// Next returns the next frame. It returns io.EOF once the stream is
// exhausted and a *MalformedFrameError for a payload that could not be
// decoded; any other error is terminal.
func (d *Decoder) Next() (Frame, error) {
	for {
		if len(d.queue) > 0 {
			r := d.queue[0]
			d.queue = d.queue[1:]
			return r.frame, r.err
		}
		if d.err != nil {
			return Frame{}, d.err
		}
		d.fill()
	}
}

func (d *Decoder) fill() {
	n, err := d.r.Read(d.chunk)
	if n > 0 {
		d.feed(d.chunk[:n])
	}
	switch {
	case err == io.EOF:
		d.finish()
		d.err = io.EOF
	case err != nil:
		d.err = fmt.Errorf("read event stream: %w", err)
	}
}

// feed appends p to the carry-over buffer and processes every complete line.
func (d *Decoder) feed(p []byte) {
	d.buf = append(d.buf, p...)

	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], '\n')
		if i < 0 {
			break
		}
		d.line(string(bytes.TrimSuffix(d.buf[start:start+i], []byte("\r"))))
		start += i + 1
	}
	d.buf = append(d.buf[:0], d.buf[start:]...)

	if len(d.buf) > maxLineSize {
		d.err = ErrLineTooLong
	}
}

func (d *Decoder) finish() {
	if len(d.buf) > 0 {
		d.line(string(bytes.TrimSuffix(d.buf, []byte("\r"))))
		d.buf = d.buf[:0]
	}
	d.dispatch()
}

func (d *Decoder) line(l string) {
	if l == "" {
		if len(d.data) > 0 && d.framing == FramingUnknown {
			d.framing = FramingEvent
		}
		d.dispatch()
		return
	}
	if strings.HasPrefix(l, ":") {
		return
	}

	field, value, found := strings.Cut(l, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}
	if field != "data" {
		return
	}

	if len(d.data) > 0 {
		switch d.framing {
		case FramingLine:
			d.dispatch()
		case FramingUnknown:
			// Only a blank line settles event framing. Until then an invalid
			// payload that cannot be the start of a multi-line value goes out
			// on its own.
			joined := strings.Join(d.data, "\n")
			switch {
			case complete(joined) || complete(value):
				d.framing = FramingLine
				d.dispatch()
			case !partialJSON(joined):
				d.dispatch()
			}
		}
	}
	d.data = append(d.data, value)
}

// complete reports whether s is a whole payload on its own.
func complete(s string) bool {
	s = strings.TrimSpace(s)
	return s == doneSentinel || json.Valid([]byte(s))
}

// partialJSON reports whether s is a truncated but otherwise valid JSON value.
func partialJSON(s string) bool {
	var v any
	err := json.NewDecoder(strings.NewReader(s)).Decode(&v)
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func (d *Decoder) dispatch() {
	if len(d.data) == 0 {
		return
	}
	payload := strings.Join(d.data, "\n")
	d.data = d.data[:0]

	if strings.TrimSpace(payload) == doneSentinel {
		return
	}
	frame, err := parsePayload([]byte(payload))
	d.queue = append(d.queue, result{frame: frame, err: err})
}

// parsePayload decodes one JSON payload. Typed payloads carry a "type"
// discriminator; untyped ones are classified by their error or message field,
// and anything else is treated as the message itself.
func parsePayload(data []byte) (Frame, error) {
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return Frame{}, &MalformedFrameError{Data: string(data), Err: errors.New("invalid JSON")}
	}

	frame := Frame{Data: data}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		// Valid JSON but not an object: a bare message.
		frame.Type = FrameMessage
		frame.Message = json.RawMessage(data)
		return frame, nil
	}

	var typ string
	if raw, ok := obj["type"]; ok {
		if err := json.Unmarshal(raw, &typ); err != nil {
			return Frame{}, &MalformedFrameError{Data: string(data), Err: fmt.Errorf("type: %w", err)}
		}
	}

	switch typ {
	case string(FrameMessage):
		msg, ok := obj["message"]
		if !ok || isNull(msg) {
			return Frame{}, &MalformedFrameError{Data: string(data), Err: errors.New("message frame without message")}
		}
		frame.Type = FrameMessage
		frame.Message = msg
	case string(FrameError):
		frame.Type = FrameError
		frame.Error = errorText(obj["error"])
	case string(FrameFinish):
		frame.Type = FrameFinish
		if raw, ok := obj["reason"]; ok {
			_ = json.Unmarshal(raw, &frame.Reason)
		}
	case "":
		if raw, ok := obj["error"]; ok && !isNull(raw) {
			frame.Type = FrameError
			frame.Error = errorText(raw)
		} else if raw, ok := obj["message"]; ok && !isNull(raw) {
			frame.Type = FrameMessage
			frame.Message = raw
		} else {
			frame.Type = FrameMessage
			frame.Message = json.RawMessage(data)
		}
	default:
		frame.Type = FrameType(typ)
	}
	return frame, nil
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return "unknown error"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

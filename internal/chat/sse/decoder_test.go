package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect drains the decoder, returning every frame and every malformed
// frame error. Terminal errors other than io.EOF fail the test.
func collect(t *testing.T, d *Decoder) ([]Frame, []*MalformedFrameError) {
	t.Helper()
	var frames []Frame
	var malformed []*MalformedFrameError
	for {
		f, err := d.Next()
		if errors.Is(err, io.EOF) {
			return frames, malformed
		}
		var mf *MalformedFrameError
		if errors.As(err, &mf) {
			malformed = append(malformed, mf)
			continue
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

const eventStream = "data: {\"type\":\"Message\",\"message\":{\"id\":\"a1\",\"role\":\"assistant\",\"content\":[{\"type\":\"text\",\"text\":\"Hi\"}]}}\n\n" +
	"data: {\"type\":\"Message\",\"message\":{\"id\":\"a1\",\"role\":\"assistant\",\"content\":[{\"type\":\"text\",\"text\":\"Hi there\"}]}}\n\n" +
	"data: {\"type\":\"Finish\",\"reason\":\"stop\"}\n\n"

func TestDecoderEventFraming(t *testing.T) {
	d := NewDecoder(strings.NewReader(eventStream))
	frames, malformed := collect(t, d)

	require.Empty(t, malformed)
	require.Len(t, frames, 3)
	assert.Equal(t, FramingEvent, d.Framing())

	assert.Equal(t, FrameMessage, frames[0].Type)
	assert.JSONEq(t, `{"id":"a1","role":"assistant","content":[{"type":"text","text":"Hi"}]}`, string(frames[0].Message))
	assert.Equal(t, FrameMessage, frames[1].Type)
	assert.Equal(t, FrameFinish, frames[2].Type)
	assert.Equal(t, "stop", frames[2].Reason)
}

func TestDecoderLineFraming(t *testing.T) {
	stream := "data: {\"id\":\"a1\",\"role\":\"assistant\",\"content\":\"Hel\"}\n" +
		"data: {\"id\":\"a1\",\"role\":\"assistant\",\"content\":\"Hello\"}\n" +
		"data: [DONE]\n"

	d := NewDecoder(strings.NewReader(stream))
	frames, malformed := collect(t, d)

	require.Empty(t, malformed)
	require.Len(t, frames, 2)
	assert.Equal(t, FramingLine, d.Framing())
	for _, f := range frames {
		assert.Equal(t, FrameMessage, f.Type)
	}
	assert.JSONEq(t, `{"id":"a1","role":"assistant","content":"Hello"}`, string(frames[1].Message))
}

func TestDecoderCarryOverAcrossReads(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   int
	}{
		{name: "event framing", stream: eventStream, want: 3},
		{name: "line framing", stream: "data: \"a\"\ndata: \"b\"\ndata: [DONE]\n", want: 2},
		{name: "crlf", stream: strings.ReplaceAll(eventStream, "\n", "\r\n"), want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			whole, _ := collect(t, NewDecoder(strings.NewReader(tt.stream)))
			split, _ := collect(t, NewDecoder(iotest.OneByteReader(strings.NewReader(tt.stream))))

			require.Len(t, whole, tt.want)
			assert.Equal(t, whole, split)
		})
	}
}

func TestDecoderMalformedFrameIsSkipped(t *testing.T) {
	t.Run("event framing", func(t *testing.T) {
		stream := "data: {\"type\":\"Message\",\"message\":\"one\"}\n\n" +
			"data: {not json\n\n" +
			"data: {\"type\":\"Message\",\"message\":\"two\"}\n\n"

		frames, malformed := collect(t, NewDecoder(strings.NewReader(stream)))

		require.Len(t, frames, 2)
		require.Len(t, malformed, 1)
		assert.Equal(t, "{not json", malformed[0].Data)
	})

	t.Run("line framing", func(t *testing.T) {
		stream := "data: {\"message\":\"one\"}\n" +
			"data: {oops\n" +
			"data: {\"message\":\"two\"}\n" +
			"data: [DONE]\n"

		frames, malformed := collect(t, NewDecoder(strings.NewReader(stream)))

		require.Len(t, frames, 2)
		require.Len(t, malformed, 1)
		assert.Equal(t, `"one"`, string(frames[0].Message))
		assert.Equal(t, `"two"`, string(frames[1].Message))
	})

	t.Run("bad first line", func(t *testing.T) {
		stream := "data: {oops\ndata: {\"message\":\"two\"}\ndata: [DONE]\n"

		frames, malformed := collect(t, NewDecoder(strings.NewReader(stream)))

		require.Len(t, frames, 1)
		require.Len(t, malformed, 1)
	})

	t.Run("two bad leading lines", func(t *testing.T) {
		stream := "data: {bad\n" +
			"data: also bad\n" +
			"data: {\"type\":\"Message\",\"message\":\"a\"}\n" +
			"data: {\"type\":\"Message\",\"message\":\"b\"}\n" +
			"data: [DONE]\n"

		d := NewDecoder(strings.NewReader(stream))
		frames, malformed := collect(t, d)

		require.Len(t, malformed, 2)
		assert.Equal(t, "{bad", malformed[0].Data)
		assert.Equal(t, "also bad", malformed[1].Data)
		require.Len(t, frames, 2)
		assert.Equal(t, `"a"`, string(frames[0].Message))
		assert.Equal(t, `"b"`, string(frames[1].Message))
		assert.Equal(t, FramingLine, d.Framing())
	})

	t.Run("truncated start keeps accumulating", func(t *testing.T) {
		stream := "data: {\"type\":\"Message\",\n" +
			"data: \"message\":\n" +
			"data: \"split\"}\n\n"

		d := NewDecoder(strings.NewReader(stream))
		frames, malformed := collect(t, d)

		require.Empty(t, malformed)
		require.Len(t, frames, 1)
		assert.Equal(t, `"split"`, string(frames[0].Message))
		assert.Equal(t, FramingEvent, d.Framing())
	})
}

func TestDecoderMultiLineEvent(t *testing.T) {
	stream := "data: {\"type\":\"Message\",\n" +
		"data:  \"message\":\"joined\"}\n\n"

	d := NewDecoder(strings.NewReader(stream))
	frames, malformed := collect(t, d)

	require.Empty(t, malformed)
	require.Len(t, frames, 1)
	assert.Equal(t, FramingEvent, d.Framing())
	assert.Equal(t, `"joined"`, string(frames[0].Message))
}

func TestDecoderIgnoresCommentsAndOtherFields(t *testing.T) {
	stream := ": keep-alive\n" +
		"event: message\n" +
		"id: 7\n" +
		"data: {\"type\":\"Finish\",\"reason\":\"complete\"}\n\n"

	frames, malformed := collect(t, NewDecoder(strings.NewReader(stream)))

	require.Empty(t, malformed)
	require.Len(t, frames, 1)
	assert.Equal(t, FrameFinish, frames[0].Type)
	assert.Equal(t, "complete", frames[0].Reason)
}

func TestDecoderUntypedPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Frame
	}{
		{
			name:    "error field",
			payload: `{"error":"rate limited"}`,
			want:    Frame{Type: FrameError, Error: "rate limited"},
		},
		{
			name:    "message field",
			payload: `{"message":{"id":"x"}}`,
			want:    Frame{Type: FrameMessage, Message: []byte(`{"id":"x"}`)},
		},
		{
			name:    "whole payload is the message",
			payload: `{"id":"x","content":"hi"}`,
			want:    Frame{Type: FrameMessage, Message: []byte(`{"id":"x","content":"hi"}`)},
		},
		{
			name:    "typed error with object",
			payload: `{"type":"Error","error":{"message":"boom"}}`,
			want:    Frame{Type: FrameError, Error: "boom"},
		},
		{
			name:    "unknown type passes through",
			payload: `{"type":"Notification","request_id":"r1"}`,
			want:    Frame{Type: "Notification"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, malformed := collect(t, NewDecoder(strings.NewReader("data: "+tt.payload+"\n\n")))

			require.Empty(t, malformed)
			require.Len(t, frames, 1)
			got := frames[0]
			assert.Equal(t, tt.want.Type, got.Type)
			assert.Equal(t, tt.want.Error, got.Error)
			if tt.want.Message != nil {
				assert.JSONEq(t, string(tt.want.Message), string(got.Message))
			}
			assert.Equal(t, tt.payload, string(got.Data))
		})
	}
}

func TestDecoderMessageFrameWithoutMessage(t *testing.T) {
	frames, malformed := collect(t, NewDecoder(strings.NewReader("data: {\"type\":\"Message\"}\n\n")))

	assert.Empty(t, frames)
	require.Len(t, malformed, 1)
}

func TestDecoderReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: {\"type\":\"Finish\"}\n\n"), iotest.ErrReader(boom))

	d := NewDecoder(r)
	f, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, FrameFinish, f.Type)

	_, err = d.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	// Terminal errors are sticky.
	_, err = d.Next()
	assert.ErrorIs(t, err, boom)
}

func TestDecoderTrailingPayloadWithoutNewline(t *testing.T) {
	frames, malformed := collect(t, NewDecoder(strings.NewReader(`data: {"type":"Finish","reason":"stop"}`)))

	require.Empty(t, malformed)
	require.Len(t, frames, 1)
	assert.Equal(t, "stop", frames[0].Reason)
}

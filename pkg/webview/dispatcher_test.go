package webview

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch(t *testing.T) {
	d := NewDispatcher()
	d.RegisterFunc(ActionStopGeneration, func(ctx context.Context, msg *Message) (*Message, error) {
		return NewResponse(msg.ID, msg.Action, StopGenerationResponse{Stopped: true})
	})
	assert.True(t, d.HasHandler(ActionStopGeneration))
	assert.False(t, d.HasHandler(ActionSwitchSession))

	req, err := NewRequest("r1", ActionStopGeneration, nil)
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "r1", resp.ID)
	assert.Equal(t, MessageTypeResponse, resp.Type)

	var out StopGenerationResponse
	require.NoError(t, resp.ParsePayload(&out))
	assert.True(t, out.Stopped)
}

func TestDispatchUnknownAction(t *testing.T) {
	d := NewDispatcher()
	req, err := NewRequest("r2", "nope", nil)
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeError, resp.Type)
	assert.Equal(t, "r2", resp.ID)

	var p ErrorPayload
	require.NoError(t, resp.ParsePayload(&p))
	assert.Equal(t, ErrorCodeUnknownAction, p.Code)
}

func TestEnvelopeDecoding(t *testing.T) {
	raw := `{"id":"7","type":"request","action":"sendChatMessage","payload":{"text":"hi","codeReferences":[{"file":"a.go","startLine":1,"endLine":3,"code":"x"}]},"timestamp":"2025-01-01T00:00:00Z"}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, ActionSendChatMessage, msg.Action)

	var req SendChatMessageRequest
	require.NoError(t, msg.ParsePayload(&req))
	assert.Equal(t, "hi", req.Text)
	require.Len(t, req.References, 1)
	assert.Equal(t, "a.go", req.References[0].File)
	assert.Equal(t, 3, req.References[0].EndLine)
}

func TestParsePayloadAbsent(t *testing.T) {
	msg, err := NewNotification(EventServerStatus, nil)
	require.NoError(t, err)
	assert.Empty(t, msg.ID)

	v := SwitchSessionRequest{SessionID: "keep"}
	require.NoError(t, msg.ParsePayload(&v))
	assert.Equal(t, "keep", v.SessionID)
}

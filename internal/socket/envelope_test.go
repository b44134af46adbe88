package socket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEnvelope(t *testing.T) {
	frame, err := EncodeEnvelope(EventMessage, MessagePayload{
		Room:      "room1",
		Content:   "hello",
		ClientKey: "ck-1",
	})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, EventMessage, env.Event)

	var payload MessagePayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "room1", payload.Room)
	assert.Equal(t, "ck-1", payload.ClientKey)
}

func TestEncodeEnvelope_OmitsEmptyClientKey(t *testing.T) {
	frame, err := EncodeEnvelope(EventMessage, MessagePayload{Room: "room1", Content: "hi"})
	require.NoError(t, err)
	assert.NotContains(t, string(frame), "client_key")
}

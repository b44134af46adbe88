package socket

import (
	"encoding/json"
	"fmt"
)

// Wire event names. Outgoing events are emitted on the chat namespace;
// incoming events arrive on the namespace noted.
const (
	// outgoing (chat)
	EventJoin    = "join"
	EventLeave   = "leave"
	EventMessage = "message"
	EventTyping  = "typing"

	// incoming (chat)
	EventNewMessage   = "new_message"
	EventTypingStatus = "typing_status"
	EventStatus       = "status"

	// incoming (monitor)
	EventBPReading  = "new_bp_reading"
	EventPrediction = "prediction_result"
)

// Envelope is the JSON frame exchanged over the websocket: an event name plus
// an event-specific payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeEnvelope marshals an event and its payload into a wire frame.
func EncodeEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// RoomPayload is the payload for join and leave events.
type RoomPayload struct {
	Room string `json:"room"`
}

// MessagePayload is the payload for an outgoing chat message. ClientKey is
// echoed back by the server so the sender can reconcile its optimistic copy.
type MessagePayload struct {
	Room      string `json:"room"`
	Content   string `json:"content"`
	ClientKey string `json:"client_key,omitempty"`
}

// TypingPayload is the payload for a typing indicator change.
type TypingPayload struct {
	Room     string `json:"room"`
	IsTyping bool   `json:"is_typing"`
}

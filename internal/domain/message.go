package domain

import "time"

// Sender classifies who produced a chat message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderBot    Sender = "bot"
	SenderSystem Sender = "system"
)

// SenderInfo carries the identity of the message author as reported by the server.
type SenderInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Message is a single chat message within a room.
//
// ServerTimestamp is the authoritative ordering key; Timestamp is the
// preformatted display string the server provides alongside it. ClientKey is a
// client-generated idempotency key used to correlate an optimistic local
// message with its server echo.
type Message struct {
	ID              string     `json:"id"`
	RoomID          string     `json:"room_id"`
	Text            string     `json:"text"`
	Sender          Sender     `json:"sender"`
	SenderInfo      SenderInfo `json:"sender_info"`
	Timestamp       string     `json:"timestamp"`
	ServerTimestamp time.Time  `json:"server_timestamp"`
	ClientKey       string     `json:"client_key,omitempty"`
	Pending         bool       `json:"pending,omitempty"`
}

// TypingUser identifies a participant currently typing in a room.
type TypingUser struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// TypingStatus is the wire event for a participant starting or stopping typing.
type TypingStatus struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// StatusUpdate is an informational room-level event (joins, leaves, server notices).
type StatusUpdate struct {
	RoomID string `json:"room_id"`
	Status string `json:"status"`
}

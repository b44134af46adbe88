package pubsub

import (
	"context"
)

// Message is the structure passed between components on the bus.
// It is intentionally simple to act as a wrapper for raw data.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g., "chat.message.new").
	Topic string
	// RoomID identifies the chat room the message is scoped to, when applicable.
	RoomID string
	// Payload contains the raw event data as JSON.
	Payload []byte
	// Metadata can contain arbitrary key-value pairs for context (e.g., timestamps).
	Metadata map[string]string
}

// Handler defines the function signature for processing a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages to the Pub/Sub system.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages from the Pub/Sub system.
type Subscriber interface {
	// Subscribe starts listening to the given topic, processing messages with
	// the handler until ctx is canceled. It returns once the subscription is
	// active; delivery happens in the background.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Bus combines both sides of the pub/sub contract for call sites that own the
// full lifecycle.
type Bus interface {
	Publisher
	Subscriber
}

package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event[T] wraps a topic name and provides type-safe publish/subscribe on the bus.
type Event[T any] struct {
	topicName string
}

// NewEvent creates a typed event for the given topic name.
func NewEvent[T any](name string) Event[T] {
	return Event[T]{topicName: name}
}

// Name returns the topic name.
func (e Event[T]) Name() string {
	return e.topicName
}

// Publish sends a typed event. The compiler ensures 'payload' matches 'T'.
// roomID may be empty for events that are not room-scoped.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], roomID string, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return p.Publish(ctx, Message{
		Topic:   event.Name(),
		RoomID:  roomID,
		Payload: data,
	})
}

// SubscribeTyped attaches a handler for a typed event and returns an
// unsubscribe function. The handler receives the decoded payload; decode
// failures are reported through the bus error path, not delivered.
func SubscribeTyped[T any](ctx context.Context, s Subscriber, event Event[T], fn func(T)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	err := s.Subscribe(ctx, event.Name(), func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s event: %w", event.Name(), err)
		}
		fn(payload)
		return nil
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return cancel, nil
}

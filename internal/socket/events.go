package socket

import (
	"context"

	"github.com/pulsepal/pulsepal/internal/domain"
	"github.com/pulsepal/pulsepal/internal/pubsub"
)

// Typed subscription helpers. Each returns an unsubscribe function. Handlers
// attach to the event bus, not the raw connection, so subscribing before the
// namespace has ever connected is safe and nothing is lost to a registration
// race.

// OnNewMessage subscribes to incoming chat messages.
func (m *Manager) OnNewMessage(ctx context.Context, fn func(domain.Message)) (func(), error) {
	return pubsub.SubscribeTyped(ctx, m.bus, TopicNewMessage, fn)
}

// OnTyping subscribes to typing indicator changes.
func (m *Manager) OnTyping(ctx context.Context, fn func(domain.TypingStatus)) (func(), error) {
	return pubsub.SubscribeTyped(ctx, m.bus, TopicTyping, fn)
}

// OnStatus subscribes to room-level status events.
func (m *Manager) OnStatus(ctx context.Context, fn func(domain.StatusUpdate)) (func(), error) {
	return pubsub.SubscribeTyped(ctx, m.bus, TopicStatus, fn)
}

// OnBPReading subscribes to live blood-pressure readings from the monitor namespace.
func (m *Manager) OnBPReading(ctx context.Context, fn func(domain.BPReading)) (func(), error) {
	return pubsub.SubscribeTyped(ctx, m.bus, TopicBPReading, fn)
}

// OnPrediction subscribes to risk predictions from the monitor namespace.
func (m *Manager) OnPrediction(ctx context.Context, fn func(domain.Prediction)) (func(), error) {
	return pubsub.SubscribeTyped(ctx, m.bus, TopicPrediction, fn)
}

// OnSessionState subscribes to connection lifecycle changes for all namespaces.
func (m *Manager) OnSessionState(ctx context.Context, fn func(SessionState)) (func(), error) {
	return pubsub.SubscribeTyped(ctx, m.bus, TopicSessionState, fn)
}

// Package socket owns the realtime session layer: one logical connection per
// namespace, reconnection with bounded backoff, authenticated vs.
// unauthenticated channel handling, and typed event subscriptions over the
// in-process event bus.
package socket

// Namespace is a logically separate socket channel with its own lifecycle.
type Namespace string

const (
	// NamespaceChat is the authenticated chat channel.
	NamespaceChat Namespace = "chat"
	// NamespaceMonitor is the unauthenticated blood-pressure monitor channel.
	NamespaceMonitor Namespace = "monitor"
)

// State describes a namespace's connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// SessionState is published on the bus whenever a namespace changes state, so
// consumers observe connection health instead of catching exceptions.
type SessionState struct {
	Namespace Namespace `json:"namespace"`
	State     State     `json:"state"`
	Attempts  int       `json:"attempts"`
}

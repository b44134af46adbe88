package domain

import "errors"

// Standard application domain errors for the realtime session layer.
var (
	// ErrAuthRequired indicates an attempt to open an authenticated namespace
	// with no bearer token available. Not retryable until a token appears.
	ErrAuthRequired = errors.New("authentication token required")

	// ErrNotConnected indicates an operation that needs a live connection was
	// invoked while the namespace is disconnected.
	ErrNotConnected = errors.New("socket not connected")

	// ErrReconnectExhausted indicates the reconnect budget for a namespace has
	// been spent and no further automatic attempts will be made.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrUnknownNamespace indicates a namespace the session manager does not own.
	ErrUnknownNamespace = errors.New("unknown socket namespace")
)

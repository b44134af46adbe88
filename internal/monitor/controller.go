// Package monitor drives the live blood-pressure display on top of the
// unauthenticated monitor namespace.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pulsepal/pulsepal/internal/domain"
	"github.com/pulsepal/pulsepal/internal/socket"
)

// SessionManager is the slice of the socket session manager the controller
// consumes.
type SessionManager interface {
	Connect(ctx context.Context, ns socket.Namespace) error
	Reconnect(ctx context.Context, ns socket.Namespace) error
	Connected(ns socket.Namespace) bool
	OnBPReading(ctx context.Context, fn func(domain.BPReading)) (func(), error)
	OnPrediction(ctx context.Context, fn func(domain.Prediction)) (func(), error)
}

// Controller gates incoming monitor events behind a live toggle. Events are
// still received while the toggle is off, but dropped by the consumer, never
// buffered; toggling off also clears the displayed values entirely.
type Controller struct {
	sessions SessionManager
	logger   *slog.Logger
	notify   func()

	mu         sync.Mutex
	isLive     bool
	reading    *domain.BPReading
	prediction *domain.Prediction
	unsubs     []func()
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotify registers a callback invoked after every state change.
func WithNotify(fn func()) Option {
	return func(c *Controller) { c.notify = fn }
}

// New creates a monitor controller.
func New(sessions SessionManager, opts ...Option) *Controller {
	c := &Controller{
		sessions: sessions,
		logger:   slog.Default().With("service", "monitor"),
		notify:   func() {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to monitor events and eagerly warms the monitor namespace,
// independent of whether live display is toggled on, so the socket plumbing
// is ready before the user opts in.
func (c *Controller) Start(ctx context.Context) error {
	unsubReading, err := c.sessions.OnBPReading(ctx, c.handleReading)
	if err != nil {
		return fmt.Errorf("subscribe readings: %w", err)
	}
	unsubPrediction, err := c.sessions.OnPrediction(ctx, c.handlePrediction)
	if err != nil {
		unsubReading()
		return fmt.Errorf("subscribe predictions: %w", err)
	}

	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsubReading, unsubPrediction)
	c.mu.Unlock()

	if err := c.sessions.Connect(ctx, socket.NamespaceMonitor); err != nil {
		// Connection health is observable state, not a startup failure.
		c.logger.Warn("eager monitor connect failed", "error", err)
	}
	return nil
}

// SetLive toggles whether incoming events are applied to displayed state.
// Toggling off clears the current reading and prediction; toggling on while
// disconnected forces a reconnect first.
func (c *Controller) SetLive(ctx context.Context, live bool) {
	c.mu.Lock()
	c.isLive = live
	if !live {
		c.reading = nil
		c.prediction = nil
	}
	c.mu.Unlock()

	if live && !c.sessions.Connected(socket.NamespaceMonitor) {
		if err := c.sessions.Reconnect(ctx, socket.NamespaceMonitor); err != nil {
			c.logger.Warn("monitor reconnect failed", "error", err)
		}
	}
	c.notify()
}

// IsLive reports whether live display is enabled.
func (c *Controller) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLive
}

func (c *Controller) handleReading(r domain.BPReading) {
	c.mu.Lock()
	if !c.isLive {
		c.mu.Unlock()
		return
	}
	c.reading = &r
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) handlePrediction(p domain.Prediction) {
	c.mu.Lock()
	if !c.isLive {
		c.mu.Unlock()
		return
	}
	c.prediction = &p
	c.mu.Unlock()
	c.notify()
}

// Reading returns the displayed reading, if any.
func (c *Controller) Reading() (domain.BPReading, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reading == nil {
		return domain.BPReading{}, false
	}
	return *c.reading, true
}

// Prediction returns the displayed prediction, if any.
func (c *Controller) Prediction() (domain.Prediction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prediction == nil {
		return domain.Prediction{}, false
	}
	return *c.prediction, true
}

// Close detaches all subscriptions.
func (c *Controller) Close() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}
